package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// isoDurationRE parses a (restricted, date-component-free) ISO-8601 duration:
// PnDTnHnMnS, e.g. "PT4H", "P1DT30M", "PT90S". The format only ever appears
// in `.settings` files produced by the host agent, which never emits
// calendar-year/month components, so those are deliberately unsupported.
var isoDurationRE = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISODuration parses the restricted ISO-8601 duration subset used by
// maximumDuration/maximumAssessmentInterval. The host agent only ever emits
// day/time components, so calendar-aware year/month arithmetic is
// deliberately unsupported.
func ParseISODuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	m := isoDurationRE.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("config: %q is not a supported ISO-8601 duration", s)
	}
	var total time.Duration
	if m[1] != "" {
		days, _ := strconv.Atoi(m[1])
		total += time.Duration(days) * 24 * time.Hour
	}
	if m[2] != "" {
		hours, _ := strconv.Atoi(m[2])
		total += time.Duration(hours) * time.Hour
	}
	if m[3] != "" {
		minutes, _ := strconv.Atoi(m[3])
		total += time.Duration(minutes) * time.Minute
	}
	if m[4] != "" {
		seconds, _ := strconv.ParseFloat(m[4], 64)
		total += time.Duration(seconds * float64(time.Second))
	}
	return total, nil
}
