// Package config implements configuration ingest: it finds the
// highest-sequence `.settings` file in the config directory, parses and
// validates it into a model.Request, and preserves any fields this version
// does not recognize so they can be echoed back in status. It also owns the
// "last assessment" bookkeeping marker and the persisted configuration mode,
// since both live in the same handler-state directory this package already
// reads and writes configuration from.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guestpatch/patchcore/internal/errs"
	"github.com/guestpatch/patchcore/internal/model"
)

// settingsFileRE matches "<sequence>.settings".
var settingsFileRE = regexp.MustCompile(`^(\d+)\.settings$`)

// knownFields are the top-level JSON keys this version of the core
// recognizes; anything else is preserved in UnrecognizedFields.
var knownFields = map[string]bool{
	"operation": true, "activityId": true, "startTime": true,
	"maximumDuration": true, "rebootSetting": true,
	"classificationsToInclude": true, "patchesToInclude": true, "patchesToExclude": true,
	"patchMode": true, "assessmentMode": true, "maximumAssessmentInterval": true,
	"archiveSnapshot": true,
}

// rawRequest mirrors the on-disk JSON field names before validation.
type rawRequest struct {
	Operation                 string   `json:"operation"`
	ActivityID                string   `json:"activityId"`
	StartTime                 string   `json:"startTime"`
	MaximumDuration           string   `json:"maximumDuration"`
	RebootSetting             string   `json:"rebootSetting"`
	ClassificationsToInclude  []string `json:"classificationsToInclude"`
	PatchesToInclude          []string `json:"patchesToInclude"`
	PatchesToExclude          []string `json:"patchesToExclude"`
	PatchMode                 string   `json:"patchMode"`
	AssessmentMode            string   `json:"assessmentMode"`
	MaximumAssessmentInterval string   `json:"maximumAssessmentInterval"`
	ArchiveSnapshot           bool     `json:"archiveSnapshot"`
}

// startTimeTooFarInPast rejects requests whose startTime predates "now" by
// more than this much, so a long-stale request aborts instead of running.
const startTimeTooFarInPast = 24 * time.Hour

// LatestSettingsFile finds the highest-sequence-numbered `.settings` file in
// configDir.
func LatestSettingsFile(configDir string) (path string, sequenceNumber int, err error) {
	entries, readErr := os.ReadDir(configDir)
	if readErr != nil {
		return "", 0, errs.Wrap(errs.KindConfigurationError, "failed to read config directory", readErr)
	}
	best := -1
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := settingsFileRE.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, convErr := strconv.Atoi(m[1])
		if convErr != nil {
			continue
		}
		if n > best {
			best = n
		}
	}
	if best < 0 {
		return "", 0, errs.New(errs.KindConfigurationError, "no .settings file found in config directory")
	}
	return filepath.Join(configDir, strconv.Itoa(best)+".settings"), best, nil
}

// Load reads and validates the `.settings` file at path into a Request,
// stamping sequenceNumber in. now is injected so validation (startTime
// staleness) is deterministic under test.
func Load(path string, sequenceNumber int, now time.Time) (model.Request, error) {
	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		return model.Request{}, errs.Wrap(errs.KindConfigurationError, "failed to read settings file", readErr)
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return model.Request{}, errs.Wrap(errs.KindConfigurationError, "settings file is not valid JSON", err)
	}
	unrecognized := make(map[string]interface{})
	for key, val := range generic {
		if knownFields[key] {
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal(val, &decoded); err == nil {
			unrecognized[key] = decoded
		}
	}

	var parsed rawRequest
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return model.Request{}, errs.Wrap(errs.KindConfigurationError, "settings file does not match the expected shape", err)
	}

	req := model.Request{
		Operation:                    model.Operation(parsed.Operation),
		ActivityID:                   parsed.ActivityID,
		RebootSetting:                model.RebootSetting(parsed.RebootSetting),
		PatchesToInclude:             parsed.PatchesToInclude,
		PatchesToExclude:             parsed.PatchesToExclude,
		PatchMode:                    model.PatchMode(parsed.PatchMode),
		AssessmentMode:               model.AssessmentMode(parsed.AssessmentMode),
		RawMaximumDuration:           parsed.MaximumDuration,
		RawMaximumAssessmentInterval: parsed.MaximumAssessmentInterval,
		SequenceNumber:               sequenceNumber,
		ArchiveSnapshot:              parsed.ArchiveSnapshot,
	}
	if len(unrecognized) > 0 {
		req.UnrecognizedFields = unrecognized
	}
	for _, c := range parsed.ClassificationsToInclude {
		req.ClassificationsToInclude = append(req.ClassificationsToInclude, model.Classification(c))
	}

	if err := validateAndFill(&req, parsed, now); err != nil {
		return model.Request{}, err
	}
	return req, nil
}

func validateAndFill(req *model.Request, raw rawRequest, now time.Time) error {
	switch req.Operation {
	case model.OperationAssessment, model.OperationInstallation, model.OperationConfigurePatching, model.OperationNoOperation:
	default:
		return errs.New(errs.KindConfigurationError, "operation is missing or unrecognized: "+raw.Operation)
	}
	if req.ActivityID == "" {
		return errs.New(errs.KindConfigurationError, "activityId is required")
	}
	if raw.StartTime == "" {
		return errs.New(errs.KindConfigurationError, "startTime is required")
	}
	startTime, err := time.Parse(time.RFC3339, raw.StartTime)
	if err != nil {
		return errs.Wrap(errs.KindConfigurationError, "startTime is not a valid RFC3339 timestamp", err)
	}
	if now.Sub(startTime) > startTimeTooFarInPast {
		return errs.New(errs.KindConfigurationError, "startTime is too far in the past to honor")
	}
	if startTime.After(now) {
		// A future startTime means "run immediately"; clamping it keeps
		// the deadline budget anchored to when the run actually begins.
		startTime = now
	}
	req.StartTime = startTime

	if req.Operation == model.OperationInstallation {
		if raw.MaximumDuration == "" {
			return errs.New(errs.KindConfigurationError, "maximumDuration is required for Installation")
		}
		switch req.RebootSetting {
		case model.RebootIfRequired, model.RebootNever, model.RebootAlways:
		default:
			return errs.New(errs.KindConfigurationError, "rebootSetting is required for Installation")
		}
	}
	if req.Operation == model.OperationInstallation && raw.MaximumDuration != "" {
		d, parseErr := ParseISODuration(raw.MaximumDuration)
		if parseErr != nil {
			return errs.Wrap(errs.KindConfigurationError, "maximumDuration is malformed", parseErr)
		}
		if d > model.HardCeiling {
			d = model.HardCeiling
		}
		req.MaximumDuration = d
	}
	if raw.MaximumAssessmentInterval != "" {
		d, parseErr := ParseISODuration(raw.MaximumAssessmentInterval)
		if parseErr != nil {
			return errs.Wrap(errs.KindConfigurationError, "maximumAssessmentInterval is malformed", parseErr)
		}
		req.MaximumAssessmentInterval = d
	}

	hasCritical, hasSecurity := false, false
	for _, c := range req.ClassificationsToInclude {
		switch c {
		case model.ClassificationCritical:
			hasCritical = true
		case model.ClassificationSecurity:
			hasSecurity = true
		case model.ClassificationOther:
		default:
			return errs.New(errs.KindConfigurationError, "unrecognized classification: "+string(c))
		}
	}
	if hasCritical != hasSecurity {
		return errs.New(errs.KindConfigurationError, "classificationsToInclude must include Critical and Security together or not at all")
	}
	return nil
}

// configurationModeFile is the well-known file under the handler-state
// directory that a ConfigurePatching run persists its modes to; the
// automatic-assessment timer (an external collaborator) consumes it.
const configurationModeFile = "configuration-mode.json"

// ConfigurationMode is the persisted outcome of a ConfigurePatching run.
type ConfigurationMode struct {
	PatchMode                 model.PatchMode      `json:"patchMode"`
	AssessmentMode            model.AssessmentMode `json:"assessmentMode"`
	MaximumAssessmentInterval string               `json:"maximumAssessmentInterval,omitempty"`
}

// WriteConfigurationMode atomically persists the configured modes.
func WriteConfigurationMode(handlerStateDir string, mode ConfigurationMode) error {
	raw, err := json.MarshalIndent(mode, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindConfigurationError, "failed to encode configuration mode", err)
	}
	path := filepath.Join(handlerStateDir, configurationModeFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errs.Wrap(errs.KindConfigurationError, "failed to write configuration mode", err)
	}
	return os.Rename(tmp, path)
}

// ReadConfigurationMode returns the persisted modes, with ok=false when
// ConfigurePatching has never run on this host.
func ReadConfigurationMode(handlerStateDir string) (mode ConfigurationMode, ok bool, err error) {
	raw, readErr := os.ReadFile(filepath.Join(handlerStateDir, configurationModeFile))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return ConfigurationMode{}, false, nil
		}
		return ConfigurationMode{}, false, errs.Wrap(errs.KindConfigurationError, "failed to read configuration mode", readErr)
	}
	if jsonErr := json.Unmarshal(raw, &mode); jsonErr != nil {
		return ConfigurationMode{}, false, errs.Wrap(errs.KindConfigurationError, "failed to parse configuration mode", jsonErr)
	}
	return mode, true, nil
}

// lastAssessmentMarkerFile records the timestamp of the last successful
// Assessment run.
const lastAssessmentMarkerFile = "last-assessment.json"

type lastAssessmentMarker struct {
	CompletedAt time.Time `json:"completedAt"`
	ActivityID  string    `json:"activityId"`
}

// RecordLastAssessment persists the completion time of a successful
// Assessment run, so a future automatic-assessment timer (out of this
// module's scope) can decide whether maximumAssessmentInterval has elapsed.
func RecordLastAssessment(handlerStateDir, activityID string, completedAt time.Time) error {
	marker := lastAssessmentMarker{CompletedAt: completedAt, ActivityID: activityID}
	raw, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindConfigurationError, "failed to encode last-assessment marker", err)
	}
	path := filepath.Join(handlerStateDir, lastAssessmentMarkerFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errs.Wrap(errs.KindConfigurationError, "failed to write last-assessment marker", err)
	}
	return os.Rename(tmp, path)
}

// LastAssessment returns the last recorded successful Assessment completion
// time, and ok=false if no Assessment has completed yet.
func LastAssessment(handlerStateDir string) (t time.Time, activityID string, ok bool, err error) {
	path := filepath.Join(handlerStateDir, lastAssessmentMarkerFile)
	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return time.Time{}, "", false, nil
		}
		return time.Time{}, "", false, errs.Wrap(errs.KindConfigurationError, "failed to read last-assessment marker", readErr)
	}
	var marker lastAssessmentMarker
	if jsonErr := json.Unmarshal(raw, &marker); jsonErr != nil {
		return time.Time{}, "", false, errs.Wrap(errs.KindConfigurationError, "failed to parse last-assessment marker", jsonErr)
	}
	return marker.CompletedAt, marker.ActivityID, true, nil
}

// IsAssessmentOverdue reports whether maximumAssessmentInterval has elapsed
// since the last recorded Assessment, given no prior Assessment counts as overdue.
func IsAssessmentOverdue(lastCompleted time.Time, interval time.Duration, now time.Time) bool {
	if lastCompleted.IsZero() {
		return true
	}
	if interval <= 0 {
		return false
	}
	return now.Sub(lastCompleted) >= interval
}

// SequenceNumbersNewerThan returns the sorted sequence numbers of .settings
// files in configDir newer than after, used by the config watcher to
// detect a superseding NoOperation request.
func SequenceNumbersNewerThan(configDir string, after int) ([]int, error) {
	entries, err := os.ReadDir(configDir)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfigurationError, "failed to read config directory", err)
	}
	var found []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := settingsFileRE.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, convErr := strconv.Atoi(m[1])
		if convErr != nil || n <= after {
			continue
		}
		found = append(found, n)
	}
	sort.Ints(found)
	return found, nil
}

// IsNoOperationFor reads sequence n's settings file and reports whether it is
// a NoOperation request for the given activityId, the cancellation signal
// the config watcher looks for.
func IsNoOperationFor(configDir string, n int, activityID string) (bool, error) {
	path := filepath.Join(configDir, strconv.Itoa(n)+".settings")
	req, err := Load(path, n, time.Now())
	if err != nil {
		return false, err
	}
	return req.Operation == model.OperationNoOperation && strings.EqualFold(req.ActivityID, activityID), nil
}
