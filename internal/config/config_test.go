package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guestpatch/patchcore/internal/errs"
	"github.com/guestpatch/patchcore/internal/model"
)

func writeSettings(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLatestSettingsFile(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, "3.settings", "{}")
	writeSettings(t, dir, "10.settings", "{}")
	writeSettings(t, dir, "2.settings", "{}")
	writeSettings(t, dir, "notes.txt", "ignore me")

	path, seq, err := LatestSettingsFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 10 || filepath.Base(path) != "10.settings" {
		t.Fatalf("got seq=%d path=%s", seq, path)
	}
}

func TestLoad_ValidInstallation(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	path := writeSettings(t, dir, "1.settings", `{
		"operation": "Installation",
		"activityId": "abc-123",
		"startTime": "2026-07-31T11:00:00Z",
		"maximumDuration": "PT4H",
		"rebootSetting": "IfRequired",
		"classificationsToInclude": ["Critical", "Security"],
		"patchesToInclude": ["openssl*"],
		"futureFieldWeDoNotKnowAbout": "keep me"
	}`)
	req, err := Load(path, 1, now)
	if err != nil {
		t.Fatal(err)
	}
	if req.Operation != model.OperationInstallation || req.ActivityID != "abc-123" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.MaximumDuration != 4*time.Hour {
		t.Fatalf("expected 4h, got %v", req.MaximumDuration)
	}
	if req.UnrecognizedFields["futureFieldWeDoNotKnowAbout"] != "keep me" {
		t.Fatalf("expected unrecognized field preserved, got %+v", req.UnrecognizedFields)
	}
}

func TestLoad_RejectsCriticalWithoutSecurity(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	path := writeSettings(t, dir, "1.settings", `{
		"operation": "Assessment",
		"activityId": "abc-123",
		"startTime": "2026-07-31T11:00:00Z",
		"classificationsToInclude": ["Critical"]
	}`)
	_, err := Load(path, 1, now)
	if err == nil || !errs.Is(err, errs.KindConfigurationError) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestLoad_RejectsStartTimeTooFarInPast(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	path := writeSettings(t, dir, "1.settings", `{
		"operation": "Assessment",
		"activityId": "abc-123",
		"startTime": "2026-01-01T00:00:00Z"
	}`)
	_, err := Load(path, 1, now)
	if err == nil || !errs.Is(err, errs.KindConfigurationError) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestLoad_InstallationRequiresMaximumDurationAndRebootSetting(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	path := writeSettings(t, dir, "1.settings", `{
		"operation": "Installation",
		"activityId": "abc-123",
		"startTime": "2026-07-31T11:00:00Z"
	}`)
	_, err := Load(path, 1, now)
	if err == nil || !errs.Is(err, errs.KindConfigurationError) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestLoad_FutureStartTimeRunsImmediately(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	path := writeSettings(t, dir, "1.settings", `{
		"operation": "Installation",
		"activityId": "abc-123",
		"startTime": "2026-07-31T18:00:00Z",
		"maximumDuration": "PT1H",
		"rebootSetting": "Never"
	}`)
	req, err := Load(path, 1, now)
	if err != nil {
		t.Fatal(err)
	}
	if !req.StartTime.Equal(now) {
		t.Fatalf("expected future startTime clamped to now, got %v", req.StartTime)
	}
	if want := now.Add(time.Hour); !req.Deadline().Equal(want) {
		t.Fatalf("expected deadline %v, got %v", want, req.Deadline())
	}
}

func TestConfigurationModeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if _, ok, err := ReadConfigurationMode(dir); err != nil || ok {
		t.Fatalf("expected no configuration mode initially, ok=%v err=%v", ok, err)
	}
	want := ConfigurationMode{
		PatchMode:                 model.PatchModeAutomaticByPlatform,
		AssessmentMode:            model.AssessmentModeImageDefault,
		MaximumAssessmentInterval: "PT6H",
	}
	if err := WriteConfigurationMode(dir, want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := ReadConfigurationMode(dir)
	if err != nil || !ok {
		t.Fatalf("expected configuration mode present, ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestLastAssessmentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if _, _, ok, err := LastAssessment(dir); err != nil || ok {
		t.Fatalf("expected no marker initially, ok=%v err=%v", ok, err)
	}
	when := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	if err := RecordLastAssessment(dir, "abc-123", when); err != nil {
		t.Fatal(err)
	}
	got, activityID, ok, err := LastAssessment(dir)
	if err != nil || !ok {
		t.Fatalf("expected marker present, ok=%v err=%v", ok, err)
	}
	if !got.Equal(when) || activityID != "abc-123" {
		t.Fatalf("got %v %q, want %v abc-123", got, activityID, when)
	}
}

func TestIsAssessmentOverdue(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	if !IsAssessmentOverdue(time.Time{}, time.Hour, now) {
		t.Fatal("no prior assessment should always be overdue")
	}
	last := now.Add(-2 * time.Hour)
	if !IsAssessmentOverdue(last, time.Hour, now) {
		t.Fatal("expected overdue after interval elapsed")
	}
	if IsAssessmentOverdue(last, 3*time.Hour, now) {
		t.Fatal("did not expect overdue before interval elapses")
	}
}
