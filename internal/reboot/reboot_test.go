package reboot

import (
	"os"
	"testing"
	"time"

	"github.com/guestpatch/patchcore/internal/model"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		setting  model.RebootSetting
		required bool
		want     bool
	}{
		{model.RebootNever, true, false},
		{model.RebootNever, false, false},
		{model.RebootAlways, false, true},
		{model.RebootAlways, true, true},
		{model.RebootIfRequired, true, true},
		{model.RebootIfRequired, false, false},
	}
	for _, c := range cases {
		if got := Decide(c.setting, c.required); got != c.want {
			t.Errorf("Decide(%v, %v) = %v, want %v", c.setting, c.required, got, c.want)
		}
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if _, ok, err := ReadMarker(dir); err != nil || ok {
		t.Fatalf("expected no marker initially, got ok=%v err=%v", ok, err)
	}
	want := Marker{
		ActivityID:       "abc-123",
		Operation:        model.OperationInstallation,
		IntendedStatus:   model.RunStatusSucceeded,
		RebootStatusWant: model.RebootStatusCompleted,
		SequenceNumber:   7,
	}
	if err := WriteMarker(dir, want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := ReadMarker(dir)
	if err != nil || !ok {
		t.Fatalf("expected marker present, got ok=%v err=%v", ok, err)
	}
	if got.ActivityID != want.ActivityID || got.IntendedStatus != want.IntendedStatus || got.SequenceNumber != want.SequenceNumber {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if time.Since(got.WrittenAt) > time.Minute {
		t.Fatalf("unexpected WrittenAt: %v", got.WrittenAt)
	}
	if err := DeleteMarker(dir); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := ReadMarker(dir); ok {
		t.Fatal("expected marker to be gone after delete")
	}
	if err := DeleteMarker(dir); err != nil {
		t.Fatalf("deleting an already-absent marker should be a no-op: %v", err)
	}
}

func TestMarkerPathIsWithinHandlerStateDir(t *testing.T) {
	dir := t.TempDir()
	p := markerPath(dir)
	if _, err := os.Stat(dir); err != nil {
		t.Fatal(err)
	}
	if p == dir {
		t.Fatal("marker path must be a file inside the directory, not the directory itself")
	}
}
