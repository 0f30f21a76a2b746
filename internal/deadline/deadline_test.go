package deadline

import (
	"testing"
	"time"
)

func TestCheckpoint_Continue(t *testing.T) {
	c := New(time.Now().Add(1 * time.Hour))
	if got := c.Checkpoint(time.Minute); got != Continue {
		t.Fatalf("got %v, want Continue", got)
	}
}

func TestCheckpoint_StopNow_DeadlineExceeded(t *testing.T) {
	c := New(time.Now().Add(-1 * time.Minute))
	if got := c.Checkpoint(time.Second); got != StopNow {
		t.Fatalf("got %v, want StopNow", got)
	}
}

func TestCheckpoint_StopWithPartial_WithinGraceWindow(t *testing.T) {
	c := New(time.Now().Add(90 * time.Second))
	if got := c.Checkpoint(5 * time.Minute); got != StopWithPartial {
		t.Fatalf("got %v, want StopWithPartial", got)
	}
}

func TestCheckpoint_StopNow_BelowGraceWindow(t *testing.T) {
	c := New(time.Now().Add(10 * time.Second))
	if got := c.Checkpoint(5 * time.Minute); got != StopNow {
		t.Fatalf("got %v, want StopNow", got)
	}
}

func TestCheckpoint_Cancelled(t *testing.T) {
	c := New(time.Now().Add(1 * time.Hour))
	c.Cancel("NoOperation sequence observed")
	if got := c.Checkpoint(time.Minute); got != StopWithPartial {
		t.Fatalf("got %v, want StopWithPartial", got)
	}
	cancelled, reason := c.Cancelled()
	if !cancelled || reason == "" {
		t.Fatalf("expected cancelled with reason, got %v %q", cancelled, reason)
	}
}
