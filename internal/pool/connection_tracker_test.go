package pool

import (
	"net/http"
	"testing"
)

func TestConnectionTracker_tracksActiveAndAccepted(t *testing.T) {
	ct := NewConnectionTracker(nil)

	ct.ConnState(nil, http.StateNew)
	ct.ConnState(nil, http.StateNew)
	if ct.Active() != 2 {
		t.Errorf("Active() = %d, want 2", ct.Active())
	}
	if ct.Accepted() != 2 {
		t.Errorf("Accepted() = %d, want 2", ct.Accepted())
	}

	ct.ConnState(nil, http.StateClosed)
	if ct.Active() != 1 {
		t.Errorf("Active() after close = %d, want 1", ct.Active())
	}
	if ct.Accepted() != 2 {
		t.Errorf("Accepted() after close = %d, want unchanged 2", ct.Accepted())
	}
}

func TestConnectionTracker_hijackedCountsAsClosed(t *testing.T) {
	ct := NewConnectionTracker(nil)
	ct.ConnState(nil, http.StateNew)
	ct.ConnState(nil, http.StateHijacked)

	if ct.Active() != 0 {
		t.Errorf("Active() = %d, want 0", ct.Active())
	}
}

func TestConnectionTracker_recordResponseCountsOnly5xx(t *testing.T) {
	ct := NewConnectionTracker(nil)
	ct.RecordResponse(200)
	ct.RecordResponse(404)
	ct.RecordResponse(500)
	ct.RecordResponse(503)

	if ct.Errors5xx() != 2 {
		t.Errorf("Errors5xx() = %d, want 2", ct.Errors5xx())
	}
}
