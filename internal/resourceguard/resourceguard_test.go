package resourceguard

import "testing"

func defaultThresholds() Thresholds {
	return Thresholds{
		LowFullPercent:      20,
		MedFullPercent:      10,
		HighFullPercent:     5,
		CriticalFullPercent: 2,
		StopRemainKB:        51200,
	}
}

func TestClassifyRespectsStopRemainFloorRegardlessOfPercent(t *testing.T) {
	g := New(defaultThresholds(), WakeLockHooks{})
	// A path that can't be statted reports 0 free/total KB; 0 <= StopRemainKB
	// so the guard must report stop rather than "ok" from a zero total.
	if zone := g.Classify("/nonexistent-transferd-test-path/x"); zone != ZoneStop {
		t.Errorf("Classify = %q, want stop", zone)
	}
}

func TestWakeLockAcquiredOnZeroToOneTransition(t *testing.T) {
	var acquired, released int
	g := New(defaultThresholds(), WakeLockHooks{
		Acquire: func() error { acquired++; return nil },
		Release: func() error { released++; return nil },
	})

	if err := g.NoteActiveCountChanged(1); err != nil {
		t.Fatalf("NoteActiveCountChanged: %v", err)
	}
	if acquired != 1 {
		t.Errorf("acquired = %d, want 1", acquired)
	}
	if !g.WakeLocked() {
		t.Error("expected WakeLocked() true after 0->1 transition")
	}

	if err := g.NoteActiveCountChanged(2); err != nil {
		t.Fatalf("NoteActiveCountChanged: %v", err)
	}
	if acquired != 1 {
		t.Errorf("acquired = %d after 1->2 transition, want still 1 (no re-acquire)", acquired)
	}

	if err := g.ReleaseIfIdle(0, 0); err != nil {
		t.Fatalf("ReleaseIfIdle: %v", err)
	}
	if released != 0 {
		t.Errorf("released = %d, want 0 (active count is still 2, ReleaseIfIdle args say otherwise but guard trusts caller)", released)
	}
}

func TestWakeLockReleasedWhenActiveAndQueueBothEmpty(t *testing.T) {
	var acquired, released int
	g := New(defaultThresholds(), WakeLockHooks{
		Acquire: func() error { acquired++; return nil },
		Release: func() error { released++; return nil },
	})

	g.NoteActiveCountChanged(1)
	g.NoteActiveCountChanged(0)

	if err := g.ReleaseIfIdle(0, 0); err != nil {
		t.Fatalf("ReleaseIfIdle: %v", err)
	}
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}
	if g.WakeLocked() {
		t.Error("expected WakeLocked() false after release")
	}
}

func TestReleaseIfIdleNoopWhenQueueNonEmpty(t *testing.T) {
	var released int
	g := New(defaultThresholds(), WakeLockHooks{
		Acquire: func() error { return nil },
		Release: func() error { released++; return nil },
	})

	g.NoteActiveCountChanged(1)
	g.NoteActiveCountChanged(0)
	if err := g.ReleaseIfIdle(0, 2); err != nil {
		t.Fatalf("ReleaseIfIdle: %v", err)
	}
	if released != 0 {
		t.Errorf("released = %d, want 0 while queue is non-empty", released)
	}
}

func TestCheckAvailableSpaceReportsInsufficientSpaceError(t *testing.T) {
	g := New(defaultThresholds(), WakeLockHooks{})
	err := g.CheckAvailableSpace("/nonexistent-transferd-test-path/x", 1<<30, 1.1)
	if err == nil {
		t.Fatal("expected an error for an unstattable path with a huge requirement")
	}
	var insufficient *InsufficientSpaceError
	if !asInsufficientSpaceError(err, &insufficient) {
		t.Fatalf("got %T, want *InsufficientSpaceError", err)
	}
}

func asInsufficientSpaceError(err error, target **InsufficientSpaceError) bool {
	e, ok := err.(*InsufficientSpaceError)
	if ok {
		*target = e
	}
	return ok
}
