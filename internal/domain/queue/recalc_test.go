package queue

import (
	"testing"
	"time"
)

func scoredEntry(now time.Time, waitMins int) *Entry {
	joined := now.Add(-time.Duration(waitMins) * time.Minute)
	e := &Entry{
		Severity:   5,
		PatientAge: 40,
		JoinedAt:   joined,
	}
	snap := e.Snapshot(now)
	e.Fingerprint = snap.Fingerprint()
	e.ScoredWaitMins = snap.WaitingMinutes
	e.ScoredAt = &now
	return e
}

func TestShouldRescore_NeverScored(t *testing.T) {
	p := NewRecalcPolicy(5)
	e := &Entry{JoinedAt: time.Now()}
	if !p.ShouldRescore(e, time.Now()) {
		t.Error("unscored entry must be rescored")
	}
}

func TestShouldRescore_AttributeChange(t *testing.T) {
	p := NewRecalcPolicy(5)
	now := time.Now()
	e := scoredEntry(now, 10)

	if p.ShouldRescore(e, now) {
		t.Error("freshly scored entry should not be rescored")
	}

	e.Severity = 9
	if !p.ShouldRescore(e, now) {
		t.Error("severity change must trigger a rescore")
	}
}

func TestShouldRescore_RuralFlagChange(t *testing.T) {
	p := NewRecalcPolicy(5)
	now := time.Now()
	e := scoredEntry(now, 10)

	e.PatientRural = true
	if !p.ShouldRescore(e, now) {
		t.Error("rural flag change must trigger a rescore")
	}
}

func TestShouldRescore_WaitDrift(t *testing.T) {
	p := NewRecalcPolicy(5)
	now := time.Now()
	e := scoredEntry(now, 10)

	if p.ShouldRescore(e, now.Add(3*time.Minute)) {
		t.Error("3 minutes of drift is under the threshold")
	}
	if !p.ShouldRescore(e, now.Add(6*time.Minute)) {
		t.Error("6 minutes of drift must trigger a rescore")
	}
}

func TestNewRecalcPolicy_DefaultThreshold(t *testing.T) {
	p := NewRecalcPolicy(0)
	if p.DriftMinutes != DefaultDriftMinutes {
		t.Errorf("expected default drift %d, got %d", DefaultDriftMinutes, p.DriftMinutes)
	}
}

func TestSnapshot_WaitNeverNegative(t *testing.T) {
	e := &Entry{JoinedAt: time.Now().Add(10 * time.Minute)}
	snap := e.Snapshot(time.Now())
	if snap.WaitingMinutes != 0 {
		t.Errorf("expected zero wait for future join time, got %d", snap.WaitingMinutes)
	}
}
