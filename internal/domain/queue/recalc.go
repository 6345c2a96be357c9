package queue

import (
	"context"
	"time"
)

// DefaultDriftMinutes is how far the recorded wait may drift from the current
// elapsed wait before a passive queue read triggers a rescore.
const DefaultDriftMinutes = 5

// Scorer produces a priority score for a snapshot. The local calculator is
// the canonical implementation; a remote scoring engine may stand in for it
// and is expected to approximate the same semantics.
type Scorer interface {
	Score(ctx context.Context, s Snapshot) (score int, reason string, err error)
}

// LocalScorer wraps the pure calculator in the Scorer interface. It never
// fails.
type LocalScorer struct{}

func (LocalScorer) Score(_ context.Context, s Snapshot) (int, string, error) {
	score, reason := Score(s)
	return score, reason, nil
}

// RecalcPolicy decides when an entry's score must be recomputed on the
// passive read path. Explicit bulk refreshes bypass it and rescore
// unconditionally.
type RecalcPolicy struct {
	DriftMinutes int
}

func NewRecalcPolicy(driftMinutes int) RecalcPolicy {
	if driftMinutes <= 0 {
		driftMinutes = DefaultDriftMinutes
	}
	return RecalcPolicy{DriftMinutes: driftMinutes}
}

// ShouldRescore reports whether the entry needs a fresh score as of now.
// Triggers: never scored, a scoring-relevant attribute changed since the last
// score, or the recorded wait drifted past the threshold.
func (p RecalcPolicy) ShouldRescore(e *Entry, now time.Time) bool {
	if e.ScoredAt == nil {
		return true
	}
	snap := e.Snapshot(now)
	if e.Fingerprint != snap.Fingerprint() {
		return true
	}
	drift := snap.WaitingMinutes - e.ScoredWaitMins
	if drift < 0 {
		drift = -drift
	}
	return drift > p.DriftMinutes
}
