package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidEntry marks input the caller can correct, as opposed to
// persistence failures. Handlers map it to 400.
var ErrInvalidEntry = errors.New("invalid queue entry")

// recalcWorkers bounds the fan-out when bulk-recalculating a clinic's queue.
const recalcWorkers = 4

// defaultRemoteTimeout caps a single remote scoring call. A scoring engine
// outage must never block queue availability.
const defaultRemoteTimeout = 2 * time.Second

// ViewCache caches serialized ordered-queue views per clinic. Implementations
// must tolerate being nil-configured out.
type ViewCache interface {
	GetQueue(ctx context.Context, clinicID string) ([]byte, bool)
	SetQueue(ctx context.Context, clinicID string, payload []byte)
	Invalidate(ctx context.Context, clinicID string)
}

// Metrics receives scoring telemetry. Degraded scores are surfaced here and
// in logs only, never as request failures.
type Metrics interface {
	ScoreComputed(source string)
	EngineFallback()
}

type Service struct {
	repo          Repository
	remote        Scorer // optional remote scoring engine
	remoteTimeout time.Duration
	policy        RecalcPolicy
	cache         ViewCache // optional
	metrics       Metrics   // optional
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(repo Repository, policy RecalcPolicy, logger zerolog.Logger) *Service {
	return &Service{
		repo:          repo,
		policy:        policy,
		remoteTimeout: defaultRemoteTimeout,
		logger:        logger,
		now:           time.Now,
	}
}

// SetRemoteScorer attaches an optional remote scoring engine. On timeout or
// error the service falls back to the local calculator.
func (s *Service) SetRemoteScorer(scorer Scorer, timeout time.Duration) {
	s.remote = scorer
	if timeout > 0 {
		s.remoteTimeout = timeout
	}
}

// SetCache attaches an optional queue view cache.
func (s *Service) SetCache(c ViewCache) { s.cache = c }

// SetMetrics attaches an optional metrics sink.
func (s *Service) SetMetrics(m Metrics) { s.metrics = m }

// SetClock overrides the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CheckIn adds a patient to their clinic's waiting queue and scores the entry
// immediately. The emergency flag is set at intake and never derived here.
func (s *Service) CheckIn(ctx context.Context, e *Entry) error {
	if e.ClinicID == uuid.Nil {
		return fmt.Errorf("%w: clinic_id is required", ErrInvalidEntry)
	}
	if e.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalidEntry)
	}
	if e.Severity < 1 || e.Severity > 10 {
		return fmt.Errorf("%w: severity must be between 1 and 10", ErrInvalidEntry)
	}
	if e.Status == "" {
		e.Status = StatusWaiting
	}
	if e.JoinedAt.IsZero() {
		e.JoinedAt = s.now()
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return err
	}

	// The snapshot needs the joined patient attributes, so reload.
	created, err := s.repo.GetByID(ctx, e.ID)
	if err != nil {
		return err
	}
	if err := s.rescore(ctx, created, s.now()); err != nil {
		return err
	}
	*e = *created

	s.invalidate(ctx, e.ClinicID)
	return nil
}

// GetQueue returns the clinic's waiting set in total order with 1-based
// positions assigned. Entries whose recorded wait drifted past the policy
// threshold, or whose scoring attributes changed, are rescored on the way.
func (s *Service) GetQueue(ctx context.Context, clinicID uuid.UUID) ([]*Entry, error) {
	if s.cache != nil {
		if payload, ok := s.cache.GetQueue(ctx, clinicID.String()); ok {
			var cached []*Entry
			if err := json.Unmarshal(payload, &cached); err == nil {
				return cached, nil
			}
		}
	}

	entries, err := s.repo.ListWaitingByClinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, e := range entries {
		e.WaitingMinutes = e.Snapshot(now).WaitingMinutes
		if s.policy.ShouldRescore(e, now) {
			if err := s.rescore(ctx, e, now); err != nil {
				return nil, err
			}
		}
	}

	OrderEntries(entries)

	// Stored positions are advisory; a failure here does not fail the read.
	if err := s.repo.UpdatePositions(ctx, entries); err != nil {
		s.logger.Warn().Err(err).Str("clinic_id", clinicID.String()).
			Msg("failed to persist advisory queue positions")
	}

	if s.cache != nil {
		if payload, err := json.Marshal(entries); err == nil {
			s.cache.SetQueue(ctx, clinicID.String(), payload)
		}
	}
	return entries, nil
}

// Stats summarises the ordered waiting set. An empty queue yields zero stats.
func (s *Service) Stats(ctx context.Context, clinicID uuid.UUID) (Stats, error) {
	entries, err := s.GetQueue(ctx, clinicID)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(entries), nil
}

// RecalculateAll rescores every waiting entry unconditionally. Scoring fans
// out across a bounded worker pool; persistence is serialized afterwards so
// the tenant-scoped connection is never used concurrently. Returns the number
// of entries rescored.
func (s *Service) RecalculateAll(ctx context.Context, clinicID uuid.UUID) (int, error) {
	entries, err := s.repo.ListWaitingByClinic(ctx, clinicID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	type result struct {
		score  int
		reason string
		source string
	}
	results := make([]result, len(entries))

	sem := make(chan struct{}, recalcWorkers)
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, e *Entry) {
			defer wg.Done()
			defer func() { <-sem }()
			score, reason, source := s.computeScore(ctx, e.Snapshot(now))
			results[i] = result{score: score, reason: reason, source: source}
		}(i, e)
	}
	wg.Wait()

	for i, e := range entries {
		snap := e.Snapshot(now)
		res := results[i]
		if err := s.repo.UpdateScore(ctx, e.ID, res.score, res.reason, res.source,
			snap.Fingerprint(), now, snap.WaitingMinutes); err != nil {
			return i, err
		}
		e.PriorityScore = res.score
		e.PriorityReason = res.reason
		e.ScoreSource = res.source
	}

	s.invalidate(ctx, clinicID)
	return len(entries), nil
}

// UpdateStatus moves an entry through the consultation lifecycle. Completed
// and cancelled entries leave the waiting set.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string, doctorID *uuid.UUID) (*Entry, error) {
	switch status {
	case StatusWaiting, StatusInConsultation, StatusCompleted, StatusCancelled:
	default:
		return nil, fmt.Errorf("invalid status %q", status)
	}
	if err := s.repo.UpdateStatus(ctx, id, status, doctorID); err != nil {
		return nil, err
	}
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, e.ClinicID)
	return e, nil
}

func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, e.ClinicID)
	return nil
}

func (s *Service) ListEntries(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	return s.repo.List(ctx, clinicID, limit, offset)
}

// rescore computes and persists a fresh score for the entry as of now.
func (s *Service) rescore(ctx context.Context, e *Entry, now time.Time) error {
	snap := e.Snapshot(now)
	score, reason, source := s.computeScore(ctx, snap)

	if err := s.repo.UpdateScore(ctx, e.ID, score, reason, source,
		snap.Fingerprint(), now, snap.WaitingMinutes); err != nil {
		return err
	}
	e.PriorityScore = score
	e.PriorityReason = reason
	e.ScoreSource = source
	e.Fingerprint = snap.Fingerprint()
	e.ScoredWaitMins = snap.WaitingMinutes
	e.ScoredAt = &now
	e.WaitingMinutes = snap.WaitingMinutes
	return nil
}

// computeScore prefers the remote engine when configured and falls back to
// the local calculator on any error, so queue reads always succeed.
func (s *Service) computeScore(ctx context.Context, snap Snapshot) (int, string, string) {
	if s.remote != nil {
		cctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
		score, reason, err := s.remote.Score(cctx, snap)
		cancel()
		if err == nil {
			if s.metrics != nil {
				s.metrics.ScoreComputed(ScoreSourceEngine)
			}
			return clamp(score, 0, 100), reason, ScoreSourceEngine
		}
		s.logger.Warn().Err(err).Msg("scoring engine unreachable, using local calculator")
		if s.metrics != nil {
			s.metrics.EngineFallback()
		}
	}
	score, reason := Score(snap)
	if s.metrics != nil {
		s.metrics.ScoreComputed(ScoreSourceLocal)
	}
	return score, reason, ScoreSourceLocal
}

func (s *Service) invalidate(ctx context.Context, clinicID uuid.UUID) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, clinicID.String())
	}
}
