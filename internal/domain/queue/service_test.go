package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mock Repository --

type mockRepo struct {
	entries map[uuid.UUID]*Entry
	order   []uuid.UUID
}

func newMockRepo() *mockRepo {
	return &mockRepo{entries: make(map[uuid.UUID]*Entry)}
}

func (m *mockRepo) Create(_ context.Context, e *Entry) error {
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	e.UpdatedAt = time.Now()
	cp := *e
	m.entries[e.ID] = &cp
	m.order = append(m.order, e.ID)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Entry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *e
	return &cp, nil
}

func (m *mockRepo) ListWaitingByClinic(_ context.Context, clinicID uuid.UUID) ([]*Entry, error) {
	var result []*Entry
	for _, id := range m.order {
		e := m.entries[id]
		if e.ClinicID == clinicID && e.Status == StatusWaiting {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockRepo) UpdateScore(_ context.Context, id uuid.UUID, score int, reason, source, fingerprint string, scoredAt time.Time, scoredWaitMins int) error {
	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	e.PriorityScore = score
	e.PriorityReason = reason
	e.ScoreSource = source
	e.Fingerprint = fingerprint
	e.ScoredAt = &scoredAt
	e.ScoredWaitMins = scoredWaitMins
	return nil
}

func (m *mockRepo) UpdatePositions(_ context.Context, entries []*Entry) error {
	for _, e := range entries {
		if stored, ok := m.entries[e.ID]; ok {
			stored.QueuePosition = e.QueuePosition
		}
	}
	return nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string, doctorID *uuid.UUID) error {
	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	e.Status = status
	if doctorID != nil {
		e.DoctorID = doctorID
	}
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.entries, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, clinicID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	var result []*Entry
	for _, id := range m.order {
		e, ok := m.entries[id]
		if ok && e.ClinicID == clinicID {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, len(result), nil
}

// -- Mock Scorers --

type failingScorer struct{ calls int }

func (s *failingScorer) Score(_ context.Context, _ Snapshot) (int, string, error) {
	s.calls++
	return 0, "", fmt.Errorf("connection refused")
}

// blockingScorer never responds; it returns only when the context expires.
type blockingScorer struct{}

func (blockingScorer) Score(ctx context.Context, _ Snapshot) (int, string, error) {
	<-ctx.Done()
	return 0, "", ctx.Err()
}

type fixedScorer struct {
	score  int
	reason string
}

func (s fixedScorer) Score(_ context.Context, _ Snapshot) (int, string, error) {
	return s.score, s.reason, nil
}

// -- Helpers --

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	svc := NewService(repo, NewRecalcPolicy(5), zerolog.Nop())
	return svc, repo
}

func checkIn(t *testing.T, svc *Service, clinicID uuid.UUID, severity, age, waitMins int, emergency bool) *Entry {
	t.Helper()
	e := &Entry{
		ClinicID:    clinicID,
		PatientID:   uuid.New(),
		Severity:    severity,
		IsEmergency: emergency,
		JoinedAt:    time.Now().Add(-time.Duration(waitMins) * time.Minute),
		PatientAge:  age,
	}
	if err := svc.CheckIn(context.Background(), e); err != nil {
		t.Fatalf("check-in failed: %v", err)
	}
	return e
}

// -- Tests --

func TestCheckIn_ScoresImmediately(t *testing.T) {
	svc, _ := newTestService()
	e := checkIn(t, svc, uuid.New(), 8, 70, 0, false)

	if e.PriorityScore == 0 {
		t.Error("expected a non-zero score after check-in")
	}
	if e.PriorityReason == "" {
		t.Error("expected a reason after check-in")
	}
	if e.ScoreSource != ScoreSourceLocal {
		t.Errorf("expected local score source, got %q", e.ScoreSource)
	}
	if e.Status != StatusWaiting {
		t.Errorf("expected default status waiting, got %q", e.Status)
	}
}

func TestCheckIn_ClinicRequired(t *testing.T) {
	svc, _ := newTestService()
	e := &Entry{PatientID: uuid.New(), Severity: 5}
	err := svc.CheckIn(context.Background(), e)
	if err == nil {
		t.Fatal("expected error for missing clinic_id")
	}
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("expected ErrInvalidEntry, got %v", err)
	}
}

func TestCheckIn_SeverityRange(t *testing.T) {
	svc, _ := newTestService()
	for _, severity := range []int{0, 11, -3} {
		e := &Entry{ClinicID: uuid.New(), PatientID: uuid.New(), Severity: severity}
		err := svc.CheckIn(context.Background(), e)
		if err == nil {
			t.Errorf("expected error for severity %d", severity)
			continue
		}
		if !errors.Is(err, ErrInvalidEntry) {
			t.Errorf("expected ErrInvalidEntry for severity %d, got %v", severity, err)
		}
	}
}

func TestGetQueue_OrderAndPositions(t *testing.T) {
	svc, _ := newTestService()
	clinicID := uuid.New()

	regular := checkIn(t, svc, clinicID, 5, 30, 10, false)
	emergency := checkIn(t, svc, clinicID, 2, 25, 0, true)
	severe := checkIn(t, svc, clinicID, 10, 80, 30, false)

	entries, err := svc.GetQueue(context.Background(), clinicID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ID != emergency.ID {
		t.Errorf("expected emergency first, got %v", entries[0].ID)
	}
	if entries[1].ID != severe.ID {
		t.Errorf("expected high scorer second")
	}
	if entries[2].ID != regular.ID {
		t.Errorf("expected regular case last")
	}
	for i, e := range entries {
		if e.QueuePosition != i+1 {
			t.Errorf("expected position %d, got %d", i+1, e.QueuePosition)
		}
	}
}

func TestGetQueue_WaitTieBreak(t *testing.T) {
	svc, repo := newTestService()
	clinicID := uuid.New()

	// Identical snapshots except waiting time: 10, 50, 30 minutes.
	var ids []uuid.UUID
	for _, wait := range []int{10, 50, 30} {
		e := checkIn(t, svc, clinicID, 5, 30, wait, false)
		ids = append(ids, e.ID)
	}
	// Wait bonus differentiates raw scores; normalise them to force a tie.
	for _, id := range ids {
		repo.entries[id].PriorityScore = 50
	}

	entries, err := svc.GetQueue(context.Background(), clinicID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waits := []int{entries[0].WaitingMinutes, entries[1].WaitingMinutes, entries[2].WaitingMinutes}
	if !sort.SliceIsSorted(waits, func(i, j int) bool { return waits[i] > waits[j] }) {
		t.Errorf("equal scores not ordered by wait descending: %v", waits)
	}
}

func TestGetQueue_EmptyClinic(t *testing.T) {
	svc, _ := newTestService()
	entries, err := svc.GetQueue(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty queue, got %d entries", len(entries))
	}

	stats, err := svc.Stats(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Count != 0 || stats.MeanPriority != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}

func TestGetQueue_Idempotent(t *testing.T) {
	svc, _ := newTestService()
	clinicID := uuid.New()
	for i := 0; i < 6; i++ {
		checkIn(t, svc, clinicID, (i%5)+1, 20+i*10, i*7, i%2 == 0)
	}

	first, err := svc.GetQueue(context.Background(), clinicID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.GetQueue(context.Background(), clinicID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].QueuePosition != second[i].QueuePosition {
			t.Fatalf("queue order changed between reads at index %d", i)
		}
	}
}

func TestRecalculateAll(t *testing.T) {
	svc, repo := newTestService()
	clinicID := uuid.New()
	for i := 0; i < 5; i++ {
		checkIn(t, svc, clinicID, 5, 40, 10, false)
	}

	// Corrupt stored scores; the bulk refresh must rebuild all of them.
	for _, e := range repo.entries {
		e.PriorityScore = -1
	}

	n, err := svc.RecalculateAll(context.Background(), clinicID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 rescored entries, got %d", n)
	}
	for _, e := range repo.entries {
		if e.PriorityScore < 0 || e.PriorityScore > 100 {
			t.Errorf("score %d out of range after bulk recalc", e.PriorityScore)
		}
	}
}

func TestRemoteScorer_Preferred(t *testing.T) {
	svc, _ := newTestService()
	svc.SetRemoteScorer(fixedScorer{score: 77, reason: "HIGH PRIORITY: engine says so"}, time.Second)

	e := checkIn(t, svc, uuid.New(), 5, 30, 0, false)
	if e.ScoreSource != ScoreSourceEngine {
		t.Errorf("expected engine source, got %q", e.ScoreSource)
	}
	if e.PriorityScore != 77 {
		t.Errorf("expected engine score 77, got %d", e.PriorityScore)
	}
}

func TestRemoteScorer_FallbackOnError(t *testing.T) {
	svc, _ := newTestService()
	scorer := &failingScorer{}
	svc.SetRemoteScorer(scorer, time.Second)

	e := checkIn(t, svc, uuid.New(), 8, 70, 0, false)
	if scorer.calls == 0 {
		t.Error("expected remote scorer to be attempted")
	}
	if e.ScoreSource != ScoreSourceLocal {
		t.Errorf("expected local fallback, got %q", e.ScoreSource)
	}
	localScore, _ := Score(Snapshot{Age: 70, Severity: 8})
	if e.PriorityScore != localScore {
		t.Errorf("fallback score %d differs from local calculator %d", e.PriorityScore, localScore)
	}
}

func TestRemoteScorer_FallbackOnTimeout(t *testing.T) {
	svc, _ := newTestService()
	svc.SetRemoteScorer(blockingScorer{}, 50*time.Millisecond)

	start := time.Now()
	e := checkIn(t, svc, uuid.New(), 6, 40, 0, false)
	elapsed := time.Since(start)

	if e.ScoreSource != ScoreSourceLocal {
		t.Errorf("expected local fallback after timeout, got %q", e.ScoreSource)
	}
	if elapsed > time.Second {
		t.Errorf("queue operation took %v, should complete shortly after the 50ms timeout", elapsed)
	}
}

func TestRemoteScorer_ResultClamped(t *testing.T) {
	svc, _ := newTestService()
	svc.SetRemoteScorer(fixedScorer{score: 240, reason: "overflow"}, time.Second)

	e := checkIn(t, svc, uuid.New(), 5, 30, 0, false)
	if e.PriorityScore != 100 {
		t.Errorf("expected engine score clamped to 100, got %d", e.PriorityScore)
	}
}

func TestUpdateStatus(t *testing.T) {
	svc, _ := newTestService()
	clinicID := uuid.New()
	e := checkIn(t, svc, clinicID, 5, 30, 0, false)

	doctorID := uuid.New()
	updated, err := svc.UpdateStatus(context.Background(), e.ID, StatusInConsultation, &doctorID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusInConsultation {
		t.Errorf("expected in_consultation, got %q", updated.Status)
	}

	if _, err := svc.UpdateStatus(context.Background(), e.ID, "teleported", nil); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestUpdateStatus_LeavesQueue(t *testing.T) {
	svc, _ := newTestService()
	clinicID := uuid.New()
	e := checkIn(t, svc, clinicID, 5, 30, 0, false)
	checkIn(t, svc, clinicID, 5, 30, 0, false)

	if _, err := svc.UpdateStatus(context.Background(), e.ID, StatusCompleted, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, err := svc.GetQueue(context.Background(), clinicID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("completed entry still in queue: %d entries", len(entries))
	}
}

func TestRemove(t *testing.T) {
	svc, _ := newTestService()
	clinicID := uuid.New()
	e := checkIn(t, svc, clinicID, 5, 30, 0, false)

	if err := svc.Remove(context.Background(), e.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.GetEntry(context.Background(), e.ID); err == nil {
		t.Error("expected error after removal")
	}
}

// -- Cache behaviour --

type recordingCache struct {
	store       map[string][]byte
	invalidated int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{store: make(map[string][]byte)}
}

func (c *recordingCache) GetQueue(_ context.Context, clinicID string) ([]byte, bool) {
	b, ok := c.store[clinicID]
	return b, ok
}

func (c *recordingCache) SetQueue(_ context.Context, clinicID string, payload []byte) {
	c.store[clinicID] = payload
}

func (c *recordingCache) Invalidate(_ context.Context, clinicID string) {
	delete(c.store, clinicID)
	c.invalidated++
}

func TestGetQueue_CachePopulatedAndInvalidated(t *testing.T) {
	svc, _ := newTestService()
	cache := newRecordingCache()
	svc.SetCache(cache)

	clinicID := uuid.New()
	checkIn(t, svc, clinicID, 5, 30, 0, false)

	if _, err := svc.GetQueue(context.Background(), clinicID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cache.store[clinicID.String()]; !ok {
		t.Error("expected cache to be populated after a read")
	}

	checkIn(t, svc, clinicID, 7, 50, 0, false)
	if _, ok := cache.store[clinicID.String()]; ok {
		t.Error("expected cache invalidation after check-in")
	}
}
