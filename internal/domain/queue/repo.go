package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	// ListWaitingByClinic returns the clinic's waiting entries with patient
	// attributes joined in, in join order.
	ListWaitingByClinic(ctx context.Context, clinicID uuid.UUID) ([]*Entry, error)
	// UpdateScore persists one entry's score fields. It is an independent
	// read-modify-write; rescoring is idempotent for the same snapshot.
	UpdateScore(ctx context.Context, id uuid.UUID, score int, reason, source, fingerprint string, scoredAt time.Time, scoredWaitMins int) error
	// UpdatePositions stores advisory queue positions for display between
	// refreshes. Positions are recomputed on every read regardless.
	UpdatePositions(ctx context.Context, entries []*Entry) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, doctorID *uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Entry, int, error)
}
