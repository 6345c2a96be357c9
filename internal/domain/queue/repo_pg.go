package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telemed/telemed/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `q.id, q.clinic_id, q.patient_id, q.doctor_id, q.status, q.severity,
	q.is_emergency, q.joined_at, q.priority_score, q.priority_reason, q.score_source,
	q.scored_at, q.scored_wait_mins, q.fingerprint, q.queue_position, q.created_at, q.updated_at,
	p.first_name || ' ' || p.last_name AS patient_name,
	p.age, p.is_rural, p.has_chronic_conditions,
	COALESCE(array_length(p.chronic_conditions, 1), 0)`

const entryFrom = ` FROM queue_entry q JOIN patient p ON p.id = q.patient_id`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.ClinicID, &e.PatientID, &e.DoctorID, &e.Status, &e.Severity,
		&e.IsEmergency, &e.JoinedAt, &e.PriorityScore, &e.PriorityReason, &e.ScoreSource,
		&e.ScoredAt, &e.ScoredWaitMins, &e.Fingerprint, &e.QueuePosition, &e.CreatedAt, &e.UpdatedAt,
		&e.PatientName, &e.PatientAge, &e.PatientRural, &e.PatientChronic, &e.PatientChronicCount)
	return &e, err
}

func (r *repoPG) Create(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO queue_entry (id, clinic_id, patient_id, doctor_id, status, severity,
			is_emergency, joined_at, priority_score, priority_reason, score_source,
			scored_at, scored_wait_mins, fingerprint)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		e.ID, e.ClinicID, e.PatientID, e.DoctorID, e.Status, e.Severity,
		e.IsEmergency, e.JoinedAt, e.PriorityScore, e.PriorityReason, e.ScoreSource,
		e.ScoredAt, e.ScoredWaitMins, e.Fingerprint)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+entryFrom+` WHERE q.id = $1`, id))
}

func (r *repoPG) ListWaitingByClinic(ctx context.Context, clinicID uuid.UUID) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryCols+entryFrom+` WHERE q.clinic_id = $1 AND q.status = $2 ORDER BY q.joined_at`,
		clinicID, StatusWaiting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *repoPG) UpdateScore(ctx context.Context, id uuid.UUID, score int, reason, source, fingerprint string, scoredAt time.Time, scoredWaitMins int) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE queue_entry SET priority_score=$2, priority_reason=$3, score_source=$4,
			fingerprint=$5, scored_at=$6, scored_wait_mins=$7, updated_at=NOW()
		WHERE id = $1`,
		id, score, reason, source, fingerprint, scoredAt, scoredWaitMins)
	return err
}

func (r *repoPG) UpdatePositions(ctx context.Context, entries []*Entry) error {
	for _, e := range entries {
		if _, err := r.conn(ctx).Exec(ctx,
			`UPDATE queue_entry SET queue_position=$2 WHERE id = $1`,
			e.ID, e.QueuePosition); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string, doctorID *uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE queue_entry SET status=$2, doctor_id=COALESCE($3, doctor_id), updated_at=NOW()
		WHERE id = $1`,
		id, status, doctorID)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM queue_entry WHERE id = $1`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_entry WHERE clinic_id = $1`, clinicID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryCols+entryFrom+` WHERE q.clinic_id = $1 ORDER BY q.created_at DESC LIMIT $2 OFFSET $3`,
		clinicID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
