package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry statuses.
const (
	StatusWaiting        = "waiting"
	StatusInConsultation = "in_consultation"
	StatusCompleted      = "completed"
	StatusCancelled      = "cancelled"
)

// Score sources.
const (
	ScoreSourceLocal  = "local"
	ScoreSourceEngine = "engine"
)

// Entry maps to the queue_entry table plus the patient attributes joined in
// at read time. Queue position is a derived view recomputed on every read;
// the stored column is advisory only.
type Entry struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	ClinicID       uuid.UUID  `db:"clinic_id" json:"clinic_id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID       *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	Status         string     `db:"status" json:"status"`
	Severity       int        `db:"severity" json:"severity"`
	IsEmergency    bool       `db:"is_emergency" json:"is_emergency"`
	JoinedAt       time.Time  `db:"joined_at" json:"joined_at"`
	PriorityScore  int        `db:"priority_score" json:"priority_score"`
	PriorityReason string     `db:"priority_reason" json:"priority_reason"`
	ScoreSource    string     `db:"score_source" json:"score_source"`
	ScoredAt       *time.Time `db:"scored_at" json:"scored_at,omitempty"`
	ScoredWaitMins int        `db:"scored_wait_mins" json:"-"`
	Fingerprint    string     `db:"fingerprint" json:"-"`
	QueuePosition  int        `db:"queue_position" json:"queue_position"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`

	// Patient attributes joined from the patient table. Read-only here;
	// the patient record is owned by the identity domain.
	PatientName         string `db:"patient_name" json:"patient_name,omitempty"`
	PatientAge          int    `db:"patient_age" json:"patient_age"`
	PatientRural        bool   `db:"patient_rural" json:"patient_rural"`
	PatientChronic      bool   `db:"patient_chronic" json:"patient_chronic"`
	PatientChronicCount int    `db:"patient_chronic_count" json:"patient_chronic_count"`

	// WaitingMinutes is computed from JoinedAt at evaluation time.
	WaitingMinutes int `db:"-" json:"waiting_minutes"`
}

// Snapshot is the immutable per-evaluation input to the score calculator.
type Snapshot struct {
	Age            int
	Severity       int
	Rural          bool
	Chronic        bool
	ChronicCount   int
	Emergency      bool
	WaitingMinutes int
}

// Snapshot assembles the scoring input for the entry as of now.
func (e *Entry) Snapshot(now time.Time) Snapshot {
	wait := int(now.Sub(e.JoinedAt).Minutes())
	if wait < 0 {
		wait = 0
	}
	return Snapshot{
		Age:            e.PatientAge,
		Severity:       e.Severity,
		Rural:          e.PatientRural,
		Chronic:        e.PatientChronic,
		ChronicCount:   e.PatientChronicCount,
		Emergency:      e.IsEmergency,
		WaitingMinutes: wait,
	}
}

// Fingerprint identifies the scoring-relevant attributes of a snapshot,
// excluding waiting time. A changed fingerprint forces a rescore.
func (s Snapshot) Fingerprint() string {
	return fmt.Sprintf("%d|%d|%t|%t|%d|%t",
		s.Age, s.Severity, s.Rural, s.Chronic, s.ChronicCount, s.Emergency)
}

// Stats summarises one clinic's ordered waiting set.
type Stats struct {
	Count           int     `json:"count"`
	EmergencyCount  int     `json:"emergency_count"`
	MeanWaitMinutes float64 `json:"mean_wait_minutes"`
	MeanPriority    float64 `json:"mean_priority"`
}
