package identity

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. The clinical attributes (age, rural flag,
// chronic conditions) feed the queue priority calculator.
type Patient struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	ClinicID             uuid.UUID `db:"clinic_id" json:"clinic_id"`
	Active               bool      `db:"active" json:"active"`
	FirstName            string    `db:"first_name" json:"first_name"`
	LastName             string    `db:"last_name" json:"last_name"`
	Age                  int       `db:"age" json:"age"`
	Gender               *string   `db:"gender" json:"gender,omitempty"`
	Phone                *string   `db:"phone" json:"phone,omitempty"`
	Email                *string   `db:"email" json:"email,omitempty"`
	AddressLine1         *string   `db:"address_line1" json:"address_line1,omitempty"`
	City                 *string   `db:"city" json:"city,omitempty"`
	State                *string   `db:"state" json:"state,omitempty"`
	PostalCode           *string   `db:"postal_code" json:"postal_code,omitempty"`
	Country              *string   `db:"country" json:"country,omitempty"`
	IsRural              bool      `db:"is_rural" json:"is_rural"`
	HasChronicConditions bool      `db:"has_chronic_conditions" json:"has_chronic_conditions"`
	ChronicConditions    []string  `db:"chronic_conditions" json:"chronic_conditions"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// FullName is the display name used in queue views.
func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Doctor maps to the doctor table.
type Doctor struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ClinicID  uuid.UUID `db:"clinic_id" json:"clinic_id"`
	Active    bool      `db:"active" json:"active"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	Specialty *string   `db:"specialty" json:"specialty,omitempty"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Email     *string   `db:"email" json:"email,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
