package clinic

import (
	"time"

	"github.com/google/uuid"
)

// Clinic maps to the clinic table. Queues, patients and doctors all hang off
// a clinic; the tenant schema isolates clinics of different operators.
type Clinic struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Active       bool      `db:"active" json:"active"`
	AddressLine1 *string   `db:"address_line1" json:"address_line1,omitempty"`
	City         *string   `db:"city" json:"city,omitempty"`
	District     *string   `db:"district" json:"district,omitempty"`
	State        *string   `db:"state" json:"state,omitempty"`
	PostalCode   *string   `db:"postal_code" json:"postal_code,omitempty"`
	Country      *string   `db:"country" json:"country,omitempty"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	Email        *string   `db:"email" json:"email,omitempty"`
	Timezone     string    `db:"timezone" json:"timezone"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
