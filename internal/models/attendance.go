package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AttendanceKind distinguishes free RSVPs from purchased tickets.
type AttendanceKind string

const (
	AttendanceRSVP   AttendanceKind = "rsvp"
	AttendanceTicket AttendanceKind = "ticket"
)

func (k AttendanceKind) Valid() bool {
	return k == AttendanceRSVP || k == AttendanceTicket
}

// AttendanceStatus is the record state machine:
// active -> cancelled (reason required) and active -> attended (check-in)
// are the only transitions; both target states are terminal.
type AttendanceStatus string

const (
	AttendanceActive    AttendanceStatus = "active"
	AttendanceCancelled AttendanceStatus = "cancelled"
	AttendanceAttended  AttendanceStatus = "attended"
)

// AttendanceRecord is the single source of truth for attendance counts.
// At most one active record exists per (event, user, kind); the db layer
// enforces this with a partial unique index.
type AttendanceRecord struct {
	bun.BaseModel `bun:"table:attendance_records"`

	ID           string           `bun:"id,pk" json:"id"`
	EventID      string           `bun:"event_id,notnull" json:"event_id"`
	UserID       string           `bun:"user_id,notnull" json:"user_id"`
	Kind         AttendanceKind   `bun:"kind,notnull" json:"kind"`
	Status       AttendanceStatus `bun:"status,notnull" json:"status"`
	TicketTypeID string           `bun:"ticket_type_id,nullzero" json:"ticket_type_id,omitempty"`
	// PricePaid is the sliding-scale amount chosen at purchase; zero for RSVPs.
	PricePaid       float64   `bun:"price_paid" json:"price_paid"`
	PaymentIntentID string    `bun:"payment_intent_id,nullzero" json:"payment_intent_id,omitempty"`
	QRPass          []byte    `bun:"qr_pass" json:"-"`
	CreatedAt       time.Time `bun:"created_at,notnull" json:"created_at"`
	CancelledAt     time.Time `bun:"cancelled_at,nullzero" json:"cancelled_at,omitempty"`
	CancelReason    string    `bun:"cancel_reason,nullzero" json:"cancel_reason,omitempty"`
	CheckedInAt     time.Time `bun:"checked_in_at,nullzero" json:"checked_in_at,omitempty"`
}

// IsActive reports whether the record still counts against capacity.
func (r *AttendanceRecord) IsActive() bool {
	return r.Status == AttendanceActive
}
