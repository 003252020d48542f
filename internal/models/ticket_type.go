package models

import (
	"time"

	"github.com/uptrace/bun"
)

// TicketType is a purchasable bundle of one or more sessions with
// sliding-scale pricing. Availability is always computed on read from
// attendance records, never cached on the row.
type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types"`

	ID          string    `bun:"id,pk" json:"id"`
	EventID     string    `bun:"event_id,notnull" json:"event_id"`
	Name        string    `bun:"name,notnull" json:"name"`
	Description string    `bun:"description" json:"description"`
	MinPrice    float64   `bun:"min_price,notnull" json:"min_price"`
	MaxPrice    float64   `bun:"max_price,notnull" json:"max_price"`
	// MaxQuantity caps sales for this ticket type; zero means uncapped.
	MaxQuantity  int       `bun:"max_quantity" json:"max_quantity"`
	SalesEndDate time.Time `bun:"sales_end_date,nullzero" json:"sales_end_date,omitempty"`
	IsActive     bool      `bun:"is_active,notnull" json:"is_active"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`

	Sessions []*TicketTypeSession `bun:"rel:has-many,join:id=ticket_type_id" json:"sessions,omitempty"`
}

// TicketTypeSession links a ticket type to a session it includes.
type TicketTypeSession struct {
	bun.BaseModel `bun:"table:ticket_type_sessions"`

	ID                int64  `bun:"id,pk,autoincrement" json:"id"`
	TicketTypeID      string `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	SessionIdentifier string `bun:"session_identifier,notnull" json:"session_identifier"`
}

// IncludedSessionIdentifiers returns the session identifiers bundled in
// this ticket type, in insertion order.
func (t *TicketType) IncludedSessionIdentifiers() []string {
	ids := make([]string, 0, len(t.Sessions))
	for _, s := range t.Sessions {
		ids = append(ids, s.SessionIdentifier)
	}
	return ids
}

// SalesOpen reports whether the sales window is open at the given
// instant. A zero SalesEndDate means sales never close.
func (t *TicketType) SalesOpen(now time.Time) bool {
	return t.SalesEndDate.IsZero() || !now.After(t.SalesEndDate)
}

func (t *TicketType) Validate() error {
	if t.Name == "" || t.EventID == "" {
		return ErrValidation
	}
	if t.MinPrice < 0 || t.MaxPrice < t.MinPrice {
		return ErrValidation
	}
	if t.MaxQuantity < 0 {
		return ErrValidation
	}
	return nil
}

// ValidateSessions checks that every included session identifier
// references a session owned by the same event.
func (t *TicketType) ValidateSessions(owned []EventSession) error {
	ownedSet := make(map[string]bool, len(owned))
	for _, s := range owned {
		ownedSet[s.Identifier] = true
	}
	for _, s := range t.Sessions {
		if !ownedSet[s.SessionIdentifier] {
			return ErrValidation
		}
	}
	return nil
}
