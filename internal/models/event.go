package models

import (
	"time"

	"github.com/uptrace/bun"
)

// EventType is the closed set of event categories. Only social events
// accept RSVPs; every other type sells tickets.
type EventType string

const (
	EventTypeSocial      EventType = "social"
	EventTypeClass       EventType = "class"
	EventTypeWorkshop    EventType = "workshop"
	EventTypePerformance EventType = "performance"
	EventTypeConference  EventType = "conference"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeSocial, EventTypeClass, EventTypeWorkshop, EventTypePerformance, EventTypeConference:
		return true
	}
	return false
}

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID          string    `bun:"id,pk" json:"id"`
	Title       string    `bun:"title,notnull" json:"title"`
	Description string    `bun:"description" json:"description"`
	EventType   EventType `bun:"event_type,notnull" json:"event_type"`
	StartDate   time.Time `bun:"start_date,notnull" json:"start_date"`
	EndDate     time.Time `bun:"end_date,notnull" json:"end_date"`
	Location    string    `bun:"location" json:"location"`
	Capacity    int       `bun:"capacity,notnull" json:"capacity"`
	IsPublished bool      `bun:"is_published" json:"is_published"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`

	// Version is bumped on every guarded update and compared-and-swapped
	// by the db layer to detect concurrent writers.
	Version int64 `bun:"version,notnull,default:1" json:"version"`
}

// AllowsRSVP reports whether the event accepts free RSVPs.
// Only social events do; classes and workshops require a ticket.
func (e *Event) AllowsRSVP() bool {
	return e.EventType == EventTypeSocial
}

// RequiresTicket reports whether attendance requires a purchased ticket.
func (e *Event) RequiresTicket() bool {
	return e.EventType != EventTypeSocial
}

// Validate checks the structural invariants of an event.
func (e *Event) Validate() error {
	if e.Title == "" {
		return ErrValidation
	}
	if !e.EventType.Valid() {
		return ErrValidation
	}
	if !e.EndDate.After(e.StartDate) {
		return ErrValidation
	}
	if e.Capacity < 0 {
		return ErrValidation
	}
	return nil
}
