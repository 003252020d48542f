package models

import (
	"time"

	"github.com/uptrace/bun"
)

// EventSession is a scheduled time-block within an event with its own
// capacity (S1, S2, S3...). The registered count is never stored; it is
// derived from active attendance records at read time.
type EventSession struct {
	bun.BaseModel `bun:"table:event_sessions"`

	ID         string    `bun:"id,pk" json:"id"`
	EventID    string    `bun:"event_id,notnull" json:"event_id"`
	Identifier string    `bun:"identifier,notnull" json:"identifier"`
	Date       time.Time `bun:"date,notnull" json:"date"`
	StartTime  time.Time `bun:"start_time,notnull" json:"start_time"`
	EndTime    time.Time `bun:"end_time,notnull" json:"end_time"`
	Capacity   int       `bun:"capacity,notnull" json:"capacity"`
	CreatedAt  time.Time `bun:"created_at,notnull" json:"created_at"`
}

// OverlapsWith reports whether two sessions of the same event occupy
// overlapping time ranges on the same date.
func (s *EventSession) OverlapsWith(other *EventSession) bool {
	if !s.Date.Equal(other.Date) {
		return false
	}
	return s.StartTime.Before(other.EndTime) && other.StartTime.Before(s.EndTime)
}

func (s *EventSession) Validate() error {
	if s.Identifier == "" || s.EventID == "" {
		return ErrValidation
	}
	if !s.EndTime.After(s.StartTime) {
		return ErrValidation
	}
	if s.Capacity < 0 {
		return ErrValidation
	}
	return nil
}
