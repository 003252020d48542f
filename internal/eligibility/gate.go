package eligibility

import (
	"fmt"

	"ms-events/internal/models"
)

// Denial reason codes. These are stable short codes for API clients;
// the user message carries the display string.
const (
	ReasonRSVPNotSocial    = "rsvp_not_social"
	ReasonTicketSocialOnly = "ticket_social_only"
	ReasonDuplicateActive  = "duplicate_active"
	ReasonNotVetted        = "not_vetted"
	ReasonFullCapacity     = "full_capacity"
)

// Decision is the outcome of an eligibility check. Denials are normal
// result values, never errors.
type Decision struct {
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason,omitempty"`
	UserMessage string `json:"user_message,omitempty"`
}

// Allow is the zero-reason positive decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(reason, message string) Decision {
	return Decision{Allowed: false, Reason: reason, UserMessage: message}
}

// Request is the (user, event, action) triple being gated.
type Request struct {
	User  *models.User
	Event *models.Event
	Kind  models.AttendanceKind
	// HasActiveRecord is true when the user already holds an active
	// record of the requested kind for this event.
	HasActiveRecord bool
	// Available is the computed remaining quantity for the specific
	// offering/session combination being requested (or the event's flat
	// availability when no offering is involved).
	Available int
}

// Check evaluates the gating rules in order; the first failing rule
// wins. It is pure: callers re-run it inside the insert transaction
// with transaction-local counts to close the check-then-act race.
func Check(req Request) Decision {
	ev := req.Event

	if req.Kind == models.AttendanceRSVP && !ev.AllowsRSVP() {
		return Deny(ReasonRSVPNotSocial,
			"RSVP is only available for social events; purchase a ticket instead.")
	}
	if req.Kind == models.AttendanceTicket && ev.EventType == models.EventTypeSocial {
		return Deny(ReasonTicketSocialOnly,
			"This event only accepts RSVP, not ticket purchase.")
	}
	if req.HasActiveRecord {
		noun := "ticket"
		if req.Kind == models.AttendanceRSVP {
			noun = "RSVP"
		}
		return Deny(ReasonDuplicateActive,
			fmt.Sprintf("You already have an active %s for this event.", noun))
	}
	if req.Kind == models.AttendanceRSVP && !req.User.IsVetted {
		return Deny(ReasonNotVetted, "RSVP is limited to vetted members.")
	}
	if req.Available <= 0 {
		return Deny(ReasonFullCapacity, "Event is at full capacity.")
	}

	return Allow()
}
