package availability

import (
	"fmt"
	"strings"
	"time"

	"ms-events/internal/models"
)

// Constraint reason codes, in priority order.
const (
	ReasonInactive     = "inactive"
	ReasonSalesClosed  = "sales_closed"
	ReasonSessionsFull = "sessions_full"
	ReasonSoldOut      = "sold_out"
)

// SessionAvailability is the derived remaining capacity of one session.
type SessionAvailability struct {
	SessionID  string `json:"session_id"`
	Identifier string `json:"identifier"`
	Capacity   int    `json:"capacity"`
	Registered int    `json:"registered"`
	Available  int    `json:"available"`
	HasCapacity bool  `json:"has_capacity"`
}

// TicketTypeAvailability is the derived purchasability of one ticket type.
type TicketTypeAvailability struct {
	TicketTypeID      string   `json:"ticket_type_id"`
	Name              string   `json:"name"`
	AvailableQuantity int      `json:"available_quantity"`
	Purchasable       bool     `json:"purchasable"`
	Reason            string   `json:"reason,omitempty"`
	Message           string   `json:"message,omitempty"`
	LimitingSessions  []string `json:"limiting_sessions,omitempty"`
}

// Snapshot is the full availability picture for one event at one instant.
type Snapshot struct {
	EventID        string                   `json:"event_id"`
	EventAvailable int                      `json:"event_available"`
	HasCapacity    bool                     `json:"has_capacity"`
	Sessions       []SessionAvailability    `json:"sessions"`
	TicketTypes    []TicketTypeAvailability `json:"ticket_types"`
}

// Calculate derives per-session remaining capacity and per-ticket-type
// purchasability from the event aggregate and the current active
// attendance counts. It never mutates its inputs and never persists
// anything; availability is a read-time computation only.
//
// activeBySession maps session identifier -> active attendance count for
// that session; activeTotal is the event-wide active record count used
// for flat (no-session) events.
func Calculate(
	ev *models.Event,
	sessions []models.EventSession,
	ticketTypes []models.TicketType,
	activeBySession map[string]int,
	activeTotal int,
	now time.Time,
) Snapshot {
	snap := Snapshot{EventID: ev.ID}

	byIdentifier := make(map[string]SessionAvailability, len(sessions))
	for _, s := range sessions {
		avail := s.Capacity - activeBySession[s.Identifier]
		if avail < 0 {
			avail = 0
		}
		sa := SessionAvailability{
			SessionID:   s.ID,
			Identifier:  s.Identifier,
			Capacity:    s.Capacity,
			Registered:  activeBySession[s.Identifier],
			Available:   avail,
			HasCapacity: avail > 0,
		}
		byIdentifier[s.Identifier] = sa
		snap.Sessions = append(snap.Sessions, sa)
	}

	// Flat capacity applies when the event has no sessions; otherwise
	// overall capacity is the sum of session capacities.
	if len(sessions) == 0 {
		snap.EventAvailable = ev.Capacity - activeTotal
	} else {
		for _, sa := range snap.Sessions {
			snap.EventAvailable += sa.Available
		}
	}
	if snap.EventAvailable < 0 {
		snap.EventAvailable = 0
	}
	snap.HasCapacity = snap.EventAvailable > 0

	for i := range ticketTypes {
		snap.TicketTypes = append(snap.TicketTypes,
			calculateTicketType(&ticketTypes[i], byIdentifier, snap.EventAvailable, now))
	}

	return snap
}

func calculateTicketType(
	tt *models.TicketType,
	sessions map[string]SessionAvailability,
	eventAvailable int,
	now time.Time,
) TicketTypeAvailability {
	res := TicketTypeAvailability{
		TicketTypeID: tt.ID,
		Name:         tt.Name,
	}

	// Limiting availability across the included sessions; ticket types
	// with no sessions fall back to the event's own remaining capacity.
	included := tt.IncludedSessionIdentifiers()
	quantity := eventAvailable
	var limiting []string
	if len(included) > 0 {
		quantity = -1
		for _, id := range included {
			sa, ok := sessions[id]
			if !ok {
				continue
			}
			if quantity < 0 || sa.Available < quantity {
				quantity = sa.Available
			}
			if !sa.HasCapacity {
				limiting = append(limiting, id)
			}
		}
		if quantity < 0 {
			quantity = 0
		}
	}
	if tt.MaxQuantity > 0 && tt.MaxQuantity < quantity {
		quantity = tt.MaxQuantity
	}
	res.AvailableQuantity = quantity

	// Constraint reasons are reported in priority order:
	// inactive > sales window closed > limiting sessions > no capacity.
	switch {
	case !tt.IsActive:
		res.Reason = ReasonInactive
		res.Message = "This ticket type is no longer offered."
	case !tt.SalesOpen(now):
		res.Reason = ReasonSalesClosed
		res.Message = "Ticket sales for this type have closed."
	case quantity <= 0 && len(limiting) > 0:
		res.Reason = ReasonSessionsFull
		res.LimitingSessions = limiting
		res.Message = fmt.Sprintf("Session(s) %s are at full capacity.", strings.Join(limiting, ", "))
	case quantity <= 0:
		res.Reason = ReasonSoldOut
		res.Message = "No capacity remaining for this ticket type."
	default:
		res.Purchasable = true
	}

	return res
}
