package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-events/internal/availability"
	"ms-events/internal/clock"
	"ms-events/internal/logger"
	"ms-events/internal/models"
)

type DBLayer interface {
	GetEventByID(ctx context.Context, id string) (*models.Event, error)
	ListEvents(ctx context.Context, publishedOnly bool) ([]models.Event, error)
	CreateEvent(ctx context.Context, ev models.Event) error
	UpdateEventVersioned(ctx context.Context, ev models.Event, expectedVersion int64) error
	DeleteEventCascade(ctx context.Context, eventID string) error

	GetSessionsByEvent(ctx context.Context, eventID string) ([]models.EventSession, error)
	CreateSession(ctx context.Context, s models.EventSession) error
	DeleteSession(ctx context.Context, eventID, identifier string) error
	CountTicketTypesReferencingSession(ctx context.Context, eventID, identifier string) (int, error)

	GetTicketTypesByEvent(ctx context.Context, eventID string, activeOnly bool) ([]models.TicketType, error)
	GetTicketTypeByID(ctx context.Context, id string) (*models.TicketType, error)
	CreateTicketType(ctx context.Context, tt models.TicketType) error
	UpdateTicketType(ctx context.Context, tt models.TicketType) error
	DeactivateTicketType(ctx context.Context, id string) error

	CountActiveByKind(ctx context.Context, eventID string) (rsvps int, tickets int, err error)
	CountConfirmedAttendance(ctx context.Context, eventID string) (int, error)
	ActiveCountsBySession(ctx context.Context, eventID string) (map[string]int, int, error)
}

// updateRetryAttempts bounds the optimistic-concurrency retry loop;
// updateRetryBackoff is the first delay, doubled on each attempt.
const updateRetryAttempts = 3

var updateRetryBackoff = 50 * time.Millisecond

type Service struct {
	DB     DBLayer
	Clock  clock.Clock
	Logger *logger.Logger
}

func NewService(db DBLayer, clk clock.Clock, log *logger.Logger) *Service {
	return &Service{DB: db, Clock: clk, Logger: log}
}

// UpdateEventRequest is a partial update: nil fields retain their prior
// values.
type UpdateEventRequest struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Location    *string    `json:"location,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Capacity    *int       `json:"capacity,omitempty"`
	IsPublished *bool      `json:"is_published,omitempty"`
}

// DeleteBlockedError reports why an event delete was refused, with the
// blocking RSVP and ticket counts broken out separately.
type DeleteBlockedError struct {
	BlockingRSVPs   int `json:"blocking_rsvps"`
	BlockingTickets int `json:"blocking_tickets"`
}

func (e *DeleteBlockedError) Error() string {
	return fmt.Sprintf("event has %d active RSVP(s) and %d active ticket(s); cancel them first",
		e.BlockingRSVPs, e.BlockingTickets)
}

// ---------------- EVENTS ----------------

func (s *Service) CreateEvent(ctx context.Context, ev models.Event) (*models.Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CreatedAt = s.Clock.Now()
	ev.Version = 1
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if err := s.DB.CreateEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	s.Logger.Info("EVENT", fmt.Sprintf("Created event %s (%s)", ev.ID, ev.Title))
	return &ev, nil
}

func (s *Service) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	return s.DB.GetEventByID(ctx, id)
}

func (s *Service) ListEvents(ctx context.Context, publishedOnly bool) ([]models.Event, error) {
	return s.DB.ListEvents(ctx, publishedOnly)
}

// UpdateEvent applies a guarded partial update with a bounded
// optimistic-concurrency retry loop. Past events cannot be edited and
// capacity cannot shrink below committed attendance.
func (s *Service) UpdateEvent(ctx context.Context, id string, req UpdateEventRequest) (*models.Event, error) {
	backoff := updateRetryBackoff
	var lastErr error

	for attempt := 1; attempt <= updateRetryAttempts; attempt++ {
		ev, err := s.DB.GetEventByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if ev.StartDate.Before(s.Clock.Now()) {
			return nil, models.ErrEventStarted
		}

		expected := ev.Version
		applyEventUpdate(ev, req)
		if err := ev.Validate(); err != nil {
			return nil, err
		}

		if req.Capacity != nil {
			confirmed, err := s.DB.CountConfirmedAttendance(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to count confirmed attendance: %w", err)
			}
			if *req.Capacity < confirmed {
				return nil, fmt.Errorf("%w: capacity %d below %d confirmed attendees",
					models.ErrValidation, *req.Capacity, confirmed)
			}
		}

		ev.UpdatedAt = s.Clock.Now()
		err = s.DB.UpdateEventVersioned(ctx, *ev, expected)
		if err == nil {
			ev.Version = expected + 1
			s.Logger.Info("EVENT", fmt.Sprintf("Updated event %s (version %d)", id, ev.Version))
			return ev, nil
		}
		if !errors.Is(err, models.ErrConcurrencyConflict) {
			return nil, fmt.Errorf("failed to update event %s: %w", id, err)
		}

		lastErr = err
		s.Logger.Warn("EVENT", fmt.Sprintf("Version conflict updating event %s (attempt %d/%d)",
			id, attempt, updateRetryAttempts))
		if attempt < updateRetryAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	return nil, fmt.Errorf("update of event %s exhausted %d attempts: %w",
		id, updateRetryAttempts, lastErr)
}

// DeleteEvent removes an event and its children. It is refused for past
// events and for events that still have active attendance; callers must
// cancel those records first.
func (s *Service) DeleteEvent(ctx context.Context, id string) error {
	ev, err := s.DB.GetEventByID(ctx, id)
	if err != nil {
		return err
	}
	if ev.StartDate.Before(s.Clock.Now()) {
		return models.ErrEventStarted
	}

	rsvps, tickets, err := s.DB.CountActiveByKind(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count active attendance: %w", err)
	}
	if rsvps > 0 || tickets > 0 {
		return &DeleteBlockedError{BlockingRSVPs: rsvps, BlockingTickets: tickets}
	}

	if err := s.DB.DeleteEventCascade(ctx, id); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	s.Logger.Info("EVENT", fmt.Sprintf("Deleted event %s", id))
	return nil
}

func applyEventUpdate(ev *models.Event, req UpdateEventRequest) {
	if req.Title != nil {
		ev.Title = *req.Title
	}
	if req.Description != nil {
		ev.Description = *req.Description
	}
	if req.Location != nil {
		ev.Location = *req.Location
	}
	if req.StartDate != nil {
		ev.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		ev.EndDate = *req.EndDate
	}
	if req.Capacity != nil {
		ev.Capacity = *req.Capacity
	}
	if req.IsPublished != nil {
		ev.IsPublished = *req.IsPublished
	}
}

// ---------------- SESSIONS ----------------

// AddSession rejects duplicate identifiers and overlapping time ranges
// within the same event.
func (s *Service) AddSession(ctx context.Context, session models.EventSession) (*models.EventSession, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.CreatedAt = s.Clock.Now()
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.DB.GetEventByID(ctx, session.EventID); err != nil {
		return nil, err
	}

	existing, err := s.DB.GetSessionsByEvent(ctx, session.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	for i := range existing {
		if existing[i].Identifier == session.Identifier {
			return nil, fmt.Errorf("%w: session %q already exists", models.ErrValidation, session.Identifier)
		}
		if existing[i].OverlapsWith(&session) {
			return nil, fmt.Errorf("%w: session %q overlaps with %q",
				models.ErrValidation, session.Identifier, existing[i].Identifier)
		}
	}

	if err := s.DB.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &session, nil
}

// RemoveSession refuses to drop a session that a ticket type still
// bundles.
func (s *Service) RemoveSession(ctx context.Context, eventID, identifier string) error {
	refs, err := s.DB.CountTicketTypesReferencingSession(ctx, eventID, identifier)
	if err != nil {
		return fmt.Errorf("failed to check ticket type references: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("%w: session %q is included in %d ticket type(s)",
			models.ErrValidation, identifier, refs)
	}
	return s.DB.DeleteSession(ctx, eventID, identifier)
}

// ---------------- TICKET TYPES ----------------

func (s *Service) CreateTicketType(ctx context.Context, tt models.TicketType) (*models.TicketType, error) {
	if tt.ID == "" {
		tt.ID = uuid.NewString()
	}
	tt.CreatedAt = s.Clock.Now()
	tt.IsActive = true
	if err := tt.Validate(); err != nil {
		return nil, err
	}

	sessions, err := s.DB.GetSessionsByEvent(ctx, tt.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	if err := tt.ValidateSessions(sessions); err != nil {
		return nil, fmt.Errorf("%w: ticket type references a session not owned by event %s",
			models.ErrValidation, tt.EventID)
	}

	if err := s.DB.CreateTicketType(ctx, tt); err != nil {
		return nil, fmt.Errorf("failed to create ticket type: %w", err)
	}
	return &tt, nil
}

func (s *Service) UpdateTicketType(ctx context.Context, tt models.TicketType) error {
	if err := tt.Validate(); err != nil {
		return err
	}
	sessions, err := s.DB.GetSessionsByEvent(ctx, tt.EventID)
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}
	if err := tt.ValidateSessions(sessions); err != nil {
		return fmt.Errorf("%w: ticket type references a session not owned by event %s",
			models.ErrValidation, tt.EventID)
	}
	tt.UpdatedAt = s.Clock.Now()
	return s.DB.UpdateTicketType(ctx, tt)
}

// RemoveTicketType soft-deletes: a type with confirmed purchases is only
// deactivated so past tickets keep a valid reference.
func (s *Service) RemoveTicketType(ctx context.Context, id string) error {
	if _, err := s.DB.GetTicketTypeByID(ctx, id); err != nil {
		return err
	}
	return s.DB.DeactivateTicketType(ctx, id)
}

// ---------------- AVAILABILITY ----------------

// GetAvailability computes the availability snapshot for an event from a
// consistent read of its sessions, ticket types and active attendance.
func (s *Service) GetAvailability(ctx context.Context, eventID string) (*availability.Snapshot, error) {
	ev, err := s.DB.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.DB.GetSessionsByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	ticketTypes, err := s.DB.GetTicketTypesByEvent(ctx, eventID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket types: %w", err)
	}
	bySession, total, err := s.DB.ActiveCountsBySession(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to count attendance: %w", err)
	}

	snap := availability.Calculate(ev, sessions, ticketTypes, bySession, total, s.Clock.Now())
	return &snap, nil
}
