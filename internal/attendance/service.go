package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ms-events/internal/availability"
	"ms-events/internal/attendance/qr"
	"ms-events/internal/clock"
	"ms-events/internal/eligibility"
	"ms-events/internal/kafka"
	"ms-events/internal/logger"
	"ms-events/internal/models"
)

type DBLayer interface {
	GetRecordByID(ctx context.Context, id string) (*models.AttendanceRecord, error)
	GetActiveRecord(ctx context.Context, eventID, userID string, kind models.AttendanceKind) (*models.AttendanceRecord, error)
	ListRecordsByEvent(ctx context.Context, eventID string) ([]models.AttendanceRecord, error)
	ListRecordsByUser(ctx context.Context, userID string) ([]models.AttendanceRecord, error)
	InsertIfCapacityAvailable(ctx context.Context, rec models.AttendanceRecord, ev *models.Event,
		sessions []models.EventSession, tt *models.TicketType) error
	CancelActive(ctx context.Context, rec models.AttendanceRecord) error
	MarkAttended(ctx context.Context, rec models.AttendanceRecord) error
	SetPaymentDetails(ctx context.Context, rec models.AttendanceRecord) error
}

// EventReader is the slice of the events db layer this service needs.
type EventReader interface {
	GetEventByID(ctx context.Context, id string) (*models.Event, error)
	GetSessionsByEvent(ctx context.Context, eventID string) ([]models.EventSession, error)
	GetTicketTypeByID(ctx context.Context, id string) (*models.TicketType, error)
}

// VettingProvider resolves the read-only membership snapshot.
type VettingProvider interface {
	Lookup(ctx context.Context, userID string) (*models.User, error)
}

// AvailabilityProvider computes the availability snapshot for an event.
type AvailabilityProvider interface {
	GetAvailability(ctx context.Context, eventID string) (*availability.Snapshot, error)
}

type KafkaPublisher interface {
	Publish(topic string, key string, value []byte) error
}

// PaymentProvider creates a payment intent for a ticket purchase and
// returns its provider-side identifier.
type PaymentProvider interface {
	CreatePaymentIntent(recordID string, amount float64) (string, error)
}

// AvailabilityBroadcaster pushes recalculated snapshots to live
// subscribers after attendance changes.
type AvailabilityBroadcaster interface {
	Broadcast(eventID string, snap availability.Snapshot)
}

type Service struct {
	DB           DBLayer
	Events       EventReader
	Vetting      VettingProvider
	Availability AvailabilityProvider
	Kafka        KafkaPublisher
	Payments     PaymentProvider
	Broadcaster  AvailabilityBroadcaster
	Passes       *qr.PassGenerator
	Clock        clock.Clock
	Logger       *logger.Logger
}

func NewService(
	db DBLayer,
	events EventReader,
	vetting VettingProvider,
	avail AvailabilityProvider,
	producer KafkaPublisher,
	payments PaymentProvider,
	broadcaster AvailabilityBroadcaster,
	passes *qr.PassGenerator,
	clk clock.Clock,
	log *logger.Logger,
) *Service {
	return &Service{
		DB:           db,
		Events:       events,
		Vetting:      vetting,
		Availability: avail,
		Kafka:        producer,
		Payments:     payments,
		Broadcaster:  broadcaster,
		Passes:       passes,
		Clock:        clk,
		Logger:       log,
	}
}

// Result pairs the eligibility decision with the created record. Denials
// are values: Err is only set for NotFound/validation/infrastructure
// failures.
type Result struct {
	Decision eligibility.Decision
	Record   *models.AttendanceRecord
}

// CreateRSVP registers a vetted member for a social event.
func (s *Service) CreateRSVP(ctx context.Context, eventID, userID string) (*Result, error) {
	return s.create(ctx, eventID, userID, models.AttendanceRSVP, "", 0)
}

// PurchaseTicket buys one ticket of the given type at a sliding-scale
// price.
func (s *Service) PurchaseTicket(ctx context.Context, eventID, userID, ticketTypeID string, price float64) (*Result, error) {
	return s.create(ctx, eventID, userID, models.AttendanceTicket, ticketTypeID, price)
}

func (s *Service) create(
	ctx context.Context,
	eventID, userID string,
	kind models.AttendanceKind,
	ticketTypeID string,
	price float64,
) (*Result, error) {
	ev, err := s.Events.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	user, err := s.Vetting.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}

	var tt *models.TicketType
	if kind == models.AttendanceTicket {
		if ticketTypeID == "" {
			return nil, fmt.Errorf("%w: ticket type is required", models.ErrValidation)
		}
		tt, err = s.Events.GetTicketTypeByID(ctx, ticketTypeID)
		if err != nil {
			return nil, err
		}
		if tt.EventID != eventID {
			return nil, fmt.Errorf("%w: ticket type %s does not belong to event %s",
				models.ErrValidation, ticketTypeID, eventID)
		}
		if price < 0 {
			return nil, fmt.Errorf("%w: negative price", models.ErrValidation)
		}
	}

	snap, err := s.Availability.GetAvailability(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute availability: %w", err)
	}

	avail := snap.EventAvailable
	if tt != nil {
		ta := findTicketType(snap, tt.ID)
		if ta == nil {
			return nil, models.ErrNotFound
		}
		// Inactive ticket types and closed sales windows are availability
		// constraints, reported with the calculator's reason codes.
		if !ta.Purchasable && ta.Reason != availability.ReasonSessionsFull && ta.Reason != availability.ReasonSoldOut {
			return &Result{Decision: eligibility.Deny(ta.Reason, ta.Message)}, nil
		}
		avail = ta.AvailableQuantity
	}

	hasActive := false
	if _, err := s.DB.GetActiveRecord(ctx, eventID, userID, kind); err == nil {
		hasActive = true
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	decision := eligibility.Check(eligibility.Request{
		User:            user,
		Event:           ev,
		Kind:            kind,
		HasActiveRecord: hasActive,
		Available:       avail,
	})
	if !decision.Allowed {
		return &Result{Decision: decision}, nil
	}

	rec := models.AttendanceRecord{
		ID:           uuid.NewString(),
		EventID:      eventID,
		UserID:       userID,
		Kind:         kind,
		Status:       models.AttendanceActive,
		TicketTypeID: ticketTypeID,
		PricePaid:    price,
		CreatedAt:    s.Clock.Now(),
	}

	sessions, err := s.Events.GetSessionsByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	// The gate is re-evaluated inside the insert transaction: the db
	// layer re-derives the duplicate and capacity checks against
	// transaction-local counts, so a losing concurrent writer surfaces
	// here as a denial rather than an overbooked insert.
	if err := s.DB.InsertIfCapacityAvailable(ctx, rec, ev, sessions, tt); err != nil {
		switch {
		case errors.Is(err, models.ErrDuplicateActive):
			noun := "ticket"
			if kind == models.AttendanceRSVP {
				noun = "RSVP"
			}
			return &Result{Decision: eligibility.Deny(eligibility.ReasonDuplicateActive,
				fmt.Sprintf("You already have an active %s for this event.", noun))}, nil
		case errors.Is(err, models.ErrCapacityExceeded):
			// Slot is genuinely gone; not retried.
			return &Result{Decision: eligibility.Deny(eligibility.ReasonFullCapacity,
				"Event is at full capacity.")}, nil
		default:
			return nil, fmt.Errorf("failed to record attendance: %w", err)
		}
	}

	s.Logger.Info("ATTENDANCE", fmt.Sprintf("Created %s %s for user %s on event %s",
		kind, rec.ID, userID, eventID))

	if tt != nil && s.Payments != nil {
		amount := clampPrice(price, tt.MinPrice, tt.MaxPrice)
		intentID, err := s.Payments.CreatePaymentIntent(rec.ID, amount)
		if err != nil {
			// Payment collection is completed out of band; the seat is held.
			s.Logger.Error("PAYMENT", fmt.Sprintf("Failed to create payment intent for %s: %v", rec.ID, err))
		} else {
			rec.PaymentIntentID = intentID
		}
	}

	if pass, err := s.Passes.GeneratePass(qr.PassPayload{
		RecordID: rec.ID,
		EventID:  rec.EventID,
		UserID:   rec.UserID,
		Kind:     rec.Kind,
		IssuedAt: rec.CreatedAt,
	}); err != nil {
		s.Logger.Error("ATTENDANCE", fmt.Sprintf("Failed to generate pass for %s: %v", rec.ID, err))
	} else {
		rec.QRPass = pass
	}

	if rec.PaymentIntentID != "" || rec.QRPass != nil {
		if err := s.DB.SetPaymentDetails(ctx, rec); err != nil {
			s.Logger.Error("ATTENDANCE", fmt.Sprintf("Failed to store pass/payment details for %s: %v", rec.ID, err))
		}
	}

	s.publish(kafka.TopicAttendanceCreated, rec)
	s.broadcastAvailability(ctx, eventID)

	return &Result{Decision: eligibility.Allow(), Record: &rec}, nil
}

// Cancel transitions an active record to cancelled. A reason is
// required; admins may cancel records they do not own.
func (s *Service) Cancel(ctx context.Context, recordID, requestedBy, reason string, isAdmin bool) error {
	if reason == "" {
		return fmt.Errorf("%w: cancellation reason is required", models.ErrValidation)
	}

	rec, err := s.DB.GetRecordByID(ctx, recordID)
	if err != nil {
		return err
	}
	if rec.UserID != requestedBy && !isAdmin {
		return models.ErrNotFound
	}
	if rec.Status != models.AttendanceActive {
		return models.ErrNoActiveParticipation
	}

	rec.Status = models.AttendanceCancelled
	rec.CancelledAt = s.Clock.Now()
	rec.CancelReason = reason
	if err := s.DB.CancelActive(ctx, *rec); err != nil {
		return err
	}

	s.Logger.Info("ATTENDANCE", fmt.Sprintf("Cancelled %s %s (%s)", rec.Kind, rec.ID, reason))
	s.publish(kafka.TopicAttendanceCancelled, *rec)
	s.broadcastAvailability(ctx, rec.EventID)
	return nil
}

// CheckIn verifies a scanned pass and marks the record attended.
func (s *Service) CheckIn(ctx context.Context, encodedPass string) (*models.AttendanceRecord, error) {
	payload, err := s.Passes.DecodePass(encodedPass)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable pass", models.ErrValidation)
	}

	rec, err := s.DB.GetRecordByID(ctx, payload.RecordID)
	if err != nil {
		return nil, err
	}
	if rec.EventID != payload.EventID || rec.UserID != payload.UserID {
		return nil, fmt.Errorf("%w: pass does not match record", models.ErrValidation)
	}
	if rec.Status != models.AttendanceActive {
		return nil, models.ErrNoActiveParticipation
	}

	rec.Status = models.AttendanceAttended
	rec.CheckedInAt = s.Clock.Now()
	if err := s.DB.MarkAttended(ctx, *rec); err != nil {
		return nil, err
	}

	s.Logger.Info("CHECKIN", fmt.Sprintf("Checked in %s for event %s", rec.UserID, rec.EventID))
	s.publish(kafka.TopicAttendanceCheckedIn, *rec)
	return rec, nil
}

func (s *Service) ListByEvent(ctx context.Context, eventID string) ([]models.AttendanceRecord, error) {
	return s.DB.ListRecordsByEvent(ctx, eventID)
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]models.AttendanceRecord, error) {
	return s.DB.ListRecordsByUser(ctx, userID)
}

// publish streams a notification event; failures are logged, never
// propagated to the caller.
func (s *Service) publish(topic string, rec models.AttendanceRecord) {
	if s.Kafka == nil {
		return
	}
	rec.QRPass = nil // passes stay out of the stream
	value, err := kafka.MarshalAttendanceEvent(rec)
	if err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("Failed to marshal attendance event: %v", err))
		return
	}
	if err := s.Kafka.Publish(topic, rec.ID, value); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish to %s: %v", topic, err))
	}
}

func (s *Service) broadcastAvailability(ctx context.Context, eventID string) {
	if s.Broadcaster == nil {
		return
	}
	snap, err := s.Availability.GetAvailability(ctx, eventID)
	if err != nil {
		s.Logger.Error("SSE", fmt.Sprintf("Failed to recompute availability for %s: %v", eventID, err))
		return
	}
	s.Broadcaster.Broadcast(eventID, *snap)
}

func findTicketType(snap *availability.Snapshot, id string) *availability.TicketTypeAvailability {
	for i := range snap.TicketTypes {
		if snap.TicketTypes[i].TicketTypeID == id {
			return &snap.TicketTypes[i]
		}
	}
	return nil
}

func clampPrice(price, min, max float64) float64 {
	if price < min {
		return min
	}
	if max > 0 && price > max {
		return max
	}
	return price
}
