package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"ms-events/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- EVENTS ----------------

// GetEventByID fetches one event by its ID.
func (d *DB) GetEventByID(ctx context.Context, id string) (*models.Event, error) {
	var ev models.Event
	err := d.Bun.NewSelect().
		Model(&ev).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListEvents returns events, optionally restricted to published ones.
func (d *DB) ListEvents(ctx context.Context, publishedOnly bool) ([]models.Event, error) {
	var events []models.Event
	q := d.Bun.NewSelect().
		Model(&events).
		Order("start_date ASC")
	if publishedOnly {
		q = q.Where("is_published = ?", true)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

func (d *DB) CreateEvent(ctx context.Context, ev models.Event) error {
	_, err := d.Bun.NewInsert().Model(&ev).Exec(ctx)
	return err
}

// UpdateEventVersioned applies a compare-and-swap update: the row is
// only written when its version column still matches expectedVersion.
// Returns ErrConcurrencyConflict when a concurrent writer got there first.
func (d *DB) UpdateEventVersioned(ctx context.Context, ev models.Event, expectedVersion int64) error {
	ev.Version = expectedVersion + 1
	res, err := d.Bun.NewUpdate().
		Model(&ev).
		Column("title", "description", "location", "event_type", "start_date", "end_date",
			"capacity", "is_published", "updated_at", "version").
		Where("id = ?", ev.ID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrConcurrencyConflict
	}
	return nil
}

// DeleteEventCascade removes the event with its sessions, ticket types
// and cancelled attendance records in one transaction. The caller has
// already verified that no active or attended records exist.
func (d *DB) DeleteEventCascade(ctx context.Context, eventID string) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*models.TicketTypeSession)(nil)).
			Where("ticket_type_id IN (SELECT id FROM ticket_types WHERE event_id = ?)", eventID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*models.TicketType)(nil)).
			Where("event_id = ?", eventID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*models.EventSession)(nil)).
			Where("event_id = ?", eventID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*models.AttendanceRecord)(nil)).
			Where("event_id = ?", eventID).
			Where("status = ?", models.AttendanceCancelled).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().
			Model((*models.Event)(nil)).
			Where("id = ?", eventID).
			Exec(ctx)
		return err
	})
}

// ---------------- SESSIONS ----------------

func (d *DB) GetSessionsByEvent(ctx context.Context, eventID string) ([]models.EventSession, error) {
	var sessions []models.EventSession
	err := d.Bun.NewSelect().
		Model(&sessions).
		Where("event_id = ?", eventID).
		Order("identifier").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (d *DB) CreateSession(ctx context.Context, s models.EventSession) error {
	_, err := d.Bun.NewInsert().Model(&s).Exec(ctx)
	return err
}

func (d *DB) DeleteSession(ctx context.Context, eventID, identifier string) error {
	res, err := d.Bun.NewDelete().
		Model((*models.EventSession)(nil)).
		Where("event_id = ?", eventID).
		Where("identifier = ?", identifier).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CountTicketTypesReferencingSession returns how many active ticket
// types of the event bundle the given session identifier.
func (d *DB) CountTicketTypesReferencingSession(ctx context.Context, eventID, identifier string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.TicketTypeSession)(nil)).
		Join("JOIN ticket_types tt ON tt.id = ticket_type_session.ticket_type_id").
		Where("tt.event_id = ?", eventID).
		Where("session_identifier = ?", identifier).
		Count(ctx)
}

// ---------------- TICKET TYPES ----------------

func (d *DB) GetTicketTypesByEvent(ctx context.Context, eventID string, activeOnly bool) ([]models.TicketType, error) {
	var ticketTypes []models.TicketType
	q := d.Bun.NewSelect().
		Model(&ticketTypes).
		Relation("Sessions").
		Where("event_id = ?", eventID).
		Order("name")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return ticketTypes, nil
}

func (d *DB) GetTicketTypeByID(ctx context.Context, id string) (*models.TicketType, error) {
	var tt models.TicketType
	err := d.Bun.NewSelect().
		Model(&tt).
		Relation("Sessions").
		Where("ticket_type.id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tt, nil
}

// CreateTicketType inserts the ticket type together with its session
// links in one transaction.
func (d *DB) CreateTicketType(ctx context.Context, tt models.TicketType) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&tt).Exec(ctx); err != nil {
			return err
		}
		for _, link := range tt.Sessions {
			link.TicketTypeID = tt.ID
			if _, err := tx.NewInsert().Model(link).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateTicketType rewrites the row and replaces its session links.
func (d *DB) UpdateTicketType(ctx context.Context, tt models.TicketType) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(&tt).
			Column("name", "description", "min_price", "max_price", "max_quantity",
				"sales_end_date", "is_active", "updated_at").
			Where("id = ?", tt.ID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return models.ErrNotFound
		}
		if _, err := tx.NewDelete().
			Model((*models.TicketTypeSession)(nil)).
			Where("ticket_type_id = ?", tt.ID).
			Exec(ctx); err != nil {
			return err
		}
		for _, link := range tt.Sessions {
			link.ID = 0
			link.TicketTypeID = tt.ID
			if _, err := tx.NewInsert().Model(link).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeactivateTicketType soft-deletes a ticket type so past purchases
// keep a valid reference.
func (d *DB) DeactivateTicketType(ctx context.Context, id string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("is_active = ?", false).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ---------------- ATTENDANCE COUNTS ----------------

// CountActiveByKind returns the number of active attendance records for
// the event, split by kind. Counts are always derived from record
// existence, never from a stored counter.
func (d *DB) CountActiveByKind(ctx context.Context, eventID string) (rsvps int, tickets int, err error) {
	rsvps, err = d.Bun.NewSelect().
		Model((*models.AttendanceRecord)(nil)).
		Where("event_id = ?", eventID).
		Where("kind = ?", models.AttendanceRSVP).
		Where("status = ?", models.AttendanceActive).
		Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	tickets, err = d.Bun.NewSelect().
		Model((*models.AttendanceRecord)(nil)).
		Where("event_id = ?", eventID).
		Where("kind = ?", models.AttendanceTicket).
		Where("status = ?", models.AttendanceActive).
		Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	return rsvps, tickets, nil
}

// CountConfirmedAttendance returns active plus attended records, the
// committed attendance an event's capacity may not shrink below.
func (d *DB) CountConfirmedAttendance(ctx context.Context, eventID string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.AttendanceRecord)(nil)).
		Where("event_id = ?", eventID).
		Where("status IN (?)", bun.In([]models.AttendanceStatus{models.AttendanceActive, models.AttendanceAttended})).
		Count(ctx)
}

// ActiveCountsBySession returns active record counts grouped by the
// session identifiers each record's ticket type includes. RSVPs and
// session-less tickets count against the event total only.
func (d *DB) ActiveCountsBySession(ctx context.Context, eventID string) (map[string]int, int, error) {
	type row struct {
		SessionIdentifier string `bun:"session_identifier"`
		Count             int    `bun:"count"`
	}
	var rows []row
	err := d.Bun.NewSelect().
		ColumnExpr("tts.session_identifier AS session_identifier").
		ColumnExpr("count(*) AS count").
		Table("attendance_records").
		Join("JOIN ticket_type_sessions tts ON tts.ticket_type_id = attendance_records.ticket_type_id").
		Where("attendance_records.event_id = ?", eventID).
		Where("attendance_records.status = ?", models.AttendanceActive).
		GroupExpr("tts.session_identifier").
		Scan(ctx, &rows)
	if err != nil {
		return nil, 0, err
	}
	bySession := make(map[string]int, len(rows))
	for _, r := range rows {
		bySession[r.SessionIdentifier] = r.Count
	}

	total, err := d.Bun.NewSelect().
		Model((*models.AttendanceRecord)(nil)).
		Where("event_id = ?", eventID).
		Where("status = ?", models.AttendanceActive).
		Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return bySession, total, nil
}
