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

// GetRecordByID fetches one attendance record.
func (d *DB) GetRecordByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	var rec models.AttendanceRecord
	err := d.Bun.NewSelect().
		Model(&rec).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetActiveRecord returns the user's active record of the given kind for
// the event, or ErrNotFound. Cancelled records never block re-creation.
func (d *DB) GetActiveRecord(ctx context.Context, eventID, userID string, kind models.AttendanceKind) (*models.AttendanceRecord, error) {
	var rec models.AttendanceRecord
	err := d.Bun.NewSelect().
		Model(&rec).
		Where("event_id = ?", eventID).
		Where("user_id = ?", userID).
		Where("kind = ?", kind).
		Where("status = ?", models.AttendanceActive).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecordsByEvent returns all records for an event, newest first.
func (d *DB) ListRecordsByEvent(ctx context.Context, eventID string) ([]models.AttendanceRecord, error) {
	var recs []models.AttendanceRecord
	err := d.Bun.NewSelect().
		Model(&recs).
		Where("event_id = ?", eventID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// ListRecordsByUser returns a user's records across events.
func (d *DB) ListRecordsByUser(ctx context.Context, userID string) ([]models.AttendanceRecord, error) {
	var recs []models.AttendanceRecord
	err := d.Bun.NewSelect().
		Model(&recs).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// InsertIfCapacityAvailable performs the conflict-detecting insert: the
// duplicate-active check and the capacity re-check run inside the same
// transaction as the insert, so at most `capacity` active records can
// ever exist. A losing concurrent writer gets ErrCapacityExceeded (or
// ErrDuplicateActive) instead of silently overbooking; the partial
// unique index on (event_id, user_id, kind) WHERE status='active' backs
// the duplicate check at the storage level.
//
// Session capacities are taken from the caller's snapshot; the contended
// quantity is the active record count, which is re-derived here from
// record existence inside the transaction.
func (d *DB) InsertIfCapacityAvailable(
	ctx context.Context,
	rec models.AttendanceRecord,
	ev *models.Event,
	sessions []models.EventSession,
	tt *models.TicketType,
) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable},
		func(ctx context.Context, tx bun.Tx) error {
			dup, err := tx.NewSelect().
				Model((*models.AttendanceRecord)(nil)).
				Where("event_id = ?", rec.EventID).
				Where("user_id = ?", rec.UserID).
				Where("kind = ?", rec.Kind).
				Where("status = ?", models.AttendanceActive).
				Count(ctx)
			if err != nil {
				return err
			}
			if dup > 0 {
				return models.ErrDuplicateActive
			}

			if tt != nil && len(tt.Sessions) > 0 {
				// Every included session must have a free seat.
				capacities := make(map[string]int, len(sessions))
				for _, s := range sessions {
					capacities[s.Identifier] = s.Capacity
				}
				for _, link := range tt.Sessions {
					active, err := tx.NewSelect().
						Model((*models.AttendanceRecord)(nil)).
						Join("JOIN ticket_type_sessions tts ON tts.ticket_type_id = attendance_record.ticket_type_id").
						Where("attendance_record.event_id = ?", rec.EventID).
						Where("attendance_record.status = ?", models.AttendanceActive).
						Where("tts.session_identifier = ?", link.SessionIdentifier).
						Count(ctx)
					if err != nil {
						return err
					}
					if active >= capacities[link.SessionIdentifier] {
						return models.ErrCapacityExceeded
					}
				}
			} else {
				active, err := tx.NewSelect().
					Model((*models.AttendanceRecord)(nil)).
					Where("event_id = ?", rec.EventID).
					Where("status = ?", models.AttendanceActive).
					Count(ctx)
				if err != nil {
					return err
				}
				if active >= ev.Capacity {
					return models.ErrCapacityExceeded
				}
			}

			if tt != nil && tt.MaxQuantity > 0 {
				sold, err := tx.NewSelect().
					Model((*models.AttendanceRecord)(nil)).
					Where("ticket_type_id = ?", tt.ID).
					Where("status = ?", models.AttendanceActive).
					Count(ctx)
				if err != nil {
					return err
				}
				if sold >= tt.MaxQuantity {
					return models.ErrCapacityExceeded
				}
			}

			_, err = tx.NewInsert().Model(&rec).Exec(ctx)
			return err
		})
}

// CancelActive transitions an active record to cancelled. The status
// guard lives in the WHERE clause so a concurrent cancel or check-in
// makes this a no-op, reported as ErrNoActiveParticipation.
func (d *DB) CancelActive(ctx context.Context, rec models.AttendanceRecord) error {
	res, err := d.Bun.NewUpdate().
		Model(&rec).
		Column("status", "cancelled_at", "cancel_reason").
		Where("id = ?", rec.ID).
		Where("status = ?", models.AttendanceActive).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return models.ErrNoActiveParticipation
	}
	return nil
}

// MarkAttended transitions an active record to attended at check-in.
func (d *DB) MarkAttended(ctx context.Context, rec models.AttendanceRecord) error {
	res, err := d.Bun.NewUpdate().
		Model(&rec).
		Column("status", "checked_in_at").
		Where("id = ?", rec.ID).
		Where("status = ?", models.AttendanceActive).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return models.ErrNoActiveParticipation
	}
	return nil
}

// SetPaymentDetails stores the payment intent reference and QR pass on
// an existing record.
func (d *DB) SetPaymentDetails(ctx context.Context, rec models.AttendanceRecord) error {
	_, err := d.Bun.NewUpdate().
		Model(&rec).
		Column("payment_intent_id", "qr_pass").
		Where("id = ?", rec.ID).
		Exec(ctx)
	return err
}

// UpsertUser writes a membership snapshot, replacing any previous row
// for the same user.
func (d *DB) UpsertUser(ctx context.Context, user models.User) error {
	_, err := d.Bun.NewInsert().
		Model(&user).
		On("CONFLICT (id) DO UPDATE").
		Set("email = EXCLUDED.email").
		Set("scene_name = EXCLUDED.scene_name").
		Set("is_vetted = EXCLUDED.is_vetted").
		Set("role = EXCLUDED.role").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// GetUserByID loads the membership snapshot for eligibility decisions.
func (d *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
