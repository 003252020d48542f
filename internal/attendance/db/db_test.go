package db_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-events/internal/attendance/db"
	"ms-events/internal/models"
)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	tables := []interface{}{
		(*models.User)(nil),
		(*models.Event)(nil),
		(*models.EventSession)(nil),
		(*models.TicketType)(nil),
		(*models.TicketTypeSession)(nil),
		(*models.AttendanceRecord)(nil),
	}
	for _, m := range tables {
		_, err = bunDB.NewCreateTable().Model(m).Exec(context.Background())
		if err != nil {
			t.Fatalf("Failed to create table for %T: %v", m, err)
		}
	}

	// The production schema enforces one active record per
	// (event, user, kind) with a partial unique index.
	_, err = bunDB.ExecContext(context.Background(), `
		CREATE UNIQUE INDEX idx_attendance_one_active
		ON attendance_records (event_id, user_id, kind)
		WHERE status = 'active'
	`)
	if err != nil {
		t.Fatalf("Failed to create partial unique index: %v", err)
	}

	return &db.DB{Bun: bunDB}, bunDB
}

func socialEvent(capacity int) *models.Event {
	return &models.Event{
		ID:        "event001",
		Title:     "Monthly Social",
		EventType: models.EventTypeSocial,
		StartDate: time.Now().AddDate(0, 0, 14),
		EndDate:   time.Now().AddDate(0, 0, 14).Add(4 * time.Hour),
		Capacity:  capacity,
		Version:   1,
		CreatedAt: time.Now(),
	}
}

func activeRecord(eventID, userID string, kind models.AttendanceKind) models.AttendanceRecord {
	return models.AttendanceRecord{
		ID:        uuid.New().String(),
		EventID:   eventID,
		UserID:    userID,
		Kind:      kind,
		Status:    models.AttendanceActive,
		CreatedAt: time.Now(),
	}
}

func TestGetActiveRecord(t *testing.T) {
	attendanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	rec := activeRecord("event001", "user001", models.AttendanceRSVP)
	_, err := bunDB.NewInsert().Model(&rec).Exec(context.Background())
	assert.NoError(t, err)

	found, err := attendanceDB.GetActiveRecord(context.Background(), "event001", "user001", models.AttendanceRSVP)
	assert.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)

	// Wrong kind misses.
	_, err = attendanceDB.GetActiveRecord(context.Background(), "event001", "user001", models.AttendanceTicket)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Cancelled records never count as active.
	cancelled := activeRecord("event001", "user002", models.AttendanceRSVP)
	cancelled.Status = models.AttendanceCancelled
	_, err = bunDB.NewInsert().Model(&cancelled).Exec(context.Background())
	assert.NoError(t, err)

	_, err = attendanceDB.GetActiveRecord(context.Background(), "event001", "user002", models.AttendanceRSVP)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestInsertIfCapacityAvailable_FlatCapacityCeiling(t *testing.T) {
	attendanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	ev := socialEvent(2)

	err := attendanceDB.InsertIfCapacityAvailable(context.Background(),
		activeRecord(ev.ID, "user001", models.AttendanceRSVP), ev, nil, nil)
	assert.NoError(t, err)

	err = attendanceDB.InsertIfCapacityAvailable(context.Background(),
		activeRecord(ev.ID, "user002", models.AttendanceRSVP), ev, nil, nil)
	assert.NoError(t, err)

	// Third writer finds the event full inside the transaction.
	err = attendanceDB.InsertIfCapacityAvailable(context.Background(),
		activeRecord(ev.ID, "user003", models.AttendanceRSVP), ev, nil, nil)
	assert.ErrorIs(t, err, models.ErrCapacityExceeded)

	count, err := bunDB.NewSelect().
		Model((*models.AttendanceRecord)(nil)).
		Where("event_id = ?", ev.ID).
		Count(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestInsertIfCapacityAvailable_DuplicateActive(t *testing.T) {
	attendanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	ev := socialEvent(10)

	err := attendanceDB.InsertIfCapacityAvailable(context.Background(),
		activeRecord(ev.ID, "user001", models.AttendanceRSVP), ev, nil, nil)
	assert.NoError(t, err)

	err = attendanceDB.InsertIfCapacityAvailable(context.Background(),
		activeRecord(ev.ID, "user001", models.AttendanceRSVP), ev, nil, nil)
	assert.ErrorIs(t, err, models.ErrDuplicateActive)
}

func TestInsertIfCapacityAvailable_ReRegisterAfterCancel(t *testing.T) {
	attendanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	ev := socialEvent(10)
	first := activeRecord(ev.ID, "user001", models.AttendanceRSVP)

	err := attendanceDB.InsertIfCapacityAvailable(context.Background(), first, ev, nil, nil)
	assert.NoError(t, err)

	first.Status = models.AttendanceCancelled
	first.CancelledAt = time.Now()
	first.CancelReason = "schedule conflict"
	err = attendanceDB.CancelActive(context.Background(), first)
	assert.NoError(t, err)

	// A cancelled record frees the slot for a fresh registration.
	err = attendanceDB.InsertIfCapacityAvailable(context.Background(),
		activeRecord(ev.ID, "user001", models.AttendanceRSVP), ev, nil, nil)
	assert.NoError(t, err)
}

func TestInsertIfCapacityAvailable_PerSessionCapacity(t *testing.T) {
	attendanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	ctx := context.Background()
	ev := &models.Event{
		ID:        "event002",
		Title:     "Intro Rope Weekend",
		EventType: models.EventTypeWorkshop,
		StartDate: time.Now().AddDate(0, 1, 0),
		EndDate:   time.Now().AddDate(0, 1, 1),
		Capacity:  24,
		Version:   1,
		CreatedAt: time.Now(),
	}
	sessions := []models.EventSession{
		{ID: "sess001", EventID: ev.ID, Identifier: "S1", Capacity: 10, CreatedAt: time.Now()},
		{ID: "sess002", EventID: ev.ID, Identifier: "S2", Capacity: 1, CreatedAt: time.Now()},
	}
	weekend := &models.TicketType{
		ID: "tt001", EventID: ev.ID, Name: "Full Weekend", IsActive: true, CreatedAt: time.Now(),
		Sessions: []*models.TicketTypeSession{
			{TicketTypeID: "tt001", SessionIdentifier: "S1"},
			{TicketTypeID: "tt001", SessionIdentifier: "S2"},
		},
	}
	saturday := &models.TicketType{
		ID: "tt002", EventID: ev.ID, Name: "Saturday Only", IsActive: true, CreatedAt: time.Now(),
		Sessions: []*models.TicketTypeSession{
			{TicketTypeID: "tt002", SessionIdentifier: "S1"},
		},
	}
	for _, link := range append(weekend.Sessions, saturday.Sessions...) {
		_, err := bunDB.NewInsert().Model(link).Exec(ctx)
		assert.NoError(t, err)
	}

	rec := activeRecord(ev.ID, "user001", models.AttendanceTicket)
	rec.TicketTypeID = weekend.ID
	err := attendanceDB.InsertIfCapacityAvailable(ctx, rec, ev, sessions, weekend)
	assert.NoError(t, err)

	// S2 is now full, so the weekend bundle rejects the next buyer.
	rec2 := activeRecord(ev.ID, "user002", models.AttendanceTicket)
	rec2.TicketTypeID = weekend.ID
	err = attendanceDB.InsertIfCapacityAvailable(ctx, rec2, ev, sessions, weekend)
	assert.ErrorIs(t, err, models.ErrCapacityExceeded)

	// Saturday-only tickets only touch S1 and still go through.
	rec3 := activeRecord(ev.ID, "user002", models.AttendanceTicket)
	rec3.TicketTypeID = saturday.ID
	err = attendanceDB.InsertIfCapacityAvailable(ctx, rec3, ev, sessions, saturday)
	assert.NoError(t, err)
}

func TestInsertIfCapacityAvailable_MaxQuantityCap(t *testing.T) {
	attendanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	ctx := context.Background()
	ev := socialEvent(100)
	ev.EventType = models.EventTypeClass
	limited := &models.TicketType{
		ID: "tt003", EventID: ev.ID, Name: "Early Bird",
		MaxQuantity: 1, IsActive: true, CreatedAt: time.Now(),
	}

	rec := activeRecord(ev.ID, "user001", models.AttendanceTicket)
	rec.TicketTypeID = limited.ID
	err := attendanceDB.InsertIfCapacityAvailable(ctx, rec, ev, nil, limited)
	assert.NoError(t, err)

	rec2 := activeRecord(ev.ID, "user002", models.AttendanceTicket)
	rec2.TicketTypeID = limited.ID
	err = attendanceDB.InsertIfCapacityAvailable(ctx, rec2, ev, nil, limited)
	assert.ErrorIs(t, err, models.ErrCapacityExceeded)
}

func TestCancelActive_StatusGuard(t *testing.T) {
	attendanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	rec := activeRecord("event001", "user001", models.AttendanceRSVP)
	_, err := bunDB.NewInsert().Model(&rec).Exec(context.Background())
	assert.NoError(t, err)

	rec.Status = models.AttendanceCancelled
	rec.CancelledAt = time.Now()
	rec.CancelReason = "cannot make it"
	err = attendanceDB.CancelActive(context.Background(), rec)
	assert.NoError(t, err)

	stored, err := attendanceDB.GetRecordByID(context.Background(), rec.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.AttendanceCancelled, stored.Status)
	assert.Equal(t, "cannot make it", stored.CancelReason)

	// Cancelled is terminal; a second cancel is a no-op error.
	err = attendanceDB.CancelActive(context.Background(), rec)
	assert.ErrorIs(t, err, models.ErrNoActiveParticipation)
}

func TestMarkAttended_StatusGuard(t *testing.T) {
	attendanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	rec := activeRecord("event001", "user001", models.AttendanceTicket)
	_, err := bunDB.NewInsert().Model(&rec).Exec(context.Background())
	assert.NoError(t, err)

	rec.Status = models.AttendanceAttended
	rec.CheckedInAt = time.Now()
	err = attendanceDB.MarkAttended(context.Background(), rec)
	assert.NoError(t, err)

	stored, err := attendanceDB.GetRecordByID(context.Background(), rec.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.AttendanceAttended, stored.Status)

	// Attended is terminal: no second check-in, no cancel.
	err = attendanceDB.MarkAttended(context.Background(), rec)
	assert.ErrorIs(t, err, models.ErrNoActiveParticipation)

	rec.Status = models.AttendanceCancelled
	err = attendanceDB.CancelActive(context.Background(), rec)
	assert.ErrorIs(t, err, models.ErrNoActiveParticipation)
}

func TestSetPaymentDetails(t *testing.T) {
	attendanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	rec := activeRecord("event002", "user001", models.AttendanceTicket)
	_, err := bunDB.NewInsert().Model(&rec).Exec(context.Background())
	assert.NoError(t, err)

	rec.PaymentIntentID = "pi_123"
	rec.QRPass = []byte{0x89, 0x50, 0x4e, 0x47}
	err = attendanceDB.SetPaymentDetails(context.Background(), rec)
	assert.NoError(t, err)

	stored, err := attendanceDB.GetRecordByID(context.Background(), rec.ID)
	assert.NoError(t, err)
	assert.Equal(t, "pi_123", stored.PaymentIntentID)
	assert.Equal(t, rec.QRPass, stored.QRPass)
}

func TestUpsertUser(t *testing.T) {
	attendanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	user := models.User{
		ID: "user001", Email: "river@example.com", SceneName: "River",
		IsVetted: false, Role: "member", CreatedAt: time.Now(),
	}
	err := attendanceDB.UpsertUser(context.Background(), user)
	assert.NoError(t, err)

	// A later membership update flips the vetting flag in place.
	user.IsVetted = true
	user.UpdatedAt = time.Now()
	err = attendanceDB.UpsertUser(context.Background(), user)
	assert.NoError(t, err)

	stored, err := attendanceDB.GetUserByID(context.Background(), "user001")
	assert.NoError(t, err)
	assert.True(t, stored.IsVetted)

	count, err := bunDB.NewSelect().Model((*models.User)(nil)).Count(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListRecordsByUser(t *testing.T) {
	attendanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	first := activeRecord("event001", "user001", models.AttendanceRSVP)
	first.CreatedAt = time.Now().Add(-time.Hour)
	second := activeRecord("event002", "user001", models.AttendanceTicket)
	other := activeRecord("event001", "user002", models.AttendanceRSVP)

	for _, rec := range []models.AttendanceRecord{first, second, other} {
		r := rec
		_, err := bunDB.NewInsert().Model(&r).Exec(context.Background())
		assert.NoError(t, err)
	}

	recs, err := attendanceDB.ListRecordsByUser(context.Background(), "user001")
	assert.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, second.ID, recs[0].ID)
	assert.Equal(t, first.ID, recs[1].ID)
}
