package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"ms-events/internal/availability"
	"ms-events/internal/clock"
	"ms-events/internal/events"
	"ms-events/internal/logger"
	"ms-events/internal/models"
)

// Mock implementations
type MockDBLayer struct {
	mock.Mock
}

func (m *MockDBLayer) GetEventByID(ctx context.Context, id string) (*models.Event, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Event), args.Error(1)
}

func (m *MockDBLayer) ListEvents(ctx context.Context, publishedOnly bool) ([]models.Event, error) {
	args := m.Called(ctx, publishedOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Event), args.Error(1)
}

func (m *MockDBLayer) CreateEvent(ctx context.Context, ev models.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockDBLayer) UpdateEventVersioned(ctx context.Context, ev models.Event, expectedVersion int64) error {
	args := m.Called(ctx, ev, expectedVersion)
	return args.Error(0)
}

func (m *MockDBLayer) DeleteEventCascade(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

func (m *MockDBLayer) GetSessionsByEvent(ctx context.Context, eventID string) ([]models.EventSession, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.EventSession), args.Error(1)
}

func (m *MockDBLayer) CreateSession(ctx context.Context, s models.EventSession) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockDBLayer) DeleteSession(ctx context.Context, eventID, identifier string) error {
	args := m.Called(ctx, eventID, identifier)
	return args.Error(0)
}

func (m *MockDBLayer) CountTicketTypesReferencingSession(ctx context.Context, eventID, identifier string) (int, error) {
	args := m.Called(ctx, eventID, identifier)
	return args.Int(0), args.Error(1)
}

func (m *MockDBLayer) GetTicketTypesByEvent(ctx context.Context, eventID string, activeOnly bool) ([]models.TicketType, error) {
	args := m.Called(ctx, eventID, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TicketType), args.Error(1)
}

func (m *MockDBLayer) GetTicketTypeByID(ctx context.Context, id string) (*models.TicketType, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TicketType), args.Error(1)
}

func (m *MockDBLayer) CreateTicketType(ctx context.Context, tt models.TicketType) error {
	args := m.Called(ctx, tt)
	return args.Error(0)
}

func (m *MockDBLayer) UpdateTicketType(ctx context.Context, tt models.TicketType) error {
	args := m.Called(ctx, tt)
	return args.Error(0)
}

func (m *MockDBLayer) DeactivateTicketType(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDBLayer) CountActiveByKind(ctx context.Context, eventID string) (int, int, error) {
	args := m.Called(ctx, eventID)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *MockDBLayer) CountConfirmedAttendance(ctx context.Context, eventID string) (int, error) {
	args := m.Called(ctx, eventID)
	return args.Int(0), args.Error(1)
}

func (m *MockDBLayer) ActiveCountsBySession(ctx context.Context, eventID string) (map[string]int, int, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).(map[string]int), args.Int(1), args.Error(2)
}

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(db *MockDBLayer) *events.Service {
	return events.NewService(db, clock.NewFixed(testNow), logger.NewLogger())
}

func futureEvent(version int64) *models.Event {
	return &models.Event{
		ID:        "event002",
		Title:     "Intro Rope Weekend",
		EventType: models.EventTypeWorkshop,
		StartDate: testNow.AddDate(0, 1, 0),
		EndDate:   testNow.AddDate(0, 1, 1),
		Capacity:  24,
		Version:   version,
	}
}

func TestCreateEvent(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	mockDB.On("CreateEvent", mock.Anything, mock.AnythingOfType("models.Event")).Return(nil)

	created, err := svc.CreateEvent(context.Background(), models.Event{
		Title:     "Monthly Social",
		EventType: models.EventTypeSocial,
		StartDate: testNow.AddDate(0, 0, 14),
		EndDate:   testNow.AddDate(0, 0, 14).Add(4 * time.Hour),
		Capacity:  60,
	})

	assert.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Version)
	mockDB.AssertExpectations(t)
}

func TestCreateEvent_InvalidRejected(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	// End before start.
	_, err := svc.CreateEvent(context.Background(), models.Event{
		Title:     "Backwards",
		EventType: models.EventTypeClass,
		StartDate: testNow.AddDate(0, 0, 14),
		EndDate:   testNow.AddDate(0, 0, 13),
		Capacity:  10,
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	// Unknown type.
	_, err = svc.CreateEvent(context.Background(), models.Event{
		Title:     "Mystery",
		EventType: "rave",
		StartDate: testNow.AddDate(0, 0, 14),
		EndDate:   testNow.AddDate(0, 0, 15),
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	mockDB.AssertNotCalled(t, "CreateEvent", mock.Anything, mock.Anything)
}

func TestUpdateEvent_PastEventRejected(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	started := futureEvent(1)
	started.StartDate = testNow.Add(-time.Hour)
	mockDB.On("GetEventByID", mock.Anything, "event002").Return(started, nil)

	title := "Rewritten history"
	_, err := svc.UpdateEvent(context.Background(), "event002", events.UpdateEventRequest{Title: &title})

	assert.ErrorIs(t, err, models.ErrEventStarted)
	mockDB.AssertNotCalled(t, "UpdateEventVersioned", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateEvent_CapacityBelowConfirmedRejected(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	mockDB.On("GetEventByID", mock.Anything, "event002").Return(futureEvent(1), nil)
	mockDB.On("CountConfirmedAttendance", mock.Anything, "event002").Return(20, nil)

	capacity := 10
	_, err := svc.UpdateEvent(context.Background(), "event002", events.UpdateEventRequest{Capacity: &capacity})

	assert.ErrorIs(t, err, models.ErrValidation)
	mockDB.AssertNotCalled(t, "UpdateEventVersioned", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateEvent_CapacityShrinkToConfirmedAllowed(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	mockDB.On("GetEventByID", mock.Anything, "event002").Return(futureEvent(1), nil)
	mockDB.On("CountConfirmedAttendance", mock.Anything, "event002").Return(20, nil)
	mockDB.On("UpdateEventVersioned", mock.Anything, mock.AnythingOfType("models.Event"), int64(1)).Return(nil)

	capacity := 20
	updated, err := svc.UpdateEvent(context.Background(), "event002", events.UpdateEventRequest{Capacity: &capacity})

	assert.NoError(t, err)
	assert.Equal(t, 20, updated.Capacity)
	assert.Equal(t, int64(2), updated.Version)
}

func TestUpdateEvent_RetriesOnVersionConflict(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	mockDB.On("GetEventByID", mock.Anything, "event002").Return(futureEvent(1), nil).Once()
	mockDB.On("UpdateEventVersioned", mock.Anything, mock.AnythingOfType("models.Event"), int64(1)).
		Return(models.ErrConcurrencyConflict).Once()

	// The retry re-reads the event at its new version.
	mockDB.On("GetEventByID", mock.Anything, "event002").Return(futureEvent(2), nil).Once()
	mockDB.On("UpdateEventVersioned", mock.Anything, mock.AnythingOfType("models.Event"), int64(2)).
		Return(nil).Once()

	title := "Intro Rope Weekend (moved)"
	updated, err := svc.UpdateEvent(context.Background(), "event002", events.UpdateEventRequest{Title: &title})

	assert.NoError(t, err)
	assert.Equal(t, "Intro Rope Weekend (moved)", updated.Title)
	assert.Equal(t, int64(3), updated.Version)
	mockDB.AssertExpectations(t)
}

func TestUpdateEvent_ExhaustsRetries(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	mockDB.On("GetEventByID", mock.Anything, "event002").Return(futureEvent(1), nil)
	mockDB.On("UpdateEventVersioned", mock.Anything, mock.AnythingOfType("models.Event"), int64(1)).
		Return(models.ErrConcurrencyConflict)

	title := "Contended"
	_, err := svc.UpdateEvent(context.Background(), "event002", events.UpdateEventRequest{Title: &title})

	assert.ErrorIs(t, err, models.ErrConcurrencyConflict)
	mockDB.AssertNumberOfCalls(t, "UpdateEventVersioned", 3)
}

func TestDeleteEvent_BlockedByActiveAttendance(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	mockDB.On("GetEventByID", mock.Anything, "event002").Return(futureEvent(1), nil)
	mockDB.On("CountActiveByKind", mock.Anything, "event002").Return(3, 5, nil)

	err := svc.DeleteEvent(context.Background(), "event002")

	var blocked *events.DeleteBlockedError
	assert.ErrorAs(t, err, &blocked)
	assert.Equal(t, 3, blocked.BlockingRSVPs)
	assert.Equal(t, 5, blocked.BlockingTickets)
	mockDB.AssertNotCalled(t, "DeleteEventCascade", mock.Anything, mock.Anything)
}

func TestDeleteEvent_PastEventRejected(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	started := futureEvent(1)
	started.StartDate = testNow.Add(-time.Hour)
	mockDB.On("GetEventByID", mock.Anything, "event002").Return(started, nil)

	err := svc.DeleteEvent(context.Background(), "event002")
	assert.ErrorIs(t, err, models.ErrEventStarted)
}

func TestDeleteEvent_CascadesWhenClear(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	mockDB.On("GetEventByID", mock.Anything, "event002").Return(futureEvent(1), nil)
	mockDB.On("CountActiveByKind", mock.Anything, "event002").Return(0, 0, nil)
	mockDB.On("DeleteEventCascade", mock.Anything, "event002").Return(nil)

	assert.NoError(t, svc.DeleteEvent(context.Background(), "event002"))
	mockDB.AssertExpectations(t)
}

func TestAddSession_RejectsDuplicateIdentifier(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	day1 := testNow.AddDate(0, 1, 0)
	mockDB.On("GetEventByID", mock.Anything, "event002").Return(futureEvent(1), nil)
	mockDB.On("GetSessionsByEvent", mock.Anything, "event002").Return([]models.EventSession{
		{ID: "sess001", EventID: "event002", Identifier: "S1",
			Date: day1, StartTime: day1, EndTime: day1.Add(6 * time.Hour), Capacity: 10},
	}, nil)

	day2 := day1.AddDate(0, 0, 1)
	_, err := svc.AddSession(context.Background(), models.EventSession{
		EventID: "event002", Identifier: "S1",
		Date: day2, StartTime: day2, EndTime: day2.Add(6 * time.Hour), Capacity: 10,
	})

	assert.ErrorIs(t, err, models.ErrValidation)
	mockDB.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
}

func TestAddSession_RejectsOverlap(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	day1 := testNow.AddDate(0, 1, 0)
	mockDB.On("GetEventByID", mock.Anything, "event002").Return(futureEvent(1), nil)
	mockDB.On("GetSessionsByEvent", mock.Anything, "event002").Return([]models.EventSession{
		{ID: "sess001", EventID: "event002", Identifier: "S1",
			Date: day1, StartTime: day1, EndTime: day1.Add(6 * time.Hour), Capacity: 10},
	}, nil)

	_, err := svc.AddSession(context.Background(), models.EventSession{
		EventID: "event002", Identifier: "S2",
		Date: day1, StartTime: day1.Add(3 * time.Hour), EndTime: day1.Add(8 * time.Hour), Capacity: 10,
	})

	assert.ErrorIs(t, err, models.ErrValidation)
	mockDB.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
}

func TestRemoveSession_BlockedByTicketTypeReference(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	mockDB.On("CountTicketTypesReferencingSession", mock.Anything, "event002", "S1").Return(2, nil)

	err := svc.RemoveSession(context.Background(), "event002", "S1")
	assert.ErrorIs(t, err, models.ErrValidation)
	mockDB.AssertNotCalled(t, "DeleteSession", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateTicketType_RejectsForeignSession(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	day1 := testNow.AddDate(0, 1, 0)
	mockDB.On("GetSessionsByEvent", mock.Anything, "event002").Return([]models.EventSession{
		{ID: "sess001", EventID: "event002", Identifier: "S1",
			Date: day1, StartTime: day1, EndTime: day1.Add(6 * time.Hour), Capacity: 10},
	}, nil)

	_, err := svc.CreateTicketType(context.Background(), models.TicketType{
		EventID: "event002", Name: "Full Weekend", MinPrice: 40, MaxPrice: 120,
		Sessions: []*models.TicketTypeSession{
			{SessionIdentifier: "S1"},
			{SessionIdentifier: "S9"},
		},
	})

	assert.ErrorIs(t, err, models.ErrValidation)
	mockDB.AssertNotCalled(t, "CreateTicketType", mock.Anything, mock.Anything)
}

func TestCreateTicketType_RejectsInvertedPriceRange(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	_, err := svc.CreateTicketType(context.Background(), models.TicketType{
		EventID: "event002", Name: "Backwards", MinPrice: 120, MaxPrice: 40,
	})

	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRemoveTicketType_SoftDeletes(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	mockDB.On("GetTicketTypeByID", mock.Anything, "tt001").Return(&models.TicketType{
		ID: "tt001", EventID: "event002", Name: "Full Weekend", IsActive: true,
	}, nil)
	mockDB.On("DeactivateTicketType", mock.Anything, "tt001").Return(nil)

	assert.NoError(t, svc.RemoveTicketType(context.Background(), "tt001"))
	mockDB.AssertExpectations(t)
}

func TestGetAvailability(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB)

	ev := futureEvent(1)
	day1 := ev.StartDate
	sessions := []models.EventSession{
		{ID: "sess001", EventID: ev.ID, Identifier: "S1",
			Date: day1, StartTime: day1, EndTime: day1.Add(6 * time.Hour), Capacity: 10},
		{ID: "sess002", EventID: ev.ID, Identifier: "S2",
			Date: day1.AddDate(0, 0, 1), StartTime: day1.AddDate(0, 0, 1),
			EndTime: day1.AddDate(0, 0, 1).Add(6 * time.Hour), Capacity: 5},
	}
	ticketTypes := []models.TicketType{
		{ID: "tt001", EventID: ev.ID, Name: "Full Weekend", IsActive: true,
			Sessions: []*models.TicketTypeSession{
				{TicketTypeID: "tt001", SessionIdentifier: "S1"},
				{TicketTypeID: "tt001", SessionIdentifier: "S2"},
			}},
	}

	mockDB.On("GetEventByID", mock.Anything, ev.ID).Return(ev, nil)
	mockDB.On("GetSessionsByEvent", mock.Anything, ev.ID).Return(sessions, nil)
	mockDB.On("GetTicketTypesByEvent", mock.Anything, ev.ID, true).Return(ticketTypes, nil)
	mockDB.On("ActiveCountsBySession", mock.Anything, ev.ID).
		Return(map[string]int{"S1": 8, "S2": 5}, 8, nil)

	snap, err := svc.GetAvailability(context.Background(), ev.ID)

	assert.NoError(t, err)
	assert.Equal(t, 2, snap.EventAvailable)
	assert.False(t, snap.TicketTypes[0].Purchasable)
	assert.Equal(t, availability.ReasonSessionsFull, snap.TicketTypes[0].Reason)
}
