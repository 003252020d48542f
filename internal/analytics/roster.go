package analytics

import (
	"context"
	"strings"

	"github.com/uptrace/bun"

	"ms-events/internal/models"
)

// RosterSortField defines the valid fields for sorting roster entries
type RosterSortField string

const (
	RosterSortByPrice     RosterSortField = "price"
	RosterSortByCreatedAt RosterSortField = "created_at"
)

// RosterOptions contains options for filtering and sorting the roster
type RosterOptions struct {
	Kind     string
	Status   string
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// RosterEntry pairs an attendance record with the member's scene name,
// which is what organizers see on check-in lists.
type RosterEntry struct {
	Record    models.AttendanceRecord `json:"record"`
	SceneName string                  `json:"scene_name"`
}

// GetEventRoster returns attendance records for an event with optional
// filters, resolved against the membership snapshot table.
func (s *Service) GetEventRoster(ctx context.Context, eventID string, options RosterOptions) ([]RosterEntry, error) {
	q := s.db.NewSelect().
		Model((*models.AttendanceRecord)(nil)).
		Where("event_id = ?", eventID)

	if options.Kind != "" {
		q = q.Where("kind = ?", options.Kind)
	}
	if options.Status != "" {
		q = q.Where("status = ?", options.Status)
	}

	if options.SortBy != "" {
		direction := "ASC"
		if options.SortDesc {
			direction = "DESC"
		}

		switch RosterSortField(strings.ToLower(options.SortBy)) {
		case RosterSortByPrice:
			q = q.Order("price_paid " + direction)
		case RosterSortByCreatedAt:
			q = q.Order("created_at " + direction)
		default:
			q = q.Order("created_at " + direction)
		}
	} else {
		// Default sort by created_at descending (newest first)
		q = q.Order("created_at DESC")
	}

	if options.Limit > 0 {
		q = q.Limit(options.Limit)
	}
	if options.Offset > 0 {
		q = q.Offset(options.Offset)
	}

	var records []models.AttendanceRecord
	if err := q.Scan(ctx, &records); err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return []RosterEntry{}, nil
	}

	// Fetch scene names for all records in a single query
	userIDs := make([]string, len(records))
	for i, rec := range records {
		userIDs[i] = rec.UserID
	}

	var users []models.User
	err := s.db.NewSelect().
		Model(&users).
		Where("id IN (?)", bun.In(userIDs)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	namesByID := make(map[string]string, len(users))
	for _, u := range users {
		namesByID[u.ID] = u.SceneName
	}

	result := make([]RosterEntry, len(records))
	for i, rec := range records {
		rec.QRPass = nil // passes stay off the roster
		result[i] = RosterEntry{
			Record:    rec,
			SceneName: namesByID[rec.UserID],
		}
	}

	return result, nil
}
