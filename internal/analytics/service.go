package analytics

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"ms-events/internal/models"
)

// Service handles analytics operations
type Service struct {
	db *bun.DB
}

// NewService creates a new analytics service
func NewService(db *bun.DB) *Service {
	return &Service{db: db}
}

// EventAnalytics represents aggregated attendance data for an event
type EventAnalytics struct {
	EventID            string               `json:"event_id"`
	ActiveRSVPs        int                  `json:"active_rsvps"`
	ActiveTickets      int                  `json:"active_tickets"`
	Attended           int                  `json:"attended"`
	Cancelled          int                  `json:"cancelled"`
	TotalRevenue       float64              `json:"total_revenue"`
	DailyRegistrations []DailyMetrics       `json:"daily_registrations"`
	SessionFill        []SessionFillMetrics `json:"session_fill"`
	ByTicketType       []TicketTypeMetrics  `json:"by_ticket_type"`
}

// DailyMetrics contains registration metrics for a single day
type DailyMetrics struct {
	Date          string  `json:"date"`
	Registrations int     `json:"registrations"`
	Revenue       float64 `json:"revenue"`
}

// SessionFillMetrics reports how full one session is
type SessionFillMetrics struct {
	SessionIdentifier string  `json:"session_identifier"`
	Capacity          int     `json:"capacity"`
	Active            int     `json:"active"`
	FillRate          float64 `json:"fill_rate"`
}

// TicketTypeMetrics contains sales metrics for a specific ticket type
type TicketTypeMetrics struct {
	TicketTypeID string  `json:"ticket_type_id"`
	Name         string  `json:"name"`
	Sold         int     `json:"sold"`
	Revenue      float64 `json:"revenue"`
}

// GetEventAnalytics returns attendance analytics for a specific event
func (s *Service) GetEventAnalytics(ctx context.Context, eventID string) (*EventAnalytics, error) {
	result := &EventAnalytics{EventID: eventID}

	// Status and kind breakdown
	type statusRow struct {
		Kind   string `bun:"kind"`
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	var statusRows []statusRow
	err := s.db.NewSelect().
		ColumnExpr("kind").
		ColumnExpr("status").
		ColumnExpr("count(*) AS count").
		Table("attendance_records").
		Where("event_id = ?", eventID).
		GroupExpr("kind, status").
		Scan(ctx, &statusRows)
	if err != nil {
		return nil, err
	}
	for _, row := range statusRows {
		switch models.AttendanceStatus(row.Status) {
		case models.AttendanceActive:
			if models.AttendanceKind(row.Kind) == models.AttendanceRSVP {
				result.ActiveRSVPs += row.Count
			} else {
				result.ActiveTickets += row.Count
			}
		case models.AttendanceAttended:
			result.Attended += row.Count
		case models.AttendanceCancelled:
			result.Cancelled += row.Count
		}
	}

	// Revenue across active and attended tickets
	err = s.db.NewRaw(`
		SELECT COALESCE(SUM(price_paid), 0)
		FROM attendance_records
		WHERE event_id = ? AND kind = 'ticket' AND status IN ('active', 'attended')
	`, eventID).Scan(ctx, &result.TotalRevenue)
	if err != nil {
		return nil, err
	}

	// Daily registration series, cancelled records included since they
	// were registrations on the day they happened
	type dailyRaw struct {
		Day          time.Time `bun:"day"`
		Count        int       `bun:"count"`
		DailyRevenue float64   `bun:"daily_revenue"`
	}
	var daily []dailyRaw
	err = s.db.NewRaw(`
		SELECT
			DATE(created_at) AS day,
			COUNT(*) AS count,
			COALESCE(SUM(CASE WHEN kind = 'ticket' THEN price_paid ELSE 0 END), 0) AS daily_revenue
		FROM attendance_records
		WHERE event_id = ?
		GROUP BY DATE(created_at)
		ORDER BY day
	`, eventID).Scan(ctx, &daily)
	if err != nil {
		return nil, err
	}
	result.DailyRegistrations = make([]DailyMetrics, 0, len(daily))
	for _, d := range daily {
		result.DailyRegistrations = append(result.DailyRegistrations, DailyMetrics{
			Date:          d.Day.Format("2006-01-02"),
			Registrations: d.Count,
			Revenue:       d.DailyRevenue,
		})
	}

	// Per-session fill rates via the ticket type session links
	type fillRaw struct {
		SessionIdentifier string `bun:"session_identifier"`
		Capacity          int    `bun:"capacity"`
		Active            int    `bun:"active"`
	}
	var fills []fillRaw
	err = s.db.NewRaw(`
		SELECT
			es.identifier AS session_identifier,
			es.capacity AS capacity,
			COALESCE(counts.active, 0) AS active
		FROM event_sessions es
		LEFT JOIN (
			SELECT tts.session_identifier, COUNT(*) AS active
			FROM attendance_records ar
			JOIN ticket_type_sessions tts ON tts.ticket_type_id = ar.ticket_type_id
			WHERE ar.event_id = ? AND ar.status = 'active'
			GROUP BY tts.session_identifier
		) counts ON counts.session_identifier = es.identifier
		WHERE es.event_id = ?
		ORDER BY es.identifier
	`, eventID, eventID).Scan(ctx, &fills)
	if err != nil {
		return nil, err
	}
	result.SessionFill = make([]SessionFillMetrics, 0, len(fills))
	for _, f := range fills {
		fill := SessionFillMetrics{
			SessionIdentifier: f.SessionIdentifier,
			Capacity:          f.Capacity,
			Active:            f.Active,
		}
		if f.Capacity > 0 {
			fill.FillRate = float64(f.Active) / float64(f.Capacity)
		}
		result.SessionFill = append(result.SessionFill, fill)
	}

	// Sales by ticket type
	type typeRaw struct {
		TicketTypeID string  `bun:"ticket_type_id"`
		Name         string  `bun:"name"`
		Sold         int     `bun:"sold"`
		Revenue      float64 `bun:"revenue"`
	}
	var types []typeRaw
	err = s.db.NewRaw(`
		SELECT
			tt.id AS ticket_type_id,
			tt.name AS name,
			COUNT(ar.id) AS sold,
			COALESCE(SUM(ar.price_paid), 0) AS revenue
		FROM ticket_types tt
		LEFT JOIN attendance_records ar
			ON ar.ticket_type_id = tt.id AND ar.status IN ('active', 'attended')
		WHERE tt.event_id = ?
		GROUP BY tt.id, tt.name
		ORDER BY tt.name
	`, eventID).Scan(ctx, &types)
	if err != nil {
		return nil, err
	}
	result.ByTicketType = make([]TicketTypeMetrics, 0, len(types))
	for _, t := range types {
		result.ByTicketType = append(result.ByTicketType, TicketTypeMetrics(t))
	}

	return result, nil
}
