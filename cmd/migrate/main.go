package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-events/internal/config"
	"ms-events/internal/models"
)

// Development reset tool: drops and recreates the schema from the bun
// models and seeds sample data. Production deployments use the SQL
// migrations under ./migrations instead.

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	cfg := config.Load()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = cfg.Database.DSN()
	}

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqldb.Close()

	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	db := bun.NewDB(sqldb, pgdialect.New())

	log.Println("Dropping tables...")
	_ = dropTables(ctx, db)

	log.Println("Creating tables...")
	_ = createTables(ctx, db)

	log.Println("Seeding sample data...")
	_ = seedData(ctx, db)

	log.Println("✅ Done.")
}

func dropTables(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.AttendanceRecord)(nil),
		(*models.TicketTypeSession)(nil),
		(*models.TicketType)(nil),
		(*models.EventSession)(nil),
		(*models.Event)(nil),
		(*models.User)(nil),
	}
	for _, m := range tables {
		_, _ = db.NewDropTable().Model(m).IfExists().Cascade().Exec(ctx)
	}
	return nil
}

func createTables(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.User)(nil),
		(*models.Event)(nil),
		(*models.EventSession)(nil),
		(*models.TicketType)(nil),
		(*models.TicketTypeSession)(nil),
		(*models.AttendanceRecord)(nil),
	}
	for _, m := range tables {
		_, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx)
		if err != nil {
			log.Fatalf("❌ Failed to create table for %T: %v", m, err)
		}
	}

	// One active record per (event, user, kind); bun cannot express
	// partial indexes through model tags.
	_, err := db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_one_active
		ON attendance_records (event_id, user_id, kind)
		WHERE status = 'active'
	`)
	if err != nil {
		log.Fatalf("❌ Failed to create partial unique index: %v", err)
	}
	return nil
}

func seedData(ctx context.Context, db *bun.DB) error {
	now := time.Now()

	users := []models.User{
		{ID: "user001", Email: "river@example.com", SceneName: "River", IsVetted: true, Role: "member", CreatedAt: now},
		{ID: "user002", Email: "ash@example.com", SceneName: "Ash", IsVetted: true, Role: "member", CreatedAt: now},
		{ID: "user003", Email: "newcomer@example.com", SceneName: "Newcomer", IsVetted: false, Role: "member", CreatedAt: now},
		{ID: "admin001", Email: "organizer@example.com", SceneName: "Organizer", IsVetted: true, Role: "admin", CreatedAt: now},
	}
	_, _ = db.NewInsert().Model(&users).Exec(ctx)

	social := models.Event{
		ID:          "event001",
		Title:       "Monthly Social",
		Description: "Open social for vetted members.",
		EventType:   models.EventTypeSocial,
		StartDate:   now.AddDate(0, 0, 14),
		EndDate:     now.AddDate(0, 0, 14).Add(4 * time.Hour),
		Location:    "Main Hall",
		Capacity:    60,
		IsPublished: true,
		Version:     1,
		CreatedAt:   now,
	}
	workshop := models.Event{
		ID:          "event002",
		Title:       "Intro Rope Weekend",
		Description: "Two-day beginner intensive.",
		EventType:   models.EventTypeWorkshop,
		StartDate:   now.AddDate(0, 1, 0),
		EndDate:     now.AddDate(0, 1, 1).Add(6 * time.Hour),
		Location:    "Studio B",
		Capacity:    24,
		IsPublished: true,
		Version:     1,
		CreatedAt:   now,
	}
	eventRows := []models.Event{social, workshop}
	_, _ = db.NewInsert().Model(&eventRows).Exec(ctx)

	sessions := []models.EventSession{
		{
			ID: "sess001", EventID: "event002", Identifier: "S1",
			Date:      workshop.StartDate,
			StartTime: workshop.StartDate,
			EndTime:   workshop.StartDate.Add(6 * time.Hour),
			Capacity:  24, CreatedAt: now,
		},
		{
			ID: "sess002", EventID: "event002", Identifier: "S2",
			Date:      workshop.StartDate.AddDate(0, 0, 1),
			StartTime: workshop.StartDate.AddDate(0, 0, 1),
			EndTime:   workshop.StartDate.AddDate(0, 0, 1).Add(6 * time.Hour),
			Capacity:  20, CreatedAt: now,
		},
	}
	_, _ = db.NewInsert().Model(&sessions).Exec(ctx)

	ticketTypes := []models.TicketType{
		{
			ID: "tt001", EventID: "event002", Name: "Full Weekend",
			Description: "Both days.", MinPrice: 40, MaxPrice: 120,
			IsActive: true, CreatedAt: now,
		},
		{
			ID: "tt002", EventID: "event002", Name: "Saturday Only",
			Description: "Day one only.", MinPrice: 25, MaxPrice: 60,
			IsActive: true, CreatedAt: now,
		},
	}
	_, _ = db.NewInsert().Model(&ticketTypes).Exec(ctx)

	links := []models.TicketTypeSession{
		{TicketTypeID: "tt001", SessionIdentifier: "S1"},
		{TicketTypeID: "tt001", SessionIdentifier: "S2"},
		{TicketTypeID: "tt002", SessionIdentifier: "S1"},
	}
	_, _ = db.NewInsert().Model(&links).Exec(ctx)

	return nil
}
