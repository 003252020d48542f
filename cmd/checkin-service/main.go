package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-events/internal/attendance"
	"ms-events/internal/attendance/attendance_api"
	attendance_db "ms-events/internal/attendance/db"
	"ms-events/internal/attendance/qr"
	"ms-events/internal/clock"
	"ms-events/internal/config"
	events_db "ms-events/internal/events/db"
	"ms-events/internal/identity"
	"ms-events/internal/logger"
)

// The check-in service is a stripped-down door station: it scans
// passes and marks records attended. It shares the database with the
// main events service but carries no payment, Kafka or SSE wiring.

func verifyConnections(cfg *config.Config) *bun.DB {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = cfg.Database.DSN()
	}
	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("[Database] Failed to open PostgreSQL: %v", err)
	}
	if err := sqldb.Ping(); err != nil {
		log.Fatalf("[Database] Failed to connect to PostgreSQL: %v", err)
	}
	log.Println("[Database] PostgreSQL connection successful")

	return bun.NewDB(sqldb, pgdialect.New())
}

func main() {
	_ = godotenv.Load() // Loads .env file if present

	appLogger := logger.NewLogger()
	defer appLogger.Close()

	cfg := config.Load()
	ctx := context.Background()
	bunDB := verifyConnections(cfg)
	defer bunDB.Close()

	attendanceDB := &attendance_db.DB{Bun: bunDB}
	eventsDB := &events_db.DB{Bun: bunDB}
	passGenerator := qr.NewPassGenerator(cfg.Passes.Secret)

	service := attendance.NewService(
		attendanceDB,
		eventsDB,
		identity.NewVetting(attendanceDB, nil, nil, appLogger),
		nil, // availability snapshots are not needed at the door
		nil,
		nil,
		nil,
		passGenerator,
		clock.NewSystem(),
		appLogger,
	)
	handler := attendance_api.NewHandler(service, nil, nil, appLogger)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.Keycloak.Issuer()))
		r.Use(identity.RequireAdmin)
		r.Post("/checkin", handler.CheckIn)
	})

	server := &http.Server{
		Addr:    cfg.Server.CheckinPort,
		Handler: r,
	}

	go func() {
		log.Printf("🚀 Check-in Service on %s", cfg.Server.CheckinPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctxShutdown)
	log.Println("✅ Check-in service shutdown complete")
}
