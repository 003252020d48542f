package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-events/internal/analytics"
	analytics_api "ms-events/internal/analytics/api"
	"ms-events/internal/attendance"
	"ms-events/internal/attendance/attendance_api"
	attendance_db "ms-events/internal/attendance/db"
	"ms-events/internal/attendance/qr"
	attendanceredis "ms-events/internal/attendance/redis"
	"ms-events/internal/clock"
	"ms-events/internal/config"
	"ms-events/internal/database/migrations"
	"ms-events/internal/events"
	events_db "ms-events/internal/events/db"
	"ms-events/internal/events/event_api"
	"ms-events/internal/identity"
	"ms-events/internal/kafka"
	"ms-events/internal/logger"
	"ms-events/internal/payments"
	"ms-events/internal/sse"
)

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = cfg.Database.DSN()
	}

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", dsn)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	logger.Info("DATABASE", "✅ PostgreSQL connection successful")

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	logger.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s", cfg.Redis.Addr))

	return bunDB, redisClient
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Events Service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	// Schema migrations run on startup; seed data stays opt-in.
	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
		MigrationsDir: "./migrations",
		AutoMigrate:   true,
		SeedData:      os.Getenv("SEED_DATA") == "true",
	})
	if err := runner.RunMigrations(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	defer runner.Close()

	var kafkaProducer *kafka.Producer
	if cfg.Kafka.Enabled {
		kafkaProducer = kafka.NewProducer(cfg.Kafka.Brokers)
		defer kafkaProducer.Close()
		logger.Info("KAFKA", "Kafka producer initialized successfully")

		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, kafka.AllTopics()); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			logger.Info("KAFKA", "Required topics ensured successfully")
		}
	} else {
		logger.Warn("KAFKA", "Kafka disabled, notifications will not be published")
	}

	payments.Init(cfg.Stripe.SecretKey)

	systemClock := clock.NewSystem()
	eventsDB := &events_db.DB{Bun: bunDB}
	attendanceDB := &attendance_db.DB{Bun: bunDB}

	eventService := events.NewService(eventsDB, systemClock, logger)
	analyticsService := analytics.NewService(bunDB)
	paymentService := payments.NewService(logger)
	passGenerator := qr.NewPassGenerator(cfg.Passes.Secret)
	emitter := sse.NewAvailabilityEmitter()

	tokenCache := identity.NewRedisTokenCache(redisClient)
	membershipClient := identity.NewMembershipClient(cfg.Keycloak, &http.Client{Timeout: 10 * time.Second}, tokenCache)
	vetting := identity.NewVetting(attendanceDB, redisClient, membershipClient, logger)

	var producer attendance.KafkaPublisher
	if kafkaProducer != nil {
		producer = kafkaProducer
	}
	attendanceService := attendance.NewService(
		attendanceDB,
		eventsDB,
		vetting,
		eventService,
		producer,
		paymentService,
		emitter,
		passGenerator,
		systemClock,
		logger,
	)

	holds := attendanceredis.NewHolds(redisClient, logger)
	webhookHandler := payments.NewWebhookHandler(attendanceService, logger)

	eventHandler := event_api.NewHandler(eventService, logger)
	sseHandler := event_api.NewSSEHandler(logger, emitter)
	attendanceHandler := attendance_api.NewHandler(attendanceService, holds, webhookHandler, logger)
	analyticsHandler := analytics_api.NewHandler(analyticsService, logger)

	// Membership updates stream in and refresh the local vetting snapshot.
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, kafka.TopicMembershipUpdated, cfg.Kafka.GroupID)
		defer consumer.Close()
		go consumer.Start(ctx, func(update kafka.MembershipUpdate) {
			vetting.ApplyMembershipUpdate(ctx, update)
		})
		logger.Info("KAFKA", "Membership update consumer started")
	}

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	// --- Public Routes ---
	r.Get("/api/events", eventHandler.ListEvents)
	r.Get("/api/events/{eventID}", eventHandler.GetEvent)
	r.Get("/api/events/{eventID}/availability", eventHandler.GetAvailability)
	r.Get("/api/events/{eventID}/availability/stream", sseHandler.HandleEventAvailability)
	r.Post("/api/webhooks/stripe", attendanceHandler.HandleStripeWebhook)
	logger.Info("ROUTER", "Public event browsing routes registered under /api/events")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.Keycloak.Issuer()))
		logger.Info("AUTH", "OIDC middleware applied to protected API routes")

		r.Route("/api", func(r chi.Router) {
			r.Post("/events/{eventID}/rsvps", attendanceHandler.CreateRSVP)
			r.Post("/events/{eventID}/tickets", attendanceHandler.PurchaseTicket)
			r.Get("/attendance", attendanceHandler.ListMyAttendance)
			r.Delete("/attendance/{recordID}", attendanceHandler.CancelAttendance)
			r.Get("/attendance/{recordID}/pass", attendanceHandler.GetPass)
			logger.Info("ROUTER", "Attendance routes registered under /api")

			// Organizer-only management surface
			r.Group(func(r chi.Router) {
				r.Use(identity.RequireAdmin)

				r.Post("/events", eventHandler.CreateEvent)
				r.Put("/events/{eventID}", eventHandler.UpdateEvent)
				r.Delete("/events/{eventID}", eventHandler.DeleteEvent)
				r.Post("/events/{eventID}/sessions", eventHandler.AddSession)
				r.Delete("/events/{eventID}/sessions/{identifier}", eventHandler.RemoveSession)
				r.Post("/events/{eventID}/ticket-types", eventHandler.CreateTicketType)
				r.Put("/events/{eventID}/ticket-types/{ticketTypeID}", eventHandler.UpdateTicketType)
				r.Delete("/events/{eventID}/ticket-types/{ticketTypeID}", eventHandler.RemoveTicketType)

				r.Post("/checkin", attendanceHandler.CheckIn)

				r.Get("/analytics/events/{eventID}", analyticsHandler.GetEventAnalytics)
				r.Get("/analytics/events/{eventID}/roster", analyticsHandler.GetEventRoster)
				logger.Info("ROUTER", "Organizer routes registered under /api")
			})
		})
	})

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		// No write timeout: the availability stream holds connections open.
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Events Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "✅ Events Service shutdown complete")
	}
}
