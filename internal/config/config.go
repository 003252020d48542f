package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	Keycloak KeycloakConfig
	Stripe   StripeConfig
	Passes   PassConfig
}

type ServerConfig struct {
	Port         string
	CheckinPort  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Enabled bool
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type KeycloakConfig struct {
	URL          string
	Realm        string
	ClientID     string
	ClientSecret string
	// MembershipURL is the base URL of the membership service used to
	// fetch vetting snapshots that have not been synced yet.
	MembershipURL string
}

func (k KeycloakConfig) Issuer() string {
	return fmt.Sprintf("%s/realms/%s", k.URL, k.Realm)
}

type StripeConfig struct {
	SecretKey string
}

type PassConfig struct {
	// Secret encrypts check-in pass payloads.
	Secret string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8084"),
			CheckinPort:  getEnv("CHECKIN_PORT", ":8085"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			GroupID: getEnv("KAFKA_GROUP_ID", "events-service-group"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "events_user"),
			Password:     getEnv("DB_PASSWORD", "events_pass"),
			Database:     getEnv("DB_NAME", "events"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Keycloak: KeycloakConfig{
			URL:           getEnv("KEYCLOAK_URL", "http://localhost:8080"),
			Realm:         getEnv("KEYCLOAK_REALM", "membership"),
			ClientID:      getEnv("KEYCLOAK_CLIENT_ID", "events-service"),
			ClientSecret:  getEnv("KEYCLOAK_CLIENT_SECRET", ""),
			MembershipURL: getEnv("MEMBERSHIP_URL", "http://localhost:8081"),
		},
		Stripe: StripeConfig{
			SecretKey: getEnv("STRIPE_SECRET_KEY", ""),
		},
		Passes: PassConfig{
			Secret: getEnv("PASS_SECRET", "dev-pass-secret"),
		},
	}
}

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
