package redis

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-events/internal/logger"
)

// Holds debounces duplicate registration submissions: while a user's
// create request for an event is in flight, a second identical request
// is rejected up front instead of racing to the database. The partial
// unique index remains the real duplicate guard; this only absorbs
// rapid double-clicks.
type Holds struct {
	Client *redis.Client
	Logger *logger.Logger
}

func NewHolds(client *redis.Client, log *logger.Logger) *Holds {
	return &Holds{Client: client, Logger: log}
}

func holdKey(eventID, userID, kind string) string {
	return fmt.Sprintf("reg_hold:%s:%s:%s", eventID, userID, kind)
}

// holdDuration returns the hold TTL from the environment or the default.
func (h *Holds) holdDuration() time.Duration {
	defaultDuration := 30 * time.Second

	ttlStr := os.Getenv("REG_HOLD_TTL_SECONDS")
	if ttlStr == "" {
		return defaultDuration
	}

	ttlSec, err := strconv.Atoi(ttlStr)
	if err != nil {
		h.Logger.Warn("REDIS", fmt.Sprintf("Invalid REG_HOLD_TTL_SECONDS value '%s', using default 30 seconds", ttlStr))
		return defaultDuration
	}
	return time.Duration(ttlSec) * time.Second
}

// Acquire takes the in-flight hold for one user/event/kind. Returns
// false when another request already holds it.
func (h *Holds) Acquire(ctx context.Context, eventID, userID, kind string) (bool, error) {
	key := holdKey(eventID, userID, kind)
	ok, err := h.Client.SetNX(ctx, key, "1", h.holdDuration()).Result()
	return ok, err
}

// Release drops the hold once the request has settled.
func (h *Holds) Release(ctx context.Context, eventID, userID, kind string) {
	key := holdKey(eventID, userID, kind)
	if err := h.Client.Del(ctx, key).Err(); err != nil {
		h.Logger.Warn("REDIS", fmt.Sprintf("Failed to release hold %s: %v", key, err))
	}
}
