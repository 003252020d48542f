package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-events/internal/kafka"
	"ms-events/internal/logger"
	"ms-events/internal/models"
)

const vettingCacheTTL = 5 * time.Minute

// UserStore is the persistence surface for membership snapshots.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpsertUser(ctx context.Context, user models.User) error
}

// Vetting resolves member snapshots for eligibility checks. Lookups go
// cache, then local snapshot table, then the membership service; the
// snapshot table is the single source of truth for the vetted flag
// between membership updates.
type Vetting struct {
	Store   UserStore
	Redis   *redis.Client
	Members *MembershipClient
	Logger  *logger.Logger
}

func NewVetting(store UserStore, redisClient *redis.Client, members *MembershipClient, log *logger.Logger) *Vetting {
	return &Vetting{Store: store, Redis: redisClient, Members: members, Logger: log}
}

func memberCacheKey(userID string) string {
	return "member:" + userID
}

func (v *Vetting) Lookup(ctx context.Context, userID string) (*models.User, error) {
	if v.Redis != nil {
		if cached, err := v.Redis.Get(ctx, memberCacheKey(userID)).Result(); err == nil {
			var user models.User
			if err := json.Unmarshal([]byte(cached), &user); err == nil {
				return &user, nil
			}
		}
	}

	user, err := v.Store.GetUserByID(ctx, userID)
	if errors.Is(err, models.ErrNotFound) && v.Members != nil {
		user, err = v.fetchAndStore(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	v.cache(ctx, user)
	return user, nil
}

// ApplyMembershipUpdate syncs a streamed membership change into the
// local snapshot table and drops the stale cache entry.
func (v *Vetting) ApplyMembershipUpdate(ctx context.Context, update kafka.MembershipUpdate) {
	user := models.User{
		ID:        update.UserID,
		Email:     update.Email,
		SceneName: update.SceneName,
		Role:      update.Role,
		IsVetted:  update.IsVetted,
		UpdatedAt: update.UpdatedAt,
	}
	if err := v.Store.UpsertUser(ctx, user); err != nil {
		v.Logger.Error("VETTING", fmt.Sprintf("Failed to sync membership update for %s: %v", update.UserID, err))
		return
	}
	if v.Redis != nil {
		v.Redis.Del(ctx, memberCacheKey(update.UserID))
	}
	v.Logger.Info("VETTING", fmt.Sprintf("Synced membership snapshot for %s (vetted=%t)", update.UserID, update.IsVetted))
}

func (v *Vetting) fetchAndStore(ctx context.Context, userID string) (*models.User, error) {
	user, err := v.Members.FetchUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := v.Store.UpsertUser(ctx, *user); err != nil {
		v.Logger.Error("VETTING", fmt.Sprintf("Failed to store member snapshot for %s: %v", userID, err))
	}
	return user, nil
}

func (v *Vetting) cache(ctx context.Context, user *models.User) {
	if v.Redis == nil || user == nil {
		return
	}
	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := v.Redis.Set(ctx, memberCacheKey(user.ID), data, vettingCacheTTL).Err(); err != nil {
		v.Logger.Warn("VETTING", fmt.Sprintf("Failed to cache member snapshot for %s: %v", user.ID, err))
	}
}
