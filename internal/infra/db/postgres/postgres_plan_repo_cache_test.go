//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"
)

func TestPlanRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	plan := &model.Plan{ID: "plan-123", Name: "Daily", Price: 5000, DurationHours: 24, Active: true}
	planJSON, _ := json.Marshal(plan)

	t.Run("FindByID should return from cache on hit", func(t *testing.T) {
		// --- Arrange ---
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				return string(planJSON), nil
			},
		}
		innerRepoCalled := false
		mockInnerRepo := &mockInnerPlanRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
				innerRepoCalled = true
				return nil, nil
			},
		}
		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Minute)

		// --- Act ---
		result, err := decorator.FindByID(ctx, nil, "plan-123")

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if innerRepoCalled {
			t.Error("inner repository should not be called on a cache hit")
		}
		if result == nil || result.ID != "plan-123" || result.Price != 5000 {
			t.Errorf("did not return the correct plan from cache: %+v", result)
		}
	})

	t.Run("FindByID should fill the cache on miss", func(t *testing.T) {
		// --- Arrange ---
		var setKey string
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) { return "", redis.Nil },
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				setKey = key
				return nil
			},
		}
		mockInnerRepo := &mockInnerPlanRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
				return plan, nil
			},
		}
		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Minute)

		// --- Act ---
		result, err := decorator.FindByID(ctx, nil, "plan-123")

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.ID != "plan-123" {
			t.Errorf("unexpected plan %+v", result)
		}
		if setKey != "plan:plan-123" {
			t.Errorf("expected cache fill for plan:plan-123, got %q", setKey)
		}
	})

	t.Run("FindByID should fall through when Redis is down", func(t *testing.T) {
		// --- Arrange ---
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) { return "", errors.New("connection refused") },
		}
		mockInnerRepo := &mockInnerPlanRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
				return nil, domain.ErrNotFound
			},
		}
		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Minute)

		// --- Act ---
		_, err := decorator.FindByID(ctx, nil, "missing")

		// --- Assert ---
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Save should invalidate the cache", func(t *testing.T) {
		// --- Arrange ---
		var deletedKeys []string
		mockRedis := &mockRedisClient{
			DelFunc: func(ctx context.Context, keys ...string) error {
				deletedKeys = append(deletedKeys, keys...)
				return nil
			},
		}
		mockInnerRepo := &mockInnerPlanRepo{
			SaveFunc: func(ctx context.Context, tx repository.Tx, plan *model.Plan) error {
				return nil
			},
		}
		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Minute)

		// --- Act ---
		err := decorator.Save(ctx, nil, plan)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(deletedKeys) != 2 {
			t.Fatalf("expected 2 keys to be deleted, but got %d", len(deletedKeys))
		}
	})

	t.Run("ListActive should cache a non-empty list", func(t *testing.T) {
		// --- Arrange ---
		calls := 0
		stored := map[string]string{}
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				if v, ok := stored[key]; ok {
					return v, nil
				}
				return "", redis.Nil
			},
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				stored[key] = string(value.([]byte))
				return nil
			},
		}
		mockInnerRepo := &mockInnerPlanRepo{
			ListActiveFunc: func(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
				calls++
				return []*model.Plan{plan}, nil
			},
		}
		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Minute)

		// --- Act ---
		first, err1 := decorator.ListActive(ctx, nil)
		second, err2 := decorator.ListActive(ctx, nil)

		// --- Assert ---
		if err1 != nil || err2 != nil {
			t.Fatalf("unexpected errors: %v, %v", err1, err2)
		}
		if calls != 1 {
			t.Errorf("expected one database read, got %d", calls)
		}
		if len(first) != 1 || len(second) != 1 || second[0].ID != "plan-123" {
			t.Errorf("unexpected lists: %v / %v", first, second)
		}
	})
}
