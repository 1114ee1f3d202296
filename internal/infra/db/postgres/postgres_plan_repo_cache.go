package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"
	"hotspot-billing/internal/infra/metrics"
	red "hotspot-billing/internal/infra/redis"
)

var _ repository.PlanRepository = (*planRepoCacheDecorator)(nil)

const activePlansKey = "plans:active"

type planRepoCacheDecorator struct {
	inner repository.PlanRepository
	cache red.RedisClient
	ttl   time.Duration
}

// NewPlanRepoCacheDecorator caches plan reads in Redis. Redis failures fall
// through to inner; writes invalidate.
func NewPlanRepoCacheDecorator(inner repository.PlanRepository, cache red.RedisClient, ttl time.Duration) repository.PlanRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &planRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   ttl,
	}
}

func planKey(id string) string { return fmt.Sprintf("plan:%s", id) }

func (d *planRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	key := planKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var plan model.Plan
		if json.Unmarshal([]byte(val), &plan) == nil {
			metrics.ObserveCacheLookup("plan", metrics.CacheHit)
			return &plan, nil
		}
	} else if !red.IsMiss(err) {
		metrics.ObserveCacheLookup("plan", metrics.CacheError)
	}

	metrics.ObserveCacheLookup("plan", metrics.CacheMiss)
	plan, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(plan); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return plan, nil
}

func (d *planRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, plan *model.Plan) error {
	if err := d.inner.Save(ctx, tx, plan); err != nil {
		return err
	}
	_ = d.cache.Del(ctx, planKey(plan.ID), activePlansKey)
	return nil
}

func (d *planRepoCacheDecorator) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	val, err := d.cache.Get(ctx, activePlansKey)
	if err == nil {
		var plans []*model.Plan
		if json.Unmarshal([]byte(val), &plans) == nil {
			metrics.ObserveCacheLookup("plan_list", metrics.CacheHit)
			return plans, nil
		}
	} else if !red.IsMiss(err) {
		metrics.ObserveCacheLookup("plan_list", metrics.CacheError)
	}

	metrics.ObserveCacheLookup("plan_list", metrics.CacheMiss)
	plans, err := d.inner.ListActive(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(plans) > 0 {
		if b, err := json.Marshal(plans); err == nil {
			_ = d.cache.Set(ctx, activePlansKey, b, d.ttl)
		}
	}
	return plans, nil
}
