package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"styleaiapi/metrics"
	"styleaiapi/models"
)

var ErrUsageNotFound = errors.New("usage record not found")

// UsageStore persists UsageRecords. Implementations must make ResetIfStale and
// TryDecrement atomic with respect to concurrent requests of the same caller.
type UsageStore interface {
	// GetOrCreate returns the caller's record, creating a free-tier record
	// stamped with today on first sight.
	GetOrCreate(ctx context.Context, caller models.Caller, today string) (*models.UsageRecord, error)
	Get(ctx context.Context, uid string) (*models.UsageRecord, error)
	// ResetIfStale refills both counters to the record's tier allotment when
	// its reset date differs from today. It reports whether this call did the reset.
	ResetIfStale(ctx context.Context, uid string, today string) (bool, error)
	// TryDecrement removes one unit of kind if at least one is left.
	TryDecrement(ctx context.Context, uid string, kind models.UsageKind) (bool, error)
	// ApplyTier switches the tier. refill sets both counters to the new
	// allotment, otherwise counters are capped at it.
	ApplyTier(ctx context.Context, uid string, tier models.SubscriptionTier, refill bool) (*models.UsageRecord, error)
	SetCounters(ctx context.Context, uid string, text, image *int) (*models.UsageRecord, error)
	UpdateBilling(ctx context.Context, uid string, update models.BillingUpdate) error
	FindByCustomer(ctx context.Context, customerID string) (*models.UsageRecord, error)
	CountByTier(ctx context.Context) (map[models.SubscriptionTier]int64, error)
}

// QuotaGate enforces the per-caller daily allotments.
type QuotaGate struct {
	Store UsageStore
	// ResetConsumesUnit makes the request that triggers the daily reset also
	// pay for itself. Off by default: the resetting request is free.
	ResetConsumesUnit bool
	Now               func() time.Time
	Metrics           *metrics.Registry
}

func NewQuotaGate(store UsageStore, resetConsumesUnit bool, reg *metrics.Registry) *QuotaGate {
	return &QuotaGate{Store: store, ResetConsumesUnit: resetConsumesUnit, Now: time.Now, Metrics: reg}
}

func (q *QuotaGate) Today() string {
	now := time.Now
	if q.Now != nil {
		now = q.Now
	}
	return now().UTC().Format(models.DateLayout)
}

// Consume admits one request of kind for caller or returns a QuotaExceededError.
// The decrement is persisted before returning and is never rolled back.
func (q *QuotaGate) Consume(ctx context.Context, caller models.Caller, kind models.UsageKind) error {
	logger := zerolog.Ctx(ctx).With().Str("uid", caller.UID).Str("kind", string(kind)).Logger()
	today := q.Today()

	rec, err := q.Store.GetOrCreate(ctx, caller, today)
	if err != nil {
		return fmt.Errorf("load usage: %w", err)
	}

	if rec.ResetDay() != today {
		didReset, err := q.Store.ResetIfStale(ctx, caller.UID, today)
		if err != nil {
			return fmt.Errorf("reset usage: %w", err)
		}
		if didReset {
			logger.Info().Str("last_reset", rec.LastReset).Msg("daily usage reset")
			if !q.ResetConsumesUnit {
				return nil
			}
		}
	}

	if models.TierAllotment(rec.SubscriptionTier).IsUnlimited(kind) {
		return nil
	}

	ok, err := q.Store.TryDecrement(ctx, caller.UID, kind)
	if err != nil {
		return fmt.Errorf("decrement usage: %w", err)
	}
	if !ok {
		logger.Info().Str("tier", string(rec.SubscriptionTier)).Msg("quota exceeded")
		q.Metrics.Inc(ctx, metrics.QuotaDenied, map[string]string{"kind": string(kind)}, 1)
		return &QuotaExceededError{Kind: kind, Tier: rec.SubscriptionTier}
	}
	return nil
}

// Snapshot reports the caller's current standing. A stale record is shown as
// already reset without writing the reset.
func (q *QuotaGate) Snapshot(ctx context.Context, caller models.Caller) (*models.SubscriptionStatusOut, error) {
	today := q.Today()
	rec, err := q.Store.GetOrCreate(ctx, caller, today)
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}
	allot := models.TierAllotment(rec.SubscriptionTier)
	out := &models.SubscriptionStatusOut{
		SubscriptionTier:      rec.SubscriptionTier,
		DailyTextGenerations:  rec.DailyTextGenerations,
		DailyImageGenerations: rec.DailyImageGenerations,
		LastReset:             rec.ResetDay(),
		Limits:                allot,
		SubscriptionStatus:    rec.SubscriptionStatus,
	}
	if rec.ResetDay() != today {
		out.DailyTextGenerations = allot.Text
		out.DailyImageGenerations = allot.Image
		out.LastReset = today
	}
	return out, nil
}

// ApplyTier moves uid to tier and refills both counters to its allotment.
func (q *QuotaGate) ApplyTier(ctx context.Context, uid string, tier models.SubscriptionTier) (*models.UsageRecord, error) {
	return q.Store.ApplyTier(ctx, uid, tier, true)
}

// Downgrade moves uid back to the free tier, capping the counters.
func (q *QuotaGate) Downgrade(ctx context.Context, uid string) (*models.UsageRecord, error) {
	return q.Store.ApplyTier(ctx, uid, models.TierFree, false)
}
