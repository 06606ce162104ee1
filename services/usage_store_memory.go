package services

import (
	"context"
	"sync"
	"time"

	"styleaiapi/models"
)

// MemoryUsageStore keeps usage records in process memory.
type MemoryUsageStore struct {
	mu      sync.Mutex
	records map[string]*models.UsageRecord
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{records: make(map[string]*models.UsageRecord)}
}

// Put stores rec as-is, replacing any existing record with the same UID.
func (s *MemoryUsageStore) Put(rec models.UsageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UID] = &rec
}

func (s *MemoryUsageStore) GetOrCreate(ctx context.Context, caller models.Caller, today string) (*models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[caller.UID]
	if !ok {
		allot := models.TierAllotment(models.TierFree)
		now := time.Now()
		rec = &models.UsageRecord{
			UID:                   caller.UID,
			Email:                 caller.Email,
			SubscriptionTier:      models.TierFree,
			DailyTextGenerations:  allot.Text,
			DailyImageGenerations: allot.Image,
			LastReset:             today,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		s.records[caller.UID] = rec
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryUsageStore) Get(ctx context.Context, uid string) (*models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[uid]
	if !ok {
		return nil, ErrUsageNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryUsageStore) ResetIfStale(ctx context.Context, uid string, today string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[uid]
	if !ok {
		return false, ErrUsageNotFound
	}
	if rec.ResetDay() == today {
		return false, nil
	}
	allot := models.TierAllotment(rec.SubscriptionTier)
	rec.DailyTextGenerations = allot.Text
	rec.DailyImageGenerations = allot.Image
	rec.LastReset = today
	rec.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryUsageStore) TryDecrement(ctx context.Context, uid string, kind models.UsageKind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[uid]
	if !ok {
		return false, ErrUsageNotFound
	}
	counter := &rec.DailyTextGenerations
	if kind == models.UsageImage {
		counter = &rec.DailyImageGenerations
	}
	if *counter <= 0 {
		return false, nil
	}
	*counter--
	rec.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryUsageStore) ApplyTier(ctx context.Context, uid string, tier models.SubscriptionTier, refill bool) (*models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[uid]
	if !ok {
		return nil, ErrUsageNotFound
	}
	allot := models.TierAllotment(tier)
	rec.SubscriptionTier = tier
	if refill {
		rec.DailyTextGenerations = allot.Text
		rec.DailyImageGenerations = allot.Image
	} else {
		rec.DailyTextGenerations = min(rec.DailyTextGenerations, allot.Text)
		rec.DailyImageGenerations = min(rec.DailyImageGenerations, allot.Image)
	}
	rec.UpdatedAt = time.Now()
	cp := *rec
	return &cp, nil
}

func (s *MemoryUsageStore) SetCounters(ctx context.Context, uid string, text, image *int) (*models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[uid]
	if !ok {
		return nil, ErrUsageNotFound
	}
	if text != nil {
		rec.DailyTextGenerations = *text
	}
	if image != nil {
		rec.DailyImageGenerations = *image
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryUsageStore) UpdateBilling(ctx context.Context, uid string, update models.BillingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[uid]
	if !ok {
		return ErrUsageNotFound
	}
	if update.CustomerID != nil {
		rec.CustomerID = update.CustomerID
	}
	if update.SubscriptionID != nil {
		rec.SubscriptionID = update.SubscriptionID
	}
	if update.SubscriptionStatus != nil {
		rec.SubscriptionStatus = *update.SubscriptionStatus
	}
	return nil
}

func (s *MemoryUsageStore) FindByCustomer(ctx context.Context, customerID string) (*models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.CustomerID != nil && *rec.CustomerID == customerID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrUsageNotFound
}

func (s *MemoryUsageStore) CountByTier(ctx context.Context) (map[models.SubscriptionTier]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.SubscriptionTier]int64)
	for _, rec := range s.records {
		out[rec.SubscriptionTier]++
	}
	return out, nil
}
