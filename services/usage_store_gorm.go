package services

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"styleaiapi/models"
)

type GormUsageStore struct {
	DB *gorm.DB
}

func NewGormUsageStore(db *gorm.DB) *GormUsageStore {
	return &GormUsageStore{DB: db}
}

func (s *GormUsageStore) GetOrCreate(ctx context.Context, caller models.Caller, today string) (*models.UsageRecord, error) {
	allot := models.TierAllotment(models.TierFree)
	fresh := models.UsageRecord{
		UID:                   caller.UID,
		Email:                 caller.Email,
		SubscriptionTier:      models.TierFree,
		DailyTextGenerations:  allot.Text,
		DailyImageGenerations: allot.Image,
		LastReset:             today,
	}
	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
		return nil, err
	}
	return s.Get(ctx, caller.UID)
}

func (s *GormUsageStore) Get(ctx context.Context, uid string) (*models.UsageRecord, error) {
	var rec models.UsageRecord
	err := s.DB.WithContext(ctx).Where("uid = ?", uid).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUsageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormUsageStore) ResetIfStale(ctx context.Context, uid string, today string) (bool, error) {
	didReset := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.UsageRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("uid = ?", uid).Take(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUsageNotFound
		}
		if err != nil {
			return err
		}
		if rec.ResetDay() == today {
			return nil
		}
		allot := models.TierAllotment(rec.SubscriptionTier)
		didReset = true
		return tx.Model(&models.UsageRecord{}).Where("uid = ?", uid).Updates(map[string]interface{}{
			"daily_text_generations":  allot.Text,
			"daily_image_generations": allot.Image,
			"last_reset":              today,
		}).Error
	})
	return didReset, err
}

func (s *GormUsageStore) TryDecrement(ctx context.Context, uid string, kind models.UsageKind) (bool, error) {
	col := models.UsageColumn(kind)
	res := s.DB.WithContext(ctx).Model(&models.UsageRecord{}).
		Where("uid = ? AND "+col+" > 0", uid).
		Update(col, gorm.Expr(col+" - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormUsageStore) ApplyTier(ctx context.Context, uid string, tier models.SubscriptionTier, refill bool) (*models.UsageRecord, error) {
	allot := models.TierAllotment(tier)
	updates := map[string]interface{}{"subscription_tier": tier}
	if refill {
		updates["daily_text_generations"] = allot.Text
		updates["daily_image_generations"] = allot.Image
	} else {
		updates["daily_text_generations"] = gorm.Expr("LEAST(daily_text_generations, ?)", allot.Text)
		updates["daily_image_generations"] = gorm.Expr("LEAST(daily_image_generations, ?)", allot.Image)
	}
	res := s.DB.WithContext(ctx).Model(&models.UsageRecord{}).Where("uid = ?", uid).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrUsageNotFound
	}
	return s.Get(ctx, uid)
}

func (s *GormUsageStore) SetCounters(ctx context.Context, uid string, text, image *int) (*models.UsageRecord, error) {
	updates := map[string]interface{}{}
	if text != nil {
		updates["daily_text_generations"] = *text
	}
	if image != nil {
		updates["daily_image_generations"] = *image
	}
	if len(updates) > 0 {
		res := s.DB.WithContext(ctx).Model(&models.UsageRecord{}).Where("uid = ?", uid).Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
	}
	return s.Get(ctx, uid)
}

func (s *GormUsageStore) UpdateBilling(ctx context.Context, uid string, update models.BillingUpdate) error {
	updates := map[string]interface{}{}
	if update.CustomerID != nil {
		updates["customer_id"] = *update.CustomerID
	}
	if update.SubscriptionID != nil {
		updates["subscription_id"] = *update.SubscriptionID
	}
	if update.SubscriptionStatus != nil {
		updates["subscription_status"] = *update.SubscriptionStatus
	}
	if len(updates) == 0 {
		return nil
	}
	res := s.DB.WithContext(ctx).Model(&models.UsageRecord{}).Where("uid = ?", uid).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUsageNotFound
	}
	return nil
}

func (s *GormUsageStore) FindByCustomer(ctx context.Context, customerID string) (*models.UsageRecord, error) {
	var rec models.UsageRecord
	err := s.DB.WithContext(ctx).Where("customer_id = ?", customerID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUsageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormUsageStore) CountByTier(ctx context.Context) (map[models.SubscriptionTier]int64, error) {
	var rows []struct {
		SubscriptionTier models.SubscriptionTier
		Count            int64
	}
	err := s.DB.WithContext(ctx).Model(&models.UsageRecord{}).
		Select("subscription_tier, count(*) as count").
		Group("subscription_tier").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.SubscriptionTier]int64, len(rows))
	for _, r := range rows {
		out[r.SubscriptionTier] = r.Count
	}
	return out, nil
}
