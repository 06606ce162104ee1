package services

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"styleaiapi/models"
)

// UsersCollection keeps the document layout existing web clients read.
const UsersCollection = "users"

// isoLayout matches the timestamps web clients write with toISOString.
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// FirestoreUsageStore keeps usage records as users/{uid} documents.
type FirestoreUsageStore struct {
	Client *firestore.Client
}

func NewFirestoreUsageStore(client *firestore.Client) *FirestoreUsageStore {
	return &FirestoreUsageStore{Client: client}
}

func (s *FirestoreUsageStore) doc(uid string) *firestore.DocumentRef {
	return s.Client.Collection(UsersCollection).Doc(uid)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func snapToRecord(snap *firestore.DocumentSnapshot) (*models.UsageRecord, error) {
	var rec models.UsageRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, err
	}
	rec.UID = snap.Ref.ID
	rec.LastReset = rec.ResetDay()
	rec.CreatedAt = snap.CreateTime
	rec.UpdatedAt = snap.UpdateTime
	if rec.SubscriptionTier == "" {
		rec.SubscriptionTier = models.TierFree
	}
	return &rec, nil
}

// readInTx loads uid inside tx, mapping a missing document to ErrUsageNotFound.
func (s *FirestoreUsageStore) readInTx(tx *firestore.Transaction, uid string) (*models.UsageRecord, error) {
	snap, err := tx.Get(s.doc(uid))
	if isNotFound(err) {
		return nil, ErrUsageNotFound
	}
	if err != nil {
		return nil, err
	}
	return snapToRecord(snap)
}

func (s *FirestoreUsageStore) GetOrCreate(ctx context.Context, caller models.Caller, today string) (*models.UsageRecord, error) {
	var out *models.UsageRecord
	err := s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		rec, err := s.readInTx(tx, caller.UID)
		if err == nil {
			out = rec
			return nil
		}
		if !errors.Is(err, ErrUsageNotFound) {
			return err
		}
		allot := models.TierAllotment(models.TierFree)
		now := time.Now().UTC()
		out = &models.UsageRecord{
			UID:                   caller.UID,
			Email:                 caller.Email,
			SubscriptionTier:      models.TierFree,
			DailyTextGenerations:  allot.Text,
			DailyImageGenerations: allot.Image,
			LastReset:             today,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		return tx.Create(s.doc(caller.UID), map[string]interface{}{
			"email":                 caller.Email,
			"subscriptionTier":      string(models.TierFree),
			"dailyTextGenerations":  allot.Text,
			"dailyImageGenerations": allot.Image,
			"lastReset":             today,
			"createdAt":             now.Format(isoLayout),
			"updatedAt":             firestore.ServerTimestamp,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FirestoreUsageStore) Get(ctx context.Context, uid string) (*models.UsageRecord, error) {
	snap, err := s.doc(uid).Get(ctx)
	if isNotFound(err) {
		return nil, ErrUsageNotFound
	}
	if err != nil {
		return nil, err
	}
	return snapToRecord(snap)
}

func (s *FirestoreUsageStore) ResetIfStale(ctx context.Context, uid string, today string) (bool, error) {
	didReset := false
	err := s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// transactions may be retried, so the flag is recomputed every attempt
		didReset = false
		rec, err := s.readInTx(tx, uid)
		if err != nil {
			return err
		}
		if rec.ResetDay() == today {
			return nil
		}
		allot := models.TierAllotment(rec.SubscriptionTier)
		didReset = true
		return tx.Update(s.doc(uid), []firestore.Update{
			{Path: "dailyTextGenerations", Value: allot.Text},
			{Path: "dailyImageGenerations", Value: allot.Image},
			{Path: "lastReset", Value: today},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		})
	})
	return didReset, err
}

func (s *FirestoreUsageStore) TryDecrement(ctx context.Context, uid string, kind models.UsageKind) (bool, error) {
	decremented := false
	err := s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		decremented = false
		rec, err := s.readInTx(tx, uid)
		if err != nil {
			return err
		}
		left := rec.Remaining(kind)
		if left <= 0 {
			return nil
		}
		decremented = true
		return tx.Update(s.doc(uid), []firestore.Update{
			{Path: models.UsageField(kind), Value: left - 1},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		})
	})
	return decremented, err
}

func (s *FirestoreUsageStore) ApplyTier(ctx context.Context, uid string, tier models.SubscriptionTier, refill bool) (*models.UsageRecord, error) {
	var out *models.UsageRecord
	err := s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		rec, err := s.readInTx(tx, uid)
		if err != nil {
			return err
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
		out = rec
		return tx.Update(s.doc(uid), []firestore.Update{
			{Path: "subscriptionTier", Value: string(tier)},
			{Path: "dailyTextGenerations", Value: rec.DailyTextGenerations},
			{Path: "dailyImageGenerations", Value: rec.DailyImageGenerations},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FirestoreUsageStore) SetCounters(ctx context.Context, uid string, text, image *int) (*models.UsageRecord, error) {
	var updates []firestore.Update
	if text != nil {
		updates = append(updates, firestore.Update{Path: "dailyTextGenerations", Value: *text})
	}
	if image != nil {
		updates = append(updates, firestore.Update{Path: "dailyImageGenerations", Value: *image})
	}
	if len(updates) > 0 {
		if _, err := s.doc(uid).Update(ctx, updates); err != nil {
			if isNotFound(err) {
				return nil, ErrUsageNotFound
			}
			return nil, err
		}
	}
	return s.Get(ctx, uid)
}

func (s *FirestoreUsageStore) UpdateBilling(ctx context.Context, uid string, update models.BillingUpdate) error {
	var updates []firestore.Update
	if update.CustomerID != nil {
		updates = append(updates, firestore.Update{Path: "customerId", Value: *update.CustomerID})
	}
	if update.SubscriptionID != nil {
		updates = append(updates, firestore.Update{Path: "subscriptionId", Value: *update.SubscriptionID})
	}
	if update.SubscriptionStatus != nil {
		updates = append(updates, firestore.Update{Path: "subscriptionStatus", Value: *update.SubscriptionStatus})
	}
	if len(updates) == 0 {
		return nil
	}
	_, err := s.doc(uid).Update(ctx, updates)
	if isNotFound(err) {
		return ErrUsageNotFound
	}
	return err
}

func (s *FirestoreUsageStore) FindByCustomer(ctx context.Context, customerID string) (*models.UsageRecord, error) {
	iter := s.Client.Collection(UsersCollection).Where("customerId", "==", customerID).Limit(1).Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, ErrUsageNotFound
	}
	if err != nil {
		return nil, err
	}
	return snapToRecord(snap)
}

func (s *FirestoreUsageStore) CountByTier(ctx context.Context) (map[models.SubscriptionTier]int64, error) {
	out := make(map[models.SubscriptionTier]int64)
	for _, tier := range []models.SubscriptionTier{models.TierFree, models.TierPremium, models.TierPro} {
		snaps, err := s.Client.Collection(UsersCollection).Where("subscriptionTier", "==", string(tier)).Documents(ctx).GetAll()
		if err != nil {
			return nil, err
		}
		out[tier] = int64(len(snaps))
	}
	return out, nil
}
