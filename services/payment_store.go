package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"styleaiapi/models"
)

var ErrPaymentNotFound = errors.New("payment not found")

type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	// UpdateStatus moves the payment to status and returns it with its
	// previous status.
	UpdateStatus(ctx context.Context, intentID string, status models.PaymentStatus) (*models.Payment, models.PaymentStatus, error)
}

type GormPaymentStore struct {
	DB *gorm.DB
}

func (s *GormPaymentStore) Create(ctx context.Context, payment *models.Payment) error {
	return s.DB.WithContext(ctx).Create(payment).Error
}

func (s *GormPaymentStore) UpdateStatus(ctx context.Context, intentID string, status models.PaymentStatus) (*models.Payment, models.PaymentStatus, error) {
	var payment models.Payment
	var previous models.PaymentStatus
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("payment_intent_id = ?", intentID).First(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}
		previous = payment.Status
		payment.Status = status
		return tx.Model(&payment).Update("status", status).Error
	})
	if err != nil {
		return nil, "", fmt.Errorf("update payment %s: %w", intentID, err)
	}
	return &payment, previous, nil
}

type MemoryPaymentStore struct {
	mu       sync.Mutex
	payments map[string]models.Payment
	nextID   uint
}

func NewMemoryPaymentStore() *MemoryPaymentStore {
	return &MemoryPaymentStore{payments: map[string]models.Payment{}}
}

func (s *MemoryPaymentStore) Create(ctx context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[payment.PaymentIntentID]; ok {
		return fmt.Errorf("payment %s already exists", payment.PaymentIntentID)
	}
	s.nextID++
	payment.ID = s.nextID
	payment.CreatedAt = time.Now()
	payment.UpdatedAt = payment.CreatedAt
	s.payments[payment.PaymentIntentID] = *payment
	return nil
}

func (s *MemoryPaymentStore) UpdateStatus(ctx context.Context, intentID string, status models.PaymentStatus) (*models.Payment, models.PaymentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[intentID]
	if !ok {
		return nil, "", fmt.Errorf("update payment %s: %w", intentID, ErrPaymentNotFound)
	}
	previous := payment.Status
	payment.Status = status
	payment.UpdatedAt = time.Now()
	s.payments[intentID] = payment
	return &payment, previous, nil
}

// Get is used by tests and the admin bot.
func (s *MemoryPaymentStore) Get(intentID string) (models.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[intentID]
	return p, ok
}
