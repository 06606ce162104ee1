package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"

	"styleaiapi/metrics"
	"styleaiapi/models"
)

type PaymentIntent struct {
	ID           string
	ClientSecret string
}

// BillingEvent is the part of a processor webhook event the service acts on.
type BillingEvent struct {
	ID                 string
	Type               string
	PaymentIntentID    string
	Amount             int64
	Currency           string
	Metadata           map[string]string
	CustomerID         string
	SubscriptionID     string
	SubscriptionStatus string
}

const (
	EventPaymentSucceeded     = string(stripe.EventTypePaymentIntentSucceeded)
	EventPaymentFailed        = string(stripe.EventTypePaymentIntentPaymentFailed)
	EventSubscriptionUpdated  = string(stripe.EventTypeCustomerSubscriptionUpdated)
	EventSubscriptionDeleted  = string(stripe.EventTypeCustomerSubscriptionDeleted)
	metadataUID               = "uid"
	metadataPlanID            = "plan_id"
	subscriptionStatusDeleted = "canceled"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

type PaymentProvider interface {
	CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*PaymentIntent, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	ParseWebhook(payload []byte, signature string) (*BillingEvent, error)
}

type StripeProvider struct {
	SecretKey     string
	WebhookSecret string
	// nil uses the default API backend
	Backend stripe.Backend
}

func (p *StripeProvider) backend() stripe.Backend {
	if p.Backend != nil {
		return p.Backend
	}
	return stripe.GetBackend(stripe.APIBackend)
}

func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: metadata,
	}
	params.Context = ctx

	client := paymentintent.Client{B: p.backend(), Key: p.SecretKey}
	pi, err := client.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	client := subscription.Client{B: p.backend(), Key: p.SecretKey}
	if _, err := client.Cancel(subscriptionID, params); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*BillingEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	ev := &BillingEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return ev, nil
	}
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		ev.PaymentIntentID = pi.ID
		ev.Amount = pi.Amount
		ev.Currency = string(pi.Currency)
		ev.Metadata = pi.Metadata
		if pi.Customer != nil {
			ev.CustomerID = pi.Customer.ID
		}
	case stripe.EventTypeCustomerSubscriptionUpdated, stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		ev.SubscriptionID = sub.ID
		ev.SubscriptionStatus = string(sub.Status)
		ev.Metadata = sub.Metadata
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
	}
	return ev, nil
}

// BillingService ties the payment processor to the usage records.
type BillingService struct {
	Provider PaymentProvider
	Payments PaymentStore
	Quota    *QuotaGate
	Currency string
	Metrics  *metrics.Registry
}

// CreatePaymentIntent validates the plan price, opens a payment with the
// processor and records it as pending. It returns the client secret.
func (s *BillingService) CreatePaymentIntent(ctx context.Context, caller models.Caller, in models.CreatePaymentIntentIn) (string, error) {
	plan := models.SubscriptionTier(in.PlanID)
	price, ok := models.PlanPrices[plan]
	if !ok || price != in.Amount {
		return "", &InvalidPlanError{PlanID: in.PlanID, Amount: in.Amount}
	}

	if _, err := s.Quota.Store.GetOrCreate(ctx, caller, s.Quota.Today()); err != nil {
		return "", fmt.Errorf("load usage: %w", err)
	}
	pi, err := s.Provider.CreatePaymentIntent(ctx, in.Amount, s.Currency, map[string]string{
		metadataUID:    caller.UID,
		metadataPlanID: in.PlanID,
	})
	if err != nil {
		return "", err
	}

	payment := &models.Payment{
		UID:             caller.UID,
		PaymentIntentID: pi.ID,
		PlanID:          plan,
		Amount:          in.Amount,
		Currency:        s.Currency,
		Status:          models.PaymentPending,
	}
	if err := s.Payments.Create(ctx, payment); err != nil {
		return "", fmt.Errorf("store payment: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("uid", caller.UID).Str("payment_intent", pi.ID).Str("plan", in.PlanID).Msg("payment intent created")
	return pi.ClientSecret, nil
}

// HandleEvent applies a webhook event. It returns the payment when the event
// completed it for the first time, nil otherwise.
func (s *BillingService) HandleEvent(ctx context.Context, ev *BillingEvent) (*models.Payment, error) {
	logger := zerolog.Ctx(ctx).With().Str("event", ev.Type).Str("event_id", ev.ID).Logger()

	switch ev.Type {
	case EventPaymentSucceeded:
		return s.paymentSucceeded(ctx, &logger, ev)
	case EventPaymentFailed:
		if _, _, err := s.Payments.UpdateStatus(ctx, ev.PaymentIntentID, models.PaymentFailed); err != nil && !errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
		logger.Info().Str("payment_intent", ev.PaymentIntentID).Msg("payment failed")
		return nil, nil
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		return nil, s.subscriptionChanged(ctx, &logger, ev)
	default:
		logger.Debug().Msg("ignoring billing event")
		return nil, nil
	}
}

func (s *BillingService) paymentSucceeded(ctx context.Context, logger *zerolog.Logger, ev *BillingEvent) (*models.Payment, error) {
	uid := ev.Metadata[metadataUID]
	plan := models.SubscriptionTier(ev.Metadata[metadataPlanID])
	if uid == "" || !models.ValidatePlanRaw(string(plan)) {
		logger.Warn().Str("payment_intent", ev.PaymentIntentID).Msg("payment without uid or plan metadata")
		return nil, nil
	}

	// Marking the payment succeeded claims it, so concurrent deliveries of the
	// same event apply the tier once. The claim is released when applying fails.
	payment, previous, err := s.Payments.UpdateStatus(ctx, ev.PaymentIntentID, models.PaymentSucceeded)
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		payment = &models.Payment{
			UID:             uid,
			PaymentIntentID: ev.PaymentIntentID,
			PlanID:          plan,
			Amount:          ev.Amount,
			Currency:        ev.Currency,
			Status:          models.PaymentSucceeded,
		}
		if err := s.Payments.Create(ctx, payment); err != nil {
			return nil, fmt.Errorf("store payment: %w", err)
		}
		previous = models.PaymentPending
	case err != nil:
		return nil, err
	case previous == models.PaymentSucceeded:
		logger.Info().Str("payment_intent", ev.PaymentIntentID).Msg("payment already applied")
		return nil, nil
	}

	if err := s.applyPlan(ctx, uid, plan, ev.CustomerID); err != nil {
		if _, _, rerr := s.Payments.UpdateStatus(ctx, ev.PaymentIntentID, previous); rerr != nil {
			logger.Error().Err(rerr).Str("payment_intent", ev.PaymentIntentID).Msg("failed to release payment")
		}
		return nil, err
	}
	s.Metrics.Inc(ctx, metrics.Payments, map[string]string{"plan": string(plan)}, 1)
	logger.Info().Str("uid", uid).Str("plan", string(plan)).Msg("subscription tier applied")
	return payment, nil
}

func (s *BillingService) applyPlan(ctx context.Context, uid string, plan models.SubscriptionTier, customerID string) error {
	if _, err := s.Quota.Store.GetOrCreate(ctx, models.Caller{UID: uid}, s.Quota.Today()); err != nil {
		return fmt.Errorf("load usage: %w", err)
	}
	if _, err := s.Quota.ApplyTier(ctx, uid, plan); err != nil {
		return fmt.Errorf("apply tier: %w", err)
	}
	if customerID != "" {
		if err := s.Quota.Store.UpdateBilling(ctx, uid, models.BillingUpdate{CustomerID: &customerID}); err != nil {
			return fmt.Errorf("store customer: %w", err)
		}
	}
	return nil
}

func (s *BillingService) subscriptionChanged(ctx context.Context, logger *zerolog.Logger, ev *BillingEvent) error {
	uid := ev.Metadata[metadataUID]
	if uid == "" && ev.CustomerID != "" {
		rec, err := s.Quota.Store.FindByCustomer(ctx, ev.CustomerID)
		if err != nil && !errors.Is(err, ErrUsageNotFound) {
			return err
		}
		if rec != nil {
			uid = rec.UID
		}
	}
	if uid == "" {
		logger.Warn().Str("customer", ev.CustomerID).Msg("subscription event for unknown customer")
		return nil
	}

	status := ev.SubscriptionStatus
	if ev.Type == EventSubscriptionDeleted {
		status = subscriptionStatusDeleted
	}
	update := models.BillingUpdate{SubscriptionStatus: &status}
	if ev.SubscriptionID != "" {
		update.SubscriptionID = &ev.SubscriptionID
	}
	if ev.CustomerID != "" {
		update.CustomerID = &ev.CustomerID
	}
	if err := s.Quota.Store.UpdateBilling(ctx, uid, update); err != nil {
		return fmt.Errorf("store subscription status: %w", err)
	}

	if ev.Type == EventSubscriptionDeleted {
		if _, err := s.Quota.Downgrade(ctx, uid); err != nil {
			return fmt.Errorf("downgrade: %w", err)
		}
		logger.Info().Str("uid", uid).Msg("subscription deleted, downgraded to free")
	}
	return nil
}

// Cancel cancels the stored subscription, if any, and downgrades the caller.
func (s *BillingService) Cancel(ctx context.Context, caller models.Caller) error {
	rec, err := s.Quota.Store.GetOrCreate(ctx, caller, s.Quota.Today())
	if err != nil {
		return fmt.Errorf("load usage: %w", err)
	}
	if rec.SubscriptionID != nil && *rec.SubscriptionID != "" {
		if err := s.Provider.CancelSubscription(ctx, *rec.SubscriptionID); err != nil {
			return err
		}
	}
	status := subscriptionStatusDeleted
	if err := s.Quota.Store.UpdateBilling(ctx, caller.UID, models.BillingUpdate{SubscriptionStatus: &status}); err != nil {
		return fmt.Errorf("store subscription status: %w", err)
	}
	if _, err := s.Quota.Downgrade(ctx, caller.UID); err != nil {
		return fmt.Errorf("downgrade: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("uid", caller.UID).Msg("subscription cancelled")
	return nil
}
