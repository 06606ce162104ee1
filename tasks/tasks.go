package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"styleaiapi/models"
	"styleaiapi/services"
	"styleaiapi/telegram"
)

const (
	TypeBillingNotify = "billing:notify"
	TypePurgeAnalyses = "maintenance:purge_analyses"

	QueueNotifications = "notifications"
	QueueMaintenance   = "maintenance"
)

type BillingNotifyPayload struct {
	UID             string `json:"uid"`
	PlanID          string `json:"plan_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	PaymentIntentID string `json:"payment_intent_id"`
}

func NewBillingNotifyTask(payment *models.Payment) (*asynq.Task, error) {
	payload, err := json.Marshal(BillingNotifyPayload{
		UID:             payment.UID,
		PlanID:          string(payment.PlanID),
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		PaymentIntentID: payment.PaymentIntentID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBillingNotify, payload), nil
}

func NewPurgeAnalysesTask() *asynq.Task {
	return asynq.NewTask(TypePurgeAnalyses, nil)
}

// EnqueueBillingNotify queues the admin notification for a completed
// payment. A nil client skips enqueueing.
func EnqueueBillingNotify(ctx context.Context, client *asynq.Client, payment *models.Payment) error {
	if client == nil || payment == nil {
		return nil
	}
	task, err := NewBillingNotifyTask(payment)
	if err != nil {
		return err
	}
	info, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(3), asynq.Queue(QueueNotifications))
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeBillingNotify, err)
	}
	zerolog.Ctx(ctx).Info().Str("task_id", info.ID).Str("payment_intent", payment.PaymentIntentID).Msg("billing notification enqueued")
	return nil
}

// MessageSender delivers a text message to the admin chat.
type MessageSender interface {
	Send(ctx context.Context, text string) error
}

func BillingNotifyMessage(p BillingNotifyPayload) string {
	return fmt.Sprintf("💳 New *%s* subscription\nUser: `%s`\nAmount: %s\nPayment: `%s`",
		telegram.EscapeMessage(p.PlanID),
		telegram.EscapeMessage(p.UID),
		telegram.EscapeMessage(telegram.FormatAmount(p.Amount, p.Currency)),
		telegram.EscapeMessage(p.PaymentIntentID),
	)
}

func HandleBillingNotifyTask(ctx context.Context, t *asynq.Task, sender MessageSender) error {
	var p BillingNotifyPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		// malformed payloads never succeed on retry
		return fmt.Errorf("decode %s payload: %v: %w", TypeBillingNotify, err, asynq.SkipRetry)
	}
	logger := zerolog.Ctx(ctx).With().Str("task", TypeBillingNotify).Str("uid", p.UID).Logger()
	if sender == nil {
		logger.Warn().Msg("no telegram sender configured, dropping notification")
		return nil
	}
	if err := sender.Send(ctx, BillingNotifyMessage(p)); err != nil {
		sentry.CaptureException(fmt.Errorf("[Payment: %s] telegram notification failed: %w", p.PaymentIntentID, err))
		return err
	}
	logger.Info().Str("payment_intent", p.PaymentIntentID).Msg("billing notification sent")
	return nil
}

// HandlePurgeAnalysesTask deletes analyses whose handle expired more than
// retention ago, together with their renders.
func HandlePurgeAnalysesTask(ctx context.Context, t *asynq.Task, store services.AnalysisStore, retention time.Duration, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	cutoff := now().Add(-retention)
	deleted, err := store.PurgeExpired(ctx, cutoff)
	if err != nil {
		sentry.CaptureException(fmt.Errorf("purge analyses: %w", err))
		return err
	}
	zerolog.Ctx(ctx).Info().Str("task", TypePurgeAnalyses).Int64("deleted", deleted).Time("cutoff", cutoff).Msg("expired analyses purged")
	return nil
}
