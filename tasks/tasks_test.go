package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"styleaiapi/models"
	"styleaiapi/services"
)

type fakeSender struct {
	err      error
	messages []string
}

func (f *fakeSender) Send(ctx context.Context, text string) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, text)
	return nil
}

func testPayment() *models.Payment {
	return &models.Payment{
		UID:             "alice",
		PaymentIntentID: "pi_1",
		PlanID:          models.TierPremium,
		Amount:          999,
		Currency:        "usd",
		Status:          models.PaymentSucceeded,
	}
}

func TestNewBillingNotifyTask(t *testing.T) {
	task, err := NewBillingNotifyTask(testPayment())
	require.NoError(t, err)
	assert.Equal(t, TypeBillingNotify, task.Type())

	var p BillingNotifyPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, BillingNotifyPayload{UID: "alice", PlanID: "premium", Amount: 999, Currency: "usd", PaymentIntentID: "pi_1"}, p)
}

func TestHandleBillingNotifyTask(t *testing.T) {
	task, err := NewBillingNotifyTask(testPayment())
	require.NoError(t, err)
	sender := &fakeSender{}

	require.NoError(t, HandleBillingNotifyTask(context.Background(), task, sender))
	require.Len(t, sender.messages, 1)
	msg := sender.messages[0]
	assert.Contains(t, msg, "*premium*")
	assert.Contains(t, msg, "`alice`")
	assert.Contains(t, msg, "9.99")
	assert.Contains(t, msg, `pi\_1`)
}

func TestHandleBillingNotifyTaskSendFailure(t *testing.T) {
	task, err := NewBillingNotifyTask(testPayment())
	require.NoError(t, err)

	err = HandleBillingNotifyTask(context.Background(), task, &fakeSender{err: errors.New("telegram down")})
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleBillingNotifyTaskWithoutSender(t *testing.T) {
	task, err := NewBillingNotifyTask(testPayment())
	require.NoError(t, err)
	assert.NoError(t, HandleBillingNotifyTask(context.Background(), task, nil))
}

func TestHandleBillingNotifyTaskMalformedPayload(t *testing.T) {
	task := asynq.NewTask(TypeBillingNotify, []byte("{not json"))
	sender := &fakeSender{}

	err := HandleBillingNotifyTask(context.Background(), task, sender)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Empty(t, sender.messages)
}

func TestEnqueueBillingNotifyWithoutClient(t *testing.T) {
	assert.NoError(t, EnqueueBillingNotify(context.Background(), nil, testPayment()))
}

func TestHandlePurgeAnalysesTask(t *testing.T) {
	ctx := context.Background()
	store := services.NewMemoryAnalysisStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	old := &models.OutfitAnalysis{UID: "alice", ExpiresAt: now.Add(-10 * 24 * time.Hour)}
	recent := &models.OutfitAnalysis{UID: "alice", ExpiresAt: now.Add(-time.Hour)}
	live := &models.OutfitAnalysis{UID: "bob", ExpiresAt: now.Add(time.Hour)}
	for _, a := range []*models.OutfitAnalysis{old, recent, live} {
		require.NoError(t, store.SaveAnalysis(ctx, a))
	}
	require.NoError(t, store.SaveRender(ctx, &models.OutfitRender{AnalysisID: &old.ID, UID: "alice", Mode: "sequential"}))

	err := HandlePurgeAnalysesTask(ctx, NewPurgeAnalysesTask(), store, 7*24*time.Hour, func() time.Time { return now })
	require.NoError(t, err)

	_, err = store.GetAnalysis(ctx, old.ID)
	assert.ErrorIs(t, err, services.ErrAnalysisNotFound)
	_, err = store.GetAnalysis(ctx, recent.ID)
	assert.NoError(t, err)
	_, err = store.GetAnalysis(ctx, live.ID)
	assert.NoError(t, err)

	history, err := store.History(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Empty(t, history[0].Renders)
}
