package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"styleaiapi/metrics"
	"styleaiapi/models"
)

type pipelineFixture struct {
	pipeline  *OutfitPipeline
	usage     *MemoryUsageStore
	analyses  *MemoryAnalysisStore
	analyzer  *fakeAnalyzer
	generator *fakeGenerator
}

func newPipelineFixture() *pipelineFixture {
	usage := NewMemoryUsageStore()
	analyses := NewMemoryAnalysisStore()
	signer := NewHandleSigner("handle-secret", 24*time.Hour)
	signer.Now = func() time.Time { return fixedNow }
	f := &pipelineFixture{
		usage:     usage,
		analyses:  analyses,
		analyzer:  &fakeAnalyzer{text: "```json\n" + twoOutfits + "\n```"},
		generator: &fakeGenerator{},
	}
	f.pipeline = &OutfitPipeline{
		Analyzer:  f.analyzer,
		Generator: f.generator,
		Quota:     newTestGate(usage),
		Analyses:  analyses,
		Handles:   signer,
		Metrics:   metrics.NewRegistry(),
		Now:       func() time.Time { return fixedNow },
	}
	return f
}

func TestPipelineAnalyze(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	out, err := f.pipeline.Analyze(ctx, alice, uploadBatch(t, 2))
	require.NoError(t, err)

	assert.Len(t, out.UploadedFiles, 2)
	require.Len(t, out.OutfitData.Outfits, 2)
	assert.Equal(t, "Black tee", out.OutfitData.Outfits[0].Top)
	assert.Equal(t, twoOutfits, out.GPTGeneratedText)
	require.NotEmpty(t, out.AnalysisHandle)

	rec, err := f.usage.Get(ctx, alice.UID)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.DailyTextGenerations)
	assert.Equal(t, 2, rec.DailyImageGenerations)

	history, err := f.pipeline.History(ctx, alice, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 2, history[0].OutfitCount)
	assert.Equal(t, 2, history[0].ImageCount)
	assert.Equal(t, fixedNow.Add(24*time.Hour), history[0].ExpiresAt)
	assert.Equal(t, int64(1), f.pipeline.Metrics.Value(metrics.Analyses, nil))
}

func TestPipelineAnalyzeNoImages(t *testing.T) {
	f := newPipelineFixture()
	_, err := f.pipeline.Analyze(context.Background(), alice, UploadBatch{})
	assert.ErrorAs(t, err, &NoImagesError{})
	assert.Equal(t, int32(0), f.analyzer.calls.Load())

	_, err = f.usage.Get(context.Background(), alice.UID)
	assert.ErrorIs(t, err, ErrUsageNotFound)
}

func TestPipelineAnalyzeUpstreamFailureStillCharges(t *testing.T) {
	f := newPipelineFixture()
	f.analyzer.err = &UpstreamAnalysisError{Err: errors.New("timeout")}

	_, err := f.pipeline.Analyze(context.Background(), alice, uploadBatch(t, 1))
	var upstream *UpstreamAnalysisError
	require.ErrorAs(t, err, &upstream)

	rec, _ := f.usage.Get(context.Background(), alice.UID)
	assert.Equal(t, 4, rec.DailyTextGenerations)
	assert.Equal(t, int64(1), f.pipeline.Metrics.Value(metrics.UpstreamErrors, map[string]string{"phase": "analysis"}))
}

func TestPipelineAnalyzeTimesOut(t *testing.T) {
	f := newPipelineFixture()
	f.analyzer.hang = true
	f.pipeline.AnalysisTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := f.pipeline.Analyze(context.Background(), alice, uploadBatch(t, 1))
	assert.Less(t, time.Since(start), 5*time.Second)

	var upstream *UpstreamAnalysisError
	require.ErrorAs(t, err, &upstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), f.pipeline.Metrics.Value(metrics.UpstreamErrors, map[string]string{"phase": "analysis"}))

	rec, _ := f.usage.Get(context.Background(), alice.UID)
	assert.Equal(t, 4, rec.DailyTextGenerations)
}

func TestPipelineAnalyzeMalformedOutputIsServerError(t *testing.T) {
	f := newPipelineFixture()
	f.analyzer.text = "I'm sorry, I can't help with that."

	_, err := f.pipeline.Analyze(context.Background(), alice, uploadBatch(t, 1))
	de, ok := AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, CodeMalformedAnalysis, de.Code())
	assert.Equal(t, http.StatusInternalServerError, de.Status())

	f.analyzer.text = `{"outfits":[]}`
	_, err = f.pipeline.Analyze(context.Background(), alice, uploadBatch(t, 1))
	de, ok = AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, CodeEmptyOutfitData, de.Code())
	assert.Equal(t, http.StatusInternalServerError, de.Status())
}

func TestPipelineAnalyzeQuotaExceeded(t *testing.T) {
	f := newPipelineFixture()
	f.usage.Put(models.UsageRecord{UID: alice.UID, SubscriptionTier: models.TierFree, LastReset: "2024-03-10"})

	_, err := f.pipeline.Analyze(context.Background(), alice, uploadBatch(t, 1))
	var quotaErr *QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, int32(0), f.analyzer.calls.Load())
}

func TestPipelineRenderFromRawText(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	out, err := f.pipeline.Render(ctx, alice, models.GenerateOutfitImageIn{RawResponse: twoOutfits})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://img.test/0.png", "https://img.test/1.png"}, out.OutfitImages)
	assert.Empty(t, out.Errors)

	rec, _ := f.usage.Get(ctx, alice.UID)
	assert.Equal(t, 1, rec.DailyImageGenerations)
	assert.Equal(t, 5, rec.DailyTextGenerations)
	assert.Contains(t, f.generator.prompts[0], "- **Outerwear:** Denim jacket")
	assert.Contains(t, f.generator.prompts[1], "- **Outerwear:** None")
}

func TestPipelineRenderMalformedIsFree(t *testing.T) {
	f := newPipelineFixture()

	_, err := f.pipeline.Render(context.Background(), alice, models.GenerateOutfitImageIn{RawResponse: "not json"})
	de, ok := AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, de.Status())
	assert.Equal(t, "Failed to parse JSON from GPT response", de.Error())

	_, err = f.pipeline.Render(context.Background(), alice, models.GenerateOutfitImageIn{RawResponse: `{"outfits":[]}`})
	var empty *EmptyOutfitDataError
	require.ErrorAs(t, err, &empty)
	assert.Equal(t, http.StatusBadRequest, empty.Status())

	assert.Equal(t, 0, f.generator.calls())
	_, err = f.usage.Get(context.Background(), alice.UID)
	assert.ErrorIs(t, err, ErrUsageNotFound)
}

func TestPipelineRenderWithHandle(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	analysis, err := f.pipeline.Analyze(ctx, alice, uploadBatch(t, 1))
	require.NoError(t, err)

	// client text is ignored when a handle is present
	out, err := f.pipeline.Render(ctx, alice, models.GenerateOutfitImageIn{
		RawResponse:    "tampered",
		AnalysisHandle: analysis.AnalysisHandle,
	})
	require.NoError(t, err)
	assert.Len(t, out.OutfitImages, 2)
	require.NotEmpty(t, f.generator.refs)
	assert.NotEmpty(t, f.generator.refs[0].AnalysisID)

	history, err := f.pipeline.History(ctx, alice, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Len(t, history[0].Renders, 1)
	assert.Equal(t, []string{"https://img.test/0.png", "https://img.test/1.png"}, []string(history[0].Renders[0].ImageURLs))
	assert.Equal(t, RenderSequential, history[0].Renders[0].Mode)

	bob := models.Caller{UID: "bob"}
	_, err = f.pipeline.Render(ctx, bob, models.GenerateOutfitImageIn{AnalysisHandle: analysis.AnalysisHandle})
	var handleErr *InvalidHandleError
	require.ErrorAs(t, err, &handleErr)
	assert.Equal(t, http.StatusUnauthorized, handleErr.Status())
	assert.Equal(t, int64(1), f.pipeline.Metrics.Value(metrics.HandlesRejected, nil))
}

func TestPipelineRenderRequiresHandle(t *testing.T) {
	f := newPipelineFixture()
	f.pipeline.RequireHandle = true

	_, err := f.pipeline.Render(context.Background(), alice, models.GenerateOutfitImageIn{RawResponse: twoOutfits})
	require.ErrorIs(t, err, ErrHandleRequired)
	assert.Equal(t, int64(0), f.pipeline.Metrics.Value(metrics.HandlesRejected, nil))
	assert.Equal(t, http.StatusBadRequest, ErrHandleRequired.Status())
}

func TestPipelineRenderQuotaExceeded(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()
	in := models.GenerateOutfitImageIn{RawResponse: twoOutfits}

	for i := 0; i < 2; i++ {
		_, err := f.pipeline.Render(ctx, alice, in)
		require.NoError(t, err)
	}
	_, err := f.pipeline.Render(ctx, alice, in)
	var quotaErr *QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, models.UsageImage, quotaErr.Kind)
	assert.Equal(t, 4, f.generator.calls())
}

func TestPipelineRenderFailureKeepsCharge(t *testing.T) {
	f := newPipelineFixture()
	f.generator.fail = map[int]bool{0: true}

	_, err := f.pipeline.Render(context.Background(), alice, models.GenerateOutfitImageIn{RawResponse: twoOutfits})
	var renderErr *UpstreamRenderError
	require.ErrorAs(t, err, &renderErr)

	rec, _ := f.usage.Get(context.Background(), alice.UID)
	assert.Equal(t, 1, rec.DailyImageGenerations)
}

func TestPipelineRenderConcurrentPartial(t *testing.T) {
	f := newPipelineFixture()
	f.pipeline.RenderOpts = RenderOptions{Mode: RenderConcurrent, Concurrency: 2}
	f.generator.fail = map[int]bool{1: true}

	out, err := f.pipeline.Render(context.Background(), alice, models.GenerateOutfitImageIn{RawResponse: twoOutfits})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://img.test/0.png", ""}, out.OutfitImages)
	assert.Equal(t, []models.RenderErrorOut{{Index: 1, Error: "Failed to generate outfit image"}}, out.Errors)
}
