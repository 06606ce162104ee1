package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"styleaiapi/metrics"
	"styleaiapi/models"
)

// OutfitPipeline runs the two request phases: garment analysis and outfit
// rendering. Analyses and Handles are optional; without them phase two works
// only from client supplied text.
type OutfitPipeline struct {
	Analyzer  Analyzer
	Generator ImageGenerator
	Quota     *QuotaGate
	Analyses  AnalysisStore
	Handles   *HandleSigner
	Metrics   *metrics.Registry

	// AnalysisTimeout bounds one analyzer call; zero means no bound.
	AnalysisTimeout time.Duration
	RenderOpts      RenderOptions
	StrictSchema    bool
	RequireHandle   bool
	Now             func() time.Time
}

func (p *OutfitPipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Analyze charges one text generation, asks the model for outfits and returns
// them together with the uploaded images.
func (p *OutfitPipeline) Analyze(ctx context.Context, caller models.Caller, batch UploadBatch) (*models.GenerateOutfitsOut, error) {
	if batch.Len() == 0 {
		return nil, NoImagesError{}
	}
	if err := p.Quota.Consume(ctx, caller, models.UsageText); err != nil {
		return nil, err
	}

	logger := zerolog.Ctx(ctx)
	result, err := p.analyze(ctx, batch)
	if err != nil {
		p.Metrics.Inc(ctx, metrics.UpstreamErrors, map[string]string{"phase": "analysis"}, 1)
		return nil, err
	}

	parsed, err := ParseOutfitData(result.Text, ParseOptions{Phase: PhaseAnalysis, Strict: p.StrictSchema})
	if err != nil {
		logger.Error().Err(err).Str("raw", result.Text).Msg("analysis output rejected")
		return nil, err
	}
	p.Metrics.Inc(ctx, metrics.Analyses, nil, 1)
	logger.Info().Str("uid", caller.UID).Int("images", batch.Len()).Stringer("outfits", parsed).Msg("analysis completed")

	out := &models.GenerateOutfitsOut{
		UploadedFiles:    batch.Base64(),
		OutfitData:       parsed.Batch,
		GPTGeneratedText: parsed.Cleaned,
	}
	out.AnalysisHandle = p.storeAnalysis(ctx, caller, batch, result, parsed)
	return out, nil
}

func (p *OutfitPipeline) analyze(ctx context.Context, batch UploadBatch) (*AnalysisResult, error) {
	if p.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.AnalysisTimeout)
		defer cancel()
	}
	result, err := p.Analyzer.Analyze(ctx, batch)
	var upstream *UpstreamAnalysisError
	if errors.Is(err, context.DeadlineExceeded) && !errors.As(err, &upstream) {
		return nil, &UpstreamAnalysisError{Err: err}
	}
	return result, err
}

// storeAnalysis persists the model text and returns a signed handle to it.
// Failures are logged and yield no handle; the client can still echo the text.
func (p *OutfitPipeline) storeAnalysis(ctx context.Context, caller models.Caller, batch UploadBatch, result *AnalysisResult, parsed *ParseResult) string {
	if p.Analyses == nil || p.Handles == nil {
		return ""
	}
	logger := zerolog.Ctx(ctx)
	analysis := &models.OutfitAnalysis{
		ID:               uuid.New(),
		UID:              caller.UID,
		RawText:          parsed.Cleaned,
		OutfitCount:      len(parsed.Batch.Outfits),
		Model:            result.Model,
		InputTokenCount:  result.InputTokens,
		OutputTokenCount: result.OutputTokens,
		TotalTokenCount:  result.TotalTokens,
		ImageCount:       batch.Len(),
		ExpiresAt:        p.now().Add(p.Handles.TTL),
	}
	if err := p.Analyses.SaveAnalysis(ctx, analysis); err != nil {
		logger.Error().Err(err).Msg("failed to store analysis")
		return ""
	}
	handle, _, err := p.Handles.Sign(caller.UID, analysis.ID.String())
	if err != nil {
		logger.Error().Err(err).Msg("failed to sign analysis handle")
		return ""
	}
	return handle
}

// resolveRenderText picks the analysis text to render. A handle wins over
// client text.
func (p *OutfitPipeline) resolveRenderText(ctx context.Context, caller models.Caller, in models.GenerateOutfitImageIn) (string, *uuid.UUID, error) {
	if in.AnalysisHandle == "" || p.Handles == nil || p.Analyses == nil {
		if p.RequireHandle {
			return "", nil, ErrHandleRequired
		}
		return in.RawResponse, nil, nil
	}

	aid, err := p.Handles.Verify(in.AnalysisHandle, caller.UID)
	if err != nil {
		return "", nil, err
	}
	id, err := uuid.Parse(aid)
	if err != nil {
		return "", nil, &InvalidHandleError{Reason: "malformed analysis id"}
	}
	analysis, err := p.Analyses.GetAnalysis(ctx, id)
	if errors.Is(err, ErrAnalysisNotFound) {
		return "", nil, &InvalidHandleError{Reason: "unknown analysis"}
	}
	if err != nil {
		return "", nil, err
	}
	if analysis.UID != caller.UID {
		return "", nil, &InvalidHandleError{Reason: "caller mismatch"}
	}
	return analysis.RawText, &analysis.ID, nil
}

// Render charges one image generation and renders every outfit of the
// analysis. Unparseable input is rejected before any quota is used.
func (p *OutfitPipeline) Render(ctx context.Context, caller models.Caller, in models.GenerateOutfitImageIn) (*models.GenerateOutfitImageOut, error) {
	text, analysisID, err := p.resolveRenderText(ctx, caller, in)
	if err != nil {
		if isInvalidHandle(err) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("uid", caller.UID).Msg("analysis handle rejected")
			p.Metrics.Inc(ctx, metrics.HandlesRejected, nil, 1)
		}
		return nil, err
	}
	parsed, err := ParseOutfitData(text, ParseOptions{Phase: PhaseRender, Strict: p.StrictSchema})
	if err != nil {
		return nil, err
	}
	if err := p.Quota.Consume(ctx, caller, models.UsageImage); err != nil {
		return nil, err
	}

	ref := RenderRef{UID: caller.UID}
	if analysisID != nil {
		ref.AnalysisID = analysisID.String()
	}
	result, err := RenderOutfits(ctx, p.Generator, parsed.Batch, ref, p.RenderOpts)
	if err != nil {
		p.Metrics.Inc(ctx, metrics.UpstreamErrors, map[string]string{"phase": "render"}, 1)
		return nil, err
	}

	mode := p.RenderOpts.Mode
	if mode == "" {
		mode = RenderSequential
	}
	p.Metrics.Inc(ctx, metrics.Renders, map[string]string{"mode": mode}, int64(len(result.URLs)-result.Failed()))

	if p.Analyses != nil {
		render := &models.OutfitRender{
			AnalysisID:  analysisID,
			UID:         caller.UID,
			ImageURLs:   result.URLs,
			Mode:        mode,
			FailedCount: result.Failed(),
		}
		if err := p.Analyses.SaveRender(ctx, render); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to store render")
		}
	}
	zerolog.Ctx(ctx).Info().Str("uid", caller.UID).Int("images", len(result.URLs)).Int("failed", result.Failed()).Msg("render completed")

	return &models.GenerateOutfitImageOut{OutfitImages: result.URLs, Errors: result.Errors}, nil
}

// History returns the caller's recent analyses with their renders.
func (p *OutfitPipeline) History(ctx context.Context, caller models.Caller, limit int) ([]models.OutfitAnalysis, error) {
	if p.Analyses == nil {
		return []models.OutfitAnalysis{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return p.Analyses.History(ctx, caller.UID, limit)
}
