package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"styleaiapi/models"
)

const (
	RenderSequential = "sequential"
	RenderConcurrent = "concurrent"
)

// RenderRef identifies the outfit being rendered.
type RenderRef struct {
	UID        string
	AnalysisID string
	Index      int
}

// ImageGenerator produces one image for prompt and returns a reachable URL.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string, ref RenderRef) (string, error)
}

type RenderOptions struct {
	Mode        string
	Concurrency int
	// per call deadline, zero means none
	Timeout time.Duration
}

type RenderResult struct {
	// index aligned with the outfits; failed renders are empty strings
	URLs   []string
	Errors []models.RenderErrorOut
}

func (r *RenderResult) Failed() int { return len(r.Errors) }

// RenderOutfits produces one image per outfit. Sequential mode renders in
// order and stops at the first failure, returning no images. Concurrent mode
// renders with bounded parallelism and fails only when every render failed.
func RenderOutfits(ctx context.Context, gen ImageGenerator, batch *models.OutfitBatch, ref RenderRef, opts RenderOptions) (*RenderResult, error) {
	if batch == nil || len(batch.Outfits) == 0 {
		return nil, &EmptyOutfitDataError{Phase: PhaseRender}
	}
	if opts.Mode == RenderConcurrent {
		return renderConcurrent(ctx, gen, batch, ref, opts)
	}
	return renderSequential(ctx, gen, batch, ref, opts)
}

func renderOne(ctx context.Context, gen ImageGenerator, outfit models.OutfitRecord, ref RenderRef, timeout time.Duration) (string, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	url, err := gen.Generate(callCtx, BuildRenderPrompt(outfit), ref)
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", errors.New("generator returned no image url")
	}
	return url, nil
}

func renderSequential(ctx context.Context, gen ImageGenerator, batch *models.OutfitBatch, ref RenderRef, opts RenderOptions) (*RenderResult, error) {
	logger := zerolog.Ctx(ctx)
	urls := make([]string, 0, len(batch.Outfits))
	for i, outfit := range batch.Outfits {
		r := ref
		r.Index = i
		url, err := renderOne(ctx, gen, outfit, r, opts.Timeout)
		if err != nil {
			logger.Error().Err(err).Int("index", i).Msg("outfit render failed")
			return nil, &UpstreamRenderError{Index: i, Err: err}
		}
		logger.Debug().Int("index", i).Msg("outfit rendered")
		urls = append(urls, url)
	}
	return &RenderResult{URLs: urls}, nil
}

func renderConcurrent(ctx context.Context, gen ImageGenerator, batch *models.OutfitBatch, ref RenderRef, opts RenderOptions) (*RenderResult, error) {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 1
	}
	urls := make([]string, len(batch.Outfits))
	errs := make([]error, len(batch.Outfits))

	p := pool.New().WithMaxGoroutines(limit)
	for i, outfit := range batch.Outfits {
		r := ref
		r.Index = i
		p.Go(func() {
			urls[i], errs[i] = renderOne(ctx, gen, outfit, r, opts.Timeout)
		})
	}
	p.Wait()

	result := &RenderResult{URLs: urls}
	for i, err := range errs {
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Int("index", i).Msg("outfit render failed")
			result.Errors = append(result.Errors, models.RenderErrorOut{Index: i, Error: "Failed to generate outfit image"})
		}
	}
	if result.Failed() == len(batch.Outfits) {
		return nil, &UpstreamRenderError{Index: 0, Err: errors.Join(errs...)}
	}
	return result, nil
}

type OpenAIImageGenerator struct {
	Client openai.Client
	Model  string
}

func (g *OpenAIImageGenerator) Generate(ctx context.Context, prompt string, ref RenderRef) (string, error) {
	res, err := g.Client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(g.Model),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize1024x1024,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	})
	if err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}
	if len(res.Data) == 0 {
		return "", errors.New("image generation returned no data")
	}
	return res.Data[0].URL, nil
}
