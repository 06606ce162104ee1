package services

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"
)

// AnalysisResult is the raw text answer of the analysis model plus accounting.
type AnalysisResult struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// Analyzer runs one multimodal garment analysis per call. Failures are
// returned as *UpstreamAnalysisError and never retried.
type Analyzer interface {
	Analyze(ctx context.Context, batch UploadBatch) (*AnalysisResult, error)
}

func NewOpenAIClient(apiKey, baseURL string, timeout time.Duration) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return openai.NewClient(opts...)
}

type OpenAIAnalyzer struct {
	Client openai.Client
	Model  string
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, batch UploadBatch) (*AnalysisResult, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, batch.Len()+1)
	parts = append(parts, openai.TextContentPart(AnalysisPrompt))
	for _, item := range batch.Items {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: item.DataURL(),
		}))
	}

	resp, err := a.Client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(a.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
	})
	if err != nil {
		return nil, &UpstreamAnalysisError{Err: fmt.Errorf("chat completion: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return nil, &UpstreamAnalysisError{Err: fmt.Errorf("chat completion returned no choices")}
	}

	zerolog.Ctx(ctx).Debug().
		Int64("input_tokens", resp.Usage.PromptTokens).
		Int64("output_tokens", resp.Usage.CompletionTokens).
		Str("finish_reason", resp.Choices[0].FinishReason).
		Msg("analysis completed")

	return &AnalysisResult{
		Text:         resp.Choices[0].Message.Content,
		Model:        a.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}
