package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

func floatPointer(f float32) *float32 {
	return &f
}

func NewGeminiClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	return genai.NewClient(ctx, cfg)
}

// checkGeminiResponse rejects blocked prompts and safety-blocked candidates.
func checkGeminiResponse(result *genai.GenerateContentResponse) error {
	if result == nil {
		return fmt.Errorf("empty response")
	}
	if result.PromptFeedback != nil && result.PromptFeedback.BlockReason != "" {
		return fmt.Errorf("content violation: %s %s", result.PromptFeedback.BlockReason, result.PromptFeedback.BlockReasonMessage)
	}
	for _, cand := range result.Candidates {
		for _, rating := range cand.SafetyRatings {
			if rating.Blocked {
				return fmt.Errorf("content blocked by safety setting: %s", rating.Category)
			}
		}
	}
	return nil
}

// GetAllInlineImages collects the bytes of every inline image part.
func GetAllInlineImages(result *genai.GenerateContentResponse) ([][]byte, error) {
	if err := checkGeminiResponse(result); err != nil {
		return nil, err
	}
	var allImageData [][]byte
	for _, cand := range result.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && strings.HasPrefix(part.InlineData.MIMEType, "image/") && len(part.InlineData.Data) > 0 {
				allImageData = append(allImageData, part.InlineData.Data)
			}
		}
	}
	return allImageData, nil
}

func usageCounts(result *genai.GenerateContentResponse) (in, out, total int64) {
	if result == nil || result.UsageMetadata == nil {
		return 0, 0, 0
	}
	m := result.UsageMetadata
	return int64(m.PromptTokenCount), int64(m.CandidatesTokenCount), int64(m.TotalTokenCount)
}

type GeminiAnalyzer struct {
	Client *genai.Client
	Model  string
}

func (a *GeminiAnalyzer) Analyze(ctx context.Context, batch UploadBatch) (*AnalysisResult, error) {
	// [Image1, Image2, ..., Text]
	parts := make([]*genai.Part, 0, batch.Len()+1)
	for _, item := range batch.Items {
		parts = append(parts, genai.NewPartFromBytes(item.Data, item.MIMEType()))
	}
	parts = append(parts, genai.NewPartFromText(AnalysisPrompt))

	result, err := a.Client.Models.GenerateContent(ctx, a.Model, []*genai.Content{{Parts: parts, Role: genai.RoleUser}}, &genai.GenerateContentConfig{
		CandidateCount:   1,
		Temperature:      floatPointer(1),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, &UpstreamAnalysisError{Err: fmt.Errorf("generate content: %w", err)}
	}
	if err := checkGeminiResponse(result); err != nil {
		return nil, &UpstreamAnalysisError{Err: err}
	}
	text := result.Text()
	if text == "" {
		return nil, &UpstreamAnalysisError{Err: fmt.Errorf("model returned no text")}
	}

	in, out, total := usageCounts(result)
	zerolog.Ctx(ctx).Debug().Int64("input_tokens", in).Int64("output_tokens", out).Msg("analysis completed")
	return &AnalysisResult{Text: text, Model: a.Model, InputTokens: in, OutputTokens: out, TotalTokens: total}, nil
}

// GeminiImageGenerator renders with a Gemini image model. The returned bytes
// are stored in the R2 bucket and served through presigned read URLs.
type GeminiImageGenerator struct {
	Client   *genai.Client
	Model    string
	Storage  AWSServiceProvider
	URLCache URLCacheServiceProvider
	Bucket   string
}

func renderObjectKey(ref RenderRef) string {
	group := ref.AnalysisID
	if group == "" {
		group = uuid.NewString()
	}
	return fmt.Sprintf("renders/%s/%s-%d.png", ref.UID, group, ref.Index)
}

func (g *GeminiImageGenerator) Generate(ctx context.Context, prompt string, ref RenderRef) (string, error) {
	result, err := g.Client.Models.GenerateContent(ctx, g.Model, []*genai.Content{{Parts: []*genai.Part{genai.NewPartFromText(prompt)}, Role: genai.RoleUser}}, &genai.GenerateContentConfig{
		CandidateCount:     1,
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	images, err := GetAllInlineImages(result)
	if err != nil {
		return "", err
	}
	if len(images) == 0 {
		return "", fmt.Errorf("model returned no image")
	}

	key := renderObjectKey(ref)
	uploadURL, err := g.Storage.PresignLink(ctx, g.Bucket, key)
	if err != nil {
		return "", fmt.Errorf("presign upload: %w", err)
	}
	_, status, err := g.Storage.UploadToPresignedURL(ctx, g.Bucket, uploadURL, images[0])
	if err != nil {
		return "", fmt.Errorf("upload render: %w", err)
	}
	if status < 200 || status > 299 {
		return "", fmt.Errorf("upload render: status %d", status)
	}
	return g.URLCache.GetReadURL(ctx, key)
}
