package services

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestGetAllInlineImages(t *testing.T) {
	res := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				genai.NewPartFromText("here you go"),
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{1, 2, 3}}},
				{InlineData: &genai.Blob{MIMEType: "audio/wav", Data: []byte{4}}},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 7, CandidatesTokenCount: 3, TotalTokenCount: 10},
	}
	images, err := GetAllInlineImages(res)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{1, 2, 3}}, images)

	in, out, total := usageCounts(res)
	assert.Equal(t, []int64{7, 3, 10}, []int64{in, out, total})

	blocked := &genai.GenerateContentResponse{PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety}}
	_, err = GetAllInlineImages(blocked)
	assert.ErrorContains(t, err, "content violation")
}

func TestGeminiImageGenerator(t *testing.T) {
	img := pngBytes(t, 2, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"inlineData":{"mimeType":"image/png","data":"` +
			base64.StdEncoding.EncodeToString(img) + `"}}]}}]}`))
	}))
	defer srv.Close()

	client, err := NewGeminiClient(context.Background(), "test-key", srv.URL+"/")
	require.NoError(t, err)

	storage := &fakeStorage{}
	cache, err := NewURLCacheService(storage, "styleai")
	require.NoError(t, err)

	gen := &GeminiImageGenerator{Client: client, Model: "gemini-image", Storage: storage, URLCache: cache, Bucket: "styleai"}
	url, err := gen.Generate(context.Background(), "a prompt", RenderRef{UID: "alice", AnalysisID: "a1", Index: 1})
	require.NoError(t, err)
	assert.Equal(t, "https://read.test/styleai/renders/alice/a1-1.png?sig=1", url)
	assert.Equal(t, int32(1), storage.uploads.Load())

	storage.status = http.StatusForbidden
	_, err = gen.Generate(context.Background(), "a prompt", RenderRef{UID: "alice", AnalysisID: "a1", Index: 2})
	assert.ErrorContains(t, err, "status 403")
}
