package test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"

	"google.golang.org/api/idtoken"

	"styleaiapi/models"
	"styleaiapi/services"
)

func JsonString(model interface{}) string {
	bytes, _ := json.Marshal(model)
	return string(bytes)
}

func NewJSONRequest(method string, target string, param interface{}) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(JsonString(param)))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	return req
}

func NewJSONAuthRequest(method string, target string, token string, param interface{}) *http.Request {
	req := NewJSONRequest(method, target, param)
	if token != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	return req
}

func NewJSONAuthRequestRaw(method string, target string, token string, json string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(json))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	if token != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	return req
}

type UploadFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// NewMultipartAuthRequest builds a multipart POST with every file under field.
func NewMultipartAuthRequest(target, token, field string, files ...UploadFile) *http.Request {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, f.Name))
		h.Set("Content-Type", f.ContentType)
		part, err := w.CreatePart(h)
		if err != nil {
			panic(err)
		}
		part.Write(f.Data)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	return req
}

// PNG returns a small valid png image.
func PNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

// IdentityMock accepts the tokens it knows and rejects everything else.
type IdentityMock struct {
	Callers map[string]models.Caller
}

func (m IdentityMock) Verify(ctx context.Context, token string) (models.Caller, error) {
	if token == "" {
		return models.Caller{}, &services.AuthError{Err: services.ErrMissingToken}
	}
	caller, ok := m.Callers[token]
	if !ok {
		return models.Caller{}, &services.AuthError{Err: errors.New("token rejected")}
	}
	return caller, nil
}

type GoogleServiceMock struct{}

func (gsm GoogleServiceMock) ValidateIdToken(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error) {
	if idToken != "valid-google-token" {
		return nil, errors.New("idtoken: invalid token")
	}
	return &idtoken.Payload{Issuer: "https://accounts.google.com", Audience: audience, Expires: 119919191919, IssuedAt: 12312321321, Subject: "123googleid", Claims: map[string]interface{}{
		"email":   "fake@example.com",
		"picture": "pictureurl",
		"sub":     "123googleid",
	}}, nil
}

type AnalyzerMock struct {
	mu    sync.Mutex
	Text  string
	Err   error
	Calls int
}

func (m *AnalyzerMock) Analyze(ctx context.Context, batch services.UploadBatch) (*services.AnalysisResult, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return &services.AnalysisResult{Text: m.Text, Model: "mock-vision", InputTokens: 10, OutputTokens: 13, TotalTokens: 23}, nil
}

// ImageGeneratorMock returns a deterministic URL per outfit index and fails
// the indexes listed in Fail.
type ImageGeneratorMock struct {
	mu    sync.Mutex
	Fail  map[int]bool
	Calls int
}

func (m *ImageGeneratorMock) Generate(ctx context.Context, prompt string, ref services.RenderRef) (string, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.Fail[ref.Index] {
		return "", errors.New("image generation failed")
	}
	return fmt.Sprintf("https://images.example.com/%s/%d.png", ref.UID, ref.Index), nil
}

// PaymentProviderMock records created intents and parses webhooks with the
// real Stripe signature check.
type PaymentProviderMock struct {
	mu            sync.Mutex
	WebhookSecret string
	CreateErr     error
	Created       []map[string]string
	Cancelled     []string
}

func (m *PaymentProviderMock) CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*services.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.Created = append(m.Created, metadata)
	id := fmt.Sprintf("pi_mock_%d", len(m.Created))
	return &services.PaymentIntent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (m *PaymentProviderMock) CancelSubscription(ctx context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled = append(m.Cancelled, subscriptionID)
	return nil
}

func (m *PaymentProviderMock) ParseWebhook(payload []byte, signature string) (*services.BillingEvent, error) {
	return (&services.StripeProvider{WebhookSecret: m.WebhookSecret}).ParseWebhook(payload, signature)
}
