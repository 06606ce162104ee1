package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"styleaiapi/metrics"
	"styleaiapi/models"
	"styleaiapi/services"
	"styleaiapi/test"
)

const (
	aliceToken      = "alice-token"
	bobToken        = "bob-token"
	adminSecret     = "admin-secret"
	webhookSecret   = "whsec_controllers"
	outfitsResponse = `{"outfits":[
 {"image":"1.jpeg","top":"Black tee","bottoms":"Cargo pants","shoes":"Sneakers","accessories":"Chain","outerwear":"Denim jacket","gender":"Male","overall_aesthetic":"Street","pose_recommendation":"Arms crossed","background_setting":"Alley"},
 {"image":"2.jpeg","top":"White shirt","bottoms":"Jeans","shoes":"Loafers","accessories":"Watch","gender":"Female","overall_aesthetic":"Casual","pose_recommendation":"Walking","background_setting":"Park"}
]}`
)

type serverFixture struct {
	e         *echo.Echo
	deps      ServerDeps
	usage     *services.MemoryUsageStore
	analyses  *services.MemoryAnalysisStore
	payments  *services.MemoryPaymentStore
	analyzer  *test.AnalyzerMock
	generator *test.ImageGeneratorMock
	provider  *test.PaymentProviderMock
	metrics   *metrics.Registry
}

func newServerFixture(t *testing.T, customize ...func(*ServerDeps)) *serverFixture {
	t.Helper()
	f := &serverFixture{
		usage:     services.NewMemoryUsageStore(),
		analyses:  services.NewMemoryAnalysisStore(),
		payments:  services.NewMemoryPaymentStore(),
		analyzer:  &test.AnalyzerMock{Text: "```json\n" + outfitsResponse + "\n```"},
		generator: &test.ImageGeneratorMock{},
		provider:  &test.PaymentProviderMock{WebhookSecret: webhookSecret},
		metrics:   metrics.NewRegistry(),
	}
	quota := services.NewQuotaGate(f.usage, false, f.metrics)
	f.deps = ServerDeps{
		Pipeline: &services.OutfitPipeline{
			Analyzer:  f.analyzer,
			Generator: f.generator,
			Quota:     quota,
			Analyses:  f.analyses,
			Handles:   services.NewHandleSigner("handle-secret", 24*time.Hour),
			Metrics:   f.metrics,
		},
		Quota: quota,
		Billing: &services.BillingService{
			Provider: f.provider,
			Payments: f.payments,
			Quota:    quota,
			Currency: "usd",
			Metrics:  f.metrics,
		},
		Identity: test.IdentityMock{Callers: map[string]models.Caller{
			aliceToken: {UID: "alice", Email: "alice@example.com"},
			bobToken:   {UID: "bob", Email: "bob@example.com"},
		}},
		Metrics:   f.metrics,
		JWTSecret: adminSecret,
	}
	for _, c := range customize {
		c(&f.deps)
	}
	f.e = SetupServer(f.deps)
	return f
}

func (f *serverFixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func today() string {
	return time.Now().UTC().Format(models.DateLayout)
}

func TestHealthAndRequestID(t *testing.T) {
	f := newServerFixture(t)

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec = f.serve(req)
	assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	f := newServerFixture(t)

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	f := newServerFixture(t)

	f.serve(test.NewJSONAuthRequest(http.MethodGet, "/subscription-status", aliceToken, nil))
	f.serve(test.NewJSONAuthRequest(http.MethodGet, "/subscription-status", "", nil))

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, int64(1), snapshot["http_requests_total{method=GET,path=/subscription-status,status=2xx}"])
	assert.Equal(t, int64(1), snapshot["http_requests_total{method=GET,path=/subscription-status,status=4xx}"])
}

func TestMissingAndInvalidToken(t *testing.T) {
	f := newServerFixture(t)

	for _, token := range []string{"", "forged"} {
		rec := f.serve(test.NewJSONAuthRequest(http.MethodPost, "/generate-outfit-image", token, models.GenerateOutfitImageIn{RawResponse: outfitsResponse}))
		require.Equal(t, http.StatusUnauthorized, rec.Code, "token %q", token)
		body := decodeBody(t, rec)
		assert.Equal(t, services.CodeUnauthorized, body["code"])
		assert.True(t, strings.HasPrefix(body["error"].(string), "Unauthorized"))
	}

	req := test.NewJSONRequest(http.MethodGet, "/subscription-status", nil)
	req.Header.Set("Authorization", "Basic YWxpY2U6c2VjcmV0")
	rec := f.serve(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, f.generator.Calls)
}

func TestGoogleIdentityProvider(t *testing.T) {
	f := newServerFixture(t, func(d *ServerDeps) {
		d.Identity = &services.GoogleVerifier{Google: test.GoogleServiceMock{}, Audience: "client-id"}
	})

	rec := f.serve(test.NewJSONAuthRequest(http.MethodGet, "/subscription-status", "valid-google-token", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := f.usage.Get(t.Context(), "123googleid")
	require.NoError(t, err)
	assert.Equal(t, "fake@example.com", stored.Email)

	rec = f.serve(test.NewJSONAuthRequest(http.MethodGet, "/subscription-status", "other", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRedisRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := newServerFixture(t, func(d *ServerDeps) {
		d.RateLimitStore = services.NewRedisRateLimiter(client, 2, 0.001)
	})

	for i := 0; i < 2; i++ {
		rec := f.serve(test.NewJSONAuthRequest(http.MethodGet, "/subscription-status", aliceToken, nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}
	rec := f.serve(test.NewJSONAuthRequest(http.MethodGet, "/subscription-status", aliceToken, nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "TOO_MANY_REQUESTS", decodeBody(t, rec)["code"])

	// webhooks are never limited
	rec = f.serve(httptest.NewRequest(http.MethodPost, "/stripe-webhook", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidatorTags(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.Validate(&models.CreatePaymentIntentIn{Amount: 999, PlanID: "premium"}))
	assert.Error(t, v.Validate(&models.CreatePaymentIntentIn{Amount: 999, PlanID: "free"}))
	assert.Error(t, v.Validate(&models.CreatePaymentIntentIn{Amount: 0, PlanID: "pro"}))
	assert.NoError(t, v.Validate(&models.AdminUsageUpdateIn{SubscriptionTier: "free"}))
	assert.Error(t, v.Validate(&models.AdminUsageUpdateIn{SubscriptionTier: "gold"}))
}
