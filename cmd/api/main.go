package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"styleaiapi/config"
	"styleaiapi/controllers"
	"styleaiapi/dbhelper"
	"styleaiapi/logging"
	"styleaiapi/metrics"
	"styleaiapi/services"
	"styleaiapi/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)

	err = sentry.Init(sentry.ClientOptions{
		// empty DSN disables reporting
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Env,
		Release:          "styleaiapi@1.0.0",
		Debug:            false,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("sentry.Init")
	}
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()

	var db *gorm.DB
	if cfg.DB.UsageStore == "postgres" {
		db, err = dbhelper.SetupDB(cfg.DB, logger.Warn)
		if err != nil {
			log.Fatal().Err(err).Msg("database")
		}
	}

	var app *firebase.App
	if cfg.DB.UsageStore == "firestore" || cfg.Identity.Provider == "firebase" {
		app, err = firebase.NewApp(ctx, nil)
		if err != nil {
			log.Fatal().Err(err).Msg("error initializing firebase app")
		}
	}

	usage, analyses, payments := setupStores(ctx, cfg, db, app)
	identity := setupIdentity(ctx, cfg, app)
	analyzer, generator := setupUpstreams(ctx, cfg)

	quota := services.NewQuotaGate(usage, cfg.Quota.ResetConsumesUnit, reg)

	var handles *services.HandleSigner
	if cfg.Handles.Secret != "" {
		handles = services.NewHandleSigner(cfg.Handles.Secret, cfg.Handles.TTL)
	}

	pipeline := &services.OutfitPipeline{
		Analyzer:        analyzer,
		Generator:       generator,
		Quota:           quota,
		Analyses:        analyses,
		Handles:         handles,
		Metrics:         reg,
		AnalysisTimeout: cfg.Upstream.Timeout,
		RenderOpts: services.RenderOptions{
			Mode:        cfg.Upstream.RenderMode,
			Concurrency: cfg.Upstream.RenderConcurrency,
			Timeout:     cfg.Upstream.Timeout,
		},
		StrictSchema:  cfg.Upstream.StrictSchema,
		RequireHandle: cfg.Handles.Require,
	}

	var billing *services.BillingService
	if cfg.Stripe.SecretKey != "" {
		billing = &services.BillingService{
			Provider: &services.StripeProvider{SecretKey: cfg.Stripe.SecretKey, WebhookSecret: cfg.Stripe.WebhookSecret},
			Payments: payments,
			Quota:    quota,
			Currency: cfg.Stripe.Currency,
			Metrics:  reg,
		}
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY is not set, billing routes are disabled")
	}

	deps := controllers.ServerDeps{
		Pipeline: pipeline,
		Quota:    quota,
		Billing:  billing,
		Identity: identity,
		Metrics:  reg,
		Intake: services.IntakeOptions{
			Validate:     cfg.Uploads.Validate,
			MaxFileBytes: cfg.Uploads.MaxFileBytes,
			MaxFiles:     cfg.Uploads.MaxFiles,
			Normalize:    cfg.Uploads.Normalize,
			MaxDimension: cfg.Uploads.MaxImageDimension,
		},
		RateLimitRate:  cfg.RateLimit.FillRate,
		RateLimitBurst: cfg.RateLimit.Capacity,
		JWTSecret:      cfg.JWTSecret,
	}

	if cfg.RateLimit.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		defer rdb.Close()
		deps.RateLimitStore = services.NewRedisRateLimiter(rdb, float64(cfg.RateLimit.Capacity), cfg.RateLimit.FillRate)
	}

	if cfg.Broker.Address != "" {
		asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Broker.Address})
		defer asynqClient.Close()
		deps.AsynqClient = asynqClient
	}

	if cfg.Telegram.RunBot {
		go runAdminBot(ctx, cfg.Telegram, usage, analyses)
	}

	e := controllers.SetupServer(deps)

	go func() {
		if err := e.Start(cfg.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

func setupStores(ctx context.Context, cfg config.Config, db *gorm.DB, app *firebase.App) (services.UsageStore, services.AnalysisStore, services.PaymentStore) {
	switch cfg.DB.UsageStore {
	case "postgres":
		return services.NewGormUsageStore(db), &services.GormAnalysisStore{DB: db}, &services.GormPaymentStore{DB: db}
	case "firestore":
		client, err := app.Firestore(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("firestore client")
		}
		// analyses and payments stay in process when usage lives in firestore
		return services.NewFirestoreUsageStore(client), services.NewMemoryAnalysisStore(), services.NewMemoryPaymentStore()
	case "memory":
		log.Warn().Msg("using in-memory stores, state is lost on restart")
		return services.NewMemoryUsageStore(), services.NewMemoryAnalysisStore(), services.NewMemoryPaymentStore()
	default:
		log.Fatal().Str("store", cfg.DB.UsageStore).Msg("unknown USAGE_STORE")
		return nil, nil, nil
	}
}

func setupIdentity(ctx context.Context, cfg config.Config, app *firebase.App) services.IdentityVerifier {
	switch cfg.Identity.Provider {
	case "firebase":
		authClient, err := app.Auth(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("firebase auth client")
		}
		return &services.FirebaseVerifier{Auth: authClient}
	case "google":
		return &services.GoogleVerifier{Google: services.GoogleService{}, Audience: cfg.Identity.GoogleClientID}
	default:
		log.Fatal().Str("provider", cfg.Identity.Provider).Msg("unknown IDENTITY_PROVIDER")
		return nil
	}
}

func setupUpstreams(ctx context.Context, cfg config.Config) (services.Analyzer, services.ImageGenerator) {
	up := cfg.Upstream
	var (
		analyzer  services.Analyzer
		generator services.ImageGenerator
	)

	if up.AnalysisProvider == "openai" || up.RenderProvider == "openai" {
		client := services.NewOpenAIClient(up.OpenAIAPIKey, up.OpenAIBaseURL, up.Timeout)
		if up.AnalysisProvider == "openai" {
			analyzer = &services.OpenAIAnalyzer{Client: client, Model: up.OpenAIAnalysisModel}
		}
		if up.RenderProvider == "openai" {
			generator = &services.OpenAIImageGenerator{Client: client, Model: up.OpenAIImageModel}
		}
	}

	if up.AnalysisProvider == "gemini" || up.RenderProvider == "gemini" {
		client, err := services.NewGeminiClient(ctx, up.GoogleAPIKey, "")
		if err != nil {
			log.Fatal().Err(err).Msg("gemini client")
		}
		if up.AnalysisProvider == "gemini" {
			analyzer = &services.GeminiAnalyzer{Client: client, Model: up.GeminiAnalysisModel}
		}
		if up.RenderProvider == "gemini" {
			generator = setupGeminiRenderer(ctx, cfg, client)
		}
	}

	if analyzer == nil {
		log.Fatal().Str("provider", up.AnalysisProvider).Msg("unknown ANALYSIS_PROVIDER")
	}
	if generator == nil {
		log.Fatal().Str("provider", up.RenderProvider).Msg("unknown RENDER_PROVIDER")
	}
	return analyzer, generator
}

// gemini returns image bytes, so renders are stored in R2 and served through
// cached presigned links.
func setupGeminiRenderer(ctx context.Context, cfg config.Config, client *genai.Client) services.ImageGenerator {
	awsService := &services.AWSService{
		AccountID:       cfg.R2.AccountID,
		AccessKeyID:     cfg.R2.AccessKeyID,
		AccessKeySecret: cfg.R2.AccessKeySecret,
	}
	if err := awsService.InitPresignClient(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize R2 presign client")
	}
	urlCache, err := services.NewURLCacheService(awsService, cfg.R2.BucketName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize URL cache service")
	}
	return &services.GeminiImageGenerator{
		Client:   client,
		Model:    cfg.Upstream.GeminiImageModel,
		Storage:  awsService,
		URLCache: urlCache,
		Bucket:   cfg.R2.BucketName,
	}
}

func runAdminBot(ctx context.Context, cfg config.TelegramConfig, usage services.UsageStore, analyses services.AnalysisStore) {
	notifier, err := telegram.NewNotifier(cfg.Token, cfg.AdminChatID)
	if err != nil {
		log.Error().Err(err).Msg("telegram admin bot disabled")
		return
	}
	bot := &telegram.AdminBot{
		Bot:      notifier.Bot,
		Admins:   telegram.ParseAdmins(cfg.Admins),
		Usage:    usage,
		Analyses: analyses,
	}
	bot.Run(ctx)
}
