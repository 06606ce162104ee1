package controllers

import (
	"net/http"
	"time"

	"github.com/go-playground/validator"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/hibiken/asynq"
	echojwt "github.com/labstack/echo-jwt"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"styleaiapi/metrics"
	"styleaiapi/models"
	"styleaiapi/services"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func NewValidator() *CustomValidator {
	v := validator.New()
	v.RegisterValidation("tier", models.ValidateTier)
	v.RegisterValidation("plan", models.ValidatePlan)
	return &CustomValidator{validator: v}
}

// ServerDeps are the collaborators the HTTP layer is built from. Pipeline,
// Quota and Identity are required; everything else may be left empty.
type ServerDeps struct {
	Pipeline *services.OutfitPipeline
	Quota    *services.QuotaGate
	Billing  *services.BillingService
	Identity services.IdentityVerifier
	Metrics  *metrics.Registry
	Intake   services.IntakeOptions

	// nil uses the in-memory limiter
	RateLimitStore middleware.RateLimiterStore
	RateLimitRate  float64
	RateLimitBurst int

	AsynqClient *asynq.Client
	JWTSecret   string
}

func SetupServer(deps ServerDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(RequestLogger(deps.Metrics))
	e.Use(sentryecho.New(sentryecho.Options{Repanic: false}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("__asynqclient", deps.AsynqClient)
			return next(c)
		}
	})
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(rateLimiter(deps))

	e.GET("/metrics", deps.Metrics.EchoHandlerJSON)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	auth := AuthMiddleware(deps.Identity)
	root := e.Group("")

	outfitController := OutfitController{Pipeline: deps.Pipeline, Intake: deps.Intake}
	outfitController.OutfitRoutes(root, auth)

	billingController := BillingController{Billing: deps.Billing, Quota: deps.Quota}
	billingController.BillingRoutes(root, auth)

	if deps.Billing != nil {
		webhooksController := WebhooksController{Billing: deps.Billing}
		webhooksController.SetupRoutes(root)
	}

	if deps.JWTSecret != "" {
		adminGroup := e.Group("/admin", echojwt.JWT([]byte(deps.JWTSecret)), AdminMiddleware)
		adminController := AdminController{Quota: deps.Quota}
		adminController.AdminRoutes(adminGroup)
	}

	return e
}

func rateLimiter(deps ServerDeps) echo.MiddlewareFunc {
	store := deps.RateLimitStore
	if store == nil {
		limit, burst := deps.RateLimitRate, deps.RateLimitBurst
		if limit <= 0 {
			limit = 3
		}
		if burst <= 0 {
			burst = 20
		}
		store = middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(limit),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		})
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			// webhooks come from the processor's address pool
			return c.Path() == "/stripe-webhook" || c.Path() == "/metrics" || c.Path() == "/healthz"
		},
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "unable to identify client")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			if err != nil {
				return err
			}
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}
