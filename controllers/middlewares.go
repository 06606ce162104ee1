package controllers

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"styleaiapi/models"
	"styleaiapi/services"
)

const callerKey = "currentCaller"

// AuthMiddleware verifies the bearer identity token and stores the caller on
// the echo context.
func AuthMiddleware(verifier services.IdentityVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				return &services.AuthError{Err: services.ErrMissingToken}
			}
			ctx := c.Request().Context()
			caller, err := verifier.Verify(ctx, token)
			if err != nil {
				zerolog.Ctx(ctx).Info().Err(err).Msg("identity token rejected")
				return err
			}

			logger := zerolog.Ctx(ctx).With().Str("uid", caller.UID).Logger()
			c.SetRequest(c.Request().WithContext(logger.WithContext(ctx)))
			c.Set(callerKey, caller)
			return next(c)
		}
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func currentCaller(c echo.Context) (models.Caller, error) {
	caller, ok := c.Get(callerKey).(models.Caller)
	if !ok || caller.UID == "" {
		return models.Caller{}, &services.AuthError{}
	}
	return caller, nil
}

// AdminMiddleware runs after echojwt and requires the admin claim.
func AdminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userRaw := c.Get("user")
		if userRaw == nil {
			return echo.ErrUnauthorized
		}
		token, ok := userRaw.(*jwt.Token)
		if !ok {
			return echo.ErrUnauthorized
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return echo.ErrUnauthorized
		}
		if isAdmin, _ := claims["admin"].(bool); !isAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "admin access required")
		}
		sub, _ := claims["sub"].(string)
		zerolog.Ctx(c.Request().Context()).Info().Str("admin", sub).Str("path", c.Path()).Msg("admin request")
		return next(c)
	}
}
