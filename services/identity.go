package services

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/idtoken"

	"styleaiapi/models"
)

var ErrMissingToken = errors.New("missing bearer token")

// IdentityVerifier turns a client bearer token into the caller identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (models.Caller, error)
}

// FirebaseTokenVerifier is satisfied by *auth.Client.
type FirebaseTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

type FirebaseVerifier struct {
	Auth FirebaseTokenVerifier
}

func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (models.Caller, error) {
	if token == "" {
		return models.Caller{}, &AuthError{Err: ErrMissingToken}
	}
	decoded, err := v.Auth.VerifyIDToken(ctx, token)
	if err != nil {
		return models.Caller{}, &AuthError{Err: fmt.Errorf("verify id token: %w", err)}
	}
	email, _ := decoded.Claims["email"].(string)
	return models.Caller{UID: decoded.UID, Email: email}, nil
}

// GoogleServiceProvider validates Google issued ID tokens.
type GoogleServiceProvider interface {
	ValidateIdToken(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

type GoogleService struct{}

func (gs GoogleService) ValidateIdToken(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error) {
	return idtoken.Validate(ctx, idToken, audience)
}

type GoogleVerifier struct {
	Google   GoogleServiceProvider
	Audience string
}

func (v *GoogleVerifier) Verify(ctx context.Context, token string) (models.Caller, error) {
	if token == "" {
		return models.Caller{}, &AuthError{Err: ErrMissingToken}
	}
	payload, err := v.Google.ValidateIdToken(ctx, token, v.Audience)
	if err != nil {
		return models.Caller{}, &AuthError{Err: fmt.Errorf("validate id token: %w", err)}
	}
	email, _ := payload.Claims["email"].(string)
	return models.Caller{UID: payload.Subject, Email: email}, nil
}
