package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// AnalysisClaims bind a stored analysis to the caller it was produced for.
type AnalysisClaims struct {
	AnalysisID string `json:"aid"`
	jwt.RegisteredClaims
}

// HandleSigner issues and checks analysis handles (HS256 JWTs).
type HandleSigner struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewHandleSigner(secret string, ttl time.Duration) *HandleSigner {
	return &HandleSigner{Secret: []byte(secret), TTL: ttl, Now: time.Now}
}

func (s *HandleSigner) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *HandleSigner) Sign(uid, analysisID string) (string, time.Time, error) {
	issued := s.now()
	expires := issued.Add(s.TTL)
	claims := AnalysisClaims{
		AnalysisID: analysisID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign analysis handle: %w", err)
	}
	return signed, expires, nil
}

// Verify returns the analysis id carried by handle when it is validly signed,
// unexpired and was issued to uid.
func (s *HandleSigner) Verify(handle, uid string) (string, error) {
	claims := &AnalysisClaims{}
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}, SkipClaimsValidation: true}
	_, err := parser.ParseWithClaims(handle, claims, func(t *jwt.Token) (interface{}, error) {
		return s.Secret, nil
	})
	if err != nil {
		return "", &InvalidHandleError{Reason: "signature"}
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.After(s.now()) {
		return "", &InvalidHandleError{Reason: "expired"}
	}
	if claims.Subject != uid {
		return "", &InvalidHandleError{Reason: "caller mismatch"}
	}
	if claims.AnalysisID == "" {
		return "", &InvalidHandleError{Reason: "missing analysis id"}
	}
	return claims.AnalysisID, nil
}

// isInvalidHandle reports whether err came from handle verification.
func isInvalidHandle(err error) bool {
	var he *InvalidHandleError
	return errors.As(err, &he)
}
