package services

import (
	"errors"
	"fmt"
	"net/http"

	"styleaiapi/models"
)

const (
	CodeNoImages          = "NO_IMAGES"
	CodeInvalidUpload     = "INVALID_UPLOAD"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeQuotaExceeded     = "QUOTA_EXCEEDED"
	CodeMalformedAnalysis = "MALFORMED_ANALYSIS"
	CodeEmptyOutfitData   = "EMPTY_OUTFIT_DATA"
	CodeUpstreamAnalysis  = "UPSTREAM_ANALYSIS"
	CodeUpstreamRender    = "UPSTREAM_RENDER"
	CodeInvalidHandle     = "INVALID_HANDLE"
	CodeInvalidPlan       = "INVALID_PLAN"
)

// Phase tells which request phase produced a parse error. Bad model output is
// a server fault during analysis but a client fault when the client echoed it back.
type Phase int

const (
	PhaseAnalysis Phase = iota
	PhaseRender
)

// DomainError is implemented by every error the HTTP layer maps to a status.
type DomainError interface {
	error
	Code() string
	Status() int
}

type NoImagesError struct{}

func (NoImagesError) Error() string { return "No images uploaded" }
func (NoImagesError) Code() string  { return CodeNoImages }
func (NoImagesError) Status() int   { return http.StatusBadRequest }

type InvalidUploadError struct {
	Filename string
	Reason   string
}

func (e *InvalidUploadError) Error() string {
	return fmt.Sprintf("Invalid upload %s: %s", e.Filename, e.Reason)
}
func (e *InvalidUploadError) Code() string { return CodeInvalidUpload }
func (e *InvalidUploadError) Status() int  { return http.StatusBadRequest }

type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "Unauthorized"
	}
	return fmt.Sprintf("Unauthorized: %v", e.Err)
}
func (e *AuthError) Unwrap() error { return e.Err }
func (e *AuthError) Code() string  { return CodeUnauthorized }
func (e *AuthError) Status() int   { return http.StatusUnauthorized }

type QuotaExceededError struct {
	Kind models.UsageKind
	Tier models.SubscriptionTier
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("Daily %s generation limit reached for the %s plan", e.Kind, e.Tier)
}
func (e *QuotaExceededError) Code() string { return CodeQuotaExceeded }
func (e *QuotaExceededError) Status() int  { return http.StatusForbidden }

type MalformedAnalysisError struct {
	Phase Phase
	Err   error
}

func (e *MalformedAnalysisError) Error() string { return "Failed to parse JSON from GPT response" }
func (e *MalformedAnalysisError) Unwrap() error { return e.Err }
func (e *MalformedAnalysisError) Code() string  { return CodeMalformedAnalysis }
func (e *MalformedAnalysisError) Status() int   { return phaseStatus(e.Phase) }

type EmptyOutfitDataError struct {
	Phase Phase
}

func (e *EmptyOutfitDataError) Error() string {
	return "No structured outfit data found in GPT response"
}
func (e *EmptyOutfitDataError) Code() string { return CodeEmptyOutfitData }
func (e *EmptyOutfitDataError) Status() int  { return phaseStatus(e.Phase) }

func phaseStatus(p Phase) int {
	if p == PhaseRender {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type UpstreamAnalysisError struct {
	Err error
}

func (e *UpstreamAnalysisError) Error() string { return "Server error" }
func (e *UpstreamAnalysisError) Unwrap() error { return e.Err }
func (e *UpstreamAnalysisError) Code() string  { return CodeUpstreamAnalysis }
func (e *UpstreamAnalysisError) Status() int   { return http.StatusInternalServerError }

type UpstreamRenderError struct {
	Index int
	Err   error
}

func (e *UpstreamRenderError) Error() string { return "Failed to generate outfit images" }
func (e *UpstreamRenderError) Unwrap() error { return e.Err }
func (e *UpstreamRenderError) Code() string  { return CodeUpstreamRender }
func (e *UpstreamRenderError) Status() int   { return http.StatusInternalServerError }

type InvalidHandleError struct {
	Reason string
}

func (e *InvalidHandleError) Error() string {
	return fmt.Sprintf("Invalid analysis handle: %s", e.Reason)
}
func (e *InvalidHandleError) Code() string { return CodeInvalidHandle }
func (e *InvalidHandleError) Status() int  { return http.StatusUnauthorized }

type InvalidPlanError struct {
	PlanID string
	Amount int64
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("Invalid plan or amount: %s %d", e.PlanID, e.Amount)
}
func (e *InvalidPlanError) Code() string { return CodeInvalidPlan }
func (e *InvalidPlanError) Status() int  { return http.StatusBadRequest }

type handleRequiredError struct{}

func (handleRequiredError) Error() string { return "analysisHandle is required" }
func (handleRequiredError) Code() string  { return CodeInvalidHandle }
func (handleRequiredError) Status() int   { return http.StatusBadRequest }

// ErrHandleRequired is returned when the render phase is configured to accept
// only stored analyses and the client sent raw text.
var ErrHandleRequired DomainError = handleRequiredError{}

// AsDomainError unwraps err into a DomainError when one is in the chain.
func AsDomainError(err error) (DomainError, bool) {
	var de DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
