// Package auth verifies a credential token against the remote service and
// classifies failures so the UI can tell a bad token from a bad network.
package auth

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/erasebg-relay/internal/metrics"
	"github.com/fpang/erasebg-relay/internal/pixelbin"
)

// ValidationError represents a specific type of credential verification failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes verification failures.
type ValidationErrorType int

const (
	// ErrTypeNoKey indicates no token was supplied.
	ErrTypeNoKey ValidationErrorType = iota
	// ErrTypeInvalidKey indicates the token is invalid or revoked.
	ErrTypeInvalidKey
	// ErrTypeNetworkError indicates a network connectivity issue.
	ErrTypeNetworkError
	// ErrTypeQuotaExceeded indicates the organisation is rate limited.
	ErrTypeQuotaExceeded
	// ErrTypeUnknown indicates an unknown error occurred.
	ErrTypeUnknown
)

func (t ValidationErrorType) String() string {
	switch t {
	case ErrTypeNoKey:
		return "no_key"
	case ErrTypeInvalidKey:
		return "invalid"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeQuotaExceeded:
		return "quota"
	default:
		return "unknown"
	}
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IdentityAPI is the remote call used to verify a token.
type IdentityAPI interface {
	AppInfo(ctx context.Context) (*pixelbin.AppInfo, error)
}

// Identity is what a verified token resolves to.
type Identity struct {
	OrgID     string
	CloudName string
}

// Verify resolves token's identity with one remote call. It returns a
// *ValidationError on any failure.
func Verify(ctx context.Context, token string, api IdentityAPI) (*Identity, error) {
	if strings.TrimSpace(token) == "" {
		return nil, &ValidationError{Type: ErrTypeNoKey, Message: "token is empty"}
	}

	log.Debug().Msg("Verifying token with Pixelbin")

	start := time.Now()
	info, err := api.AppInfo(ctx)
	elapsed := time.Since(start)

	if err != nil {
		valErr := classifyError(err)
		emit(valErr.Type.String(), elapsed)
		return nil, valErr
	}

	if info == nil || info.Org.CloudName == "" {
		log.Warn().Msg("Token verification returned no cloud name")
		emit("empty_response", elapsed)
		return nil, &ValidationError{
			Type:    ErrTypeUnknown,
			Message: "service returned no organisation for this token",
		}
	}

	emit("success", elapsed)
	log.Info().Str("orgId", info.OrgID()).Str("cloudName", info.Org.CloudName).Msg("Token verified")
	return &Identity{OrgID: info.OrgID(), CloudName: info.Org.CloudName}, nil
}

func emit(result string, elapsed time.Duration) {
	metrics.New(metrics.Namespace).
		Dimension("Result", result).
		Metric("TokenValidationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("TokenValidationResult").
		Flush()
}

// classifyError analyzes an error and returns a ValidationError with the appropriate type.
func classifyError(err error) *ValidationError {
	var apiErr *pixelbin.APIError
	if errors.As(err, &apiErr) {
		valErr := classifyAPIError(apiErr)
		valErr.Err = err
		return valErr
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		log.Error().Err(err).Msg("Network error during token verification")
		return &ValidationError{
			Type:    ErrTypeNetworkError,
			Message: "Network error - check your internet connection",
			Err:     err,
		}
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "timeout"):
		log.Error().Err(err).Msg("Network error during token verification")
		return &ValidationError{
			Type:    ErrTypeNetworkError,
			Message: "Network error - check your internet connection",
			Err:     err,
		}

	default:
		log.Error().Err(err).Msg("Unknown error during token verification")
		return &ValidationError{
			Type:    ErrTypeUnknown,
			Message: "Failed to verify token",
			Err:     err,
		}
	}
}

func classifyAPIError(err *pixelbin.APIError) *ValidationError {
	switch err.StatusCode {
	case 400:
		log.Error().Int("code", err.StatusCode).Msg("Bad request - possibly malformed token")
		return &ValidationError{
			Type:    ErrTypeInvalidKey,
			Message: "Bad request - token may be malformed",
			Err:     err,
		}

	case 401, 403:
		log.Error().Int("code", err.StatusCode).Msg("Authentication failed - invalid token")
		return &ValidationError{
			Type:    ErrTypeInvalidKey,
			Message: "Token is invalid, expired, or lacks permissions",
			Err:     err,
		}

	case 429:
		log.Error().Int("code", err.StatusCode).Msg("Rate limit exceeded")
		return &ValidationError{
			Type:    ErrTypeQuotaExceeded,
			Message: "Rate limit exceeded - try again later",
			Err:     err,
		}

	case 500, 502, 503, 504:
		log.Error().Int("code", err.StatusCode).Msg("Server error during verification")
		return &ValidationError{
			Type:    ErrTypeNetworkError,
			Message: "Pixelbin server error - try again later",
			Err:     err,
		}

	default:
		log.Error().Int("code", err.StatusCode).Str("message", err.Message).Msg("Pixelbin API error")
		return &ValidationError{
			Type:    ErrTypeUnknown,
			Message: err.Message,
			Err:     err,
		}
	}
}
