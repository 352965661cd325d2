package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorAuthentication   = "INTEGRATION_AUTHENTICATION"
	ErrorForbidden        = "INTEGRATION_FORBIDDEN"
	ErrorValidation       = "INTEGRATION_VALIDATION"
	ErrorRateLimited      = "INTEGRATION_RATE_LIMITED"
	ErrorNotFound         = "INTEGRATION_NOT_FOUND"
	ErrorConflict         = "INTEGRATION_CONFLICT"
	ErrorTransient        = "INTEGRATION_TRANSIENT"
	ErrorCircuitOpen      = "INTEGRATION_CIRCUIT_OPEN"
	ErrorUnsupportedEvent = "INTEGRATION_EVENT_UNSUPPORTED"
	ErrorMissingField     = "INTEGRATION_MISSING_FIELD"
	ErrorTypeMismatch     = "INTEGRATION_TYPE_MISMATCH"
	ErrorMalformedPayload = "INTEGRATION_MALFORMED_PAYLOAD"
	ErrorSignatureInvalid = "INTEGRATION_SIGNATURE_INVALID"
	ErrorURLRejected      = "INTEGRATION_URL_REJECTED"
	ErrorInternal         = "INTEGRATION_INTERNAL_ERROR"
)

// NewError builds a go-errors envelope with the HTTP status that matches the category.
func NewError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

// WrapError wraps source keeping it reachable through goerrors.As/errors.Is.
func WrapError(source error, category goerrors.Category, textCode string, message string) *goerrors.Error {
	if source == nil {
		return NewError(message, category, textCode)
	}
	return ensureErrorEnvelope(
		goerrors.Wrap(source, category, message).
			WithTextCode(textCode),
	)
}

func AuthenticationError(message string) *goerrors.Error {
	return NewError(message, goerrors.CategoryAuth, ErrorAuthentication)
}

func ValidationError(message string) *goerrors.Error {
	return NewError(message, goerrors.CategoryValidation, ErrorValidation)
}

// FieldError reports one invalid input field. scope prefixes the message,
// e.g. "command" or "query".
func FieldError(scope, field, message string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.NewValidation(scope+": validation failed", goerrors.FieldError{Field: field, Message: message}).
			WithTextCode(ErrorValidation),
	)
}

// DependencyError reports a handler that was built without a collaborator.
func DependencyError(message string) *goerrors.Error {
	return NewError(message, goerrors.CategoryInternal, ErrorInternal)
}

func NotFoundError(message string) *goerrors.Error {
	return NewError(message, goerrors.CategoryNotFound, ErrorNotFound)
}

func ConflictError(message string) *goerrors.Error {
	return NewError(message, goerrors.CategoryConflict, ErrorConflict)
}

func TransientError(source error, message string) *goerrors.Error {
	return WrapError(source, goerrors.CategoryExternal, ErrorTransient, message)
}

func RateLimitedError(message string) *goerrors.Error {
	return NewError(message, goerrors.CategoryRateLimit, ErrorRateLimited)
}

func CircuitOpenError(message string) *goerrors.Error {
	return NewError(message, goerrors.CategoryOperation, ErrorCircuitOpen)
}

// TextCode returns the stable text code of a go-errors envelope, or "".
func TextCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		return strings.TrimSpace(rich.TextCode)
	}
	return ""
}

func HasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	return TextCode(err) == code
}

func IsCircuitOpen(err error) bool {
	return HasTextCode(err, ErrorCircuitOpen)
}

// IsRetryable reports whether a failure is transient: network, 5xx, timeouts
// and explicit rate-limit signals. Circuit-open failures are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var retryable interface{ Retryable() bool }
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil {
		return false
	}
	switch rich.TextCode {
	case ErrorTransient, ErrorRateLimited:
		return true
	case ErrorCircuitOpen:
		return false
	}
	switch rich.Category {
	case goerrors.CategoryExternal, goerrors.CategoryRateLimit:
		return true
	}
	return false
}

// MapError converts any error into a go-errors envelope for transport adapters.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}
	if errors.Is(err, ErrNotFound) {
		return WrapError(err, goerrors.CategoryNotFound, ErrorNotFound, err.Error())
	}
	if errors.Is(err, ErrInvalidTenantID) ||
		errors.Is(err, ErrInvalidWorkflowType) ||
		errors.Is(err, ErrInvalidFileChangeMode) {
		return WrapError(err, goerrors.CategoryValidation, ErrorValidation, err.Error())
	}
	if errors.Is(err, ErrInvalidChangeRequestTransition) {
		return WrapError(err, goerrors.CategoryConflict, ErrorConflict, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(err, goerrors.CategoryExternal, ErrorTransient, "operation timed out")
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "rate limit"):
		return NewError(err.Error(), goerrors.CategoryRateLimit, ErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return NewError(err.Error(), goerrors.CategoryBadInput, ErrorValidation)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = statusForError(err)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorValidation
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth:
		return ErrorAuthentication
	case goerrors.CategoryAuthz:
		return ErrorForbidden
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorTransient
	default:
		return ErrorInternal
	}
}

func statusForError(err *goerrors.Error) int {
	if err.TextCode == ErrorCircuitOpen {
		return http.StatusServiceUnavailable
	}
	switch err.Category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	case goerrors.CategoryOperation:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
