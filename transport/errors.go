package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) *goerrors.Error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ErrorValidation
	case goerrors.CategoryAuth:
		return core.ErrorAuthentication
	case goerrors.CategoryAuthz:
		return core.ErrorForbidden
	case goerrors.CategoryNotFound:
		return core.ErrorNotFound
	case goerrors.CategoryConflict:
		return core.ErrorConflict
	case goerrors.CategoryRateLimit:
		return core.ErrorRateLimited
	case goerrors.CategoryExternal:
		return core.ErrorTransient
	default:
		return core.ErrorInternal
	}
}

// StatusError classifies a non-2xx response into the integration error
// taxonomy. It returns nil for 2xx responses.
func StatusError(res Response, operation string) error {
	if res.OK() {
		return nil
	}
	message := fmt.Sprintf("%s: remote returned %d", operation, res.StatusCode)
	if detail := remoteMessage(res.Body); detail != "" {
		message += ": " + detail
	}
	metadata := map[string]any{"status_code": res.StatusCode, "operation": operation}
	if retryAfter := retryAfterMillis(res); retryAfter > 0 {
		metadata["retry_after_ms"] = retryAfter
	}

	switch {
	case res.StatusCode == http.StatusTooManyRequests || rateLimitExhausted(res):
		return transportError(message, goerrors.CategoryRateLimit, http.StatusTooManyRequests, metadata)
	case res.StatusCode == http.StatusUnauthorized:
		return transportError(message, goerrors.CategoryAuth, res.StatusCode, metadata)
	case res.StatusCode == http.StatusForbidden:
		return transportError(message, goerrors.CategoryAuthz, res.StatusCode, metadata)
	case res.StatusCode == http.StatusNotFound:
		return transportError(message, goerrors.CategoryNotFound, res.StatusCode, metadata)
	case res.StatusCode == http.StatusConflict:
		return transportError(message, goerrors.CategoryConflict, res.StatusCode, metadata)
	case res.StatusCode == http.StatusRequestTimeout || res.StatusCode >= 500:
		return transportError(message, goerrors.CategoryExternal, http.StatusBadGateway, metadata)
	default:
		return transportError(message, goerrors.CategoryValidation, res.StatusCode, metadata)
	}
}

// rateLimitExhausted recognizes GitHub's primary and secondary limits, which
// arrive as 403 rather than 429.
func rateLimitExhausted(res Response) bool {
	if res.StatusCode != http.StatusForbidden {
		return false
	}
	if strings.TrimSpace(res.Header("x-ratelimit-remaining")) == "0" {
		return true
	}
	if res.Header("retry-after") != "" {
		return true
	}
	return strings.Contains(strings.ToLower(remoteMessage(res.Body)), "rate limit")
}

func retryAfterMillis(res Response) int64 {
	value := strings.TrimSpace(res.Header("retry-after"))
	if value == "" {
		return 0
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return seconds * 1000
}

func remoteMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Message)
}
