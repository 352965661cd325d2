package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderLimit      = "x-ratelimit-limit"
	HeaderRemaining  = "x-ratelimit-remaining"
	HeaderReset      = "x-ratelimit-reset"
	HeaderRetryAfter = "retry-after"
)

// HeaderSnapshot is what a GitHub response says about the caller's budget.
type HeaderSnapshot struct {
	Limit        int
	HasLimit     bool
	Remaining    int
	HasRemaining bool
	ResetAt      time.Time
	HasResetAt   bool
	RetryAfter   time.Duration
}

func ParseHeaders(headers map[string]string, now time.Time) HeaderSnapshot {
	snapshot := HeaderSnapshot{}
	snapshot.Limit, snapshot.HasLimit = parseHeaderInt(headers, HeaderLimit)
	snapshot.Remaining, snapshot.HasRemaining = parseHeaderInt(headers, HeaderRemaining)
	snapshot.ResetAt, snapshot.HasResetAt = parseHeaderResetAt(headers)
	if retryAfter, ok := parseRetryAfter(headers, now); ok {
		snapshot.RetryAfter = retryAfter
	}
	return snapshot
}

func (s HeaderSnapshot) Empty() bool {
	return !s.HasLimit && !s.HasRemaining && !s.HasResetAt && s.RetryAfter <= 0
}

func parseRetryAfter(headers map[string]string, now time.Time) (time.Duration, bool) {
	raw := headerValue(headers, HeaderRetryAfter)
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := httpDate(raw); err == nil && retryAt.After(now) {
		return retryAt.Sub(now), true
	}
	return 0, false
}

func parseHeaderInt(headers map[string]string, key string) (int, bool) {
	value := headerValue(headers, key)
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func parseHeaderResetAt(headers map[string]string) (time.Time, bool) {
	value := headerValue(headers, HeaderReset)
	if value == "" {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil || unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

func httpDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("ratelimit: empty date")
	}
	if parsed, err := time.Parse(time.RFC1123, value); err == nil {
		return parsed.UTC(), nil
	}
	if parsed, err := time.Parse(time.RFC1123Z, value); err == nil {
		return parsed.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("ratelimit: invalid http date")
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
