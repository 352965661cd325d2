package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

type parser struct {
	required []string
	decode   func([]byte) (Event, error)
}

var parsers = map[string]parser{
	TypePush: {
		required: []string{"ref", "after", "commits", "repository", "repository.full_name", "sender", "sender.login"},
		decode:   decodeAs[PushEvent],
	},
	TypePullRequest: {
		required: []string{"action", "number", "pull_request", "pull_request.head", "pull_request.base", "repository", "repository.full_name", "sender", "sender.login"},
		decode:   decodeAs[PullRequestEvent],
	},
	TypeIssues: {
		required: []string{"action", "issue", "issue.number", "repository", "repository.full_name", "sender", "sender.login"},
		decode:   decodeAs[IssuesEvent],
	},
	TypeIssueComment: {
		required: []string{"action", "issue", "issue.number", "comment", "comment.body", "repository", "repository.full_name", "sender", "sender.login"},
		decode:   decodeAs[IssueCommentEvent],
	},
	TypePullRequestReview: {
		required: []string{"action", "review", "review.state", "pull_request", "pull_request.number", "repository", "repository.full_name", "sender", "sender.login"},
		decode:   decodeAs[PullRequestReviewEvent],
	},
}

// SupportedTypes lists the event type tags Parse accepts.
func SupportedTypes() []string {
	types := make([]string, 0, len(parsers))
	for eventType := range parsers {
		types = append(types, eventType)
	}
	sort.Strings(types)
	return types
}

func IsSupported(eventType string) bool {
	_, ok := parsers[normalizeType(eventType)]
	return ok
}

// Parse validates payload against the shape declared by eventType. Required
// fields must be present and non-null; nothing is defaulted.
func Parse(eventType string, payload []byte) (Event, error) {
	normalized := normalizeType(eventType)
	p, ok := parsers[normalized]
	if !ok {
		return nil, UnsupportedError(eventType)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, MalformedError(normalized, fmt.Errorf("empty payload"))
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, MalformedError(normalized, err)
	}
	for _, field := range p.required {
		if !present(raw, field) {
			return nil, MissingFieldError(normalized, field)
		}
	}
	event, err := p.decode(payload)
	if err != nil {
		return nil, MalformedError(normalized, err)
	}
	return event, nil
}

// As narrows ev to the concrete event type T.
func As[T Event](ev Event) (T, error) {
	var zero T
	typed, ok := ev.(T)
	if !ok {
		actual := "<nil>"
		if ev != nil {
			actual = ev.EventType()
		}
		return zero, TypeMismatchError(actual, strings.TrimPrefix(fmt.Sprintf("%T", zero), "events."))
	}
	return typed, nil
}

func UnsupportedError(eventType string) *goerrors.Error {
	return core.NewError(
		fmt.Sprintf("events: event type %q is not supported", eventType),
		goerrors.CategoryValidation,
		core.ErrorUnsupportedEvent,
	).WithMetadata(map[string]any{"event_type": eventType, "supported": SupportedTypes()})
}

func MissingFieldError(eventType, field string) *goerrors.Error {
	return core.NewError(
		fmt.Sprintf("events: %s payload is missing required field %q", eventType, field),
		goerrors.CategoryValidation,
		core.ErrorMissingField,
	).WithMetadata(map[string]any{"event_type": eventType, "field": field})
}

func MalformedError(eventType string, cause error) *goerrors.Error {
	return core.WrapError(
		cause,
		goerrors.CategoryBadInput,
		core.ErrorMalformedPayload,
		fmt.Sprintf("events: %s payload is not valid JSON for its type", eventType),
	)
}

func TypeMismatchError(actual, requested string) *goerrors.Error {
	return core.NewError(
		fmt.Sprintf("events: %s event cannot be read as %s", actual, requested),
		goerrors.CategoryValidation,
		core.ErrorTypeMismatch,
	)
}

func decodeAs[T Event](payload []byte) (Event, error) {
	var event T
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return event, nil
}

func present(raw map[string]any, path string) bool {
	var current any = raw
	for _, part := range strings.Split(path, ".") {
		object, ok := current.(map[string]any)
		if !ok {
			return false
		}
		value, ok := object[part]
		if !ok || value == nil {
			return false
		}
		current = value
	}
	return true
}

func normalizeType(eventType string) string {
	return strings.ToLower(strings.TrimSpace(eventType))
}
