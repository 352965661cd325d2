package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidTenantID                = errors.New("core: invalid tenant id")
	ErrInvalidChangeRequestTransition = errors.New("core: invalid change request status transition")
	ErrInvalidWorkflowType            = errors.New("core: invalid workflow type")
	ErrInvalidFileChangeMode          = errors.New("core: invalid file change mode")
)

const (
	TopicGitHubEvents        = "github.events"
	TopicAutonomousPR        = "autonomous.pr"
	EventAutonomousPRCreated = "autonomous.pr.created"
	EventAutonomousPRMerged  = "autonomous.pr.merged"
	EventAutonomousPRClosed  = "autonomous.pr.closed"

	MaxSubscriptionRetries = 5
)

// ValidateTenantID accepts only canonical UUID tenant identifiers.
func ValidateTenantID(tenantID string) error {
	trimmed := strings.TrimSpace(tenantID)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTenantID)
	}
	if _, err := uuid.Parse(trimmed); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTenantID, tenantID)
	}
	return nil
}

type RepositoryRef struct {
	Owner string
	Name  string
}

func (r RepositoryRef) FullName() string {
	owner := strings.TrimSpace(r.Owner)
	name := strings.TrimSpace(r.Name)
	if owner == "" {
		return name
	}
	return owner + "/" + name
}

func (r RepositoryRef) Validate() error {
	if strings.TrimSpace(r.Owner) == "" || strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("core: repository owner and name are required")
	}
	if strings.ContainsAny(r.Owner+r.Name, "/ ") {
		return fmt.Errorf("core: repository owner and name must not contain slashes or spaces")
	}
	return nil
}

type InboundWebhookEvent struct {
	ID          string
	TenantID    string
	DeliveryID  string
	EventType   string
	Repository  string
	Payload     []byte
	Signature   string
	ReceivedAt  time.Time
	Processed   bool
	ProcessedAt *time.Time
}

type OAuthCredential struct {
	ID           string
	TenantID     string
	AccessToken  string
	TokenType    string
	Scope        string
	ExpiresAt    *time.Time
	RefreshToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the credential has a known expiry that has passed.
func (c OAuthCredential) Expired(now time.Time) bool {
	if c.ExpiresAt == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(*c.ExpiresAt)
}

type WorkflowType string

const (
	WorkflowOntologyRefactor WorkflowType = "ontology-refactor"
	WorkflowCodeGeneration   WorkflowType = "code-generation"
	WorkflowBugFix           WorkflowType = "bug-fix"
	WorkflowFeatureAddition  WorkflowType = "feature-addition"
	WorkflowRefactor         WorkflowType = "refactor"
	WorkflowGeneral          WorkflowType = "general"
)

var workflowTypes = map[WorkflowType]struct{}{
	WorkflowOntologyRefactor: {},
	WorkflowCodeGeneration:   {},
	WorkflowBugFix:           {},
	WorkflowFeatureAddition:  {},
	WorkflowRefactor:         {},
	WorkflowGeneral:          {},
}

// ParseWorkflowType normalizes a workflow tag; empty tags resolve to general.
func ParseWorkflowType(value string) (WorkflowType, error) {
	normalized := WorkflowType(strings.TrimSpace(strings.ToLower(strings.ReplaceAll(value, "_", "-"))))
	if normalized == "" {
		return WorkflowGeneral, nil
	}
	if _, ok := workflowTypes[normalized]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidWorkflowType, value)
	}
	return normalized, nil
}

type ChangeRequestStatus string

const (
	ChangeRequestOpen   ChangeRequestStatus = "open"
	ChangeRequestMerged ChangeRequestStatus = "merged"
	ChangeRequestClosed ChangeRequestStatus = "closed"
	ChangeRequestFailed ChangeRequestStatus = "failed"
)

type AutonomousChangeRequest struct {
	ID           string
	TenantID     string
	Repository   RepositoryRef
	BaseBranch   string
	BranchName   string
	HeadSHA      string
	PRNumber     int
	PRURL        string
	Title        string
	Description  string
	WorkflowType WorkflowType
	Status       ChangeRequestStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MergedAt     *time.Time
	ClosedAt     *time.Time
}

// TransitionTo moves the request forward. Merged and closed are terminal; a
// failed request may still be merged or closed by a human.
func (r *AutonomousChangeRequest) TransitionTo(status ChangeRequestStatus, now time.Time) error {
	if r == nil {
		return nil
	}
	if !changeRequestTransitionAllowed(r.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidChangeRequestTransition, r.Status, status)
	}
	r.Status = status
	r.UpdatedAt = now
	switch status {
	case ChangeRequestMerged:
		merged := now
		r.MergedAt = &merged
	case ChangeRequestClosed:
		closed := now
		r.ClosedAt = &closed
	}
	return nil
}

func changeRequestTransitionAllowed(from, to ChangeRequestStatus) bool {
	switch from {
	case ChangeRequestOpen:
		return to == ChangeRequestMerged || to == ChangeRequestClosed || to == ChangeRequestFailed
	case ChangeRequestFailed:
		return to == ChangeRequestMerged || to == ChangeRequestClosed
	default:
		return false
	}
}

type FileChangeMode string

const (
	FileChangeCreate FileChangeMode = "create"
	FileChangeUpdate FileChangeMode = "update"
	FileChangeDelete FileChangeMode = "delete"
)

type FileChange struct {
	Path    string
	Content string
	Mode    FileChangeMode
}

func (c FileChange) Validate() error {
	path := strings.TrimSpace(c.Path)
	if path == "" {
		return fmt.Errorf("core: file change path is required")
	}
	if strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		return fmt.Errorf("core: file change path %q must be relative to the repository root", c.Path)
	}
	switch c.Mode {
	case FileChangeCreate, FileChangeUpdate, FileChangeDelete:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFileChangeMode, c.Mode)
	}
}

type OutboundWebhookSubscription struct {
	ID         string
	TenantID   string
	URL        string
	Events     []string
	Secret     string
	Active     bool
	Headers    map[string]string
	MaxRetries int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Subscribes reports whether the subscription wants the named event. A "*"
// entry matches every event.
func (s OutboundWebhookSubscription) Subscribes(eventType string) bool {
	eventType = strings.TrimSpace(eventType)
	for _, name := range s.Events {
		name = strings.TrimSpace(name)
		if name == "*" || strings.EqualFold(name, eventType) {
			return true
		}
	}
	return false
}

// RetryBudget returns the configured retry count clamped to [0, MaxSubscriptionRetries].
func (s OutboundWebhookSubscription) RetryBudget() int {
	switch {
	case s.MaxRetries < 0:
		return 0
	case s.MaxRetries > MaxSubscriptionRetries:
		return MaxSubscriptionRetries
	default:
		return s.MaxRetries
	}
}

type OutboundDeliveryRecord struct {
	ID             string
	SubscriptionID string
	TenantID       string
	EventType      string
	Payload        []byte
	Attempt        int
	ResponseStatus int
	Success        bool
	Error          string
	DurationMS     int64
	DeliveredAt    time.Time
}

type DomainEvent struct {
	ID            string
	Topic         string
	EventType     string
	TenantID      string
	Payload       map[string]any
	CorrelationID string
	Timestamp     time.Time
}

// NewDomainEvent stamps identity and timestamp on an event.
func NewDomainEvent(topic, eventType, tenantID string, payload map[string]any, correlationID string) DomainEvent {
	return DomainEvent{
		ID:            uuid.NewString(),
		Topic:         strings.TrimSpace(topic),
		EventType:     strings.TrimSpace(eventType),
		TenantID:      strings.TrimSpace(tenantID),
		Payload:       CopyAnyMap(payload),
		CorrelationID: strings.TrimSpace(correlationID),
		Timestamp:     time.Now().UTC(),
	}
}

func CopyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func CopyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
