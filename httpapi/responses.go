package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/orchestrator"
	"github.com/goliatone/go-integrations/ratelimit"
	"github.com/goliatone/go-integrations/resilience"
)

type ErrorBody struct {
	Code     string           `json:"code"`
	Category string           `json:"category,omitempty"`
	Message  string           `json:"message"`
	Fields   []FieldError     `json:"fields,omitempty"`
	Workflow *WorkflowFailure `json:"workflow,omitempty"`
}

// WorkflowFailure tells the caller what a failed pull request workflow left
// on the remote. Resending RequestKey resumes the same branch.
type WorkflowFailure struct {
	Stage      string `json:"stage"`
	Branch     string `json:"branch,omitempty"`
	CommitSHA  string `json:"commitSha,omitempty"`
	PRNumber   int    `json:"prNumber,omitempty"`
	RequestKey string `json:"requestKey,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

type fileChangeRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Mode    string `json:"mode"`
}

type createPullRequestRequest struct {
	Owner         string              `json:"owner"`
	Name          string              `json:"name"`
	BaseBranch    string              `json:"baseBranch"`
	BranchPrefix  string              `json:"branchPrefix"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	WorkflowType  string              `json:"workflowType"`
	Changes       []fileChangeRequest `json:"changes"`
	TemplateData  map[string]any      `json:"templateData"`
	CommitMessage string              `json:"commitMessage"`
	Reviewers     []string            `json:"reviewers"`
	Labels        []string            `json:"labels"`
	Draft         bool                `json:"draft"`
	AutoMerge     bool                `json:"autoMerge"`
	RequestKey    string              `json:"requestKey"`
}

func (r createPullRequestRequest) toCreateRequest(tenantID string) orchestrator.CreateRequest {
	changes := make([]core.FileChange, 0, len(r.Changes))
	for _, change := range r.Changes {
		changes = append(changes, core.FileChange{
			Path:    change.Path,
			Content: change.Content,
			Mode:    core.FileChangeMode(change.Mode),
		})
	}
	return orchestrator.CreateRequest{
		TenantID:      tenantID,
		Repository:    core.RepositoryRef{Owner: r.Owner, Name: r.Name},
		BaseBranch:    r.BaseBranch,
		BranchPrefix:  r.BranchPrefix,
		Title:         r.Title,
		Description:   r.Description,
		WorkflowType:  r.WorkflowType,
		Changes:       changes,
		TemplateData:  r.TemplateData,
		CommitMessage: r.CommitMessage,
		Reviewers:     r.Reviewers,
		Labels:        r.Labels,
		Draft:         r.Draft,
		AutoMerge:     r.AutoMerge,
		RequestKey:    r.RequestKey,
	}
}

type createPullRequestResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"requestId"`
	PRNumber  int    `json:"prNumber"`
	PRURL     string `json:"prUrl"`
	Branch    string `json:"branch"`
	Existing  bool   `json:"existing"`
}

type changeRequestResponse struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenantId"`
	Repository   string     `json:"repository"`
	BaseBranch   string     `json:"baseBranch"`
	BranchName   string     `json:"branchName"`
	HeadSHA      string     `json:"headSha,omitempty"`
	PRNumber     int        `json:"prNumber"`
	PRURL        string     `json:"prUrl"`
	Title        string     `json:"title"`
	WorkflowType string     `json:"workflowType"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	MergedAt     *time.Time `json:"mergedAt,omitempty"`
	ClosedAt     *time.Time `json:"closedAt,omitempty"`
}

func toChangeRequestResponse(record core.AutonomousChangeRequest) changeRequestResponse {
	return changeRequestResponse{
		ID:           record.ID,
		TenantID:     record.TenantID,
		Repository:   record.Repository.FullName(),
		BaseBranch:   record.BaseBranch,
		BranchName:   record.BranchName,
		HeadSHA:      record.HeadSHA,
		PRNumber:     record.PRNumber,
		PRURL:        record.PRURL,
		Title:        record.Title,
		WorkflowType: string(record.WorkflowType),
		Status:       string(record.Status),
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
		MergedAt:     record.MergedAt,
		ClosedAt:     record.ClosedAt,
	}
}

type circuitResponse struct {
	TenantID            string     `json:"tenantId"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	OpenedAt            *time.Time `json:"openedAt,omitempty"`
	RetryAt             *time.Time `json:"retryAt,omitempty"`
}

func toCircuitResponse(snapshot resilience.CircuitSnapshot) circuitResponse {
	return circuitResponse{
		TenantID:            snapshot.TenantID,
		State:               string(snapshot.State),
		ConsecutiveFailures: snapshot.ConsecutiveFailures,
		OpenedAt:            snapshot.OpenedAt,
		RetryAt:             snapshot.RetryAt,
	}
}

type rateLimitResponse struct {
	TenantID  string    `json:"tenantId"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

func toRateLimitResponse(window ratelimit.Window) rateLimitResponse {
	return rateLimitResponse{
		TenantID:  window.TenantID,
		Limit:     window.Limit,
		Remaining: window.Remaining,
		ResetAt:   window.ResetAt,
	}
}

type subscriptionRequest struct {
	URL        string            `json:"url"`
	Events     []string          `json:"events"`
	Secret     string            `json:"secret"`
	Headers    map[string]string `json:"headers"`
	MaxRetries *int              `json:"maxRetries"`
}

type subscriptionResponse struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenantId"`
	URL        string            `json:"url"`
	Events     []string          `json:"events"`
	Secret     string            `json:"secret,omitempty"`
	Active     bool              `json:"active"`
	Headers    map[string]string `json:"headers,omitempty"`
	MaxRetries int               `json:"maxRetries"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// toSubscriptionResponse drops the signing secret unless revealSecret is set,
// which only happens on create.
func toSubscriptionResponse(sub core.OutboundWebhookSubscription, revealSecret bool) subscriptionResponse {
	out := subscriptionResponse{
		ID:         sub.ID,
		TenantID:   sub.TenantID,
		URL:        sub.URL,
		Events:     append([]string{}, sub.Events...),
		Active:     sub.Active,
		Headers:    core.CopyStringMap(sub.Headers),
		MaxRetries: sub.MaxRetries,
		CreatedAt:  sub.CreatedAt,
		UpdatedAt:  sub.UpdatedAt,
	}
	if revealSecret {
		out.Secret = sub.Secret
	}
	return out
}

type deliveryRecordResponse struct {
	ID             string    `json:"id"`
	EventType      string    `json:"eventType"`
	Attempt        int       `json:"attempt"`
	ResponseStatus int       `json:"responseStatus"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	DurationMS     int64     `json:"durationMs"`
	DeliveredAt    time.Time `json:"deliveredAt"`
}

func toDeliveryRecordResponse(record core.OutboundDeliveryRecord) deliveryRecordResponse {
	return deliveryRecordResponse{
		ID:             record.ID,
		EventType:      record.EventType,
		Attempt:        record.Attempt,
		ResponseStatus: record.ResponseStatus,
		Success:        record.Success,
		Error:          record.Error,
		DurationMS:     record.DurationMS,
		DeliveredAt:    record.DeliveredAt,
	}
}

type oauthCallbackRequest struct {
	Code string `json:"code"`
}

type connectionResponse struct {
	TenantID  string     `json:"tenantId"`
	Connected bool       `json:"connected"`
	TokenType string     `json:"tokenType,omitempty"`
	Scope     string     `json:"scope,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	rich := core.MapError(err)
	body := ErrorBody{
		Code:     rich.TextCode,
		Category: string(rich.Category),
		Message:  rich.Message,
	}
	for _, field := range rich.AllValidationErrors() {
		body.Fields = append(body.Fields, FieldError{Field: field.Field, Message: field.Message})
	}
	var wfErr *orchestrator.WorkflowError
	if errors.As(err, &wfErr) {
		body.Workflow = &WorkflowFailure{
			Stage:      string(wfErr.Stage),
			Branch:     wfErr.Branch,
			CommitSHA:  wfErr.CommitSHA,
			PRNumber:   wfErr.PRNumber,
			RequestKey: wfErr.RequestKey,
		}
	}
	status := rich.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorResponse{Success: false, Error: body})
}
