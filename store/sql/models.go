package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type inboundEventRecord struct {
	bun.BaseModel `bun:"table:integration_inbound_events,alias:iie"`

	ID          string     `bun:"id,pk"`
	TenantID    string     `bun:"tenant_id,notnull"`
	DeliveryID  string     `bun:"delivery_id,notnull"`
	EventType   string     `bun:"event_type,notnull"`
	Repository  string     `bun:"repository,notnull"`
	Payload     []byte     `bun:"payload,notnull"`
	Signature   string     `bun:"signature,notnull"`
	Processed   bool       `bun:"processed,notnull"`
	ReceivedAt  time.Time  `bun:"received_at,notnull"`
	ProcessedAt *time.Time `bun:"processed_at,nullzero"`
}

// credentialRecord keeps tokens only in sealed form. EncryptedPayload holds
// the provider ciphertext of credentialSecrets.
type credentialRecord struct {
	bun.BaseModel `bun:"table:integration_oauth_credentials,alias:ioc"`

	ID                string     `bun:"id,pk"`
	TenantID          string     `bun:"tenant_id,notnull"`
	EncryptedPayload  []byte     `bun:"encrypted_payload,notnull"`
	PayloadFormat     string     `bun:"payload_format,notnull"`
	TokenType         string     `bun:"token_type,notnull"`
	Scope             string     `bun:"scope,notnull"`
	ExpiresAt         *time.Time `bun:"expires_at,nullzero"`
	EncryptionKeyID   string     `bun:"encryption_key_id,notnull"`
	EncryptionVersion int        `bun:"encryption_version,notnull"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type changeRequestRecord struct {
	bun.BaseModel `bun:"table:integration_change_requests,alias:icr"`

	ID            string     `bun:"id,pk"`
	TenantID      string     `bun:"tenant_id,notnull"`
	RepoOwner     string     `bun:"repo_owner,notnull"`
	RepoName      string     `bun:"repo_name,notnull"`
	RepositoryKey string     `bun:"repository_key,notnull"`
	BaseBranch    string     `bun:"base_branch,notnull"`
	BranchName    string     `bun:"branch_name,notnull"`
	HeadSHA       string     `bun:"head_sha,notnull"`
	PRNumber      int        `bun:"pr_number,notnull"`
	PRURL         string     `bun:"pr_url,notnull"`
	Title         string     `bun:"title,notnull"`
	Description   string     `bun:"description,notnull"`
	WorkflowType  string     `bun:"workflow_type,notnull"`
	Status        string     `bun:"status,notnull"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	MergedAt      *time.Time `bun:"merged_at,nullzero"`
	ClosedAt      *time.Time `bun:"closed_at,nullzero"`
}

type subscriptionRecord struct {
	bun.BaseModel `bun:"table:integration_webhook_subscriptions,alias:iws"`

	ID               string            `bun:"id,pk"`
	TenantID         string            `bun:"tenant_id,notnull"`
	URL              string            `bun:"url,notnull"`
	Events           []string          `bun:"events,type:jsonb,notnull"`
	SecretCiphertext []byte            `bun:"secret_ciphertext,notnull"`
	Active           bool              `bun:"active,notnull"`
	Headers          map[string]string `bun:"headers,type:jsonb,notnull"`
	MaxRetries       int               `bun:"max_retries,notnull"`
	CreatedAt        time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deliveryRecord struct {
	bun.BaseModel `bun:"table:integration_webhook_deliveries,alias:iwd"`

	ID             string    `bun:"id,pk"`
	SubscriptionID string    `bun:"subscription_id,notnull"`
	TenantID       string    `bun:"tenant_id,notnull"`
	EventType      string    `bun:"event_type,notnull"`
	Payload        []byte    `bun:"payload,notnull"`
	Attempt        int       `bun:"attempt,notnull"`
	ResponseStatus int       `bun:"response_status,notnull"`
	Success        bool      `bun:"success,notnull"`
	Error          string    `bun:"error,notnull"`
	DurationMS     int64     `bun:"duration_ms,notnull"`
	DeliveredAt    time.Time `bun:"delivered_at,notnull"`
}

type outboxRecord struct {
	bun.BaseModel `bun:"table:integration_outbox,alias:iob"`

	ID            string         `bun:"id,pk"`
	EventID       string         `bun:"event_id,notnull"`
	Topic         string         `bun:"topic,notnull"`
	EventType     string         `bun:"event_type,notnull"`
	TenantID      string         `bun:"tenant_id,notnull"`
	CorrelationID string         `bun:"correlation_id,notnull"`
	Payload       map[string]any `bun:"payload,type:jsonb,notnull"`
	Status        string         `bun:"status,notnull"`
	Attempts      int            `bun:"attempts,notnull"`
	NextAttemptAt *time.Time     `bun:"next_attempt_at,nullzero"`
	LastError     string         `bun:"last_error,notnull"`
	OccurredAt    time.Time      `bun:"occurred_at,notnull"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
