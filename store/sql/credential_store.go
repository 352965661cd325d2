package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const credentialPayloadFormat = "oauth_token_v1"

type credentialSecrets struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// keyIdentity is implemented by secret providers that can name the key they
// seal with.
type keyIdentity interface {
	KeyID() string
	Version() int
}

// CredentialStore keeps one OAuth credential per tenant. Access and refresh
// tokens are sealed with the secret provider before they reach the database.
type CredentialStore struct {
	db      *bun.DB
	repo    repository.Repository[*credentialRecord]
	secrets core.SecretProvider
}

func NewCredentialStore(db *bun.DB, secrets core.SecretProvider) (*CredentialStore, error) {
	if secrets == nil {
		return nil, fmt.Errorf("sqlstore: secret provider is required for credentials")
	}
	repo, err := newRepository(db, "credential", credentialHandlers())
	if err != nil {
		return nil, err
	}
	return &CredentialStore{db: db, repo: repo, secrets: secrets}, nil
}

func (s *CredentialStore) Upsert(ctx context.Context, credential core.OAuthCredential) (core.OAuthCredential, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.OAuthCredential{}, notConfigured("credential")
	}
	tenantID := strings.TrimSpace(credential.TenantID)
	if tenantID == "" {
		return core.OAuthCredential{}, core.ValidationError("sqlstore: tenant id is required")
	}
	credential.TenantID = tenantID

	sealed, err := s.seal(ctx, credential)
	if err != nil {
		return core.OAuthCredential{}, err
	}
	now := time.Now().UTC()

	var saved *credentialRecord
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current := &credentialRecord{}
		selectErr := tx.NewSelect().
			Model(current).
			Where("?TableAlias.tenant_id = ?", tenantID).
			Limit(1).
			Scan(ctx)
		switch {
		case errors.Is(selectErr, sql.ErrNoRows):
			sealed.ID = strings.TrimSpace(credential.ID)
			if sealed.ID == "" {
				sealed.ID = uuid.NewString()
			}
			sealed.CreatedAt = now
			sealed.UpdatedAt = now
			created, createErr := s.repo.CreateTx(ctx, tx, sealed)
			if createErr != nil {
				return mapWriteError(createErr, "credential already exists for tenant")
			}
			saved = created
			return nil
		case selectErr != nil:
			return selectErr
		}

		sealed.ID = current.ID
		sealed.CreatedAt = current.CreatedAt
		sealed.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().Model(sealed).WherePK().Exec(ctx); updateErr != nil {
			return updateErr
		}
		saved = sealed
		return nil
	})
	if err != nil {
		return core.OAuthCredential{}, err
	}
	return s.open(ctx, saved)
}

func (s *CredentialStore) GetByTenant(ctx context.Context, tenantID string) (core.OAuthCredential, error) {
	if s == nil || s.repo == nil {
		return core.OAuthCredential{}, notConfigured("credential")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.OAuthCredential{}, err
	}
	if len(records) == 0 {
		return core.OAuthCredential{}, notFound("credential for tenant %q not found", tenantID)
	}
	return s.open(ctx, records[0])
}

func (s *CredentialStore) DeleteByTenant(ctx context.Context, tenantID string) error {
	if s == nil || s.db == nil {
		return notConfigured("credential")
	}
	_, err := s.db.NewDelete().
		Model((*credentialRecord)(nil)).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Exec(ctx)
	return err
}

func (s *CredentialStore) seal(ctx context.Context, credential core.OAuthCredential) (*credentialRecord, error) {
	plaintext, err := json.Marshal(credentialSecrets{
		AccessToken:  credential.AccessToken,
		RefreshToken: credential.RefreshToken,
	})
	if err != nil {
		return nil, err
	}
	ciphertext, err := s.secrets.Encrypt(ctx, plaintext)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: seal credential: %w", err)
	}
	record := &credentialRecord{
		TenantID:         credential.TenantID,
		EncryptedPayload: ciphertext,
		PayloadFormat:    credentialPayloadFormat,
		TokenType:        strings.TrimSpace(credential.TokenType),
		Scope:            strings.TrimSpace(credential.Scope),
	}
	if credential.ExpiresAt != nil {
		expiresAt := credential.ExpiresAt.UTC()
		record.ExpiresAt = &expiresAt
	}
	if identity, ok := s.secrets.(keyIdentity); ok {
		record.EncryptionKeyID = identity.KeyID()
		record.EncryptionVersion = identity.Version()
	}
	return record, nil
}

func (s *CredentialStore) open(ctx context.Context, record *credentialRecord) (core.OAuthCredential, error) {
	if record == nil {
		return core.OAuthCredential{}, notFound("credential not found")
	}
	if record.PayloadFormat != credentialPayloadFormat {
		return core.OAuthCredential{}, fmt.Errorf("sqlstore: unsupported credential payload format %q", record.PayloadFormat)
	}
	plaintext, err := s.secrets.Decrypt(ctx, record.EncryptedPayload)
	if err != nil {
		return core.OAuthCredential{}, fmt.Errorf("sqlstore: open credential for tenant %q: %w", record.TenantID, err)
	}
	var secrets credentialSecrets
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return core.OAuthCredential{}, fmt.Errorf("sqlstore: decode credential payload: %w", err)
	}
	credential := core.OAuthCredential{
		ID:           record.ID,
		TenantID:     record.TenantID,
		AccessToken:  secrets.AccessToken,
		RefreshToken: secrets.RefreshToken,
		TokenType:    record.TokenType,
		Scope:        record.Scope,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
	if record.ExpiresAt != nil {
		expiresAt := record.ExpiresAt.UTC()
		credential.ExpiresAt = &expiresAt
	}
	return credential, nil
}
