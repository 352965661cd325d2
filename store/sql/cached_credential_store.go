package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-integrations/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const credentialCacheKeyPrefix = "go-integrations::oauth_credential::v1"

// CachedCredentialStore fronts a credential store with a read-through cache.
// Writes go to the base store first and then evict the tenant's entry.
type CachedCredentialStore struct {
	base  core.CredentialStore
	cache repositorycache.CacheService
}

func NewCachedCredentialStore(base core.CredentialStore, cacheService repositorycache.CacheService) (*CachedCredentialStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base credential store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: credential cache service is required")
	}
	return &CachedCredentialStore{base: base, cache: cacheService}, nil
}

// CredentialCacheKey returns go-integrations::oauth_credential::v1::<tenant_id>.
func CredentialCacheKey(tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", fmt.Errorf("sqlstore: tenant id is required for credential cache key")
	}
	return credentialCacheKeyPrefix + "::" + url.PathEscape(tenantID), nil
}

func (s *CachedCredentialStore) GetByTenant(ctx context.Context, tenantID string) (core.OAuthCredential, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.OAuthCredential{}, notConfigured("cached credential")
	}
	key, err := CredentialCacheKey(tenantID)
	if err != nil {
		return core.OAuthCredential{}, err
	}
	credential, err := repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (core.OAuthCredential, error) {
		return s.base.GetByTenant(ctx, strings.TrimSpace(tenantID))
	})
	if err != nil {
		return core.OAuthCredential{}, err
	}
	credential.ExpiresAt = utcPointer(credential.ExpiresAt)
	return credential, nil
}

func (s *CachedCredentialStore) Upsert(ctx context.Context, credential core.OAuthCredential) (core.OAuthCredential, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.OAuthCredential{}, notConfigured("cached credential")
	}
	saved, err := s.base.Upsert(ctx, credential)
	if err != nil {
		return core.OAuthCredential{}, err
	}
	return saved, s.evict(ctx, saved.TenantID)
}

func (s *CachedCredentialStore) DeleteByTenant(ctx context.Context, tenantID string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return notConfigured("cached credential")
	}
	if err := s.base.DeleteByTenant(ctx, tenantID); err != nil {
		return err
	}
	return s.evict(ctx, tenantID)
}

func (s *CachedCredentialStore) evict(ctx context.Context, tenantID string) error {
	key, err := CredentialCacheKey(tenantID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, key)
}
