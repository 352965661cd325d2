package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
)

type OAuthOption func(*OAuth)

func WithOAuthEndpoint(endpoint oauth2.Endpoint) OAuthOption {
	return func(o *OAuth) {
		o.config.Endpoint = endpoint
	}
}

func WithOAuthHTTPClient(client *http.Client) OAuthOption {
	return func(o *OAuth) {
		o.httpClient = client
	}
}

func WithOAuthClock(now func() time.Time) OAuthOption {
	return func(o *OAuth) {
		if now != nil {
			o.now = now
		}
	}
}

func WithOAuthObserver(observer core.Observer) OAuthOption {
	return func(o *OAuth) {
		o.observer = observer
	}
}

// OAuth runs the GitHub OAuth web flow and serves stored tenant tokens to
// the REST client, refreshing them when GitHub issued a refresh token.
type OAuth struct {
	config     *oauth2.Config
	store      core.CredentialStore
	httpClient *http.Client
	observer   core.Observer
	now        func() time.Time
}

func NewOAuth(cfg core.GitHubConfig, store core.CredentialStore, opts ...OAuthOption) (*OAuth, error) {
	if store == nil {
		return nil, fmt.Errorf("github: credential store is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("github: oauth client id is required")
	}
	flow := &OAuth{
		config: &oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			RedirectURL:  strings.TrimSpace(cfg.RedirectURL),
			Scopes:       append([]string(nil), cfg.Scopes...),
			Endpoint:     githuboauth.Endpoint,
		},
		store:    store,
		observer: core.NewObserver(nil, nil, ""),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(flow)
		}
	}
	return flow, nil
}

// AuthCodeURL is the consent URL the tenant is redirected to. state must be
// verified by the caller when GitHub redirects back.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token and stores it as the
// tenant's single credential.
func (o *OAuth) Exchange(ctx context.Context, tenantID, code string) (credential core.OAuthCredential, err error) {
	startedAt := time.Now()
	defer func() {
		o.observer.Observe(ctx, startedAt, "github_oauth_exchange", err, map[string]any{"tenant_id": tenantID})
	}()

	if err := core.ValidateTenantID(tenantID); err != nil {
		return core.OAuthCredential{}, core.ValidationError(err.Error())
	}
	if strings.TrimSpace(code) == "" {
		return core.OAuthCredential{}, core.ValidationError("github: authorization code is required")
	}
	token, err := o.config.Exchange(o.clientContext(ctx), strings.TrimSpace(code))
	if err != nil {
		return core.OAuthCredential{}, exchangeError(err)
	}
	return o.store.Upsert(ctx, o.credentialFromToken(tenantID, token))
}

// Token implements TokenSource over the credential store.
func (o *OAuth) Token(ctx context.Context, tenantID string) (*oauth2.Token, error) {
	credential, err := o.store.GetByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) || core.HasTextCode(err, core.ErrorNotFound) {
			return nil, core.AuthenticationError("github: tenant has not connected a github account")
		}
		return nil, err
	}
	if !credential.Expired(o.now()) {
		return tokenFromCredential(credential), nil
	}
	if strings.TrimSpace(credential.RefreshToken) == "" {
		return nil, core.AuthenticationError("github: access token expired; reconnect the github account")
	}

	expired := tokenFromCredential(credential)
	expired.Expiry = o.now().Add(-time.Minute)
	refreshed, err := o.config.TokenSource(o.clientContext(ctx), expired).Token()
	if err != nil {
		return nil, exchangeError(err)
	}
	if _, err := o.store.Upsert(ctx, o.credentialFromToken(tenantID, refreshed)); err != nil {
		o.observer.Warn(ctx, "refreshed github token not stored", map[string]any{
			"tenant_id": tenantID,
			"error":     err.Error(),
		})
	}
	return refreshed, nil
}

func (o *OAuth) Disconnect(ctx context.Context, tenantID string) error {
	return o.store.DeleteByTenant(ctx, tenantID)
}

func (o *OAuth) clientContext(ctx context.Context) context.Context {
	if o.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

func (o *OAuth) credentialFromToken(tenantID string, token *oauth2.Token) core.OAuthCredential {
	credential := core.OAuthCredential{
		TenantID:     tenantID,
		AccessToken:  token.AccessToken,
		TokenType:    token.Type(),
		RefreshToken: token.RefreshToken,
		UpdatedAt:    o.now(),
	}
	if scope, ok := token.Extra("scope").(string); ok {
		credential.Scope = scope
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		credential.ExpiresAt = &expiry
	}
	return credential
}

func tokenFromCredential(credential core.OAuthCredential) *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  credential.AccessToken,
		TokenType:    credential.TokenType,
		RefreshToken: credential.RefreshToken,
	}
	if credential.ExpiresAt != nil {
		token.Expiry = *credential.ExpiresAt
	}
	return token
}

func exchangeError(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) && retrieve.Response != nil && retrieve.Response.StatusCode < 500 {
		return core.WrapError(err, goerrors.CategoryAuth, core.ErrorAuthentication, "github: oauth token request rejected")
	}
	return core.TransientError(err, "github: oauth token request failed")
}
