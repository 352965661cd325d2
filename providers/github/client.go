// Package github is a small GitHub REST client scoped to what autonomous
// pull requests need: refs, git data, pull requests, statuses and the
// rate-limit endpoint. Every response feeds the tenant's rate-limit window.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/transport"
	"golang.org/x/oauth2"
)

const (
	DefaultAPIBaseURL = "https://api.github.com"
	apiVersion        = "2022-11-28"
	mediaType         = "application/vnd.github+json"
)

// TokenSource returns the OAuth token to call GitHub with on behalf of a tenant.
type TokenSource interface {
	Token(ctx context.Context, tenantID string) (*oauth2.Token, error)
}

type TokenSourceFunc func(ctx context.Context, tenantID string) (*oauth2.Token, error)

func (f TokenSourceFunc) Token(ctx context.Context, tenantID string) (*oauth2.Token, error) {
	return f(ctx, tenantID)
}

// HeaderSink receives the rate-limit headers of every response.
type HeaderSink interface {
	UpdateFromHeaders(tenantID string, headers map[string]string) bool
}

type Option func(*Client)

func WithHTTPClient(client transport.HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.rest.Client = client
		}
	}
}

func WithHeaderSink(sink HeaderSink) Option {
	return func(c *Client) {
		c.sink = sink
	}
}

func WithObserver(observer core.Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

type Client struct {
	baseURL  string
	rest     *transport.RESTAdapter
	tokens   TokenSource
	sink     HeaderSink
	observer core.Observer
}

func New(cfg core.GitHubConfig, tokens TokenSource, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("github: token source is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("github: invalid api base url: %w", err)
	}
	rest := transport.NewRESTAdapter(nil)
	rest.DefaultHeaders["Accept"] = mediaType
	rest.DefaultHeaders["X-GitHub-Api-Version"] = apiVersion
	client := &Client{
		baseURL:  baseURL,
		rest:     rest,
		tokens:   tokens,
		observer: core.NewObserver(nil, nil, ""),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type call struct {
	operation string
	method    string
	path      string
	query     map[string]string
	body      any
	out       any
}

// do executes one API call. Non-2xx responses come back as classified errors
// together with the response so callers can special-case known statuses.
func (c *Client) do(ctx context.Context, tenantID string, req call) (res transport.Response, err error) {
	startedAt := time.Now()
	defer func() {
		c.observer.Observe(ctx, startedAt, "github_"+req.operation, err, map[string]any{
			"tenant_id":   tenantID,
			"status_code": res.StatusCode,
		})
	}()

	token, err := c.tokens.Token(ctx, tenantID)
	if err != nil {
		return res, err
	}
	if token == nil || strings.TrimSpace(token.AccessToken) == "" {
		return res, core.AuthenticationError("github: tenant has no access token")
	}

	res, err = c.rest.Do(ctx, transport.Request{
		Method: req.method,
		URL:    c.baseURL + req.path,
		Query:  req.query,
		JSON:   req.body,
		Auth:   token,
	})
	if err != nil {
		return res, err
	}
	if c.sink != nil {
		c.sink.UpdateFromHeaders(tenantID, res.Headers)
	}
	if err := transport.StatusError(res, "github."+req.operation); err != nil {
		return res, err
	}
	return res, res.DecodeJSON(req.out)
}

func repoPath(repo core.RepositoryRef, suffix string) string {
	return "/repos/" + url.PathEscape(strings.TrimSpace(repo.Owner)) + "/" + url.PathEscape(strings.TrimSpace(repo.Name)) + suffix
}

// branchPath escapes each segment so branches with slashes stay addressable.
func branchPath(branch string) string {
	parts := strings.Split(strings.Trim(strings.TrimSpace(branch), "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func validationFailed(res transport.Response, needle string) bool {
	return res.StatusCode == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(string(res.Body)), needle)
}
