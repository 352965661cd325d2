package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const KindREST = "rest"

const (
	defaultRESTClientTimeout     = 30 * time.Second
	defaultRESTResponseBodyLimit = int64(10 << 20)
	contentTypeJSON              = "application/json"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Authorizer sets credentials on an outgoing request. *oauth2.Token
// satisfies it.
type Authorizer interface {
	SetAuthHeader(r *http.Request)
}

// Request describes one call. JSON, when set, is encoded as the body and
// takes precedence over Body. TruncateResponseBody keeps the first
// MaxResponseBodyBytes of a longer body instead of failing the call.
type Request struct {
	Method               string
	URL                  string
	Query                map[string]string
	Headers              map[string]string
	Body                 []byte
	JSON                 any
	Auth                 Authorizer
	Timeout              time.Duration
	MaxResponseBodyBytes int64
	TruncateResponseBody bool
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Truncated  bool
	Duration   time.Duration
}

func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Header looks a response header up case-insensitively.
func (r Response) Header(name string) string {
	if value, ok := r.Headers[strings.ToLower(name)]; ok {
		return value
	}
	for key, value := range r.Headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}

// DecodeJSON unmarshals a non-empty body into out.
func (r Response) DecodeJSON(out any) error {
	if out == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return transportWrapError(err, goerrors.CategoryExternal, "transport: decode response body",
			http.StatusBadGateway, map[string]any{"adapter": KindREST, "status_code": r.StatusCode})
	}
	return nil
}

type RESTAdapter struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultRESTClientTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		DefaultHeaders:       map[string]string{},
		MaxResponseBodyBytes: defaultRESTResponseBodyLimit,
	}
}

func (*RESTAdapter) Kind() string {
	return KindREST
}

// Do executes req. Any HTTP status comes back as a Response; errors are kept
// for requests that cannot be built, sent or read.
func (a *RESTAdapter) Do(ctx context.Context, req Request) (Response, error) {
	if a == nil || a.Client == nil {
		return Response{}, transportError("transport: rest adapter requires an http client",
			goerrors.CategoryInternal, http.StatusInternalServerError, map[string]any{"adapter": KindREST})
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := a.buildRequest(ctx, req)
	if err != nil {
		return Response{}, err
	}
	meta := map[string]any{"adapter": KindREST, "method": httpReq.Method, "url": httpReq.URL.Redacted()}

	startedAt := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return Response{}, transportWrapError(err, goerrors.CategoryExternal,
			"transport: execute http request", http.StatusBadGateway, meta)
	}
	defer httpRes.Body.Close()

	limit := firstPositive(req.MaxResponseBodyBytes, a.MaxResponseBodyBytes, defaultRESTResponseBodyLimit)
	meta["status_code"] = httpRes.StatusCode
	body, truncated, err := readLimited(httpRes.Body, limit, req.TruncateResponseBody, meta)
	if err != nil {
		return Response{}, err
	}
	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    FlattenHeaders(httpRes.Header),
		Body:       body,
		Truncated:  truncated,
		Duration:   time.Since(startedAt),
	}, nil
}

func (a *RESTAdapter) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		return nil, transportError("transport: request url is required",
			goerrors.CategoryBadInput, http.StatusBadRequest, map[string]any{"adapter": KindREST})
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, transportWrapError(err, goerrors.CategoryBadInput, "transport: invalid request url",
			http.StatusBadRequest, map[string]any{"adapter": KindREST, "url": rawURL})
	}
	if len(req.Query) > 0 {
		values := target.Query()
		for key, value := range req.Query {
			if key = strings.TrimSpace(key); key != "" {
				values.Set(key, strings.TrimSpace(value))
			}
		}
		target.RawQuery = values.Encode()
	}

	payload := req.Body
	if req.JSON != nil {
		payload, err = json.Marshal(req.JSON)
		if err != nil {
			return nil, transportWrapError(err, goerrors.CategoryInternal, "transport: encode request body",
				http.StatusInternalServerError, map[string]any{"adapter": KindREST})
		}
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, transportWrapError(err, goerrors.CategoryBadInput, "transport: create http request",
			http.StatusBadRequest, map[string]any{"adapter": KindREST, "method": method})
	}
	setHeaders(httpReq.Header, a.DefaultHeaders)
	if req.JSON != nil {
		httpReq.Header.Set("Content-Type", contentTypeJSON)
	}
	setHeaders(httpReq.Header, req.Headers)
	if req.Auth != nil {
		req.Auth.SetAuthHeader(httpReq)
	}
	return httpReq, nil
}

func setHeaders(dst http.Header, src map[string]string) {
	for key, value := range src {
		if key = strings.TrimSpace(key); key != "" {
			dst.Set(key, strings.TrimSpace(value))
		}
	}
}

// readLimited reads at most limit bytes. A longer body fails the read unless
// truncate is set, in which case the excess is left unread.
func readLimited(r io.Reader, limit int64, truncate bool, meta map[string]any) ([]byte, bool, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, transportWrapError(err, goerrors.CategoryExternal, "transport: read response body",
			http.StatusBadGateway, meta)
	}
	if int64(len(body)) <= limit {
		return body, false, nil
	}
	if truncate {
		return body[:limit], true, nil
	}
	meta["response_limit_b"] = limit
	return nil, false, transportError(fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
		goerrors.CategoryExternal, http.StatusBadGateway, meta)
}

// FlattenHeaders lowercases keys and joins repeated values with commas.
func FlattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[strings.ToLower(key)] = strings.Join(values, ",")
	}
	return flat
}

func firstPositive(values ...int64) int64 {
	for _, value := range values {
		if value > 0 {
			return value
		}
	}
	return 0
}
