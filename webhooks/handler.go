package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
)

const DefaultMaxBodyBytes int64 = 25 << 20

// TenantResolver extracts the tenant a delivery belongs to from the request,
// typically from a route parameter.
type TenantResolver func(r *http.Request) string

type HandlerOption func(*Handler)

func WithThrottle(throttle *Throttle) HandlerOption {
	return func(h *Handler) {
		h.throttle = throttle
	}
}

func WithMaxBodyBytes(limit int64) HandlerOption {
	return func(h *Handler) {
		if limit > 0 {
			h.maxBody = limit
		}
	}
}

func WithHandlerObserver(observer core.Observer) HandlerOption {
	return func(h *Handler) {
		h.observer = observer
	}
}

type Handler struct {
	service  *IngestionService
	tenant   TenantResolver
	throttle *Throttle
	maxBody  int64
	observer core.Observer
}

type Response struct {
	Success    bool   `json:"success"`
	EventType  string `json:"eventType,omitempty"`
	DeliveryID string `json:"deliveryId,omitempty"`
	Message    string `json:"message"`
}

func NewHandler(service *IngestionService, tenant TenantResolver, opts ...HandlerOption) *Handler {
	handler := &Handler{
		service:  service,
		tenant:   tenant,
		maxBody:  DefaultMaxBodyBytes,
		observer: core.NewObserver(nil, nil, ""),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}
	return handler
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := Response{
		EventType:  strings.TrimSpace(r.Header.Get(HeaderEvent)),
		DeliveryID: strings.TrimSpace(r.Header.Get(HeaderDelivery)),
	}
	if r.Method != http.MethodPost {
		response.Message = "method not allowed"
		writeJSON(w, http.StatusMethodNotAllowed, response)
		return
	}
	if response.EventType == "" || response.DeliveryID == "" {
		response.Message = "missing X-GitHub-Event or X-GitHub-Delivery header"
		writeJSON(w, http.StatusBadRequest, response)
		return
	}

	tenantID := ""
	if h.tenant != nil {
		tenantID = strings.TrimSpace(h.tenant(r))
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Message = "payload too large"
			writeJSON(w, http.StatusRequestEntityTooLarge, response)
			return
		}
		response.Message = "failed to read request body"
		writeJSON(w, http.StatusBadRequest, response)
		return
	}

	delivery := Delivery{
		TenantID:   tenantID,
		EventType:  response.EventType,
		DeliveryID: response.DeliveryID,
		Signature:  r.Header.Get(HeaderSignature),
		Payload:    body,
		ReceivedAt: time.Now().UTC(),
	}
	// Only authenticated deliveries spend the tenant's throttle budget.
	if err := h.service.Authenticate(r.Context(), delivery); err != nil {
		h.observer.Count(r.Context(), "webhook_ingest.rejected", 1, map[string]string{"tenant_id": tenantID})
		writeError(w, response, err)
		return
	}
	delivery.authenticated = true
	if !h.throttle.Allow(tenantID) {
		h.observer.Count(r.Context(), "webhook_ingest.throttled", 1, map[string]string{"tenant_id": tenantID})
		writeError(w, response, ThrottledError(tenantID))
		return
	}

	result, err := h.service.Process(r.Context(), delivery)
	if err != nil {
		writeError(w, response, err)
		return
	}

	switch {
	case result.Success && result.Duplicate:
		response.Success = true
		response.Message = "delivery already processed"
		writeJSON(w, http.StatusOK, response)
	case result.Success:
		response.Success = true
		response.Message = "webhook processed"
		writeJSON(w, http.StatusOK, response)
	case result.Reason == ReasonInvalidTenant:
		response.Message = "invalid tenant"
		writeJSON(w, http.StatusBadRequest, response)
	default:
		response.Message = "webhook could not be stored"
		writeJSON(w, http.StatusServiceUnavailable, response)
	}
}

func writeError(w http.ResponseWriter, response Response, err error) {
	mapped := core.MapError(err)
	response.Message = mapped.Message
	writeJSON(w, mapped.Code, response)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
