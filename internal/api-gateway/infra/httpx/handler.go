package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/swifttrack-sagas/internal/api-gateway/core/ports"
	"github.com/jcmexdev/swifttrack-sagas/internal/api-gateway/infra/adapters/service"
	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator"
	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/interceptors/constants"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handler serves the order API on top of the coordinator.
type Handler struct {
	orders    ports.OrderService
	submitter ports.Submitter
	service   string
	checks    map[string]HealthCheck
}

// NewHandler wires the handler. submitter may be nil, in which case
// idempotency keys are ignored.
func NewHandler(orders ports.OrderService, submitter ports.Submitter, serviceName string) *Handler {
	if submitter == nil {
		submitter = service.NewIdempotentSubmitter(orders, nil, 0)
	}
	return &Handler{
		orders:    orders,
		submitter: submitter,
		service:   serviceName,
		checks:    make(map[string]HealthCheck),
	}
}

// AddHealthCheck registers a dependency probe reported by GET /health.
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// CreateOrder validates and submits an order; the saga continues
// asynchronously.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	idempKey, _ := r.Context().Value(constants.ContextKeyIdempotencyKey).(string)
	requestID, _ := r.Context().Value(constants.ContextKeyRequestID).(string)
	slog.InfoContext(r.Context(), "creating order", "request_id", requestID, "client_id", req.ClientID)

	id, replayed, err := h.submitter.Submit(r.Context(), idempKey, req.toDomain())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if replayed {
		status := domain.StageSubmitted
		if o, err := h.orders.GetOrder(r.Context(), id); err == nil {
			status = o.Status
		}
		w.Header().Set("Idempotent-Replayed", "true")
		writeJSON(w, http.StatusOK, SubmitOrderResponse{OrderID: id, Status: status})
		return
	}
	writeJSON(w, http.StatusCreated, SubmitOrderResponse{OrderID: id, Status: domain.StageSubmitted})
}

// GetOrderByID returns the order snapshot including history.
func (h *Handler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(o))
}

// ListOrders returns a client's orders, oldest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "client_id_required", "clientId query parameter is required")
		return
	}
	orders, err := h.orders.ListOrders(r.Context(), clientID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]OrderResponse, len(orders))
	for i, o := range orders {
		out[i] = mapOrderToResponse(o)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.CancelOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(o))
}

// DriverAction returns the handler for one of pickup, transit or deliver.
func (h *Handler) DriverAction(action domain.DriverAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DriverActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		if req.DriverID == "" {
			writeError(w, http.StatusBadRequest, "driver_id_required", "driverId is required")
			return
		}
		o, err := h.orders.RecordDriverAction(r.Context(), chi.URLParam(r, "orderId"), action, req.DriverID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, mapOrderToResponse(o))
	}
}

// Steps returns the saga log of an order.
func (h *Handler) Steps(w http.ResponseWriter, r *http.Request) {
	steps, err := h.orders.Steps(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, steps)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Service: h.service}
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// fail maps coordinator errors onto HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Message: verr.Error(), Fields: verr.Fields})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, coordinator.ErrWrongDriver):
		writeError(w, http.StatusForbidden, "driver_not_assigned", err.Error())
	case errors.Is(err, coordinator.ErrConflict), errors.Is(err, domain.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, service.ErrSubmissionInProgress):
		writeError(w, http.StatusConflict, "submission_in_progress", err.Error())
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
