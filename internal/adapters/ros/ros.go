// Package ros is the routing adapter. It calls the route optimization
// system's JSON API.
package ros

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jcmexdev/swifttrack-sagas/internal/adapters"
	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/contracts"
)

const maxResponseBytes = 1 << 20

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Adapter struct {
	base   string
	client *http.Client
}

func New(cfg Config) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Adapter{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (a *Adapter) Kind() contracts.AdapterKind { return contracts.KindROS }

type optimizeRequest struct {
	OrderID         string         `json:"orderId"`
	Priority        string         `json:"priority"`
	DeliveryAddress domain.Address `json:"deliveryAddress"`
	WarehouseSlot   string         `json:"warehouseSlot"`
}

type optimizeResponse struct {
	RouteID  string `json:"routeId"`
	DriverID string `json:"driverId"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

func (a *Adapter) Execute(ctx context.Context, req contracts.StepRequest) adapters.Outcome {
	var in contracts.RouteRequest
	if err := adapters.DecodePayload(req, &in); err != nil {
		return adapters.Fail(err)
	}
	if in.OrderID == "" {
		return adapters.Fail(adapters.Errorf(contracts.CodeInvalidRequest, "route request needs orderId"))
	}

	var out optimizeResponse
	err := a.post(ctx, "/api/routes/optimize", optimizeRequest{
		OrderID:         in.OrderID,
		Priority:        string(in.Priority),
		DeliveryAddress: in.DeliveryAddress,
		WarehouseSlot:   in.WarehouseSlot,
	}, &out)
	if err != nil {
		return adapters.Fail(err)
	}
	if out.RouteID == "" || out.DriverID == "" {
		return adapters.Fail(adapters.Errorf(contracts.CodeMalformedResponse, "optimize response missing routeId or driverId"))
	}
	return adapters.Ok(contracts.RouteResult{RouteRef: out.RouteID, AssignedDriverID: out.DriverID})
}

// Compensate cancels the route. A route the system no longer knows is
// treated as already cancelled.
func (a *Adapter) Compensate(ctx context.Context, req contracts.StepRequest) adapters.Outcome {
	var in contracts.RouteRequest
	if err := adapters.DecodePayload(req, &in); err != nil {
		return adapters.Fail(err)
	}
	if in.RouteRef == "" {
		return adapters.Fail(adapters.Errorf(contracts.CodeInvalidRequest, "cancel needs a routeRef"))
	}

	err := a.post(ctx, "/api/routes/"+url.PathEscape(in.RouteRef)+"/cancel", struct {
		OrderID string `json:"orderId"`
	}{in.OrderID}, nil)
	if errors.Is(err, errNotFound) {
		err = nil
	}
	if err != nil {
		return adapters.Fail(err)
	}
	return adapters.Ok(contracts.RouteResult{RouteRef: in.RouteRef})
}

var errNotFound = errors.New("route not found")

func (a *Adapter) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return adapters.Wrap(contracts.CodeInvalidRequest, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(data))
	if err != nil {
		return adapters.Wrap(contracts.CodeInvalidRequest, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return adapters.Wrap(contracts.CodeTimeout, "POST "+path, err)
		}
		return adapters.Wrap(contracts.CodeRemoteUnavailable, "POST "+path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return adapters.Wrap(contracts.CodeTimeout, "read response", err)
		}
		return adapters.Wrap(contracts.CodeRemoteUnavailable, "read response", err)
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return adapters.Wrap(contracts.CodeRejected, "POST "+path, errNotFound)
	case res.StatusCode >= 500, res.StatusCode == http.StatusRequestTimeout, res.StatusCode == http.StatusTooManyRequests:
		return adapters.Errorf(contracts.CodeRemoteUnavailable, "POST %s returned HTTP %d", path, res.StatusCode)
	case res.StatusCode >= 400:
		return adapters.Errorf(contracts.CodeRejected, "POST %s returned HTTP %d: %s", path, res.StatusCode, detail(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return adapters.Wrap(contracts.CodeMalformedResponse, "decode response", err)
	}
	return nil
}

func detail(raw []byte) string {
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil {
		if e.Detail != "" {
			return e.Detail
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return fmt.Sprintf("%.120s", raw)
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
