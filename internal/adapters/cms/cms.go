// Package cms is the billing adapter. It talks SOAP 1.1 over HTTP to the
// client management system.
package cms

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jcmexdev/swifttrack-sagas/internal/adapters"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/contracts"
)

const (
	soapNS    = "http://schemas.xmlsoap.org/soap/envelope/"
	serviceNS = "urn:swifttrack:cms"

	actionCreate = "CreateBilling"
	actionVoid   = "VoidBilling"

	maxResponseBytes = 1 << 20
)

type Config struct {
	URL     string
	Timeout time.Duration
}

type Adapter struct {
	url    string
	client *http.Client
}

func New(cfg Config) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Adapter{
		url: cfg.URL,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (a *Adapter) Kind() contracts.AdapterKind { return contracts.KindCMS }

func (a *Adapter) Execute(ctx context.Context, req contracts.StepRequest) adapters.Outcome {
	var in contracts.BillingRequest
	if err := adapters.DecodePayload(req, &in); err != nil {
		return adapters.Fail(err)
	}
	if in.OrderID == "" || in.ClientID == "" {
		return adapters.Fail(adapters.Errorf(contracts.CodeInvalidRequest, "billing request needs orderId and clientId"))
	}

	body := createBilling{
		OrderID:   in.OrderID,
		ClientID:  in.ClientID,
		Priority:  string(in.Priority),
		ItemCount: len(in.Items),
	}
	for _, it := range in.Items {
		body.Amount += it.DeclaredValue * float64(it.Quantity)
	}

	resp, err := a.call(ctx, actionCreate, body)
	if err != nil {
		return adapters.Fail(err)
	}
	if resp.BillingRef == "" {
		return adapters.Fail(adapters.Errorf(contracts.CodeMalformedResponse, "CreateBilling response has no BillingRef"))
	}
	return adapters.Ok(contracts.BillingResult{BillingRef: resp.BillingRef})
}

// Compensate voids the invoice. Voiding an unknown invoice succeeds, so a
// repeated compensation is harmless.
func (a *Adapter) Compensate(ctx context.Context, req contracts.StepRequest) adapters.Outcome {
	var in contracts.BillingRequest
	if err := adapters.DecodePayload(req, &in); err != nil {
		return adapters.Fail(err)
	}
	if in.BillingRef == "" {
		return adapters.Fail(adapters.Errorf(contracts.CodeInvalidRequest, "void needs a billingRef"))
	}

	_, err := a.call(ctx, actionVoid, voidBilling{OrderID: in.OrderID, BillingRef: in.BillingRef})
	var ae *adapters.Error
	if errors.As(err, &ae) && ae.Code == contracts.CodeRejected && strings.EqualFold(ae.Msg, statusNotFound) {
		err = nil
	}
	if err != nil {
		return adapters.Fail(err)
	}
	return adapters.Ok(contracts.BillingResult{BillingRef: in.BillingRef})
}

// call posts one SOAP request and returns the decoded response. The status
// field of the response decides between success and REJECTED.
func (a *Adapter) call(ctx context.Context, action string, payload any) (*billingResponse, error) {
	buf := &bytes.Buffer{}
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(buf).Encode(requestEnvelope{SoapNS: soapNS, Body: requestBody{Content: payload}}); err != nil {
		return nil, adapters.Wrap(contracts.CodeInvalidRequest, "encode envelope", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, buf)
	if err != nil {
		return nil, adapters.Wrap(contracts.CodeInvalidRequest, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	httpReq.Header.Set("SOAPAction", action)

	res, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, adapters.Wrap(contracts.CodeTimeout, action, err)
		}
		return nil, adapters.Wrap(contracts.CodeRemoteUnavailable, action, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, adapters.Wrap(contracts.CodeTimeout, "read "+action+" response", err)
		}
		return nil, adapters.Wrap(contracts.CodeRemoteUnavailable, "read "+action+" response", err)
	}

	var env responseEnvelope
	decodeErr := xml.Unmarshal(raw, &env)

	if decodeErr == nil && env.Body.Fault != nil {
		f := env.Body.Fault
		if strings.HasSuffix(f.Code, "Client") {
			return nil, adapters.Errorf(contracts.CodeRejected, "%s", f.String)
		}
		return nil, adapters.Errorf(contracts.CodeRemoteUnavailable, "soap fault %s: %s", f.Code, f.String)
	}
	if res.StatusCode >= 500 || res.StatusCode == http.StatusRequestTimeout || res.StatusCode == http.StatusTooManyRequests {
		return nil, adapters.Errorf(contracts.CodeRemoteUnavailable, "%s returned HTTP %d", action, res.StatusCode)
	}
	if res.StatusCode >= 400 {
		return nil, adapters.Errorf(contracts.CodeRejected, "%s returned HTTP %d", action, res.StatusCode)
	}
	if decodeErr != nil {
		return nil, adapters.Wrap(contracts.CodeMalformedResponse, "decode "+action+" response", decodeErr)
	}

	resp := env.Body.Response
	if resp == nil || resp.Status == "" {
		return nil, adapters.Errorf(contracts.CodeMalformedResponse, "%s response has no status", action)
	}
	switch strings.ToUpper(resp.Status) {
	case statusOK, "SUCCESS":
		return resp, nil
	case statusRejected:
		return nil, adapters.Errorf(contracts.CodeRejected, "%s", firstNonEmpty(resp.Message, "billing rejected"))
	case statusNotFound:
		return nil, adapters.Errorf(contracts.CodeRejected, "%s", statusNotFound)
	default:
		return nil, adapters.Errorf(contracts.CodeMalformedResponse, "unknown %s status %q", action, resp.Status)
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
