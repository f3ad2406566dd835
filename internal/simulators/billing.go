// Package simulators holds in-memory stand-ins for the three backends: a SOAP
// billing system, a REST route optimizer and a TCP warehouse. They keep just
// enough state to exercise the adapters and compensations end to end.
package simulators

import (
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

const (
	soapEnvNS  = "http://schemas.xmlsoap.org/soap/envelope/"
	billingNS  = "urn:swifttrack:cms"
	maxSOAPReq = 1 << 20
)

type billingRequest struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Create *struct {
			OrderID  string  `xml:"OrderId"`
			ClientID string  `xml:"ClientId"`
			Amount   float64 `xml:"Amount"`
		} `xml:"CreateBilling"`
		Void *struct {
			OrderID    string `xml:"OrderId"`
			BillingRef string `xml:"BillingRef"`
		} `xml:"VoidBilling"`
	} `xml:"Body"`
}

type soapResponse struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	SoapNS  string   `xml:"xmlns:soap,attr"`
	Body    struct {
		Content any
	} `xml:"soap:Body"`
}

type billingReply struct {
	XMLName    xml.Name
	Status     string `xml:"Status"`
	BillingRef string `xml:"BillingRef,omitempty"`
	Message    string `xml:"Message,omitempty"`
}

type soapFault struct {
	XMLName xml.Name `xml:"soap:Fault"`
	Code    string   `xml:"faultcode"`
	String  string   `xml:"faultstring"`
}

type invoice struct {
	orderID string
	amount  float64
}

// Billing answers CreateBilling and VoidBilling. Invoices above Limit are
// declined; a repeated CreateBilling for the same order returns the first
// invoice.
type Billing struct {
	Limit float64

	mu       sync.Mutex
	invoices map[string]invoice
	byOrder  map[string]string
	seq      int
	faults   int
}

func NewBilling(limit float64) *Billing {
	return &Billing{
		Limit:    limit,
		invoices: make(map[string]invoice),
		byOrder:  make(map[string]string),
	}
}

// FailNext makes the next n calls answer with a soap:Server fault.
func (b *Billing) FailNext(n int) {
	b.mu.Lock()
	b.faults = n
	b.mu.Unlock()
}

// Open returns the number of invoices not voided.
func (b *Billing) Open() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.invoices)
}

func (b *Billing) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req billingRequest
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxSOAPReq))
	if err == nil {
		err = xml.Unmarshal(raw, &req)
	}
	if err != nil {
		writeSOAP(w, http.StatusBadRequest, soapFault{Code: "soap:Client", String: "malformed envelope"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.faults > 0 {
		b.faults--
		writeSOAP(w, http.StatusInternalServerError, soapFault{Code: "soap:Server", String: "billing backend unavailable"})
		return
	}

	switch {
	case req.Body.Create != nil:
		c := req.Body.Create
		slog.Info("billing: create", "order_id", c.OrderID, "amount", c.Amount)
		if c.OrderID == "" || c.ClientID == "" {
			writeSOAP(w, http.StatusInternalServerError, soapFault{Code: "soap:Client", String: "OrderId and ClientId are required"})
			return
		}
		if ref, ok := b.byOrder[c.OrderID]; ok {
			writeSOAP(w, http.StatusOK, reply("CreateBillingResponse", "OK", ref, "already billed"))
			return
		}
		if b.Limit > 0 && c.Amount > b.Limit {
			slog.Info("billing: declined", "order_id", c.OrderID, "amount", c.Amount, "limit", b.Limit)
			writeSOAP(w, http.StatusOK, reply("CreateBillingResponse", "REJECTED", "",
				fmt.Sprintf("amount %.2f exceeds credit limit %.2f", c.Amount, b.Limit)))
			return
		}
		b.seq++
		ref := fmt.Sprintf("INV-%06d", b.seq)
		b.invoices[ref] = invoice{orderID: c.OrderID, amount: c.Amount}
		b.byOrder[c.OrderID] = ref
		writeSOAP(w, http.StatusOK, reply("CreateBillingResponse", "OK", ref, ""))

	case req.Body.Void != nil:
		v := req.Body.Void
		inv, ok := b.invoices[v.BillingRef]
		if !ok {
			slog.Warn("billing: no invoice to void", "order_id", v.OrderID, "billing_ref", v.BillingRef)
			writeSOAP(w, http.StatusOK, reply("VoidBillingResponse", "NOT_FOUND", v.BillingRef, ""))
			return
		}
		slog.Info("billing: void", "order_id", inv.orderID, "billing_ref", v.BillingRef, "amount", inv.amount)
		delete(b.invoices, v.BillingRef)
		delete(b.byOrder, inv.orderID)
		writeSOAP(w, http.StatusOK, reply("VoidBillingResponse", "OK", v.BillingRef, ""))

	default:
		writeSOAP(w, http.StatusInternalServerError, soapFault{Code: "soap:Client", String: "unknown operation"})
	}
}

func reply(name, status, ref, msg string) billingReply {
	return billingReply{XMLName: xml.Name{Space: billingNS, Local: name}, Status: status, BillingRef: ref, Message: msg}
}

func writeSOAP(w http.ResponseWriter, status int, content any) {
	env := soapResponse{SoapNS: soapEnvNS}
	env.Body.Content = content
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(env)
}
