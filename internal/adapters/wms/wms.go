// Package wms is the warehouse adapter. The warehouse system speaks a
// newline-framed, pipe-separated text protocol over TCP:
//
//	CHECKIN|<orderId>|<items>|<kg>   ->  OK|<slot>      or ERR|<code>|<msg>
//	RELEASE|<orderId>|<slot>         ->  OK|released    or ERR|<code>|<msg>
package wms

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jcmexdev/swifttrack-sagas/internal/adapters"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/contracts"
)

const maxLine = 4096

type Config struct {
	Addr        string
	PoolSize    int
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:        "localhost:9000",
		PoolSize:    4,
		DialTimeout: 2 * time.Second,
		ReadTimeout: 5 * time.Second,
	}
}

type Adapter struct {
	cfg  Config
	pool *pool
}

func New(cfg Config) *Adapter {
	def := DefaultConfig()
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	return &Adapter{cfg: cfg, pool: newPool(cfg.Addr, cfg.PoolSize, cfg.DialTimeout)}
}

func (a *Adapter) Kind() contracts.AdapterKind { return contracts.KindWMS }

func (a *Adapter) Close() error { return a.pool.close() }

func (a *Adapter) Execute(ctx context.Context, req contracts.StepRequest) adapters.Outcome {
	var in contracts.CheckinRequest
	if err := adapters.DecodePayload(req, &in); err != nil {
		return adapters.Fail(err)
	}
	if err := checkField("orderId", in.OrderID); err != nil {
		return adapters.Fail(err)
	}

	units, kg := 0, 0.0
	for _, it := range in.Items {
		units += it.Quantity
		kg += it.Weight * float64(it.Quantity)
	}
	if units == 0 {
		return adapters.Fail(adapters.Errorf(contracts.CodeInvalidRequest, "check-in needs at least one item"))
	}

	fields, err := a.exchange(ctx, "CHECKIN", in.OrderID, strconv.Itoa(units), strconv.FormatFloat(kg, 'f', 2, 64))
	if err != nil {
		return adapters.Fail(err)
	}
	if len(fields) != 1 || fields[0] == "" {
		return adapters.Fail(adapters.Errorf(contracts.CodeProtocolError, "CHECKIN reply carries no slot"))
	}
	return adapters.Ok(contracts.CheckinResult{WarehouseSlot: fields[0]})
}

// Compensate releases the slot. Releasing a slot the warehouse does not hold
// succeeds.
func (a *Adapter) Compensate(ctx context.Context, req contracts.StepRequest) adapters.Outcome {
	var in contracts.CheckinRequest
	if err := adapters.DecodePayload(req, &in); err != nil {
		return adapters.Fail(err)
	}
	if err := checkField("orderId", in.OrderID); err != nil {
		return adapters.Fail(err)
	}
	if err := checkField("warehouseSlot", in.WarehouseSlot); err != nil {
		return adapters.Fail(err)
	}

	_, err := a.exchange(ctx, "RELEASE", in.OrderID, in.WarehouseSlot)
	var ae *adapters.Error
	if errors.As(err, &ae) && ae.Code == contracts.CodeRejected && strings.HasPrefix(ae.Msg, "NOT_FOUND") {
		err = nil
	}
	if err != nil {
		return adapters.Fail(err)
	}
	return adapters.Ok(contracts.CheckinResult{WarehouseSlot: in.WarehouseSlot})
}

func checkField(name, v string) error {
	if v == "" {
		return adapters.Errorf(contracts.CodeInvalidRequest, "%s is required", name)
	}
	if strings.ContainsAny(v, "|\r\n") {
		return adapters.Errorf(contracts.CodeInvalidRequest, "%s contains a reserved character", name)
	}
	return nil
}

// exchange sends one command and returns the fields after OK. The connection
// goes back to the pool only after a clean exchange.
func (a *Adapter) exchange(ctx context.Context, cmd string, args ...string) ([]string, error) {
	c, err := a.pool.get(ctx)
	if err != nil {
		return nil, dialError(err)
	}

	deadline := time.Now().Add(a.cfg.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.SetDeadline(deadline); err != nil {
		a.pool.discard(c)
		return nil, adapters.Wrap(contracts.CodeProtocolError, "set deadline", err)
	}

	line := cmd + "|" + strings.Join(args, "|") + "\n"
	if _, err := io.WriteString(c, line); err != nil {
		a.pool.discard(c)
		return nil, ioError("write "+cmd, err)
	}

	reply, err := readLine(c.r)
	if err != nil {
		a.pool.discard(c)
		return nil, ioError("read "+cmd+" reply", err)
	}

	fields, err := parseReply(reply)
	var ae *adapters.Error
	if errors.As(err, &ae) && ae.Code == contracts.CodeProtocolError {
		a.pool.discard(c)
		return nil, err
	}
	a.pool.put(c)
	return fields, err
}

func readLine(r *bufio.Reader) (string, error) {
	b, err := r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return "", adapters.Errorf(contracts.CodeProtocolError, "reply exceeds %d bytes", maxLine)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// parseReply splits OK|... into its fields and turns ERR|<code>|<msg> into a
// categorized error. Anything else is a protocol error.
func parseReply(line string) ([]string, error) {
	parts := strings.Split(line, "|")
	switch parts[0] {
	case "OK":
		return parts[1:], nil
	case "ERR":
		if len(parts) < 2 || parts[1] == "" {
			return nil, adapters.Errorf(contracts.CodeProtocolError, "ERR reply without a code: %q", line)
		}
		msg := strings.Join(parts[2:], "|")
		switch parts[1] {
		case "BUSY", "UNAVAILABLE":
			return nil, adapters.Errorf(contracts.CodeRemoteUnavailable, "%s %s", parts[1], msg)
		default:
			return nil, adapters.Errorf(contracts.CodeRejected, "%s %s", parts[1], msg)
		}
	default:
		return nil, adapters.Errorf(contracts.CodeProtocolError, "unexpected reply %q", line)
	}
}

func dialError(err error) error {
	switch {
	case errors.Is(err, errPoolClosed):
		return adapters.Wrap(contracts.CodeConnectionRefused, "pool", err)
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return adapters.Wrap(contracts.CodeTimeout, "connect", err)
	default:
		return adapters.Wrap(contracts.CodeConnectionRefused, "connect", err)
	}
}

func ioError(op string, err error) error {
	var ae *adapters.Error
	if errors.As(err, &ae) {
		return err
	}
	if isTimeout(err) {
		return adapters.Wrap(contracts.CodeTimeout, op, err)
	}
	if errors.Is(err, io.EOF) {
		return adapters.Wrap(contracts.CodeProtocolError, op, fmt.Errorf("connection closed: %w", err))
	}
	return adapters.Wrap(contracts.CodeProtocolError, op, err)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
