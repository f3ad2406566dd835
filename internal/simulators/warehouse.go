package simulators

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
)

// Warehouse speaks the line protocol of the warehouse system:
//
//	CHECKIN|<orderId>|<units>|<kg>  ->  OK|<slot>
//	RELEASE|<orderId>|<slot>        ->  OK|<slot>
//
// Failures answer ERR|<code>|<message>.
type Warehouse struct {
	capacity int
	maxKg    float64

	mu     sync.Mutex
	slots  map[string]string // order id -> slot
	used   map[string]bool
	faults int
}

// NewWarehouse holds at most capacity orders; maxKg <= 0 means no weight
// limit.
func NewWarehouse(capacity int, maxKg float64) *Warehouse {
	return &Warehouse{capacity: capacity, maxKg: maxKg, slots: make(map[string]string), used: make(map[string]bool)}
}

// FailNext makes the next n commands answer ERR|BUSY.
func (w *Warehouse) FailNext(n int) {
	w.mu.Lock()
	w.faults = n
	w.mu.Unlock()
}

// Held returns the number of occupied slots.
func (w *Warehouse) Held() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.slots)
}

// Serve accepts connections on lis until ctx is done.
func (w *Warehouse) Serve(ctx context.Context, lis net.Listener) error {
	var wg sync.WaitGroup
	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()
	slog.Info("warehouse simulator listening", "addr", lis.Addr().String())
	for {
		conn, err := lis.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.serveConn(ctx, conn)
		}()
	}
}

func (w *Warehouse) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		if _, err := fmt.Fprintf(conn, "%s\n", w.Reply(sc.Text())); err != nil {
			return
		}
	}
}

// Reply answers one command line.
func (w *Warehouse) Reply(line string) string {
	parts := strings.Split(strings.TrimSpace(line), "|")

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.faults > 0 {
		w.faults--
		return "ERR|BUSY|dock congested"
	}

	switch parts[0] {
	case "CHECKIN":
		if len(parts) != 4 || parts[1] == "" {
			return "ERR|BAD_REQUEST|CHECKIN needs orderId, units and kg"
		}
		units, err := strconv.Atoi(parts[2])
		if err != nil || units <= 0 {
			return "ERR|BAD_REQUEST|units must be a positive integer"
		}
		kg, err := strconv.ParseFloat(parts[3], 64)
		if err != nil || kg < 0 {
			return "ERR|BAD_REQUEST|kg must be a non-negative number"
		}
		return w.checkin(parts[1], units, kg)
	case "RELEASE":
		if len(parts) != 3 {
			return "ERR|BAD_REQUEST|RELEASE needs orderId and slot"
		}
		return w.release(parts[1], parts[2])
	default:
		return "ERR|BAD_REQUEST|unknown command " + strconv.Quote(parts[0])
	}
}

func (w *Warehouse) checkin(orderID string, units int, kg float64) string {
	if slot, ok := w.slots[orderID]; ok {
		return "OK|" + slot
	}
	if w.maxKg > 0 && kg > w.maxKg {
		slog.Info("warehouse: overweight", "order_id", orderID, "kg", kg, "max_kg", w.maxKg)
		return fmt.Sprintf("ERR|OVERWEIGHT|%.2fkg exceeds %.2fkg", kg, w.maxKg)
	}
	for i := 1; i <= w.capacity; i++ {
		slot := fmt.Sprintf("A-%02d", i)
		if w.used[slot] {
			continue
		}
		w.used[slot] = true
		w.slots[orderID] = slot
		slog.Info("warehouse: checked in", "order_id", orderID, "slot", slot, "units", units, "kg", kg)
		return "OK|" + slot
	}
	slog.Info("warehouse: full", "order_id", orderID, "capacity", w.capacity)
	return "ERR|FULL|no free slot"
}

func (w *Warehouse) release(orderID, slot string) string {
	held, ok := w.slots[orderID]
	if !ok || held != slot {
		slog.Warn("warehouse: nothing to release", "order_id", orderID, "slot", slot)
		return "ERR|NOT_FOUND|no slot " + slot + " for order " + orderID
	}
	delete(w.slots, orderID)
	delete(w.used, slot)
	slog.Info("warehouse: released", "order_id", orderID, "slot", slot)
	return "OK|" + slot
}
