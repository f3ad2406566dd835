package simulators

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
)

type optimizeRequest struct {
	OrderID         string `json:"orderId"`
	Priority        string `json:"priority"`
	WarehouseSlot   string `json:"warehouseSlot"`
	DeliveryAddress struct {
		City string `json:"city"`
	} `json:"deliveryAddress"`
}

type route struct {
	orderID  string
	driverID string
}

// Routing plans one route per order and hands drivers out round robin.
type Routing struct {
	drivers []string

	mu      sync.Mutex
	routes  map[string]route
	byOrder map[string]string
	seq     int
	faults  int
}

func NewRouting(drivers ...string) *Routing {
	if len(drivers) == 0 {
		drivers = []string{"DRV-001", "DRV-002", "DRV-003"}
	}
	return &Routing{drivers: drivers, routes: make(map[string]route), byOrder: make(map[string]string)}
}

// FailNext makes the next n calls answer 503.
func (s *Routing) FailNext(n int) {
	s.mu.Lock()
	s.faults = n
	s.mu.Unlock()
}

// Active returns the number of routes not cancelled.
func (s *Routing) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.routes)
}

func (s *Routing) Routes(r chi.Router) {
	r.Post("/api/routes/optimize", s.optimize)
	r.Post("/api/routes/{routeId}/cancel", s.cancel)
}

// Handler serves Routes on a fresh router.
func (s *Routing) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}

func (s *Routing) unavailable(w http.ResponseWriter) bool {
	if s.faults > 0 {
		s.faults--
		writeDetail(w, http.StatusServiceUnavailable, "route optimizer overloaded")
		return true
	}
	return false
}

func (s *Routing) optimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable(w) {
		return
	}
	if req.OrderID == "" || req.DeliveryAddress.City == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "orderId and deliveryAddress.city are required")
		return
	}

	id, ok := s.byOrder[req.OrderID]
	if !ok {
		s.seq++
		id = fmt.Sprintf("RT-%06d", s.seq)
		s.routes[id] = route{orderID: req.OrderID, driverID: s.drivers[(s.seq-1)%len(s.drivers)]}
		s.byOrder[req.OrderID] = id
		slog.Info("routing: planned", "order_id", req.OrderID, "route_id", id, "priority", req.Priority, "slot", req.WarehouseSlot)
	}
	writeJSON(w, http.StatusOK, map[string]string{"routeId": id, "driverId": s.routes[id].driverID})
}

func (s *Routing) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "routeId")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable(w) {
		return
	}
	rt, ok := s.routes[id]
	if !ok {
		writeDetail(w, http.StatusNotFound, "route not found")
		return
	}
	delete(s.routes, id)
	delete(s.byOrder, rt.orderID)
	slog.Info("routing: cancelled", "order_id", rt.orderID, "route_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"routeId": id, "status": "CANCELLED"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
