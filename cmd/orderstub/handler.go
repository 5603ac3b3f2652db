package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// orderRequest is the body the example scenarios post. Ids may be strings
// or numbers.
type orderRequest struct {
	CustomerID  interface{} `json:"customerId"`
	ProductID   interface{} `json:"productId"`
	Quantity    int         `json:"quantity"`
	Price       float64     `json:"price"`
	TotalAmount float64     `json:"totalAmount"`
	Description string      `json:"description,omitempty"`
}

func (r *orderRequest) total() float64 {
	if r.TotalAmount != 0 {
		return r.TotalAmount
	}
	return r.Price * float64(r.Quantity)
}

type orderResponse struct {
	OrderID     string  `json:"orderId"`
	CustomerID  string  `json:"customerId"`
	Status      string  `json:"status"`
	TotalAmount float64 `json:"totalAmount"`
}

type stubOptions struct {
	delay     time.Duration
	jitter    time.Duration
	errorRate float64
	seed      int64
}

// orderService accepts orders and answers 201 with a generated id.
type orderService struct {
	opts   stubOptions
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand

	created atomic.Int64
	failed  atomic.Int64
}

func newOrderService(opts stubOptions, logger *zap.Logger) *orderService {
	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &orderService{opts: opts, logger: logger, rng: rand.New(rand.NewSource(seed))}
}

func (s *orderService) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/orders", s.createOrder)
	mux.HandleFunc("POST /api/orders/with-headers", s.createOrder)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"created": s.created.Load(),
			"failed":  s.failed.Load(),
		})
	})
	return mux
}

func (s *orderService) createOrder(w http.ResponseWriter, r *http.Request) {
	delay, fail := s.draw()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.failed.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.CustomerID == nil || req.CustomerID == "" {
		s.failed.Add(1)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "customerId is required"})
		return
	}
	if fail {
		s.failed.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "injected failure"})
		return
	}

	s.created.Add(1)
	resp := orderResponse{
		OrderID:     uuid.NewString(),
		CustomerID:  fmt.Sprint(req.CustomerID),
		Status:      "created",
		TotalAmount: req.total(),
	}
	s.logger.Debug("order created",
		zap.String("orderId", resp.OrderID),
		zap.String("customerId", resp.CustomerID),
		zap.Int("bodyBytes", len(req.Description)))
	writeJSON(w, http.StatusCreated, resp)
}

func (s *orderService) draw() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.opts.delay
	if s.opts.jitter > 0 {
		d += time.Duration(s.rng.Int63n(int64(s.opts.jitter)))
	}
	return d, s.opts.errorRate > 0 && s.rng.Float64() < s.opts.errorRate
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
