// Command mockapi is a local target for trying loadforge by hand. It accepts
// JSON order payloads, answers with a message body, and can inject latency
// and failures.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/torosent/loadforge/internal/logging"
)

type server struct {
	logger    *zap.Logger
	latency   time.Duration
	jitter    time.Duration
	errorRate float64
	requests  atomic.Int64
}

func main() {
	port := flag.Int("port", 8080, "Listening port")
	latency := flag.Duration("latency", 20*time.Millisecond, "Base response latency")
	jitter := flag.Duration("jitter", 30*time.Millisecond, "Random extra latency")
	errorRate := flag.Float64("error-rate", 0.05, "Fraction of requests answered with 500")
	verbose := flag.Bool("verbose", false, "Log every request")
	flag.Parse()

	s := &server{
		logger:    logging.New(logging.Options{Verbose: *verbose}),
		latency:   *latency,
		jitter:    *jitter,
		errorRate: *errorRate,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/orders", s.handleCreateOrder)
	mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "requests": s.requests.Load()})
	})

	addr := fmt.Sprintf(":%d", *port)
	s.logger.Warn("mock API listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		s.logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func (s *server) pause() {
	d := s.latency
	if s.jitter > 0 {
		d += rand.N(s.jitter)
	}
	time.Sleep(d)
}

func (s *server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	s.pause()

	var order map[string]any
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid JSON", "error": err.Error()})
		return
	}
	if rand.Float64() < s.errorRate {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"message": "order store unavailable"})
		return
	}
	id, _ := order["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	s.logger.Info("order created", zap.String("id", id), zap.Any("payload", order))
	w.Header().Set("X-Request-Id", uuid.NewString())
	respondJSON(w, http.StatusCreated, map[string]any{"id": id, "message": "created", "received": order})
}

func (s *server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	s.pause()
	respondJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "message": "found"})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
