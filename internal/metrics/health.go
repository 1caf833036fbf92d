package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	tradingerrors "github.com/ducminhle1904/crypto-dca-bot/internal/errors"
)

// HealthChecker tracks the signals the /healthz probe reports on: broker
// connectivity, last tick/fill freshness, and any fatal-category error that
// should demote the daemon to unhealthy regardless of connectivity.
type HealthChecker struct {
	mu          sync.RWMutex
	lastFill    time.Time
	lastTick    time.Time
	isConnected bool
	fatal       *tradingerrors.TradingError
	errors      []string
	startTime   time.Time
}

// HealthStatus is the JSON body served by /healthz.
type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	LastFill    time.Time `json:"last_fill,omitempty"`
	LastTick    time.Time `json:"last_tick,omitempty"`
	IsConnected bool      `json:"is_connected"`
	Uptime      string    `json:"uptime"`
	FatalError  string    `json:"fatal_error,omitempty"`
	Errors      []string  `json:"errors,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		errors:    make([]string, 0),
		startTime: time.Now(),
	}
}

// ServeHTTP answers the health probe. A recorded Fatal-category error always
// reports unhealthy, since the daemon's startup/runtime policy for Fatal is
// to stop or demote to read-only — either way it should fail liveness.
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	switch {
	case h.fatal != nil:
		status = "unhealthy"
		w.WriteHeader(http.StatusInternalServerError)
	case len(h.errors) > 0:
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	case !h.isConnected || time.Since(h.lastTick) > time.Hour:
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	body := HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		LastFill:    h.lastFill,
		LastTick:    h.lastTick,
		IsConnected: h.isConnected,
		Uptime:      time.Since(h.startTime).String(),
		Errors:      h.errors,
	}
	if h.fatal != nil {
		body.FatalError = h.fatal.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (h *HealthChecker) SetConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isConnected = connected
}

func (h *HealthChecker) UpdateTick(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastTick = t
}

func (h *HealthChecker) UpdateFill(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastFill = t
}

// RecordError records a classified error, latching a Fatal-category one
// permanently since the daemon will not recover liveness on its own.
func (h *HealthChecker) RecordError(err *tradingerrors.TradingError) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err.IsFatal() {
		h.fatal = err
	}
	h.errors = append(h.errors, err.Error())
	if len(h.errors) > 10 {
		h.errors = h.errors[len(h.errors)-10:]
	}
	ErrorsTotal.WithLabelValues(string(err.Category), err.Component).Inc()
}

func (h *HealthChecker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fatal == nil
}
