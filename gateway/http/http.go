// Package http serves the Countertop status endpoints: liveness,
// readiness from coordinator health, Prometheus metrics, JSON views of
// the current topology and stations, and a websocket stream of
// coordinator events.
package http

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/c360/countertop/countertop"
	"github.com/c360/countertop/errors"
	"github.com/c360/countertop/health"
	"github.com/c360/countertop/metric"
	"github.com/c360/countertop/topologystore"
)

// Coordinator is what the gateway reads. *countertop.Countertop
// implements it.
type Coordinator interface {
	State() countertop.State
	Topology() *countertop.Topology
	Stations() []*countertop.Station
	Health() health.Status
	On(t countertop.EventType, l countertop.Listener)
}

// getOrGenerateRequestID extracts request ID from headers or generates a new one
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}

	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Gateway serves the status API for one coordinator.
type Gateway struct {
	coordinator Coordinator
	registry    *metric.MetricsRegistry
	logger      *slog.Logger
	tlsConfig   *tls.Config
	hub         *eventHub
	upgrader    websocket.Upgrader
	closing     chan struct{}
	closeOnce   sync.Once

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

// NewGateway creates a gateway. registry may be nil, in which case
// /metrics is not served.
func NewGateway(c Coordinator, registry *metric.MetricsRegistry, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		coordinator: c,
		registry:    registry,
		logger:      logger.With("component", "http"),
		hub:         newEventHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The status API has no browser session to protect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		closing: make(chan struct{}),
	}
	for _, t := range []countertop.EventType{countertop.EventPayload, countertop.EventError, countertop.EventState} {
		c.On(t, g.hub.publish)
	}
	return g
}

// UseTLS makes ListenAndServe serve HTTPS with cfg. A nil cfg serves
// plain HTTP.
func (g *Gateway) UseTLS(cfg *tls.Config) {
	g.tlsConfig = cfg
}

// Router returns the chi router with all routes mounted.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(g.requestLogger)

	r.Get("/healthz", g.liveness)
	r.Get("/readyz", g.readiness)
	if g.registry != nil {
		r.Method(http.MethodGet, "/metrics", g.registry.Handler())
	}
	r.Get("/topology", g.topology)
	r.Get("/events", g.events)
	r.Route("/stations", func(r chi.Router) {
		r.Get("/", g.stations)
		r.Get("/{station_id}", g.station)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (g *Gateway) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           g.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         g.tlsConfig,
	}
	srv.RegisterOnShutdown(g.close)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server starting", "addr", addr, "tls", g.tlsConfig != nil)
		var err error
		if g.tlsConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.WrapFatal(err, "Gateway", "ListenAndServe", "listen on "+addr)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.WrapTransient(err, "Gateway", "ListenAndServe", "shutdown")
	}
	return nil
}

// close ends open event streams; hijacked connections outlive Shutdown.
func (g *Gateway) close() {
	g.closeOnce.Do(func() { close(g.closing) })
}

func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)
		g.requestsTotal.Add(1)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		if rec.status >= http.StatusInternalServerError {
			g.requestsFailed.Add(1)
		}
		g.logger.Debug("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the connection.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Hijack supports the websocket upgrade on /events.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (g *Gateway) liveness(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"requests": g.requestsTotal.Load(),
		"failed":   g.requestsFailed.Load(),
	})
}

func (g *Gateway) readiness(w http.ResponseWriter, _ *http.Request) {
	status := g.coordinator.Health()
	code := http.StatusOK
	if !status.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, status)
}

func (g *Gateway) topology(w http.ResponseWriter, _ *http.Request) {
	snap := topologystore.FromTopology("live", g.coordinator.Topology())
	g.writeJSON(w, http.StatusOK, snap)
}

// stationView is the JSON shape of a station.
type stationView struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Appliance   string       `json:"appliance"`
	State       string       `json:"state"`
	InputTypes  []string     `json:"input_types,omitempty"`
	OutputTypes []string     `json:"output_types,omitempty"`
	Workers     []workerView `json:"workers"`
}

type workerView struct {
	ID          string   `json:"id"`
	StreamID    string   `json:"stream_id"`
	Path        string   `json:"path"`
	InputTopics []string `json:"input_topics,omitempty"`
	Buffered    int      `json:"buffered"`
}

func viewStation(st *countertop.Station) stationView {
	v := stationView{
		ID:          st.ID(),
		Name:        st.Name(),
		Appliance:   st.Descriptor().Name,
		State:       st.State().String(),
		InputTypes:  st.InputTypes(),
		OutputTypes: st.OutputTypes(),
		Workers:     []workerView{},
	}
	for _, w := range st.Workers() {
		v.Workers = append(v.Workers, workerView{
			ID:          w.ID(),
			StreamID:    w.Stream().ID(),
			Path:        w.Stream().String(),
			InputTopics: w.InputTopics(),
			Buffered:    w.Buffered(),
		})
	}
	return v
}

func (g *Gateway) stations(w http.ResponseWriter, _ *http.Request) {
	stations := g.coordinator.Stations()
	views := make([]stationView, 0, len(stations))
	for _, st := range stations {
		views = append(views, viewStation(st))
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"state":    g.coordinator.State().String(),
		"stations": views,
	})
}

func (g *Gateway) station(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "station_id")
	for _, st := range g.coordinator.Stations() {
		if st.ID() == id {
			g.writeJSON(w, http.StatusOK, viewStation(st))
			return
		}
	}
	g.writeError(w, http.StatusNotFound, "resource not found")
}

// mapErrorToHTTPStatus maps classified errors to HTTP status codes
func mapErrorToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.Is(err, errors.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		err = errors.WrapFatal(err, "Gateway", "writeJSON", "marshal response")
		g.logger.Error("response encoding failed", "error", err)
		g.writeError(w, mapErrorToHTTPStatus(err), "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes an error response
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	data, _ := json.Marshal(map[string]any{
		"error":  message,
		"status": statusCode,
	})
	_, _ = w.Write(data)
}
