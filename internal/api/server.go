// Package api implements the archive's HTTP surface (spec §4.8): entity
// create/update/resolve, version history, the event log, and snapshot
// build control, plus health and Prometheus endpoints. It has no export
// endpoint.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"

	"github.com/arke-institute/arke-archive/internal/arkeerr"
	"github.com/arke-institute/arke-archive/internal/blockstore"
	"github.com/arke-institute/arke-archive/internal/dr"
	"github.com/arke-institute/arke-archive/internal/eventchain"
	"github.com/arke-institute/arke-archive/internal/indexptr"
	"github.com/arke-institute/arke-archive/internal/log"
	"github.com/arke-institute/arke-archive/internal/metrics"
	"github.com/arke-institute/arke-archive/internal/scheduler"
	"github.com/arke-institute/arke-archive/internal/snapshotbuilder"
	"github.com/arke-institute/arke-archive/internal/tip"
)

// Server is the C8 HTTP API.
type Server struct {
	Store     blockstore.Client
	Tip       *tip.Manager
	Events    *eventchain.Chain
	Index     *indexptr.Pointer
	Builder   *snapshotbuilder.Builder
	Exporter  *dr.Exporter
	Scheduler *scheduler.Scheduler

	mux    *http.ServeMux
	logger zerolog.Logger

	// seen de-duplicates event-append requests by idempotency key, so a
	// retried POST /events/append doesn't append twice (spec §4.8,
	// endpoint table note on /events/append).
	seen *idempotencyCache
}

// NewServer wires every endpoint onto a fresh mux.
func NewServer(store blockstore.Client, tm *tip.Manager, chain *eventchain.Chain, idx *indexptr.Pointer, builder *snapshotbuilder.Builder, exporter *dr.Exporter, sched *scheduler.Scheduler) *Server {
	s := &Server{
		Store:     store,
		Tip:       tm,
		Events:    chain,
		Index:     idx,
		Builder:   builder,
		Exporter:  exporter,
		Scheduler: sched,
		mux:       http.NewServeMux(),
		logger:    log.WithComponent("api"),
		seen:      newIdempotencyCache(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/index-pointer", s.withMiddleware(s.handleIndexPointer))
	s.mux.HandleFunc("/entities", s.withMiddleware(s.handleEntitiesCollection))
	s.mux.HandleFunc("/entities/", s.withMiddleware(s.handleEntityItem))
	s.mux.HandleFunc("/events/append", s.withMiddleware(s.handleEventAppend))
	s.mux.HandleFunc("/events", s.withMiddleware(s.handleEventsList))
	s.mux.HandleFunc("/resolve/", s.withMiddleware(s.handleResolve))
	s.mux.HandleFunc("/snapshot/latest", s.withMiddleware(s.handleSnapshotLatest))
	s.mux.HandleFunc("/snapshot/rebuild", s.withMiddleware(s.handleSnapshotRebuild))
}

// ListenAndServe starts the HTTP server, matching the listen/timeout
// knobs the config layer exposes.
func (s *Server) ListenAndServe(addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("api listening")
	return srv.ListenAndServe()
}

// Handler returns the server's http.Handler, for use in tests via httptest.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// withMiddleware wraps a handler with request-id tagging, structured
// logging, and request metrics (spec §4.8: every response carries a
// request_id; the core logs one line per request).
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-Id", reqID)

		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		timer := metrics.NewTimer()

		next(rw, r)

		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method, r.URL.Path)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
		s.logger.Info().
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.status).
			Dur("duration", timer.Duration()).
			Msg("request handled")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// handleHealth is a bare liveness probe, unauthenticated and unmetered
// so it never participates in the request-duration histogram.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an arkeerr.Kind to its HTTP status (spec §7) and
// writes a uniform JSON error body. This is the only place in the
// whole core that performs that mapping.
func writeError(w http.ResponseWriter, err error) {
	kind, ok := arkeerr.KindOf(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case arkeerr.NotFound:
		status = http.StatusNotFound
	case arkeerr.Conflict:
		status = http.StatusConflict
	case arkeerr.AlreadyExists:
		status = http.StatusConflict
	case arkeerr.Malformed:
		status = http.StatusUnprocessableEntity
	case arkeerr.LockHeld:
		status = http.StatusServiceUnavailable
	case arkeerr.StoreUnavailable:
		status = http.StatusServiceUnavailable
	case arkeerr.Invariant:
		status = http.StatusInternalServerError
	}

	body := map[string]interface{}{"error": err.Error(), "kind": string(kind)}
	var arkErr *arkeerr.Error
	if arkeerr.As(err, &arkErr) && arkErr.Observed != "" {
		body["observed_tip"] = arkErr.Observed
	}
	writeJSON(w, status, body)
}

func parseCID(s string) (cid.Cid, error) {
	if s == "" {
		return cid.Undef, nil
	}
	c, err := cid.Parse(s)
	if err != nil {
		return cid.Undef, arkeerr.Wrap(arkeerr.Malformed, "invalid cid "+s, err)
	}
	return c, nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
