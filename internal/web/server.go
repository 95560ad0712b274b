// Package web serves the status page, the JSON and history endpoints,
// Prometheus metrics and the observer websocket.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sweeney/coffee-machine/internal/broadcast"
	"github.com/sweeney/coffee-machine/internal/codec"
	"github.com/sweeney/coffee-machine/internal/machine"
	"github.com/sweeney/coffee-machine/internal/metrics"
	"github.com/sweeney/coffee-machine/internal/protocol"
	"github.com/sweeney/coffee-machine/internal/status"
)

// Machine is the supervisor as seen by the web layer.
type Machine interface {
	protocol.Machine
	Snapshot() machine.Snapshot
}

// Hub is the observer set.
type Hub interface {
	Join(obs broadcast.Observer, current machine.Snapshot) error
	Leave(obs broadcast.Observer)
}

// History serves the coffee history to sessions and the history endpoint.
type History interface {
	protocol.History
	List(ctx context.Context) ([]machine.CoffeeRecord, error)
}

// StatusHistory reads persisted statuses.
type StatusHistory interface {
	StatusHistory(ctx context.Context, limit int) ([]machine.Snapshot, error)
}

// Config holds server dependencies. Tracker, Machine, Hub and History are
// required.
type Config struct {
	Addr          string
	Tracker       *status.Tracker
	Machine       Machine
	Hub           Hub
	History       History
	StatusHistory StatusHistory
	Activity      protocol.Toucher
	Menu          machine.Menu
	// Metrics instruments requests when set.
	Metrics *metrics.Metrics
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	// DefaultCodec is used when /ws has no ?format=.
	DefaultCodec string
	// QueueLength bounds each observer's outgoing queue.
	QueueLength    int
	AllowedOrigins []string
	Now            func() time.Time
	Logger         zerolog.Logger
}

// Server serves HTTP and websocket observers.
type Server struct {
	cfg        Config
	log        zerolog.Logger
	httpServer *http.Server

	// ctx outlives individual requests; sessions use it for history I/O.
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[*wsObserver]struct{}
	wg    sync.WaitGroup
}

const defaultStatusHistoryLimit = 100

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.DefaultCodec == "" {
		cfg.DefaultCodec = codec.Default
	}
	if cfg.QueueLength <= 0 {
		cfg.QueueLength = 64
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Menu == nil {
		cfg.Menu = machine.DefaultMenu()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "web").Logger(),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[*wsObserver]struct{}),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.cfg.Metrics != nil {
		r.Use(s.cfg.Metrics.Middleware)
	}
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)
	r.Get("/history", s.handleHistory)
	r.Get("/history/status", s.handleStatusHistory)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/ws", s.handleWS)
	return r
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown stops accepting requests, closes every websocket and waits for
// their handlers to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.cancel()

	s.mu.Lock()
	for obs := range s.conns {
		obs.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, s.cfg.Tracker.Snapshot()); err != nil {
		s.log.Error().Err(err).Msg("render index")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.cfg.Tracker.Snapshot()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	c, ok := s.codecFor(w, r)
	if !ok {
		return
	}
	h, err := s.cfg.History.List(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list history")
		writeJSONError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	data, err := c.Encode(broadcast.HistoryMessage(h))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "encode history")
		return
	}
	w.Header().Set("Content-Type", contentType(c))
	w.Write(data)
}

func (s *Server) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	if s.cfg.StatusHistory == nil {
		writeJSONError(w, http.StatusNotFound, "status history disabled")
		return
	}
	limit := defaultStatusHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	snaps, err := s.cfg.StatusHistory.StatusHistory(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("status history")
		writeJSONError(w, http.StatusInternalServerError, "status history unavailable")
		return
	}
	data, err := codec.JSON{}.EncodeStatusHistory(snaps)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "encode status history")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// codecFor resolves ?format=, writing a 400 for unknown names.
func (s *Server) codecFor(w http.ResponseWriter, r *http.Request) (codec.Codec, bool) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = s.cfg.DefaultCodec
	}
	c, err := codec.ByName(name)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return c, true
}

func contentType(c codec.Codec) string {
	switch c.Name() {
	case "json":
		return "application/json"
	case "cbor":
		return "application/cbor"
	case "csv":
		return "text/csv; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": msg,
		"code":  code,
	})
}
