// Package daemon implements "deps serve": a resident process that keeps the
// health map warm with a background prober and answers selection queries
// over HTTP.
//
// Routes:
//
//	GET  /healthz                      liveness
//	GET  /v1/sources[?kind=]           sources with their health
//	GET  /v1/sources/{kind}/{name}     one source
//	POST /v1/probe[?kind=]             probe now and return the records
//	GET  /v1/select?kind=[&source=]    the selector's choice
//	GET  /metrics                      Prometheus metrics
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/smoothdeps/pkg/buildinfo"
	smerrors "github.com/matzehuels/smoothdeps/pkg/errors"
	"github.com/matzehuels/smoothdeps/pkg/health"
	"github.com/matzehuels/smoothdeps/pkg/selector"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Config wires a Server.
type Config struct {
	Sources  selector.Sources
	Prober   *health.Prober
	Selector *selector.Selector
	Metrics  *Metrics // nil disables /metrics

	ProbeInterval time.Duration // <= 0 uses the health freshness window
	RateLimit     float64       // requests per second per client; <= 0 disables
	RateBurst     int
	Logger        *log.Logger
}

// Server is the daemon.
type Server struct {
	sources  selector.Sources
	prober   *health.Prober
	selector *selector.Selector
	metrics  *Metrics
	limiter  *RateLimiter
	interval time.Duration
	logger   *log.Logger
}

// New creates a Server from cfg.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		sources:  cfg.Sources,
		prober:   cfg.Prober,
		selector: cfg.Selector,
		metrics:  cfg.Metrics,
		limiter:  NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		interval: cfg.ProbeInterval,
		logger:   logger,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Get("/sources", s.handleSources)
		r.Get("/sources/{kind}/{name}", s.handleSource)
		r.Post("/probe", s.handleProbe)
		r.Get("/select", s.handleSelect)
	})
	return r
}

// ListenAndServe listens on addr and calls [Server.Serve].
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the prober loop and the HTTP server on ln until ctx is done,
// then shuts the server down gracefully. It returns nil after a clean
// shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.logger.Info("serving", "addr", ln.Addr().String(), "version", buildinfo.Version)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.prober.Run(ctx, s.interval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// =============================================================================
// Middleware
// =============================================================================

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.logger.Debug("request", "method", r.Method, "route", route, "status", ww.Status(), "duration", elapsed,
			"request_id", middleware.GetReqID(r.Context()))
		if s.metrics != nil {
			s.metrics.observeAPI(route, ww.Status(), elapsed)
		}
	})
}

// =============================================================================
// Handlers
// =============================================================================

// SourceView is a source with its current health.
type SourceView struct {
	source.Source
	Health *health.Record `json:"health,omitempty"`
}

func (s *Server) view(src source.Source) SourceView {
	v := SourceView{Source: src}
	if rec, ok := s.prober.Health().Get(src.Key()); ok {
		v.Health = &rec
	}
	return v
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": buildinfo.Version})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	kind, err := optionalKind(r)
	if err != nil {
		writeError(w, err)
		return
	}
	srcs := s.sources.List(kind)
	out := make([]SourceView, len(srcs))
	for i, src := range srcs {
		out[i] = s.view(src)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	kind, err := source.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	src, err := s.sources.Get(chi.URLParam(r, "name"), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(src))
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	kind, err := optionalKind(r)
	if err != nil {
		writeError(w, err)
		return
	}
	recs, err := s.prober.ProbeAll(r.Context(), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("kind")
	if raw == "" {
		writeError(w, smerrors.New(smerrors.ErrCodeInvalidInput, "kind is required"))
		return
	}
	kind, err := source.ParseKind(raw)
	if err != nil {
		writeError(w, err)
		return
	}
	sel, err := s.selector.Select(r.Context(), kind, r.URL.Query().Get("source"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func optionalKind(r *http.Request) (source.Kind, error) {
	raw := r.URL.Query().Get("kind")
	if raw == "" {
		return "", nil
	}
	kind, err := source.ParseKind(raw)
	if err != nil {
		return "", err
	}
	return kind, nil
}

// =============================================================================
// Responses
// =============================================================================

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := smerrors.GetCode(err)
	if code == "" {
		code = smerrors.ErrCodeInternal
	}
	writeJSON(w, httpStatus(code, err), errorBody{Code: string(code), Message: smerrors.UserMessage(err)})
}

func httpStatus(code smerrors.Code, err error) int {
	switch code {
	case smerrors.ErrCodeSourceNotFound, smerrors.ErrCodeNotFound:
		return http.StatusNotFound
	case smerrors.ErrCodeInvalidInput, smerrors.ErrCodeInvalidSource:
		return http.StatusBadRequest
	case smerrors.ErrCodeAllSourcesExhausted:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
