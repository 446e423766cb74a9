package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Ivanworkspace/events-futurecraft/pkg/agenda"
	"github.com/Ivanworkspace/events-futurecraft/pkg/export"
	"github.com/Ivanworkspace/events-futurecraft/pkg/metrics"
	"github.com/Ivanworkspace/events-futurecraft/pkg/model"
)

// Agenda is what the API needs from the appointment store.
type Agenda interface {
	View() []agenda.DayGroup
	Items() []model.Appointment
	Overdue() []model.Appointment
	Get(id string) (model.Appointment, error)
	Add(ctx context.Context, fields model.Fields) (model.Appointment, error)
	ToggleDone(ctx context.Context, id string) (model.Appointment, bool)
	Remove(ctx context.Context, id string) bool
}

// Options configures a Server. Zero values fall back to sensible defaults.
type Options struct {
	Logger      *zap.Logger
	Metrics     *metrics.Collector
	Location    *time.Location
	CORSOrigins []string
	// RateLimit applies to mutating routes; nil disables it.
	RateLimit *RateLimiter
	// TrustProxy takes the client address from proxy headers.
	TrustProxy bool
}

// Server exposes an Agenda over HTTP.
type Server struct {
	agenda  Agenda
	logger  *zap.Logger
	metrics *metrics.Collector
	loc     *time.Location
	origins []string
	limiter *RateLimiter
	proxied bool
}

// New returns a Server for a.
func New(a Agenda, opts Options) *Server {
	s := &Server{
		agenda:  a,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		loc:     opts.Location,
		origins: opts.CORSOrigins,
		limiter: opts.RateLimit,
		proxied: opts.TrustProxy,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	return s
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	if s.proxied {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(Logger(s.logger))
	r.Use(s.instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/calendar.ics", s.calendar)

	r.Route("/api/appointments", func(r chi.Router) {
		r.Get("/", s.list)
		r.Get("/overdue", s.overdue)
		r.Get("/{id}", s.get)
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware)
			}
			r.Post("/", s.create)
			r.Post("/{id}/toggle", s.toggle)
			r.Delete("/{id}", s.remove)
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agenda.View())
}

func (s *Server) overdue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agenda.Overdue())
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	apt, err := s.agenda.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, model.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, apt)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var fields model.Fields
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	apt, err := s.agenda.Add(r.Context(), fields)
	if err != nil {
		if model.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("could not add appointment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, apt)
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request) {
	apt, ok := s.agenda.ToggleDone(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, model.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, apt)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	if !s.agenda.Remove(r.Context(), chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, model.ErrNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) calendar(w http.ResponseWriter, r *http.Request) {
	body := export.ICS(s.agenda.Items(), s.loc, time.Now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="promemoria.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// instrument records request counts and latency by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
