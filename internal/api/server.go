package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/hostclick/kapi/internal/lib/httperr"
	"github.com/hostclick/kapi/internal/logging"
	"github.com/hostclick/kapi/internal/suspension"
	"github.com/hostclick/kapi/internal/tenancy"
	"github.com/hostclick/kapi/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	maxBodyBytes    int64 = 1 << 20 // 1MB
	otelServiceName       = "kapi"
	readyTimeout          = 3 * time.Second
)

// Converger is implemented by *suspension.Service.
type Converger interface {
	Converge(ctx context.Context, t tenancy.Tenant, suspended bool) (suspension.Outcome, error)
	State(ctx context.Context, vhost string) (types.TenantState, error)
	History(ctx context.Context, vhost string, limit int) ([]types.Transition, error)
}

// Check is a named readiness check.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type Options struct {
	// DomainSuffix completes bare subdomains.
	DomainSuffix string
	RequireAuth  bool
	SigningKey   []byte
	// RateLimit is the number of webhook requests allowed per client IP and
	// RateWindow. Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
	Version    string
	Commit     string
}

// Server exposes the suspension webhooks and tenant state.
type Server struct {
	svc    Converger
	opts   Options
	checks []Check
}

func NewServer(svc Converger, opts Options, checks ...Check) *Server {
	if opts.DomainSuffix == "" {
		opts.DomainSuffix = tenancy.DefaultSuffix
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{svc: svc, opts: opts, checks: checks}
}

// Router returns the configured HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otelhttp.NewMiddleware(otelServiceName))
	r.Use(s.logMiddleware)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/healthz", s.healthz)
		api.Get("/readyz", s.readyz)
		api.Get("/version", s.version)

		api.Route("/webhooks", func(r chi.Router) {
			if s.opts.RateLimit > 0 {
				r.Use(httprate.LimitByIP(s.opts.RateLimit, s.opts.RateWindow))
			}
			r.Use(s.authMiddleware)
			r.Use(s.requireRole(RoleBilling, RoleAdmin))
			r.Post("/suspend", s.subdomainWebhook("suspend", true))
			r.Post("/unsuspend", s.subdomainWebhook("unsuspend", false))
			r.Post("/raw/suspend", s.domainWebhook("raw_suspend", true))
			r.Post("/raw/unsuspend", s.domainWebhook("raw_unsuspend", false))
		})

		api.Route("/tenants/{vhost}", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.requireRole(RoleBilling, RoleAdmin))
			r.Get("/", s.tenantState)
			r.Get("/transitions", s.tenantTransitions)
		})
	})

	return r
}

// StartHTTP listens and serves until the context is canceled, then drains
// in-flight requests for up to ten seconds.
func StartHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		ctx := logging.WithContext(r.Context(), logging.L.With(zap.String("request_id", reqID)))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		}
		spanCtx := trace.SpanContextFromContext(r.Context())
		if spanCtx.IsValid() {
			fields = append(fields, zap.String("trace_id", spanCtx.TraceID().String()))
		}
		logging.L.Info("http_request", fields...)
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	for _, c := range s.checks {
		if err := c.Fn(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("not_ready", zap.String("check", c.Name), zap.Error(err))
			writeStatus(w, http.StatusServiceUnavailable, statusError, c.Name+" not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.Version{Version: s.opts.Version, Commit: s.opts.Commit})
}

func writeJSON(w http.ResponseWriter, code int, v any) { httperr.JSON(w, code, v) }

const (
	statusOK      = httperr.StatusOK
	statusIgnored = httperr.StatusIgnored
	statusError   = httperr.StatusError
)

func writeStatus(w http.ResponseWriter, code int, status, reason string) {
	httperr.Write(w, code, status, reason)
}
