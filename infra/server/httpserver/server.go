// Package httpserver hosts the push streams, ingestion and operator routes.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/webitel/roster-push-service/config"
	"github.com/webitel/roster-push-service/infra/server/httpserver/middleware"
	"go.uber.org/fx"
)

// Route is implemented by every HTTP handler group.
type Route interface {
	Mount(r chi.Router)
}

// AsRoute annotates a handler constructor for the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(f, fx.As(new(Route)), fx.ResultTags(`group:"routes"`))
}

type Params struct {
	fx.In

	Config   *config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Routes   []Route `group:"routes"`
}

type Server struct {
	srv    *http.Server
	logger *slog.Logger
	grace  time.Duration
}

func NewRouter(p Params) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, middleware.TraceID, requestLogger(p.Logger), chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}))

	for _, route := range p.Routes {
		route.Mount(r)
	}
	return r
}

func NewServer(cfg *config.Config, logger *slog.Logger, router chi.Router) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			// no WriteTimeout: streams are long-lived, sinks set per-write deadlines
		},
		logger: logger,
		grace:  cfg.HTTP.ShutdownTimeout,
	}
}

func (s *Server) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP_SERVER_LISTENING", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP_SERVER_FAILED", slog.Any("err", err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.grace > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.grace)
		defer cancel()
	}
	return s.srv.Shutdown(ctx)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.DebugContext(r.Context(), "HTTP_REQUEST",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

var Module = fx.Module("http-server",
	fx.Provide(NewRouter, NewServer),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{OnStart: s.Start, OnStop: s.Stop})
	}),
)
