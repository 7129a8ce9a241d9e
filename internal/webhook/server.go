// Package webhook is the inbound HTTP surface: signed notice submission, job
// lookup, health probes and the metrics endpoint.
package webhook

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"noticebot/internal/dispatch"
	"noticebot/internal/metrics"
	"noticebot/internal/notice"
	"noticebot/internal/storage"
	"noticebot/internal/waha"
	"noticebot/pkg/logx"
)

const (
	DefaultAddr         = "127.0.0.1:8080"
	DefaultMaxBodyBytes = 1 << 20
	SignatureHeader     = "X-Webhook-Signature"
)

type Config struct {
	Addr         string
	Secret       string
	MaxBodyBytes int64
	RatePerSec   float64 // 0 disables limiting
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MetricsPath  string // empty disables the route
}

// Jobs is satisfied by *dispatch.Service.
type Jobs interface {
	Submit(ctx context.Context, n notice.Notice, source string) (dispatch.Job, error)
	Job(id string) (dispatch.Job, bool)
	Jobs() []dispatch.Job
}

// SessionStatus is satisfied by *session.Coordinator.
type SessionStatus interface {
	Status(ctx context.Context) (waha.SessionStatus, error)
}

type Server struct {
	cfg     Config
	jobs    Jobs
	session SessionStatus
	store   storage.Store
	metrics *metrics.Metrics
	limiter *rate.Limiter
	log     logx.Logger
}

// New builds a server. store and m may be nil; the routes that need them are
// then not mounted.
func New(cfg Config, jobs Jobs, session SessionStatus, store storage.Store, m *metrics.Metrics, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:     cfg,
		jobs:    jobs,
		session: session,
		store:   store,
		metrics: m,
		log:     log.With(logx.String("comp", "webhook")),
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(recoverer(s.log))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(limit(s.limiter))
		}
		r.Post("/webhook", s.submit)
	})
	r.Get("/jobs", s.jobList)
	r.Get("/jobs/{id}", s.job)
	if s.store != nil {
		r.Get("/notices/{id}/deliveries", s.deliveries)
	}
	if s.metrics != nil && s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, s.metrics.Handler())
	}
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("webhook listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		s.log.Warn("webhook shutdown", logx.Err(err))
		return err
	}
	s.log.Info("webhook stopped")
	return nil
}
