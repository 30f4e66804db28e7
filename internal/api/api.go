// Package api provides the HTTP server of RecruitPipe: outreach endpoints, the SMS
// webhooks, thread inspection and the health and metrics probes.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/BTreeMap/RecruitPipe/internal/flow"
	"github.com/BTreeMap/RecruitPipe/internal/messaging"
	"github.com/BTreeMap/RecruitPipe/internal/metrics"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// Server serves the HTTP API.
type Server struct {
	svc      *flow.Service
	sms      *messaging.SMSService
	validate *validator.Validate
	opts     Opts
}

// NewServer creates a server over the flow service. sms provides the Twilio webhook
// handlers; when nil those routes are not mounted.
func NewServer(svc *flow.Service, sms *messaging.SMSService, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		svc:      svc,
		sms:      sms,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     o,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /send", s.sendHandler)
	mux.HandleFunc("POST /send-batch", s.sendBatchHandler)
	mux.HandleFunc("POST /webhooks/mo", s.moHandler)
	mux.HandleFunc("GET /threads/{phone}", s.threadHandler)
	mux.HandleFunc("GET /threads/{phone}/summary", s.summaryHandler)
	mux.HandleFunc("GET /prompt", s.promptHandler)
	if s.sms != nil {
		mux.HandleFunc("POST "+messaging.InboundWebhookPath, s.sms.InboundWebhookHandler)
		mux.HandleFunc("POST "+messaging.StatusWebhookPath, s.sms.StatusWebhookHandler)
	}
	return logRequests(mux)
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(rec, r)
		slog.Debug("Server: request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
