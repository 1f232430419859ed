// Package server is the HTTP boundary. Handlers decode one request, call a
// collaborator, and encode one envelope; no lending logic lives here.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/gustavo/defi-agent/internal/model"
	"github.com/gustavo/defi-agent/internal/store"
)

// ActionRunner is the orchestrator surface the handlers call.
type ActionRunner interface {
	Dispatch(ctx context.Context, req model.ActionRequest) model.TransactionOutcome
	Balance(ctx context.Context, assetID string) (model.BalanceReport, error)
}

// PoolLister quotes the lending pools.
type PoolLister interface {
	ListPools(ctx context.Context) ([]model.LendingPool, error)
}

// LendSubmitter submits deposits into quoted pools.
type LendSubmitter interface {
	SubmitLend(ctx context.Context, asset, tokenAmount, poolAddress string) model.TransactionOutcome
}

// HistoryLister reads the outcome journal.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]store.Entry, error)
}

type Config struct {
	Listen          string
	Address         string // session wallet address, reported verbatim
	FaucetPerMinute int
}

type Server struct {
	cfg      Config
	actions  ActionRunner
	pools    PoolLister
	lender   LendSubmitter
	history  HistoryLister
	faucet   *rate.Limiter
	log      logrus.FieldLogger
	metrics  *httpMetrics
	registry *prometheus.Registry
	chat     http.Handler
	srv      *http.Server
}

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics(registry *prometheus.Registry) *httpMetrics {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_http_requests_total",
			Help: "HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	registry.MustRegister(m.requests, m.duration)
	return m
}

func New(cfg Config, actions ActionRunner, pools PoolLister, lender LendSubmitter, history HistoryLister, log logrus.FieldLogger) *Server {
	perMinute := cfg.FaucetPerMinute
	if perMinute <= 0 {
		perMinute = 6
	}
	registry := prometheus.NewRegistry()
	return &Server{
		cfg:      cfg,
		actions:  actions,
		pools:    pools,
		lender:   lender,
		history:  history,
		faucet:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		log:      log,
		metrics:  newHTTPMetrics(registry),
		registry: registry,
	}
}

// Handler builds the full route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/aave", s.instrument("/api/aave", s.handleAave))
	mux.HandleFunc("/api/lending/pools", s.instrument("/api/lending/pools", s.handlePools))
	mux.HandleFunc("/api/lending/lend", s.instrument("/api/lending/lend", s.handleLend))
	mux.HandleFunc("/api/address", s.instrument("/api/address", s.handleAddress))
	mux.HandleFunc("/api/balance", s.instrument("/api/balance", s.handleBalance))
	mux.HandleFunc("/api/transfer", s.instrument("/api/transfer", s.handleTransfer))
	mux.HandleFunc("/api/faucet", s.instrument("/api/faucet", s.handleFaucet))
	mux.HandleFunc("/api/actions", s.instrument("/api/actions", s.handleActions))
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.chat != nil {
		mux.Handle("/api/chat", s.chat)
	}
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// MountChat attaches the chat socket handler. Must be called before Start.
func (s *Server) MountChat(h http.Handler) { s.chat = h }

func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // confirmation waits ride on the response
		IdleTimeout:  60 * time.Second,
	}
	s.log.WithField("listen", s.cfg.Listen).Info("http server starting")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.requests.WithLabelValues(route, statusClass(rec.status)).Inc()
		s.metrics.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
