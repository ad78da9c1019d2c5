// ABOUTME: Gateway orchestrator that wires the relay components to one HTTP server
// ABOUTME: Manages the store, hub, caches and the health, readiness and metrics endpoints lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/chatwoot-relay/internal/auth"
	"github.com/2389/chatwoot-relay/internal/cache"
	"github.com/2389/chatwoot-relay/internal/chatwoot"
	"github.com/2389/chatwoot-relay/internal/config"
	"github.com/2389/chatwoot-relay/internal/emailcheck"
	"github.com/2389/chatwoot-relay/internal/forwarder"
	"github.com/2389/chatwoot-relay/internal/hub"
	"github.com/2389/chatwoot-relay/internal/metrics"
	"github.com/2389/chatwoot-relay/internal/relay"
	"github.com/2389/chatwoot-relay/internal/store"
	"github.com/2389/chatwoot-relay/internal/stream"
	"github.com/2389/chatwoot-relay/internal/transcript"
	"github.com/2389/chatwoot-relay/internal/webhook"
)

// Gateway owns every relay component and the HTTP server in front of them.
type Gateway struct {
	config     *config.Config
	store      store.Store
	hub        *hub.Hub
	chatwoot   *chatwoot.Client
	dispatcher *relay.Dispatcher
	ingester   *webhook.Ingester
	verifier   *webhook.Verifier
	forwarder  *forwarder.Forwarder
	emails     *emailcheck.Validator
	stream     *stream.Controller
	recorder   *transcript.Recorder
	metrics    *metrics.Metrics
	limiter    *limiterPool
	httpServer *http.Server
	logger     *slog.Logger

	// closers release the bounded caches and trackers on shutdown
	closers []func()
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("RELAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a gateway from configuration, opening the store.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, s, logger), nil
}

// NewWithStore creates a gateway around an already opened store. The
// gateway takes ownership of s and closes it on Shutdown.
func NewWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		config: cfg,
		store:  s,
		logger: logger,
	}

	ttl, size := cfg.Cache.TTL, cfg.Cache.MaxEntries

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}
	gw.metrics = m

	gw.hub = hub.New(hub.Options{PingInterval: cfg.Stream.PingInterval, Logger: logger})
	m.RegisterHub(gw.hub.Total, gw.hub.Conversations)

	inboxIDs := cache.New[int64](ttl, size)
	gw.chatwoot = chatwoot.New(chatwoot.Config{
		BaseURL:    cfg.Chatwoot.BaseURL,
		AccountID:  cfg.Chatwoot.AccountID,
		APIToken:   cfg.Chatwoot.APIToken,
		Timeout:    cfg.Chatwoot.RequestTimeout,
		InboxCache: inboxIDs,
	}, logger)

	gw.recorder = transcript.New(s, transcript.Options{Metrics: m, Logger: logger})

	seen := cache.New[struct{}](ttl, size)
	received := cache.New[struct{}](ttl, size)
	conversations := cache.New[string](ttl, size)
	labels := relay.NewLabelTracker(size)
	pending := relay.NewPendingTracker(ttl, size)
	gw.closers = append(gw.closers,
		inboxIDs.Close, seen.Close, received.Close, conversations.Close, labels.Close, pending.Close)

	gw.dispatcher = &relay.Dispatcher{
		Publisher:  gw.hub,
		Normalizer: relay.NewNormalizer(seen),
		Labels:     labels,
		Pending:    pending,
		Recorder:   gw.recorder,
		Metrics:    m,
	}
	gw.ingester = webhook.NewIngester(gw.dispatcher, received, m, logger)
	gw.verifier = webhook.NewVerifier(cfg.Chatwoot.WebhookToken)
	if !gw.verifier.Enabled() {
		logger.Warn("webhook signature verification disabled - CHATWOOT_WEBHOOK_TOKEN not set")
	}

	var tokens *auth.StreamTokens
	if cfg.Auth.StreamTokenSecret != "" {
		tokens = auth.NewStreamTokens([]byte(cfg.Auth.StreamTokenSecret), cfg.Auth.StreamTokenTTL)
	}

	gw.forwarder = forwarder.New(forwarder.Config{
		Agents:        s,
		Mappings:      s,
		Chatwoot:      gw.chatwoot,
		Conversations: conversations,
		Pending:       pending,
		Tokens:        tokens,
		Metrics:       m,
		Logger:        logger,
	})

	gw.emails = emailcheck.New(cfg.EmailValidation.URL, cfg.EmailValidation.Timeout, logger)

	deps := stream.Deps{
		Hub:        gw.hub,
		Source:     gw.chatwoot,
		Dispatcher: gw.dispatcher,
		Pending:    pending,
		Webhooks:   gw.ingester,
		Recorder:   gw.recorder,
		Metrics:    m,
		Logger:     logger,
	}
	if tokens != nil {
		deps.Tokens = tokens
	}
	gw.stream = stream.New(cfg.Stream, cfg.Cache, deps)

	if cfg.RateLimit.RPS > 0 {
		gw.limiter = newLimiterPool(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("gateway configured",
		"stream_mode", cfg.Stream.Mode,
		"bootstrap_poll", cfg.Stream.BootstrapPoll,
		"chatwoot_configured", gw.chatwoot.Configured(),
		"stream_tokens", tokens != nil,
		"metrics", m != nil,
	)
	return gw
}

// Handler returns the routed HTTP handler.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	if g.metrics != nil {
		path := g.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, g.metrics.Handler())
	}

	mux.Handle("GET /api/chatwoot/stream", g.stream)
	mux.HandleFunc("GET /api/chatwoot/messages", g.handleMessages)
	mux.HandleFunc("GET /api/chatwoot/history", g.handleHistory)
	mux.Handle("POST /api/chatwoot/webhook", g.rateLimit("chatwoot_webhook", http.HandlerFunc(g.handleChatwootWebhook)))
	mux.Handle("POST /api/webhook", g.rateLimit("webhook", http.HandlerFunc(g.handleForward)))
	mux.Handle("POST /api/email/validate", g.rateLimit("email_validate", http.HandlerFunc(g.handleEmailValidate)))

	return mux
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown closes every open stream, stops the HTTP server and releases
// the store. Queued transcript events are written before the store closes.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	// Streams are long-lived; end them first so the server can drain.
	// Poll-mode streams are not hub subscribers and stop via the controller.
	g.hub.Shutdown()
	g.stream.Close()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.recorder.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	for _, closeFn := range g.closers {
		closeFn()
	}
	if g.limiter != nil {
		g.limiter.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d streams, %d conversations)", g.hub.Total(), g.hub.Conversations())
}
