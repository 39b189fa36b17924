// ABOUTME: Gateway wires the store, backends and orchestrator behind the HTTP server
// ABOUTME: Manages webhook, operator API and health endpoints plus the server lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/awaki-gateway/internal/auth"
	"github.com/2389/awaki-gateway/internal/backend"
	"github.com/2389/awaki-gateway/internal/compose"
	"github.com/2389/awaki-gateway/internal/config"
	"github.com/2389/awaki-gateway/internal/dedupe"
	"github.com/2389/awaki-gateway/internal/intent"
	"github.com/2389/awaki-gateway/internal/orchestrator"
	"github.com/2389/awaki-gateway/internal/store"
)

// MessageHandler processes inbound farmer messages
type MessageHandler interface {
	Handle(ctx context.Context, msg orchestrator.InboundMessage) (*orchestrator.Outcome, error)
	Counters() orchestrator.Counters
}

// Gateway is the awaki-gateway server.
type Gateway struct {
	config     *config.Config
	store      store.Store
	handler    MessageHandler
	replay     *dedupe.Cache
	replies    ReplySender
	verifier   *auth.JWTVerifier
	httpServer *http.Server
	logger     *slog.Logger
}

// deps are the components a Gateway serves. New builds them from config;
// tests supply their own.
type deps struct {
	store    store.Store
	handler  MessageHandler
	replay   *dedupe.Cache
	replies  ReplySender
	verifier *auth.JWTVerifier
}

// initStore opens the SQLite store. AWAKI_DB_PATH overrides the configured path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("AWAKI_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// buildOrchestrator creates the classifier, adapters and composer and wires
// them into an orchestrator. Vision and weather are left out when unconfigured.
func buildOrchestrator(cfg *config.Config, s store.Store, replay *dedupe.Cache, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	lex, err := intent.LoadLexicon(cfg.Intent.LexiconPath, cfg.Intent.Languages)
	if err != nil {
		return nil, fmt.Errorf("loading lexicon: %w", err)
	}

	b := cfg.Backends
	opts := orchestrator.Options{
		Store:      s,
		Classifier: intent.NewClassifier(lex),
		Replay:     replay,
		Composer:   compose.New(cfg.Conversation.MessageLimit, b.Vision.ConfidenceFloor),
		WindowSize: cfg.Conversation.WindowSize,
		Logger:     logger,
		Advisory: backend.NewAdvisoryAdapter(backend.AdvisoryConfig{
			BaseURL:     b.Advisory.BaseURL,
			APIKey:      b.Advisory.APIKey,
			Model:       b.Advisory.Model,
			MaxTokens:   b.Advisory.MaxTokens,
			Temperature: b.Advisory.Temperature,
			Policy:      policy(b.Advisory.Timeout, b.Advisory.NoRetry),
		}, nil, logger),
	}

	if cfg.VisionEnabled() {
		opts.Vision = backend.NewVisionAdapter(backend.VisionConfig{
			ModelURL:        b.Vision.ModelURL,
			MaizeModelURL:   b.Vision.MaizeModelURL,
			APIToken:        b.Vision.APIToken,
			ConfidenceFloor: b.Vision.ConfidenceFloor,
			MaxMediaBytes:   b.Vision.MaxMediaBytes,
			MediaUsername:   b.Vision.MediaUsername,
			MediaPassword:   b.Vision.MediaPassword,
			Policy:          policy(b.Vision.Timeout, b.Vision.NoRetry),
		}, nil, logger)
	} else {
		logger.Warn("vision backend disabled - no backends.vision.model_url configured")
	}

	if cfg.WeatherEnabled() {
		opts.Weather = backend.NewWeatherAdapter(backend.WeatherConfig{
			GeocodeURL:  b.Weather.GeocodeURL,
			ForecastURL: b.Weather.ForecastURL,
			APIKey:      b.Weather.APIKey,
			Policy:      policy(b.Weather.Timeout, b.Weather.NoRetry),
		}, nil, logger)
	} else {
		logger.Warn("weather backend disabled - no backends.weather.api_key configured")
	}

	return orchestrator.New(opts)
}

func policy(timeout time.Duration, noRetry bool) backend.Policy {
	return backend.Policy{
		Timeout:    timeout,
		MaxRetries: config.Retries(noRetry),
		Backoff:    250 * time.Millisecond,
	}
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	replay := dedupe.New(cfg.Conversation.ReplayTTL, cfg.Conversation.ReplayMaxSize)

	orch, err := buildOrchestrator(cfg, s, replay, logger)
	if err != nil {
		replay.Close()
		_ = s.Close()
		return nil, err
	}

	d := deps{store: s, handler: orch, replay: replay}

	if cfg.Outbound.ReplyURL != "" {
		d.replies = NewHTTPReplySender(cfg.Outbound.ReplyURL, cfg.Outbound.AuthToken, cfg.Outbound.Timeout)
		logger.Info("pushing replies to relay", "reply_url", cfg.Outbound.ReplyURL)
	}

	if cfg.Auth.JWTSecret != "" {
		d.verifier, err = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			replay.Close()
			_ = s.Close()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
	}

	return newGateway(cfg, d, logger), nil
}

func newGateway(cfg *config.Config, d deps, logger *slog.Logger) *Gateway {
	gw := &Gateway{
		config:   cfg,
		store:    d.store,
		handler:  d.handler,
		replay:   d.replay,
		replies:  d.replies,
		verifier: d.verifier,
		logger:   logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw
}

// routes registers every HTTP endpoint.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	webhookAuth := auth.WebhookTokenMiddleware(g.config.Auth.WebhookToken)
	twilioAuth := auth.TwilioSignatureMiddleware(g.config.Auth.TwilioAuthToken, g.config.Server.PublicURL)
	mux.Handle("POST /webhook/inbound", webhookAuth(http.HandlerFunc(g.handleInbound)))
	mux.Handle("POST /webhook/twilio", twilioAuth(http.HandlerFunc(g.handleTwilio)))
	if g.config.Auth.WebhookToken == "" {
		g.logger.Warn("webhook auth disabled - no auth.webhook_token configured")
	}
	if g.config.Auth.TwilioAuthToken == "" {
		g.logger.Warn("twilio signature check disabled - no auth.twilio_auth_token configured")
	}

	// Operator API exposes farmer data, so it is only served with auth
	if g.verifier != nil {
		operatorAuth := auth.OperatorMiddleware(g.verifier)
		mux.Handle("GET /api/stats", operatorAuth(http.HandlerFunc(g.handleStats)))
		mux.Handle("GET /api/farmers/{id}/history", operatorAuth(http.HandlerFunc(g.handleFarmerHistory)))
		mux.Handle("GET /api/turns", operatorAuth(http.HandlerFunc(g.handleSearchTurns)))
		g.logger.Info("operator API enabled")
	} else {
		g.logger.Warn("operator API disabled - no auth.jwt_secret configured")
	}

	return mux
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until the context is canceled.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
		close(errCh)
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case err, ok := <-errCh:
		if ok {
			g.logger.Error("server error", "error", err)
			serverErr = err
		}
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown runs Shutdown with a fresh context since the caller's is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
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

// Shutdown stops the HTTP server, waiting for in-flight messages, then
// releases the replay cache and store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	if g.replay != nil {
		g.replay.Close()
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers.
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
	_, _ = w.Write([]byte("ready"))
}
