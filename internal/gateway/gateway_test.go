// ABOUTME: Tests for gateway construction, routing, health checks and lifecycle
// ABOUTME: Uses a fake message handler and the in-memory mock store

package gateway

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/awaki-gateway/internal/auth"
	"github.com/2389/awaki-gateway/internal/config"
	"github.com/2389/awaki-gateway/internal/dedupe"
	"github.com/2389/awaki-gateway/internal/intent"
	"github.com/2389/awaki-gateway/internal/orchestrator"
	"github.com/2389/awaki-gateway/internal/store"
)

const testJWTSecret = "gateway-test-secret-0123456789abcdef"

type fakeHandler struct {
	mu       sync.Mutex
	messages []orchestrator.InboundMessage
	outcome  func(msg orchestrator.InboundMessage) *orchestrator.Outcome
	err      error
	counters orchestrator.Counters
}

func (f *fakeHandler) Handle(ctx context.Context, msg orchestrator.InboundMessage) (*orchestrator.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	if f.err != nil {
		return nil, f.err
	}
	if f.outcome != nil {
		return f.outcome(msg), nil
	}
	return &orchestrator.Outcome{
		FarmerID:  msg.FarmerID,
		MessageID: msg.MessageID,
		Decision:  intent.Decision{Kind: intent.KindGreeting},
		Bodies:    []string{"Hello! Send a photo of your crop."},
	}, nil
}

func (f *fakeHandler) Counters() orchestrator.Counters {
	return f.counters
}

func (f *fakeHandler) Messages() []orchestrator.InboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orchestrator.InboundMessage(nil), f.messages...)
}

type fakeSender struct {
	mu    sync.Mutex
	sent  map[string][]string
	err   error
	calls int
}

func (s *fakeSender) Send(ctx context.Context, farmerID string, bodies []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	if s.sent == nil {
		s.sent = make(map[string][]string)
	}
	s.sent[farmerID] = append(s.sent[farmerID], bodies...)
	return nil
}

type testGateway struct {
	*Gateway
	handler *fakeHandler
	store   *store.MockStore
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, mutate ...func(cfg *config.Config, d *deps)) *testGateway {
	t.Helper()
	cfg := testConfig()
	h := &fakeHandler{}
	s := store.NewMockStore()
	replay := dedupe.New(time.Hour, 100)
	t.Cleanup(replay.Close)

	verifier, err := auth.NewJWTVerifier([]byte(testJWTSecret))
	require.NoError(t, err)

	d := deps{store: s, handler: h, replay: replay, verifier: verifier}
	for _, m := range mutate {
		m(cfg, &d)
	}
	return &testGateway{Gateway: newGateway(cfg, d, discardLogger()), handler: h, store: s}
}

func (tg *testGateway) operatorToken(t *testing.T) string {
	t.Helper()
	token, err := tg.verifier.Generate("ops", time.Hour)
	require.NoError(t, err)
	return token
}

func TestHealth(t *testing.T) {
	gw := newTestGateway(t)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReady(t *testing.T) {
	gw := newTestGateway(t)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	gw.store.SetFailReads(true)
	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store unavailable", rec.Body.String())
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	gw := newTestGateway(t)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/inbound", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRoutes_OperatorAPIDisabledWithoutSecret(t *testing.T) {
	gw := newTestGateway(t, func(cfg *config.Config, d *deps) { d.verifier = nil })

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes_OperatorAPIRequiresToken(t *testing.T) {
	gw := newTestGateway(t)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNew_FromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(`
server:
  http_addr: "127.0.0.1:0"
database:
  path: "` + filepath.Join(t.TempDir(), "awaki.db") + `"
auth:
  jwt_secret: "` + testJWTSecret + `"
backends:
  advisory:
    api_key: "sk-test"
outbound:
  reply_url: "http://127.0.0.1:1/send"
`))
	require.NoError(t, err)

	gw, err := New(cfg, discardLogger())
	require.NoError(t, err)
	assert.NotNil(t, gw.verifier)
	assert.NotNil(t, gw.replies)
	assert.NotNil(t, gw.replay)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, gw.Shutdown(context.Background()))
}

func TestNew_BadLexicon(t *testing.T) {
	cfg, err := config.Parse([]byte(`
database:
  path: "` + filepath.Join(t.TempDir(), "awaki.db") + `"
backends:
  advisory:
    api_key: "sk-test"
intent:
  lexicon_path: "` + filepath.Join(t.TempDir(), "missing.toml") + `"
`))
	require.NoError(t, err)

	_, err = New(cfg, discardLogger())
	assert.ErrorContains(t, err, "loading lexicon")
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	gw := newTestGateway(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestBuildOrchestrator_AdapterLogsCarryOneComponent(t *testing.T) {
	advisory := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer advisory.Close()

	cfg, err := config.Parse([]byte(`
database:
  path: "` + filepath.Join(t.TempDir(), "awaki.db") + `"
backends:
  advisory:
    api_key: "sk-test"
    base_url: "` + advisory.URL + `"
    no_retry: true
`))
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	replay := dedupe.New(time.Hour, 10)
	defer replay.Close()

	orch, err := buildOrchestrator(cfg, store.NewMockStore(), replay, logger)
	require.NoError(t, err)

	_, err = orch.Handle(context.Background(), orchestrator.InboundMessage{FarmerID: "f1", MessageID: "m1", Text: "How do I store beans?"})
	require.NoError(t, err)

	var sawAdapter bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.LessOrEqual(t, strings.Count(line, `"component":`), 1, line)
		if strings.Contains(line, `"component":"advisory"`) {
			sawAdapter = true
		}
	}
	assert.True(t, sawAdapter, "advisory adapter should log its failure")
}
