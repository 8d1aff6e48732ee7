// Package mockserver provides a fake Speculare ingest server for local runs
// and end-to-end tests of the agent.
package mockserver

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/speculare-cloud/speculare-client/internal/agent"
	"github.com/speculare-cloud/speculare-client/internal/transport"
)

const maxBodyBytes = 32 << 20

// Config configures the mock server.
type Config struct {
	Addr string

	// Token, when set, is required as a bearer token on every request.
	Token string

	behavior BehaviorProfile
}

// SetBehavior replaces the behavior profile.
func (c *Config) SetBehavior(b *BehaviorProfile) {
	if b == nil {
		return
	}
	c.behavior = *b
}

// DefaultConfig returns a config listening on a random loopback port.
func DefaultConfig() *Config {
	return &Config{
		Addr: "127.0.0.1:0",
	}
}

// BehaviorProfile controls fault injection.
type BehaviorProfile struct {
	// RequireRegistration answers 412 to hosts that have not PATCHed /sso yet.
	RequireRegistration bool

	// FailFirst answers 503 to that many ingest requests before accepting any.
	FailFirst int

	// LatencyMs delays every ingest response.
	LatencyMs int
}

// Server is the mock server interface.
type Server interface {
	Start() error
	Stop(ctx context.Context)
	Addr() string
	APIURL() string
	SSOURL() string

	// Batches returns the accepted batches in arrival order.
	Batches() [][]agent.Snapshot

	// Requests returns the number of ingest requests received, accepted or not.
	Requests() int
}

// New creates a new mock server.
func New(config *Config) Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &mockServer{
		cfg:        config,
		behavior:   config.behavior,
		failLeft:   config.behavior.FailFirst,
		registered: make(map[string]bool),
	}
}

// StartTestServer starts a server with the given behavior and returns cleanup.
func StartTestServer(b *BehaviorProfile) (server Server, cleanup func()) {
	cfg := DefaultConfig()
	cfg.SetBehavior(b)
	srv := New(cfg)
	if err := srv.Start(); err != nil {
		return srv, func() {}
	}
	cleanup = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	}
	return srv, cleanup
}

type mockServer struct {
	cfg        *Config
	behavior   BehaviorProfile
	httpServer *http.Server
	listener   net.Listener
	addr       string

	mu         sync.Mutex
	failLeft   int
	requests   int
	batches    [][]agent.Snapshot
	registered map[string]bool
}

func (s *mockServer) Start() error {
	if s.cfg == nil {
		s.cfg = DefaultConfig()
	}

	listenAddr := normalizeAddr(s.cfg.Addr)
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/api", s.handleIngest)
	mux.HandleFunc("/sso", s.handleRegister)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = s.httpServer.Serve(ln)
	}()

	return nil
}

func (s *mockServer) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	_ = s.httpServer.Shutdown(ctx)
}

func (s *mockServer) Addr() string {
	return s.addr
}

func (s *mockServer) APIURL() string {
	if s.addr == "" {
		return ""
	}
	return "http://" + s.addr + "/api"
}

func (s *mockServer) SSOURL() string {
	if s.addr == "" {
		return ""
	}
	return "http://" + s.addr + "/sso"
}

func (s *mockServer) Batches() [][]agent.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]agent.Snapshot, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *mockServer) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *mockServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	var batch []agent.Snapshot
	if err := json.Unmarshal(body, &batch); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON array of snapshots")
		return
	}

	if !sleepWithContext(r.Context(), time.Duration(s.behavior.LatencyMs)*time.Millisecond) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	if s.failLeft > 0 {
		s.failLeft--
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	if s.behavior.RequireRegistration && !s.registered[r.Header.Get(transport.HeaderHostUUID)] {
		writeError(w, http.StatusPreconditionFailed, "host is not registered")
		return
	}

	s.batches = append(s.batches, batch)
	w.WriteHeader(http.StatusOK)
}

func (s *mockServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	host := r.Header.Get(transport.HeaderHostUUID)
	if host == "" {
		writeError(w, http.StatusBadRequest, "missing host uuid")
		return
	}

	s.mu.Lock()
	s.registered[host] = true
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *mockServer) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") == s.cfg.Token
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func normalizeAddr(addr string) string {
	if addr == "" {
		return "127.0.0.1:0"
	}
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		return "127.0.0.1:" + port
	}
	return addr
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
