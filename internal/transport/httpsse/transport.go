package httpsse

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mcpanvil/core/internal/handler"
	"github.com/mcpanvil/core/internal/middleware"
	"github.com/mcpanvil/core/internal/protocol"
)

// SessionIDHeader carries the TransportSession id in both directions.
const SessionIDHeader = "Mcp-Session-Id"

// maxRequestBodyBytes bounds a single POST body before JSON parsing, ahead
// of the finer-grained shape limits SecurityValidator applies downstream.
const maxRequestBodyBytes = 1 << 20

// keepaliveEventInterval and keepaliveCommentInterval implement spec
// §4.8's two-tier SSE keepalive: a typed ping event every 30s, and a
// bare low-level comment every 15s so intermediaries don't idle out the
// connection between pings.
const (
	keepaliveEventInterval   = 30 * time.Second
	keepaliveCommentInterval = 15 * time.Second
)

// DefaultSessionTimeout is how long a TransportSession may sit idle before
// the background reaper removes it (spec §4.8).
const DefaultSessionTimeout = 5 * time.Minute

// Config configures the HTTP+SSE transport.
type Config struct {
	Addr            string
	CertFile        string
	KeyFile         string
	AllowedOrigins  []string
	RequireBearer   bool
	SessionTimeout  time.Duration
	ReapInterval    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8443"
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = c.SessionTimeout / 2
	}
	return c
}

// Transport is the HTTP + SSE front door onto a handler.Handler (spec
// §4.8). One Connection per TransportSession models the handshake state
// machine across that session's whole lifetime, since a Legacy-SSE client
// issues many POSTs against the same session id.
type Transport struct {
	cfg       Config
	h         *handler.Handler
	registry  *Registry
	logger    *slog.Logger
	server    *http.Server

	connMu sync.Mutex
	conns  map[string]*handler.Connection
}

// New builds a Transport serving h.
func New(h *handler.Handler, cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:      cfg.withDefaults(),
		h:        h,
		registry: NewRegistry(),
		logger:   logger,
		conns:    make(map[string]*handler.Connection),
	}
}

func (t *Transport) connectionFor(sessionID string) *handler.Connection {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	conn, ok := t.conns[sessionID]
	if !ok {
		conn = handler.NewConnection()
		t.conns[sessionID] = conn
	}
	return conn
}

func (t *Transport) dropConnection(sessionID string) {
	t.connMu.Lock()
	delete(t.conns, sessionID)
	t.connMu.Unlock()
}

// Mux builds the routed http.Handler for this transport: POST /messages,
// GET /sse, GET /health, wrapped in the origin gate, auth gate, and CORS
// (spec §4.8, §6's "permissive CORS exposing Mcp-Session-Id/Content-Type").
func (t *Transport) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/messages", t.originGate(t.authGate(http.HandlerFunc(t.handleMessages))))
	mux.Handle("/sse", t.originGate(t.authGate(http.HandlerFunc(t.handleSSE))))
	mux.Handle("/health", http.HandlerFunc(t.handleHealth))
	return t.withCORS(mux)
}

// Run starts the HTTP listener and the idle-session reaper; it blocks
// until ctx is cancelled or ListenAndServe fails.
func (t *Transport) Run(ctx context.Context) error {
	t.server = &http.Server{Addr: t.cfg.Addr, Handler: t.Mux()}

	reapDone := make(chan struct{})
	go t.reapLoop(ctx, reapDone)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if t.cfg.CertFile != "" && t.cfg.KeyFile != "" {
			t.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			err = t.server.ListenAndServeTLS(t.cfg.CertFile, t.cfg.KeyFile)
		} else {
			err = t.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return t.shutdown()
	case err := <-errCh:
		<-reapDone
		return err
	}
}

func (t *Transport) shutdown() error {
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	t.registry.CloseAll()
	return t.server.Shutdown(sctx)
}

func (t *Transport) reapLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped := t.registry.ReapIdle(t.cfg.SessionTimeout); len(reaped) > 0 {
				for _, id := range reaped {
					t.dropConnection(id)
				}
				t.logger.Info("reaped idle transport sessions", "count", len(reaped))
			}
		}
	}
}

// originGate enforces spec §4.8's origin check: a non-matching Origin
// header is 403 only when allowed_origins is configured; a request
// without an Origin header is allowed through (same-origin or non-browser).
func (t *Transport) originGate(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(t.cfg.AllowedOrigins))
	for _, o := range t.cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(allowed) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := allowed[origin]; !ok {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authGate enforces spec §4.8's transport-level auth check: when
// RequireBearer is set, a missing or malformed Authorization: Bearer
// header is rejected with 401 before a JSON-RPC response is ever formed.
// Credential *validation* (whether the bearer token is actually good)
// still happens in the middleware pipeline's AuthStage — this gate only
// enforces the header's presence and shape at the transport boundary.
func (t *Transport) authGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.cfg.RequireBearer {
			next.ServeHTTP(w, r)
			return
		}
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") || strings.TrimPrefix(authz, "Bearer ") == "" {
			http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Transport) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+SessionIDHeader)
		w.Header().Set("Access-Control-Expose-Headers", SessionIDHeader+", Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sessionIDFor resolves the session id per spec §4.8's acquisition order:
// session_id query param, then the Mcp-Session-Id header, else empty (the
// Registry mints a fresh id on first POST).
func sessionIDFor(r *http.Request) string {
	if id := r.URL.Query().Get("session_id"); id != "" {
		return id
	}
	return r.Header.Get(SessionIDHeader)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if parts := strings.Split(xff, ","); len(parts) > 0 {
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func headerMap(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header))
	for k := range r.Header {
		out[k] = r.Header.Get(k)
	}
	return out
}

// wantsStreamableJSON implements spec §4.8's response-mode heuristic: if
// application/json appears in Accept and text/event-stream does not, or
// application/json appears earlier than text/event-stream, reply directly
// (Streamable HTTP); otherwise publish via SSE (Legacy SSE).
func wantsStreamableJSON(accept string) bool {
	jsonIdx := strings.Index(accept, "application/json")
	sseIdx := strings.Index(accept, "text/event-stream")
	if jsonIdx == -1 {
		return false
	}
	if sseIdx == -1 {
		return true
	}
	return jsonIdx < sseIdx
}

// handleMessages implements POST /messages?session_id=… (spec §4.8).
func (t *Transport) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		t.writeParseError(w, r, err)
		return
	}

	sessionID := sessionIDFor(r)
	sess, created := t.registry.GetOrCreate(sessionID)
	if created {
		w.Header().Set(SessionIDHeader, sess.ID())
	}
	conn := t.connectionFor(sess.ID())

	parsed, perr := protocol.Parse(body)
	if perr != nil {
		t.respondSingle(w, r, sess, &protocol.Response{JSONRPC: "2.0", ID: protocol.NullID(), Error: perr})
		return
	}

	ip := clientIP(r)
	headers := headerMap(r)
	ctx := r.Context()

	if parsed.Single != nil {
		rc := &middleware.RequestContext{Request: parsed.Single, RawSize: len(body), ClientIP: ip, Headers: headers}
		resp := t.h.HandleRequest(ctx, conn, rc)
		t.respondSingle(w, r, sess, resp)
		return
	}

	responses := t.h.HandleBatch(ctx, conn, parsed.Batch, ip, headers)
	t.respondBatch(w, r, sess, responses)
}

func (t *Transport) writeParseError(w http.ResponseWriter, r *http.Request, err error) {
	perr := protocol.ParseError("failed to read request body: " + err.Error())
	t.respondSingle(w, r, nil, &protocol.Response{JSONRPC: "2.0", ID: protocol.NullID(), Error: perr})
}

// respondSingle sends resp per the negotiated response mode. A nil resp
// (the request was a notification) always yields 204 with no body,
// regardless of mode (spec §4.8: "Notifications produce 204 with no body
// in either mode").
func (t *Transport) respondSingle(w http.ResponseWriter, r *http.Request, sess *TransportSession, resp *protocol.Response) {
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if wantsStreamableJSON(r.Header.Get("Accept")) {
		t.writeJSON(w, resp)
		return
	}
	t.publishOrFallback(sess, resp)
	w.WriteHeader(http.StatusNoContent)
}

func (t *Transport) respondBatch(w http.ResponseWriter, r *http.Request, sess *TransportSession, responses []*protocol.Response) {
	if len(responses) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if wantsStreamableJSON(r.Header.Get("Accept")) {
		t.writeJSON(w, responses)
		return
	}
	for _, resp := range responses {
		t.publishOrFallback(sess, resp)
	}
	w.WriteHeader(http.StatusNoContent)
}

// publishOrFallback implements the documented "fallback to any active
// session" quirk (spec §4.8, §REDESIGN FLAGS): some MCP inspectors open
// their SSE stream on a different session id than the one their POST
// carries, so a response that can't reach its own session's subscriber is
// still delivered somewhere rather than silently dropped.
func (t *Transport) publishOrFallback(sess *TransportSession, resp *protocol.Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		t.logger.Error("failed to marshal response for SSE publish", "error", err)
		return
	}
	f := frame{event: "message", data: raw}
	if sess != nil && sess.publish(f) {
		return
	}
	if fallback, ok := t.registry.AnyActiveWithSubscriber(); ok {
		fallback.publish(f)
	}
}

func (t *Transport) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// handleSSE implements GET /sse?session_id=… (spec §4.8). The first event
// is always `event: endpoint`; subsequent events are JSON-RPC responses
// published by handleMessages, plus periodic keepalives.
func (t *Transport) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sessionID := sessionIDFor(r)
	sess, created := t.registry.GetOrCreate(sessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(SessionIDHeader, sess.ID())
	if created {
		w.WriteHeader(http.StatusOK)
	}

	ch, unsubscribe := sess.subscribe()
	defer unsubscribe()

	writeEvent(w, "endpoint", []byte(`/messages?session_id=`+sess.ID()))
	flusher.Flush()

	eventTicker := time.NewTicker(keepaliveEventInterval)
	defer eventTicker.Stop()
	commentTicker := time.NewTicker(keepaliveCommentInterval)
	defer commentTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, f.event, f.data)
			flusher.Flush()
		case now := <-eventTicker.C:
			payload, _ := json.Marshal(struct {
				Type      string `json:"type"`
				Timestamp int64  `json:"timestamp"`
			}{Type: "ping", Timestamp: now.Unix()})
			writeEvent(w, "ping", payload)
			flusher.Flush()
		case <-commentTicker.C:
			_, _ = w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, data []byte) {
	_, _ = w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n"))
}

// handleHealth implements GET /health (spec §4.8): a simple liveness
// probe reporting process and transport-session-registry state.
func (t *Transport) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(struct {
		Status          string `json:"status"`
		QuirkFallbacks  string `json:"quirk_fallbacks"`
	}{
		Status:         "ok",
		QuirkFallbacks: strconv.FormatUint(t.registry.QuirkFallbackCount(), 10),
	})
}
