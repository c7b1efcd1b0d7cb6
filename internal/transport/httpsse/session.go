// Package httpsse implements the HTTP + SSE transport (spec §4.8): a
// dual-mode JSON-RPC endpoint that replies either as a direct HTTP body
// (Streamable HTTP) or by publishing onto a session-scoped SSE channel
// (Legacy SSE), plus a fan-out stream endpoint and a liveness probe.
package httpsse

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// broadcastBuffer bounds each TransportSession's event channel. A slow
// subscriber that falls more than this far behind loses events — the
// protocol tolerates this; the client is expected to reopen (spec §4.8,
// §5 "Back-pressure").
const broadcastBuffer = 64

// frame is one SSE event queued for delivery to a session's subscribers.
type frame struct {
	event string
	data  []byte
}

// TransportSession is the HTTP-layer fan-out identity used to route SSE
// events (spec §4.1 data model, C8). It is distinct from the C5 session —
// a TransportSession carries no user identity, only a broadcast channel.
type TransportSession struct {
	id           string
	createdAt    time.Time
	mu           sync.Mutex
	lastActivity time.Time

	subMu       sync.RWMutex
	subscribers map[chan frame]struct{}
}

func newTransportSession(id string) *TransportSession {
	now := time.Now()
	return &TransportSession{
		id:          id,
		createdAt:   now,
		lastActivity: now,
		subscribers: make(map[chan frame]struct{}),
	}
}

// ID returns the session's identifier.
func (s *TransportSession) ID() string { return s.id }

// touch bumps last-activity, used by the idle reaper.
func (s *TransportSession) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *TransportSession) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// subscribe registers a new SSE subscriber and returns its channel plus a
// function to unregister it. The channel is buffered; a full channel drops
// the frame rather than blocking the publisher.
func (s *TransportSession) subscribe() (chan frame, func()) {
	ch := make(chan frame, broadcastBuffer)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()
	return ch, func() {
		s.subMu.Lock()
		delete(s.subscribers, ch)
		s.subMu.Unlock()
		close(ch)
	}
}

// hasSubscribers reports whether any SSE stream is currently attached.
func (s *TransportSession) hasSubscribers() bool {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subscribers) > 0
}

// publish fans f out to every live subscriber, dropping it silently for any
// subscriber whose buffer is full (spec §5 back-pressure). It reports
// whether at least one subscriber received the frame.
func (s *TransportSession) publish(f frame) bool {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	delivered := false
	for ch := range s.subscribers {
		select {
		case ch <- f:
			delivered = true
		default:
		}
	}
	return delivered
}

func (s *TransportSession) closeAll() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

// Registry tracks live TransportSessions, guarding the map with an
// RWMutex since reads (lookup on every POST/SSE request) are the hot path
// (spec §5: "transport-session map [is] behind read-write locks; read
// paths are the hot path").
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*TransportSession

	// fallbackOrder preserves creation order so the "fallback to any
	// active session" quirk (spec §4.8, §REDESIGN) picks deterministically
	// rather than ranging over the map.
	fallbackOrder []string

	quirkFallbacks atomic.Uint64
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*TransportSession)}
}

// GetOrCreate returns the session for id, creating one if id is empty or
// unknown. It reports whether a new session was created, so callers know
// whether to emit the Mcp-Session-Id response header (spec §4.8 "session
// id acquisition").
func (r *Registry) GetOrCreate(id string) (*TransportSession, bool) {
	if id != "" {
		r.mu.RLock()
		sess, ok := r.sessions[id]
		r.mu.RUnlock()
		if ok {
			sess.touch()
			return sess, false
		}
	}

	newID := id
	if newID == "" {
		newID = uuid.New().String()
	}
	sess := newTransportSession(newID)

	r.mu.Lock()
	if existing, ok := r.sessions[newID]; ok {
		r.mu.Unlock()
		existing.touch()
		return existing, false
	}
	r.sessions[newID] = sess
	r.fallbackOrder = append(r.fallbackOrder, newID)
	r.mu.Unlock()
	return sess, true
}

// Get looks up a session without creating one.
func (r *Registry) Get(id string) (*TransportSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// AnyActiveWithSubscriber returns any session with at least one live SSE
// subscriber, for the "fallback to any active session" quirk (spec §4.8:
// "If the original session has no SSE subscriber, fall back to publishing
// on any active session — documented quirk for certain inspectors").
func (r *Registry) AnyActiveWithSubscriber() (*TransportSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.fallbackOrder {
		sess, ok := r.sessions[id]
		if ok && sess.hasSubscribers() {
			r.quirkFallbacks.Add(1)
			return sess, true
		}
	}
	return nil, false
}

// QuirkFallbackCount reports how many times AnyActiveWithSubscriber served
// a match, so operators can observe how often the back-compat quirk fires.
func (r *Registry) QuirkFallbackCount() uint64 {
	return r.quirkFallbacks.Load()
}

// ReapIdle removes and closes every session idle longer than timeout,
// returning the ids reaped (spec §4.8: "a background reaper removes
// TransportSessions idle beyond session_timeout").
func (r *Registry) ReapIdle(timeout time.Duration) []string {
	now := time.Now()
	var stale []string

	r.mu.RLock()
	for id, sess := range r.sessions {
		if sess.idleSince(now) > timeout {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	if len(stale) == 0 {
		return nil
	}

	r.mu.Lock()
	for _, id := range stale {
		if sess, ok := r.sessions[id]; ok {
			sess.closeAll()
			delete(r.sessions, id)
		}
	}
	r.fallbackOrder = compact(r.fallbackOrder, r.sessions)
	r.mu.Unlock()
	return stale
}

// CloseAll closes every session's subscribers, used on transport shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range r.sessions {
		sess.closeAll()
	}
	r.sessions = make(map[string]*TransportSession)
	r.fallbackOrder = nil
}

func compact(order []string, live map[string]*TransportSession) []string {
	out := order[:0]
	for _, id := range order {
		if _, ok := live[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
