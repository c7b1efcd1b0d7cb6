package handler

import "sync"

// State is a connection's position in the initialize handshake (spec §4.7):
// New →(initialize)→ Initializing →(initialized notification)→ Ready
// →(disconnect/timeout)→ Closed.
type State int

const (
	StateNew State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection tracks one transport connection's handshake state. A single
// HTTP POST carries its own Connection only when the transport treats each
// request as stateless; long-lived transports (stdio, a session-bound SSE
// stream) hold one Connection for their whole lifetime.
type Connection struct {
	mu              sync.Mutex
	state           State
	protocolVersion string
}

// NewConnection returns a fresh connection in State New.
func NewConnection() *Connection { return &Connection{state: StateNew} }

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// beginInitialize transitions New→Initializing. It reports false if the
// connection was not in State New (repeated initialize, spec §4.7).
func (c *Connection) beginInitialize(version string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateNew {
		return false
	}
	c.state = StateInitializing
	c.protocolVersion = version
	return true
}

// MarkReady transitions Initializing→Ready on the "initialized"
// notification. A call outside Initializing is a no-op: notifications
// never produce an error response.
func (c *Connection) MarkReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateInitializing {
		c.state = StateReady
	}
}

// Close transitions to Closed from any state.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
}

// ProtocolVersion returns the version negotiated at initialize, or "" if
// initialize hasn't happened yet.
func (c *Connection) ProtocolVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocolVersion
}
