package registry

import (
	"sync"

	"go.uber.org/zap"
)

// Conn is the opaque connection handle tracked by the registry. Implemented
// by the websocket connection wrapper and by test doubles.
type Conn interface {
	// ID returns a stable identifier for the underlying connection.
	ID() string

	// WriteJSON sends a JSON payload to the client (thread-safe).
	WriteJSON(v any) error

	// Close closes the connection and releases its resources.
	Close() error
}

// Registry is the in-memory session registry. It tracks every live
// connection for roster broadcasts, and separately the identity mapping
// established by register events. It holds no persistence: clients
// re-register after reconnecting.
type Registry struct {
	log *zap.Logger

	mu    sync.RWMutex
	conns map[string]Conn // connection id -> live connection
	users map[string]Conn // identity -> registered connection
}

// New creates an empty registry.
func New(log *zap.Logger) *Registry {
	return &Registry{
		log:   log,
		conns: make(map[string]Conn),
		users: make(map[string]Conn),
	}
}

// Add tracks a live connection. Called at upgrade time, before any
// registration.
func (r *Registry) Add(conn Conn) {
	r.mu.Lock()
	r.conns[conn.ID()] = conn
	r.mu.Unlock()
}

// Drop stops tracking a live connection. Identity mappings are cleaned up
// separately via UnregisterByHandle.
func (r *Registry) Drop(conn Conn) {
	r.mu.Lock()
	delete(r.conns, conn.ID())
	r.mu.Unlock()
}

// Register maps an identity to a connection. A later registration for the
// same identity silently replaces the earlier mapping; the replaced handle
// is not closed here, that is the transport layer's concern.
func (r *Registry) Register(identity string, conn Conn) {
	r.mu.Lock()
	if old, ok := r.users[identity]; ok && old.ID() != conn.ID() {
		r.log.Info("identity re-registered on a new connection",
			zap.String("identity", identity),
			zap.String("old_conn", old.ID()),
			zap.String("new_conn", conn.ID()))
	}
	r.users[identity] = conn
	r.mu.Unlock()
}

// HandleFor returns the registered connection for an identity.
func (r *Registry) HandleFor(identity string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.users[identity]
	return conn, ok
}

// UnregisterByHandle removes the identity mapping that points at conn and
// returns the identity that was mapped, or ok=false if the connection never
// registered. The reverse lookup is a scan; registrations are few enough
// that a reverse index would not pay for itself.
func (r *Registry) UnregisterByHandle(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for identity, c := range r.users {
		if c.ID() == conn.ID() {
			delete(r.users, identity)
			return identity, true
		}
	}
	return "", false
}

// Connections returns a snapshot of all live connections.
func (r *Registry) Connections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast sends a payload to every live connection, registered or not.
// Write failures are logged and skipped; the failing connection's own read
// loop handles teardown.
func (r *Registry) Broadcast(v any) {
	for _, conn := range r.Connections() {
		if err := conn.WriteJSON(v); err != nil {
			r.log.Warn("broadcast write failed",
				zap.String("conn", conn.ID()), zap.Error(err))
		}
	}
}

// Stats returns registry counters for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"connections":          len(r.conns),
		"registered_identities": len(r.users),
	}
}
