package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"geochat/internal/presence"
	"geochat/internal/registry"
	"geochat/internal/router"
	"geochat/pkg/types"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	writes []types.OutboundEvent
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v.(types.OutboundEvent))
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) events() []types.OutboundEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.OutboundEvent, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *fakeConn) waitForEvents(t *testing.T, n int) []types.OutboundEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if evs := c.events(); len(evs) >= n {
			return evs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d events, have %v", n, c.events())
	return nil
}

// memStore is an in-memory SpatialStore for hub tests.
type memStore struct {
	mu    sync.Mutex
	users map[string]types.UserPosition
	seq   int64
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]types.UserPosition)}
}

func (m *memStore) Upsert(ctx context.Context, id, name string, lat, lon float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.users[id]
	m.users[id] = types.UserPosition{ID: id, Name: name, Latitude: lat, Longitude: lon}
	return !exists, nil
}

func (m *memStore) Position(ctx context.Context, id string) (float64, float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u.Latitude, u.Longitude, ok, nil
}

func (m *memStore) DisplayName(ctx context.Context, id string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u.Name, ok, nil
}

func (m *memStore) Distance(ctx context.Context, a, b, unit string) (float64, bool, error) {
	return 0, false, nil
}

func (m *memStore) WithinRadius(ctx context.Context, lat, lon, radiusKm float64) ([]types.Neighbor, error) {
	return nil, nil
}

func (m *memStore) WithinRadiusOfMember(ctx context.Context, id string, radiusKm float64) ([]types.Neighbor, error) {
	return nil, nil
}

func (m *memStore) Remove(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[id]
	delete(m.users, id)
	return ok, nil
}

func (m *memStore) ListAll(ctx context.Context) ([]types.UserPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]types.UserPosition, 0, len(m.users))
	for _, u := range m.users {
		all = append(all, u)
	}
	return all, nil
}

func (m *memStore) NextSequence(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

func (m *memStore) Clear(ctx context.Context) error       { return nil }
func (m *memStore) HealthCheck(ctx context.Context) error { return nil }
func (m *memStore) Close() error                          { return nil }

type fakeRelay struct{}

func (fakeRelay) Ask(ctx context.Context, sender, query string) (string, error) {
	return "ok", nil
}

func startTestHub(t *testing.T) (*Hub, *registry.Registry) {
	t.Helper()

	log := zap.NewNop()
	store := newMemStore()
	reg := registry.New(log)
	pres := presence.New(store, log)
	rtr := router.New(reg, store, fakeRelay{}, "HIGMA", time.Second, log)
	h := New(reg, pres, rtr, log)

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })

	return h, reg
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	return data
}

func submit(t *testing.T, h *Hub, conn *fakeConn, kind string, payload any) {
	t.Helper()
	if err := h.Submit(Event{Conn: conn, Kind: kind, Data: raw(t, payload)}); err != nil {
		t.Fatalf("Submit %s failed: %v", kind, err)
	}
}

func TestStartTwice(t *testing.T) {
	h, _ := startTestHub(t)
	if err := h.Start(context.Background()); err != ErrAlreadyRunning {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	h, _ := startTestHub(t)
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	err := h.Submit(Event{Conn: newFakeConn("c1"), Kind: types.EventRegister})
	if err != ErrNotRunning {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
}

func TestRegisterAck(t *testing.T) {
	h, reg := startTestHub(t)
	conn := newFakeConn("c1")
	reg.Add(conn)

	submit(t, h, conn, types.EventRegister, map[string]string{"user_id": "alice"})

	evs := conn.waitForEvents(t, 1)
	if evs[0].Event != types.EventRegisterAck {
		t.Fatalf("Expected register_ack, got %s", evs[0].Event)
	}
	ack := evs[0].Data.(map[string]string)
	if ack["status"] != "ok" || ack["user_id"] != "alice" {
		t.Errorf("Unexpected ack: %v", ack)
	}

	if _, ok := reg.HandleFor("alice"); !ok {
		t.Error("Expected alice registered")
	}
}

func TestRegisterMissingUserID(t *testing.T) {
	h, reg := startTestHub(t)
	conn := newFakeConn("c1")
	reg.Add(conn)

	submit(t, h, conn, types.EventRegister, map[string]string{})

	evs := conn.waitForEvents(t, 1)
	ack := evs[0].Data.(map[string]string)
	if ack["error"] == "" {
		t.Errorf("Expected error ack, got %v", ack)
	}
}

func TestLocationBroadcastsMembership(t *testing.T) {
	h, reg := startTestHub(t)
	submitter := newFakeConn("c1")
	watcher := newFakeConn("c2")
	reg.Add(submitter)
	reg.Add(watcher)

	submit(t, h, submitter, types.EventLocation, map[string]any{
		"id": "alice", "name": "Alice", "latitude": 35.0, "longitude": 139.0,
	})

	evs := watcher.waitForEvents(t, 2)
	if evs[0].Event != types.EventUserAdded {
		t.Errorf("Expected user_added first, got %s", evs[0].Event)
	}
	user := evs[0].Data.(types.UserPosition)
	if user.ID != "alice" || user.Latitude != 35.0 {
		t.Errorf("Unexpected user payload: %+v", user)
	}
	if evs[1].Event != types.EventAllUsers {
		t.Errorf("Expected all_users after user_added, got %s", evs[1].Event)
	}

	// Second update for the same identity announces an update.
	submit(t, h, submitter, types.EventLocation, map[string]any{
		"id": "alice", "name": "Alice", "latitude": 36.0, "longitude": 140.0,
	})
	evs = watcher.waitForEvents(t, 4)
	if evs[2].Event != types.EventUserUpdated {
		t.Errorf("Expected user_updated, got %s", evs[2].Event)
	}
}

func TestLocationValidationErrorsGoToSenderOnly(t *testing.T) {
	h, reg := startTestHub(t)
	submitter := newFakeConn("c1")
	watcher := newFakeConn("c2")
	reg.Add(submitter)
	reg.Add(watcher)

	submit(t, h, submitter, types.EventLocation, map[string]any{
		"id": "alice", "name": "", "latitude": 200.0, "longitude": 139.0,
	})

	evs := submitter.waitForEvents(t, 1)
	if evs[0].Event != types.EventLocationAck {
		t.Fatalf("Expected location_ack, got %s", evs[0].Event)
	}
	body := evs[0].Data.(map[string]any)
	errs := body["errors"].([]string)
	if len(errs) != 2 {
		t.Errorf("Expected 2 validation errors, got %v", errs)
	}

	time.Sleep(50 * time.Millisecond)
	if len(watcher.events()) != 0 {
		t.Errorf("Expected no broadcast on validation failure, got %v", watcher.events())
	}
}

func TestChatBroadcastThroughHub(t *testing.T) {
	h, reg := startTestHub(t)
	sender := newFakeConn("c1")
	other := newFakeConn("c2")
	reg.Add(sender)
	reg.Add(other)

	submit(t, h, sender, types.EventChatBroadcast, map[string]string{
		"from": "alice", "message": "hello",
	})

	evs := other.waitForEvents(t, 1)
	if evs[0].Event != types.EventChatMessage {
		t.Errorf("Expected chat_message, got %s", evs[0].Event)
	}
}

func TestChatTimestampPassesThrough(t *testing.T) {
	h, reg := startTestHub(t)
	sender := newFakeConn("c1")
	recipient := newFakeConn("c2")
	reg.Add(sender)
	reg.Add(recipient)
	reg.Register("bob", recipient)

	const stamp = "2026-08-31T10:00:00Z"

	submit(t, h, sender, types.EventChatBroadcast, map[string]string{
		"from": "alice", "message": "hello", "timestamp": stamp,
	})
	evs := recipient.waitForEvents(t, 1)
	msg := evs[0].Data.(types.ChatMessage)
	if msg.Timestamp != stamp {
		t.Errorf("Expected broadcast timestamp %q passed through, got %q", stamp, msg.Timestamp)
	}

	submit(t, h, sender, types.EventChatPrivate, map[string]string{
		"from": "alice", "to": "bob", "message": "psst", "timestamp": stamp,
	})
	evs = recipient.waitForEvents(t, 2)
	msg = evs[1].Data.(types.ChatMessage)
	if msg.Timestamp != stamp {
		t.Errorf("Expected private timestamp %q passed through, got %q", stamp, msg.Timestamp)
	}
}

func TestChatBroadcastValidationError(t *testing.T) {
	h, reg := startTestHub(t)
	sender := newFakeConn("c1")
	reg.Add(sender)

	submit(t, h, sender, types.EventChatBroadcast, map[string]string{"from": "alice"})

	evs := sender.waitForEvents(t, 1)
	if evs[0].Event != types.EventChatError {
		t.Errorf("Expected chat_error, got %s", evs[0].Event)
	}
}

func TestChatPrivateUnknownRecipient(t *testing.T) {
	h, reg := startTestHub(t)
	sender := newFakeConn("c1")
	reg.Add(sender)

	submit(t, h, sender, types.EventChatPrivate, map[string]string{
		"from": "alice", "to": "bob", "message": "psst",
	})

	evs := sender.waitForEvents(t, 1)
	if evs[0].Event != types.EventChatError {
		t.Errorf("Expected chat_error, got %s", evs[0].Event)
	}
}

func TestUnknownEvent(t *testing.T) {
	h, reg := startTestHub(t)
	conn := newFakeConn("c1")
	reg.Add(conn)

	submit(t, h, conn, "dance", map[string]string{})

	evs := conn.waitForEvents(t, 1)
	if evs[0].Event != types.EventResponse {
		t.Fatalf("Expected response event, got %s", evs[0].Event)
	}
	body := evs[0].Data.(map[string]string)
	if body["error"] == "" {
		t.Errorf("Expected error body, got %v", body)
	}
}

func TestDisconnectCleansRegistry(t *testing.T) {
	h, reg := startTestHub(t)
	conn := newFakeConn("c1")
	reg.Add(conn)

	submit(t, h, conn, types.EventRegister, map[string]string{"user_id": "alice"})
	conn.waitForEvents(t, 1)

	if err := h.Submit(Event{Conn: conn, Gone: true}); err != nil {
		t.Fatalf("Submit disconnect failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.HandleFor("alice"); !ok && len(reg.Connections()) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Expected registry cleanup after disconnect")
}
