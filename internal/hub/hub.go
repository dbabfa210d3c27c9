package hub

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"geochat/internal/presence"
	"geochat/internal/registry"
	"geochat/internal/router"
	"geochat/pkg/types"
)

// Event is a single inbound event from a connection. Disconnect is
// signalled with an empty Kind and Gone set to true.
type Event struct {
	Conn registry.Conn
	Kind string
	Data json.RawMessage
	Gone bool
}

// Hub serializes all inbound events through a single goroutine so that
// registry membership and presence updates never race each other.
type Hub struct {
	events   chan Event
	shutdown chan struct{}

	registry *registry.Registry
	presence *presence.Service
	router   *router.Router
	log      *zap.Logger

	running bool
	mu      sync.RWMutex
}

func New(reg *registry.Registry, pres *presence.Service, rtr *router.Router, log *zap.Logger) *Hub {
	return &Hub{
		events:   make(chan Event, 1024),
		shutdown: make(chan struct{}),
		registry: reg,
		presence: pres,
		router:   rtr,
		log:      log,
	}
}

func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	h.log.Info("starting hub")
	go h.run(ctx)
	return nil
}

func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrNotRunning
	}
	h.running = false

	select {
	case <-h.shutdown:
	default:
		close(h.shutdown)
	}
	return nil
}

// Submit queues an event without blocking the caller's read loop.
func (h *Hub) Submit(ev Event) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrNotRunning
	}
	h.mu.RUnlock()

	select {
	case h.events <- ev:
		return nil
	default:
		return ErrChannelFull
	}
}

func (h *Hub) run(ctx context.Context) {
	defer h.log.Info("hub stopped")

	for {
		select {
		case ev := <-h.events:
			h.dispatch(ctx, ev)
		case <-h.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, ev Event) {
	if ev.Gone {
		h.handleDisconnect(ev.Conn)
		return
	}

	switch ev.Kind {
	case types.EventRegister:
		h.handleRegister(ev)
	case types.EventLocation:
		h.handleLocation(ctx, ev)
	case types.EventChatBroadcast:
		h.handleChatBroadcast(ctx, ev)
	case types.EventChatPrivate:
		h.handleChatPrivate(ctx, ev)
	default:
		h.log.Warn("unknown event", zap.String("event", ev.Kind))
		h.write(ev.Conn, types.OutboundEvent{
			Event: types.EventResponse,
			Data:  map[string]string{"error": "unknown event: " + ev.Kind},
		})
	}
}

func (h *Hub) handleRegister(ev Event) {
	var payload types.RegisterPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.UserID == "" {
		h.write(ev.Conn, types.OutboundEvent{
			Event: types.EventRegisterAck,
			Data:  map[string]string{"error": "user_id is required"},
		})
		return
	}

	h.registry.Register(payload.UserID, ev.Conn)
	h.write(ev.Conn, types.OutboundEvent{
		Event: types.EventRegisterAck,
		Data:  map[string]string{"status": "ok", "user_id": payload.UserID},
	})
}

func (h *Hub) handleLocation(ctx context.Context, ev Event) {
	var payload types.LocationPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		h.write(ev.Conn, types.OutboundEvent{
			Event: types.EventLocationAck,
			Data:  map[string]any{"errors": []string{"invalid location payload"}},
		})
		return
	}

	result, errs, err := h.presence.SubmitLocation(ctx, payload.ID, payload.Name, payload.Latitude, payload.Longitude)
	if err != nil {
		h.log.Error("location update failed", zap.String("id", payload.ID), zap.Error(err))
		h.write(ev.Conn, types.OutboundEvent{
			Event: types.EventLocationAck,
			Data:  map[string]any{"errors": []string{"internal error"}},
		})
		return
	}
	if len(errs) > 0 {
		h.write(ev.Conn, types.OutboundEvent{
			Event: types.EventLocationAck,
			Data:  map[string]any{"errors": errs},
		})
		return
	}

	// A successful update is announced through the membership
	// broadcasts. No ack goes back to the submitter.
	h.BroadcastPresence(ctx, result)
}

// BroadcastPresence announces a created or updated member to every
// connection, followed by the full roster.
func (h *Hub) BroadcastPresence(ctx context.Context, result *presence.Result) {
	event := types.EventUserUpdated
	if result.Created {
		event = types.EventUserAdded
	}
	h.registry.Broadcast(types.OutboundEvent{Event: event, Data: result.User})
	h.BroadcastRoster(ctx)
}

// BroadcastRoster sends the complete member list to every connection.
func (h *Hub) BroadcastRoster(ctx context.Context) {
	roster, err := h.presence.Roster(ctx)
	if err != nil {
		h.log.Error("roster load failed", zap.Error(err))
		return
	}
	h.registry.Broadcast(types.OutboundEvent{Event: types.EventAllUsers, Data: roster})
}

// BroadcastRemoval announces a deleted member to every connection.
func (h *Hub) BroadcastRemoval(ctx context.Context, id string) {
	h.registry.Broadcast(types.OutboundEvent{
		Event: types.EventUserDeleted,
		Data:  map[string]string{"id": id},
	})
	h.BroadcastRoster(ctx)
}

func (h *Hub) handleChatBroadcast(ctx context.Context, ev Event) {
	var payload types.ChatPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		h.router.SendChatError(ev.Conn, "invalid chat payload")
		return
	}

	env := &types.ChatEnvelope{
		Kind:      types.EnvelopeBroadcast,
		From:      payload.From,
		FromName:  payload.FromName,
		Message:   payload.Message,
		Timestamp: payload.Timestamp,
	}
	if err := h.router.RouteBroadcast(ctx, env); err != nil {
		h.log.Warn("broadcast rejected", zap.String("from", payload.From), zap.Error(err))
		h.router.SendChatError(ev.Conn, err.Error())
	}
}

func (h *Hub) handleChatPrivate(ctx context.Context, ev Event) {
	var payload types.ChatPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		h.router.SendChatError(ev.Conn, "invalid chat payload")
		return
	}

	env := &types.ChatEnvelope{
		Kind:      types.EnvelopePrivate,
		From:      payload.From,
		FromName:  payload.FromName,
		To:        payload.To,
		Message:   payload.Message,
		Timestamp: payload.Timestamp,
	}
	if err := h.router.RoutePrivate(ctx, env, ev.Conn); err != nil {
		h.log.Warn("private message rejected",
			zap.String("from", payload.From),
			zap.String("to", payload.To),
			zap.Error(err))
		h.router.SendChatError(ev.Conn, err.Error())
	}
}

func (h *Hub) handleDisconnect(conn registry.Conn) {
	if conn == nil {
		return
	}
	h.registry.Drop(conn)
	if identity, ok := h.registry.UnregisterByHandle(conn); ok {
		h.log.Info("identity disconnected", zap.String("id", identity))
	}
}

func (h *Hub) write(conn registry.Conn, v types.OutboundEvent) {
	if err := conn.WriteJSON(v); err != nil {
		h.log.Warn("write failed", zap.String("conn", conn.ID()), zap.Error(err))
	}
}
