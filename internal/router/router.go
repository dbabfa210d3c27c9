package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"geochat/internal/registry"
	"geochat/internal/relay"
	"geochat/pkg/interfaces"
	"geochat/pkg/types"
)

// Router interprets chat envelopes: broadcast to every connection, private
// to one registered identity, or relayed to the external answer service
// when the recipient is the synthetic participant. Synchronous failures are
// returned to the caller, which reports them to the sender; failures on the
// asynchronous relay path are reported to the sender directly since no
// caller is left waiting.
type Router struct {
	registry    *registry.Registry
	store       interfaces.SpatialStore
	relay       interfaces.Relay
	participant string
	timeout     time.Duration
	log         *zap.Logger
}

// New creates a message router. participant is the synthetic identity whose
// private messages go through the relay; timeout bounds each relay round
// trip.
func New(reg *registry.Registry, store interfaces.SpatialStore, relay interfaces.Relay, participant string, timeout time.Duration, log *zap.Logger) *Router {
	return &Router{
		registry:    reg,
		store:       store,
		relay:       relay,
		participant: participant,
		timeout:     timeout,
		log:         log,
	}
}

// Participant returns the synthetic participant's identity.
func (r *Router) Participant() string {
	return r.participant
}

// RouteBroadcast delivers one chat_message to every live connection. The
// sender's display name is resolved from the store profile, falling back to
// the raw identity when no profile exists.
func (r *Router) RouteBroadcast(ctx context.Context, env *types.ChatEnvelope) error {
	if env.From == "" {
		return ErrMissingSender
	}
	if env.Message == "" {
		return ErrMissingMessage
	}

	msg := types.ChatMessage{
		ID:        uuid.New().String(),
		Type:      types.EnvelopeBroadcast,
		From:      env.From,
		FromName:  r.displayName(ctx, env.From, env.FromName),
		Message:   env.Message,
		Timestamp: env.Timestamp,
	}

	r.registry.Broadcast(types.OutboundEvent{Event: types.EventChatMessage, Data: msg})
	r.log.Debug("broadcast routed", zap.String("from", env.From))
	return nil
}

// RoutePrivate delivers a private envelope. For an ordinary recipient the
// message is written to the recipient's handle plus a confirmation copy
// back to the sender. When the recipient is the synthetic participant the
// exchange runs on its own goroutine with a bounded timeout, so the event
// loop never blocks on the external service and no store or registry state
// is held while the call is in flight.
func (r *Router) RoutePrivate(ctx context.Context, env *types.ChatEnvelope, sender registry.Conn) error {
	if env.From == "" {
		return ErrMissingSender
	}
	if env.To == "" {
		return ErrMissingRecipient
	}
	if env.Message == "" {
		return ErrMissingMessage
	}

	if env.To == r.participant {
		go r.relayExchange(env.From, env.Message, sender)
		return nil
	}

	recipient, ok := r.registry.HandleFor(env.To)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, env.To)
	}

	msg := types.ChatMessage{
		ID:        uuid.New().String(),
		Type:      types.EnvelopePrivate,
		From:      env.From,
		FromName:  r.displayName(ctx, env.From, env.FromName),
		To:        env.To,
		Message:   env.Message,
		Timestamp: env.Timestamp,
	}
	out := types.OutboundEvent{Event: types.EventChatMessage, Data: msg}

	if err := recipient.WriteJSON(out); err != nil {
		r.log.Warn("private delivery failed",
			zap.String("to", env.To), zap.Error(err))
	}
	// Confirmation copy so the sender sees its own message echoed.
	if err := sender.WriteJSON(out); err != nil {
		r.log.Warn("private echo failed",
			zap.String("from", env.From), zap.Error(err))
	}

	return nil
}

// relayExchange performs the synchronous round trip to the answer service
// and delivers either the synthesized reply or a chat_error, in both cases
// only to the original sender.
func (r *Router) relayExchange(from, message string, sender registry.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	answer, err := r.relay.Ask(ctx, from, message)
	if err != nil {
		r.log.Warn("relay exchange failed",
			zap.String("from", from), zap.Error(err))
		r.sendChatError(sender, r.relayErrorMessage(err))
		return
	}

	reply := types.ChatMessage{
		ID:        uuid.New().String(),
		Type:      types.EnvelopeRelayReply,
		From:      r.participant,
		FromName:  r.participant,
		To:        from,
		Message:   answer,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if err := sender.WriteJSON(types.OutboundEvent{Event: types.EventChatMessage, Data: reply}); err != nil {
		r.log.Warn("relay reply delivery failed",
			zap.String("to", from), zap.Error(err))
	}
}

// relayErrorMessage maps a relay failure to the sender-facing error text.
// Non-success statuses name the status code; everything else degrades to a
// generic contact failure.
func (r *Router) relayErrorMessage(err error) string {
	var statusErr *relay.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("%s answer service returned status %d", r.participant, statusErr.Code)
	}
	return fmt.Sprintf("could not contact %s", r.participant)
}

// SendChatError reports a routing failure to one connection.
func (r *Router) SendChatError(conn registry.Conn, message string) {
	r.sendChatError(conn, message)
}

func (r *Router) sendChatError(conn registry.Conn, message string) {
	out := types.OutboundEvent{
		Event: types.EventChatError,
		Data:  map[string]string{"message": message},
	}
	if err := conn.WriteJSON(out); err != nil {
		r.log.Warn("chat_error delivery failed", zap.Error(err))
	}
}

func (r *Router) displayName(ctx context.Context, id, fallback string) string {
	name, ok, err := r.store.DisplayName(ctx, id)
	if err != nil {
		r.log.Warn("display name lookup failed",
			zap.String("id", id), zap.Error(err))
	}
	if err == nil && ok {
		return name
	}
	if fallback != "" {
		return fallback
	}
	return id
}
