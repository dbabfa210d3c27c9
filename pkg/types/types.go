package types

import "encoding/json"

// Chat envelope kinds. The kind is determined solely by the recipient field
// at the protocol boundary: no recipient means broadcast, a recipient means
// private, and relay replies are synthesized server-side.
const (
	EnvelopeBroadcast  = "broadcast"
	EnvelopePrivate    = "private"
	EnvelopeRelayReply = "relay_reply"
)

// Inbound event names accepted over the WebSocket.
const (
	EventRegister      = "register"
	EventLocation      = "location"
	EventChatBroadcast = "chat_broadcast"
	EventChatPrivate   = "chat_private"
)

// Outbound event names emitted over the WebSocket.
const (
	EventResponse    = "response"
	EventRegisterAck = "register_ack"
	EventLocationAck = "location_ack"
	EventUserAdded   = "user_added"
	EventUserUpdated = "user_updated"
	EventUserDeleted = "user_deleted"
	EventAllUsers    = "all_users"
	EventChatMessage = "chat_message"
	EventChatError   = "chat_error"
)

// UserPosition is the wire shape of one roster entry. The identity is
// unique; the geospatial index and the profile record stay in lock-step
// behind a single transactional upsert.
type UserPosition struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Neighbor is one radius-query result, ascending by distance from the
// query center.
type Neighbor struct {
	ID         string  `json:"id"`
	DistanceKm float64 `json:"distance_km"`
}

// ChatEnvelope is a transient routed message. Timestamp is client supplied
// and passed through unmodified; relay replies carry a server timestamp.
type ChatEnvelope struct {
	Kind      string `json:"type"`
	From      string `json:"from"`
	FromName  string `json:"from_name"`
	To        string `json:"to,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ChatMessage is the outbound chat_message payload. The ID is generated
// server-side during routing.
type ChatMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	From      string `json:"from"`
	FromName  string `json:"from_name"`
	To        string `json:"to,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// InboundEvent is the tagged variant decoded at the transport boundary.
// Payloads are validated per kind before dispatch.
type InboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// OutboundEvent mirrors InboundEvent for server-to-client traffic.
type OutboundEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// RegisterPayload binds a user identity to the current connection.
type RegisterPayload struct {
	UserID string `json:"user_id"`
}

// LocationPayload carries a raw location submission. Latitude and longitude
// stay untyped until the presence service validates them, so malformed
// values (strings, nulls) surface as validation errors instead of decode
// failures.
type LocationPayload struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Latitude  any    `json:"latitude"`
	Longitude any    `json:"longitude"`
}

// ChatPayload carries an inbound chat submission. To is empty for
// broadcasts.
type ChatPayload struct {
	From      string `json:"from"`
	FromName  string `json:"from_name,omitempty"`
	To        string `json:"to,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}
