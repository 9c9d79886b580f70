// Package protocol defines the hub wire format shared by the signaling
// server and its clients.
package protocol

// Client -> server invocations.
const (
	TypeJoin              = "join"
	TypeLeave             = "leave"
	TypeRelayOffer        = "relay_offer"
	TypeRelayAnswer       = "relay_answer"
	TypeRelayIceCandidate = "relay_ice_candidate"
	TypeRelayChat         = "relay_chat"
	TypeRelayMediaStatus  = "relay_media_status"
	TypeRelayGlobalChat   = "relay_global_chat"
)

// Server -> client events.
const (
	TypeWelcome             = "welcome"
	TypeJoined              = "joined"
	TypeError               = "error"
	TypeRosterJoin          = "roster_join"
	TypeRosterLeave         = "roster_leave"
	TypeReceiveOffer        = "receive_offer"
	TypeReceiveAnswer       = "receive_answer"
	TypeReceiveIceCandidate = "receive_ice_candidate"
	TypeReceiveMediaStatus  = "receive_media_status"
	TypeReceiveChat         = "receive_chat"
	TypeReceiveGlobalChat   = "receive_global_chat"
)

// Message is the envelope of every frame. ID correlates an invocation with
// its reply and is empty for fire-and-forget traffic.
type Message struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

type WelcomePayload struct {
	ConnectionID string `json:"connection_id"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type JoinRequest struct {
	RoomID       string `json:"room_id"`
	DisplayName  string `json:"display_name"`
	MicEnabled   bool   `json:"mic_enabled"`
	VideoEnabled bool   `json:"video_enabled"`
}

// ParticipantItem is also the roster_join payload.
type ParticipantItem struct {
	ConnectionID string `json:"connection_id"`
	DisplayName  string `json:"display_name"`
	MicEnabled   bool   `json:"mic_enabled"`
	VideoEnabled bool   `json:"video_enabled"`
}

type JoinedPayload struct {
	RoomID       string            `json:"room_id"`
	Participants []ParticipantItem `json:"participants"`
}

type RosterLeavePayload struct {
	ConnectionID string `json:"connection_id"`
}

// RelayRequest carries an SDP or ICE payload to one target. Payload is
// never inspected by the server.
type RelayRequest struct {
	TargetConnectionID string `json:"target_connection_id"`
	Payload            string `json:"payload"`
}

type SignalPayload struct {
	SenderConnectionID string `json:"sender_connection_id"`
	Payload            string `json:"payload"`
}

type ChatRequest struct {
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
}

type ChatPayload struct {
	RoomID             string `json:"room_id"`
	SenderConnectionID string `json:"sender_connection_id"`
	SenderName         string `json:"sender_name"`
	Text               string `json:"text"`
	TSUnixMilli        int64  `json:"ts_unix_ms,omitempty"`
}

// GlobalChatRequest is addressed to every connected client, in a room or not.
type GlobalChatRequest struct {
	Text string `json:"text"`
}

// GlobalChatPayload has no sender name: the sender may not be in any room.
type GlobalChatPayload struct {
	SenderConnectionID string `json:"sender_connection_id"`
	Text               string `json:"text"`
	TSUnixMilli        int64  `json:"ts_unix_ms,omitempty"`
}

type MediaStatusRequest struct {
	RoomID  string `json:"room_id"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

type MediaStatusPayload struct {
	ConnectionID string `json:"connection_id"`
	Kind         string `json:"kind"`
	Enabled      bool   `json:"enabled"`
}
