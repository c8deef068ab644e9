package domain

import "encoding/json"

// Frame is the wire unit on the socket: a named event plus an opaque JSON
// payload. Decoding the payload is deferred until the event name selects a
// concrete type.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals an event and payload into a single wire message
func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// Event names shared by the gateway and the client. Client→server events use
// the bare verb form; server→client notifications use the past-tense form.
const (
	EventUserOnline  = "user:online"
	EventUsersActive = "users:active"

	EventChatJoin        = "chat:join"
	EventChatLeave       = "chat:leave"
	EventMessageSend     = "message:send"
	EventMessageReceived = "message:received"

	EventCallInitiate    = "call:initiate"
	EventCallIncoming    = "call:incoming"
	EventCallUserOffline = "call:user-offline"
	EventCallAccept      = "call:accept"
	EventCallAccepted    = "call:accepted"
	EventCallReject      = "call:reject"
	EventCallRejected    = "call:rejected"
	EventCallEnd         = "call:end"
	EventCallEnded       = "call:ended"
	EventCallSignal      = "call:signal"

	// call:signal envelopes are forwarded under a type-qualified name
	EventCallOffer     = "call:offer"
	EventCallAnswer    = "call:answer"
	EventCallCandidate = "call:ice-candidate"

	EventRoomJoin              = "room:join"
	EventRoomLeave             = "room:leave"
	EventRoomState             = "room:state"
	EventRoomParticipantJoined = "room:participant-joined"
	EventRoomParticipantLeft   = "room:participant-left"
	EventRoomParticipantState  = "room:participant-state"
	EventRoomRoster            = "room:roster"
)

// InitiatePayload starts a call: client→server
type InitiatePayload struct {
	CallID      string   `json:"callId"`
	CallerID    string   `json:"callerId"`
	CallerName  string   `json:"callerName"`
	RecipientID string   `json:"recipientId"`
	Type        CallType `json:"type"`
}

// IncomingPayload notifies the recipient of a new call: server→recipient
type IncomingPayload struct {
	CallID     string   `json:"callId"`
	CallerID   string   `json:"callerId"`
	CallerName string   `json:"callerName"`
	Type       CallType `json:"type"`
}

// ControlPayload carries accept/reject/end requests. RecipientID names the
// counterpart the sender wants the notification routed to; for a session
// still in the registry the caller identity recorded there wins.
type ControlPayload struct {
	CallID      string `json:"callId"`
	RecipientID string `json:"recipientId"`
}

// CallIDPayload is the minimal server→client terminal notification
type CallIDPayload struct {
	CallID string `json:"callId"`
}

// SignalForwardPayload is the server→destination form of a negotiation
// envelope, delivered under call:offer / call:answer / call:ice-candidate
type SignalForwardPayload struct {
	CallID string          `json:"callId"`
	From   string          `json:"from"`
	Data   json.RawMessage `json:"data"`
}

// ChatPayload carries chat room membership changes and opaque chat messages
type ChatPayload struct {
	ChatID string          `json:"chatId"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// RoomJoinPayload adds the sender to a room roster: client→server
type RoomJoinPayload struct {
	RoomID    string `json:"roomId"`
	Username  string `json:"username"`
	IsMuted   bool   `json:"isMuted"`
	IsVideoOn bool   `json:"isVideoOn"`
}

// RoomLeavePayload removes the sender from a room roster: client→server
type RoomLeavePayload struct {
	RoomID string `json:"roomId"`
}

// RoomStatePayload updates the sender's media-enabled flags: client→server.
// The flags are optimistic indicators, not derived from media analysis.
type RoomStatePayload struct {
	RoomID    string `json:"roomId"`
	IsMuted   bool   `json:"isMuted"`
	IsVideoOn bool   `json:"isVideoOn"`
}

// RoomParticipantPayload announces roster changes: server→room members
type RoomParticipantPayload struct {
	RoomID      string          `json:"roomId"`
	Participant RoomParticipant `json:"participant"`
}

// RoomRosterPayload carries the full roster to a newly joined member
type RoomRosterPayload struct {
	RoomID       string            `json:"roomId"`
	Participants []RoomParticipant `json:"participants"`
}
