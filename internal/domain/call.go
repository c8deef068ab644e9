package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// CallType selects which media is requested for a call. Audio is always
// captured; video capture is added for CallTypeVideo.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// CallStatus is the lifecycle state of a call session
type CallStatus string

const (
	CallStatusCalling   CallStatus = "calling"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusConnected CallStatus = "connected"
	CallStatusEnded     CallStatus = "ended"
	CallStatusRejected  CallStatus = "rejected"
	CallStatusMissed    CallStatus = "missed"
)

// Terminal reports whether a status is an exit state of the call lifecycle
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusEnded, CallStatusRejected, CallStatusMissed:
		return true
	}
	return false
}

// CallSession is one side's view of a call. The caller and the recipient each
// own an independent copy, kept loosely in sync through relayed control
// messages only.
type CallSession struct {
	ID            string     `json:"id"`
	CallerID      string     `json:"caller_id"`
	CallerName    string     `json:"caller_name"`
	RecipientID   string     `json:"recipient_id"`
	RecipientName string     `json:"recipient_name"`
	Type          CallType   `json:"type"`
	Status        CallStatus `json:"status"`
	StartedAt     time.Time  `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// NewCallID generates a session token. Uniqueness is best-effort; the token
// is never persisted so collisions only matter within overlapping calls.
func NewCallID() string {
	return fmt.Sprintf("call_%d", time.Now().UnixMilli())
}

// SignalType tags a negotiation envelope
type SignalType string

const (
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "ice-candidate"
)

// Valid reports whether the type is one the relay will forward
func (t SignalType) Valid() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeCandidate:
		return true
	}
	return false
}

// SignalEnvelope is the wire unit relayed between peers during negotiation.
// Data is opaque to the relay; only the client state machine interprets it.
type SignalEnvelope struct {
	Type   SignalType      `json:"type"`
	CallID string          `json:"callId"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Data   json.RawMessage `json:"data"`
}

// RoomParticipant is one member of a multi-party room roster. Ephemeral:
// exists only while its session is active.
type RoomParticipant struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	IsMuted   bool      `json:"isMuted"`
	IsVideoOn bool      `json:"isVideoOn"`
	JoinedAt  time.Time `json:"joinedAt"`
}
