// Package relay routes signaling envelopes between live connections. It is
// stateless with respect to negotiation content: offers, answers, and
// candidates pass through as opaque blobs, so the server needs no knowledge
// of SDP or WebRTC semantics. Routing is purely by authenticated identity.
package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"voxlink/internal/domain"
	"voxlink/internal/registry"
	"voxlink/pkg/constants"
	"voxlink/pkg/metrics"
)

// Drop reasons reported to metrics
const (
	dropReasonOffline     = "offline"
	dropReasonUnknownType = "unknown_type"
)

// Mirror replicates presence transitions to an external store so sibling
// services can read the online set. Best-effort: the in-memory registry
// stays authoritative.
type Mirror interface {
	SetOnline(ctx context.Context, identity string) error
	SetOffline(ctx context.Context, identity string) error
}

// Notifier dispatches an out-of-band notification to a recipient with no
// live connection. Fire-and-forget.
type Notifier interface {
	NotifyIncomingCall(ctx context.Context, recipientID, callID, callerName, callType string) error
}

// Relay owns the signaling control flow. All methods must be called from the
// gateway's single dispatch goroutine; registry access is never concurrent.
type Relay struct {
	logger   *zap.Logger
	presence *registry.Presence
	sessions *registry.Sessions
	rooms    *registry.Rooms
	metrics  *metrics.Metrics
	mirror   Mirror   // optional
	notifier Notifier // optional
}

// Option configures optional relay collaborators
type Option func(*Relay)

// WithMirror attaches a presence mirror
func WithMirror(m Mirror) Option {
	return func(r *Relay) { r.mirror = m }
}

// WithNotifier attaches an offline-call notifier
func WithNotifier(n Notifier) Option {
	return func(r *Relay) { r.notifier = n }
}

// New creates a relay over the given registries
func New(logger *zap.Logger, presence *registry.Presence, sessions *registry.Sessions, rooms *registry.Rooms, m *metrics.Metrics, opts ...Option) *Relay {
	r := &Relay{
		logger:   logger,
		presence: presence,
		sessions: sessions,
		rooms:    rooms,
		metrics:  m,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Online registers conn as identity's live handle and broadcasts the updated
// online set to every connected client.
func (r *Relay) Online(identity string, conn registry.Conn) {
	r.presence.SetOnline(identity, conn)
	r.logger.Info("user online", zap.String("user_id", identity))

	if r.mirror != nil {
		go r.mirrorOnline(identity)
	}
	r.broadcastPresence()
}

// Disconnect clears the presence entry for conn, removes the user from any
// rooms, and broadcasts the updated online set.
func (r *Relay) Disconnect(conn registry.Conn) {
	identity, ok := r.presence.Clear(conn)
	if !ok {
		return
	}
	r.logger.Info("user disconnected", zap.String("user_id", identity))

	for roomID, participant := range r.rooms.LeaveAll(identity) {
		r.announceToRoom(roomID, domain.EventRoomParticipantLeft, domain.RoomParticipantPayload{
			RoomID:      roomID,
			Participant: participant,
		}, identity)
	}

	// Sessions the departed user was party to are over; tell the other side
	// so it does not sit in calling or connected against a dead peer.
	for _, rec := range r.sessions.DeleteByParticipant(identity) {
		counterpart := rec.RecipientID
		if counterpart == identity {
			counterpart = rec.CallerID
		}
		if peer, ok := r.presence.Resolve(counterpart); ok {
			peer.Send(domain.EventCallEnded, domain.CallIDPayload{CallID: rec.CallID})
		}
		r.metrics.SessionDeleted()
		r.metrics.RecordCallTransition("ended")
	}

	if r.mirror != nil {
		go r.mirrorOffline(identity)
	}
	r.broadcastPresence()
}

// Initiate starts a call. With the recipient online the session is
// registered and the recipient rung; otherwise the caller alone is told the
// user is offline and no session is created.
func (r *Relay) Initiate(caller registry.Conn, p domain.InitiatePayload) {
	recipient, ok := r.presence.Resolve(p.RecipientID)
	if !ok {
		caller.Send(domain.EventCallUserOffline, domain.CallIDPayload{CallID: p.CallID})
		r.metrics.RecordCallTransition("user_offline")
		r.logger.Debug("call to offline user",
			zap.String("call_id", p.CallID),
			zap.String("recipient_id", p.RecipientID))
		if r.notifier != nil {
			go r.notifyOffline(p)
		}
		return
	}

	r.sessions.Create(p.CallID, p.CallerID, p.RecipientID, p.Type)
	r.metrics.SessionCreated()
	r.metrics.RecordCallTransition("initiated")

	recipient.Send(domain.EventCallIncoming, domain.IncomingPayload{
		CallID:     p.CallID,
		CallerID:   p.CallerID,
		CallerName: p.CallerName,
		Type:       p.Type,
	})
	r.logger.Info("call initiated",
		zap.String("call_id", p.CallID),
		zap.String("caller_id", p.CallerID),
		zap.String("recipient_id", p.RecipientID),
		zap.String("type", string(p.Type)))
}

// Accept notifies both sides that the call is connected. The accepted
// notification is echoed back to the acceptor so each side converges on
// "connected" from its own event, independent of delivery order.
func (r *Relay) Accept(acceptor registry.Conn, p domain.ControlPayload) {
	callerID := p.RecipientID
	if rec, ok := r.sessions.Get(p.CallID); ok {
		callerID = rec.CallerID
	}

	if callerConn, ok := r.presence.Resolve(callerID); ok {
		callerConn.Send(domain.EventCallAccepted, domain.CallIDPayload{CallID: p.CallID})
	}
	acceptor.Send(domain.EventCallAccepted, domain.CallIDPayload{CallID: p.CallID})

	r.metrics.RecordCallTransition("accepted")
	r.logger.Info("call accepted",
		zap.String("call_id", p.CallID),
		zap.String("caller_id", callerID))
}

// Reject sends a terminal rejected notification to the caller and deletes
// the session. Idempotent: an already-deleted session or offline caller is
// not an error.
func (r *Relay) Reject(senderID string, p domain.ControlPayload) {
	counterpart := r.counterpart(senderID, p)
	if conn, ok := r.presence.Resolve(counterpart); ok {
		conn.Send(domain.EventCallRejected, domain.CallIDPayload{CallID: p.CallID})
	}
	if r.sessions.Delete(p.CallID) {
		r.metrics.SessionDeleted()
	}
	r.metrics.RecordCallTransition("rejected")
	r.logger.Info("call rejected", zap.String("call_id", p.CallID))
}

// End sends a terminal ended notification to the counterpart and deletes the
// session. Idempotent, fire-and-forget.
func (r *Relay) End(senderID string, p domain.ControlPayload) {
	counterpart := r.counterpart(senderID, p)
	if conn, ok := r.presence.Resolve(counterpart); ok {
		conn.Send(domain.EventCallEnded, domain.CallIDPayload{CallID: p.CallID})
	}
	if r.sessions.Delete(p.CallID) {
		r.metrics.SessionDeleted()
	}
	r.metrics.RecordCallTransition("ended")
	r.logger.Info("call ended", zap.String("call_id", p.CallID))
}

// counterpart resolves who should receive a terminal notification: the other
// party per the session record when one exists, otherwise whoever the sender
// declared.
func (r *Relay) counterpart(senderID string, p domain.ControlPayload) string {
	rec, ok := r.sessions.Get(p.CallID)
	if !ok {
		return p.RecipientID
	}
	if senderID == rec.CallerID {
		return rec.RecipientID
	}
	return rec.CallerID
}

// Signal forwards a negotiation envelope verbatim to its destination under a
// type-qualified event name. The payload is never inspected; unroutable or
// unrecognized envelopes are silently dropped; the client state machine
// owns recovery.
func (r *Relay) Signal(senderID string, env domain.SignalEnvelope) {
	if !env.Type.Valid() {
		r.metrics.RecordEnvelopeDropped(dropReasonUnknownType)
		return
	}

	dest, ok := r.presence.Resolve(env.To)
	if !ok {
		r.metrics.RecordEnvelopeDropped(dropReasonOffline)
		r.logger.Debug("signal dropped, destination offline",
			zap.String("call_id", env.CallID),
			zap.String("to", env.To))
		return
	}

	// From is re-assigned from the authenticated sender, never trusted from
	// the payload.
	dest.Send("call:"+string(env.Type), domain.SignalForwardPayload{
		CallID: env.CallID,
		From:   senderID,
		Data:   env.Data,
	})
	r.metrics.RecordSignalRelayed(string(env.Type))
}

// RoomJoin adds the sender to a room roster, sends the full roster back to
// the joiner, and announces the join to the other members.
func (r *Relay) RoomJoin(conn registry.Conn, userID string, p domain.RoomJoinPayload) {
	participant := r.rooms.Join(p.RoomID, domain.RoomParticipant{
		UserID:    userID,
		Username:  p.Username,
		IsMuted:   p.IsMuted,
		IsVideoOn: p.IsVideoOn,
		JoinedAt:  time.Now(),
	})

	conn.Send(domain.EventRoomRoster, domain.RoomRosterPayload{
		RoomID:       p.RoomID,
		Participants: r.rooms.Members(p.RoomID),
	})
	r.announceToRoom(p.RoomID, domain.EventRoomParticipantJoined, domain.RoomParticipantPayload{
		RoomID:      p.RoomID,
		Participant: participant,
	}, userID)

	r.logger.Info("room joined",
		zap.String("room_id", p.RoomID),
		zap.String("user_id", userID))
}

// RoomLeave removes the sender from a room roster and announces the leave
func (r *Relay) RoomLeave(userID string, p domain.RoomLeavePayload) {
	participant, ok := r.rooms.Leave(p.RoomID, userID)
	if !ok {
		return
	}
	r.announceToRoom(p.RoomID, domain.EventRoomParticipantLeft, domain.RoomParticipantPayload{
		RoomID:      p.RoomID,
		Participant: participant,
	}, userID)
	r.logger.Info("room left",
		zap.String("room_id", p.RoomID),
		zap.String("user_id", userID))
}

// RoomState updates the sender's media-enabled flags and mirrors them to the
// other members. The flags are optimistic indicators only.
func (r *Relay) RoomState(userID string, p domain.RoomStatePayload) {
	participant, ok := r.rooms.SetState(p.RoomID, userID, p.IsMuted, p.IsVideoOn)
	if !ok {
		return
	}
	r.announceToRoom(p.RoomID, domain.EventRoomParticipantState, domain.RoomParticipantPayload{
		RoomID:      p.RoomID,
		Participant: participant,
	}, userID)
}

// announceToRoom sends an event to every room member except the originator
func (r *Relay) announceToRoom(roomID, event string, payload any, exceptUserID string) {
	for _, member := range r.rooms.Members(roomID) {
		if member.UserID == exceptUserID {
			continue
		}
		if conn, ok := r.presence.Resolve(member.UserID); ok {
			conn.Send(event, payload)
		}
	}
}

// broadcastPresence fans the current online snapshot out to every connected
// client. O(connected clients) per presence change; a known scalability
// limit at this design's scale.
func (r *Relay) broadcastPresence() {
	snapshot := r.presence.Snapshot()
	r.presence.Each(func(_ string, conn registry.Conn) {
		conn.Send(domain.EventUsersActive, snapshot)
	})
	r.metrics.RecordPresenceBroadcast()
}

func (r *Relay) mirrorOnline(identity string) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()
	if err := r.mirror.SetOnline(ctx, identity); err != nil {
		r.logger.Warn("presence mirror set online failed",
			zap.String("user_id", identity),
			zap.Error(err))
	}
}

func (r *Relay) mirrorOffline(identity string) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()
	if err := r.mirror.SetOffline(ctx, identity); err != nil {
		r.logger.Warn("presence mirror set offline failed",
			zap.String("user_id", identity),
			zap.Error(err))
	}
}

func (r *Relay) notifyOffline(p domain.InitiatePayload) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()
	if err := r.notifier.NotifyIncomingCall(ctx, p.RecipientID, p.CallID, p.CallerName, string(p.Type)); err != nil {
		r.metrics.RecordPushDispatch("failed")
		r.logger.Warn("offline call push dispatch failed",
			zap.String("call_id", p.CallID),
			zap.String("recipient_id", p.RecipientID),
			zap.Error(err))
		return
	}
	r.metrics.RecordPushDispatch("sent")
}
