package call

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"voxlink/internal/domain"
	"voxlink/pkg/errors"
)

// Signaler sends named events to the gateway. The engine's only coupling to
// the transport.
type Signaler interface {
	Emit(event string, payload any) error
}

// Engine is one client's call session state machine. It owns the current
// CallSession, the negotiation link, and the local media tracks, and
// guarantees the tracks are stopped and the link closed on every exit path.
//
// Media acquisition and negotiation calls suspend; the generation counter is
// checked after each suspension so a result arriving for a call that has
// already terminated is discarded instead of mutating the next call.
type Engine struct {
	log     *zap.Logger
	sig     Signaler
	media   MediaProvider
	newPeer PeerFactory

	selfID   string
	selfName string

	mu           sync.Mutex
	gen          uint64
	session      *domain.CallSession
	peer         PeerLink
	tracks       []Track
	pendingOffer json.RawMessage
	answered     bool

	onStatus func(domain.CallStatus)
}

// NewEngine creates an idle engine for one identity
func NewEngine(sig Signaler, media MediaProvider, newPeer PeerFactory, selfID, selfName string, log *zap.Logger) *Engine {
	return &Engine{
		log:      log,
		sig:      sig,
		media:    media,
		newPeer:  newPeer,
		selfID:   selfID,
		selfName: selfName,
	}
}

// OnStatus registers a callback fired on every status transition. Called with
// the engine's lock held; the callback must not call back into the engine.
func (e *Engine) OnStatus(fn func(domain.CallStatus)) {
	e.mu.Lock()
	e.onStatus = fn
	e.mu.Unlock()
}

// Status returns the current call status, or empty when idle
func (e *Engine) Status() domain.CallStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return ""
	}
	return e.session.Status
}

// Current returns a copy of the current session, or nil when idle
func (e *Engine) Current() *domain.CallSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	s := *e.session
	return &s
}

func (e *Engine) idleLocked() bool {
	return e.session == nil || e.session.Status.Terminal()
}

// emitOrLog sends best-effort frames whose failure changes nothing locally
func (e *Engine) emitOrLog(event string, payload any) {
	if err := e.sig.Emit(event, payload); err != nil {
		e.log.Warn("control send failed",
			zap.String("event", event),
			zap.Error(err))
	}
}

func (e *Engine) setStatusLocked(s domain.CallStatus) {
	e.session.Status = s
	if e.onStatus != nil {
		e.onStatus(s)
	}
}

// StartCall initiates an outgoing call. Media is acquired first: a failure
// there aborts the transition with no session created and nothing sent.
func (e *Engine) StartCall(ctx context.Context, recipientID, recipientName string, callType domain.CallType) (string, error) {
	e.mu.Lock()
	if !e.idleLocked() {
		e.mu.Unlock()
		return "", errors.CallInProgressError()
	}
	gen := e.gen
	e.mu.Unlock()

	tracks, err := e.media.Acquire(ctx, callType == domain.CallTypeVideo)
	if err != nil {
		return "", errors.MediaFailureError(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen || !e.idleLocked() {
		// the engine moved on while media was being acquired
		stopTracks(tracks)
		return "", errors.CallInProgressError()
	}

	peer, err := e.newPeer()
	if err != nil {
		stopTracks(tracks)
		return "", errors.NegotiationError(err)
	}

	callID := domain.NewCallID()
	e.installCandidateSink(peer, gen, callID, recipientID)

	for _, t := range tracks {
		if err := peer.AddTrack(t); err != nil {
			peer.Close()
			stopTracks(tracks)
			return "", errors.NegotiationError(err)
		}
	}

	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		peer.Close()
		stopTracks(tracks)
		return "", errors.NegotiationError(err)
	}

	// Both control and offer frames must reach the wire before the call is
	// committed; a send failure reverts to idle with nothing held.
	err = e.sig.Emit(domain.EventCallInitiate, domain.InitiatePayload{
		CallID:      callID,
		CallerID:    e.selfID,
		CallerName:  e.selfName,
		RecipientID: recipientID,
		Type:        callType,
	})
	if err == nil {
		err = e.sig.Emit(domain.EventCallSignal, domain.SignalEnvelope{
			Type:   domain.SignalTypeOffer,
			CallID: callID,
			From:   e.selfID,
			To:     recipientID,
			Data:   offer,
		})
	}
	if err != nil {
		e.gen++ // invalidate the candidate sink
		peer.Close()
		stopTracks(tracks)
		return "", errors.Wrap(errors.ErrCodeServiceUnavail, "signaling send failed", err)
	}

	e.session = &domain.CallSession{
		ID:            callID,
		CallerID:      e.selfID,
		CallerName:    e.selfName,
		RecipientID:   recipientID,
		RecipientName: recipientName,
		Type:          callType,
	}
	e.peer = peer
	e.tracks = tracks
	e.answered = false
	e.pendingOffer = nil
	e.setStatusLocked(domain.CallStatusCalling)

	e.log.Info("call started",
		zap.String("call_id", callID),
		zap.String("recipient_id", recipientID),
		zap.String("type", string(callType)))
	return callID, nil
}

// HandleIncoming records an incoming call and moves to ringing. Media is not
// acquired yet; that waits for Accept so a call the user rejects never
// prompts for devices. A second incoming call while one is active is dropped.
func (e *Engine) HandleIncoming(p domain.IncomingPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.idleLocked() {
		e.log.Warn("incoming call dropped, session active",
			zap.String("call_id", p.CallID),
			zap.String("active_call_id", e.session.ID))
		return
	}
	e.session = &domain.CallSession{
		ID:          p.CallID,
		CallerID:    p.CallerID,
		CallerName:  p.CallerName,
		RecipientID: e.selfID,
		Type:        p.Type,
	}
	e.peer = nil
	e.tracks = nil
	e.pendingOffer = nil
	e.answered = false
	e.setStatusLocked(domain.CallStatusRinging)
	e.log.Info("incoming call",
		zap.String("call_id", p.CallID),
		zap.String("caller_id", p.CallerID))
}

// Accept answers a ringing call. Media failure behaves as a reject. The
// local status flips to connected immediately; the caller's own transition
// happens on its accepted notification. If the offer has not arrived yet the
// answer is produced later in HandleOffer.
func (e *Engine) Accept(ctx context.Context) error {
	e.mu.Lock()
	if e.session == nil || e.session.Status != domain.CallStatusRinging {
		e.mu.Unlock()
		return errors.CallNotFoundError()
	}
	gen := e.gen
	callID := e.session.ID
	callerID := e.session.CallerID
	callType := e.session.Type
	e.mu.Unlock()

	tracks, err := e.media.Acquire(ctx, callType == domain.CallTypeVideo)
	if err != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.gen == gen && e.session != nil && e.session.ID == callID {
			e.emitOrLog(domain.EventCallReject, domain.ControlPayload{CallID: callID, RecipientID: callerID})
			e.teardownLocked(domain.CallStatusRejected)
		}
		return errors.MediaFailureError(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen || e.session == nil || e.session.ID != callID || e.session.Status != domain.CallStatusRinging {
		stopTracks(tracks)
		return errors.CallNotFoundError()
	}

	peer, err := e.newPeer()
	if err != nil {
		stopTracks(tracks)
		e.emitOrLog(domain.EventCallReject, domain.ControlPayload{CallID: callID, RecipientID: callerID})
		e.teardownLocked(domain.CallStatusRejected)
		return errors.NegotiationError(err)
	}
	e.installCandidateSink(peer, gen, callID, callerID)

	for _, t := range tracks {
		if err := peer.AddTrack(t); err != nil {
			peer.Close()
			stopTracks(tracks)
			e.emitOrLog(domain.EventCallReject, domain.ControlPayload{CallID: callID, RecipientID: callerID})
			e.teardownLocked(domain.CallStatusRejected)
			return errors.NegotiationError(err)
		}
	}

	e.peer = peer
	e.tracks = tracks

	if err := e.sig.Emit(domain.EventCallAccept, domain.ControlPayload{CallID: callID, RecipientID: callerID}); err != nil {
		// the caller never learns of the accept; release everything
		e.teardownLocked(domain.CallStatusEnded)
		return errors.Wrap(errors.ErrCodeServiceUnavail, "signaling send failed", err)
	}

	if e.pendingOffer != nil {
		answer, err := peer.AcceptOffer(ctx, e.pendingOffer)
		e.pendingOffer = nil
		if err != nil {
			// control-plane accept already went out; stay connected with no
			// media rather than half-tear the call down
			e.log.Error("answer production failed",
				zap.String("call_id", callID),
				zap.Error(err))
		} else {
			e.answered = true
			e.emitOrLog(domain.EventCallSignal, domain.SignalEnvelope{
				Type:   domain.SignalTypeAnswer,
				CallID: callID,
				From:   e.selfID,
				To:     callerID,
				Data:   answer,
			})
		}
	}

	e.session.StartedAt = time.Now()
	e.setStatusLocked(domain.CallStatusConnected)
	e.log.Info("call accepted", zap.String("call_id", callID))
	return nil
}

// Reject declines a ringing call. No media was acquired so nothing needs
// releasing.
func (e *Engine) Reject() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.session.Status != domain.CallStatusRinging {
		return errors.CallNotFoundError()
	}
	e.emitOrLog(domain.EventCallReject, domain.ControlPayload{
		CallID:      e.session.ID,
		RecipientID: e.session.CallerID,
	})
	e.log.Info("call rejected", zap.String("call_id", e.session.ID))
	e.teardownLocked(domain.CallStatusRejected)
	return nil
}

// End hangs up the current call from either side. Cleanup is local and
// immediate; no acknowledgement is awaited.
func (e *Engine) End() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.session.Status.Terminal() {
		return errors.CallNotFoundError()
	}
	counterpart := e.session.RecipientID
	if e.selfID == e.session.RecipientID {
		counterpart = e.session.CallerID
	}
	e.emitOrLog(domain.EventCallEnd, domain.ControlPayload{
		CallID:      e.session.ID,
		RecipientID: counterpart,
	})
	e.log.Info("call ended", zap.String("call_id", e.session.ID))
	e.teardownLocked(domain.CallStatusEnded)
	return nil
}

// HandleAccepted moves the caller to connected. The acceptor receives the
// same notification as an echo; it is already connected so this no-ops.
func (e *Engine) HandleAccepted(p domain.CallIDPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.session.ID != p.CallID {
		return
	}
	if e.session.Status != domain.CallStatusCalling {
		return
	}
	e.session.StartedAt = time.Now()
	e.setStatusLocked(domain.CallStatusConnected)
	e.log.Info("call connected", zap.String("call_id", p.CallID))
}

// HandleRejected tears the caller's session down after the recipient declined
func (e *Engine) HandleRejected(p domain.CallIDPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.session.ID != p.CallID || e.session.Status.Terminal() {
		return
	}
	e.log.Info("call rejected by remote", zap.String("call_id", p.CallID))
	e.teardownLocked(domain.CallStatusRejected)
}

// HandleEnded tears the session down after the counterpart hung up. A hangup
// arriving while still ringing means the caller cancelled: the call was
// missed, not ended.
func (e *Engine) HandleEnded(p domain.CallIDPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.session.ID != p.CallID || e.session.Status.Terminal() {
		return
	}
	status := domain.CallStatusEnded
	if e.session.Status == domain.CallStatusRinging {
		status = domain.CallStatusMissed
	}
	e.log.Info("call ended by remote",
		zap.String("call_id", p.CallID),
		zap.String("status", string(status)))
	e.teardownLocked(status)
}

// HandleOffer applies a remote offer. Before Accept has created the link the
// offer is buffered; after it, the answer is produced and sent immediately.
// An offer with no matching session is dropped.
func (e *Engine) HandleOffer(p domain.SignalForwardPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.session.ID != p.CallID || e.session.Status.Terminal() {
		return
	}

	if e.peer == nil {
		e.pendingOffer = p.Data
		return
	}
	if e.answered {
		return
	}

	answer, err := e.peer.AcceptOffer(context.Background(), p.Data)
	if err != nil {
		e.log.Error("offer application failed",
			zap.String("call_id", p.CallID),
			zap.Error(err))
		return
	}
	e.answered = true
	e.emitOrLog(domain.EventCallSignal, domain.SignalEnvelope{
		Type:   domain.SignalTypeAnswer,
		CallID: p.CallID,
		From:   e.selfID,
		To:     p.From,
		Data:   answer,
	})
}

// HandleAnswer applies a remote answer on the offering side
func (e *Engine) HandleAnswer(p domain.SignalForwardPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.peer == nil || e.session == nil || e.session.ID != p.CallID {
		return
	}
	if err := e.peer.ApplyAnswer(p.Data); err != nil {
		e.log.Error("answer application failed",
			zap.String("call_id", p.CallID),
			zap.Error(err))
	}
}

// HandleCandidate adds a remote network candidate. Received before the link
// exists it is dropped.
func (e *Engine) HandleCandidate(p domain.SignalForwardPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.peer == nil || e.session == nil || e.session.ID != p.CallID {
		return
	}
	if err := e.peer.AddCandidate(p.Data); err != nil {
		e.log.Warn("candidate rejected",
			zap.String("call_id", p.CallID),
			zap.Error(err))
	}
}

// ToggleMute flips the audio tracks and returns the new muted state
func (e *Engine) ToggleMute() bool {
	return e.toggle(TrackKindAudio)
}

// ToggleVideo flips the video tracks and returns the new disabled state
func (e *Engine) ToggleVideo() bool {
	return e.toggle(TrackKindVideo)
}

// toggle is local-only: no signaling message is sent, the remote side never
// learns the flag
func (e *Engine) toggle(kind TrackKind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	disabled := false
	for _, t := range e.tracks {
		if t.Kind() != kind {
			continue
		}
		t.SetEnabled(!t.Enabled())
		disabled = !t.Enabled()
	}
	return disabled
}

// installCandidateSink wires locally gathered candidates onto the wire,
// guarded by the generation so a stale link cannot emit for a new call
func (e *Engine) installCandidateSink(peer PeerLink, gen uint64, callID, to string) {
	peer.OnCandidate(func(candidate json.RawMessage) {
		e.mu.Lock()
		stale := e.gen != gen
		e.mu.Unlock()
		if stale {
			return
		}
		e.emitOrLog(domain.EventCallSignal, domain.SignalEnvelope{
			Type:   domain.SignalTypeCandidate,
			CallID: callID,
			From:   e.selfID,
			To:     to,
			Data:   candidate,
		})
	})
}

// teardownLocked is the single cleanup path: every terminal transition runs
// through it. Tracks are stopped, the link closed, buffered state cleared,
// and the generation bumped so in-flight async results are discarded.
func (e *Engine) teardownLocked(status domain.CallStatus) {
	e.gen++
	stopTracks(e.tracks)
	e.tracks = nil
	if e.peer != nil {
		e.peer.Close()
		e.peer = nil
	}
	e.pendingOffer = nil
	e.answered = false
	now := time.Now()
	e.session.EndedAt = &now
	e.setStatusLocked(status)
}

func stopTracks(tracks []Track) {
	for _, t := range tracks {
		t.Stop()
	}
}
