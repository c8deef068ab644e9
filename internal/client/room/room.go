// Package room generalizes the 1:1 call engine to an N-party roster sharing
// one session id. Media is modeled as N*(N-1) independent pairwise
// negotiations, not a shared one; the relay forwards each envelope exactly
// as in the 1:1 case with the room id as the call id.
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"voxlink/internal/client/call"
	"voxlink/internal/domain"
	"voxlink/pkg/errors"
)

// Manager is one client's view of a room: the local roster mirror plus one
// PeerLink per other participant. For each pair exactly one side produces
// the offer: the one with the lexicographically smaller user id. Both sides
// apply the same rule, so simultaneous joins cannot glare.
type Manager struct {
	log     *zap.Logger
	sig     call.Signaler
	media   call.MediaProvider
	newPeer call.PeerFactory

	selfID   string
	selfName string

	mu      sync.Mutex
	gen     uint64
	roomID  string
	tracks  []call.Track
	roster  map[string]domain.RoomParticipant
	peers   map[string]call.PeerLink
	muted   bool
	videoOn bool
}

// NewManager creates a manager for one identity, not yet in any room
func NewManager(sig call.Signaler, media call.MediaProvider, newPeer call.PeerFactory, selfID, selfName string, log *zap.Logger) *Manager {
	return &Manager{
		log:      log,
		sig:      sig,
		media:    media,
		newPeer:  newPeer,
		selfID:   selfID,
		selfName: selfName,
		roster:   make(map[string]domain.RoomParticipant),
		peers:    make(map[string]call.PeerLink),
	}
}

// Join acquires local media and announces the join. Pairwise negotiations
// start when the roster arrives.
func (m *Manager) Join(ctx context.Context, roomID string, video bool) error {
	m.mu.Lock()
	if m.roomID != "" {
		m.mu.Unlock()
		return errors.CallInProgressError()
	}
	gen := m.gen
	m.mu.Unlock()

	tracks, err := m.media.Acquire(ctx, video)
	if err != nil {
		return errors.MediaFailureError(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.roomID != "" {
		stopTracks(tracks)
		return errors.CallInProgressError()
	}

	m.roomID = roomID
	m.tracks = tracks
	m.muted = false
	m.videoOn = video
	m.roster[m.selfID] = domain.RoomParticipant{
		UserID:    m.selfID,
		Username:  m.selfName,
		IsVideoOn: video,
		JoinedAt:  time.Now(),
	}

	m.sig.Emit(domain.EventRoomJoin, domain.RoomJoinPayload{
		RoomID:    roomID,
		Username:  m.selfName,
		IsVideoOn: video,
	})
	m.log.Info("room join announced", zap.String("room_id", roomID))
	return nil
}

// Leave announces the leave and tears down every pairwise negotiation
func (m *Manager) Leave() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.roomID == "" {
		return errors.CallNotFoundError()
	}
	m.sig.Emit(domain.EventRoomLeave, domain.RoomLeavePayload{RoomID: m.roomID})
	m.log.Info("room left", zap.String("room_id", m.roomID))
	m.teardownLocked()
	return nil
}

// Roster returns the local roster mirror sorted by join time
func (m *Manager) Roster() []domain.RoomParticipant {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RoomParticipant, 0, len(m.roster))
	for _, p := range m.roster {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// HandleRoster seeds the roster on join and starts the pairwise
// negotiations this side is responsible for
func (m *Manager) HandleRoster(p domain.RoomRosterPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.RoomID != m.roomID {
		return
	}
	for _, participant := range p.Participants {
		m.roster[participant.UserID] = participant
		if participant.UserID != m.selfID {
			m.negotiateLocked(participant.UserID)
		}
	}
}

// HandleParticipantJoined adds a new member and negotiates if this side
// owns the pair's offer
func (m *Manager) HandleParticipantJoined(p domain.RoomParticipantPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.RoomID != m.roomID || p.Participant.UserID == m.selfID {
		return
	}
	m.roster[p.Participant.UserID] = p.Participant
	m.negotiateLocked(p.Participant.UserID)
}

// HandleParticipantLeft drops the member and closes the pairwise link
func (m *Manager) HandleParticipantLeft(p domain.RoomParticipantPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.RoomID != m.roomID {
		return
	}
	delete(m.roster, p.Participant.UserID)
	if peer, ok := m.peers[p.Participant.UserID]; ok {
		peer.Close()
		delete(m.peers, p.Participant.UserID)
	}
}

// HandleParticipantState mirrors a member's media flags into the roster.
// Optimistic indicators only, never derived from media analysis.
func (m *Manager) HandleParticipantState(p domain.RoomParticipantPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.RoomID != m.roomID {
		return
	}
	existing, ok := m.roster[p.Participant.UserID]
	if !ok {
		return
	}
	existing.IsMuted = p.Participant.IsMuted
	existing.IsVideoOn = p.Participant.IsVideoOn
	m.roster[p.Participant.UserID] = existing
}

// HandleOffer answers a pairwise offer from another member
func (m *Manager) HandleOffer(p domain.SignalForwardPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CallID != m.roomID {
		return
	}
	if _, exists := m.peers[p.From]; exists {
		return
	}

	peer, err := m.buildPeerLocked(p.From)
	if err != nil {
		m.log.Error("pairwise link failed",
			zap.String("room_id", m.roomID),
			zap.String("peer_id", p.From),
			zap.Error(err))
		return
	}
	m.peers[p.From] = peer

	answer, err := peer.AcceptOffer(context.Background(), p.Data)
	if err != nil {
		m.log.Error("pairwise answer failed",
			zap.String("peer_id", p.From),
			zap.Error(err))
		return
	}
	m.sig.Emit(domain.EventCallSignal, domain.SignalEnvelope{
		Type:   domain.SignalTypeAnswer,
		CallID: m.roomID,
		From:   m.selfID,
		To:     p.From,
		Data:   answer,
	})
}

// HandleAnswer applies a pairwise answer
func (m *Manager) HandleAnswer(p domain.SignalForwardPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CallID != m.roomID {
		return
	}
	peer, ok := m.peers[p.From]
	if !ok {
		return
	}
	if err := peer.ApplyAnswer(p.Data); err != nil {
		m.log.Error("pairwise answer application failed",
			zap.String("peer_id", p.From),
			zap.Error(err))
	}
}

// HandleCandidate adds a pairwise candidate; dropped when no link exists
func (m *Manager) HandleCandidate(p domain.SignalForwardPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CallID != m.roomID {
		return
	}
	peer, ok := m.peers[p.From]
	if !ok {
		return
	}
	if err := peer.AddCandidate(p.Data); err != nil {
		m.log.Warn("pairwise candidate rejected",
			zap.String("peer_id", p.From),
			zap.Error(err))
	}
}

// ToggleMute flips local audio and announces the new flags to the room
func (m *Manager) ToggleMute() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = !m.muted
	for _, t := range m.tracks {
		if t.Kind() == call.TrackKindAudio {
			t.SetEnabled(!m.muted)
		}
	}
	m.announceStateLocked()
	return m.muted
}

// ToggleVideo flips local video and announces the new flags to the room
func (m *Manager) ToggleVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videoOn = !m.videoOn
	for _, t := range m.tracks {
		if t.Kind() == call.TrackKindVideo {
			t.SetEnabled(m.videoOn)
		}
	}
	m.announceStateLocked()
	return m.videoOn
}

func (m *Manager) announceStateLocked() {
	if m.roomID == "" {
		return
	}
	self := m.roster[m.selfID]
	self.IsMuted = m.muted
	self.IsVideoOn = m.videoOn
	m.roster[m.selfID] = self

	m.sig.Emit(domain.EventRoomState, domain.RoomStatePayload{
		RoomID:    m.roomID,
		IsMuted:   m.muted,
		IsVideoOn: m.videoOn,
	})
}

// negotiateLocked starts the pairwise negotiation with remoteID when this
// side owns the offer for the pair
func (m *Manager) negotiateLocked(remoteID string) {
	if m.selfID >= remoteID {
		// the other side offers
		return
	}
	if _, exists := m.peers[remoteID]; exists {
		return
	}

	peer, err := m.buildPeerLocked(remoteID)
	if err != nil {
		m.log.Error("pairwise link failed",
			zap.String("room_id", m.roomID),
			zap.String("peer_id", remoteID),
			zap.Error(err))
		return
	}
	m.peers[remoteID] = peer

	offer, err := peer.CreateOffer(context.Background())
	if err != nil {
		m.log.Error("pairwise offer failed",
			zap.String("peer_id", remoteID),
			zap.Error(err))
		peer.Close()
		delete(m.peers, remoteID)
		return
	}
	m.sig.Emit(domain.EventCallSignal, domain.SignalEnvelope{
		Type:   domain.SignalTypeOffer,
		CallID: m.roomID,
		From:   m.selfID,
		To:     remoteID,
		Data:   offer,
	})
}

func (m *Manager) buildPeerLocked(remoteID string) (call.PeerLink, error) {
	peer, err := m.newPeer()
	if err != nil {
		return nil, err
	}

	gen := m.gen
	roomID := m.roomID
	peer.OnCandidate(func(candidate json.RawMessage) {
		m.mu.Lock()
		stale := m.gen != gen
		m.mu.Unlock()
		if stale {
			return
		}
		m.sig.Emit(domain.EventCallSignal, domain.SignalEnvelope{
			Type:   domain.SignalTypeCandidate,
			CallID: roomID,
			From:   m.selfID,
			To:     remoteID,
			Data:   candidate,
		})
	})

	for _, t := range m.tracks {
		if err := peer.AddTrack(t); err != nil {
			peer.Close()
			return nil, fmt.Errorf("attach track: %w", err)
		}
	}
	return peer, nil
}

// teardownLocked stops every track and closes every pairwise link
func (m *Manager) teardownLocked() {
	m.gen++
	stopTracks(m.tracks)
	m.tracks = nil
	for id, peer := range m.peers {
		peer.Close()
		delete(m.peers, id)
	}
	m.roster = make(map[string]domain.RoomParticipant)
	m.roomID = ""
	m.muted = false
	m.videoOn = false
}

func stopTracks(tracks []call.Track) {
	for _, t := range tracks {
		t.Stop()
	}
}
