package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voxlink/internal/client/call"
	"voxlink/internal/domain"
)

type fakeSignaler struct {
	mu     sync.Mutex
	events []domain.Frame
}

func (f *fakeSignaler) Emit(event string, payload any) error {
	b, _ := json.Marshal(payload)
	f.mu.Lock()
	f.events = append(f.events, domain.Frame{Event: event, Data: b})
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaler) envelopes() []domain.SignalEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SignalEnvelope
	for _, e := range f.events {
		if e.Event != domain.EventCallSignal {
			continue
		}
		var env domain.SignalEnvelope
		if err := json.Unmarshal(e.Data, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

type fakeTrack struct {
	kind    call.TrackKind
	enabled bool
	stopped bool
}

func (t *fakeTrack) Kind() call.TrackKind    { return t.kind }
func (t *fakeTrack) SetEnabled(enabled bool) { t.enabled = enabled }
func (t *fakeTrack) Enabled() bool           { return t.enabled }
func (t *fakeTrack) Stop() error             { t.stopped = true; return nil }

type fakeMedia struct {
	tracks []*fakeTrack
}

func (m *fakeMedia) Acquire(_ context.Context, video bool) ([]call.Track, error) {
	m.tracks = []*fakeTrack{{kind: call.TrackKindAudio, enabled: true}}
	if video {
		m.tracks = append(m.tracks, &fakeTrack{kind: call.TrackKindVideo, enabled: true})
	}
	out := make([]call.Track, len(m.tracks))
	for i, t := range m.tracks {
		out[i] = t
	}
	return out, nil
}

type fakePeer struct {
	tracks     []call.Track
	offers     int
	answers    int
	candidates int
	closed     bool
}

func (p *fakePeer) AddTrack(t call.Track) error { p.tracks = append(p.tracks, t); return nil }

func (p *fakePeer) CreateOffer(context.Context) (json.RawMessage, error) {
	p.offers++
	return json.RawMessage(`{"type":"offer","sdp":"v=0"}`), nil
}

func (p *fakePeer) AcceptOffer(context.Context, json.RawMessage) (json.RawMessage, error) {
	p.answers++
	return json.RawMessage(`{"type":"answer","sdp":"v=0"}`), nil
}

func (p *fakePeer) ApplyAnswer(json.RawMessage) error { p.answers++; return nil }

func (p *fakePeer) AddCandidate(json.RawMessage) error { p.candidates++; return nil }

func (p *fakePeer) OnCandidate(func(json.RawMessage)) {}

func (p *fakePeer) Close() error { p.closed = true; return nil }

func newTestManager(t *testing.T, selfID string) (*Manager, *fakeSignaler, *fakeMedia, *[]*fakePeer) {
	t.Helper()
	sig := &fakeSignaler{}
	media := &fakeMedia{}
	peers := &[]*fakePeer{}
	factory := func() (call.PeerLink, error) {
		p := &fakePeer{}
		*peers = append(*peers, p)
		return p, nil
	}
	m := NewManager(sig, media, factory, selfID, "Self", zap.NewNop())
	return m, sig, media, peers
}

func joined(t *testing.T, m *Manager, roomID string) {
	t.Helper()
	require.NoError(t, m.Join(context.Background(), roomID, true))
}

func TestManager_JoinAnnouncesAndSeedsSelf(t *testing.T) {
	m, sig, _, _ := newTestManager(t, "alice")
	joined(t, m, "standup")

	require.Len(t, sig.events, 1)
	assert.Equal(t, domain.EventRoomJoin, sig.events[0].Event)

	roster := m.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, "alice", roster[0].UserID)
	assert.True(t, roster[0].IsVideoOn)
}

func TestManager_SmallerIDOffersOnRoster(t *testing.T) {
	m, sig, _, peers := newTestManager(t, "alice")
	joined(t, m, "standup")

	m.HandleRoster(domain.RoomRosterPayload{
		RoomID: "standup",
		Participants: []domain.RoomParticipant{
			{UserID: "alice", Username: "Self", JoinedAt: time.Now()},
			{UserID: "bob", Username: "Bob", JoinedAt: time.Now()},
			{UserID: "carol", Username: "Carol", JoinedAt: time.Now()},
		},
	})

	// alice < bob and alice < carol: alice offers to both
	envs := sig.envelopes()
	require.Len(t, envs, 2)
	targets := []string{envs[0].To, envs[1].To}
	assert.ElementsMatch(t, []string{"bob", "carol"}, targets)
	for _, env := range envs {
		assert.Equal(t, domain.SignalTypeOffer, env.Type)
		assert.Equal(t, "standup", env.CallID)
	}
	assert.Len(t, *peers, 2)
}

func TestManager_LargerIDWaitsForOffer(t *testing.T) {
	m, sig, _, peers := newTestManager(t, "zoe")
	joined(t, m, "standup")

	m.HandleParticipantJoined(domain.RoomParticipantPayload{
		RoomID:      "standup",
		Participant: domain.RoomParticipant{UserID: "bob", Username: "Bob"},
	})

	// zoe > bob: no offer produced, no link built yet
	assert.Empty(t, sig.envelopes())
	assert.Empty(t, *peers)

	// bob's offer arrives and is answered
	m.HandleOffer(domain.SignalForwardPayload{
		CallID: "standup", From: "bob", Data: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})

	envs := sig.envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, domain.SignalTypeAnswer, envs[0].Type)
	assert.Equal(t, "bob", envs[0].To)
	require.Len(t, *peers, 1)

	// local tracks were attached to the pairwise link
	assert.Len(t, (*peers)[0].tracks, 2)
}

func TestManager_ParticipantLeftClosesLink(t *testing.T) {
	m, _, _, peers := newTestManager(t, "alice")
	joined(t, m, "standup")

	m.HandleParticipantJoined(domain.RoomParticipantPayload{
		RoomID:      "standup",
		Participant: domain.RoomParticipant{UserID: "bob"},
	})
	require.Len(t, *peers, 1)

	m.HandleParticipantLeft(domain.RoomParticipantPayload{
		RoomID:      "standup",
		Participant: domain.RoomParticipant{UserID: "bob"},
	})

	assert.True(t, (*peers)[0].closed)
	assert.Len(t, m.Roster(), 1)
}

func TestManager_StateMirroredIntoRoster(t *testing.T) {
	m, _, _, _ := newTestManager(t, "alice")
	joined(t, m, "standup")

	m.HandleParticipantJoined(domain.RoomParticipantPayload{
		RoomID:      "standup",
		Participant: domain.RoomParticipant{UserID: "bob", IsVideoOn: true},
	})
	m.HandleParticipantState(domain.RoomParticipantPayload{
		RoomID:      "standup",
		Participant: domain.RoomParticipant{UserID: "bob", IsMuted: true, IsVideoOn: false},
	})

	for _, p := range m.Roster() {
		if p.UserID == "bob" {
			assert.True(t, p.IsMuted)
			assert.False(t, p.IsVideoOn)
		}
	}
}

func TestManager_ToggleMuteAnnouncesState(t *testing.T) {
	m, sig, media, _ := newTestManager(t, "alice")
	joined(t, m, "standup")

	muted := m.ToggleMute()
	assert.True(t, muted)
	assert.False(t, media.tracks[0].Enabled())
	assert.True(t, media.tracks[1].Enabled(), "video untouched")

	last := sig.events[len(sig.events)-1]
	require.Equal(t, domain.EventRoomState, last.Event)
	var state domain.RoomStatePayload
	require.NoError(t, json.Unmarshal(last.Data, &state))
	assert.True(t, state.IsMuted)
	assert.True(t, state.IsVideoOn)
}

func TestManager_LeaveReleasesEverything(t *testing.T) {
	m, _, media, peers := newTestManager(t, "alice")
	joined(t, m, "standup")

	m.HandleParticipantJoined(domain.RoomParticipantPayload{
		RoomID:      "standup",
		Participant: domain.RoomParticipant{UserID: "bob"},
	})

	require.NoError(t, m.Leave())

	for _, tr := range media.tracks {
		assert.True(t, tr.stopped)
	}
	for _, p := range *peers {
		assert.True(t, p.closed)
	}
	assert.Empty(t, m.Roster())

	// rejoinable after leave
	require.NoError(t, m.Join(context.Background(), "retro", false))
}

func TestManager_WrongRoomEnvelopesIgnored(t *testing.T) {
	m, sig, _, _ := newTestManager(t, "zoe")
	joined(t, m, "standup")

	m.HandleOffer(domain.SignalForwardPayload{
		CallID: "other-room", From: "bob", Data: json.RawMessage(`{}`),
	})
	m.HandleCandidate(domain.SignalForwardPayload{
		CallID: "standup", From: "stranger", Data: json.RawMessage(`{}`),
	})

	assert.Empty(t, sig.envelopes())
}
