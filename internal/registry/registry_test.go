package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxlink/internal/domain"
)

type fakeConn struct {
	id string
}

func (f *fakeConn) Send(event string, payload any) {}

func TestPresenceSetOnlineReplacesHandle(t *testing.T) {
	p := NewPresence()
	first := &fakeConn{id: "first"}
	second := &fakeConn{id: "second"}

	p.SetOnline("alice", first)
	p.SetOnline("alice", second)

	conn, ok := p.Resolve("alice")
	require.True(t, ok)
	assert.Same(t, second, conn)
	assert.Equal(t, 1, p.Len())
}

func TestPresenceClearByHandle(t *testing.T) {
	p := NewPresence()
	aliceConn := &fakeConn{id: "a"}
	bobConn := &fakeConn{id: "b"}
	p.SetOnline("alice", aliceConn)
	p.SetOnline("bob", bobConn)

	identity, ok := p.Clear(aliceConn)
	require.True(t, ok)
	assert.Equal(t, "alice", identity)

	_, ok = p.Resolve("alice")
	assert.False(t, ok)
	assert.Equal(t, []string{"bob"}, p.Snapshot())
}

func TestPresenceClearUnknownHandle(t *testing.T) {
	p := NewPresence()
	p.SetOnline("alice", &fakeConn{id: "a"})

	_, ok := p.Clear(&fakeConn{id: "stranger"})
	assert.False(t, ok)
	assert.Equal(t, 1, p.Len())
}

func TestPresenceSnapshotTracksLiveSet(t *testing.T) {
	p := NewPresence()
	conns := map[string]*fakeConn{}
	for _, id := range []string{"carol", "alice", "bob"} {
		conns[id] = &fakeConn{id: id}
		p.SetOnline(id, conns[id])
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, p.Snapshot())

	p.Clear(conns["bob"])
	assert.Equal(t, []string{"alice", "carol"}, p.Snapshot())

	p.SetOnline("bob", &fakeConn{id: "b2"})
	assert.Equal(t, []string{"alice", "bob", "carol"}, p.Snapshot())
}

func TestSessionsLifecycle(t *testing.T) {
	s := NewSessions()
	s.Create("call_1", "alice", "bob", domain.CallTypeVideo)

	rec, ok := s.Get("call_1")
	require.True(t, ok)
	assert.Equal(t, "alice", rec.CallerID)
	assert.Equal(t, "bob", rec.RecipientID)
	assert.Equal(t, domain.CallTypeVideo, rec.Type)

	assert.True(t, s.Delete("call_1"))
	assert.False(t, s.Delete("call_1"), "second delete must be a no-op")
	_, ok = s.Get("call_1")
	assert.False(t, ok)
}

func TestSessionsDeleteByParticipant(t *testing.T) {
	s := NewSessions()
	s.Create("call_1", "alice", "bob", domain.CallTypeAudio)
	s.Create("call_2", "carol", "alice", domain.CallTypeVideo)
	s.Create("call_3", "carol", "dave", domain.CallTypeAudio)

	removed := s.DeleteByParticipant("alice")
	require.Len(t, removed, 2)

	ids := []string{removed[0].CallID, removed[1].CallID}
	assert.ElementsMatch(t, []string{"call_1", "call_2"}, ids)

	_, ok := s.Get("call_3")
	assert.True(t, ok, "unrelated session must survive")
	assert.Equal(t, 1, s.Len())

	assert.Empty(t, s.DeleteByParticipant("alice"))
}

func TestRoomsJoinLeave(t *testing.T) {
	r := NewRooms()
	now := time.Now()

	r.Join("room_1", domain.RoomParticipant{UserID: "alice", Username: "alice_w", JoinedAt: now})
	r.Join("room_1", domain.RoomParticipant{UserID: "bob", Username: "bob_k", IsVideoOn: true, JoinedAt: now.Add(time.Second)})

	members := r.Members("room_1")
	require.Len(t, members, 2)
	assert.Equal(t, "alice", members[0].UserID)
	assert.Equal(t, "bob", members[1].UserID)

	left, ok := r.Leave("room_1", "alice")
	require.True(t, ok)
	assert.Equal(t, "alice_w", left.Username)

	_, ok = r.Leave("room_1", "alice")
	assert.False(t, ok)

	r.Leave("room_1", "bob")
	assert.Nil(t, r.Members("room_1"), "empty room is removed")
}

func TestRoomsSetState(t *testing.T) {
	r := NewRooms()
	r.Join("room_1", domain.RoomParticipant{UserID: "alice", IsVideoOn: true})

	p, ok := r.SetState("room_1", "alice", true, false)
	require.True(t, ok)
	assert.True(t, p.IsMuted)
	assert.False(t, p.IsVideoOn)

	_, ok = r.SetState("room_1", "ghost", true, true)
	assert.False(t, ok)
	_, ok = r.SetState("no_room", "alice", true, true)
	assert.False(t, ok)
}
