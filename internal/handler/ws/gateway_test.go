package ws

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voxlink/internal/domain"
	"voxlink/internal/registry"
	"voxlink/internal/relay"
	"voxlink/pkg/jwt"
	"voxlink/pkg/logger"
	"voxlink/pkg/metrics"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	logger.Sugar = logger.Log.Sugar()
	os.Exit(m.Run())
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	m := metrics.New("gateway-test")
	r := relay.New(zap.NewNop(), registry.NewPresence(), registry.NewSessions(), registry.NewRooms(), m)
	return NewGateway(r, jwt.NewManager("0123456789abcdef0123456789abcdef", time.Minute), m)
}

func testFrame(event string, payload any) domain.Frame {
	b, _ := json.Marshal(payload)
	return domain.Frame{Event: event, Data: b}
}

func recvFrame(t *testing.T, ch chan []byte) domain.Frame {
	t.Helper()
	select {
	case b, ok := <-ch:
		require.True(t, ok, "send channel closed early")
		var f domain.Frame
		require.NoError(t, json.Unmarshal(b, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return domain.Frame{}
	}
}

func TestFrameQueuedBeforeUnregisterIsDropped(t *testing.T) {
	g := newTestGateway(t)

	dead := &Client{gateway: g, send: make(chan []byte, 8), userID: "bob", username: "Bob"}
	g.register <- dead
	g.inbound <- inboundFrame{client: dead, frame: testFrame(domain.EventUserOnline, nil)}
	g.unregister <- dead

	// The dispatch loop closes the send channel on unregister; draining it
	// is the synchronization point.
	for range dead.send {
	}

	// The read pump can queue frames ahead of its own unregister. Handing
	// one to the relay would resurrect the dead connection.
	g.inbound <- inboundFrame{client: dead, frame: testFrame(domain.EventUserOnline, nil)}

	live := &Client{gateway: g, send: make(chan []byte, 8), userID: "alice", username: "Alice"}
	g.register <- live
	g.inbound <- inboundFrame{client: live, frame: testFrame(domain.EventUserOnline, nil)}

	f := recvFrame(t, live.send)
	require.Equal(t, domain.EventUsersActive, f.Event)

	var online []string
	require.NoError(t, json.Unmarshal(f.Data, &online))
	require.Equal(t, []string{"alice"}, online)
}

func TestDuplicateUnregisterIsNoop(t *testing.T) {
	g := newTestGateway(t)

	c := &Client{gateway: g, send: make(chan []byte, 8), userID: "bob", username: "Bob"}
	g.register <- c
	g.unregister <- c
	for range c.send {
	}

	// A second unregister for the same client must not close the channel
	// again.
	g.unregister <- c

	live := &Client{gateway: g, send: make(chan []byte, 8), userID: "alice", username: "Alice"}
	g.register <- live
	g.inbound <- inboundFrame{client: live, frame: testFrame(domain.EventUserOnline, nil)}

	f := recvFrame(t, live.send)
	require.Equal(t, domain.EventUsersActive, f.Event)
}
