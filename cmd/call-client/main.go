// Reference client: dials the signaling gateway and drives the call engine
// from stdin commands. Useful for exercising the protocol end to end against
// a running signaling-service.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"voxlink/internal/client"
	"voxlink/internal/client/call"
	"voxlink/internal/client/room"
	"voxlink/internal/domain"
	"voxlink/pkg/env"
	"voxlink/pkg/logger"
)

func main() {
	logger.InitDefault()
	defer logger.Sync()

	userID := env.GetString("USER_ID", "")
	username := env.GetString("USER_NAME", userID)
	token := env.GetString("TOKEN", "")
	gatewayURL := env.GetString("GATEWAY_URL", "ws://localhost:8084/ws")
	if userID == "" || token == "" {
		logger.Fatal("USER_ID and TOKEN environment variables are required")
	}

	log := logger.Named("client")

	sock, err := client.Dial(context.Background(), gatewayURL, token, log)
	if err != nil {
		logger.Fatal("gateway dial failed", zap.Error(err))
	}
	defer sock.Close()

	stack, err := call.NewDeviceStack(log)
	if err != nil {
		logger.Fatal("media stack init failed", zap.Error(err))
	}
	iceServers := []webrtc.ICEServer{
		{URLs: []string{env.GetString("STUN_URL", "stun:stun.l.google.com:19302")}},
	}
	factory := stack.PeerFactory(iceServers)

	engine := call.NewEngine(sock, stack, factory, userID, username, logger.Named("engine"))
	rooms := room.NewManager(sock, stack, factory, userID, username, logger.Named("room"))

	engine.OnStatus(func(s domain.CallStatus) {
		fmt.Printf("\n[call] %s\n> ", s)
	})

	bind(sock, engine, rooms)

	sock.Emit(domain.EventUserOnline, userID)

	fmt.Println("commands: call <user> [video] | accept | reject | end | mute | camera | join <room> | leave | quit")
	repl(sock, engine, rooms)
}

// bind routes server events into the engine and the room manager. Room
// negotiation envelopes share the room id as call id, so signal events are
// offered to both consumers; each ignores ids it does not own.
func bind(sock *client.Socket, engine *call.Engine, rooms *room.Manager) {
	sock.On(domain.EventUsersActive, func(data json.RawMessage) {
		var users []string
		if json.Unmarshal(data, &users) == nil {
			fmt.Printf("\n[online] %s\n> ", strings.Join(users, ", "))
		}
	})

	sock.On(domain.EventCallIncoming, func(data json.RawMessage) {
		var p domain.IncomingPayload
		if json.Unmarshal(data, &p) != nil {
			return
		}
		engine.HandleIncoming(p)
		fmt.Printf("\n[call] incoming %s call from %s (accept/reject)\n> ", p.Type, p.CallerName)
	})
	sock.On(domain.EventCallUserOffline, func(data json.RawMessage) {
		fmt.Printf("\n[call] user is offline\n> ")
	})
	sock.On(domain.EventCallAccepted, decodeInto(engine.HandleAccepted))
	sock.On(domain.EventCallRejected, decodeInto(engine.HandleRejected))
	sock.On(domain.EventCallEnded, decodeInto(engine.HandleEnded))

	sock.On(domain.EventCallOffer, func(data json.RawMessage) {
		var p domain.SignalForwardPayload
		if json.Unmarshal(data, &p) != nil {
			return
		}
		engine.HandleOffer(p)
		rooms.HandleOffer(p)
	})
	sock.On(domain.EventCallAnswer, func(data json.RawMessage) {
		var p domain.SignalForwardPayload
		if json.Unmarshal(data, &p) != nil {
			return
		}
		engine.HandleAnswer(p)
		rooms.HandleAnswer(p)
	})
	sock.On(domain.EventCallCandidate, func(data json.RawMessage) {
		var p domain.SignalForwardPayload
		if json.Unmarshal(data, &p) != nil {
			return
		}
		engine.HandleCandidate(p)
		rooms.HandleCandidate(p)
	})

	sock.On(domain.EventRoomRoster, func(data json.RawMessage) {
		var p domain.RoomRosterPayload
		if json.Unmarshal(data, &p) == nil {
			rooms.HandleRoster(p)
		}
	})
	sock.On(domain.EventRoomParticipantJoined, func(data json.RawMessage) {
		var p domain.RoomParticipantPayload
		if json.Unmarshal(data, &p) == nil {
			rooms.HandleParticipantJoined(p)
			fmt.Printf("\n[room] %s joined\n> ", p.Participant.Username)
		}
	})
	sock.On(domain.EventRoomParticipantLeft, func(data json.RawMessage) {
		var p domain.RoomParticipantPayload
		if json.Unmarshal(data, &p) == nil {
			rooms.HandleParticipantLeft(p)
			fmt.Printf("\n[room] %s left\n> ", p.Participant.Username)
		}
	})
	sock.On(domain.EventRoomParticipantState, func(data json.RawMessage) {
		var p domain.RoomParticipantPayload
		if json.Unmarshal(data, &p) == nil {
			rooms.HandleParticipantState(p)
		}
	})
}

func decodeInto(fn func(domain.CallIDPayload)) client.Handler {
	return func(data json.RawMessage) {
		var p domain.CallIDPayload
		if json.Unmarshal(data, &p) == nil {
			fn(p)
		}
	}
}

func repl(sock *client.Socket, engine *call.Engine, rooms *room.Manager) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			fmt.Print("> ")
			continue
		}

		switch fields[0] {
		case "call":
			if len(fields) < 2 {
				fmt.Println("usage: call <user> [video]")
				break
			}
			callType := domain.CallTypeAudio
			if len(fields) > 2 && fields[2] == "video" {
				callType = domain.CallTypeVideo
			}
			if _, err := engine.StartCall(context.Background(), fields[1], fields[1], callType); err != nil {
				fmt.Printf("call failed: %v\n", err)
			}

		case "accept":
			if err := engine.Accept(context.Background()); err != nil {
				fmt.Printf("accept failed: %v\n", err)
			}

		case "reject":
			if err := engine.Reject(); err != nil {
				fmt.Printf("reject failed: %v\n", err)
			}

		case "end":
			if err := engine.End(); err != nil {
				fmt.Printf("end failed: %v\n", err)
			}

		case "mute":
			fmt.Printf("muted: %v\n", engine.ToggleMute())

		case "camera":
			fmt.Printf("camera off: %v\n", engine.ToggleVideo())

		case "join":
			if len(fields) < 2 {
				fmt.Println("usage: join <room>")
				break
			}
			if err := rooms.Join(context.Background(), fields[1], true); err != nil {
				fmt.Printf("join failed: %v\n", err)
			}

		case "leave":
			if err := rooms.Leave(); err != nil {
				fmt.Printf("leave failed: %v\n", err)
			}

		case "quit", "exit":
			engine.End()
			rooms.Leave()
			return

		default:
			fmt.Println("unknown command")
		}
		fmt.Print("> ")
	}
}
