package ws

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxlink/internal/domain"
	"voxlink/internal/relay"
	"voxlink/pkg/constants"
	"voxlink/pkg/jwt"
	"voxlink/pkg/logger"
	"voxlink/pkg/metrics"
)

// Gateway owns every live connection and the single dispatch goroutine that
// drives the relay. All registry and relay access funnels through run(), so
// no locking is needed past the channel boundary.
type Gateway struct {
	relay   *relay.Relay
	jwtMgr  *jwt.Manager
	metrics *metrics.Metrics
	log     *zap.Logger

	// live connections and chat membership, owned by run()
	clients map[*Client]bool
	chats   map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame

	// Concurrency limit: maxConnections is the maximum number of concurrent
	// WebSocket connections
	maxConnections int
	semaphore      chan struct{}
}

type inboundFrame struct {
	client *Client
	frame  domain.Frame
}

// Client is one live socket. It satisfies the relay's Conn contract: Send
// queues a frame for the write pump and never blocks the dispatch goroutine.
type Client struct {
	gateway  *Gateway
	conn     *websocket.Conn
	send     chan []byte
	userID   string
	username string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin header
			return true
		}
		for _, allowed := range allowedOrigins() {
			if origin == allowed || allowed == "*" {
				return true
			}
		}
		return false
	},
}

func allowedOrigins() []string {
	raw := os.Getenv("ALLOWED_ORIGINS")
	if raw == "" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NewGateway creates a gateway over the relay and starts its dispatch loop
func NewGateway(r *relay.Relay, jwtMgr *jwt.Manager, m *metrics.Metrics) *Gateway {
	maxConns := 1000
	if val := os.Getenv("WS_MAX_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	g := &Gateway{
		relay:          r,
		jwtMgr:         jwtMgr,
		metrics:        m,
		log:            logger.Named("gateway"),
		clients:        make(map[*Client]bool),
		chats:          make(map[string]map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		inbound:        make(chan inboundFrame, 256),
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
	}

	go g.run()

	return g
}

// run is the single dispatch goroutine. Everything the relay and the chat
// membership map see happens here, in arrival order.
func (g *Gateway) run() {
	for {
		select {
		case client := <-g.register:
			g.clients[client] = true
			g.metrics.ClientConnected()
			g.log.Debug("client connected", zap.String("user_id", client.userID))

		case client := <-g.unregister:
			if !g.clients[client] {
				continue
			}
			delete(g.clients, client)
			g.leaveAllChats(client)
			g.relay.Disconnect(client)
			close(client.send)
			g.metrics.ClientDisconnected()

		case in := <-g.inbound:
			// The read pump may have queued frames ahead of its unregister;
			// dispatching them would hand the relay a closed connection.
			if !g.clients[in.client] {
				g.metrics.RecordEnvelopeDropped("stale_client")
				continue
			}
			g.metrics.RecordEvent(in.frame.Event)
			g.dispatch(in.client, in.frame)
		}
	}
}

// dispatch decodes the payload selected by the event name and invokes the
// relay. Malformed payloads are dropped without a reply; the wire contract
// has no error channel.
func (g *Gateway) dispatch(c *Client, f domain.Frame) {
	switch f.Event {
	case domain.EventUserOnline:
		// Identity comes from the validated token, never the payload
		g.relay.Online(c.userID, c)

	case domain.EventCallInitiate:
		var p domain.InitiatePayload
		if !g.decode(c, f, &p) {
			return
		}
		p.CallerID = c.userID
		g.relay.Initiate(c, p)

	case domain.EventCallAccept:
		var p domain.ControlPayload
		if !g.decode(c, f, &p) {
			return
		}
		g.relay.Accept(c, p)

	case domain.EventCallReject:
		var p domain.ControlPayload
		if !g.decode(c, f, &p) {
			return
		}
		g.relay.Reject(c.userID, p)

	case domain.EventCallEnd:
		var p domain.ControlPayload
		if !g.decode(c, f, &p) {
			return
		}
		g.relay.End(c.userID, p)

	case domain.EventCallSignal:
		var env domain.SignalEnvelope
		if !g.decode(c, f, &env) {
			return
		}
		g.relay.Signal(c.userID, env)

	case domain.EventChatJoin:
		var p domain.ChatPayload
		if !g.decode(c, f, &p) {
			return
		}
		g.joinChat(c, p.ChatID)

	case domain.EventChatLeave:
		var p domain.ChatPayload
		if !g.decode(c, f, &p) {
			return
		}
		g.leaveChat(c, p.ChatID)

	case domain.EventMessageSend:
		var p domain.ChatPayload
		if !g.decode(c, f, &p) {
			return
		}
		g.fanOutMessage(c, p)

	case domain.EventRoomJoin:
		var p domain.RoomJoinPayload
		if !g.decode(c, f, &p) {
			return
		}
		if p.Username == "" {
			p.Username = c.username
		}
		g.relay.RoomJoin(c, c.userID, p)

	case domain.EventRoomLeave:
		var p domain.RoomLeavePayload
		if !g.decode(c, f, &p) {
			return
		}
		g.relay.RoomLeave(c.userID, p)

	case domain.EventRoomState:
		var p domain.RoomStatePayload
		if !g.decode(c, f, &p) {
			return
		}
		g.relay.RoomState(c.userID, p)

	default:
		g.metrics.RecordEnvelopeDropped("unknown_type")
		g.log.Debug("unrecognized event",
			zap.String("event", f.Event),
			zap.String("user_id", c.userID))
	}
}

func (g *Gateway) decode(c *Client, f domain.Frame, out any) bool {
	if err := json.Unmarshal(f.Data, out); err != nil {
		g.metrics.RecordEnvelopeDropped("malformed")
		g.log.Debug("malformed payload",
			zap.String("event", f.Event),
			zap.String("user_id", c.userID),
			zap.Error(err))
		return false
	}
	return true
}

func (g *Gateway) joinChat(c *Client, chatID string) {
	if chatID == "" {
		return
	}
	if g.chats[chatID] == nil {
		g.chats[chatID] = make(map[*Client]bool)
	}
	g.chats[chatID][c] = true
}

func (g *Gateway) leaveChat(c *Client, chatID string) {
	if members, ok := g.chats[chatID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(g.chats, chatID)
		}
	}
}

func (g *Gateway) leaveAllChats(c *Client) {
	for chatID, members := range g.chats {
		delete(members, c)
		if len(members) == 0 {
			delete(g.chats, chatID)
		}
	}
}

// fanOutMessage delivers a chat message to every other member of the chat.
// The body is opaque; the gateway adds only the sender identity.
func (g *Gateway) fanOutMessage(sender *Client, p domain.ChatPayload) {
	members, ok := g.chats[p.ChatID]
	if !ok {
		return
	}
	out := struct {
		ChatID string          `json:"chatId"`
		From   string          `json:"from"`
		Body   json.RawMessage `json:"body,omitempty"`
	}{ChatID: p.ChatID, From: sender.userID, Body: p.Body}

	for member := range members {
		if member == sender {
			continue
		}
		member.Send(domain.EventMessageReceived, out)
	}
}

// ServeWS authenticates and upgrades an HTTP request into a live socket
func (g *Gateway) ServeWS(c *gin.Context) {
	select {
	case g.semaphore <- struct{}{}:
	default:
		g.log.Warn("connection rejected: max connections reached",
			zap.Int("max_connections", g.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server at capacity, please try again later"})
		return
	}

	claims, err := g.authenticate(c)
	if err != nil {
		<-g.semaphore
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-g.semaphore
		g.log.Warn("upgrade failed",
			zap.String("user_id", claims.UserID),
			zap.Error(err))
		return
	}

	client := &Client{
		gateway:  g,
		conn:     conn,
		send:     make(chan []byte, constants.WebSocketSendBuffer),
		userID:   claims.UserID,
		username: claims.Username,
	}

	g.register <- client

	go client.writePump()
	go func() {
		client.readPump()
		<-g.semaphore
	}()
}

// authenticate accepts the token from the Authorization header or, for
// browser WebSocket clients that cannot set headers, the token query param.
func (g *Gateway) authenticate(c *gin.Context) (*jwt.Claims, error) {
	token := c.Query("token")
	if header := c.GetHeader("Authorization"); header != "" {
		if after, ok := strings.CutPrefix(header, "Bearer "); ok {
			token = after
		}
	}
	return g.jwtMgr.ValidateToken(token)
}

// Send queues a server→client frame. Called only from the dispatch
// goroutine. A client that cannot drain its buffer is cut off; the read
// pump's exit then drives the normal unregister path.
func (c *Client) Send(event string, payload any) {
	b, err := domain.EncodeFrame(event, payload)
	if err != nil {
		c.gateway.log.Error("frame encode failed",
			zap.String("event", event),
			zap.Error(err))
		return
	}
	select {
	case c.send <- b:
	default:
		c.gateway.log.Warn("send buffer full, dropping connection",
			zap.String("user_id", c.userID))
		c.conn.Close()
	}
}

// readPump reads frames from the socket into the dispatch channel
func (c *Client) readPump() {
	defer func() {
		c.gateway.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(constants.WebSocketMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + constants.WebSocketWriteTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + constants.WebSocketWriteTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.gateway.log.Debug("connection closed",
					zap.String("user_id", c.userID),
					zap.Error(err))
			}
			break
		}

		var f domain.Frame
		if err := json.Unmarshal(message, &f); err != nil {
			c.gateway.metrics.RecordEnvelopeDropped("malformed")
			c.gateway.log.Debug("invalid frame",
				zap.String("user_id", c.userID),
				zap.Error(err))
			continue
		}

		c.gateway.inbound <- inboundFrame{client: c, frame: f}
	}
}

// writePump drains the send buffer and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
