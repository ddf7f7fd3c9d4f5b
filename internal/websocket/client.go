package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection tuning. Pings keep idle spectators alive through proxies;
// a peer that misses the pong window is dropped.
const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxCommandBytes = 512
	sendBufferSize  = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from arbitrary origins in development
		return true
	},
}

// command is the inbound spectator protocol: subscribe to or unsubscribe
// from a match's event stream, or ping.
type command struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id,omitempty"`
}

// Client is one spectator connection. All outbound traffic funnels
// through the send channel so neither the hub nor a match goroutine ever
// waits on a slow peer.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:   id,
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		log:  logger.With("client_id", id),
	}
}

// readLoop parses spectator commands until the connection drops, then
// detaches the client from the hub.
func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxCommandBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("connection dropped", "error", err)
			}
			return
		}
		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.reject("malformed command")
			continue
		}
		c.dispatch(cmd)
	}
}

// dispatch applies one spectator command.
func (c *Client) dispatch(cmd command) {
	switch cmd.Type {
	case MessageTypeSubscribe:
		if cmd.MatchID == "" {
			c.reject("subscribe requires match_id")
			return
		}
		c.hub.Subscribe(c, cmd.MatchID)
		// New subscribers get the current state of the match up front so
		// they need not reconstruct it from the event stream.
		if view, ok := c.hub.MatchSnapshot(cmd.MatchID); ok {
			c.deliver(Message{
				Type:      MessageTypeSnapshot,
				MatchID:   cmd.MatchID,
				Data:      view,
				Timestamp: time.Now(),
			})
			return
		}
		c.deliver(Message{Type: MessageTypeSubscribed, MatchID: cmd.MatchID, Timestamp: time.Now()})

	case MessageTypeUnsubscribe:
		if cmd.MatchID == "" {
			c.reject("unsubscribe requires match_id")
			return
		}
		c.hub.Unsubscribe(c, cmd.MatchID)
		c.deliver(Message{Type: MessageTypeUnsubscribed, MatchID: cmd.MatchID, Timestamp: time.Now()})

	case MessageTypePing:
		c.deliver(Message{Type: MessageTypePong, Timestamp: time.Now()})

	default:
		c.reject("unknown command type")
	}
}

// writeLoop owns the connection's write side: it serializes frames from
// the send channel and keeps the peer alive with periodic pings.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel on unregister
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver queues one outbound message, dropping it if the peer is slow.
func (c *Client) deliver(msg Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshaling outbound message", "type", msg.Type, "error", err)
		return
	}
	select {
	case c.send <- frame:
	default:
		c.log.Warn("send buffer full, dropping message", "type", msg.Type)
	}
}

func (c *Client) reject(reason string) {
	c.deliver(Message{
		Type:      MessageTypeError,
		Data:      map[string]string{"error": reason},
		Timestamp: time.Now(),
	})
}

// ServeWs upgrades an HTTP request to a spectator connection.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(hub, conn, logger)
	hub.Register(client)
	go client.writeLoop()
	go client.readLoop()

	logger.Debug("spectator connected", "client_id", client.id)
}
