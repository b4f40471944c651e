package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	sendBuffer   = 256
)

// Client is one websocket connection.
type Client struct {
	id       uuid.UUID
	conn     *websocket.Conn
	cs       *ChatServer
	log      *log.Logger
	send     chan *ServerMessage
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		id:   uuid.New(),
		conn: conn,
		cs:   cs,
		log:  l,
		send: make(chan *ServerMessage, sendBuffer),
		stop: make(chan struct{}),
	}
}

func (c *Client) Id() uuid.UUID {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("connection %s: write exiting", c.id)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cs.deregisterClient(c)
		c.log.Printf("connection %s: read exiting", c.id)
	}()

	c.conn.SetReadLimit(c.cs.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.Timestamp = Now()
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	switch msg.Kind() {
	case KindAnnounce:
		c.handleAnnounce(msg)
	case KindVerify:
		c.handleVerify(msg)
	case KindDisconnect:
		c.handleDisconnect(msg)
	case KindJoin:
		c.handleJoin(msg)
	case KindLeave:
		c.handleLeave(msg)
	case KindPublish:
		c.handlePublish(msg)
	case KindTransferComplete:
		c.handleTransferComplete(msg)
	case KindInvalid:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) handleAnnounce(msg *ClientMessage) {
	if msg.Announce.UserId <= 0 {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	count := c.cs.announce(c, msg.Announce.UserId)
	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"user_id":     msg.Announce.UserId,
		"connections": count,
	}))
}

func (c *Client) handleVerify(msg *ClientMessage) {
	ctx, cancel := c.cs.opContext()
	defer cancel()

	convId := msg.Verify.ConversationId
	online, err := VerifyPresence(ctx, c.cs.dir, c.cs.registry, convId)
	if err != nil {
		c.log.Printf("verify conversation %d: %v", convId, err)
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}

	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id, Timestamp: Now()},
		ConnectedParticipants: &ConnectedParticipants{
			ConversationId: convId,
			Participants:   online,
		},
	})
}

func (c *Client) handleDisconnect(msg *ClientMessage) {
	bound, ok := c.cs.registry.UserOf(c)
	if !ok {
		// nothing to withdraw
		c.queueMessage(NoErrOK(msg.Id, nil))
		return
	}

	if msg.Disconnect.UserId != 0 && msg.Disconnect.UserId != bound {
		c.queueMessage(ErrResponse(msg.Id, ErrUserMismatch))
		return
	}

	c.cs.rooms.Leave(c)
	c.cs.withdraw(c)
	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (c *Client) handleJoin(msg *ClientMessage) {
	if msg.Join.ConversationId <= 0 {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	c.cs.rooms.Join(c, msg.Join.ConversationId)
	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (c *Client) handleLeave(msg *ClientMessage) {
	if cur, ok := c.cs.registry.RoomOf(c); ok && cur == msg.Leave.ConversationId {
		c.cs.rooms.Leave(c)
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (c *Client) handlePublish(msg *ClientMessage) {
	p := msg.Publish
	if p.ConversationId <= 0 {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	if bound, ok := c.cs.registry.UserOf(c); ok {
		if p.UserId != 0 && p.UserId != bound {
			c.queueMessage(NewSendFailed(msg.Id, p.ConversationId, "", ErrUserMismatch))
			return
		}
		p.UserId = bound
	} else if p.UserId <= 0 {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	ctx, cancel := c.cs.opContext()
	defer cancel()

	c.cs.ingest.Send(ctx, c, msg.Id, p)
}

func (c *Client) handleTransferComplete(msg *ClientMessage) {
	ctx, cancel := c.cs.opContext()
	defer cancel()

	if err := c.cs.ingest.TransferComplete(ctx, msg.TransferComplete); err != nil {
		c.log.Printf("transfer complete for message %d: %v", msg.TransferComplete.MessageId, err)
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("connection %s: send buffer full, dropping message", c.id)
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}
