package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/chat"
	"github.com/trezcool/campus/core/user"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	handleTimeout  = 10 * time.Second
)

type (
	// incoming is a frame sent by the client; its data is decoded according to its type.
	incoming struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	typingData struct {
		ConversationID string `json:"conversation_id"`
		IsTyping       bool   `json:"is_typing"`
	}

	messageData struct {
		ConversationID string `json:"conversation_id"`
		Body           string `json:"body"`
	}

	readData struct {
		ConversationID string `json:"conversation_id"`
	}

	errorData struct {
		Message string      `json:"message"`
		Fields  interface{} `json:"fields,omitempty"`
	}
)

// Client is a WebSocket connection of a user.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	user user.User
	send chan Message
}

func newClient(hub *Hub, conn *websocket.Conn, usr user.User) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		user: usr,
		send: make(chan Message, 64),
	}
}

// readPump handles the client frames until the connection fails or is closed.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in incoming
		if err := c.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logError(fmt.Sprintf("chat connection of %s: %v", c.user.ID, err), err, c.user)
			}
			return
		}
		c.handle(in)
	}
}

func (c *Client) handle(in incoming) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	var err error
	switch in.Type {
	case TypePing:
		c.hub.send(c, Message{Type: TypePong})
	case TypeTyping:
		var data typingData
		if err = decodeData(in.Data, &data); err == nil {
			err = c.hub.chat.Typing(ctx, c.user, data.ConversationID, data.IsTyping)
		}
	case TypeMessage:
		var data messageData
		if err = decodeData(in.Data, &data); err == nil {
			nm := chat.NewMessage{Body: data.Body}
			if err = nm.Validate(c.hub.validate); err == nil {
				_, err = c.hub.chat.Send(ctx, c.user, data.ConversationID, nm)
			}
		}
	case TypeRead:
		var data readData
		if err = decodeData(in.Data, &data); err == nil {
			err = c.hub.chat.MarkRead(ctx, c.user, data.ConversationID)
		}
	default:
		err = core.NewValidationError(errors.Errorf("unknown message type %q", in.Type))
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		c.replyError(in.Type, err)
	}
	clientMessages.WithLabelValues(in.Type, outcome).Inc()
}

// replyError tells the client why its frame was refused. Unexpected errors are reported, not detailed.
func (c *Client) replyError(typ string, err error) {
	data := errorData{Message: "internal error"}
	switch cause := errors.Cause(err).(type) {
	case *core.ValidationError:
		data.Message = cause.Error()
		if len(cause.Fields) > 0 {
			fields := make(map[string]string, len(cause.Fields))
			for _, f := range cause.Fields {
				fields[f.Field] = f.Error
			}
			data.Fields = fields
		}
	case *core.PermissionError:
		data.Message = cause.Error()
	case validator.ValidationErrors:
		data.Message = "invalid data"
		fields := make(map[string]string, len(cause))
		for _, fe := range cause {
			fields[fe.Field()] = fe.Tag()
		}
		data.Fields = fields
	default:
		if cause == chat.ErrNotFound {
			data.Message = cause.Error()
		} else {
			c.hub.logError(fmt.Sprintf("handling chat %s message: %v", typ, err), err, c.user)
		}
	}
	c.hub.send(c, Message{Type: TypeError, Data: data})
}

// writePump writes the queued messages and pings the client until the hub closes the send channel.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var errMalformedData = errors.New("malformed data")

func decodeData(raw json.RawMessage, dst interface{}) error {
	if raw = bytes.TrimSpace(raw); len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return core.NewValidationError(errors.New("missing data"))
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return core.NewValidationError(errMalformedData)
	}
	return nil
}
