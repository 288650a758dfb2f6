// Package realtime pushes chat events to the users' WebSocket connections.
package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/chat"
	"github.com/trezcool/campus/core/user"
)

// Message types
const (
	TypePing    = "ping"
	TypePong    = "pong"
	TypeTyping  = chat.EventTyping
	TypeMessage = chat.EventMessage
	TypeRead    = chat.EventRead
	TypeError   = "error"
)

const presenceTimeout = 5 * time.Second

// Message is the envelope of every WebSocket frame, in both directions.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type (
	// ChatService is the part of chat.Service used by the connections.
	ChatService interface {
		Send(ctx context.Context, actor user.User, convID string, nm chat.NewMessage) (chat.Message, error)
		MarkRead(ctx context.Context, actor user.User, convID string) error
		Typing(ctx context.Context, actor user.User, convID string, isTyping bool) error
		SetOnline(ctx context.Context, userID string) error
		SetOffline(ctx context.Context, userID string) error
	}

	presenceChange struct {
		userID string
		online bool
	}

	// Hub keeps the live connections of this instance and delivers the chat events
	// received from the broker to the connections of their recipients.
	Hub struct {
		chat     ChatService
		broker   chat.Broker
		validate *validator.Validate
		logger   core.Logger
		upgrader websocket.Upgrader

		// every send to a client happens under mu, after checking it is still registered
		mu      sync.RWMutex
		clients map[string]map[*Client]struct{} // {userID: connections}

		events   chan chat.Event
		presence chan presenceChange
	}
)

func NewHub(chatSvc ChatService, broker chat.Broker, validate *validator.Validate, allowedOrigins []string, logger core.Logger) *Hub {
	return &Hub{
		chat:     chatSvc,
		broker:   broker,
		validate: validate,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		clients:  make(map[string]map[*Client]struct{}),
		events:   make(chan chat.Event, 256),
		presence: make(chan presenceChange, 256),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || core.StringInSlice("*", allowed) {
			return true
		}
		return core.StringInSlice(origin, allowed)
	}
}

// Serve subscribes to the broker and runs the hub until ctx is done. Meant to be supervised.
func (h *Hub) Serve(ctx context.Context) error {
	if err := h.broker.Subscribe(ctx, h.deliver); err != nil {
		return errors.Wrap(err, "subscribing to chat events")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.runPresence(ctx)
	}()
	defer wg.Wait()

	for {
		// shutdown first
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case evt := <-h.events:
			h.broadcast(evt)
		}
	}
}

func (h *Hub) String() string { return "chat-hub" }

// deliver is the broker handler.
func (h *Hub) deliver(evt chat.Event) {
	select {
	case h.events <- evt:
	default:
		eventsDropped.Inc()
		h.logError(fmt.Sprintf("chat hub queue full: dropping %s event", evt.Type))
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	conns, ok := h.clients[c.user.ID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.clients[c.user.ID] = conns
	}
	conns[c] = struct{}{}
	users := len(h.clients)
	h.mu.Unlock()

	connectionsGauge.Inc()
	onlineUsersGauge.Set(float64(users))
	if !ok {
		h.changePresence(presenceChange{userID: c.user.ID, online: true})
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	conns, ok := h.clients[c.user.ID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok = conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(conns, c)
	close(c.send)
	last := len(conns) == 0
	if last {
		delete(h.clients, c.user.ID)
	}
	users := len(h.clients)
	h.mu.Unlock()

	connectionsGauge.Dec()
	onlineUsersGauge.Set(float64(users))
	if last {
		h.changePresence(presenceChange{userID: c.user.ID, online: false})
	}
}

// send queues msg on the connection if it is still registered. It returns false when the connection is gone or full.
func (h *Hub) send(c *Client, msg Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.user.ID][c]; !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (h *Hub) broadcast(evt chat.Event) {
	msg := Message{Type: evt.Type, Data: evt.Data}

	var slow []*Client
	h.mu.RLock()
	for _, userID := range evt.Recipients {
		for c := range h.clients[userID] {
			select {
			case c.send <- msg:
				eventsDelivered.WithLabelValues(evt.Type).Inc()
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	// drop the connections which cannot keep up; their clients reconnect
	for _, c := range slow {
		eventsDropped.Inc()
		h.remove(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	var offline []string
	for userID, conns := range h.clients {
		for c := range conns {
			close(c.send)
			connectionsGauge.Dec()
		}
		offline = append(offline, userID)
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.mu.Unlock()
	onlineUsersGauge.Set(0)

	// pending changes are outdated
	for drained := false; !drained; {
		select {
		case <-h.presence:
		default:
			drained = true
		}
	}
	for _, userID := range offline {
		h.setPresence(presenceChange{userID: userID, online: false})
	}
}

func (h *Hub) changePresence(pc presenceChange) {
	select {
	case h.presence <- pc:
	default:
		h.logError(fmt.Sprintf("chat presence queue full: dropping change of %s", pc.userID))
	}
}

// runPresence records presence changes in order, outside of the hub loop.
func (h *Hub) runPresence(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pc := <-h.presence:
			h.setPresence(pc)
		}
	}
}

func (h *Hub) setPresence(pc presenceChange) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	var err error
	if pc.online {
		err = h.chat.SetOnline(ctx, pc.userID)
	} else {
		err = h.chat.SetOffline(ctx, pc.userID)
	}
	if err != nil {
		h.logError(fmt.Sprintf("setting presence of %s: %v", pc.userID, err), err)
	}
}

// Online reports whether userID has a live connection on this instance.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// ServeWS upgrades the request to a WebSocket connection of usr and serves it until it is closed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, usr user.User) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		return nil
	}
	c := newClient(h, conn, usr)
	h.add(c)
	go c.writePump()
	c.readPump()
	return nil
}

func (h *Hub) logError(msg string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Error(msg, args...)
	}
}
