package chat

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campus/core"
)

// Conversation kinds
const (
	KindDirect = "direct"
	KindGroup  = "group"
)

// Event types
const (
	EventMessage  = "message"
	EventTyping   = "typing"
	EventPresence = "presence"
	EventRead     = "read"
)

const (
	MaxBodyLength      = 4000
	DefaultMessagePage = 50
	MaxMessagePage     = 200
)

type Conversation struct {
	ID             string     `json:"id"`
	Kind           string     `json:"kind"`
	Title          string     `json:"title"`
	CreatedBy      string     `json:"created_by"`
	DirectKey      string     `json:"-"`
	ParticipantIDs []string   `json:"participant_ids"`
	LastMessageAt  *time.Time `json:"last_message_at"` // UTC
	CreatedAt      time.Time  `json:"created_at"`      // UTC
	// Unread is the number of messages the requesting user has not read.
	Unread int `json:"unread"`
}

func (c Conversation) HasParticipant(userID string) bool {
	return core.StringInSlice(userID, c.ParticipantIDs)
}

// Others returns the participants other than userID.
func (c Conversation) Others(userID string) []string {
	res := make([]string, 0, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if id != userID {
			res = append(res, id)
		}
	}
	return res
}

// DirectKey identifies the direct conversation between two users, whatever their order.
func DirectKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"` // UTC
}

type Presence struct {
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"` // UTC
}

type (
	TypingData struct {
		ConversationID string `json:"conversation_id"`
		UserID         string `json:"user_id"`
		IsTyping       bool   `json:"is_typing"`
	}

	ReadData struct {
		ConversationID string    `json:"conversation_id"`
		UserID         string    `json:"user_id"`
		At             time.Time `json:"at"`
	}
)

// Event is a chat event delivered to the live connections of its recipients.
type Event struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	UserID         string          `json:"user_id"`
	Recipients     []string        `json:"recipients"`
	Data           json.RawMessage `json:"data"`
	At             time.Time       `json:"at"`
}

func newEvent(typ, convID, userID string, recipients []string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:           typ,
		ConversationID: convID,
		UserID:         userID,
		Recipients:     recipients,
		Data:           raw,
		At:             time.Now().UTC(),
	}, nil
}

// Broker fans chat events out to every API instance.
type Broker interface {
	Publish(ctx context.Context, evt Event) error
	// Subscribe registers handler for every published event until ctx is done. It does not block.
	Subscribe(ctx context.Context, handler func(Event)) error
}

type NewGroup struct {
	Title          string   `json:"title" validate:"required,max=100"`
	ParticipantIDs []string `json:"participant_ids" validate:"required,min=1,dive,uuid"`
}

func (ng *NewGroup) Validate(validate *validator.Validate) error {
	ng.Title = core.CleanString(ng.Title)
	return validate.Struct(ng)
}

type DirectRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

func (dr *DirectRequest) Validate(validate *validator.Validate) error {
	dr.UserID = core.CleanString(dr.UserID)
	return validate.Struct(dr)
}

type NewMessage struct {
	Body string `json:"body" validate:"required,max=4000"`
}

func (nm *NewMessage) Validate(validate *validator.Validate) error {
	nm.Body = core.CleanString(nm.Body)
	return validate.Struct(nm)
}

// MessagePage selects the messages sent before a time, newest first.
type MessagePage struct {
	Before time.Time `query:"-"` // parsed by the API from RFC 3339
	Limit  int       `query:"limit"`
}

func (mp *MessagePage) Clean() {
	if mp.Limit <= 0 {
		mp.Limit = DefaultMessagePage
	} else if mp.Limit > MaxMessagePage {
		mp.Limit = MaxMessagePage
	}
}
