package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

var (
	// errors
	ErrNotFound       = errors.New("conversation not found")
	ErrNotParticipant = errors.New("you are not a participant of this conversation")
	ErrSelfDirect     = errors.New("cannot start a conversation with yourself")

	errNoContact    = "students and parents may only message school staff"
	errGroupCreator = "only school staff may create group conversations"
	errUnknownUsers = "some users do not exist or are inactive"
)

type (
	Repository interface {
		// GetDirect returns ErrNotFound when no direct conversation has the key.
		GetDirect(ctx context.Context, key string, exec ...core.DBExecutor) (Conversation, error)
		// CreateConversation creates the conversation with its participants.
		CreateConversation(ctx context.Context, conv Conversation, exec ...core.DBExecutor) (Conversation, error)
		GetConversation(ctx context.Context, id string, exec ...core.DBExecutor) (Conversation, error)
		// UserConversations returns the conversations of userID with their unread counts, most recent first.
		UserConversations(ctx context.Context, userID string, exec ...core.DBExecutor) ([]Conversation, error)
		// CreateMessage saves the message and bumps the conversation's last message time.
		CreateMessage(ctx context.Context, msg Message, exec ...core.DBExecutor) (Message, error)
		// Messages returns the messages sent before page.Before (any time when zero), newest first.
		Messages(ctx context.Context, convID string, page MessagePage, exec ...core.DBExecutor) ([]Message, error)
		MarkRead(ctx context.Context, convID, userID string, at time.Time, exec ...core.DBExecutor) error
		SetPresence(ctx context.Context, p Presence, exec ...core.DBExecutor) error
		GetPresence(ctx context.Context, userIDs []string, exec ...core.DBExecutor) ([]Presence, error)
		// Contacts returns the users sharing a conversation with userID.
		Contacts(ctx context.Context, userID string, exec ...core.DBExecutor) ([]string, error)
	}

	UserGetter interface {
		GetByIDs(ctx context.Context, ids ...string) ([]user.User, error)
	}

	Service struct {
		repo   Repository
		users  UserGetter
		broker Broker
		logger core.Logger
	}
)

func NewService(repo Repository, users UserGetter, broker Broker, logger core.Logger) *Service {
	return &Service{repo: repo, users: users, broker: broker, logger: logger}
}

// CanMessage reports whether from may start a direct conversation with to.
func CanMessage(from, to user.User) bool {
	if !to.IsActive || from.ID == to.ID {
		return false
	}
	if from.IsEmployee() {
		return true
	}
	return to.IsEmployee()
}

func (svc *Service) publish(ctx context.Context, typ, convID, userID string, recipients []string, data interface{}) {
	if svc.broker == nil || len(recipients) == 0 {
		return
	}
	evt, err := newEvent(typ, convID, userID, recipients, data)
	if err == nil {
		err = svc.broker.Publish(ctx, evt)
	}
	if err != nil && svc.logger != nil {
		svc.logger.Error(fmt.Sprintf("publishing %s event: %v", typ, err), err)
	}
}

// StartDirect returns the direct conversation between actor and otherID, creating it if needed.
func (svc *Service) StartDirect(ctx context.Context, actor user.User, otherID string) (Conversation, error) {
	if otherID == actor.ID {
		return Conversation{}, core.NewValidationError(ErrSelfDirect, core.FieldError{Field: "user_id", Error: ErrSelfDirect.Error()})
	}
	users, err := svc.users.GetByIDs(ctx, otherID)
	if err != nil {
		return Conversation{}, errors.Wrap(err, "finding user")
	}
	if len(users) != 1 || !users[0].IsActive {
		return Conversation{}, core.NewValidationError(nil, core.FieldError{Field: "user_id", Error: errUnknownUsers})
	}
	if !CanMessage(actor, users[0]) {
		return Conversation{}, core.NewPermissionError(errNoContact)
	}

	key := DirectKey(actor.ID, otherID)
	conv, err := svc.repo.GetDirect(ctx, key)
	if err == nil {
		return conv, nil
	}
	if errors.Cause(err) != ErrNotFound {
		return Conversation{}, errors.Wrap(err, "finding direct conversation")
	}

	conv, err = svc.repo.CreateConversation(ctx, Conversation{
		Kind:           KindDirect,
		CreatedBy:      actor.ID,
		DirectKey:      key,
		ParticipantIDs: []string{actor.ID, otherID},
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		// lost a race against the other participant
		if existing, getErr := svc.repo.GetDirect(ctx, key); getErr == nil {
			return existing, nil
		}
		return Conversation{}, errors.Wrap(err, "creating direct conversation")
	}
	return conv, nil
}

func (svc *Service) CreateGroup(ctx context.Context, actor user.User, ng NewGroup) (Conversation, error) {
	if !actor.IsEmployee() {
		return Conversation{}, core.NewPermissionError(errGroupCreator)
	}

	ids := []string{actor.ID}
	for _, id := range ng.ParticipantIDs {
		if !core.StringInSlice(id, ids) {
			ids = append(ids, id)
		}
	}
	users, err := svc.users.GetByIDs(ctx, ids[1:]...)
	if err != nil {
		return Conversation{}, errors.Wrap(err, "finding participants")
	}
	active := 0
	for _, usr := range users {
		if usr.IsActive {
			active++
		}
	}
	if active != len(ids)-1 {
		return Conversation{}, core.NewValidationError(nil, core.FieldError{Field: "participant_ids", Error: errUnknownUsers})
	}

	return svc.repo.CreateConversation(ctx, Conversation{
		Kind:           KindGroup,
		Title:          ng.Title,
		CreatedBy:      actor.ID,
		ParticipantIDs: ids,
		CreatedAt:      time.Now().UTC(),
	})
}

func (svc *Service) Conversations(ctx context.Context, actor user.User) ([]Conversation, error) {
	return svc.repo.UserConversations(ctx, actor.ID)
}

// Conversation returns the conversation id when actor participates in it.
func (svc *Service) Conversation(ctx context.Context, actor user.User, id string) (Conversation, error) {
	conv, err := svc.repo.GetConversation(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	if !conv.HasParticipant(actor.ID) {
		return Conversation{}, core.NewPermissionError(ErrNotParticipant.Error())
	}
	return conv, nil
}

func (svc *Service) Messages(ctx context.Context, actor user.User, convID string, page MessagePage) ([]Message, error) {
	if _, err := svc.Conversation(ctx, actor, convID); err != nil {
		return nil, err
	}
	page.Clean()
	return svc.repo.Messages(ctx, convID, page)
}

// Send saves a message and delivers it to every participant.
func (svc *Service) Send(ctx context.Context, actor user.User, convID string, nm NewMessage) (Message, error) {
	conv, err := svc.Conversation(ctx, actor, convID)
	if err != nil {
		return Message{}, err
	}

	msg, err := svc.repo.CreateMessage(ctx, Message{
		ConversationID: conv.ID,
		SenderID:       actor.ID,
		Body:           nm.Body,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return Message{}, errors.Wrap(err, "creating message")
	}
	if err := svc.repo.MarkRead(ctx, conv.ID, actor.ID, msg.CreatedAt); err != nil {
		return Message{}, errors.Wrap(err, "marking conversation read")
	}

	svc.publish(ctx, EventMessage, conv.ID, actor.ID, conv.ParticipantIDs, msg)
	return msg, nil
}

func (svc *Service) MarkRead(ctx context.Context, actor user.User, convID string) error {
	conv, err := svc.Conversation(ctx, actor, convID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := svc.repo.MarkRead(ctx, conv.ID, actor.ID, now); err != nil {
		return errors.Wrap(err, "marking conversation read")
	}
	svc.publish(ctx, EventRead, conv.ID, actor.ID, conv.ParticipantIDs, ReadData{ConversationID: conv.ID, UserID: actor.ID, At: now})
	return nil
}

// Typing tells the other participants that actor started or stopped typing. Nothing is stored.
func (svc *Service) Typing(ctx context.Context, actor user.User, convID string, isTyping bool) error {
	conv, err := svc.Conversation(ctx, actor, convID)
	if err != nil {
		return err
	}
	svc.publish(ctx, EventTyping, conv.ID, actor.ID, conv.Others(actor.ID), TypingData{
		ConversationID: conv.ID,
		UserID:         actor.ID,
		IsTyping:       isTyping,
	})
	return nil
}

func (svc *Service) setPresence(ctx context.Context, userID string, online bool) error {
	p := Presence{UserID: userID, Online: online, LastSeen: time.Now().UTC()}
	if err := svc.repo.SetPresence(ctx, p); err != nil {
		return errors.Wrap(err, "setting presence")
	}
	contacts, err := svc.repo.Contacts(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "finding contacts")
	}
	svc.publish(ctx, EventPresence, "", userID, contacts, p)
	return nil
}

func (svc *Service) SetOnline(ctx context.Context, userID string) error {
	return svc.setPresence(ctx, userID, true)
}

func (svc *Service) SetOffline(ctx context.Context, userID string) error {
	return svc.setPresence(ctx, userID, false)
}

// OnlineUsers returns the IDs of actor's contacts who are online.
func (svc *Service) OnlineUsers(ctx context.Context, actor user.User) ([]string, error) {
	contacts, err := svc.repo.Contacts(ctx, actor.ID)
	if err != nil {
		return nil, errors.Wrap(err, "finding contacts")
	}
	if len(contacts) == 0 {
		return []string{}, nil
	}
	presences, err := svc.repo.GetPresence(ctx, contacts)
	if err != nil {
		return nil, errors.Wrap(err, "getting presence")
	}
	online := make([]string, 0, len(presences))
	for _, p := range presences {
		if p.Online {
			online = append(online, p.UserID)
		}
	}
	return online, nil
}

// Presence returns the presence of the given users; users never seen are reported offline.
func (svc *Service) Presence(ctx context.Context, userIDs []string) ([]Presence, error) {
	if len(userIDs) == 0 {
		return []Presence{}, nil
	}
	found, err := svc.repo.GetPresence(ctx, userIDs)
	if err != nil {
		return nil, errors.Wrap(err, "getting presence")
	}
	byUser := make(map[string]Presence, len(found))
	for _, p := range found {
		byUser[p.UserID] = p
	}
	res := make([]Presence, 0, len(userIDs))
	for _, id := range userIDs {
		if p, ok := byUser[id]; ok {
			res = append(res, p)
		} else {
			res = append(res, Presence{UserID: id})
		}
	}
	return res, nil
}
