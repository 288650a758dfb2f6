package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/chat"
)

var errDirectExists = errors.New("direct conversation already exists")

type chatRepository struct {
	db *chatTable
}

var _ chat.Repository = (*chatRepository)(nil) // interface compliance check

func NewChatRepository(db *DB) *chatRepository {
	return &chatRepository{db: db.chat}
}

func (repo *chatRepository) get(conv *chat.Conversation) chat.Conversation {
	c := *conv
	c.ParticipantIDs = copyStrings(conv.ParticipantIDs)
	if conv.LastMessageAt != nil {
		t := *conv.LastMessageAt
		c.LastMessageAt = &t
	}
	return c
}

func (repo *chatRepository) GetDirect(_ context.Context, key string, _ ...core.DBExecutor) (chat.Conversation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, conv := range repo.db.conversations {
		if conv.Kind == chat.KindDirect && conv.DirectKey == key {
			return repo.get(conv), nil
		}
	}
	return chat.Conversation{}, chat.ErrNotFound
}

func (repo *chatRepository) CreateConversation(_ context.Context, conv chat.Conversation, _ ...core.DBExecutor) (chat.Conversation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if conv.DirectKey != "" {
		for _, c := range repo.db.conversations {
			if c.DirectKey == conv.DirectKey {
				return chat.Conversation{}, errDirectExists
			}
		}
	}

	conv.ID = uuid.New().String()
	row := conv
	row.ParticipantIDs = copyStrings(conv.ParticipantIDs)
	repo.db.conversations[conv.ID] = &row

	reads := make(map[string]time.Time, len(conv.ParticipantIDs))
	for _, id := range conv.ParticipantIDs {
		reads[id] = time.Time{}
	}
	repo.db.lastRead[conv.ID] = reads
	return conv, nil
}

func (repo *chatRepository) GetConversation(_ context.Context, id string, _ ...core.DBExecutor) (chat.Conversation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if conv, ok := repo.db.conversations[id]; ok {
		return repo.get(conv), nil
	}
	return chat.Conversation{}, chat.ErrNotFound
}

func (repo *chatRepository) UserConversations(_ context.Context, userID string, _ ...core.DBExecutor) ([]chat.Conversation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	convs := make([]chat.Conversation, 0)
	for id, conv := range repo.db.conversations {
		lastRead, ok := repo.db.lastRead[id][userID]
		if !ok {
			continue
		}
		c := repo.get(conv)
		for _, msg := range repo.db.messages[id] {
			if msg.SenderID != userID && msg.CreatedAt.After(lastRead) {
				c.Unread++
			}
		}
		convs = append(convs, c)
	}

	activity := func(c chat.Conversation) time.Time {
		if c.LastMessageAt != nil {
			return *c.LastMessageAt
		}
		return c.CreatedAt
	}
	sort.SliceStable(convs, func(i, j int) bool { return activity(convs[i]).After(activity(convs[j])) })
	return convs, nil
}

func (repo *chatRepository) CreateMessage(_ context.Context, msg chat.Message, _ ...core.DBExecutor) (chat.Message, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	conv, ok := repo.db.conversations[msg.ConversationID]
	if !ok {
		return chat.Message{}, chat.ErrNotFound
	}
	msg.ID = uuid.New().String()
	repo.db.messages[msg.ConversationID] = append(repo.db.messages[msg.ConversationID], msg)
	at := msg.CreatedAt
	conv.LastMessageAt = &at
	return msg, nil
}

func (repo *chatRepository) Messages(_ context.Context, convID string, page chat.MessagePage, _ ...core.DBExecutor) ([]chat.Message, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	all := repo.db.messages[convID]
	msgs := make([]chat.Message, 0, page.Limit)
	for i := len(all) - 1; i >= 0 && len(msgs) < page.Limit; i-- {
		if !page.Before.IsZero() && !all[i].CreatedAt.Before(page.Before) {
			continue
		}
		msgs = append(msgs, all[i])
	}
	return msgs, nil
}

func (repo *chatRepository) MarkRead(_ context.Context, convID, userID string, at time.Time, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	reads, ok := repo.db.lastRead[convID]
	if !ok {
		return chat.ErrNotFound
	}
	if at.After(reads[userID]) {
		reads[userID] = at
	}
	return nil
}

func (repo *chatRepository) SetPresence(_ context.Context, p chat.Presence, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.presence[p.UserID] = p
	return nil
}

func (repo *chatRepository) GetPresence(_ context.Context, userIDs []string, _ ...core.DBExecutor) ([]chat.Presence, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	res := make([]chat.Presence, 0, len(userIDs))
	for _, id := range userIDs {
		if p, ok := repo.db.presence[id]; ok {
			res = append(res, p)
		}
	}
	return res, nil
}

func (repo *chatRepository) Contacts(_ context.Context, userID string, _ ...core.DBExecutor) ([]string, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	seen := make(map[string]struct{})
	contacts := make([]string, 0)
	for _, conv := range repo.db.conversations {
		if !conv.HasParticipant(userID) {
			continue
		}
		for _, id := range conv.ParticipantIDs {
			if _, ok := seen[id]; !ok && id != userID {
				seen[id] = struct{}{}
				contacts = append(contacts, id)
			}
		}
	}
	sort.Strings(contacts)
	return contacts, nil
}
