package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/chat"
)

const conversationSelect = `SELECT c.id, c.kind, c.title, c.direct_key, c.created_by, c.last_message_at, c.created_at,
	ARRAY(SELECT cp.user_id::text FROM conversation_participant cp WHERE cp.conversation_id = c.id ORDER BY cp.joined_at, cp.user_id) AS participant_ids`

type conversationRow struct {
	ID             string         `db:"id"`
	Kind           string         `db:"kind"`
	Title          string         `db:"title"`
	DirectKey      null.String    `db:"direct_key"`
	CreatedBy      null.String    `db:"created_by"`
	LastMessageAt  null.Time      `db:"last_message_at"`
	CreatedAt      time.Time      `db:"created_at"`
	ParticipantIDs pq.StringArray `db:"participant_ids"`
	Unread         int            `db:"unread"`
}

func (row conversationRow) unpack() chat.Conversation {
	participants := []string(row.ParticipantIDs)
	if participants == nil {
		participants = []string{}
	}
	conv := chat.Conversation{
		ID:             row.ID,
		Kind:           row.Kind,
		Title:          row.Title,
		CreatedBy:      row.CreatedBy.String,
		DirectKey:      row.DirectKey.String,
		ParticipantIDs: participants,
		CreatedAt:      row.CreatedAt.UTC(),
		Unread:         row.Unread,
	}
	if row.LastMessageAt.Valid {
		t := row.LastMessageAt.Time.UTC()
		conv.LastMessageAt = &t
	}
	return conv
}

type chatRepository struct {
	baseRepository
}

var _ chat.Repository = (*chatRepository)(nil) // interface compliance check

func NewChatRepository(db *sqlx.DB) *chatRepository {
	return &chatRepository{baseRepository{db: db}}
}

func (repo chatRepository) getConversation(ctx context.Context, exec []core.DBExecutor, cond string, arg interface{}) (chat.Conversation, error) {
	var row conversationRow
	if err := sqlx.GetContext(ctx, repo.getExec(exec), &row, conversationSelect+` FROM conversation c WHERE `+cond, arg); err != nil {
		return chat.Conversation{}, trapNoRowsErr(err, chat.ErrNotFound, "finding conversation")
	}
	return row.unpack(), nil
}

func (repo chatRepository) GetDirect(ctx context.Context, key string, exec ...core.DBExecutor) (chat.Conversation, error) {
	return repo.getConversation(ctx, exec, "c.direct_key = $1", key)
}

func (repo chatRepository) GetConversation(ctx context.Context, id string, exec ...core.DBExecutor) (chat.Conversation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return chat.Conversation{}, chat.ErrNotFound
	}
	return repo.getConversation(ctx, exec, "c.id = $1", id)
}

// CreateConversation inserts the conversation and its participants in a single statement.
func (repo chatRepository) CreateConversation(ctx context.Context, conv chat.Conversation, exec ...core.DBExecutor) (chat.Conversation, error) {
	conv.ID = uuid.New().String()
	q := `WITH c AS (
			INSERT INTO conversation (id, kind, title, direct_key, created_by, last_message_at, created_at)
			VALUES ($1, $2, $3, $4, $5, NULL, $6) RETURNING id
		)
		INSERT INTO conversation_participant (conversation_id, user_id, last_read_at, joined_at)
		SELECT c.id, UNNEST($7::uuid[]), NULL, $6 FROM c`
	_, err := repo.getExec(exec).ExecContext(ctx, q,
		conv.ID,
		conv.Kind,
		conv.Title,
		null.NewString(conv.DirectKey, conv.DirectKey != ""),
		null.NewString(conv.CreatedBy, conv.CreatedBy != ""),
		conv.CreatedAt.UTC(),
		pq.Array(conv.ParticipantIDs),
	)
	if err != nil {
		return chat.Conversation{}, errors.Wrap(err, "inserting conversation")
	}
	conv.LastMessageAt = nil
	return conv, nil
}

func (repo chatRepository) UserConversations(ctx context.Context, userID string, exec ...core.DBExecutor) ([]chat.Conversation, error) {
	q := conversationSelect + `,
		(SELECT COUNT(*) FROM message m WHERE m.conversation_id = c.id AND m.sender_id IS DISTINCT FROM me.user_id
			AND (me.last_read_at IS NULL OR m.created_at > me.last_read_at)) AS unread
		FROM conversation c JOIN conversation_participant me ON me.conversation_id = c.id
		WHERE me.user_id::text = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC`

	var rows []conversationRow
	if err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, userID); err != nil {
		return nil, errors.Wrap(err, "querying user conversations")
	}
	convs := make([]chat.Conversation, 0, len(rows))
	for _, row := range rows {
		convs = append(convs, row.unpack())
	}
	return convs, nil
}

type messageRow struct {
	ID             string      `db:"id"`
	ConversationID string      `db:"conversation_id"`
	SenderID       null.String `db:"sender_id"`
	Body           string      `db:"body"`
	CreatedAt      time.Time   `db:"created_at"`
}

func (repo chatRepository) CreateMessage(ctx context.Context, msg chat.Message, exec ...core.DBExecutor) (chat.Message, error) {
	msg.ID = uuid.New().String()
	q := `WITH m AS (
			INSERT INTO message (id, conversation_id, sender_id, body, created_at)
			VALUES ($1, $2, $3, $4, $5) RETURNING conversation_id, created_at
		)
		UPDATE conversation SET last_message_at = m.created_at FROM m WHERE conversation.id = m.conversation_id`
	_, err := repo.getExec(exec).ExecContext(ctx, q,
		msg.ID, msg.ConversationID, null.NewString(msg.SenderID, msg.SenderID != ""), msg.Body, msg.CreatedAt.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
			return chat.Message{}, chat.ErrNotFound
		}
		return chat.Message{}, errors.Wrap(err, "inserting message")
	}
	return msg, nil
}

func (repo chatRepository) Messages(ctx context.Context, convID string, page chat.MessagePage, exec ...core.DBExecutor) ([]chat.Message, error) {
	where := new(whereClause)
	where.add("conversation_id::text = ?", convID)
	if !page.Before.IsZero() {
		where.add("created_at < ?", page.Before.UTC())
	}
	q := `SELECT id, conversation_id, sender_id, body, created_at FROM message` + where.String() +
		where.suffix(nil, "created_at DESC", &core.Page{Limit: page.Limit})

	var rows []messageRow
	if err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, where.args...); err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	msgs := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, chat.Message{
			ID:             row.ID,
			ConversationID: row.ConversationID,
			SenderID:       row.SenderID.String,
			Body:           row.Body,
			CreatedAt:      row.CreatedAt.UTC(),
		})
	}
	return msgs, nil
}

func (repo chatRepository) MarkRead(ctx context.Context, convID, userID string, at time.Time, exec ...core.DBExecutor) error {
	q := `UPDATE conversation_participant SET last_read_at = GREATEST(COALESCE(last_read_at, $3), $3)
		WHERE conversation_id::text = $1 AND user_id::text = $2`
	res, err := repo.getExec(exec).ExecContext(ctx, q, convID, userID, at.UTC())
	if err != nil {
		return errors.Wrap(err, "marking conversation read")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (repo chatRepository) SetPresence(ctx context.Context, p chat.Presence, exec ...core.DBExecutor) error {
	q := `INSERT INTO presence (user_id, online, last_seen) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET online = EXCLUDED.online, last_seen = EXCLUDED.last_seen`
	_, err := repo.getExec(exec).ExecContext(ctx, q, p.UserID, p.Online, p.LastSeen.UTC())
	return errors.Wrap(err, "saving presence")
}

func (repo chatRepository) GetPresence(ctx context.Context, userIDs []string, exec ...core.DBExecutor) ([]chat.Presence, error) {
	type presenceRow struct {
		UserID   string    `db:"user_id"`
		Online   bool      `db:"online"`
		LastSeen time.Time `db:"last_seen"`
	}

	var rows []presenceRow
	q := `SELECT user_id, online, last_seen FROM presence WHERE user_id::text = ANY($1)`
	if err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, pq.Array(userIDs)); err != nil {
		return nil, errors.Wrap(err, "querying presence")
	}
	res := make([]chat.Presence, 0, len(rows))
	for _, row := range rows {
		res = append(res, chat.Presence{UserID: row.UserID, Online: row.Online, LastSeen: row.LastSeen.UTC()})
	}
	return res, nil
}

func (repo chatRepository) Contacts(ctx context.Context, userID string, exec ...core.DBExecutor) ([]string, error) {
	q := `SELECT DISTINCT other.user_id::text FROM conversation_participant me
		JOIN conversation_participant other ON other.conversation_id = me.conversation_id AND other.user_id <> me.user_id
		WHERE me.user_id::text = $1 ORDER BY 1`
	contacts := make([]string, 0)
	if err := sqlx.SelectContext(ctx, repo.getExec(exec), &contacts, q, userID); err != nil {
		return nil, errors.Wrap(err, "querying contacts")
	}
	return contacts, nil
}
