package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/chat"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/services/pubsub"
	inmemdb "github.com/trezcool/campus/storage/database/inmem"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type hubFixture struct {
	hub     *Hub
	chatSvc *chat.Service
	server  *httptest.Server
	users   map[string]user.User
}

func setupHub(t *testing.T) *hubFixture {
	ctx := context.Background()
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	usrSvc := user.NewServiceMock(usrRepo, nil, core.NewTestConfig())

	broker := pubsub.NewLocalBroker()
	chatSvc := chat.NewService(inmemdb.NewChatRepository(db), usrSvc, broker, nil)
	validate, _ := core.NewValidator()
	hub := NewHub(chatSvc, broker, validate, []string{"*"}, nil)

	hubCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = hub.Serve(hubCtx)
		close(done)
	}()

	fx := &hubFixture{hub: hub, chatSvc: chatSvc, users: make(map[string]user.User)}
	for _, u := range []user.User{
		{Name: "Teacher", Username: "teacher1", Roles: []string{user.RoleTeacher}, IsActive: true},
		{Name: "Parent", Username: "parent1", Roles: []string{user.RoleParent}, IsActive: true},
	} {
		usr, err := usrRepo.CreateUser(ctx, u)
		require.NoError(t, err)
		fx.users[usr.Username] = usr
	}

	fx.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, fx.users[r.URL.Query().Get("user")])
	}))
	t.Cleanup(func() {
		fx.server.Close()
		cancel()
		<-done
	})
	return fx
}

func (fx *hubFixture) dial(t *testing.T, username string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(fx.server.URL, "http") + "?user=" + username
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	usr := fx.users[username]
	require.Eventually(t, func() bool { return fx.hub.Online(usr.ID) }, time.Second, 10*time.Millisecond)
	return conn
}

// readType reads frames until one of type typ arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string) frame {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for a %s frame", typ)
		if f.Type == typ {
			return f
		}
	}
}

func TestHub_delivers(t *testing.T) {
	fx := setupHub(t)
	teacher, parent := fx.users["teacher1"], fx.users["parent1"]

	conv, err := fx.chatSvc.StartDirect(context.Background(), teacher, parent.ID)
	require.NoError(t, err)

	teacherConn := fx.dial(t, "teacher1")
	parentConn := fx.dial(t, "parent1")

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, teacherConn.WriteJSON(Message{Type: TypePing}))
		readType(t, teacherConn, TypePong)
	})

	t.Run("message", func(t *testing.T) {
		require.NoError(t, teacherConn.WriteJSON(Message{
			Type: TypeMessage,
			Data: map[string]string{"conversation_id": conv.ID, "body": "  Hello!  "},
		}))

		var msg chat.Message
		require.NoError(t, json.Unmarshal(readType(t, parentConn, TypeMessage).Data, &msg))
		assert.Equal(t, "Hello!", msg.Body)
		assert.Equal(t, teacher.ID, msg.SenderID)

		// the sender's other connections get it too
		require.NoError(t, json.Unmarshal(readType(t, teacherConn, TypeMessage).Data, &msg))
		assert.Equal(t, conv.ID, msg.ConversationID)
	})

	t.Run("typing", func(t *testing.T) {
		require.NoError(t, parentConn.WriteJSON(Message{
			Type: TypeTyping,
			Data: map[string]interface{}{"conversation_id": conv.ID, "is_typing": true},
		}))

		var data chat.TypingData
		require.NoError(t, json.Unmarshal(readType(t, teacherConn, TypeTyping).Data, &data))
		assert.Equal(t, parent.ID, data.UserID)
		assert.True(t, data.IsTyping)
	})

	t.Run("read", func(t *testing.T) {
		require.NoError(t, parentConn.WriteJSON(Message{Type: TypeRead, Data: map[string]string{"conversation_id": conv.ID}}))

		var data chat.ReadData
		require.NoError(t, json.Unmarshal(readType(t, teacherConn, TypeRead).Data, &data))
		assert.Equal(t, parent.ID, data.UserID)
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name    string
			msg     Message
			raw     string
			wantMsg string
		}{
			{name: "unknown type", msg: Message{Type: "dance"}, wantMsg: `unknown message type "dance"`},
			{name: "missing data", msg: Message{Type: TypeMessage}, wantMsg: "missing data"},
			{name: "absent data", raw: `{"type":"typing"}`, wantMsg: "missing data"},
			{name: "null data", raw: `{"type":"read","data": null }`, wantMsg: "missing data"},
			{name: "malformed data", msg: Message{Type: TypeTyping, Data: "yes"}, wantMsg: "malformed data"},
			{
				name:    "unknown conversation",
				msg:     Message{Type: TypeRead, Data: map[string]string{"conversation_id": "00000000-0000-0000-0000-000000000000"}},
				wantMsg: chat.ErrNotFound.Error(),
			},
			{
				name:    "blank body",
				msg:     Message{Type: TypeMessage, Data: map[string]string{"conversation_id": conv.ID, "body": "   "}},
				wantMsg: "invalid data",
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if tt.raw != "" {
					require.NoError(t, teacherConn.WriteMessage(websocket.TextMessage, []byte(tt.raw)))
				} else {
					require.NoError(t, teacherConn.WriteJSON(tt.msg))
				}

				var data errorData
				require.NoError(t, json.Unmarshal(readType(t, teacherConn, TypeError).Data, &data))
				assert.Equal(t, tt.wantMsg, data.Message)
			})
		}
	})
}

func TestHub_presence(t *testing.T) {
	ctx := context.Background()
	fx := setupHub(t)
	teacher, parent := fx.users["teacher1"], fx.users["parent1"]

	_, err := fx.chatSvc.StartDirect(ctx, teacher, parent.ID)
	require.NoError(t, err)

	isOnline := func(userID string) bool {
		presence, err := fx.chatSvc.Presence(ctx, []string{userID})
		require.NoError(t, err)
		return presence[0].Online
	}

	teacherConn := fx.dial(t, "teacher1")
	parentConn := fx.dial(t, "parent1")
	assert.Eventually(t, func() bool { return isOnline(parent.ID) }, time.Second, 10*time.Millisecond)

	// a second connection keeps the parent online when the first closes
	secondConn := fx.dial(t, "parent1")
	require.NoError(t, parentConn.Close())
	time.Sleep(50 * time.Millisecond)
	assert.True(t, fx.hub.Online(parent.ID))

	require.NoError(t, secondConn.Close())
	assert.Eventually(t, func() bool { return !fx.hub.Online(parent.ID) }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return !isOnline(parent.ID) }, time.Second, 10*time.Millisecond)

	var p chat.Presence
	require.NoError(t, json.Unmarshal(readType(t, teacherConn, chat.EventPresence).Data, &p))
	assert.Equal(t, parent.ID, p.UserID)
}
