package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/chat"
)

func runNATSServer(t *testing.T) *server.Server {
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second), "NATS server not ready")
	t.Cleanup(ns.Shutdown)
	return ns
}

func newTestNATSBroker(t *testing.T, url string) *NATSBroker {
	broker, err := NewNATSBroker(core.ChatConfig{NATSURL: url, Subject: "campus.chat.test"}, "campus", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = broker.Close() })
	return broker
}

func TestNATSBroker(t *testing.T) {
	ns := runNATSServer(t)
	sub := newTestNATSBroker(t, ns.ClientURL())
	pub := newTestNATSBroker(t, ns.ClientURL())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan chat.Event, 4)
	require.NoError(t, sub.Subscribe(ctx, func(evt chat.Event) { events <- evt }))
	require.NoError(t, sub.nc.Flush())

	sent := chat.Event{
		Type:           chat.EventMessage,
		ConversationID: "conv-1",
		UserID:         "u1",
		Recipients:     []string{"u1", "u2"},
		Data:           json.RawMessage(`{"body":"hello"}`),
		At:             time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.Publish(context.Background(), sent))

	select {
	case got := <-events:
		assert.Equal(t, sent.Type, got.Type)
		assert.Equal(t, sent.ConversationID, got.ConversationID)
		assert.Equal(t, sent.Recipients, got.Recipients)
		assert.JSONEq(t, string(sent.Data), string(got.Data))
		assert.True(t, sent.At.Equal(got.At))
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}

	t.Run("malformed payloads are dropped", func(t *testing.T) {
		require.NoError(t, pub.nc.Publish("campus.chat.test", []byte("not json")))
		require.NoError(t, pub.Publish(context.Background(), chat.Event{Type: chat.EventTyping, UserID: "u2"}))

		select {
		case got := <-events:
			assert.Equal(t, chat.EventTyping, got.Type)
		case <-time.After(5 * time.Second):
			t.Fatal("event not delivered")
		}
	})

	t.Run("unsubscribes on cancel", func(t *testing.T) {
		cancel()
		assert.Eventually(t, func() bool { return sub.nc.NumSubscriptions() == 0 }, 5*time.Second, 10*time.Millisecond)

		require.NoError(t, pub.Publish(context.Background(), chat.Event{Type: chat.EventMessage}))
		require.NoError(t, pub.nc.Flush())
		require.NoError(t, sub.nc.Flush())

		select {
		case evt := <-events:
			t.Fatalf("unsubscribed handler got %+v", evt)
		case <-time.After(100 * time.Millisecond):
		}
	})
}
