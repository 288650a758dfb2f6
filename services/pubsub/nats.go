package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/chat"
)

// NATSBroker publishes chat events on a NATS subject every API instance subscribes to.
type NATSBroker struct {
	nc      *nats.Conn
	subject string
	logger  core.Logger
}

var _ chat.Broker = (*NATSBroker)(nil) // interface compliance check

func NewNATSBroker(conf core.ChatConfig, appName string, logger core.Logger) (*NATSBroker, error) {
	nc, err := nats.Connect(conf.NATSURL,
		nats.Name(appName+" chat"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil && logger != nil {
				logger.Warn(fmt.Sprintf("NATS disconnected: %v", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if logger != nil {
				logger.Info("NATS reconnected to " + nc.ConnectedUrl())
			}
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to NATS")
	}
	return &NATSBroker{nc: nc, subject: conf.Subject, logger: logger}, nil
}

func (b *NATSBroker) Publish(_ context.Context, evt chat.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "encoding chat event")
	}
	return errors.Wrap(b.nc.Publish(b.subject, data), "publishing chat event")
}

func (b *NATSBroker) Subscribe(ctx context.Context, handler func(chat.Event)) error {
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		var evt chat.Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			if b.logger != nil {
				b.logger.Warn(fmt.Sprintf("decoding chat event: %v", err))
			}
			return
		}
		handler(evt)
	})
	if err != nil {
		return errors.Wrap(err, "subscribing to chat events")
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

// Close drains the pending messages then closes the connection.
func (b *NATSBroker) Close() error {
	return b.nc.Drain()
}
