package pubsub

import (
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/chat"
)

// Open returns the broker selected by conf.Chat.Broker.
func Open(conf *core.Config, logger core.Logger) (chat.Broker, error) {
	switch conf.Chat.Broker {
	case "nats":
		return NewNATSBroker(conf.Chat, conf.AppName, logger)
	case "local", "":
		return NewLocalBroker(), nil
	default:
		return nil, errors.Errorf("unknown chat broker %q", conf.Chat.Broker)
	}
}
