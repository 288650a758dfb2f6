package emailsvc

import (
	"github.com/trezcool/campus/core"
)

// NewService returns the Sendgrid service when an API key is configured, the console service otherwise.
func NewService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.SendgridApiKey != "" && !conf.TestMode {
		return NewSendgridService(conf, logger)
	}
	return NewConsoleService(conf, logger)
}
