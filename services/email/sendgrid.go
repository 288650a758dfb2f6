package emailsvc

import (
	"fmt"
	"net/http"
	"net/mail"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/campus/core"
)

var (
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"

	// SendGrid categories per template, for the delivery stats of each school process.
	templateCategories = map[string]string{
		"enrollment_status": "enrollment",
		"payment_receipt":   "payment",
		"password_reset":    "account",
	}
)

// sendgridService sends every To recipient a separate copy, so the guardians
// of a student never see each other's addresses.
type sendgridService struct {
	conf       *core.Config
	key        string
	from       *sgmail.Email
	replyTo    *sgmail.Email
	subjPrefix string
	sandbox    bool
	logger     core.Logger
}

var _ core.EmailService = (*sendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) *sendgridService {
	from := conf.DefaultFromEmail()
	svc := &sendgridService{
		conf:       conf,
		key:        conf.SendgridApiKey,
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: "[" + conf.AppName + "] ",
		sandbox:    conf.Env == "QA",
		logger:     logger,
	}
	if conf.ReplyToAddress != "" {
		svc.replyTo = sgmail.NewEmail(from.Name, conf.ReplyToAddress)
	}
	return svc
}

func (svc sendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		msg := msg
		go func() {
			if err := msg.Render(svc.conf); err != nil {
				svc.logger.Error(fmt.Sprintf("rendering email %q: %v", msg.TemplateName, err), err)
				return
			}
			if msg.HasRecipients() && (msg.HasContent() || msg.HasAttachments()) {
				svc.send(*msg)
			}
		}()
	}
}

func (svc sendgridService) prepare(msg core.EmailMessage) *sgmail.SGMailV3 {
	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	if svc.replyTo != nil {
		m.SetReplyTo(svc.replyTo)
	}

	subject := svc.subjPrefix + msg.Subject
	for i, to := range msg.To {
		p := sgmail.NewPersonalization()
		p.Subject = subject
		p.AddTos(sgEmail(to))
		// copies go out once
		if i == 0 {
			for _, cc := range msg.Cc {
				p.AddCCs(sgEmail(cc))
			}
			for _, bcc := range msg.Bcc {
				p.AddBCCs(sgEmail(bcc))
			}
		}
		m.AddPersonalizations(p)
	}
	if len(msg.To) == 0 {
		p := sgmail.NewPersonalization()
		p.Subject = subject
		for _, cc := range msg.Cc {
			p.AddCCs(sgEmail(cc))
		}
		for _, bcc := range msg.Bcc {
			p.AddBCCs(sgEmail(bcc))
		}
		m.AddPersonalizations(p)
	}

	if msg.TextContent != "" {
		m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	}
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}

	for _, a := range msg.Attachments {
		m.AddAttachment(sgAttachment(a))
	}

	m.AddCategories(svc.conf.AppName)
	if msg.TemplateName != "" {
		m.SetCustomArg("template", msg.TemplateName)
		if cat, ok := templateCategories[msg.TemplateName]; ok {
			m.AddCategories(cat)
		}
	}
	m.SetCustomArg("env", svc.conf.Env)

	// QA reaches SendGrid without mailing real parents
	if svc.sandbox {
		settings := sgmail.NewMailSettings()
		settings.SetSandboxMode(sgmail.NewSetting(true))
		m.SetMailSettings(settings)
	}
	return m
}

func sgEmail(addr mail.Address) *sgmail.Email {
	return sgmail.NewEmail(addr.Name, addr.Address)
}

func sgAttachment(at core.Attachment) *sgmail.Attachment {
	return &sgmail.Attachment{
		Content:     at.Content.String(),
		Type:        at.ContentType,
		Filename:    at.Filename,
		Disposition: "attachment",
	}
}

func (svc sendgridService) send(msg core.EmailMessage) {
	req := sendgrid.GetRequest(svc.key, endpoint, host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(svc.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("sending email %q: %v", msg.TemplateName, err), err)
	} else if res.StatusCode >= http.StatusBadRequest {
		svc.logger.Error(fmt.Sprintf("sending email %q - status: %d - Body: %s", msg.TemplateName, res.StatusCode, res.Body))
	}
}
