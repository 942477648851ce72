package mailer

import (
	"context"

	"github.com/diagnosis/citizen-portal/pkg/config"
	"github.com/diagnosis/citizen-portal/pkg/logger"
)

// Message is a rendered email ready for delivery.
type Message struct {
	ToEmail string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

type Service interface {
	Send(ctx context.Context, msg Message) error
}

// New picks the transport from config: dev logger, MailerSend when keyed,
// SMTP otherwise.
func New(cfg config.EmailConfig) Service {
	switch {
	case cfg.DevMode:
		logger.Info("Mailer running in dev mode, emails are logged only")
		return NewDevMailer()
	case cfg.MailerSendKey != "":
		return NewMailerSend(cfg.MailerSendKey, cfg.FromName, cfg.SMTPFrom)
	default:
		return NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPUseTLS)
	}
}
