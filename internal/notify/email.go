// Package notify delivers customer notifications queued in the outbox.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"

	"neobank/internal/config"
	"neobank/internal/model"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// SendFunc delivers a composed email. Replaced in tests.
type SendFunc func(e *email.Email) error

// EmailNotifier turns notification outbox messages into SMTP emails.
type EmailNotifier struct {
	cfg    *config.NotifyConfig
	logger *logrus.Logger
	send   SendFunc
}

func NewEmailNotifier(cfg *config.NotifyConfig, logger *logrus.Logger) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg, logger: logger}
	n.send = n.sendSMTP
	return n
}

// WithSender overrides the transport.
func (n *EmailNotifier) WithSender(send SendFunc) *EmailNotifier {
	n.send = send
	return n
}

// Publish implements job.Publisher.
func (n *EmailNotifier) Publish(_ context.Context, msg *model.OutboxMessage) error {
	switch msg.EventType {
	case model.EventTransferReceived:
		var notice model.TransferReceivedNotice
		if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
			return fmt.Errorf("decode transfer notice: %w", err)
		}
		return n.deliver(n.transferReceivedEmail(&notice))
	default:
		return fmt.Errorf("unsupported notification event %q", msg.EventType)
	}
}

func (n *EmailNotifier) transferReceivedEmail(notice *model.TransferReceivedNotice) *email.Email {
	e := email.NewEmail()
	e.From = n.cfg.From
	e.To = []string{notice.RecipientEmail}
	e.Subject = fmt.Sprintf("You received $%s from %s", notice.Amount.StringFixed(2), notice.SenderName)

	body := fmt.Sprintf("Dear %s,\n\n", notice.RecipientName)
	body += fmt.Sprintf(
		"%s (%s) sent you $%s.\n"+
			"Transfer reference: %s\n"+
			"Time: %s\n"+
			"Current balance: $%s\n",
		notice.SenderName, notice.SenderEmail, notice.Amount.StringFixed(2),
		notice.TransferNo,
		notice.OccurredAt.Format("2006-01-02 15:04:05 MST"),
		notice.BalanceAfter.StringFixed(2),
	)
	body += "\nBest regards,\nNeoBank"
	e.Text = []byte(body)
	return e
}

func (n *EmailNotifier) deliver(e *email.Email) error {
	if err := n.send(e); err != nil {
		n.logger.WithError(err).WithField("to", e.To).Error("failed to send email")
		return fmt.Errorf("send email: %w", err)
	}
	n.logger.WithFields(logrus.Fields{"to": e.To, "subject": e.Subject}).Info("email sent")
	return nil
}

func (n *EmailNotifier) sendSMTP(e *email.Email) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)
	var auth smtp.Auth
	if n.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", n.cfg.SMTPUsername, n.cfg.SMTPPassword, n.cfg.SMTPHost)
	}
	return e.Send(addr, auth)
}
