// Package notify dispatches run-outcome notifications via pluggable
// transports. Send failures are logged and contained; they never escalate
// into a fatal run error.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/polish/internal/config"
)

// Status is a terminal run status.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialFailure Status = "partial_failure"
	StatusFailure        Status = "failure"
)

// condition maps a status onto the send_on vocabulary. Partial failure is a
// failure for notification purposes.
func (s Status) condition() string {
	if s == StatusSuccess {
		return "success"
	}
	return "failure"
}

// Message is a rendered notification.
type Message struct {
	Sender     string
	Recipients []string
	Subject    string
	Body       string
}

// Transport delivers a rendered message. Implementations are external
// collaborators (SMTP servers, webhooks); polish only formats and hands off.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// TransportFactory builds the transport for a notification config. Split out
// so repo-level overrides (which replace the global block entirely, including
// transport settings) get their own transport instance.
type TransportFactory func(cfg config.NotificationConfig) Transport

// Dispatcher evaluates send_on conditions and sends at most one notification
// per transport per invocation.
type Dispatcher struct {
	factory TransportFactory
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil factory defaults to SMTP.
func NewDispatcher(factory TransportFactory, logger *zap.Logger) *Dispatcher {
	if factory == nil {
		factory = func(cfg config.NotificationConfig) Transport {
			return NewSMTPTransport(cfg.Email)
		}
	}
	return &Dispatcher{factory: factory, logger: logger}
}

// Notify sends the run-outcome notification for status if cfg enables it and
// the status matches a send_on condition. The returned error is informational
// only; callers log it and move on.
func (d *Dispatcher) Notify(ctx context.Context, status Status, cfg config.NotificationConfig) error {
	if !cfg.Enable {
		d.logger.Info("notifications are disabled, skipping",
			zap.String("status", string(status)))
		return nil
	}

	if !shouldSend(status, cfg.SendOn) {
		d.logger.Info("status does not match send_on conditions, skipping",
			zap.String("status", string(status)),
			zap.Strings("send_on", cfg.SendOn))
		return nil
	}

	msg := buildMessage(status, cfg.Email)
	transport := d.factory(cfg)
	if err := transport.Send(ctx, msg); err != nil {
		d.logger.Error("failed to send notification",
			zap.String("transport", transport.Name()),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("sending %s notification: %w", status, err)
	}

	d.logger.Info("notification sent",
		zap.String("transport", transport.Name()),
		zap.Strings("recipients", msg.Recipients),
		zap.String("status", string(status)))
	return nil
}

// shouldSend checks status against the configured send_on conditions. An
// empty list sends nothing.
func shouldSend(status Status, sendOn []string) bool {
	for _, cond := range sendOn {
		if cond == status.condition() {
			return true
		}
	}
	return false
}

// buildMessage renders the notification for a status.
func buildMessage(status Status, email config.EmailConfig) Message {
	subject := email.Subject
	if subject == "" {
		subject = fmt.Sprintf("Notification - Optimization %s", status)
	}
	return Message{
		Sender:     email.SenderEmail,
		Recipients: email.Recipients,
		Subject:    subject,
		Body:       fmt.Sprintf("The optimization process has completed with status: %s", status),
	}
}
