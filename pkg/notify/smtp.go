package notify

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultSMTPPort = 587
)

// Sender delivers composed messages. *mail.Client satisfies it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPConfig configures an SMTPNotifier
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// From is the sender address, e.g. "Bookings <bookings@example.com>"
	From string

	// Timeout bounds one send including dial. Defaults to 5s.
	Timeout time.Duration

	// Template overrides the built-in HTML confirmation. It is executed with a bookingsync.Booking.
	Template *template.Template

	// Sender overrides the SMTP client built from the fields above
	Sender Sender

	Logger  bookingsync.Logger
	Metrics bookingsync.Metrics
}

// SMTPNotifier sends confirmations over SMTP using go-mail
type SMTPNotifier struct {
	sender   Sender
	from     string
	timeout  time.Duration
	template *template.Template
	logger   bookingsync.Logger
	metrics  bookingsync.Metrics
}

// NewSMTPNotifier creates an SMTP notifier. Missing host, credentials or sender
// address do not fail construction: Send then reports ErrNotConfigured.
func NewSMTPNotifier(config SMTPConfig) (*SMTPNotifier, error) {
	n := &SMTPNotifier{
		from:     config.From,
		timeout:  config.Timeout,
		template: config.Template,
		logger:   config.Logger,
		metrics:  config.Metrics,
		sender:   config.Sender,
	}
	if n.timeout <= 0 {
		n.timeout = defaultTimeout
	}
	if n.template == nil {
		n.template = confirmationTemplate
	}
	if n.logger == nil {
		n.logger = &bookingsync.NoopLogger{}
	}
	if n.metrics == nil {
		n.metrics = &bookingsync.NoopMetrics{}
	}

	if n.sender == nil && config.Host != "" && config.Username != "" && config.Password != "" {
		port := config.Port
		if port == 0 {
			port = defaultSMTPPort
		}
		client, err := mail.NewClient(config.Host,
			mail.WithPort(port),
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
			mail.WithTimeout(n.timeout),
			mail.WithTLSPolicy(mail.TLSOpportunistic),
		)
		if err != nil {
			return nil, fmt.Errorf("create smtp client: %w", err)
		}
		n.sender = client
	}
	if n.from == "" {
		// without a sender address nothing can be delivered
		n.sender = nil
	}
	return n, nil
}

// Configured reports whether Send can attempt delivery
func (n *SMTPNotifier) Configured() bool {
	return n.sender != nil
}

// Send implements Notifier
func (n *SMTPNotifier) Send(ctx context.Context, b bookingsync.Booking) (result Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = Result{Err: fmt.Errorf("send confirmation: panic: %v", r)}
		}
		n.record(b.ID, result, time.Since(start))
	}()

	if n.sender == nil {
		return Result{Err: ErrNotConfigured}
	}
	if b.ClientEmail == "" {
		return Result{Err: ErrNoRecipient}
	}

	msg, err := n.compose(b)
	if err != nil {
		return Result{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return Result{Err: fmt.Errorf("send confirmation: %w", err)}
	}
	return Result{MessageID: messageID(msg)}
}

func (n *SMTPNotifier) compose(b bookingsync.Booking) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(b.ClientEmail); err != nil {
		return nil, fmt.Errorf("invalid client email: %w", err)
	}
	if b.DJEmail != "" {
		if err := msg.ReplyTo(b.DJEmail); err != nil {
			n.logger.Warn("ignoring invalid reply-to address",
				bookingsync.Field{Key: "booking_id", Value: b.ID}, bookingsync.Err(err))
		}
	}

	body, err := renderConfirmation(n.template, b)
	if err != nil {
		return nil, err
	}
	msg.Subject(confirmationSubject(b))
	msg.SetBodyString(mail.TypeTextHTML, body)
	msg.SetDate()
	msg.SetMessageID()
	return msg, nil
}

func (n *SMTPNotifier) record(bookingID string, result Result, elapsed time.Duration) {
	switch {
	case errors.Is(result.Err, ErrNotConfigured):
		n.metrics.RecordNotification("skipped", elapsed)
		n.logger.Warn("confirmation email skipped: smtp not configured",
			bookingsync.Field{Key: "booking_id", Value: bookingID})
	case result.Err != nil:
		n.metrics.RecordNotification("failed", elapsed)
		n.logger.Error("confirmation email failed",
			bookingsync.Field{Key: "booking_id", Value: bookingID}, bookingsync.Err(result.Err))
	default:
		n.metrics.RecordNotification("sent", elapsed)
		n.logger.Info("confirmation email sent",
			bookingsync.Field{Key: "booking_id", Value: bookingID},
			bookingsync.Field{Key: "message_id", Value: result.MessageID},
		)
	}
}

func messageID(msg *mail.Msg) string {
	if ids := msg.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		return ids[0]
	}
	return ""
}
