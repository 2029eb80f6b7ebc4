package notify

import (
	"context"
	"errors"
	netmail "net/mail"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []*mail.Msg
	err   error
	block bool
}

func (f *fakeSender) DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, messages...)
	return nil
}

type recordingMetrics struct {
	bookingsync.NoopMetrics
	mu       sync.Mutex
	statuses []string
}

func (m *recordingMetrics) RecordNotification(status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

func paidBooking() bookingsync.Booking {
	return bookingsync.Booking{
		ID:            "bk_1",
		ClientName:    "Alex",
		ClientEmail:   "client@example.com",
		EventType:     "Wedding",
		EventDate:     "2026-09-12",
		Venue:         "Harbour Hall",
		StartTime:     "18:00",
		EndTime:       "23:00",
		Amount:        45000,
		Currency:      "eur",
		PaymentStatus: bookingsync.PaymentPaid,
		DJEmail:       "dj@example.com",
	}
}

func TestSMTPNotifier_Send(t *testing.T) {
	sender := &fakeSender{}
	metrics := &recordingMetrics{}
	n, err := NewSMTPNotifier(SMTPConfig{From: "Bookings <bookings@example.com>", Sender: sender, Metrics: metrics})
	require.NoError(t, err)
	require.True(t, n.Configured())

	res := n.Send(context.Background(), paidBooking())
	require.NoError(t, res.Err)
	assert.True(t, res.Sent())
	assert.NotEmpty(t, res.MessageID)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	rcpts, err := msg.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"client@example.com"}, rcpts)
	replyTo, err := netmail.ParseAddressList(strings.Join(msg.GetGenHeader(mail.HeaderReplyTo), ", "))
	require.NoError(t, err)
	require.Len(t, replyTo, 1)
	assert.Equal(t, "dj@example.com", replyTo[0].Address)
	assert.Equal(t, []string{"Booking confirmed: Wedding on 2026-09-12"}, msg.GetGenHeader(mail.HeaderSubject))
	assert.Equal(t, []string{res.MessageID}, msg.GetGenHeader(mail.HeaderMessageID))
	assert.Equal(t, []string{"sent"}, metrics.statuses)
}

func TestSMTPNotifier_NotConfigured(t *testing.T) {
	metrics := &recordingMetrics{}
	n, err := NewSMTPNotifier(SMTPConfig{Host: "smtp.example.com", Metrics: metrics})
	require.NoError(t, err)
	assert.False(t, n.Configured())

	res := n.Send(context.Background(), paidBooking())
	assert.ErrorIs(t, res.Err, ErrNotConfigured)
	assert.False(t, res.Sent())
	assert.Equal(t, []string{"skipped"}, metrics.statuses)
}

func TestSMTPNotifier_MissingFromDisablesSending(t *testing.T) {
	n, err := NewSMTPNotifier(SMTPConfig{Sender: &fakeSender{}})
	require.NoError(t, err)
	assert.ErrorIs(t, n.Send(context.Background(), paidBooking()).Err, ErrNotConfigured)
}

func TestSMTPNotifier_BuildsClientFromCredentials(t *testing.T) {
	n, err := NewSMTPNotifier(SMTPConfig{
		Host:     "smtp.example.com",
		Port:     2525,
		Username: "user",
		Password: "secret",
		From:     "bookings@example.com",
	})
	require.NoError(t, err)
	assert.True(t, n.Configured())
	assert.Equal(t, defaultTimeout, n.timeout)
}

func TestSMTPNotifier_NoRecipient(t *testing.T) {
	sender := &fakeSender{}
	n, err := NewSMTPNotifier(SMTPConfig{From: "bookings@example.com", Sender: sender})
	require.NoError(t, err)

	b := paidBooking()
	b.ClientEmail = ""
	res := n.Send(context.Background(), b)
	assert.ErrorIs(t, res.Err, ErrNoRecipient)
	assert.Empty(t, sender.sent)
}

func TestSMTPNotifier_SendError(t *testing.T) {
	boom := errors.New("535 authentication failed")
	metrics := &recordingMetrics{}
	n, err := NewSMTPNotifier(SMTPConfig{From: "bookings@example.com", Sender: &fakeSender{err: boom}, Metrics: metrics})
	require.NoError(t, err)

	res := n.Send(context.Background(), paidBooking())
	assert.ErrorIs(t, res.Err, boom)
	assert.Empty(t, res.MessageID)
	assert.Equal(t, []string{"failed"}, metrics.statuses)
}

func TestSMTPNotifier_Timeout(t *testing.T) {
	n, err := NewSMTPNotifier(SMTPConfig{
		From:    "bookings@example.com",
		Sender:  &fakeSender{block: true},
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	res := n.Send(context.Background(), paidBooking())
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRenderConfirmation(t *testing.T) {
	b := paidBooking()
	b.ClientName = `<script>alert("x")</script>`

	body, err := renderConfirmation(confirmationTemplate, b)
	require.NoError(t, err)
	assert.Contains(t, body, "Harbour Hall")
	assert.Contains(t, body, "450.00 EUR")
	assert.Contains(t, body, "18:00 - 23:00")
	assert.NotContains(t, body, "<script>")
	assert.True(t, strings.Contains(body, "&lt;script&gt;"))
}

func TestConfirmationSubject(t *testing.T) {
	assert.Equal(t, "Booking confirmed: Wedding on 2026-09-12", confirmationSubject(paidBooking()))
	assert.Equal(t, "Booking confirmed for 2026-09-12", confirmationSubject(bookingsync.Booking{EventDate: "2026-09-12"}))
	assert.Equal(t, "Your booking is confirmed", confirmationSubject(bookingsync.Booking{}))
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "450.00 EUR", formatMoney(45000, "eur"))
	assert.Equal(t, "0.05", formatMoney(5, ""))
	assert.Equal(t, "-12.30 USD", formatMoney(-1230, "usd"))
}

func TestLogNotifier(t *testing.T) {
	metrics := &recordingMetrics{}
	n := NewLogNotifier(nil, metrics)

	res := n.Send(context.Background(), paidBooking())
	require.NoError(t, res.Err)
	assert.True(t, strings.HasSuffix(res.MessageID, "@bookingsync.local>"))

	b := paidBooking()
	b.ClientEmail = ""
	assert.ErrorIs(t, n.Send(context.Background(), b).Err, ErrNoRecipient)
	assert.Equal(t, []string{"sent", "failed"}, metrics.statuses)
}
