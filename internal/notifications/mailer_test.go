package notifications

import (
	"context"
	"errors"
	"net/smtp"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMailer(fn SendFunc) *Mailer {
	return NewMailer(SMTPConfig{
		Host:        "smtp.test",
		Port:        587,
		FromAddress: "noreply@brokerdesk.test",
		FromName:    "Brokerdesk",
		MaxElapsed:  5 * time.Second,
	}, nil).WithSendFunc(fn)
}

func TestMailer_RetriesTransientFailure(t *testing.T) {
	calls := 0
	var sent []byte
	m := testMailer(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		calls++
		if calls == 1 {
			return errors.New("connection reset")
		}
		assert.Equal(t, "smtp.test:587", addr)
		assert.Equal(t, []string{"jane@acme.test"}, to)
		sent = msg
		return nil
	})

	err := m.Send(context.Background(), Message{To: "jane@acme.test", ToName: "Jane", Subject: "Welcome", Body: "line1\nline2"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, string(sent), "Subject: Welcome\r\n")
	assert.True(t, strings.HasSuffix(string(sent), "line1\r\nline2"))
}

func TestMailer_PermanentRejectionNotRetried(t *testing.T) {
	calls := 0
	m := testMailer(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		calls++
		return &textproto.Error{Code: 550, Msg: "mailbox unavailable"}
	})

	err := m.Send(context.Background(), Message{To: "nobody@acme.test", Subject: "x", Body: "y"})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "mailbox unavailable")
}

func TestMailer_Validation(t *testing.T) {
	m := NewMailer(SMTPConfig{}, nil)
	assert.ErrorIs(t, m.Send(context.Background(), Message{To: "a@b.test"}), ErrMailerNotConfigured)

	m = testMailer(func(string, smtp.Auth, string, []string, []byte) error { return nil })
	assert.Error(t, m.Send(context.Background(), Message{To: "not-an-email"}))
}
