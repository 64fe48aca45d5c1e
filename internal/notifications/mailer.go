package notifications

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// ErrMailerNotConfigured is returned when no SMTP host is set.
var ErrMailerNotConfigured = errors.New("smtp host not configured")

// SMTPConfig configures the outbound mailer.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	// MaxElapsed bounds retries of one delivery. Zero means 30 seconds.
	MaxElapsed time.Duration
}

// Message is one plain-text email.
type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer delivers email over SMTP, retrying transient failures with exponential backoff.
type Mailer struct {
	cfg    SMTPConfig
	send   SendFunc
	logger *zap.Logger
}

// NewMailer creates an SMTP mailer.
func NewMailer(cfg SMTPConfig, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 30 * time.Second
	}
	return &Mailer{cfg: cfg, send: smtp.SendMail, logger: logger}
}

// WithSendFunc replaces the transport, for tests.
func (m *Mailer) WithSendFunc(fn SendFunc) *Mailer {
	m.send = fn
	return m
}

// Send delivers msg. Permanent SMTP rejections (5xx) are not retried.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if m.cfg.Host == "" {
		return ErrMailerNotConfigured
	}
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	raw := m.compose(msg)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := m.send(addr, auth, m.cfg.FromAddress, []string{msg.To}, raw)
		if err == nil {
			return struct{}{}, nil
		}
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) && tpErr.Code >= 500 {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(m.cfg.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn("smtp send failed, retrying", zap.String("to", msg.To), zap.Duration("next", next), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (m *Mailer) compose(msg Message) []byte {
	from := mail.Address{Name: m.cfg.FromName, Address: m.cfg.FromAddress}
	to := mail.Address{Name: msg.ToName, Address: msg.To}
	var b strings.Builder
	b.WriteString("From: " + from.String() + "\r\n")
	b.WriteString("To: " + to.String() + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}
