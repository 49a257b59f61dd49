package notification

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	accounts "github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
)

// SMTPConfig configures the mail relay.
type SMTPConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	From     string `json:"from" mapstructure:"from"`
}

// Validate checks the relay settings.
func (c SMTPConfig) Validate() error {
	err := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&c,
			validation.Field(&c.Host, validation.Required),
			validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
			validation.Field(&c.From, validation.Required, is.EmailFormat),
		)
	}, "invalid smtp configuration")
	if err != nil {
		return err
	}
	return nil
}

func (c SMTPConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPDispatcher is an accounts.NotificationDispatcher delivering the
// rendered welcome message by mail.
type SMTPDispatcher struct {
	config   SMTPConfig
	renderer Renderer
	send     SendFunc
	logger   accounts.Logger
	now      func() time.Time
}

var _ accounts.NotificationDispatcher = (*SMTPDispatcher)(nil)

// SMTPOption customizes the dispatcher.
type SMTPOption func(*SMTPDispatcher)

func WithRenderer(r Renderer) SMTPOption {
	return func(d *SMTPDispatcher) {
		if r != nil {
			d.renderer = r
		}
	}
}

// WithSendFunc replaces smtp.SendMail, mostly for tests.
func WithSendFunc(fn SendFunc) SMTPOption {
	return func(d *SMTPDispatcher) {
		if fn != nil {
			d.send = fn
		}
	}
}

func WithLogger(logger accounts.Logger) SMTPOption {
	return func(d *SMTPDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithClock(now func() time.Time) SMTPOption {
	return func(d *SMTPDispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func NewSMTPDispatcher(cfg SMTPConfig, opts ...SMTPOption) *SMTPDispatcher {
	d := &SMTPDispatcher{
		config:   cfg,
		renderer: NewTemplateRenderer(),
		send:     smtp.SendMail,
		logger:   accounts.NoopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *SMTPDispatcher) SendWelcome(ctx context.Context, msg accounts.WelcomeNotification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rendered, err := d.renderer.RenderWelcome(msg)
	if err != nil {
		return err
	}

	if strings.ContainsAny(rendered.To, "\r\n") {
		return goerrors.New("recipient contains line breaks", goerrors.CategoryBadInput).
			WithTextCode(accounts.TextCodeValidationFailed).
			WithMetadata(map[string]any{"identity_id": msg.IdentityID})
	}

	var auth smtp.Auth
	if d.config.Username != "" {
		auth = smtp.PlainAuth("", d.config.Username, d.config.Password, d.config.Host)
	}

	if err := d.send(d.config.addr(), auth, d.config.From, []string{rendered.To}, d.compose(rendered)); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "could not deliver welcome message").
			WithMetadata(map[string]any{"identity_id": msg.IdentityID})
	}

	d.logger.Info("welcome message sent", "identity_id", msg.IdentityID)
	return nil
}

func (d *SMTPDispatcher) compose(m Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", d.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", d.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	return []byte(b.String())
}
