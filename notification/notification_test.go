package notification_test

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func welcome() accounts.WelcomeNotification {
	return accounts.WelcomeNotification{
		IdentityID:     "id-1",
		Email:          "ada@example.com",
		FullName:       "Ada <Lovelace>",
		Role:           accounts.RoleMember,
		MembershipTier: "gold",
		Code:           "MBR-0A1B2C3D",
		Secret:         "aB3&x<9!kQ#z",
	}
}

func TestTemplateRenderer_RenderWelcome(t *testing.T) {
	msg, err := notification.NewTemplateRenderer().RenderWelcome(welcome())
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", msg.To)
	assert.Equal(t, "Welcome Ada <Lovelace>, your member account is ready", msg.Subject)
	assert.Contains(t, msg.Body, "Hello Ada <Lovelace>,")
	assert.Contains(t, msg.Body, "with the gold membership")
	assert.Contains(t, msg.Body, "Account code: MBR-0A1B2C3D")
	assert.Contains(t, msg.Body, "Temporary password: aB3&x<9!kQ#z")
}

func TestTemplateRenderer_AdministratorHasNoTier(t *testing.T) {
	n := welcome()
	n.Role = accounts.RoleAdministrator
	n.Code = "ADM-00000001"

	msg, err := notification.NewTemplateRenderer().RenderWelcome(n)
	require.NoError(t, err)

	assert.Contains(t, msg.Subject, "administrator account")
	assert.NotContains(t, msg.Body, "membership")
}

func TestTemplateRenderer_CustomTemplates(t *testing.T) {
	fsys := fstest.MapFS{
		"welcome.django":         {Data: []byte("code={{ code }}")},
		"welcome_subject.django": {Data: []byte("hi {{ email }}")},
	}

	msg, err := notification.NewTemplateRenderer(notification.WithTemplates(fsys)).RenderWelcome(welcome())
	require.NoError(t, err)
	assert.Equal(t, "hi ada@example.com", msg.Subject)
	assert.Equal(t, "code=MBR-0A1B2C3D\n", msg.Body)
}

func TestSMTPDispatcher_SendWelcome(t *testing.T) {
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  string
	)

	d := notification.NewSMTPDispatcher(notification.SMTPConfig{
		Host: "mail.example.com",
		Port: 2525,
		From: "noreply@example.com",
	},
		notification.WithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }),
		notification.WithSendFunc(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
			assert.Nil(t, a)
			return nil
		}),
	)

	require.NoError(t, d.SendWelcome(context.Background(), welcome()))

	assert.Equal(t, "mail.example.com:2525", gotAddr)
	assert.Equal(t, "noreply@example.com", gotFrom)
	assert.Equal(t, []string{"ada@example.com"}, gotTo)
	assert.True(t, strings.HasPrefix(gotMsg, "From: noreply@example.com\r\nTo: ada@example.com\r\n"))
	assert.Contains(t, gotMsg, "Subject: Welcome Ada <Lovelace>, your member account is ready\r\n")
	assert.Contains(t, gotMsg, "Temporary password: aB3&x<9!kQ#z\r\n")
}

func TestSMTPDispatcher_SubjectCannotInjectHeaders(t *testing.T) {
	var gotMsg string
	d := notification.NewSMTPDispatcher(notification.SMTPConfig{Host: "localhost", Port: 25, From: "noreply@example.com"},
		notification.WithSendFunc(func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
			gotMsg = string(msg)
			return nil
		}),
	)

	n := welcome()
	n.FullName = "Eve\r\nBcc: attacker@evil.test\r\n\r\nfake body"
	require.NoError(t, d.SendWelcome(context.Background(), n))

	headers, _, found := strings.Cut(gotMsg, "\r\n\r\n")
	require.True(t, found)

	lines := strings.Split(headers, "\r\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[2], "Subject: =?utf-8?q?"), lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "Date: "))
	assert.Equal(t, "MIME-Version: 1.0", lines[4])
	for _, line := range lines {
		assert.False(t, strings.HasPrefix(line, "Bcc:"), "unexpected header %q", line)
	}
}

func TestSMTPDispatcher_RejectsRecipientWithLineBreaks(t *testing.T) {
	d := notification.NewSMTPDispatcher(notification.SMTPConfig{Host: "localhost", Port: 25, From: "noreply@example.com"},
		notification.WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error {
			t.Fatal("message must not be sent")
			return nil
		}),
	)

	n := welcome()
	n.Email = "ada@example.com\r\nBcc: attacker@evil.test"

	err := d.SendWelcome(context.Background(), n)
	require.Error(t, err)
	assert.True(t, accounts.IsValidationError(err))
}

func TestSMTPDispatcher_SendFailure(t *testing.T) {
	d := notification.NewSMTPDispatcher(notification.SMTPConfig{Host: "localhost", Port: 25, From: "a@example.com"},
		notification.WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error {
			return errors.New("relay down")
		}),
	)

	err := d.SendWelcome(context.Background(), welcome())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay down")
}

func TestSMTPConfig_Validate(t *testing.T) {
	assert.Error(t, notification.SMTPConfig{}.Validate())
	assert.Error(t, notification.SMTPConfig{Host: "h", Port: 25, From: "not-an-email"}.Validate())
	assert.NoError(t, notification.SMTPConfig{Host: "h", Port: 25, From: "a@example.com"}.Validate())
}

func TestFanout_JoinsErrors(t *testing.T) {
	var calls int
	ok := accounts.NotificationDispatcherFunc(func(context.Context, accounts.WelcomeNotification) error {
		calls++
		return nil
	})
	fail := accounts.NotificationDispatcherFunc(func(context.Context, accounts.WelcomeNotification) error {
		calls++
		return errors.New("boom")
	})

	err := notification.Fanout{ok, nil, fail, ok}.SendWelcome(context.Background(), welcome())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 3, calls)

	assert.NoError(t, notification.Fanout{ok}.SendWelcome(context.Background(), welcome()))
	assert.NoError(t, notification.LogDispatcher{}.SendWelcome(context.Background(), welcome()))
}
