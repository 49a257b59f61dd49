package notification

import (
	"context"

	accounts "github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
)

// Fanout delivers to every dispatcher and joins their errors.
type Fanout []accounts.NotificationDispatcher

var _ accounts.NotificationDispatcher = Fanout(nil)

func (f Fanout) SendWelcome(ctx context.Context, msg accounts.WelcomeNotification) error {
	var errs []error
	for _, d := range f {
		if d == nil {
			continue
		}
		if err := d.SendWelcome(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return goerrors.Join(errs...)
}

// LogDispatcher only logs that a welcome message would be sent. The secret
// is never logged.
type LogDispatcher struct {
	Logger accounts.Logger
}

func (d LogDispatcher) SendWelcome(_ context.Context, msg accounts.WelcomeNotification) error {
	logger := d.Logger
	if logger == nil {
		logger = accounts.NoopLogger()
	}
	logger.Info("welcome message",
		"identity_id", msg.IdentityID,
		"email", msg.Email,
		"role", msg.Role,
		"code", msg.Code,
	)
	return nil
}
