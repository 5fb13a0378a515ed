package notify

import (
	"context"
	"fmt"
	"log"

	"samanvay/internal/domain"
	"samanvay/internal/engine"
	"samanvay/internal/repo"
)

// StoreNotifier records notifications in the workspace database so each
// agency has a queryable inbox. Delivery transport beyond that is the
// webhook dispatcher's job.
type StoreNotifier struct {
	Repo repo.Repo
}

func (s StoreNotifier) Send(ctx context.Context, n domain.Notification) error {
	if err := s.Repo.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}

// LogNotifier writes each notification to the log. Used by the CLI when no
// server is running.
type LogNotifier struct {
	Logger *log.Logger
}

func (l LogNotifier) Send(_ context.Context, n domain.Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("notify [%s] %s -> %s: %s", n.Priority, n.SourceAgency, n.TargetAgency, n.Subject)
	return nil
}

// Multi fans a notification out to several notifiers. The first failure is
// returned, but every notifier gets the message.
type Multi []engine.Notifier

func (m Multi) Send(ctx context.Context, n domain.Notification) error {
	var first error
	for _, notifier := range m {
		if err := notifier.Send(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
