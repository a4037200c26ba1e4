package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers human-facing events. Delivery is best effort; a failed
// notification never blocks or fails the trade that produced it.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// LogNotifier writes notifications to the application log. It is the fallback
// when no external channel is configured.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n *LogNotifier) Notify(_ context.Context, message string) {
	if n == nil || n.Logger == nil {
		return
	}
	n.Logger.Info("notify", zap.String("message", message))
}

// Multi fans a notification out to every configured channel.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, message)
		}
	}
}
