package notify

import (
	"context"
	"time"

	"github.com/mymmrac/telego"
	"go.uber.org/zap"

	"dexbot/internal/config"
)

// TelegramNotifier pushes messages to a single chat. The bot token and chat
// id come from config; failures are logged and dropped.
type TelegramNotifier struct {
	bot    *telego.Bot
	chatID telego.ChatID
	logger *zap.Logger
}

func NewTelegramNotifier(cfg config.TelegramConfig, logger *zap.Logger) (*TelegramNotifier, error) {
	bot, err := telego.NewBot(cfg.Token, telego.WithDiscardLogger())
	if err != nil {
		return nil, err
	}
	return &TelegramNotifier{
		bot:    bot,
		chatID: telego.ChatID{ID: cfg.ChatID},
		logger: logger,
	}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, message string) {
	if n == nil || n.bot == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := n.bot.SendMessage(sendCtx, &telego.SendMessageParams{
		ChatID: n.chatID,
		Text:   message,
	})
	if err != nil && n.logger != nil {
		n.logger.Warn("telegram send failed", zap.Error(err))
	}
}
