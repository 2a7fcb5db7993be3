package notifier

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts alerts to a chat through the Bot API.
type Telegram struct {
	bot    telegramSender
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notifier.NewTelegram: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	chatID := t.chatID
	if msg.Recipient != "" {
		id, err := strconv.ParseInt(msg.Recipient, 10, 64)
		if err != nil {
			return fmt.Errorf("notifier.telegram: invalid chat id %q", msg.Recipient)
		}
		chatID = id
	}

	out := tgbotapi.NewMessage(chatID, msg.Body)
	out.DisableWebPagePreview = true
	if _, err := t.bot.Send(out); err != nil {
		return fmt.Errorf("notifier.telegram: %w", err)
	}
	return nil
}
