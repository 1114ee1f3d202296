package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"hotspot-billing/internal/config"
	"hotspot-billing/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*TelegramOps)(nil)

// chatSender is satisfied by *tgbotapi.BotAPI.
type chatSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramOps posts operator alerts to the configured admin chats.
type TelegramOps struct {
	bot      chatSender
	adminIDs []int64
}

func NewTelegramOps(cfg config.TelegramConfig) (*TelegramOps, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token empty")
	}
	if len(cfg.AdminIDs) == 0 {
		return nil, errors.New("telegram admin_ids empty")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	return &TelegramOps{bot: bot, adminIDs: cfg.AdminIDs}, nil
}

// Send delivers message to chat id `to`, or to every admin chat when to is empty.
func (t *TelegramOps) Send(ctx context.Context, to, message string) error {
	targets := t.adminIDs
	if to != "" {
		id, err := strconv.ParseInt(to, 10, 64)
		if err != nil {
			return fmt.Errorf("telegram chat id %q: %w", to, err)
		}
		targets = []int64{id}
	}
	var errs []error
	for _, id := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(id, message)
		msg.DisableWebPagePreview = true
		if _, err := t.bot.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
