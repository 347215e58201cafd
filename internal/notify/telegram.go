package notify

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ganeshkumarm1/DriftWatcher/internal/config"
)

// TelegramBot interface for mocking the telegram bot API
type TelegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token string) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token string) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// TelegramDeliverer pushes drift alerts to a telegram chat.
type TelegramDeliverer struct {
	bot    TelegramBot
	chatID int64
}

func NewTelegramDeliverer(cfg config.TelegramConfig) (*TelegramDeliverer, error) {
	return NewTelegramDelivererWithFactory(cfg, defaultBotFactory)
}

// NewTelegramDelivererWithFactory creates a TelegramDeliverer with a custom
// bot factory (for testing)
func NewTelegramDelivererWithFactory(cfg config.TelegramConfig, factory BotFactory) (*TelegramDeliverer, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram chatId is required")
	}

	bot, err := factory(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	log.Printf("[notify] telegram authorized as @%s", bot.GetSelf().UserName)

	return &TelegramDeliverer{bot: bot, chatID: cfg.ChatID}, nil
}

func (t *TelegramDeliverer) Name() string {
	return "telegram"
}

func (t *TelegramDeliverer) Deliver(message string) error {
	msg := tgbotapi.NewMessage(t.chatID, message)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
