package notify

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/chickenbot/internal/bus"
	"github.com/stellarlinkco/chickenbot/internal/config"
)

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

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
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// sendTimeout bounds every Telegram API call; sends run on the bus dispatcher.
const sendTimeout = 30 * time.Second

// Telegram forwards bot events to an operator chat.
type Telegram struct {
	bot    TelegramBot
	chatID int64
}

func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	return NewTelegramWithFactory(cfg, defaultBotFactory)
}

// NewTelegramWithFactory creates a Telegram notifier with custom bot factory (for testing)
func NewTelegramWithFactory(cfg config.TelegramConfig, factory BotFactory) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}

	client := &http.Client{Timeout: sendTimeout}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	bot, err := factory(cfg.Token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	log.Printf("[notify] telegram authorized as @%s", bot.GetSelf().UserName)
	return &Telegram{bot: bot, chatID: cfg.ChatID}, nil
}

// Handle sends ev to the operator chat. Failures are logged and dropped.
func (t *Telegram) Handle(ev bus.Event) {
	msg := tgbotapi.NewMessage(t.chatID, Format(ev))
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		log.Printf("[notify] telegram send failed: %v", err)
	}
}

// Format renders an event as a one-line operator message.
func Format(ev bus.Event) string {
	var sb strings.Builder
	switch ev.Kind {
	case bus.EventReplied:
		fmt.Fprintf(&sb, "replied to u/%s", ev.Author)
	case bus.EventForbidden:
		fmt.Fprintf(&sb, "forbidden from replying to u/%s", ev.Author)
	case bus.EventFailed:
		fmt.Fprintf(&sb, "failed to reply to u/%s", ev.Author)
	case bus.EventRemoved:
		fmt.Fprintf(&sb, "removed reply at the request of u/%s", ev.Author)
	case bus.EventRefused:
		fmt.Fprintf(&sb, "refused removal request from u/%s", ev.Author)
	default:
		fmt.Fprintf(&sb, "%s: u/%s", ev.Kind, ev.Author)
	}
	if ev.Permalink != "" {
		sb.WriteString(" ")
		sb.WriteString(permalinkURL(ev.Permalink))
	}
	if ev.Detail != "" {
		sb.WriteString(" (")
		sb.WriteString(ev.Detail)
		sb.WriteString(")")
	}
	return sb.String()
}

func permalinkURL(p string) string {
	if strings.HasPrefix(p, "/") {
		return "https://www.reddit.com" + p
	}
	return p
}
