package notifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"pasantias-monitor/internal/domain"
	"pasantias-monitor/internal/infra/metrics"
)

type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет уведомления в чат или канал через Bot API.
// Address получателя: числовой chat id либо @username канала.
type Telegram struct {
	bot     botSender
	limiter *rate.Limiter
}

var _ domain.Notifier = (*Telegram)(nil)

// NewTelegram создаёт нотификатор. ratePerSec ограничивает частоту сообщений, по умолчанию 1.
func NewTelegram(bot botSender, ratePerSec float64) *Telegram {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &Telegram{bot: bot, limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1)}
}

// NewTelegramFromToken авторизует бота по токену.
func NewTelegramFromToken(token string, ratePerSec float64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot api: %w", err)
	}
	return NewTelegram(bot, ratePerSec), nil
}

// Send публикует тему и текст одним или несколькими сообщениями.
func (t *Telegram) Send(ctx context.Context, recipient domain.Recipient, subject, body string) error {
	address := strings.TrimSpace(recipient.Address)
	if address == "" {
		return errors.New("telegram: пустой адрес получателя")
	}
	text := strings.TrimSpace(subject + "\n\n" + body)
	for _, part := range splitMessage(text, telegramMessageLimit) {
		msg, err := newTelegramMessage(address, part)
		if err != nil {
			return err
		}
		if err := t.sendPart(ctx, address, msg); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) sendPart(ctx context.Context, address string, msg tgbotapi.MessageConfig) error {
	for attempt := 0; ; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		start := time.Now()
		_, err := t.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", address, start, err)
		if err == nil {
			return nil
		}
		var apiErr *tgbotapi.Error
		if attempt > 0 || !errors.As(err, &apiErr) || apiErr.RetryAfter <= 0 {
			return fmt.Errorf("telegram send: %w", err)
		}
		// 429: Telegram сообщает, сколько ждать; повторяем один раз.
		wait := time.Duration(apiErr.RetryAfter) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func newTelegramMessage(address, text string) (tgbotapi.MessageConfig, error) {
	var msg tgbotapi.MessageConfig
	if strings.HasPrefix(address, "@") {
		msg = tgbotapi.NewMessageToChannel(address, text)
	} else {
		chatID, err := strconv.ParseInt(address, 10, 64)
		if err != nil {
			return msg, fmt.Errorf("telegram: неверный chat id %q: %w", address, err)
		}
		msg = tgbotapi.NewMessage(chatID, text)
	}
	msg.DisableWebPagePreview = true
	return msg, nil
}
