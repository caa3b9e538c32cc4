// Package notify forwards alerts to external channels.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"classtrack/internal/alerts"
)

// Telegram polls the alert buffer and forwards new alerts to a chat. It is
// a plain poll-based reader of the lossy feed: alerts evicted between polls
// are simply missed.
type Telegram struct {
	bot      *tgbotapi.BotAPI
	chatID   int64
	buf      *alerts.Buffer
	interval time.Duration
	lastSeen time.Time
}

// NewTelegram connects the bot and returns a notifier polling buf.
func NewTelegram(token string, chatID int64, buf *alerts.Buffer, interval time.Duration) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	log.Printf("notify: telegram connected as %s", bot.Self.UserName)
	return &Telegram{
		bot:      bot,
		chatID:   chatID,
		buf:      buf,
		interval: interval,
		lastSeen: time.Now(),
	}, nil
}

// Run polls until ctx is cancelled.
func (t *Telegram) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.flush()
		}
	}
}

func (t *Telegram) flush() {
	for _, a := range t.buf.Peek(alerts.DefaultCapacity) {
		if !a.At.After(t.lastSeen) {
			continue
		}
		t.lastSeen = a.At
		msg := tgbotapi.NewMessage(t.chatID, a.Message)
		if _, err := t.bot.Send(msg); err != nil {
			log.Printf("notify: telegram send failed: %v", err)
		}
	}
}
