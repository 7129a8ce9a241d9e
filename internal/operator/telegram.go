package operator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"noticebot/internal/session"
	"noticebot/pkg/logx"
)

// Telegram messages are capped by the Bot API.
const maxMessageLen = 4096

type TelegramConfig struct {
	Token  string
	ChatID int64
	// APIURL overrides the Bot API endpoint; empty uses the public one.
	APIURL  string
	Timeout time.Duration
}

// Telegram is a send-only bot bound to the operator chat. It satisfies
// logx.Sender and session.QRHook.
type Telegram struct {
	bot  *tele.Bot
	chat tele.ChatID
	log  logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		URL:    cfg.APIURL,
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
		// Sending needs no getMe; an unreachable API must not block startup.
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: b, chat: tele.ChatID(cfg.ChatID), log: log.With(logx.String("comp", "operator.telegram"))}, nil
}

// SendText posts text to the operator chat.
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = truncateText(text, maxMessageLen)
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

// ShowQR sends the challenge image with its attempt counter and expiry.
func (t *Telegram) ShowQR(ctx context.Context, ch session.Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := &tele.Photo{
		File:    tele.FromReader(bytes.NewReader(ch.Image)),
		Caption: challengeCaption(ch),
	}
	if _, err := t.bot.Send(t.chat, photo); err != nil {
		return fmt.Errorf("telegram qr: %w", err)
	}
	t.log.Debug("qr sent", logx.Int("attempt", ch.Attempt))
	return nil
}

// truncateText caps s at maxN bytes without splitting a UTF-8 sequence.
func truncateText(s string, maxN int) string {
	if len(s) <= maxN {
		return s
	}
	cut := maxN - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func challengeCaption(ch session.Challenge) string {
	return fmt.Sprintf("Scan to link WhatsApp session %q\nAttempt %d of %d, expires %s",
		ch.Session, ch.Attempt, ch.MaxAttempts, ch.ExpiresAt.Format("15:04:05"))
}
