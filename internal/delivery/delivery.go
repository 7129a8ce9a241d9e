// Package delivery sends messages to destination chats through the automation
// service, re-ensuring authentication before every attempt.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"noticebot/internal/clock"
	"noticebot/internal/retry"
	"noticebot/internal/session"
	"noticebot/internal/transport"
	"noticebot/internal/waha"
	"noticebot/pkg/logx"
)

var ErrDeliveryFailed = errors.New("delivery failed")

// Error reports a send that could not be completed. Err is the last remote
// (or authentication) error observed.
type Error struct {
	Op       string
	ChatID   string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("delivery failed: %s to %s after %d attempt(s): %v", e.Op, e.ChatID, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrDeliveryFailed }

// Authenticator is satisfied by *session.Coordinator.
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) error
}

// Remote is satisfied by waha.Session.
type Remote interface {
	SendFile(ctx context.Context, chatID string, f waha.File, caption string) error
	SendLinkPreview(ctx context.Context, chatID, link, title string) error
	SendText(ctx context.Context, chatID, text string) error
}

const DefaultMaxDelay = 60 * time.Second

type Config struct {
	Retry      retry.Policy
	RatePerSec float64
	Burst      int
	Mimetype   string
}

type Option func(*Client)

func WithClock(c clock.Clock) Option { return func(cl *Client) { cl.clk = c } }

func WithJitter(j retry.Jitter) Option { return func(cl *Client) { cl.jitter = j } }

type Client struct {
	cfg     Config
	auth    Authenticator
	remote  Remote
	limiter *rate.Limiter
	clk     clock.Clock
	jitter  retry.Jitter
	log     logx.Logger
}

func New(cfg Config, auth Authenticator, remote Remote, log logx.Logger, opts ...Option) *Client {
	if cfg.Retry.Max <= 0 {
		cfg.Retry.Max = DefaultMaxDelay
	}
	if cfg.Mimetype == "" {
		cfg.Mimetype = "application/pdf"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	c := &Client{
		cfg:     cfg,
		auth:    auth,
		remote:  remote,
		limiter: lim,
		clk:     clock.Real(),
		log:     log.With(logx.String("comp", "delivery")),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// SendFile posts data as a file message with the given name and caption.
func (c *Client) SendFile(ctx context.Context, chatID string, data []byte, filename, caption string) error {
	f := waha.File{Mimetype: c.cfg.Mimetype, Filename: filename, Data: data}
	return c.send(ctx, "sendFile", chatID, c.cfg.Retry, func(ctx context.Context) error {
		return c.remote.SendFile(ctx, chatID, f, caption)
	})
}

// SendLinkPreview posts a link-preview message pointing at link.
func (c *Client) SendLinkPreview(ctx context.Context, chatID, link, title string) error {
	return c.send(ctx, "sendLinkPreview", chatID, c.cfg.Retry, func(ctx context.Context) error {
		return c.remote.SendLinkPreview(ctx, chatID, link, title)
	})
}

// SendText posts a plain text message. It is not retried.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	p := c.cfg.Retry
	p.Attempts = 1
	return c.send(ctx, "sendText", chatID, p, func(ctx context.Context) error {
		return c.remote.SendText(ctx, chatID, text)
	})
}

func (c *Client) send(ctx context.Context, op, chatID string, p retry.Policy, fn func(context.Context) error) error {
	log := c.log.With(logx.String("op", op), logx.String("chat", chatID))
	r := retry.Retrier{
		Policy: p,
		Clock:  c.clk,
		Jitter: c.jitter,
		OnRetry: func(next int, delay time.Duration, err error) {
			log.Warn("send retry", logx.Int("attempt", next), logx.Duration("delay", delay), logx.Err(err))
		},
	}

	attempts, err := r.Do(ctx, func(ctx context.Context, _ int) error {
		if err := c.auth.EnsureAuthenticated(ctx); err != nil {
			if errors.Is(err, session.ErrAuthenticationFailed) || errors.Is(err, session.ErrTimeout) {
				return retry.Permanent(err)
			}
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		err := fn(ctx)
		if err != nil && !transport.Retryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return &Error{Op: op, ChatID: chatID, Attempts: attempts, Err: err}
	}
	log.Debug("sent", logx.Int("attempts", attempts))
	return nil
}
