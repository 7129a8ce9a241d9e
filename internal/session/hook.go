package session

import (
	"context"
	"errors"
	"time"
)

// Challenge is one QR authentication challenge surfaced to the operator.
type Challenge struct {
	Session     string
	Attempt     int
	MaxAttempts int
	Image       []byte // PNG as returned by the remote service
	ExpiresAt   time.Time
}

// QRHook surfaces a challenge to a human. It must not block past ctx.
type QRHook interface {
	ShowQR(ctx context.Context, ch Challenge) error
}

type QRHookFunc func(ctx context.Context, ch Challenge) error

func (f QRHookFunc) ShowQR(ctx context.Context, ch Challenge) error { return f(ctx, ch) }

// Hooks fans a challenge out to every hook and joins their errors.
type Hooks []QRHook

func (hs Hooks) ShowQR(ctx context.Context, ch Challenge) error {
	var errs []error
	for _, h := range hs {
		if h == nil {
			continue
		}
		if err := h.ShowQR(ctx, ch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
