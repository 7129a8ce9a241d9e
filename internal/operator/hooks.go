package operator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"noticebot/internal/session"
	"noticebot/pkg/logx"
)

// FileHook writes each challenge image to Path, replacing the previous one.
type FileHook struct {
	Path string
}

func (h FileHook) ShowQR(_ context.Context, ch session.Challenge) error {
	if h.Path == "" {
		return errors.New("qr path is empty")
	}
	if len(ch.Image) == 0 {
		return errors.New("qr image is empty")
	}
	if dir := filepath.Dir(h.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := h.Path + ".tmp"
	if err := os.WriteFile(tmp, ch.Image, 0o600); err != nil {
		return fmt.Errorf("write qr: %w", err)
	}
	if err := os.Rename(tmp, h.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write qr: %w", err)
	}
	return nil
}

// LogHook reports each challenge in the log so a console operator knows to
// look for the image.
func LogHook(log logx.Logger, qrPath string) session.QRHook {
	return session.QRHookFunc(func(_ context.Context, ch session.Challenge) error {
		fields := []logx.Field{
			logx.String("session", ch.Session),
			logx.Int("attempt", ch.Attempt),
			logx.Int("max_attempts", ch.MaxAttempts),
			logx.String("expires_at", ch.ExpiresAt.Format("15:04:05")),
		}
		if qrPath != "" {
			fields = append(fields, logx.String("qr_path", qrPath))
		}
		log.Warn("scan QR code to authenticate", fields...)
		return nil
	})
}

// Hooks assembles the challenge hooks for the configured outputs. tg may be
// nil.
func Hooks(log logx.Logger, qrPath string, tg *Telegram) session.Hooks {
	hs := session.Hooks{LogHook(log, qrPath)}
	if qrPath != "" {
		hs = append(hs, FileHook{Path: qrPath})
	}
	if tg != nil {
		hs = append(hs, tg)
	}
	return hs
}
