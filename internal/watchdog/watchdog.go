// Package watchdog periodically re-runs session start so a session that
// dropped out of WORKING recovers without waiting for the next notice.
package watchdog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"noticebot/pkg/logx"
)

const (
	DefaultSchedule = "@every 5m"
	// Long enough for the full QR flow: the starting wait plus five windows.
	DefaultTimeout = 10 * time.Minute
)

// Healer is satisfied by *session.Coordinator.
type Healer interface {
	StartSession(ctx context.Context) error
}

type Config struct {
	Schedule string
	Timezone string
	Timeout  time.Duration
}

type Watchdog struct {
	cfg    Config
	h      Healer
	log    logx.Logger
	loc    *time.Location
	parser cron.Parser

	mu sync.Mutex
	c  *cron.Cron

	busy     atomic.Bool
	runs     atomic.Int64
	failures atomic.Int64
}

func New(cfg Config, h Healer, log logx.Logger) (*Watchdog, error) {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	w := &Watchdog{
		cfg:    cfg,
		h:      h,
		log:    log.With(logx.String("comp", "watchdog")),
		loc:    time.Local,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	if _, err := w.parser.Parse(cfg.Schedule); err != nil {
		return nil, err
	}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, err
		}
		w.loc = loc
	}
	return w, nil
}

// Run schedules checks until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.c != nil {
		w.mu.Unlock()
		return errors.New("watchdog already running")
	}
	c := cron.New(cron.WithParser(w.parser), cron.WithLocation(w.loc))
	if _, err := c.AddFunc(w.cfg.Schedule, func() { _ = w.Check(ctx) }); err != nil {
		w.mu.Unlock()
		return err
	}
	w.c = c
	w.mu.Unlock()

	c.Start()
	w.log.Info("watchdog started", logx.String("schedule", w.cfg.Schedule), logx.String("tz", w.loc.String()))
	<-ctx.Done()

	<-c.Stop().Done()
	w.mu.Lock()
	w.c = nil
	w.mu.Unlock()
	w.log.Info("watchdog stopped")
	return nil
}

// Check runs one StartSession. Overlapping checks are skipped.
func (w *Watchdog) Check(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !w.busy.CompareAndSwap(false, true) {
		w.log.Debug("watchdog check skipped; previous still running")
		return nil
	}
	defer w.busy.Store(false)

	w.runs.Add(1)
	cctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	start := time.Now()
	if err := w.h.StartSession(cctx); err != nil {
		w.failures.Add(1)
		w.log.Error("session check failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return err
	}
	w.log.Debug("session check ok", logx.Duration("took", time.Since(start)))
	return nil
}

// Stats returns the number of checks run and failed.
func (w *Watchdog) Stats() (runs, failures int64) {
	return w.runs.Load(), w.failures.Load()
}
