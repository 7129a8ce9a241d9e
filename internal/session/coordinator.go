package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"noticebot/internal/clock"
	"noticebot/internal/eventbus"
	"noticebot/internal/waha"
	"noticebot/pkg/logx"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultStartingTimeout = 60 * time.Second
	DefaultQRWindow        = 60 * time.Second
	DefaultQRAttempts      = 5
)

type Config struct {
	PollInterval    time.Duration
	StartingTimeout time.Duration
	QRWindow        time.Duration
	QRAttempts      int
}

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StartingTimeout <= 0 {
		c.StartingTimeout = DefaultStartingTimeout
	}
	if c.QRWindow <= 0 {
		c.QRWindow = DefaultQRWindow
	}
	if c.QRAttempts <= 0 {
		c.QRAttempts = DefaultQRAttempts
	}
	return c
}

// Remote is the slice of the session client the coordinator drives.
// waha.Session satisfies it.
type Remote interface {
	Name() string
	Status(ctx context.Context) (waha.SessionStatus, error)
	Start(ctx context.Context) error
	QRChallenge(ctx context.Context) ([]byte, error)
}

type Option func(*Coordinator)

func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) {
		if c != nil {
			co.clk = c
		}
	}
}

// Coordinator owns the authentication flow for one session.
type Coordinator struct {
	cfg    Config
	remote Remote
	hook   QRHook
	clk    clock.Clock
	log    logx.Logger
	bus    eventbus.Bus

	// mu serializes authentication flows.
	mu sync.Mutex
}

func New(cfg Config, remote Remote, hook QRHook, log logx.Logger, bus eventbus.Bus, opts ...Option) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Coordinator{
		cfg:    cfg.normalized(),
		remote: remote,
		hook:   hook,
		clk:    clock.Real(),
		log:    log.With(logx.String("comp", "session"), logx.String("session", remote.Name())),
		bus:    bus,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Coordinator) Name() string { return c.remote.Name() }

// Status is a fresh remote status query.
func (c *Coordinator) Status(ctx context.Context) (waha.SessionStatus, error) {
	return c.remote.Status(ctx)
}

// EnsureAuthenticated returns nil once the session reports WORKING.
func (c *Coordinator) EnsureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run(ctx)
}

// StartSession brings the session up: WORKING is a no-op, STARTING and
// SCAN_QR_CODE are authenticated directly, anything else is started first.
func (c *Coordinator) StartSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.remote.Status(ctx)
	if err != nil {
		return fmt.Errorf("session status: %w", err)
	}
	switch st.Status {
	case waha.StatusWorking:
		c.log.Debug("session already working")
		return nil
	case waha.StatusStarting, waha.StatusScanQR:
		c.log.Info("session pending, authenticating", logx.String("status", string(st.Status)))
	default:
		c.log.Info("starting session", logx.String("status", string(st.Status)))
		if err := c.remote.Start(ctx); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
	}
	return c.run(ctx)
}

func (c *Coordinator) run(ctx context.Context) error {
	m := Machine{MaxAttempts: c.cfg.QRAttempts}
	var (
		st       State
		act      Action
		deadline time.Time
	)
	ev := c.observe(ctx, time.Time{})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		prev := st.Phase
		st, act = m.Next(st, ev)

		switch act {
		case ActionSucceed:
			if prev != PhaseInit {
				c.log.Info("session authenticated", logx.Int("attempt", st.Attempt))
				eventbus.Publish(c.bus, eventbus.TypeAuthenticated, eventbus.SessionEvent{
					Session: c.remote.Name(),
					Status:  string(waha.StatusWorking),
					Attempt: st.Attempt,
				})
			}
			return nil

		case ActionFail:
			c.log.Error("authentication failed", logx.Err(st.Failure), logx.String("phase", prev.String()))
			eventbus.Publish(c.bus, eventbus.TypeAuthFailed, eventbus.SessionEvent{
				Session: c.remote.Name(),
				Attempt: st.Attempt,
				Error:   st.Failure.Error(),
			})
			return st.Failure

		case ActionIssueChallenge:
			deadline = c.clk.Now().Add(c.cfg.QRWindow)
			if err := c.issueChallenge(ctx, st.Attempt, deadline); err != nil {
				c.log.Warn("qr challenge fetch failed", logx.Int("attempt", st.Attempt), logx.Err(err))
				ev = Failed(err)
				continue
			}
			ev = c.poll(ctx, deadline)

		case ActionPoll:
			if st.Phase == PhaseStarting && prev != PhaseStarting {
				deadline = c.clk.Now().Add(c.cfg.StartingTimeout)
				c.log.Info("waiting for session to leave STARTING", logx.Duration("timeout", c.cfg.StartingTimeout))
			}
			ev = c.poll(ctx, deadline)
		}
	}
}

// poll waits one interval and observes the status.
func (c *Coordinator) poll(ctx context.Context, deadline time.Time) Event {
	if err := c.clk.Sleep(ctx, c.cfg.PollInterval); err != nil {
		return Failed(err)
	}
	return c.observe(ctx, deadline)
}

func (c *Coordinator) observe(ctx context.Context, deadline time.Time) Event {
	st, err := c.remote.Status(ctx)
	if err != nil {
		return Failed(err)
	}
	expired := !deadline.IsZero() && !c.clk.Now().Before(deadline)
	c.log.Debug("session status", logx.String("status", string(st.Status)), logx.Bool("expired", expired))
	return Observed(st.Status, expired)
}

func (c *Coordinator) issueChallenge(ctx context.Context, attempt int, expires time.Time) error {
	img, err := c.remote.QRChallenge(ctx)
	if err != nil {
		return err
	}
	ch := Challenge{
		Session:     c.remote.Name(),
		Attempt:     attempt,
		MaxAttempts: c.cfg.QRAttempts,
		Image:       img,
		ExpiresAt:   expires,
	}
	c.log.Warn("qr challenge issued, scan required",
		logx.Int("attempt", attempt),
		logx.Int("max_attempts", c.cfg.QRAttempts),
		logx.Int("bytes", len(img)),
	)
	eventbus.Publish(c.bus, eventbus.TypeQRChallenge, eventbus.SessionEvent{
		Session: ch.Session,
		Status:  string(waha.StatusScanQR),
		Attempt: attempt,
	})
	if c.hook != nil {
		if err := c.hook.ShowQR(ctx, ch); err != nil {
			// Surfacing is best-effort; the operator may still scan elsewhere.
			c.log.Warn("qr hook failed", logx.Err(err))
		}
	}
	return nil
}
