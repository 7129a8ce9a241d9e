package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noticebot/internal/clock"
	"noticebot/internal/eventbus"
	"noticebot/internal/waha"
	"noticebot/pkg/logx"
)

// fakeRemote replays a status script; the last entry repeats forever.
type fakeRemote struct {
	mu       sync.Mutex
	script   []waha.Status
	calls    int
	starts   int
	qrs      int
	qrErr    error
	statusFn func(call int) (waha.Status, error)
}

func (f *fakeRemote) Name() string { return "default" }

func (f *fakeRemote) Status(context.Context) (waha.SessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	if f.statusFn != nil {
		st, err := f.statusFn(call)
		return waha.SessionStatus{Name: "default", Status: st}, err
	}
	i := call
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	return waha.SessionStatus{Name: "default", Status: f.script[i]}, nil
}

func (f *fakeRemote) Start(context.Context) error {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
	return nil
}

func (f *fakeRemote) QRChallenge(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qrs++
	if f.qrErr != nil {
		return nil, f.qrErr
	}
	return []byte("\x89PNG"), nil
}

type recordingHook struct {
	mu   sync.Mutex
	seen []Challenge
}

func (h *recordingHook) ShowQR(_ context.Context, ch Challenge) error {
	h.mu.Lock()
	h.seen = append(h.seen, ch)
	h.mu.Unlock()
	return nil
}

func newTestCoordinator(remote Remote, hook QRHook, bus eventbus.Bus) (*Coordinator, *clock.FakeClock) {
	clk := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := Config{PollInterval: 5 * time.Second, StartingTimeout: 60 * time.Second, QRWindow: 60 * time.Second, QRAttempts: 5}
	return New(cfg, remote, hook, logx.Nop(), bus, WithClock(clk)), clk
}

func TestEnsureAuthenticatedWorkingIsImmediate(t *testing.T) {
	remote := &fakeRemote{script: []waha.Status{waha.StatusWorking}}
	c, clk := newTestCoordinator(remote, nil, nil)

	require.NoError(t, c.EnsureAuthenticated(context.Background()))
	assert.Equal(t, 1, remote.calls)
	assert.Empty(t, clk.Sleeps())
}

func TestEnsureAuthenticatedStartingThenWorking(t *testing.T) {
	remote := &fakeRemote{script: []waha.Status{waha.StatusStarting, waha.StatusStarting, waha.StatusWorking}}
	c, clk := newTestCoordinator(remote, nil, nil)

	require.NoError(t, c.EnsureAuthenticated(context.Background()))
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, clk.Sleeps())
}

func TestEnsureAuthenticatedStartingTimesOut(t *testing.T) {
	remote := &fakeRemote{script: []waha.Status{waha.StatusStarting}}
	c, clk := newTestCoordinator(remote, nil, nil)

	err := c.EnsureAuthenticated(context.Background())
	require.ErrorIs(t, err, ErrTimeout)

	var waited time.Duration
	for _, d := range clk.Sleeps() {
		waited += d
	}
	assert.Equal(t, 60*time.Second, waited)
}

func TestEnsureAuthenticatedStartingToUnexpectedFailsFast(t *testing.T) {
	remote := &fakeRemote{script: []waha.Status{waha.StatusStarting, waha.StatusFailed}}
	c, clk := newTestCoordinator(remote, nil, nil)

	err := c.EnsureAuthenticated(context.Background())
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Len(t, clk.Sleeps(), 1)
}

func TestEnsureAuthenticatedScanThenWorking(t *testing.T) {
	remote := &fakeRemote{script: []waha.Status{waha.StatusScanQR, waha.StatusScanQR, waha.StatusWorking}}
	hook := &recordingHook{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	c, _ := newTestCoordinator(remote, hook, bus)
	require.NoError(t, c.EnsureAuthenticated(context.Background()))

	require.Len(t, hook.seen, 1)
	assert.Equal(t, 1, hook.seen[0].Attempt)
	assert.Equal(t, 5, hook.seen[0].MaxAttempts)
	assert.Equal(t, []byte("\x89PNG"), hook.seen[0].Image)

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []string{eventbus.TypeQRChallenge, eventbus.TypeAuthenticated}, types)
}

func TestEnsureAuthenticatedQRAttemptsExhausted(t *testing.T) {
	remote := &fakeRemote{script: []waha.Status{waha.StatusScanQR}}
	hook := &recordingHook{}
	c, clk := newTestCoordinator(remote, hook, nil)

	err := c.EnsureAuthenticated(context.Background())
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, 5, remote.qrs)
	require.Len(t, hook.seen, 5)
	for i, ch := range hook.seen {
		assert.Equal(t, i+1, ch.Attempt)
	}
	// 12 polls per 60s window, 5 windows.
	assert.Len(t, clk.Sleeps(), 60)
}

func TestEnsureAuthenticatedQRFetchErrorsExhaustAttempts(t *testing.T) {
	boom := errors.New("qr unavailable")
	remote := &fakeRemote{script: []waha.Status{waha.StatusScanQR}, qrErr: boom}
	c, clk := newTestCoordinator(remote, nil, nil)

	err := c.EnsureAuthenticated(context.Background())
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 5, remote.qrs)
	assert.Empty(t, clk.Sleeps())
}

func TestEnsureAuthenticatedRecoversOnLaterAttempt(t *testing.T) {
	// Polls 1..12 exhaust the first window; WORKING arrives mid second window.
	remote := &fakeRemote{statusFn: func(call int) (waha.Status, error) {
		if call >= 15 {
			return waha.StatusWorking, nil
		}
		return waha.StatusScanQR, nil
	}}
	hook := &recordingHook{}
	c, _ := newTestCoordinator(remote, hook, nil)

	require.NoError(t, c.EnsureAuthenticated(context.Background()))
	assert.Len(t, hook.seen, 2)
}

func TestEnsureAuthenticatedTransportErrorPropagates(t *testing.T) {
	boom := errors.New("dial tcp: refused")
	remote := &fakeRemote{statusFn: func(int) (waha.Status, error) { return "", boom }}
	c, _ := newTestCoordinator(remote, nil, nil)

	err := c.EnsureAuthenticated(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestEnsureAuthenticatedHonorsCancel(t *testing.T) {
	remote := &fakeRemote{script: []waha.Status{waha.StatusStarting}}
	c, _ := newTestCoordinator(remote, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.EnsureAuthenticated(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStartSessionWorkingIsNoop(t *testing.T) {
	remote := &fakeRemote{script: []waha.Status{waha.StatusWorking}}
	c, _ := newTestCoordinator(remote, nil, nil)

	require.NoError(t, c.StartSession(context.Background()))
	assert.Equal(t, 0, remote.starts)
	assert.Equal(t, 1, remote.calls)
}

func TestStartSessionFailedIsStartedThenAuthenticated(t *testing.T) {
	remote := &fakeRemote{script: []waha.Status{waha.StatusFailed, waha.StatusStarting, waha.StatusWorking}}
	c, _ := newTestCoordinator(remote, nil, nil)

	require.NoError(t, c.StartSession(context.Background()))
	assert.Equal(t, 1, remote.starts)
}

func TestStartSessionPendingSkipsStart(t *testing.T) {
	remote := &fakeRemote{script: []waha.Status{waha.StatusScanQR, waha.StatusScanQR, waha.StatusWorking}}
	c, _ := newTestCoordinator(remote, &recordingHook{}, nil)

	require.NoError(t, c.StartSession(context.Background()))
	assert.Equal(t, 0, remote.starts)
}

func TestHooksJoinErrors(t *testing.T) {
	a := errors.New("a")
	called := 0
	hs := Hooks{
		QRHookFunc(func(context.Context, Challenge) error { called++; return a }),
		nil,
		QRHookFunc(func(context.Context, Challenge) error { called++; return nil }),
	}
	err := hs.ShowQR(context.Background(), Challenge{})
	assert.ErrorIs(t, err, a)
	assert.Equal(t, 2, called)
}
