// Package fetch downloads notice attachments into memory.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"noticebot/internal/clock"
	"noticebot/internal/retry"
	"noticebot/internal/transport"
	"noticebot/pkg/logx"
)

const (
	// DefaultPartSize is the largest attachment sent as a single message.
	DefaultPartSize int64 = 50 << 20
	// DefaultHardLimit bounds how much is ever held in memory.
	DefaultHardLimit int64 = 1 << 30
)

var (
	ErrAttachmentTooLarge = errors.New("attachment too large")
	ErrHardLimit          = errors.New("attachment exceeds hard limit")
)

// TooLargeError is returned after a successful download larger than the
// part size. Data holds the full body so the caller can split it.
type TooLargeError struct {
	Size  int64
	Limit int64
	Data  []byte
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("attachment too large: %d bytes (limit %d)", e.Size, e.Limit)
}

func (e *TooLargeError) Is(target error) bool { return target == ErrAttachmentTooLarge }

// Progress receives the byte count read so far and the announced total
// (-1 when the server sent no Content-Length).
type Progress func(read, total int64)

type Config struct {
	Timeout   time.Duration
	PartSize  int64
	HardLimit int64
	Retry     retry.Policy
	UserAgent string
}

type Option func(*Fetcher)

func WithClock(c clock.Clock) Option { return func(f *Fetcher) { f.clk = c } }

func WithJitter(j retry.Jitter) Option { return func(f *Fetcher) { f.jitter = j } }

func WithProgress(p Progress) Option { return func(f *Fetcher) { f.progress = p } }

type Fetcher struct {
	cfg      Config
	client   *http.Client
	clk      clock.Clock
	jitter   retry.Jitter
	progress Progress
	log      logx.Logger
}

func New(cfg Config, log logx.Logger, opts ...Option) *Fetcher {
	if cfg.PartSize <= 0 {
		cfg.PartSize = DefaultPartSize
	}
	if cfg.HardLimit <= 0 {
		cfg.HardLimit = DefaultHardLimit
	}
	if cfg.HardLimit < cfg.PartSize {
		cfg.HardLimit = cfg.PartSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "noticebot"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Fetcher{
		cfg:    cfg,
		client: transport.NewClient(cfg.Timeout),
		clk:    clock.Real(),
		log:    log.With(logx.String("comp", "fetch")),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Fetch downloads url with bounded retry. A body larger than the part size
// yields a *TooLargeError (matching ErrAttachmentTooLarge) carrying the data.
// Every other failure is a transport error.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	start := f.clk.Now()
	r := retry.Retrier{
		Policy: f.cfg.Retry,
		Clock:  f.clk,
		Jitter: f.jitter,
		OnRetry: func(next int, delay time.Duration, err error) {
			f.log.Warn("attachment fetch retry",
				logx.Int("attempt", next),
				logx.Duration("delay", delay),
				logx.Err(err),
			)
		},
	}

	var data []byte
	attempts, err := r.Do(ctx, func(ctx context.Context, _ int) error {
		b, err := f.download(ctx, url)
		if err != nil {
			if !transport.Retryable(err) {
				return retry.Permanent(err)
			}
			return err
		}
		data = b
		return nil
	})
	if err != nil {
		var te *transport.Error
		if !errors.As(err, &te) {
			err = transport.Failed("fetch attachment", url, err)
		}
		f.log.Warn("attachment fetch failed", logx.Int("attempts", attempts), logx.Err(err))
		return nil, err
	}

	size := int64(len(data))
	f.log.Info("attachment fetched",
		logx.Int64("bytes", size),
		logx.Int("attempts", attempts),
		logx.Duration("took", f.clk.Now().Sub(start)),
	)
	if size > f.cfg.PartSize {
		return nil, &TooLargeError{Size: size, Limit: f.cfg.PartSize, Data: data}
	}
	return data, nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	const op = "fetch attachment"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		// Malformed URL: never retryable.
		return nil, &transport.Error{Op: op, URL: url, StatusCode: http.StatusBadRequest, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, transport.Failed(op, url, err)
	}
	defer resp.Body.Close()

	if !transport.OK(resp.StatusCode) {
		return nil, transport.StatusError(op, resp)
	}
	if resp.ContentLength > f.cfg.HardLimit {
		return nil, f.hardLimit(url, resp.StatusCode)
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	var body io.Reader = io.LimitReader(resp.Body, f.cfg.HardLimit+1)
	if f.progress != nil {
		body = &progressReader{r: body, total: resp.ContentLength, fn: f.progress}
	}
	n, err := buf.ReadFrom(body)
	if err != nil {
		return nil, transport.Failed(op, url, err)
	}
	if n > f.cfg.HardLimit {
		return nil, f.hardLimit(url, resp.StatusCode)
	}
	return buf.Bytes(), nil
}

func (f *Fetcher) hardLimit(url string, code int) error {
	// A 2xx status code keeps the error non-retryable.
	return &transport.Error{
		Op:         "fetch attachment",
		URL:        url,
		StatusCode: code,
		Err:        fmt.Errorf("%w (%d bytes)", ErrHardLimit, f.cfg.HardLimit),
	}
}

type progressReader struct {
	r     io.Reader
	read  int64
	total int64
	fn    Progress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.fn(p.read, p.total)
	}
	return n, err
}
