package broadcast

import (
	"context"
	"time"
)

// Mode is how a notice reached (or failed to reach) a chat.
type Mode string

const (
	ModeFile  Mode = "file"
	ModeSplit Mode = "split"
	ModeLink  Mode = "link"
	ModeNone  Mode = "none"
)

// ChatOutcome is the result for one destination chat. Cause holds the fetch
// or send error that triggered a link fallback; Err is set only when nothing
// could be delivered.
type ChatOutcome struct {
	ChatID string `json:"chat_id"`
	Mode   Mode   `json:"mode"`
	Parts  int    `json:"parts,omitempty"`
	Bytes  int    `json:"bytes,omitempty"`
	Cause  error  `json:"-"`
	Err    error  `json:"-"`
}

type Report struct {
	NoticeID int64         `json:"notice_id"`
	JobID    string        `json:"job_id,omitempty"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Outcomes []ChatOutcome `json:"outcomes"`
}

// Failed counts chats that received nothing.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Mode == ModeNone {
			n++
		}
	}
	return n
}

func (r Report) Took() time.Duration { return r.Finished.Sub(r.Started) }

// Fetcher is satisfied by *fetch.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Sender is satisfied by *delivery.Client.
type Sender interface {
	SendFile(ctx context.Context, chatID string, data []byte, filename, caption string) error
	SendLinkPreview(ctx context.Context, chatID, link, title string) error
}

const (
	DefaultPartSize  int64 = 50 << 20
	DefaultPartPause       = 2 * time.Second
)

type Config struct {
	Chats     []string
	PartSize  int64
	PartPause time.Duration
}
