package dispatch

import (
	"context"
	"errors"
	"time"

	"noticebot/internal/broadcast"
	"noticebot/internal/notice"
)

var (
	ErrQueueFull = errors.New("dispatch queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

// Config controls the notice queue.
type Config struct {
	QueueSize       int
	DedupWindow     time.Duration // 0 disables dedup
	DedupMaxEntries int
	PersistDedup    bool
	HistorySize     int
}

// Broadcaster is satisfied by *broadcast.Orchestrator.
type Broadcaster interface {
	BroadcastJob(ctx context.Context, jobID string, n notice.Notice) broadcast.Report
}

type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateDone    State = "done"
	StateDeduped State = "deduped"
	StateDropped State = "dropped"
)

// Outcome is the serializable per-chat result of a finished job.
type Outcome struct {
	ChatID string `json:"chat_id"`
	Mode   string `json:"mode"`
	Parts  int    `json:"parts,omitempty"`
	Cause  string `json:"cause,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Job is a snapshot of one submitted notice.
type Job struct {
	ID         string        `json:"id"`
	Source     string        `json:"source,omitempty"`
	Notice     notice.Notice `json:"notice"`
	State      State         `json:"state"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Failed     int           `json:"failed,omitempty"`
	Outcomes   []Outcome     `json:"outcomes,omitempty"`
}

func outcomes(rep broadcast.Report) []Outcome {
	out := make([]Outcome, 0, len(rep.Outcomes))
	for _, o := range rep.Outcomes {
		v := Outcome{ChatID: o.ChatID, Mode: string(o.Mode), Parts: o.Parts}
		if o.Cause != nil {
			v.Cause = o.Cause.Error()
		}
		if o.Err != nil {
			v.Error = o.Err.Error()
		}
		out = append(out, v)
	}
	return out
}
