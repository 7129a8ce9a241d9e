// Package broadcast delivers one notice to every configured chat: the
// attachment is fetched once, sent whole or in parts, and replaced by a
// link preview for any chat where that fails.
package broadcast

import (
	"context"
	"errors"

	"noticebot/internal/clock"
	"noticebot/internal/eventbus"
	"noticebot/internal/fetch"
	"noticebot/internal/notice"
	"noticebot/pkg/logx"
)

type Option func(*Orchestrator)

func WithClock(c clock.Clock) Option { return func(o *Orchestrator) { o.clk = c } }

type Orchestrator struct {
	cfg     Config
	fetcher Fetcher
	sender  Sender
	clk     clock.Clock
	log     logx.Logger
	bus     eventbus.Bus
}

func New(cfg Config, fetcher Fetcher, sender Sender, log logx.Logger, bus eventbus.Bus, opts ...Option) *Orchestrator {
	if cfg.PartSize <= 0 {
		cfg.PartSize = DefaultPartSize
	}
	if cfg.PartPause <= 0 {
		cfg.PartPause = DefaultPartPause
	}
	cfg.Chats = append([]string(nil), cfg.Chats...)
	if log.IsZero() {
		log = logx.Nop()
	}
	o := &Orchestrator{
		cfg:     cfg,
		fetcher: fetcher,
		sender:  sender,
		clk:     clock.Real(),
		log:     log.With(logx.String("comp", "broadcast")),
		bus:     bus,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

func (o *Orchestrator) Chats() []string { return append([]string(nil), o.cfg.Chats...) }

// Broadcast delivers n to every chat. Failures are contained per chat and
// reported in the returned Report.
func (o *Orchestrator) Broadcast(ctx context.Context, n notice.Notice) Report {
	return o.BroadcastJob(ctx, "", n)
}

// BroadcastJob is Broadcast tagged with a dispatcher job id.
func (o *Orchestrator) BroadcastJob(ctx context.Context, jobID string, n notice.Notice) Report {
	log := o.log.With(logx.Int64("notice", n.ID))
	if jobID != "" {
		log = log.With(logx.String("job", jobID))
	}
	rep := Report{NoticeID: n.ID, JobID: jobID, Started: o.clk.Now()}
	log.Info("broadcast started", logx.Int("chats", len(o.cfg.Chats)))

	att := &attachment{fetcher: o.fetcher, url: n.URL, partSize: o.cfg.PartSize}
	caption := n.Caption()

	for _, chat := range o.cfg.Chats {
		var out ChatOutcome
		if err := ctx.Err(); err != nil {
			out = ChatOutcome{ChatID: chat, Mode: ModeNone, Err: err}
		} else {
			out = o.deliver(ctx, log.With(logx.String("chat", chat)), att, chat, n, caption)
		}
		rep.Outcomes = append(rep.Outcomes, out)
		o.publish(rep, n, out)
	}

	rep.Finished = o.clk.Now()
	failed := rep.Failed()
	log.Info("broadcast finished",
		logx.Int("chats", len(rep.Outcomes)),
		logx.Int("failed", failed),
		logx.Duration("took", rep.Took()),
	)
	eventbus.Publish(o.bus, eventbus.TypeBroadcastFinished, eventbus.BroadcastEvent{
		NoticeID: n.ID,
		JobID:    jobID,
		Chats:    len(rep.Outcomes),
		Failed:   failed,
		Took:     rep.Took(),
	})
	return rep
}

func (o *Orchestrator) deliver(ctx context.Context, log logx.Logger, att *attachment, chat string, n notice.Notice, caption string) ChatOutcome {
	out := ChatOutcome{ChatID: chat}

	err := att.load(ctx)
	if err == nil {
		if len(att.parts) == 1 {
			err = o.sender.SendFile(ctx, chat, att.data, n.Filename(), caption)
			if err == nil {
				out.Mode, out.Parts, out.Bytes = ModeFile, 1, len(att.data)
				log.Info("notice sent", logx.Int("bytes", out.Bytes))
				return out
			}
		} else {
			var sent int
			sent, err = o.sendParts(ctx, log, chat, n, att.parts)
			out.Parts = sent
			if err == nil {
				out.Mode, out.Bytes = ModeSplit, len(att.data)
				log.Info("notice sent in parts", logx.Int("parts", sent), logx.Int("bytes", out.Bytes))
				return out
			}
		}
	}

	out.Cause = err
	log.Warn("falling back to link preview", logx.Err(err))
	if ferr := o.sender.SendLinkPreview(ctx, chat, n.URL, n.LinkTitle()); ferr != nil {
		out.Mode, out.Err = ModeNone, ferr
		log.Error("delivery failed", logx.Err(ferr))
		return out
	}
	out.Mode = ModeLink
	return out
}

// sendParts sends parts in order with a pause between them. It returns how
// many parts were sent before the first failure.
func (o *Orchestrator) sendParts(ctx context.Context, log logx.Logger, chat string, n notice.Notice, parts [][]byte) (int, error) {
	total := len(parts)
	for i, p := range parts {
		if i > 0 {
			if err := o.clk.Sleep(ctx, o.cfg.PartPause); err != nil {
				return i, err
			}
		}
		if err := o.sender.SendFile(ctx, chat, p, n.PartFilename(i+1, total), n.PartCaption(i+1, total)); err != nil {
			log.Warn("part send failed", logx.Int("part", i+1), logx.Int("total", total), logx.Err(err))
			return i, err
		}
	}
	return total, nil
}

func (o *Orchestrator) publish(rep Report, n notice.Notice, out ChatOutcome) {
	typ := eventbus.TypeDeliverySent
	ev := eventbus.DeliveryEvent{
		NoticeID: n.ID,
		JobID:    rep.JobID,
		ChatID:   out.ChatID,
		Mode:     string(out.Mode),
		Parts:    out.Parts,
		Bytes:    out.Bytes,
		At:       o.clk.Now(),
	}
	switch out.Mode {
	case ModeLink:
		typ = eventbus.TypeDeliveryFallback
		if out.Cause != nil {
			ev.Error = out.Cause.Error()
		}
	case ModeNone:
		typ = eventbus.TypeDeliveryFailed
		if out.Err != nil {
			ev.Error = out.Err.Error()
		}
	}
	eventbus.Publish(o.bus, typ, ev)
}

// attachment memoizes a successful fetch for the duration of one broadcast.
// A failed fetch is not cached; the next chat tries again.
type attachment struct {
	fetcher  Fetcher
	url      string
	partSize int64

	loaded bool
	data   []byte
	parts  [][]byte
}

func (a *attachment) load(ctx context.Context) error {
	if a.loaded {
		return nil
	}
	data, err := a.fetcher.Fetch(ctx, a.url)
	if err != nil {
		var tl *fetch.TooLargeError
		if !errors.As(err, &tl) {
			return err
		}
		data = tl.Data
	}
	a.data = data
	a.parts = Split(data, a.partSize)
	a.loaded = true
	return nil
}
