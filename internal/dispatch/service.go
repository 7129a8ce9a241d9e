// Package dispatch queues verified notices and broadcasts them one at a time.
//
// Submit is non-blocking: it applies dedup by notice id, assigns a job id and
// enqueues. A single worker drains the queue so notices are delivered in
// arrival order and never concurrently.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"noticebot/internal/clock"
	"noticebot/internal/eventbus"
	"noticebot/internal/notice"
	rtsup "noticebot/internal/runtime/supervisor"
	"noticebot/internal/storage"
	"noticebot/pkg/logx"
)

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clk = c } }

// WithIDs replaces the job id generator.
func WithIDs(fn func() string) Option { return func(s *Service) { s.newID = fn } }

type Service struct {
	cfg   Config
	b     Broadcaster
	store storage.Store
	log   logx.Logger
	bus   eventbus.Bus
	clk   clock.Clock
	newID func() string

	mu        sync.Mutex
	accepting bool
	queue     chan queued
	sup       *rtsup.Supervisor
	submits   sync.WaitGroup
	persistCh chan dedupWrite

	jmu   sync.Mutex
	jobs  map[string]*Job
	order []string

	dmu   sync.Mutex
	dedup map[string]time.Time
}

type dedupWrite struct {
	key   string
	until time.Time
}

func New(cfg Config, b Broadcaster, store storage.Store, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 10000
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:   cfg,
		b:     b,
		store: store,
		log:   log.With(logx.String("comp", "dispatch")),
		bus:   bus,
		clk:   clock.Real(),
		newID: uuid.NewString,
		jobs:  map[string]*Job{},
		dedup: map[string]time.Time{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start launches the worker. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan queued, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))

	q := s.queue
	s.sup.GoRestart("dispatch.worker", func(c context.Context) error {
		return s.workerLoop(c, q)
	})
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 256)
		pch := s.persistCh
		s.sup.Go0("dispatch.dedup_persist", func(c context.Context) { s.persistLoop(c, pch) })
	}
	s.log.Info("dispatcher started", logx.Int("queue_size", s.cfg.QueueSize))
}

// Stop refuses new notices and drains the queue until ctx is done, after
// which the running broadcast is canceled.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return nil
	}
	s.accepting = false
	q, pch, sup := s.queue, s.persistCh, s.sup
	s.queue, s.persistCh, s.sup = nil, nil, nil
	s.mu.Unlock()

	s.submits.Wait()
	close(q)
	if pch != nil {
		close(pch)
	}

	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		s.markDropped()
		s.log.Warn("dispatcher stop timed out; pending jobs dropped", logx.Err(err))
		return err
	}
	s.log.Info("dispatcher stopped")
	return nil
}

// Submit enqueues n. A notice id seen within the dedup window yields a job in
// StateDeduped and no error.
func (s *Service) Submit(ctx context.Context, n notice.Notice, source string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return Job{}, ErrStopped
	}
	q := s.queue
	pch := s.persistCh
	s.submits.Add(1)
	s.mu.Unlock()
	defer s.submits.Done()

	job := &Job{ID: s.newID(), Source: source, Notice: n, State: StateQueued, EnqueuedAt: s.clk.Now()}
	log := s.log.With(logx.String("job", job.ID), logx.Int64("notice", n.ID), logx.String("source", source))

	if s.cfg.DedupWindow > 0 && !s.dedupAllow(ctx, dedupKey(n), pch) {
		job.State = StateDeduped
		s.remember(job)
		log.Info("notice deduplicated")
		eventbus.Publish(s.bus, eventbus.TypeNoticeDeduped, eventbus.BroadcastEvent{NoticeID: n.ID, JobID: job.ID})
		return *job, nil
	}

	s.remember(job)
	select {
	case q <- queued{id: job.ID, n: n}:
		log.Info("notice queued", logx.Int("queue_len", len(q)))
		return s.snapshot(job), nil
	default:
		s.update(job.ID, func(j *Job) { j.State = StateDropped })
		s.forget(dedupKey(n))
		log.Warn("notice dropped", logx.Err(ErrQueueFull))
		return Job{}, ErrQueueFull
	}
}

// Job returns a snapshot of a known job.
func (s *Service) Job(id string) (Job, bool) {
	s.jmu.Lock()
	defer s.jmu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return copyJob(j), true
}

// Jobs returns the most recent jobs, newest first.
func (s *Service) Jobs() []Job {
	s.jmu.Lock()
	defer s.jmu.Unlock()
	out := make([]Job, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, copyJob(s.jobs[s.order[i]]))
	}
	return out
}

type queued struct {
	id string
	n  notice.Notice
}

func (s *Service) workerLoop(ctx context.Context, q <-chan queued) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case it, ok := <-q:
			if !ok {
				return nil
			}
			s.run(ctx, it.id, it.n)
		}
	}
}

func (s *Service) run(ctx context.Context, id string, n notice.Notice) {
	s.update(id, func(j *Job) {
		j.State = StateRunning
		j.StartedAt = s.clk.Now()
	})

	rep := s.b.BroadcastJob(ctx, id, n)

	s.update(id, func(j *Job) {
		j.State = StateDone
		j.FinishedAt = s.clk.Now()
		j.Failed = rep.Failed()
		j.Outcomes = outcomes(rep)
	})
	s.audit(ctx, id, rep.NoticeID, rep.Outcomes)
}

func (s *Service) markDropped() {
	s.jmu.Lock()
	defer s.jmu.Unlock()
	for _, j := range s.jobs {
		if j.State == StateQueued {
			j.State = StateDropped
		}
	}
}

func (s *Service) remember(j *Job) {
	s.jmu.Lock()
	defer s.jmu.Unlock()
	s.jobs[j.ID] = j
	s.order = append(s.order, j.ID)
	for len(s.order) > s.cfg.HistorySize {
		old := s.order[0]
		s.order = s.order[1:]
		delete(s.jobs, old)
	}
}

func (s *Service) update(id string, fn func(*Job)) {
	s.jmu.Lock()
	defer s.jmu.Unlock()
	if j, ok := s.jobs[id]; ok {
		fn(j)
	}
}

func (s *Service) snapshot(j *Job) Job {
	s.jmu.Lock()
	defer s.jmu.Unlock()
	return copyJob(j)
}

func copyJob(j *Job) Job {
	c := *j
	c.Outcomes = append([]Outcome(nil), j.Outcomes...)
	return c
}

func dedupKey(n notice.Notice) string { return fmt.Sprintf("notice:%d", n.ID) }
