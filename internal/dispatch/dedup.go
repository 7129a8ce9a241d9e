package dispatch

import (
	"context"
	"time"

	"noticebot/internal/broadcast"
	"noticebot/internal/storage"
	"noticebot/pkg/logx"
)

// dedupAllow reports whether key may proceed and, if so, opens a new
// suppression window for it. The persisted store is consulted so a restart
// does not re-broadcast a recent notice.
func (s *Service) dedupAllow(ctx context.Context, key string, pch chan<- dedupWrite) bool {
	now := s.clk.Now()
	until := now.Add(s.cfg.DedupWindow)

	// Claim the key before the store lookup so concurrent submits of the
	// same notice see it.
	s.dmu.Lock()
	if prev, ok := s.dedup[key]; ok && now.Before(prev) {
		s.dmu.Unlock()
		return false
	}
	s.dedup[key] = until
	s.pruneLocked(now)
	s.dmu.Unlock()

	if s.cfg.PersistDedup && s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		stored, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err != nil {
			s.log.Debug("dedup lookup failed", logx.Err(err))
		} else if ok && now.Before(stored) {
			s.dmu.Lock()
			s.dedup[key] = stored
			s.dmu.Unlock()
			return false
		}
	}

	if pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
			s.log.Debug("dedup persist queue full", logx.String("key", key))
		}
	}
	return true
}

// forget releases a key whose notice never made it into the queue.
func (s *Service) forget(key string) {
	s.dmu.Lock()
	delete(s.dedup, key)
	s.dmu.Unlock()
}

// pruneLocked drops expired keys, then the soonest-expiring ones beyond the cap.
func (s *Service) pruneLocked(now time.Time) {
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > s.cfg.DedupMaxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, time.Second)
			if err := s.store.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Warn("dedup persist failed", logx.String("key", w.key), logx.Err(err))
			}
			cancel()
		}
	}
}

// audit appends one delivery record per chat. Failures are logged only.
func (s *Service) audit(ctx context.Context, jobID string, noticeID int64, outs []broadcast.ChatOutcome) {
	if s.store == nil {
		return
	}
	at := s.clk.Now()
	for _, o := range outs {
		r := storage.DeliveryRecord{
			At:       at,
			NoticeID: noticeID,
			JobID:    jobID,
			ChatID:   o.ChatID,
			Mode:     string(o.Mode),
			Parts:    o.Parts,
			Bytes:    o.Bytes,
		}
		switch {
		case o.Err != nil:
			r.Error = o.Err.Error()
		case o.Cause != nil:
			r.Error = o.Cause.Error()
		}
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		if err := s.store.AppendDelivery(cctx, r); err != nil {
			s.log.Warn("delivery audit failed", logx.String("chat", o.ChatID), logx.Err(err))
		}
		cancel()
	}
}
