package broadcast

import (
	"context"
	"time"

	"notifyd/internal/notification"
	logx "notifyd/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job) {
	for {
		// fast-exit so stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) {
	start := time.Now()
	s.setRunning(j.id)

	s.mu.Lock()
	lim := s.limiter
	pageSize := s.cfg.PageSize
	s.mu.Unlock()

	rendered := notification.Render(j.ev, notification.BaseAnnouncement)
	published := j.ev.Timestamp
	if published.IsZero() {
		published = start
	}

	var after int64
	for {
		if err := lim.Wait(ctx); err != nil {
			s.finish(j.id, err)
			return
		}
		ids, err := s.users.AnnouncementRecipients(ctx, published, after, pageSize)
		if err != nil {
			s.log.Warn("announcement recipients query failed", logx.String("job", j.id), logx.Err(err))
			s.finish(j.id, err)
			return
		}
		added := 0
		for _, uid := range ids {
			env := notification.Envelope{
				UserID:    uid,
				Message:   rendered.Message,
				Title:     rendered.Title,
				PlaySound: true,
				Channels:  notification.AllChannels,
				Event:     j.ev,
			}
			if s.sink.EnqueueAnnouncement(env) {
				added++
			}
		}
		s.progress(j.id, len(ids), added)
		if len(ids) < pageSize {
			break
		}
		after = ids[len(ids)-1]
	}
	s.finish(j.id, nil)

	if st, ok := s.Status(j.id); ok {
		s.log.Info("announcement fan-out finished",
			logx.String("job", j.id),
			logx.Int64("entity_id", j.ev.EntityID),
			logx.Int("recipients", st.Total),
			logx.Int("enqueued", st.Enqueued),
			logx.Duration("dur", time.Since(start)))
	}
}

func (s *Service) setRunning(id string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.StartedAt = time.Now()
		st.Running = true
	}
}

func (s *Service) progress(id string, total, enqueued int) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.Total += total
		st.Enqueued += enqueued
	}
}

func (s *Service) finish(id string, err error) {
	now := time.Now()
	s.statusMu.Lock()
	if st := s.status[id]; st != nil {
		st.DoneAt = now
		st.Running = false
		if err != nil {
			st.Failed = true
			st.Err = err.Error()
		}
	}
	s.statusMu.Unlock()
	s.pruneStatus(now)
}
