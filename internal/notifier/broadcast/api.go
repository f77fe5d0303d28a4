package broadcast

import (
	"fmt"
	"time"

	"notifyd/internal/notification"
	logx "notifyd/pkg/logx"
)

// Submit queues an announcement for fan-out and returns its job id.
// A disabled service, a full queue or a stopped service marks the job failed immediately.
func (s *Service) Submit(ev notification.Event) string {
	now := time.Now()
	id := fmt.Sprintf("ann:%d:%d", ev.EntityID, now.UnixNano())
	s.pruneStatus(now)
	st := &JobStatus{ID: id, EntityID: ev.EntityID, CreatedAt: now}
	s.statusMu.Lock()
	s.status[id] = st
	s.statusMu.Unlock()

	s.mu.Lock()
	q := s.queue
	enabled := s.cfg.Enabled
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	if !enabled {
		s.log.Info("announcement fan-out disabled; dropping announcement", logx.String("job", id))
		s.fail(id, "disabled")
		return id
	}
	if !running {
		s.log.Debug("broadcast not running; dropping announcement", logx.String("job", id))
		s.fail(id, "not running")
		return id
	}
	select {
	case q <- job{id: id, ev: ev}:
		s.log.Debug("announcement queued", logx.String("job", id), logx.Int("queue_len", len(q)))
	default:
		s.log.Warn("broadcast queue full; dropping announcement", logx.String("job", id), logx.Int("queue_cap", cap(q)))
		s.fail(id, "queue full")
	}
	return id
}

// Status returns a copy of the job status.
func (s *Service) Status(jobID string) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[jobID]
	if !ok || st == nil {
		return JobStatus{}, false
	}
	return *st, true
}

func (s *Service) fail(id, reason string) {
	s.statusMu.Lock()
	if st := s.status[id]; st != nil {
		st.DoneAt = time.Now()
		st.Running = false
		st.Failed = true
		st.Err = reason
	}
	s.statusMu.Unlock()
}

func (s *Service) pruneStatus(now time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	for id, st := range s.status {
		if st == nil || (!st.Running && now.Sub(st.CreatedAt) > s.statusTTL) {
			delete(s.status, id)
		}
	}
	for len(s.status) > s.statusMax {
		var (
			oldest   string
			oldestAt time.Time
		)
		for id, st := range s.status {
			if st.Running {
				continue
			}
			if oldest == "" || st.CreatedAt.Before(oldestAt) {
				oldest, oldestAt = id, st.CreatedAt
			}
		}
		if oldest == "" {
			return
		}
		delete(s.status, oldest)
	}
}
