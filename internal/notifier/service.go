package notifier

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"notifyd/internal/eventbus"
	"notifyd/internal/metrics"
	"notifyd/internal/notification"
	logx "notifyd/pkg/logx"
)

var (
	ErrDisabled = errors.New("notifier disabled")
	ErrStopped  = errors.New("notifier stopped")
)

// Service classifies and resolves events into its buffers and drains them on demand.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log      logx.Logger
	bus      eventbus.Bus
	resolver *notification.Resolver
	disp     *Dispatcher
	fanout   Fanout

	cfg       Config
	accepting bool

	buffers map[BufferKind]*Buffer
	// drainMu serializes drains of the same buffer kind.
	drainMu map[BufferKind]*sync.Mutex
}

func New(cfg Config, resolver *notification.Resolver, disp *Dispatcher, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:       log,
		bus:       bus,
		resolver:  resolver,
		disp:      disp,
		accepting: true,
		buffers:   map[BufferKind]*Buffer{},
		drainMu:   map[BufferKind]*sync.Mutex{},
	}
	for _, k := range BufferKinds {
		s.buffers[k] = NewBuffer()
		s.drainMu[k] = &sync.Mutex{}
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.SkipCreateInitiators == nil {
		cfg.SkipCreateInitiators = DefaultSkipCreateInitiators
	}
	s.cfg = cfg
	if s.disp != nil {
		s.disp.SetTimeout(cfg.SendTimeout)
	}
}

// SetFanout installs the announcement expander. Without one, announcements are
// delivered only to their initiator, on every channel.
func (s *Service) SetFanout(f Fanout) {
	s.mu.Lock()
	s.fanout = f
	s.mu.Unlock()
}

// Buffer exposes a buffer for inspection.
func (s *Service) Buffer(kind BufferKind) *Buffer { return s.buffers[kind] }

// Process classifies, resolves and buffers events. It returns how many envelopes
// were newly enqueued. Directory failures are joined into the returned error;
// the remaining events are still processed.
func (s *Service) Process(ctx context.Context, events []notification.Event) (int, error) {
	s.mu.Lock()
	cfg := s.cfg
	accepting := s.accepting
	fanout := s.fanout
	s.mu.Unlock()

	if !cfg.Enabled {
		return 0, ErrDisabled
	}
	if !accepting {
		return 0, ErrStopped
	}

	var (
		added int
		errs  []error
	)
	for _, ev := range events {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		base := notification.Classify(ev)
		if base == notification.BaseNone {
			s.log.Trace("unclassified event dropped", logx.String("type", string(ev.Type)))
			metrics.EventsTotal.WithLabelValues(base.String(), notification.DropUnclassified.String()).Inc()
			continue
		}
		if base == notification.BaseCreate && slices.Contains(cfg.SkipCreateInitiators, ev.InitiatorID) {
			metrics.EventsTotal.WithLabelValues(base.String(), "skipped_initiator").Inc()
			continue
		}
		if base == notification.BaseAnnouncement && fanout != nil {
			if s.resolver.Killed(ctx, base, 0) {
				s.log.Info("announcement vetoed by kill-switch", logx.Int64("entity_id", ev.EntityID))
				metrics.EventsTotal.WithLabelValues(base.String(), notification.DropKillSwitch.String()).Inc()
				continue
			}
			id := fanout.Submit(ev)
			s.log.Debug("announcement submitted for fan-out", logx.String("job", id))
			metrics.EventsTotal.WithLabelValues(base.String(), "fanout").Inc()
			continue
		}

		res, err := s.resolver.Resolve(ctx, ev, base)
		if err != nil {
			s.log.Warn("resolve failed", logx.String("type", string(ev.Type)), logx.Err(err))
			metrics.EventsTotal.WithLabelValues(base.String(), "error").Inc()
			errs = append(errs, err)
			continue
		}
		if res.Dropped() {
			metrics.EventsTotal.WithLabelValues(base.String(), res.Drop.String()).Inc()
			continue
		}

		env := notification.NewEnvelope(ev, base, res)
		if s.enqueue(routeOf(ev, base), env) {
			added++
			metrics.EventsTotal.WithLabelValues(base.String(), "enqueued").Inc()
		} else {
			metrics.EventsTotal.WithLabelValues(base.String(), "duplicate").Inc()
		}
	}
	return added, errors.Join(errs...)
}

// EnqueueAnnouncement buffers a pre-rendered announcement envelope. Announcements
// always target every channel.
func (s *Service) EnqueueAnnouncement(env notification.Envelope) bool {
	env.Channels = notification.AllChannels
	return s.enqueue(BufferAnnouncement, env)
}

func (s *Service) enqueue(kind BufferKind, env notification.Envelope) bool {
	buf := s.buffers[kind]
	var (
		ok bool
		n  int
	)
	if match := supersededBy(env); kind == BufferStandard && match != nil {
		ok, n = buf.Replace(env, match)
	} else {
		ok = buf.Enqueue(env)
	}
	if n > 0 {
		s.log.Debug("superseded track uploads", logx.Int64("user_id", env.UserID), logx.Int("removed", n))
	}
	metrics.BufferDepth.WithLabelValues(string(kind)).Set(float64(buf.Len()))
	return ok
}

// supersededBy matches the pending single-track uploads an album or playlist
// announcement replaces for the same subscriber. It returns nil for other events.
func supersededBy(env notification.Envelope) func(notification.Envelope) bool {
	switch env.Event.Type {
	case notification.TypeCreateAlbum, notification.TypeCreatePlaylist:
	default:
		return nil
	}
	ids := env.Event.Metadata.Int64s(notification.MetaTrackIDs)
	if len(ids) == 0 {
		return nil
	}
	return func(p notification.Envelope) bool {
		return p.UserID == env.UserID &&
			p.Event.Type == notification.TypeCreateTrack &&
			slices.Contains(ids, p.Event.EntityID)
	}
}

func routeOf(ev notification.Event, base notification.BaseType) BufferKind {
	switch {
	case base == notification.BaseAnnouncement:
		return BufferAnnouncement
	case notification.ChainDerived(ev.Type):
		return BufferChain
	default:
		return BufferStandard
	}
}

// Drain flushes one buffer through the dispatcher and returns the delivery count.
func (s *Service) Drain(ctx context.Context, kind BufferKind) (int, error) {
	buf, ok := s.buffers[kind]
	if !ok {
		return 0, fmt.Errorf("unknown buffer %q", kind)
	}
	mu := s.drainMu[kind]
	mu.Lock()
	defer mu.Unlock()

	s.mu.Lock()
	batch := s.cfg.BatchSize
	s.mu.Unlock()

	start := time.Now()
	envs := buf.Drain()
	metrics.BufferDepth.WithLabelValues(string(kind)).Set(float64(buf.Len()))
	if len(envs) == 0 {
		return 0, nil
	}
	delivered := s.disp.Drain(ctx, envs, batch)
	took := time.Since(start)
	metrics.DrainDuration.WithLabelValues(string(kind)).Observe(took.Seconds())

	s.log.Info("buffer drained",
		logx.String("buffer", string(kind)),
		logx.Int("envelopes", len(envs)),
		logx.Int("delivered", delivered),
		logx.Duration("took", took))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventDrained, Time: time.Now(), Data: DrainEvent{
			Buffer: kind, Envelopes: len(envs), Delivered: delivered, Took: took,
		}})
	}
	return delivered, nil
}

// DrainAll drains every buffer in order.
func (s *Service) DrainAll(ctx context.Context) int {
	total := 0
	for _, k := range BufferKinds {
		n, _ := s.Drain(ctx, k)
		total += n
	}
	return total
}

// Stop stops intake and flushes whatever is pending, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	n := s.DrainAll(ctx)
	s.log.Info("notifier stopped", logx.Int("flushed", n))
}
