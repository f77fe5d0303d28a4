// Package ingest pulls notification events from the upstream indexer.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"notifyd/internal/eventbus"
	"notifyd/internal/metrics"
	"notifyd/internal/notification"
	"notifyd/internal/notifier"
	logx "notifyd/pkg/logx"
)

// EventIngested is published once per decoded batch.
const EventIngested = "ingest.event"

// Processor consumes decoded events.
type Processor interface {
	Process(ctx context.Context, events []notification.Event) (int, error)
}

// Source yields batches of events until ctx is done.
type Source interface {
	Run(ctx context.Context) error
}

type Config struct {
	Stream string
	// CursorKey persists the last consumed id so restarts resume. Empty disables it.
	CursorKey string
	// Start is the first id read when no cursor is stored ("$" = only new entries).
	Start string
	Count int64
	Block time.Duration
	// Field holds the JSON encoded event in each stream entry.
	Field string
}

type BatchEvent struct {
	Stream   string
	LastID   string
	Events   int
	Enqueued int
	Invalid  int
}

// RedisStream reads events from a Redis stream with XREAD BLOCK.
type RedisStream struct {
	rdb    redis.UniversalClient
	cfg    Config
	proc   Processor
	log    logx.Logger
	bus    eventbus.Bus
	cursor string
}

func NewRedisStream(rdb redis.UniversalClient, cfg Config, proc Processor, log logx.Logger, bus eventbus.Bus) *RedisStream {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Stream == "" {
		cfg.Stream = "notifications"
	}
	if cfg.Start == "" {
		cfg.Start = "$"
	}
	if cfg.Count <= 0 {
		cfg.Count = 100
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Field == "" {
		cfg.Field = "event"
	}
	return &RedisStream{rdb: rdb, cfg: cfg, proc: proc, log: log, bus: bus}
}

// Cursor is the id of the last consumed entry.
func (s *RedisStream) Cursor() string { return s.cursor }

// Run polls until ctx is done. Read errors back off and retry.
func (s *RedisStream) Run(ctx context.Context) error {
	if err := s.loadCursor(ctx); err != nil {
		return err
	}
	backoff := 250 * time.Millisecond
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := s.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("stream read failed", logx.String("stream", s.cfg.Stream), logx.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < 10*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = 250 * time.Millisecond
	}
}

func (s *RedisStream) loadCursor(ctx context.Context) error {
	if s.cursor != "" {
		return nil
	}
	s.cursor = s.cfg.Start
	if s.cfg.CursorKey == "" {
		return nil
	}
	v, err := s.rdb.Get(ctx, s.cfg.CursorKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		return fmt.Errorf("load cursor: %w", err)
	}
	s.cursor = v
	return nil
}

// Poll performs one blocking read and hands the decoded batch to the processor.
// It returns the number of stream entries consumed.
func (s *RedisStream) Poll(ctx context.Context) (int, error) {
	if s.cursor == "" {
		if err := s.loadCursor(ctx); err != nil {
			return 0, err
		}
	}
	res, err := s.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.cfg.Stream, s.cursor},
		Count:   s.cfg.Count,
		Block:   s.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var (
		events  []notification.Event
		invalid int
		last    string
		n       int
	)
	for _, st := range res {
		for _, msg := range st.Messages {
			n++
			last = msg.ID
			ev, err := s.decode(msg)
			if err != nil {
				invalid++
				metrics.IngestEvents.WithLabelValues("invalid").Inc()
				s.log.Debug("skipping undecodable entry", logx.String("id", msg.ID), logx.Err(err))
				continue
			}
			events = append(events, ev)
		}
	}
	if n == 0 {
		return 0, nil
	}

	enqueued, perr := s.proc.Process(ctx, events)
	if errors.Is(perr, notifier.ErrDisabled) || errors.Is(perr, notifier.ErrStopped) {
		// Keep the cursor so the batch is read again once intake resumes.
		return 0, perr
	}
	if perr != nil {
		s.log.Warn("process batch failed", logx.Int("events", len(events)), logx.Err(perr))
	}
	metrics.IngestEvents.WithLabelValues("accepted").Add(float64(len(events)))

	s.cursor = last
	if s.cfg.CursorKey != "" {
		if err := s.rdb.Set(ctx, s.cfg.CursorKey, last, 0).Err(); err != nil {
			s.log.Warn("persist cursor failed", logx.Err(err))
		}
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventIngested, Data: BatchEvent{
			Stream: s.cfg.Stream, LastID: last, Events: len(events), Enqueued: enqueued, Invalid: invalid,
		}})
	}
	return n, nil
}

func (s *RedisStream) decode(msg redis.XMessage) (notification.Event, error) {
	var ev notification.Event
	raw, ok := msg.Values[s.cfg.Field]
	if !ok {
		return ev, fmt.Errorf("missing field %q", s.cfg.Field)
	}
	str, ok := raw.(string)
	if !ok {
		return ev, fmt.Errorf("field %q is %T", s.cfg.Field, raw)
	}
	if err := json.Unmarshal([]byte(str), &ev); err != nil {
		return ev, err
	}
	if ev.Type == "" {
		return ev, errors.New("event type is empty")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return ev, nil
}
