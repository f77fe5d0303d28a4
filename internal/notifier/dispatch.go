package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"notifyd/internal/eventbus"
	"notifyd/internal/metrics"
	"notifyd/internal/notification"
	logx "notifyd/pkg/logx"
)

// ErrSendTimeout is reported when a transport call misses its deadline.
var ErrSendTimeout = errors.New("transport send timed out")

// Dispatcher sends envelopes to the transports selected by their channel set.
// Mobile goes to the mobile transport; Browser goes to the browser and Safari
// transports concurrently. Any transport may be nil (not configured).
type Dispatcher struct {
	mobile  Transport
	browser Transport
	safari  Transport

	timeout atomic.Int64 // time.Duration
	log     logx.Logger
	bus     eventbus.Bus
}

func NewDispatcher(mobile, browser, safari Transport, timeout time.Duration, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{mobile: mobile, browser: browser, safari: safari, log: log, bus: bus}
	d.SetTimeout(timeout)
	return d
}

// SetTimeout changes the per-call deadline. Non-positive values restore the default.
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	d.timeout.Store(int64(timeout))
}

// Drain sends envs in sequential chunks of batchSize and returns the total number
// of device deliveries. Every call in a chunk settles before the next chunk starts.
func (d *Dispatcher) Drain(ctx context.Context, envs []notification.Envelope, batchSize int) int {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	var total int64
	for start := 0; start < len(envs); start += batchSize {
		end := start + batchSize
		if end > len(envs) {
			end = len(envs)
		}
		var eg errgroup.Group
		for _, env := range envs[start:end] {
			for _, t := range d.targets(env.Channels) {
				env, t := env, t
				eg.Go(func() error {
					n, err := d.call(ctx, t, env)
					if err != nil {
						d.failed(t, env, err)
						return nil
					}
					atomic.AddInt64(&total, int64(n))
					return nil
				})
			}
		}
		_ = eg.Wait()
	}
	return int(total)
}

func (d *Dispatcher) targets(chs notification.ChannelSet) []Transport {
	var out []Transport
	if chs.Has(notification.ChannelMobile) && d.mobile != nil {
		out = append(out, d.mobile)
	}
	if chs.Has(notification.ChannelBrowser) {
		if d.browser != nil {
			out = append(out, d.browser)
		}
		if d.safari != nil {
			out = append(out, d.safari)
		}
	}
	return out
}

type sendResult struct {
	n   int
	err error
}

// call races t.Send against the deadline. The send goroutine writes to a buffered
// channel, so a late result never blocks after the caller has given up.
func (d *Dispatcher) call(ctx context.Context, t Transport, env notification.Envelope) (int, error) {
	timeout := time.Duration(d.timeout.Load())
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan sendResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- sendResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		n, err := t.Send(cctx, env)
		done <- sendResult{n: n, err: err}
	}()

	select {
	case r := <-done:
		metrics.SendDuration.WithLabelValues(t.Name()).Observe(time.Since(start).Seconds())
		if r.err != nil {
			metrics.SendsTotal.WithLabelValues(t.Name(), "error").Inc()
			return 0, r.err
		}
		metrics.SendsTotal.WithLabelValues(t.Name(), "ok").Inc()
		return r.n, nil
	case <-cctx.Done():
		metrics.SendsTotal.WithLabelValues(t.Name(), "timeout").Inc()
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w after %s", ErrSendTimeout, timeout)
		}
		return 0, cctx.Err()
	}
}

func (d *Dispatcher) failed(t Transport, env notification.Envelope, err error) {
	d.log.Warn("transport send failed",
		logx.String("transport", t.Name()),
		logx.Int64("user_id", env.UserID),
		logx.Err(err))
	if d.bus != nil {
		now := time.Now()
		d.bus.Publish(eventbus.Event{Type: EventSendFailed, Time: now, Data: SendFailedEvent{
			Transport: t.Name(), UserID: env.UserID, At: now, Error: err.Error(),
		}})
	}
}
