package notifier

import (
	"context"
	"time"

	"notifyd/internal/notification"
)

// Transport delivers one envelope to a single push surface.
// The returned count is the number of devices that accepted the message.
type Transport interface {
	Name() string
	Send(ctx context.Context, env notification.Envelope) (int, error)
}

// Config controls batching, timeouts and the Create fan-out rules.
type Config struct {
	Enabled     bool
	BatchSize   int
	SendTimeout time.Duration
	// SkipCreateInitiators lists accounts whose uploads never notify subscribers.
	SkipCreateInitiators []int64
}

const (
	DefaultBatchSize   = 20
	DefaultSendTimeout = 20 * time.Second
)

// DefaultSkipCreateInitiators is the main platform account.
var DefaultSkipCreateInitiators = []int64{51}

// BufferKind names one of the Service's buffers.
type BufferKind string

const (
	BufferStandard     BufferKind = "standard"
	BufferChain        BufferKind = "chain"
	BufferAnnouncement BufferKind = "announcement"
)

// BufferKinds in drain order.
var BufferKinds = []BufferKind{BufferStandard, BufferChain, BufferAnnouncement}

// Event types published on the bus.
const (
	EventDrained    = "notifier.drained"
	EventSendFailed = "notifier.send_failed"
)

// DrainEvent is the payload of EventDrained.
type DrainEvent struct {
	Buffer    BufferKind    `json:"buffer"`
	Envelopes int           `json:"envelopes"`
	Delivered int           `json:"delivered"`
	Took      time.Duration `json:"took"`
}

// SendFailedEvent is the payload of EventSendFailed.
type SendFailedEvent struct {
	Transport string    `json:"transport"`
	UserID    int64     `json:"user_id"`
	At        time.Time `json:"at"`
	Error     string    `json:"error"`
}

// Fanout expands an announcement event into per-user envelopes asynchronously.
type Fanout interface {
	Submit(ev notification.Event) string
}
