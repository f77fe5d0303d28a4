// Package notification turns raw feed events into dispatchable envelopes.
//
// Flow per event:
//
//	base := Classify(ev)              // BaseNone => drop
//	res, err := resolver.Resolve(...) // recipient + channels, or a DropReason
//	env := NewEnvelope(ev, base, res) // rendered title/message
//
// Everything here except Resolver.Resolve is pure.
package notification

// NewEnvelope renders ev for the resolved recipient.
func NewEnvelope(ev Event, base BaseType, res Resolution) Envelope {
	r := Render(ev, base)
	return Envelope{
		UserID:    res.UserID,
		Message:   r.Message,
		Title:     r.Title,
		PlaySound: true,
		Channels:  res.Channels,
		Event:     ev,
	}
}
