// Package notifier buffers resolved envelopes and fans them out to push transports.
//
// # Buffers
//
// The Service owns three independent dedup buffers: standard, chain-derived and
// announcement. Each buffer holds at most one envelope per (user, message, title).
// A drain swaps the buffer contents out atomically, so an enqueue that races a drain
// simply lands in the next cycle.
//
// # Dispatch
//
// Drained envelopes are sent in sequential chunks (default 20). Inside a chunk every
// transport call runs concurrently and is raced against a per-call deadline. A call
// that loses the race is left to finish on its own; its result is discarded.
// Failures are logged and counted as zero; nothing is retried.
//
// Delivery is at-most-once per drain cycle. Buffers are not persisted.
package notifier
