// Package frames carries decoded video frames from the capture loop to a
// display consumer without ever blocking the producer.
//
// Two hand-off policies exist, fixed at session start:
//
//   - low-latency: a single overwritable slot. Publish always succeeds by
//     replacing the previous frame; the consumer always sees the newest.
//   - standard: a bounded FIFO. When full, the oldest unread frame is
//     dropped and a counter increments.
//
// Drop frames, never queue unbounded. Latency beats completeness for a
// live viewer.
package frames

import "time"

// Frame is one decoded image handed off by value. Data is raw BGR24
// pixels owned by the frame; it is never mutated after Publish. Seq is
// assigned by the channel and increases over the channel's lifetime.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Seq       uint64
	Timestamp time.Time
}
