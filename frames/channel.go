package frames

import (
	"sync"
	"sync/atomic"
)

// Channel is a non-blocking frame hand-off between one producer and one
// consumer. Publish never blocks; Poll never blocks and reports whether a
// frame was available. The channel assigns sequence numbers, so successive
// Poll calls return increasing sequences even when the producer is
// replaced mid-stream (a reconnect swaps in a fresh capture loop while
// the channel lives on).
type Channel interface {
	// Publish stamps the frame with the next sequence number and hands it
	// to the channel. It always succeeds.
	Publish(frame Frame)

	// Poll returns the next available frame, or false if none is ready.
	Poll() (Frame, bool)

	// Dropped returns the number of frames discarded undelivered.
	Dropped() uint64
}

// NewChannel creates a channel for the given mode. In low-latency mode
// capacity is ignored and a single overwritable slot is used; otherwise a
// bounded FIFO of the given capacity (minimum 1) drops oldest on overflow.
func NewChannel(lowLatency bool, capacity int) Channel {
	if lowLatency {
		return &latestChannel{}
	}
	if capacity < 1 {
		capacity = 1
	}
	return &bufferedChannel{capacity: capacity}
}

// latestChannel keeps only the newest frame. Overwritten frames count as
// dropped.
type latestChannel struct {
	slot    atomic.Pointer[Frame]
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (c *latestChannel) Publish(frame Frame) {
	frame.Seq = c.seq.Add(1)
	if old := c.slot.Swap(&frame); old != nil {
		c.dropped.Add(1)
	}
}

func (c *latestChannel) Poll() (Frame, bool) {
	f := c.slot.Swap(nil)
	if f == nil {
		return Frame{}, false
	}
	return *f, true
}

func (c *latestChannel) Dropped() uint64 {
	return c.dropped.Load()
}

// bufferedChannel is a bounded FIFO with drop-oldest overflow.
type bufferedChannel struct {
	mu       sync.Mutex
	queue    []Frame
	capacity int
	seq      uint64
	dropped  atomic.Uint64
}

func (c *bufferedChannel) Publish(frame Frame) {
	c.mu.Lock()
	c.seq++
	frame.Seq = c.seq
	if len(c.queue) == c.capacity {
		// Drop the oldest unread frame to make room.
		copy(c.queue, c.queue[1:])
		c.queue = c.queue[:len(c.queue)-1]
		c.dropped.Add(1)
	}
	c.queue = append(c.queue, frame)
	c.mu.Unlock()
}

func (c *bufferedChannel) Poll() (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return Frame{}, false
	}
	frame := c.queue[0]
	copy(c.queue, c.queue[1:])
	c.queue = c.queue[:len(c.queue)-1]
	return frame, true
}

func (c *bufferedChannel) Dropped() uint64 {
	return c.dropped.Load()
}
