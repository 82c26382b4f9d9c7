package frames

import (
	"sync"
	"testing"
	"time"
)

// makeFrame builds an unstamped frame; Publish assigns the sequence.
func makeFrame(n uint64) Frame {
	return Frame{
		Data:      []byte{byte(n)},
		Width:     1,
		Height:    1,
		Timestamp: time.Now(),
	}
}

func TestLatestChannelReturnsNewestFrame(t *testing.T) {
	ch := NewChannel(true, 0)

	for seq := uint64(1); seq <= 10; seq++ {
		ch.Publish(makeFrame(seq))
	}

	frame, ok := ch.Poll()
	if !ok {
		t.Fatal("Expected a frame after publishing")
	}
	if frame.Seq != 10 {
		t.Errorf("Expected newest frame seq 10, got %d", frame.Seq)
	}

	// Slot is consumed; the same frame is never delivered twice.
	if _, ok := ch.Poll(); ok {
		t.Error("Expected empty channel after consuming the slot")
	}
}

func TestLatestChannelCountsOverwrites(t *testing.T) {
	ch := NewChannel(true, 0)

	for seq := uint64(1); seq <= 5; seq++ {
		ch.Publish(makeFrame(seq))
	}

	// 5 published, 1 retained, 4 overwritten.
	if dropped := ch.Dropped(); dropped != 4 {
		t.Errorf("Expected 4 dropped frames, got %d", dropped)
	}
}

func TestPollEmptyChannel(t *testing.T) {
	for _, lowLatency := range []bool{true, false} {
		ch := NewChannel(lowLatency, 4)
		if _, ok := ch.Poll(); ok {
			t.Errorf("low_latency=%v: expected no frame from empty channel", lowLatency)
		}
	}
}

func TestBufferedChannelFIFOOrder(t *testing.T) {
	ch := NewChannel(false, 4)

	for seq := uint64(1); seq <= 3; seq++ {
		ch.Publish(makeFrame(seq))
	}

	for want := uint64(1); want <= 3; want++ {
		frame, ok := ch.Poll()
		if !ok {
			t.Fatalf("Expected frame %d, channel empty", want)
		}
		if frame.Seq != want {
			t.Errorf("Expected seq %d, got %d", want, frame.Seq)
		}
	}
}

func TestBufferedChannelDropsOldestOnOverflow(t *testing.T) {
	const capacity = 4
	ch := NewChannel(false, capacity)

	for seq := uint64(1); seq <= 10; seq++ {
		ch.Publish(makeFrame(seq))
	}

	// Exactly the overflow amount is dropped.
	if dropped := ch.Dropped(); dropped != 10-capacity {
		t.Errorf("Expected %d dropped frames, got %d", 10-capacity, dropped)
	}

	// The retained frames are the newest K, still in order.
	for want := uint64(7); want <= 10; want++ {
		frame, ok := ch.Poll()
		if !ok {
			t.Fatalf("Expected frame %d, channel empty", want)
		}
		if frame.Seq != want {
			t.Errorf("Expected seq %d, got %d", want, frame.Seq)
		}
	}

	if _, ok := ch.Poll(); ok {
		t.Error("Expected empty channel after draining")
	}
}

func TestSequenceNeverDecreases(t *testing.T) {
	for _, lowLatency := range []bool{true, false} {
		ch := NewChannel(lowLatency, 4)

		var wg sync.WaitGroup
		stop := make(chan struct{})

		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := uint64(1); seq <= 5000; seq++ {
				ch.Publish(makeFrame(seq))
			}
			close(stop)
		}()

		var last uint64
		for {
			frame, ok := ch.Poll()
			if ok {
				if frame.Seq < last {
					t.Errorf("low_latency=%v: sequence went backwards: %d after %d",
						lowLatency, frame.Seq, last)
				}
				last = frame.Seq
			}
			select {
			case <-stop:
				wg.Wait()
				return
			default:
			}
		}
	}
}

func TestSequenceSurvivesProducerReplacement(t *testing.T) {
	for _, lowLatency := range []bool{true, false} {
		ch := NewChannel(lowLatency, 4)

		// First producer publishes and the consumer drains.
		for n := uint64(1); n <= 3; n++ {
			ch.Publish(makeFrame(n))
		}
		var last uint64
		for {
			frame, ok := ch.Poll()
			if !ok {
				break
			}
			last = frame.Seq
		}
		if last != 3 {
			t.Fatalf("low_latency=%v: expected last consumed seq 3, got %d", lowLatency, last)
		}

		// A replacement producer takes over the same channel. Its frames
		// must continue the numbering, not restart it.
		ch.Publish(makeFrame(1))
		frame, ok := ch.Poll()
		if !ok {
			t.Fatalf("low_latency=%v: expected a frame from the new producer", lowLatency)
		}
		if frame.Seq <= last {
			t.Errorf("low_latency=%v: sequence restarted: got %d after %d",
				lowLatency, frame.Seq, last)
		}
		if frame.Seq != 4 {
			t.Errorf("low_latency=%v: expected seq 4 from the new producer, got %d",
				lowLatency, frame.Seq)
		}
	}
}

func TestPublishDoesNotBlock(t *testing.T) {
	ch := NewChannel(false, 2)

	done := make(chan struct{})
	go func() {
		// No consumer at all; every publish must still return.
		for seq := uint64(1); seq <= 1000; seq++ {
			ch.Publish(makeFrame(seq))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with no consumer")
	}
}
