package audio

import (
	"fmt"
	"sync"
)

// noFrame is the sentinel value of RollingBuffer.latest before the first write.
const noFrame = -1

// slot is one fixed-capacity frame in a [RollingBuffer]. data is only touched
// while mu is held; ready flips to true once a full write has completed.
type slot struct {
	mu    sync.Mutex
	data  []float32
	ready bool
}

// RollingBuffer is a fixed ring of frame slots shared by exactly one writer
// (the capture callback) and one reader (the estimation loop).
//
// Locking is split in two tiers. Each slot has its own mutex guarding its
// samples; the buffer-level mutex guards only the write cursor and the index
// of the latest completed slot. The writer therefore never waits on the
// reader except while the reader copies out the very slot the writer is about
// to overwrite, which is bounded by one frame copy.
//
// Readers may observe the same frame more than once and may miss frames that
// were overwritten before they looked. There is no sequence numbering.
type RollingBuffer struct {
	slots     []slot
	frameSize int

	mu     sync.Mutex
	cursor int // next slot to fill
	latest int // latest readable slot, or noFrame
}

// NewRollingBuffer allocates a buffer of n slots holding frameSize samples
// each. All memory is allocated here; Write and ReadInto never allocate.
func NewRollingBuffer(n, frameSize int) (*RollingBuffer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("audio: rolling buffer needs at least one slot, got %d", n)
	}
	if frameSize <= 0 {
		return nil, fmt.Errorf("audio: rolling buffer frame size must be > 0, got %d", frameSize)
	}
	b := &RollingBuffer{
		slots:     make([]slot, n),
		frameSize: frameSize,
		latest:    noFrame,
	}
	for i := range b.slots {
		b.slots[i].data = make([]float32, frameSize)
	}
	return b, nil
}

// Slots returns the number of slots in the ring.
func (b *RollingBuffer) Slots() int { return len(b.slots) }

// FrameSize returns the number of samples held by each slot.
func (b *RollingBuffer) FrameSize() int { return b.frameSize }

// Write copies samples into the next slot, marks it ready, publishes it as the
// latest frame and advances the cursor. The slot is overwritten whether or not
// it was ever read. Input shorter than FrameSize is zero-padded; longer input
// is truncated.
func (b *RollingBuffer) Write(samples []float32) {
	b.mu.Lock()
	index := b.cursor
	b.mu.Unlock()

	s := &b.slots[index]
	s.mu.Lock()
	n := copy(s.data, samples)
	clear(s.data[n:])
	s.ready = true
	s.mu.Unlock()

	b.mu.Lock()
	b.latest = index
	b.cursor = (index + 1) % len(b.slots)
	b.mu.Unlock()
}

// Read returns a copy of the latest completed frame. It returns nil, false
// when nothing has been written yet or when the latest slot is not ready;
// callers treat both as "no new data", never as an error.
func (b *RollingBuffer) Read() ([]float32, bool) {
	out := make([]float32, b.frameSize)
	if !b.ReadInto(out) {
		return nil, false
	}
	return out, true
}

// ReadInto copies the latest completed frame into dst and reports whether a
// frame was available. dst should be FrameSize long; shorter slices receive a
// prefix of the frame. It never allocates.
func (b *RollingBuffer) ReadInto(dst []float32) bool {
	b.mu.Lock()
	index := b.latest
	b.mu.Unlock()

	if index == noFrame {
		return false
	}

	s := &b.slots[index]
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return false
	}
	copy(dst, s.data)
	return true
}
