package input

import "sort"

// Key identifies a paddle control channel.
type Key string

const (
	// KeyUp moves the paddle toward the top wall.
	KeyUp Key = "up"
	// KeyDown moves the paddle toward the bottom wall.
	KeyDown Key = "down"
)

// Valid reports whether the key names a known control channel.
func (k Key) Valid() bool {
	return k == KeyUp || k == KeyDown
}

// Intent captures a single keyed control transition sent by a client.
type Intent struct {
	Key     Key  `json:"key"`
	Pressed bool `json:"pressed"`
}

// DefaultRetention caps how many buffered frames a player may accumulate.
const DefaultRetention = 300

// Buffer holds frame-indexed intents awaiting their scheduled simulation frame.
//
// Entries for a frame are consumed exactly once, when the simulation reaches
// frameID - inputDelayFrames. The buffer is owned by a single worker goroutine
// and therefore needs no locking.
type Buffer struct {
	retention int
	frames    map[uint64][]Intent
	order     []uint64
}

// NewBuffer constructs a buffer with the provided retention cap.
func NewBuffer(retention int) *Buffer {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Buffer{
		retention: retention,
		frames:    make(map[uint64][]Intent),
	}
}

// Append stores intents for the given frame, evicting the oldest frame past the cap.
func (b *Buffer) Append(frame uint64, intents ...Intent) {
	if b == nil || len(intents) == 0 {
		return
	}
	//1.- Track insertion order only for frames not seen before.
	if _, exists := b.frames[frame]; !exists {
		b.order = append(b.order, frame)
	}
	b.frames[frame] = append(b.frames[frame], intents...)
	//2.- Evict the oldest frames first once the retention cap is exceeded.
	for len(b.order) > b.retention {
		oldest := b.oldestIndex()
		evicted := b.order[oldest]
		b.order = append(b.order[:oldest], b.order[oldest+1:]...)
		delete(b.frames, evicted)
	}
}

// PopFrame removes and returns the intents buffered for the frame, if any.
func (b *Buffer) PopFrame(frame uint64) []Intent {
	if b == nil {
		return nil
	}
	intents, ok := b.frames[frame]
	if !ok {
		return nil
	}
	delete(b.frames, frame)
	for i, f := range b.order {
		if f == frame {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return intents
}

// Len reports how many distinct frames currently hold buffered intents.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.frames)
}

// Frames returns the buffered frame ids in ascending order, for diagnostics.
func (b *Buffer) Frames() []uint64 {
	if b == nil || len(b.order) == 0 {
		return nil
	}
	frames := append([]uint64(nil), b.order...)
	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })
	return frames
}

func (b *Buffer) oldestIndex() int {
	oldest := 0
	for i := 1; i < len(b.order); i++ {
		if b.order[i] < b.order[oldest] {
			oldest = i
		}
	}
	return oldest
}
