package floop

import (
	"time"

	"github.com/tphakala/crasgo/internal/convert"
	"github.com/tphakala/crasgo/internal/shmring"
)

// OutputBackend adapts a Pair's sink side into a device.Backend so a
// floop pair can be registered in the scheduler's output device list
// exactly like a real playback device: streams pinned to it (§4.I
// identity check, done by the caller before attach) get mixed the
// usual way, and the mixed result lands in the pair's ring via MixInto
// instead of hardware.
type OutputBackend struct {
	pair   *Pair
	format convert.Format
	area   []byte
}

// NewOutputBackend wraps pair as a playback device.Backend.
func NewOutputBackend(pair *Pair) *OutputBackend {
	return &OutputBackend{pair: pair, area: make([]byte, 4096)}
}

func (b *OutputBackend) Configure(format convert.Format) (time.Duration, error) {
	b.format = format
	return 0, nil
}

func (b *OutputBackend) FramesQueued() (int, time.Time, error) {
	return 0, time.Now(), nil
}

// GetBuffer hands back a scratch float32-backed byte area; PutBuffer
// decodes it back to float32 and feeds the pair's ring rather than any
// hardware.
func (b *OutputBackend) GetBuffer(requested int) (shmring.Area, int, error) {
	need := requested * b.format.FrameBytes()
	if need > len(b.area) {
		b.area = make([]byte, need)
	}
	area := shmring.NewInterleavedArea(b.area[:need], b.format.Channels, b.format.SampleFormat.BytesPerSample())
	return area, requested, nil
}

func (b *OutputBackend) PutBuffer(frames int) error {
	n := frames * b.format.Channels
	decoded := make([]float32, n)
	convert.DecodeToFloat32(decoded, b.area[:frames*b.format.FrameBytes()], b.format.SampleFormat)
	b.pair.MixInto(decoded)
	return nil
}

func (b *OutputBackend) FlushBuffer() error          { return nil }
func (b *OutputBackend) NoStream(enabled bool) error { return nil }
func (b *OutputBackend) StartStream() error          { return nil }
func (b *OutputBackend) Close() error                { return nil }

// InputBackend adapts a Pair's ring as a capture device.Backend: the
// paired virtual input device the floop's classified playback data
// feeds (§4.I: "a paired virtual input/output device").
type InputBackend struct {
	pair   *Pair
	format convert.Format
}

// NewInputBackend wraps pair as a capture device.Backend.
func NewInputBackend(pair *Pair) *InputBackend {
	return &InputBackend{pair: pair}
}

func (b *InputBackend) Configure(format convert.Format) (time.Duration, error) {
	b.format = format
	return 0, nil
}

func (b *InputBackend) FramesQueued() (int, time.Time, error) {
	return b.pair.Attached(), time.Now(), nil
}

func (b *InputBackend) GetBuffer(requested int) (shmring.Area, int, error) {
	decoded := make([]float32, requested*b.format.Channels)
	got := b.pair.ReadCapture(decoded)
	frames := got / b.format.Channels
	out := make([]byte, frames*b.format.FrameBytes())
	convert.EncodeFromFloat32(out, decoded[:frames*b.format.Channels], b.format.SampleFormat)
	area := shmring.NewInterleavedArea(out, b.format.Channels, b.format.SampleFormat.BytesPerSample())
	return area, frames, nil
}

func (b *InputBackend) PutBuffer(frames int) error { return nil }

// FlushBuffer drains any buffered synthetic capture data by reading
// and discarding a full ring's worth in one shot; ReadCapture always
// consumes len(dst) (capped to ring length), so a single call is enough.
func (b *InputBackend) FlushBuffer() error {
	scratch := make([]float32, b.pair.RingLen())
	b.pair.ReadCapture(scratch)
	return nil
}

func (b *InputBackend) NoStream(enabled bool) error { return nil }
func (b *InputBackend) StartStream() error          { return nil }
func (b *InputBackend) Close() error                { return nil }
