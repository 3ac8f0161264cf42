// Package shmring implements component A of the audio core: a
// fixed-capacity single-producer/single-consumer byte ring plus an
// "audio area" view that describes how to interpret a contiguous region
// as interleaved or planar audio samples.
//
// This is the one foundational data structure in the core that is
// deliberately hand-built rather than pulled from a library: no package
// in the retrieved corpus exposes the raw contiguous read/write windows
// and power-of-two index masking the spec requires (§4.A). Libraries
// like smallnest/ringbuffer offer a plain Read/Write(p []byte) SPSC
// queue, which this module uses elsewhere for the coarser "audio
// message" signalling channel (see internal/shmbuf), but not for this
// tight, pointer-level ring.
package shmring

import (
	"sync/atomic"

	"github.com/tphakala/crasgo/internal/errors"
)

// Ring is a fixed-capacity SPSC byte ring. readIdx and writeIdx are
// advanced modulo capacity; used tracks the fill level so empty vs. full
// is unambiguous without wasting a slot.
type Ring struct {
	buf      []byte
	capacity int
	mask     int // capacity-1 when capacity is a power of two, else 0 (unused)
	pow2     bool

	writeIdx atomic.Uint64
	readIdx  atomic.Uint64
	used     atomic.Int64
}

// NewRing allocates a ring of the given capacity. Capacity is rounded up
// to the next power of two when possible so increments can use masking;
// this is a hint, not a contract (§4.A), so any positive capacity works.
func NewRing(capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, errors.Newf("ring capacity must be positive, got %d", capacity).
			Component("shmring").
			Category(errors.CategoryValidation).
			Build()
	}

	r := &Ring{buf: make([]byte, capacity), capacity: capacity}
	if p := nextPow2(capacity); p == capacity {
		r.pow2 = true
		r.mask = capacity - 1
	}
	return r, nil
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Capacity returns the ring's total byte capacity.
func (r *Ring) Capacity() int { return r.capacity }

// Used returns the number of bytes currently held in the ring.
func (r *Ring) Used() int { return int(r.used.Load()) }

// Free returns the number of bytes available to write.
func (r *Ring) Free() int { return r.capacity - r.Used() }

func (r *Ring) index(i uint64) int {
	if r.pow2 {
		return int(i) & r.mask
	}
	return int(i % uint64(r.capacity))
}

// Writable returns a contiguous slice the producer may write into,
// bounded by both the distance to wraparound and the remaining free
// space. The caller must follow a successful write with CommitWrite.
func (r *Ring) Writable() []byte {
	free := r.Free()
	if free == 0 {
		return nil
	}
	start := r.index(r.writeIdx.Load())
	end := start + free
	if end > r.capacity {
		end = r.capacity
	}
	return r.buf[start:end]
}

// CommitWrite advances the write index and used counter after the
// caller has filled some prefix of the slice returned by Writable.
// Must be called by the single producer only.
func (r *Ring) CommitWrite(n int) {
	if n <= 0 {
		return
	}
	r.writeIdx.Add(uint64(n))
	r.used.Add(int64(n))
}

// Readable returns a contiguous slice the consumer may read from,
// bounded by both the distance to wraparound and the current fill
// level. The caller must follow a successful read with CommitRead.
func (r *Ring) Readable() []byte {
	used := r.Used()
	if used == 0 {
		return nil
	}
	start := r.index(r.readIdx.Load())
	end := start + used
	if end > r.capacity {
		end = r.capacity
	}
	return r.buf[start:end]
}

// CommitRead advances the read index and used counter after the caller
// has consumed some prefix of the slice returned by Readable. Must be
// called by the single consumer only.
func (r *Ring) CommitRead(n int) {
	if n <= 0 {
		return
	}
	r.readIdx.Add(uint64(n))
	r.used.Add(-int64(n))
}

// Area describes how to interpret a contiguous byte region as audio
// samples: either interleaved (one base pointer, Channels*FrameBytes
// stride) or planar (one base offset per channel).
type Area struct {
	Channels   int
	FrameBytes int // bytes per sample-frame-slice of a single channel
	Planar     bool
	// Base is the interleaved base slice (Planar == false).
	Base []byte
	// PlaneOffsets holds, for Planar == true, the byte offset of each
	// channel's plane within Base.
	PlaneOffsets []int
	// Stride is the byte distance between successive frames within a
	// channel's data (interleaved: Channels*FrameBytes; planar: FrameBytes).
	Stride int
}

// NewInterleavedArea builds an Area describing data as interleaved
// samples: channel c, frame f lives at data[f*Channels*frameBytes + c*frameBytes].
func NewInterleavedArea(data []byte, channels, frameBytes int) Area {
	return Area{
		Channels:   channels,
		FrameBytes: frameBytes,
		Planar:     false,
		Base:       data,
		Stride:     channels * frameBytes,
	}
}

// NewPlanarArea builds an Area describing data as one contiguous plane
// per channel, each planeLen bytes long.
func NewPlanarArea(data []byte, channels, frameBytes, planeLen int) Area {
	offsets := make([]int, channels)
	for c := range offsets {
		offsets[c] = c * planeLen
	}
	return Area{
		Channels:     channels,
		FrameBytes:   frameBytes,
		Planar:       true,
		Base:         data,
		PlaneOffsets: offsets,
		Stride:       frameBytes,
	}
}

// ChannelFrame returns the byte slice of length FrameBytes for channel c,
// frame index f.
func (a Area) ChannelFrame(c, f int) []byte {
	if a.Planar {
		start := a.PlaneOffsets[c] + f*a.Stride
		return a.Base[start : start+a.FrameBytes]
	}
	start := f*a.Stride + c*a.FrameBytes
	return a.Base[start : start+a.FrameBytes]
}
