// Package malgobackend implements a device.Backend over real hardware
// via github.com/gen2brain/malgo (Go bindings for miniaudio). This is
// the production playback/capture path; internal/device.SilentBackend
// covers the no-device-sink and silent fallbacks.
//
// Grounded on the teacher's use of malgo for its own audio capture path
// (the only hardware-facing library in the retrieved pack); the
// ring-buffered handoff between malgo's callback thread and the audio
// scheduler thread is modeled on the teacher's buffer-pool pattern in
// its capture pipeline, adapted from single-direction capture to the
// bidirectional get/put-buffer contract §4.E requires.
package malgobackend

import (
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/crasgo/internal/convert"
	"github.com/tphakala/crasgo/internal/errors"
	"github.com/tphakala/crasgo/internal/shmring"
)

// Backend drives one malgo device (playback or capture) as a
// device.Backend.
type Backend struct {
	ctx       *malgo.AllocatedContext
	device    *malgo.Device
	isCapture bool

	format convert.Format
	ring   *shmring.Ring

	lastLevel  int
	lastTstamp time.Time
}

// New opens a malgo context for later device configuration. The actual
// malgo.Device is created in Configure, once the negotiated format is
// known.
func New(isCapture bool) (*Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {})
	if err != nil {
		return nil, errors.New(err).
			Component("device.malgo").
			Category(errors.CategoryDevice).
			Build()
	}
	return &Backend{ctx: ctx, isCapture: isCapture}, nil
}

func malgoFormat(f convert.SampleFormat) malgo.FormatType {
	switch f {
	case convert.FormatS16LE:
		return malgo.FormatS16
	case convert.FormatS24LE:
		return malgo.FormatS24
	case convert.FormatS32LE:
		return malgo.FormatS32
	case convert.FormatFloat32LE:
		return malgo.FormatF32
	default:
		return malgo.FormatS16
	}
}

// Configure (re)creates the underlying malgo device for the negotiated
// format, sizing the handoff ring to roughly 200ms of audio.
func (b *Backend) Configure(format convert.Format) (time.Duration, error) {
	start := time.Now()

	if b.device != nil {
		b.device.Uninit()
		b.device = nil
	}

	deviceType := malgo.Playback
	if b.isCapture {
		deviceType = malgo.Capture
	}

	cfg := malgo.DefaultDeviceConfig(deviceType)
	cfg.Playback.Format = malgoFormat(format.SampleFormat)
	cfg.Playback.Channels = uint32(format.Channels)
	cfg.Capture.Format = malgoFormat(format.SampleFormat)
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = format.FrameRate

	ringBytes := format.FrameBytes() * int(format.FrameRate) / 5 // ~200ms
	ring, err := shmring.NewRing(ringBytes)
	if err != nil {
		return time.Since(start), err
	}
	b.ring = ring
	b.format = format

	var callback malgo.DeviceCallbacks
	if b.isCapture {
		callback.Data = func(output, input []byte, frameCount uint32) {
			w := b.ring.Writable()
			n := copy(w, input)
			b.ring.CommitWrite(n)
		}
	} else {
		callback.Data = func(output, input []byte, frameCount uint32) {
			r := b.ring.Readable()
			n := copy(output, r)
			b.ring.CommitRead(n)
			for i := n; i < len(output); i++ {
				output[i] = 0
			}
		}
	}

	dev, err := malgo.InitDevice(b.ctx.Context, cfg, callback)
	if err != nil {
		return time.Since(start), errors.New(err).
			Component("device.malgo").
			Category(errors.CategoryDevice).
			Build()
	}
	if err := dev.Start(); err != nil {
		return time.Since(start), errors.New(err).
			Component("device.malgo").
			Category(errors.CategoryDevice).
			Build()
	}
	b.device = dev
	return time.Since(start), nil
}

// FramesQueued reports the handoff ring's fill level in frames.
func (b *Backend) FramesQueued() (int, time.Time, error) {
	if b.ring == nil {
		return 0, time.Time{}, errors.Newf("device not configured").
			Component("device.malgo").Category(errors.CategoryDevice).Build()
	}
	frames := b.ring.Used() / b.format.FrameBytes()
	b.lastLevel, b.lastTstamp = frames, time.Now()
	return frames, b.lastTstamp, nil
}

// GetBuffer exposes up to `requested` frames of the handoff ring as a
// contiguous area: writable space for playback, readable data for
// capture.
func (b *Backend) GetBuffer(requested int) (shmring.Area, int, error) {
	frameBytes := b.format.FrameBytes()
	var raw []byte
	if b.isCapture {
		raw = b.ring.Readable()
	} else {
		raw = b.ring.Writable()
	}
	frames := len(raw) / frameBytes
	if frames > requested {
		frames = requested
		raw = raw[:frames*frameBytes]
	}
	return shmring.NewInterleavedArea(raw, b.format.Channels, b.format.SampleFormat.BytesPerSample()), frames, nil
}

// PutBuffer commits the frames written (playback) or consumed (capture)
// from the most recent GetBuffer.
func (b *Backend) PutBuffer(frames int) error {
	n := frames * b.format.FrameBytes()
	if b.isCapture {
		b.ring.CommitRead(n)
	} else {
		b.ring.CommitWrite(n)
	}
	return nil
}

// FlushBuffer drops all pending captured samples.
func (b *Backend) FlushBuffer() error {
	if b.ring == nil {
		return nil
	}
	if r := b.ring.Readable(); len(r) > 0 {
		b.ring.CommitRead(len(r))
	}
	return nil
}

// NoStream is a no-op for real hardware: the callback already zero-fills
// playback when the ring is empty.
func (b *Backend) NoStream(enabled bool) error { return nil }

// StartStream is a no-op: Configure already starts the underlying malgo
// device once the negotiated format is known, so there is no separate
// hardware-start step to defer here. The device package still enforces
// the "called at most once, deferred until first fetch" contract at the
// Device level regardless of what the backend does with the call.
func (b *Backend) StartStream() error { return nil }

// Close tears down the malgo device and context.
func (b *Backend) Close() error {
	if b.device != nil {
		b.device.Uninit()
	}
	if b.ctx != nil {
		return b.ctx.Uninit()
	}
	return nil
}
