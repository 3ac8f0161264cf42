// Package devstream implements component G: the binding created when a
// stream attaches to a device, gone when it detaches. It carries the
// per-stream converter and offset bookkeeping the scheduler consults
// every wake.
//
// Grounded on the teacher's attach/detach lifecycle idiom used for its
// buffer-pool checkouts, adapted to the §4.G offset-copy contract —
// called out in the spec as one of the sharpest behavioral contracts to
// preserve exactly.
package devstream

import (
	"time"

	"github.com/tphakala/crasgo/internal/convert"
	"github.com/tphakala/crasgo/internal/stream"
)

// DevStream binds one Stream to one device.
type DevStream struct {
	Stream   *stream.Stream
	DeviceID uint32
	Conv     *convert.Converter

	initialCbTs time.Time
	nextWake    time.Time
	running     bool

	offset uint32 // device mix-buffer offset, in frames
}

// New creates a dev-stream binding. If siblings is non-empty (the device
// already has attached dev-streams), the new binding's offset is copied
// from the first sibling's offset rather than starting at zero — the
// "first-stream copies the offset" rule (§4.G) that keeps newcomers from
// racing ahead of in-flight data. This must hold even when every
// sibling's offset happens to be zero.
func New(st *stream.Stream, deviceID uint32, conv *convert.Converter, now time.Time, siblings []*DevStream) *DevStream {
	ds := &DevStream{
		Stream:      st,
		DeviceID:    deviceID,
		Conv:        conv,
		initialCbTs: now,
		nextWake:    now,
	}
	if len(siblings) > 0 {
		ds.offset = siblings[0].offset
	}
	return ds
}

// Offset returns the dev-stream's current device-buffer offset.
func (d *DevStream) Offset() uint32 { return d.offset }

// SetOffset updates the dev-stream's device-buffer offset.
func (d *DevStream) SetOffset(v uint32) { d.offset = v }

// Running reports whether this dev-stream is actively being serviced
// (has fetched/delivered data this cycle).
func (d *DevStream) Running() bool { return d.running }

// SetRunning updates the running flag.
func (d *DevStream) SetRunning(v bool) { d.running = v }

// NextWake returns the next instant this dev-stream needs service.
func (d *DevStream) NextWake() time.Time { return d.nextWake }

// WakeTime implements §4.G's wake_time computation: the next instant
// this dev-stream needs service, based on the device's current buffer
// level versus the stream's cb_threshold. capLimit is the device's
// buffer capacity in frames; isCapLimitStream marks the stream whose
// cb_threshold is being used to size the device buffer itself, which
// wakes exactly at the threshold boundary rather than with slack.
func (d *DevStream) WakeTime(currLevel uint32, levelTstamp time.Time, capLimit uint32, isCapLimitStream bool) time.Time {
	rate := d.Stream.Format.FrameRate
	if rate == 0 {
		d.nextWake = levelTstamp
		return d.nextWake
	}

	threshold := d.Stream.CbThreshold
	var framesUntilNeeded int64
	if currLevel > threshold {
		framesUntilNeeded = int64(currLevel) - int64(threshold)
	}
	if isCapLimitStream && capLimit > 0 && currLevel > capLimit {
		framesUntilNeeded = int64(capLimit) - int64(threshold)
		if framesUntilNeeded < 0 {
			framesUntilNeeded = 0
		}
	}

	delay := time.Duration(float64(framesUntilNeeded) / float64(rate) * float64(time.Second))
	d.nextWake = levelTstamp.Add(delay)
	return d.nextWake
}
