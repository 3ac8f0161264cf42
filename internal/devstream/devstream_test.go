package devstream

import (
	"testing"
	"time"

	"github.com/tphakala/crasgo/internal/convert"
	"github.com/tphakala/crasgo/internal/stream"
)

func newTestStream() *stream.Stream {
	format := convert.Format{SampleFormat: convert.FormatS16LE, Channels: 2, FrameRate: 48000}
	return stream.New(stream.NewID(1, 1), stream.DirPlayback, stream.TypeMedia, stream.ClientChrome, 480, format, nil)
}

func TestFirstStreamStartsAtZeroOffset(t *testing.T) {
	ds := New(newTestStream(), 1, nil, time.Now(), nil)
	if ds.Offset() != 0 {
		t.Fatalf("expected zero offset for the first dev-stream, got %d", ds.Offset())
	}
}

func TestNewStreamCopiesFirstSiblingOffset(t *testing.T) {
	first := New(newTestStream(), 1, nil, time.Now(), nil)
	first.SetOffset(1234)

	second := New(newTestStream(), 1, nil, time.Now(), []*DevStream{first})
	if second.Offset() != 1234 {
		t.Fatalf("expected new dev-stream to copy first sibling's offset 1234, got %d", second.Offset())
	}
}

func TestNewStreamCopiesZeroSiblingOffsetExplicitly(t *testing.T) {
	first := New(newTestStream(), 1, nil, time.Now(), nil)
	// first.offset is 0; a second dev-stream joining must still copy it
	// (not merely default to zero coincidentally).
	second := New(newTestStream(), 1, nil, time.Now(), []*DevStream{first})
	if second.Offset() != first.Offset() {
		t.Fatalf("expected offsets to match: first=%d second=%d", first.Offset(), second.Offset())
	}
}

func TestWakeTimeComputesDelayFromLevelAboveThreshold(t *testing.T) {
	ds := New(newTestStream(), 1, nil, time.Now(), nil)
	tstamp := time.Now()
	// level 960, threshold 480: (960-480)/48000s = 10ms
	got := ds.WakeTime(960, tstamp, 0, false)
	want := tstamp.Add(10 * time.Millisecond)
	if diff := got.Sub(want); diff > time.Millisecond || diff < -time.Millisecond {
		t.Fatalf("expected wake time ~= %v, got %v", want, got)
	}
}
