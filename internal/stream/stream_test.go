package stream

import (
	"testing"
	"time"

	"github.com/tphakala/crasgo/internal/convert"
)

func newTestStream() *Stream {
	format := convert.Format{SampleFormat: convert.FormatS16LE, Channels: 2, FrameRate: 48000}
	return New(NewID(1, 1), DirPlayback, TypeMedia, ClientChrome, 480, format, nil)
}

func TestInitNextCbTsNowWhenNoHardwareLevel(t *testing.T) {
	s := newTestStream()
	now := time.Now()
	s.InitNextCbTs(now, false, 0, nil)
	if !s.NextCbTs().Equal(now) {
		t.Fatalf("expected next_cb_ts == now, got %v", s.NextCbTs())
	}
}

func TestInitNextCbTsFromKnownHardwareLevel(t *testing.T) {
	s := newTestStream()
	now := time.Now()
	s.InitNextCbTs(now, true, 960, nil) // (960-480)/48000 = 10ms
	want := now.Add(10 * time.Millisecond)
	if diff := s.NextCbTs().Sub(want); diff > time.Millisecond || diff < -time.Millisecond {
		t.Fatalf("expected next_cb_ts ~= %v, got %v", want, s.NextCbTs())
	}
}

func TestInitNextCbTsUsesSiblingWhenJoiningPopulatedDevice(t *testing.T) {
	s := newTestStream()
	sibling := time.Now().Add(5 * time.Millisecond)
	s.InitNextCbTs(time.Now(), true, 960, &sibling)
	if !s.NextCbTs().Equal(sibling) {
		t.Fatalf("expected sibling's next_cb_ts to be copied, got %v", s.NextCbTs())
	}
}

func TestRequestPlaybackSamplesSetsPendingReply(t *testing.T) {
	s := newTestStream()
	now := time.Now()
	s.InitNextCbTs(now, false, 0, nil)
	if err := s.RequestPlaybackSamples(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.IsPendingReply() {
		t.Fatal("expected pending reply after request_playback_samples")
	}
}

func TestNotifyWrittenClearsPendingReply(t *testing.T) {
	s := newTestStream()
	now := time.Now()
	s.InitNextCbTs(now, false, 0, nil)
	_ = s.RequestPlaybackSamples(now)
	s.NotifyWritten()
	if s.IsPendingReply() {
		t.Fatal("expected pending reply cleared after NotifyWritten")
	}
}

func TestLongestFetchIntervalTracksMaximum(t *testing.T) {
	s := newTestStream()
	base := time.Now()
	s.InitNextCbTs(base, false, 0, nil)

	_ = s.RequestPlaybackSamples(base.Add(5 * time.Millisecond))
	if got := s.LongestFetchInterval(); got < 5*time.Millisecond {
		t.Fatalf("expected longest fetch interval >= 5ms, got %v", got)
	}

	_ = s.RequestPlaybackSamples(s.NextCbTs())
	if got := s.LongestFetchInterval(); got < 5*time.Millisecond {
		t.Fatalf("expected longest fetch interval to remain >= 5ms, got %v", got)
	}
}

func TestDrainMsRemainingZeroForCaptureDirection(t *testing.T) {
	format := convert.Format{SampleFormat: convert.FormatS16LE, Channels: 2, FrameRate: 48000}
	s := New(NewID(1, 1), DirCapture, TypeMedia, ClientChrome, 480, format, nil)
	if got := s.DrainMsRemaining(); got != 0 {
		t.Fatalf("expected 0 for capture direction with nil buffer, got %d", got)
	}
}
