package device

import (
	"time"

	"github.com/tphakala/crasgo/internal/convert"
	"github.com/tphakala/crasgo/internal/shmring"
)

// SilentBackend is the no-device-sink / silent playback-record-hotword
// fallback (§2 GLOSSARY: "reserved low indices for the no-device sink,
// the silent playback/record/hotword fallbacks"). It always reports
// itself ready and discards/zero-fills everything.
type SilentBackend struct {
	format convert.Format
	area   []byte
}

// NewSilentBackend returns a backend that accepts any format and never
// blocks; used when no real hardware is enumerated.
func NewSilentBackend() *SilentBackend {
	return &SilentBackend{area: make([]byte, 4096)}
}

func (s *SilentBackend) Configure(format convert.Format) (time.Duration, error) {
	s.format = format
	return 0, nil
}

func (s *SilentBackend) FramesQueued() (int, time.Time, error) {
	return 0, time.Now(), nil
}

func (s *SilentBackend) GetBuffer(requested int) (shmring.Area, int, error) {
	need := requested * s.format.FrameBytes()
	if need > len(s.area) {
		s.area = make([]byte, need)
	}
	for i := range s.area[:need] {
		s.area[i] = 0
	}
	area := shmring.NewInterleavedArea(s.area[:need], s.format.Channels, s.format.SampleFormat.BytesPerSample())
	return area, requested, nil
}

func (s *SilentBackend) PutBuffer(frames int) error  { return nil }
func (s *SilentBackend) FlushBuffer() error          { return nil }
func (s *SilentBackend) NoStream(enabled bool) error { return nil }
func (s *SilentBackend) StartStream() error          { return nil }
func (s *SilentBackend) Close() error                { return nil }
