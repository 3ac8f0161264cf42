// Package stream implements component F: the client-stream abstraction
// that the scheduler drives once per wake. It owns the SHM handoff
// bookkeeping (via internal/shmbuf) and the fetch/reply timing rules.
//
// Grounded on the teacher's attribute-bag-plus-behavior style for its
// long-lived domain objects (e.g. the detection result struct), adapted
// here to the §4.F contract and the §3 identity/invariant rules (64-bit
// id with client id in the upper bits; (client id, stream id) unique).
package stream

import (
	"strings"
	"sync"
	"time"

	"github.com/tphakala/crasgo/internal/convert"
	"github.com/tphakala/crasgo/internal/shmbuf"
)

// Direction mirrors the four stream directions named in §3.
type Direction int

const (
	DirPlayback Direction = iota
	DirCapture
	DirLoopbackPostMix
	DirLoopbackPostDSP
)

// Type is the stream's usage classification (§3).
type Type int

const (
	TypeMedia Type = iota
	TypeVoiceCommunication
	TypeSpeechRecognition
	TypeProAudio
	TypeAccessibility
	TypeDefault
)

// ClientType enumerates the known client categories (§3), used by
// flexible loopback's client-types mask.
type ClientType int

const (
	ClientUnknown ClientType = iota
	ClientTest
	ClientChrome
	ClientArc
	ClientArcvm
	ClientCrosvm
	ClientPluginVM
	ClientBorealis
	ClientLacros
	ClientLegacy
	ClientPCM
	ClientSoundCardInit
	ClientServerStream
)

// clientTypeNames maps the config-facing lowercase-hyphen name of a
// client type to its constant, used by ParseClientType when resolving
// a floop pair's client_types list (§10 ambient config: floop).
var clientTypeNames = map[string]ClientType{
	"unknown":          ClientUnknown,
	"test":             ClientTest,
	"chrome":           ClientChrome,
	"arc":              ClientArc,
	"arcvm":            ClientArcvm,
	"crosvm":           ClientCrosvm,
	"plugin-vm":        ClientPluginVM,
	"borealis":         ClientBorealis,
	"lacros":           ClientLacros,
	"legacy":           ClientLegacy,
	"pcm":              ClientPCM,
	"sound-card-init":  ClientSoundCardInit,
	"server-stream":    ClientServerStream,
}

// ParseClientType resolves a config-facing client type name to its
// constant. The comparison is case-insensitive.
func ParseClientType(name string) (ClientType, bool) {
	ct, ok := clientTypeNames[strings.ToLower(name)]
	return ct, ok
}

// String returns the config-facing name of a client type.
func (c ClientType) String() string {
	for name, ct := range clientTypeNames {
		if ct == c {
			return name
		}
	}
	return "unknown"
}

// ID packs a client id into the upper bits of a 64-bit stream id (§3).
type ID uint64

// NewID builds a stream ID from a client id and a per-client sequence
// number.
func NewID(clientID uint32, seq uint32) ID {
	return ID(uint64(clientID)<<32 | uint64(seq))
}

// ClientID extracts the owning client id from a stream ID.
func (id ID) ClientID() uint32 { return uint32(id >> 32) }

// Stream is one client's attached audio stream.
type Stream struct {
	mu sync.Mutex

	ID          ID
	Direction   Direction
	Type        Type
	ClientType  ClientType
	CbThreshold uint32 // frames
	Format      convert.Format
	Buf         *shmbuf.StreamBuffer
	PinnedDevice *uint32

	nextCbTs          time.Time
	pendingReply      bool
	lastFetchInterval time.Duration
	longestFetch      time.Duration

	devOffset uint32 // per-device accounting offset (§4.F)
}

// New constructs a stream in its initial (not yet scheduled) state.
func New(id ID, dir Direction, typ Type, clientType ClientType, cbThreshold uint32, format convert.Format, buf *shmbuf.StreamBuffer) *Stream {
	return &Stream{
		ID: id, Direction: dir, Type: typ, ClientType: clientType,
		CbThreshold: cbThreshold, Format: format, Buf: buf,
	}
}

// sleepInterval implements the §4.F rate-rule: cb_threshold / frame_rate.
func (s *Stream) sleepInterval() time.Duration {
	if s.Format.FrameRate == 0 {
		return 0
	}
	return time.Duration(float64(s.CbThreshold) / float64(s.Format.FrameRate) * float64(time.Second))
}

// InitNextCbTs sets the stream's initial next_cb_ts per the three §4.F
// cases. hwLevelKnown distinguishes "device has no valid hardware level
// yet" from a known current_hw_level; siblingNextCbTs is consulted only
// when provided (joining a populated device) and takes precedence when
// earlier than the computed value, matching "the earliest next_cb_ts of
// any sibling stream on that device".
func (s *Stream) InitNextCbTs(now time.Time, hwLevelKnown bool, currentHwLevel uint32, siblingNextCbTs *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case siblingNextCbTs != nil:
		s.nextCbTs = *siblingNextCbTs
	case !hwLevelKnown:
		s.nextCbTs = now
	default:
		delta := (int64(currentHwLevel) - int64(s.CbThreshold))
		offset := time.Duration(float64(delta) / float64(s.Format.FrameRate) * float64(time.Second))
		s.nextCbTs = now.Add(offset)
	}
}

// NextCbTs returns the stream's next scheduled callback time.
func (s *Stream) NextCbTs() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextCbTs
}

// IsPendingReply reports whether the stream has been signaled but no
// producer write has occurred yet (§4.F).
func (s *Stream) IsPendingReply() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingReply
}

// RequestPlaybackSamples records the fetch interval, re-arms next_cb_ts,
// signals the client via the audio-message fd, and updates the
// longest-fetch-interval statistic (§4.F).
func (s *Stream) RequestPlaybackSamples(now time.Time) error {
	s.mu.Lock()
	if !s.nextCbTs.IsZero() {
		interval := now.Sub(s.nextCbTs)
		if interval < 0 {
			interval = 0
		}
		s.lastFetchInterval = interval
		if interval > s.longestFetch {
			s.longestFetch = interval
		}
	}
	s.nextCbTs = now.Add(s.sleepInterval())
	s.pendingReply = true
	s.mu.Unlock()

	if s.Buf == nil {
		return nil
	}
	return s.Buf.MessageChannel().Post([]byte("request_playback_samples"))
}

// NotifyWritten clears pendingReply once the client has produced into
// its write-open buffer.
func (s *Stream) NotifyWritten() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingReply = false
}

// LongestFetchInterval reports the longest fetch interval observed.
func (s *Stream) LongestFetchInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.longestFetch
}

// DevOffset/DevOffsetUpdate implement the per-device accounting helpers
// named in §4.F.
func (s *Stream) DevOffset() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devOffset
}

func (s *Stream) DevOffsetUpdate(v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devOffset = v
}

// DrainMsRemaining reports how many whole milliseconds remain in the SHM
// (playback) or 0 (capture) (§4.F).
func (s *Stream) DrainMsRemaining() uint32 {
	if s.Buf == nil {
		return 0
	}
	isCapture := s.Direction == DirCapture
	return s.Buf.DrainMsRemaining(s.Format.FrameRate, isCapture)
}
