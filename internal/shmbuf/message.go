package shmbuf

import (
	"encoding/binary"

	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"

	"github.com/tphakala/crasgo/internal/errors"
)

// maxMessageBytes bounds a single audio message payload (§4.J: "inline
// payloads up to 256 bytes").
const maxMessageBytes = 256

// MessageChannel is the fd-readable audio-message queue attached to a
// stream's SHM region: the audio thread posts small control messages
// (e.g. "got samples", "set volume") that the client reads by polling an
// eventfd. The byte queue itself is backed by smallnest/ringbuffer, whose
// plain Read/Write(p []byte) API is a good fit for this coarser,
// length-prefixed message stream (component A's internal/shmring is used
// instead for the tighter sample ring, see its package doc).
type MessageChannel struct {
	buf    *ringbuffer.RingBuffer
	evfd   int
	closed bool
}

// NewMessageChannel allocates a message queue and its companion eventfd.
func NewMessageChannel() *MessageChannel {
	evfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		// An eventfd failure here means the process is out of descriptors;
		// degrade to fd -1 so reads/writes still work in-process without
		// cross-process wakeups, rather than failing stream setup outright.
		evfd = -1
	}
	return &MessageChannel{
		buf:  ringbuffer.New(maxMessageBytes * 16),
		evfd: evfd,
	}
}

// Fd returns the eventfd used to signal the client that a message is
// readable, or -1 if none could be allocated.
func (m *MessageChannel) Fd() int { return m.evfd }

// Post writes a length-prefixed message and signals the eventfd.
func (m *MessageChannel) Post(payload []byte) error {
	if len(payload) > maxMessageBytes {
		return errors.Newf("audio message payload %d exceeds max %d", len(payload), maxMessageBytes).
			Component("shmbuf").
			Category(errors.CategoryProtocol).
			Build()
	}
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	if _, err := m.buf.Write(lenPrefix[:]); err != nil {
		return errors.New(err).Component("shmbuf").Category(errors.CategoryProtocol).Build()
	}
	if len(payload) > 0 {
		if _, err := m.buf.Write(payload); err != nil {
			return errors.New(err).Component("shmbuf").Category(errors.CategoryProtocol).Build()
		}
	}
	if m.evfd >= 0 {
		var one [8]byte
		binary.LittleEndian.PutUint64(one[:], 1)
		_, _ = unix.Write(m.evfd, one[:])
	}
	return nil
}

// Poll drains and returns the next pending message, or nil if the queue
// is empty.
func (m *MessageChannel) Poll() ([]byte, error) {
	if m.buf.Length() < 4 {
		return nil, nil
	}
	var lenPrefix [4]byte
	if _, err := m.buf.Read(lenPrefix[:]); err != nil {
		return nil, errors.New(err).Component("shmbuf").Category(errors.CategoryProtocol).Build()
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	if n == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, n)
	if _, err := m.buf.Read(payload); err != nil {
		return nil, errors.New(err).Component("shmbuf").Category(errors.CategoryProtocol).Build()
	}
	return payload, nil
}

// Close releases the eventfd. The ring buffer itself needs no teardown.
func (m *MessageChannel) Close() error {
	if m.closed || m.evfd < 0 {
		return nil
	}
	m.closed = true
	return unix.Close(m.evfd)
}
