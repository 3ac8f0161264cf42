package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachStreamOpensClosedDevice(t *testing.T) {
	d := New(1, DirPlayback, NewSilentBackend())
	require.Equal(t, Closed, d.State())
	d.AttachStream()
	assert.Equal(t, Open, d.State())
}

func TestPrepareOutputTransitionsToNormalRun(t *testing.T) {
	d := New(1, DirPlayback, NewSilentBackend())
	d.AttachStream()
	assert.Equal(t, NormalRun, d.PrepareOutputBeforeWriteSamples(true))
}

func TestDetachLastStreamFallsBackToNoStreamRun(t *testing.T) {
	d := New(1, DirPlayback, NewSilentBackend())
	d.AttachStream()
	d.PrepareOutputBeforeWriteSamples(true)
	d.DetachStream()
	assert.Equal(t, NoStreamRun, d.State())
}

func TestNoStreamRunReturnsToNormalRun(t *testing.T) {
	d := New(1, DirPlayback, NewSilentBackend())
	d.AttachStream()
	d.PrepareOutputBeforeWriteSamples(true)
	d.DetachStream()
	d.AttachStream()
	assert.Equal(t, NormalRun, d.PrepareOutputBeforeWriteSamples(true))
}

func TestSuspendAndCloseFromAnyNonClosedState(t *testing.T) {
	d := New(1, DirPlayback, NewSilentBackend())
	d.AttachStream()
	d.PrepareOutputBeforeWriteSamples(true)
	d.Suspend()
	require.Equal(t, Paused, d.State())

	require.NoError(t, d.CloseDevice())
	assert.Equal(t, Closed, d.State())
}

func TestStartRampSkippedAtZeroEffectiveVolume(t *testing.T) {
	d := New(1, DirPlayback, NewSilentBackend())
	d.AttachStream()
	d.PrepareOutputBeforeWriteSamples(true)
	d.SetEffectiveVolume(0)

	d.StartRamp(RampDown)
	assert.True(t, d.Muted(), "expected mute to be set synchronously at zero effective volume on ramp-down")

	d.StartRamp(RampUp)
	assert.False(t, d.Muted(), "expected unmute to be set synchronously at zero effective volume on ramp-up")
}

func TestStartRampSkippedOutsideNormalRun(t *testing.T) {
	d := New(1, DirPlayback, NewSilentBackend())
	// Device is still Closed; StartRamp must be a no-op.
	d.StartRamp(RampDown)
	assert.False(t, d.Muted(), "expected StartRamp to have no effect outside NormalRun")
}

func TestCheckLingerFalseUntilTimeoutElapsed(t *testing.T) {
	d := New(1, DirPlayback, NewSilentBackend())
	d.SetLingerTimeout(10 * time.Millisecond)
	d.AttachStream()
	d.PrepareOutputBeforeWriteSamples(true)

	now := time.Now()
	d.DetachStream()
	assert.Equal(t, NoStreamRun, d.State())

	assert.False(t, d.CheckLinger(now), "linger timeout has not elapsed yet")
	assert.True(t, d.CheckLinger(now.Add(20*time.Millisecond)), "expected linger to be eligible once the timeout elapses")
}

func TestCheckLingerFalseWhenDisabled(t *testing.T) {
	d := New(1, DirPlayback, NewSilentBackend())
	d.AttachStream()
	d.PrepareOutputBeforeWriteSamples(true)
	d.DetachStream()

	assert.False(t, d.CheckLinger(time.Now().Add(time.Hour)), "zero linger timeout must disable linger-close")
}

func TestAttachStreamClearsPendingLingerDeadline(t *testing.T) {
	d := New(1, DirPlayback, NewSilentBackend())
	d.SetLingerTimeout(10 * time.Millisecond)
	d.AttachStream()
	d.PrepareOutputBeforeWriteSamples(true)
	d.DetachStream()

	d.AttachStream()
	assert.False(t, d.CheckLinger(time.Now().Add(time.Hour)), "expected re-attach to clear the pending linger deadline")
}
