package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiatePicksClosestRateByGCD(t *testing.T) {
	requested := Format{SampleFormat: FormatS16LE, Channels: 2, FrameRate: 44100}
	supported := SupportedFormats{
		Rates:         []uint32{48000, 32000},
		ChannelCounts: []int{2},
		SampleFormats: []SampleFormat{FormatS16LE},
	}
	got, err := Negotiate(requested, supported)
	require.NoError(t, err)
	// gcd(44100,48000)=300, gcd(44100,32000)=100: 48000 should win.
	assert.Equal(t, uint32(48000), got.FrameRate)
}

func TestNegotiateFallsBackToTwoChannels(t *testing.T) {
	requested := Format{SampleFormat: FormatS16LE, Channels: 6, FrameRate: 48000}
	supported := SupportedFormats{
		Rates:         []uint32{48000},
		ChannelCounts: []int{2},
		SampleFormats: []SampleFormat{FormatS16LE},
	}
	got, err := Negotiate(requested, supported)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Channels)
}

func TestConverterIdentityIsByteCopy(t *testing.T) {
	f := Format{SampleFormat: FormatS16LE, Channels: 2, FrameRate: 48000}
	c := New(f, f, 480)

	src := make([]byte, 480*f.FrameBytes())
	for i := range src {
		src[i] = byte(i)
	}
	dst := make([]byte, len(src))

	n := c.Convert(dst, src, 480)
	require.Equal(t, 480, n)
	assert.Equal(t, src, dst, "identity convert must not mutate bytes")
}

func TestConverterSampleFormatRoundTrip(t *testing.T) {
	src := Format{SampleFormat: FormatS16LE, Channels: 1, FrameRate: 48000}
	dst := Format{SampleFormat: FormatFloat32LE, Channels: 1, FrameRate: 48000}
	c := New(src, dst, 4)

	srcBytes := make([]byte, 4*src.FrameBytes())
	// encode a known S16 value (half-scale) into the first frame.
	srcBytes[0] = 0x00
	srcBytes[1] = 0x40 // 0x4000 = 16384

	dstBytes := make([]byte, 4*dst.FrameBytes())
	n := c.Convert(dstBytes, srcBytes, 4)
	require.Equal(t, 4, n)

	var decoded [4]float32
	decodeToFloat32(decoded[:], dstBytes, FormatFloat32LE)
	want := float32(16384) / 32768.0
	assert.InDelta(t, want, decoded[0], 0.001)
}

func TestConverterChannelRemapMonoToStereo(t *testing.T) {
	src := Format{SampleFormat: FormatFloat32LE, Channels: 1, FrameRate: 48000}
	dst := Format{SampleFormat: FormatFloat32LE, Channels: 2, FrameRate: 48000}
	c := New(src, dst, 2)

	srcBytes := make([]byte, 2*src.FrameBytes())
	encodeFromFloat32(srcBytes, []float32{0.5, -0.5}, FormatFloat32LE)

	dstBytes := make([]byte, 2*dst.FrameBytes())
	n := c.Convert(dstBytes, srcBytes, 2)
	require.Equal(t, 2, n)

	var decoded [4]float32
	decodeToFloat32(decoded[:], dstBytes, FormatFloat32LE)
	assert.Equal(t, decoded[0], decoded[1], "expected mono duplicated across both stereo channels")
}

func TestConverterResampleProducesExpectedFrameCount(t *testing.T) {
	src := Format{SampleFormat: FormatFloat32LE, Channels: 1, FrameRate: 48000}
	dst := Format{SampleFormat: FormatFloat32LE, Channels: 1, FrameRate: 16000}
	c := New(src, dst, 480)

	srcSamples := make([]float32, 480)
	for i := range srcSamples {
		srcSamples[i] = 0.1
	}
	srcBytes := make([]byte, len(srcSamples)*4)
	encodeFromFloat32(srcBytes, srcSamples, FormatFloat32LE)

	want := c.WorstCaseOutputFrames(480)
	dstBytes := make([]byte, want*dst.FrameBytes())
	n := c.Convert(dstBytes, srcBytes, 480)
	assert.LessOrEqual(t, n, want, "produced frames must not exceed worst case")
	assert.NotZero(t, n, "expected some output frames from downsampling 480 source frames")
}

func TestConverterResetClearsResamplerPhase(t *testing.T) {
	src := Format{SampleFormat: FormatFloat32LE, Channels: 1, FrameRate: 48000}
	dst := Format{SampleFormat: FormatFloat32LE, Channels: 1, FrameRate: 16000}
	c := New(src, dst, 480)
	require.NotNil(t, c.resampler, "expected a resampler stage for differing rates")

	c.resampler.phase = 123
	c.Reset()
	assert.Zero(t, c.resampler.phase)
}
