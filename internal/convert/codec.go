package convert

import (
	"encoding/binary"
	"math"
)

// decodeToFloat32 expands a raw interleaved byte buffer in the given
// sample format into interleaved float32 samples in [-1, 1].
func decodeToFloat32(dst []float32, src []byte, format SampleFormat) int {
	width := format.BytesPerSample()
	if width == 0 {
		return 0
	}
	n := len(src) / width
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		b := src[i*width : i*width+width]
		switch format {
		case FormatS16LE:
			dst[i] = float32(int16(binary.LittleEndian.Uint16(b))) / 32768.0
		case FormatS24LE:
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= ^int32(0xFFFFFF)
			}
			dst[i] = float32(v) / 8388608.0
		case FormatS32LE:
			dst[i] = float32(int32(binary.LittleEndian.Uint32(b))) / 2147483648.0
		case FormatFloat32LE:
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b))
		}
	}
	return n
}

// encodeFromFloat32 packs interleaved float32 samples into the given
// sample format, clamping to the representable range.
func encodeFromFloat32(dst []byte, src []float32, format SampleFormat) int {
	width := format.BytesPerSample()
	if width == 0 {
		return 0
	}
	n := len(dst) / width
	if n > len(src) {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		b := dst[i*width : i*width+width]
		s := clamp(src[i], -1, 1)
		switch format {
		case FormatS16LE:
			binary.LittleEndian.PutUint16(b, uint16(int16(s*32767.0)))
		case FormatS24LE:
			v := int32(s * 8388607.0)
			b[0] = byte(v)
			b[1] = byte(v >> 8)
			b[2] = byte(v >> 16)
		case FormatS32LE:
			binary.LittleEndian.PutUint32(b, uint32(int32(s*2147483647.0)))
		case FormatFloat32LE:
			binary.LittleEndian.PutUint32(b, math.Float32bits(s))
		}
	}
	return n
}

// DecodeToFloat32 is the exported form of decodeToFloat32, used by the
// scheduler's mixer to decode a dev-stream's post-conversion device-format
// bytes into float32 for accumulation (§2 component H: "mix all running
// dev-streams into the device's output buffer").
func DecodeToFloat32(dst []float32, src []byte, format SampleFormat) int {
	return decodeToFloat32(dst, src, format)
}

// EncodeFromFloat32 is the exported form of encodeFromFloat32, used by the
// scheduler to pack the final mixed/DSP'd float32 buffer into the
// device's hardware byte format before PutBuffer.
func EncodeFromFloat32(dst []byte, src []float32, format SampleFormat) int {
	return encodeFromFloat32(dst, src, format)
}

// Mix accumulates src into dst in place, sample-for-sample, up to
// min(len(dst), len(src)) samples. This is the scalar accumulate loop the
// mixer runs once per running dev-stream per wake; kept scalar to match
// the teacher's own non-SIMD inner loops elsewhere in this package (see
// resample.go's FIR convolution).
func Mix(dst, src []float32) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		dst[i] += src[i]
	}
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
