package device

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScalerFromDBIsInverseOfDBFromScaler(t *testing.T) {
	for _, dB := range []float64{-6000, -3000, -1000, 0} {
		scaler := ScalerFromDB(dB)
		got := DBFromScaler(scaler)
		assert.InDelta(t, dB, got, 1, "round trip through scaler should recover the original dBFS within rounding")
	}
}

func TestScalerFromDBAtZeroIsUnity(t *testing.T) {
	assert.InDelta(t, 1.0, ScalerFromDB(0), 1e-9)
}

func TestBuildSoftvolScalersIsMonotonicallyIncreasing(t *testing.T) {
	scalers := BuildSoftvolScalers(LinearVolumeCurve{MinDB: -6000, MaxDB: 0})
	for i := 1; i < len(scalers); i++ {
		assert.True(t, scalers[i] >= scalers[i-1], "scaler at index %d should be >= scaler at %d", i, i-1)
	}
	assert.InDelta(t, 1.0, scalers[100], 1e-9, "index 100 should be unity gain for a curve topping out at 0dB")
}

func TestSetVolumeIndexClampsRange(t *testing.T) {
	d := New(1, DirPlayback, NewSilentBackend())

	d.SetVolumeIndex(-5)
	assert.Equal(t, 0, d.VolumeIndex())

	d.SetVolumeIndex(500)
	assert.Equal(t, 100, d.VolumeIndex())
}

func TestSetVolumeCurveRecomputesEffectiveVolume(t *testing.T) {
	d := New(1, DirPlayback, NewSilentBackend())
	d.SetVolumeIndex(0)
	d.SetVolumeCurve(LinearVolumeCurve{MinDB: -6000, MaxDB: 0})

	d.mu.Lock()
	got := d.effectiveVol
	d.mu.Unlock()

	want := ScalerFromDB(-6000)
	assert.True(t, math.Abs(got-want) < 1e-9)
}
