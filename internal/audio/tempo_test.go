package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempoChain_Examples(t *testing.T) {
	tests := []struct {
		ratio float64
		want  []float64
	}{
		{4.2, []float64{2.0, 2.0, 1.05}},
		{0.2, []float64{0.5, 0.5, 0.8}},
		{1.3, []float64{1.3}},
		{1.0, []float64{1.0}},
		{2.0, []float64{2.0}},
		{0.5, []float64{0.5}},
	}
	for _, tt := range tests {
		got, err := TempoChain(tt.ratio)
		require.NoError(t, err)
		require.Len(t, got, len(tt.want), "ratio %v", tt.ratio)
		for i := range got {
			assert.InDelta(t, tt.want[i], got[i], 1e-9, "ratio %v stage %d", tt.ratio, i)
		}
	}
}

func TestTempoChain_Properties(t *testing.T) {
	for ratio := 0.01; ratio < 50; ratio *= 1.07 {
		stages, err := TempoChain(ratio)
		require.NoError(t, err)

		product := 1.0
		for _, s := range stages {
			assert.GreaterOrEqual(t, s, MinTempoStage)
			assert.LessOrEqual(t, s, MaxTempoStage)
			product *= s
		}
		assert.InDelta(t, ratio, product, 1e-3, "ratio %v", ratio)
	}
}

func TestTempoChain_Invalid(t *testing.T) {
	for _, r := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := TempoChain(r)
		assert.ErrorIs(t, err, ErrInvalidRatio)
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"323", 323, false},
		{"12.5", 12.5, false},
		{"5:23", 323, false},
		{"1:02:03", 3723, false},
		{" 0:45 ", 45, false},
		{"", 0, true},
		{"abc", 0, true},
		{"5:75", 0, true},
		{"1:2:3:4", 0, true},
		{"0", 0, true},
		{"-3", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidClock)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
