// Package audio implements the audio stages of the pipeline: tempo alignment
// of synthesized speech to a target duration and assembly of ordered audio
// units into one track with optional intro/outro music.
package audio

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Bounds of a single atempo stage.
const (
	MinTempoStage = 0.5
	MaxTempoStage = 2.0
)

// ErrInvalidRatio is returned for a tempo ratio that is not a positive finite number.
var ErrInvalidRatio = errors.New("invalid tempo ratio: must be positive and finite")

// ErrInvalidClock is returned by ParseClock for malformed durations.
var ErrInvalidClock = errors.New("invalid duration")

// TempoChain decomposes ratio into stage multipliers within
// [MinTempoStage, MaxTempoStage] whose product is ratio. Stages keep full
// precision; the engine renders them with 4 decimals.
func TempoChain(ratio float64) ([]float64, error) {
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRatio, ratio)
	}

	var stages []float64
	for ratio > MaxTempoStage {
		stages = append(stages, MaxTempoStage)
		ratio /= MaxTempoStage
	}
	for ratio < MinTempoStage {
		stages = append(stages, MinTempoStage)
		ratio /= MinTempoStage
	}
	return append(stages, ratio), nil
}

// ParseClock parses a duration given as seconds ("323", "12.5") or as a
// clock ("5:23", "1:02:03") and returns it in seconds.
func ParseClock(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidClock)
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}

	var total float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
		}
		// minutes and seconds fields of a clock stay below 60
		if i > 0 && v >= 60 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
		}
		total = total*60 + v
	}
	if total <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return total, nil
}
