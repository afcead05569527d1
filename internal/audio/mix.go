package audio

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/voicetrack/internal/media"
)

// Mix defaults, in seconds.
const (
	DefaultIntroFade   = 3.0
	DefaultOutroFade   = 10.0
	DefaultOutroExtend = 5.0

	// MaxPreRoll caps how long the intro plays alone before the voice.
	MaxPreRoll = 5.0
	// introFadeLead is how far before the voice the intro fade starts.
	introFadeLead = 0.5
	// outroTailFade is the fade-out at the very end of the outro.
	outroTailFade = 2.0
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Asset is a music file used for the intro or outro.
type Asset struct {
	Path string `json:"path" validate:"required"`
	// Duration is the asset length in seconds; zero means unknown.
	Duration float64 `json:"duration_seconds,omitempty" validate:"gte=0"`
}

// MixSpec configures intro/outro music layered over the voice track.
type MixSpec struct {
	// VoicePath is filled by the assembler with the concatenated voice track.
	VoicePath string `json:"voice_path,omitempty"`
	Intro     *Asset `json:"intro,omitempty" validate:"omitempty"`
	Outro     *Asset `json:"outro,omitempty" validate:"omitempty"`
	// OutroUseIntro plays the intro asset as the outro when no outro is set.
	OutroUseIntro bool    `json:"outro_use_intro"`
	IntroFade     float64 `json:"intro_fade_s" validate:"gte=0,lte=60"`
	OutroFade     float64 `json:"outro_fade_s" validate:"gte=0,lte=60"`
	OutroExtend   float64 `json:"outro_extend_s" validate:"gte=0,lte=120"`
}

// DefaultMixSpec returns a MixSpec with the default fades and no assets.
func DefaultMixSpec() MixSpec {
	return MixSpec{
		IntroFade:   DefaultIntroFade,
		OutroFade:   DefaultOutroFade,
		OutroExtend: DefaultOutroExtend,
	}
}

// Validate checks field bounds.
func (s MixSpec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("mix spec: %w", err)
	}
	return nil
}

// HasMusic reports whether any music asset is configured.
func (s MixSpec) HasMusic() bool {
	return s.Intro != nil || s.Outro != nil
}

// PreRoll returns how long the intro plays before the voice starts, given
// the intro asset duration (zero when unknown).
func PreRoll(introDuration float64) float64 {
	if introDuration <= 0 {
		return MaxPreRoll
	}
	return math.Min(introDuration, MaxPreRoll)
}

// BuildMixGraph builds the filter graph that layers intro and/or outro over
// the voice track. Input 0 is always the voice; intro and outro follow when
// present. Tracks are summed without normalization so that the fade
// envelopes are the only volume control; intro and voice are mixed first,
// then the outro.
func BuildMixGraph(voicePath string, voiceDuration float64, intro, outro *Asset, spec MixSpec) media.MixGraph {
	graph := media.MixGraph{Inputs: []string{voicePath}, Output: "final"}
	var filters []string

	voice := "[0:a]"
	var preRoll float64
	if intro != nil {
		graph.Inputs = append(graph.Inputs, intro.Path)
		in := fmt.Sprintf("[%d:a]", len(graph.Inputs)-1)
		preRoll = PreRoll(intro.Duration)
		fadeStart := math.Max(0, preRoll-introFadeLead)

		f := in + "atrim=0:" + num(preRoll+spec.IntroFade)
		if spec.IntroFade > 0 {
			f += ",afade=t=out:st=" + num(fadeStart) + ":d=" + num(spec.IntroFade)
		}
		filters = append(filters, f+"[intro]")

		ms := millis(preRoll)
		filters = append(filters, fmt.Sprintf("[0:a]adelay=%d|%d[voicedelayed]", ms, ms))
		voice = "[voicedelayed]"
	}

	var outroLabel string
	if outro != nil {
		graph.Inputs = append(graph.Inputs, outro.Path)
		in := fmt.Sprintf("[%d:a]", len(graph.Inputs)-1)
		total := spec.OutroFade + spec.OutroExtend

		f := in + "atrim=0:" + num(total)
		if spec.OutroFade > 0 {
			f += ",afade=t=in:st=0:d=" + num(spec.OutroFade)
		}
		f += ",afade=t=out:st=" + num(math.Max(0, total-outroTailFade)) + ":d=" + num(math.Min(outroTailFade, total))
		filters = append(filters, f+"[outro]")

		ms := millis(preRoll + math.Max(0, voiceDuration-spec.OutroFade))
		filters = append(filters, fmt.Sprintf("[outro]adelay=%d|%d[outrodelayed]", ms, ms))
		outroLabel = "[outrodelayed]"
	}

	const amix = "amix=inputs=2:duration=longest:normalize=0"
	switch {
	case intro != nil && outro != nil:
		filters = append(filters,
			"[intro]"+voice+amix+"[premix]",
			"[premix]"+outroLabel+amix+"[final]",
		)
	case intro != nil:
		filters = append(filters, "[intro]"+voice+amix+"[final]")
	case outro != nil:
		filters = append(filters, voice+outroLabel+amix+"[final]")
	default:
		filters = append(filters, "[0:a]anull[final]")
	}

	graph.Filter = strings.Join(filters, ";")
	return graph
}

func num(v float64) string {
	s := fmt.Sprintf("%.3f", v)
	s = strings.TrimSuffix(strings.TrimRight(s, "0"), ".")
	if s == "" {
		return "0"
	}
	return s
}

func millis(seconds float64) int {
	return int(math.Round(seconds * 1000))
}
