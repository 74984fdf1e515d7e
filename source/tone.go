package source

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ToneType selects the waveform a Tone produces.
type ToneType int

const (
	ToneSilence ToneType = iota
	ToneSine
	ToneSquare
	ToneNoise
	ToneSweep // logarithmic, repeating
)

func (t ToneType) String() string {
	switch t {
	case ToneSilence:
		return "silence"
	case ToneSine:
		return "sine"
	case ToneSquare:
		return "square"
	case ToneNoise:
		return "noise"
	case ToneSweep:
		return "sweep"
	default:
		return "unknown"
	}
}

// ParseToneType maps a tone name as printed by String.
func ParseToneType(name string) (ToneType, error) {
	for t := ToneSilence; t <= ToneSweep; t++ {
		if strings.EqualFold(name, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown tone %q", name)
}

// ToneConfig configures a Tone.
type ToneConfig struct {
	SampleRate int // default 48000
	Type       ToneType
	Frequency  float64 // default 440
	Amplitude  float64 // 0..1, default 0.5

	SweepStartHz  float64       // default 200
	SweepEndHz    float64       // default 2000
	SweepDuration time.Duration // default 2s
}

// Tone generates interleaved stereo float samples in [-1, 1]. Both
// channels carry the same signal.
type Tone struct {
	cfg      ToneConfig
	phase    float64
	produced uint64
	rngState uint64
}

// NewTone returns a tone generator with defaults applied.
func NewTone(cfg ToneConfig) *Tone {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Frequency <= 0 {
		cfg.Frequency = 440
	}
	if cfg.Amplitude <= 0 {
		cfg.Amplitude = 0.5
	}
	cfg.Amplitude = math.Min(cfg.Amplitude, 1)
	if cfg.SweepStartHz <= 0 {
		cfg.SweepStartHz = 200
	}
	if cfg.SweepEndHz <= 0 {
		cfg.SweepEndHz = 2000
	}
	if cfg.SweepDuration <= 0 {
		cfg.SweepDuration = 2 * time.Second
	}
	return &Tone{cfg: cfg, rngState: 0x2545f4914f6cdd1d}
}

// Config returns the configuration with defaults applied.
func (t *Tone) Config() ToneConfig { return t.cfg }

// Produced returns the number of sample frames generated so far.
func (t *Tone) Produced() uint64 { return t.produced }

// Next returns n sample frames (2n floats).
func (t *Tone) Next(n int) []float32 {
	out := make([]float32, 2*n)
	for i := 0; i < n; i++ {
		s := float32(t.cfg.Amplitude * t.sample())
		out[2*i] = s
		out[2*i+1] = s
		t.produced++
	}
	return out
}

func (t *Tone) sample() float64 {
	rate := float64(t.cfg.SampleRate)
	switch t.cfg.Type {
	case ToneSine:
		return t.advance(t.cfg.Frequency/rate, math.Sin(t.phase))
	case ToneSquare:
		v := 1.0
		if math.Sin(t.phase) < 0 {
			v = -1
		}
		return t.advance(t.cfg.Frequency/rate, v)
	case ToneNoise:
		t.rngState ^= t.rngState << 13
		t.rngState ^= t.rngState >> 7
		t.rngState ^= t.rngState << 17
		return float64(t.rngState)/float64(math.MaxUint64)*2 - 1
	case ToneSweep:
		span := rate * t.cfg.SweepDuration.Seconds()
		progress := math.Mod(float64(t.produced), span) / span
		lo, hi := math.Log(t.cfg.SweepStartHz), math.Log(t.cfg.SweepEndHz)
		freq := math.Exp(lo + progress*(hi-lo))
		return t.advance(freq/rate, math.Sin(t.phase))
	default:
		return 0
	}
}

// advance moves the phase by cycles and returns v.
func (t *Tone) advance(cycles, v float64) float64 {
	t.phase += 2 * math.Pi * cycles
	if t.phase > 2*math.Pi {
		t.phase -= 2 * math.Pi
	}
	return v
}
