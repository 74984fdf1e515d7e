package encstream

import (
	"bytes"
	"fmt"
	"math"

	"github.com/Eyevinn/mp4ff/aac"
	"github.com/sirupsen/logrus"
)

const (
	// AudioChannels is the fixed interleaved channel count.
	AudioChannels = 2
	// AudioGranule is the AAC frame length in samples per channel.
	AudioGranule = 1024

	granuleSamples = AudioGranule * AudioChannels
	aacOutputSize  = 4096
)

// AudioParams configures an AudioCtx.
type AudioParams struct {
	BitRate    int // bits per second
	SampleRate int // samples per second per channel
	Transport  Transport
	Provider   Provider
	Logger     logrus.FieldLogger
}

// AudioStats counts AudioCtx activity.
type AudioStats struct {
	FramesEncoded     uint64
	BytesEncoded      uint64
	ClippedSamples    uint64
	ConsumeMismatches uint64
}

// AudioCtx turns interleaved stereo float samples into AAC access units of
// exactly one granule each. It is not safe for concurrent use.
type AudioCtx struct {
	enc        AudioEncoder
	sampleRate int
	conf       []byte
	asc        *aac.AudioSpecificConfig
	granule    MediaDuration

	pcm []int16
	out []byte

	log   logrus.FieldLogger
	stats AudioStats
}

// NewAudioCtx creates the AAC encoder through the provider registry.
func NewAudioCtx(params AudioParams) (*AudioCtx, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	enc, err := NewAudioEncoder(AudioEncoderConfig{
		Codec:      AudioCodecAAC,
		Provider:   params.Provider,
		SampleRate: params.SampleRate,
		Channels:   AudioChannels,
		BitrateBps: params.BitRate,
		Transport:  params.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create AAC encoder: %w", err)
	}
	ctx, err := NewAudioCtxWithEncoder(params, enc)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return ctx, nil
}

// NewAudioCtxWithEncoder wraps an already configured encoder. The context
// takes ownership of enc.
func NewAudioCtxWithEncoder(params AudioParams, enc AudioEncoder) (*AudioCtx, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if fs := enc.FrameSize(); fs != AudioGranule {
		return nil, fmt.Errorf("%w: encoder frame size %d, want %d", ErrInvalidConfig, fs, AudioGranule)
	}

	conf := append([]byte(nil), enc.ConfigurationData()...)
	asc, err := aac.DecodeAudioSpecificConfig(bytes.NewReader(conf))
	if err != nil {
		return nil, fmt.Errorf("%w: audio specific config: %v", ErrInvalidConfig, err)
	}
	if asc.SamplingFrequency != params.SampleRate {
		return nil, fmt.Errorf("%w: audio specific config rate %d, want %d",
			ErrInvalidConfig, asc.SamplingFrequency, params.SampleRate)
	}

	outSize := aacOutputSize
	if m := enc.MaxOutputSize(); m > outSize {
		outSize = m
	}

	log := params.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &AudioCtx{
		enc:        enc,
		sampleRate: params.SampleRate,
		conf:       conf,
		asc:        asc,
		granule:    NewMediaDuration(AudioGranule, int64(params.SampleRate)),
		pcm:        make([]int16, 0, granuleSamples*2),
		out:        make([]byte, outSize),
		log:        log.WithField("codec", "aac"),
	}, nil
}

func (p AudioParams) validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, p.SampleRate)
	}
	if p.BitRate <= 0 {
		return fmt.Errorf("%w: bit rate %d", ErrInvalidConfig, p.BitRate)
	}
	return nil
}

// SendAudio appends samples and encodes at most one granule. ok is false
// when not enough audio is buffered yet. The returned frame is owned by the
// caller.
func (c *AudioCtx) SendAudio(samples []float32) (d MediaDuration, frame []byte, ok bool, err error) {
	for _, s := range samples {
		c.pcm = append(c.pcm, c.quantize(s))
	}

	// strictly more than one granule, so a full granule is always held back
	if len(c.pcm) <= granuleSamples {
		return MediaDuration{}, nil, false, nil
	}

	res, err := c.enc.Encode(c.pcm[:granuleSamples], c.out)
	if err != nil {
		return MediaDuration{}, nil, false, &EncoderError{Codec: "AAC", Op: "encode", Err: err}
	}
	if res.InputConsumed != granuleSamples {
		c.stats.ConsumeMismatches++
		c.log.WithFields(logrus.Fields{
			"want": granuleSamples,
			"got":  res.InputConsumed,
		}).Warn("aac encoder did not consume a full granule")
	}
	if res.OutputSize < 0 || res.OutputSize > len(c.out) {
		return MediaDuration{}, nil, false, &EncoderError{
			Codec: "AAC", Op: "encode",
			Err: fmt.Errorf("output size %d out of range", res.OutputSize),
		}
	}

	frame = make([]byte, res.OutputSize)
	copy(frame, c.out[:res.OutputSize])

	n := copy(c.pcm, c.pcm[granuleSamples:])
	c.pcm = c.pcm[:n]

	c.stats.FramesEncoded++
	c.stats.BytesEncoded += uint64(len(frame))
	return c.granule, frame, true, nil
}

func (c *AudioCtx) quantize(s float32) int16 {
	switch {
	case math.IsNaN(float64(s)):
		return 0
	case s > 1:
		c.stats.ClippedSamples++
		s = 1
	case s < -1:
		c.stats.ClippedSamples++
		s = -1
	}
	return int16(s * math.MaxInt16)
}

// ConfigurationData returns the AudioSpecificConfig bytes.
func (c *AudioCtx) ConfigurationData() []byte {
	return append([]byte(nil), c.conf...)
}

// AudioSpecificConfig returns the parsed configuration.
func (c *AudioCtx) AudioSpecificConfig() *aac.AudioSpecificConfig { return c.asc }

// SampleRate returns the configured sample rate.
func (c *AudioCtx) SampleRate() int { return c.sampleRate }

// GranuleDuration returns the duration of one encoded frame.
func (c *AudioCtx) GranuleDuration() MediaDuration { return c.granule }

// Buffered returns the number of interleaved samples waiting to be encoded.
func (c *AudioCtx) Buffered() int { return len(c.pcm) }

// Stats returns a snapshot of the counters.
func (c *AudioCtx) Stats() AudioStats { return c.stats }

// Close releases the encoder.
func (c *AudioCtx) Close() error {
	if c.enc == nil {
		return nil
	}
	err := c.enc.Close()
	c.enc = nil
	return err
}
