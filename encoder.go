package encstream

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Common errors
var (
	// ErrAgain is returned by VideoEncoder.ReceivePacket when the encoder
	// needs more input before it can produce a packet.
	ErrAgain             = errors.New("encoder needs more input")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrProviderNotFound  = errors.New("provider not available")
	ErrCodecNotSupported = errors.New("codec not supported by provider")
	ErrQueueOverflow     = errors.New("segment queue overflow")
	ErrClosed            = errors.New("encoder closed")
)

// EncoderError is a fatal failure reported by a native encoder.
type EncoderError struct {
	Codec string // "AAC" or "H264"
	Op    string // operation that failed, e.g. "encode", "send_frame"
	Err   error
}

func (e *EncoderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Codec, e.Op, e.Err)
}

func (e *EncoderError) Unwrap() error { return e.Err }

// AudioEncoderConfig configures an audio encoder.
type AudioEncoderConfig struct {
	Codec    AudioCodec
	Provider Provider // ProviderAuto = library chooses

	SampleRate int
	Channels   int
	BitrateBps int
	Transport  Transport
}

// AudioEncodeResult reports one Encode call.
type AudioEncodeResult struct {
	InputConsumed int // interleaved samples taken from the input
	OutputSize    int // bytes written to the output buffer
}

// AudioEncoder encodes interleaved 16-bit PCM.
type AudioEncoder interface {
	// Encode consumes pcm and writes at most one access unit into out.
	Encode(pcm []int16, out []byte) (AudioEncodeResult, error)

	// ConfigurationData returns the AudioSpecificConfig bytes.
	ConfigurationData() []byte

	// FrameSize returns the granule length in samples per channel.
	FrameSize() int

	// MaxOutputSize returns the largest access unit the encoder can emit.
	MaxOutputSize() int

	Close() error
}

// VideoEncoderConfig configures a video encoder.
type VideoEncoderConfig struct {
	Codec    VideoCodec
	Provider Provider // ProviderAuto = library chooses

	Width     int
	Height    int
	TimeBase  int64 // ticks per second of frame PTS values
	FrameRate int   // nominal frames per second for rate control (0 = 30)
	Threads   int   // Encoder threads (0 = auto)
	Settings  EncodeSettings
	Logger    logrus.FieldLogger
}

// VideoEncoder is a send/receive H.264 encoder. PTS and DTS are in the
// configured time base.
type VideoEncoder interface {
	// SendFrame submits a raw frame. The encoder copies what it needs.
	SendFrame(frame *VideoFrame) error

	// ReceivePacket returns the next packet or ErrAgain.
	ReceivePacket() (*Packet, error)

	// ParameterSets returns the SPS and PPS NAL units without start codes.
	ParameterSets() (sps, pps [][]byte)

	Close() error
}

// --- Registry ---

type videoEncoderFactory func(VideoEncoderConfig) (VideoEncoder, error)
type audioEncoderFactory func(AudioEncoderConfig) (AudioEncoder, error)

type encoderRegistry struct {
	mu sync.RWMutex

	// codec -> provider -> factory
	videoProviders map[VideoCodec]map[Provider]videoEncoderFactory
	audioProviders map[AudioCodec]map[Provider]audioEncoderFactory

	// Default provider per codec
	videoDefaults map[VideoCodec]Provider
	audioDefaults map[AudioCodec]Provider
}

func newEncoderRegistry() *encoderRegistry {
	return &encoderRegistry{
		videoProviders: make(map[VideoCodec]map[Provider]videoEncoderFactory),
		audioProviders: make(map[AudioCodec]map[Provider]audioEncoderFactory),
		videoDefaults:  make(map[VideoCodec]Provider),
		audioDefaults:  make(map[AudioCodec]Provider),
	}
}

var globalEncoderRegistry = newEncoderRegistry()

func (r *encoderRegistry) registerVideo(codec VideoCodec, provider Provider, factory videoEncoderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.videoProviders[codec] == nil {
		r.videoProviders[codec] = make(map[Provider]videoEncoderFactory)
	}
	r.videoProviders[codec][provider] = factory

	// prefer permissive licenses as the default
	current, exists := r.videoDefaults[codec]
	if !exists || (provider.License().Permissive() && !current.License().Permissive()) {
		r.videoDefaults[codec] = provider
	}
}

func (r *encoderRegistry) registerAudio(codec AudioCodec, provider Provider, factory audioEncoderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.audioProviders[codec] == nil {
		r.audioProviders[codec] = make(map[Provider]audioEncoderFactory)
	}
	r.audioProviders[codec][provider] = factory

	current, exists := r.audioDefaults[codec]
	if !exists || (provider.License().Permissive() && !current.License().Permissive()) {
		r.audioDefaults[codec] = provider
	}
}

func (r *encoderRegistry) newVideo(config VideoEncoderConfig) (VideoEncoder, error) {
	r.mu.RLock()
	providers := r.videoProviders[config.Codec]
	p := config.Provider
	if p == ProviderAuto {
		p = r.videoDefaults[config.Codec]
	}
	factory, ok := providers[p]
	r.mu.RUnlock()

	if providers == nil {
		return nil, fmt.Errorf("%w: no providers for %s", ErrCodecNotSupported, config.Codec)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s for %s", ErrProviderNotFound, p, config.Codec)
	}
	return factory(config)
}

func (r *encoderRegistry) newAudio(config AudioEncoderConfig) (AudioEncoder, error) {
	r.mu.RLock()
	providers := r.audioProviders[config.Codec]
	p := config.Provider
	if p == ProviderAuto {
		p = r.audioDefaults[config.Codec]
	}
	factory, ok := providers[p]
	r.mu.RUnlock()

	if providers == nil {
		return nil, fmt.Errorf("%w: no providers for %s", ErrCodecNotSupported, config.Codec)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s for %s", ErrProviderNotFound, p, config.Codec)
	}
	return factory(config)
}

func (r *encoderRegistry) videoList(codec VideoCodec) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Provider, 0, len(r.videoProviders[codec]))
	for p := range r.videoProviders[codec] {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func (r *encoderRegistry) audioList(codec AudioCodec) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Provider, 0, len(r.audioProviders[codec]))
	for p := range r.audioProviders[codec] {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func registerVideoEncoder(codec VideoCodec, provider Provider, factory videoEncoderFactory) {
	globalEncoderRegistry.registerVideo(codec, provider, factory)
}

func registerAudioEncoder(codec AudioCodec, provider Provider, factory audioEncoderFactory) {
	globalEncoderRegistry.registerAudio(codec, provider, factory)
}

// NewVideoEncoder creates a video encoder from the registered providers.
func NewVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	return globalEncoderRegistry.newVideo(config)
}

// NewAudioEncoder creates an audio encoder from the registered providers.
func NewAudioEncoder(config AudioEncoderConfig) (AudioEncoder, error) {
	return globalEncoderRegistry.newAudio(config)
}

// VideoEncoderProviders returns the registered providers for a video codec.
func VideoEncoderProviders(codec VideoCodec) []Provider {
	return globalEncoderRegistry.videoList(codec)
}

// AudioEncoderProviders returns the registered providers for an audio codec.
func AudioEncoderProviders(codec AudioCodec) []Provider {
	return globalEncoderRegistry.audioList(codec)
}
