// Package synth provides synthetic AAC and H.264 encoders. They emit
// correctly framed, correctly timed access units with filler payloads sized
// to the target bitrate, so a stream and its sinks can run without the
// native codec libraries.
package synth

import (
	"bytes"
	"fmt"

	"github.com/Eyevinn/mp4ff/aac"
	"github.com/Eyevinn/mp4ff/avc"
	"github.com/thesyncim/encstream"
)

var (
	_ encstream.AudioEncoder = (*AudioEncoder)(nil)
	_ encstream.VideoEncoder = (*VideoEncoder)(nil)
)

// SPS and PPS of a 640x480 baseline stream. The synthetic video encoder
// announces them regardless of its configured size.
var (
	SPS = []byte{0x67, 0x42, 0xc0, 0x1e, 0xd9, 0x00, 0xa0, 0x47, 0xfe, 0xc8}
	PPS = []byte{0x68, 0xce, 0x38, 0x80}
)

// AudioEncoder produces one AAC-LC access unit per granule.
type AudioEncoder struct {
	conf      []byte
	frameSize int
	unitSize  int
	frames    int
	closed    bool
}

// NewAudioEncoder returns an encoder for stereo audio at sampleRate whose
// output averages bitrateBps.
func NewAudioEncoder(sampleRate, bitrateBps int) (*AudioEncoder, error) {
	var buf bytes.Buffer
	asc := &aac.AudioSpecificConfig{
		ObjectType:           aac.AAClc,
		ChannelConfiguration: 2,
		SamplingFrequency:    sampleRate,
	}
	if err := asc.Encode(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", encstream.ErrInvalidConfig, err)
	}
	unit := bitrateBps / 8 * encstream.AudioGranule / sampleRate
	return &AudioEncoder{
		conf:      buf.Bytes(),
		frameSize: encstream.AudioGranule,
		unitSize:  max(unit, 4),
	}, nil
}

func (e *AudioEncoder) Encode(pcm []int16, out []byte) (encstream.AudioEncodeResult, error) {
	if e.closed {
		return encstream.AudioEncodeResult{}, encstream.ErrClosed
	}
	n := min(e.unitSize, len(out))
	// single channel pair element header, then a frame counter
	out[0] = 0x21
	out[1] = 0x10
	out[2] = byte(e.frames >> 8)
	out[3] = byte(e.frames)
	clear(out[4:n])
	e.frames++
	return encstream.AudioEncodeResult{InputConsumed: len(pcm), OutputSize: n}, nil
}

func (e *AudioEncoder) ConfigurationData() []byte { return e.conf }
func (e *AudioEncoder) FrameSize() int            { return e.frameSize }
func (e *AudioEncoder) MaxOutputSize() int        { return max(e.unitSize, 768) }

// Frames returns how many access units were produced.
func (e *AudioEncoder) Frames() int { return e.frames }

func (e *AudioEncoder) Close() error {
	e.closed = true
	return nil
}

// VideoConfig configures a VideoEncoder.
type VideoConfig struct {
	TimeBase   int64
	FrameRate  int
	BitrateBps int
	// GOPSize is the key frame interval in frames. Values <= 1 make every
	// frame a key frame.
	GOPSize int
	// Delay is how many frames the encoder holds before its first packet.
	Delay int
	// DTSShift is subtracted from PTS to emulate B-frame reordering.
	DTSShift int64
}

// VideoEncoder turns each frame into one access unit.
type VideoEncoder struct {
	cfg    VideoConfig
	size   int
	sent   int
	queue  []*encstream.Packet
	closed bool
}

// NewVideoEncoder returns a synthetic H.264 encoder.
func NewVideoEncoder(cfg VideoConfig) *VideoEncoder {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	size := cfg.BitrateBps / 8 / cfg.FrameRate
	return &VideoEncoder{cfg: cfg, size: max(size, 8)}
}

func (e *VideoEncoder) SendFrame(frame *encstream.VideoFrame) error {
	if e.closed {
		return encstream.ErrClosed
	}
	key := e.cfg.GOPSize <= 1 || e.sent%e.cfg.GOPSize == 0
	e.queue = append(e.queue, &encstream.Packet{
		Data:     e.accessUnit(key),
		PTS:      frame.PTS,
		DTS:      frame.PTS - e.cfg.DTSShift,
		KeyFrame: key,
	})
	e.sent++
	return nil
}

func (e *VideoEncoder) accessUnit(key bool) []byte {
	out := make([]byte, 0, e.size+32)
	out = append(out, 0, 0, 0, 1, byte(avc.NALU_AUD), 0xf0)
	hdr := byte(0x41)
	if key {
		out = append(out, 0, 0, 0, 1)
		out = append(out, SPS...)
		out = append(out, 0, 0, 0, 1)
		out = append(out, PPS...)
		hdr = 0x65
	}
	out = append(out, 0, 0, 0, 1, hdr, byte(e.sent>>8), byte(e.sent))
	for len(out) < e.size {
		// 0x55 never forms a start code
		out = append(out, 0x55)
	}
	return out
}

func (e *VideoEncoder) ReceivePacket() (*encstream.Packet, error) {
	if e.closed {
		return nil, encstream.ErrClosed
	}
	if len(e.queue) <= e.cfg.Delay {
		return nil, encstream.ErrAgain
	}
	p := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	return p, nil
}

func (e *VideoEncoder) ParameterSets() (sps, pps [][]byte) {
	return [][]byte{SPS}, [][]byte{PPS}
}

// Sent returns how many frames were submitted.
func (e *VideoEncoder) Sent() int { return e.sent }

func (e *VideoEncoder) Close() error {
	e.closed = true
	return nil
}

// NewStream builds a Stream over synthetic encoders with the usual
// parameters for the given profile.
func NewStream(width, height int, timeBase int64, sampleRate int, profile encstream.Profile, opts ...encstream.StreamOption) (*encstream.Stream, error) {
	settings := profile.Settings()

	aenc, err := NewAudioEncoder(sampleRate, 128000)
	if err != nil {
		return nil, err
	}
	audio, err := encstream.NewAudioCtxWithEncoder(encstream.AudioParams{BitRate: 128000, SampleRate: sampleRate}, aenc)
	if err != nil {
		return nil, err
	}

	bitrate := settings.BitrateBps
	if bitrate == 0 {
		bitrate = 2_000_000
	}
	gop := settings.GOPSize
	if gop == 0 {
		gop = 60
	}
	venc := NewVideoEncoder(VideoConfig{
		TimeBase:   timeBase,
		FrameRate:  30,
		BitrateBps: bitrate,
		GOPSize:    gop,
	})
	video, err := encstream.NewVideoCtxWithEncoder(encstream.VideoParams{
		Width:       width,
		Height:      height,
		TimeBase:    timeBase,
		PixelFormat: encstream.PixelFormatI420,
		Profile:     profile,
	}, venc)
	if err != nil {
		audio.Close()
		return nil, err
	}
	return encstream.NewStream(audio, video, opts...), nil
}
