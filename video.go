package encstream

import (
	"errors"
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/sirupsen/logrus"
)

// VideoParams configures a VideoCtx.
type VideoParams struct {
	Width       int
	Height      int
	TimeBase    int64 // encoder ticks per second
	PixelFormat PixelFormat
	Profile     Profile
	Provider    Provider
	FrameRate   int // nominal input rate, a rate control hint for the encoder
	Threads     int
	Logger      logrus.FieldLogger
}

// VideoStats counts VideoCtx activity.
type VideoStats struct {
	FramesSent      uint64
	PacketsReceived uint64
	KeyFrames       uint64
	BlankFrames     uint64
}

// VideoCtx wraps an H.264 encoder configured from a Profile. It is not safe
// for concurrent use.
type VideoCtx struct {
	enc      VideoEncoder
	params   VideoParams
	settings EncodeSettings
	blank    *VideoFrame

	log   logrus.FieldLogger
	stats VideoStats
}

// NewVideoCtx creates the H.264 encoder through the provider registry.
func NewVideoCtx(params VideoParams) (*VideoCtx, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	enc, err := NewVideoEncoder(VideoEncoderConfig{
		Codec:     VideoCodecH264,
		Provider:  params.Provider,
		Width:     params.Width,
		Height:    params.Height,
		TimeBase:  params.TimeBase,
		FrameRate: params.FrameRate,
		Threads:   params.Threads,
		Settings:  params.Profile.Settings(),
		Logger:    params.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create H264 encoder: %w", err)
	}
	return NewVideoCtxWithEncoder(params, enc)
}

// NewVideoCtxWithEncoder wraps an already configured encoder. The context
// takes ownership of enc.
func NewVideoCtxWithEncoder(params VideoParams, enc VideoEncoder) (*VideoCtx, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	log := params.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &VideoCtx{
		enc:      enc,
		params:   params,
		settings: params.Profile.Settings(),
		blank:    NewBlankFrame(params.Width, params.Height),
		log:      log.WithField("codec", "h264"),
	}, nil
}

func (p VideoParams) validate() error {
	if p.Width <= 0 || p.Height <= 0 || p.Width%2 != 0 || p.Height%2 != 0 {
		return fmt.Errorf("%w: dimensions %dx%d must be positive and even", ErrInvalidConfig, p.Width, p.Height)
	}
	if p.TimeBase <= 0 {
		return fmt.Errorf("%w: time base %d", ErrInvalidConfig, p.TimeBase)
	}
	if p.PixelFormat != PixelFormatI420 {
		return fmt.Errorf("%w: pixel format %s", ErrInvalidConfig, p.PixelFormat)
	}
	return nil
}

// SendFrame submits a raw frame. Any picture type hint is cleared so the
// encoder makes its own key frame decisions.
func (c *VideoCtx) SendFrame(frame *VideoFrame) error {
	if frame == nil || frame.Width != c.params.Width || frame.Height != c.params.Height ||
		frame.Format != c.params.PixelFormat || len(frame.Data) < 3 || len(frame.Stride) < 3 {
		return &EncoderError{Codec: "H264", Op: "send_frame",
			Err: fmt.Errorf("%w: frame does not match %dx%d %s", ErrInvalidConfig,
				c.params.Width, c.params.Height, c.params.PixelFormat)}
	}

	frame.PictureType = PictureTypeNone
	if err := c.enc.SendFrame(frame); err != nil {
		return &EncoderError{Codec: "H264", Op: "send_frame", Err: err}
	}
	c.stats.FramesSent++
	return nil
}

// RecvPacket returns the next encoded packet, or nil when the encoder needs
// more input.
func (c *VideoCtx) RecvPacket() (*Packet, error) {
	pkt, err := c.enc.ReceivePacket()
	if errors.Is(err, ErrAgain) {
		return nil, nil
	}
	if err != nil {
		return nil, &EncoderError{Codec: "H264", Op: "receive_packet", Err: err}
	}
	if pkt == nil {
		return nil, nil
	}
	c.stats.PacketsReceived++
	if pkt.KeyFrame {
		c.stats.KeyFrames++
	}
	return pkt, nil
}

// BlankFrame returns a fresh copy of the black frame.
func (c *VideoCtx) BlankFrame() *VideoFrame {
	c.stats.BlankFrames++
	return c.blank.Clone()
}

// ParameterSets returns the encoder's SPS and PPS NAL units.
func (c *VideoCtx) ParameterSets() (sps, pps [][]byte) {
	return c.enc.ParameterSets()
}

// DecoderConfigurationRecord builds the avcC record from the encoder's
// parameter sets.
func (c *VideoCtx) DecoderConfigurationRecord() (*avc.DecConfRec, error) {
	sps, pps := c.enc.ParameterSets()
	return NewDecoderConfigurationRecord(sps, pps)
}

// NewDecoderConfigurationRecord builds an avcC record from raw SPS and PPS
// NAL units. Profile, compatibility and level come from SPS bytes 1 to 3.
func NewDecoderConfigurationRecord(sps, pps [][]byte) (*avc.DecConfRec, error) {
	if len(sps) == 0 || len(sps[0]) < 4 {
		return nil, fmt.Errorf("%w: missing SPS", ErrInvalidConfig)
	}
	if len(pps) == 0 || len(pps[0]) == 0 {
		return nil, fmt.Errorf("%w: missing PPS", ErrInvalidConfig)
	}
	if t := avc.GetNaluType(sps[0][0]); t != avc.NALU_SPS {
		return nil, fmt.Errorf("%w: first parameter set is %s, not SPS", ErrInvalidConfig, t)
	}

	profile := sps[0][1]
	rec := &avc.DecConfRec{
		AVCProfileIndication: profile,
		ProfileCompatibility: sps[0][2],
		AVCLevelIndication:   sps[0][3],
		SPSnalus:             sps,
		PPSnalus:             pps,
		ChromaFormat:         1,
	}
	switch profile {
	case 66, 77, 88:
		rec.NoTrailingInfo = true
	}
	return rec, nil
}

// TimeBase returns the encoder time base in ticks per second.
func (c *VideoCtx) TimeBase() int64 { return c.params.TimeBase }

func (c *VideoCtx) Width() int  { return c.params.Width }
func (c *VideoCtx) Height() int { return c.params.Height }

// Profile returns the profile the encoder was configured with.
func (c *VideoCtx) Profile() Profile { return c.params.Profile }

// Settings returns the expanded encoder settings.
func (c *VideoCtx) Settings() EncodeSettings { return c.settings }

// Stats returns a snapshot of the counters.
func (c *VideoCtx) Stats() VideoStats { return c.stats }

// Close releases the encoder.
func (c *VideoCtx) Close() error {
	if c.enc == nil {
		return nil
	}
	err := c.enc.Close()
	c.enc = nil
	return err
}
