// Package mux turns the decode-ordered segments of an encstream.Stream into
// container or wire formats: fragmented MP4 files, low-latency fMP4 parts,
// RTMP/FLV and WebRTC RTP.
package mux

import (
	"errors"
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/thesyncim/encstream"
)

var (
	// ErrNoHeader is returned when a segment is written before WriteHeader.
	ErrNoHeader = errors.New("mux: header not written")
	// ErrSinkClosed is returned after Close.
	ErrSinkClosed = errors.New("mux: sink closed")
)

// Header carries the codec configuration a sink needs before the first
// segment.
type Header struct {
	AudioConfig     []byte // AudioSpecificConfig
	AudioSampleRate int
	VideoConfig     *avc.DecConfRec
	VideoTimeBase   int64
	Width           int
	Height          int
}

// HeaderFromStream collects the header from a stream's encoders.
func HeaderFromStream(s *encstream.Stream) (Header, error) {
	rec, err := s.VideoDecoderConfigurationRecord()
	if err != nil {
		return Header{}, fmt.Errorf("video config: %w", err)
	}
	return Header{
		AudioConfig:     s.AudioConfigurationData(),
		AudioSampleRate: s.AudioSampleRate(),
		VideoConfig:     rec,
		VideoTimeBase:   s.VideoTimeBase(),
		Width:           s.Width(),
		Height:          s.Height(),
	}, nil
}

func (h Header) validate() error {
	if h.VideoConfig == nil || len(h.VideoConfig.SPSnalus) == 0 || len(h.VideoConfig.PPSnalus) == 0 {
		return fmt.Errorf("%w: missing video parameter sets", encstream.ErrInvalidConfig)
	}
	if h.VideoTimeBase <= 0 {
		return fmt.Errorf("%w: video time base %d", encstream.ErrInvalidConfig, h.VideoTimeBase)
	}
	if h.AudioSampleRate <= 0 || len(h.AudioConfig) == 0 {
		return fmt.Errorf("%w: missing audio config", encstream.ErrInvalidConfig)
	}
	return nil
}

// Sink consumes segments in decode order.
type Sink interface {
	WriteHeader(h Header) error
	WriteSegment(seg encstream.Segment) error
	Close() error
}

// timeline shifts decode timestamps so that the earliest one is zero.
// Encoders with B-frames emit negative DTS for the first packets, which
// containers with unsigned decode times cannot carry. The shift is fixed by
// the first segment and applied to both tracks.
type timeline struct {
	set    bool
	offset encstream.MediaDuration
}

func (t *timeline) shift(dts encstream.MediaTime) encstream.MediaTime {
	if !t.set {
		t.set = true
		zero := encstream.NewMediaTime(0, dts.Base())
		if dts.Before(zero) {
			t.offset = zero.Sub(dts)
		}
	}
	return dts.Add(t.offset)
}
