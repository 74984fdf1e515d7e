package mux

import (
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/sirupsen/logrus"
	"github.com/thesyncim/encstream"
)

// PartWriter receives the serialized output of a LiveFMP4Sink.
type PartWriter interface {
	WriteInit(init []byte) error
	// WritePart delivers one moof/mdat pair. independent is set for parts
	// a decoder can start from.
	WritePart(part []byte, independent bool) error
}

// StreamPartWriter writes init and parts back to back to an io.Writer,
// flushing after each write when the writer is an http.Flusher.
type StreamPartWriter struct {
	W io.Writer
}

func (s StreamPartWriter) WriteInit(init []byte) error { return s.write(init) }

func (s StreamPartWriter) WritePart(part []byte, _ bool) error { return s.write(part) }

func (s StreamPartWriter) write(b []byte) error {
	if _, err := s.W.Write(b); err != nil {
		return err
	}
	if f, ok := s.W.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

const (
	liveVideoTrackID = 1
	liveAudioTrackID = 2
)

// LiveFMP4Sink emits one fMP4 part per segment so a player can render
// each frame as soon as it is encoded.
type LiveFMP4Sink struct {
	mu     sync.Mutex
	out    PartWriter
	log    logrus.FieldLogger
	hdr    Header
	tl     timeline
	seq    uint32
	inited bool
	closed bool
	parts  uint64
}

// NewLiveFMP4Sink returns a sink writing to out.
func NewLiveFMP4Sink(out PartWriter, logger logrus.FieldLogger) *LiveFMP4Sink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LiveFMP4Sink{
		out: out,
		log: logger.WithField("sink", "live-fmp4"),
		seq: 1,
	}
}

func (l *LiveFMP4Sink) WriteHeader(h Header) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrSinkClosed
	}
	if err := h.validate(); err != nil {
		return err
	}

	var asc mpeg4audio.AudioSpecificConfig
	if err := asc.Unmarshal(h.AudioConfig); err != nil {
		return fmt.Errorf("%w: audio config: %v", encstream.ErrInvalidConfig, err)
	}

	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{
			{
				ID:        liveVideoTrackID,
				TimeScale: uint32(h.VideoTimeBase),
				Codec: &mp4.CodecH264{
					SPS: h.VideoConfig.SPSnalus[0],
					PPS: h.VideoConfig.PPSnalus[0],
				},
			},
			{
				ID:        liveAudioTrackID,
				TimeScale: uint32(h.AudioSampleRate),
				Codec:     &mp4.CodecMPEG4Audio{Config: asc},
			},
		},
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return fmt.Errorf("marshal init segment: %w", err)
	}
	if err := l.out.WriteInit(buf.Bytes()); err != nil {
		return fmt.Errorf("write init segment: %w", err)
	}
	l.hdr = h
	l.inited = true
	l.log.WithField("size", len(buf.Bytes())).Info("live init segment written")
	return nil
}

func (l *LiveFMP4Sink) WriteSegment(seg encstream.Segment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrSinkClosed
	}
	if !l.inited {
		return ErrNoHeader
	}

	rawDTS, dur := seg.Timing()
	dts := l.tl.shift(rawDTS)

	var (
		track       *fmp4.PartTrack
		independent bool
	)
	switch s := seg.(type) {
	case *encstream.VideoSegment:
		data := lengthPrefixed(s.Frame.Data)
		if len(data) == 0 {
			return nil
		}
		tb := l.hdr.VideoTimeBase
		track = &fmp4.PartTrack{
			ID:       liveVideoTrackID,
			BaseTime: decodeTime(dts, tb),
			Samples: []*fmp4.Sample{{
				Duration:        sampleDuration(dts, dur, tb),
				PTSOffset:       int32(s.Frame.CompositionTime.RoundToBase(tb)),
				IsNonSyncSample: !s.Frame.IsKeyFrame,
				Payload:         data,
			}},
		}
		independent = s.Frame.IsKeyFrame

	case *encstream.AudioSegment:
		rate := int64(l.hdr.AudioSampleRate)
		track = &fmp4.PartTrack{
			ID:       liveAudioTrackID,
			BaseTime: decodeTime(dts, rate),
			Samples: []*fmp4.Sample{{
				Duration: sampleDuration(dts, dur, rate),
				Payload:  stripADTS(s.Frame),
			}},
		}

	default:
		return fmt.Errorf("mux: unknown segment type %T", seg)
	}

	part := &fmp4.Part{
		SequenceNumber: l.seq,
		Tracks:         []*fmp4.PartTrack{track},
	}
	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return fmt.Errorf("marshal part %d: %w", l.seq, err)
	}
	if err := l.out.WritePart(buf.Bytes(), independent); err != nil {
		return fmt.Errorf("write part %d: %w", l.seq, err)
	}
	l.seq++
	l.parts++
	return nil
}

// Parts returns the number of parts written.
func (l *LiveFMP4Sink) Parts() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.parts
}

func (l *LiveFMP4Sink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
