package mux

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/sirupsen/logrus"
	"github.com/thesyncim/encstream"
	"github.com/yutopp/go-amf0"
)

// FLV tag types and codec ids.
const (
	flvTagAudio  = 8
	flvTagVideo  = 9
	flvTagScript = 18

	flvCodecAVC = 7
	flvCodecAAC = 10

	flvFrameKey   = 1
	flvFrameInter = 2

	flvAVCSequenceHeader = 0
	flvAVCNALU           = 1

	// AAC, 44 kHz, 16 bit, stereo. FLV requires these bits for AAC
	// regardless of the real rate, which the AudioSpecificConfig carries.
	flvAACSoundFormat = 0xAF

	flvAACSequenceHeader = 0
	flvAACRaw            = 1
)

// TagWriter receives FLV tag bodies. Timestamps are in milliseconds.
type TagWriter interface {
	WriteMetadata(body []byte) error
	WriteAudio(ts uint32, body []byte) error
	WriteVideo(ts uint32, body []byte) error
	Close() error
}

func flvVideoSequenceHeader(rec *avc.DecConfRec) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write([]byte{flvFrameKey<<4 | flvCodecAVC, flvAVCSequenceHeader, 0, 0, 0})
	if err := rec.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode AVCDecoderConfigurationRecord: %w", err)
	}
	return buf.Bytes(), nil
}

func flvVideoTag(key bool, cts int32, avcc []byte) []byte {
	frame := byte(flvFrameInter)
	if key {
		frame = flvFrameKey
	}
	body := make([]byte, 5, 5+len(avcc))
	body[0] = frame<<4 | flvCodecAVC
	body[1] = flvAVCNALU
	// composition time is a signed 24-bit value
	body[2] = byte(cts >> 16)
	body[3] = byte(cts >> 8)
	body[4] = byte(cts)
	return append(body, avcc...)
}

func flvAudioTag(packetType byte, payload []byte) []byte {
	body := make([]byte, 2, 2+len(payload))
	body[0] = flvAACSoundFormat
	body[1] = packetType
	return append(body, payload...)
}

// flvMetadata encodes the onMetaData script data.
func flvMetadata(h Header) ([]byte, error) {
	var buf bytes.Buffer
	enc := amf0.NewEncoder(&buf)
	if err := enc.Encode("onMetaData"); err != nil {
		return nil, err
	}
	meta := map[string]interface{}{
		"width":           float64(h.Width),
		"height":          float64(h.Height),
		"videocodecid":    float64(flvCodecAVC),
		"audiocodecid":    float64(flvCodecAAC),
		"audiosamplerate": float64(h.AudioSampleRate),
		"stereo":          true,
		"encoder":         "encstream",
	}
	if err := enc.Encode(meta); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FLVStats counts FLVSink activity.
type FLVStats struct {
	VideoTags uint64
	AudioTags uint64
}

// FLVSink converts segments to FLV tags, for RTMP publishing or .flv files.
type FLVSink struct {
	mu     sync.Mutex
	out    TagWriter
	log    logrus.FieldLogger
	tl     timeline
	inited bool
	closed bool
	stats  FLVStats
}

// NewFLVSink returns a sink writing to out. Close closes out.
func NewFLVSink(out TagWriter, logger logrus.FieldLogger) *FLVSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FLVSink{out: out, log: logger.WithField("sink", "flv")}
}

// WriteHeader sends metadata and both sequence headers.
func (s *FLVSink) WriteHeader(h Header) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if err := h.validate(); err != nil {
		return err
	}

	meta, err := flvMetadata(h)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := s.out.WriteMetadata(meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	vsh, err := flvVideoSequenceHeader(h.VideoConfig)
	if err != nil {
		return err
	}
	if err := s.out.WriteVideo(0, vsh); err != nil {
		return fmt.Errorf("write video sequence header: %w", err)
	}
	if err := s.out.WriteAudio(0, flvAudioTag(flvAACSequenceHeader, h.AudioConfig)); err != nil {
		return fmt.Errorf("write audio sequence header: %w", err)
	}
	s.inited = true
	return nil
}

func (s *FLVSink) WriteSegment(seg encstream.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if !s.inited {
		return ErrNoHeader
	}

	raw, _ := seg.Timing()
	dts := s.tl.shift(raw)
	ms := dts.RoundToBase(1000)

	switch v := seg.(type) {
	case *encstream.VideoSegment:
		data := lengthPrefixed(v.Frame.Data)
		if len(data) == 0 {
			return nil
		}
		cts := dts.Add(v.Frame.CompositionTime).RoundToBase(1000) - ms
		if err := s.out.WriteVideo(uint32(ms), flvVideoTag(v.Frame.IsKeyFrame, int32(cts), data)); err != nil {
			return fmt.Errorf("write video tag: %w", err)
		}
		s.stats.VideoTags++

	case *encstream.AudioSegment:
		if err := s.out.WriteAudio(uint32(ms), flvAudioTag(flvAACRaw, stripADTS(v.Frame))); err != nil {
			return fmt.Errorf("write audio tag: %w", err)
		}
		s.stats.AudioTags++

	default:
		return fmt.Errorf("mux: unknown segment type %T", seg)
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (s *FLVSink) Stats() FLVStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *FLVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.out.Close()
}

// FLVFile writes tags as an FLV file.
type FLVFile struct {
	w       io.Writer
	c       io.Closer
	started bool
}

// NewFLVFile writes an FLV stream to w. If w is an io.Closer it is closed
// by Close.
func NewFLVFile(w io.Writer) *FLVFile {
	f := &FLVFile{w: w}
	if c, ok := w.(io.Closer); ok {
		f.c = c
	}
	return f
}

func (f *FLVFile) WriteMetadata(body []byte) error { return f.writeTag(flvTagScript, 0, body) }

func (f *FLVFile) WriteAudio(ts uint32, body []byte) error { return f.writeTag(flvTagAudio, ts, body) }

func (f *FLVFile) WriteVideo(ts uint32, body []byte) error { return f.writeTag(flvTagVideo, ts, body) }

func (f *FLVFile) writeTag(typ byte, ts uint32, body []byte) error {
	if !f.started {
		// signature, version 1, audio+video, header size, first PreviousTagSize
		hdr := []byte{'F', 'L', 'V', 1, 0x05, 0, 0, 0, 9, 0, 0, 0, 0}
		if _, err := f.w.Write(hdr); err != nil {
			return err
		}
		f.started = true
	}

	tag := make([]byte, 11, 11+len(body)+4)
	tag[0] = typ
	tag[1] = byte(len(body) >> 16)
	tag[2] = byte(len(body) >> 8)
	tag[3] = byte(len(body))
	tag[4] = byte(ts >> 16)
	tag[5] = byte(ts >> 8)
	tag[6] = byte(ts)
	tag[7] = byte(ts >> 24)
	tag = append(tag, body...)
	tag = binary.BigEndian.AppendUint32(tag, uint32(11+len(body)))
	_, err := f.w.Write(tag)
	return err
}

func (f *FLVFile) Close() error {
	if f.c != nil {
		return f.c.Close()
	}
	return nil
}
