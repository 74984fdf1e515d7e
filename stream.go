package encstream

import (
	"errors"
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/sirupsen/logrus"
)

// Segment is one encoded, timestamped unit ready for a muxer. It is either
// an *AudioSegment or a *VideoSegment.
type Segment interface {
	// Timing returns the decode timestamp and duration of the segment.
	Timing() (dts MediaTime, dur MediaDuration)
	isSegment()
}

// AudioSegment is one AAC access unit of one granule.
type AudioSegment struct {
	DecodeTimestamp MediaTime
	Duration        MediaDuration
	Frame           []byte
}

func (s *AudioSegment) Timing() (MediaTime, MediaDuration) { return s.DecodeTimestamp, s.Duration }
func (*AudioSegment) isSegment()                           {}

// AVCFrame is one H.264 access unit in Annex-B form.
type AVCFrame struct {
	IsKeyFrame      bool
	CompositionTime MediaDuration // PTS - DTS
	Data            []byte
}

// VideoSegment is one encoded video packet.
type VideoSegment struct {
	DecodeTimestamp MediaTime
	Duration        MediaDuration
	Frame           AVCFrame
}

func (s *VideoSegment) Timing() (MediaTime, MediaDuration) { return s.DecodeTimestamp, s.Duration }
func (*VideoSegment) isSegment()                           {}

// PresentationTimestamp returns DTS + composition time.
func (s *VideoSegment) PresentationTimestamp() MediaTime {
	return s.DecodeTimestamp.Add(s.Frame.CompositionTime)
}

// OverflowPolicy decides what happens when a bounded queue is full.
type OverflowPolicy int

const (
	// OverflowFail moves the stream into the failed state with ErrQueueOverflow.
	OverflowFail OverflowPolicy = iota
	// OverflowDropOldest discards the oldest segment of the full track.
	OverflowDropOldest
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowFail:
		return "fail"
	case OverflowDropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithQueueLimit bounds each per-track queue to n segments. n <= 0 means
// unbounded, which is the default.
func WithQueueLimit(n int, policy OverflowPolicy) StreamOption {
	return func(s *Stream) {
		s.limit = n
		s.policy = policy
	}
}

// WithLogger sets the logger used for dropped frames and overflow.
func WithLogger(l logrus.FieldLogger) StreamOption {
	return func(s *Stream) {
		if l != nil {
			s.log = l
		}
	}
}

// StreamStats counts Stream activity.
type StreamStats struct {
	LateFramesDropped  uint64
	BlankFramesEncoded uint64
	SegmentsEmitted    uint64
	SegmentsDiscarded  uint64
}

// Stream merges independently produced audio and video into one sequence of
// segments in non-decreasing decode order.
//
// A Stream has no internal locking. One goroutine must own it; see the
// session package for a driver that funnels producers through a channel.
type Stream struct {
	audio *AudioCtx
	video *VideoCtx

	audioQ []*AudioSegment
	videoQ []*VideoSegment

	audioTS MediaTime
	videoTS MediaTime

	limit  int
	policy OverflowPolicy

	err   error
	log   logrus.FieldLogger
	stats StreamStats
}

// NewStream returns a stream owning both contexts. Both track clocks start
// at zero.
func NewStream(audio *AudioCtx, video *VideoCtx, opts ...StreamOption) *Stream {
	s := &Stream{
		audio:   audio,
		video:   video,
		audioTS: NewMediaTime(0, 1),
		videoTS: NewMediaTime(0, 1),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendAudio feeds interleaved stereo samples. At most one AAC frame is
// queued per call.
func (s *Stream) SendAudio(samples []float32) error {
	if s.err != nil {
		return s.err
	}

	d, frame, ok, err := s.audio.SendAudio(samples)
	if err != nil {
		return s.fail(err)
	}
	if !ok {
		return nil
	}

	seg := &AudioSegment{DecodeTimestamp: s.audioTS, Duration: d, Frame: frame}
	s.audioTS = s.audioTS.Add(d)

	if s.limit > 0 && len(s.audioQ) >= s.limit {
		if s.policy == OverflowFail {
			return s.fail(fmt.Errorf("%w: audio queue holds %d segments", ErrQueueOverflow, len(s.audioQ)))
		}
		s.audioQ[0] = nil
		s.audioQ = s.audioQ[1:]
		s.stats.SegmentsDiscarded++
		s.log.WithField("track", "audio").Warn("segment queue full, dropped oldest")
	}
	s.audioQ = append(s.audioQ, seg)
	return nil
}

// SendVideo encodes frame as covering [video clock, ts+hint). A frame that
// ends before the video clock is dropped. The stream takes ownership of
// frame and overwrites its PTS.
func (s *Stream) SendVideo(ts MediaTime, hint MediaDuration, frame *VideoFrame) error {
	if s.err != nil {
		return s.err
	}
	if frame == nil {
		return s.fail(&EncoderError{Codec: "H264", Op: "send_frame",
			Err: fmt.Errorf("%w: nil frame", ErrInvalidConfig)})
	}

	end := ts.Add(hint)
	if end.Before(s.videoTS) {
		s.stats.LateFramesDropped++
		s.log.WithFields(logrus.Fields{
			"end":   end.Duration(),
			"clock": s.videoTS.Duration(),
		}).Debug("dropped late video frame")
		return nil
	}

	// measure from the current clock so small input gaps are absorbed
	return s.encodeVideo(end.Sub(s.videoTS), frame)
}

// Barrier declares that no video is missing before ts. If the video clock
// is behind, a blank frame is encoded to fill the gap.
func (s *Stream) Barrier(ts MediaTime) error {
	if s.err != nil {
		return s.err
	}
	if !s.videoTS.Before(ts) {
		return nil
	}
	s.stats.BlankFramesEncoded++
	return s.encodeVideo(ts.Sub(s.videoTS), s.video.BlankFrame())
}

func (s *Stream) encodeVideo(d MediaDuration, frame *VideoFrame) error {
	tb := s.video.TimeBase()

	start := s.videoTS
	end := start.Add(d)
	s.videoTS = end

	// round both boundaries so consecutive durations tile without gaps
	startTicks := start.RoundToBase(tb)
	endTicks := end.RoundToBase(tb)
	dur := NewMediaDuration(endTicks-startTicks, tb)

	frame.PTS = startTicks
	if err := s.video.SendFrame(frame); err != nil {
		return s.fail(err)
	}

	for {
		pkt, err := s.video.RecvPacket()
		if err != nil {
			return s.fail(err)
		}
		if pkt == nil {
			return nil
		}
		if err := s.pushVideo(&VideoSegment{
			DecodeTimestamp: NewMediaTime(pkt.DTS, tb),
			Duration:        dur,
			Frame: AVCFrame{
				IsKeyFrame:      pkt.KeyFrame,
				CompositionTime: NewMediaDuration(pkt.PTS-pkt.DTS, tb),
				Data:            pkt.Data,
			},
		}); err != nil {
			return err
		}
	}
}

func (s *Stream) pushVideo(seg *VideoSegment) error {
	if s.limit > 0 && len(s.videoQ) >= s.limit {
		if s.policy == OverflowFail {
			return s.fail(fmt.Errorf("%w: video queue holds %d segments", ErrQueueOverflow, len(s.videoQ)))
		}
		s.videoQ[0] = nil
		s.videoQ = s.videoQ[1:]
		s.stats.SegmentsDiscarded++
		s.log.WithField("track", "video").Warn("segment queue full, dropped oldest")
	}
	s.videoQ = append(s.videoQ, seg)
	return nil
}

// RecvSegment returns the next segment in decode order, or nil while either
// queue holds one segment or fewer. On equal decode timestamps audio goes
// first.
func (s *Stream) RecvSegment() Segment {
	if len(s.audioQ) <= 1 || len(s.videoQ) <= 1 {
		return nil
	}
	s.stats.SegmentsEmitted++
	return s.popFront()
}

// Flush drains both queues in decode order without holding back the
// lookahead. Only meaningful once production has stopped.
func (s *Stream) Flush() []Segment {
	out := make([]Segment, 0, len(s.audioQ)+len(s.videoQ))
	for len(s.audioQ) > 0 || len(s.videoQ) > 0 {
		out = append(out, s.popFront())
	}
	s.stats.SegmentsEmitted += uint64(len(out))
	return out
}

func (s *Stream) popFront() Segment {
	takeAudio := len(s.videoQ) == 0 ||
		(len(s.audioQ) > 0 && !s.videoQ[0].DecodeTimestamp.Before(s.audioQ[0].DecodeTimestamp))
	if takeAudio {
		seg := s.audioQ[0]
		s.audioQ[0] = nil
		s.audioQ = s.audioQ[1:]
		return seg
	}
	seg := s.videoQ[0]
	s.videoQ[0] = nil
	s.videoQ = s.videoQ[1:]
	return seg
}

func (s *Stream) fail(err error) error {
	if s.err == nil {
		s.err = err
		s.log.WithError(err).Error("encode stream failed")
	}
	return s.err
}

// Err returns the error that moved the stream into the failed state, if any.
func (s *Stream) Err() error { return s.err }

// AudioTimestamp is the end of the last queued audio frame.
func (s *Stream) AudioTimestamp() MediaTime { return s.audioTS }

// VideoTimestamp is the end of the last encoded video frame.
func (s *Stream) VideoTimestamp() MediaTime { return s.videoTS }

// Pending returns the queue lengths.
func (s *Stream) Pending() (audio, video int) { return len(s.audioQ), len(s.videoQ) }

// Stats returns a snapshot of the counters.
func (s *Stream) Stats() StreamStats { return s.stats }

func (s *Stream) AudioConfigurationData() []byte { return s.audio.ConfigurationData() }
func (s *Stream) AudioSampleRate() int           { return s.audio.SampleRate() }

func (s *Stream) VideoDecoderConfigurationRecord() (*avc.DecConfRec, error) {
	return s.video.DecoderConfigurationRecord()
}

func (s *Stream) VideoTimeBase() int64 { return s.video.TimeBase() }
func (s *Stream) Width() int           { return s.video.Width() }
func (s *Stream) Height() int          { return s.video.Height() }

// AudioStats and VideoStats expose the per-track encoder counters.
func (s *Stream) AudioStats() AudioStats { return s.audio.Stats() }
func (s *Stream) VideoStats() VideoStats { return s.video.Stats() }

// Close releases both encoders.
func (s *Stream) Close() error {
	return errors.Join(s.audio.Close(), s.video.Close())
}
