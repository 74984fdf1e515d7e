package mux

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Eyevinn/mp4ff/aac"
	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/sirupsen/logrus"
	"github.com/thesyncim/encstream"
)

// FMP4Options configures an FMP4Writer.
type FMP4Options struct {
	// FragmentDuration is the minimum media duration of a fragment. A new
	// fragment starts at the first video key frame after it. Zero cuts at
	// every key frame.
	FragmentDuration time.Duration
	Logger           logrus.FieldLogger
}

// FMP4Stats counts what an FMP4Writer has written.
type FMP4Stats struct {
	Fragments    uint64
	VideoSamples uint64
	AudioSamples uint64
	Bytes        uint64
}

type fragmentSample struct {
	trackID uint32
	sample  mp4.FullSample
}

// FMP4Writer records segments as a fragmented MP4 stream: one init
// segment followed by moof/mdat fragments that start on video key frames.
type FMP4Writer struct {
	w      *countingWriter
	closer io.Closer
	opts   FMP4Options
	log    logrus.FieldLogger

	hdr     Header
	started bool
	closed  bool
	tl      timeline

	videoID uint32
	audioID uint32
	seq     uint32

	pending   []fragmentSample
	fragStart encstream.MediaTime

	stats FMP4Stats
}

// NewFMP4Writer writes to w. The caller keeps ownership of w.
func NewFMP4Writer(w io.Writer, opts FMP4Options) *FMP4Writer {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FMP4Writer{
		w:    &countingWriter{w: w},
		opts: opts,
		log:  log.WithField("sink", "fmp4"),
		seq:  1,
	}
}

// CreateFMP4File creates path and returns a writer that closes it on Close.
func CreateFMP4File(path string, opts FMP4Options) (*FMP4Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	fw := NewFMP4Writer(f, opts)
	fw.closer = f
	return fw, nil
}

// WriteHeader writes the init segment.
func (f *FMP4Writer) WriteHeader(h Header) error {
	if f.closed {
		return ErrSinkClosed
	}
	if err := h.validate(); err != nil {
		return err
	}
	asc, err := aac.DecodeAudioSpecificConfig(bytes.NewReader(h.AudioConfig))
	if err != nil {
		return fmt.Errorf("%w: audio config: %v", encstream.ErrInvalidConfig, err)
	}

	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(uint32(h.VideoTimeBase), "video", "und")
	init.AddEmptyTrack(uint32(h.AudioSampleRate), "audio", "und")

	vtrak, atrak := init.Moov.Traks[0], init.Moov.Traks[1]
	if err := vtrak.SetAVCDescriptor("avc1", h.VideoConfig.SPSnalus, h.VideoConfig.PPSnalus, true); err != nil {
		return fmt.Errorf("avc descriptor: %w", err)
	}
	if err := atrak.SetAACDescriptor(asc.ObjectType, asc.SamplingFrequency); err != nil {
		return fmt.Errorf("aac descriptor: %w", err)
	}
	f.videoID = vtrak.Tkhd.TrackID
	f.audioID = atrak.Tkhd.TrackID

	if err := init.Encode(f.w); err != nil {
		return fmt.Errorf("write init segment: %w", err)
	}
	f.hdr = h
	f.started = true
	f.log.WithFields(logrus.Fields{
		"width":  h.Width,
		"height": h.Height,
		"bytes":  f.w.n,
	}).Info("fMP4 init segment written")
	return nil
}

// WriteSegment buffers seg into the current fragment. A video key frame
// may first complete the previous fragment.
func (f *FMP4Writer) WriteSegment(seg encstream.Segment) error {
	if f.closed {
		return ErrSinkClosed
	}
	if !f.started {
		return ErrNoHeader
	}

	dtsRaw, dur := seg.Timing()
	dts := f.tl.shift(dtsRaw)

	switch s := seg.(type) {
	case *encstream.VideoSegment:
		if s.Frame.IsKeyFrame && f.shouldCut(dts) {
			if err := f.flush(); err != nil {
				return err
			}
		}
		data := lengthPrefixed(s.Frame.Data)
		if len(data) == 0 {
			f.log.WithField("dts", dts).Debug("skipping empty video sample")
			return nil
		}
		flags := mp4.NonSyncSampleFlags
		if s.Frame.IsKeyFrame {
			flags = mp4.SyncSampleFlags
		}
		tb := f.hdr.VideoTimeBase
		f.add(f.videoID, dts, mp4.FullSample{
			Sample: mp4.Sample{
				Flags:                 flags,
				Dur:                   sampleDuration(dts, dur, tb),
				Size:                  uint32(len(data)),
				CompositionTimeOffset: int32(s.Frame.CompositionTime.RoundToBase(tb)),
			},
			DecodeTime: decodeTime(dts, tb),
			Data:       data,
		})
		f.stats.VideoSamples++

	case *encstream.AudioSegment:
		data := stripADTS(s.Frame)
		rate := int64(f.hdr.AudioSampleRate)
		f.add(f.audioID, dts, mp4.FullSample{
			Sample: mp4.Sample{
				Flags: mp4.SyncSampleFlags,
				Dur:   sampleDuration(dts, dur, rate),
				Size:  uint32(len(data)),
			},
			DecodeTime: decodeTime(dts, rate),
			Data:       data,
		})
		f.stats.AudioSamples++

	default:
		return fmt.Errorf("mux: unknown segment type %T", seg)
	}
	return nil
}

func (f *FMP4Writer) add(trackID uint32, dts encstream.MediaTime, s mp4.FullSample) {
	if len(f.pending) == 0 {
		f.fragStart = dts
	}
	f.pending = append(f.pending, fragmentSample{trackID: trackID, sample: s})
}

func (f *FMP4Writer) shouldCut(dts encstream.MediaTime) bool {
	if len(f.pending) == 0 {
		return false
	}
	limit := encstream.NewMediaDuration(int64(f.opts.FragmentDuration), int64(time.Second))
	return dts.Sub(f.fragStart).Cmp(limit) >= 0
}

func (f *FMP4Writer) flush() error {
	if len(f.pending) == 0 {
		return nil
	}

	var ids []uint32
	for _, id := range []uint32{f.videoID, f.audioID} {
		for _, p := range f.pending {
			if p.trackID == id {
				ids = append(ids, id)
				break
			}
		}
	}

	frag, err := mp4.CreateMultiTrackFragment(f.seq, ids)
	if err != nil {
		return fmt.Errorf("create fragment: %w", err)
	}
	for _, p := range f.pending {
		if err := frag.AddFullSampleToTrack(p.sample, p.trackID); err != nil {
			return fmt.Errorf("add sample to track %d: %w", p.trackID, err)
		}
	}
	before := f.w.n
	if err := frag.Encode(f.w); err != nil {
		return fmt.Errorf("write fragment %d: %w", f.seq, err)
	}

	f.log.WithFields(logrus.Fields{
		"seq":     f.seq,
		"samples": len(f.pending),
		"bytes":   f.w.n - before,
	}).Debug("fragment written")

	for i := range f.pending {
		f.pending[i] = fragmentSample{}
	}
	f.pending = f.pending[:0]
	f.seq++
	f.stats.Fragments++
	return nil
}

// Flush writes the buffered fragment without waiting for a key frame.
func (f *FMP4Writer) Flush() error {
	if f.closed {
		return ErrSinkClosed
	}
	return f.flush()
}

// Stats returns a snapshot of the counters.
func (f *FMP4Writer) Stats() FMP4Stats {
	s := f.stats
	s.Bytes = f.w.n
	return s
}

// Close writes the last fragment. The underlying file is closed when the
// writer was created by CreateFMP4File.
func (f *FMP4Writer) Close() error {
	if f.closed {
		return nil
	}
	err := f.flush()
	f.closed = true
	if f.closer != nil {
		if cerr := f.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// decodeTime converts dts to unsigned track ticks.
func decodeTime(dts encstream.MediaTime, base int64) uint64 {
	t := dts.RoundToBase(base)
	if t < 0 {
		return 0
	}
	return uint64(t)
}

// sampleDuration rounds both ends so consecutive samples tile exactly.
func sampleDuration(dts encstream.MediaTime, dur encstream.MediaDuration, base int64) uint32 {
	d := dts.Add(dur).RoundToBase(base) - dts.RoundToBase(base)
	if d < 0 {
		return 0
	}
	return uint32(d)
}

type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}
