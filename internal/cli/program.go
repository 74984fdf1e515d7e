package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/thesyncim/encstream"
	"github.com/thesyncim/encstream/mux"
	"github.com/thesyncim/encstream/session"
	"github.com/thesyncim/encstream/source"
	"github.com/thesyncim/encstream/synth"
)

// programOptions controls one generated program run.
type programOptions struct {
	Duration  time.Duration
	Realtime  bool
	DropEvery int
}

func (a *app) newStream() (*encstream.Stream, error) {
	c := a.cfg
	profile, err := c.VideoProfile()
	if err != nil {
		return nil, err
	}
	opts := append(c.StreamOptions(), encstream.WithLogger(a.log))

	if c.Synthetic {
		return synth.NewStream(c.Video.Width, c.Video.Height, c.Video.TimeBase, c.Audio.SampleRate, profile, opts...)
	}

	aprov, _ := encstream.ParseProvider(c.Audio.Provider)
	audio, err := encstream.NewAudioCtx(encstream.AudioParams{
		BitRate:    c.Audio.BitRate,
		SampleRate: c.Audio.SampleRate,
		Provider:   aprov,
		Logger:     a.log,
	})
	if err != nil {
		return nil, err
	}

	vprov, _ := encstream.ParseProvider(c.Video.Provider)
	video, err := encstream.NewVideoCtx(encstream.VideoParams{
		Width:       c.Video.Width,
		Height:      c.Video.Height,
		TimeBase:    c.Video.TimeBase,
		PixelFormat: encstream.PixelFormatI420,
		Profile:     profile,
		Provider:    vprov,
		FrameRate:   c.Video.FPS,
		Threads:     c.Video.Threads,
		Logger:      a.log,
	})
	if err != nil {
		audio.Close()
		return nil, err
	}
	return encstream.NewStream(audio, video, opts...), nil
}

func (a *app) newGenerator(opts programOptions) (*source.Generator, error) {
	pt, err := source.ParsePatternType(a.cfg.Video.Pattern)
	if err != nil {
		return nil, err
	}
	tt, err := source.ParseToneType(a.cfg.Audio.Tone)
	if err != nil {
		return nil, err
	}
	pattern := source.NewPattern(source.PatternConfig{
		Width:   a.cfg.Video.Width,
		Height:  a.cfg.Video.Height,
		Pattern: pt,
	})
	tone := source.NewTone(source.ToneConfig{
		SampleRate: a.cfg.Audio.SampleRate,
		Type:       tt,
		Frequency:  a.cfg.Audio.Frequency,
	})
	return source.NewGenerator(pattern, tone, source.GeneratorConfig{
		FPS:       a.cfg.Video.FPS,
		Duration:  opts.Duration,
		Realtime:  opts.Realtime,
		DropEvery: opts.DropEvery,
		Logger:    a.log,
	}), nil
}

// runProgram encodes the generated program into sink until the generator
// finishes or ctx is cancelled. sink is closed in every case.
func (a *app) runProgram(ctx context.Context, sink mux.Sink, opts programOptions, started func(*session.Session)) error {
	gen, err := a.newGenerator(opts)
	if err != nil {
		sink.Close()
		return err
	}
	stream, err := a.newStream()
	if err != nil {
		sink.Close()
		return fmt.Errorf("open encoders: %w", err)
	}
	sess, err := session.New(session.Config{
		Stream:    stream,
		Sink:      sink,
		QueueSize: a.cfg.Session.QueueSize,
		Logger:    a.log,
	})
	if err != nil {
		stream.Close()
		sink.Close()
		return err
	}
	if started != nil {
		started(sess)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	genErr := gen.Run(ctx, sess)
	sess.Stop()
	if err := <-runErr; err != nil {
		return err
	}

	st := sess.Stats()
	gst := gen.Stats()
	a.log.WithFields(logrus.Fields{
		"session":  sess.ID(),
		"segments": st.SegmentsWritten,
		"frames":   gst.Frames,
		"dropped":  gst.Dropped,
		"late":     st.Stream.LateFramesDropped,
		"blank":    st.Stream.BlankFramesEncoded,
		"uptime":   st.Uptime.Round(time.Millisecond),
	}).Info("program finished")
	return genErr
}
