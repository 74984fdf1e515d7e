package source

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/thesyncim/encstream"
)

// Target receives generated media. *session.Session satisfies it.
type Target interface {
	SendAudio(ctx context.Context, samples []float32) error
	SendVideo(ctx context.Context, ts encstream.MediaTime, hint encstream.MediaDuration, frame *encstream.VideoFrame) error
	Barrier(ctx context.Context, ts encstream.MediaTime) error
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	FPS int // default 30
	// AudioChunk is the amount of audio delivered per call. Default 20ms.
	AudioChunk time.Duration
	// Duration stops the generator after this much program time. Zero runs
	// until the context is cancelled.
	Duration time.Duration
	// Realtime paces output against the wall clock. Otherwise the generator
	// runs as fast as the target accepts.
	Realtime bool
	// DropEvery skips every Nth video frame and declares the gap with a
	// barrier instead. Zero disables it.
	DropEvery int
	Logger    logrus.FieldLogger
}

// GeneratorStats counts generator output.
type GeneratorStats struct {
	Frames      uint64
	Dropped     uint64
	AudioChunks uint64
	Barriers    uint64
}

// Generator interleaves pattern video and tone audio on one program clock.
type Generator struct {
	cfg     GeneratorConfig
	pattern *Pattern
	tone    *Tone
	log     logrus.FieldLogger

	frames      atomic.Uint64
	dropped     atomic.Uint64
	audioChunks atomic.Uint64
	barriers    atomic.Uint64
}

// NewGenerator returns a generator. Either pattern or tone may be nil to
// leave that track silent; a nil pattern sends nothing on video while a
// nil tone sends nothing on audio.
func NewGenerator(pattern *Pattern, tone *Tone, cfg GeneratorConfig) *Generator {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.AudioChunk <= 0 {
		cfg.AudioChunk = 20 * time.Millisecond
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Generator{cfg: cfg, pattern: pattern, tone: tone, log: log.WithField("component", "generator")}
}

// Run produces media into t until Duration elapses or ctx is cancelled.
// Cancellation is a clean stop. A finite run ends with a barrier at
// Duration so the video track covers the whole program.
func (g *Generator) Run(ctx context.Context, t Target) error {
	fps := int64(g.cfg.FPS)
	frameHint := encstream.NewMediaDuration(1, fps)

	var chunkSamples int
	if g.tone != nil {
		chunkSamples = int(int64(g.tone.Config().SampleRate) * int64(g.cfg.AudioChunk) / int64(time.Second))
		if chunkSamples <= 0 {
			return fmt.Errorf("audio chunk %v is shorter than one sample", g.cfg.AudioChunk)
		}
	}

	start := time.Now()
	var frame, chunk int64
	g.log.WithFields(logrus.Fields{
		"fps":      g.cfg.FPS,
		"duration": g.cfg.Duration,
		"realtime": g.cfg.Realtime,
	}).Info("generator started")

	for {
		videoAt := time.Duration(-1)
		if g.pattern != nil {
			videoAt = time.Duration(frame) * time.Second / time.Duration(fps)
		}
		audioAt := time.Duration(-1)
		if g.tone != nil {
			audioAt = time.Duration(chunk) * g.cfg.AudioChunk
		}

		next, isVideo := pickNext(videoAt, audioAt)
		if next < 0 || (g.cfg.Duration > 0 && next >= g.cfg.Duration) {
			break
		}

		if g.cfg.Realtime {
			if err := sleepUntil(ctx, start.Add(next)); err != nil {
				return nil
			}
		} else if ctx.Err() != nil {
			return nil
		}

		var err error
		if isVideo {
			err = g.sendFrame(ctx, t, frame, frameHint)
			frame++
		} else {
			err = t.SendAudio(ctx, g.tone.Next(chunkSamples))
			g.audioChunks.Add(1)
			chunk++
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}

	if g.cfg.Duration > 0 && g.pattern != nil {
		if err := t.Barrier(ctx, encstream.NewMediaTime(int64(g.cfg.Duration), int64(time.Second))); err != nil {
			return err
		}
		g.barriers.Add(1)
	}
	g.log.WithField("frames", g.frames.Load()).Info("generator finished")
	return nil
}

func (g *Generator) sendFrame(ctx context.Context, t Target, n int64, hint encstream.MediaDuration) error {
	ts := encstream.NewMediaTime(n, int64(g.cfg.FPS))
	if g.cfg.DropEvery > 0 && n%int64(g.cfg.DropEvery) == int64(g.cfg.DropEvery)-1 {
		g.dropped.Add(1)
		g.barriers.Add(1)
		return t.Barrier(ctx, ts.Add(hint))
	}
	g.frames.Add(1)
	return t.SendVideo(ctx, ts, hint, g.pattern.Frame(uint64(n)))
}

// pickNext returns the earlier of two event times, ignoring negative ones.
// Video wins ties.
func pickNext(video, audio time.Duration) (time.Duration, bool) {
	switch {
	case video < 0:
		return audio, false
	case audio < 0 || video <= audio:
		return video, true
	default:
		return audio, false
	}
}

func sleepUntil(ctx context.Context, at time.Time) error {
	d := time.Until(at)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stats returns a snapshot of the counters.
func (g *Generator) Stats() GeneratorStats {
	return GeneratorStats{
		Frames:      g.frames.Load(),
		Dropped:     g.dropped.Load(),
		AudioChunks: g.audioChunks.Load(),
		Barriers:    g.barriers.Load(),
	}
}
