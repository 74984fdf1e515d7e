// Package session drives an encstream.Stream from concurrent producers.
//
// A Stream is single-owner. A Session serializes audio, video and barrier
// calls from any number of goroutines through one channel, drains finished
// segments into a mux.Sink after every call, and flushes everything on
// shutdown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thesyncim/encstream"
	"github.com/thesyncim/encstream/mux"
)

// ErrStopped is returned to producers once the session has stopped.
var ErrStopped = errors.New("session stopped")

// State is the lifecycle state of a Session.
type State int32

const (
	StateIdle    State = iota // Created, Run not called
	StateRunning              // Consuming commands
	StateStopped              // Finished cleanly
	StateFailed               // Stream or sink failed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config configures a Session.
type Config struct {
	Stream *encstream.Stream
	Sink   mux.Sink
	// QueueSize is the capacity of the command channel. Producers block
	// when it is full. Defaults to 64.
	QueueSize int
	Logger    logrus.FieldLogger
}

// Stats counts session activity.
type Stats struct {
	AudioCalls      uint64
	VideoCalls      uint64
	Barriers        uint64
	SegmentsWritten uint64
	Stream          encstream.StreamStats
	Uptime          time.Duration
}

type commandKind int

const (
	cmdAudio commandKind = iota
	cmdVideo
	cmdBarrier
)

type command struct {
	kind    commandKind
	samples []float32
	ts      encstream.MediaTime
	hint    encstream.MediaDuration
	frame   *encstream.VideoFrame
}

// Session owns a Stream and a Sink.
type Session struct {
	id     string
	stream *encstream.Stream
	sink   mux.Sink
	log    logrus.FieldLogger

	cmds     chan command
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// admission: once closed no enqueue starts, and the final drain waits
	// for the ones in flight
	admitMu  sync.Mutex
	closed   bool
	closing  chan struct{}
	inflight sync.WaitGroup

	state atomic.Int32
	err   error

	statsMu sync.Mutex
	stats   Stats
	started time.Time
}

// New returns an idle session. Call Run to start it.
func New(cfg Config) (*Session, error) {
	if cfg.Stream == nil {
		return nil, fmt.Errorf("stream is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	id := uuid.NewString()
	return &Session{
		id:      id,
		stream:  cfg.Stream,
		sink:    cfg.Sink,
		log:     log.WithField("session", id),
		cmds:    make(chan command, cfg.QueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}, nil
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// SendAudio queues interleaved stereo samples. The slice is copied.
func (s *Session) SendAudio(ctx context.Context, samples []float32) error {
	return s.enqueue(ctx, command{kind: cmdAudio, samples: append([]float32(nil), samples...)})
}

// SendVideo queues a frame covering up to ts+hint. The session takes
// ownership of frame.
func (s *Session) SendVideo(ctx context.Context, ts encstream.MediaTime, hint encstream.MediaDuration, frame *encstream.VideoFrame) error {
	return s.enqueue(ctx, command{kind: cmdVideo, ts: ts, hint: hint, frame: frame})
}

// Barrier queues a barrier at ts.
func (s *Session) Barrier(ctx context.Context, ts encstream.MediaTime) error {
	return s.enqueue(ctx, command{kind: cmdBarrier, ts: ts})
}

func (s *Session) enqueue(ctx context.Context, c command) error {
	// a stopped session never accepts more work, even with queue room
	select {
	case <-s.stop:
		return ErrStopped
	case <-s.done:
		return s.stoppedErr()
	default:
	}

	s.admitMu.Lock()
	if s.closed {
		s.admitMu.Unlock()
		return ErrStopped
	}
	s.inflight.Add(1)
	s.admitMu.Unlock()
	defer s.inflight.Done()

	// a command sent here is applied even if Stop wins the race
	select {
	case s.cmds <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stop:
		return ErrStopped
	case <-s.closing:
		return ErrStopped
	case <-s.done:
		return s.stoppedErr()
	}
}

func (s *Session) stoppedErr() error {
	if s.err != nil {
		return s.err
	}
	return ErrStopped
}

// Stop asks Run to process what is already queued, flush and return.
// Commands whose enqueue returned nil are always applied.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Run consumes commands until ctx is cancelled, Stop is called or the
// stream fails. It writes the sink header first and always closes the sink
// and stream before returning. A cancelled context is a clean stop like
// Stop: queued commands are applied and the stream is flushed into the sink.
func (s *Session) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("session already started")
	}
	s.statsMu.Lock()
	s.started = time.Now()
	s.statsMu.Unlock()
	s.log.Info("session started")

	err := s.loop(ctx)
	err = errors.Join(err, s.shutdown(err == nil))

	if err != nil {
		s.state.Store(int32(StateFailed))
		s.log.WithError(err).Error("session failed")
	} else {
		s.state.Store(int32(StateStopped))
		s.log.WithField("segments", s.Stats().SegmentsWritten).Info("session stopped")
	}
	s.err = err
	close(s.done)
	return err
}

func (s *Session) loop(ctx context.Context) error {
	hdr, err := mux.HeaderFromStream(s.stream)
	if err != nil {
		return err
	}
	if err := s.sink.WriteHeader(hdr); err != nil {
		return fmt.Errorf("sink header: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return s.drain()
		case <-s.stop:
			return s.drain()
		case c := <-s.cmds:
			if err := s.apply(c); err != nil {
				return err
			}
		}
	}
}

// drain closes admission, waits for producers still inside enqueue, then
// applies every command they managed to queue.
func (s *Session) drain() error {
	s.admitMu.Lock()
	s.closed = true
	close(s.closing)
	s.admitMu.Unlock()
	s.inflight.Wait()

	for {
		select {
		case c := <-s.cmds:
			if err := s.apply(c); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *Session) apply(c command) error {
	var err error
	s.statsMu.Lock()
	switch c.kind {
	case cmdAudio:
		s.stats.AudioCalls++
	case cmdVideo:
		s.stats.VideoCalls++
	case cmdBarrier:
		s.stats.Barriers++
	}
	s.statsMu.Unlock()

	switch c.kind {
	case cmdAudio:
		err = s.stream.SendAudio(c.samples)
	case cmdVideo:
		err = s.stream.SendVideo(c.ts, c.hint, c.frame)
	case cmdBarrier:
		err = s.stream.Barrier(c.ts)
	}
	if err != nil {
		return err
	}

	for seg := s.stream.RecvSegment(); seg != nil; seg = s.stream.RecvSegment() {
		if err := s.write(seg); err != nil {
			return err
		}
	}
	s.syncStreamStats()
	return nil
}

func (s *Session) syncStreamStats() {
	st := s.stream.Stats()
	s.statsMu.Lock()
	s.stats.Stream = st
	s.statsMu.Unlock()
}

func (s *Session) write(seg encstream.Segment) error {
	if err := s.sink.WriteSegment(seg); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	s.statsMu.Lock()
	s.stats.SegmentsWritten++
	s.statsMu.Unlock()
	return nil
}

// shutdown drains the held-back segments when the session ended cleanly,
// then releases the sink and the encoders.
func (s *Session) shutdown(clean bool) error {
	var errs []error
	if clean {
		for _, seg := range s.stream.Flush() {
			if err := s.write(seg); err != nil {
				errs = append(errs, err)
				break
			}
		}
		s.syncStreamStats()
	}
	if err := s.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sink: %w", err))
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	st := s.stats
	if !s.started.IsZero() {
		st.Uptime = time.Since(s.started)
	}
	return st
}
