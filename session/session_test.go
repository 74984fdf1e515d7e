package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thesyncim/encstream"
	"github.com/thesyncim/encstream/mux"
	"github.com/thesyncim/encstream/synth"
)

type recordSink struct {
	mu       sync.Mutex
	header   *mux.Header
	segments []encstream.Segment
	closed   bool
	failAt   int
}

func (r *recordSink) WriteHeader(h mux.Header) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.header = &h
	return nil
}

func (r *recordSink) WriteSegment(seg encstream.Segment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.segments)+1 >= r.failAt {
		return errors.New("disk full")
	}
	r.segments = append(r.segments, seg)
	return nil
}

func (r *recordSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func newTestSession(t *testing.T, sink mux.Sink) *Session {
	t.Helper()
	stream, err := synth.NewStream(640, 480, 90000, 48000, encstream.ProfileMonitor)
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	s, err := New(Config{Stream: stream, Sink: sink, QueueSize: 4, Logger: logger})
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	stream, err := synth.NewStream(640, 480, 90000, 48000, encstream.ProfileMonitor)
	require.NoError(t, err)
	_, err = New(Config{Stream: stream})
	assert.Error(t, err)
}

func TestSession_ConcurrentProducers(t *testing.T) {
	sink := &recordSink{}
	s := newTestSession(t, sink)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, StateIdle, s.State())

	ctx := context.Background()
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 60; i++ {
			ts := encstream.NewMediaTime(int64(i), 30)
			assert.NoError(t, s.SendVideo(ctx, ts, encstream.NewMediaDuration(1, 30), encstream.NewBlankFrame(640, 480)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 60; i++ {
			assert.NoError(t, s.SendAudio(ctx, make([]float32, 3200)))
		}
	}()
	wg.Wait()

	s.Stop()
	require.NoError(t, <-runErr)
	assert.Equal(t, StateStopped, s.State())
	assert.NoError(t, s.Err())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotNil(t, sink.header)
	assert.Equal(t, 640, sink.header.Width)
	assert.True(t, sink.closed)

	var video, audio int
	var last encstream.MediaTime
	for i, seg := range sink.segments {
		dts, _ := seg.Timing()
		assert.False(t, dts.Before(last), "segment %d out of decode order", i)
		last = dts
		switch seg.(type) {
		case *encstream.VideoSegment:
			video++
		case *encstream.AudioSegment:
			audio++
		}
	}
	assert.Equal(t, 60, video, "flush delivers the held-back lookahead")
	assert.Equal(t, 60, audio)

	stats := s.Stats()
	assert.Equal(t, uint64(60), stats.AudioCalls)
	assert.Equal(t, uint64(60), stats.VideoCalls)
	assert.Equal(t, uint64(120), stats.SegmentsWritten)
	assert.Equal(t, uint64(120), stats.Stream.SegmentsEmitted)

	assert.ErrorIs(t, s.SendAudio(ctx, nil), ErrStopped)
	assert.Error(t, s.Run(ctx), "run twice")
}

func TestSession_BarrierFillsGap(t *testing.T) {
	sink := &recordSink{}
	s := newTestSession(t, sink)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	require.NoError(t, s.Barrier(ctx, encstream.NewMediaTime(1, 10)))
	require.Eventually(t, func() bool { return s.Stats().Barriers == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-runErr)
	assert.Equal(t, uint64(1), s.Stats().Stream.BlankFramesEncoded)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.segments, 1)
	v, ok := sink.segments[0].(*encstream.VideoSegment)
	require.True(t, ok)
	assert.Equal(t, 0, v.Duration.Cmp(encstream.NewMediaDuration(1, 10)))
}

func TestSession_CancelAppliesQueuedCommands(t *testing.T) {
	for i := 0; i < 20; i++ {
		sink := &recordSink{}
		s := newTestSession(t, sink)

		bg := context.Background()
		for n := int64(1); n <= 4; n++ {
			require.NoError(t, s.Barrier(bg, encstream.NewMediaTime(n, 10)))
		}

		ctx, cancel := context.WithCancel(bg)
		cancel()
		require.NoError(t, s.Run(ctx))

		assert.Equal(t, uint64(4), s.Stats().Barriers)
		assert.Equal(t, uint64(4), s.Stats().Stream.BlankFramesEncoded)
		sink.mu.Lock()
		assert.Len(t, sink.segments, 4)
		sink.mu.Unlock()
		assert.ErrorIs(t, s.Barrier(bg, encstream.NewMediaTime(5, 10)), ErrStopped)
	}
}

func TestSession_StopKeepsAcceptedCommands(t *testing.T) {
	s := newTestSession(t, &recordSink{})

	ctx := context.Background()
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	var (
		clock    atomic.Int64
		accepted atomic.Uint64
		wg       sync.WaitGroup
	)
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := s.Barrier(ctx, encstream.NewMediaTime(clock.Add(1), 1000))
				if err != nil {
					assert.ErrorIs(t, err, ErrStopped)
					return
				}
				accepted.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool { return s.Stats().Barriers > 50 }, 2*time.Second, time.Millisecond)
	s.Stop()
	wg.Wait()
	require.NoError(t, <-runErr)

	assert.Equal(t, accepted.Load(), s.Stats().Barriers)
}

func TestSession_SinkFailureStopsProducers(t *testing.T) {
	sink := &recordSink{failAt: 2}
	s := newTestSession(t, sink)

	ctx := context.Background()
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	var sendErr error
	for i := 0; i < 200 && sendErr == nil; i++ {
		ts := encstream.NewMediaTime(int64(i), 30)
		sendErr = s.SendVideo(ctx, ts, encstream.NewMediaDuration(1, 30), encstream.NewBlankFrame(640, 480))
		if sendErr == nil {
			sendErr = s.SendAudio(ctx, make([]float32, 3200))
		}
	}

	err := <-runErr
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, err, s.Err())
	assert.True(t, sink.closed)

	<-s.Done()
	assert.Error(t, s.SendAudio(ctx, nil))
}

func TestSession_EnqueueHonoursContext(t *testing.T) {
	s := newTestSession(t, &recordSink{})

	// not running: the queue fills and the producer gives up
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = s.SendAudio(ctx, nil)
	}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(9).String())
}
