package encstream

import (
	"bytes"
	"testing"

	"github.com/Eyevinn/mp4ff/aac"
	"github.com/stretchr/testify/require"
)

var (
	testSPS = []byte{0x67, 0x42, 0xc0, 0x1e, 0xd9, 0x00, 0xa0, 0x47, 0xfe, 0xc8}
	testPPS = []byte{0x68, 0xce, 0x38, 0x80}
)

func ascBytes(t testing.TB, rate int) []byte {
	t.Helper()
	asc := &aac.AudioSpecificConfig{
		ObjectType:           aac.AAClc,
		ChannelConfiguration: 2,
		SamplingFrequency:    rate,
	}
	var buf bytes.Buffer
	require.NoError(t, asc.Encode(&buf))
	return buf.Bytes()
}

// fakeAudioEncoder produces one numbered access unit per call.
type fakeAudioEncoder struct {
	conf      []byte
	frameSize int
	consumed  int // overrides InputConsumed when non-zero
	err       error
	closeErr  error

	calls   int
	lastPCM []int16
	closed  bool
}

func newFakeAudioEncoder(t testing.TB, rate int) *fakeAudioEncoder {
	return &fakeAudioEncoder{conf: ascBytes(t, rate), frameSize: AudioGranule}
}

func (f *fakeAudioEncoder) Encode(pcm []int16, out []byte) (AudioEncodeResult, error) {
	if f.err != nil {
		return AudioEncodeResult{}, f.err
	}
	f.calls++
	f.lastPCM = append(f.lastPCM[:0], pcm...)
	out[0] = 0xAA
	out[1] = byte(f.calls)
	consumed := len(pcm)
	if f.consumed != 0 {
		consumed = f.consumed
	}
	return AudioEncodeResult{InputConsumed: consumed, OutputSize: 2}, nil
}

func (f *fakeAudioEncoder) ConfigurationData() []byte { return f.conf }
func (f *fakeAudioEncoder) FrameSize() int            { return f.frameSize }
func (f *fakeAudioEncoder) MaxOutputSize() int        { return 768 }
func (f *fakeAudioEncoder) Close() error              { f.closed = true; return f.closeErr }

// fakeVideoEncoder turns every frame into one packet after delay frames.
// dtsShift is subtracted from PTS to emulate reordering. Every gop-th
// frame is a key frame (gop <= 1 makes every frame a key frame).
type fakeVideoEncoder struct {
	delay    int
	dtsShift int64
	gop      int
	sendErr  error
	recvErr  error
	closeErr error

	queue  []*Packet
	sent   []*VideoFrame
	closed bool
}

func (f *fakeVideoEncoder) SendFrame(frame *VideoFrame) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	n := len(f.sent)
	f.sent = append(f.sent, frame)
	key := f.gop <= 1 || n%f.gop == 0
	f.queue = append(f.queue, &Packet{
		Data:     []byte{0, 0, 0, 1, 0x65, byte(n)},
		PTS:      frame.PTS,
		DTS:      frame.PTS - f.dtsShift,
		KeyFrame: key,
	})
	return nil
}

func (f *fakeVideoEncoder) ReceivePacket() (*Packet, error) {
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	if len(f.queue) <= f.delay {
		return nil, ErrAgain
	}
	p := f.queue[0]
	f.queue = f.queue[1:]
	return p, nil
}

func (f *fakeVideoEncoder) ParameterSets() (sps, pps [][]byte) {
	return [][]byte{testSPS}, [][]byte{testPPS}
}

func (f *fakeVideoEncoder) Close() error { f.closed = true; return f.closeErr }

func newTestAudioCtx(t testing.TB, rate int) (*AudioCtx, *fakeAudioEncoder) {
	t.Helper()
	enc := newFakeAudioEncoder(t, rate)
	ctx, err := NewAudioCtxWithEncoder(AudioParams{BitRate: 128000, SampleRate: rate}, enc)
	require.NoError(t, err)
	return ctx, enc
}

func newTestVideoCtx(t testing.TB, timeBase int64, enc *fakeVideoEncoder) *VideoCtx {
	t.Helper()
	ctx, err := NewVideoCtxWithEncoder(VideoParams{
		Width:       4,
		Height:      4,
		TimeBase:    timeBase,
		PixelFormat: PixelFormatI420,
		Profile:     ProfileMonitor,
	}, enc)
	require.NoError(t, err)
	return ctx
}
