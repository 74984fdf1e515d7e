package synth

import (
	"testing"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thesyncim/encstream"
)

func TestVideoEncoder_GOPAndReorder(t *testing.T) {
	enc := NewVideoEncoder(VideoConfig{TimeBase: 90000, BitrateBps: 240000, GOPSize: 3, Delay: 1, DTSShift: 3000})

	var pkts []*encstream.Packet
	for i := 0; i < 6; i++ {
		require.NoError(t, enc.SendFrame(&encstream.VideoFrame{PTS: int64(i) * 3000}))
		for {
			p, err := enc.ReceivePacket()
			if err == encstream.ErrAgain {
				break
			}
			require.NoError(t, err)
			pkts = append(pkts, p)
		}
	}

	require.Len(t, pkts, 5, "one frame held back")
	for i, p := range pkts {
		assert.Equal(t, i%3 == 0, p.KeyFrame, "packet %d", i)
		assert.Equal(t, p.PTS-3000, p.DTS)
		assert.GreaterOrEqual(t, len(p.Data), 1000)
	}

	nalus := avc.ExtractNalusFromByteStream(pkts[0].Data)
	require.Len(t, nalus, 4)
	assert.Equal(t, avc.NALU_SPS, avc.GetNaluType(nalus[1][0]))
	assert.Equal(t, avc.NALU_IDR, avc.GetNaluType(nalus[3][0]))
}

func TestAudioEncoder(t *testing.T) {
	enc, err := NewAudioEncoder(48000, 128000)
	require.NoError(t, err)
	assert.Equal(t, encstream.AudioGranule, enc.FrameSize())

	out := make([]byte, enc.MaxOutputSize())
	res, err := enc.Encode(make([]int16, 2048), out)
	require.NoError(t, err)
	assert.Equal(t, 2048, res.InputConsumed)
	assert.Equal(t, 341, res.OutputSize)

	require.NoError(t, enc.Close())
	_, err = enc.Encode(nil, out)
	assert.ErrorIs(t, err, encstream.ErrClosed)
}

func TestNewStream(t *testing.T) {
	s, err := NewStream(640, 480, 90000, 48000, encstream.ProfileStream)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 30; i++ {
		ts := encstream.NewMediaTime(int64(i)*3000, 90000)
		require.NoError(t, s.SendVideo(ts, encstream.NewMediaDuration(3000, 90000), encstream.NewBlankFrame(640, 480)))
		require.NoError(t, s.SendAudio(make([]float32, 1600*2)))
	}

	var n int
	for seg := s.RecvSegment(); seg != nil; seg = s.RecvSegment() {
		n++
	}
	assert.Greater(t, n, 30)
	assert.Equal(t, uint64(30), s.VideoStats().FramesSent)
}
