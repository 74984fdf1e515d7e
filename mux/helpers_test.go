package mux

import (
	"bytes"
	"testing"

	"github.com/Eyevinn/mp4ff/aac"
	"github.com/Eyevinn/mp4ff/avc"
	"github.com/stretchr/testify/require"
	"github.com/thesyncim/encstream"
)

var (
	testSPS = []byte{0x67, 0x42, 0xc0, 0x1e, 0xd9, 0x00, 0xa0, 0x47, 0xfe, 0xc8}
	testPPS = []byte{0x68, 0xce, 0x38, 0x80}
)

func testHeader(t *testing.T) Header {
	t.Helper()
	rec, err := encstream.NewDecoderConfigurationRecord([][]byte{testSPS}, [][]byte{testPPS})
	require.NoError(t, err)

	var asc bytes.Buffer
	require.NoError(t, (&aac.AudioSpecificConfig{
		ObjectType:           aac.AAClc,
		ChannelConfiguration: 2,
		SamplingFrequency:    48000,
	}).Encode(&asc))

	return Header{
		AudioConfig:     asc.Bytes(),
		AudioSampleRate: 48000,
		VideoConfig:     rec,
		VideoTimeBase:   90000,
		Width:           640,
		Height:          480,
	}
}

// annexB builds an access unit with an AUD, optional parameter sets and
// one slice of size bytes.
func annexB(key bool, size int) []byte {
	out := []byte{0, 0, 0, 1, byte(avc.NALU_AUD), 0xf0}
	if key {
		out = append(out, 0, 0, 0, 1)
		out = append(out, testSPS...)
		out = append(out, 0, 0, 0, 1)
		out = append(out, testPPS...)
	}
	hdr := byte(0x41)
	if key {
		hdr = 0x65
	}
	out = append(out, 0, 0, 0, 1, hdr)
	for i := 1; i < size; i++ {
		// avoid emulating a start code
		out = append(out, byte(i%250)+1)
	}
	return out
}

// frameAt is a 30 fps video segment at index i of a 90 kHz track.
func frameAt(i int, key bool, size int) *encstream.VideoSegment {
	return &encstream.VideoSegment{
		DecodeTimestamp: encstream.NewMediaTime(int64(i)*3000, 90000),
		Duration:        encstream.NewMediaDuration(3000, 90000),
		Frame: encstream.AVCFrame{
			IsKeyFrame: key,
			Data:       annexB(key, size),
		},
	}
}

func audioAt(i int) *encstream.AudioSegment {
	return &encstream.AudioSegment{
		DecodeTimestamp: encstream.NewMediaTime(int64(i)*1024, 48000),
		Duration:        encstream.NewMediaDuration(1024, 48000),
		Frame:           []byte{0x21, 0x10, byte(i)},
	}
}

// interleave returns n seconds of 30 fps video with a key frame every gop
// frames and matching audio, in decode order with audio first on ties.
func interleave(seconds, gop int) []encstream.Segment {
	var out []encstream.Segment
	v, a := 0, 0
	frames := seconds * 30
	granules := seconds * 48000 / 1024
	for v < frames || a < granules {
		takeAudio := v >= frames
		if a < granules && v < frames {
			vt := encstream.NewMediaTime(int64(v)*3000, 90000)
			at := encstream.NewMediaTime(int64(a)*1024, 48000)
			takeAudio = !vt.Before(at)
		}
		if takeAudio {
			out = append(out, audioAt(a))
			a++
		} else {
			out = append(out, frameAt(v, v%gop == 0, 64))
			v++
		}
	}
	return out
}
