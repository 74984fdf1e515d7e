package mux

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thesyncim/encstream"
	"github.com/yutopp/go-amf0"
)

type flvTag struct {
	typ  byte
	ts   uint32
	body []byte
}

type captureTagWriter struct {
	tags   []flvTag
	closed bool
	err    error
}

func (c *captureTagWriter) WriteMetadata(body []byte) error {
	c.tags = append(c.tags, flvTag{flvTagScript, 0, body})
	return c.err
}

func (c *captureTagWriter) WriteAudio(ts uint32, body []byte) error {
	c.tags = append(c.tags, flvTag{flvTagAudio, ts, body})
	return c.err
}

func (c *captureTagWriter) WriteVideo(ts uint32, body []byte) error {
	c.tags = append(c.tags, flvTag{flvTagVideo, ts, body})
	return c.err
}

func (c *captureTagWriter) Close() error {
	c.closed = true
	return nil
}

func TestFLVSink_Header(t *testing.T) {
	out := &captureTagWriter{}
	sink := NewFLVSink(out, nil)
	h := testHeader(t)
	require.NoError(t, sink.WriteHeader(h))
	require.Len(t, out.tags, 3)

	var name string
	require.NoError(t, amf0.NewDecoder(bytes.NewReader(out.tags[0].body)).Decode(&name))
	assert.Equal(t, "onMetaData", name)

	vsh := out.tags[1]
	assert.Equal(t, byte(flvTagVideo), vsh.typ)
	assert.Equal(t, []byte{0x17, 0, 0, 0, 0}, vsh.body[:5])
	rec, err := avc.DecodeAVCDecConfRec(vsh.body[5:])
	require.NoError(t, err)
	assert.Equal(t, testSPS, rec.SPSnalus[0])

	ash := out.tags[2]
	assert.Equal(t, append([]byte{0xAF, 0}, h.AudioConfig...), ash.body)
}

func TestFLVSink_Segments(t *testing.T) {
	out := &captureTagWriter{}
	sink := NewFLVSink(out, nil)
	require.NoError(t, sink.WriteHeader(testHeader(t)))
	out.tags = nil

	// B-frame stream: DTS starts one frame early, PTS leads DTS by two frames
	key := frameAt(-1, true, 8)
	key.Frame.CompositionTime = encstream.NewMediaDuration(6000, 90000)
	inter := frameAt(0, false, 8)

	require.NoError(t, sink.WriteSegment(key))
	require.NoError(t, sink.WriteSegment(audioAt(0)))
	require.NoError(t, sink.WriteSegment(inter))
	require.Len(t, out.tags, 3)

	v0 := out.tags[0]
	assert.Equal(t, uint32(0), v0.ts)
	assert.Equal(t, byte(0x17), v0.body[0])
	assert.Equal(t, byte(flvAVCNALU), v0.body[1])
	assert.Equal(t, []byte{0, 0, 67}, v0.body[2:5], "cts 2/30 s in ms")
	assert.Equal(t, uint32(8), binary.BigEndian.Uint32(v0.body[5:9]), "length-prefixed slice only")

	a0 := out.tags[1]
	assert.Equal(t, uint32(33), a0.ts)
	assert.Equal(t, []byte{0xAF, 1, 0x21, 0x10, 0}, a0.body)

	v1 := out.tags[2]
	assert.Equal(t, uint32(33), v1.ts)
	assert.Equal(t, byte(0x27), v1.body[0])

	assert.Equal(t, FLVStats{VideoTags: 2, AudioTags: 1}, sink.Stats())

	require.NoError(t, sink.Close())
	assert.True(t, out.closed)
	assert.True(t, errors.Is(sink.WriteSegment(audioAt(1)), ErrSinkClosed))
}

func TestFLVVideoTag_NegativeCompositionTime(t *testing.T) {
	body := flvVideoTag(false, -1, nil)
	assert.Equal(t, []byte{0x27, 1, 0xFF, 0xFF, 0xFF}, body)
}

func TestFLVFile(t *testing.T) {
	var buf bytes.Buffer
	f := NewFLVFile(&buf)
	require.NoError(t, f.WriteVideo(0x01020304, []byte{0xAA, 0xBB}))
	require.NoError(t, f.WriteAudio(5, []byte{0xCC}))

	b := buf.Bytes()
	require.Equal(t, []byte("FLV"), b[:3])
	assert.Equal(t, byte(0x05), b[4])
	assert.Equal(t, uint32(9), binary.BigEndian.Uint32(b[5:9]))

	tag := b[13:]
	assert.Equal(t, byte(flvTagVideo), tag[0])
	assert.Equal(t, []byte{0, 0, 2}, tag[1:4])
	assert.Equal(t, []byte{0x02, 0x03, 0x04, 0x01}, tag[4:8], "timestamp with extension byte")
	assert.Equal(t, []byte{0xAA, 0xBB}, tag[11:13])
	assert.Equal(t, uint32(13), binary.BigEndian.Uint32(tag[13:17]))

	audio := tag[17:]
	assert.Equal(t, byte(flvTagAudio), audio[0])
	assert.Len(t, audio, 11+1+4)
	require.NoError(t, f.Close())
}
