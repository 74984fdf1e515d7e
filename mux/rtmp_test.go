package mux

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

func TestParseRTMPURL(t *testing.T) {
	tests := []struct {
		url     string
		addr    string
		app     string
		key     string
		wantErr bool
	}{
		{"rtmp://localhost/live/abc", "localhost:1935", "live", "abc", false},
		{"rtmp://10.0.0.1:1936/live/abc", "10.0.0.1:1936", "live", "abc", false},
		{"rtmp://host/app/inst/key", "host:1935", "app/inst", "key", false},
		{"rtmp://host/live", "", "", "", true},
		{"rtmp://host/live/", "", "", "", true},
		{"http://host/live/abc", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			addr, app, key, err := ParseRTMPURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.addr, addr)
			assert.Equal(t, tt.app, app)
			assert.Equal(t, tt.key, key)
		})
	}
}

type ingestHandler struct {
	rtmp.DefaultHandler

	mu        sync.Mutex
	published string
	metadata  bool
	video     [][]byte
	audio     [][]byte
}

func (h *ingestHandler) OnPublish(_ *rtmp.StreamContext, _ uint32, cmd *rtmpmsg.NetStreamPublish) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published = cmd.PublishingName
	return nil
}

func (h *ingestHandler) OnSetDataFrame(_ uint32, _ *rtmpmsg.NetStreamSetDataFrame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metadata = true
	return nil
}

func (h *ingestHandler) OnVideo(_ uint32, payload io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, payload); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.video = append(h.video, buf.Bytes())
	return nil
}

func (h *ingestHandler) OnAudio(_ uint32, payload io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, payload); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audio = append(h.audio, buf.Bytes())
	return nil
}

func (h *ingestHandler) counts() (string, int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.published, len(h.video), len(h.audio)
}

func startIngest(t *testing.T) (string, *ingestHandler) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := &ingestHandler{}
	srv := rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
			return conn, &rtmp.ConnConfig{
				Handler: h,
				ControlState: rtmp.StreamControlStateConfig{
					DefaultBandwidthWindowSize: 6 * 1024 * 1024,
				},
			}
		},
	})
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return "rtmp://" + ln.Addr().String() + "/live/program", h
}

func TestRTMPPublish(t *testing.T) {
	url, ingest := startIngest(t)
	logger, _ := test.NewNullLogger()

	conn, err := DialRTMP(url, logger)
	require.NoError(t, err)

	sink := NewFLVSink(conn, logger)
	require.NoError(t, sink.WriteHeader(testHeader(t)))
	for _, seg := range interleave(1, 30) {
		require.NoError(t, sink.WriteSegment(seg))
	}

	// 1 sequence header + 30 frames, 1 sequence header + 46 granules
	require.Eventually(t, func() bool {
		_, v, a := ingest.counts()
		return v == 31 && a == 47
	}, 5*time.Second, 20*time.Millisecond)

	name, _, _ := ingest.counts()
	assert.Equal(t, "program", name)

	ingest.mu.Lock()
	assert.Equal(t, byte(0x17), ingest.video[0][0])
	assert.Equal(t, byte(0), ingest.video[0][1], "sequence header first")
	assert.Equal(t, []byte{0xAF, 0}, ingest.audio[0][:2])
	assert.True(t, ingest.metadata)
	ingest.mu.Unlock()

	require.NoError(t, sink.Close())
}

func TestDialRTMP_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = DialRTMP("rtmp://"+addr+"/live/x", nil)
	assert.Error(t, err)
}
