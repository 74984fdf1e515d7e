package mux

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/thesyncim/encstream"
)

const (
	monitorClockRate = 90000
	monitorFmtp      = "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"
)

// RTPWriter is implemented by *webrtc.TrackLocalStaticRTP.
type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// NewMonitorTrack returns a local H.264 track for a confidence monitor
// peer connection.
func NewMonitorTrack(streamID string) (*webrtc.TrackLocalStaticRTP, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   monitorClockRate,
			SDPFmtpLine: monitorFmtp,
		},
		"video", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("NewTrackLocalStaticRTP: %w", err)
	}
	return track, nil
}

// MonitorStats counts MonitorSink activity.
type MonitorStats struct {
	Frames        uint64
	Packets       uint64
	AudioSkipped  uint64
	WriteFailures uint64
}

// MonitorSink sends the video track over RTP for low-latency preview.
// WebRTC has no AAC, so audio segments are skipped. Parameter sets are
// sent in band ahead of every key frame.
type MonitorSink struct {
	mu     sync.Mutex
	out    RTPWriter
	pk     *H264Packetizer
	log    logrus.FieldLogger
	sps    [][]byte
	pps    [][]byte
	inited bool
	closed bool
	stats  MonitorStats
}

// NewMonitorSink returns a sink writing to out. The SSRC and payload type
// are rewritten by the track when it is bound to a peer connection.
func NewMonitorSink(out RTPWriter, logger logrus.FieldLogger) *MonitorSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MonitorSink{
		out: out,
		pk:  NewH264Packetizer(0, 96, 1200),
		log: logger.WithField("sink", "monitor"),
	}
}

func (m *MonitorSink) WriteHeader(h Header) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrSinkClosed
	}
	if err := h.validate(); err != nil {
		return err
	}
	m.sps = h.VideoConfig.SPSnalus
	m.pps = h.VideoConfig.PPSnalus
	m.inited = true
	return nil
}

func (m *MonitorSink) WriteSegment(seg encstream.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrSinkClosed
	}
	if !m.inited {
		return ErrNoHeader
	}

	v, ok := seg.(*encstream.VideoSegment)
	if !ok {
		m.stats.AudioSkipped++
		return nil
	}

	nalus := sampleNALUs(v.Frame.Data)
	if len(nalus) == 0 {
		return nil
	}
	if v.Frame.IsKeyFrame {
		ps := make([][]byte, 0, len(m.sps)+len(m.pps)+len(nalus))
		ps = append(ps, m.sps...)
		ps = append(ps, m.pps...)
		nalus = append(ps, nalus...)
	}

	ts := uint32(v.PresentationTimestamp().RoundToBase(monitorClockRate))
	packets, err := m.pk.PacketizeNALUs(nalus, ts)
	if err != nil {
		return err
	}
	for _, p := range packets {
		if err := m.out.WriteRTP(p); err != nil {
			// a viewer going away must not stop the encode
			m.stats.WriteFailures++
			m.log.WithError(err).Debug("rtp write failed")
			return nil
		}
	}
	m.stats.Frames++
	m.stats.Packets += uint64(len(packets))
	return nil
}

// Stats returns a snapshot of the counters.
func (m *MonitorSink) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *MonitorSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
