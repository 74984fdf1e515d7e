package mux

import (
	"errors"
	"sync"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/pion/rtp"
)

const (
	rtpHeaderSize = 12
	nalTypeFUA    = 28
)

var errNoNALUnits = errors.New("mux: no NAL units in access unit")

// H264Packetizer splits H.264 access units into RTP packets following
// RFC 6184 with single NAL unit and FU-A packets.
type H264Packetizer struct {
	mu          sync.Mutex
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
}

// NewH264Packetizer returns a packetizer. mtu <= 0 selects 1200.
func NewH264Packetizer(ssrc uint32, payloadType uint8, mtu int) *H264Packetizer {
	if mtu <= 0 {
		mtu = 1200
	}
	return &H264Packetizer{
		ssrc:        ssrc,
		payloadType: payloadType,
		mtu:         mtu,
		sequencer:   rtp.NewRandomSequencer(),
	}
}

// Packetize converts an Annex-B access unit. Access unit delimiters are
// dropped; the marker bit is set on the last packet.
func (p *H264Packetizer) Packetize(annexB []byte, timestamp uint32) ([]*rtp.Packet, error) {
	var nalus [][]byte
	for _, n := range avc.ExtractNalusFromByteStream(annexB) {
		if len(n) > 0 && avc.GetNaluType(n[0]) != avc.NALU_AUD {
			nalus = append(nalus, n)
		}
	}
	return p.PacketizeNALUs(nalus, timestamp)
}

// PacketizeNALUs packetizes NAL units without start codes.
func (p *H264Packetizer) PacketizeNALUs(nalus [][]byte, timestamp uint32) ([]*rtp.Packet, error) {
	if len(nalus) == 0 {
		return nil, errNoNALUnits
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var packets []*rtp.Packet
	for i, nalu := range nalus {
		last := i == len(nalus)-1
		if len(nalu) <= p.mtu-rtpHeaderSize {
			packets = append(packets, p.packet(nalu, timestamp, last))
			continue
		}
		packets = append(packets, p.fragment(nalu, timestamp, last)...)
	}
	return packets, nil
}

func (p *H264Packetizer) packet(payload []byte, timestamp uint32, marker bool) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    p.payloadType,
			SequenceNumber: p.sequencer.NextSequenceNumber(),
			Timestamp:      timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
}

// fragment splits one NAL unit into FU-A packets.
func (p *H264Packetizer) fragment(nalu []byte, timestamp uint32, lastNALU bool) []*rtp.Packet {
	header := nalu[0]
	indicator := header&0x60 | nalTypeFUA
	typ := header & 0x1F

	body := nalu[1:]
	maxPayload := p.mtu - rtpHeaderSize - 2

	var packets []*rtp.Packet
	for off := 0; off < len(body); off += maxPayload {
		end := min(off+maxPayload, len(body))

		fu := typ
		if off == 0 {
			fu |= 0x80
		}
		if end == len(body) {
			fu |= 0x40
		}

		payload := make([]byte, 2+end-off)
		payload[0] = indicator
		payload[1] = fu
		copy(payload[2:], body[off:end])

		packets = append(packets, p.packet(payload, timestamp, lastNALU && end == len(body)))
	}
	return packets
}

func (p *H264Packetizer) SSRC() uint32       { p.mu.Lock(); defer p.mu.Unlock(); return p.ssrc }
func (p *H264Packetizer) PayloadType() uint8 { p.mu.Lock(); defer p.mu.Unlock(); return p.payloadType }
func (p *H264Packetizer) MTU() int           { p.mu.Lock(); defer p.mu.Unlock(); return p.mtu }
