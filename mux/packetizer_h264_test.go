package mux

import (
	"bytes"
	"testing"

	"github.com/pion/rtp/codecs"
)

func TestH264Packetizer(t *testing.T) {
	p := NewH264Packetizer(12345, 96, 1200)

	packets, err := p.Packetize(annexB(true, 500), 90000)
	if err != nil {
		t.Fatalf("Packetize failed: %v", err)
	}

	// SPS, PPS and the slice each fit in one packet; the AUD is dropped
	if len(packets) != 3 {
		t.Fatalf("got %d packets, want 3", len(packets))
	}
	for i, pkt := range packets {
		if pkt.SSRC != 12345 {
			t.Errorf("packet %d: SSRC = %d, want 12345", i, pkt.SSRC)
		}
		if pkt.PayloadType != 96 {
			t.Errorf("packet %d: PayloadType = %d, want 96", i, pkt.PayloadType)
		}
		if pkt.Timestamp != 90000 {
			t.Errorf("packet %d: Timestamp = %d, want 90000", i, pkt.Timestamp)
		}
		if pkt.Marker != (i == len(packets)-1) {
			t.Errorf("packet %d: Marker = %v", i, pkt.Marker)
		}
		if i > 0 && pkt.SequenceNumber != packets[i-1].SequenceNumber+1 {
			t.Errorf("packet %d: sequence number not consecutive", i)
		}
	}
	if !bytes.Equal(packets[0].Payload, testSPS) {
		t.Errorf("first packet is not the SPS")
	}
}

func TestH264PacketizerFragmentsLargeNALU(t *testing.T) {
	p := NewH264Packetizer(1, 96, 1200)
	au := annexB(false, 5000)

	packets, err := p.Packetize(au, 3000)
	if err != nil {
		t.Fatalf("Packetize failed: %v", err)
	}
	if len(packets) < 5 {
		t.Fatalf("got %d packets, want FU-A fragmentation", len(packets))
	}

	var depack codecs.H264Packet
	var out []byte
	for i, pkt := range packets {
		if len(pkt.Payload)+rtpHeaderSize > 1200 {
			t.Errorf("packet %d exceeds MTU: %d", i, len(pkt.Payload)+rtpHeaderSize)
		}
		if pkt.Payload[0]&0x1F != nalTypeFUA {
			t.Errorf("packet %d: type %d, want FU-A", i, pkt.Payload[0]&0x1F)
		}
		b, err := depack.Unmarshal(pkt.Payload)
		if err != nil {
			t.Fatalf("depacketize %d: %v", i, err)
		}
		out = append(out, b...)
	}

	// the reassembled unit matches the input minus the AUD
	want := au[6:]
	if !bytes.Equal(out, want) {
		t.Errorf("reassembled %d bytes, want %d", len(out), len(want))
	}
	if !packets[len(packets)-1].Marker {
		t.Error("last packet should have marker bit set")
	}
}

func TestH264PacketizerEmpty(t *testing.T) {
	p := NewH264Packetizer(1, 96, 0)
	if p.MTU() != 1200 {
		t.Errorf("MTU = %d, want default 1200", p.MTU())
	}
	if _, err := p.Packetize(nil, 0); err == nil {
		t.Error("expected error for empty access unit")
	}
}
