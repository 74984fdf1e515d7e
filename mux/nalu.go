package mux

import (
	"encoding/binary"

	"github.com/Eyevinn/mp4ff/avc"
)

// sampleNALUs splits an Annex-B access unit and drops the NAL units that
// containers carry out of band.
func sampleNALUs(annexB []byte) [][]byte {
	nalus := avc.ExtractNalusFromByteStream(annexB)
	out := nalus[:0]
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		switch avc.GetNaluType(n[0]) {
		case avc.NALU_SPS, avc.NALU_PPS, avc.NALU_AUD:
			continue
		}
		out = append(out, n)
	}
	return out
}

// lengthPrefixed converts an Annex-B access unit to the 4-byte
// length-prefixed form used by MP4 and FLV.
func lengthPrefixed(annexB []byte) []byte {
	nalus := sampleNALUs(annexB)
	size := 0
	for _, n := range nalus {
		size += 4 + len(n)
	}
	out := make([]byte, 0, size)
	for _, n := range nalus {
		out = binary.BigEndian.AppendUint32(out, uint32(len(n)))
		out = append(out, n...)
	}
	return out
}

// stripADTS removes an ADTS header if present. MP4 and FLV carry raw AAC.
func stripADTS(frame []byte) []byte {
	if len(frame) < 7 || frame[0] != 0xFF || frame[1]&0xF0 != 0xF0 {
		return frame
	}
	headerLen := 7
	if frame[1]&0x01 == 0 {
		headerLen = 9
	}
	if len(frame) <= headerLen {
		return frame
	}
	return frame[headerLen:]
}
