// Package encstream encodes a live program into AAC audio and H.264 video
// and merges both tracks into one sequence of segments in decode order.
//
// Key pieces:
//   - MediaTime/MediaDuration: exact rational timestamps
//   - AudioCtx: stereo float PCM to AAC-LC, one 1024-sample granule per frame
//   - VideoCtx: I420 frames to H.264 with settings fixed by a Profile
//   - Stream: drives both contexts and yields AudioSegment/VideoSegment values
//
// # Architecture
//
//	audio samples -> AudioCtx -> audio queue \
//	                                           Stream.RecvSegment -> mux.Sink
//	video frames  -> VideoCtx -> video queue /
//
// A Stream holds back the newest segment of each track so that a segment is
// only released once nothing earlier can still arrive on the other track.
// Flush drains the remainder when production stops. The session package
// drives a Stream from concurrent producers; the mux package writes
// segments to fragmented MP4, FLV/RTMP, websocket and RTP outputs.
//
// # Native Libraries
//
// Encoders are loaded at runtime with purego (CGO_ENABLED=0):
// libfdk-aac for AAC and libmedia_h264 (x264 behind a flat C ABI) for
// H.264. ENCSTREAM_FDKAAC_LIB_PATH and ENCSTREAM_H264_LIB_PATH name a
// library file directly; ENCSTREAM_LIB_PATH names a directory searched for
// both. The synth package provides stand-in encoders for tests and dry runs.
//
// # Build Tags
//
//   - noaac, noh264: leave out a native codec provider
package encstream
