//go:build (darwin || linux) && !noh264

// H.264 encoding via libmedia_h264 (x264 behind a flat C ABI) using purego.

package encstream

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/sirupsen/logrus"
)

var (
	mediaH264Once    sync.Once
	mediaH264Handle  uintptr
	mediaH264InitErr error
)

// libmedia_h264 function pointers
var (
	mediaH264EncoderCreate        func(width, height, fps, bitrateKbps, profile, threads int32) uint64
	mediaH264EncoderEncode        func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride, forceKeyframe int32, outData uintptr, outCapacity int32, outFrameType, outPts, outDts uintptr) int32
	mediaH264EncoderMaxOutputSize func(encoder uint64) int32
	mediaH264EncoderGetSPSPPS     func(encoder uint64, spsOut uintptr, spsCapacity int32, spsLen uintptr, ppsOut uintptr, ppsCapacity int32, ppsLen uintptr) int32
	mediaH264EncoderDestroy       func(encoder uint64)
	mediaH264GetError             func() uintptr
	mediaH264EncoderAvailable     func() int32
)

// Constants from media_h264.h
const (
	mediaH264ProfileBaseline = 66
	mediaH264ProfileMain     = 77
	mediaH264ProfileHigh     = 100

	mediaH264FrameI   = 0
	mediaH264FrameP   = 1
	mediaH264FrameB   = 2
	mediaH264FrameIDR = 3

	mediaH264DefaultFPS  = 30
	mediaH264DefaultKbps = 1500
)

// mediaH264EncodeOut is heap allocated; purego output pointers must not
// point into a goroutine stack that can move during the call.
type mediaH264EncodeOut struct {
	frameType int32
	pts       int64
	dts       int64
	spsLen    int32
	ppsLen    int32
}

func h264ProfileToMedia(p H264Profile) int32 {
	switch p {
	case H264ProfileMain:
		return mediaH264ProfileMain
	case H264ProfileHigh:
		return mediaH264ProfileHigh
	default:
		return mediaH264ProfileBaseline
	}
}

func loadMediaH264() error {
	mediaH264Once.Do(func() {
		mediaH264Handle, mediaH264InitErr = dlopenFirst("libmedia_h264",
			libraryPaths("media_h264", "ENCSTREAM_H264_LIB_PATH"),
			loadMediaH264Symbols)
	})
	return mediaH264InitErr
}

func loadMediaH264Symbols(handle uintptr) error {
	return registerSymbols(handle, map[string]any{
		"media_h264_encoder_create":          &mediaH264EncoderCreate,
		"media_h264_encoder_encode":          &mediaH264EncoderEncode,
		"media_h264_encoder_max_output_size": &mediaH264EncoderMaxOutputSize,
		"media_h264_encoder_get_sps_pps":     &mediaH264EncoderGetSPSPPS,
		"media_h264_encoder_destroy":         &mediaH264EncoderDestroy,
		"media_h264_get_error":               &mediaH264GetError,
		"media_h264_encoder_available":       &mediaH264EncoderAvailable,
	})
}

// IsH264EncoderAvailable checks if the x264 encoder can be used.
func IsH264EncoderAvailable() bool {
	if err := loadMediaH264(); err != nil {
		return false
	}
	return mediaH264EncoderAvailable() != 0
}

func getH264Error() string {
	ptr := mediaH264GetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// H264Encoder implements VideoEncoder with x264.
type H264Encoder struct {
	config VideoEncoderConfig

	handle    uint64
	outputBuf []byte
	out       *mediaH264EncodeOut
	pending   []*Packet

	// x264 counts frames, so map frame index back to caller PTS
	frameIndex int64
	inputPTS   map[int64]int64
	firstPTS   [2]int64

	sps [][]byte
	pps [][]byte

	mu sync.Mutex
}

// NewH264Encoder creates a new H.264 encoder.
func NewH264Encoder(config VideoEncoderConfig) (*H264Encoder, error) {
	if err := loadMediaH264(); err != nil {
		return nil, fmt.Errorf("H.264 encoder not available: %w", err)
	}
	if mediaH264EncoderAvailable() == 0 {
		return nil, errors.New("H.264 encoder not available (x264 not compiled)")
	}
	if config.TimeBase <= 0 {
		return nil, fmt.Errorf("%w: time base %d", ErrInvalidConfig, config.TimeBase)
	}

	threads := int32(config.Threads)
	if threads <= 0 {
		threads = 4
	}
	fps, kbps, unapplied := h264CreateParams(config)
	if len(unapplied) > 0 {
		log := config.Logger
		if log == nil {
			log = logrus.StandardLogger()
		}
		log.WithFields(unapplied).Warn("libmedia_h264 cannot apply these settings, using library defaults")
	}

	e := &H264Encoder{
		config:   config,
		out:      &mediaH264EncodeOut{},
		inputPTS: make(map[int64]int64),
	}
	e.handle = mediaH264EncoderCreate(
		int32(config.Width), int32(config.Height), fps,
		kbps, h264ProfileToMedia(config.Settings.H264Profile), threads,
	)
	if e.handle == 0 {
		return nil, fmt.Errorf("failed to create H.264 encoder: %s", getH264Error())
	}

	maxOutput := mediaH264EncoderMaxOutputSize(e.handle)
	if maxOutput <= 0 {
		maxOutput = int32(config.Width * config.Height * 3 / 2)
	}
	e.outputBuf = make([]byte, maxOutput)

	e.extractSPSPPS()
	return e, nil
}

func (e *H264Encoder) extractSPSPPS() {
	spsOut := make([]byte, 256)
	ppsOut := make([]byte, 256)
	out := e.out
	out.spsLen, out.ppsLen = 0, 0

	mediaH264EncoderGetSPSPPS(
		e.handle,
		uintptr(unsafe.Pointer(&spsOut[0])), 256, uintptr(unsafe.Pointer(&out.spsLen)),
		uintptr(unsafe.Pointer(&ppsOut[0])), 256, uintptr(unsafe.Pointer(&out.ppsLen)),
	)
	runtime.KeepAlive(spsOut)
	runtime.KeepAlive(ppsOut)
	runtime.KeepAlive(out)

	if out.spsLen > 0 {
		e.sps = [][]byte{stripStartCode(append([]byte(nil), spsOut[:out.spsLen]...))}
	}
	if out.ppsLen > 0 {
		e.pps = [][]byte{stripStartCode(append([]byte(nil), ppsOut[:out.ppsLen]...))}
	}
}

// stripStartCode removes a leading Annex-B start code, if any.
func stripStartCode(b []byte) []byte {
	switch {
	case len(b) >= 4 && b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 1:
		return b[4:]
	case len(b) >= 3 && b[0] == 0 && b[1] == 0 && b[2] == 1:
		return b[3:]
	}
	return b
}

// SendFrame implements VideoEncoder.
func (e *H264Encoder) SendFrame(frame *VideoFrame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == 0 {
		return ErrClosed
	}

	out := e.out
	var force int32
	if keyframeDue(e.config.Settings.GOPSize, e.frameIndex) {
		force = 1
	}
	e.rememberPTS(frame.PTS)
	n := mediaH264EncoderEncode(
		e.handle,
		uintptr(unsafe.Pointer(&frame.Data[0][0])),
		uintptr(unsafe.Pointer(&frame.Data[1][0])),
		uintptr(unsafe.Pointer(&frame.Data[2][0])),
		int32(frame.Stride[0]),
		int32(frame.Stride[1]),
		force,
		uintptr(unsafe.Pointer(&e.outputBuf[0])),
		int32(len(e.outputBuf)),
		uintptr(unsafe.Pointer(&out.frameType)),
		uintptr(unsafe.Pointer(&out.pts)),
		uintptr(unsafe.Pointer(&out.dts)),
	)
	runtime.KeepAlive(frame)
	runtime.KeepAlive(out)

	if n < 0 {
		return fmt.Errorf("encode failed: %s", getH264Error())
	}
	if n == 0 {
		return nil
	}

	pkt := &Packet{
		Data:     append([]byte(nil), e.outputBuf[:n]...),
		PTS:      e.callerPTS(out.pts),
		DTS:      e.callerPTS(out.dts),
		KeyFrame: out.frameType == mediaH264FrameIDR || out.frameType == mediaH264FrameI,
	}
	e.forgetBefore(min(out.pts, out.dts) - 32)
	e.pending = append(e.pending, pkt)
	return nil
}

// h264CreateParams maps settings onto media_h264_encoder_create. The flat
// ABI takes only a frame rate and a bit rate; the settings it has no
// parameter for are returned so they can be reported.
func h264CreateParams(config VideoEncoderConfig) (fps, kbps int32, unapplied logrus.Fields) {
	s := config.Settings
	fps = int32(config.FrameRate)
	if fps <= 0 {
		fps = mediaH264DefaultFPS
	}
	kbps = int32(s.BitrateBps / 1000)
	if kbps <= 0 {
		kbps = mediaH264DefaultKbps
	}

	unapplied = logrus.Fields{}
	if s.RateControl == RateControlCQ {
		unapplied["crf"] = s.CRF
	}
	unapplied["preset"] = s.Preset.String()
	if s.Tune != TuneNone {
		unapplied["tune"] = s.Tune.String()
	}
	return fps, kbps, unapplied
}

// keyframeDue reports whether frame index starts a GOP. Key frames are
// forced per frame since the create call has no keyint parameter.
func keyframeDue(gop int, index int64) bool {
	return gop > 0 && index%int64(gop) == 0
}

func (e *H264Encoder) rememberPTS(pts int64) {
	if e.frameIndex < 2 {
		e.firstPTS[e.frameIndex] = pts
	}
	e.inputPTS[e.frameIndex] = pts
	e.frameIndex++
}

// callerPTS maps an x264 frame index to the caller's PTS. Negative indices
// (B-frame DTS shift) extrapolate from the first frame interval.
func (e *H264Encoder) callerPTS(idx int64) int64 {
	if pts, ok := e.inputPTS[idx]; ok {
		return pts
	}
	step := int64(1)
	if e.frameIndex > 1 {
		step = e.firstPTS[1] - e.firstPTS[0]
	}
	return e.firstPTS[0] + idx*step
}

func (e *H264Encoder) forgetBefore(idx int64) {
	for k := range e.inputPTS {
		if k < idx {
			delete(e.inputPTS, k)
		}
	}
}

// ReceivePacket implements VideoEncoder.
func (e *H264Encoder) ReceivePacket() (*Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		return nil, ErrAgain
	}
	pkt := e.pending[0]
	e.pending[0] = nil
	e.pending = e.pending[1:]
	return pkt, nil
}

// ParameterSets implements VideoEncoder.
func (e *H264Encoder) ParameterSets() (sps, pps [][]byte) {
	return e.sps, e.pps
}

// Config returns the encoder configuration.
func (e *H264Encoder) Config() VideoEncoderConfig {
	return e.config
}

// Close implements VideoEncoder.
func (e *H264Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != 0 {
		mediaH264EncoderDestroy(e.handle)
		e.handle = 0
	}
	e.pending = nil
	return nil
}

func init() {
	if IsH264EncoderAvailable() {
		setProviderAvailable(ProviderX264)
		registerVideoEncoder(VideoCodecH264, ProviderX264, func(config VideoEncoderConfig) (VideoEncoder, error) {
			return NewH264Encoder(config)
		})
	}
}
