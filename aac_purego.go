//go:build (darwin || linux) && !noaac

// AAC-LC encoding via libfdk-aac using purego.

package encstream

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"
)

var (
	fdkOnce    sync.Once
	fdkHandle  uintptr
	fdkInitErr error
)

// libfdk-aac function pointers
var (
	fdkEncOpen     func(phEnc uintptr, encModules, maxChannels uint32) int32
	fdkEncSetParam func(hEnc uintptr, param, value uint32) int32
	fdkEncEncode   func(hEnc uintptr, inBufDesc, outBufDesc, inArgs, outArgs uintptr) int32
	fdkEncInfo     func(hEnc uintptr, info uintptr) int32
	fdkEncClose    func(phEnc uintptr) int32
)

// Constants from aacenc_lib.h
const (
	fdkOK = 0x0000

	fdkParamAOT           = 0x0100
	fdkParamBitrate       = 0x0101
	fdkParamSampleRate    = 0x0103
	fdkParamGranuleLength = 0x0105
	fdkParamChannelMode   = 0x0106
	fdkParamAfterburner   = 0x0200
	fdkParamTransmux      = 0x0300

	fdkAOTAACLC     = 2
	fdkChannelMode2 = 2

	fdkTransportRaw  = 0
	fdkTransportADTS = 2
	fdkTransportLOAS = 10

	fdkBufInAudioData     = 0
	fdkBufOutBitstreamDat = 3
)

type fdkBufDesc struct {
	numBufs           int32
	bufs              uintptr // void**
	bufferIdentifiers uintptr // INT*
	bufSizes          uintptr // INT*
	bufElSizes        uintptr // INT*
}

type fdkInArgs struct {
	numInSamples int32
	numAncBytes  int32
}

type fdkOutArgs struct {
	numOutBytes  int32
	numInSamples int32
	numAncBytes  int32
	bitResState  int32
}

type fdkInfo struct {
	maxOutBufBytes uint32
	maxAncBytes    uint32
	inBufFillLevel uint32
	inputChannels  uint32
	frameLength    uint32
	nDelay         uint32
	nDelayCore     uint32
	confBuf        [64]byte
	confSize       uint32
}

// fdkCall holds every argument block of one aacEncEncode call. It lives on
// the heap for the encoder's lifetime so purego never sees stack addresses.
type fdkCall struct {
	in, out         fdkBufDesc
	inArgs          fdkInArgs
	outArgs         fdkOutArgs
	inPtr, outPtr   uintptr
	inID, outID     int32
	inSize, outSize int32
	inElem, outElem int32
}

func fdkTransport(t Transport) uint32 {
	switch t {
	case TransportADTS:
		return fdkTransportADTS
	case TransportLOAS:
		return fdkTransportLOAS
	default:
		return fdkTransportRaw
	}
}

func loadFDKAAC() error {
	fdkOnce.Do(func() {
		fdkHandle, fdkInitErr = dlopenFirst("libfdk-aac",
			libraryPaths("fdk-aac", "ENCSTREAM_FDKAAC_LIB_PATH", sharedLibName("fdk-aac")+".2"),
			func(h uintptr) error {
				return registerSymbols(h, map[string]any{
					"aacEncOpen":          &fdkEncOpen,
					"aacEncoder_SetParam": &fdkEncSetParam,
					"aacEncEncode":        &fdkEncEncode,
					"aacEncInfo":          &fdkEncInfo,
					"aacEncClose":         &fdkEncClose,
				})
			})
	})
	return fdkInitErr
}

// IsFDKAACAvailable checks if libfdk-aac can be loaded.
func IsFDKAACAvailable() bool {
	return loadFDKAAC() == nil
}

// FDKAACEncoder implements AudioEncoder with libfdk-aac.
type FDKAACEncoder struct {
	config AudioEncoderConfig

	handle    uintptr
	frameSize int
	maxOut    int
	conf      []byte
	call      *fdkCall

	mu sync.Mutex
}

// NewFDKAACEncoder opens an AAC-LC encoder with a granule of 1024 samples.
func NewFDKAACEncoder(config AudioEncoderConfig) (*FDKAACEncoder, error) {
	if err := loadFDKAAC(); err != nil {
		return nil, fmt.Errorf("AAC encoder not available: %w", err)
	}
	if config.Channels == 0 {
		config.Channels = AudioChannels
	}
	if config.Channels != AudioChannels {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidConfig, config.Channels)
	}

	e := &FDKAACEncoder{config: config, call: &fdkCall{}}
	if rc := fdkEncOpen(uintptr(unsafe.Pointer(&e.handle)), 0, uint32(config.Channels)); rc != fdkOK {
		return nil, fmt.Errorf("aacEncOpen: error 0x%04x", rc)
	}

	params := []struct {
		name  string
		id    uint32
		value uint32
	}{
		{"aot", fdkParamAOT, fdkAOTAACLC},
		{"samplerate", fdkParamSampleRate, uint32(config.SampleRate)},
		{"channelmode", fdkParamChannelMode, fdkChannelMode2},
		{"granule", fdkParamGranuleLength, AudioGranule},
		{"bitrate", fdkParamBitrate, uint32(config.BitrateBps)},
		{"transmux", fdkParamTransmux, fdkTransport(config.Transport)},
		{"afterburner", fdkParamAfterburner, 1},
	}
	for _, p := range params {
		if rc := fdkEncSetParam(e.handle, p.id, p.value); rc != fdkOK {
			e.Close()
			return nil, fmt.Errorf("%w: aacEncoder_SetParam %s=%d: error 0x%04x", ErrInvalidConfig, p.name, p.value, rc)
		}
	}

	// a call with no buffers applies the parameters
	if rc := fdkEncEncode(e.handle, 0, 0, 0, 0); rc != fdkOK {
		e.Close()
		return nil, fmt.Errorf("aacEncEncode init: error 0x%04x", rc)
	}

	info := &fdkInfo{}
	if rc := fdkEncInfo(e.handle, uintptr(unsafe.Pointer(info))); rc != fdkOK {
		e.Close()
		return nil, fmt.Errorf("aacEncInfo: error 0x%04x", rc)
	}
	runtime.KeepAlive(info)

	e.frameSize = int(info.frameLength)
	e.maxOut = int(info.maxOutBufBytes)
	size := int(info.confSize)
	if size > len(info.confBuf) {
		size = len(info.confBuf)
	}
	e.conf = append([]byte(nil), info.confBuf[:size]...)
	return e, nil
}

// Encode implements AudioEncoder.
func (e *FDKAACEncoder) Encode(pcm []int16, out []byte) (AudioEncodeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == 0 {
		return AudioEncodeResult{}, ErrClosed
	}
	if len(pcm) == 0 || len(out) == 0 {
		return AudioEncodeResult{}, fmt.Errorf("%w: empty buffer", ErrInvalidConfig)
	}

	c := e.call
	c.inPtr = uintptr(unsafe.Pointer(&pcm[0]))
	c.inID = fdkBufInAudioData
	c.inSize = int32(len(pcm) * 2)
	c.inElem = 2
	c.in = fdkBufDesc{
		numBufs:           1,
		bufs:              uintptr(unsafe.Pointer(&c.inPtr)),
		bufferIdentifiers: uintptr(unsafe.Pointer(&c.inID)),
		bufSizes:          uintptr(unsafe.Pointer(&c.inSize)),
		bufElSizes:        uintptr(unsafe.Pointer(&c.inElem)),
	}

	c.outPtr = uintptr(unsafe.Pointer(&out[0]))
	c.outID = fdkBufOutBitstreamDat
	c.outSize = int32(len(out))
	c.outElem = 1
	c.out = fdkBufDesc{
		numBufs:           1,
		bufs:              uintptr(unsafe.Pointer(&c.outPtr)),
		bufferIdentifiers: uintptr(unsafe.Pointer(&c.outID)),
		bufSizes:          uintptr(unsafe.Pointer(&c.outSize)),
		bufElSizes:        uintptr(unsafe.Pointer(&c.outElem)),
	}

	c.inArgs = fdkInArgs{numInSamples: int32(len(pcm))}
	c.outArgs = fdkOutArgs{}

	rc := fdkEncEncode(e.handle,
		uintptr(unsafe.Pointer(&c.in)),
		uintptr(unsafe.Pointer(&c.out)),
		uintptr(unsafe.Pointer(&c.inArgs)),
		uintptr(unsafe.Pointer(&c.outArgs)),
	)
	runtime.KeepAlive(pcm)
	runtime.KeepAlive(out)
	runtime.KeepAlive(c)

	if rc != fdkOK {
		return AudioEncodeResult{}, fmt.Errorf("aacEncEncode: error 0x%04x", rc)
	}
	return AudioEncodeResult{
		InputConsumed: int(c.outArgs.numInSamples),
		OutputSize:    int(c.outArgs.numOutBytes),
	}, nil
}

// ConfigurationData implements AudioEncoder.
func (e *FDKAACEncoder) ConfigurationData() []byte { return e.conf }

// FrameSize implements AudioEncoder.
func (e *FDKAACEncoder) FrameSize() int { return e.frameSize }

// MaxOutputSize implements AudioEncoder.
func (e *FDKAACEncoder) MaxOutputSize() int { return e.maxOut }

// Config returns the encoder configuration.
func (e *FDKAACEncoder) Config() AudioEncoderConfig { return e.config }

// Close implements AudioEncoder.
func (e *FDKAACEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != 0 {
		fdkEncClose(uintptr(unsafe.Pointer(&e.handle)))
		e.handle = 0
	}
	return nil
}

func init() {
	if err := loadFDKAAC(); err == nil {
		setProviderAvailable(ProviderFDKAAC)
		registerAudioEncoder(AudioCodecAAC, ProviderFDKAAC, func(config AudioEncoderConfig) (AudioEncoder, error) {
			return NewFDKAACEncoder(config)
		})
	}
}
