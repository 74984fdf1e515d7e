package encstream

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecH264
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecH264:
		return "H264"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecH264:
		return "video/H264"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate for this codec.
func (c VideoCodec) ClockRate() uint32 {
	return 90000
}

// AudioCodec identifies the audio codec type.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecAAC
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecAAC:
		return "AAC"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c AudioCodec) MimeType() string {
	switch c {
	case AudioCodecAAC:
		return "audio/AAC"
	default:
		return ""
	}
}

// Transport selects how AAC access units are framed by the encoder.
type Transport int

const (
	TransportRaw  Transport = iota // raw access units, config carried out of band
	TransportADTS                  // ADTS header per access unit
	TransportLOAS                  // LATM/LOAS
)

func (t Transport) String() string {
	switch t {
	case TransportRaw:
		return "raw"
	case TransportADTS:
		return "adts"
	case TransportLOAS:
		return "loas"
	default:
		return "unknown"
	}
}

// RateControlMode defines the encoder rate control mode.
type RateControlMode int

const (
	RateControlCQ  RateControlMode = iota // Constant quality (CRF)
	RateControlCBR                        // Constant bitrate
)

func (r RateControlMode) String() string {
	switch r {
	case RateControlCBR:
		return "CBR"
	case RateControlCQ:
		return "CQ"
	default:
		return "Unknown"
	}
}

// Preset is the x264 speed/efficiency preset.
type Preset int

const (
	PresetUltrafast Preset = iota
	PresetSuperfast
	PresetVeryfast
	PresetFaster
	PresetFast
	PresetMedium
	PresetSlow
	PresetSlower
	PresetVeryslow
)

var presetNames = [...]string{
	PresetUltrafast: "ultrafast",
	PresetSuperfast: "superfast",
	PresetVeryfast:  "veryfast",
	PresetFaster:    "faster",
	PresetFast:      "fast",
	PresetMedium:    "medium",
	PresetSlow:      "slow",
	PresetSlower:    "slower",
	PresetVeryslow:  "veryslow",
}

func (p Preset) String() string {
	if p < 0 || int(p) >= len(presetNames) {
		return "unknown"
	}
	return presetNames[p]
}

// Tune is the x264 content tuning.
type Tune int

const (
	TuneNone Tune = iota
	TuneFilm
	TuneAnimation
	TuneZeroLatency
)

func (t Tune) String() string {
	switch t {
	case TuneFilm:
		return "film"
	case TuneAnimation:
		return "animation"
	case TuneZeroLatency:
		return "zerolatency"
	default:
		return ""
	}
}

// H264Profile defines H.264 encoding profiles.
type H264Profile int

const (
	H264ProfileBaseline H264Profile = iota
	H264ProfileMain
	H264ProfileHigh
)

func (p H264Profile) String() string {
	switch p {
	case H264ProfileBaseline:
		return "Baseline"
	case H264ProfileMain:
		return "Main"
	case H264ProfileHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// Profile selects one of the fixed video encoding setups.
type Profile int

const (
	// ProfileMonitor is a low-latency preview: every frame is a key frame.
	ProfileMonitor Profile = iota
	// ProfileStream is the outgoing broadcast feed.
	ProfileStream
)

func (p Profile) String() string {
	switch p {
	case ProfileMonitor:
		return "monitor"
	case ProfileStream:
		return "stream"
	default:
		return "unknown"
	}
}

// EncodeSettings is the complete rate control and speed bundle a Profile
// expands to.
type EncodeSettings struct {
	RateControl RateControlMode
	CRF         int // used when RateControl is CQ
	BitrateBps  int // used when RateControl is CBR
	Preset      Preset
	Tune        Tune
	GOPSize     int // 0 lets the encoder decide
	H264Profile H264Profile
}

// Settings returns the encoder settings for p.
func (p Profile) Settings() EncodeSettings {
	switch p {
	case ProfileStream:
		return EncodeSettings{
			RateControl: RateControlCBR,
			BitrateBps:  1_500_000,
			Preset:      PresetSlow,
			Tune:        TuneFilm,
			GOPSize:     0,
			H264Profile: H264ProfileHigh,
		}
	default:
		return EncodeSettings{
			RateControl: RateControlCQ,
			CRF:         30,
			Preset:      PresetVeryfast,
			Tune:        TuneZeroLatency,
			GOPSize:     1,
			H264Profile: H264ProfileHigh,
		}
	}
}

// ParseProfile maps a profile name to a Profile.
func ParseProfile(name string) (Profile, bool) {
	switch name {
	case "monitor":
		return ProfileMonitor, true
	case "stream":
		return ProfileStream, true
	default:
		return ProfileMonitor, false
	}
}
