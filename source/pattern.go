// Package source generates synthetic program input: test pattern video,
// tone audio and a clocked producer that feeds both into a session.
package source

import (
	"fmt"
	"math"
	"strings"

	"github.com/thesyncim/encstream"
)

// PatternType selects the test pattern drawn into each frame.
type PatternType int

const (
	PatternColorBars    PatternType = iota // SMPTE color bars
	PatternGradient                        // Horizontal luma ramp
	PatternCheckerboard                    // Black and white squares
	PatternSolidColor                      // One flat color
	PatternNoise                           // Grayscale noise
	PatternMovingBox                       // White box circling the center
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "bars"
	case PatternGradient:
		return "gradient"
	case PatternCheckerboard:
		return "checker"
	case PatternSolidColor:
		return "solid"
	case PatternNoise:
		return "noise"
	case PatternMovingBox:
		return "box"
	default:
		return "unknown"
	}
}

// ParsePatternType maps a pattern name as printed by String.
func ParsePatternType(name string) (PatternType, error) {
	for p := PatternColorBars; p <= PatternMovingBox; p++ {
		if strings.EqualFold(name, p.String()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown pattern %q", name)
}

// PatternConfig configures a Pattern.
type PatternConfig struct {
	Width   int // default 1280
	Height  int // default 720
	Pattern PatternType

	SolidR, SolidG, SolidB uint8

	CheckerSize int // default 32
}

// Pattern renders test pattern frames. Static patterns are drawn once and
// copied; noise and the moving box are redrawn for every frame.
type Pattern struct {
	cfg      PatternConfig
	static   *encstream.VideoFrame
	rngState uint64
}

// NewPattern returns a pattern generator with defaults applied.
func NewPattern(cfg PatternConfig) *Pattern {
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 720
	}
	if cfg.CheckerSize <= 0 {
		cfg.CheckerSize = 32
	}
	p := &Pattern{cfg: cfg, rngState: 0x9e3779b97f4a7c15}
	if !p.animated() {
		p.static = encstream.NewI420Frame(cfg.Width, cfg.Height)
		p.draw(p.static, 0)
	}
	return p
}

// Config returns the configuration with defaults applied.
func (p *Pattern) Config() PatternConfig { return p.cfg }

func (p *Pattern) animated() bool {
	return p.cfg.Pattern == PatternNoise || p.cfg.Pattern == PatternMovingBox
}

// Frame returns a new frame for frame number n. The caller owns it.
func (p *Pattern) Frame(n uint64) *encstream.VideoFrame {
	if p.static != nil {
		return p.static.Clone()
	}
	f := encstream.NewI420Frame(p.cfg.Width, p.cfg.Height)
	p.draw(f, n)
	return f
}

func (p *Pattern) draw(f *encstream.VideoFrame, n uint64) {
	switch p.cfg.Pattern {
	case PatternGradient:
		p.drawGradient(f)
	case PatternCheckerboard:
		p.drawCheckerboard(f)
	case PatternSolidColor:
		p.drawSolid(f, p.cfg.SolidR, p.cfg.SolidG, p.cfg.SolidB)
	case PatternNoise:
		p.drawNoise(f)
	case PatternMovingBox:
		p.drawMovingBox(f, n)
	default:
		p.drawColorBars(f)
	}
}

// 75% bars, left to right
var colorBarsRGB = [8][3]uint8{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
	{16, 16, 16},
}

func (p *Pattern) drawColorBars(f *encstream.VideoFrame) {
	w, h := f.Width, f.Height
	barWidth := max(w/8, 1)
	yPlane, uPlane, vPlane := f.Data[0], f.Data[1], f.Data[2]

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			rgb := colorBarsRGB[min(x/barWidth, 7)]
			yv, u, v := rgbToYUV(rgb[0], rgb[1], rgb[2])
			yPlane[y*f.Stride[0]+x] = yv
			if x%2 == 0 && y%2 == 0 {
				i := (y/2)*f.Stride[1] + x/2
				uPlane[i] = u
				vPlane[i] = v
			}
		}
	}
}

func (p *Pattern) drawGradient(f *encstream.VideoFrame) {
	w, h := f.Width, f.Height
	for y := 0; y < h; y++ {
		row := f.Data[0][y*f.Stride[0]:]
		for x := 0; x < w; x++ {
			row[x] = uint8(x * 255 / w)
		}
	}
	fillChroma(f, 128, 128)
}

func (p *Pattern) drawCheckerboard(f *encstream.VideoFrame) {
	size := p.cfg.CheckerSize
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			v := uint8(16)
			if (x/size+y/size)%2 == 0 {
				v = 235
			}
			f.Data[0][y*f.Stride[0]+x] = v
		}
	}
	fillChroma(f, 128, 128)
}

func (p *Pattern) drawSolid(f *encstream.VideoFrame, r, g, b uint8) {
	y, u, v := rgbToYUV(r, g, b)
	for i := range f.Data[0] {
		f.Data[0][i] = y
	}
	fillChroma(f, u, v)
}

func (p *Pattern) drawNoise(f *encstream.VideoFrame) {
	// xorshift64
	for i := range f.Data[0] {
		p.rngState ^= p.rngState << 13
		p.rngState ^= p.rngState >> 7
		p.rngState ^= p.rngState << 17
		f.Data[0][i] = uint8(p.rngState)
	}
	fillChroma(f, 128, 128)
}

func (p *Pattern) drawMovingBox(f *encstream.VideoFrame, n uint64) {
	w, h := f.Width, f.Height
	for i := range f.Data[0] {
		f.Data[0][i] = 16
	}
	fillChroma(f, 128, 128)

	boxSize := max(min(w, h)/8, 2)
	radius := float64(min(w, h)) / 4
	angle := float64(n) * 0.05
	boxX := w/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := h/2 + int(radius*math.Sin(angle)) - boxSize/2

	for y := max(boxY, 0); y < boxY+boxSize && y < h; y++ {
		for x := max(boxX, 0); x < boxX+boxSize && x < w; x++ {
			f.Data[0][y*f.Stride[0]+x] = 235
		}
	}
}

func fillChroma(f *encstream.VideoFrame, u, v uint8) {
	for i := range f.Data[1] {
		f.Data[1][i] = u
	}
	for i := range f.Data[2] {
		f.Data[2][i] = v
	}
}

// rgbToYUV converts to limited range BT.601.
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	yf := 16 + 65.481*rf + 128.553*gf + 24.966*bf
	uf := 128 - 37.797*rf - 74.203*gf + 112.0*bf
	vf := 128 + 112.0*rf - 93.786*gf - 18.214*bf
	return uint8(clamp(yf, 16, 235)), uint8(clamp(uf, 16, 240)), uint8(clamp(vf, 16, 240))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
