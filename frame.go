// Raw frame and encoded packet types shared by the encode contexts.
package encstream

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420 PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                    // YUV 4:2:0 semi-planar (Y + interleaved UV)
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3
	case PixelFormatNV12:
		return 2
	default:
		return 0
	}
}

// PictureType is the coding type hint attached to a raw frame.
// The video context clears it before submission so the encoder's own GOP
// decisions win.
type PictureType int

const (
	PictureTypeNone PictureType = iota
	PictureTypeI
	PictureTypeP
	PictureTypeB
)

// VideoFrame represents a raw video frame.
type VideoFrame struct {
	Data        [][]byte    // Plane data
	Stride      []int       // Stride for each plane in bytes
	Width       int         // Frame width in pixels
	Height      int         // Frame height in pixels
	Format      PixelFormat // Pixel format
	PTS         int64       // Presentation timestamp in encoder time base
	PictureType PictureType
}

// Clone creates a deep copy of the video frame.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:        make([][]byte, len(f.Data)),
		Stride:      make([]int, len(f.Stride)),
		Width:       f.Width,
		Height:      f.Height,
		Format:      f.Format,
		PTS:         f.PTS,
		PictureType: f.PictureType,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// NewI420Frame allocates a tightly packed I420 frame.
func NewI420Frame(width, height int) *VideoFrame {
	uvW, uvH := width/2, height/2
	buf := make([]byte, I420Size(width, height))
	ySize := width * height
	uvSize := uvW * uvH
	return &VideoFrame{
		Data: [][]byte{
			buf[:ySize:ySize],
			buf[ySize : ySize+uvSize : ySize+uvSize],
			buf[ySize+uvSize:],
		},
		Stride: []int{width, uvW, uvW},
		Width:  width,
		Height: height,
		Format: PixelFormatI420,
	}
}

// NewBlankFrame returns a black I420 frame (limited range: Y=16, U=V=128).
func NewBlankFrame(width, height int) *VideoFrame {
	f := NewI420Frame(width, height)
	fill(f.Data[0], 16)
	fill(f.Data[1], 128)
	fill(f.Data[2], 128)
	return f
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return ySize + uvSize*2
}

// Packet is one compressed access unit produced by a video encoder.
// PTS and DTS are in the encoder time base.
type Packet struct {
	Data     []byte
	PTS      int64
	DTS      int64
	KeyFrame bool
}
