package encstream

import (
	"testing"
)

func TestPixelFormat_String(t *testing.T) {
	tests := []struct {
		format PixelFormat
		want   string
	}{
		{PixelFormatI420, "I420"},
		{PixelFormatNV12, "NV12"},
		{PixelFormat(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.format.String(); got != tt.want {
				t.Errorf("PixelFormat.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPixelFormat_PlaneCount(t *testing.T) {
	tests := []struct {
		format PixelFormat
		want   int
	}{
		{PixelFormatI420, 3},
		{PixelFormatNV12, 2},
		{PixelFormat(99), 0},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			if got := tt.format.PlaneCount(); got != tt.want {
				t.Errorf("PixelFormat.PlaneCount() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestI420Size(t *testing.T) {
	tests := []struct {
		width, height int
		want          int
	}{
		{2, 2, 6},
		{640, 480, 460800},
		{1280, 720, 1382400},
		{1920, 1080, 3110400},
	}

	for _, tt := range tests {
		if got := I420Size(tt.width, tt.height); got != tt.want {
			t.Errorf("I420Size(%d, %d) = %d, want %d", tt.width, tt.height, got, tt.want)
		}
	}
}

func TestNewBlankFrame(t *testing.T) {
	f := NewBlankFrame(4, 2)

	if f.Format != PixelFormatI420 || f.Width != 4 || f.Height != 2 {
		t.Fatalf("unexpected frame header %+v", f)
	}
	if len(f.Data[0]) != 8 || len(f.Data[1]) != 2 || len(f.Data[2]) != 2 {
		t.Fatalf("plane sizes = %d/%d/%d", len(f.Data[0]), len(f.Data[1]), len(f.Data[2]))
	}
	if f.Stride[0] != 4 || f.Stride[1] != 2 || f.Stride[2] != 2 {
		t.Errorf("strides = %v", f.Stride)
	}
	for _, y := range f.Data[0] {
		if y != 16 {
			t.Fatalf("luma = %d, want 16", y)
		}
	}
	for i := 1; i < 3; i++ {
		for _, c := range f.Data[i] {
			if c != 128 {
				t.Fatalf("chroma = %d, want 128", c)
			}
		}
	}
}

func TestVideoFrame_Clone(t *testing.T) {
	orig := NewBlankFrame(4, 4)
	orig.PTS = 1234
	orig.PictureType = PictureTypeI

	clone := orig.Clone()
	if clone.PTS != 1234 || clone.PictureType != PictureTypeI {
		t.Errorf("clone header = %+v", clone)
	}

	// planes must not alias
	clone.Data[0][0] = 0xFF
	if orig.Data[0][0] == 0xFF {
		t.Error("Clone() shares plane memory with original")
	}
	clone.Stride[0] = 99
	if orig.Stride[0] == 99 {
		t.Error("Clone() shares stride slice with original")
	}
}
