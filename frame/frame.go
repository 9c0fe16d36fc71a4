// Package frame defines the video frame model shared by the scoring core:
// planar pixel buffers, their geometry, and the pixel formats the element
// negotiates with the media runtime.
//
// The core only supports the I420 planar family (8-bit and 10-bit little
// endian). Frames reference externally owned memory; the owner defines the
// window during which a Frame may be read.
package frame

import (
	"errors"
	"fmt"
)

// ErrInvalidGeometry indicates a geometry with non-positive dimensions or
// an unknown pixel format.
var ErrInvalidGeometry = errors.New("invalid frame geometry")

// PixelFormat identifies a supported planar pixel layout.
type PixelFormat uint8

const (
	// FormatI420 is 8-bit 4:2:0 planar YUV.
	FormatI420 PixelFormat = iota
	// FormatI420_10LE is 10-bit 4:2:0 planar YUV, little endian,
	// two bytes per sample.
	FormatI420_10LE
)

// String returns the canonical name of the pixel format.
func (f PixelFormat) String() string {
	switch f {
	case FormatI420:
		return "I420"
	case FormatI420_10LE:
		return "I420_10LE"
	default:
		return fmt.Sprintf("Unknown(%d)", int(f))
	}
}

// BitDepth returns the number of significant bits per sample.
func (f PixelFormat) BitDepth() int {
	if f == FormatI420_10LE {
		return 10
	}
	return 8
}

// bytesPerSample returns the storage size of one sample in bytes.
func (f PixelFormat) bytesPerSample() int {
	if f == FormatI420_10LE {
		return 2
	}
	return 1
}

// Geometry describes the dimensions and format of a video stream. It is
// negotiated by the media runtime and frozen for the lifetime of a stream.
type Geometry struct {
	Width  int
	Height int
	Format PixelFormat
}

// Validate checks that the geometry has positive dimensions and a known
// pixel format.
func (g Geometry) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, g.Width, g.Height)
	}
	switch g.Format {
	case FormatI420, FormatI420_10LE:
		return nil
	default:
		return fmt.Errorf("%w: unsupported format %s", ErrInvalidGeometry, g.Format)
	}
}

// Equal reports whether two geometries are identical.
func (g Geometry) Equal(other Geometry) bool {
	return g == other
}

// String returns a compact human-readable form, e.g. "1920x1080 I420".
func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d %s", g.Width, g.Height, g.Format)
}

// chromaWidth returns the width of the chroma planes in samples.
func (g Geometry) chromaWidth() int { return (g.Width + 1) / 2 }

// chromaHeight returns the height of the chroma planes in samples.
func (g Geometry) chromaHeight() int { return (g.Height + 1) / 2 }

// LumaSize returns the byte size of the luma plane.
func (g Geometry) LumaSize() int {
	return g.Width * g.Height * g.Format.bytesPerSample()
}

// ChromaSize returns the byte size of one chroma plane.
func (g Geometry) ChromaSize() int {
	return g.chromaWidth() * g.chromaHeight() * g.Format.bytesPerSample()
}

// FrameSize returns the total byte size of one frame.
func (g Geometry) FrameSize() int {
	return g.LumaSize() + 2*g.ChromaSize()
}

// Frame is one planar video frame. The plane slices reference memory owned
// by whoever produced the frame; consumers must not retain them past the
// handoff window granted by the producer.
type Frame struct {
	Geom    Geometry
	Y, U, V []byte
	// Strides are in bytes per row. For frames built by this package they
	// are tightly packed.
	StrideY, StrideU, StrideV int
}

// New allocates a zeroed frame with tightly packed planes. Intended for
// standalone producers such as the CLI and tests; the media runtime
// supplies its own buffers via FromPlanes.
func New(geom Geometry) (*Frame, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	bps := geom.Format.bytesPerSample()
	return &Frame{
		Geom:    geom,
		Y:       make([]byte, geom.LumaSize()),
		U:       make([]byte, geom.ChromaSize()),
		V:       make([]byte, geom.ChromaSize()),
		StrideY: geom.Width * bps,
		StrideU: geom.chromaWidth() * bps,
		StrideV: geom.chromaWidth() * bps,
	}, nil
}

// FromPlanes wraps externally owned plane memory in a Frame without copying.
// The caller keeps ownership of the slices.
func FromPlanes(geom Geometry, y, u, v []byte, strideY, strideU, strideV int) (*Frame, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	if len(y) < geom.LumaSize() || len(u) < geom.ChromaSize() || len(v) < geom.ChromaSize() {
		return nil, fmt.Errorf("%w: plane buffers smaller than %s requires", ErrInvalidGeometry, geom)
	}
	return &Frame{
		Geom: geom, Y: y, U: u, V: v,
		StrideY: strideY, StrideU: strideU, StrideV: strideV,
	}, nil
}

// LumaSample returns the luma sample at (x, y) as an integer in the
// format's native range.
func (fr *Frame) LumaSample(x, y int) int {
	if fr.Geom.Format == FormatI420_10LE {
		off := y*fr.StrideY + 2*x
		return int(fr.Y[off]) | int(fr.Y[off+1])<<8
	}
	return int(fr.Y[y*fr.StrideY+x])
}
