package main

import (
	"fmt"
	"io"
	"os"

	"github.com/opd-ai/vqa/frame"
)

// yuvReader reads tightly packed raw planar frames from a file. Each call
// to Next reuses the same frame buffers; the previous frame is invalid
// once dispatch for it has completed, which matches the element's handoff
// contract.
type yuvReader struct {
	f          *os.File
	geom       frame.Geometry
	buf        *frame.Frame
	frameCount int
}

func newReader(path string, geom frame.Geometry) (*yuvReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := int64(geom.FrameSize())
	if info.Size()%size != 0 {
		f.Close()
		return nil, fmt.Errorf("%s: size %d is not a multiple of %s frame size %d",
			path, info.Size(), geom, size)
	}
	buf, err := frame.New(geom)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &yuvReader{
		f:          f,
		geom:       geom,
		buf:        buf,
		frameCount: int(info.Size() / size),
	}, nil
}

// Next returns the next frame, or io.EOF at end of file.
func (r *yuvReader) Next() (*frame.Frame, error) {
	for _, plane := range [][]byte{r.buf.Y, r.buf.U, r.buf.V} {
		if _, err := io.ReadFull(r.f, plane); err != nil {
			if err == io.ErrUnexpectedEOF {
				return nil, io.EOF
			}
			return nil, err
		}
	}
	return r.buf, nil
}

func (r *yuvReader) Close() error {
	return r.f.Close()
}
