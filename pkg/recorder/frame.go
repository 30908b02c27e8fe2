package recorder

import (
	"fmt"
	"image"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/media"
	"golang.org/x/image/draw"
)

// normalizeFrame scales an RGB24 frame to width x height and returns it as
// packed BGR24, the pixel layout the video writer is opened with.
func normalizeFrame(f media.VideoFrame, width int, height int) ([]byte, error) {
	if f.Width <= 0 || f.Height <= 0 || len(f.Data) != f.Width*f.Height*3 {
		return nil, fmt.Errorf("%w: frame %dx%d with %d bytes", ErrBadFrame, f.Width, f.Height, len(f.Data))
	}

	src := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i < len(f.Data); i, j = i+3, j+4 {
		src.Pix[j] = f.Data[i]
		src.Pix[j+1] = f.Data[i+1]
		src.Pix[j+2] = f.Data[i+2]
		src.Pix[j+3] = 0xff
	}

	dst := src
	if f.Width != width || f.Height != height {
		dst = image.NewRGBA(image.Rect(0, 0, width, height))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	}

	out := make([]byte, width*height*3)
	for i, j := 0, 0; j < len(dst.Pix); i, j = i+3, j+4 {
		out[i] = dst.Pix[j+2]
		out[i+1] = dst.Pix[j+1]
		out[i+2] = dst.Pix[j]
	}
	return out, nil
}
