// Package psnr provides the built-in luma PSNR scoring engine. It exists
// so the element and its CLI can run end to end without an external
// scoring library; heavier fused-metric engines plug in through the same
// engine.Engine interface.
//
// Importing this package registers the engine under the name "psnr".
package psnr

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vqa/engine"
	"github.com/opd-ai/vqa/frame"
	"github.com/opd-ai/vqa/handoff"
)

// Score caps per bit depth, matching the convention of capping PSNR on
// identical frames instead of reporting +Inf.
const (
	Cap8Bit  = 60.0
	Cap10Bit = 72.0
)

func init() {
	engine.Register("psnr", func() engine.Engine { return &Engine{} })
}

// Engine computes per-frame luma PSNR between reference and distorted
// frames. Identical frames score the bit-depth cap.
type Engine struct{}

// Run consumes the stream via pull, scoring every opts.Subsample-th frame.
func (e *Engine) Run(asset engine.Asset, pull engine.PullFunc, opts engine.RunOptions) (*engine.Result, error) {
	geom := asset.Geometry
	if err := geom.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrBadConfiguration, err)
	}
	stride := opts.Subsample
	if stride < 1 {
		stride = 1
	}

	peak := float64(int(1)<<geom.Format.BitDepth() - 1)
	capDB := Cap8Bit
	if geom.Format.BitDepth() > 8 {
		capDB = Cap10Bit
	}

	var scores []float64
	var pullErr error
	frameIndex := 0
	for {
		err := pull(func(ref, dist *frame.Frame) {
			if frameIndex%stride != 0 {
				return
			}
			if ref.Geom != geom || dist.Geom != geom {
				pullErr = fmt.Errorf("%w: frame geometry %s does not match asset %s",
					engine.ErrEngineFailure, dist.Geom, geom)
				return
			}
			scores = append(scores, lumaPSNR(ref, dist, peak, capDB))
		})
		if err != nil {
			if errors.Is(err, handoff.ErrEnded) {
				break
			}
			return nil, fmt.Errorf("%w: pull: %v", engine.ErrEngineFailure, err)
		}
		if pullErr != nil {
			return nil, pullErr
		}
		frameIndex++
	}

	if len(scores) == 0 && frameIndex == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Run",
			"asset":    geom.String(),
		}).Debug("PSNR run ended before any frame arrived")
	}

	return &engine.Result{
		Keys:   []string{"psnr"},
		Scores: map[string][]float64{"psnr": scores},
	}, nil
}

// lumaPSNR computes the PSNR of the luma planes, capped for identical
// content.
func lumaPSNR(ref, dist *frame.Frame, peak, capDB float64) float64 {
	var sum float64
	w, h := ref.Geom.Width, ref.Geom.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := float64(ref.LumaSample(x, y) - dist.LumaSample(x, y))
			sum += d * d
		}
	}
	mse := sum / float64(w*h)
	if mse == 0 {
		return capDB
	}
	score := 10 * math.Log10(peak*peak/mse)
	if score > capDB {
		return capDB
	}
	return score
}

var _ engine.Engine = (*Engine)(nil)
