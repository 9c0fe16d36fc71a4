// Package engine defines the boundary to the external quality scoring
// engine: the synchronous pull-style run interface, its typed failure
// modes, and a registry of available engine implementations.
//
// Engines are collaborators. This package does not define any metric
// numerics; it defines how a worker feeds frames into an engine and how
// the engine hands back per-frame and aggregate-ready score series.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vqa/frame"
)

// Sentinel errors for engine operations. Classify with errors.Is.
var (
	// ErrEngineFailure indicates the scoring engine reported a runtime
	// fault while processing a stream. Terminal for that stream.
	ErrEngineFailure = errors.New("scoring engine failure")

	// ErrBadConfiguration indicates invalid settings detected at engine
	// start, such as an unreadable model resource or a geometry the
	// engine cannot accept.
	ErrBadConfiguration = errors.New("invalid engine configuration")

	// ErrUnknownEngine indicates no engine is registered under the
	// requested name.
	ErrUnknownEngine = errors.New("unknown scoring engine")
)

// Numeric boundary codes preserved from the original element's console
// protocol. They appear only in the per-stream error log line.
const (
	CodeEngineFailure    = -3
	CodeBadConfiguration = -4
	CodeUnknown          = -6
)

// CodeOf maps an engine error to its console boundary code.
func CodeOf(err error) int {
	switch {
	case errors.Is(err, ErrEngineFailure):
		return CodeEngineFailure
	case errors.Is(err, ErrBadConfiguration):
		return CodeBadConfiguration
	default:
		return CodeUnknown
	}
}

// Asset describes the stream an engine run scores: its geometry and the
// model identity the engine should load.
type Asset struct {
	Geometry frame.Geometry
	Model    string
}

// RunOptions carries the per-run engine settings supplied by the element
// configuration. All fields are passed through to the engine unchanged.
type RunOptions struct {
	// DisableClip disables clipping of the fused score to its nominal
	// range.
	DisableClip bool
	// EnableTransform applies the engine's score transform (also enabled
	// by phone-model style presets).
	EnableTransform bool
	// PSNR, SSIM and MSSSIM toggle the auxiliary metrics.
	PSNR   bool
	SSIM   bool
	MSSSIM bool
	// Threads is the engine's internal computation thread count.
	// Zero lets the engine decide.
	Threads int
	// Subsample scores every Nth frame. Must be >= 1. Frames off the
	// stride are still consumed from the pull source, just not scored.
	Subsample int
	// ConfidenceInterval enables bootstrap auxiliary models.
	ConfidenceInterval bool
}

// PullFunc is the only capability an engine receives for obtaining frames.
// Each call blocks until the next frame pair is available, then runs read
// with the pair; the pair is valid only until read returns. PullFunc
// returns handoff.ErrEnded once the stream is exhausted.
type PullFunc func(read func(ref, dist *frame.Frame)) error

// Result holds the score series produced by one engine run. Keys preserves
// the engine's metric ordering, primary metric first; Scores maps each key
// to its per-processed-frame series. All series have equal length.
type Result struct {
	Keys   []string
	Scores map[string][]float64
}

// NumFrames returns the number of processed (subsample-adjusted) frames.
func (r *Result) NumFrames() int {
	if len(r.Keys) == 0 {
		return 0
	}
	return len(r.Scores[r.Keys[0]])
}

// Engine runs a synchronous full-reference scoring session. Run consumes
// frames via pull until end-of-stream and returns the completed series, or
// a typed error wrapping ErrEngineFailure or ErrBadConfiguration.
type Engine interface {
	Run(asset Asset, pull PullFunc, opts RunOptions) (*Result, error)
}

// Factory builds an engine instance.
type Factory func() Engine

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an engine available under name. Later registrations
// replace earlier ones.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
	logrus.WithFields(logrus.Fields{
		"function": "Register",
		"engine":   name,
	}).Debug("Scoring engine registered")
}

// Open returns a fresh instance of the engine registered under name.
func Open(name string) (Engine, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return factory(), nil
}
