package vqa

import (
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/vqa/report"
)

// ErrInvalidOptions indicates element configuration that cannot be
// activated.
var ErrInvalidOptions = errors.New("invalid options")

// LogFormat selects the structured report serialization. JSON is the only
// defined format.
type LogFormat uint8

const (
	// LogFormatJSON is the structured JSON report format.
	LogFormatJSON LogFormat = iota
)

// Options contains the element configuration, supplied once and read-only
// during activation. The fields mirror the quality element's runtime
// properties one-for-one.
type Options struct {
	// EngineName selects the registered scoring engine.
	EngineName string
	// ModelPath locates the engine's model resource.
	ModelPath string
	// LogPath is the structured report destination; empty means console
	// summary only.
	LogPath string
	// LogFormat is the report serialization format.
	LogFormat LogFormat
	// PoolMethod reduces per-frame scores to stream aggregates.
	PoolMethod report.PoolMethod
	// Threads is the engine's internal computation thread count; zero
	// lets the engine decide.
	Threads int
	// Subsample scores every Nth frame. Must be >= 1.
	Subsample int
	// ConfidenceInterval enables bootstrap auxiliary models.
	ConfidenceInterval bool
	// DisableClip disables clipping of the fused score.
	DisableClip bool
	// EnableTransform applies the engine's score transform.
	EnableTransform bool
	// PhoneModel is a preset that also enables the score transform.
	PhoneModel bool
	// DoPSNR, DoSSIM and DoMSSSIM toggle the auxiliary metrics.
	DoPSNR   bool
	DoSSIM   bool
	DoMSSSIM bool
	// ConsoleWriter receives the summary and error lines. Defaults to
	// stdout.
	ConsoleWriter io.Writer
}

// NewOptions returns the element defaults: the built-in engine, mean
// pooling, every frame scored, console output only.
func NewOptions() *Options {
	return &Options{
		EngineName: "psnr",
		LogFormat:  LogFormatJSON,
		PoolMethod: report.PoolMean,
		Subsample:  1,
	}
}

// Validate checks the configuration for values that cannot be activated.
func (o *Options) Validate() error {
	if o.EngineName == "" {
		return fmt.Errorf("%w: engine name is empty", ErrInvalidOptions)
	}
	if o.Subsample < 1 {
		return fmt.Errorf("%w: subsample stride %d, must be >= 1", ErrInvalidOptions, o.Subsample)
	}
	if o.Threads < 0 {
		return fmt.Errorf("%w: negative thread count %d", ErrInvalidOptions, o.Threads)
	}
	if o.LogFormat != LogFormatJSON {
		return fmt.Errorf("%w: unsupported log format %d", ErrInvalidOptions, int(o.LogFormat))
	}
	return nil
}
