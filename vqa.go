// Package vqa implements the top-level full-reference video quality
// element: it receives one reference frame and N comparison frames per
// output cycle from the media runtime, hands each pair to that stream's
// scoring worker in lockstep, and reports per-stream aggregate scores and
// structured JSON reports when streams end.
//
// The media runtime and the scoring numerics are collaborators. The
// runtime drives Activate, AggregateFrames and Deactivate; scoring engines
// plug in through the engine package.
package vqa

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vqa/engine"
	"github.com/opd-ai/vqa/frame"
	"github.com/opd-ai/vqa/report"
	"github.com/opd-ai/vqa/worker"
)

// ErrNotActive indicates frame dispatch on an element that is not in the
// active state.
var ErrNotActive = errors.New("element is not active")

// CycleMessage is the asynchronous per-cycle notification posted after
// each output cycle. Aggregates carries, per comparison stream index, the
// finalized pooled scores of streams that have already completed; streams
// still processing are absent because aggregation finalizes only at
// stream end.
type CycleMessage struct {
	Time       time.Duration
	Aggregates map[int]map[string]float64
}

// CycleCallback receives cycle notifications. Invoked synchronously after
// each cycle's dispatch completes; long-running handlers should offload.
type CycleCallback func(CycleMessage)

// Element is the quality scoring element. One pipeline/control goroutine
// drives it; each comparison stream gets its own scoring worker.
type Element struct {
	options *Options
	pool    *worker.Pool

	mu      sync.Mutex
	active  bool
	cycleCb CycleCallback
}

// New creates an element from the given options. A nil options uses
// defaults. The engine is resolved once here so an unknown engine fails
// element creation, not the first frame.
func New(options *Options) (*Element, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}
	if _, err := engine.Open(options.EngineName); err != nil {
		return nil, err
	}

	emitter := report.NewEmitter()
	emitter.Console = options.ConsoleWriter

	conf := worker.Config{
		EngineName: options.EngineName,
		Model:      options.ModelPath,
		RunOptions: engine.RunOptions{
			DisableClip:        options.DisableClip,
			EnableTransform:    options.EnableTransform || options.PhoneModel,
			PSNR:               options.DoPSNR,
			SSIM:               options.DoSSIM,
			MSSSIM:             options.DoMSSSIM,
			Threads:            options.Threads,
			Subsample:          options.Subsample,
			ConfidenceInterval: options.ConfidenceInterval,
		},
		PoolMethod: options.PoolMethod,
		ReportPath: options.LogPath,
		Emitter:    emitter,
	}

	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"engine":    options.EngineName,
		"pool":      options.PoolMethod.String(),
		"subsample": options.Subsample,
	}).Info("Creating quality scoring element")

	return &Element{
		options: options,
		pool:    worker.NewPool(conf),
	}, nil
}

// OnCycleResult registers the per-cycle notification callback.
func (e *Element) OnCycleResult(cb CycleCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cycleCb = cb
}

// Activate transitions the element to the active state, sizing the worker
// pool from the number of connected input streams (reference included).
// Pool allocation failure is the element's only activation-fatal
// condition.
func (e *Element) Activate(streamCount int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active {
		return worker.ErrPoolActive
	}
	if err := e.pool.Activate(streamCount); err != nil {
		return fmt.Errorf("activating element: %w", err)
	}
	e.active = true
	return nil
}

// AggregateFrames processes one output cycle: the reference frame plus one
// comparison frame per stream, dists[i] belonging to comparison stream i.
// Every stream is dispatched before the cycle is declared failed, and each
// dispatch blocks only until its worker consumes the pair, so a slow
// stream does not starve its peers. The returned frame is the reference,
// passed through untouched.
//
// A failed cycle reports which streams failed; the element and the healthy
// streams keep running.
func (e *Element) AggregateFrames(ts time.Duration, ref *frame.Frame, dists []*frame.Frame) (*frame.Frame, error) {
	e.mu.Lock()
	active := e.active
	cb := e.cycleCb
	e.mu.Unlock()

	if !active {
		return nil, ErrNotActive
	}

	err := e.pool.DispatchCycle(ref, dists)

	if cb != nil {
		cb(CycleMessage{Time: ts, Aggregates: e.pool.Aggregates()})
	}

	if err != nil {
		return ref, fmt.Errorf("cycle at %v: %w", ts, err)
	}
	return ref, nil
}

// Deactivate tears down every worker: channels close, blocked takes
// observe end-of-stream, engine runs return, goroutines exit, and
// completed streams have already emitted their reports. Aggregated
// per-stream terminal errors are returned; they are informational, not
// fatal. Safe to call on an inactive element.
func (e *Element) Deactivate() error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return nil
	}
	e.active = false
	e.mu.Unlock()

	return e.pool.Deactivate()
}

// Outcomes exposes the per-stream terminal records captured by the last
// Deactivate.
func (e *Element) Outcomes() []worker.Outcome {
	return e.pool.Outcomes()
}
