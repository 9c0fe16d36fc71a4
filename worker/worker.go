// Package worker owns the per-stream scoring workers and the pool that
// manages their lifecycles. Each comparison stream gets one Worker: a
// dedicated goroutine that bridges the scoring engine's synchronous pull
// interface to that stream's handoff channel, records the terminal
// outcome, and emits the stream's report.
package worker

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vqa/engine"
	"github.com/opd-ai/vqa/frame"
	"github.com/opd-ai/vqa/handoff"
	"github.com/opd-ai/vqa/report"
)

// Sentinel errors for worker and pool operations.
var (
	// ErrStreamFailed indicates a comparison stream that can no longer be
	// processed; the current cycle fails for that stream but the pipeline
	// and other streams continue.
	ErrStreamFailed = errors.New("stream failed")

	// ErrGeometryMismatch indicates a comparison frame whose geometry
	// disagrees with the reference frame's.
	ErrGeometryMismatch = errors.New("geometry mismatch")

	// ErrAlreadyStarted indicates a second Start on the same worker.
	ErrAlreadyStarted = errors.New("worker already started")

	// ErrPoolActive indicates Activate on a pool that is already active.
	ErrPoolActive = errors.New("worker pool already active")

	// ErrPoolInactive indicates an operation that requires an active pool.
	ErrPoolInactive = errors.New("worker pool is not active")

	// ErrTooFewStreams indicates activation with fewer than two connected
	// streams; scoring needs a reference and at least one comparison.
	ErrTooFewStreams = errors.New("need at least two streams")
)

// State is a worker's lifecycle state.
type State uint8

const (
	// StatePending indicates the worker exists but has not seen its first
	// frame; its goroutine has not been spawned.
	StatePending State = iota
	// StateRunning indicates the scoring goroutine is processing frames.
	StateRunning
	// StateCompleted indicates the engine run finished successfully.
	StateCompleted
	// StateFailed indicates a terminal error; the stream is failed for
	// the remainder of the run and is never retried.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateRunning:
		return "Running"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Config carries the read-only settings every worker shares. Supplied once
// at pool activation.
type Config struct {
	// EngineName selects the registered scoring engine.
	EngineName string
	// Model is the model resource handed to the engine; its base name
	// identifies the model in reports.
	Model string
	// RunOptions are passed to the engine unchanged.
	RunOptions engine.RunOptions
	// PoolMethod reduces per-frame series to aggregates.
	PoolMethod report.PoolMethod
	// ReportPath, when non-empty, is the structured report destination;
	// with several streams each worker derives its own path from it.
	ReportPath string
	// StreamTotal is the number of comparison streams, for report path
	// derivation.
	StreamTotal int
	// Emitter writes console summaries and report files.
	Emitter *report.Emitter
}

// Worker scores one comparison stream against the reference. Created in
// StatePending; its goroutine starts lazily on the first observed frame
// because geometry is unknown until then, and exits when the channel
// closes or the engine fails.
//
// The terminal result fields are written once by the worker goroutine and
// read after Join; no lock is needed for that read because it
// happens-after the goroutine exit.
type Worker struct {
	index   int
	channel *handoff.Channel
	eng     engine.Engine
	conf    Config

	mu      sync.Mutex
	state   State
	started bool
	geom    frame.Geometry

	done chan struct{}

	result     *engine.Result
	aggregates map[string]float64
	err        error
}

// newWorker wires a worker to its channel and engine instance.
func newWorker(index int, eng engine.Engine, conf Config) *Worker {
	return &Worker{
		index:   index,
		channel: handoff.NewChannel(),
		eng:     eng,
		conf:    conf,
		state:   StatePending,
		done:    make(chan struct{}),
	}
}

// Index returns the worker's 0-based comparison stream index.
func (w *Worker) Index() int { return w.index }

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the worker's terminal error, if any. Stable after Join.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Result returns the engine result for a completed worker. Stable after
// Join; nil for failed or never-started workers.
func (w *Worker) Result() *engine.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

// Aggregates returns the pooled score per metric for a completed worker,
// or nil while the stream is still being processed. Aggregation finalizes
// at stream end, never per frame.
func (w *Worker) Aggregates() map[string]float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.aggregates
}

// Start freezes the stream geometry and spawns the scoring goroutine.
// Invoked exactly once, lazily, when the stream's first frame arrives.
func (w *Worker) Start(geom frame.Geometry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}
	if err := geom.Validate(); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrBadConfiguration, err)
	}

	w.started = true
	w.geom = geom
	w.state = StateRunning

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"stream":   w.index,
		"geometry": geom.String(),
		"engine":   w.conf.EngineName,
	}).Info("Starting scoring worker")

	go w.run()
	return nil
}

// run is the worker loop: one synchronous engine run fed by the channel,
// then terminal-state recording and report emission.
func (w *Worker) run() {
	defer close(w.done)

	asset := engine.Asset{Geometry: w.geom, Model: w.conf.Model}
	result, err := w.eng.Run(asset, w.channel.Take, w.conf.RunOptions)

	// Whatever the outcome, the channel must end up closed so a producer
	// blocked in Submit observes ErrClosed instead of waiting forever.
	w.channel.Close()

	if err != nil {
		w.fail(err)
		return
	}
	w.complete(result)
}

// fail records a terminal error and emits the per-stream error line.
func (w *Worker) fail(err error) {
	w.mu.Lock()
	w.state = StateFailed
	w.err = err
	w.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "fail",
		"stream":   w.index,
		"code":     engine.CodeOf(err),
		"error":    err.Error(),
	}).Error("Scoring worker failed")

	w.conf.Emitter.FailureLine(w.index, engine.CodeOf(err))
}

// complete records the result, finalizes aggregates and emits the report.
// A run that ended before scoring any frame completes silently: there is
// nothing to pool and no report to write.
func (w *Worker) complete(result *engine.Result) {
	if result.NumFrames() == 0 {
		w.mu.Lock()
		w.state = StateCompleted
		w.result = result
		w.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "complete",
			"stream":   w.index,
		}).Debug("Worker finished without scoring any frame")
		return
	}

	params := report.Params{
		Model:        filepath.Base(w.conf.Model),
		ScaledWidth:  w.geom.Width,
		ScaledHeight: w.geom.Height,
		Subsample:    w.conf.RunOptions.Subsample,
	}
	rep, err := report.Build(result, w.conf.PoolMethod, params)
	if err != nil {
		w.fail(fmt.Errorf("%w: %v", engine.ErrEngineFailure, err))
		return
	}

	w.mu.Lock()
	w.state = StateCompleted
	w.result = result
	w.aggregates = rep.Aggregates
	w.mu.Unlock()

	w.conf.Emitter.Summarize(rep, w.conf.PoolMethod)

	if w.conf.ReportPath != "" {
		path := report.StreamPath(w.conf.ReportPath, w.index, w.conf.StreamTotal)
		if err := w.conf.Emitter.WriteFile(path, rep); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "complete",
				"stream":   w.index,
				"error":    err.Error(),
			}).Error("Failed to write structured report")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "complete",
		"stream":   w.index,
		"frames":   result.NumFrames(),
		"metrics":  result.Keys,
	}).Info("Scoring worker completed")
}

// Submit offers one frame pair to the worker, blocking until consumed.
// Returns ErrStreamFailed once the worker has terminated.
func (w *Worker) Submit(ref, dist *frame.Frame) error {
	if err := w.channel.Submit(ref, dist); err != nil {
		if cause := w.Err(); cause != nil {
			return fmt.Errorf("%w: stream %d: %v", ErrStreamFailed, w.index, cause)
		}
		return fmt.Errorf("%w: stream %d: %v", ErrStreamFailed, w.index, err)
	}
	return nil
}

// RequestStop closes the worker's channel so a blocked Take observes
// end-of-stream. Safe before Start, in which case the worker never runs.
// Idempotent.
func (w *Worker) RequestStop() {
	w.channel.Close()
}

// Join blocks until the worker goroutine has exited. Idempotent, and
// returns immediately for a worker that never started.
func (w *Worker) Join() {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return
	}
	<-w.done
}
