package worker

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vqa/engine"
	"github.com/opd-ai/vqa/frame"
)

// Outcome is one worker's terminal record, captured at deactivation.
type Outcome struct {
	Index      int
	State      State
	Err        error
	Aggregates map[string]float64
}

// Pool owns the ordered collection of workers, one per comparison stream.
// It is the sole producer-side writer of worker lifecycles: activation
// sizes the pool, dispatch lazily starts workers and hands off frames, and
// deactivation tears every worker down deterministically.
type Pool struct {
	conf Config

	mu       sync.Mutex
	workers  []*Worker
	active   bool
	outcomes []Outcome
}

// NewPool returns an inactive pool carrying the shared worker settings.
func NewPool(conf Config) *Pool {
	return &Pool{conf: conf}
}

// Activate allocates streamCount-1 workers, one per comparison stream.
// Engine resolution happens here so a missing engine surfaces as a startup
// failure of the whole element rather than as N identical stream failures.
func (p *Pool) Activate(streamCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		return ErrPoolActive
	}
	if streamCount < 2 {
		return fmt.Errorf("%w: got %d", ErrTooFewStreams, streamCount)
	}

	conf := p.conf
	conf.StreamTotal = streamCount - 1

	workers := make([]*Worker, streamCount-1)
	for i := range workers {
		eng, err := engine.Open(conf.EngineName)
		if err != nil {
			return fmt.Errorf("activating pool: %w", err)
		}
		workers[i] = newWorker(i, eng, conf)
	}

	p.workers = workers
	p.active = true
	p.outcomes = nil

	logrus.WithFields(logrus.Fields{
		"function": "Activate",
		"streams":  streamCount,
		"workers":  len(workers),
		"engine":   conf.EngineName,
	}).Info("Worker pool activated")
	return nil
}

// worker returns the addressed worker under the pool lock.
func (p *Pool) worker(streamIndex int) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return nil, ErrPoolInactive
	}
	if streamIndex < 0 || streamIndex >= len(p.workers) {
		return nil, fmt.Errorf("%w: no worker for stream %d", ErrStreamFailed, streamIndex)
	}
	return p.workers[streamIndex], nil
}

// Dispatch hands one frame pair to the addressed worker's channel,
// starting the worker on its first frame. Blocks until the worker has
// consumed the pair. A comparison frame whose geometry disagrees with the
// reference fails the stream as a configuration error.
func (p *Pool) Dispatch(streamIndex int, ref, dist *frame.Frame) error {
	w, err := p.worker(streamIndex)
	if err != nil {
		return err
	}

	if w.State() == StatePending {
		if !ref.Geom.Equal(dist.Geom) {
			err := fmt.Errorf("%w: %w: stream %d is %s, reference is %s",
				engine.ErrBadConfiguration, ErrGeometryMismatch,
				streamIndex, dist.Geom, ref.Geom)
			w.channel.Close()
			w.fail(err)
			return fmt.Errorf("%w: stream %d: %v", ErrStreamFailed, streamIndex, err)
		}
		if err := w.Start(dist.Geom); err != nil {
			return fmt.Errorf("%w: stream %d: %v", ErrStreamFailed, streamIndex, err)
		}
	}

	return w.Submit(ref, dist)
}

// DispatchCycle fans one output cycle out to every stream before blocking
// on any acknowledgment, so a slow stream delays only the cycle, not the
// dispatch to its peers. All streams are attempted even after a failure;
// the cycle fails if any stream failed, with the per-stream causes
// aggregated.
func (p *Pool) DispatchCycle(ref *frame.Frame, dists []*frame.Frame) error {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return ErrPoolInactive
	}
	n := len(p.workers)
	p.mu.Unlock()

	if len(dists) != n {
		return fmt.Errorf("%w: cycle carries %d comparison frames for %d workers",
			ErrStreamFailed, len(dists), n)
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.Dispatch(i, ref, dists[i])
		}(i)
	}
	wg.Wait()

	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// Deactivate stops and joins every worker, in any order, then releases
// them. Safe when workers have errored or never started; bounded-time by
// construction, because closing a channel unblocks any Take and the
// engine's pull loop then observes end-of-stream and returns. Worker
// terminal errors are aggregated into the return value.
func (p *Pool) Deactivate() error {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return nil
	}
	workers := p.workers
	p.workers = nil
	p.active = false
	p.mu.Unlock()

	for _, w := range workers {
		w.RequestStop()
	}

	var merr *multierror.Error
	failed := 0
	outcomes := make([]Outcome, len(workers))
	for _, w := range workers {
		w.Join()
		outcomes[w.Index()] = Outcome{
			Index:      w.Index(),
			State:      w.State(),
			Err:        w.Err(),
			Aggregates: w.Aggregates(),
		}
		if err := w.Err(); err != nil {
			failed++
			merr = multierror.Append(merr, fmt.Errorf("stream %d: %w", w.Index(), err))
		}
	}

	p.mu.Lock()
	p.outcomes = outcomes
	p.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Deactivate",
		"workers":  len(workers),
		"failed":   failed,
	}).Info("Worker pool deactivated")

	return merr.ErrorOrNil()
}

// Outcomes returns the per-worker terminal records captured by the last
// Deactivate.
func (p *Pool) Outcomes() []Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Outcome(nil), p.outcomes...)
}

// Aggregates returns, per stream index, the finalized pooled scores of
// streams that have completed so far. Streams still processing or failed
// are absent; aggregation finalizes only at stream end.
func (p *Pool) Aggregates() map[int]map[string]float64 {
	p.mu.Lock()
	workers := p.workers
	p.mu.Unlock()

	finalized := make(map[int]map[string]float64)
	for _, w := range workers {
		if agg := w.Aggregates(); agg != nil {
			finalized[w.Index()] = agg
		}
	}
	return finalized
}
