package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Emitter writes a completed stream's results to their destinations: the
// console summary always, the structured JSON file when a path is
// configured.
type Emitter struct {
	// Console receives the summary lines. Defaults to os.Stdout; its
	// line format is a compatibility contract with downstream tooling.
	Console io.Writer
}

// NewEmitter returns an emitter summarizing to stdout.
func NewEmitter() *Emitter {
	return &Emitter{Console: os.Stdout}
}

// console returns the configured writer, falling back to stdout.
func (e *Emitter) console() io.Writer {
	if e.Console != nil {
		return e.Console
	}
	return os.Stdout
}

// Summarize prints one aggregate line per metric, primary metric first:
//
//	VMAF score (mean) = 93.214511
//
// Bootstrap model keys summarize as numbered model lines after the primary
// metric, matching the original element's console protocol.
func (e *Emitter) Summarize(r *Report, method PoolMethod) {
	w := e.console()
	modelNum := 0
	for _, key := range r.Metrics {
		agg, ok := r.Aggregates[key]
		if !ok {
			continue
		}
		if strings.Contains(key, bootstrapModelPrefix) {
			modelNum++
			fmt.Fprintf(w, "%s (%s), model %d = %f\n",
				AggregateLabel(r.Metrics[0]), method, modelNum, agg)
			continue
		}
		fmt.Fprintf(w, "%s (%s) = %f\n", AggregateLabel(key), method, agg)
	}
}

// FailureLine prints the single per-stream error line:
//
//	Error stream 2: -3
//
// The numeric code is the boundary protocol; the structured log carries
// the typed error.
func (e *Emitter) FailureLine(streamIndex, code int) {
	fmt.Fprintf(e.console(), "Error stream %d: %d\n", streamIndex, code)
}

// WriteFile serializes the report to path. The file is written in one
// pass; a report is never partially flushed for a stream that failed,
// because failed streams never reach emission.
func (e *Emitter) WriteFile(path string, r *Report) error {
	data, err := r.MarshalJSON()
	if err != nil {
		return fmt.Errorf("serializing report: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "WriteFile",
		"path":     path,
		"frames":   len(r.Frames),
		"metrics":  r.Metrics,
	}).Info("Structured report written")
	return nil
}
