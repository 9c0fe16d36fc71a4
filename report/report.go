// Package report converts a completed stream's score series into its two
// user-visible forms: the console summary lines and the structured JSON
// report file. It also owns pooling, the reduction of a per-frame series
// to one aggregate value.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/opd-ai/vqa/engine"
)

// bootstrapModelPrefix marks result keys that belong to bootstrap
// (confidence interval) auxiliary models rather than primary metrics.
const bootstrapModelPrefix = "vmaf_"

// Params is the parameters block of a report: the model identity, the
// geometry the stream was scored at, and the subsampling configuration.
type Params struct {
	Model              string `json:"model"`
	ScaledWidth        int    `json:"scaledWidth"`
	ScaledHeight       int    `json:"scaledHeight"`
	Subsample          int    `json:"subsample"`
	NumBootstrapModels int    `json:"num_bootstrap_models"`
	BootstrapModelList string `json:"bootstrap_model_list_str"`
}

// FrameRecord is one per-frame entry. FrameNum is the subsample-adjusted
// original frame index; Metrics maps each activated metric to its score
// for that frame.
type FrameRecord struct {
	FrameNum int                `json:"frameNum"`
	Metrics  map[string]float64 `json:"metrics"`
}

// Report is a completed stream's full structured record.
type Report struct {
	Params  Params
	Metrics []string
	Frames  []FrameRecord
	// Aggregates holds the pooled value per metric key, in Metrics order.
	Aggregates map[string]float64
}

// Build derives a Report from an engine result. The per-frame records use
// subsample-adjusted frame numbers (record i maps to original frame
// i*subsample); aggregates are pooled per metric over the processed frames
// only. Fails on an empty result rather than reporting zeros.
func Build(res *engine.Result, method PoolMethod, params Params) (*Report, error) {
	n := res.NumFrames()
	if n == 0 {
		return nil, fmt.Errorf("building report: %w", ErrEmptySeries)
	}
	if params.Subsample < 1 {
		params.Subsample = 1
	}

	params.NumBootstrapModels, params.BootstrapModelList = bootstrapModels(res.Keys)

	frames := make([]FrameRecord, n)
	for i := 0; i < n; i++ {
		metrics := make(map[string]float64, len(res.Keys))
		for _, key := range res.Keys {
			metrics[key] = res.Scores[key][i]
		}
		frames[i] = FrameRecord{
			FrameNum: i * params.Subsample,
			Metrics:  metrics,
		}
	}

	aggregates := make(map[string]float64, len(res.Keys))
	for _, key := range res.Keys {
		agg, err := Aggregate(res.Scores[key], method)
		if err != nil {
			return nil, fmt.Errorf("aggregating %q: %w", key, err)
		}
		aggregates[key] = agg
	}

	return &Report{
		Params:     params,
		Metrics:    append([]string(nil), res.Keys...),
		Frames:     frames,
		Aggregates: aggregates,
	}, nil
}

// bootstrapModels counts bootstrap model keys and joins them into the
// comma-separated list recorded in the parameters block.
func bootstrapModels(keys []string) (int, string) {
	var models []string
	for _, key := range keys {
		if strings.Contains(key, bootstrapModelPrefix) {
			models = append(models, key)
		}
	}
	return len(models), strings.Join(models, ",")
}

// AggregateLabel returns the report field name for a metric's aggregate
// score, preserving the original element's labels for the known metrics.
func AggregateLabel(key string) string {
	switch key {
	case "vmaf":
		return "VMAF score"
	case "psnr":
		return "PSNR score"
	case "ssim":
		return "SSIM score"
	case "ms_ssim":
		return "MS-SSIM score"
	default:
		return strings.ToUpper(key) + " score"
	}
}

// MarshalJSON serializes the report deterministically: parameters, metric
// list, per-frame records, then one aggregate field per activated metric
// in metric order. Metrics that were never activated are absent rather
// than emitted as zero placeholders, so a missing score cannot be mistaken
// for a real one.
func (r *Report) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	params, err := json.Marshal(r.Params)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`"params":`)
	buf.Write(params)

	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`,"metrics":`)
	buf.Write(metrics)

	frames, err := json.Marshal(r.Frames)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`,"frames":`)
	buf.Write(frames)

	for _, key := range r.Metrics {
		agg, ok := r.Aggregates[key]
		if !ok {
			continue
		}
		label, err := json.Marshal(AggregateLabel(key))
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(agg)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(label)
		buf.WriteByte(':')
		buf.Write(value)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// StreamPath derives the report destination for one comparison stream.
// With a single stream the configured path is used verbatim; with several,
// each stream's index is appended before the extension so streams do not
// overwrite each other.
func StreamPath(path string, streamIndex, streamTotal int) string {
	if path == "" || streamTotal <= 1 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(path, ext), streamIndex, ext)
}
