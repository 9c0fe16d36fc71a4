package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/vqa/engine"
)

func seriesResult(key string, values ...float64) *engine.Result {
	return &engine.Result{
		Keys:   []string{key},
		Scores: map[string][]float64{key: values},
	}
}

// TestBuildSubsampleIndexing verifies per-frame records carry the
// subsample-adjusted original frame indices: stride 3 over ten source
// frames scores frames 0, 3, 6 and 9.
func TestBuildSubsampleIndexing(t *testing.T) {
	res := seriesResult("vmaf", 90, 91, 92, 93)

	rep, err := Build(res, PoolMean, Params{Model: "default", Subsample: 3})
	require.NoError(t, err)
	require.Len(t, rep.Frames, 4)

	wantNums := []int{0, 3, 6, 9}
	for i, rec := range rep.Frames {
		assert.Equal(t, wantNums[i], rec.FrameNum, "record %d", i)
	}
}

// TestBuildEmptyResult verifies a result with no processed frames refuses
// to build a report.
func TestBuildEmptyResult(t *testing.T) {
	_, err := Build(seriesResult("vmaf"), PoolMean, Params{})
	if !errors.Is(err, ErrEmptySeries) {
		t.Errorf("Build on empty result = %v, want ErrEmptySeries", err)
	}
}

// TestBuildAggregates verifies each metric pools over exactly the frames
// it processed.
func TestBuildAggregates(t *testing.T) {
	res := &engine.Result{
		Keys: []string{"vmaf", "psnr"},
		Scores: map[string][]float64{
			"vmaf": {80, 90, 100},
			"psnr": {30, 40, 50},
		},
	}

	rep, err := Build(res, PoolMean, Params{Subsample: 1})
	require.NoError(t, err)
	assert.InDelta(t, 90.0, rep.Aggregates["vmaf"], 1e-9)
	assert.InDelta(t, 40.0, rep.Aggregates["psnr"], 1e-9)
}

// TestBuildBootstrapAccounting verifies bootstrap model keys are counted
// and joined into the parameters block.
func TestBuildBootstrapAccounting(t *testing.T) {
	res := &engine.Result{
		Keys: []string{"vmaf", "vmaf_b1", "vmaf_b2"},
		Scores: map[string][]float64{
			"vmaf":    {90},
			"vmaf_b1": {89},
			"vmaf_b2": {91},
		},
	}

	rep, err := Build(res, PoolMean, Params{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Params.NumBootstrapModels)
	assert.Equal(t, "vmaf_b1,vmaf_b2", rep.Params.BootstrapModelList)
}

// TestMarshalShape verifies the serialized report carries the original
// field names and omits aggregates for metrics that were never activated.
func TestMarshalShape(t *testing.T) {
	res := &engine.Result{
		Keys: []string{"vmaf", "psnr"},
		Scores: map[string][]float64{
			"vmaf": {95.5, 96.5},
			"psnr": {48, 50},
		},
	}
	rep, err := Build(res, PoolMean, Params{
		Model:        "vmaf_v0.6.1.pkl",
		ScaledWidth:  1920,
		ScaledHeight: 1080,
		Subsample:    1,
	})
	require.NoError(t, err)

	data, err := json.Marshal(rep)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	params, ok := decoded["params"].(map[string]interface{})
	require.True(t, ok, "params block missing")
	assert.Equal(t, "vmaf_v0.6.1.pkl", params["model"])
	assert.Equal(t, float64(1920), params["scaledWidth"])
	assert.Equal(t, float64(1080), params["scaledHeight"])
	assert.Equal(t, float64(1), params["subsample"])

	frames, ok := decoded["frames"].([]interface{})
	require.True(t, ok, "frames block missing")
	require.Len(t, frames, 2)
	first := frames[0].(map[string]interface{})
	assert.Equal(t, float64(0), first["frameNum"])

	assert.InDelta(t, 96.0, decoded["VMAF score"], 1e-9)
	assert.InDelta(t, 49.0, decoded["PSNR score"], 1e-9)

	// SSIM was never activated: no placeholder value may appear.
	_, present := decoded["SSIM score"]
	assert.False(t, present, "inactive metric must be omitted, not zeroed")
	_, present = decoded["MS-SSIM score"]
	assert.False(t, present)
}

// TestMarshalDeterministic verifies two serializations of one report are
// byte-identical.
func TestMarshalDeterministic(t *testing.T) {
	res := &engine.Result{
		Keys: []string{"vmaf", "psnr", "ssim"},
		Scores: map[string][]float64{
			"vmaf": {90, 91},
			"psnr": {40, 41},
			"ssim": {0.9, 0.91},
		},
	}
	rep, err := Build(res, PoolMin, Params{Model: "m"})
	require.NoError(t, err)

	a, err := json.Marshal(rep)
	require.NoError(t, err)
	b, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
}

// TestSummarizeFormat verifies console lines match the boundary format,
// one per activated metric, primary metric first.
func TestSummarizeFormat(t *testing.T) {
	res := &engine.Result{
		Keys: []string{"vmaf", "psnr"},
		Scores: map[string][]float64{
			"vmaf": {93.25},
			"psnr": {48.5},
		},
	}
	rep, err := Build(res, PoolHarmonicMean, Params{})
	require.NoError(t, err)

	var buf bytes.Buffer
	e := &Emitter{Console: &buf}
	e.Summarize(rep, PoolHarmonicMean)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "VMAF score (harmonic_mean) = 93.250000", lines[0])
	assert.Equal(t, "PSNR score (harmonic_mean) = 48.500000", lines[1])
}

// TestFailureLineFormat verifies the per-stream error line format.
func TestFailureLineFormat(t *testing.T) {
	var buf bytes.Buffer
	e := &Emitter{Console: &buf}
	e.FailureLine(2, -3)
	assert.Equal(t, "Error stream 2: -3\n", buf.String())
}

// TestStreamPath verifies per-stream report destinations.
func TestStreamPath(t *testing.T) {
	tests := []struct {
		path  string
		index int
		total int
		want  string
	}{
		{"out.json", 0, 1, "out.json"},
		{"out.json", 0, 3, "out_0.json"},
		{"out.json", 2, 3, "out_2.json"},
		{"/tmp/report", 1, 2, "/tmp/report_1"},
		{"", 1, 2, ""},
	}
	for _, test := range tests {
		got := StreamPath(test.path, test.index, test.total)
		if got != test.want {
			t.Errorf("StreamPath(%q, %d, %d) = %q, want %q",
				test.path, test.index, test.total, got, test.want)
		}
	}
}
