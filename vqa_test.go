package vqa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/vqa/engine"
	"github.com/opd-ai/vqa/frame"
	"github.com/opd-ai/vqa/handoff"
	"github.com/opd-ai/vqa/report"
	"github.com/opd-ai/vqa/worker"
)

var testGeom = frame.Geometry{Width: 32, Height: 32, Format: frame.FormatI420}

// fixedEngine scores every consumed frame with a constant value under the
// key "vmaf".
type fixedEngine struct {
	score float64
}

func (e *fixedEngine) Run(asset engine.Asset, pull engine.PullFunc, opts engine.RunOptions) (*engine.Result, error) {
	var scores []float64
	for {
		err := pull(func(_, _ *frame.Frame) {})
		if err != nil {
			if errors.Is(err, handoff.ErrEnded) {
				break
			}
			return nil, fmt.Errorf("%w: %v", engine.ErrEngineFailure, err)
		}
		scores = append(scores, e.score)
	}
	return &engine.Result{
		Keys:   []string{"vmaf"},
		Scores: map[string][]float64{"vmaf": scores},
	}, nil
}

// lockedBuffer is a console writer safe for concurrent emission.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// TestEndToEndPerfectMatch runs the full element over one comparison
// stream of five identical frames with mean pooling and no subsampling:
// the report must carry exactly five per-frame records and an aggregate
// equal to the per-frame score.
func TestEndToEndPerfectMatch(t *testing.T) {
	engine.Register("fixed-perfect", func() engine.Engine { return &fixedEngine{score: 1.0} })

	console := &lockedBuffer{}
	dir := t.TempDir()

	options := NewOptions()
	options.EngineName = "fixed-perfect"
	options.ModelPath = "models/fused.json"
	options.LogPath = filepath.Join(dir, "report.json")
	options.PoolMethod = report.PoolMean
	options.Subsample = 1
	options.ConsoleWriter = console

	element, err := New(options)
	require.NoError(t, err)

	require.NoError(t, element.Activate(2))

	ref, err := frame.New(testGeom)
	require.NoError(t, err)
	dist, err := frame.New(testGeom)
	require.NoError(t, err)

	var lastMsg CycleMessage
	element.OnCycleResult(func(msg CycleMessage) { lastMsg = msg })

	for i := 0; i < 5; i++ {
		out, err := element.AggregateFrames(time.Duration(i)*40*time.Millisecond, ref, []*frame.Frame{dist})
		require.NoError(t, err, "cycle %d", i)
		assert.Same(t, ref, out, "output must be the reference frame passed through")
	}

	// Mid-stream, no stream has finalized: cycle notifications carry no
	// aggregates yet.
	assert.Empty(t, lastMsg.Aggregates)
	assert.Equal(t, 4*40*time.Millisecond, lastMsg.Time)

	require.NoError(t, element.Deactivate())

	outcomes := element.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, worker.StateCompleted, outcomes[0].State)
	assert.NoError(t, outcomes[0].Err)
	assert.InDelta(t, 1.0, outcomes[0].Aggregates["vmaf"], 1e-9)

	assert.Contains(t, console.String(), "VMAF score (mean) = 1.000000")

	data, err := os.ReadFile(options.LogPath)
	require.NoError(t, err)

	var decoded struct {
		Params struct {
			Model     string `json:"model"`
			Subsample int    `json:"subsample"`
		} `json:"params"`
		Metrics []string `json:"metrics"`
		Frames  []struct {
			FrameNum int                `json:"frameNum"`
			Metrics  map[string]float64 `json:"metrics"`
		} `json:"frames"`
		VMAF float64 `json:"VMAF score"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "fused.json", decoded.Params.Model)
	assert.Equal(t, []string{"vmaf"}, decoded.Metrics)
	require.Len(t, decoded.Frames, 5)
	for i, rec := range decoded.Frames {
		assert.Equal(t, i, rec.FrameNum)
		assert.InDelta(t, 1.0, rec.Metrics["vmaf"], 1e-9)
	}
	assert.InDelta(t, 1.0, decoded.VMAF, 1e-9)
}

// TestElementNotActive verifies dispatch before activation is rejected.
func TestElementNotActive(t *testing.T) {
	engine.Register("fixed-idle", func() engine.Engine { return &fixedEngine{score: 1} })

	options := NewOptions()
	options.EngineName = "fixed-idle"
	element, err := New(options)
	require.NoError(t, err)

	ref, _ := frame.New(testGeom)
	_, err = element.AggregateFrames(0, ref, nil)
	assert.ErrorIs(t, err, ErrNotActive)

	// Deactivate on a never-activated element is a no-op.
	assert.NoError(t, element.Deactivate())
}

// TestElementUnknownEngine verifies engine resolution fails element
// creation, not the first frame.
func TestElementUnknownEngine(t *testing.T) {
	options := NewOptions()
	options.EngineName = "does-not-exist"
	_, err := New(options)
	assert.ErrorIs(t, err, engine.ErrUnknownEngine)
}

// TestOptionsValidate covers the configuration rejection cases.
func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"empty engine", func(o *Options) { o.EngineName = "" }},
		{"zero subsample", func(o *Options) { o.Subsample = 0 }},
		{"negative subsample", func(o *Options) { o.Subsample = -2 }},
		{"negative threads", func(o *Options) { o.Threads = -1 }},
		{"unknown log format", func(o *Options) { o.LogFormat = LogFormat(9) }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			options := NewOptions()
			test.mutate(options)
			err := options.Validate()
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}

	assert.NoError(t, NewOptions().Validate())
}

// TestDeactivateIdempotent verifies repeated deactivation is safe.
func TestDeactivateIdempotent(t *testing.T) {
	engine.Register("fixed-idem", func() engine.Engine { return &fixedEngine{score: 1} })

	options := NewOptions()
	options.EngineName = "fixed-idem"
	options.ConsoleWriter = &lockedBuffer{}
	element, err := New(options)
	require.NoError(t, err)

	require.NoError(t, element.Activate(3))
	require.NoError(t, element.Deactivate())
	require.NoError(t, element.Deactivate())
}
