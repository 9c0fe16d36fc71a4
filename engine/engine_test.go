package engine

import (
	"errors"
	"fmt"
	"testing"
)

type nopEngine struct{}

func (nopEngine) Run(Asset, PullFunc, RunOptions) (*Result, error) { return &Result{}, nil }

// TestRegistry verifies registration, lookup and the unknown-engine error.
func TestRegistry(t *testing.T) {
	Register("nop-test", func() Engine { return nopEngine{} })

	eng, err := Open("nop-test")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if eng == nil {
		t.Fatal("Open returned nil engine")
	}

	_, err = Open("never-registered")
	if !errors.Is(err, ErrUnknownEngine) {
		t.Errorf("Open(unknown) = %v, want ErrUnknownEngine", err)
	}
}

// TestCodeOf verifies the console boundary code mapping.
func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrEngineFailure, CodeEngineFailure},
		{fmt.Errorf("wrapped: %w", ErrEngineFailure), CodeEngineFailure},
		{ErrBadConfiguration, CodeBadConfiguration},
		{fmt.Errorf("model: %w", ErrBadConfiguration), CodeBadConfiguration},
		{errors.New("anything else"), CodeUnknown},
	}

	for _, test := range tests {
		if got := CodeOf(test.err); got != test.want {
			t.Errorf("CodeOf(%v) = %d, want %d", test.err, got, test.want)
		}
	}
}

// TestResultNumFrames verifies frame counting follows the primary key.
func TestResultNumFrames(t *testing.T) {
	empty := &Result{}
	if got := empty.NumFrames(); got != 0 {
		t.Errorf("empty result NumFrames = %d, want 0", got)
	}

	res := &Result{
		Keys:   []string{"vmaf"},
		Scores: map[string][]float64{"vmaf": {1, 2, 3}},
	}
	if got := res.NumFrames(); got != 3 {
		t.Errorf("NumFrames = %d, want 3", got)
	}
}
