package report

import (
	"errors"
	"fmt"
)

// ErrEmptySeries indicates an aggregation over zero frames. An empty
// series has no defined aggregate and must never silently pool to zero.
var ErrEmptySeries = errors.New("cannot aggregate empty score series")

// ErrUnknownPoolMethod indicates a pooling method name that is not one of
// min, mean or harmonic_mean.
var ErrUnknownPoolMethod = errors.New("unknown pool method")

// harmonicEpsilon guards the harmonic mean against division faults. Any
// score at or below it pools to zero.
const harmonicEpsilon = 1e-10

// PoolMethod selects how a per-frame score series reduces to one
// aggregate value.
type PoolMethod uint8

const (
	// PoolMin aggregates to the minimum per-frame score.
	PoolMin PoolMethod = iota
	// PoolMean aggregates to the arithmetic mean.
	PoolMean
	// PoolHarmonicMean aggregates to the harmonic mean.
	PoolHarmonicMean
)

// String returns the canonical label used in console summaries and
// configuration.
func (m PoolMethod) String() string {
	switch m {
	case PoolMin:
		return "min"
	case PoolMean:
		return "mean"
	case PoolHarmonicMean:
		return "harmonic_mean"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// ParsePoolMethod maps a configuration label to its PoolMethod.
func ParsePoolMethod(s string) (PoolMethod, error) {
	switch s {
	case "min":
		return PoolMin, nil
	case "mean":
		return PoolMean, nil
	case "harmonic_mean":
		return PoolHarmonicMean, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPoolMethod, s)
	}
}

// Aggregate pools a per-frame score series into one value. The series must
// be non-empty; aggregates are computed only over frames actually
// processed, so a subsampled run pools its subsampled series.
func Aggregate(values []float64, method PoolMethod) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptySeries
	}
	switch method {
	case PoolMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min, nil
	case PoolMean:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), nil
	case PoolHarmonicMean:
		var sum float64
		for _, v := range values {
			if v <= harmonicEpsilon {
				// A zero score dominates the harmonic mean; define the
				// aggregate as zero instead of dividing by it.
				return 0, nil
			}
			sum += 1 / v
		}
		return float64(len(values)) / sum, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownPoolMethod, int(method))
	}
}
