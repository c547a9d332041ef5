// Package calibrate collects activation ranges for static quantization.
//
// A Calibrator observes intermediate tensor values over calibration runs
// and condenses them into per-tensor float ranges that the quantizer turns
// into scale and zero-point parameters.
package calibrate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/carzh/optimum/internal/config"
	"github.com/carzh/optimum/internal/dataset"
)

// ErrUnknownMethod is returned for calibration methods the toolkit does
// not implement.
var ErrUnknownMethod = errors.New("calibrate: unknown calibration method")

const (
	MethodMinMax     = "minmax"
	MethodPercentile = "percentile"
)

// Range is the observed float span of one tensor.
type Range struct {
	Min float32 `json:"min"`
	Max float32 `json:"max"`
}

// Calibrator accumulates activation observations into ranges.
type Calibrator interface {
	Method() string
	// Observe records one batch of values for the named tensor.
	Observe(name string, values []float32)
	// Ranges condenses everything observed so far.
	Ranges() map[string]Range
}

// MinMax builds a min-max calibration config over the given dataset.
func MinMax(ds *dataset.Dataset) *config.CalibrationConfig {
	return &config.CalibrationConfig{
		Method:        MethodMinMax,
		DatasetName:   ds.Name,
		DatasetConfig: ds.ConfigName,
		DatasetSplit:  ds.Split,
		NumSamples:    ds.Len(),
	}
}

// Percentile builds a percentile calibration config over the given dataset.
func Percentile(ds *dataset.Dataset, percentile float64) *config.CalibrationConfig {
	cfg := MinMax(ds)
	cfg.Method = MethodPercentile
	cfg.Percentile = percentile
	return cfg
}

// New returns the calibrator for a config.
func New(cfg *config.CalibrationConfig) (Calibrator, error) {
	switch cfg.Method {
	case MethodMinMax:
		return &minMaxCalibrator{ranges: make(map[string]Range)}, nil
	case MethodPercentile:
		return &percentileCalibrator{percentile: cfg.Percentile, seen: make(map[string][]float32)}, nil
	default:
		return nil, fmt.Errorf("%q: %w", cfg.Method, ErrUnknownMethod)
	}
}

type minMaxCalibrator struct {
	ranges map[string]Range
}

func (c *minMaxCalibrator) Method() string { return MethodMinMax }

func (c *minMaxCalibrator) Observe(name string, values []float32) {
	if len(values) == 0 {
		return
	}
	r, seen := c.ranges[name]
	if !seen {
		r = Range{Min: values[0], Max: values[0]}
	}
	for _, v := range values {
		if v < r.Min {
			r.Min = v
		}
		if v > r.Max {
			r.Max = v
		}
	}
	c.ranges[name] = r
}

func (c *minMaxCalibrator) Ranges() map[string]Range {
	out := make(map[string]Range, len(c.ranges))
	for name, r := range c.ranges {
		out[name] = r
	}
	return out
}

// percentileCalibrator keeps every observation and clips the range to the
// symmetric percentile at condensation time. Observed tensors are small
// here, so the buffers stay manageable.
type percentileCalibrator struct {
	percentile float64
	seen       map[string][]float32
}

func (c *percentileCalibrator) Method() string { return MethodPercentile }

func (c *percentileCalibrator) Observe(name string, values []float32) {
	c.seen[name] = append(c.seen[name], values...)
}

func (c *percentileCalibrator) Ranges() map[string]Range {
	out := make(map[string]Range, len(c.seen))
	for name, values := range c.seen {
		if len(values) == 0 {
			continue
		}
		sorted := make([]float32, len(values))
		copy(sorted, values)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		tail := (100 - c.percentile) / 200
		lo := int(float64(len(sorted)-1) * tail)
		hi := int(float64(len(sorted)-1) * (1 - tail))
		out[name] = Range{Min: sorted[lo], Max: sorted[hi]}
	}
	return out
}
