// Package quantizer lowers exported graphs to reduced-precision arithmetic.
//
// Dynamic quantization rewrites weight matrix multiplies into integer
// operators that quantize activations on the fly. Static quantization
// inserts quantize/dequantize pairs parameterised by calibration ranges
// collected beforehand with Fit.
package quantizer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/carzh/optimum/internal/calibrate"
	"github.com/carzh/optimum/internal/config"
	"github.com/carzh/optimum/internal/dataset"
	"github.com/carzh/optimum/internal/exporter"
	"github.com/carzh/optimum/internal/hub"
	"github.com/carzh/optimum/internal/onnx"
	"github.com/carzh/optimum/internal/session"
	"github.com/carzh/optimum/internal/tokenizer"
)

// ErrMissingCalibration is returned when static quantization is requested
// without calibration ranges.
var ErrMissingCalibration = errors.New("quantizer: static quantization requires calibration ranges")

// Quantizer drives quantization for one pretrained model.
//
// Progress, when set, is called after each calibration sample during Fit.
type Quantizer struct {
	Model     *hub.Model
	Tokenizer *tokenizer.Tokenizer
	Progress  func(done, total int)
}

// FromPretrained resolves a model identifier and returns a quantizer
// bound to it.
func FromPretrained(name string, task hub.Task) (*Quantizer, error) {
	p, err := hub.FromPretrained(name, task)
	if err != nil {
		return nil, err
	}
	return &Quantizer{Model: p.Model, Tokenizer: p.Tokenizer}, nil
}

// CalibrationDataset loads a dataset, samples numSamples examples from it
// and applies the optional preprocessing function.
func (q *Quantizer) CalibrationDataset(name, configName string, preprocess func(dataset.Example) dataset.Example, numSamples int, split string) (*dataset.Dataset, error) {
	ds, err := dataset.Load(name, configName, split)
	if err != nil {
		return nil, err
	}
	ds = ds.Sample(numSamples)
	if preprocess != nil {
		ds = ds.Map(preprocess)
	}
	return ds, nil
}

// Fit runs the model at modelPath over the calibration dataset and returns
// the activation ranges condensed by the configured calibration method.
func (q *Quantizer) Fit(ds *dataset.Dataset, calCfg *config.CalibrationConfig, modelPath string) (map[string]calibrate.Range, error) {
	cal, err := calibrate.New(calCfg)
	if err != nil {
		return nil, err
	}
	s, err := session.Open(modelPath)
	if err != nil {
		return nil, err
	}
	total := ds.Len()
	for i, ex := range ds.Examples {
		text, _ := ex["sentence"].(string)
		enc := q.Tokenizer.Encode(text, tokenizer.EncodeOptions{MaxLength: q.Model.Arch.SeqLen})
		all, err := s.RunAll(map[string]*session.Tensor{
			"input_ids":      session.NewInt64([]int{len(enc.InputIDs)}, enc.InputIDs),
			"attention_mask": session.NewInt64([]int{len(enc.AttentionMask)}, enc.AttentionMask),
		})
		if err != nil {
			return nil, fmt.Errorf("calibration sample %d: %w", i, err)
		}
		for name, t := range all {
			if !t.IsInt() {
				cal.Observe(name, t.F)
			}
		}
		if q.Progress != nil {
			q.Progress(i+1, total)
		}
	}
	return cal.Ranges(), nil
}

// Export quantizes the graph at modelPath and writes the result to
// quantizedPath. When modelPath does not exist yet the base model is
// exported there first. Static configs require calibration ranges.
func (q *Quantizer) Export(modelPath, quantizedPath string, ranges map[string]calibrate.Range, cfg *config.QuantizationConfig) error {
	if cfg.IsStatic && ranges == nil {
		return ErrMissingCalibration
	}
	if _, err := os.Stat(modelPath); errors.Is(err, fs.ErrNotExist) {
		if err := exporter.Export(q.Model, modelPath); err != nil {
			return err
		}
	}
	m, err := onnx.Load(modelPath)
	if err != nil {
		return err
	}
	if cfg.IsStatic {
		err = quantizeStatic(m.Graph, ranges, cfg)
	} else {
		err = quantizeDynamic(m.Graph, cfg)
	}
	if err != nil {
		return err
	}
	return onnx.Save(m, quantizedPath)
}
