// Package config defines the serializable configuration objects consumed by
// the optimizer and quantizer orchestrators.
//
// Configs are plain documents: one JSON file per config type inside a
// directory, written by Save and read back by the matching Load. A value
// survives a Save/Load round trip structurally unchanged.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// Document filenames inside a config directory. These are part of the
// on-disk contract and must never change.
const (
	ORTConfigName          = "ort_config.json"
	OptimizationConfigName = "optimization_config.json"
	QuantizationConfigName = "quantization_config.json"
)

// ErrNotFound is returned when a directory does not contain the expected
// config document.
var ErrNotFound = errors.New("config document not found")

// QuantFormat selects how quantized operators are represented in the graph.
type QuantFormat string

const (
	// QOperator replaces operators with dedicated quantized variants
	// (eg MatMul becomes MatMulInteger).
	QOperator QuantFormat = "QOperator"
	// QDQ keeps the float operators and brackets them with
	// QuantizeLinear/DequantizeLinear boundaries.
	QDQ QuantFormat = "QDQ"
)

// QuantizationMode selects the arithmetic used by quantized operators.
type QuantizationMode string

const (
	IntegerOps QuantizationMode = "IntegerOps"
	QLinearOps QuantizationMode = "QLinearOps"
)

// QuantType is the storage type for quantized tensors.
type QuantType string

const (
	QInt8  QuantType = "QInt8"
	QUInt8 QuantType = "QUInt8"
)

// OptimizationConfig drives the graph optimization pass selection.
// Values are immutable once constructed.
type OptimizationConfig struct {
	// OptimizationLevel selects the pass set: 0 disables all passes,
	// 1 enables basic fusions, 2 adds extended fusions, 99 enables all.
	OptimizationLevel int `json:"optimization_level"`
	// OnnxRuntimeOnly restricts optimization to what the runtime would do
	// on session load, leaving the serialized graph untouched offline.
	OnnxRuntimeOnly bool `json:"optimize_with_onnxruntime_only"`
}

// QuantizationConfig describes a full quantization recipe.
// Values are immutable once constructed.
type QuantizationConfig struct {
	IsStatic            bool             `json:"is_static"`
	Format              QuantFormat      `json:"format"`
	Mode                QuantizationMode `json:"mode"`
	ActivationsDType    QuantType        `json:"activations_dtype"`
	WeightsDType        QuantType        `json:"weights_dtype"`
	PerChannel          bool             `json:"per_channel"`
	ReduceRange         bool             `json:"reduce_range"`
	OperatorsToQuantize []string         `json:"operators_to_quantize"`
}

// ORTConfig aggregates everything needed to reproduce an export:
// the opset plus the optional optimization and quantization recipes.
type ORTConfig struct {
	Opset        int64               `json:"opset"`
	Quantization *QuantizationConfig `json:"quantization,omitempty"`
	Optimization *OptimizationConfig `json:"optimization,omitempty"`
}

// CalibrationConfig describes a calibration method and the dataset it was
// derived from. It is produced by the calibrate package factories and only
// consumed by the quantizer's Fit step.
type CalibrationConfig struct {
	Method        string  `json:"method"`
	DatasetName   string  `json:"dataset_name"`
	DatasetConfig string  `json:"dataset_config_name"`
	DatasetSplit  string  `json:"dataset_split"`
	NumSamples    int     `json:"num_samples"`
	Percentile    float64 `json:"percentile,omitempty"`
}

func (c *OptimizationConfig) Save(dir string) error {
	return saveDocument(dir, OptimizationConfigName, c)
}

func LoadOptimizationConfig(dir string) (*OptimizationConfig, error) {
	c := &OptimizationConfig{}
	if err := loadDocument(dir, OptimizationConfigName, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *QuantizationConfig) Save(dir string) error {
	return saveDocument(dir, QuantizationConfigName, c)
}

func LoadQuantizationConfig(dir string) (*QuantizationConfig, error) {
	c := &QuantizationConfig{}
	if err := loadDocument(dir, QuantizationConfigName, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ORTConfig) Save(dir string) error {
	return saveDocument(dir, ORTConfigName, c)
}

func LoadORTConfig(dir string) (*ORTConfig, error) {
	c := &ORTConfig{}
	if err := loadDocument(dir, ORTConfigName, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ToDict returns the config as its canonical serialized document.
// Two configs are equal exactly when their ToDict outputs match.
func (c *ORTConfig) ToDict() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

func saveDocument(dir, name string, v any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), append(data, '\n'), 0o644)
}

func loadDocument(dir, name string, v any) error {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s in %s: %w", name, dir, ErrNotFound)
		}
		return err
	}
	return json.Unmarshal(data, v)
}
