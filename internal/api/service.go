package api

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/carzh/optimum/internal/calibrate"
	"github.com/carzh/optimum/internal/config"
	"github.com/carzh/optimum/internal/exporter"
	"github.com/carzh/optimum/internal/hub"
	"github.com/carzh/optimum/internal/onnx"
	"github.com/carzh/optimum/internal/optimizer"
	"github.com/carzh/optimum/internal/quantizer"
)

const defaultCalibrationSamples = 40

// ToolchainService executes optimization and quantization jobs against
// scratch directories and reports graph-level metrics.
type ToolchainService struct{}

func NewToolchainService() *ToolchainService {
	return &ToolchainService{}
}

// Models returns the catalog entries served by the models endpoint.
func (s *ToolchainService) Models() []ModelInfo {
	names := hub.List()
	infos := make([]ModelInfo, 0, len(names))
	for _, name := range names {
		p, err := hub.FromPretrained(name, hub.TaskSequenceClassification)
		if err != nil {
			continue
		}
		arch := p.Model.Arch
		infos = append(infos, ModelInfo{
			ID:            name,
			Object:        "model",
			EncoderLayers: arch.EncoderLayers,
			DecoderLayers: arch.DecoderLayers,
			HiddenSize:    arch.HiddenSize,
			VocabSize:     arch.VocabSize,
			SeqLen:        arch.SeqLen,
		})
	}
	return infos
}

// Graph exports the named model into a scratch directory and summarizes
// the resulting graph.
func (s *ToolchainService) Graph(name string) (*GraphReport, error) {
	p, err := hub.FromPretrained(name, hub.TaskSequenceClassification)
	if err != nil {
		return nil, err
	}
	m, err := exporter.Build(p.Model)
	if err != nil {
		return nil, err
	}
	return &GraphReport{
		Model:          name,
		Opset:          m.Opset(),
		NodeCount:      len(m.Graph.Nodes),
		InitializerNum: len(m.Graph.Initializers),
		Operators:      m.Graph.OperatorCounts(),
	}, nil
}

// Run executes a job synchronously and returns its metrics.
func (s *ToolchainService) Run(req *JobRequest) (*JobMetrics, error) {
	dir, err := os.MkdirTemp("", "optimum-job-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	switch req.Kind {
	case "optimize":
		return s.runOptimize(dir, req)
	case "quantize":
		return s.runQuantize(dir, req)
	default:
		return nil, newInvalidRequest(fmt.Sprintf("unknown job kind %q", req.Kind))
	}
}

func (s *ToolchainService) runOptimize(dir string, req *JobRequest) (*JobMetrics, error) {
	o, err := optimizer.FromPretrained(req.Model, hub.TaskSequenceClassification)
	if err != nil {
		return nil, err
	}
	modelPath := filepath.Join(dir, "model.onnx")
	optimizedPath := filepath.Join(dir, "model_optimized.onnx")
	cfg := &config.OptimizationConfig{
		OptimizationLevel: req.OptimizationLevel,
		OnnxRuntimeOnly:   req.OnnxRuntimeOnly,
	}
	if err := o.Export(modelPath, optimizedPath, cfg); err != nil {
		return nil, err
	}

	removed, err := optimizer.NodesNumberDifference(modelPath, optimizedPath)
	if err != nil {
		return nil, err
	}
	fused, err := optimizer.FusedOperators(optimizedPath)
	if err != nil {
		return nil, err
	}
	changed, err := optimizer.OperatorsDifference(modelPath, optimizedPath)
	if err != nil {
		return nil, err
	}
	return &JobMetrics{
		NodesRemoved:     removed,
		FusedOperators:   fused,
		OperatorsChanged: changed,
	}, nil
}

func (s *ToolchainService) runQuantize(dir string, req *JobRequest) (*JobMetrics, error) {
	q, err := quantizer.FromPretrained(req.Model, hub.TaskSequenceClassification)
	if err != nil {
		return nil, err
	}
	modelPath := filepath.Join(dir, "model.onnx")
	quantizedPath := filepath.Join(dir, "model_quantized.onnx")
	cfg := config.AVX512(req.IsStatic, req.PerChannel, false)

	metrics := &JobMetrics{}
	var ranges map[string]calibrate.Range
	if req.IsStatic {
		samples := req.NumSamples
		if samples <= 0 {
			samples = defaultCalibrationSamples
		}
		ds, err := q.CalibrationDataset("glue", "sst2", nil, samples, "train")
		if err != nil {
			return nil, err
		}
		if err := exporter.Export(q.Model, modelPath); err != nil {
			return nil, err
		}
		ranges, err = q.Fit(ds, calibrate.MinMax(ds), modelPath)
		if err != nil {
			return nil, err
		}
		metrics.CalibrationSamples = ds.Len()
		metrics.CalibrationTensors = len(ranges)
	}

	if err := q.Export(modelPath, quantizedPath, ranges, cfg); err != nil {
		return nil, err
	}
	m, err := onnx.Load(quantizedPath)
	if err != nil {
		return nil, err
	}
	for name := range m.Graph.InitializerNames() {
		if strings.Contains(name, "MatMul") && strings.Contains(name, "quantized") {
			metrics.QuantizedMatMulNum++
		}
	}
	return metrics, nil
}
