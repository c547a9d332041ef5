package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/carzh/optimum/internal/calibrate"
	"github.com/carzh/optimum/internal/config"
	"github.com/carzh/optimum/internal/exporter"
	"github.com/carzh/optimum/internal/hub"
	"github.com/carzh/optimum/internal/logger"
	"github.com/carzh/optimum/internal/onnx"
	"github.com/carzh/optimum/internal/quantizer"
)

func quantizeCmd() *cli.Command {
	var (
		model       string
		output      string
		isa         string
		static      bool
		perChannel  bool
		reduceRange bool
		numSamples  int64
		percentile  float64
	)

	return &cli.Command{
		Name:  "quantize",
		Usage: "Quantize a model, calibrating activations when static",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "model identifier",
				Required:    true,
				Destination: &model,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "output directory",
				Value:       ".",
				Destination: &output,
			},
			&cli.StringFlag{
				Name:        "isa",
				Usage:       "target instruction set (arm64, avx2, avx512, avx512vnni)",
				Value:       "avx512",
				Destination: &isa,
			},
			&cli.BoolFlag{
				Name:        "static",
				Usage:       "static quantization with calibration",
				Destination: &static,
			},
			&cli.BoolFlag{
				Name:        "per-channel",
				Usage:       "per-channel weight quantization",
				Destination: &perChannel,
			},
			&cli.BoolFlag{
				Name:        "reduce-range",
				Usage:       "use 7-bit quantization range",
				Destination: &reduceRange,
			},
			&cli.Int64Flag{
				Name:        "num-samples",
				Usage:       "number of calibration samples",
				Value:       40,
				Destination: &numSamples,
			},
			&cli.Float64Flag{
				Name:        "percentile",
				Usage:       "percentile calibration (0 = min-max)",
				Destination: &percentile,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyQuantizeConfig(cmd, LoadConfig(), &output, &isa, &numSamples)

			qcfg, err := isaPreset(isa, static, perChannel, reduceRange)
			if err != nil {
				return err
			}
			q, err := quantizer.FromPretrained(model, hub.TaskSequenceClassification)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(output, 0o755); err != nil {
				return err
			}
			modelPath := filepath.Join(output, "model.onnx")
			quantizedPath := filepath.Join(output, "model_quantized.onnx")

			var ranges map[string]calibrate.Range
			if static {
				if err := exporter.Export(q.Model, modelPath); err != nil {
					return err
				}
				ds, err := q.CalibrationDataset("glue", "sst2", nil, int(numSamples), "train")
				if err != nil {
					return err
				}
				calCfg := calibrate.MinMax(ds)
				if percentile > 0 {
					calCfg = calibrate.Percentile(ds, percentile)
				}

				bar := progressbar.NewOptions(ds.Len(),
					progressbar.OptionSetDescription("calibrating"),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("samples"),
					progressbar.OptionSetTheme(progressbar.ThemeASCII),
					progressbar.OptionSetWriter(os.Stderr),
				)
				q.Progress = func(done, total int) {
					_ = bar.Set(done)
				}
				ranges, err = q.Fit(ds, calCfg, modelPath)
				if err != nil {
					return err
				}
				_ = bar.Finish()
			}

			if err := q.Export(modelPath, quantizedPath, ranges, qcfg); err != nil {
				return err
			}
			ortCfg := &config.ORTConfig{Opset: onnx.DefaultOpset, Quantization: qcfg}
			if err := ortCfg.Save(output); err != nil {
				return err
			}
			log.Info("quantized model",
				"model", model,
				"path", quantizedPath,
				"isa", isa,
				"static", static,
			)
			return nil
		},
	}
}

func isaPreset(isa string, static, perChannel, reduceRange bool) (*config.QuantizationConfig, error) {
	switch isa {
	case "arm64":
		return config.ARM64(static, perChannel), nil
	case "avx2":
		return config.AVX2(static, perChannel, reduceRange), nil
	case "avx512":
		return config.AVX512(static, perChannel, reduceRange), nil
	case "avx512vnni":
		return config.AVX512VNNI(static, perChannel), nil
	default:
		return nil, fmt.Errorf("unknown instruction set %q", isa)
	}
}
