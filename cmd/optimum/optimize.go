package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/carzh/optimum/internal/config"
	"github.com/carzh/optimum/internal/hub"
	"github.com/carzh/optimum/internal/logger"
	"github.com/carzh/optimum/internal/onnx"
	"github.com/carzh/optimum/internal/optimizer"
)

func optimizeCmd() *cli.Command {
	var (
		model       string
		output      string
		level       int64
		runtimeOnly bool
	)

	return &cli.Command{
		Name:  "optimize",
		Usage: "Export a model and apply graph optimization passes",
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
			&cli.Int64Flag{
				Name:        "level",
				Usage:       "optimization level (0, 1, 2 or 99)",
				Value:       1,
				Destination: &level,
			},
			&cli.BoolFlag{
				Name:        "onnxruntime-only",
				Usage:       "defer optimization to runtime session load",
				Destination: &runtimeOnly,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyOutputConfig(cmd, LoadConfig(), &output)

			o, err := optimizer.FromPretrained(model, hub.TaskSequenceClassification)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(output, 0o755); err != nil {
				return err
			}
			optCfg := &config.OptimizationConfig{
				OptimizationLevel: int(level),
				OnnxRuntimeOnly:   runtimeOnly,
			}
			modelPath := filepath.Join(output, "model.onnx")
			optimizedPath := filepath.Join(output, "model_optimized.onnx")
			if err := o.Export(modelPath, optimizedPath, optCfg); err != nil {
				return err
			}
			if err := optCfg.Save(output); err != nil {
				return err
			}
			ortCfg := &config.ORTConfig{Opset: onnx.DefaultOpset, Optimization: optCfg}
			if err := ortCfg.Save(output); err != nil {
				return err
			}

			removed, err := optimizer.NodesNumberDifference(modelPath, optimizedPath)
			if err != nil {
				return err
			}
			fused, err := optimizer.FusedOperators(optimizedPath)
			if err != nil {
				return err
			}
			log.Info("optimized model",
				"model", model,
				"path", optimizedPath,
				"level", level,
				"nodes_removed", removed,
				"fused_operators", fused,
			)
			return nil
		},
	}
}
