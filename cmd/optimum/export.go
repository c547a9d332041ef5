package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/carzh/optimum/internal/config"
	"github.com/carzh/optimum/internal/exporter"
	"github.com/carzh/optimum/internal/hub"
	"github.com/carzh/optimum/internal/logger"
	"github.com/carzh/optimum/internal/onnx"
)

func exportCmd() *cli.Command {
	var (
		model  string
		output string
	)

	return &cli.Command{
		Name:  "export",
		Usage: "Export a pretrained model to an interchange graph",
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
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyOutputConfig(cmd, LoadConfig(), &output)

			p, err := hub.FromPretrained(model, hub.TaskSequenceClassification)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(output, 0o755); err != nil {
				return err
			}
			modelPath := filepath.Join(output, "model.onnx")
			if err := exporter.Export(p.Model, modelPath); err != nil {
				return err
			}
			ortCfg := &config.ORTConfig{Opset: onnx.DefaultOpset}
			if err := ortCfg.Save(output); err != nil {
				return err
			}
			log.Info("exported model", "model", model, "path", modelPath)
			return nil
		},
	}
}
