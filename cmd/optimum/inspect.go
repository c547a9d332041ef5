package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/carzh/optimum/internal/onnx"
	"github.com/carzh/optimum/internal/optimizer"
)

func inspectCmd() *cli.Command {
	var (
		modelPath   string
		showTensors bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of an .onnx graph file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .onnx file",
				Destination: &modelPath,
				Required:    true,
			},
			&cli.BoolFlag{
				Name:        "tensors",
				Usage:       "list initializer tensors",
				Destination: &showTensors,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := onnx.Load(modelPath)
			if err != nil {
				return err
			}
			g := m.Graph

			fmt.Printf("graph:        %s\n", g.Name)
			fmt.Printf("ir version:   %d\n", m.IRVersion)
			fmt.Printf("opset:        %d\n", m.Opset())
			if m.ProducerName != "" {
				fmt.Printf("producer:     %s\n", m.ProducerName)
			}
			fmt.Printf("nodes:        %d\n", len(g.Nodes))
			fmt.Printf("initializers: %d\n", len(g.Initializers))

			counts := g.OperatorCounts()
			ops := make([]string, 0, len(counts))
			for op := range counts {
				ops = append(ops, op)
			}
			sort.Strings(ops)
			fmt.Println("\noperators:")
			for _, op := range ops {
				fmt.Printf("  %-28s %d\n", op, counts[op])
			}

			fused, err := optimizer.FusedOperators(modelPath)
			if err != nil {
				return err
			}
			if len(fused) > 0 {
				fmt.Printf("\nfused operators: %s\n", strings.Join(fused, ", "))
			}

			if showTensors {
				fmt.Println("\ntensors:")
				for _, t := range g.Initializers {
					dims := make([]string, len(t.Dims))
					for i, d := range t.Dims {
						dims[i] = fmt.Sprintf("%d", d)
					}
					fmt.Printf("  %-48s %-8s [%s]\n", t.Name, t.DataType, strings.Join(dims, ", "))
				}
			}
			return nil
		},
	}
}
