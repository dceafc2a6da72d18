package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

var baselinePath string

func compareCmd() *cli.Command {
	return &cli.Command{
		Name:  "compare",
		Usage: "Evaluate two artifacts on one split and report side by side",
		Flags: append(append([]cli.Flag{
			&cli.StringFlag{
				Name:        "baseline",
				Usage:       "path to the full-precision .kcf artifact",
				Destination: &baselinePath,
			},
			&cli.StringFlag{
				Name:        "candidate",
				Usage:       "path to the quantised .kcf artifact",
				Destination: &modelPath,
			},
		}, commonDataFlags()...), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyConfig(cmd, LoadConfig())
			log := buildLogger()

			if baselinePath == "" || modelPath == "" {
				return errors.New("compare: --baseline and --candidate are required")
			}

			base, err := runEvaluation(ctx, baselinePath)
			if err != nil {
				return err
			}
			cand, err := runEvaluation(ctx, modelPath)
			if err != nil {
				return err
			}
			if base.Task != cand.Task {
				return fmt.Errorf("compare: artifacts target different tasks (%s vs %s)", base.Task, cand.Task)
			}
			log.Info("comparison complete", "task", base.Task, "samples", base.Samples)

			table := tablewriter.NewWriter(os.Stdout)
			table.Header([]string{"Metric", "Baseline", "Candidate", "Delta"})
			for _, k := range sortedKeys(base.Metrics) {
				b := base.Metrics[k]
				c, ok := cand.Metrics[k]
				if !ok {
					return fmt.Errorf("compare: candidate report is missing metric %q", k)
				}
				table.Append([]string{
					k,
					fmt.Sprintf("%.4f", b),
					fmt.Sprintf("%.4f", c),
					fmt.Sprintf("%+.4f", c-b),
				})
			}
			table.Render()
			return nil
		},
	}
}
