package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/kilnml/kiln/internal/dataset"
	"github.com/kilnml/kiln/internal/encode"
	"github.com/kilnml/kiln/internal/evaluate"
	"github.com/kilnml/kiln/internal/graph"
	"github.com/kilnml/kiln/internal/task"
)

var reportPath string

func evaluateCmd() *cli.Command {
	return &cli.Command{
		Name:    "evaluate",
		Aliases: []string{"eval"},
		Usage:   "Score an artifact against a labelled split",
		Flags: append(append(commonModelFlags(), commonDataFlags()...),
			append([]cli.Flag{
				&cli.StringFlag{
					Name:        "report",
					Usage:       "also write the report as JSON to this path",
					Destination: &reportPath,
				},
			}, loggingFlags()...)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyConfig(cmd, LoadConfig())
			log := buildLogger()

			if modelPath == "" {
				return errors.New("evaluate: --model is required")
			}

			rep, err := runEvaluation(ctx, modelPath)
			if err != nil {
				return err
			}
			log.Info("evaluation complete", "task", rep.Task, "samples", rep.Samples, "report_id", rep.ID)

			table := tablewriter.NewWriter(os.Stdout)
			table.Header([]string{"Metric", "Value"})
			for _, k := range sortedKeys(rep.Metrics) {
				table.Append([]string{k, fmt.Sprintf("%.4f", rep.Metrics[k])})
			}
			table.Render()

			if reportPath != "" {
				data, err := json.MarshalIndent(rep, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(reportPath, data, 0o644); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// runEvaluation loads an artifact and scores it over the configured
// split. Shared with the compare command.
func runEvaluation(ctx context.Context, path string) (evaluate.Report, error) {
	loaded, err := graph.Load(path)
	if err != nil {
		return evaluate.Report{}, err
	}
	if loaded.Tok == nil {
		return evaluate.Report{}, errors.New("evaluate: artifact carries no tokenizer")
	}

	name := taskName
	if name == "" {
		name = loaded.Info.Task
	}
	tk, err := task.Lookup(name)
	if err != nil {
		return evaluate.Report{}, err
	}

	split, err := dataset.Load(dataDir, tk.Name, splitName)
	if err != nil {
		return evaluate.Report{}, err
	}

	enc := &encode.Encoder{Tok: loaded.Tok, MaxLength: loaded.Info.MaxLength}
	return evaluate.Run(ctx, loaded.Model, enc, tk, split.Examples)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
