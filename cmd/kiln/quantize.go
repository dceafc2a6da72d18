package main

import (
	"context"
	"errors"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kilnml/kiln/internal/dataset"
	"github.com/kilnml/kiln/internal/encode"
	"github.com/kilnml/kiln/internal/graph"
	"github.com/kilnml/kiln/internal/logger"
	"github.com/kilnml/kiln/internal/quantize"
	"github.com/kilnml/kiln/internal/task"
)

var (
	approachName string
	perChannel   bool
	operatorList string
	calibSamples int64
)

func quantizeCmd() *cli.Command {
	return &cli.Command{
		Name:  "quantize",
		Usage: "Quantise a baseline artifact to int8",
		Flags: append(append(commonModelFlags(), commonDataFlags()...),
			append([]cli.Flag{
				&cli.StringFlag{
					Name:        "out",
					Aliases:     []string{"o"},
					Usage:       "output .kcf path",
					Destination: &outPath,
				},
				&cli.StringFlag{
					Name:        "approach",
					Aliases:     []string{"a"},
					Usage:       "quantisation approach (static, dynamic)",
					Value:       "static",
					Destination: &approachName,
				},
				&cli.BoolFlag{
					Name:        "per-channel",
					Usage:       "one scale per output channel instead of per tensor",
					Destination: &perChannel,
				},
				&cli.StringFlag{
					Name:        "operators",
					Usage:       "comma-separated operator allow-list (default: matmul,gather,add)",
					Destination: &operatorList,
				},
				&cli.Int64Flag{
					Name:        "calibration-samples",
					Usage:       "cap on calibration examples (0 = whole split)",
					Value:       100,
					Destination: &calibSamples,
				},
			}, loggingFlags()...)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyConfig(cmd, LoadConfig())
			log := buildLogger()
			ctx = logger.WithContext(ctx, log)

			if modelPath == "" || outPath == "" {
				return errors.New("quantize: --model and --out are required")
			}

			approach, err := quantize.ParseApproach(approachName)
			if err != nil {
				return err
			}
			operators, err := parseOperators(operatorList)
			if err != nil {
				return err
			}

			loaded, err := graph.Load(modelPath)
			if err != nil {
				return err
			}
			if loaded.Info.Approach != "none" {
				return errors.New("quantize: input artifact is already quantised")
			}
			if loaded.Tok == nil {
				return errors.New("quantize: artifact carries no tokenizer")
			}

			tk, err := task.Lookup(loaded.Info.Task)
			if err != nil {
				return err
			}

			var calib []dataset.Example
			if approach == quantize.Static {
				split, err := dataset.Load(dataDir, tk.Name, splitName)
				if err != nil {
					return err
				}
				calib = split.Examples
			}

			enc := &encode.Encoder{Tok: loaded.Tok, MaxLength: loaded.Info.MaxLength}
			meta := quantize.Artifact{
				Task:             tk.Name,
				TokenizerKind:    loaded.Info.TokenizerKind,
				TokenizerPayload: loaded.TokPayload,
			}

			d := &quantize.Driver{Log: log}
			res, err := d.Run(ctx, loaded.Model, enc, tk, quantize.Config{
				Approach:           approach,
				PerChannel:         perChannel,
				Operators:          operators,
				CalibrationSamples: int(calibSamples),
			}, meta, calib, outPath)
			if err != nil {
				return err
			}
			log.Info("quantisation complete",
				"approach", res.Approach.String(),
				"tensors", len(res.Quantised),
				"ranges", len(res.Ranges),
				"out", res.Path)
			return nil
		},
	}
}

func parseOperators(list string) ([]graph.OpKind, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	var ops []graph.OpKind
	for _, name := range strings.Split(list, ",") {
		k, err := graph.ParseOpKind(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		ops = append(ops, k)
	}
	return ops, nil
}
