package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/kilnml/kiln/internal/dataset"
	"github.com/kilnml/kiln/internal/encode"
	"github.com/kilnml/kiln/internal/graph"
	"github.com/kilnml/kiln/internal/task"
)

var encodeShow int64

func encodeCmd() *cli.Command {
	return &cli.Command{
		Name:  "encode",
		Usage: "Encode a dataset split and report sequence statistics",
		Flags: append(append(commonModelFlags(), commonDataFlags()...),
			append([]cli.Flag{
				&cli.Int64Flag{
					Name:        "show",
					Usage:       "print the first N encoded examples",
					Destination: &encodeShow,
				},
			}, loggingFlags()...)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyConfig(cmd, LoadConfig())
			log := buildLogger()

			if modelPath == "" {
				return errors.New("encode: --model is required")
			}
			loaded, err := graph.Load(modelPath)
			if err != nil {
				return err
			}
			if loaded.Tok == nil {
				return errors.New("encode: artifact carries no tokenizer")
			}

			name := taskName
			if name == "" {
				name = loaded.Info.Task
			}
			tk, err := task.Lookup(name)
			if err != nil {
				return err
			}

			split, err := dataset.Load(dataDir, tk.Name, splitName)
			if err != nil {
				return err
			}
			log.Debug("split loaded", "task", tk.Name, "split", splitName, "examples", len(split.Examples))

			enc := &encode.Encoder{Tok: loaded.Tok, MaxLength: loaded.Info.MaxLength}
			var totalActive, full int
			for i, ex := range split.Examples {
				out, err := enc.Encode(ex, tk)
				if err != nil {
					return err
				}
				active := 0
				for _, v := range out.Mask {
					active += v
				}
				totalActive += active
				if active == len(out.Mask) {
					full++
				}
				if int64(i) < encodeShow {
					fmt.Printf("%d: ids=%v\n", i, out.IDs)
				}
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Header([]string{"Stat", "Value"})
			table.Append([]string{"Examples", fmt.Sprintf("%d", len(split.Examples))})
			table.Append([]string{"Sequence length", fmt.Sprintf("%d", loaded.Info.MaxLength)})
			table.Append([]string{"Mean active tokens", fmt.Sprintf("%.1f", float64(totalActive)/float64(max(len(split.Examples), 1)))})
			table.Append([]string{"At full length", fmt.Sprintf("%d", full)})
			table.Render()
			return nil
		},
	}
}
