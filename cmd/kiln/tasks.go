package main

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/kilnml/kiln/internal/task"
)

func tasksCmd() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "List the supported tasks and their metrics",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			table := tablewriter.NewWriter(os.Stdout)
			table.Header([]string{"Task", "Fields", "Metric", "Labels"})
			for _, name := range task.Names() {
				tk, err := task.Lookup(name)
				if err != nil {
					return err
				}
				fields := tk.PrimaryField
				if tk.SecondaryField != "" {
					fields += ", " + tk.SecondaryField
				}
				table.Append([]string{
					tk.Name,
					fields,
					tk.Metric.String(),
					fmt.Sprintf("%d", tk.NumLabels),
				})
			}
			table.Render()
			return nil
		},
	}
}
