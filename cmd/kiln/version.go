package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/kilnml/kiln/internal/version"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			fmt.Printf("kiln %s", info.Version)
			if info.Commit != "" {
				fmt.Printf(" (%s)", info.Commit)
			}
			fmt.Println()
			return nil
		},
	}
}
