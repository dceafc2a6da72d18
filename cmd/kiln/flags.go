package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kilnml/kiln/internal/logger"
)

var (
	modelPath string
	dataDir   string
	taskName  string
	splitName string
	outPath   string
	maxLength int64
	logLevel  string
	logFormat string
	debug     bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to .kcf artifact",
			Destination: &modelPath,
		},
	}
}

func commonDataFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "data",
			Aliases:     []string{"d"},
			Usage:       "root directory of JSONL dataset splits",
			Destination: &dataDir,
		},
		&cli.StringFlag{
			Name:        "task",
			Aliases:     []string{"t"},
			Usage:       "task name (see: kiln tasks)",
			Destination: &taskName,
		},
		&cli.StringFlag{
			Name:        "split",
			Usage:       "dataset split to read",
			Value:       "validation",
			Destination: &splitName,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// buildLogger constructs the logger the flag values describe. Logs go
// to stderr so command output stays pipeable.
func buildLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	var w io.Writer = os.Stderr
	switch logFormat {
	case "json":
		return logger.JSON(w, level)
	case "text":
		return logger.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	default:
		return logger.Pretty(w, level)
	}
}
