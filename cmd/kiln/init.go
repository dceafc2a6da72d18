package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kilnml/kiln/internal/graph"
	"github.com/kilnml/kiln/internal/quantize"
	"github.com/kilnml/kiln/internal/task"
	"github.com/kilnml/kiln/internal/tokenizer"
)

var (
	initVocabPath     string
	initTokenizerJSON string
	initHidden        int64
	initFFN           int64
	initLayers        int64
	initSeed          int64
)

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create a full-precision baseline artifact for a task",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "task",
				Aliases:     []string{"t"},
				Usage:       "task name (see: kiln tasks)",
				Destination: &taskName,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output .kcf path",
				Destination: &outPath,
			},
			&cli.StringFlag{
				Name:        "vocab",
				Usage:       "path to a word-level vocabulary (JSON array)",
				Destination: &initVocabPath,
			},
			&cli.StringFlag{
				Name:        "tokenizer-json",
				Usage:       "path to a tokenizer.json (byte-level BPE)",
				Destination: &initTokenizerJSON,
			},
			&cli.Int64Flag{
				Name:        "hidden",
				Usage:       "hidden size",
				Value:       64,
				Destination: &initHidden,
			},
			&cli.Int64Flag{
				Name:        "ffn",
				Usage:       "feed-forward size",
				Value:       128,
				Destination: &initFFN,
			},
			&cli.Int64Flag{
				Name:        "layers",
				Usage:       "encoder layers",
				Value:       2,
				Destination: &initLayers,
			},
			&cli.Int64Flag{
				Name:        "max-length",
				Usage:       "fixed sequence length",
				Value:       128,
				Destination: &maxLength,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "parameter initialisation seed",
				Value:       1,
				Destination: &initSeed,
			},
		}, loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyConfig(cmd, LoadConfig())
			log := buildLogger()

			tk, err := task.Lookup(taskName)
			if err != nil {
				return err
			}
			if outPath == "" {
				return errors.New("init: --out is required")
			}

			kind, payload, vocabSize, err := loadInitTokenizer()
			if err != nil {
				return err
			}

			m, err := graph.New(graph.Config{
				VocabSize: vocabSize,
				Hidden:    int(initHidden),
				FFN:       int(initFFN),
				Layers:    int(initLayers),
				MaxLen:    int(maxLength),
				Labels:    tk.NumLabels,
			}, initSeed)
			if err != nil {
				return err
			}

			meta := quantize.Artifact{Task: tk.Name, TokenizerKind: kind, TokenizerPayload: payload}
			buildID, err := quantize.ExportFull(m, meta, outPath)
			if err != nil {
				return err
			}
			log.Info("baseline written", "path", outPath, "build_id", buildID, "task", tk.Name, "vocab", vocabSize)
			return nil
		},
	}
}

func loadInitTokenizer() (kind string, payload []byte, vocabSize int, err error) {
	switch {
	case initVocabPath != "" && initTokenizerJSON != "":
		return "", nil, 0, errors.New("init: --vocab and --tokenizer-json are mutually exclusive")
	case initVocabPath != "":
		payload, err = os.ReadFile(initVocabPath)
		if err != nil {
			return "", nil, 0, fmt.Errorf("init: read vocab: %w", err)
		}
		tok, err := tokenizer.LoadWordLevel(payload)
		if err != nil {
			return "", nil, 0, err
		}
		return tokenizer.KindWordLevel, payload, tok.VocabSize(), nil
	case initTokenizerJSON != "":
		payload, err = os.ReadFile(initTokenizerJSON)
		if err != nil {
			return "", nil, 0, fmt.Errorf("init: read tokenizer.json: %w", err)
		}
		tok, err := tokenizer.LoadHFBPE(payload)
		if err != nil {
			return "", nil, 0, err
		}
		return tokenizer.KindHFBPE, payload, tok.VocabSize(), nil
	default:
		return "", nil, 0, errors.New("init: one of --vocab or --tokenizer-json is required")
	}
}
