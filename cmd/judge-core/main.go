// Command judge-core drives a single interactive judging run: it loads a
// JudgeConfig, spawns the user program against an interactor, and prints
// the resulting verdict as JSON on stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/containerd/log"
	"github.com/urfave/cli/v2"

	"github.com/ocbridge/judge-core/internal/config"
	"github.com/ocbridge/judge-core/internal/executor"
	"github.com/ocbridge/judge-core/internal/judge"
	"github.com/ocbridge/judge-core/internal/paths"
)

func main() {
	app := &cli.App{
		Name:  "judge-core",
		Usage: "run a single interactive judging session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the JudgeConfig JSON file",
				EnvVars: []string{"JUDGE_CORE_CONFIG"},
				Value:   config.DefaultConfigPath,
			},
			&cli.StringFlag{
				Name:     "interactor",
				Usage:    "path to the already-compiled interactor executable",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "interactor-arg",
				Usage: "base argument to prepend before the interactor's input/output/answer argv contract (repeatable)",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "transcript file path; defaults under the state directory",
			},
			&cli.DurationFlag{
				Name:  "wall-clock-timeout",
				Usage: "force-kill both sandboxes after this long and resolve via idleness imputation (0 disables)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.L.WithError(err).Error("judge-core run failed")
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if c.IsSet("wall-clock-timeout") {
		cfg.WallClockTimeout = c.Duration("wall-clock-timeout")
	}

	outputPath := c.String("output")
	if outputPath == "" {
		outputPath = paths.TranscriptPath(fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano()))
	}

	interactor := executor.Executor{
		Path:     c.String("interactor"),
		BaseArgs: c.StringSlice("interactor-arg"),
	}

	result, err := judge.RunInteractive(context.Background(), cfg, interactor, outputPath)
	if err != nil {
		return fmt.Errorf("running interactive judge: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
