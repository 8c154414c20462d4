package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/leanscribe/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "scribe",
		Usage:   "Render prompt templates against Lean 4 files and stream model replies",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "scribe.toml",
			},
			&cli.StringFlag{
				Name:  "folder",
				Usage: "Override the scribe `FOLDER` holding templates and models.json",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log `LEVEL` (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			cmd.SearchCommand(),
			cmd.RenderCommand(),
			cmd.ReportCommand(),
			cmd.RunCommand(),
			cmd.ModelsCommand(),
			cmd.ServeCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
