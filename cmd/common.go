package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/leanscribe/internal/app"
	"github.com/leanscribe/internal/config"
	"github.com/leanscribe/internal/editor"
)

// SetupLogging points the global logger at stderr with the given level.
func SetupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	return nil
}

// loadConfig reads the configuration named by --config and applies the log
// level, with --log-level taking precedence over the file.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if folder := c.String("folder"); folder != "" {
		cfg.Scribe.Folder = config.ExpandPath(folder)
	}
	level := cfg.Log.Level
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	if err := SetupLogging(level); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withApp loads the configuration, builds the application and closes it
// when fn returns.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context
	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to stop language servers")
		}
	}()
	return fn(ctx, a)
}

var documentFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "file",
		Aliases: []string{"f"},
		Usage:   "Lean `FILE` to render the template for",
	},
	&cli.StringFlag{
		Name:  "cursor",
		Usage: "Cursor position as `LINE:CHARACTER` (zero-based)",
		Value: "0:0",
	},
	&cli.StringFlag{
		Name:  "selection",
		Usage: "Selected range as `START-END`, each LINE:CHARACTER",
	},
}

// openDocument builds the document from --file, --cursor and --selection.
// It returns nil when no file is given.
func openDocument(c *cli.Context) (*editor.Document, error) {
	path := c.String("file")
	if path == "" {
		return nil, nil
	}
	cursor, err := editor.ParsePosition(c.String("cursor"))
	if err != nil {
		return nil, err
	}
	var selection *editor.Range
	if raw := c.String("selection"); raw != "" {
		start, end, ok := strings.Cut(raw, "-")
		if !ok {
			return nil, fmt.Errorf("invalid selection %q, expected START-END", raw)
		}
		r := editor.Range{}
		if r.Start, err = editor.ParsePosition(start); err != nil {
			return nil, err
		}
		if r.End, err = editor.ParsePosition(end); err != nil {
			return nil, err
		}
		selection = &r
	}
	return editor.Open(path, cursor, selection)
}

func extraVars(c *cli.Context) (map[string]any, error) {
	vars := c.StringSlice("var")
	if len(vars) == 0 {
		return nil, nil
	}
	extra := make(map[string]any, len(vars))
	for _, kv := range vars {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q, expected NAME=VALUE", kv)
		}
		extra[key] = value
	}
	return extra, nil
}
