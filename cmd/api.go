package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/leanscribe/internal/api"
	"github.com/leanscribe/internal/app"
)

// ServeCommand returns the CLI command for starting the editor API server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the local API server used by editor integrations",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (default from config)",
			},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				port := a.Config().Server.Port
				if c.IsSet("port") {
					port = c.Int("port")
				}
				fmt.Printf("Starting scribe API server on 127.0.0.1:%d...\n", port)

				server := api.NewServer(port, a)
				return server.Start(ctx)
			})
		},
	}
}
