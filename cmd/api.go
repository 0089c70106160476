package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ansibleconnect/internal/api"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the model service API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides the configured port)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadValidConfig(c.String("config"))
			if err != nil {
				return err
			}

			defaultPipeline, pipelines, err := buildPipelines(cfg)
			if err != nil {
				return err
			}

			port := cfg.General.Port
			if c.IsSet("port") {
				port = c.Int("port")
			}
			fmt.Printf("Starting API server on port %d with pipeline %s...\n",
				port, cfg.General.DefaultPipeline)

			handler := api.NewHandler(defaultPipeline, pipelines, cfg.General.MultiTaskMaxRequests)
			server := api.NewServer(port, handler)
			return server.Start()
		},
	}
}
