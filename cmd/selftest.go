package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ansibleconnect/internal/healthcheck"
)

// SelfTestCommand probes every configured pipeline and reports its health.
func SelfTestCommand() *cli.Command {
	return &cli.Command{
		Name:  "selftest",
		Usage: "Probe every configured model pipeline",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Per-pipeline probe timeout",
				Value: 30 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadValidConfig(c.String("config"))
			if err != nil {
				return err
			}

			_, pipelines, err := buildPipelines(cfg)
			if err != nil {
				return err
			}

			summary := &healthcheck.Summary{}
			for name, p := range pipelines {
				ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
				if err := p.SelfTest(ctx); err != nil {
					summary.AddError(name, err)
				} else {
					summary.AddMessage(name, "ok")
				}
				cancel()
			}

			for _, item := range summary.Items() {
				fmt.Printf("%-12s %-7s %s\n", item.Provider, item.Status, item.Message)
			}
			if summary.HasErrors() {
				return fmt.Errorf("one or more pipelines failed their self test")
			}
			return nil
		},
	}
}
