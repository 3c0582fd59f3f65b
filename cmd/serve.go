package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/eigensight/internal/config"
	"github.com/eigensight/internal/narrator"
)

// ServeCommand returns the CLI command for starting the narrator service.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the Eigensight narrator service",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the narrator service (overrides config)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if port := c.Int("port"); port > 0 {
				cfg.Server.Port = port
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			llm, err := narrator.NewLLMClient(cfg)
			if err != nil {
				return fmt.Errorf("failed to create LLM client: %w", err)
			}

			fmt.Printf("Starting Eigensight narrator on port %d...\n", cfg.Server.Port)
			server := narrator.NewServer(cfg.Server.Port, llm)
			return server.Start()
		},
	}
}
