package main

import (
	"time"

	"github.com/spf13/cobra"

	"packagemanager/internal/config"
)

type commandContext struct {
	server  string
	token   string
	timeout time.Duration
	json    bool
}

func (c *commandContext) client() *client {
	return newClient(c.server, c.token, c.timeout)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "pmctl",
		Short:         "Operate a package manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.server, "server", config.GetEnv("PMCTL_SERVER", "http://localhost:8080"), "Package manager API address")
	flags.StringVar(&ctx.token, "token", config.GetEnv("PMCTL_TOKEN", ""), "Bearer token for the API")
	flags.DurationVar(&ctx.timeout, "timeout", 10*time.Second, "Request timeout")
	flags.BoolVar(&ctx.json, "json", false, "Print raw JSON")

	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newExpectationsCommand(ctx))
	rootCmd.AddCommand(newRestartCommand(ctx))
	rootCmd.AddCommand(newAbortCommand(ctx))
	rootCmd.AddCommand(newRestartContainerCommand(ctx))
	rootCmd.AddCommand(newWorkforceCommand(ctx))
	rootCmd.AddCommand(newKillCommand(ctx))
	rootCmd.AddCommand(newApplyCommand(ctx))

	return rootCmd
}
