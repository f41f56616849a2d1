package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pipelinectl",
		Short:         "Operator tool for the media pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipContainer(cmd) {
				_, err := ctx.ensureConfig()
				return err
			}
			_, err := ctx.ensureContainer(cmd.Context())
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "config.yaml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&ctx.dev, "dev", false, "Relax config validation like the server's -dev")
	rootCmd.PersistentFlags().BoolVar(&ctx.jsonOut, "json", false, "Print JSON instead of tables")

	rootCmd.AddCommand(newSweepCommand(ctx))
	rootCmd.AddCommand(newRecomputeCommand(ctx))
	rootCmd.AddCommand(newJobCommand(ctx))
	rootCmd.AddCommand(newOutputsCommand(ctx))
	rootCmd.AddCommand(newSubmissionCommand(ctx))
	rootCmd.AddCommand(newTokenCommand(ctx))
	return rootCmd
}
