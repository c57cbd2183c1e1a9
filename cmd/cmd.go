// Package cmd implements the stepctx inspection CLI. It exists for
// debugging scheduler output: given a batch snapshot dumped by a worker, it
// derives the step context and prints the metadata the kernels would see.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pagedkv/stepctx/envconfig"
	"github.com/pagedkv/stepctx/version"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "stepctx",
		Short:   "Inspect step contexts derived from batch snapshots",
		Version: version.Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
		},
	}

	describeCmd := &cobra.Command{
		Use:   "describe SNAPSHOT",
		Short: "Derive and print the step context for a batch snapshot (.json or .cbor)",
		Args:  cobra.ExactArgs(1),
		RunE:  DescribeHandler,
	}
	describeCmd.Flags().Int("world-size", envconfig.WorldSize, "Number of model parallel workers")
	describeCmd.Flags().Int32("block-size", int32(envconfig.BlockSize), "Tokens per KV cache block")
	describeCmd.Flags().Int32("window", 0, "Sliding attention window, 0 to disable")

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Print stepctx environment configuration",
		RunE:  EnvHandler,
	}

	rootCmd.AddCommand(describeCmd, envCmd)

	return rootCmd
}
