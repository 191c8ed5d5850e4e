// Package main is the flowdag CLI entrypoint: a thin cobra wrapper over
// internal/repo's façade. Nothing here touches the engine's own logic —
// every subcommand opens a Repo and calls one of its methods.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "flowdag",
		Short: "Content-addressed pipeline engine for reproducible data workflows.",
		Long:  `flowdag tracks data pipelines as a DAG of stages, caching outputs by content hash so unchanged work never reruns.`,
	}

	root.PersistentFlags().String("root", ".", "workspace root")

	root.AddCommand(
		reproCmd(),
		statusCmd(),
		pushCmd(),
		pullCmd(),
		gcCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
