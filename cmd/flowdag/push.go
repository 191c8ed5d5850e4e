package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowcache/flowdag/internal/repo"
)

func pushCmd() *cobra.Command {
	var remote string

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upload cached objects to a remote",
		Long:  `flowdag push [--remote=<name>]`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := cmd.Flags().GetString("root")
			if err != nil {
				return err
			}

			r, err := repo.Open(cmd.Context(), root)
			if err != nil {
				return fmt.Errorf("open repo: %w", err)
			}
			defer r.Close()

			return r.Push(cmd.Context(), remote)
		},
	}

	cmd.Flags().StringVarP(&remote, "remote", "r", "", "remote to push to (default is core.remote)")
	return cmd
}
