package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowcache/flowdag/internal/repo"
)

func gcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Remove cached objects no longer referenced by any lockfile",
		Long:  `flowdag gc`,
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

			n, err := r.GC()
			if err != nil {
				return err
			}
			fmt.Printf("removed %d object(s)\n", n)
			return nil
		},
	}
}
