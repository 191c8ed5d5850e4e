package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowcache/flowdag/internal/repo"
)

func reproCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "repro",
		Short: "Run every stage whose dependencies or command have changed",
		Long:  `flowdag repro [--force]`,
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

			results, err := r.Repro(cmd.Context(), repo.ReproOptions{Force: force})
			if err != nil {
				return err
			}

			for _, res := range results {
				switch {
				case res.Ran && res.FromCache:
					fmt.Printf("%s: restored from cache\n", res.Addr)
				case res.Ran:
					fmt.Printf("%s: ran\n", res.Addr)
				default:
					fmt.Printf("%s: up to date\n", res.Addr)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "rerun every stage regardless of its up-to-date verdict")
	return cmd
}
