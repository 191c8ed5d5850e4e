package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/flowcache/flowdag/internal/index"
	"github.com/flowcache/flowdag/internal/repo"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which stages are stale and why",
		Long:  `flowdag status`,
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

			statuses, err := r.Status(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Println(renderStatusTable(statuses))
			return nil
		},
	}
}

func renderStatusTable(statuses []index.StageStatus) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Stage", "Status", "Reason", "Detail"})
	for _, s := range statuses {
		state := "up to date"
		reason := ""
		if s.Stale {
			state = "stale"
			reason = string(s.Reason)
		}
		t.AppendRow(table.Row{s.Addr, state, reason, s.Detail})
	}
	return t.Render()
}
