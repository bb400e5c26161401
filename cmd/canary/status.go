package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/canary/internal/model"
)

type statusStore interface {
	ListChecks(ctx context.Context) ([]model.Check, error)
}

func executeStatus(cmd *cobra.Command, db statusStore) error {
	out := cmd.OutOrStdout()
	checks, err := db.ListChecks(context.Background())
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}

	if len(checks) == 0 {
		fmt.Fprintln(out, "No checks configured. Add checks to the config and run 'canary run' or 'canary serve'.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tENABLED\tLAST CHECKED\tURL")
	for _, c := range checks {
		last := "never"
		if c.LastCheckedAt != nil {
			last = c.LastCheckedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			c.ID,
			c.Name,
			c.LastStatus,
			c.Enabled,
			last,
			c.URL,
		)
	}
	w.Flush()
	return nil
}
