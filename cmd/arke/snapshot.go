package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arke-institute/arke-archive/internal/snapshotbuilder"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage the folded snapshot",
}

var snapshotRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Force a full snapshot rebuild",
	Long: `rebuild folds the entire event chain into a new snapshot, bypassing
the "nothing changed since the last snapshot" short-circuit that a
scheduled or manual build would otherwise take (spec §4.5 Trigger).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := buildCore(cfg)
		ctx := context.Background()

		res, err := c.builder.Build(ctx, snapshotbuilder.TriggerForced)
		if err != nil {
			return fmt.Errorf("snapshot rebuild failed: %w", err)
		}

		if res.Skipped {
			fmt.Println("snapshot rebuild skipped: no events to fold")
			return nil
		}

		fmt.Printf("snapshot rebuilt: %s\n", res.CID)
		fmt.Printf("  entries: %d\n", len(res.Snapshot.Entries))
		fmt.Printf("  cids:    %d\n", res.Snapshot.CIDCount)
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotRebuildCmd)
}
