package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	regenAll       bool
	regenArtifacts []string
	regenForce     bool
)

var regenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Re-render artifacts whose tile URLs have expired",
	Long: `Re-renders artifacts from their persisted cluster and extent records,
re-resolving only the expired tile layers. Live layers keep their current
URLs; --force re-resolves everything regardless of liveness.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !regenAll && len(regenArtifacts) == 0 {
			return fmt.Errorf("nothing selected: pass --all or --artifacts")
		}

		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		report, err := eng.orchestrator.RegenerateAll(cmd.Context(), regenArtifacts, regenForce)
		if err != nil {
			return err
		}

		fmt.Printf("regenerated %d, skipped %d (fresh), failed %d\n",
			len(report.Regenerated), len(report.Skipped), len(report.Failed))
		for id, ferr := range report.Failed {
			fmt.Printf("  %s: %v\n", id, ferr)
		}
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d artifact(s) failed to regenerate", len(report.Failed))
		}
		return nil
	},
}

func init() {
	regenerateCmd.Flags().BoolVar(&regenAll, "all", false, "regenerate every stale artifact")
	regenerateCmd.Flags().StringSliceVar(&regenArtifacts, "artifacts", nil, "regenerate only these artifact ids")
	regenerateCmd.Flags().BoolVar(&regenForce, "force", false, "re-resolve every layer regardless of liveness")
}
