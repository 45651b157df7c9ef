package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkArtifacts []string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe artifact tile URLs and report freshness",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		report, err := eng.orchestrator.CheckAll(cmd.Context(), checkArtifacts)
		if err != nil {
			return err
		}

		fmt.Printf("artifacts: %d (%d fresh, %d stale)\n", report.Artifacts, report.Fresh, report.Stale)
		fmt.Printf("refs:      %d live, %d expired, %d unknown\n", report.Live, report.Expired, report.Unknown)
		if report.Expired > 0 {
			fmt.Println("run `alertengine regenerate --all` to refresh expired layers")
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringSliceVar(&checkArtifacts, "artifacts", nil, "check only these artifact ids (default all)")
}
