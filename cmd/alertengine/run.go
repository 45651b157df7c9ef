package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/canopywatch/alert-engine/internal/domain"
	"github.com/canopywatch/alert-engine/internal/pipeline"
)

var (
	runStart string
	runEnd   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one analysis run over the configured study area",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		window, err := runWindow(eng)
		if err != nil {
			return err
		}
		aoi, err := loadAOI(eng.cfg.Run.AOIPath)
		if err != nil {
			return err
		}

		report, err := eng.runner.Run(cmd.Context(), pipeline.Config{
			AOI:           aoi,
			Window:        window,
			MinConfidence: domain.Confidence(eng.cfg.Run.MinConfidence),
			Cluster:       eng.cfg.ClusterSettings(),
			BufferMeters:  eng.cfg.Run.BufferMeters,
			Recipes:       eng.cfg.Run.Recipes,
			OutputDir:     eng.cfg.Run.OutputDir,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report.Summary)
	},
}

func init() {
	runCmd.Flags().StringVar(&runStart, "start", "", "window start (YYYY-MM-DD); default derived from windowDays")
	runCmd.Flags().StringVar(&runEnd, "end", "", "window end (YYYY-MM-DD); default today")
}

// runWindow builds the analysis window from flags, falling back to a
// trailing window ending today.
func runWindow(eng *engine) (domain.DateWindow, error) {
	end := domain.Clock().Now().UTC().Truncate(24 * time.Hour)
	if runEnd != "" {
		t, err := time.Parse(time.DateOnly, runEnd)
		if err != nil {
			return domain.DateWindow{}, fmt.Errorf("parse --end: %w", err)
		}
		end = t
	}
	if runStart != "" {
		start, err := time.Parse(time.DateOnly, runStart)
		if err != nil {
			return domain.DateWindow{}, fmt.Errorf("parse --start: %w", err)
		}
		return domain.NewDateWindow(start, end)
	}
	return pipeline.WindowEndingAt(end, eng.cfg.Run.WindowDays)
}
