// Package pipeline composes one analysis run: fetch alerts for a study
// area, cluster them into incidents, derive extents, persist the run, and
// render one map artifact per incident.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/canopywatch/alert-engine/internal/artifact"
	"github.com/canopywatch/alert-engine/internal/cluster"
	"github.com/canopywatch/alert-engine/internal/domain"
	"github.com/canopywatch/alert-engine/internal/extent"
	"github.com/canopywatch/alert-engine/internal/observability"
	"github.com/canopywatch/alert-engine/internal/render"
	"github.com/canopywatch/alert-engine/internal/upstream"
)

// AlertSource fetches alert points for a study area and window.
type AlertSource interface {
	FetchAlerts(ctx context.Context, aoi orb.Polygon, window domain.DateWindow) ([]domain.Alert, error)
}

// RunStore is the slice of the store the pipeline writes to.
type RunStore interface {
	SaveRun(ctx context.Context, run domain.RunRecord) error
}

// SummaryPublisher announces a completed run to downstream consumers.
type SummaryPublisher interface {
	PublishRunSummary(ctx context.Context, summary domain.RunSummary) error
}

// Config are the explicit inputs of one run. Everything the run needs is
// here; nothing is read from ambient process state.
type Config struct {
	AOI           orb.Polygon
	Window        domain.DateWindow
	MinConfidence domain.Confidence
	Cluster       cluster.Config
	BufferMeters  float64
	Recipes       []string
	OutputDir     string
}

// Report is what a completed run hands back to the caller.
type Report struct {
	Run       domain.RunRecord
	Artifacts []domain.ArtifactReference
	Summary   domain.RunSummary
}

// Runner executes analysis runs.
type Runner struct {
	source    AlertSource
	store     RunStore
	tracker   *artifact.Tracker
	provider  upstream.Provider
	renderer  render.Renderer
	publisher SummaryPublisher // optional
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewRunner wires a Runner. publisher may be nil when no broker is
// configured.
func NewRunner(
	source AlertSource,
	store RunStore,
	tracker *artifact.Tracker,
	provider upstream.Provider,
	renderer render.Renderer,
	publisher SummaryPublisher,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Runner {
	return &Runner{
		source:    source,
		store:     store,
		tracker:   tracker,
		provider:  provider,
		renderer:  renderer,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run executes one complete analysis run. An empty alert fetch is fatal:
// there is nothing to analyze and no run record is written.
func (r *Runner) Run(ctx context.Context, cfg Config) (Report, error) {
	start := domain.Clock().Now()
	defer func() {
		r.metrics.RunDuration.Observe(domain.Clock().Since(start).Seconds())
	}()

	alerts, err := r.source.FetchAlerts(ctx, cfg.AOI, cfg.Window)
	if err != nil {
		return Report{}, fmt.Errorf("fetch alerts: %w", err)
	}
	if len(alerts) == 0 {
		return Report{}, &domain.InsufficientDataError{Op: "run", Needed: 1, Got: 0}
	}
	r.metrics.AlertsIngested.Add(float64(len(alerts)))

	summary := domain.SummarizeConfidences(alerts)
	selected := domain.FilterByMinConfidence(alerts, cfg.MinConfidence)
	r.logger.Info("alerts fetched",
		"total", len(alerts), "selected", len(selected), "window", cfg.Window.String())
	if len(selected) == 0 {
		return Report{}, &domain.InsufficientDataError{Op: "run", Needed: 1, Got: 0}
	}

	result, err := cluster.Assign(selected, cfg.Cluster)
	if err != nil {
		return Report{}, err
	}

	run := domain.RunRecord{
		ID:        "run-" + uuid.NewString(),
		CreatedAt: start.UTC(),
		AOI:       cfg.AOI,
		Params: domain.RunParams{
			Window:       cfg.Window,
			EpsMeters:    result.EpsMeters,
			MinMembers:   cfg.Cluster.MinMembers,
			BufferMeters: cfg.BufferMeters,
		},
		Summary: summary,
	}

	// Clusters in ascending id order; noise never gets an extent.
	ids := make([]int, 0, len(result.Clusters))
	for id := range result.Clusters {
		if id == domain.NoiseID {
			r.metrics.NoiseAlerts.Add(float64(len(result.Clusters[id])))
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		members := result.Clusters[id]
		ext, err := extent.Build(members, cfg.BufferMeters)
		if err != nil {
			return Report{}, fmt.Errorf("cluster %d: %w", id, err)
		}
		run.Clusters = append(run.Clusters, domain.ClusterRecord{
			ClusterID: id,
			Alerts:    members,
			Extent:    ext,
		})
	}
	r.metrics.ClustersFormed.Add(float64(len(run.Clusters)))

	if err := r.store.SaveRun(ctx, run); err != nil {
		return Report{}, fmt.Errorf("save run: %w", err)
	}
	r.logger.Info("run persisted",
		"run_id", run.ID, "clusters", len(run.Clusters), "noise", len(result.Clusters[domain.NoiseID]))

	artifacts, err := r.renderArtifacts(ctx, run, cfg)
	if err != nil {
		return Report{}, err
	}

	runSummary := domain.RunSummary{
		RunID:         run.ID,
		Window:        cfg.Window,
		AlertCount:    len(alerts),
		ClusterCount:  len(run.Clusters),
		NoiseCount:    len(result.Clusters[domain.NoiseID]),
		ArtifactCount: len(artifacts),
		Confidences:   summary,
		CompletedAt:   domain.Clock().Now().UTC(),
	}
	if r.publisher != nil {
		if err := r.publisher.PublishRunSummary(ctx, runSummary); err != nil {
			// The run itself succeeded; a broker outage is not worth
			// discarding it.
			r.logger.Error("publish run summary failed", "run_id", run.ID, "error", err)
		}
	}

	return Report{Run: run, Artifacts: artifacts, Summary: runSummary}, nil
}

// renderArtifacts resolves upstream layers, renders one map per cluster, and
// records the artifact with its embedded refs.
func (r *Runner) renderArtifacts(ctx context.Context, run domain.RunRecord, cfg Config) ([]domain.ArtifactReference, error) {
	artifacts := make([]domain.ArtifactReference, 0, len(run.Clusters))
	for _, cl := range run.Clusters {
		refs := make([]domain.ResolvedRef, 0, len(cfg.Recipes))
		for _, recipe := range cfg.Recipes {
			ref, err := domain.NewUpstreamRef(cl.Extent, cfg.Window, recipe)
			if err != nil {
				return nil, fmt.Errorf("cluster %d: %w", cl.ClusterID, err)
			}
			resolved, err := r.provider.Resolve(ctx, ref)
			if err != nil {
				return nil, fmt.Errorf("cluster %d: %w", cl.ClusterID, err)
			}
			refs = append(refs, domain.ResolvedRef{
				Ref:         ref,
				URLTemplate: resolved.URLTemplate,
				ResolvedAt:  domain.Clock().Now().UTC(),
			})
		}

		art := domain.ArtifactReference{
			ArtifactID: artifactID(run.ID, cl.ClusterID),
			RunID:      run.ID,
			ClusterID:  cl.ClusterID,
			Path:       filepath.Join(cfg.OutputDir, run.ID, fmt.Sprintf("incident-%03d.html", cl.ClusterID)),
			Refs:       refs,
			RenderedAt: domain.Clock().Now().UTC(),
		}

		if err := artifact.WriteArtifact(art.Path, r.renderer, artifact.MapInputsFor(art, cl)); err != nil {
			return nil, fmt.Errorf("cluster %d: %w", cl.ClusterID, err)
		}
		if err := r.tracker.RecordArtifact(ctx, art); err != nil {
			return nil, fmt.Errorf("cluster %d: %w", cl.ClusterID, err)
		}
		r.logger.Info("artifact rendered",
			"artifact_id", art.ArtifactID, "cluster_id", cl.ClusterID, "path", art.Path, "layers", len(refs))
		artifacts = append(artifacts, art)
	}
	return artifacts, nil
}

// artifactID derives a stable id from the run and cluster, so re-running a
// command against the same run addresses the same artifact.
func artifactID(runID string, clusterID int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", runID, clusterID)))
	return "map-" + hex.EncodeToString(hash[:8])
}

// WindowEndingAt builds the trailing analysis window used by scheduled runs.
func WindowEndingAt(end time.Time, days int) (domain.DateWindow, error) {
	return domain.NewDateWindow(end.AddDate(0, 0, -days), end)
}
