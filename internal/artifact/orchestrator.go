package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/canopywatch/alert-engine/internal/domain"
	"github.com/canopywatch/alert-engine/internal/observability"
	"github.com/canopywatch/alert-engine/internal/render"
	"github.com/canopywatch/alert-engine/internal/upstream"
)

// TileProber checks liveness for a batch of resolved URLs keyed by ref id.
type TileProber interface {
	ProbeAll(ctx context.Context, urls map[string]string) map[string]domain.Liveness
}

// Plan names the refs of one artifact that must be re-resolved. An empty
// ExpiredIDs list means the artifact needs no work.
type Plan struct {
	ArtifactID string
	ExpiredIDs []string
}

// CheckReport aggregates one check cycle across artifacts.
type CheckReport struct {
	Artifacts int
	Fresh     int
	Stale     int
	Live      int
	Expired   int
	Unknown   int
}

// BatchReport aggregates one regeneration sweep.
type BatchReport struct {
	Regenerated []string
	Skipped     []string
	Failed      map[string]error
}

// Orchestrator drives the freshness check and regeneration workflows. It
// never re-clusters: regeneration reuses the persisted cluster and extent
// records and re-resolves only the refs named in the plan.
type Orchestrator struct {
	store    Storage
	provider upstream.Provider
	prober   TileProber
	renderer render.Renderer
	logger   *slog.Logger
	metrics  *observability.Metrics

	// unknownBudget promotes a ref to expired after this many consecutive
	// unknown probes. Zero disables promotion. Counters are in-memory only:
	// a restart starts the count over, which errs on the patient side.
	unknownBudget int

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	unknowns map[string]int // key: artifactID + "/" + refID
}

// NewOrchestrator wires the regeneration workflow.
func NewOrchestrator(
	store Storage,
	provider upstream.Provider,
	prober TileProber,
	renderer render.Renderer,
	unknownBudget int,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		store:         store,
		provider:      provider,
		prober:        prober,
		renderer:      renderer,
		logger:        logger,
		metrics:       metrics,
		unknownBudget: unknownBudget,
		locks:         make(map[string]*sync.Mutex),
		unknowns:      make(map[string]int),
	}
}

// lockFor returns the mutex serializing work on one artifact. Different
// artifacts regenerate independently; the same artifact never concurrently.
func (o *Orchestrator) lockFor(artifactID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[artifactID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[artifactID] = l
	}
	return l
}

// CheckArtifact probes every embedded ref of one artifact and persists the
// observed liveness. The returned record preserves the artifact's ref order.
func (o *Orchestrator) CheckArtifact(ctx context.Context, artifactID string) (domain.FreshnessRecord, error) {
	art, err := o.store.Artifact(ctx, artifactID)
	if err != nil {
		return domain.FreshnessRecord{}, err
	}

	urls := make(map[string]string, len(art.Refs))
	for _, rr := range art.Refs {
		urls[rr.Ref.ID] = rr.URLTemplate
	}
	observed := o.prober.ProbeAll(ctx, urls)

	now := domain.Clock().Now().UTC()
	record := domain.FreshnessRecord{ArtifactID: artifactID}
	for _, rr := range art.Refs {
		liveness := o.applyUnknownBudget(artifactID, rr.Ref.ID, observed[rr.Ref.ID])
		if err := o.store.SetRefLiveness(ctx, artifactID, rr.Ref.ID, liveness, now); err != nil {
			return domain.FreshnessRecord{}, fmt.Errorf("persist liveness for %s/%s: %w", artifactID, rr.Ref.ID, err)
		}
		record.Refs = append(record.Refs, domain.RefFreshness{
			RefID:     rr.Ref.ID,
			Liveness:  liveness,
			CheckedAt: now,
		})
	}
	return record, nil
}

// applyUnknownBudget tracks consecutive unknowns per ref and promotes to
// expired once the budget is exhausted. Any definitive observation resets
// the counter.
func (o *Orchestrator) applyUnknownBudget(artifactID, refID string, liveness domain.Liveness) domain.Liveness {
	if o.unknownBudget <= 0 {
		return liveness
	}
	key := artifactID + "/" + refID

	o.mu.Lock()
	defer o.mu.Unlock()
	if liveness != domain.LivenessUnknown {
		delete(o.unknowns, key)
		return liveness
	}
	o.unknowns[key]++
	if o.unknowns[key] >= o.unknownBudget {
		o.logger.Warn("unknown budget exhausted, treating ref as expired",
			"artifact_id", artifactID, "ref_id", refID, "consecutive_unknowns", o.unknowns[key])
		delete(o.unknowns, key)
		return domain.LivenessExpired
	}
	return liveness
}

// CheckAll runs a check cycle over the given artifacts (all when subset is
// empty). A failing artifact is logged and skipped; the cycle continues.
func (o *Orchestrator) CheckAll(ctx context.Context, subset []string) (CheckReport, error) {
	ids, err := o.store.ListArtifactIDs(ctx, subset)
	if err != nil {
		return CheckReport{}, err
	}

	var report CheckReport
	for _, id := range ids {
		record, err := o.CheckArtifact(ctx, id)
		if err != nil {
			o.logger.Error("check failed", "artifact_id", id, "error", err)
			continue
		}
		report.Artifacts++
		if record.Status() == domain.StatusFresh {
			report.Fresh++
		} else {
			report.Stale++
		}
		for _, r := range record.Refs {
			switch r.Liveness {
			case domain.LivenessLive:
				report.Live++
			case domain.LivenessExpired:
				report.Expired++
			default:
				report.Unknown++
			}
		}
	}
	o.metrics.StaleArtifacts.Set(float64(report.Stale))
	return report, nil
}

// PlanRegeneration derives the regeneration plan from the last persisted
// liveness: exactly the expired refs, never the unknown ones.
func (o *Orchestrator) PlanRegeneration(ctx context.Context, artifactID string) (Plan, error) {
	freshness, err := o.store.Freshness(ctx, artifactID)
	if err != nil {
		return Plan{}, err
	}
	return Plan{ArtifactID: artifactID, ExpiredIDs: freshness.ExpiredRefIDs()}, nil
}

// Regenerate executes one plan. With an empty plan it is a no-op and the
// stored artifact is returned unchanged. Otherwise it re-resolves exactly
// the planned refs, re-renders the page from the persisted cluster and
// extent, atomically replaces the file, and persists the new URLs. Refs
// outside the plan keep their resolved URL byte for byte.
func (o *Orchestrator) Regenerate(ctx context.Context, plan Plan) (domain.ArtifactReference, error) {
	lock := o.lockFor(plan.ArtifactID)
	lock.Lock()
	defer lock.Unlock()

	art, err := o.store.Artifact(ctx, plan.ArtifactID)
	if err != nil {
		return domain.ArtifactReference{}, err
	}
	if len(plan.ExpiredIDs) == 0 {
		o.metrics.Regenerations.WithLabelValues("noop").Inc()
		return art, nil
	}

	planned := make(map[string]bool, len(plan.ExpiredIDs))
	for _, id := range plan.ExpiredIDs {
		if _, ok := art.RefByID(id); !ok {
			return domain.ArtifactReference{}, fmt.Errorf("regenerate %s: plan names unknown ref %s", plan.ArtifactID, id)
		}
		planned[id] = true
	}

	cluster, err := o.store.ClusterInputs(ctx, plan.ArtifactID)
	if err != nil {
		o.metrics.Regenerations.WithLabelValues("failure").Inc()
		return domain.ArtifactReference{}, err
	}

	now := domain.Clock().Now().UTC()
	refs := make([]domain.ResolvedRef, len(art.Refs))
	copy(refs, art.Refs)
	for i, rr := range refs {
		if !planned[rr.Ref.ID] {
			continue
		}
		resolved, err := o.provider.Resolve(ctx, rr.Ref)
		if err != nil {
			// The artifact stays stale and the old file stays in place.
			o.metrics.Regenerations.WithLabelValues("failure").Inc()
			return domain.ArtifactReference{}, fmt.Errorf("regenerate %s: %w", plan.ArtifactID, err)
		}
		refs[i].URLTemplate = resolved.URLTemplate
		refs[i].ResolvedAt = now
	}

	next := art
	next.Refs = refs
	next.RenderedAt = now

	if err := WriteArtifact(next.Path, o.renderer, MapInputsFor(next, cluster)); err != nil {
		o.metrics.Regenerations.WithLabelValues("failure").Inc()
		return domain.ArtifactReference{}, err
	}
	if err := o.store.ReplaceResolvedRefs(ctx, next); err != nil {
		o.metrics.Regenerations.WithLabelValues("failure").Inc()
		return domain.ArtifactReference{}, fmt.Errorf("regenerate %s: persist refs: %w", plan.ArtifactID, err)
	}

	o.metrics.Regenerations.WithLabelValues("success").Inc()
	o.logger.Info("artifact regenerated",
		"artifact_id", plan.ArtifactID, "refreshed_refs", len(plan.ExpiredIDs), "total_refs", len(refs))
	return next, nil
}

// RegenerateAll sweeps the given artifacts (all when subset is empty).
// Without force, each artifact's plan comes from its persisted liveness and
// fresh artifacts are skipped. With force, every ref of every artifact is
// re-resolved regardless of liveness. Artifacts are processed concurrently;
// one failure never stops the sweep.
func (o *Orchestrator) RegenerateAll(ctx context.Context, subset []string, force bool) (BatchReport, error) {
	ids, err := o.store.ListArtifactIDs(ctx, subset)
	if err != nil {
		return BatchReport{}, err
	}

	report := BatchReport{Failed: make(map[string]error)}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			plan, err := o.planFor(ctx, id, force)
			if err == nil && len(plan.ExpiredIDs) == 0 {
				mu.Lock()
				report.Skipped = append(report.Skipped, id)
				mu.Unlock()
				return
			}
			if err == nil {
				_, err = o.Regenerate(ctx, plan)
			}

			mu.Lock()
			if err != nil {
				o.logger.Error("regeneration failed", "artifact_id", id, "error", err)
				report.Failed[id] = err
			} else {
				report.Regenerated = append(report.Regenerated, id)
			}
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return report, nil
}

func (o *Orchestrator) planFor(ctx context.Context, artifactID string, force bool) (Plan, error) {
	if !force {
		return o.PlanRegeneration(ctx, artifactID)
	}
	art, err := o.store.Artifact(ctx, artifactID)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{ArtifactID: artifactID}
	for _, rr := range art.Refs {
		plan.ExpiredIDs = append(plan.ExpiredIDs, rr.Ref.ID)
	}
	return plan, nil
}

// MapInputsFor assembles render inputs from an artifact and its persisted
// cluster record. Every ref of an artifact carries the run's window, so the
// first one supplies it. Layer order follows ref order, so re-renders are
// stable.
func MapInputsFor(art domain.ArtifactReference, cluster domain.ClusterRecord) render.MapInputs {
	layers := make([]render.Layer, 0, len(art.Refs))
	var window domain.DateWindow
	for _, rr := range art.Refs {
		if window.Start.IsZero() {
			window = rr.Ref.Window
		}
		layers = append(layers, render.Layer{
			RefID:       rr.Ref.ID,
			Name:        rr.Ref.Recipe,
			URLTemplate: rr.URLTemplate,
		})
	}
	return render.MapInputs{
		ArtifactID: art.ArtifactID,
		RunID:      art.RunID,
		Window:     window,
		Cluster:    cluster,
		Layers:     layers,
	}
}
