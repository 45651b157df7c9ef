package artifact_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopywatch/alert-engine/internal/artifact"
	"github.com/canopywatch/alert-engine/internal/domain"
	"github.com/canopywatch/alert-engine/internal/observability"
	"github.com/canopywatch/alert-engine/internal/render"
	"github.com/canopywatch/alert-engine/internal/upstream"
)

// --- fakes ---

type fakeStore struct {
	mu        sync.Mutex
	artifacts map[string]domain.ArtifactReference
	freshness map[string]map[string]domain.RefFreshness
	clusters  map[string]domain.ClusterRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		artifacts: map[string]domain.ArtifactReference{},
		freshness: map[string]map[string]domain.RefFreshness{},
		clusters:  map[string]domain.ClusterRecord{},
	}
}

func (f *fakeStore) SaveArtifact(_ context.Context, art domain.ArtifactReference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.artifacts[art.ArtifactID]; ok {
		return fmt.Errorf("artifact %s already exists", art.ArtifactID)
	}
	f.artifacts[art.ArtifactID] = art
	f.freshness[art.ArtifactID] = map[string]domain.RefFreshness{}
	for _, rr := range art.Refs {
		f.freshness[art.ArtifactID][rr.Ref.ID] = domain.RefFreshness{
			RefID: rr.Ref.ID, Liveness: domain.LivenessLive,
		}
	}
	return nil
}

func (f *fakeStore) ReplaceResolvedRefs(_ context.Context, art domain.ArtifactReference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.artifacts[art.ArtifactID]
	if !ok {
		return fmt.Errorf("artifact %s not found", art.ArtifactID)
	}
	if len(existing.Refs) != len(art.Refs) {
		return fmt.Errorf("ref count changed")
	}
	for i := range art.Refs {
		if existing.Refs[i].Ref.ID != art.Refs[i].Ref.ID {
			return fmt.Errorf("ref metadata changed")
		}
	}
	f.artifacts[art.ArtifactID] = art
	return nil
}

func (f *fakeStore) Artifact(_ context.Context, id string) (domain.ArtifactReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	art, ok := f.artifacts[id]
	if !ok {
		return domain.ArtifactReference{}, fmt.Errorf("artifact %s not found", id)
	}
	return art, nil
}

func (f *fakeStore) ListArtifactIDs(_ context.Context, subset []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(subset) > 0 {
		for _, id := range subset {
			if _, ok := f.artifacts[id]; !ok {
				return nil, fmt.Errorf("artifact %s not found", id)
			}
		}
		return subset, nil
	}
	var ids []string
	for id := range f.artifacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) Freshness(_ context.Context, id string) (domain.FreshnessRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	art, ok := f.artifacts[id]
	if !ok {
		return domain.FreshnessRecord{}, fmt.Errorf("artifact %s not found", id)
	}
	rec := domain.FreshnessRecord{ArtifactID: id}
	for _, rr := range art.Refs {
		rec.Refs = append(rec.Refs, f.freshness[id][rr.Ref.ID])
	}
	return rec, nil
}

func (f *fakeStore) SetRefLiveness(_ context.Context, artifactID, refID string, l domain.Liveness, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	refs, ok := f.freshness[artifactID]
	if !ok {
		return fmt.Errorf("artifact %s not found", artifactID)
	}
	refs[refID] = domain.RefFreshness{RefID: refID, Liveness: l, CheckedAt: at}
	return nil
}

func (f *fakeStore) ClusterInputs(_ context.Context, artifactID string) (domain.ClusterRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clusters[artifactID]
	if !ok {
		return domain.ClusterRecord{}, &domain.MissingUpstreamDataError{
			ArtifactID: artifactID, Missing: "cluster/extent record",
		}
	}
	return c, nil
}

type fakeProvider struct {
	mu       sync.Mutex
	resolved []string
	err      error
	serial   int
}

func (p *fakeProvider) Resolve(_ context.Context, ref domain.UpstreamRef) (upstream.Resolved, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return upstream.Resolved{}, p.err
	}
	p.resolved = append(p.resolved, ref.ID)
	p.serial++
	return upstream.Resolved{
		URLTemplate: fmt.Sprintf("https://tiles.example/fresh-%d/{z}/{x}/{y}.png", p.serial),
	}, nil
}

type fakeProber struct {
	liveness map[string]domain.Liveness // by ref id
}

func (p *fakeProber) ProbeAll(_ context.Context, urls map[string]string) map[string]domain.Liveness {
	out := make(map[string]domain.Liveness, len(urls))
	for refID := range urls {
		l, ok := p.liveness[refID]
		if !ok {
			l = domain.LivenessLive
		}
		out[refID] = l
	}
	return out
}

// --- fixture ---

type fixture struct {
	store    *fakeStore
	provider *fakeProvider
	prober   *fakeProber
	orch     *artifact.Orchestrator
	art      domain.ArtifactReference
	cluster  domain.ClusterRecord
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture builds an orchestrator around one recorded artifact with three
// refs (three tile recipes over the same extent and window).
func newFixture(t *testing.T, unknownBudget int) *fixture {
	t.Helper()

	ext, err := domain.NewExtent(orb.Bound{
		Min: orb.Point{-72.95, 2.05},
		Max: orb.Point{-72.85, 2.15},
	}, 2000)
	require.NoError(t, err)
	window, err := domain.NewDateWindow(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	alert, err := domain.NewAlert("a-1", -72.9, 2.1,
		time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
		domain.ConfidenceHighest, domain.KindIntegrated)
	require.NoError(t, err)

	cluster := domain.ClusterRecord{ClusterID: 0, Alerts: []domain.Alert{alert}, Extent: ext}

	var refs []domain.ResolvedRef
	for i, recipe := range []string{"gfw_integrated_alerts", "planet_monthly", "sentinel2_quarterly"} {
		ref, err := domain.NewUpstreamRef(ext, window, recipe)
		require.NoError(t, err)
		refs = append(refs, domain.ResolvedRef{
			Ref:         ref,
			URLTemplate: fmt.Sprintf("https://tiles.example/orig-%d/{z}/{x}/{y}.png", i),
			ResolvedAt:  time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		})
	}

	art := domain.ArtifactReference{
		ArtifactID: "map-1",
		RunID:      "run-1",
		ClusterID:  0,
		Path:       filepath.Join(t.TempDir(), "incident-000.html"),
		Refs:       refs,
		RenderedAt: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}

	st := newFakeStore()
	require.NoError(t, st.SaveArtifact(context.Background(), art))
	st.clusters[art.ArtifactID] = cluster

	renderer, err := render.NewLeafletRenderer()
	require.NoError(t, err)

	// Seed the artifact file like the initial run would.
	require.NoError(t, artifact.WriteArtifact(art.Path, renderer, artifact.MapInputsFor(art, cluster)))

	provider := &fakeProvider{}
	prober := &fakeProber{liveness: map[string]domain.Liveness{}}
	orch := artifact.NewOrchestrator(
		st, provider, prober, renderer, unknownBudget,
		testLogger(), observability.NewMetricsForTesting())

	return &fixture{store: st, provider: provider, prober: prober, orch: orch, art: art, cluster: cluster}
}

func (f *fixture) refID(i int) string { return f.art.Refs[i].Ref.ID }

// --- check tests ---

func TestCheckArtifact_PersistsObservedLiveness(t *testing.T) {
	f := newFixture(t, 0)
	f.prober.liveness[f.refID(0)] = domain.LivenessLive
	f.prober.liveness[f.refID(1)] = domain.LivenessExpired
	f.prober.liveness[f.refID(2)] = domain.LivenessUnknown

	record, err := f.orch.CheckArtifact(context.Background(), "map-1")
	require.NoError(t, err)

	require.Len(t, record.Refs, 3)
	assert.Equal(t, f.refID(0), record.Refs[0].RefID)
	assert.Equal(t, domain.LivenessLive, record.Refs[0].Liveness)
	assert.Equal(t, domain.LivenessExpired, record.Refs[1].Liveness)
	assert.Equal(t, domain.LivenessUnknown, record.Refs[2].Liveness)
	assert.Equal(t, domain.StatusStale, record.Status())

	stored, err := f.store.Freshness(context.Background(), "map-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LivenessExpired, stored.Refs[1].Liveness)
}

func TestCheckAll_Counts(t *testing.T) {
	f := newFixture(t, 0)
	f.prober.liveness[f.refID(1)] = domain.LivenessExpired

	report, err := f.orch.CheckAll(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Artifacts)
	assert.Equal(t, 0, report.Fresh)
	assert.Equal(t, 1, report.Stale)
	assert.Equal(t, 2, report.Live)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 0, report.Unknown)
}

func TestCheckArtifact_UnknownBudgetPromotes(t *testing.T) {
	f := newFixture(t, 2)
	f.prober.liveness[f.refID(0)] = domain.LivenessUnknown

	// First unknown stays unknown.
	record, err := f.orch.CheckArtifact(context.Background(), "map-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LivenessUnknown, record.Refs[0].Liveness)

	// Second consecutive unknown exhausts the budget.
	record, err = f.orch.CheckArtifact(context.Background(), "map-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LivenessExpired, record.Refs[0].Liveness)
}

func TestCheckArtifact_DefinitiveProbeResetsBudget(t *testing.T) {
	f := newFixture(t, 2)
	f.prober.liveness[f.refID(0)] = domain.LivenessUnknown

	_, err := f.orch.CheckArtifact(context.Background(), "map-1")
	require.NoError(t, err)

	// A live observation resets the counter; the next unknown starts over.
	f.prober.liveness[f.refID(0)] = domain.LivenessLive
	_, err = f.orch.CheckArtifact(context.Background(), "map-1")
	require.NoError(t, err)

	f.prober.liveness[f.refID(0)] = domain.LivenessUnknown
	record, err := f.orch.CheckArtifact(context.Background(), "map-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LivenessUnknown, record.Refs[0].Liveness)
}

// --- plan tests ---

func TestPlanRegeneration_ExactlyExpired(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, f.store.SetRefLiveness(ctx, "map-1", f.refID(0), domain.LivenessLive, now))
	require.NoError(t, f.store.SetRefLiveness(ctx, "map-1", f.refID(1), domain.LivenessExpired, now))
	require.NoError(t, f.store.SetRefLiveness(ctx, "map-1", f.refID(2), domain.LivenessUnknown, now))

	plan, err := f.orch.PlanRegeneration(ctx, "map-1")
	require.NoError(t, err)
	assert.Equal(t, []string{f.refID(1)}, plan.ExpiredIDs, "unknown refs must not be planned")
}

// --- regenerate tests ---

func TestRegenerate_EmptyPlanIsNoop(t *testing.T) {
	f := newFixture(t, 0)
	before, err := os.ReadFile(f.art.Path)
	require.NoError(t, err)

	got, err := f.orch.Regenerate(context.Background(), artifact.Plan{ArtifactID: "map-1"})
	require.NoError(t, err)

	assert.Equal(t, f.art.Refs, got.Refs)
	assert.Empty(t, f.provider.resolved, "no refs may be re-resolved")

	after, err := os.ReadFile(f.art.Path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "file must be untouched")
}

func TestRegenerate_RefreshesOnlyPlannedRefs(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	got, err := f.orch.Regenerate(ctx, artifact.Plan{
		ArtifactID: "map-1",
		ExpiredIDs: []string{f.refID(1)},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{f.refID(1)}, f.provider.resolved)

	// Planned ref got a fresh URL; the others are byte-identical.
	assert.NotEqual(t, f.art.Refs[1].URLTemplate, got.Refs[1].URLTemplate)
	assert.Equal(t, f.art.Refs[0].URLTemplate, got.Refs[0].URLTemplate)
	assert.Equal(t, f.art.Refs[2].URLTemplate, got.Refs[2].URLTemplate)

	// Ref metadata never changes.
	for i := range got.Refs {
		assert.Equal(t, f.art.Refs[i].Ref, got.Refs[i].Ref)
	}

	// The store and the file both reflect the new URL.
	stored, err := f.store.Artifact(ctx, "map-1")
	require.NoError(t, err)
	assert.Equal(t, got.Refs[1].URLTemplate, stored.Refs[1].URLTemplate)

	page, err := os.ReadFile(f.art.Path)
	require.NoError(t, err)
	assert.Contains(t, string(page), got.Refs[1].URLTemplate)
	assert.Contains(t, string(page), f.art.Refs[0].URLTemplate)
}

func TestRegenerate_Idempotent(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	first, err := f.orch.Regenerate(ctx, artifact.Plan{
		ArtifactID: "map-1",
		ExpiredIDs: []string{f.refID(0)},
	})
	require.NoError(t, err)

	// After regeneration the plan is empty again; a second call is a no-op.
	plan, err := f.orch.PlanRegeneration(ctx, "map-1")
	require.NoError(t, err)
	assert.Empty(t, plan.ExpiredIDs)

	second, err := f.orch.Regenerate(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, first.Refs, second.Refs)
	assert.Len(t, f.provider.resolved, 1)
}

func TestRegenerate_MissingClusterInputs(t *testing.T) {
	f := newFixture(t, 0)
	delete(f.store.clusters, "map-1")

	before, err := os.ReadFile(f.art.Path)
	require.NoError(t, err)

	_, err = f.orch.Regenerate(context.Background(), artifact.Plan{
		ArtifactID: "map-1",
		ExpiredIDs: []string{f.refID(0)},
	})
	require.Error(t, err)

	var missing *domain.MissingUpstreamDataError
	assert.ErrorAs(t, err, &missing)

	after, err := os.ReadFile(f.art.Path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed regeneration must leave the old file")
}

func TestRegenerate_ProviderFailureKeepsOldArtifact(t *testing.T) {
	f := newFixture(t, 0)
	f.provider.err = &domain.UpstreamUnavailableError{Op: "resolve", Err: fmt.Errorf("boom")}

	before, err := os.ReadFile(f.art.Path)
	require.NoError(t, err)

	_, err = f.orch.Regenerate(context.Background(), artifact.Plan{
		ArtifactID: "map-1",
		ExpiredIDs: []string{f.refID(0)},
	})
	require.Error(t, err)

	var unavailable *domain.UpstreamUnavailableError
	assert.ErrorAs(t, err, &unavailable)

	after, err := os.ReadFile(f.art.Path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	stored, err := f.store.Artifact(context.Background(), "map-1")
	require.NoError(t, err)
	assert.Equal(t, f.art.Refs, stored.Refs, "store must keep the old refs")
}

func TestRegenerate_UnknownPlannedRef(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.orch.Regenerate(context.Background(), artifact.Plan{
		ArtifactID: "map-1",
		ExpiredIDs: []string{"ref-bogus"},
	})
	assert.Error(t, err)
}

// --- sweep tests ---

func TestRegenerateAll_SkipsFresh(t *testing.T) {
	f := newFixture(t, 0)

	report, err := f.orch.RegenerateAll(context.Background(), nil, false)
	require.NoError(t, err)

	assert.Empty(t, report.Regenerated)
	assert.Equal(t, []string{"map-1"}, report.Skipped)
	assert.Empty(t, report.Failed)
}

func TestRegenerateAll_RegeneratesExpired(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.store.SetRefLiveness(ctx, "map-1", f.refID(2), domain.LivenessExpired, time.Now().UTC()))

	report, err := f.orch.RegenerateAll(ctx, nil, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"map-1"}, report.Regenerated)
	assert.Equal(t, []string{f.refID(2)}, f.provider.resolved)
}

func TestRegenerateAll_ForceResolvesEverything(t *testing.T) {
	f := newFixture(t, 0)

	report, err := f.orch.RegenerateAll(context.Background(), nil, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"map-1"}, report.Regenerated)
	assert.ElementsMatch(t, []string{f.refID(0), f.refID(1), f.refID(2)}, f.provider.resolved)
}
