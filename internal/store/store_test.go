package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopywatch/alert-engine/internal/domain"
	"github.com/canopywatch/alert-engine/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testWindow(t *testing.T) domain.DateWindow {
	t.Helper()
	w, err := domain.NewDateWindow(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return w
}

func testAlert(t *testing.T, id string, lon, lat float64) domain.Alert {
	t.Helper()
	a, err := domain.NewAlert(id, lon, lat,
		time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
		domain.ConfidenceHighest, domain.KindIntegrated)
	require.NoError(t, err)
	return a
}

func testExtent(t *testing.T) domain.Extent {
	t.Helper()
	ext, err := domain.NewExtent(orb.Bound{
		Min: orb.Point{-72.95, 2.05},
		Max: orb.Point{-72.85, 2.15},
	}, 2000)
	require.NoError(t, err)
	return ext
}

func testAOI() orb.Polygon {
	return orb.Polygon{{
		{-73.5, 1.5}, {-72.1, 1.5}, {-72.1, 2.7}, {-73.5, 2.7}, {-73.5, 1.5},
	}}
}

func testRun(t *testing.T, id string) domain.RunRecord {
	t.Helper()
	return domain.RunRecord{
		ID:        id,
		CreatedAt: time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
		AOI:       testAOI(),
		Params: domain.RunParams{
			Window:       testWindow(t),
			EpsMeters:    2500,
			MinMembers:   3,
			BufferMeters: 2000,
		},
		Clusters: []domain.ClusterRecord{{
			ClusterID: 0,
			Alerts: []domain.Alert{
				testAlert(t, "a-1", -72.90, 2.10),
				testAlert(t, "a-2", -72.89, 2.11),
				testAlert(t, "a-3", -72.91, 2.09),
			},
			Extent: testExtent(t),
		}},
		Summary: map[string]int{"highest": 3, "high": 0, "nominal": 0, "total": 3},
	}
}

func testArtifact(t *testing.T, id, runID string) domain.ArtifactReference {
	t.Helper()
	ref, err := domain.NewUpstreamRef(testExtent(t), testWindow(t), "gfw_integrated_alerts")
	require.NoError(t, err)
	return domain.ArtifactReference{
		ArtifactID: id,
		RunID:      runID,
		ClusterID:  0,
		Path:       "/artifacts/" + id + ".html",
		Refs: []domain.ResolvedRef{{
			Ref:         ref,
			URLTemplate: "https://tiles.example/" + id + "/{z}/{x}/{y}.png",
			ResolvedAt:  time.Date(2024, 4, 1, 12, 5, 0, 0, time.UTC),
		}},
		RenderedAt: time.Date(2024, 4, 1, 12, 5, 0, 0, time.UTC),
	}
}

func TestSaveRun_RoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	run := testRun(t, "run-1")

	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.Run(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, run.ID, got.ID)
	assert.True(t, run.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, run.Params.Window, got.Params.Window)
	assert.Equal(t, run.Params.EpsMeters, got.Params.EpsMeters)
	assert.Equal(t, run.Summary, got.Summary)
	require.Len(t, got.Clusters, 1)

	// Geometry round-trips exactly: regeneration must see the same extent
	// the run derived.
	if diff := cmp.Diff(run.Clusters[0], got.Clusters[0]); diff != "" {
		t.Errorf("cluster record mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, run.AOI, got.AOI)
}

func TestRun_NotFound(t *testing.T) {
	s := openStore(t)

	_, err := s.Run(context.Background(), "run-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveArtifact_RoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, testRun(t, "run-1")))
	art := testArtifact(t, "map-1", "run-1")
	require.NoError(t, s.SaveArtifact(ctx, art))

	got, err := s.Artifact(ctx, "map-1")
	require.NoError(t, err)
	assert.Equal(t, art.ArtifactID, got.ArtifactID)
	assert.Equal(t, art.Path, got.Path)
	require.Len(t, got.Refs, 1)
	assert.Equal(t, art.Refs[0].Ref, got.Refs[0].Ref)
	assert.Equal(t, art.Refs[0].URLTemplate, got.Refs[0].URLTemplate)
}

func TestSaveArtifact_RejectsEmptyRefs(t *testing.T) {
	s := openStore(t)

	err := s.SaveArtifact(context.Background(), domain.ArtifactReference{ArtifactID: "map-1"})
	assert.Error(t, err)
}

func TestFreshness_DefaultsToLiveAfterSave(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, testRun(t, "run-1")))
	art := testArtifact(t, "map-1", "run-1")
	require.NoError(t, s.SaveArtifact(ctx, art))

	rec, err := s.Freshness(ctx, "map-1")
	require.NoError(t, err)
	require.Len(t, rec.Refs, 1)
	assert.Equal(t, domain.LivenessLive, rec.Refs[0].Liveness)
	assert.Equal(t, domain.StatusFresh, rec.Status())
}

func TestSetRefLiveness_UpdatesFreshness(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, testRun(t, "run-1")))
	art := testArtifact(t, "map-1", "run-1")
	require.NoError(t, s.SaveArtifact(ctx, art))

	checked := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	refID := art.Refs[0].Ref.ID
	require.NoError(t, s.SetRefLiveness(ctx, "map-1", refID, domain.LivenessExpired, checked))

	rec, err := s.Freshness(ctx, "map-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LivenessExpired, rec.Refs[0].Liveness)
	assert.Equal(t, []string{refID}, rec.ExpiredRefIDs())

	err = s.SetRefLiveness(ctx, "map-1", "ref-missing", domain.LivenessLive, checked)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReplaceResolvedRefs_SwapsURLOnly(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, testRun(t, "run-1")))
	art := testArtifact(t, "map-1", "run-1")
	require.NoError(t, s.SaveArtifact(ctx, art))

	next := art
	next.Refs = append([]domain.ResolvedRef(nil), art.Refs...)
	next.Refs[0].URLTemplate = "https://tiles.example/fresh/{z}/{x}/{y}.png"
	next.Refs[0].ResolvedAt = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	next.RenderedAt = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.ReplaceResolvedRefs(ctx, next))

	got, err := s.Artifact(ctx, "map-1")
	require.NoError(t, err)
	assert.Equal(t, "https://tiles.example/fresh/{z}/{x}/{y}.png", got.Refs[0].URLTemplate)
	assert.Equal(t, art.Refs[0].Ref, got.Refs[0].Ref, "ref metadata must not change")
}

func TestReplaceResolvedRefs_RejectsMetadataChange(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, testRun(t, "run-1")))
	art := testArtifact(t, "map-1", "run-1")
	require.NoError(t, s.SaveArtifact(ctx, art))

	// Swap in a ref with different metadata (different recipe, new id).
	other, err := domain.NewUpstreamRef(testExtent(t), testWindow(t), "planet_monthly")
	require.NoError(t, err)
	next := art
	next.Refs = []domain.ResolvedRef{{Ref: other, URLTemplate: "https://x/{z}/{x}/{y}"}}

	assert.Error(t, s.ReplaceResolvedRefs(ctx, next))

	// Changing the count is rejected too.
	next = art
	next.Refs = append(append([]domain.ResolvedRef(nil), art.Refs...), domain.ResolvedRef{Ref: other})
	assert.Error(t, s.ReplaceResolvedRefs(ctx, next))
}

func TestClusterInputs_BacksArtifact(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	run := testRun(t, "run-1")
	require.NoError(t, s.SaveRun(ctx, run))
	require.NoError(t, s.SaveArtifact(ctx, testArtifact(t, "map-1", "run-1")))

	cluster, err := s.ClusterInputs(ctx, "map-1")
	require.NoError(t, err)
	assert.Equal(t, 0, cluster.ClusterID)
	assert.Equal(t, run.Clusters[0].Extent.Bound, cluster.Extent.Bound)
	assert.Len(t, cluster.Alerts, 3)
}

func TestClusterInputs_MissingRecord(t *testing.T) {
	s := openStore(t)

	_, err := s.ClusterInputs(context.Background(), "map-ghost")
	require.Error(t, err)

	var missing *domain.MissingUpstreamDataError
	assert.ErrorAs(t, err, &missing)
	assert.Equal(t, "map-ghost", missing.ArtifactID)
}

func TestListArtifactIDs_SubsetValidation(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, testRun(t, "run-1")))
	require.NoError(t, s.SaveArtifact(ctx, testArtifact(t, "map-a", "run-1")))

	art := testArtifact(t, "map-b", "run-1")
	art.ClusterID = 0
	require.NoError(t, s.SaveArtifact(ctx, art))

	all, err := s.ListArtifactIDs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"map-a", "map-b"}, all)

	subset, err := s.ListArtifactIDs(ctx, []string{"map-b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"map-b"}, subset)

	_, err = s.ListArtifactIDs(ctx, []string{"map-b", "map-typo"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
