package domain

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExtent(t *testing.T) Extent {
	t.Helper()
	ext, err := NewExtent(orb.Bound{
		Min: orb.Point{-72.95, 2.05},
		Max: orb.Point{-72.85, 2.15},
	}, 2000)
	require.NoError(t, err)
	return ext
}

func testWindow(t *testing.T) DateWindow {
	t.Helper()
	w, err := NewDateWindow(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return w
}

func TestNewUpstreamRef_DeterministicID(t *testing.T) {
	ext := testExtent(t)
	window := testWindow(t)

	r1, err := NewUpstreamRef(ext, window, "gfw_integrated_alerts")
	require.NoError(t, err)
	r2, err := NewUpstreamRef(ext, window, "gfw_integrated_alerts")
	require.NoError(t, err)

	assert.Equal(t, r1.ID, r2.ID)
	assert.Regexp(t, `^ref-[0-9a-f]{16}$`, r1.ID)
}

func TestNewUpstreamRef_IDVariesWithInputs(t *testing.T) {
	ext := testExtent(t)
	window := testWindow(t)

	base, err := NewUpstreamRef(ext, window, "gfw_integrated_alerts")
	require.NoError(t, err)

	otherRecipe, err := NewUpstreamRef(ext, window, "planet_monthly")
	require.NoError(t, err)
	assert.NotEqual(t, base.ID, otherRecipe.ID)

	otherWindow, err := NewDateWindow(
		time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	shifted, err := NewUpstreamRef(ext, otherWindow, "gfw_integrated_alerts")
	require.NoError(t, err)
	assert.NotEqual(t, base.ID, shifted.ID)
}

func TestNewUpstreamRef_EmptyRecipe(t *testing.T) {
	_, err := NewUpstreamRef(testExtent(t), testWindow(t), "")
	assert.Error(t, err)
}

func TestFreshnessRecord_Status(t *testing.T) {
	now := time.Now().UTC()

	cases := []struct {
		name     string
		liveness []Liveness
		want     ArtifactStatus
	}{
		{"all live", []Liveness{LivenessLive, LivenessLive}, StatusFresh},
		{"one expired", []Liveness{LivenessLive, LivenessExpired}, StatusStale},
		{"one unknown", []Liveness{LivenessLive, LivenessUnknown}, StatusStale},
		{"all expired", []Liveness{LivenessExpired}, StatusStale},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			record := FreshnessRecord{ArtifactID: "map-1"}
			for i, l := range tc.liveness {
				record.Refs = append(record.Refs, RefFreshness{
					RefID: string(rune('a' + i)), Liveness: l, CheckedAt: now,
				})
			}
			assert.Equal(t, tc.want, record.Status())
		})
	}
}

func TestFreshnessRecord_ExpiredRefIDs_ExcludesUnknown(t *testing.T) {
	now := time.Now().UTC()
	record := FreshnessRecord{
		ArtifactID: "map-1",
		Refs: []RefFreshness{
			{RefID: "ref-live", Liveness: LivenessLive, CheckedAt: now},
			{RefID: "ref-expired", Liveness: LivenessExpired, CheckedAt: now},
			{RefID: "ref-unknown", Liveness: LivenessUnknown, CheckedAt: now},
		},
	}

	assert.Equal(t, []string{"ref-expired"}, record.ExpiredRefIDs())
	assert.Equal(t, StatusStale, record.Status())
}

func TestArtifactReference_RefByID(t *testing.T) {
	ref, err := NewUpstreamRef(testExtent(t), testWindow(t), "gfw_integrated_alerts")
	require.NoError(t, err)

	art := ArtifactReference{
		ArtifactID: "map-1",
		Refs:       []ResolvedRef{{Ref: ref, URLTemplate: "https://tiles.example/{z}/{x}/{y}.png"}},
	}

	got, ok := art.RefByID(ref.ID)
	assert.True(t, ok)
	assert.Equal(t, "https://tiles.example/{z}/{x}/{y}.png", got.URLTemplate)

	_, ok = art.RefByID("ref-missing")
	assert.False(t, ok)
}
