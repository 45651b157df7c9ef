package extent_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopywatch/alert-engine/internal/domain"
	"github.com/canopywatch/alert-engine/internal/extent"
	"github.com/canopywatch/alert-engine/internal/geo"
)

func makeAlert(t *testing.T, id string, lon, lat float64) domain.Alert {
	t.Helper()
	a, err := domain.NewAlert(id, lon, lat,
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		domain.ConfidenceHighest, domain.KindIntegrated)
	require.NoError(t, err)
	return a
}

func TestBuild_SinglePointIsBufferSquare(t *testing.T) {
	center := makeAlert(t, "solo", -74.0, 4.6)
	const buffer = 2000.0

	ext, err := extent.Build([]domain.Alert{center}, buffer)
	require.NoError(t, err)

	b := ext.Bound
	require.Less(t, b.Min[0], b.Max[0])
	require.Less(t, b.Min[1], b.Max[1])

	// A lone point buffered by 2 km must produce a ~4 km x 4 km rectangle
	// centered on the point.
	width := geo.Distance(
		[2]float64{b.Min[0], center.Lat},
		[2]float64{b.Max[0], center.Lat})
	height := geo.Distance(
		[2]float64{center.Lon, b.Min[1]},
		[2]float64{center.Lon, b.Max[1]})
	assert.InDelta(t, 2*buffer, width, 2*buffer*0.01)
	assert.InDelta(t, 2*buffer, height, 2*buffer*0.01)

	c := b.Center()
	assert.InDelta(t, center.Lon, c[0], 1e-4)
	assert.InDelta(t, center.Lat, c[1], 1e-4)
}

func TestBuild_ContainsAllMembersWithMargin(t *testing.T) {
	alerts := []domain.Alert{
		makeAlert(t, "a", -72.90, 2.10),
		makeAlert(t, "b", -72.87, 2.13),
		makeAlert(t, "c", -72.93, 2.08),
	}
	const buffer = 1500.0

	ext, err := extent.Build(alerts, buffer)
	require.NoError(t, err)

	for _, a := range alerts {
		assert.True(t, ext.Bound.Contains(a.Point()), "alert %s outside extent", a.ID)

		// Every member keeps at least the buffer distance to each edge,
		// within projection tolerance.
		for _, edge := range []float64{
			geo.Distance(a.Point(), [2]float64{ext.Bound.Min[0], a.Lat}),
			geo.Distance(a.Point(), [2]float64{ext.Bound.Max[0], a.Lat}),
			geo.Distance(a.Point(), [2]float64{a.Lon, ext.Bound.Min[1]}),
			geo.Distance(a.Point(), [2]float64{a.Lon, ext.Bound.Max[1]}),
		} {
			assert.GreaterOrEqual(t, edge, buffer*0.99, "alert %s too close to an edge", a.ID)
		}
	}
}

func TestBuild_OrderIndependent(t *testing.T) {
	alerts := []domain.Alert{
		makeAlert(t, "a", -72.90, 2.10),
		makeAlert(t, "b", -72.87, 2.13),
		makeAlert(t, "c", -72.93, 2.08),
		makeAlert(t, "d", -72.89, 2.15),
	}

	baseline, err := extent.Build(alerts, 2000)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 5; trial++ {
		shuffled := append([]domain.Alert(nil), alerts...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got, err := extent.Build(shuffled, 2000)
		require.NoError(t, err)
		assert.InDelta(t, baseline.Bound.Min[0], got.Bound.Min[0], 1e-9, "trial %d", trial)
		assert.InDelta(t, baseline.Bound.Min[1], got.Bound.Min[1], 1e-9, "trial %d", trial)
		assert.InDelta(t, baseline.Bound.Max[0], got.Bound.Max[0], 1e-9, "trial %d", trial)
		assert.InDelta(t, baseline.Bound.Max[1], got.Bound.Max[1], 1e-9, "trial %d", trial)
	}
}

func TestBuild_EmptyInput(t *testing.T) {
	_, err := extent.Build(nil, 2000)
	require.Error(t, err)

	var insufficient *domain.InsufficientDataError
	assert.ErrorAs(t, err, &insufficient)
}

func TestBuild_RejectsNonPositiveBuffer(t *testing.T) {
	alerts := []domain.Alert{makeAlert(t, "a", -72.9, 2.1)}

	_, err := extent.Build(alerts, 0)
	assert.Error(t, err)

	_, err = extent.Build(alerts, -100)
	assert.Error(t, err)
}
