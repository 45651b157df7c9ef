// Package extent derives the rectangular geographic Extent of an incident.
//
// The order of operations is fixed: project, buffer every point by the
// ground distance, envelope the union in projected space, then unproject.
// Buffering first and enveloping second is what makes a single-point
// cluster a proper 2*buffer-wide rectangle instead of a degenerate hull;
// no alternative path (hull-then-buffer, or a degrees-per-meter constant)
// is provided.
package extent

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/canopywatch/alert-engine/internal/domain"
	"github.com/canopywatch/alert-engine/internal/geo"
)

// Build derives the Extent of a cluster. The frame is selected from the
// cluster's own points, every point is buffered by bufferMeters, and the
// axis-aligned envelope of the buffered union is re-expressed
// geographically. The result is order-independent: for identical point sets
// in any order, the coordinates match within projection tolerance.
func Build(alerts []domain.Alert, bufferMeters float64) (domain.Extent, error) {
	if len(alerts) == 0 {
		return domain.Extent{}, &domain.InsufficientDataError{Op: "extent", Needed: 1, Got: 0}
	}
	if bufferMeters <= 0 {
		return domain.Extent{}, fmt.Errorf("extent: buffer must be positive, got %g", bufferMeters)
	}

	points := make([]orb.Point, len(alerts))
	for i, a := range alerts {
		points[i] = a.Point()
	}

	frame, err := geo.SelectFrame(points)
	if err != nil {
		return domain.Extent{}, fmt.Errorf("extent: %w", err)
	}
	projected, err := frame.ProjectAll(points)
	if err != nil {
		return domain.Extent{}, fmt.Errorf("extent: %w", err)
	}

	// Envelope of the union of per-point disks: the point bound padded by
	// the buffer radius on every side. Exact, and trivially independent of
	// point order.
	bound := orb.MultiPoint(projected).Bound()
	padded := orb.Bound{
		Min: orb.Point{bound.Min[0] - bufferMeters, bound.Min[1] - bufferMeters},
		Max: orb.Point{bound.Max[0] + bufferMeters, bound.Max[1] + bufferMeters},
	}

	geographic, err := frame.UnprojectBound(padded)
	if err != nil {
		return domain.Extent{}, fmt.Errorf("extent: %w", err)
	}
	return domain.NewExtent(geographic, bufferMeters)
}
