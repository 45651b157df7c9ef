package domain

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// NoiseID marks alerts not dense enough to form an incident.
const NoiseID = -1

// Extent is an axis-aligned rectangular geographic polygon covering an
// incident, already expanded by the run's buffer distance. It is derived by
// buffering in a metric frame and re-expressed in geographic coordinates,
// so it is never degenerate: Min < Max on both axes for any member count.
type Extent struct {
	Bound        orb.Bound `json:"bound"`
	BufferMeters float64   `json:"buffer_meters"`
}

// NewExtent validates that the bound is a proper rectangle.
func NewExtent(b orb.Bound, bufferMeters float64) (Extent, error) {
	if b.Min[0] >= b.Max[0] || b.Min[1] >= b.Max[1] {
		return Extent{}, fmt.Errorf("extent: %w", &InvalidGeometryError{
			Reason: fmt.Sprintf("degenerate bound %v", b),
		})
	}
	if bufferMeters <= 0 {
		return Extent{}, fmt.Errorf("extent: buffer must be positive, got %g", bufferMeters)
	}
	return Extent{Bound: b, BufferMeters: bufferMeters}, nil
}

// Polygon returns the extent as a closed counter-clockwise ring.
func (e Extent) Polygon() orb.Polygon {
	return orb.Polygon{e.Bound.ToRing()}
}

// Center returns the geographic midpoint of the extent.
func (e Extent) Center() orb.Point {
	return e.Bound.Center()
}

// ClusterRecord is one incident produced by an analysis run: the member
// alerts, the cluster id, and the derived Extent. Records are written once
// per run and read-only afterwards; regeneration consumes them verbatim.
type ClusterRecord struct {
	ClusterID int     `json:"cluster_id"`
	Alerts    []Alert `json:"alerts"`
	Extent    Extent  `json:"extent"`
}

// RunParams are the explicit analysis inputs. Nothing here is read from
// ambient process state.
type RunParams struct {
	Window       DateWindow `json:"window"`
	EpsMeters    float64    `json:"eps_meters"`
	MinMembers   int        `json:"min_members"`
	BufferMeters float64    `json:"buffer_meters"`
}

// RunRecord is the persisted output of one analysis run.
type RunRecord struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	AOI       orb.Polygon     `json:"aoi"`
	Params    RunParams       `json:"params"`
	Clusters  []ClusterRecord `json:"clusters"`
	Summary   map[string]int  `json:"summary"`
}

// RunSummary is the lightweight record published after a run completes.
type RunSummary struct {
	RunID         string         `json:"run_id"`
	Window        DateWindow     `json:"window"`
	AlertCount    int            `json:"alert_count"`
	ClusterCount  int            `json:"cluster_count"`
	NoiseCount    int            `json:"noise_count"`
	ArtifactCount int            `json:"artifact_count"`
	Confidences   map[string]int `json:"confidences"`
	CompletedAt   time.Time      `json:"completed_at"`
}
