// Package cluster groups alert points into incidents with density-based
// clustering (DBSCAN) over a single locally selected metric frame.
//
// Determinism: the assignment is invariant to input ordering. Points are
// visited in a canonical order (lon, then lat, then id) and cluster ids are
// issued in discovery order under that sort, so a border point reachable
// from two clusters always joins the one discovered first canonically.
package cluster

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"

	"github.com/canopywatch/alert-engine/internal/domain"
	"github.com/canopywatch/alert-engine/internal/geo"
)

// Mode selects how the eps threshold is obtained.
type Mode string

const (
	// ModeFixed uses the configured EpsMeters as-is.
	ModeFixed Mode = "fixed"
	// ModeAdaptive derives eps from local point density: the median
	// distance to the MinMembers-th nearest neighbor, scaled by
	// AdaptiveMultiplier and clamped to [MinEpsMeters, MaxEpsMeters].
	ModeAdaptive Mode = "adaptive"
)

// Config are the explicit clustering inputs.
type Config struct {
	Mode       Mode
	EpsMeters  float64 // fixed mode
	MinMembers int

	// Adaptive mode bounds.
	AdaptiveMultiplier float64
	MinEpsMeters       float64
	MaxEpsMeters       float64
}

// Result is a complete clustering outcome. IDs aligns with the input slice:
// IDs[i] is the cluster of alerts[i], domain.NoiseID for noise.
type Result struct {
	IDs       []int
	EpsMeters float64
	Clusters  map[int][]domain.Alert
}

// Assign clusters the alerts. It fails with InsufficientDataError only on a
// truly empty input; a sparse input yields an all-noise assignment.
func Assign(alerts []domain.Alert, cfg Config) (Result, error) {
	if len(alerts) == 0 {
		return Result{}, &domain.InsufficientDataError{Op: "cluster", Needed: 1, Got: 0}
	}
	if cfg.MinMembers < 1 {
		return Result{}, fmt.Errorf("cluster: min members must be >= 1, got %d", cfg.MinMembers)
	}

	points := make([]orb.Point, len(alerts))
	for i, a := range alerts {
		points[i] = a.Point()
	}

	// One frame for the whole batch, selected from the full point set.
	frame, err := geo.SelectFrame(points)
	if err != nil {
		return Result{}, fmt.Errorf("cluster: %w", err)
	}
	projected, err := frame.ProjectAll(points)
	if err != nil {
		return Result{}, fmt.Errorf("cluster: %w", err)
	}

	// Canonical visit order: by geographic lon, lat, then alert id.
	order := make([]int, len(alerts))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		pa, pb := alerts[order[a]], alerts[order[b]]
		if pa.Lon != pb.Lon {
			return pa.Lon < pb.Lon
		}
		if pa.Lat != pb.Lat {
			return pa.Lat < pb.Lat
		}
		return pa.ID < pb.ID
	})

	eps, err := resolveEps(cfg, projected, order)
	if err != nil {
		return Result{}, err
	}

	ids := scan(projected, order, eps, cfg.MinMembers)

	clusters := make(map[int][]domain.Alert)
	for _, i := range order {
		clusters[ids[i]] = append(clusters[ids[i]], alerts[i])
	}
	return Result{IDs: ids, EpsMeters: eps, Clusters: clusters}, nil
}

// scan is the DBSCAN pass over projected coordinates. The neighbor count of
// a point includes the point itself, so minMembers points within eps of one
// another always form a cluster.
func scan(pts []orb.Point, order []int, eps float64, minMembers int) []int {
	idx := newGridIndex(pts, eps)
	ids := make([]int, len(pts))
	for i := range ids {
		ids[i] = domain.NoiseID
	}

	next := 0
	for _, seed := range order {
		if ids[seed] != domain.NoiseID {
			continue
		}
		neighbors := idx.within(seed, eps)
		if len(neighbors) < minMembers {
			continue // not a core point; may still be claimed as a border point later
		}

		id := next
		next++
		ids[seed] = id

		// Breadth-first expansion; the queue is kept canonically sorted so
		// the expansion order never depends on input permutation.
		queue := sortByOrder(neighbors, order, len(pts))
		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			if ids[p] != domain.NoiseID {
				continue
			}
			ids[p] = id

			reach := idx.within(p, eps)
			if len(reach) < minMembers {
				continue // border point: joins the cluster but does not expand it
			}
			queue = append(queue, sortByOrder(reach, order, len(pts))...)
		}
	}
	return ids
}

// resolveEps applies the configured eps policy over the projected batch.
func resolveEps(cfg Config, projected []orb.Point, order []int) (float64, error) {
	switch cfg.Mode {
	case ModeFixed, "":
		if cfg.EpsMeters <= 0 {
			return 0, fmt.Errorf("cluster: eps must be positive, got %g", cfg.EpsMeters)
		}
		return cfg.EpsMeters, nil
	case ModeAdaptive:
		if cfg.AdaptiveMultiplier <= 0 || cfg.MinEpsMeters <= 0 || cfg.MaxEpsMeters < cfg.MinEpsMeters {
			return 0, fmt.Errorf("cluster: invalid adaptive eps bounds")
		}
		eps := adaptiveEps(projected, order, cfg.MinMembers) * cfg.AdaptiveMultiplier
		return math.Min(math.Max(eps, cfg.MinEpsMeters), cfg.MaxEpsMeters), nil
	default:
		return 0, fmt.Errorf("cluster: unknown mode %q", cfg.Mode)
	}
}

// adaptiveEps returns the median distance to the k-th nearest neighbor
// (k = minMembers-1, at least 1) across the batch. Quadratic, acceptable at
// the alert volumes of a single study area.
func adaptiveEps(pts []orb.Point, order []int, minMembers int) float64 {
	k := minMembers - 1
	if k < 1 {
		k = 1
	}
	if len(pts) <= k {
		k = len(pts) - 1
	}
	if k < 1 {
		return 0
	}

	kth := make([]float64, 0, len(pts))
	for _, i := range order {
		dists := make([]float64, 0, len(pts)-1)
		for j := range pts {
			if j == i {
				continue
			}
			dists = append(dists, planarDist(pts[i], pts[j]))
		}
		sort.Float64s(dists)
		kth = append(kth, dists[k-1])
	}
	sort.Float64s(kth)
	return kth[len(kth)/2]
}

// sortByOrder returns the indices sorted by their canonical rank.
func sortByOrder(indices []int, order []int, n int) []int {
	rank := rankOf(order, n)
	out := append([]int(nil), indices...)
	sort.Slice(out, func(a, b int) bool { return rank[out[a]] < rank[out[b]] })
	return out
}

func rankOf(order []int, n int) []int {
	rank := make([]int, n)
	for r, i := range order {
		rank[i] = r
	}
	return rank
}

func planarDist(a, b orb.Point) float64 {
	return math.Hypot(a[0]-b[0], a[1]-b[1])
}

// gridIndex is a uniform hash grid with eps-sized cells, so a radius query
// only inspects the 3x3 cell neighborhood.
type gridIndex struct {
	cell  float64
	cells map[[2]int][]int
	pts   []orb.Point
}

func newGridIndex(pts []orb.Point, cell float64) *gridIndex {
	g := &gridIndex{cell: cell, cells: make(map[[2]int][]int), pts: pts}
	for i, p := range pts {
		key := g.key(p)
		g.cells[key] = append(g.cells[key], i)
	}
	return g
}

func (g *gridIndex) key(p orb.Point) [2]int {
	return [2]int{int(math.Floor(p[0] / g.cell)), int(math.Floor(p[1] / g.cell))}
}

// within returns all points within eps of point i, including i itself.
func (g *gridIndex) within(i int, eps float64) []int {
	center := g.key(g.pts[i])
	var out []int
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for _, j := range g.cells[[2]int{center[0] + dx, center[1] + dy}] {
				if planarDist(g.pts[i], g.pts[j]) <= eps {
					out = append(out, j)
				}
			}
		}
	}
	return out
}
