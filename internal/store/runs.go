package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/canopywatch/alert-engine/internal/domain"
)

// ErrNotFound is returned when a run or artifact id is unknown.
var ErrNotFound = errors.New("not found")

const timeLayout = time.RFC3339Nano

// SaveRun persists a run and its cluster records in one transaction.
// Cluster records are immutable once written; later regeneration only
// reads them.
func (s *Store) SaveRun(ctx context.Context, run domain.RunRecord) error {
	aoiJSON, err := json.Marshal(geojson.NewGeometry(run.AOI))
	if err != nil {
		return fmt.Errorf("encode aoi: %w", err)
	}
	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	return s.transact(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, created_at, window_start, window_end, aoi_geojson, eps_meters, min_members, buffer_meters, summary_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID,
			run.CreatedAt.UTC().Format(timeLayout),
			run.Params.Window.Start.Format(time.DateOnly),
			run.Params.Window.End.Format(time.DateOnly),
			string(aoiJSON),
			run.Params.EpsMeters,
			run.Params.MinMembers,
			run.Params.BufferMeters,
			string(summaryJSON),
		)
		if err != nil {
			return fmt.Errorf("insert run %s: %w", run.ID, err)
		}

		for _, c := range run.Clusters {
			members, err := encodeMembers(c.Alerts)
			if err != nil {
				return err
			}
			ext, err := json.Marshal(geojson.NewGeometry(c.Extent.Polygon()))
			if err != nil {
				return fmt.Errorf("encode extent: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO run_clusters (run_id, cluster_id, members_geojson, extent_geojson, buffer_meters)
				VALUES (?, ?, ?, ?, ?)`,
				run.ID, c.ClusterID, members, string(ext), c.Extent.BufferMeters,
			)
			if err != nil {
				return fmt.Errorf("insert cluster %d of run %s: %w", c.ClusterID, run.ID, err)
			}
		}
		return nil
	})
}

// Run loads a run record with all its clusters.
func (s *Store) Run(ctx context.Context, runID string) (domain.RunRecord, error) {
	var (
		run                   domain.RunRecord
		createdAt, start, end string
		aoiJSON, summaryJSON  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, window_start, window_end, aoi_geojson, eps_meters, min_members, buffer_meters, summary_json
		FROM runs WHERE id = ?`, runID).
		Scan(&run.ID, &createdAt, &start, &end, &aoiJSON,
			&run.Params.EpsMeters, &run.Params.MinMembers, &run.Params.BufferMeters, &summaryJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunRecord{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("load run %s: %w", runID, err)
	}

	if run.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return domain.RunRecord{}, fmt.Errorf("parse run created_at: %w", err)
	}
	if run.Params.Window, err = parseWindow(start, end); err != nil {
		return domain.RunRecord{}, err
	}
	if run.AOI, err = decodePolygon(aoiJSON); err != nil {
		return domain.RunRecord{}, fmt.Errorf("decode aoi: %w", err)
	}
	if err := json.Unmarshal([]byte(summaryJSON), &run.Summary); err != nil {
		return domain.RunRecord{}, fmt.Errorf("decode summary: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT cluster_id, members_geojson, extent_geojson, buffer_meters
		FROM run_clusters WHERE run_id = ? ORDER BY cluster_id`, runID)
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("load clusters of run %s: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return domain.RunRecord{}, err
		}
		run.Clusters = append(run.Clusters, c)
	}
	return run, rows.Err()
}

// ClusterInputs loads the persisted cluster record backing an artifact.
// Returns MissingUpstreamDataError when either the artifact or its cluster
// record is gone; regeneration must fail for that artifact, not recompute.
func (s *Store) ClusterInputs(ctx context.Context, artifactID string) (domain.ClusterRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT rc.cluster_id, rc.members_geojson, rc.extent_geojson, rc.buffer_meters
		FROM artifacts a
		JOIN run_clusters rc ON rc.run_id = a.run_id AND rc.cluster_id = a.cluster_id
		WHERE a.id = ?`, artifactID)

	c, err := scanCluster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ClusterRecord{}, &domain.MissingUpstreamDataError{
			ArtifactID: artifactID,
			Missing:    "cluster/extent record",
		}
	}
	if err != nil {
		return domain.ClusterRecord{}, fmt.Errorf("load cluster inputs for %s: %w", artifactID, err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCluster(r rowScanner) (domain.ClusterRecord, error) {
	var (
		c            domain.ClusterRecord
		members, ext string
		buffer       float64
	)
	if err := r.Scan(&c.ClusterID, &members, &ext, &buffer); err != nil {
		return domain.ClusterRecord{}, err
	}
	alerts, err := decodeMembers(members)
	if err != nil {
		return domain.ClusterRecord{}, err
	}
	c.Alerts = alerts

	poly, err := decodePolygon(ext)
	if err != nil {
		return domain.ClusterRecord{}, fmt.Errorf("decode extent: %w", err)
	}
	c.Extent, err = domain.NewExtent(poly.Bound(), buffer)
	if err != nil {
		return domain.ClusterRecord{}, err
	}
	return c, nil
}

// encodeMembers serializes alerts as a GeoJSON FeatureCollection of points
// with the alert attributes as feature properties.
func encodeMembers(alerts []domain.Alert) (string, error) {
	fc := geojson.NewFeatureCollection()
	for _, a := range alerts {
		f := geojson.NewFeature(a.Point())
		f.ID = a.ID
		f.Properties = geojson.Properties{
			"id":          a.ID,
			"kind":        string(a.Kind),
			"confidence":  string(a.Confidence),
			"detected_at": a.DetectedAt.UTC().Format(timeLayout),
		}
		fc.Append(f)
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return "", fmt.Errorf("encode members: %w", err)
	}
	return string(data), nil
}

func decodeMembers(data string) ([]domain.Alert, error) {
	fc, err := geojson.UnmarshalFeatureCollection([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	alerts := make([]domain.Alert, 0, len(fc.Features))
	for _, f := range fc.Features {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, fmt.Errorf("decode members: unexpected geometry %T", f.Geometry)
		}
		detectedAt, err := time.Parse(timeLayout, f.Properties.MustString("detected_at", ""))
		if err != nil {
			return nil, fmt.Errorf("decode member detected_at: %w", err)
		}
		a, err := domain.NewAlert(
			f.Properties.MustString("id", ""),
			p[0], p[1],
			detectedAt,
			domain.Confidence(f.Properties.MustString("confidence", "")),
			domain.AlertKind(f.Properties.MustString("kind", "")),
		)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

func decodePolygon(data string) (orb.Polygon, error) {
	g, err := geojson.UnmarshalGeometry([]byte(data))
	if err != nil {
		return nil, err
	}
	poly, ok := g.Geometry().(orb.Polygon)
	if !ok {
		return nil, fmt.Errorf("unexpected geometry %T", g.Geometry())
	}
	return poly, nil
}

func parseWindow(start, end string) (domain.DateWindow, error) {
	s, err := time.Parse(time.DateOnly, start)
	if err != nil {
		return domain.DateWindow{}, fmt.Errorf("parse window start: %w", err)
	}
	e, err := time.Parse(time.DateOnly, end)
	if err != nil {
		return domain.DateWindow{}, fmt.Errorf("parse window end: %w", err)
	}
	return domain.NewDateWindow(s, e)
}
