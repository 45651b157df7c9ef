package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/canopywatch/alert-engine/internal/domain"
)

// SaveArtifact records a rendered artifact and its ordered upstream refs.
// Refs are written with liveness "live": the URLs were just resolved.
// Recording an existing artifact id fails; use ReplaceResolvedRefs after a
// re-render.
func (s *Store) SaveArtifact(ctx context.Context, art domain.ArtifactReference) error {
	if len(art.Refs) == 0 {
		return fmt.Errorf("artifact %s: no upstream refs", art.ArtifactID)
	}
	return s.transact(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO artifacts (id, run_id, cluster_id, path, rendered_at)
			VALUES (?, ?, ?, ?, ?)`,
			art.ArtifactID, art.RunID, art.ClusterID, art.Path,
			art.RenderedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert artifact %s: %w", art.ArtifactID, err)
		}
		return insertRefs(ctx, tx, art)
	})
}

// ReplaceResolvedRefs swaps the resolved URLs of an artifact after a
// re-render. The regeneration metadata inside each ref must be unchanged;
// only URLs, liveness, and the render timestamp move.
func (s *Store) ReplaceResolvedRefs(ctx context.Context, art domain.ArtifactReference) error {
	existing, err := s.Artifact(ctx, art.ArtifactID)
	if err != nil {
		return err
	}
	if len(existing.Refs) != len(art.Refs) {
		return fmt.Errorf("artifact %s: ref count changed from %d to %d", art.ArtifactID, len(existing.Refs), len(art.Refs))
	}
	for i := range art.Refs {
		if existing.Refs[i].Ref.ID != art.Refs[i].Ref.ID {
			return fmt.Errorf("artifact %s: ref %d metadata changed (%s -> %s)",
				art.ArtifactID, i, existing.Refs[i].Ref.ID, art.Refs[i].Ref.ID)
		}
	}

	return s.transact(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE artifacts SET rendered_at = ? WHERE id = ?`,
			art.RenderedAt.UTC().Format(timeLayout), art.ArtifactID,
		); err != nil {
			return fmt.Errorf("update artifact %s: %w", art.ArtifactID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM artifact_refs WHERE artifact_id = ?`, art.ArtifactID,
		); err != nil {
			return fmt.Errorf("clear refs of %s: %w", art.ArtifactID, err)
		}
		return insertRefs(ctx, tx, art)
	})
}

func insertRefs(ctx context.Context, tx *sql.Tx, art domain.ArtifactReference) error {
	for i, rr := range art.Refs {
		refJSON, err := json.Marshal(rr.Ref)
		if err != nil {
			return fmt.Errorf("encode ref %s: %w", rr.Ref.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO artifact_refs (artifact_id, position, ref_id, ref_json, resolved_url, resolved_at, liveness, checked_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
			art.ArtifactID, i, rr.Ref.ID, string(refJSON), rr.URLTemplate,
			rr.ResolvedAt.UTC().Format(timeLayout), string(domain.LivenessLive),
		)
		if err != nil {
			return fmt.Errorf("insert ref %s of %s: %w", rr.Ref.ID, art.ArtifactID, err)
		}
	}
	return nil
}

// Artifact loads an artifact reference with its ordered refs.
func (s *Store) Artifact(ctx context.Context, artifactID string) (domain.ArtifactReference, error) {
	var (
		art        domain.ArtifactReference
		renderedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, cluster_id, path, rendered_at FROM artifacts WHERE id = ?`, artifactID).
		Scan(&art.ArtifactID, &art.RunID, &art.ClusterID, &art.Path, &renderedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ArtifactReference{}, fmt.Errorf("artifact %s: %w", artifactID, ErrNotFound)
	}
	if err != nil {
		return domain.ArtifactReference{}, fmt.Errorf("load artifact %s: %w", artifactID, err)
	}
	if art.RenderedAt, err = time.Parse(timeLayout, renderedAt); err != nil {
		return domain.ArtifactReference{}, fmt.Errorf("parse rendered_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ref_json, resolved_url, resolved_at
		FROM artifact_refs WHERE artifact_id = ? ORDER BY position`, artifactID)
	if err != nil {
		return domain.ArtifactReference{}, fmt.Errorf("load refs of %s: %w", artifactID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			refJSON, url, resolvedAt string
		)
		if err := rows.Scan(&refJSON, &url, &resolvedAt); err != nil {
			return domain.ArtifactReference{}, err
		}
		var rr domain.ResolvedRef
		if err := json.Unmarshal([]byte(refJSON), &rr.Ref); err != nil {
			return domain.ArtifactReference{}, fmt.Errorf("decode ref: %w", err)
		}
		rr.URLTemplate = url
		if rr.ResolvedAt, err = time.Parse(timeLayout, resolvedAt); err != nil {
			return domain.ArtifactReference{}, fmt.Errorf("parse resolved_at: %w", err)
		}
		art.Refs = append(art.Refs, rr)
	}
	return art, rows.Err()
}

// ListArtifactIDs returns all artifact ids, optionally restricted to a
// named subset. Unknown ids in the subset are reported as an error so a
// typo in a CLI selector doesn't silently check nothing.
func (s *Store) ListArtifactIDs(ctx context.Context, subset []string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM artifacts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var all []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		all = append(all, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(subset) == 0 {
		return all, nil
	}

	known := make(map[string]bool, len(all))
	for _, id := range all {
		known[id] = true
	}
	out := make([]string, 0, len(subset))
	for _, id := range subset {
		if !known[id] {
			return nil, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
		}
		out = append(out, id)
	}
	return out, nil
}

// SetRefLiveness records a probe observation for one ref of one artifact.
func (s *Store) SetRefLiveness(ctx context.Context, artifactID, refID string, liveness domain.Liveness, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE artifact_refs SET liveness = ?, checked_at = ?
		WHERE artifact_id = ? AND ref_id = ?`,
		string(liveness), checkedAt.UTC().Format(timeLayout), artifactID, refID,
	)
	if err != nil {
		return fmt.Errorf("set liveness of %s/%s: %w", artifactID, refID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("ref %s of artifact %s: %w", refID, artifactID, ErrNotFound)
	}
	return nil
}

// Freshness returns the last-known liveness of every ref of an artifact.
func (s *Store) Freshness(ctx context.Context, artifactID string) (domain.FreshnessRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ref_id, liveness, checked_at
		FROM artifact_refs WHERE artifact_id = ? ORDER BY position`, artifactID)
	if err != nil {
		return domain.FreshnessRecord{}, fmt.Errorf("load freshness of %s: %w", artifactID, err)
	}
	defer rows.Close()

	rec := domain.FreshnessRecord{ArtifactID: artifactID}
	for rows.Next() {
		var (
			rf        domain.RefFreshness
			liveness  string
			checkedAt sql.NullString
		)
		if err := rows.Scan(&rf.RefID, &liveness, &checkedAt); err != nil {
			return domain.FreshnessRecord{}, err
		}
		rf.Liveness = domain.Liveness(liveness)
		if checkedAt.Valid {
			if rf.CheckedAt, err = time.Parse(timeLayout, checkedAt.String); err != nil {
				return domain.FreshnessRecord{}, fmt.Errorf("parse checked_at: %w", err)
			}
		}
		rec.Refs = append(rec.Refs, rf)
	}
	if err := rows.Err(); err != nil {
		return domain.FreshnessRecord{}, err
	}
	if len(rec.Refs) == 0 {
		return domain.FreshnessRecord{}, fmt.Errorf("artifact %s: %w", artifactID, ErrNotFound)
	}
	return rec, nil
}
