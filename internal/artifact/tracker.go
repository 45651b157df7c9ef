// Package artifact tracks rendered outputs and their embedded upstream
// references, and regenerates exactly the outputs whose references have
// expired. Cluster and extent records are read-only inputs here: nothing in
// this package ever re-runs clustering or extent derivation.
package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/canopywatch/alert-engine/internal/domain"
)

// Storage is the slice of the store this package depends on.
type Storage interface {
	SaveArtifact(ctx context.Context, art domain.ArtifactReference) error
	ReplaceResolvedRefs(ctx context.Context, art domain.ArtifactReference) error
	Artifact(ctx context.Context, artifactID string) (domain.ArtifactReference, error)
	ListArtifactIDs(ctx context.Context, subset []string) ([]string, error)
	Freshness(ctx context.Context, artifactID string) (domain.FreshnessRecord, error)
	SetRefLiveness(ctx context.Context, artifactID, refID string, liveness domain.Liveness, checkedAt time.Time) error
	ClusterInputs(ctx context.Context, artifactID string) (domain.ClusterRecord, error)
}

// Tracker records artifacts and answers reference lookups. It enforces the
// immutability of regeneration metadata: a ref whose content no longer
// matches its fingerprint is rejected rather than silently rewritten.
type Tracker struct {
	store Storage
}

// NewTracker creates a Tracker over the given storage.
func NewTracker(store Storage) *Tracker {
	return &Tracker{store: store}
}

// RecordArtifact persists a freshly rendered artifact and its ordered refs.
func (t *Tracker) RecordArtifact(ctx context.Context, art domain.ArtifactReference) error {
	if art.ArtifactID == "" {
		return fmt.Errorf("record artifact: empty artifact id")
	}
	for _, rr := range art.Refs {
		if got := rr.Ref.Fingerprint(); got != rr.Ref.ID {
			return fmt.Errorf("record artifact %s: ref id %s does not match metadata fingerprint %s",
				art.ArtifactID, rr.Ref.ID, got)
		}
	}
	return t.store.SaveArtifact(ctx, art)
}

// References returns the ordered upstream refs embedded in an artifact.
func (t *Tracker) References(ctx context.Context, artifactID string) ([]domain.UpstreamRef, error) {
	art, err := t.store.Artifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	refs := make([]domain.UpstreamRef, len(art.Refs))
	for i, rr := range art.Refs {
		refs[i] = rr.Ref
	}
	return refs, nil
}
