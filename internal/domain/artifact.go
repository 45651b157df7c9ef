package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Liveness classifies the result of probing a resolved upstream URL.
type Liveness string

const (
	// LivenessLive means the URL answered a lightweight check successfully.
	LivenessLive Liveness = "live"
	// LivenessExpired means the provider explicitly rejected the URL
	// (not found or denied). Expired refs drive regeneration.
	LivenessExpired Liveness = "expired"
	// LivenessUnknown means the probe itself failed (timeout, network
	// error, provider hiccup). Unknown refs are retried next cycle and
	// never treated as expired.
	LivenessUnknown Liveness = "unknown"
)

// ArtifactStatus is the derived per-artifact freshness state.
type ArtifactStatus string

const (
	StatusFresh ArtifactStatus = "fresh"
	StatusStale ArtifactStatus = "stale"
)

// UpstreamRef carries the immutable metadata needed to re-resolve an
// upstream imagery resource: the extent polygon, the acquisition window,
// and the provider-side processing recipe. Once recorded against an
// artifact this metadata never changes; only the resolved URL is refreshed.
type UpstreamRef struct {
	ID     string     `json:"id"`
	Extent Extent     `json:"extent"`
	Window DateWindow `json:"window"`
	Recipe string     `json:"recipe"`
}

// NewUpstreamRef constructs a ref with a deterministic fingerprint id.
func NewUpstreamRef(extent Extent, window DateWindow, recipe string) (UpstreamRef, error) {
	if recipe == "" {
		return UpstreamRef{}, fmt.Errorf("upstream ref: empty recipe")
	}
	ref := UpstreamRef{Extent: extent, Window: window, Recipe: recipe}
	ref.ID = ref.Fingerprint()
	return ref, nil
}

// Fingerprint derives a stable id from the regeneration metadata. Identical
// extent, window, and recipe always hash to the same id, so refs stay
// addressable across regeneration cycles.
func (r UpstreamRef) Fingerprint() string {
	b := r.Extent.Bound
	input := fmt.Sprintf("%.9f|%.9f|%.9f|%.9f|%s|%s",
		b.Min[0], b.Min[1], b.Max[0], b.Max[1], r.Window, r.Recipe)
	hash := sha256.Sum256([]byte(input))
	return "ref-" + hex.EncodeToString(hash[:8])
}

// ResolvedRef pairs a ref with its most recently resolved URL template.
type ResolvedRef struct {
	Ref         UpstreamRef `json:"ref"`
	URLTemplate string      `json:"url_template"`
	ResolvedAt  time.Time   `json:"resolved_at"`
}

// ArtifactReference is a rendered output together with the ordered set of
// upstream refs it embeds. The ref set is fixed at render time; a re-render
// replaces resolved URLs but reuses the same cluster/extent inputs.
type ArtifactReference struct {
	ArtifactID string        `json:"artifact_id"`
	RunID      string        `json:"run_id"`
	ClusterID  int           `json:"cluster_id"`
	Path       string        `json:"path"`
	Refs       []ResolvedRef `json:"refs"`
	RenderedAt time.Time     `json:"rendered_at"`
}

// RefByID returns the resolved ref with the given id, if present.
func (a ArtifactReference) RefByID(id string) (ResolvedRef, bool) {
	for _, rr := range a.Refs {
		if rr.Ref.ID == id {
			return rr, true
		}
	}
	return ResolvedRef{}, false
}

// RefFreshness is one probe observation for one embedded URL.
type RefFreshness struct {
	RefID     string    `json:"ref_id"`
	Liveness  Liveness  `json:"liveness"`
	CheckedAt time.Time `json:"checked_at"`
}

// FreshnessRecord is the per-artifact result of one check cycle. It is
// recomputed every cycle; the orchestrator persists the per-ref liveness it
// wants to trust across restarts.
type FreshnessRecord struct {
	ArtifactID string         `json:"artifact_id"`
	Refs       []RefFreshness `json:"refs"`
}

// Status derives the artifact-level state: fresh only if every embedded ref
// is live. Unknown refs leave the artifact stale-pending rather than fresh,
// but do not by themselves trigger regeneration.
func (f FreshnessRecord) Status() ArtifactStatus {
	for _, r := range f.Refs {
		if r.Liveness != LivenessLive {
			return StatusStale
		}
	}
	return StatusFresh
}

// ExpiredRefIDs returns the ids of refs whose last probe was exactly
// expired. Unknown refs are excluded so transient probe failures never
// cause a re-render storm.
func (f FreshnessRecord) ExpiredRefIDs() []string {
	var ids []string
	for _, r := range f.Refs {
		if r.Liveness == LivenessExpired {
			ids = append(ids, r.RefID)
		}
	}
	return ids
}
