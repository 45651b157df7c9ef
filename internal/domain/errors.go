package domain

import "fmt"

// InvalidGeometryError reports malformed or empty geometry input.
// Not retried; surfaced to the caller.
type InvalidGeometryError struct {
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	return "invalid geometry: " + e.Reason
}

// InsufficientDataError reports that an operation received fewer points than
// it requires. A sparse-but-nonempty input is not an error (it yields noise
// assignments); only true emptiness is.
type InsufficientDataError struct {
	Op     string
	Needed int
	Got    int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: need %d points, got %d", e.Op, e.Needed, e.Got)
}

// UpstreamUnavailableError reports a network or provider failure while
// talking to the upstream imagery service. Probes degrade to unknown;
// regeneration failures leave the artifact stale.
type UpstreamUnavailableError struct {
	Op  string
	Err error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream unavailable during %s: %v", e.Op, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// MissingUpstreamDataError reports a regeneration request for an artifact
// whose persisted cluster/extent inputs cannot be located. Fatal for that
// artifact only; the batch continues.
type MissingUpstreamDataError struct {
	ArtifactID string
	Missing    string
}

func (e *MissingUpstreamDataError) Error() string {
	return fmt.Sprintf("artifact %s: missing persisted inputs: %s", e.ArtifactID, e.Missing)
}
