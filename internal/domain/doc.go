// Package domain models integrated deforestation-alert data and the
// artifacts derived from it.
//
// # Data Source
//
// Alerts originate from the Global Forest Watch (GFW) integrated alert
// layer, queried per date window for a fixed study-area polygon. Each alert
// is a detection pixel centroid with a confidence level assigned by the
// upstream provider:
//
//	nominal  — detected by a single system
//	high     — detected by a single system, confirmed over time
//	highest  — detected by multiple systems
//
// Only "highest" alerts participate in incident clustering; all levels are
// counted in the per-run confidence summary.
//
// # Incidents and Extents
//
// Alerts are grouped into incidents by density clustering in a local metric
// projection. Each incident gets a rectangular Extent: every member point is
// buffered by a fixed ground distance, the union is enveloped in projected
// space, and the envelope is re-expressed in geographic coordinates. Cluster
// id -1 marks noise (alerts too sparse to form an incident).
//
// # Upstream references
//
// Rendered map artifacts embed imagery tile URLs issued by the upstream
// provider. Those URLs carry short-lived tokens and expire after roughly a
// day. An UpstreamRef captures the immutable parameters (extent polygon,
// acquisition window, processing recipe) needed to re-resolve an identical
// resource later; only the resolved URL is ever refreshed. Tile URL
// templates use {z}/{x}/{y} placeholders and are probed for liveness by
// substituting a configured sample tile.
//
// # ID Generation
//
// Reference IDs are deterministic SHA-256 fingerprints of the regeneration
// metadata. Re-deriving a ref for the same extent, window, and recipe yields
// the same ID, which keeps the artifact reference table stable across
// regeneration cycles. See [UpstreamRef.Fingerprint].
package domain
