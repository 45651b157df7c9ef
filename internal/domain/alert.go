package domain

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// Confidence is the upstream-assigned confidence level of an alert.
type Confidence string

const (
	ConfidenceNominal Confidence = "nominal"
	ConfidenceHigh    Confidence = "high"
	ConfidenceHighest Confidence = "highest"
)

// AlertKind identifies the detection system that produced an alert.
type AlertKind string

const (
	KindIntegrated   AlertKind = "gfw_integrated"
	KindGLADLandsat  AlertKind = "glad_landsat"
	KindGLADSentinel AlertKind = "glad_sentinel2"
	KindRADD         AlertKind = "radd"
)

// Alert is a single detection point in geographic (WGS-84) coordinates.
// Alerts are immutable after construction.
type Alert struct {
	ID         string     `json:"id"`
	Lon        float64    `json:"lon"`
	Lat        float64    `json:"lat"`
	DetectedAt time.Time  `json:"detected_at"`
	Confidence Confidence `json:"confidence"`
	Kind       AlertKind  `json:"kind"`
}

// NewAlert validates and constructs an Alert.
func NewAlert(id string, lon, lat float64, detectedAt time.Time, conf Confidence, kind AlertKind) (Alert, error) {
	if id == "" {
		return Alert{}, fmt.Errorf("alert: %w", &InvalidGeometryError{Reason: "empty alert id"})
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return Alert{}, fmt.Errorf("alert %s: %w", id, &InvalidGeometryError{
			Reason: fmt.Sprintf("coordinate out of range: lon=%g lat=%g", lon, lat),
		})
	}
	switch conf {
	case ConfidenceNominal, ConfidenceHigh, ConfidenceHighest:
	default:
		return Alert{}, fmt.Errorf("alert %s: unknown confidence %q", id, conf)
	}
	switch kind {
	case KindIntegrated, KindGLADLandsat, KindGLADSentinel, KindRADD:
	default:
		return Alert{}, fmt.Errorf("alert %s: unknown alert kind %q", id, kind)
	}
	return Alert{ID: id, Lon: lon, Lat: lat, DetectedAt: detectedAt, Confidence: conf, Kind: kind}, nil
}

// Point returns the alert location as an orb geographic point (lon, lat).
func (a Alert) Point() orb.Point {
	return orb.Point{a.Lon, a.Lat}
}

// DateWindow is an inclusive acquisition date range in UTC.
type DateWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateWindow validates that the window is non-empty and ordered.
func NewDateWindow(start, end time.Time) (DateWindow, error) {
	if start.IsZero() || end.IsZero() {
		return DateWindow{}, fmt.Errorf("date window: start and end are required")
	}
	if end.Before(start) {
		return DateWindow{}, fmt.Errorf("date window: end %s before start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return DateWindow{Start: start.UTC(), End: end.UTC()}, nil
}

// String renders the window in the YYYY-MM-DD form used by the upstream API.
func (w DateWindow) String() string {
	return w.Start.Format("2006-01-02") + ".." + w.End.Format("2006-01-02")
}

// SummarizeConfidences counts alerts per confidence level plus a total,
// mirroring the per-run summary in the quarterly reports.
func SummarizeConfidences(alerts []Alert) map[string]int {
	summary := map[string]int{
		string(ConfidenceNominal): 0,
		string(ConfidenceHigh):    0,
		string(ConfidenceHighest): 0,
	}
	for _, a := range alerts {
		summary[string(a.Confidence)]++
	}
	summary["total"] = len(alerts)
	return summary
}

// FilterByConfidence returns the alerts at exactly the given confidence,
// preserving input order.
func FilterByConfidence(alerts []Alert, conf Confidence) []Alert {
	out := make([]Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Confidence == conf {
			out = append(out, a)
		}
	}
	return out
}

func (c Confidence) rank() int {
	switch c {
	case ConfidenceNominal:
		return 0
	case ConfidenceHigh:
		return 1
	case ConfidenceHighest:
		return 2
	default:
		return -1
	}
}

// FilterByMinConfidence returns the alerts at or above the given confidence,
// preserving input order.
func FilterByMinConfidence(alerts []Alert, minimum Confidence) []Alert {
	out := make([]Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Confidence.rank() >= minimum.rank() {
			out = append(out, a)
		}
	}
	return out
}
