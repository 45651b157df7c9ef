// Package render produces the interactive incident map artifact.
//
// Rendering is a pure function of its inputs: identical cluster records,
// window, and layer URLs produce byte-identical HTML. That property is what
// lets regeneration swap a single refreshed tile layer while the rest of
// the artifact stays untouched.
package render

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"

	"github.com/canopywatch/alert-engine/internal/domain"
)

// Layer is one tile layer embedded in the map.
type Layer struct {
	RefID       string `json:"ref_id"`
	Name        string `json:"name"`
	URLTemplate string `json:"url"`
}

// MapInputs is everything a map render needs. Cluster and window come from
// the persisted run record; layers carry the currently resolved URLs.
type MapInputs struct {
	ArtifactID string
	RunID      string
	Window     domain.DateWindow
	Cluster    domain.ClusterRecord
	Layers     []Layer
}

// Renderer writes one artifact.
type Renderer interface {
	Render(w io.Writer, in MapInputs) error
}

// LeafletRenderer renders a self-contained Leaflet map page.
type LeafletRenderer struct {
	tmpl *template.Template
}

// NewLeafletRenderer parses the embedded page template.
func NewLeafletRenderer() (*LeafletRenderer, error) {
	tmpl, err := template.New("incident-map").Parse(pageTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse map template: %w", err)
	}
	return &LeafletRenderer{tmpl: tmpl}, nil
}

// mapData is the JSON payload handed to the page script.
type mapData struct {
	ArtifactID string     `json:"artifact_id"`
	ClusterID  int        `json:"cluster_id"`
	Window     string     `json:"window"`
	Bounds     [4]float64 `json:"bounds"` // minLon, minLat, maxLon, maxLat
	Layers     []Layer    `json:"layers"`
	Alerts     []mapAlert `json:"alerts"`
}

type mapAlert struct {
	ID         string  `json:"id"`
	Lon        float64 `json:"lon"`
	Lat        float64 `json:"lat"`
	Confidence string  `json:"confidence"`
	Kind       string  `json:"kind"`
	DetectedAt string  `json:"detected_at"`
}

func (r *LeafletRenderer) Render(w io.Writer, in MapInputs) error {
	if len(in.Layers) == 0 {
		return fmt.Errorf("render %s: no tile layers", in.ArtifactID)
	}
	b := in.Cluster.Extent.Bound
	data := mapData{
		ArtifactID: in.ArtifactID,
		ClusterID:  in.Cluster.ClusterID,
		Window:     in.Window.String(),
		Bounds:     [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
		Layers:     in.Layers,
		Alerts:     make([]mapAlert, 0, len(in.Cluster.Alerts)),
	}
	for _, a := range in.Cluster.Alerts {
		data.Alerts = append(data.Alerts, mapAlert{
			ID:         a.ID,
			Lon:        a.Lon,
			Lat:        a.Lat,
			Confidence: string(a.Confidence),
			Kind:       string(a.Kind),
			DetectedAt: a.DetectedAt.UTC().Format("2006-01-02"),
		})
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("render %s: encode map data: %w", in.ArtifactID, err)
	}

	return r.tmpl.Execute(w, struct {
		Title string
		Data  template.JS
	}{
		Title: fmt.Sprintf("Incident %d — %s", in.Cluster.ClusterID, in.Window),
		Data:  template.JS(payload),
	})
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
<style>
  html, body, #map { height: 100%; margin: 0; }
  .legend {
    position: fixed; bottom: 20px; left: 20px;
    background: white; border: 1px solid grey; z-index: 9999;
    font: 13px sans-serif; padding: 8px;
  }
  .legend i { width: 12px; height: 12px; float: left; margin-right: 8px; opacity: 0.7; }
</style>
</head>
<body>
<div id="map"></div>
<div class="legend">
  <b>Alert confidence</b><br>
  <i style="background:red"></i> highest<br>
  <i style="background:orange"></i> other
</div>
<script>
var MAP_DATA = {{.Data}};
var map = L.map('map');
map.fitBounds([[MAP_DATA.bounds[1], MAP_DATA.bounds[0]], [MAP_DATA.bounds[3], MAP_DATA.bounds[2]]]);
L.tileLayer('https://tile.openstreetmap.org/{z}/{x}/{y}.png', {attribution: '&copy; OpenStreetMap'}).addTo(map);
MAP_DATA.layers.forEach(function (layer) {
  L.tileLayer(layer.url, {attribution: layer.name, opacity: 0.8}).addTo(map);
});
MAP_DATA.alerts.forEach(function (a) {
  var color = a.confidence === 'highest' ? 'red' : 'orange';
  L.circleMarker([a.lat, a.lon], {radius: 4, color: color, fill: true, fillOpacity: 0.7})
    .bindPopup('<b>Alert ' + a.id + '</b><br>' + a.kind + ' / ' + a.confidence + '<br>' + a.detected_at)
    .addTo(map);
});
L.rectangle([[MAP_DATA.bounds[1], MAP_DATA.bounds[0]], [MAP_DATA.bounds[3], MAP_DATA.bounds[2]]],
  {color: 'blue', weight: 1, fill: false}).addTo(map);
</script>
</body>
</html>
`
