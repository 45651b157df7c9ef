// Command genalerts generates deterministic synthetic alert fixtures for
// tests and local development. Points are drawn around a handful of cluster
// seeds inside a study area in the Colombian Amazon, plus scattered noise,
// and written in the dataset query response shape so a stub HTTP server can
// serve them directly.
//
// Usage:
//
//	go run ./cmd/genalerts \
//	  -out testdata/alerts_response.json \
//	  -aoi-out testdata/aoi.geojson
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

var window = struct{ start, end time.Time }{
	start: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	end:   time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC),
}

// clusterSeed is one synthetic deforestation front.
type clusterSeed struct {
	lon, lat     float64
	count        int
	spreadMeters float64
}

type alertRow struct {
	ID         string  `json:"id"`
	Longitude  float64 `json:"longitude"`
	Latitude   float64 `json:"latitude"`
	Date       string  `json:"date"`
	Confidence string  `json:"confidence"`
	System     string  `json:"system"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the alert response fixture")
	aoiOut := flag.String("aoi-out", "", "optional output path for the study-area GeoJSON")
	seed := flag.Int64("seed", 42, "random seed")
	noise := flag.Int("noise", 25, "scattered noise points")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	rng := rand.New(rand.NewSource(*seed))

	seeds := []clusterSeed{
		{lon: -72.85, lat: 1.95, count: 40, spreadMeters: 1200},
		{lon: -73.10, lat: 2.30, count: 25, spreadMeters: 800},
		{lon: -72.60, lat: 2.10, count: 12, spreadMeters: 1500},
	}

	var rows []alertRow
	for ci, s := range seeds {
		for i := 0; i < s.count; i++ {
			lon, lat := jitter(rng, s.lon, s.lat, s.spreadMeters)
			rows = append(rows, row(fmt.Sprintf("c%d-%03d", ci, i), lon, lat, randomDate(rng), confidence(rng, 0.7)))
		}
	}
	for i := 0; i < *noise; i++ {
		lon := -73.4 + rng.Float64()*1.2
		lat := 1.6 + rng.Float64()*1.0
		rows = append(rows, row(fmt.Sprintf("n-%03d", i), lon, lat, randomDate(rng), confidence(rng, 0.3)))
	}

	if err := writeJSON(*out, map[string]any{"data": rows}); err != nil {
		return fmt.Errorf("writing alert fixture: %w", err)
	}
	log.Printf("wrote %d alerts: %s", len(rows), *out)

	if *aoiOut != "" {
		aoi := map[string]any{
			"type": "Polygon",
			"coordinates": [][][2]float64{{
				{-73.5, 1.5}, {-72.1, 1.5}, {-72.1, 2.7}, {-73.5, 2.7}, {-73.5, 1.5},
			}},
		}
		if err := writeJSON(*aoiOut, aoi); err != nil {
			return fmt.Errorf("writing aoi: %w", err)
		}
		log.Printf("wrote aoi: %s", *aoiOut)
	}
	return nil
}

func row(id string, lon, lat float64, date string, conf string) alertRow {
	return alertRow{
		ID:         id,
		Longitude:  lon,
		Latitude:   lat,
		Date:       date,
		Confidence: conf,
		System:     "gfw_integrated",
	}
}

// jitter displaces a point by up to spreadMeters in each axis using the
// small-angle meters-to-degrees factor, fine for fixture purposes.
func jitter(rng *rand.Rand, lon, lat, spreadMeters float64) (float64, float64) {
	const metersPerDegree = 111320.0
	dLon := (rng.Float64()*2 - 1) * spreadMeters / metersPerDegree
	dLat := (rng.Float64()*2 - 1) * spreadMeters / metersPerDegree
	return lon + dLon, lat + dLat
}

func randomDate(rng *rand.Rand) string {
	days := int(window.end.Sub(window.start).Hours() / 24)
	return window.start.AddDate(0, 0, rng.Intn(days+1)).Format(time.DateOnly)
}

func confidence(rng *rand.Rand, highestShare float64) string {
	r := rng.Float64()
	switch {
	case r < highestShare:
		return "highest"
	case r < highestShare+0.2:
		return "high"
	default:
		return "nominal"
	}
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}
