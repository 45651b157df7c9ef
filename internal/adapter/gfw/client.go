// Package gfw fetches deforestation alert points from the Global Forest
// Watch data API. It implements pipeline.AlertSource.
package gfw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/canopywatch/alert-engine/internal/domain"
)

// Client queries the alert dataset endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	dataset    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an alert source for one dataset (for example
// "gfw_integrated_alerts").
func NewClient(baseURL, apiKey, dataset string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		dataset:    dataset,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type queryRequest struct {
	Geometry  *geojson.Geometry `json:"geometry"`
	StartDate string            `json:"start_date"`
	EndDate   string            `json:"end_date"`
}

type queryResponse struct {
	Data []alertRow `json:"data"`
}

// alertRow is one row of the dataset response.
type alertRow struct {
	ID         string  `json:"id"`
	Longitude  float64 `json:"longitude"`
	Latitude   float64 `json:"latitude"`
	Date       string  `json:"date"`
	Confidence string  `json:"confidence"`
	System     string  `json:"system"`
}

// FetchAlerts queries alert points inside the study area for the window.
// Malformed rows are logged and skipped rather than failing the fetch; the
// provider occasionally ships rows with out-of-range coordinates.
func (c *Client) FetchAlerts(ctx context.Context, aoi orb.Polygon, window domain.DateWindow) ([]domain.Alert, error) {
	body, err := json.Marshal(queryRequest{
		Geometry:  geojson.NewGeometry(aoi),
		StartDate: window.Start.Format(time.DateOnly),
		EndDate:   window.End.Format(time.DateOnly),
	})
	if err != nil {
		return nil, fmt.Errorf("encode alert query: %w", err)
	}

	url := fmt.Sprintf("%s/v1/dataset/%s/query", c.baseURL, c.dataset)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.UpstreamUnavailableError{Op: "fetch alerts", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.UpstreamUnavailableError{
			Op:  "fetch alerts",
			Err: fmt.Errorf("dataset status %d: %s", resp.StatusCode, msg),
		}
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, &domain.UpstreamUnavailableError{Op: "fetch alerts", Err: fmt.Errorf("decode response: %w", err)}
	}

	alerts := make([]domain.Alert, 0, len(qr.Data))
	for _, row := range qr.Data {
		alert, err := c.toAlert(row)
		if err != nil {
			c.logger.Warn("skipping malformed alert row", "id", row.ID, "error", err)
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func (c *Client) toAlert(row alertRow) (domain.Alert, error) {
	detectedAt, err := time.Parse(time.DateOnly, row.Date)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("parse date %q: %w", row.Date, err)
	}
	kind := domain.AlertKind(row.System)
	if row.System == "" {
		kind = domain.KindIntegrated
	}
	return domain.NewAlert(row.ID, row.Longitude, row.Latitude, detectedAt, domain.Confidence(row.Confidence), kind)
}
