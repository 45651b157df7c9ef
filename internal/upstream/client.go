// Package upstream talks to the imagery tile provider. A resolved tile URL
// embeds a short-lived token; the provider re-issues an identical layer for
// the same extent, window, and recipe, which is what makes regeneration
// reproducible.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/canopywatch/alert-engine/internal/domain"
)

// Resolved is a freshly issued tile URL template plus the provider's expiry
// hint (zero when the provider does not report one).
type Resolved struct {
	URLTemplate string
	ExpiresAt   time.Time
}

// Provider resolves an UpstreamRef to a fresh tile URL.
type Provider interface {
	Resolve(ctx context.Context, ref domain.UpstreamRef) (Resolved, error)
}

// Client implements Provider against the provider's map-layer HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a tile-layer client.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// layerRequest is the provider's map-layer request body.
type layerRequest struct {
	Geometry  *geojson.Geometry `json:"geometry"`
	StartDate string            `json:"start_date"`
	EndDate   string            `json:"end_date"`
	Recipe    string            `json:"recipe"`
}

type layerResponse struct {
	URLTemplate string `json:"url_template"`
	ExpiresAt   string `json:"expires_at"` // RFC 3339, optional
}

// Resolve requests a tile layer for the ref's immutable metadata. Any
// transport or provider failure is reported as UpstreamUnavailableError so
// callers can distinguish it from bad input.
func (c *Client) Resolve(ctx context.Context, ref domain.UpstreamRef) (Resolved, error) {
	body, err := json.Marshal(layerRequest{
		Geometry:  geojson.NewGeometry(ref.Extent.Polygon()),
		StartDate: ref.Window.Start.Format(time.DateOnly),
		EndDate:   ref.Window.End.Format(time.DateOnly),
		Recipe:    ref.Recipe,
	})
	if err != nil {
		return Resolved{}, fmt.Errorf("encode layer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/map-layers", bytes.NewReader(body))
	if err != nil {
		return Resolved{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Resolved{}, &domain.UpstreamUnavailableError{Op: "resolve " + ref.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Resolved{}, &domain.UpstreamUnavailableError{
			Op:  "resolve " + ref.ID,
			Err: fmt.Errorf("provider status %d: %s", resp.StatusCode, msg),
		}
	}

	var lr layerResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return Resolved{}, &domain.UpstreamUnavailableError{Op: "resolve " + ref.ID, Err: fmt.Errorf("decode response: %w", err)}
	}
	if lr.URLTemplate == "" {
		return Resolved{}, &domain.UpstreamUnavailableError{Op: "resolve " + ref.ID, Err: fmt.Errorf("empty url_template")}
	}

	out := Resolved{URLTemplate: lr.URLTemplate}
	if lr.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, lr.ExpiresAt); err == nil {
			out.ExpiresAt = t
		} else {
			c.logger.Warn("unparseable expiry hint", "ref_id", ref.ID, "expires_at", lr.ExpiresAt)
		}
	}
	return out, nil
}
