package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/civicfix/civicfix-api/pkg/config"
)

// GeocoderClient resolves coordinates to a display address. The lookup is
// best effort: any failure leaves the report without an address rather than
// failing the submission.
type GeocoderClient struct {
	cfg    config.GeocoderConfig
	client *http.Client
	logger *zap.Logger
}

// NewGeocoderClient constructs a geocoder client.
func NewGeocoderClient(cfg config.GeocoderConfig, logger *zap.Logger) *GeocoderClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeocoderClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type reverseGeocodeResponse struct {
	DisplayName string `json:"display_name"`
}

// Reverse looks up a human-readable address for the coordinates. It returns
// nil without an error when the lookup is disabled or fails.
func (g *GeocoderClient) Reverse(ctx context.Context, lat, lng float64) *string {
	if !g.cfg.Enabled {
		return nil
	}

	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	query.Set("format", "json")

	endpoint := fmt.Sprintf("%s?%s", g.cfg.BaseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		g.logger.Warn("build reverse geocode request failed", zap.Error(err))
		return nil
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("reverse geocode failed", zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.logger.Warn("reverse geocode returned non-200", zap.Int("status", resp.StatusCode))
		return nil
	}

	var payload reverseGeocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		g.logger.Warn("decode reverse geocode response failed", zap.Error(err))
		return nil
	}
	if payload.DisplayName == "" {
		return nil
	}
	return &payload.DisplayName
}
