package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"tracking/internal/config"
	"tracking/internal/domain"
)

const distanceMatrixPath = "/maps/api/distancematrix/json"

var (
	// ErrMissingAPIKey is returned without any network call when no key is configured.
	ErrMissingAPIKey = errors.New("routing api key not configured")

	// ErrUnexpectedStatus is returned when the service answers with a non-OK status.
	ErrUnexpectedStatus = errors.New("routing service returned unexpected status")

	// ErrMalformedResponse is returned when the response lacks a usable duration.
	ErrMalformedResponse = errors.New("routing service returned malformed response")
)

// DistanceMatrixClient asks a distance-matrix HTTP service for driving durations.
type DistanceMatrixClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	mode       string
	language   string
}

// NewDistanceMatrixClient creates a client from configuration.
// The request deadline comes from the caller's context.
func NewDistanceMatrixClient(cfg config.RoutingConfig, httpClient *http.Client) *DistanceMatrixClient {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &DistanceMatrixClient{
		httpClient: httpClient,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		mode:       cfg.Mode,
		language:   cfg.Language,
	}
}

type distanceMatrixResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Rows         []struct {
		Elements []struct {
			Status   string `json:"status"`
			Duration *struct {
				Value float64 `json:"value"`
			} `json:"duration"`
		} `json:"elements"`
	} `json:"rows"`
}

// TravelDuration returns the travel time between two points.
func (c *DistanceMatrixClient) TravelDuration(ctx context.Context, from, to domain.GeoPoint) (time.Duration, error) {
	if c.apiKey == "" {
		return 0, ErrMissingAPIKey
	}

	params := url.Values{}
	params.Set("origins", formatPoint(from))
	params.Set("destinations", formatPoint(to))
	params.Set("mode", c.mode)
	if c.language != "" {
		params.Set("language", c.language)
	}
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+distanceMatrixPath+"?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("build routing request: %w", err)
	}

	if txn := newrelic.FromContext(ctx); txn != nil {
		segment := newrelic.StartExternalSegment(txn, req)
		defer segment.End()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("routing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: http %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var body distanceMatrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if body.Status != "OK" {
		return 0, fmt.Errorf("%w: %s %s", ErrUnexpectedStatus, body.Status, body.ErrorMessage)
	}
	if len(body.Rows) == 0 || len(body.Rows[0].Elements) == 0 {
		return 0, fmt.Errorf("%w: no elements", ErrMalformedResponse)
	}

	element := body.Rows[0].Elements[0]
	if element.Status != "OK" {
		return 0, fmt.Errorf("%w: element %s", ErrUnexpectedStatus, element.Status)
	}
	if element.Duration == nil || element.Duration.Value < 0 {
		return 0, fmt.Errorf("%w: missing duration", ErrMalformedResponse)
	}

	return time.Duration(element.Duration.Value * float64(time.Second)), nil
}

func formatPoint(p domain.GeoPoint) string {
	return strconv.FormatFloat(p.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(p.Longitude, 'f', -1, 64)
}
