// Package agro talks to the agronomic monitoring API: endpoint discovery,
// polygon registration, and the satellite, weather, and soil reads.
package agro

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/domain"
	"github.com/couchcryptid/field-env-sync/internal/observability"
	"github.com/goccy/go-json"
)

const (
	maxErrorBodySize    = 64 * 1024
	maxResponseBodySize = 16 * 1024 * 1024
)

// Client is a thin client for the upstream API. It holds no retry or fallback
// logic; every call targets the base URL it is given.
type Client struct {
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics
	maxBody    int64 // 0 means maxResponseBodySize
}

var errResponseTooLarge = errors.New("response too large")

// NewClient creates an upstream client that authenticates with apiKey.
func NewClient(apiKey string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:  logger,
		metrics: metrics,
	}
}

// Probe issues the cheapest authenticated read against baseURL. Only the
// status matters; the polygon listing itself is not read.
func (c *Client) Probe(ctx context.Context, baseURL string) error {
	resp, err := c.send(ctx, "list polygons", http.MethodGet, c.endpoint(baseURL, "/polygons", nil), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	c.metrics.UpstreamRequests.WithLabelValues("list polygons", "success").Inc()
	return nil
}

// ListPolygons returns every polygon registered for the credential.
func (c *Client) ListPolygons(ctx context.Context, baseURL string) ([]domain.UpstreamPolygon, error) {
	var out []domain.UpstreamPolygon
	if err := c.getJSON(ctx, "list polygons", c.endpoint(baseURL, "/polygons", nil), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPolygon fetches one polygon by upstream id.
func (c *Client) GetPolygon(ctx context.Context, baseURL, id string) (domain.UpstreamPolygon, error) {
	var out domain.UpstreamPolygon
	u := c.endpoint(baseURL, "/polygons/"+url.PathEscape(id), nil)
	if err := c.getJSON(ctx, "get polygon", u, &out); err != nil {
		return domain.UpstreamPolygon{}, err
	}
	return out, nil
}

type createPolygonRequest struct {
	Name    string         `json:"name"`
	GeoJSON geoJSONFeature `json:"geo_json"`
}

type geoJSONFeature struct {
	Type       string          `json:"type"`
	Properties map[string]any  `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

// CreatePolygon registers geometry under name and returns the upstream record.
func (c *Client) CreatePolygon(ctx context.Context, baseURL, name string, geometry []byte) (domain.UpstreamPolygon, error) {
	const op = "create polygon"

	body, err := json.Marshal(createPolygonRequest{
		Name: name,
		GeoJSON: geoJSONFeature{
			Type:       "Feature",
			Properties: map[string]any{},
			Geometry:   json.RawMessage(geometry),
		},
	})
	if err != nil {
		return domain.UpstreamPolygon{}, &domain.UpstreamError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}

	respBody, err := c.do(ctx, op, http.MethodPost, c.endpoint(baseURL, "/polygons", nil), body)
	if err != nil {
		return domain.UpstreamPolygon{}, err
	}

	var out domain.UpstreamPolygon
	if err := json.Unmarshal(respBody, &out); err != nil {
		return domain.UpstreamPolygon{}, &domain.UpstreamError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.ID == "" {
		return domain.UpstreamPolygon{}, &domain.UpstreamError{Op: op, Err: fmt.Errorf("response has no polygon id")}
	}
	return out, nil
}

// SearchImagery lists satellite scenes for polygonID captured within [start, end].
func (c *Client) SearchImagery(ctx context.Context, baseURL, polygonID string, start, end time.Time) ([]domain.SatelliteScene, error) {
	params := url.Values{
		"polyid": {polygonID},
		"start":  {strconv.FormatInt(start.Unix(), 10)},
		"end":    {strconv.FormatInt(end.Unix(), 10)},
	}
	var out []domain.SatelliteScene
	if err := c.getJSON(ctx, "search imagery", c.endpoint(baseURL, "/image/search", params), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IndexStats fetches the statistics document referenced by a scene. statsURL is absolute.
func (c *Client) IndexStats(ctx context.Context, statsURL string) (domain.IndexStats, error) {
	const op = "index stats"

	u, err := url.Parse(statsURL)
	if err != nil {
		return domain.IndexStats{}, &domain.UpstreamError{Op: op, Err: fmt.Errorf("parse stats url: %w", err)}
	}
	q := u.Query()
	q.Set("appid", c.apiKey)
	u.RawQuery = q.Encode()

	var out domain.IndexStats
	if err := c.getJSON(ctx, op, u.String(), &out); err != nil {
		return domain.IndexStats{}, err
	}
	return out, nil
}

// CurrentWeather returns current conditions at the polygon.
func (c *Client) CurrentWeather(ctx context.Context, baseURL, polygonID string) (domain.CurrentWeather, error) {
	var out domain.CurrentWeather
	u := c.endpoint(baseURL, "/weather", url.Values{"polyid": {polygonID}})
	if err := c.getJSON(ctx, "current weather", u, &out); err != nil {
		return domain.CurrentWeather{}, err
	}
	return out, nil
}

// Soil returns the latest soil snapshot for the polygon.
func (c *Client) Soil(ctx context.Context, baseURL, polygonID string) (domain.SoilSnapshot, error) {
	var out domain.SoilSnapshot
	u := c.endpoint(baseURL, "/soil", url.Values{"polyid": {polygonID}})
	if err := c.getJSON(ctx, "soil", u, &out); err != nil {
		return domain.SoilSnapshot{}, err
	}
	return out, nil
}

// endpoint joins baseURL and path and adds the credential as the appid parameter.
func (c *Client) endpoint(baseURL, path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("appid", c.apiKey)
	return strings.TrimRight(baseURL, "/") + path + "?" + params.Encode()
}

func (c *Client) getJSON(ctx context.Context, op, fullURL string, out any) error {
	body, err := c.do(ctx, op, http.MethodGet, fullURL, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.UpstreamError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, fullURL string, body []byte) ([]byte, error) {
	resp, err := c.send(ctx, op, method, fullURL, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	limit := c.maxBody
	if limit <= 0 {
		limit = maxResponseBodySize
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(op, "error").Inc()
		return nil, &domain.UpstreamError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	if int64(len(data)) > limit {
		c.metrics.UpstreamRequests.WithLabelValues(op, "error").Inc()
		return nil, &domain.UpstreamError{Op: op, Err: fmt.Errorf("%w: more than %d bytes", errResponseTooLarge, limit)}
	}
	c.metrics.UpstreamRequests.WithLabelValues(op, "success").Inc()
	return data, nil
}

// send performs the request and returns the response of a 2xx reply with its
// body unread. Any other status becomes an UpstreamError.
func (c *Client) send(ctx context.Context, op, method, fullURL string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, &domain.UpstreamError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.UpstreamDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(op, "error").Inc()
		return nil, &domain.UpstreamError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		c.metrics.UpstreamRequests.WithLabelValues(op, "error").Inc()
		errBody := readBodyForError(resp.Body)
		c.logger.Debug("upstream returned error status",
			"operation", op,
			"status", resp.StatusCode,
			"host", req.URL.Host,
		)
		return nil, &domain.UpstreamError{Op: op, StatusCode: resp.StatusCode, Body: string(errBody)}
	}
	return resp, nil
}

// readBodyForError reads at most maxErrorBodySize bytes of an error response.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("... (truncated)")...)
	}
	return body
}
