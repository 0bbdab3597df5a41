package osrm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/samber/lo"

	"fleetmap/internal/domain"
)

const DefaultBaseURL = "https://router.project-osrm.org"

// Client asks an OSRM route service for the driving geometry between two points
type Client struct {
	baseURL    string
	profile    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		profile: "driving",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type routeResponse struct {
	Code    string  `json:"code"`
	Message string  `json:"message,omitempty"`
	Routes  []route `json:"routes"`
}

type route struct {
	Geometry geojson.Geometry `json:"geometry"`
	Distance float64          `json:"distance"`
	Duration float64          `json:"duration"`
}

// Route returns the polyline of the first route found, origin first
func (c *Client) Route(ctx context.Context, from, to domain.LatLon) ([]domain.LatLon, error) {
	reqURL := fmt.Sprintf("%s/route/v1/%s/%s;%s?overview=full&geometries=geojson",
		c.baseURL, c.profile, coord(from), coord(to))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: route request: %w", domain.ErrTransientIO, err)
	}
	defer resp.Body.Close()

	var body routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: route request: unexpected status code: %d", domain.ErrTransientIO, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: decoding response: %w", domain.ErrTransientIO, err)
	}

	// OSRM answers NoRoute and friends with a 400 and a code
	if body.Code != "Ok" {
		return nil, fmt.Errorf("%w: osrm %s: %s", domain.ErrRoutingFailed, body.Code, body.Message)
	}
	if len(body.Routes) == 0 {
		return nil, fmt.Errorf("%w: no routes returned", domain.ErrRoutingFailed)
	}

	line, ok := body.Routes[0].Geometry.Coordinates.(orb.LineString)
	if !ok || len(line) < 2 {
		return nil, fmt.Errorf("%w: route geometry is not a line", domain.ErrRoutingFailed)
	}

	return lo.Map(line, func(p orb.Point, _ int) domain.LatLon {
		return domain.FromPoint(p)
	}), nil
}

func coord(ll domain.LatLon) string {
	return fmt.Sprintf("%.6f,%.6f", ll.Lon, ll.Lat)
}
