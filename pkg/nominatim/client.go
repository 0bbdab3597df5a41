package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"fleetmap/internal/domain"
)

const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// Client calls the Nominatim reverse geocoding endpoint. The public
// service requires an identifying User-Agent and allows one request per second.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

func New(baseURL, userAgent string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type reverseResponse struct {
	DisplayName string  `json:"display_name"`
	Address     address `json:"address"`
	Error       string  `json:"error,omitempty"`
}

type address struct {
	Road          string `json:"road"`
	Suburb        string `json:"suburb"`
	Neighbourhood string `json:"neighbourhood"`
	City          string `json:"city"`
	Town          string `json:"town"`
	Village       string `json:"village"`
}

func (c *Client) Reverse(ctx context.Context, at domain.LatLon) (domain.Place, error) {
	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("lat", strconv.FormatFloat(at.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(at.Lon, 'f', -1, 64))
	params.Set("addressdetails", "1")

	reqURL := fmt.Sprintf("%s/reverse?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.Place{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Place{}, fmt.Errorf("%w: reverse geocode: %w", domain.ErrTransientIO, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Place{}, fmt.Errorf("%w: reverse geocode: unexpected status code: %d", domain.ErrTransientIO, resp.StatusCode)
	}

	var body reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Place{}, fmt.Errorf("%w: decoding response: %w", domain.ErrTransientIO, err)
	}
	if body.Error != "" {
		return domain.Place{}, fmt.Errorf("%w: nominatim: %s", domain.ErrTransientIO, body.Error)
	}

	return domain.Place{
		Name:        shortName(body),
		DisplayName: body.DisplayName,
	}, nil
}

// shortName joins road, district and town. Without address details it
// falls back to the first two parts of the display name.
func shortName(r reverseResponse) string {
	a := r.Address
	district, _ := lo.Coalesce(a.Suburb, a.Neighbourhood)
	town, _ := lo.Coalesce(a.City, a.Town, a.Village)
	if parts := nonEmpty([]string{a.Road, district, town}); len(parts) > 0 {
		return strings.Join(parts, ", ")
	}

	display := nonEmpty(lo.Map(strings.Split(r.DisplayName, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
	if len(display) > 2 {
		display = display[:2]
	}
	return strings.Join(display, ", ")
}

func nonEmpty(parts []string) []string {
	return lo.Filter(parts, func(s string, _ int) bool { return s != "" })
}
