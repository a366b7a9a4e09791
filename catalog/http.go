package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hove-io/kirin-go/timeutil"
)

// DefaultRequestTimeout bounds each catalog HTTP request.
const DefaultRequestTimeout = 5 * time.Second

// HTTPClient talks to a navitia-compatible coverage: context-aware GETs
// with bearer-token auth against the vehicle_journeys and status
// endpoints, decoding their JSON bodies.
type HTTPClient struct {
	BaseURL string
	Coverage string
	Token    string
	Timeout  time.Duration

	httpClient *http.Client
}

// NewHTTPClient builds an HTTPClient for the given navitia coverage.
func NewHTTPClient(baseURL, coverage, token string) *HTTPClient {
	return &HTTPClient{
		BaseURL:    baseURL,
		Coverage:   coverage,
		Token:      token,
		Timeout:    DefaultRequestTimeout,
		httpClient: &http.Client{},
	}
}

// vjResponse mirrors the subset of navitia's vehicle_journeys response
// this client consumes.
type vjResponse struct {
	VehicleJourneys []struct {
		ID         string `json:"id"`
		StopTimes  []struct {
			Arrival        string `json:"arrival_time"`
			Departure      string `json:"departure_time"`
			StopPoint struct {
				ID    string `json:"id"`
				Codes []struct {
					Type  string `json:"type"`
					Value string `json:"value"`
				} `json:"codes"`
				StopArea struct {
					Timezone string `json:"timezone"`
				} `json:"stop_area"`
			} `json:"stop_point"`
		} `json:"stop_times"`
	} `json:"vehicle_journeys"`
}

// FindVehicleJourneys implements Client.
func (c *HTTPClient) FindVehicleJourneys(ctx context.Context, codeType, code string, sinceUTC, untilUTC time.Time) ([]VehicleJourney, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	filter := fmt.Sprintf("vehicle_journey.has_code(%s, %s)", codeType, code)
	u := fmt.Sprintf("%s/coverage/%s/vehicle_journeys?filter=%s&since=%s&until=%s&depth=2",
		c.BaseURL, c.Coverage, url.QueryEscape(filter),
		timeutil.ToNavitiaCompact(sinceUTC), timeutil.ToNavitiaCompact(untilUTC))

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetching vehicle journeys: %w", err)
	}

	var parsed vjResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding vehicle journeys response: %w", err)
	}

	vjs := make([]VehicleJourney, 0, len(parsed.VehicleJourneys))
	for _, v := range parsed.VehicleJourneys {
		vj := VehicleJourney{ID: v.ID}
		for _, st := range v.StopTimes {
			entry := StopTime{StopPointID: st.StopPoint.ID, Timezone: st.StopPoint.StopArea.Timezone}
			for _, code := range st.StopPoint.Codes {
				entry.Codes = append(entry.Codes, ExternalCode{Type: code.Type, Value: code.Value})
			}
			if st.Arrival != "" {
				d, perr := parseNavitiaTimeOfDay(st.Arrival)
				if perr != nil {
					return nil, fmt.Errorf("parsing arrival_time %q: %w", st.Arrival, perr)
				}
				entry.ArrivalTime, entry.ArrivalIsSet = d, true
			}
			if st.Departure != "" {
				d, perr := parseNavitiaTimeOfDay(st.Departure)
				if perr != nil {
					return nil, fmt.Errorf("parsing departure_time %q: %w", st.Departure, perr)
				}
				entry.DepartureTime, entry.DepartureIsSet = d, true
			}
			vj.StopTimes = append(vj.StopTimes, entry)
		}
		vjs = append(vjs, vj)
	}

	return vjs, nil
}

// PublicationDate implements Client, fetching navitia's coverage status
// endpoint for its current last_load_at, used as a cache key.
func (c *HTTPClient) PublicationDate(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	body, err := c.get(ctx, fmt.Sprintf("%s/coverage/%s/status", c.BaseURL, c.Coverage))
	if err != nil {
		return "", fmt.Errorf("fetching publication date: %w", err)
	}

	var parsed struct {
		LastLoadAt string `json:"last_load_at"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding status response: %w", err)
	}

	return parsed.LastLoadAt, nil
}

func (c *HTTPClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// parseNavitiaTimeOfDay parses navitia's "HHMMSS" stop time field (which
// may exceed 24h for trips continuing past midnight) into a duration
// since local midnight.
func parseNavitiaTimeOfDay(s string) (time.Duration, error) {
	if len(s) != 6 {
		return 0, fmt.Errorf("expected 6-digit HHMMSS, got %q", s)
	}
	h, err := strconv.Atoi(s[0:2])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(s[2:4])
	if err != nil {
		return 0, err
	}
	sec, err := strconv.Atoi(s[4:6])
	if err != nil {
		return 0, err
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}
