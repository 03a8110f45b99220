// Package geocode resolves GPS coordinates to place names with a Nominatim
// compatible reverse geocoding service.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/album-suggester/internal/clustering"
	"github.com/kozaktomas/album-suggester/internal/config"
	"golang.org/x/time/rate"
)

// Place is the part of a reverse geocoding answer the suggester uses.
type Place struct {
	DisplayName string
	Country     string
	CountryCode string
	City        string
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
	Address     struct {
		Country     string `json:"country"`
		CountryCode string `json:"country_code"`
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
	} `json:"address"`
}

// Client queries the reverse endpoint. Requests are limited to one per
// second, the public Nominatim usage policy.
type Client struct {
	baseURL    *url.URL
	userAgent  string
	sampleSize int
	http       *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client from the geocoding settings.
func NewClient(cfg config.GeocodingConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("geocoding URL is required")
	}
	u, err := url.Parse(strings.TrimSuffix(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid geocoding URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sample := cfg.SampleSize
	if sample <= 0 {
		sample = 5
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "album-suggester"
	}
	return &Client{
		baseURL:    u,
		userAgent:  ua,
		sampleSize: sample,
		http:       &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

// Reverse looks up a single point.
func (c *Client) Reverse(ctx context.Context, p clustering.GeoPoint) (*Place, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL.JoinPath("reverse")
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(p.Lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(p.Lon, 'f', 6, 64))
	q.Set("zoom", "10")
	q.Set("accept-language", "en")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, body)
	}

	var nr nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&nr); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}
	if nr.Error != "" {
		return nil, fmt.Errorf("reverse geocoding %.5f,%.5f: %s", p.Lat, p.Lon, nr.Error)
	}

	city := nr.Address.City
	if city == "" {
		city = nr.Address.Town
	}
	if city == "" {
		city = nr.Address.Village
	}
	return &Place{
		DisplayName: normalize(nr.DisplayName),
		Country:     normalize(nr.Address.Country),
		CountryCode: strings.ToUpper(nr.Address.CountryCode),
		City:        normalize(city),
	}, nil
}

// PrimaryLocation returns the most common country among an evenly spread
// sample of points, or "" when none could be resolved. Failed lookups are
// skipped; only a cancelled context is returned as an error.
func (c *Client) PrimaryLocation(ctx context.Context, points []clustering.GeoPoint) (string, error) {
	var countries []string
	for _, p := range Sample(points, c.sampleSize) {
		place, err := c.Reverse(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if place.Country != "" {
			countries = append(countries, place.Country)
		}
	}
	return MostCommon(countries), nil
}

// Sample picks up to n points spread evenly over the slice, keeping order.
func Sample[T any](items []T, n int) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	out := make([]T, 0, n)
	step := float64(len(items)) / float64(n)
	for i := range n {
		out = append(out, items[int(float64(i)*step)])
	}
	return out
}

// MostCommon returns the most frequent name, comparing names case- and
// accent-insensitively. Ties go to the name seen first. The first spelling
// seen is returned.
func MostCommon(names []string) string {
	type entry struct {
		name  string
		count int
		first int
	}
	byKey := make(map[string]*entry)
	for i, n := range names {
		k := foldKey(n)
		if k == "" {
			continue
		}
		if e, ok := byKey[k]; ok {
			e.count++
			continue
		}
		byKey[k] = &entry{name: n, count: 1, first: i}
	}
	if len(byKey) == 0 {
		return ""
	}

	entries := make([]*entry, 0, len(byKey))
	for _, e := range byKey {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].first < entries[j].first
	})
	return entries[0].name
}
