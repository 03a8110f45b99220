package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/kozaktomas/album-suggester/internal/clustering"
	"github.com/kozaktomas/album-suggester/internal/config"
	"golang.org/x/time/rate"
)

func newTestClient(t *testing.T, url string, sample int) *Client {
	t.Helper()
	c, err := NewClient(config.GeocodingConfig{URL: url, UserAgent: "test-agent", SampleSize: sample, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func TestReverse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse" || r.Header.Get("User-Agent") != "test-agent" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("lat") != "50.087000" || r.URL.Query().Get("format") != "jsonv2" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"display_name":"Prague,  Czechia","address":{"town":"Prague","country":"Czechia","country_code":"cz"}}`))
	}))
	defer server.Close()

	place, err := newTestClient(t, server.URL, 5).Reverse(context.Background(), clustering.GeoPoint{Lat: 50.087, Lon: 14.421})
	if err != nil {
		t.Fatalf("Reverse failed: %v", err)
	}
	want := Place{DisplayName: "Prague, Czechia", Country: "Czechia", CountryCode: "CZ", City: "Prague"}
	if *place != want {
		t.Errorf("Expected %+v, got %+v", want, *place)
	}
}

func TestReverse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) { http.Error(w, "slow down", http.StatusTooManyRequests) }},
		{"api error", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"error":"Unable to geocode"}`)) }},
		{"garbage", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`<html>`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()
			if _, err := newTestClient(t, server.URL, 5).Reverse(context.Background(), clustering.GeoPoint{}); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestPrimaryLocation(t *testing.T) {
	// latitude selects the answer; lat 2 fails
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("lat") {
		case "0.000000", "1.000000":
			w.Write([]byte(`{"address":{"country":"Česko"}}`))
		case "3.000000":
			w.Write([]byte(`{"address":{"country":"cesko"}}`))
		case "2.000000":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			w.Write([]byte(`{"address":{"country":"Austria"}}`))
		}
	}))
	defer server.Close()

	points := []clustering.GeoPoint{{Lat: 0}, {Lat: 1}, {Lat: 2}, {Lat: 3}, {Lat: 4}, {Lat: 5}}
	got, err := newTestClient(t, server.URL, 10).PrimaryLocation(context.Background(), points)
	if err != nil {
		t.Fatalf("PrimaryLocation failed: %v", err)
	}
	if got != "Česko" {
		t.Errorf("Expected Česko, got %q", got)
	}

	got, err = newTestClient(t, server.URL, 10).PrimaryLocation(context.Background(), nil)
	if err != nil || got != "" {
		t.Errorf("Expected empty location for no points, got %q, %v", got, err)
	}
}

func TestPrimaryLocation_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address":{"country":"Austria"}}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestClient(t, server.URL, 5).PrimaryLocation(ctx, []clustering.GeoPoint{{Lat: 1}}); err == nil {
		t.Error("Expected context error")
	}
}

func TestSample(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	tests := []struct {
		n    int
		want []int
	}{
		{5, []int{0, 2, 4, 6, 8}},
		{3, []int{0, 3, 6}},
		{10, items},
		{20, items},
		{0, items},
	}
	for _, tt := range tests {
		if got := Sample(items, tt.n); !slices.Equal(got, tt.want) {
			t.Errorf("Sample(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestMostCommon(t *testing.T) {
	tests := []struct {
		names []string
		want  string
	}{
		{nil, ""},
		{[]string{"", " "}, ""},
		{[]string{"Austria", "Česko", "cesko"}, "Česko"},
		{[]string{"Austria", "Germany"}, "Austria"},
		{[]string{"Germany", "Austria", "Austria"}, "Austria"},
	}
	for _, tt := range tests {
		if got := MostCommon(tt.names); got != tt.want {
			t.Errorf("MostCommon(%v) = %q, want %q", tt.names, got, tt.want)
		}
	}
}
