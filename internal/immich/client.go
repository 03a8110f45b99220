// Package immich talks to an Immich server: the REST API for album writes and
// thumbnails, and the Postgres database for bulk asset reads.
package immich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kozaktomas/album-suggester/internal/config"
	"github.com/kozaktomas/album-suggester/internal/constants"
)

// Client is a minimal Immich REST API client authenticated with an API key.
type Client struct {
	parsedURL *url.URL
	apiKey    string
	http      *http.Client
}

// NewClient creates a client for the Immich server at cfg.URL.
func NewClient(cfg config.ImmichConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("immich URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("immich API key is required")
	}
	parsed, err := url.Parse(strings.TrimSuffix(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid immich URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid immich URL scheme %q", parsed.Scheme)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		parsedURL: parsed.JoinPath("api"),
		apiKey:    cfg.APIKey,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

// resolveURL builds a full URL from the API base and the given path segments.
// A query string on the last segment is kept.
func (c *Client) resolveURL(pathSegments ...string) string {
	if len(pathSegments) == 0 {
		return c.parsedURL.String()
	}
	last := pathSegments[len(pathSegments)-1]
	if pathPart, query, ok := strings.Cut(last, "?"); ok {
		pathSegments[len(pathSegments)-1] = pathPart
		result := c.parsedURL.JoinPath(pathSegments...)
		result.RawQuery = query
		return result.String()
	}
	return c.parsedURL.JoinPath(pathSegments...).String()
}

// readErrorBody reads the response body for error messages.
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, constants.MaxErrorBodySize))
	if err != nil {
		return "(could not read error body)"
	}
	return string(body)
}

// Ping checks that the server is reachable and the API key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := doGetJSON[User](ctx, c, "users", "me"); err != nil {
		return fmt.Errorf("immich ping: %w", err)
	}
	return nil
}

// Thumbnail downloads the preview-size thumbnail of an asset. Immich serves
// these as JPEG or WebP regardless of the Accept header.
func (c *Client) Thumbnail(ctx context.Context, assetID string) ([]byte, error) {
	data, err := doGetRaw(ctx, c, "assets", assetID, "thumbnail?size=preview")
	if err != nil {
		return nil, fmt.Errorf("download thumbnail %s: %w", assetID, err)
	}
	return data, nil
}

// ListAlbums returns every album visible to the API key owner.
func (c *Client) ListAlbums(ctx context.Context) ([]Album, error) {
	albums, err := doGetJSON[[]Album](ctx, c, "albums")
	if err != nil {
		return nil, fmt.Errorf("list albums: %w", err)
	}
	return *albums, nil
}

// CreateAlbum creates an album holding assetIDs and returns its id.
func (c *Client) CreateAlbum(ctx context.Context, name, description string, assetIDs []string) (string, error) {
	req := createAlbumRequest{AlbumName: name, Description: description, AssetIDs: assetIDs}
	album, err := doRequestJSON[Album](ctx, c, http.MethodPost, "albums", req, http.StatusOK, http.StatusCreated)
	if err != nil {
		return "", fmt.Errorf("create album %q: %w", name, err)
	}
	if album.ID == "" {
		return "", fmt.Errorf("create album %q: response has no album id", name)
	}
	return album.ID, nil
}

// AddAssetsToAlbum adds assets to an existing album. Assets already in the
// album are reported as duplicates by Immich and ignored here.
func (c *Client) AddAssetsToAlbum(ctx context.Context, albumID string, assetIDs []string) error {
	if len(assetIDs) == 0 {
		return nil
	}
	results, err := doRequestJSON[[]BulkIDResponse](ctx, c, http.MethodPut, "albums/"+albumID+"/assets", idsRequest{IDs: assetIDs}, http.StatusOK)
	if err != nil {
		return fmt.Errorf("add assets to album %s: %w", albumID, err)
	}
	var failed []string
	for _, r := range *results {
		if !r.Success && r.Error != "duplicate" {
			failed = append(failed, r.ID+": "+r.Error)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("add assets to album %s: %s", albumID, strings.Join(failed, ", "))
	}
	return nil
}

// SetAlbumCover makes assetID the album thumbnail.
func (c *Client) SetAlbumCover(ctx context.Context, albumID, assetID string) error {
	req := updateAlbumRequest{AlbumThumbnailAssetID: assetID}
	if err := doRequestRaw(ctx, c, http.MethodPatch, "albums/"+albumID, req, http.StatusOK); err != nil {
		return fmt.Errorf("set cover of album %s: %w", albumID, err)
	}
	return nil
}

// SetFavorite marks or unmarks assets as favourites in one bulk call.
func (c *Client) SetFavorite(ctx context.Context, assetIDs []string, favorite bool) error {
	if len(assetIDs) == 0 {
		return nil
	}
	req := updateAssetsRequest{IDs: assetIDs, IsFavorite: &favorite}
	if err := doRequestRaw(ctx, c, http.MethodPut, "assets", req, http.StatusOK, http.StatusNoContent); err != nil {
		return fmt.Errorf("set favorite on %d assets: %w", len(assetIDs), err)
	}
	return nil
}
