package immich

import "time"

// Album is the subset of the Immich album response the suggester reads.
type Album struct {
	ID                    string    `json:"id"`
	AlbumName             string    `json:"albumName"`
	Description           string    `json:"description"`
	AlbumThumbnailAssetID string    `json:"albumThumbnailAssetId"`
	AssetCount            int       `json:"assetCount"`
	StartDate             time.Time `json:"startDate"`
	EndDate               time.Time `json:"endDate"`
}

// User is the authenticated API key owner.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// BulkIDResponse is one entry of a bulk add/remove result.
type BulkIDResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type createAlbumRequest struct {
	AlbumName   string   `json:"albumName"`
	Description string   `json:"description,omitempty"`
	AssetIDs    []string `json:"assetIds,omitempty"`
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

type updateAlbumRequest struct {
	AlbumThumbnailAssetID string `json:"albumThumbnailAssetId,omitempty"`
}

type updateAssetsRequest struct {
	IDs        []string `json:"ids"`
	IsFavorite *bool    `json:"isFavorite,omitempty"`
}
