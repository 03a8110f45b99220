package clustering

import "fmt"

// InvalidAssetError marks an asset that cannot be placed by either stage.
// The asset is skipped and the run continues.
type InvalidAssetError struct {
	AssetID string
	Reason  string
}

func (e *InvalidAssetError) Error() string {
	if e.AssetID == "" {
		return "invalid asset: " + e.Reason
	}
	return fmt.Sprintf("invalid asset %s: %s", e.AssetID, e.Reason)
}

// EmptyComponentError is an invariant violation: a graph component without assets.
// It is fatal for the current run.
type EmptyComponentError struct {
	Component int
}

func (e *EmptyComponentError) Error() string {
	return fmt.Sprintf("component %d has no assets", e.Component)
}

// AugmentationSourceError reports a malformed album envelope. Only that album is skipped.
type AugmentationSourceError struct {
	AlbumID string
	Reason  string
}

func (e *AugmentationSourceError) Error() string {
	return fmt.Sprintf("album %q cannot be augmented: %s", e.AlbumID, e.Reason)
}
