// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Handler pagination constants
const (
	// DefaultHandlerPageSize is the number of suggestions returned when no limit is given
	DefaultHandlerPageSize = 100

	// MaxHandlerPageSize caps the limit query parameter
	MaxHandlerPageSize = 1000

	// DefaultLogLimit is the number of scan log entries returned per request
	DefaultLogLimit = 200

	// MaxLogLimit caps the scan log limit query parameter
	MaxLogLimit = 5000
)

// HTTP constants
const (
	// MaxRequestBodySize limits JSON request bodies of the API (1MB)
	MaxRequestBodySize = 1 << 20

	// MaxErrorBodySize is how much of an upstream error body is kept for messages
	MaxErrorBodySize = 4096

	// MaxThumbnailSize is the largest thumbnail accepted from the photo service (20MB)
	MaxThumbnailSize = 20 << 20

	// RequestTimeout bounds a single API request including enrichment
	RequestTimeout = 10 * time.Minute
)

// Store constants
const (
	// DefaultSQLitePath is used when DATABASE_URL is empty
	DefaultSQLitePath = "suggestions.db"
)
