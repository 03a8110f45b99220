package immich

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/kozaktomas/album-suggester/internal/clustering"
	"github.com/kozaktomas/album-suggester/internal/config"
	"github.com/kozaktomas/album-suggester/internal/database/postgres"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// Table name candidates, newest Immich naming first.
var (
	assetTables      = []string{"asset", "assets"}
	exifTables       = []string{"asset_exif", "exif"}
	smartTables      = []string{"smart_search"}
	albumTables      = []string{"album", "albums"}
	albumAssetTables = []string{"album_asset", "albums_assets_assets"}
)

// SchemaError is returned when the Immich schema or one of its tables cannot be found.
type SchemaError struct {
	Schema    string
	Missing   []string
	Available []string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("postgres schema %q does not exist (available: %s)", e.Schema, strings.Join(e.Available, ", "))
	}
	return fmt.Sprintf("immich tables not found in schema %q: %s (present: %s)",
		e.Schema, strings.Join(e.Missing, ", "), strings.Join(e.Available, ", "))
}

// tables holds the resolved, quoted table names of one Immich installation.
type tables struct {
	asset      string
	exif       string
	smart      string
	album      string
	albumAsset string
	// link columns differ between the old join table and album_asset
	linkAlbumCol string
	linkAssetCol string
}

// Reader reads assets, embeddings and albums straight from the Immich database.
type Reader struct {
	pool   *postgres.Pool
	schema string
	tables tables
}

// OpenReader connects to the Immich database and resolves its table layout.
func OpenReader(ctx context.Context, cfg config.ImmichConfig) (*Reader, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("IMMICH_DATABASE_URL is required")
	}
	pool, err := postgres.NewPool(&config.DatabaseConfig{URL: cfg.DatabaseURL, MaxOpenConns: 4, MaxIdleConns: 2})
	if err != nil {
		return nil, fmt.Errorf("connect to immich database: %w", err)
	}
	r, err := NewReader(ctx, pool, cfg.Schema)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// NewReader resolves the table layout on an existing pool.
func NewReader(ctx context.Context, pool *postgres.Pool, schema string) (*Reader, error) {
	if schema == "" {
		schema = "public"
	}
	r := &Reader{pool: pool, schema: schema}
	if err := r.resolveTables(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Close closes the underlying pool.
func (r *Reader) Close() error {
	return r.pool.Close()
}

func (r *Reader) resolveTables(ctx context.Context) error {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`, r.schema).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check schema %s: %w", r.schema, err)
	}
	if !exists {
		available, err := r.listNames(ctx, `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`)
		if err != nil {
			return err
		}
		return &SchemaError{Schema: r.schema, Available: available}
	}

	present, err := r.listNames(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = $1 ORDER BY table_name`, r.schema)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(present))
	for _, name := range present {
		have[name] = true
	}

	var missing []string
	resolve := func(candidates []string) string {
		for _, name := range candidates {
			if have[name] {
				return name
			}
		}
		missing = append(missing, strings.Join(candidates, "|"))
		return ""
	}

	asset := resolve(assetTables)
	exif := resolve(exifTables)
	smart := resolve(smartTables)
	album := resolve(albumTables)
	link := resolve(albumAssetTables)
	if len(missing) > 0 {
		return &SchemaError{Schema: r.schema, Missing: missing, Available: present}
	}

	r.tables = tables{
		asset:        r.qualify(asset),
		exif:         r.qualify(exif),
		smart:        r.qualify(smart),
		album:        r.qualify(album),
		albumAsset:   r.qualify(link),
		linkAlbumCol: `"albumId"`,
		linkAssetCol: `"assetId"`,
	}
	if link == "albums_assets_assets" {
		r.tables.linkAlbumCol = `"albumsId"`
		r.tables.linkAssetCol = `"assetsId"`
	}
	log.Printf("Using Immich schema %q with tables asset=%s exif=%s smart_search=%s album=%s album_asset=%s",
		r.schema, asset, exif, smart, album, link)
	return nil
}

func (r *Reader) qualify(table string) string {
	return pq.QuoteIdentifier(r.schema) + "." + pq.QuoteIdentifier(table)
}

func (r *Reader) listNames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// FetchAssets returns visible, non-deleted assets that have a CLIP embedding,
// newest first. Assets listed in exclude are skipped; limit <= 0 means no limit.
func (r *Reader) FetchAssets(ctx context.Context, exclude []string, limit int) ([]clustering.Asset, error) {
	t := r.tables
	query := fmt.Sprintf(`
		SELECT a.id::text,
		       COALESCE(e."dateTimeOriginal", a."fileCreatedAt"),
		       e.latitude,
		       e.longitude,
		       s.embedding,
		       ARRAY(SELECT l.%[6]s::text FROM %[4]s l WHERE l.%[5]s = a.id)
		FROM %[1]s a
		JOIN %[3]s s ON s."assetId" = a.id
		LEFT JOIN %[2]s e ON e."assetId" = a.id
		WHERE a."deletedAt" IS NULL
		  AND a."isArchived" = false
		  AND NOT (a.id::text = ANY($1))
		ORDER BY a."fileCreatedAt" DESC`,
		t.asset, t.exif, t.smart, t.albumAsset, t.linkAssetCol, t.linkAlbumCol)

	if exclude == nil {
		// a NULL array would filter out every row
		exclude = []string{}
	}
	args := []any{pq.Array(exclude)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch assets: %w", err)
	}
	defer rows.Close()

	var assets []clustering.Asset
	for rows.Next() {
		var (
			a        clustering.Asset
			taken    sql.NullTime
			lat, lon sql.NullFloat64
			vec      pgvector.Vector
			albums   []string
		)
		if err := rows.Scan(&a.ID, &taken, &lat, &lon, &vec, pq.Array(&albums)); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		if taken.Valid {
			ts := taken.Time.UTC()
			a.Timestamp = &ts
		}
		if lat.Valid && lon.Valid {
			a.Latitude = &lat.Float64
			a.Longitude = &lon.Float64
		}
		a.Embedding = vec.Slice()
		a.AlbumIDs = albums
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return assets, nil
}

// AlbumEnvelopes returns the time and location envelope of every non-empty album.
// Albums whose assets carry no timestamps get zero dates, which augmentation rejects.
func (r *Reader) AlbumEnvelopes(ctx context.Context) ([]clustering.AlbumEnvelope, error) {
	t := r.tables
	query := fmt.Sprintf(`
		SELECT al.id::text,
		       al."albumName",
		       COALESCE(al.description, ''),
		       COALESCE(al."albumThumbnailAssetId"::text, ''),
		       array_agg(a.id::text ORDER BY a.id),
		       MIN(COALESCE(e."dateTimeOriginal", a."fileCreatedAt")),
		       MAX(COALESCE(e."dateTimeOriginal", a."fileCreatedAt")),
		       array_agg(e.latitude ORDER BY a.id) FILTER (WHERE e.latitude IS NOT NULL AND e.longitude IS NOT NULL),
		       array_agg(e.longitude ORDER BY a.id) FILTER (WHERE e.latitude IS NOT NULL AND e.longitude IS NOT NULL)
		FROM %[1]s al
		JOIN %[2]s l ON l.%[5]s = al.id
		JOIN %[3]s a ON a.id = l.%[6]s AND a."deletedAt" IS NULL
		LEFT JOIN %[4]s e ON e."assetId" = a.id
		WHERE al."deletedAt" IS NULL
		GROUP BY al.id
		ORDER BY al.id`,
		t.album, t.albumAsset, t.asset, t.exif, t.linkAlbumCol, t.linkAssetCol)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetch albums: %w", err)
	}
	defer rows.Close()

	var envelopes []clustering.AlbumEnvelope
	for rows.Next() {
		var (
			env              clustering.AlbumEnvelope
			minDate, maxDate sql.NullTime
			lats, lons       pq.Float64Array
		)
		if err := rows.Scan(&env.AlbumID, &env.Title, &env.Description, &env.CoverAssetID,
			pq.Array(&env.AssetIDs), &minDate, &maxDate, &lats, &lons); err != nil {
			return nil, fmt.Errorf("scan album: %w", err)
		}
		if minDate.Valid && maxDate.Valid {
			env.MinDate = minDate.Time.UTC()
			env.MaxDate = maxDate.Time.UTC()
		}
		env.Location = albumLocation(lats, lons)
		envelopes = append(envelopes, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate albums: %w", err)
	}
	return envelopes, nil
}

// albumLocation is the spherical centroid of the album's valid GPS pairs.
func albumLocation(lats, lons []float64) *clustering.GeoPoint {
	var points []clustering.GeoPoint
	for i := range min(len(lats), len(lons)) {
		if p := (clustering.GeoPoint{Lat: lats[i], Lon: lons[i]}); p.Valid() {
			points = append(points, p)
		}
	}
	return clustering.Centroid(points)
}
