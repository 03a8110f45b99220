package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Immich   ImmichConfig
	OpenAI   OpenAIConfig
	Gemini   GeminiConfig
	Ollama   OllamaConfig
	Database DatabaseConfig
	Web      WebConfig

	// Tunables loaded from defaults.yaml and the optional CONFIG_PATH overlay.
	Settings
}

// Settings holds everything that can be tuned from YAML.
type Settings struct {
	Clustering ClusteringConfig        `yaml:"clustering"`
	Augment    AugmentConfig           `yaml:"augment"`
	Scan       ScanConfig              `yaml:"scan"`
	VLM        VLMConfig               `yaml:"vlm"`
	Geocoding  GeocodingConfig         `yaml:"geocoding"`
	Defaults   DefaultsConfig          `yaml:"defaults"`
	DevMode    DevModeConfig           `yaml:"dev_mode"`
	Models     map[string]ModelPricing `yaml:"models"`
}

type ImmichConfig struct {
	URL         string
	APIKey      string
	DatabaseURL string // read-only DSN of the Immich Postgres database
	Schema      string // defaults to public
	Timeout     time.Duration
}

type OpenAIConfig struct {
	Token string
}

type GeminiConfig struct {
	APIKey string
}

type OllamaConfig struct {
	URL   string // defaults to http://localhost:11434
	Model string // defaults to llama3.2-vision:11b
}

type DatabaseConfig struct {
	URL          string // postgres:// URL or SQLite path
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type WebConfig struct {
	Token          string   // bearer token required by the JSON API when set
	AllowedOrigins []string // CORS origins besides localhost
}

type ClusteringConfig struct {
	Stage1 Stage1Config `yaml:"stage1"`
	Stage2 Stage2Config `yaml:"stage2"`
}

type Stage1Config struct {
	TimeWindow     time.Duration `yaml:"time_window"`
	DistanceMeters float64       `yaml:"distance_meters"`
	MinSamples     int           `yaml:"min_samples"`
}

type Stage2Config struct {
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	MergeTimeWindow     time.Duration `yaml:"merge_time_window"`
	Workers             int           `yaml:"workers"`
}

type AugmentConfig struct {
	Margin       time.Duration `yaml:"margin"`
	RadiusMeters float64       `yaml:"radius_meters"`
}

type ScanConfig struct {
	MinAlbumAssets int `yaml:"min_album_assets"`
}

type VLMConfig struct {
	Provider      string        `yaml:"provider"` // openai, gemini, ollama or none
	SampleSize    int           `yaml:"sample_size"`
	MaxImageSize  int           `yaml:"max_image_size"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	Concurrency   int           `yaml:"concurrency"`
}

type GeocodingConfig struct {
	URL        string        `yaml:"url"`
	UserAgent  string        `yaml:"user_agent"`
	SampleSize int           `yaml:"sample_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

type DefaultsConfig struct {
	TitleTemplate string `yaml:"title_template"` // {date} is replaced by e.g. "July 2025"
	Description   string `yaml:"description"`
}

// Title renders the default title for an event starting at t.
func (d DefaultsConfig) Title(t time.Time) string {
	label := "an unknown date"
	if !t.IsZero() {
		label = t.Format("January 2006")
	}
	return strings.ReplaceAll(d.TitleTemplate, "{date}", label)
}

type DevModeConfig struct {
	Enabled    bool `yaml:"enabled"`
	SampleSize int  `yaml:"sample_size"`
}

// AssetLimit returns the asset fetch limit, 0 meaning unlimited.
func (d DevModeConfig) AssetLimit() int {
	if !d.Enabled {
		return 0
	}
	return d.SampleSize
}

// ModelPricing holds input/output prices per 1M tokens.
type ModelPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// LoadSettings parses the embedded defaults and overlays the file at path, if any.
func LoadSettings(path string) (Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(defaultsYAML, &s); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return s, nil
}

func Load() (*Config, error) {
	settings, err := LoadSettings(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return nil, err
	}
	if p := os.Getenv("VLM_PROVIDER"); p != "" {
		settings.VLM.Provider = p
	}

	cfg := &Config{
		Immich: ImmichConfig{
			URL:         strings.TrimSuffix(os.Getenv("IMMICH_URL"), "/"),
			APIKey:      os.Getenv("IMMICH_API_KEY"),
			DatabaseURL: os.Getenv("IMMICH_DATABASE_URL"),
			Schema:      envString("IMMICH_DB_SCHEMA", "public"),
			Timeout:     envDuration("IMMICH_TIMEOUT", 30*time.Second),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Ollama: OllamaConfig{
			URL:   os.Getenv("OLLAMA_URL"),
			Model: os.Getenv("OLLAMA_MODEL"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Web: WebConfig{
			Token:          os.Getenv("API_TOKEN"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Settings: settings,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the tunables that the clustering engine cannot work without.
func (c *Config) Validate() error {
	var errs []error
	s1 := c.Clustering.Stage1
	s2 := c.Clustering.Stage2
	if s1.TimeWindow <= 0 {
		errs = append(errs, errors.New("clustering.stage1.time_window must be positive"))
	}
	if s1.DistanceMeters <= 0 {
		errs = append(errs, errors.New("clustering.stage1.distance_meters must be positive"))
	}
	if s1.MinSamples < 1 {
		errs = append(errs, errors.New("clustering.stage1.min_samples must be at least 1"))
	}
	if s2.SimilarityThreshold < -1 || s2.SimilarityThreshold > 1 {
		errs = append(errs, errors.New("clustering.stage2.similarity_threshold must be within [-1, 1]"))
	}
	if s2.MergeTimeWindow < 0 {
		errs = append(errs, errors.New("clustering.stage2.merge_time_window must not be negative"))
	}
	if c.Augment.Margin < 0 || c.Augment.RadiusMeters <= 0 {
		errs = append(errs, errors.New("augment.margin must not be negative and augment.radius_meters must be positive"))
	}
	switch c.VLM.Provider {
	case "openai", "gemini", "ollama", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown vlm.provider %q", c.VLM.Provider))
	}
	return errors.Join(errs...)
}

// GetModelPricing returns pricing for a specific model, zero if unknown.
func (c *Config) GetModelPricing(modelName string) ModelPricing {
	if pricing, ok := c.Models[modelName]; ok {
		return pricing
	}
	return ModelPricing{}
}
