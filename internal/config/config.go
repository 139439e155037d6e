package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete AmanRAG configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Data       DataConfig       `yaml:"data" json:"data"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Qdrant     QdrantConfig     `yaml:"qdrant" json:"qdrant"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	S3         S3Config         `yaml:"s3" json:"s3"`
	Parser     ParserConfig     `yaml:"parser" json:"parser"`
	Converter  ConverterConfig  `yaml:"converter" json:"converter"`
	Encoder    EncoderConfig    `yaml:"encoder" json:"encoder"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Research   ResearchConfig   `yaml:"research" json:"research"`
	Preprocess PreprocessConfig `yaml:"preprocess" json:"preprocess"`
	Markdown   MarkdownConfig   `yaml:"markdown" json:"markdown"`
	Structure  StructureConfig  `yaml:"structure" json:"structure"`
	ASR        ASRConfig        `yaml:"asr" json:"asr"`
	Assets     AssetsConfig     `yaml:"assets" json:"assets"`
	Watcher    WatcherConfig    `yaml:"watcher" json:"watcher"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
}

// DataConfig configures the on-disk data root. Generated artifacts
// (page renders, thumbnails, cover art, downloaded uploads) live in
// fixed subdirectories under Root.
type DataConfig struct {
	Root string `yaml:"root" json:"root"`
}

// UploadsDir is where source documents are staged for parsing.
func (d DataConfig) UploadsDir() string { return filepath.Join(d.Root, "uploads") }

// PageImagesDir holds full-resolution page renders and thumbnails,
// one subdirectory per document.
func (d DataConfig) PageImagesDir() string { return filepath.Join(d.Root, "page_images") }

// CoversDir holds extracted album/cover art, one subdirectory per document.
func (d DataConfig) CoversDir() string { return filepath.Join(d.Root, "images") }

// DropDir is the watched folder for filesystem-driven ingestion.
func (d DataConfig) DropDir() string { return filepath.Join(d.Root, "drop") }

// TmpDir holds per-job scratch space, removed on completion.
func (d DataConfig) TmpDir() string { return filepath.Join(d.Root, "tmp") }

// TelemetryPath is the default location of the metrics database.
func (d DataConfig) TelemetryPath() string { return filepath.Join(d.Root, "telemetry.db") }

// LockPath is the advisory lock guarding the data root against a second
// server instance.
func (d DataConfig) LockPath() string { return filepath.Join(d.Root, ".amanrag.lock") }

// ServerConfig configures the HTTP/WebSocket server.
type ServerConfig struct {
	Host        string   `yaml:"host" json:"host"`
	Port        int      `yaml:"port" json:"port"`
	LogLevel    string   `yaml:"log_level" json:"log_level"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// QdrantConfig configures the vector store connection and the two
// logical collections.
type QdrantConfig struct {
	Host             string `yaml:"host" json:"host"`
	Port             int    `yaml:"port" json:"port"`
	APIKey           string `yaml:"api_key" json:"api_key"`
	UseTLS           bool   `yaml:"use_tls" json:"use_tls"`
	VisualCollection string `yaml:"visual_collection" json:"visual_collection"`
	TextCollection   string `yaml:"text_collection" json:"text_collection"`
	TimeoutS         int    `yaml:"timeout_s" json:"timeout_s"`
}

// RedisConfig configures the registration/deduplication store.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// S3Config configures the upload bucket. Credentials fall back to the
// standard AWS environment/shared-config chain when unset.
type S3Config struct {
	Endpoint       string `yaml:"endpoint" json:"endpoint"`
	Region         string `yaml:"region" json:"region"`
	Bucket         string `yaml:"bucket" json:"bucket"`
	AccessKey      string `yaml:"access_key" json:"access_key"`
	SecretKey      string `yaml:"secret_key" json:"secret_key"`
	UsePathStyle   bool   `yaml:"use_path_style" json:"use_path_style"`
	PresignExpiryS int    `yaml:"presign_expiry_s" json:"presign_expiry_s"`
}

// ParserConfig configures the document parser sidecar.
type ParserConfig struct {
	BaseURL       string `yaml:"base_url" json:"base_url"`
	TimeoutS      int    `yaml:"timeout_s" json:"timeout_s"`
	WantStructure bool   `yaml:"want_structure" json:"want_structure"`
}

// ConverterConfig configures the legacy Office converter sidecar.
type ConverterConfig struct {
	BaseURL  string `yaml:"base_url" json:"base_url"`
	TimeoutS int    `yaml:"timeout_s" json:"timeout_s"`
}

// EncoderConfig configures the embedding encoder sidecar.
type EncoderConfig struct {
	BaseURL         string `yaml:"base_url" json:"base_url"`
	Device          string `yaml:"device" json:"device"`
	BatchSizeVisual int    `yaml:"batch_size_visual" json:"batch_size_visual"`
	BatchSizeText   int    `yaml:"batch_size_text" json:"batch_size_text"`
	TimeoutS        int    `yaml:"timeout_s" json:"timeout_s"`
	QueryCacheSize  int    `yaml:"query_cache_size" json:"query_cache_size"`
}

// IngestConfig configures the processing worker pool.
type IngestConfig struct {
	// MaxParallelJobs caps concurrent document processing.
	// Zero means auto (min(2, cores-1), at least 1).
	MaxParallelJobs int `yaml:"max_parallel_jobs" json:"max_parallel_jobs"`

	// QueueCapacity bounds the pending job queue. Overflow is reported
	// to the event producer as retryable.
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`

	// HeartbeatIntervalS is how often active jobs broadcast progress.
	HeartbeatIntervalS int `yaml:"heartbeat_interval_s" json:"heartbeat_interval_s"`

	// JobTimeoutSPerPage scales the overall job deadline by page count.
	JobTimeoutSPerPage int `yaml:"job_timeout_s_per_page" json:"job_timeout_s_per_page"`
}

// SearchConfig configures the two-stage retrieval engine.
type SearchConfig struct {
	// TopKPerCollection is the ANN candidate count per collection.
	TopKPerCollection int `yaml:"top_k_per_collection" json:"top_k_per_collection"`

	// DefaultNumResults is the default result count after fusion.
	DefaultNumResults int `yaml:"default_num_results" json:"default_num_results"`

	// HybridAlpha weights the visual side in hybrid fusion (0.0-1.0).
	HybridAlpha float64 `yaml:"hybrid_alpha" json:"hybrid_alpha"`
}

// ResearchConfig configures the question-answering pipeline.
type ResearchConfig struct {
	Provider     string  `yaml:"provider" json:"provider"`
	Model        string  `yaml:"model" json:"model"`
	APIKey       string  `yaml:"api_key" json:"api_key"`
	MaxTokens    int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature  float64 `yaml:"temperature" json:"temperature"`
	NumSources   int     `yaml:"num_sources" json:"num_sources"`
	MaxSources   int     `yaml:"max_sources" json:"max_sources"`
	TokenBudget  int     `yaml:"token_budget" json:"token_budget"`
	TimeoutS     int     `yaml:"timeout_s" json:"timeout_s"`
	LocalBaseURL string  `yaml:"local_base_url" json:"local_base_url"`
}

// PreprocessConfig configures optional local-LLM context preprocessing.
type PreprocessConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Strategy   string `yaml:"strategy" json:"strategy"`
	Threshold  int    `yaml:"threshold" json:"threshold"`
	MaxSources int    `yaml:"max_sources" json:"max_sources"`
	Model      string `yaml:"model" json:"model"`
}

// MarkdownConfig configures markdown sidecar storage.
type MarkdownConfig struct {
	// CompressionThresholdBytes is the size above which markdown is
	// stored gzip+base64 instead of inline.
	CompressionThresholdBytes int `yaml:"compression_threshold_bytes" json:"compression_threshold_bytes"`

	// MaxBytes caps raw markdown size; larger documents store no sidecar.
	MaxBytes int64 `yaml:"max_bytes" json:"max_bytes"`
}

// StructureConfig configures page structure extraction and caching.
type StructureConfig struct {
	CacheSize          int     `yaml:"cache_size" json:"cache_size"`
	Compression        bool    `yaml:"compression" json:"compression"`
	ExtractionTimeoutS int     `yaml:"extraction_timeout_s" json:"extraction_timeout_s"`
	MinConfidence      float64 `yaml:"min_confidence" json:"min_confidence"`
	BBoxPrecision      int     `yaml:"bbox_precision" json:"bbox_precision"`
}

// ASRConfig configures audio transcription.
type ASRConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	Model          string  `yaml:"model" json:"model"`
	Language       string  `yaml:"language" json:"language"`
	Device         string  `yaml:"device" json:"device"`
	WordTimestamps bool    `yaml:"word_timestamps" json:"word_timestamps"`
	Temperature    float64 `yaml:"temperature" json:"temperature"`
	MaxTimeChunkS  int     `yaml:"max_time_chunk_s" json:"max_time_chunk_s"`
}

// AssetsConfig configures generated image artifacts.
type AssetsConfig struct {
	ThumbnailWidth  int `yaml:"thumbnail_width" json:"thumbnail_width"`
	ThumbnailHeight int `yaml:"thumbnail_height" json:"thumbnail_height"`
	JPEGQuality     int `yaml:"jpeg_quality" json:"jpeg_quality"`
}

// WatcherConfig configures the drop-folder watcher.
type WatcherConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Dir        string `yaml:"dir" json:"dir"`
	DebounceMS int    `yaml:"debounce_ms" json:"debounce_ms"`
}

// TelemetryConfig configures the local metrics database.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// DefaultMaxParallelJobs returns the auto concurrency cap:
// min(2, cores-1), never below 1.
func DefaultMaxParallelJobs() int {
	n := runtime.NumCPU() - 1
	if n > 2 {
		n = 2
	}
	if n < 1 {
		n = 1
	}
	return n
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Data: DataConfig{
			Root: defaultDataRoot(),
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			LogLevel:    "info",
			CORSOrigins: []string{"*"},
		},
		Qdrant: QdrantConfig{
			Host:             "localhost",
			Port:             6334,
			VisualCollection: "visual",
			TextCollection:   "text",
			TimeoutS:         30,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "amanrag-uploads",
			UsePathStyle:   true, // MinIO-compatible by default
			PresignExpiryS: 3600,
		},
		Parser: ParserConfig{
			BaseURL:       "http://localhost:5001",
			TimeoutS:      30,
			WantStructure: true,
		},
		Converter: ConverterConfig{
			BaseURL:  "http://localhost:5002",
			TimeoutS: 30,
		},
		Encoder: EncoderConfig{
			BaseURL:         "http://localhost:5003",
			Device:          "gpu", // falls back to cpu when unavailable
			BatchSizeVisual: 4,
			BatchSizeText:   32,
			TimeoutS:        120,
			QueryCacheSize:  256,
		},
		Ingest: IngestConfig{
			MaxParallelJobs:    0, // auto
			QueueCapacity:      256,
			HeartbeatIntervalS: 5,
			JobTimeoutSPerPage: 300,
		},
		Search: SearchConfig{
			TopKPerCollection: 50,
			DefaultNumResults: 10,
			HybridAlpha:       0.5,
		},
		Research: ResearchConfig{
			Provider:     "openai",
			Model:        "", // provider default
			MaxTokens:    2048,
			Temperature:  0.3,
			NumSources:   10,
			MaxSources:   20,
			TokenBudget:  8000,
			TimeoutS:     60,
			LocalBaseURL: "http://localhost:11434/v1",
		},
		Preprocess: PreprocessConfig{
			Enabled:    false,
			Strategy:   "compress",
			Threshold:  7,
			MaxSources: 10,
			Model:      "",
		},
		Markdown: MarkdownConfig{
			CompressionThresholdBytes: 1024,
			MaxBytes:                  10 << 20, // 10 MiB
		},
		Structure: StructureConfig{
			CacheSize:          20,
			Compression:        true,
			ExtractionTimeoutS: 60,
			MinConfidence:      0.0,
			BBoxPrecision:      2,
		},
		ASR: ASRConfig{
			Enabled:        true,
			Model:          "base",
			Language:       "auto",
			Device:         "gpu",
			WordTimestamps: false,
			Temperature:    0.0,
			MaxTimeChunkS:  30,
		},
		Assets: AssetsConfig{
			ThumbnailWidth:  300,
			ThumbnailHeight: 400,
			JPEGQuality:     85,
		},
		Watcher: WatcherConfig{
			Enabled:    false,
			Dir:        "", // empty means <data root>/drop
			DebounceMS: 500,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			Path:    "", // empty means <data root>/telemetry.db
		},
	}
}

// defaultDataRoot returns the default data directory.
func defaultDataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanrag", "data")
	}
	return filepath.Join(home, ".amanrag", "data")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/amanrag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amanrag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback - should rarely happen
		return filepath.Join(os.TempDir(), ".config", "amanrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrag", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration for the given working directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/amanrag/config.yaml)
//  3. Project config (.amanrag.yaml in dir)
//  4. .env file in dir (does not override existing environment)
//  5. Environment variables (AMANRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	// Step 1: Load user/global config (if exists)
	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	// Step 2: Load project config (overrides user config)
	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	// Step 3: Load .env, then apply environment overrides.
	// godotenv never overrides variables already set in the environment,
	// which keeps real env vars at the top of the precedence order.
	_ = godotenv.Load(filepath.Join(dir, ".env"))
	cfg.applyEnvOverrides()

	// Step 4: Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .amanrag.yaml or .amanrag.yml.
func (c *Config) loadFromFile(dir string) error {
	// Try .yaml first (takes precedence)
	yamlPath := filepath.Join(dir, ".amanrag.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	// Try .yml as fallback
	ymlPath := filepath.Join(dir, ".amanrag.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Use a temporary struct for parsing to detect type errors
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Merge parsed values with defaults (only non-zero values)
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Data
	if other.Data.Root != "" {
		c.Data.Root = other.Data.Root
	}

	// Server
	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if len(other.Server.CORSOrigins) > 0 {
		c.Server.CORSOrigins = other.Server.CORSOrigins
	}

	// Qdrant
	if other.Qdrant.Host != "" {
		c.Qdrant.Host = other.Qdrant.Host
	}
	if other.Qdrant.Port != 0 {
		c.Qdrant.Port = other.Qdrant.Port
	}
	if other.Qdrant.APIKey != "" {
		c.Qdrant.APIKey = other.Qdrant.APIKey
	}
	if other.Qdrant.UseTLS {
		c.Qdrant.UseTLS = true
	}
	if other.Qdrant.VisualCollection != "" {
		c.Qdrant.VisualCollection = other.Qdrant.VisualCollection
	}
	if other.Qdrant.TextCollection != "" {
		c.Qdrant.TextCollection = other.Qdrant.TextCollection
	}
	if other.Qdrant.TimeoutS != 0 {
		c.Qdrant.TimeoutS = other.Qdrant.TimeoutS
	}

	// Redis
	if other.Redis.Addr != "" {
		c.Redis.Addr = other.Redis.Addr
	}
	if other.Redis.Password != "" {
		c.Redis.Password = other.Redis.Password
	}
	if other.Redis.DB != 0 {
		c.Redis.DB = other.Redis.DB
	}

	// S3
	if other.S3.Endpoint != "" {
		c.S3.Endpoint = other.S3.Endpoint
	}
	if other.S3.Region != "" {
		c.S3.Region = other.S3.Region
	}
	if other.S3.Bucket != "" {
		c.S3.Bucket = other.S3.Bucket
	}
	if other.S3.AccessKey != "" {
		c.S3.AccessKey = other.S3.AccessKey
	}
	if other.S3.SecretKey != "" {
		c.S3.SecretKey = other.S3.SecretKey
	}
	if other.S3.UsePathStyle {
		c.S3.UsePathStyle = true
	}
	if other.S3.PresignExpiryS != 0 {
		c.S3.PresignExpiryS = other.S3.PresignExpiryS
	}

	// Parser
	if other.Parser.BaseURL != "" {
		c.Parser.BaseURL = other.Parser.BaseURL
	}
	if other.Parser.TimeoutS != 0 {
		c.Parser.TimeoutS = other.Parser.TimeoutS
	}
	if other.Parser.WantStructure {
		c.Parser.WantStructure = true
	}

	// Converter
	if other.Converter.BaseURL != "" {
		c.Converter.BaseURL = other.Converter.BaseURL
	}
	if other.Converter.TimeoutS != 0 {
		c.Converter.TimeoutS = other.Converter.TimeoutS
	}

	// Encoder
	if other.Encoder.BaseURL != "" {
		c.Encoder.BaseURL = other.Encoder.BaseURL
	}
	if other.Encoder.Device != "" {
		c.Encoder.Device = other.Encoder.Device
	}
	if other.Encoder.BatchSizeVisual != 0 {
		c.Encoder.BatchSizeVisual = other.Encoder.BatchSizeVisual
	}
	if other.Encoder.BatchSizeText != 0 {
		c.Encoder.BatchSizeText = other.Encoder.BatchSizeText
	}
	if other.Encoder.TimeoutS != 0 {
		c.Encoder.TimeoutS = other.Encoder.TimeoutS
	}
	if other.Encoder.QueryCacheSize != 0 {
		c.Encoder.QueryCacheSize = other.Encoder.QueryCacheSize
	}

	// Ingest
	if other.Ingest.MaxParallelJobs != 0 {
		c.Ingest.MaxParallelJobs = other.Ingest.MaxParallelJobs
	}
	if other.Ingest.QueueCapacity != 0 {
		c.Ingest.QueueCapacity = other.Ingest.QueueCapacity
	}
	if other.Ingest.HeartbeatIntervalS != 0 {
		c.Ingest.HeartbeatIntervalS = other.Ingest.HeartbeatIntervalS
	}
	if other.Ingest.JobTimeoutSPerPage != 0 {
		c.Ingest.JobTimeoutSPerPage = other.Ingest.JobTimeoutSPerPage
	}

	// Search
	if other.Search.TopKPerCollection != 0 {
		c.Search.TopKPerCollection = other.Search.TopKPerCollection
	}
	if other.Search.DefaultNumResults != 0 {
		c.Search.DefaultNumResults = other.Search.DefaultNumResults
	}
	if other.Search.HybridAlpha != 0 {
		c.Search.HybridAlpha = other.Search.HybridAlpha
	}

	// Research
	if other.Research.Provider != "" {
		c.Research.Provider = other.Research.Provider
	}
	if other.Research.Model != "" {
		c.Research.Model = other.Research.Model
	}
	if other.Research.APIKey != "" {
		c.Research.APIKey = other.Research.APIKey
	}
	if other.Research.MaxTokens != 0 {
		c.Research.MaxTokens = other.Research.MaxTokens
	}
	if other.Research.Temperature != 0 {
		c.Research.Temperature = other.Research.Temperature
	}
	if other.Research.NumSources != 0 {
		c.Research.NumSources = other.Research.NumSources
	}
	if other.Research.MaxSources != 0 {
		c.Research.MaxSources = other.Research.MaxSources
	}
	if other.Research.TokenBudget != 0 {
		c.Research.TokenBudget = other.Research.TokenBudget
	}
	if other.Research.TimeoutS != 0 {
		c.Research.TimeoutS = other.Research.TimeoutS
	}
	if other.Research.LocalBaseURL != "" {
		c.Research.LocalBaseURL = other.Research.LocalBaseURL
	}

	// Preprocess
	if other.Preprocess.Enabled {
		c.Preprocess.Enabled = true
	}
	if other.Preprocess.Strategy != "" {
		c.Preprocess.Strategy = other.Preprocess.Strategy
	}
	if other.Preprocess.Threshold != 0 {
		c.Preprocess.Threshold = other.Preprocess.Threshold
	}
	if other.Preprocess.MaxSources != 0 {
		c.Preprocess.MaxSources = other.Preprocess.MaxSources
	}
	if other.Preprocess.Model != "" {
		c.Preprocess.Model = other.Preprocess.Model
	}

	// Markdown
	if other.Markdown.CompressionThresholdBytes != 0 {
		c.Markdown.CompressionThresholdBytes = other.Markdown.CompressionThresholdBytes
	}
	if other.Markdown.MaxBytes != 0 {
		c.Markdown.MaxBytes = other.Markdown.MaxBytes
	}

	// Structure
	if other.Structure.CacheSize != 0 {
		c.Structure.CacheSize = other.Structure.CacheSize
	}
	if other.Structure.ExtractionTimeoutS != 0 {
		c.Structure.ExtractionTimeoutS = other.Structure.ExtractionTimeoutS
	}
	if other.Structure.MinConfidence != 0 {
		c.Structure.MinConfidence = other.Structure.MinConfidence
	}
	if other.Structure.BBoxPrecision != 0 {
		c.Structure.BBoxPrecision = other.Structure.BBoxPrecision
	}

	// ASR
	if other.ASR.Model != "" {
		c.ASR.Model = other.ASR.Model
	}
	if other.ASR.Language != "" {
		c.ASR.Language = other.ASR.Language
	}
	if other.ASR.Device != "" {
		c.ASR.Device = other.ASR.Device
	}
	if other.ASR.WordTimestamps {
		c.ASR.WordTimestamps = true
	}
	if other.ASR.Temperature != 0 {
		c.ASR.Temperature = other.ASR.Temperature
	}
	if other.ASR.MaxTimeChunkS != 0 {
		c.ASR.MaxTimeChunkS = other.ASR.MaxTimeChunkS
	}

	// Assets
	if other.Assets.ThumbnailWidth != 0 {
		c.Assets.ThumbnailWidth = other.Assets.ThumbnailWidth
	}
	if other.Assets.ThumbnailHeight != 0 {
		c.Assets.ThumbnailHeight = other.Assets.ThumbnailHeight
	}
	if other.Assets.JPEGQuality != 0 {
		c.Assets.JPEGQuality = other.Assets.JPEGQuality
	}

	// Watcher
	if other.Watcher.Enabled {
		c.Watcher.Enabled = true
	}
	if other.Watcher.Dir != "" {
		c.Watcher.Dir = other.Watcher.Dir
	}
	if other.Watcher.DebounceMS != 0 {
		c.Watcher.DebounceMS = other.Watcher.DebounceMS
	}

	// Telemetry
	if other.Telemetry.Path != "" {
		c.Telemetry.Path = other.Telemetry.Path
	}
}

// applyEnvOverrides applies AMANRAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANRAG_DATA_ROOT"); v != "" {
		c.Data.Root = v
	}
	if v := os.Getenv("AMANRAG_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("AMANRAG_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("AMANRAG_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}

	// Vector store
	if v := os.Getenv("AMANRAG_QDRANT_HOST"); v != "" {
		c.Qdrant.Host = v
	}
	if v := os.Getenv("AMANRAG_QDRANT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Qdrant.Port = p
		}
	}
	if v := os.Getenv("AMANRAG_QDRANT_API_KEY"); v != "" {
		c.Qdrant.APIKey = v
	}

	// Registration store
	if v := os.Getenv("AMANRAG_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("AMANRAG_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}

	// Object store
	if v := os.Getenv("AMANRAG_S3_ENDPOINT"); v != "" {
		c.S3.Endpoint = v
	}
	if v := os.Getenv("AMANRAG_S3_REGION"); v != "" {
		c.S3.Region = v
	}
	if v := os.Getenv("AMANRAG_S3_BUCKET"); v != "" {
		c.S3.Bucket = v
	}

	// Sidecars
	if v := os.Getenv("AMANRAG_PARSER_URL"); v != "" {
		c.Parser.BaseURL = v
	}
	if v := os.Getenv("AMANRAG_CONVERTER_URL"); v != "" {
		c.Converter.BaseURL = v
	}
	if v := os.Getenv("AMANRAG_DOC_CONVERSION_TIMEOUT_S"); v != "" {
		if t, err := strconv.Atoi(v); err == nil && t > 0 {
			c.Converter.TimeoutS = t
		}
	}
	if v := os.Getenv("AMANRAG_ENCODER_URL"); v != "" {
		c.Encoder.BaseURL = v
	}
	if v := os.Getenv("AMANRAG_ENCODER_DEVICE"); v != "" {
		c.Encoder.Device = v
	}
	if v := os.Getenv("AMANRAG_BATCH_SIZE_VISUAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Encoder.BatchSizeVisual = n
		}
	}
	if v := os.Getenv("AMANRAG_BATCH_SIZE_TEXT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Encoder.BatchSizeText = n
		}
	}

	// Ingestion pool
	if v := os.Getenv("AMANRAG_MAX_PARALLEL_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.MaxParallelJobs = n
		}
	}

	// Search
	if v := os.Getenv("AMANRAG_HYBRID_ALPHA"); v != "" {
		if a, err := parseFloat64(v); err == nil && a >= 0 && a <= 1 {
			c.Search.HybridAlpha = a
		}
	}

	// Research LLM
	if v := os.Getenv("AMANRAG_LLM_PROVIDER"); v != "" {
		c.Research.Provider = v
	}
	if v := os.Getenv("AMANRAG_LLM_MODEL"); v != "" {
		c.Research.Model = v
	}
	if v := os.Getenv("AMANRAG_LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Research.MaxTokens = n
		}
	}
	if v := os.Getenv("AMANRAG_LLM_TEMPERATURE"); v != "" {
		if t, err := parseFloat64(v); err == nil && t >= 0 {
			c.Research.Temperature = t
		}
	}

	// Preprocessing
	if v := os.Getenv("AMANRAG_PREPROCESS_ENABLED"); v != "" {
		c.Preprocess.Enabled = parseBool(v)
	}
	if v := os.Getenv("AMANRAG_PREPROCESS_STRATEGY"); v != "" {
		c.Preprocess.Strategy = v
	}
	if v := os.Getenv("AMANRAG_PREPROCESS_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 10 {
			c.Preprocess.Threshold = n
		}
	}
	if v := os.Getenv("AMANRAG_PREPROCESS_MAX_SOURCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Preprocess.MaxSources = n
		}
	}

	// Markdown sidecars
	if v := os.Getenv("AMANRAG_MARKDOWN_COMPRESSION_THRESHOLD_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Markdown.CompressionThresholdBytes = n
		}
	}

	// Structure extraction
	if v := os.Getenv("AMANRAG_STRUCTURE_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Structure.CacheSize = n
		}
	}
	if v := os.Getenv("AMANRAG_STRUCTURE_COMPRESSION"); v != "" {
		c.Structure.Compression = parseBool(v)
	}
	if v := os.Getenv("AMANRAG_STRUCTURE_EXTRACTION_TIMEOUT_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Structure.ExtractionTimeoutS = n
		}
	}
	if v := os.Getenv("AMANRAG_STRUCTURE_MIN_CONFIDENCE"); v != "" {
		if f, err := parseFloat64(v); err == nil && f >= 0 && f <= 1 {
			c.Structure.MinConfidence = f
		}
	}
	if v := os.Getenv("AMANRAG_BBOX_COORDINATE_PRECISION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Structure.BBoxPrecision = n
		}
	}

	// ASR
	if v := os.Getenv("AMANRAG_ASR_ENABLED"); v != "" {
		c.ASR.Enabled = parseBool(v)
	}
	if v := os.Getenv("AMANRAG_ASR_MODEL"); v != "" {
		c.ASR.Model = v
	}
	if v := os.Getenv("AMANRAG_ASR_LANGUAGE"); v != "" {
		c.ASR.Language = v
	}
	if v := os.Getenv("AMANRAG_ASR_DEVICE"); v != "" {
		c.ASR.Device = v
	}
	if v := os.Getenv("AMANRAG_ASR_WORD_TIMESTAMPS"); v != "" {
		c.ASR.WordTimestamps = parseBool(v)
	}
	if v := os.Getenv("AMANRAG_ASR_TEMPERATURE"); v != "" {
		if t, err := parseFloat64(v); err == nil && t >= 0 && t <= 1 {
			c.ASR.Temperature = t
		}
	}
	if v := os.Getenv("AMANRAG_ASR_MAX_TIME_CHUNK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ASR.MaxTimeChunkS = n
		}
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// parseBool parses common boolean spellings.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// EffectiveMaxParallelJobs resolves the concurrency cap, applying the
// auto default when unset.
func (c *Config) EffectiveMaxParallelJobs() int {
	if c.Ingest.MaxParallelJobs > 0 {
		return c.Ingest.MaxParallelJobs
	}
	return DefaultMaxParallelJobs()
}

// EffectiveWatchDir resolves the drop-folder path.
func (c *Config) EffectiveWatchDir() string {
	if c.Watcher.Dir != "" {
		return c.Watcher.Dir
	}
	return c.Data.DropDir()
}

// EffectiveTelemetryPath resolves the metrics database path.
func (c *Config) EffectiveTelemetryPath() string {
	if c.Telemetry.Path != "" {
		return c.Telemetry.Path
	}
	return c.Data.TelemetryPath()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	if c.Qdrant.VisualCollection == "" || c.Qdrant.TextCollection == "" {
		return fmt.Errorf("qdrant collection names cannot be empty")
	}
	if c.Qdrant.VisualCollection == c.Qdrant.TextCollection {
		return fmt.Errorf("qdrant visual and text collections must differ, both are %q", c.Qdrant.VisualCollection)
	}

	if c.Search.HybridAlpha < 0 || c.Search.HybridAlpha > 1 {
		return fmt.Errorf("search.hybrid_alpha must be between 0 and 1, got %f", c.Search.HybridAlpha)
	}
	if c.Search.TopKPerCollection < 1 {
		return fmt.Errorf("search.top_k_per_collection must be positive, got %d", c.Search.TopKPerCollection)
	}
	if c.Search.DefaultNumResults < 1 {
		return fmt.Errorf("search.default_num_results must be positive, got %d", c.Search.DefaultNumResults)
	}

	if c.Ingest.MaxParallelJobs < 0 {
		return fmt.Errorf("ingest.max_parallel_jobs must be non-negative, got %d", c.Ingest.MaxParallelJobs)
	}
	if c.Ingest.QueueCapacity < 1 {
		return fmt.Errorf("ingest.queue_capacity must be positive, got %d", c.Ingest.QueueCapacity)
	}
	if c.Ingest.HeartbeatIntervalS < 1 {
		return fmt.Errorf("ingest.heartbeat_interval_s must be at least 1, got %d", c.Ingest.HeartbeatIntervalS)
	}

	validProviders := map[string]bool{"openai": true, "anthropic": true, "google": true, "local": true}
	if !validProviders[strings.ToLower(c.Research.Provider)] {
		return fmt.Errorf("research.provider must be 'openai', 'anthropic', 'google', or 'local', got %s", c.Research.Provider)
	}
	if c.Research.NumSources < 1 || c.Research.NumSources > c.Research.MaxSources {
		return fmt.Errorf("research.num_sources must be in 1-%d, got %d", c.Research.MaxSources, c.Research.NumSources)
	}

	validStrategies := map[string]bool{"compress": true, "filter": true, "synthesize": true}
	if !validStrategies[strings.ToLower(c.Preprocess.Strategy)] {
		return fmt.Errorf("preprocess.strategy must be 'compress', 'filter', or 'synthesize', got %s", c.Preprocess.Strategy)
	}
	if c.Preprocess.Threshold < 0 || c.Preprocess.Threshold > 10 {
		return fmt.Errorf("preprocess.threshold must be in 0-10, got %d", c.Preprocess.Threshold)
	}

	validDevices := map[string]bool{"gpu": true, "cpu": true}
	if !validDevices[strings.ToLower(c.Encoder.Device)] {
		return fmt.Errorf("encoder.device must be 'gpu' or 'cpu', got %s", c.Encoder.Device)
	}
	if !validDevices[strings.ToLower(c.ASR.Device)] {
		return fmt.Errorf("asr.device must be 'gpu' or 'cpu', got %s", c.ASR.Device)
	}

	validASRModels := map[string]bool{"turbo": true, "base": true, "small": true, "medium": true, "large": true}
	if !validASRModels[strings.ToLower(c.ASR.Model)] {
		return fmt.Errorf("asr.model must be 'turbo', 'base', 'small', 'medium', or 'large', got %s", c.ASR.Model)
	}
	if c.ASR.Temperature < 0 || c.ASR.Temperature > 1 {
		return fmt.Errorf("asr.temperature must be between 0 and 1, got %f", c.ASR.Temperature)
	}

	if c.Converter.TimeoutS < 1 || c.Converter.TimeoutS > 300 {
		return fmt.Errorf("converter.timeout_s must be in 1-300, got %d", c.Converter.TimeoutS)
	}

	if c.Markdown.CompressionThresholdBytes < 1 {
		return fmt.Errorf("markdown.compression_threshold_bytes must be positive, got %d", c.Markdown.CompressionThresholdBytes)
	}
	if c.Markdown.MaxBytes < int64(c.Markdown.CompressionThresholdBytes) {
		return fmt.Errorf("markdown.max_bytes (%d) must be at least the compression threshold (%d)",
			c.Markdown.MaxBytes, c.Markdown.CompressionThresholdBytes)
	}

	if c.Structure.MinConfidence < 0 || c.Structure.MinConfidence > 1 {
		return fmt.Errorf("structure.min_confidence must be between 0 and 1, got %f", c.Structure.MinConfidence)
	}
	if c.Structure.CacheSize < 1 {
		return fmt.Errorf("structure.cache_size must be positive, got %d", c.Structure.CacheSize)
	}

	if c.Assets.JPEGQuality < 1 || c.Assets.JPEGQuality > 100 {
		return fmt.Errorf("assets.jpeg_quality must be in 1-100, got %d", c.Assets.JPEGQuality)
	}

	// Guard against accidentally swapped thumbnail bounds: portrait
	// pages letterbox into a taller-than-wide box.
	if c.Assets.ThumbnailWidth < 1 || c.Assets.ThumbnailHeight < 1 {
		return fmt.Errorf("assets thumbnail dimensions must be positive, got %dx%d",
			c.Assets.ThumbnailWidth, c.Assets.ThumbnailHeight)
	}

	if math.IsNaN(c.Search.HybridAlpha) {
		return fmt.Errorf("search.hybrid_alpha is not a number")
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults adds new default fields while preserving existing values.
// Returns a list of field names that were added with their default values.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Search.TopKPerCollection == 0 {
		c.Search.TopKPerCollection = defaults.Search.TopKPerCollection
		added = append(added, "search.top_k_per_collection")
	}
	if c.Search.DefaultNumResults == 0 {
		c.Search.DefaultNumResults = defaults.Search.DefaultNumResults
		added = append(added, "search.default_num_results")
	}
	if c.Search.HybridAlpha == 0 {
		c.Search.HybridAlpha = defaults.Search.HybridAlpha
		added = append(added, "search.hybrid_alpha")
	}
	if c.Ingest.QueueCapacity == 0 {
		c.Ingest.QueueCapacity = defaults.Ingest.QueueCapacity
		added = append(added, "ingest.queue_capacity")
	}
	if c.Ingest.HeartbeatIntervalS == 0 {
		c.Ingest.HeartbeatIntervalS = defaults.Ingest.HeartbeatIntervalS
		added = append(added, "ingest.heartbeat_interval_s")
	}
	if c.Research.MaxSources == 0 {
		c.Research.MaxSources = defaults.Research.MaxSources
		added = append(added, "research.max_sources")
	}
	if c.Research.TokenBudget == 0 {
		c.Research.TokenBudget = defaults.Research.TokenBudget
		added = append(added, "research.token_budget")
	}
	if c.Markdown.CompressionThresholdBytes == 0 {
		c.Markdown.CompressionThresholdBytes = defaults.Markdown.CompressionThresholdBytes
		added = append(added, "markdown.compression_threshold_bytes")
	}
	if c.Markdown.MaxBytes == 0 {
		c.Markdown.MaxBytes = defaults.Markdown.MaxBytes
		added = append(added, "markdown.max_bytes")
	}
	if c.Structure.CacheSize == 0 {
		c.Structure.CacheSize = defaults.Structure.CacheSize
		added = append(added, "structure.cache_size")
	}

	return added
}
