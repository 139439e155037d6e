package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateUserConfig points the XDG config lookup at a scratch directory so
// tests never read or write the developer's real user config.
func isolateUserConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "amanrag")
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 1, cfg.Version)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)

	// Vector store defaults: the two collections must be distinct
	assert.Equal(t, "visual", cfg.Qdrant.VisualCollection)
	assert.Equal(t, "text", cfg.Qdrant.TextCollection)
	assert.NotEqual(t, cfg.Qdrant.VisualCollection, cfg.Qdrant.TextCollection)
	assert.Equal(t, 6334, cfg.Qdrant.Port)

	// Search defaults
	assert.Equal(t, 50, cfg.Search.TopKPerCollection)
	assert.Equal(t, 10, cfg.Search.DefaultNumResults)
	assert.Equal(t, 0.5, cfg.Search.HybridAlpha)

	// Research defaults
	assert.Equal(t, "openai", cfg.Research.Provider)
	assert.Equal(t, 10, cfg.Research.NumSources)
	assert.Equal(t, 20, cfg.Research.MaxSources)
	assert.Equal(t, 8000, cfg.Research.TokenBudget)

	// Ingestion defaults: zero means auto-sized worker pool
	assert.Equal(t, 0, cfg.Ingest.MaxParallelJobs)
	assert.Equal(t, 256, cfg.Ingest.QueueCapacity)

	// Defaults must pass their own validation
	assert.NoError(t, cfg.Validate())
}

func TestNewConfig_DataPathsDeriveFromRoot(t *testing.T) {
	cfg := NewConfig()
	cfg.Data.Root = "/srv/amanrag"

	assert.Equal(t, "/srv/amanrag/uploads", cfg.Data.UploadsDir())
	assert.Equal(t, "/srv/amanrag/page_images", cfg.Data.PageImagesDir())
	assert.Equal(t, "/srv/amanrag/images", cfg.Data.CoversDir())
	assert.Equal(t, "/srv/amanrag/drop", cfg.Data.DropDir())
	assert.Equal(t, "/srv/amanrag/telemetry.db", cfg.Data.TelemetryPath())
	assert.Equal(t, "/srv/amanrag/.amanrag.lock", cfg.Data.LockPath())
}

func TestServerConfig_Addr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 9090}
	assert.Equal(t, "127.0.0.1:9090", s.Addr())
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.Research.Provider)
}

func TestLoad_ProjectYAMLOverridesDefaults(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	content := `
server:
  port: 9000
  log_level: debug
search:
  hybrid_alpha: 0.7
research:
  provider: anthropic
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amanrag.yaml"), []byte(content), 0644))

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 0.7, cfg.Search.HybridAlpha)
	assert.Equal(t, "anthropic", cfg.Research.Provider)
	// Untouched sections keep their defaults
	assert.Equal(t, "visual", cfg.Qdrant.VisualCollection)
}

func TestLoad_YmlExtensionRecognized(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amanrag.yml"), []byte("server:\n  port: 9001\n"), 0644))

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amanrag.yaml"), []byte("server:\n  port: 9002\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amanrag.yml"), []byte("server:\n  port: 9003\n"), 0644))

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 9002, cfg.Server.Port)
}

func TestLoad_InvalidYAMLFails(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amanrag.yaml"), []byte("server: [not a mapping"), 0644))

	_, err := Load(dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), ".amanrag.yaml")
}

func TestLoad_InvalidFinalConfigFails(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amanrag.yaml"), []byte("search:\n  hybrid_alpha: 1.5\n"), 0644))

	_, err := Load(dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "hybrid_alpha")
}

func TestLoad_UserConfigAppliesBelowProject(t *testing.T) {
	// Given: a user config and a project config that disagree on port
	userDir := isolateUserConfig(t)
	require.NoError(t, os.MkdirAll(userDir, 0755))
	userYAML := "server:\n  port: 7000\nresearch:\n  provider: google\n"
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"), []byte(userYAML), 0644))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amanrag.yaml"), []byte("server:\n  port: 7100\n"), 0644))

	// When: loading
	cfg, err := Load(dir)

	// Then: project wins on the conflict, user config fills the rest
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.Server.Port)
	assert.Equal(t, "google", cfg.Research.Provider)
}

func TestLoad_EnvOverridesFileValues(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amanrag.yaml"), []byte("server:\n  port: 9000\n"), 0644))
	t.Setenv("AMANRAG_PORT", "9100")
	t.Setenv("AMANRAG_LLM_PROVIDER", "local")
	t.Setenv("AMANRAG_HYBRID_ALPHA", "0.25")
	t.Setenv("AMANRAG_PREPROCESS_ENABLED", "true")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "local", cfg.Research.Provider)
	assert.Equal(t, 0.25, cfg.Search.HybridAlpha)
	assert.True(t, cfg.Preprocess.Enabled)
}

func TestLoad_MalformedEnvValuesIgnored(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	t.Setenv("AMANRAG_PORT", "not-a-port")
	t.Setenv("AMANRAG_HYBRID_ALPHA", "2.0") // out of range

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 0.5, cfg.Search.HybridAlpha)
}

func TestLoad_DotEnvFileApplied(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("AMANRAG_QDRANT_HOST=qdrant.internal\n"), 0644))
	// godotenv exports into the process environment; clean up after.
	t.Cleanup(func() { os.Unsetenv("AMANRAG_QDRANT_HOST") })

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
}

func TestLoad_DotEnvDoesNotOverrideRealEnv(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("AMANRAG_S3_BUCKET=from-dotenv\n"), 0644))
	t.Setenv("AMANRAG_S3_BUCKET", "from-real-env")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "from-real-env", cfg.S3.Bucket)
}

func TestMergeWith_OnlyNonZeroValuesApply(t *testing.T) {
	base := NewConfig()
	override := &Config{}
	override.Server.Port = 9999
	override.Qdrant.VisualCollection = "pages"

	base.mergeWith(override)

	assert.Equal(t, 9999, base.Server.Port)
	assert.Equal(t, "pages", base.Qdrant.VisualCollection)
	// Zero values in the override must not clobber defaults
	assert.Equal(t, "0.0.0.0", base.Server.Host)
	assert.Equal(t, "text", base.Qdrant.TextCollection)
	assert.Equal(t, 0.5, base.Search.HybridAlpha)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		errPart string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"unknown log level", func(c *Config) { c.Server.LogLevel = "verbose" }, "log_level"},
		{"empty collection", func(c *Config) { c.Qdrant.TextCollection = "" }, "collection"},
		{"same collections", func(c *Config) { c.Qdrant.TextCollection = c.Qdrant.VisualCollection }, "must differ"},
		{"alpha negative", func(c *Config) { c.Search.HybridAlpha = -0.1 }, "hybrid_alpha"},
		{"alpha above one", func(c *Config) { c.Search.HybridAlpha = 1.1 }, "hybrid_alpha"},
		{"zero top_k", func(c *Config) { c.Search.TopKPerCollection = 0 }, "top_k_per_collection"},
		{"zero num results", func(c *Config) { c.Search.DefaultNumResults = 0 }, "default_num_results"},
		{"negative parallel jobs", func(c *Config) { c.Ingest.MaxParallelJobs = -1 }, "max_parallel_jobs"},
		{"zero queue capacity", func(c *Config) { c.Ingest.QueueCapacity = 0 }, "queue_capacity"},
		{"zero heartbeat", func(c *Config) { c.Ingest.HeartbeatIntervalS = 0 }, "heartbeat_interval_s"},
		{"unknown provider", func(c *Config) { c.Research.Provider = "cohere" }, "research.provider"},
		{"num sources above max", func(c *Config) { c.Research.NumSources = 99 }, "num_sources"},
		{"unknown strategy", func(c *Config) { c.Preprocess.Strategy = "expand" }, "preprocess.strategy"},
		{"threshold out of range", func(c *Config) { c.Preprocess.Threshold = 11 }, "preprocess.threshold"},
		{"unknown encoder device", func(c *Config) { c.Encoder.Device = "tpu" }, "encoder.device"},
		{"unknown asr device", func(c *Config) { c.ASR.Device = "npu" }, "asr.device"},
		{"unknown asr model", func(c *Config) { c.ASR.Model = "huge" }, "asr.model"},
		{"asr temperature out of range", func(c *Config) { c.ASR.Temperature = 1.5 }, "asr.temperature"},
		{"converter timeout zero", func(c *Config) { c.Converter.TimeoutS = 0 }, "converter.timeout_s"},
		{"converter timeout too large", func(c *Config) { c.Converter.TimeoutS = 301 }, "converter.timeout_s"},
		{"markdown threshold zero", func(c *Config) { c.Markdown.CompressionThresholdBytes = 0 }, "compression_threshold_bytes"},
		{"markdown max below threshold", func(c *Config) { c.Markdown.MaxBytes = 10 }, "max_bytes"},
		{"structure confidence out of range", func(c *Config) { c.Structure.MinConfidence = 1.5 }, "min_confidence"},
		{"structure cache zero", func(c *Config) { c.Structure.CacheSize = 0 }, "cache_size"},
		{"jpeg quality zero", func(c *Config) { c.Assets.JPEGQuality = 0 }, "jpeg_quality"},
		{"jpeg quality above 100", func(c *Config) { c.Assets.JPEGQuality = 101 }, "jpeg_quality"},
		{"zero thumbnail width", func(c *Config) { c.Assets.ThumbnailWidth = 0 }, "thumbnail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestValidate_AcceptsBoundaryValues(t *testing.T) {
	cfg := NewConfig()
	cfg.Server.Port = 65535
	cfg.Search.HybridAlpha = 1.0
	cfg.Research.NumSources = cfg.Research.MaxSources
	cfg.Converter.TimeoutS = 300
	cfg.Assets.JPEGQuality = 100
	cfg.ASR.Temperature = 1.0

	assert.NoError(t, cfg.Validate())
}

func TestWriteYAML_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := NewConfig()
	cfg.Server.Port = 9876
	cfg.Qdrant.VisualCollection = "pages"
	cfg.Search.HybridAlpha = 0.8

	require.NoError(t, cfg.WriteYAML(path))

	loaded := NewConfig()
	require.NoError(t, loaded.loadYAML(path))
	assert.Equal(t, 9876, loaded.Server.Port)
	assert.Equal(t, "pages", loaded.Qdrant.VisualCollection)
	assert.Equal(t, 0.8, loaded.Search.HybridAlpha)
}

func TestMergeNewDefaults_FillsMissingFields(t *testing.T) {
	// Simulates a config written by an older release that predates
	// several tuning knobs.
	cfg := NewConfig()
	cfg.Search.TopKPerCollection = 0
	cfg.Research.TokenBudget = 0
	cfg.Structure.CacheSize = 0

	added := cfg.MergeNewDefaults()

	assert.ElementsMatch(t, []string{
		"search.top_k_per_collection",
		"research.token_budget",
		"structure.cache_size",
	}, added)
	assert.Equal(t, 50, cfg.Search.TopKPerCollection)
	assert.Equal(t, 8000, cfg.Research.TokenBudget)
	assert.Equal(t, 20, cfg.Structure.CacheSize)
}

func TestMergeNewDefaults_NoChangesWhenComplete(t *testing.T) {
	cfg := NewConfig()

	added := cfg.MergeNewDefaults()

	assert.Empty(t, added)
}

func TestEffectiveMaxParallelJobs(t *testing.T) {
	cfg := NewConfig()

	// Zero means auto: bounded by cores, never below 1
	auto := cfg.EffectiveMaxParallelJobs()
	assert.GreaterOrEqual(t, auto, 1)
	assert.LessOrEqual(t, auto, 2)

	cfg.Ingest.MaxParallelJobs = 7
	assert.Equal(t, 7, cfg.EffectiveMaxParallelJobs())
}

func TestEffectiveWatchDir(t *testing.T) {
	cfg := NewConfig()
	cfg.Data.Root = "/srv/amanrag"

	assert.Equal(t, "/srv/amanrag/drop", cfg.EffectiveWatchDir())

	cfg.Watcher.Dir = "/mnt/inbox"
	assert.Equal(t, "/mnt/inbox", cfg.EffectiveWatchDir())
}

func TestEffectiveTelemetryPath(t *testing.T) {
	cfg := NewConfig()
	cfg.Data.Root = "/srv/amanrag"

	assert.Equal(t, "/srv/amanrag/telemetry.db", cfg.EffectiveTelemetryPath())

	cfg.Telemetry.Path = "/var/lib/metrics.db"
	assert.Equal(t, "/var/lib/metrics.db", cfg.EffectiveTelemetryPath())
}

func TestGetUserConfigPath_HonorsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	assert.Equal(t, filepath.Join(dir, "amanrag", "config.yaml"), GetUserConfigPath())
	assert.Equal(t, filepath.Join(dir, "amanrag"), GetUserConfigDir())
	assert.False(t, UserConfigExists())
}
