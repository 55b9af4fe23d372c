// Package config provides crawler configuration with support for command-line flags, environment variables, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the crawler configuration.
type Config struct {
	App        AppConfig
	Logger     LoggerConfig
	Storage    StorageConfig
	Crawl      CrawlConfig
	Extraction ExtractionConfig
	Geocode    GeocodeConfig
	Notify     NotifyConfig
	Redis      RedisConfig
	Schedule   ScheduleConfig
	Ops        OpsConfig
	Targets    TargetsConfig
	Run        RunConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// StorageConfig holds paths for the document store, run ledger and assets.
type StorageConfig struct {
	DataDir    string
	BadgerPath string // default: {data}/documents
	SQLitePath string // default: {data}/ledger.db
	AssetsDir  string // default: {data}/assets
	// AssetSigningKey signs asset URLs. Required outside development.
	AssetSigningKey string
	// AssetBaseURL is the public prefix of signed asset URLs.
	AssetBaseURL string
	AssetURLTTL  time.Duration
}

// CrawlConfig bounds the site walker.
type CrawlConfig struct {
	MaxConcurrency     int
	NavigationDelay    time.Duration
	MaxRequestsPerRun  int // 0 means unbounded
	PageContentLimit   int
	MaxPerformers      int
	MaxPathParts       int
	RequestTimeout     time.Duration
	UserAgent          string
	PerHostRPS         float64
	PerHostBurst       int
	SitemapLookbackGap time.Duration
}

// ExtractionConfig holds the structured-extraction service settings.
type ExtractionConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// GeocodeConfig holds the place search settings.
type GeocodeConfig struct {
	Endpoint string
	APIKey   string
}

// NotifyConfig holds the operations channel settings.
type NotifyConfig struct {
	SlackWebhookURL string
}

// RedisConfig holds the lease backend. An empty URL selects the in-process locker.
type RedisConfig struct {
	URL      string
	LeaseTTL time.Duration
}

// ScheduleConfig holds periodic run settings.
type ScheduleConfig struct {
	Spec         string
	StaleTimeout time.Duration
	SweepSpec    string
}

// OpsConfig holds the ops HTTP server settings.
type OpsConfig struct {
	Addr string
}

// TargetsConfig points at the YAML targets file.
type TargetsConfig struct {
	Path string
}

// RunConfig holds the per-invocation command line switches.
type RunConfig struct {
	Target string
	All    bool
	Online bool
	Serve  bool
}

// Load builds the configuration from args with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("crawler", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	dataDir := fs.String("data-dir", "", "Base directory for crawler state")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	// Crawl flags
	concurrency := fs.String("concurrency", "", "Max simultaneous page fetches (default: 20)")
	delay := fs.String("navigation-delay", "", "Delay before each navigation (default: 1s)")
	maxRequests := fs.String("max-requests", "", "Max pages per run, 0 for unbounded")

	// Service flags
	redisURL := fs.String("redis-url", "", "Redis URL for run leases (default: in-process)")
	opsAddr := fs.String("ops-addr", "", "Listen address for the ops server (default: :9090)")
	targetsPath := fs.String("targets", "", "Path to the targets YAML file")
	scheduleSpec := fs.String("schedule", "", "Cron spec for scheduled runs (default: @every 24h)")

	// Run switches
	target := fs.String("target", "", "Crawl a single target by id or username")
	all := fs.Bool("all", false, "Crawl every configured target")
	online := fs.Bool("online", false, "Write results; when false the run is a dry run")
	serve := fs.Bool("serve", false, "Run the scheduler and ops server until interrupted")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Storage: StorageConfig{
			DataDir:         getConfigValue(*dataDir, "DATA_DIR", ""),
			BadgerPath:      getConfigValue("", "BADGER_PATH", ""),
			SQLitePath:      getConfigValue("", "SQLITE_PATH", ""),
			AssetsDir:       getConfigValue("", "ASSETS_DIR", ""),
			AssetSigningKey: getConfigValue("", "ASSET_SIGNING_KEY", ""),
			AssetBaseURL:    getConfigValue("", "ASSET_BASE_URL", "http://localhost:9090/assets"),
		},
		Crawl: CrawlConfig{
			MaxConcurrency:    getIntConfigValue(*concurrency, "CRAWL_MAX_CONCURRENCY", 20),
			MaxRequestsPerRun: getIntConfigValue(*maxRequests, "CRAWL_MAX_REQUESTS", 0),
			PageContentLimit:  getIntConfigValue("", "CRAWL_PAGE_CONTENT_LIMIT", 15000),
			MaxPerformers:     getIntConfigValue("", "CRAWL_MAX_PERFORMERS", 15),
			MaxPathParts:      getIntConfigValue("", "CRAWL_MAX_PATH_PARTS", 10),
			UserAgent:         getConfigValue("", "CRAWL_USER_AGENT", "tapped-event-crawler/1.0"),
			PerHostBurst:      getIntConfigValue("", "CRAWL_PER_HOST_BURST", 2),
		},
		Extraction: ExtractionConfig{
			Endpoint: getConfigValue("", "EXTRACTION_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
			APIKey:   getConfigValue("", "OPENAI_API_KEY", ""),
			Model:    getConfigValue("", "EXTRACTION_MODEL", "gpt-4o-mini"),
		},
		Geocode: GeocodeConfig{
			Endpoint: getConfigValue("", "GEOCODE_ENDPOINT", "https://places.googleapis.com/v1/places:searchText"),
			APIKey:   getConfigValue("", "GOOGLE_PLACES_API_KEY", ""),
		},
		Notify: NotifyConfig{
			SlackWebhookURL: getConfigValue("", "SLACK_WEBHOOK_URL", ""),
		},
		Redis: RedisConfig{
			URL: getConfigValue(*redisURL, "REDIS_URL", ""),
		},
		Schedule: ScheduleConfig{
			Spec:      getConfigValue(*scheduleSpec, "SCHEDULE_SPEC", "@every 24h"),
			SweepSpec: getConfigValue("", "SWEEP_SPEC", "@hourly"),
		},
		Ops: OpsConfig{
			Addr: getConfigValue(*opsAddr, "OPS_ADDR", ":9090"),
		},
		Targets: TargetsConfig{
			Path: getConfigValue(*targetsPath, "TARGETS_PATH", "targets.yaml"),
		},
		Run: RunConfig{
			Target: *target,
			All:    *all,
			Online: *online,
			Serve:  *serve,
		},
	}

	rps, err := getFloatConfigValue("", "CRAWL_PER_HOST_RPS", 2)
	if err != nil {
		return nil, err
	}
	cfg.Crawl.PerHostRPS = rps

	durations := []struct {
		dst      *time.Duration
		flag     string
		envKey   string
		fallback string
	}{
		{&cfg.Crawl.NavigationDelay, *delay, "CRAWL_NAVIGATION_DELAY", "1s"},
		{&cfg.Crawl.RequestTimeout, "", "CRAWL_REQUEST_TIMEOUT", "30s"},
		{&cfg.Crawl.SitemapLookbackGap, "", "CRAWL_SITEMAP_LOOKBACK", "0s"},
		{&cfg.Extraction.Timeout, "", "EXTRACTION_TIMEOUT", "60s"},
		{&cfg.Redis.LeaseTTL, "", "REDIS_LEASE_TTL", "5m"},
		{&cfg.Schedule.StaleTimeout, "", "STALE_RUN_TIMEOUT", "6h"},
		{&cfg.Storage.AssetURLTTL, "", "ASSET_URL_TTL", "8760h"},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flag, d.envKey, d.fallback)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.envKey, raw, err)
		}
		*d.dst = parsed
	}

	if err := cfg.expandStoragePaths(); err != nil {
		return nil, fmt.Errorf("invalid storage path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Storage.DataDir == "" {
		return errors.New("data dir cannot be empty after expansion")
	}

	if c.Crawl.MaxConcurrency <= 0 {
		return fmt.Errorf("crawl concurrency must be positive, got %d", c.Crawl.MaxConcurrency)
	}
	if c.Crawl.MaxRequestsPerRun < 0 {
		return fmt.Errorf("max requests must not be negative, got %d", c.Crawl.MaxRequestsPerRun)
	}
	if c.Crawl.PageContentLimit <= 0 || c.Crawl.MaxPerformers <= 0 || c.Crawl.MaxPathParts <= 0 {
		return errors.New("page content limit, max performers and max path parts must be positive")
	}
	if c.Crawl.NavigationDelay < 0 {
		return errors.New("navigation delay must not be negative")
	}

	if c.App.Environment == "production" && c.Storage.AssetSigningKey == "" {
		return errors.New("ASSET_SIGNING_KEY is required in production")
	}

	if c.Run.Target != "" && c.Run.All {
		return errors.New("-target and -all are mutually exclusive")
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandStoragePaths resolves the data dir and derives the store paths under it.
func (c *Config) expandStoragePaths() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	dataDir, err := expandPath(c.Storage.DataDir, filepath.Join(homeDir, ".event-crawler"))
	if err != nil {
		return err
	}
	c.Storage.DataDir = dataDir

	paths := []struct {
		dst      *string
		fallback string
	}{
		{&c.Storage.BadgerPath, filepath.Join(dataDir, "documents")},
		{&c.Storage.SQLitePath, filepath.Join(dataDir, "ledger.db")},
		{&c.Storage.AssetsDir, filepath.Join(dataDir, "assets")},
	}
	for _, p := range paths {
		expanded, err := expandPath(*p.dst, p.fallback)
		if err != nil {
			return err
		}
		*p.dst = expanded
	}
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getFloatConfigValue returns a float from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) (float64, error) {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue, nil
	}
	var result float64
	if _, err := fmt.Sscanf(strValue, "%g", &result); err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, strValue, err)
	}
	return result, nil
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Real environment variables win over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
