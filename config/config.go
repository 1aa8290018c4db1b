package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via env files or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	AdminToken         string
	RateLimitPerMinute int
	AllowedOrigins     []string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Storage backend: mongo, mysql or memory
	StoreDriver   string
	MongoURI      string
	MongoDatabase string
	// MySQL (StoreDriver=mysql)
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Redis for caching, view de-dup and token revocation
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// Background jobs
	JobsEnabled          bool
	TrendingSchedule     string
	RetentionSchedule    string
	InactivitySchedule   string
	JobTimeoutMinutes    int
	ViewLogRetentionDays int
	InactivityDays       int
	RetentionBatchSize   int
	TrendingConcurrency  int
	// Dashboard security
	DashboardTokenHours  int
	CreateCaptchaEnabled bool
	ViewDedupMinutes     int
	ListCacheSeconds     int

	jobsEnabledSet bool
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	// Precedence: .env (never overriding the real environment) -> config/config.json -> defaults -> environment overrides
	_ = godotenv.Load()

	if err := loadJSONConfig(filepath.Join("config", "config.json"), &cfg); err != nil {
		log.Printf("invalid config/config.json: %v", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads JSON file into cfg if present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}
	applyJSON(raw, out)
	return nil
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(m map[string]any, key string) int {
	if v, ok := m[key]; ok {
		switch t := v.(type) {
		case float64:
			return int(t)
		case int:
			return t
		case json.Number:
			i, _ := t.Int64()
			return int(i)
		}
	}
	return 0
}

func getBool(m map[string]any, key string) (bool, bool) {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b, true
		}
	}
	return false, false
}

func getStringSlice(m map[string]any, key string) []string {
	if v, ok := m[key]; ok {
		if arr, ok := v.([]any); ok {
			res := make([]string, 0, len(arr))
			for _, it := range arr {
				if s, ok := it.(string); ok {
					res = append(res, s)
				}
			}
			return res
		}
	}
	return nil
}

func setString(dst *string, m map[string]any, key string) {
	if v := getString(m, key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, m map[string]any, key string) {
	if v := getInt(m, key); v != 0 {
		*dst = v
	}
}

func applyJSON(raw map[string]any, out *AppConfig) {
	if app, ok := raw["app"].(map[string]any); ok {
		setString(&out.AppPort, app, "AppPort")
		setString(&out.JWTSecret, app, "JWTSecret")
		setString(&out.AdminToken, app, "AdminToken")
		setInt(&out.RateLimitPerMinute, app, "RateLimitPerMinute")
		if list := getStringSlice(app, "AllowedOrigins"); len(list) > 0 {
			out.AllowedOrigins = list
		}
		setString(&out.StoreDriver, app, "StoreDriver")
	}

	if g, ok := raw["gin"].(map[string]any); ok {
		setString(&out.GinMode, g, "Mode")
		setString(&out.GinPath, g, "LogPath")
	}

	if mg, ok := raw["mongo"].(map[string]any); ok {
		setString(&out.MongoURI, mg, "MongoURI")
		setString(&out.MongoDatabase, mg, "MongoDatabase")
	}

	if dbs, ok := raw["database"].(map[string]any); ok {
		setString(&out.DatabaseURI, dbs, "DatabaseURI")
		setString(&out.DBHost, dbs, "DBHost")
		setString(&out.DBPort, dbs, "DBPort")
		setString(&out.DBUser, dbs, "DBUser")
		setString(&out.DBPassword, dbs, "DBPassword")
		setString(&out.DBName, dbs, "DBName")
	}

	if rds, ok := raw["redis"].(map[string]any); ok {
		setString(&out.RedisHost, rds, "RedisHost")
		setInt(&out.RedisPort, rds, "RedisPort")
		setInt(&out.RedisDB, rds, "RedisDB")
		setString(&out.RedisPassword, rds, "RedisPassword")
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		setString(&out.LogLevel, lg, "Level")
		setString(&out.LogPath, lg, "Path")
		setString(&out.GinMode, lg, "GinMode")
		setString(&out.GinPath, lg, "GinPath")
		setInt(&out.LogMaxSizeMB, lg, "MaxSizeMB")
		setInt(&out.LogMaxBackups, lg, "MaxBackups")
		setInt(&out.LogMaxAgeDays, lg, "MaxAgeDays")
		if b, ok := getBool(lg, "Compress"); ok {
			out.LogCompress = b
		}
	}

	if jb, ok := raw["jobs"].(map[string]any); ok {
		if b, ok := getBool(jb, "Enabled"); ok {
			out.JobsEnabled = b
			out.jobsEnabledSet = true
		}
		setString(&out.TrendingSchedule, jb, "TrendingSchedule")
		setString(&out.RetentionSchedule, jb, "RetentionSchedule")
		setString(&out.InactivitySchedule, jb, "InactivitySchedule")
		setInt(&out.JobTimeoutMinutes, jb, "TimeoutMinutes")
		setInt(&out.ViewLogRetentionDays, jb, "ViewLogRetentionDays")
		setInt(&out.InactivityDays, jb, "InactivityDays")
		setInt(&out.RetentionBatchSize, jb, "RetentionBatchSize")
		setInt(&out.TrendingConcurrency, jb, "TrendingConcurrency")
	}

	if sec, ok := raw["security"].(map[string]any); ok {
		setInt(&out.DashboardTokenHours, sec, "DashboardTokenHours")
		if b, ok := getBool(sec, "CreateCaptchaEnabled"); ok {
			out.CreateCaptchaEnabled = b
		}
		setInt(&out.ViewDedupMinutes, sec, "ViewDedupMinutes")
		setInt(&out.ListCacheSeconds, sec, "ListCacheSeconds")
	}

	// Also support reading flat keys directly for backward compatibility
	if out.AppPort == "" {
		setString(&out.AppPort, raw, "AppPort")
	}
	if out.JWTSecret == "" {
		setString(&out.JWTSecret, raw, "JWTSecret")
	}
	if out.GinMode == "" {
		setString(&out.GinMode, raw, "GinMode")
	}
	if out.GinPath == "" {
		setString(&out.GinPath, raw, "GinPath")
	}
	if out.LogLevel == "" {
		setString(&out.LogLevel, raw, "LogLevel")
	}
	if out.LogPath == "" {
		setString(&out.LogPath, raw, "LogPath")
	}
	if out.StoreDriver == "" {
		setString(&out.StoreDriver, raw, "StoreDriver")
	}
	if out.MongoURI == "" {
		setString(&out.MongoURI, raw, "MongoURI")
	}
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.StoreDriver == "" {
		c.StoreDriver = "mongo"
	}
	if c.MongoURI == "" {
		c.MongoURI = "mongodb://127.0.0.1:27017"
	}
	if c.MongoDatabase == "" {
		c.MongoDatabase = "countdown"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "countdown"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if !c.jobsEnabledSet {
		c.JobsEnabled = true
	}
	if c.TrendingSchedule == "" {
		c.TrendingSchedule = "@every 6h"
	}
	if c.RetentionSchedule == "" {
		c.RetentionSchedule = "@every 24h"
	}
	if c.InactivitySchedule == "" {
		c.InactivitySchedule = "@every 24h"
	}
	if c.JobTimeoutMinutes == 0 {
		c.JobTimeoutMinutes = 30
	}
	if c.ViewLogRetentionDays == 0 {
		c.ViewLogRetentionDays = 30
	}
	if c.InactivityDays == 0 {
		c.InactivityDays = 90
	}
	if c.RetentionBatchSize == 0 {
		c.RetentionBatchSize = 500
	}
	if c.TrendingConcurrency == 0 {
		c.TrendingConcurrency = 8
	}
	if c.DashboardTokenHours == 0 {
		c.DashboardTokenHours = 24
	}
	if c.ViewDedupMinutes == 0 {
		c.ViewDedupMinutes = 30
	}
	if c.ListCacheSeconds == 0 {
		c.ListCacheSeconds = 300
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("ADMIN_TOKEN", ""); v != "" {
		c.AdminToken = v
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = readListEnv("CORS_ALLOWED_ORIGINS", c.AllowedOrigins)
	}
	if v := getEnv("STORE_DRIVER", ""); v != "" {
		c.StoreDriver = strings.ToLower(v)
	}
	if v := getEnv("MONGO_URI", ""); v != "" {
		c.MongoURI = v
	}
	if v := getEnv("MONGO_DATABASE", ""); v != "" {
		c.MongoDatabase = v
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	// Logging env overrides
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
	// Jobs env overrides
	if v := getEnv("JOBS_ENABLED", ""); v != "" {
		c.JobsEnabled = v == "true"
	}
	if v := getEnv("TRENDING_SCHEDULE", ""); v != "" {
		c.TrendingSchedule = v
	}
	if v := getEnv("RETENTION_SCHEDULE", ""); v != "" {
		c.RetentionSchedule = v
	}
	if v := getEnv("INACTIVITY_SCHEDULE", ""); v != "" {
		c.InactivitySchedule = v
	}
	if v := getEnv("JOB_TIMEOUT_MINUTES", ""); v != "" {
		c.JobTimeoutMinutes = mustParseInt(v)
	}
	if v := getEnv("VIEW_LOG_RETENTION_DAYS", ""); v != "" {
		c.ViewLogRetentionDays = mustParseInt(v)
	}
	if v := getEnv("INACTIVITY_DAYS", ""); v != "" {
		c.InactivityDays = mustParseInt(v)
	}
	if v := getEnv("RETENTION_BATCH_SIZE", ""); v != "" {
		c.RetentionBatchSize = mustParseInt(v)
	}
	if v := getEnv("TRENDING_CONCURRENCY", ""); v != "" {
		c.TrendingConcurrency = mustParseInt(v)
	}
	// Dashboard security env overrides
	if v := getEnv("DASHBOARD_TOKEN_HOURS", ""); v != "" {
		c.DashboardTokenHours = mustParseInt(v)
	}
	if v := getEnv("CREATE_CAPTCHA_ENABLED", ""); v != "" {
		c.CreateCaptchaEnabled = v == "true"
	}
	if v := getEnv("VIEW_DEDUP_MINUTES", ""); v != "" {
		c.ViewDedupMinutes = mustParseInt(v)
	}
	if v := getEnv("LIST_CACHE_SECONDS", ""); v != "" {
		c.ListCacheSeconds = mustParseInt(v)
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func readListEnv(key string, defaults []string) []string {
	if raw := os.Getenv(key); raw != "" {
		return splitAndTrim(raw)
	}
	return defaults
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
