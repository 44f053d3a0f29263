// config.go - Environment configuration loading and startup validation.
//
// All settings are read once at startup so a bad value fails fast with
// a clear message instead of surfacing mid-request.
package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every runtime setting of the service.
type Config struct {
	Addr      string
	UploadDir string

	MaxUploadBytes int64
	CacheMaxAge    int
	SlugLength     int

	RateLimit  int
	RateWindow time.Duration

	RetentionHours  int
	CleanupEnabled  bool
	CleanupInterval time.Duration

	AdminPassword string
	APIKey        string
	LockStep      time.Duration
	LockBackend   string // "memory" or "db"

	BackupEnabled     bool
	BackupInterval    time.Duration
	BackupMinInterval time.Duration
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string
	Bucket            string
	S3Prefix          string

	DBURL string
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string) bool {
	return os.Getenv(key) == "true"
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getenvSeconds reads an integer number of seconds.
func getenvSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

// LoadConfigFromEnv builds a Config from SB_* environment variables,
// applying documented defaults for anything unset.
func LoadConfigFromEnv() Config {
	return Config{
		Addr:      getenvDefault("SB_ADDR", ":8080"),
		UploadDir: getenvDefault("SB_UPLOAD_DIR", "./uploads"),

		MaxUploadBytes: int64(getenvInt("SB_MAX_UPLOAD_BYTES", 10*1024*1024)),
		CacheMaxAge:    getenvInt("SB_CACHE_MAX_AGE_SECONDS", 86400),
		SlugLength:     clampSlugLength(getenvInt("SB_FILE_ID_LENGTH", defaultSlugLength)),

		RateLimit:  getenvInt("SB_RATE_LIMIT", 60),
		RateWindow: getenvSeconds("SB_RATE_WINDOW_SECONDS", time.Minute),

		RetentionHours:  getenvInt("SB_RETENTION_HOURS", 72),
		CleanupEnabled:  getenvDefault("SB_CLEANUP_ENABLED", "true") != "false",
		CleanupInterval: getenvDuration("SB_CLEANUP_INTERVAL", time.Hour),

		AdminPassword: os.Getenv("SB_ADMIN_PASSWORD"),
		APIKey:        os.Getenv("SB_API_KEY"),
		LockStep:      getenvSeconds("SB_ADMIN_LOCK_STEP_SECONDS", time.Minute),
		LockBackend:   getenvDefault("SB_LOCK_BACKEND", "memory"),

		BackupEnabled:     getenvBool("SB_BACKUP_ENABLED"),
		BackupInterval:    getenvDuration("SB_BACKUP_INTERVAL", 10*time.Minute),
		BackupMinInterval: getenvDuration("SB_BACKUP_MIN_INTERVAL", 2*time.Second),
		S3Endpoint:        os.Getenv("SB_S3_ENDPOINT"),
		S3AccessKey:       os.Getenv("SB_S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("SB_S3_SECRET_KEY"),
		Bucket:            os.Getenv("SB_BUCKET"),
		S3Prefix:          getenvDefault("SB_S3_PREFIX", "mirror"),

		DBURL: getenvDefault("SB_DB_URL", "file:slugbin.db"),
	}
}

// ConfigValidationError represents a single bad setting.
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

type configValidator struct {
	errors []ConfigValidationError
}

func (v *configValidator) addError(field, message string) {
	v.errors = append(v.errors, ConfigValidationError{Field: field, Message: message})
}

func (v *configValidator) errorString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n", len(v.errors)))
	for i, err := range v.errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate checks every setting for internal consistency.
func (c Config) Validate() error {
	v := &configValidator{}

	if c.Addr == "" {
		v.addError("SB_ADDR", "listen address must not be empty")
	}
	if c.UploadDir == "" {
		v.addError("SB_UPLOAD_DIR", "upload directory must not be empty")
	}
	if c.MaxUploadBytes <= 0 {
		v.addError("SB_MAX_UPLOAD_BYTES", "must be a positive integer")
	}
	if c.CacheMaxAge < 0 {
		v.addError("SB_CACHE_MAX_AGE_SECONDS", "must not be negative")
	}
	if c.RateLimit <= 0 {
		v.addError("SB_RATE_LIMIT", "must be a positive integer")
	}
	if c.RateWindow <= 0 {
		v.addError("SB_RATE_WINDOW_SECONDS", "must be a positive number of seconds")
	}
	if c.RetentionHours <= 0 {
		v.addError("SB_RETENTION_HOURS", "must be a positive integer")
	}
	if c.CleanupEnabled && c.CleanupInterval <= 0 {
		v.addError("SB_CLEANUP_INTERVAL", "must be a positive duration")
	}
	if c.LockStep <= 0 {
		v.addError("SB_ADMIN_LOCK_STEP_SECONDS", "must be a positive number of seconds")
	}
	if c.LockBackend != "memory" && c.LockBackend != "db" {
		v.addError("SB_LOCK_BACKEND", "must be one of: memory, db")
	}
	if p := c.AdminPassword; p != "" && isBcryptHash(p) && len(p) != 60 {
		v.addError("SB_ADMIN_PASSWORD", "bcrypt hash must be exactly 60 characters")
	}
	if c.BackupEnabled {
		if c.S3Endpoint == "" || c.S3AccessKey == "" || c.S3SecretKey == "" || c.Bucket == "" {
			v.addError("SB_BACKUP_ENABLED", "requires SB_S3_ENDPOINT, SB_S3_ACCESS_KEY, SB_S3_SECRET_KEY and SB_BUCKET")
		}
		if c.BackupInterval <= 0 {
			v.addError("SB_BACKUP_INTERVAL", "must be a positive duration")
		}
	}
	if c.DBURL == "" {
		v.addError("SB_DB_URL", "database location must not be empty")
	}

	if len(v.errors) > 0 {
		return fmt.Errorf("%s", v.errorString())
	}
	return nil
}

// WarnOnOptionalMissingConfig logs warnings for optional but recommended settings.
func (c Config) WarnOnOptionalMissingConfig() {
	warnings := make([]string, 0)

	if c.AdminPassword == "" && c.APIKey == "" {
		warnings = append(warnings, "no SB_ADMIN_PASSWORD or SB_API_KEY set - admin endpoints disabled")
	}
	if c.AdminPassword != "" && !isBcryptHash(c.AdminPassword) {
		warnings = append(warnings, "SB_ADMIN_PASSWORD is not a bcrypt hash - consider hashing it")
	}
	if !c.BackupEnabled {
		warnings = append(warnings, "SB_BACKUP_ENABLED not set to 'true' - remote backup disabled")
	}
	if os.Getenv("SB_LOG_FORMAT") == "" {
		warnings = append(warnings, "SB_LOG_FORMAT not set - using text format (consider 'json' for production)")
	}

	if len(warnings) > 0 {
		Info("configuration warnings", map[string]any{
			"count":    len(warnings),
			"warnings": warnings,
		})
	}
}
