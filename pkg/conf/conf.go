package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultUserBuildLimit = 2

// Config carries the settings shared by the forged daemons. Endpoints come
// from the environment; scheduling policy (builder allow-list, quota limit)
// can additionally come from a YAML file named by FORGED_CONFIG.
type Config struct {
	PostgresDSN string
	NATSURL     string
	RedisURL    string
	HTTPPort    int

	// Builders is the allow-list of builder hosts eligible for election.
	// Empty means builds are dispatched with an empty routing key.
	Builders []string `yaml:"builders"`

	// UserBuildLimit is the per-user cap on concurrently running builds.
	UserBuildLimit int `yaml:"user_build_limit"`

	// ProviderBaseURL is used to derive commit URLs, e.g. "https://github.com".
	ProviderBaseURL string `yaml:"provider_base_url"`

	// ArchiveBucket receives compressed logs of finished builds. Empty
	// disables archival.
	ArchiveBucket string `yaml:"archive_bucket"`
}

// Load reads the optional YAML file, then applies environment overrides and
// defaults.
func Load() (Config, error) {
	cfg := Config{UserBuildLimit: defaultUserBuildLimit}

	if path := os.Getenv("FORGED_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.PostgresDSN = getEnv("FORGED_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.NATSURL = getEnv("FORGED_NATS_URL", firstNonEmpty(cfg.NATSURL, "nats://127.0.0.1:4222"))
	cfg.RedisURL = getEnv("FORGED_REDIS_URL", firstNonEmpty(cfg.RedisURL, "redis://127.0.0.1:6379/0"))
	cfg.HTTPPort = getEnvInt("FORGED_HTTP_PORT", firstNonZero(cfg.HTTPPort, 8080))
	cfg.ProviderBaseURL = strings.TrimRight(getEnv("FORGED_PROVIDER_BASE_URL", firstNonEmpty(cfg.ProviderBaseURL, "https://github.com")), "/")
	cfg.ArchiveBucket = getEnv("FORGED_ARCHIVE_BUCKET", cfg.ArchiveBucket)

	if v := os.Getenv("FORGED_BUILDERS"); v != "" {
		cfg.Builders = splitList(v)
	}
	if v := os.Getenv("FORGED_USER_BUILD_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return Config{}, fmt.Errorf("invalid FORGED_USER_BUILD_LIMIT: %q", v)
		}
		cfg.UserBuildLimit = limit
	}

	if cfg.PostgresDSN == "" {
		return Config{}, fmt.Errorf("FORGED_POSTGRES_DSN is required")
	}
	if cfg.UserBuildLimit <= 0 {
		cfg.UserBuildLimit = defaultUserBuildLimit
	}

	return cfg, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
