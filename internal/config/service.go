package config

import "time"

// ServiceConfig holds runtime configuration for the release service
// process. Release policy lives in ReleaseManagementConfig; this struct is
// only about how the process itself runs.
type ServiceConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	AuthSecret         string
	TokenTTL           time.Duration
	EventBuffer        int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadServiceConfig constructs a ServiceConfig from environment variables.
// An empty DATABASE_URL selects the in-memory reference store.
func LoadServiceConfig() ServiceConfig {
	return ServiceConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("RELEASE_API_ADDR", ":4100"),
		DatabaseURL:        GetString("DATABASE_URL", ""),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		AuthSecret:         GetString("RELEASE_AUTH_SECRET", "supersecuresecret"),
		TokenTTL:           time.Duration(GetInt("RELEASE_TOKEN_TTL_HOURS", 12)) * time.Hour,
		EventBuffer:        GetInt("RELEASE_EVENT_BUFFER", 100),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
