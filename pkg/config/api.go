package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment              string
	Addr                     string
	DatabaseURL              string
	MigrationsDir            string
	AutoMigrate              bool
	JWTSecret                string
	AccessTokenTTL           time.Duration
	RefreshTokenTTL          time.Duration
	LogLevel                 string
	RateLimitRedisAddr       string
	RateLimitRedisPass       string
	RateLimitRedisDB         int
	TrustedProxies           []string
	DefaultMemberMaxProjects int
	DefaultPMMaxProjects     int
	MaxProjectsCeiling       int
	ShutdownTimeout          time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables, reading .env first.
func LoadAPIConfig() APIConfig {
	LoadDotEnv()
	return APIConfig{
		Environment:              GetString("APP_ENV", "development"),
		Addr:                     GetString("API_ADDR", ":4000"),
		DatabaseURL:              GetString("DATABASE_URL", "postgres://pmdesk:pmdesk@db:5432/pmdesk?sslmode=disable"),
		MigrationsDir:            GetString("DB_MIGRATIONS_DIR", ""),
		AutoMigrate:              GetBool("DB_AUTO_MIGRATE", true),
		JWTSecret:                GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:           time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		RefreshTokenTTL:          time.Duration(GetInt("REFRESH_TOKEN_TTL_HOURS", 24)) * time.Hour,
		LogLevel:                 GetString("LOG_LEVEL", "info"),
		RateLimitRedisAddr:       GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:       GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:         GetInt("RATE_LIMIT_REDIS_DB", 0),
		TrustedProxies:           GetList("TRUSTED_PROXIES"),
		DefaultMemberMaxProjects: GetInt("DEFAULT_MEMBER_MAX_PROJECTS", 4),
		DefaultPMMaxProjects:     GetInt("DEFAULT_PM_MAX_PROJECTS", 10),
		MaxProjectsCeiling:       GetInt("MAX_PROJECTS_CEILING", 20),
		ShutdownTimeout:          GetDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// Production reports whether the service runs with production error handling.
func (c APIConfig) Production() bool {
	return c.Environment == "production"
}
