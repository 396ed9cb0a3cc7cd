package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	CORSAllowedOrigins []string
	WSSendBuffer       int
	WSPingInterval     time.Duration
	SSEHeartbeat       time.Duration
	LogLevel           string
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://teamsync:teamsync@db:5432/teamsync?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:     GetDuration("ACCESS_TOKEN_TTL_MIN", 15, time.Minute),
		RefreshTokenTTL:    GetDuration("REFRESH_TOKEN_TTL_HOURS", 24, time.Hour),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		CORSAllowedOrigins: GetList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		WSSendBuffer:       GetInt("WS_SEND_BUFFER", 256),
		WSPingInterval:     GetDuration("WS_PING_SECONDS", 25, time.Second),
		SSEHeartbeat:       GetDuration("SSE_HEARTBEAT_SECONDS", 15, time.Second),
		LogLevel:           GetString("LOG_LEVEL", "info"),
	}
}
