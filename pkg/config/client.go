package config

import "time"

// ClientConfig configures the teamsync client and CLI.
type ClientConfig struct {
	APIURL            string
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectJitter   time.Duration
	ReconnectAttempts int
}

// LoadClientConfig constructs a ClientConfig from environment variables.
func LoadClientConfig() ClientConfig {
	return ClientConfig{
		APIURL:            GetString("TEAMSYNC_API", "http://localhost:4000"),
		ReconnectBase:     GetDuration("TEAMSYNC_RECONNECT_BASE_MS", 1000, time.Millisecond),
		ReconnectMax:      GetDuration("TEAMSYNC_RECONNECT_MAX_MS", 30000, time.Millisecond),
		ReconnectJitter:   GetDuration("TEAMSYNC_RECONNECT_JITTER_MS", 1000, time.Millisecond),
		ReconnectAttempts: GetInt("TEAMSYNC_RECONNECT_ATTEMPTS", 10),
	}
}
