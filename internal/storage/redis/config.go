package redis

// Config holds Redis connection and behavior settings
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379)
	URL string

	// Prefix namespaces every key and channel, so several rosters can share
	// one server.
	Prefix string

	// Pool settings
	PoolSize     int
	MinIdleConns int

	// MaxTxRetries bounds how often an update is rerun after another
	// writer changed the roster between read and commit.
	MaxTxRetries int
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		URL:          "redis://localhost:6379",
		Prefix:       "teamshuffle",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxTxRetries: 8,
	}
}
