package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Media:      DefaultMediaConfig(),
		Summarizer: DefaultSummarizerConfig(),
		Transfer:   DefaultTransferConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8080,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RateLimitRPS:       100,
		RateLimitBurst:     200,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
	}
}

// DefaultMediaConfig returns the default media provisioning configuration.
func DefaultMediaConfig() MediaConfig {
	return MediaConfig{
		WSURL:    "ws://localhost:7880",
		TokenTTL: time.Hour,
	}
}

// DefaultSummarizerConfig returns the default summarizer configuration.
func DefaultSummarizerConfig() SummarizerConfig {
	return SummarizerConfig{
		Model:               "gpt-4o-mini",
		BaseURL:             "https://api.openai.com",
		FallbackModel:       "llama-3.3-70b-versatile",
		FallbackBaseURL:     "https://api.groq.com/openai",
		Timeout:             30 * time.Second,
		MaxRetries:          1,
		MaxTranscriptTokens: 6000,
	}
}

// DefaultTransferConfig returns the default transfer coordination
// configuration.
func DefaultTransferConfig() TransferConfig {
	return TransferConfig{
		InviteTimeout:    2 * time.Minute,
		SubscriberBuffer: 16,
	}
}

// DefaultRedisConfig returns the default summary cache configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig returns the default audit store configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Name:            "warmline.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "warmline",
		SampleRate:   0.1,
	}
}
