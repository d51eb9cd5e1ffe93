package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	RabbitMQ RabbitMQConfig
	Routing  RoutingConfig
	Tracking TrackingConfig
	Auth     AuthConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// RabbitMQConfig holds the broker used to hand notifications to delivery workers.
type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
	Exchange string
	Enabled  bool
}

// RoutingConfig holds the external distance-matrix service settings.
type RoutingConfig struct {
	APIKey   string
	BaseURL  string
	Mode     string
	Language string
	Timeout  time.Duration
}

// TrackingConfig holds the live tracking engine settings.
type TrackingConfig struct {
	FallbackSpeedKmh   float64
	IdleTTL            time.Duration
	SweepInterval      time.Duration
	HistoryMaxPageSize int
	NearbyThresholdKm  float64
	SendBufferSize     int
	WriteTimeout       time.Duration
	PongWait           time.Duration
	PingPeriod         time.Duration
	AuthTimeout        time.Duration
	MaxMessageBytes    int64
	LockTTL            time.Duration
}

// AuthConfig holds connection token settings. An empty secret disables token checks.
type AuthConfig struct {
	JWTSecret string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "delivery_tracking"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "delivery-tracking-service"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getIntEnv("RABBITMQ_PORT", 5672),
			User:     getEnv("RABBITMQ_USER", "guest"),
			Password: getEnv("RABBITMQ_PASSWORD", "guest"),
			VHost:    getEnv("RABBITMQ_VHOST", ""),
			Exchange: getEnv("RABBITMQ_NOTIFICATION_EXCHANGE", "notifications"),
			Enabled:  getBoolEnv("RABBITMQ_ENABLED", false),
		},
		Routing: RoutingConfig{
			APIKey:   getEnv("ROUTING_API_KEY", ""),
			BaseURL:  getEnv("ROUTING_BASE_URL", "https://maps.googleapis.com"),
			Mode:     getEnv("ROUTING_TRAVEL_MODE", "driving"),
			Language: getEnv("ROUTING_LANGUAGE", "ar"),
			Timeout:  getDurationEnv("ROUTING_TIMEOUT", 15*time.Second),
		},
		Tracking: TrackingConfig{
			FallbackSpeedKmh:   getFloatEnv("TRACKING_FALLBACK_SPEED_KMH", 30),
			IdleTTL:            getDurationEnv("TRACKING_IDLE_TTL", 4*time.Hour),
			SweepInterval:      getDurationEnv("TRACKING_SWEEP_INTERVAL", time.Minute),
			HistoryMaxPageSize: getIntEnv("TRACKING_HISTORY_MAX_PAGE_SIZE", 100),
			NearbyThresholdKm:  getFloatEnv("TRACKING_NEARBY_THRESHOLD_KM", 0.5),
			SendBufferSize:     getIntEnv("WS_SEND_BUFFER", 64),
			WriteTimeout:       getDurationEnv("WS_WRITE_TIMEOUT", 10*time.Second),
			PongWait:           getDurationEnv("WS_PONG_WAIT", 60*time.Second),
			PingPeriod:         getDurationEnv("WS_PING_PERIOD", 30*time.Second),
			AuthTimeout:        getDurationEnv("WS_AUTH_TIMEOUT", 5*time.Second),
			MaxMessageBytes:    int64(getIntEnv("WS_MAX_MESSAGE_BYTES", 4096)),
			LockTTL:            getDurationEnv("TRACKING_LOCK_TTL", 5*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "INFO"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
