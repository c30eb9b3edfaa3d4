package config

import (
	"fmt"
	"time"

	"teamchat-backend/pkg/env"
)

// Config holds all configuration for the application
type Config struct {
	Server ServerConfig
	Mongo  MongoConfig
	Redis  RedisConfig
	Blob   BlobConfig
	JWT    JWTConfig
	Push   PushConfig
	Calls  CallConfig
	WS     WSConfig
	Log    LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int
	Environment string // development, staging, production
	ServiceName string
}

// MongoConfig holds document store configuration
type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// BlobConfig selects and configures the object storage backend
type BlobConfig struct {
	Backend string // minio, s3
	MinIO   MinIOConfig
	S3      S3Config
}

// MinIOConfig holds MinIO configuration
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// S3Config holds AWS S3 configuration. Endpoint is optional and only set
// for S3-compatible services.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// PushConfig holds push provider configuration
type PushConfig struct {
	Provider           string // mock, fcm, apns
	FCMProjectID       string
	FCMCredentialsPath string
	APNsBundleID       string
	APNsKeyPath        string
	APNsKeyID          string
	APNsTeamID         string
	APNsProduction     bool
}

// CallConfig holds call signaling tunables
type CallConfig struct {
	GroupMaxParticipants int
	RingTimeout          time.Duration
	DisconnectGrace      time.Duration
	GroupICEScope        string // group, roster
}

// WSConfig holds realtime gateway configuration
type WSConfig struct {
	MaxConnections int
	AllowedOrigins []string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

const (
	// ICEScopeGroup relays untargeted group ICE candidates to every group member online
	ICEScopeGroup = "group"
	// ICEScopeRoster relays them only to active call participants
	ICEScopeRoster = "roster"
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        env.GetInt("PORT", 8083),
			Environment: env.GetString("ENV", "development"),
			ServiceName: env.GetString("SERVICE_NAME", "teamchat-realtime"),
		},
		Mongo: MongoConfig{
			URI:      env.GetStringFromFile("MONGO_URI", "mongodb://localhost:27017"),
			Database: env.GetString("MONGO_DATABASE", "teamchat"),
			Timeout:  env.GetDuration("MONGO_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Blob: BlobConfig{
			Backend: env.GetString("BLOB_BACKEND", "minio"),
			MinIO: MinIOConfig{
				Endpoint:  env.GetString("MINIO_ENDPOINT", "localhost:9000"),
				AccessKey: env.GetStringFromFile("MINIO_ACCESS_KEY", "minioadmin"),
				SecretKey: env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
				UseSSL:    env.GetBool("MINIO_USE_SSL", false),
				Bucket:    env.GetString("MINIO_BUCKET", "teamchat"),
			},
			S3: S3Config{
				Bucket:    env.GetString("S3_BUCKET", ""),
				Region:    env.GetString("S3_REGION", "us-east-1"),
				Endpoint:  env.GetString("S3_ENDPOINT", ""),
				AccessKey: env.GetStringFromFile("S3_ACCESS_KEY", ""),
				SecretKey: env.GetStringFromFile("S3_SECRET_KEY", ""),
			},
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			AccessTokenExpiry: env.GetDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		},
		Push: PushConfig{
			Provider:           env.GetString("PUSH_PROVIDER", "mock"),
			FCMProjectID:       env.GetStringFromFile("FCM_PROJECT_ID", ""),
			FCMCredentialsPath: env.GetString("FCM_CREDENTIALS_PATH", ""),
			APNsBundleID:       env.GetString("APNS_BUNDLE_ID", ""),
			APNsKeyPath:        env.GetString("APNS_KEY_PATH", ""),
			APNsKeyID:          env.GetString("APNS_KEY_ID", ""),
			APNsTeamID:         env.GetString("APNS_TEAM_ID", ""),
			APNsProduction:     env.GetBool("APNS_PRODUCTION", false),
		},
		Calls: CallConfig{
			GroupMaxParticipants: env.GetInt("GROUP_CALL_MAX_PARTICIPANTS", 10),
			RingTimeout:          env.GetDuration("CALL_RING_TIMEOUT", 45*time.Second),
			DisconnectGrace:      env.GetDuration("CALL_DISCONNECT_GRACE", 15*time.Second),
			GroupICEScope:        env.GetString("GROUP_ICE_SCOPE", ICEScopeGroup),
		},
		WS: WSConfig{
			MaxConnections: env.GetInt("WS_MAX_CONNECTIONS", 1000),
			AllowedOrigins: env.GetSlice("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			}),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/app.log"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.Push.Provider == "mock" {
			return fmt.Errorf("PUSH_PROVIDER=mock is not allowed in production")
		}
	}

	if c.Calls.GroupMaxParticipants < 2 {
		return fmt.Errorf("GROUP_CALL_MAX_PARTICIPANTS must be at least 2, got %d", c.Calls.GroupMaxParticipants)
	}

	switch c.Calls.GroupICEScope {
	case ICEScopeGroup, ICEScopeRoster:
	default:
		return fmt.Errorf("GROUP_ICE_SCOPE must be %q or %q, got %q", ICEScopeGroup, ICEScopeRoster, c.Calls.GroupICEScope)
	}

	switch c.Blob.Backend {
	case "minio":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET must be set when BLOB_BACKEND=s3")
		}
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", c.Blob.Backend)
	}

	return nil
}
