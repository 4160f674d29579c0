package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the transcoder server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Encoder   EncoderConfig
	Worker    WorkerConfig
	Workspace WorkspaceConfig
	Kafka     KafkaConfig
	Upload    UploadConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port          int
	Env           string
	MigrationsDir string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// StorageConfig selects and configures the remote object store.
type StorageConfig struct {
	Backend      string
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
	PresignTTL   time.Duration
	// Timeout bounds each object store call. Zero means no limit.
	Timeout time.Duration
}

// EncoderConfig is the fixed quality profile handed to ffmpeg.
type EncoderConfig struct {
	FFmpegPath       string
	FFprobePath      string
	VideoCodec       string
	AudioCodec       string
	Preset           string
	CRF              int
	KeyframeInterval int
	SegmentSeconds   int
}

type WorkerConfig struct {
	Count           int
	QueueSize       int
	PendingAfter    time.Duration
	ProcessingAfter time.Duration
	ReapInterval    time.Duration
}

type WorkspaceConfig struct {
	Dir      string
	StaleAge time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type UploadConfig struct {
	MaxBytes int64
}

type RateLimitConfig struct {
	PerMinute int
}

var validBackends = map[string]bool{
	"minio": true,
	"s3":    true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:          envInt("TRANSCODER_PORT", 8080),
			Env:           envString("TRANSCODER_ENV", "development"),
			MigrationsDir: envString("MIGRATIONS_DIR", "migrations"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			Backend:      envString("STORAGE_BACKEND", "minio"),
			Bucket:       os.Getenv("STORAGE_BUCKET"),
			Region:       envString("STORAGE_REGION", "us-east-1"),
			Endpoint:     os.Getenv("STORAGE_ENDPOINT"),
			AccessKey:    os.Getenv("STORAGE_ACCESS_KEY"),
			SecretKey:    os.Getenv("STORAGE_SECRET_KEY"),
			UseSSL:       envBool("STORAGE_USE_SSL", false),
			UsePathStyle: envBool("STORAGE_USE_PATH_STYLE", true),
			PresignTTL:   envDurationSecs("STORAGE_PRESIGN_TTL_SECS", 300*time.Second),
			Timeout:      envDuration("STORAGE_TIMEOUT", 0),
		},
		Encoder: EncoderConfig{
			FFmpegPath:       envString("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:      envString("FFPROBE_PATH", "ffprobe"),
			VideoCodec:       envString("ENCODER_VIDEO_CODEC", "libx264"),
			AudioCodec:       envString("ENCODER_AUDIO_CODEC", "aac"),
			Preset:           envString("ENCODER_PRESET", "slow"),
			CRF:              envInt("ENCODER_CRF", 23),
			KeyframeInterval: envInt("ENCODER_KEYFRAME_INTERVAL", 24),
			SegmentSeconds:   envInt("ENCODER_SEGMENT_SECONDS", 4),
		},
		Worker: WorkerConfig{
			Count:           envInt("WORKER_COUNT", 2),
			QueueSize:       envInt("WORKER_QUEUE_SIZE", 16),
			PendingAfter:    envDuration("REAPER_PENDING_AFTER", 5*time.Minute),
			ProcessingAfter: envDuration("REAPER_PROCESSING_AFTER", 2*time.Hour),
			ReapInterval:    envDuration("REAPER_INTERVAL", 5*time.Minute),
		},
		Workspace: WorkspaceConfig{
			Dir:      envString("WORKSPACE_DIR", filepath.Join(os.TempDir(), "transcoder")),
			StaleAge: envDuration("WORKSPACE_STALE_AGE", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envString("KAFKA_TOPIC", "transcode.jobs"),
		},
		Upload: UploadConfig{
			MaxBytes: int64(envInt("UPLOAD_MAX_BYTES", 100<<20)),
		},
		RateLimit: RateLimitConfig{
			PerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("STORAGE_BACKEND must be one of minio, s3; got %q", c.Storage.Backend)
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("STORAGE_BUCKET is required")
	}
	if c.Storage.Backend == "minio" {
		if c.Storage.Endpoint == "" {
			return fmt.Errorf("STORAGE_ENDPOINT is required when STORAGE_BACKEND is minio")
		}
		if strings.Contains(c.Storage.Endpoint, "://") {
			return fmt.Errorf("STORAGE_ENDPOINT must be host:port without a scheme, got %q", c.Storage.Endpoint)
		}
	}
	if c.Storage.PresignTTL <= 0 {
		return fmt.Errorf("STORAGE_PRESIGN_TTL_SECS must be positive")
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.Worker.Count)
	}
	if c.Worker.QueueSize < 0 {
		return fmt.Errorf("WORKER_QUEUE_SIZE must not be negative, got %d", c.Worker.QueueSize)
	}

	if c.Encoder.CRF < 0 || c.Encoder.CRF > 51 {
		return fmt.Errorf("ENCODER_CRF must be between 0 and 51, got %d", c.Encoder.CRF)
	}
	if c.Encoder.KeyframeInterval < 1 {
		return fmt.Errorf("ENCODER_KEYFRAME_INTERVAL must be at least 1, got %d", c.Encoder.KeyframeInterval)
	}

	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
