package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server        ServerConfig
	Redis         RedisConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Storage       StorageConfig
	Database      DatabaseConfig
	Separation    SeparationConfig
	Transcription TranscriptionConfig
	Worker        WorkerConfig
	Jobs          JobsConfig
	Mirror        MirrorConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

type RateLimitConfig struct {
	SeparatePerHour   int
	TranscribePerHour int
	UploadPerHour     int
}

type StorageConfig struct {
	DataDir string
}

type DatabaseConfig struct {
	Path string
}

type SeparationConfig struct {
	Command    string
	Model      string
	ProgressLo int
	ProgressHi int
}

type TranscriptionConfig struct {
	SampleRate          int
	FrameLength         int
	HopLength           int
	TrimTopDB           float64
	MinNoteSeconds      float64
	Velocity            int
	ConfidenceThreshold float64
}

type WorkerConfig struct {
	Concurrency   int
	JobTimeout    time.Duration
	MaxRetry      int
	StaleAfter    time.Duration // 0 disables the watchdog
	WatchInterval time.Duration
}

type JobsConfig struct {
	Retention time.Duration // 0 keeps job records forever
}

type MirrorConfig struct {
	Driver    string // none, s3 or minio
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PublicURL string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("MIRROR_ACCESS_KEY")
	readSecret("MIRROR_SECRET_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("auth.enabled", "AUTH_ENABLED")
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("ratelimit.separate_per_hour", "RATELIMIT_SEPARATE_PER_HOUR")
	_ = v.BindEnv("ratelimit.transcribe_per_hour", "RATELIMIT_TRANSCRIBE_PER_HOUR")
	_ = v.BindEnv("ratelimit.upload_per_hour", "RATELIMIT_UPLOAD_PER_HOUR")
	_ = v.BindEnv("storage.data_dir", "DATA_DIR")
	_ = v.BindEnv("database.path", "DATABASE_PATH")
	_ = v.BindEnv("separation.command", "SEPARATION_COMMAND")
	_ = v.BindEnv("separation.model", "DEMUCS_MODEL")
	_ = v.BindEnv("separation.progress_lo", "SEPARATION_PROGRESS_LO")
	_ = v.BindEnv("separation.progress_hi", "SEPARATION_PROGRESS_HI")
	_ = v.BindEnv("transcription.sample_rate", "TRANSCRIPTION_SAMPLE_RATE")
	_ = v.BindEnv("transcription.frame_length", "TRANSCRIPTION_FRAME_LENGTH")
	_ = v.BindEnv("transcription.hop_length", "TRANSCRIPTION_HOP_LENGTH")
	_ = v.BindEnv("transcription.trim_top_db", "TRANSCRIPTION_TRIM_TOP_DB")
	_ = v.BindEnv("transcription.min_note_seconds", "TRANSCRIPTION_MIN_NOTE_SECONDS")
	_ = v.BindEnv("transcription.velocity", "TRANSCRIPTION_VELOCITY")
	_ = v.BindEnv("transcription.confidence_threshold", "TRANSCRIPTION_CONFIDENCE_THRESHOLD")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = v.BindEnv("worker.job_timeout", "WORKER_JOB_TIMEOUT")
	_ = v.BindEnv("worker.max_retry", "WORKER_MAX_RETRY")
	_ = v.BindEnv("worker.stale_after", "WORKER_STALE_AFTER")
	_ = v.BindEnv("worker.watch_interval", "WORKER_WATCH_INTERVAL")
	_ = v.BindEnv("jobs.retention", "JOBS_RETENTION")
	_ = v.BindEnv("mirror.driver", "MIRROR_DRIVER")
	_ = v.BindEnv("mirror.endpoint", "MIRROR_ENDPOINT")
	_ = v.BindEnv("mirror.region", "MIRROR_REGION")
	_ = v.BindEnv("mirror.bucket", "MIRROR_BUCKET")
	_ = v.BindEnv("mirror.access_key", "MIRROR_ACCESS_KEY")
	_ = v.BindEnv("mirror.secret_key", "MIRROR_SECRET_KEY")
	_ = v.BindEnv("mirror.use_ssl", "MIRROR_USE_SSL")
	_ = v.BindEnv("mirror.public_url", "MIRROR_PUBLIC_URL")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "change-me-in-production")
	v.SetDefault("ratelimit.separate_per_hour", 10)
	v.SetDefault("ratelimit.transcribe_per_hour", 30)
	v.SetDefault("ratelimit.upload_per_hour", 50)
	v.SetDefault("storage.data_dir", "/data")
	v.SetDefault("database.path", "")

	// Separation defaults
	v.SetDefault("separation.command", "demucs")
	v.SetDefault("separation.model", "htdemucs")
	v.SetDefault("separation.progress_lo", 5)
	v.SetDefault("separation.progress_hi", 85)

	// Transcription defaults
	v.SetDefault("transcription.sample_rate", 22050)
	v.SetDefault("transcription.frame_length", 2048)
	v.SetDefault("transcription.hop_length", 256)
	v.SetDefault("transcription.trim_top_db", 35.0)
	v.SetDefault("transcription.min_note_seconds", 0.06)
	v.SetDefault("transcription.velocity", 90)
	v.SetDefault("transcription.confidence_threshold", 0.0)

	// Worker defaults
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.job_timeout", time.Hour)
	v.SetDefault("worker.max_retry", 3)
	v.SetDefault("worker.stale_after", time.Duration(0))
	v.SetDefault("worker.watch_interval", time.Minute)
	v.SetDefault("jobs.retention", time.Duration(0))

	// Mirror defaults
	v.SetDefault("mirror.driver", "none")
	v.SetDefault("mirror.region", "auto")
	v.SetDefault("mirror.use_ssl", true)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	dataDir := v.GetString("storage.data_dir")
	dbPath := v.GetString("database.path")
	if dbPath == "" {
		dbPath = dataDir + "/stemtranscriber.db"
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			Enabled:   v.GetBool("auth.enabled"),
			JWTSecret: v.GetString("auth.jwt_secret"),
		},
		RateLimit: RateLimitConfig{
			SeparatePerHour:   v.GetInt("ratelimit.separate_per_hour"),
			TranscribePerHour: v.GetInt("ratelimit.transcribe_per_hour"),
			UploadPerHour:     v.GetInt("ratelimit.upload_per_hour"),
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Separation: SeparationConfig{
			Command:    v.GetString("separation.command"),
			Model:      v.GetString("separation.model"),
			ProgressLo: v.GetInt("separation.progress_lo"),
			ProgressHi: v.GetInt("separation.progress_hi"),
		},
		Transcription: TranscriptionConfig{
			SampleRate:          v.GetInt("transcription.sample_rate"),
			FrameLength:         v.GetInt("transcription.frame_length"),
			HopLength:           v.GetInt("transcription.hop_length"),
			TrimTopDB:           v.GetFloat64("transcription.trim_top_db"),
			MinNoteSeconds:      v.GetFloat64("transcription.min_note_seconds"),
			Velocity:            v.GetInt("transcription.velocity"),
			ConfidenceThreshold: v.GetFloat64("transcription.confidence_threshold"),
		},
		Worker: WorkerConfig{
			Concurrency:   v.GetInt("worker.concurrency"),
			JobTimeout:    v.GetDuration("worker.job_timeout"),
			MaxRetry:      v.GetInt("worker.max_retry"),
			StaleAfter:    v.GetDuration("worker.stale_after"),
			WatchInterval: v.GetDuration("worker.watch_interval"),
		},
		Jobs: JobsConfig{
			Retention: v.GetDuration("jobs.retention"),
		},
		Mirror: MirrorConfig{
			Driver:    strings.ToLower(v.GetString("mirror.driver")),
			Endpoint:  v.GetString("mirror.endpoint"),
			Region:    v.GetString("mirror.region"),
			Bucket:    v.GetString("mirror.bucket"),
			AccessKey: v.GetString("mirror.access_key"),
			SecretKey: v.GetString("mirror.secret_key"),
			UseSSL:    v.GetBool("mirror.use_ssl"),
			PublicURL: v.GetString("mirror.public_url"),
		},
	}

	return cfg, nil
}
