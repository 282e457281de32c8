package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
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
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	OIDC      OIDCConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	FFmpeg    FFmpegConfig
	Pipeline  PipelineConfig
	Render    RenderConfig
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

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

// OIDCConfig points the JWKS verifier at an OpenID Connect issuer.
type OIDCConfig struct {
	Issuer   string
	ClientID string

	// WorkspaceClaim names the token claim listing the caller's workspaces.
	WorkspaceClaim string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	TaskPerHour   int
	RenderPerHour int
}

// StorageConfig selects and configures the blob storage backends.
type StorageConfig struct {
	DefaultBackend string // "local" or "r2"
	LocalBaseDir   string
	TempDir        string
	WorkDir        string
	R2             R2Config
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	Endpoint        string
}

type FFmpegConfig struct {
	FFmpegPath  string
	FFprobePath string
	TailLines   int
}

// PipelineConfig tunes the enqueuer, the queue and the join barrier.
type PipelineConfig struct {
	PollInterval      time.Duration
	BatchSize         int
	ParentMaxRetry    int
	StepMaxRetry      int
	Retention         time.Duration
	AwaitPollInterval time.Duration
	ParentTimeout     time.Duration
	StepTimeout       time.Duration
	ParentConcurrency int
	StepConcurrency   int
}

type RenderConfig struct {
	Codec  string
	Format string
	Width  int
	Height int
	FPS    int
}

func Load() (*Config, error) {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("OIDC_CLIENT_ID")

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
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = v.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = v.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = v.BindEnv("oidc.workspace_claim", "OIDC_WORKSPACE_CLAIM")
	_ = v.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = v.BindEnv("storage.default_backend", "STORAGE_BACKEND")
	_ = v.BindEnv("storage.local_base_dir", "STORAGE_LOCAL_DIR")
	_ = v.BindEnv("storage.temp_dir", "STORAGE_TEMP_DIR")
	_ = v.BindEnv("storage.work_dir", "STORAGE_WORK_DIR")
	_ = v.BindEnv("storage.r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("storage.r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("storage.r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("storage.r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("storage.r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("storage.r2.endpoint", "R2_ENDPOINT")
	_ = v.BindEnv("ffmpeg.ffmpeg_path", "FFMPEG_PATH")
	_ = v.BindEnv("ffmpeg.ffprobe_path", "FFPROBE_PATH")
	_ = v.BindEnv("pipeline.poll_interval", "PIPELINE_POLL_INTERVAL")
	_ = v.BindEnv("pipeline.batch_size", "PIPELINE_BATCH_SIZE")
	_ = v.BindEnv("pipeline.parent_max_retry", "PIPELINE_PARENT_MAX_RETRY")
	_ = v.BindEnv("pipeline.step_max_retry", "PIPELINE_STEP_MAX_RETRY")
	_ = v.BindEnv("pipeline.parent_timeout", "PIPELINE_PARENT_TIMEOUT")
	_ = v.BindEnv("pipeline.step_timeout", "PIPELINE_STEP_TIMEOUT")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("oidc.workspace_claim", "workspaces")
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("ratelimit.task_per_hour", 120)
	v.SetDefault("ratelimit.render_per_hour", 20)

	// Storage defaults
	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local_base_dir", "./data/storage")
	v.SetDefault("storage.temp_dir", os.TempDir())
	v.SetDefault("storage.work_dir", "./data/work")

	// FFmpeg defaults
	v.SetDefault("ffmpeg.ffmpeg_path", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobe_path", "ffprobe")
	v.SetDefault("ffmpeg.tail_lines", 50)

	// Pipeline defaults
	v.SetDefault("pipeline.poll_interval", 5*time.Second)
	v.SetDefault("pipeline.batch_size", 20)
	v.SetDefault("pipeline.parent_max_retry", 2)
	v.SetDefault("pipeline.step_max_retry", 3)
	v.SetDefault("pipeline.retention", 24*time.Hour)
	v.SetDefault("pipeline.await_poll_interval", time.Second)
	v.SetDefault("pipeline.parent_timeout", 6*time.Hour)
	v.SetDefault("pipeline.step_timeout", 2*time.Hour)
	v.SetDefault("pipeline.parent_concurrency", 4)
	v.SetDefault("pipeline.step_concurrency", 8)

	// Render defaults
	v.SetDefault("render.codec", "h264")
	v.SetDefault("render.format", "mp4")
	v.SetDefault("render.width", 1920)
	v.SetDefault("render.height", 1080)
	v.SetDefault("render.fps", 30)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

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
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		OIDC: OIDCConfig{
			Issuer:         v.GetString("oidc.issuer"),
			ClientID:       v.GetString("oidc.client_id"),
			WorkspaceClaim: v.GetString("oidc.workspace_claim"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			TaskPerHour:   v.GetInt("ratelimit.task_per_hour"),
			RenderPerHour: v.GetInt("ratelimit.render_per_hour"),
		},
		Storage: StorageConfig{
			DefaultBackend: v.GetString("storage.default_backend"),
			LocalBaseDir:   v.GetString("storage.local_base_dir"),
			TempDir:        v.GetString("storage.temp_dir"),
			WorkDir:        v.GetString("storage.work_dir"),
			R2: R2Config{
				AccountID:       v.GetString("storage.r2.account_id"),
				AccessKeyID:     v.GetString("storage.r2.access_key_id"),
				SecretAccessKey: v.GetString("storage.r2.secret_access_key"),
				BucketName:      v.GetString("storage.r2.bucket_name"),
				PublicURL:       v.GetString("storage.r2.public_url"),
				Endpoint:        v.GetString("storage.r2.endpoint"),
			},
		},
		FFmpeg: FFmpegConfig{
			FFmpegPath:  v.GetString("ffmpeg.ffmpeg_path"),
			FFprobePath: v.GetString("ffmpeg.ffprobe_path"),
			TailLines:   v.GetInt("ffmpeg.tail_lines"),
		},
		Pipeline: PipelineConfig{
			PollInterval:      v.GetDuration("pipeline.poll_interval"),
			BatchSize:         v.GetInt("pipeline.batch_size"),
			ParentMaxRetry:    v.GetInt("pipeline.parent_max_retry"),
			StepMaxRetry:      v.GetInt("pipeline.step_max_retry"),
			Retention:         v.GetDuration("pipeline.retention"),
			AwaitPollInterval: v.GetDuration("pipeline.await_poll_interval"),
			ParentTimeout:     v.GetDuration("pipeline.parent_timeout"),
			StepTimeout:       v.GetDuration("pipeline.step_timeout"),
			ParentConcurrency: v.GetInt("pipeline.parent_concurrency"),
			StepConcurrency:   v.GetInt("pipeline.step_concurrency"),
		},
		Render: RenderConfig{
			Codec:  v.GetString("render.codec"),
			Format: v.GetString("render.format"),
			Width:  v.GetInt("render.width"),
			Height: v.GetInt("render.height"),
			FPS:    v.GetInt("render.fps"),
		},
	}

	return cfg, nil
}
