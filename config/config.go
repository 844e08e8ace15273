package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Most values are read from environment variables with sensible defaults.
type Config struct {
	ServerAddr string

	FFmpegPath  string
	FFprobePath string

	StaticDir    string // Root directory for generated artifacts (HLS streams, thumbnails)
	StreamDir    string // Subdirectory for per-session HLS output: StaticDir/streams
	ThumbnailDir string // Subdirectory for generated thumbnails: StaticDir/thumbnails

	HLSSegmentTime   int // Segment length in seconds
	HLSWindowSize    int // Number of segments kept in the rolling playlist
	ScanBatchSize    int // Files probed concurrently per scan batch
	StopGraceSec     int // Graceful encoder termination bound before SIGKILL
	CleanupDelaySec  int // Delay before a stopped session's output dir is removed
	AutoStopSec      int // No-viewer countdown before a stream is auto stopped
	StatsIntervalSec int // server_stats broadcast interval

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置（可选，未配置Endpoint时禁用）
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	JWTSecret string

	LogPath  string
	LogLevel string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// Attempt to load .env file. godotenv.Load() will not override existing env vars.
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	staticBase := getEnv("STATIC_DIR", "static")

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),

		StaticDir:    staticBase,
		StreamDir:    filepath.Join(staticBase, "streams"),
		ThumbnailDir: filepath.Join(staticBase, "thumbnails"),

		HLSSegmentTime:   getEnvInt("HLS_SEGMENT_TIME", 4),
		HLSWindowSize:    getEnvInt("HLS_WINDOW_SIZE", 10),
		ScanBatchSize:    getEnvInt("SCAN_BATCH_SIZE", 20),
		StopGraceSec:     getEnvInt("STOP_GRACE_SEC", 5),
		CleanupDelaySec:  getEnvInt("CLEANUP_DELAY_SEC", 30),
		AutoStopSec:      getEnvInt("AUTO_STOP_SEC", 60),
		StatsIntervalSec: getEnvInt("STATS_INTERVAL_SEC", 5),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // For password, better not to have a hardcoded default
		DBName:     getEnv("DB_NAME", "feiliu"),

		// Redis配置，使用默认值
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "feiliu"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		JWTSecret: getEnv("JWT_SECRET", "feiliu-dev-secret"),

		LogPath:  getEnv("LOG_PATH", ""),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}
