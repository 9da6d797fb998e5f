package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Host             string
	Port             int
	DatabaseDriver   string // sqlite3 or pgx
	DatabaseDSN      string
	ImageDirectory   string
	ModelPath        string
	ModelConfigPath  string
	ModelInputSize   int
	TargetClassID    int     // COCO class id kept by the detector (1 = person)
	ScoreThreshold   float64 // detections must score strictly above this
	DetectionWorkers int     // maximum concurrent detection runs
	MaxUploadSize    int64
	LogDirectory     string
	LogLevel         string
	ShutdownTimeout  time.Duration
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Host:             getEnv("HOST", "0.0.0.0"),
		Port:             getEnvAsInt("PORT", 8000),
		DatabaseDriver:   getEnv("DB_DRIVER", "sqlite3"),
		DatabaseDSN:      getEnv("DB_DSN", filepath.Join(".", "data", "images.db")),
		ImageDirectory:   getEnv("IMAGE_DIR", filepath.Join(".", "data", "images")),
		ModelPath:        getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ModelConfigPath:  getEnv("MODEL_CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),
		ModelInputSize:   getEnvAsInt("MODEL_INPUT_SIZE", 300),
		TargetClassID:    getEnvAsInt("TARGET_CLASS_ID", 1),
		ScoreThreshold:   getEnvAsFloat("SCORE_THRESHOLD", 0.8),
		DetectionWorkers: getEnvAsInt("DETECTION_WORKERS", 4),
		MaxUploadSize:    getEnvAsInt64("MAX_UPLOAD_SIZE", 20<<20),
		LogDirectory:     getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout:  getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that the rest of the service relies on.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	switch c.DatabaseDriver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want sqlite3 or pgx)", c.DatabaseDriver)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DB_DSN must not be empty")
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("SCORE_THRESHOLD must be within [0,1] (got %v)", c.ScoreThreshold)
	}
	if c.DetectionWorkers <= 0 {
		return fmt.Errorf("DETECTION_WORKERS must be > 0 (got %d)", c.DetectionWorkers)
	}
	if c.ModelInputSize <= 0 {
		return fmt.Errorf("MODEL_INPUT_SIZE must be > 0 (got %d)", c.ModelInputSize)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be > 0 (got %d)", c.MaxUploadSize)
	}
	return nil
}

func (c *Config) ServerAddress() string {
	return net.JoinHostPort(strings.TrimSpace(c.Host), strconv.Itoa(c.Port))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
