// Package config loads worker configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings for the frame analysis worker.
type Config struct {
	// Postgres connection.
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Frame output directory for extracted images.
	OutputDir string

	// OCR worker pool size.
	OCRWorkers int

	// Vision client budget: minimum spacing between calls and calls per day.
	VisionCallSpacing time.Duration
	VisionDailyQuota  int

	// Queue worker settings.
	QueueConcurrency int
	StallTimeout     time.Duration

	// Ollama endpoint for the agent-backed analysis service.
	OllamaBaseURL string
	OllamaPort    int
	VisionModel   string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "vidlyx"),
		OutputDir:         getEnv("FRAME_OUTPUT_DIR", "output_frames"),
		OCRWorkers:        getEnvInt("OCR_WORKERS", 2),
		VisionDailyQuota:  getEnvInt("VISION_DAILY_QUOTA", 1500),
		QueueConcurrency:  getEnvInt("QUEUE_CONCURRENCY", 2),
		OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost"),
		OllamaPort:        getEnvInt("OLLAMA_PORT", 11434),
		VisionModel:       getEnv("VISION_MODEL", "llama3.2-vision:11b"),
		VisionCallSpacing: getEnvDuration("VISION_CALL_SPACING", 4*time.Second),
		StallTimeout:      getEnvDuration("JOB_STALL_TIMEOUT", 2*time.Minute),
	}

	if cfg.OCRWorkers < 1 {
		return nil, fmt.Errorf("OCR_WORKERS must be at least 1, got %d", cfg.OCRWorkers)
	}
	if cfg.QueueConcurrency < 1 {
		return nil, fmt.Errorf("QUEUE_CONCURRENCY must be at least 1, got %d", cfg.QueueConcurrency)
	}
	return cfg, nil
}

// DSN builds the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
