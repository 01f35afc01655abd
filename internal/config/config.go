package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all server settings in correct types
type Config struct {
	Port           string
	AllowedOrigins []string
	DataDir        string

	ModelDir       string
	OrtLibraryPath string
	Backend        string
	SwapModel      string

	DetectionSize     int
	DetectCadence     int
	MaxConcurrentJobs int
	DrainWait         time.Duration
}

// Load reads configuration from the environment, applying defaults and
// post-load validation. The only way to get config in the app.
func Load() *Config {
	cfg := &Config{
		Port:              getEnv("PORT", ":8090"),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")),
		DataDir:           getEnv("DATA_DIR", "data"),
		ModelDir:          getEnv("MODEL_DIR", "models"),
		OrtLibraryPath:    getEnv("ORT_LIBRARY_PATH", ""),
		Backend:           getEnv("BACKEND", "auto"),
		SwapModel:         getEnv("SWAP_MODEL", "inswapper"),
		DetectionSize:     getEnvAsInt("DETECTION_SIZE", 384),
		DetectCadence:     getEnvAsInt("DETECT_CADENCE", 4),
		MaxConcurrentJobs: getEnvAsInt("MAX_CONCURRENT_JOBS", 1),
		DrainWait:         time.Duration(getEnvAsInt("DRAIN_WAIT_MS", 1)) * time.Millisecond,
	}

	validate(cfg)

	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	str := getEnv(key, "")
	if val, err := strconv.Atoi(str); err == nil {
		return val
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// validate ensures the server won't crash due to misconfiguration
func validate(cfg *Config) {
	if cfg.MaxConcurrentJobs < 1 {
		log.Println("Warning: MAX_CONCURRENT_JOBS must be at least 1. Resetting to 1.")
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.DetectCadence < 1 {
		log.Println("Warning: DETECT_CADENCE must be at least 1. Resetting to 4.")
		cfg.DetectCadence = 4
	}
	switch cfg.SwapModel {
	case "inswapper", "simswap512":
	default:
		log.Printf("Warning: unknown SWAP_MODEL %q. Resetting to inswapper.", cfg.SwapModel)
		cfg.SwapModel = "inswapper"
	}
	if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
		log.Printf("Notice: creating missing data directory: %s", cfg.DataDir)
		os.MkdirAll(cfg.DataDir, 0o755)
	}
}
