package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port         string
	DatabasePath string
	LogLevel     string
}

var Cfg *AppConfig

// LoadConfig reads a .env file when present, then the OS environment,
// falling back to defaults.
func LoadConfig() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on OS environment variables and defaults")
	}

	Cfg = &AppConfig{
		Port:         getEnv("KIKOBA_PORT", "8080"),
		DatabasePath: getEnv("KIKOBA_DB_PATH", "kikoba.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
