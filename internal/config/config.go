package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Env        string
	Port       string
	JWTSecret  string
	BaseURL    string
	UploadDir  string
	FormsPath  string
	Database   DatabaseConfig
	AdminUser  string
	AdminPass  string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Quiet    bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return &Config{
		Env:       getEnv("APP_ENV", "development"),
		Port:      getEnv("PORT", "5001"),
		JWTSecret: jwtSecret,
		BaseURL:   getEnv("BASE_URL", "http://localhost:5001"),
		UploadDir: getEnv("UPLOAD_DIR", "uploads"),
		FormsPath: getEnv("FORMS_CONFIG", "data/forms_config.json"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "cmtest"),
			Quiet:    getEnv("DB_QUIET", "false") == "true",
		},
		AdminUser: getEnv("ADMIN_USERNAME", "admin"),
		AdminPass: os.Getenv("ADMIN_PASSWORD"),
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
