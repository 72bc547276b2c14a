package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// This function will Load the ENVIRONMENT VARIABLES from .env if GO_ENV variable is not set
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		err := godotenv.Load()
		if err != nil {
			return err
		}
	}

	return nil
}

// Commit policies accepted by COMMIT_POLICY
const (
	CommitPolicyStrict     = "strict"
	CommitPolicyPermissive = "permissive"
)

// Completed-session retention modes accepted by SESSION_RETENTION
const (
	RetentionKeep    = "keep"
	RetentionArchive = "archive"
	RetentionDelete  = "delete"
)

type EnvironmentVariable struct {
	// All variables
	GO_ENV       string
	DB_DRIVER    string // postgres or mysql
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string
	PORT         int
	// WordPress database (where courses get committed)
	WP_DB_USER_NAME string
	WP_DB_PASSWORD  string
	WP_DB_NAME      string
	WP_DB_HOST      string
	WP_DB_PORT      string
	WP_TABLE_PREFIX string
	ALLOWED_ORIGINS string
	CRON_ENABLED    bool
	// JWT Configuration
	JWT_SECRET string
	JWT_ISSUER string
	// Redis Configuration
	REDIS_URL string
	// AI inference
	MODEL_ACCESS_KEY   string
	INFERENCE_BASE_URL string
	INFERENCE_MODEL    string
	AI_TIMEOUT         time.Duration
	// Conversation behaviour
	COMMIT_POLICY       string
	EMPTY_SESSION_GRACE time.Duration
	SESSION_RETENTION   string
	// DigitalOcean Spaces (session archive)
	DO_SPACES_KEY      string
	DO_SPACES_SECRET   string
	DO_SPACES_BUCKET   string
	DO_SPACES_REGION   string
	DO_SPACES_ENDPOINT string
	ARCHIVE_PASSPHRASE string
}

func Get() (*EnvironmentVariable, error) {

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		port = 8080
	}

	aiTimeout := 45 * time.Second
	if secs, err := strconv.Atoi(os.Getenv("AI_TIMEOUT_SECONDS")); err == nil && secs > 0 {
		aiTimeout = time.Duration(secs) * time.Second
	}

	grace := 10 * time.Minute
	if mins, err := strconv.Atoi(os.Getenv("EMPTY_SESSION_GRACE_MINUTES")); err == nil && mins >= 0 {
		grace = time.Duration(mins) * time.Minute
	}

	commitPolicy := strings.ToLower(os.Getenv("COMMIT_POLICY"))
	if commitPolicy != CommitPolicyPermissive {
		commitPolicy = CommitPolicyStrict
	}

	retention := strings.ToLower(os.Getenv("SESSION_RETENTION"))
	switch retention {
	case RetentionArchive, RetentionDelete:
	default:
		retention = RetentionKeep
	}

	envVariables := &EnvironmentVariable{
		GO_ENV:       os.Getenv("GO_ENV"),
		DB_DRIVER:    getOrDefault("DB_DRIVER", "postgres"),
		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      getOrDefault("DB_HOST", "localhost"),
		DB_PORT:      getOrDefault("DB_PORT", "5432"),
		DB_SSL_MODE:  getOrDefault("DB_SSL_MODE", "disable"),
		PORT:         port,
		// WordPress
		WP_DB_USER_NAME: os.Getenv("WP_DB_USER_NAME"),
		WP_DB_PASSWORD:  os.Getenv("WP_DB_PASSWORD"),
		WP_DB_NAME:      os.Getenv("WP_DB_NAME"),
		WP_DB_HOST:      getOrDefault("WP_DB_HOST", "localhost"),
		WP_DB_PORT:      getOrDefault("WP_DB_PORT", "3306"),
		WP_TABLE_PREFIX: getOrDefault("WP_TABLE_PREFIX", "wp_"),
		ALLOWED_ORIGINS: getOrDefault("ALLOWED_ORIGINS", "http://localhost:8000"),
		CRON_ENABLED:    os.Getenv("CRON_ENABLED") != "false", // Default to enabled
		// JWT
		JWT_SECRET: os.Getenv("JWT_SECRET"),
		JWT_ISSUER: getOrDefault("JWT_ISSUER", "memberpress-courses-copilot"),
		// Redis
		REDIS_URL: os.Getenv("REDIS_URL"),
		// AI
		MODEL_ACCESS_KEY:   os.Getenv("MODEL_ACCESS_KEY"),
		INFERENCE_BASE_URL: os.Getenv("INFERENCE_BASE_URL"),
		INFERENCE_MODEL:    os.Getenv("INFERENCE_MODEL"),
		AI_TIMEOUT:         aiTimeout,
		// Conversation
		COMMIT_POLICY:       commitPolicy,
		EMPTY_SESSION_GRACE: grace,
		SESSION_RETENTION:   retention,
		// DigitalOcean Spaces
		DO_SPACES_KEY:      os.Getenv("DO_SPACES_KEY"),
		DO_SPACES_SECRET:   os.Getenv("DO_SPACES_SECRET"),
		DO_SPACES_BUCKET:   os.Getenv("DO_SPACES_BUCKET"),
		DO_SPACES_REGION:   os.Getenv("DO_SPACES_REGION"),
		DO_SPACES_ENDPOINT: os.Getenv("DO_SPACES_ENDPOINT"),
		ARCHIVE_PASSPHRASE: os.Getenv("ARCHIVE_PASSPHRASE"),
	}

	return envVariables, nil
}

// SpacesConfigured reports whether every Spaces setting needed for archiving is present
func (e *EnvironmentVariable) SpacesConfigured() bool {
	return e.DO_SPACES_KEY != "" && e.DO_SPACES_SECRET != "" && e.DO_SPACES_BUCKET != "" &&
		e.DO_SPACES_ENDPOINT != "" && e.ARCHIVE_PASSPHRASE != ""
}

func getOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
