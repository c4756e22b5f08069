package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string
	PublicURL string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Rollbar       RollbarConfig
	Enrollment    EnrollmentConfig
	Documents     DocumentsConfig
	Imports       ImportsConfig
	Notifications NotificationsConfig
	Reminders     RemindersConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig is optional; an empty Host disables redis-backed features.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

type RollbarConfig struct {
	Token   string
	Version string
}

// EnrollmentConfig tunes registration number issuance and capacity rules.
type EnrollmentConfig struct {
	RegistrationPrefix string
	MaxIssueAttempts   int
	EnforceCapacity    bool
}

// DocumentsConfig describes the global document upload policy.
type DocumentsConfig struct {
	StorageDir        string
	MaxFileSizeBytes  int64
	AllowedExtensions []string
	AllowedMIMEs      []string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
}

// ImportsConfig controls the bulk student import pipeline.
type ImportsConfig struct {
	MaxFileSizeBytes  int64
	AllowedExtensions []string
	TemporaryPassword string
}

// NotificationsConfig configures deferred email delivery.
type NotificationsConfig struct {
	EmailEnabled   bool
	SendGridAPIKey string
	FromName       string
	FromEmail      string
	Workers        int
	Retries        int
	QueueSize      int
}

// RemindersConfig governs staff reminders raised from the admin dashboard.
type RemindersConfig struct {
	PendingDocumentsThreshold int
	DedupTTL                  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.PublicURL = strings.TrimRight(v.GetString("PUBLIC_URL"), "/")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Rollbar = RollbarConfig{
		Token:   v.GetString("ROLLBAR_TOKEN"),
		Version: v.GetString("BUILD_VERSION"),
	}

	maxAttempts := v.GetInt("REGISTRATION_MAX_ATTEMPTS")
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	cfg.Enrollment = EnrollmentConfig{
		RegistrationPrefix: strings.ToUpper(strings.TrimSpace(v.GetString("REGISTRATION_PREFIX"))),
		MaxIssueAttempts:   maxAttempts,
		EnforceCapacity:    v.GetBool("ENFORCE_PROGRAM_CAPACITY"),
	}

	maxDocSize := v.GetInt64("DOCUMENTS_MAX_FILE_SIZE")
	if maxDocSize <= 0 {
		maxDocSize = 5 * 1024 * 1024
	}
	cfg.Documents = DocumentsConfig{
		StorageDir:        v.GetString("DOCUMENTS_STORAGE_DIR"),
		MaxFileSizeBytes:  maxDocSize,
		AllowedExtensions: lowerAll(splitAndTrim(v.GetString("DOCUMENTS_ALLOWED_EXTENSIONS"))),
		AllowedMIMEs:      splitAndTrim(v.GetString("DOCUMENTS_ALLOWED_MIME_TYPES")),
		SignedURLSecret:   v.GetString("DOCUMENTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("DOCUMENTS_SIGNED_URL_TTL"), 15*time.Minute),
	}

	maxImportSize := v.GetInt64("IMPORTS_MAX_FILE_SIZE")
	if maxImportSize <= 0 {
		maxImportSize = 10 * 1024 * 1024
	}
	cfg.Imports = ImportsConfig{
		MaxFileSizeBytes:  maxImportSize,
		AllowedExtensions: lowerAll(splitAndTrim(v.GetString("IMPORTS_ALLOWED_EXTENSIONS"))),
		TemporaryPassword: v.GetString("IMPORTS_TEMPORARY_PASSWORD"),
	}

	cfg.Notifications = NotificationsConfig{
		EmailEnabled:   v.GetBool("NOTIFICATIONS_EMAIL_ENABLED"),
		SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
		FromName:       v.GetString("NOTIFICATIONS_FROM_NAME"),
		FromEmail:      v.GetString("NOTIFICATIONS_FROM_EMAIL"),
		Workers:        v.GetInt("NOTIFICATIONS_WORKERS"),
		Retries:        v.GetInt("NOTIFICATIONS_RETRIES"),
		QueueSize:      v.GetInt("NOTIFICATIONS_QUEUE_SIZE"),
	}

	cfg.Reminders = RemindersConfig{
		PendingDocumentsThreshold: v.GetInt("REMINDER_PENDING_DOCUMENTS_THRESHOLD"),
		DedupTTL:                  parseDuration(v.GetString("REMINDER_DEDUP_TTL"), 12*time.Hour),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("PUBLIC_URL", "http://localhost:8080")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "iut_admissions")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "iut-admissions")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ROLLBAR_TOKEN", "")
	v.SetDefault("BUILD_VERSION", "dev")

	v.SetDefault("REGISTRATION_PREFIX", "IUTESSA")
	v.SetDefault("REGISTRATION_MAX_ATTEMPTS", 3)
	v.SetDefault("ENFORCE_PROGRAM_CAPACITY", true)

	v.SetDefault("DOCUMENTS_STORAGE_DIR", "./media/documents")
	v.SetDefault("DOCUMENTS_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("DOCUMENTS_ALLOWED_EXTENSIONS", ".pdf,.jpg,.jpeg,.png")
	v.SetDefault("DOCUMENTS_ALLOWED_MIME_TYPES", "application/pdf,image/jpeg,image/png")
	v.SetDefault("DOCUMENTS_SIGNED_URL_SECRET", "dev_documents_secret")
	v.SetDefault("DOCUMENTS_SIGNED_URL_TTL", "15m")

	v.SetDefault("IMPORTS_MAX_FILE_SIZE", 10*1024*1024)
	v.SetDefault("IMPORTS_ALLOWED_EXTENSIONS", ".xlsx,.csv")
	v.SetDefault("IMPORTS_TEMPORARY_PASSWORD", "password123")

	v.SetDefault("NOTIFICATIONS_EMAIL_ENABLED", false)
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("NOTIFICATIONS_FROM_NAME", "IUT Admissions")
	v.SetDefault("NOTIFICATIONS_FROM_EMAIL", "no-reply@iut.local")
	v.SetDefault("NOTIFICATIONS_WORKERS", 2)
	v.SetDefault("NOTIFICATIONS_RETRIES", 3)
	v.SetDefault("NOTIFICATIONS_QUEUE_SIZE", 256)

	v.SetDefault("REMINDER_PENDING_DOCUMENTS_THRESHOLD", 10)
	v.SetDefault("REMINDER_DEDUP_TTL", "12h")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

func lowerAll(values []string) []string {
	for i, value := range values {
		values[i] = strings.ToLower(value)
	}
	return values
}
