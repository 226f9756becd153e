// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq client and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// EmailConfig provides settings for email sending.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetBrevoAPIKey() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
}

// WhatsAppConfig provides settings for the WhatsApp/SMS gateway.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppDeviceID() string
}

// TelephonyConfig provides settings for the telephony provider.
type TelephonyConfig interface {
	GetTelephonyBaseURL() string
	GetTelephonyAPIKey() string
	GetTelephonyCallerID() string
	GetTelephonyWebhookSecret() string
	GetTelephonyStatusCallbackURL() string
	GetPhoneDefaultRegion() string
}

// TranscriptionConfig provides settings for the live transcription socket.
type TranscriptionConfig interface {
	GetTranscriptionWSURL() string
	GetTranscriptionAPIKey() string
	GetAdvisoryConcurrency() int
}

// AdvisorConfig provides settings for the model-backed advisory analyzer.
type AdvisorConfig interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
	IsGeminiEnabled() bool
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	GetMinioBucketTranscripts() string
	IsMinIOEnabled() bool
}

// NurturingConfig provides settings for the nurturing scheduler.
type NurturingConfig interface {
	GetSequencesFile() string
	GetNoAnswerSequenceID() string
	GetBookingURL() string
	GetResyncInterval() time.Duration
}

// EndpointLeaseConfig provides settings for the cross-instance call lease.
type EndpointLeaseConfig interface {
	GetRedisURL() string
	GetCallLeaseTTL() time.Duration
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                     string
	HTTPAddr                string
	DatabaseURL             string
	MigrateOnStart          bool
	JWTAccessSecret         string
	CORSAllowAll            bool
	CORSOrigins             []string
	CORSAllowCreds          bool
	RedisURL                string
	RedisTLSInsecure        bool
	AsynqQueueName          string
	AsynqConcurrency        int
	CallLeaseTTL            time.Duration
	EmailEnabled            bool
	BrevoAPIKey             string
	EmailFromName           string
	EmailFromAddress        string
	SMTPHost                string
	SMTPPort                int
	SMTPUsername            string
	SMTPPassword            string
	WhatsAppURL             string
	WhatsAppKey             string
	WhatsAppDeviceID        string
	TelephonyBaseURL        string
	TelephonyAPIKey         string
	TelephonyCallerID       string
	TelephonyWebhookSecret  string
	TelephonyStatusCallback string
	PhoneDefaultRegion      string
	TranscriptionWSURL      string
	TranscriptionAPIKey     string
	AdvisoryConcurrency     int
	GeminiAPIKey            string
	GeminiModel             string
	MinIOEndpoint           string
	MinIOAccessKey          string
	MinIOSecretKey          string
	MinIOUseSSL             bool
	MinIOMaxFileSize        int64
	MinioBucketTranscripts  string
	SequencesFile           string
	NoAnswerSequenceID      string
	BookingURL              string
	ResyncInterval          time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string            { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool      { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string      { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int       { return c.AsynqConcurrency }
func (c *Config) GetCallLeaseTTL() time.Duration { return c.CallLeaseTTL }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetBrevoAPIKey() string      { return c.BrevoAPIKey }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppURL() string      { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string      { return c.WhatsAppKey }
func (c *Config) GetWhatsAppDeviceID() string { return c.WhatsAppDeviceID }

// TelephonyConfig implementation
func (c *Config) GetTelephonyBaseURL() string           { return c.TelephonyBaseURL }
func (c *Config) GetTelephonyAPIKey() string            { return c.TelephonyAPIKey }
func (c *Config) GetTelephonyCallerID() string          { return c.TelephonyCallerID }
func (c *Config) GetTelephonyWebhookSecret() string     { return c.TelephonyWebhookSecret }
func (c *Config) GetTelephonyStatusCallbackURL() string { return c.TelephonyStatusCallback }
func (c *Config) GetPhoneDefaultRegion() string         { return c.PhoneDefaultRegion }

// TranscriptionConfig implementation
func (c *Config) GetTranscriptionWSURL() string  { return c.TranscriptionWSURL }
func (c *Config) GetTranscriptionAPIKey() string { return c.TranscriptionAPIKey }
func (c *Config) GetAdvisoryConcurrency() int    { return c.AdvisoryConcurrency }

// AdvisorConfig implementation
func (c *Config) GetGeminiAPIKey() string { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string  { return c.GeminiModel }
func (c *Config) IsGeminiEnabled() bool   { return c.GeminiAPIKey != "" }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string          { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string         { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string         { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool              { return c.MinIOUseSSL }
func (c *Config) GetMinIOMaxFileSize() int64        { return c.MinIOMaxFileSize }
func (c *Config) GetMinioBucketTranscripts() string { return c.MinioBucketTranscripts }
func (c *Config) IsMinIOEnabled() bool              { return c.MinIOEndpoint != "" }

// NurturingConfig implementation
func (c *Config) GetSequencesFile() string      { return c.SequencesFile }
func (c *Config) GetNoAnswerSequenceID() string { return c.NoAnswerSequenceID }
func (c *Config) GetBookingURL() string         { return c.BookingURL }
func (c *Config) GetResyncInterval() time.Duration {
	if c.ResyncInterval <= 0 {
		return time.Minute
	}
	return c.ResyncInterval
}

// Load reads configuration from the environment, loading a .env file first
// when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	brevoAPIKey := getEnv("BREVO_API_KEY", "")
	smtpHost := getEnv("SMTP_HOST", "")
	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true")

	cfg := &Config{
		Env:                     getEnv("APP_ENV", "development"),
		HTTPAddr:                getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		MigrateOnStart:          strings.EqualFold(getEnv("MIGRATE_ON_START", "true"), "true"),
		JWTAccessSecret:         getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:            corsAllowAll,
		CORSOrigins:             corsOrigins,
		CORSAllowCreds:          strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:                getEnv("REDIS_URL", ""),
		RedisTLSInsecure:        strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:          getEnv("ASYNQ_QUEUE", "engagement"),
		AsynqConcurrency:        mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		CallLeaseTTL:            mustDuration(getEnv("CALL_LEASE_TTL", "4h")),
		EmailEnabled:            emailEnabled && (brevoAPIKey != "" || smtpHost != ""),
		BrevoAPIKey:             brevoAPIKey,
		EmailFromName:           getEnv("EMAIL_FROM_NAME", "Back Office"),
		EmailFromAddress:        getEnv("EMAIL_FROM_ADDRESS", ""),
		SMTPHost:                smtpHost,
		SMTPPort:                mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:            getEnv("SMTP_USERNAME", ""),
		SMTPPassword:            getEnv("SMTP_PASSWORD", ""),
		WhatsAppURL:             getEnv("WHATSAPP_URL", ""),
		WhatsAppKey:             getEnv("WHATSAPP_KEY", ""),
		WhatsAppDeviceID:        getEnv("WHATSAPP_DEVICE_ID", ""),
		TelephonyBaseURL:        getEnv("TELEPHONY_BASE_URL", ""),
		TelephonyAPIKey:         getEnv("TELEPHONY_API_KEY", ""),
		TelephonyCallerID:       getEnv("TELEPHONY_CALLER_ID", ""),
		TelephonyWebhookSecret:  getEnv("TELEPHONY_WEBHOOK_SECRET", ""),
		TelephonyStatusCallback: getEnv("TELEPHONY_STATUS_CALLBACK_URL", ""),
		PhoneDefaultRegion:      getEnv("PHONE_DEFAULT_REGION", "FR"),
		TranscriptionWSURL:      getEnv("TRANSCRIPTION_WS_URL", ""),
		TranscriptionAPIKey:     getEnv("TRANSCRIPTION_API_KEY", ""),
		AdvisoryConcurrency:     mustInt(getEnv("ADVISORY_CONCURRENCY", "2")),
		GeminiAPIKey:            getEnv("GEMINI_API_KEY", ""),
		GeminiModel:             getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		MinIOEndpoint:           getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:          getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:          getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:             strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOMaxFileSize:        mustInt64(getEnv("MINIO_MAX_FILE_SIZE", "10485760")),
		MinioBucketTranscripts:  getEnv("MINIO_BUCKET_TRANSCRIPTS", "call-transcripts"),
		SequencesFile:           getEnv("NURTURING_SEQUENCES_FILE", "sequences.yaml"),
		NoAnswerSequenceID:      getEnv("NURTURING_NO_ANSWER_SEQUENCE", "no-answer-j1-j3-j7"),
		BookingURL:              strings.TrimSpace(getEnv("NURTURING_BOOKING_URL", "")),
		ResyncInterval:          mustDuration(getEnv("NURTURING_RESYNC_INTERVAL", "1m")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.EmailEnabled && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.TelephonyBaseURL != "" && cfg.TelephonyWebhookSecret == "" {
		return nil, fmt.Errorf("TELEPHONY_WEBHOOK_SECRET is required when TELEPHONY_BASE_URL is set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
