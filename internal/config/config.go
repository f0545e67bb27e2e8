package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Transport and session material
	Transport           string
	TransportSidecarURL string
	SessionStore        string
	SessionDir          string
	SessionBucket       string
	SessionPrefix       string
	ReconnectBackoff    time.Duration
	ConnectTimeout      time.Duration

	// Outbound
	BulkMaxContacts int
	BulkMinDelay    time.Duration

	// Automation
	ConversationWindow     int
	AutomationWorkers      int
	AutomationQueueURL     string
	AutomationSystemPrompt string
	ResponderTimeout       time.Duration
	Responder              string
	BedrockModelID         string
	GeminiAPIKey           string
	GeminiModelID          string
	EscalateTerms          []string
	ResolvedTerms          []string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Domain events fan-out
	EventsQueueURL string

	// Operator notifications
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	EscalationEmails  []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		Transport:           strings.ToLower(strings.TrimSpace(getEnv("TRANSPORT", "memory"))),
		TransportSidecarURL: getEnv("TRANSPORT_SIDECAR_URL", ""),
		SessionStore:        strings.ToLower(strings.TrimSpace(getEnv("SESSION_STORE", "file"))),
		SessionDir:          getEnv("SESSION_DIR", "./data/sessions"),
		SessionBucket:       getEnv("SESSION_BUCKET", ""),
		SessionPrefix:       getEnv("SESSION_PREFIX", "sessions"),
		ReconnectBackoff:    getEnvAsDuration("RECONNECT_BACKOFF", 5*time.Second),
		ConnectTimeout:      getEnvAsDuration("CONNECT_TIMEOUT", 30*time.Second),

		BulkMaxContacts: getEnvAsInt("BULK_MAX_CONTACTS", 100),
		BulkMinDelay:    getEnvAsDuration("BULK_MIN_DELAY", 2*time.Second),

		ConversationWindow:     getEnvAsInt("CONVERSATION_WINDOW", 10),
		AutomationWorkers:      getEnvAsInt("AUTOMATION_WORKERS", 2),
		AutomationQueueURL:     getEnv("AUTOMATION_QUEUE_URL", ""),
		AutomationSystemPrompt: getEnv("AUTOMATION_SYSTEM_PROMPT", ""),
		ResponderTimeout:       getEnvAsDuration("RESPONDER_TIMEOUT", 30*time.Second),
		Responder:              strings.ToLower(strings.TrimSpace(getEnv("RESPONDER", "auto"))),
		BedrockModelID:         getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:           getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:          getEnv("GEMINI_MODEL_ID", "gemini-1.5-flash"),
		EscalateTerms:          getEnvAsList("ESCALATE_TERMS"),
		ResolvedTerms:          getEnvAsList("RESOLVED_TERMS"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		EventsQueueURL: getEnv("EVENTS_QUEUE_URL", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Chatlink"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		EscalationEmails:  getEnvAsList("ESCALATION_EMAILS"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
