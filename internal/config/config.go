package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	SMTP     SMTPConfig
	WhatsApp WhatsAppConfig
	Pipeline PipelineConfig
	Health   HealthConfig
	Ai       AIConfig
	Auth     AuthConfig
	Tracing  TracingConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	EventLogFilePath   string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	InstanceID         string
}

type DatabaseConfig struct {
	Connection      string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	SlowThreshold   time.Duration
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	SampleRatio float64
}

type SMTPConfig struct {
	Host        string
	Port        int
	Email       string
	Password    string
	SenderName  string
	AlertEmails []string
}

type WhatsAppConfig struct {
	BridgeURL        string
	BridgeToken      string
	FallbackEnabled  bool
	FallbackPrefix   string
	StartupTimeout   time.Duration
	TeardownTimeout  time.Duration
	CommandTimeout   time.Duration
	BridgePingPeriod time.Duration
	CredentialSecret string
	AutoConnect      bool
	QRSize           int
}

type PipelineConfig struct {
	DedupWindow        time.Duration
	DedupBackend       string // "memory" or "redis"
	StaleAfter         time.Duration
	SideEffectDelay    time.Duration
	Maintenance        bool
	SerializePerSender bool
	FallbackReply      string
	PacingMin          time.Duration
	PacingMax          time.Duration
	PacingWPM          int
	PacingJitter       time.Duration
	ScoringTTL         time.Duration
}

type HealthConfig struct {
	FailureThreshold int
	ReconnectDelay   time.Duration
	Window           time.Duration
	MaxEvents        int
}

type AIConfig struct {
	LLMProvider    string // "ollama" or "openai"
	LLMModel       string
	LLMBaseURL     string
	LLMAPIKey      string
	SystemPrompt   string
	HistoryTurns   int
	Temperature    float64
	WhisperBaseURL string
	WhisperAPIKey  string
	WhisperModel   string
	WhisperLang    string
}

type AuthConfig struct {
	JWTSecret            string
	TokenTTL             time.Duration
	OperatorUser         string
	OperatorPasswordHash string // bcrypt
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	host, _ := os.Hostname()

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log"),
			EventLogFilePath:   getEnv("EVENT_LOG_FILE_PATH", "events.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			InstanceID:         getEnv("INSTANCE_ID", host),
		},
		Database: DatabaseConfig{
			Connection:      getEnv("DB_CONNECTION_STRING", ""),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
			SlowThreshold:   getEnvAsDuration("DB_SLOW_THRESHOLD", time.Second),
		},
		SMTP: SMTPConfig{
			Host:        getEnv("SMTP_HOST", ""),
			Port:        getEnvAsInt("SMTP_PORT", 587),
			Email:       getEnv("SMTP_EMAIL", ""),
			Password:    getEnv("SMTP_PASSWORD", ""),
			SenderName:  getEnv("SMTP_SENDER_NAME", "SalesBot"),
			AlertEmails: getEnvAsList("HEALTH_ALERT_EMAILS"),
		},
		WhatsApp: WhatsAppConfig{
			BridgeURL:        getEnv("WA_BRIDGE_URL", "ws://localhost:3001/bridge"),
			BridgeToken:      getEnv("WA_BRIDGE_TOKEN", ""),
			FallbackEnabled:  getEnvAsBool("WA_FALLBACK_ENABLED", true),
			FallbackPrefix:   getEnv("WA_FALLBACK_PREFIX", "wa.fallback"),
			StartupTimeout:   getEnvAsDuration("WA_STARTUP_TIMEOUT", 60*time.Second),
			TeardownTimeout:  getEnvAsDuration("WA_TEARDOWN_TIMEOUT", 10*time.Second),
			CommandTimeout:   getEnvAsDuration("WA_COMMAND_TIMEOUT", 30*time.Second),
			BridgePingPeriod: getEnvAsDuration("WA_BRIDGE_PING_PERIOD", 30*time.Second),
			CredentialSecret: getEnv("WA_CREDENTIAL_SECRET", ""),
			AutoConnect:      getEnvAsBool("WA_AUTO_CONNECT", true),
			QRSize:           getEnvAsInt("WA_QR_SIZE", 256),
		},
		Pipeline: PipelineConfig{
			DedupWindow:        getEnvAsDuration("PIPELINE_DEDUP_WINDOW", 15*time.Second),
			DedupBackend:       getEnv("PIPELINE_DEDUP_BACKEND", "memory"),
			StaleAfter:         getEnvAsDuration("PIPELINE_STALE_AFTER", time.Hour),
			SideEffectDelay:    getEnvAsDuration("PIPELINE_SIDE_EFFECT_DELAY", time.Second),
			Maintenance:        getEnvAsBool("PIPELINE_MAINTENANCE", false),
			SerializePerSender: getEnvAsBool("PIPELINE_SERIALIZE_PER_SENDER", false),
			FallbackReply:      getEnv("PIPELINE_FALLBACK_REPLY", ""),
			PacingMin:          getEnvAsDuration("PACING_MIN", 2*time.Second),
			PacingMax:          getEnvAsDuration("PACING_MAX", 8*time.Second),
			PacingWPM:          getEnvAsInt("PACING_WPM", 40),
			PacingJitter:       getEnvAsDuration("PACING_JITTER", time.Second),
			ScoringTTL:         getEnvAsDuration("SCORING_CONTEXT_TTL", 7*24*time.Hour),
		},
		Health: HealthConfig{
			FailureThreshold: getEnvAsInt("HEALTH_FAILURE_THRESHOLD", 3),
			ReconnectDelay:   getEnvAsDuration("HEALTH_RECONNECT_DELAY", 5*time.Second),
			Window:           getEnvAsDuration("HEALTH_WINDOW", 24*time.Hour),
			MaxEvents:        getEnvAsInt("HEALTH_MAX_EVENTS", 1000),
		},
		Ai: AIConfig{
			LLMProvider:    getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:       getEnv("LLM_MODEL", "llama3"),
			LLMBaseURL:     getEnv("LLM_BASE_URL", "http://localhost:11434"),
			LLMAPIKey:      getEnv("LLM_API_KEY", ""),
			SystemPrompt:   getEnv("LLM_SYSTEM_PROMPT", ""),
			HistoryTurns:   getEnvAsInt("LLM_HISTORY_TURNS", 10),
			Temperature:    getEnvAsFloat("LLM_TEMPERATURE", 0.7),
			WhisperBaseURL: getEnv("WHISPER_BASE_URL", ""),
			WhisperAPIKey:  getEnv("WHISPER_API_KEY", ""),
			WhisperModel:   getEnv("WHISPER_MODEL", "whisper-1"),
			WhisperLang:    getEnv("WHISPER_LANGUAGE", "pt"),
		},
		Auth: AuthConfig{
			JWTSecret:            getEnv("JWT_SECRET", ""),
			TokenTTL:             getEnvAsDuration("JWT_TOKEN_TTL", 24*time.Hour),
			OperatorUser:         getEnv("OPERATOR_USER", "admin"),
			OperatorPasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvAsBool("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "salesbot-wa-backend"),
			SampleRatio: getEnvAsFloat("OTEL_SAMPLE_RATIO", 1),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("15s") or bare milliseconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if d, err := time.ParseDuration(strValue); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
