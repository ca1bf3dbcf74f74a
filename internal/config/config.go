package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	APIPort  string
	LogLevel string

	RegistryURL          string
	RegistryPageSize     int
	RegistryMaxStudies   int
	RegistryStatuses     []string
	RegistryRateLimitRPS float64

	ClassifierURL  string
	SearchPageSize int

	LLMProvider         string
	OllamaURL           string
	OllamaGenModel      string
	OllamaChatModel     string
	AnthropicAPIKey     string
	AnthropicModel      string
	TaxonomyChunkSize   int
	LLMRetryMaxAttempts int

	PostgresDSN string

	NATSURL     string
	NATSSubject string

	APIRateLimitRPS   float64
	APIRateLimitBurst int
	APIMaxInFlight    int

	OTelEnabled  bool
	OTelEndpoint string

	ChatWSURL        string
	ChatSharedSocket bool
	ChatUseInitFrame bool

	WorkerMetricsPort string
}

// Load reads configuration from the environment, a .env file and the
// optional YAML file named by CONFIG_FILE. Environment wins over YAML,
// YAML wins over defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("dotenv_load_failed", "error", err)
	}

	src := source{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		values, err := LoadFile(path)
		if err != nil {
			slog.Warn("config_file_load_failed", "path", path, "error", err)
		} else {
			src.file = values
		}
	}
	return src.load()
}

// LoadFile parses a flat YAML mapping of config keys to scalar values.
func LoadFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	out := make(map[string]string, len(doc))
	for key, value := range doc {
		switch v := value.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			out[strings.ToUpper(key)] = strings.Join(parts, ",")
		default:
			out[strings.ToUpper(key)] = fmt.Sprint(v)
		}
	}
	return out, nil
}

type source struct {
	file map[string]string
}

func (s source) load() Config {
	return Config{
		APIPort:  s.mustEnv("API_PORT", "8080"),
		LogLevel: s.mustEnv("LOG_LEVEL", "info"),

		RegistryURL:          s.mustEnv("REGISTRY_URL", "https://clinicaltrials.gov/api/v2/studies"),
		RegistryPageSize:     s.mustEnvInt("REGISTRY_PAGE_SIZE", 100),
		RegistryMaxStudies:   s.mustEnvInt("REGISTRY_MAX_STUDIES", 500),
		RegistryStatuses:     s.mustEnvList("REGISTRY_STATUSES", []string{"RECRUITING"}),
		RegistryRateLimitRPS: s.mustEnvFloat("REGISTRY_RATE_LIMIT_RPS", 5),

		ClassifierURL:  s.mustEnv("CLASSIFIER_URL", ""),
		SearchPageSize: s.mustEnvInt("SEARCH_PAGE_SIZE", 10),

		LLMProvider:         strings.ToLower(s.mustEnv("LLM_PROVIDER", "ollama")),
		OllamaURL:           s.mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaGenModel:      s.mustEnv("OLLAMA_GEN_MODEL", "llama3.1:8b"),
		OllamaChatModel:     s.mustEnv("OLLAMA_CHAT_MODEL", "llama3.1:8b"),
		AnthropicAPIKey:     s.mustEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:      s.mustEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		TaxonomyChunkSize:   s.mustEnvInt("TAXONOMY_CHUNK_SIZE", 400),
		LLMRetryMaxAttempts: s.mustEnvInt("LLM_RETRY_MAX_ATTEMPTS", 3),

		PostgresDSN: s.mustEnv("POSTGRES_DSN", ""),

		NATSURL:     s.mustEnv("NATS_URL", ""),
		NATSSubject: s.mustEnv("NATS_SUBJECT", "trialmatch.search.completed"),

		APIRateLimitRPS:   s.mustEnvFloat("API_RATE_LIMIT_RPS", 20),
		APIRateLimitBurst: s.mustEnvInt("API_RATE_LIMIT_BURST", 40),
		APIMaxInFlight:    s.mustEnvInt("API_MAX_IN_FLIGHT", 64),

		OTelEnabled:  s.mustEnvBool("OTEL_ENABLED", false),
		OTelEndpoint: s.mustEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),

		ChatWSURL:        s.mustEnv("CHAT_WS_URL", "http://localhost:8080"),
		ChatSharedSocket: s.mustEnvBool("CHAT_SHARED_SOCKET", false),
		ChatUseInitFrame: s.mustEnvBool("CHAT_USE_INIT_FRAME", false),

		WorkerMetricsPort: s.mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s source) mustEnv(key, fallback string) string {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	return v
}

func (s source) mustEnvInt(key string, fallback int) int {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (s source) mustEnvFloat(key string, fallback float64) float64 {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func (s source) mustEnvBool(key string, fallback bool) bool {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) mustEnvList(key string, fallback []string) []string {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
