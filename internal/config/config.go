// Package config handles loading and validating the homenlu configuration.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration for the homenlu daemon.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Transports TransportsConfig  `mapstructure:"transports"`
	NLU        NLUConfig         `mapstructure:"nlu"`
	Embedding  EmbeddingConfig   `mapstructure:"embedding"`
	PGVector   PGVectorConfig    `mapstructure:"pgvector"`
	Targets    map[string]Target `mapstructure:"targets"`
	Logging    LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

// TransportsConfig holds the configuration for each transport layer.
type TransportsConfig struct {
	GRPC GRPCConfig `mapstructure:"grpc"`
	HTTP HTTPConfig `mapstructure:"http"`
	MQTT MQTTConfig `mapstructure:"mqtt"`
}

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures the HTTP/WebSocket transport.
type HTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
	Swagger bool `mapstructure:"swagger"`
}

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
}

// NLUConfig selects the default engines and retrieval gating.
type NLUConfig struct {
	Tagger              string             `mapstructure:"tagger"`    // "lexicon" or "remote"
	Retriever           string             `mapstructure:"retriever"` // "memory", "pgvector" or "none"
	SimilarityThreshold float64            `mapstructure:"similarity_threshold"`
	TopK                int                `mapstructure:"top_k"`
	KnowledgeBase       string             `mapstructure:"knowledge_base"` // JSONL path
	Remote              RemoteTaggerConfig `mapstructure:"remote"`
	Lexicon             LexiconConfig      `mapstructure:"lexicon"`
}

// RemoteTaggerConfig points at an HTTP sequence-tagging service.
type RemoteTaggerConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LexiconConfig extends the built-in gazetteer of the lexicon tagger.
type LexiconConfig struct {
	DeviceTypes []string `mapstructure:"device_types"`
	Locations   []string `mapstructure:"locations"`
	Actions     []string `mapstructure:"actions"`
	Parameters  []string `mapstructure:"parameters"`
}

// EmbeddingConfig selects the embedder used by the retrievers.
type EmbeddingConfig struct {
	Backend string       `mapstructure:"backend"` // "ngram", "ollama" or "openai"
	Ngram   NgramConfig  `mapstructure:"ngram"`
	Ollama  OllamaConfig `mapstructure:"ollama"`
	OpenAI  OpenAIConfig `mapstructure:"openai"`
}

// NgramConfig configures the offline hashed n-gram embedder.
type NgramConfig struct {
	Dimensions int `mapstructure:"dimensions"`
}

// OllamaConfig holds Ollama embedding settings.
type OllamaConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
}

// OpenAIConfig holds settings for an OpenAI-compatible embeddings API.
type OpenAIConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// PGVectorConfig configures the PostgreSQL knowledge base.
type PGVectorConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// Target defines a downstream service in the config file.
type Target struct {
	Endpoint string `mapstructure:"endpoint"`
	Protocol string `mapstructure:"protocol"`
	Token    string `mapstructure:"token"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from file, environment variables, and defaults.
// A .env file in the working directory is loaded into the environment first.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./homenlu.yaml, ./configs/homenlu.yaml, /etc/homenlu/homenlu.yaml.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("homenlu")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/homenlu")
	}

	// Environment variables: HOMENLU_NLU_TAGGER, HOMENLU_PGVECTOR_DSN, etc.
	v.SetEnvPrefix("HOMENLU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${OPENAI_API_KEY}")
	cfg.Embedding.OpenAI.APIKey = resolveEnvRef(cfg.Embedding.OpenAI.APIKey)
	cfg.NLU.Remote.Token = resolveEnvRef(cfg.NLU.Remote.Token)
	cfg.PGVector.DSN = resolveEnvRef(cfg.PGVector.DSN)
	for name, target := range cfg.Targets {
		target.Token = resolveEnvRef(target.Token)
		cfg.Targets[name] = target
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.grpc.enabled", true)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 8080)
	v.SetDefault("transports.http.swagger", true)
	v.SetDefault("transports.mqtt.enabled", false)
	v.SetDefault("transports.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("transports.mqtt.topic", "homenlu/command/#")
	v.SetDefault("transports.mqtt.client_id", "homenlu")
	v.SetDefault("nlu.tagger", "lexicon")
	v.SetDefault("nlu.retriever", "memory")
	v.SetDefault("nlu.similarity_threshold", 250.0)
	v.SetDefault("nlu.top_k", 2)
	v.SetDefault("nlu.knowledge_base", "./configs/knowledge_base.jsonl")
	v.SetDefault("nlu.remote.endpoint", "http://localhost:5005/tag")
	v.SetDefault("nlu.remote.timeout_seconds", 10)
	v.SetDefault("embedding.backend", "ngram")
	v.SetDefault("embedding.ngram.dimensions", 256)
	v.SetDefault("embedding.ollama.endpoint", "http://localhost:11434")
	v.SetDefault("embedding.ollama.model", "nomic-embed-text")
	v.SetDefault("embedding.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.openai.model", "text-embedding-3-small")
	v.SetDefault("pgvector.table", "standard_commands")
	v.SetDefault("pgvector.max_open_conns", 10)
	v.SetDefault("pgvector.max_idle_conns", 2)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects settings the daemon cannot start with.
func (c *Config) Validate() error {
	if c.NLU.SimilarityThreshold < 0 {
		return fmt.Errorf("nlu.similarity_threshold must not be negative, got %v", c.NLU.SimilarityThreshold)
	}
	if c.NLU.TopK < 1 {
		return fmt.Errorf("nlu.top_k must be at least 1, got %d", c.NLU.TopK)
	}
	if c.Embedding.Ngram.Dimensions < 0 {
		return fmt.Errorf("embedding.ngram.dimensions must not be negative, got %d", c.Embedding.Ngram.Dimensions)
	}
	return nil
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	slog.SetDefault(slog.New(NewHandler(cfg, os.Stdout)))
}

// NewHandler builds the slog handler described by cfg, writing to w.
func NewHandler(cfg LoggingConfig, w io.Writer) slog.Handler {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
