package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// Config holds all configuration for FastGPT
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Admin     AdminConfig     `mapstructure:"admin" yaml:"admin"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Vector    VectorConfig    `mapstructure:"vector" yaml:"vector"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Chat      ChatConfig      `mapstructure:"chat" yaml:"chat"`
	Dataset   DatasetConfig   `mapstructure:"dataset" yaml:"dataset"`
	Import    ImportConfig    `mapstructure:"import" yaml:"import"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Client    ClientConfig    `mapstructure:"client" yaml:"client"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	AllowOrigins []string      `mapstructure:"allow_origins" yaml:"allow_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	// WriteTimeout bounds whole responses, streams included; 0 disables it
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// AdminConfig holds admin authentication configuration
type AdminConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// StorageConfig holds uploaded file storage configuration
type StorageConfig struct {
	Documents string `mapstructure:"documents" yaml:"documents"`
}

// VectorConfig holds the chunk vector store configuration
type VectorConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`
	Compress bool   `mapstructure:"compress" yaml:"compress"`
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	EmbeddingModel string        `mapstructure:"embedding_model" yaml:"embedding_model"`
	LLMModel       string        `mapstructure:"llm_model" yaml:"llm_model"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Enabled reports whether a completion backend is configured
func (c LLMConfig) Enabled() bool {
	return c.BaseURL != "" && c.LLMModel != ""
}

// ChatConfig holds conversation defaults
type ChatConfig struct {
	DefaultTitle string `mapstructure:"default_title" yaml:"default_title"`
	TitleWidth   int    `mapstructure:"title_width" yaml:"title_width"`
	MaxHistories int    `mapstructure:"max_histories" yaml:"max_histories"`
	SearchLimit  int    `mapstructure:"search_limit" yaml:"search_limit"`
}

// DatasetConfig holds the model limits given to new datasets
type DatasetConfig struct {
	VectorModel domain.VectorModel `mapstructure:"vector_model" yaml:"vector_model"`
	AgentModel  domain.AgentModel  `mapstructure:"agent_model" yaml:"agent_model"`
}

// ImportConfig holds file import limits
type ImportConfig struct {
	MaxFiles    int   `mapstructure:"max_files" yaml:"max_files"`
	MaxFileSize int64 `mapstructure:"max_file_size" yaml:"max_file_size"`
	Concurrency int   `mapstructure:"concurrency" yaml:"concurrency"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled         bool `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerHour int  `mapstructure:"requests_per_hour" yaml:"requests_per_hour"`
}

// ClientConfig holds settings of the chat CLI
type ClientConfig struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey    string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	StatePath string        `mapstructure:"state_path" yaml:"state_path"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/fastgpt")
	}

	// Environment variables, e.g. FASTGPT_LLM_API_KEY
	v.SetEnvPrefix("FASTGPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0)

	v.SetDefault("admin.api_key", "")

	v.SetDefault("database.path", "./data/fastgpt.db")
	v.SetDefault("storage.documents", "./data/documents")

	v.SetDefault("vector.dir", "./data/vectors")
	v.SetDefault("vector.compress", false)

	v.SetDefault("llm.base_url", "http://localhost:11434/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.embedding_model", "nomic-embed-text")
	v.SetDefault("llm.llm_model", "qwen2.5:7b")
	v.SetDefault("llm.timeout", 5*time.Minute)

	v.SetDefault("chat.default_title", domain.DefaultChatTitle)
	v.SetDefault("chat.title_width", domain.DefaultTitleWidth)
	v.SetDefault("chat.max_histories", 6)
	v.SetDefault("chat.search_limit", 5)

	v.SetDefault("dataset.vector_model.model", "nomic-embed-text")
	v.SetDefault("dataset.vector_model.default_token", 512)
	v.SetDefault("dataset.vector_model.max_token", 3000)
	v.SetDefault("dataset.vector_model.chars_points_price", 0)
	v.SetDefault("dataset.agent_model.model", "qwen2.5:7b")
	v.SetDefault("dataset.agent_model.max_context", 16000)
	v.SetDefault("dataset.agent_model.chars_points_price", 0)

	v.SetDefault("import.max_files", 1000)
	v.SetDefault("import.max_file_size", 300<<20)
	v.SetDefault("import.concurrency", 4)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_hour", 100)

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.api_key", "")
	v.SetDefault("client.timeout", 30*time.Second)
	v.SetDefault("client.state_path", "./data/cli-state.yaml")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Address returns the server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
