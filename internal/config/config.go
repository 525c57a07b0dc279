package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Database    DatabaseConfig    `json:"database"`
	Embedding   EmbeddingConfig   `json:"embedding"`
	Classifier  ClassifierConfig  `json:"classifier"`
	Search      SearchConfig      `json:"search"`
	Classify    ClassifyConfig    `json:"classify"`
	Suggestions SuggestionsConfig `json:"suggestions"`
	Collections CollectionsConfig `json:"collections"`
	Refresh     RefreshConfig     `json:"refresh"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
	TimeoutMS int    `json:"timeout_ms"`
}

type ClassifierConfig struct {
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	TimeoutMS int    `json:"timeout_ms"`
}

type SearchConfig struct {
	SkillThreshold  float64 `json:"skill_threshold"`
	ToolThreshold   float64 `json:"tool_threshold"`
	SkillLimit      int     `json:"skill_limit"`
	Limit           int     `json:"limit"`
	MaxQueryLength  int     `json:"max_query_length"`
	VectorTimeoutMS int     `json:"vector_timeout_ms"`
	DetailTimeoutMS int     `json:"detail_timeout_ms"`
}

type ClassifyConfig struct {
	MinConfidence    float64 `json:"min_confidence"`
	DescriptionLimit int     `json:"description_limit"`
}

type SuggestionsConfig struct {
	AutoApprove          bool `json:"auto_approve"`
	AutoApproveThreshold int  `json:"auto_approve_threshold"`
}

type CollectionsConfig struct {
	Skills string `json:"skills"`
	Items  string `json:"items"`
}

type RefreshConfig struct {
	Mode   string `json:"mode"` // "direct" or "stream"
	Stream string `json:"stream"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Search.SkillThreshold == 0 {
		c.Search.SkillThreshold = 0.4
	}
	if c.Search.ToolThreshold == 0 {
		c.Search.ToolThreshold = 0.3
	}
	if c.Search.SkillLimit == 0 {
		c.Search.SkillLimit = 5
	}
	if c.Search.Limit == 0 {
		c.Search.Limit = 10
	}
	if c.Search.MaxQueryLength == 0 {
		c.Search.MaxQueryLength = 1000
	}
	if c.Search.VectorTimeoutMS == 0 {
		c.Search.VectorTimeoutMS = 200
	}
	if c.Search.DetailTimeoutMS == 0 {
		c.Search.DetailTimeoutMS = 500
	}
	if c.Embedding.TimeoutMS == 0 {
		c.Embedding.TimeoutMS = 100
	}
	if c.Classifier.TimeoutMS == 0 {
		c.Classifier.TimeoutMS = 10000
	}
	if c.Classify.MinConfidence == 0 {
		c.Classify.MinConfidence = 0.5
	}
	if c.Classify.DescriptionLimit == 0 {
		c.Classify.DescriptionLimit = 2000
	}
	if c.Suggestions.AutoApproveThreshold == 0 {
		c.Suggestions.AutoApproveThreshold = 3
	}
	if c.Collections.Skills == "" {
		c.Collections.Skills = "toolscope_skills"
	}
	if c.Collections.Items == "" {
		c.Collections.Items = "toolscope_items"
	}
	if c.Refresh.Mode == "" {
		c.Refresh.Mode = "direct"
	}
	if c.Refresh.Stream == "" {
		c.Refresh.Stream = "toolscope:refresh"
	}
}
