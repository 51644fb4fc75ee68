package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// Built-in defaults.
const (
	DefaultCacheDB      = "~/.faqmine/cache.db"
	DefaultKnowledgeDB  = "~/.faqmine/knowledge.db"
	DefaultRedisURL     = "redis://localhost:6379/0"
	DefaultArtifactsDir = "~/.faqmine/artifacts"
	DefaultEmbed        = "ollama/nomic-embed-text"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// Set reports whether the value came from anywhere.
func (v ResolvedValue) Set() bool {
	return strings.TrimSpace(v.Value) != ""
}

// Or returns the value, or def when unset.
func (v ResolvedValue) Or(def string) string {
	if !v.Set() {
		return def
	}
	return v.Value
}

// Float parses the value, returning def when unset or unparsable.
func (v ResolvedValue) Float(def float64) float64 {
	if !v.Set() {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
	if err != nil {
		return def
	}
	return f
}

// Int parses the value, returning def when unset or unparsable.
func (v ResolvedValue) Int(def int) int {
	if !v.Set() {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v.Value))
	if err != nil {
		return def
	}
	return n
}

// Duration parses a Go duration ("5m", "100ms"), returning def when unset or
// unparsable.
func (v ResolvedValue) Duration(def time.Duration) time.Duration {
	if !v.Set() {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v.Value))
	if err != nil {
		return def
	}
	return d
}

type ResolveOptions struct {
	ConfigPath      string
	CLIAppID        string
	CLIEmbed        string
	CLICacheDB      string
	CLIKnowledgeDB  string
	CLIRedisURL     string
	CLIArtifactsDir string
	CLIGoldenPath   string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	AppID        ResolvedValue `json:"app_id"`
	CacheDB      ResolvedValue `json:"cache_db"`
	KnowledgeDB  ResolvedValue `json:"knowledge_db"`
	RedisURL     ResolvedValue `json:"redis_url"`
	ArtifactsDir ResolvedValue `json:"artifacts_dir"`
	LogLevel     ResolvedValue `json:"log_level"`

	EmbedProvider ResolvedValue `json:"embed_provider"`
	EmbedAPIKey   ResolvedValue `json:"embed_api_key"`
	EmbedEndpoint ResolvedValue `json:"embed_endpoint"`

	Threshold       ResolvedValue `json:"threshold"`
	MinClusterSize  ResolvedValue `json:"min_cluster_size"`
	DedupThreshold  ResolvedValue `json:"dedup_threshold"`
	UnchangedWindow ResolvedValue `json:"unchanged_window"`
	BatchDelay      ResolvedValue `json:"batch_delay"`
	GoldenPath      ResolvedValue `json:"golden_path"`

	ProviderKeys map[string]ResolvedValue `json:"provider_keys,omitempty"`
}

type fileConfig struct {
	AppID        string `yaml:"app_id"`
	CacheDB      string `yaml:"cache_db"`
	KnowledgeDB  string `yaml:"knowledge_db"`
	RedisURL     string `yaml:"redis_url"`
	ArtifactsDir string `yaml:"artifacts_dir"`
	LogLevel     string `yaml:"log_level"`
	Embed        struct {
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"embed"`
	Mining struct {
		Threshold       string `yaml:"threshold"`
		MinClusterSize  string `yaml:"min_cluster_size"`
		DedupThreshold  string `yaml:"dedup_threshold"`
		UnchangedWindow string `yaml:"unchanged_window"`
		BatchDelay      string `yaml:"batch_delay"`
		GoldenPath      string `yaml:"golden_path"`
	} `yaml:"mining"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".faqmine", "config.yaml")
}

// ResolveConfig layers built-in defaults < config file < FAQMINE_* env < CLI.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath:    path,
		CacheDB:       builtin(DefaultCacheDB),
		KnowledgeDB:   builtin(DefaultKnowledgeDB),
		RedisURL:      builtin(DefaultRedisURL),
		ArtifactsDir:  builtin(DefaultArtifactsDir),
		EmbedProvider: builtin(DefaultEmbed),
		LogLevel:      builtin("info"),
		ProviderKeys:  map[string]ResolvedValue{},
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.AppID, cfg.AppID, SourceConfig, path)
		apply(&out.CacheDB, cfg.CacheDB, SourceConfig, path)
		apply(&out.KnowledgeDB, cfg.KnowledgeDB, SourceConfig, path)
		apply(&out.RedisURL, cfg.RedisURL, SourceConfig, path)
		apply(&out.ArtifactsDir, cfg.ArtifactsDir, SourceConfig, path)
		apply(&out.LogLevel, cfg.LogLevel, SourceConfig, path)
		apply(&out.EmbedProvider, cfg.Embed.Provider, SourceConfig, path)
		apply(&out.EmbedEndpoint, cfg.Embed.Endpoint, SourceConfig, path)
		apply(&out.EmbedAPIKey, cfg.Embed.APIKey, SourceConfig, path)
		apply(&out.Threshold, cfg.Mining.Threshold, SourceConfig, path)
		apply(&out.MinClusterSize, cfg.Mining.MinClusterSize, SourceConfig, path)
		apply(&out.DedupThreshold, cfg.Mining.DedupThreshold, SourceConfig, path)
		apply(&out.UnchangedWindow, cfg.Mining.UnchangedWindow, SourceConfig, path)
		apply(&out.BatchDelay, cfg.Mining.BatchDelay, SourceConfig, path)
		apply(&out.GoldenPath, cfg.Mining.GoldenPath, SourceConfig, path)
	}

	for env, dst := range map[string]*ResolvedValue{
		"FAQMINE_APP_ID":           &out.AppID,
		"FAQMINE_CACHE_DB":         &out.CacheDB,
		"FAQMINE_KNOWLEDGE_DB":     &out.KnowledgeDB,
		"FAQMINE_REDIS_URL":        &out.RedisURL,
		"FAQMINE_ARTIFACTS_DIR":    &out.ArtifactsDir,
		"FAQMINE_LOG_LEVEL":        &out.LogLevel,
		"FAQMINE_EMBED":            &out.EmbedProvider,
		"FAQMINE_EMBED_ENDPOINT":   &out.EmbedEndpoint,
		"FAQMINE_EMBED_API_KEY":    &out.EmbedAPIKey,
		"FAQMINE_THRESHOLD":        &out.Threshold,
		"FAQMINE_MIN_CLUSTER_SIZE": &out.MinClusterSize,
		"FAQMINE_DEDUP_THRESHOLD":  &out.DedupThreshold,
		"FAQMINE_UNCHANGED_WINDOW": &out.UnchangedWindow,
		"FAQMINE_BATCH_DELAY":      &out.BatchDelay,
		"FAQMINE_GOLDEN_PATH":      &out.GoldenPath,
	} {
		applyEnv(dst, env)
	}

	for env, provider := range map[string]string{
		"OPENROUTER_API_KEY": "openrouter",
		"OPENAI_API_KEY":     "openai",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.ProviderKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.AppID, opts.CLIAppID, SourceCLI, "--app")
	apply(&out.EmbedProvider, opts.CLIEmbed, SourceCLI, "--embed")
	apply(&out.CacheDB, opts.CLICacheDB, SourceCLI, "--cache-db")
	apply(&out.KnowledgeDB, opts.CLIKnowledgeDB, SourceCLI, "--knowledge-db")
	apply(&out.RedisURL, opts.CLIRedisURL, SourceCLI, "--redis")
	apply(&out.ArtifactsDir, opts.CLIArtifactsDir, SourceCLI, "--artifacts")
	apply(&out.GoldenPath, opts.CLIGoldenPath, SourceCLI, "--golden")

	for _, v := range []*ResolvedValue{&out.CacheDB, &out.KnowledgeDB, &out.ArtifactsDir, &out.GoldenPath} {
		if v.Value != "" {
			v.Value = expandUserPath(v.Value)
		}
	}

	return out, nil
}

// EffectiveEmbedAPIKey returns the explicit embed key, or the provider's key
// from the environment.
func (r ResolvedConfig) EffectiveEmbedAPIKey() ResolvedValue {
	if r.EmbedAPIKey.Set() {
		return r.EmbedAPIKey
	}
	provider := providerOf(r.EmbedProvider.Value)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.ProviderKeys[provider]; ok && v.Set() {
		return v
	}
	return ResolvedValue{}
}

// Redacted returns a copy safe to print.
func (r ResolvedConfig) Redacted() ResolvedConfig {
	out := r
	out.ProviderKeys = make(map[string]ResolvedValue, len(r.ProviderKeys))
	if out.EmbedAPIKey.Set() {
		out.EmbedAPIKey.Value = "****"
	}
	for k, v := range r.ProviderKeys {
		v.Value = "****"
		out.ProviderKeys[k] = v
	}
	return out
}

func builtin(v string) ResolvedValue {
	return ResolvedValue{Value: v, Source: SourceDefault, From: "built-in default"}
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
