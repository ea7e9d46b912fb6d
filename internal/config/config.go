package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for docbot.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Knowledge KnowledgeConfig           `json:"knowledge"`
	Embedder  EmbedderConfig            `json:"embedder"`
	Generator GeneratorConfig           `json:"generator"`
	Providers map[string]ProviderConfig `json:"providers"`
	Cache     CacheConfig               `json:"cache"`
	Memory    MemoryConfig              `json:"memory"`
	Channels  ChannelsConfig            `json:"channels"`
	Watch     WatchConfig               `json:"watch"`
	MCP       MCPConfig                 `json:"mcp"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	DataDir   string `json:"dataDir"`
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"` // "text" | "json"
}

// KnowledgeConfig configures chunking, indexing and retrieval.
type KnowledgeConfig struct {
	ChunkMode      string `json:"chunkMode"`     // "sentence" | "fixed"
	ChunkSize      int    `json:"chunkSize"`     // characters per chunk
	ChunkOverlap   int    `json:"chunkOverlap"`  // characters shared with the previous chunk
	OverlapPolicy  string `json:"overlapPolicy"` // "fit" | "truncate" | "none"
	Metric         string `json:"metric"`        // "l2" | "ip"
	SearchTopK     int    `json:"searchTopK"`
	LoadWorkers    int    `json:"loadWorkers"`
	EmbedBatchSize int    `json:"embedBatchSize"`
}

// EmbedderConfig selects the embedding backend.
type EmbedderConfig struct {
	Provider   string `json:"provider"` // "hashing" | "ollama" | "openai"
	Model      string `json:"model,omitempty"`
	APIBase    string `json:"apiBase,omitempty"`
	APIKey     string `json:"apiKey,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// GeneratorConfig selects the answer generator and its fallbacks.
type GeneratorConfig struct {
	Provider      string   `json:"provider"` // "ollama" | "openai" | "claude" | "extractive"
	FailoverChain []string `json:"failoverChain,omitempty"`
	SystemPrompt  string   `json:"systemPrompt,omitempty"`
	MaxTokens     int      `json:"maxTokens,omitempty"`
	Temperature   float64  `json:"temperature,omitempty"`
	SingleFlight  bool     `json:"singleFlight"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

type CacheConfig struct {
	Enabled    bool   `json:"enabled"`
	Backend    string `json:"backend"` // "memory" | "sqlite"
	TTLSeconds int    `json:"ttlSeconds"`
}

type MemoryConfig struct {
	Enabled    bool   `json:"enabled"`
	DBPath     string `json:"dbPath"`
	MaxHistory int    `json:"maxHistory"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack"`
	Discord  DiscordConfig  `json:"discord"`
	Web      WebConfig      `json:"web"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	TopK      int            `json:"topK,omitempty"`
}

type SlackConfig struct {
	Enabled   bool           `json:"enabled"`
	BotToken  string         `json:"botToken"`
	AppToken  string         `json:"appToken"` // required for Socket Mode
	AllowFrom FlexStringList `json:"allowFrom"`
}

type DiscordConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	GuildID   string         `json:"guildId,omitempty"` // optional: restrict to specific guild
	AllowFrom FlexStringList `json:"allowFrom"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type WebConfig struct {
	Enabled   bool    `json:"enabled"`
	Host      string  `json:"host"`
	Port      int     `json:"port"`
	RateLimit float64 `json:"rateLimit"` // requests per second per client, 0 disables
	RateBurst int     `json:"rateBurst"`
}

type WatchConfig struct {
	Enabled    bool `json:"enabled"`
	DebounceMs int  `json:"debounceMs"`
}

// MCPConfig configures the Model Context Protocol tool server.
type MCPConfig struct {
	Transport string `json:"transport"` // "stdio" | "http"
	Addr      string `json:"addr,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.docbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docbot"
	}
	return filepath.Join(home, ".docbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON, YAML or TOML config file, chosen by extension, on top of Defaults.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	data, err = toJSON(path, data)
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// toJSON converts YAML and TOML documents into JSON so that a single set of
// struct tags drives decoding for every format.
func toJSON(path string, data []byte) ([]byte, error) {
	var m map[string]any
	switch format(path) {
	case "yaml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, err
		}
	case "toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, err
		}
	default:
		return data, nil
	}
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Save writes cfg in the format implied by the file extension.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	if f := format(path); f != "json" {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		dropNulls(m)
		if f == "yaml" {
			data, err = yaml.Marshal(m)
		} else {
			data, err = toml.Marshal(m)
		}
		if err != nil {
			return fmt.Errorf("cannot marshal config as %s: %w", f, err)
		}
	}

	return os.WriteFile(path, data, 0o600)
}

// dropNulls removes null leaves, which TOML cannot represent.
func dropNulls(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			delete(m, k)
		case map[string]any:
			dropNulls(val)
		}
	}
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	k := cfg.Knowledge
	switch k.ChunkMode {
	case "sentence", "fixed":
	default:
		errs = append(errs, "knowledge.chunkMode must be one of: sentence, fixed")
	}
	if k.ChunkSize < 1 {
		errs = append(errs, "knowledge.chunkSize must be >= 1")
	}
	if k.ChunkOverlap < 0 || k.ChunkOverlap >= k.ChunkSize {
		errs = append(errs, "knowledge.chunkOverlap must be >= 0 and < chunkSize")
	}
	switch k.OverlapPolicy {
	case "fit", "truncate", "none":
	default:
		errs = append(errs, "knowledge.overlapPolicy must be one of: fit, truncate, none")
	}
	switch k.Metric {
	case "l2", "ip":
	default:
		errs = append(errs, "knowledge.metric must be one of: l2, ip")
	}
	if k.SearchTopK < 1 {
		errs = append(errs, "knowledge.searchTopK must be >= 1")
	}
	if k.LoadWorkers < 1 {
		errs = append(errs, "knowledge.loadWorkers must be >= 1")
	}
	if k.EmbedBatchSize < 1 {
		errs = append(errs, "knowledge.embedBatchSize must be >= 1")
	}

	switch cfg.Embedder.Provider {
	case "hashing", "ollama", "openai":
	default:
		errs = append(errs, "embedder.provider must be one of: hashing, ollama, openai")
	}
	if cfg.Embedder.Dimensions < 0 {
		errs = append(errs, "embedder.dimensions must be >= 0")
	}

	for _, name := range append([]string{cfg.Generator.Provider}, cfg.Generator.FailoverChain...) {
		if !isGenerator(name) {
			errs = append(errs, fmt.Sprintf("generator references unknown provider: %s", name))
		}
	}

	if cfg.Cache.TTLSeconds < 0 {
		errs = append(errs, "cache.ttlSeconds must be >= 0")
	}
	switch cfg.Cache.Backend {
	case "memory", "sqlite":
	default:
		errs = append(errs, "cache.backend must be one of: memory, sqlite")
	}
	if cfg.Cache.Backend == "sqlite" && cfg.Cache.Enabled && !cfg.Memory.Enabled {
		errs = append(errs, "cache.backend sqlite requires memory.enabled")
	}

	if cfg.Memory.MaxHistory < 1 {
		errs = append(errs, "memory.maxHistory must be >= 1")
	}

	if cfg.Channels.Web.Port < 0 || cfg.Channels.Web.Port > 65535 {
		errs = append(errs, "channels.web.port must be between 0 and 65535")
	}
	if cfg.Channels.Web.RateLimit < 0 {
		errs = append(errs, "channels.web.rateLimit must be >= 0")
	}
	if cfg.Channels.Web.RateLimit > 0 && cfg.Channels.Web.RateBurst < 1 {
		errs = append(errs, "channels.web.rateBurst must be >= 1 when rateLimit is set")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if s := cfg.Channels.Slack; s.Enabled && (s.BotToken == "" || s.AppToken == "") {
		errs = append(errs, "channels.slack.botToken and appToken are required when slack is enabled")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		errs = append(errs, "channels.discord.token is required when discord is enabled")
	}

	if cfg.Watch.DebounceMs < 0 {
		errs = append(errs, "watch.debounceMs must be >= 0")
	}
	switch cfg.MCP.Transport {
	case "stdio", "http":
	default:
		errs = append(errs, "mcp.transport must be one of: stdio, http")
	}

	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isGenerator(name string) bool {
	switch name {
	case "ollama", "openai", "claude", "extractive":
		return true
	}
	return false
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
