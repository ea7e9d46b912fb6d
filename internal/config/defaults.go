package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:   "~/.docbot/data",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Knowledge: KnowledgeConfig{
			ChunkMode:      "sentence",
			ChunkSize:      500,
			ChunkOverlap:   100,
			OverlapPolicy:  "fit",
			Metric:         "l2",
			SearchTopK:     3,
			LoadWorkers:    4,
			EmbedBatchSize: 32,
		},
		Embedder: EmbedderConfig{
			Provider:   "hashing",
			Dimensions: 384,
		},
		Generator: GeneratorConfig{
			Provider:      "ollama",
			FailoverChain: []string{"extractive"},
			SystemPrompt:  "You are a knowledgeable assistant.",
		},
		Providers: map[string]ProviderConfig{
			"ollama": {
				Enabled:      true,
				APIBase:      "http://localhost:11434",
				DefaultModel: "phi3",
			},
			"openai": {
				Enabled:      false,
				APIBase:      "https://api.openai.com/v1",
				DefaultModel: "gpt-4o-mini",
			},
			"claude": {
				Enabled:      false,
				APIBase:      "https://api.anthropic.com/v1",
				DefaultModel: "claude-3-5-haiku-20241022",
			},
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "sqlite",
			TTLSeconds: 3600,
		},
		Memory: MemoryConfig{
			Enabled:    true,
			DBPath:     "~/.docbot/docbot.db",
			MaxHistory: 200,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled: false,
				TopK:    3,
			},
			Web: WebConfig{
				Enabled:   true,
				Host:      "127.0.0.1",
				Port:      8080,
				RateLimit: 5,
				RateBurst: 10,
			},
		},
		Watch: WatchConfig{
			Enabled:    false,
			DebounceMs: 2000,
		},
		MCP: MCPConfig{
			Transport: "stdio",
			Addr:      "127.0.0.1:8090",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
