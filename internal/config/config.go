package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config is the root configuration, loaded once at startup from GOCRAWL_*
// environment variables. Secrets (API keys, mesh secret) come only from env
// and are never logged or serialized.
type Config struct {
	Server    ServerConfig
	Agent     AgentConfig
	Browser   BrowserConfig
	Precheck  PrecheckConfig
	Ghost     GhostConfig
	Crawl     CrawlConfig
	Mesh      MeshConfig
	Storage   StorageConfig
	Providers ProvidersConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	Token        string // optional bearer token for the agent/crawl surface
	RateLimitRPS float64
}

type AgentConfig struct {
	Enabled            bool
	Provider           string // "anthropic", "openai", "ollama"
	MaxSteps           int
	MaxWallTimeMS      int64
	MaxFailures        int
	BlockPrivateRanges bool
	RedactSecrets      bool
}

type BrowserConfig struct {
	Headless             bool
	PoolSize             int
	StreamMaxLeaseSec    int
	StreamQuality        int
	StreamMaxWidth       int
	NavigationTimeoutSec int
}

type PrecheckConfig struct {
	Enabled    bool
	TimeoutSec int
}

type GhostConfig struct {
	Enabled        bool
	AutoTrigger    bool
	VisionProvider string // empty = same as Agent.Provider
	MaxWidth       int
	TimeoutSec     int
}

type CrawlConfig struct {
	MaxConcurrentCrawls int
	TimeoutSec          int
	CacheTTLSec         int
}

type MeshConfig struct {
	Enabled             bool
	NodeName            string
	AdvertiseURL        string
	Secret              string
	SeedPeers           []string
	HeartbeatIntervalS  int
	PeerTimeoutS        int
	PeerRemoveS         int
	PreferLocal         bool
	MaxConcurrentCrawls int
}

type StorageConfig struct {
	Path string
}

type ProvidersConfig struct {
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	OllamaBaseURL   string
	OllamaModel     string
	CapSolverAPIKey string
}

type TelemetryConfig struct {
	Enabled     bool
	Endpoint    string
	Protocol    string // "grpc" (default) or "http"
	Insecure    bool
	ServiceName string
}

// Load reads every tunable from the environment with defaults applied.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         envStr("GOCRAWL_HOST", "0.0.0.0"),
			Port:         envInt("GOCRAWL_PORT", 8080),
			Token:        os.Getenv("GOCRAWL_TOKEN"),
			RateLimitRPS: float64(envInt("GOCRAWL_RATE_LIMIT_RPS", 0)),
		},
		Agent: AgentConfig{
			Enabled:            envBool("GOCRAWL_AGENT_ENABLED", false),
			Provider:           envStr("GOCRAWL_AGENT_PROVIDER", "anthropic"),
			MaxSteps:           envInt("GOCRAWL_AGENT_MAX_STEPS", 12),
			MaxWallTimeMS:      int64(envInt("GOCRAWL_AGENT_MAX_WALL_TIME_MS", 90_000)),
			MaxFailures:        envInt("GOCRAWL_AGENT_MAX_FAILURES", 3),
			BlockPrivateRanges: envBool("GOCRAWL_AGENT_BLOCK_PRIVATE_RANGES", true),
			RedactSecrets:      envBool("GOCRAWL_AGENT_REDACT_SECRETS", true),
		},
		Browser: BrowserConfig{
			Headless:             envBool("GOCRAWL_BROWSER_HEADLESS", true),
			PoolSize:             envInt("GOCRAWL_BROWSER_POOL_SIZE", 1),
			StreamMaxLeaseSec:    envInt("GOCRAWL_BROWSER_STREAM_MAX_LEASE_SECONDS", 300),
			StreamQuality:        envInt("GOCRAWL_BROWSER_STREAM_QUALITY", 25),
			StreamMaxWidth:       envInt("GOCRAWL_BROWSER_STREAM_MAX_WIDTH", 854),
			NavigationTimeoutSec: envInt("GOCRAWL_BROWSER_TIMEOUT", 30),
		},
		Precheck: PrecheckConfig{
			Enabled:    envBool("GOCRAWL_HTTP_PRECHECK_ENABLED", false),
			TimeoutSec: envInt("GOCRAWL_HTTP_PRECHECK_TIMEOUT", 15),
		},
		Ghost: GhostConfig{
			Enabled:        envBool("GOCRAWL_AGENT_GHOST_ENABLED", false),
			AutoTrigger:    envBool("GOCRAWL_AGENT_GHOST_AUTO_TRIGGER", true),
			VisionProvider: os.Getenv("GOCRAWL_AGENT_GHOST_VISION_PROVIDER"),
			MaxWidth:       envInt("GOCRAWL_AGENT_GHOST_MAX_WIDTH", 1280),
			TimeoutSec:     envInt("GOCRAWL_AGENT_GHOST_TIMEOUT", 30),
		},
		Crawl: CrawlConfig{
			MaxConcurrentCrawls: envInt("GOCRAWL_MAX_CONCURRENT_CRAWLS", 5),
			TimeoutSec:          envInt("GOCRAWL_CRAWL_TIMEOUT", 30),
			CacheTTLSec:         envInt("GOCRAWL_CACHE_TTL_S", 3600),
		},
		Mesh: MeshConfig{
			Enabled:             envBool("GOCRAWL_MESH_ENABLED", false),
			NodeName:            os.Getenv("GOCRAWL_MESH_NODE_NAME"),
			AdvertiseURL:        os.Getenv("GOCRAWL_MESH_ADVERTISE_URL"),
			Secret:              os.Getenv("GOCRAWL_MESH_SECRET"),
			SeedPeers:           envList("GOCRAWL_MESH_SEED_PEERS"),
			HeartbeatIntervalS:  envInt("GOCRAWL_MESH_HEARTBEAT_INTERVAL_S", 15),
			PeerTimeoutS:        envInt("GOCRAWL_MESH_PEER_TIMEOUT_S", 45),
			PeerRemoveS:         envInt("GOCRAWL_MESH_PEER_REMOVE_S", 120),
			PreferLocal:         envBool("GOCRAWL_MESH_PREFER_LOCAL", true),
			MaxConcurrentCrawls: envInt("GOCRAWL_MAX_CONCURRENT_CRAWLS", 5),
		},
		Storage: StorageConfig{
			Path: envStr("GOCRAWL_STORAGE_PATH", "./storage"),
		},
		Providers: ProvidersConfig{
			AnthropicAPIKey: os.Getenv("GOCRAWL_ANTHROPIC_API_KEY"),
			AnthropicModel:  os.Getenv("GOCRAWL_ANTHROPIC_MODEL"),
			OpenAIAPIKey:    os.Getenv("GOCRAWL_OPENAI_API_KEY"),
			OpenAIModel:     os.Getenv("GOCRAWL_OPENAI_MODEL"),
			OpenAIBaseURL:   os.Getenv("GOCRAWL_OPENAI_BASE_URL"),
			OllamaBaseURL:   os.Getenv("GOCRAWL_OLLAMA_BASE_URL"),
			OllamaModel:     os.Getenv("GOCRAWL_OLLAMA_MODEL"),
			CapSolverAPIKey: os.Getenv("GOCRAWL_CAPSOLVER_API_KEY"),
		},
		Telemetry: TelemetryConfig{
			Enabled:     envBool("GOCRAWL_TELEMETRY_ENABLED", false),
			Endpoint:    os.Getenv("GOCRAWL_TELEMETRY_ENDPOINT"),
			Protocol:    envStr("GOCRAWL_TELEMETRY_PROTOCOL", "grpc"),
			Insecure:    envBool("GOCRAWL_TELEMETRY_INSECURE", false),
			ServiceName: envStr("GOCRAWL_TELEMETRY_SERVICE_NAME", "gocrawl"),
		},
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("bad integer env value, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	slog.Warn("bad boolean env value, using default", "key", key, "value", v, "default", def)
	return def
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
