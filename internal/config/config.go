package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the Kuro gateway.
type Config struct {
	Port    int
	Version string
	DataDir string
	CodeDir string

	Backend   BackendConfig
	Auth      AuthConfig
	Guest     GuestConfig
	Quota     QuotaConfig
	Sandbox   SandboxConfig
	Frontier  FrontierConfig
	Telemetry TelemetryConfig
	RateLimit RateLimitConfig
}

// BackendConfig points at the local inference runtime.
type BackendConfig struct {
	Endpoint       string
	ChatModel      string
	EmbedModel     string
	ChatTimeout    time.Duration
	EmbedTimeout   time.Duration
	UnhealthyAfter int // consecutive failures before short-circuit
}

// AuthConfig governs the session waterfall.
type AuthConfig struct {
	SessionSlide  time.Duration // sliding expiry window
	SessionAbsMax time.Duration // absolute session lifetime
	SessionIdle   time.Duration // inactivity window; 0 disables the check
	LegacyTokens  bool          // enable the legacy bearer-token leg
	SessionsURL   string        // Postgres URL; empty selects file-backed store
	CookieSecure  bool
	ProvisionKey  string // required to mint pro/sovereign sessions; empty disables them
}

// GuestConfig bounds anonymous traffic.
type GuestConfig struct {
	Limit  int
	Window time.Duration
}

// QuotaConfig governs counter buffering.
type QuotaConfig struct {
	FlushInterval time.Duration
}

// SandboxConfig points at the execution sidecar.
type SandboxConfig struct {
	SidecarURL     string
	SidecarTimeout time.Duration
	RunsPerMinute  int
}

// FrontierConfig governs escalation to an external provider.
type FrontierConfig struct {
	Enabled      bool
	Provider     string
	Model        string
	Endpoint     string
	APIKey       string
	HourlyQuota  int
	POHThreshold map[string]float64 // per-tier escalation threshold
}

// TelemetryConfig mirrors the OTel wiring.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// RateLimitConfig bounds request rates per client IP.
type RateLimitConfig struct {
	GlobalPerSecond float64
	GlobalBurst     int
	AuthPerMinute   float64
	AuthBurst       int
}

// Load reads configuration from the environment with sensible defaults.
// A .env file next to the binary is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	dataDir := envStr("KURO_DATA_DIR", defaultDataDir())

	return &Config{
		Port:    envInt("KURO_PORT", 8080),
		Version: envStr("KURO_VERSION", "0.9.0"),
		DataDir: dataDir,
		CodeDir: envStr("KURO_CODE_DIR", "."),
		Backend: BackendConfig{
			Endpoint:       envStr("KURO_BACKEND_ENDPOINT", "http://localhost:11434"),
			ChatModel:      envStr("KURO_BACKEND_MODEL", "llama3.1:8b"),
			EmbedModel:     envStr("KURO_EMBED_MODEL", "nomic-embed-text"),
			ChatTimeout:    envDuration("KURO_BACKEND_TIMEOUT", 5*time.Minute),
			EmbedTimeout:   envDuration("KURO_EMBED_TIMEOUT", 30*time.Second),
			UnhealthyAfter: envInt("KURO_BACKEND_UNHEALTHY_AFTER", 3),
		},
		Auth: AuthConfig{
			SessionSlide:  envDuration("KURO_SESSION_SLIDE", 30*time.Minute),
			SessionAbsMax: envDuration("KURO_SESSION_ABS_MAX", 30*24*time.Hour),
			SessionIdle:   envDuration("KURO_SESSION_IDLE", 0),
			LegacyTokens:  envBool("KURO_LEGACY_TOKENS", false),
			SessionsURL:   envStr("KURO_SESSIONS_URL", ""),
			CookieSecure:  envBool("KURO_COOKIE_SECURE", false),
			ProvisionKey:  envStr("KURO_PROVISION_KEY", ""),
		},
		Guest: GuestConfig{
			Limit:  envInt("KURO_GUEST_LIMIT", 5),
			Window: envDuration("KURO_GUEST_WINDOW", 24*time.Hour),
		},
		Quota: QuotaConfig{
			FlushInterval: envDuration("KURO_QUOTA_FLUSH", 30*time.Second),
		},
		Sandbox: SandboxConfig{
			SidecarURL:     envStr("KURO_SANDBOX_SIDECAR", ""),
			SidecarTimeout: envDuration("KURO_SANDBOX_TIMEOUT", 10*time.Second),
			RunsPerMinute:  envInt("KURO_SANDBOX_RUNS_PER_MINUTE", 6),
		},
		Frontier: FrontierConfig{
			Enabled:     envBool("KURO_FRONTIER_ENABLED", false),
			Provider:    envStr("KURO_FRONTIER_PROVIDER", "openrouter"),
			Model:       envStr("KURO_FRONTIER_MODEL", ""),
			Endpoint:    envStr("KURO_FRONTIER_ENDPOINT", ""),
			APIKey:      envStr("KURO_FRONTIER_API_KEY", ""),
			HourlyQuota: envInt("KURO_FRONTIER_HOURLY_QUOTA", 10),
			POHThreshold: map[string]float64{
				"free":      0.0, // free never escalates
				"pro":       envFloat("KURO_FRONTIER_POH_PRO", 0.35),
				"sovereign": envFloat("KURO_FRONTIER_POH_SOVEREIGN", 0.5),
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "kuro-gateway"),
		},
		RateLimit: RateLimitConfig{
			GlobalPerSecond: envFloat("KURO_RATE_GLOBAL_PER_SECOND", 10),
			GlobalBurst:     envInt("KURO_RATE_GLOBAL_BURST", 30),
			AuthPerMinute:   envFloat("KURO_RATE_AUTH_PER_MINUTE", 10),
			AuthBurst:       envInt("KURO_RATE_AUTH_BURST", 5),
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kuro"
	}
	return filepath.Join(home, ".kuro")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
