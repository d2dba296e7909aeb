package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Unified LLM configuration (OpenAI-compatible protocol).
	// All providers (openai, deepseek, siliconflow, ollama) use the same config.
	LLMProvider string // Provider identifier: openai, deepseek, siliconflow, openrouter, ollama
	LLMAPIKey   string // LLM API key
	LLMBaseURL  string // LLM base URL (optional, has default per provider)
	LLMModel    string // Model name: gpt-4o, deepseek-chat, etc.
	LLMTimeout  int    // LLM request timeout in seconds (default: 30)
	LLMMaxRPS   int    // Client-side LLM rate limit, requests per second (default: 5)

	// Server configuration
	Mode        string
	Addr        string
	Data        string
	Driver      string
	DSN         string
	Version     string
	InstanceURL string
	Port        int

	// Onboarding tuning values. These are product constants without a derived
	// justification; they are configurable so tests and deployments can vary them.
	FinalizeThreshold float64       // Overall confidence needed to finalize (default: 0.85)
	TerminalPhase     int           // Last phase index (default: 4)
	TurnsPerPhase     int           // User turns before the phase advances (default: 3)
	CompressKeepTail  int           // Recent messages kept verbatim when compressing (default: 10)
	SessionTTL        time.Duration // Inactivity window before a session expires (default: 48h)
	ResponseCacheTTL  time.Duration // Exact-match response cache TTL (default: 1h)
	SweepInterval     time.Duration // Expired-session sweep interval (default: 10m)
}

// Provider default configurations for LLM.
// Used when SKINSENSE_AI_LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

// Default returns a profile with development defaults and no environment
// lookups applied.
func Default() *Profile {
	return &Profile{
		LLMProvider:       "openai",
		LLMTimeout:        30,
		LLMMaxRPS:         5,
		Mode:              "dev",
		Driver:            "sqlite",
		FinalizeThreshold: 0.85,
		TerminalPhase:     4,
		TurnsPerPhase:     3,
		CompressKeepTail:  10,
		SessionTTL:        48 * time.Hour,
		ResponseCacheTTL:  time.Hour,
		SweepInterval:     10 * time.Minute,
	}
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an LLM API key is configured.
// Ollama runs locally and needs no key.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != "" || p.LLMProvider == "ollama"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvOrDefaultDuration returns environment variable value as duration or default value.
func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("SKINSENSE_AI_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("SKINSENSE_AI_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("SKINSENSE_AI_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("SKINSENSE_AI_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("SKINSENSE_AI_LLM_TIMEOUT_SECONDS", 30)
	p.LLMMaxRPS = getEnvOrDefaultInt("SKINSENSE_AI_LLM_MAX_RPS", 5)

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		p.LLMProvider = "openai"
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}

	p.FinalizeThreshold = getEnvOrDefaultFloat("SKINSENSE_ONBOARDING_FINALIZE_THRESHOLD", 0.85)
	p.TerminalPhase = getEnvOrDefaultInt("SKINSENSE_ONBOARDING_TERMINAL_PHASE", 4)
	p.TurnsPerPhase = getEnvOrDefaultInt("SKINSENSE_ONBOARDING_TURNS_PER_PHASE", 3)
	p.CompressKeepTail = getEnvOrDefaultInt("SKINSENSE_ONBOARDING_COMPRESS_KEEP_TAIL", 10)
	p.SessionTTL = getEnvOrDefaultDuration("SKINSENSE_ONBOARDING_SESSION_TTL", 48*time.Hour)
	p.ResponseCacheTTL = getEnvOrDefaultDuration("SKINSENSE_ONBOARDING_RESPONSE_CACHE_TTL", time.Hour)
	p.SweepInterval = getEnvOrDefaultDuration("SKINSENSE_ONBOARDING_SWEEP_INTERVAL", 10*time.Minute)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies.
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.FinalizeThreshold <= 0 || p.FinalizeThreshold > 1 {
		return errors.Errorf("finalize threshold must be in (0,1], got %f", p.FinalizeThreshold)
	}
	if p.TerminalPhase < 1 {
		return errors.Errorf("terminal phase must be >= 1, got %d", p.TerminalPhase)
	}
	if p.TurnsPerPhase < 1 {
		return errors.Errorf("turns per phase must be >= 1, got %d", p.TurnsPerPhase)
	}
	if p.CompressKeepTail < 2 {
		return errors.Errorf("compress keep tail must be >= 2, got %d", p.CompressKeepTail)
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "skinsense")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					return errors.Wrapf(err, "failed to create data directory %s", p.Data)
				}
			}
		} else {
			p.Data = "/var/opt/skinsense"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("skinsense_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	return nil
}
