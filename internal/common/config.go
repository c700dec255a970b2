package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Chunking    ChunkingConfig    `toml:"chunking"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Extraction  ExtractionConfig  `toml:"extraction"`
	Aggregation AggregationConfig `toml:"aggregation"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Bridge      BridgeConfig      `toml:"bridge"`
	Gemini      GeminiConfig      `toml:"gemini"`
	Claude      ClaudeConfig      `toml:"claude"`
	LLM         LLMConfig         `toml:"llm"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for console and file writers
}

// ChunkingConfig controls how document elements are cut into oracle-sized chunks
type ChunkingConfig struct {
	TextTokenBudget        int `toml:"text_token_budget"`        // Max estimated tokens in a text chunk
	TableTokenBudget       int `toml:"table_token_budget"`       // Max estimated tokens in a table chunk (header included)
	CharsPerToken          int `toml:"chars_per_token"`          // Token estimate divisor
	SingleRequestThreshold int `toml:"single_request_threshold"` // Documents shorter than this (chars) go out as one chunk. 0 disables
}

// SchedulerConfig bounds one batch scheduler pass
type SchedulerConfig struct {
	BatchSize        int      `toml:"batch_size"`
	MaxConcurrency   int      `toml:"max_concurrency"`
	StageTimeout     Duration `toml:"stage_timeout"`      // Upper bound for a whole pass. 0 disables
	WarnFailureRatio float64  `toml:"warn_failure_ratio"` // Log a warning when failed/total exceeds this
}

// ExtractionConfig controls oracle calls for a single chunk
type ExtractionConfig struct {
	ConnectionRetryMax int      `toml:"connection_retry_max"` // Max attempts for transport failures
	SemanticRetryMax   int      `toml:"semantic_retry_max"`   // Max attempts for unusable payloads
	BackoffBase        Duration `toml:"backoff_base"`
	BackoffMax         Duration `toml:"backoff_max"`
	BackoffJitter      Duration `toml:"backoff_jitter"`
	ConnectTimeout     Duration `toml:"connect_timeout"`
	ReadTimeout        Duration `toml:"read_timeout"`
	Temperature        float32  `toml:"temperature"`
	MaxTokens          int      `toml:"max_tokens"`
	ContextChars       int      `toml:"context_chars"` // Chars of the previous chunk carried forward as context
	RateLimit          Duration `toml:"rate_limit"`    // Minimum spacing between oracle calls. 0 disables
	Model              string   `toml:"model"`         // Empty uses the provider default
}

// AggregationConfig controls the oracle-assisted merge and its fallback
type AggregationConfig struct {
	MergeRetryMax    int      `toml:"merge_retry_max"`
	MergeBackoffBase Duration `toml:"merge_backoff_base"`
	MergeTimeout     Duration `toml:"merge_timeout"` // Per merge request
	Temperature      float32  `toml:"temperature"`
	MaxTokens        int      `toml:"max_tokens"`
	ReportConflicts  bool     `toml:"report_conflicts"`
}

// PipelineConfig controls run-level thresholds
type PipelineConfig struct {
	SuccessThreshold float64  `toml:"success_threshold"` // Min fraction of main-pass chunks that must succeed
	StrictValidation bool     `toml:"strict_validation"` // Treat validation warnings as failures
	RunItemsPass     bool     `toml:"run_items_pass"`
	StaleAfter       Duration `toml:"stale_after"` // A non-terminal run untouched this long may be re-run. 0 disables
}

// BridgeConfig configures the line-of-business stream connection
type BridgeConfig struct {
	URL               string   `toml:"url"` // Empty disables reconciliation
	Token             string   `toml:"token"`
	ClientID          string   `toml:"client_id"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	HeartbeatGrace    Duration `toml:"heartbeat_grace"`
	CommandTimeout    Duration `toml:"command_timeout"`
	DialTimeout       Duration `toml:"dial_timeout"`
	UpdateExisting    bool     `toml:"update_existing"`
	CreateAgreement   bool     `toml:"create_agreement"`
	AttachFile        bool     `toml:"attach_file"`
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float32 `toml:"temperature"`
}

// LLMProvider identifies an oracle backend
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig selects the oracle backend
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/pactum",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Chunking: ChunkingConfig{
			TextTokenBudget:        8000,
			TableTokenBudget:       4000,
			CharsPerToken:          4,
			SingleRequestThreshold: 64000, // ~16k tokens fits one request
		},
		Scheduler: SchedulerConfig{
			BatchSize:        5,
			MaxConcurrency:   3,
			StageTimeout:     Duration(10 * time.Minute),
			WarnFailureRatio: 0.3,
		},
		Extraction: ExtractionConfig{
			ConnectionRetryMax: 5,
			SemanticRetryMax:   2,
			BackoffBase:        Duration(time.Second),
			BackoffMax:         Duration(30 * time.Second),
			BackoffJitter:      Duration(500 * time.Millisecond),
			ConnectTimeout:     Duration(10 * time.Second),
			ReadTimeout:        Duration(120 * time.Second), // Large contracts take a while to come back
			Temperature:        0.1,
			MaxTokens:          4000,
			ContextChars:       1000,
		},
		Aggregation: AggregationConfig{
			MergeRetryMax:    3,
			MergeBackoffBase: Duration(2 * time.Second),
			MergeTimeout:     Duration(3 * time.Minute),
			Temperature:      0.1,
			MaxTokens:        8000,
			ReportConflicts:  true,
		},
		Pipeline: PipelineConfig{
			SuccessThreshold: 0.5,
			StrictValidation: false,
			RunItemsPass:     true,
			StaleAfter:       Duration(30 * time.Minute),
		},
		Bridge: BridgeConfig{
			ClientID:          "pactum",
			HeartbeatInterval: Duration(30 * time.Second),
			HeartbeatGrace:    Duration(75 * time.Second), // Two missed heartbeats plus slack
			CommandTimeout:    Duration(60 * time.Second),
			DialTimeout:       Duration(10 * time.Second),
			CreateAgreement:   true,
			AttachFile:        true,
		},
		Gemini: GeminiConfig{
			APIKey:      "{gemini_api_key}",
			Model:       "gemini-2.5-flash",
			Temperature: 0.1,
		},
		Claude: ClaudeConfig{
			APIKey:      "{anthropic_api_key}",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   4000,
			Temperature: 0.1,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies PACTUM_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PACTUM_ENV"); env != "" {
		config.Environment = env
	}

	// Storage
	if badgerPath := os.Getenv("PACTUM_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging
	if level := os.Getenv("PACTUM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("PACTUM_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Chunking and scheduling
	envInt("PACTUM_TEXT_TOKEN_BUDGET", &config.Chunking.TextTokenBudget)
	envInt("PACTUM_TABLE_TOKEN_BUDGET", &config.Chunking.TableTokenBudget)
	envInt("PACTUM_BATCH_SIZE", &config.Scheduler.BatchSize)
	envInt("PACTUM_MAX_CONCURRENCY", &config.Scheduler.MaxConcurrency)
	envDuration("PACTUM_STAGE_TIMEOUT", &config.Scheduler.StageTimeout)

	// Extraction
	envInt("PACTUM_CONNECTION_RETRY_MAX", &config.Extraction.ConnectionRetryMax)
	envInt("PACTUM_SEMANTIC_RETRY_MAX", &config.Extraction.SemanticRetryMax)
	envDuration("PACTUM_READ_TIMEOUT", &config.Extraction.ReadTimeout)
	if model := os.Getenv("PACTUM_EXTRACTION_MODEL"); model != "" {
		config.Extraction.Model = model
	}

	// Pipeline
	if threshold := os.Getenv("PACTUM_SUCCESS_THRESHOLD"); threshold != "" {
		if v, err := strconv.ParseFloat(threshold, 64); err == nil {
			config.Pipeline.SuccessThreshold = v
		}
	}
	if strict := os.Getenv("PACTUM_STRICT_VALIDATION"); strict != "" {
		if v, err := strconv.ParseBool(strict); err == nil {
			config.Pipeline.StrictValidation = v
		}
	}

	// Bridge
	if url := os.Getenv("PACTUM_BRIDGE_URL"); url != "" {
		config.Bridge.URL = url
	}
	if token := os.Getenv("PACTUM_BRIDGE_TOKEN"); token != "" {
		config.Bridge.Token = token
	}

	// Providers
	if provider := os.Getenv("PACTUM_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(provider)
	}
	if key := os.Getenv("PACTUM_GEMINI_API_KEY"); key != "" {
		config.Gemini.APIKey = key
	}
	if key := os.Getenv("PACTUM_CLAUDE_API_KEY"); key != "" {
		config.Claude.APIKey = key
	} else if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.Claude.APIKey = key
	}
}

func envInt(name string, target *int) {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			*target = v
		}
	}
}

func envDuration(name string, target *Duration) {
	if raw := os.Getenv(name); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			*target = Duration(d)
		}
	}
}

// Validate rejects configurations no pipeline run could use
func (c *Config) Validate() error {
	switch {
	case c.Chunking.TextTokenBudget <= 0 || c.Chunking.TableTokenBudget <= 0:
		return fmt.Errorf("chunking token budgets must be positive")
	case c.Chunking.CharsPerToken <= 0:
		return fmt.Errorf("chunking.chars_per_token must be positive")
	case c.Scheduler.BatchSize <= 0:
		return fmt.Errorf("scheduler.batch_size must be positive")
	case c.Scheduler.MaxConcurrency <= 0:
		return fmt.Errorf("scheduler.max_concurrency must be at least 1")
	case c.Extraction.ConnectionRetryMax <= 0 || c.Extraction.SemanticRetryMax <= 0:
		return fmt.Errorf("extraction retry maxima must be at least 1")
	case c.Pipeline.SuccessThreshold < 0 || c.Pipeline.SuccessThreshold > 1:
		return fmt.Errorf("pipeline.success_threshold must be within [0,1]")
	case c.Pipeline.StaleAfter < 0:
		return fmt.Errorf("pipeline.stale_after must not be negative")
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
