package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the effective pipeline limits
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.Print("Pactum", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("provider", string(config.LLM.DefaultProvider)).
		Int("text_budget", config.Chunking.TextTokenBudget).
		Int("table_budget", config.Chunking.TableTokenBudget).
		Int("batch_size", config.Scheduler.BatchSize).
		Int("max_concurrency", config.Scheduler.MaxConcurrency).
		Bool("bridge_enabled", config.Bridge.URL != "").
		Msg("Pactum starting")
}
