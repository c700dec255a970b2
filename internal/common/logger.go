package common

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

const defaultTimeFormat = "15:04:05"

// GetLogger returns the global logger instance, creating a console logger on first use
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	if globalLogger != nil {
		loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(consoleWriter(defaultTimeFormat))
	}
	return globalLogger
}

// InitLogger initializes the arbor logger from the logging configuration
func InitLogger(config *Config) arbor.ILogger {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	timeFormat := config.Logging.TimeFormat
	if timeFormat == "" {
		timeFormat = defaultTimeFormat
	}

	logger := arbor.NewLogger()

	hasFileOutput := false
	hasStdoutOutput := false
	for _, output := range config.Logging.Output {
		switch output {
		case "file":
			hasFileOutput = true
		case "stdout", "console":
			hasStdoutOutput = true
		}
	}

	if hasFileOutput {
		logsDir := LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			fmt.Printf("Warning: Failed to create logs directory: %v\n", err)
		} else {
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   filepath.Join(logsDir, "pactum.log"),
				TimeFormat: timeFormat,
				MaxSize:    100 * 1024 * 1024, // 100 MB
				MaxBackups: 3,
				TextOutput: true,
			})
		}
	}

	// Always keep a console writer when nothing else is configured
	if hasStdoutOutput || !hasFileOutput {
		logger = logger.WithConsoleWriter(consoleWriter(timeFormat))
	}

	logger = logger.WithLevelFromString(config.Logging.Level)
	globalLogger = logger

	return logger
}

// LogsDir returns the logs directory next to the executable, falling back to ./logs
func LogsDir() string {
	execPath, err := os.Executable()
	if err != nil {
		return "./logs"
	}
	return filepath.Join(filepath.Dir(execPath), "logs")
}

func consoleWriter(timeFormat string) models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:       models.LogWriterTypeConsole,
		TimeFormat: timeFormat,
		TextOutput: true,
	}
}
