package badger

import (
	"bufio"
	"context"
	"os"
	"strings"
)

// LoadEnvFile loads secrets from a .env file into the KV store so config can reference them as {key}.
// Format supported:
//   - KEY=value
//   - KEY="value" or KEY='value' (quotes stripped)
//   - # comments and empty lines are ignored
//
// A missing file is not an error.
func (m *Manager) LoadEnvFile(ctx context.Context, filePath string) (int, error) {
	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		m.logger.Debug().Str("file", filePath).Msg(".env file does not exist, skipping")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer file.Close()

	loaded := 0
	lineNum := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !ok || key == "" {
			m.logger.Warn().Str("file", filePath).Int("line", lineNum).Msg("Invalid line format, expected KEY=value")
			continue
		}

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		if value == "" {
			m.logger.Warn().Str("file", filePath).Str("key", key).Msg("Skipping variable with empty value")
			continue
		}

		if err := m.kv.Set(ctx, key, value, "Loaded from .env file"); err != nil {
			return loaded, err
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, err
	}

	m.logger.Debug().Str("file", filePath).Int("loaded", loaded).Msg("Finished loading variables from .env file")
	return loaded, nil
}
