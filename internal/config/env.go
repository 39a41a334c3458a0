package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
)

// LoadEnv sets KEY=VALUE pairs from a dotenv file. Blank lines and lines
// starting with # are ignored; existing variables are not overwritten.
func LoadEnv(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return nil
}

// LoadEnvOptional is LoadEnv that treats a missing file as success.
func LoadEnvOptional(path string) error {
	err := LoadEnv(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
