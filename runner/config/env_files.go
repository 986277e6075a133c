package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads the given .env files into the process environment so
// that ${VAR} references in the YAML config can see them. Missing files are
// skipped and variables already set are left untouched. It returns how many
// files were loaded.
func LoadEnvFiles(files []string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil || info.IsDir() {
			continue
		}
		existing = append(existing, file)
	}

	if len(existing) == 0 {
		return 0, nil
	}

	if err := godotenv.Load(existing...); err != nil {
		return 0, fmt.Errorf("failed to load env files: %w", err)
	}
	return len(existing), nil
}
