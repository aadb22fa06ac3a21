package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds app configuration
type Config struct {
	InputFile string `mapstructure:"input"`

	// OutputDir is where extracted files go. Defaults to the current
	// working directory.
	OutputDir string `mapstructure:"output"`

	// ArchiveDir extracts into <OutputDir>/<archive name without extension>
	// instead of directly into OutputDir
	ArchiveDir bool `mapstructure:"archive_dir"`

	// Workers > 1 copies files concurrently
	Workers int `mapstructure:"workers"`

	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`

	// KeepGoing skips files that cannot be written instead of aborting
	KeepGoing bool `mapstructure:"keep_going"`

	DryRun       bool   `mapstructure:"dry_run"`
	LogLevel     string `mapstructure:"log_level"`
	LogOutputDir string `mapstructure:"log_output_dir"`
	NoColor      bool   `mapstructure:"no_color"`
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.InputFile) == "" {
		return errors.New("no WAD file given: pass it as an argument or with --input")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// DestinationRoot resolves the directory files are extracted under.
func (c *Config) DestinationRoot() (string, error) {
	base := c.OutputDir
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		base = wd
	}

	if !c.ArchiveDir {
		return base, nil
	}

	name := filepath.Base(c.InputFile)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		stem = name
	}
	return filepath.Join(base, stem), nil
}
