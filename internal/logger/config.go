package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultTimeLocation = "Local"

type Config struct {
	DefaultLevel LogLevel
	// Levels per logger name, overriding DefaultLevel.
	PackageLevels   map[string]LogLevel
	Writer          io.Writer
	ConsoleFormat   bool
	ShowCaller      bool
	TimeLocation    string
	ShowGoroutineID bool
}

// fileConfig is the YAML layout of the logger configuration file.
type fileConfig struct {
	DefaultLevel    string            `yaml:"defaultLevel"`
	PackageLevels   map[string]string `yaml:"packageLevels"`
	OutputPath      string            `yaml:"outputPath"`
	ConsoleFormat   bool              `yaml:"consoleFormat"`
	ShowCaller      bool              `yaml:"showCaller"`
	TimeLocation    string            `yaml:"timeLocation"`
	ShowGoroutineID bool              `yaml:"showGoroutineID"`
}

// Logs go to stderr so that command output on stdout stays machine readable.
func defaultConfig() Config {
	return Config{
		DefaultLevel:  INFO,
		Writer:        os.Stderr,
		ConsoleFormat: true,
		TimeLocation:  defaultTimeLocation,
	}
}

func loadConfigFromFile(fileName string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(fileName))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read logger config file: %w", err)
	}
	fc := &fileConfig{}
	if err := yaml.Unmarshal(data, fc); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal logger config: %w", err)
	}

	conf := defaultConfig()
	conf.ConsoleFormat = fc.ConsoleFormat
	conf.ShowCaller = fc.ShowCaller
	conf.ShowGoroutineID = fc.ShowGoroutineID
	if fc.TimeLocation != "" {
		conf.TimeLocation = fc.TimeLocation
	}
	if fc.DefaultLevel != "" {
		if conf.DefaultLevel, err = ParseLevel(fc.DefaultLevel); err != nil {
			return Config{}, fmt.Errorf("default level: %w", err)
		}
	}
	conf.PackageLevels = make(map[string]LogLevel, len(fc.PackageLevels))
	for name, level := range fc.PackageLevels {
		lvl, err := ParseLevel(level)
		if err != nil {
			return Config{}, fmt.Errorf("level of %s: %w", name, err)
		}
		conf.PackageLevels[global.normalizeName(name)] = lvl
	}
	if fc.OutputPath != "" {
		file, err := os.OpenFile(fc.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // -rw-------
		if err != nil {
			return Config{}, fmt.Errorf("failed to open log file: %w", err)
		}
		conf.Writer = file
	}
	return conf, nil
}
