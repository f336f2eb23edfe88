// Package common holds the bootstrap shared by the engine commands.
package common

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ducminhle1904/hft-trading-engine/internal/config"
	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
)

// CommonFlags contains flags that are shared across multiple commands
type CommonFlags struct {
	ConfigFile *string
	EnvFile    *string
	LogLevel   *string
	LogFile    *string
	Version    *bool
}

// RegisterCommonFlags registers common flags on fs
func RegisterCommonFlags(fs *flag.FlagSet) *CommonFlags {
	return &CommonFlags{
		ConfigFile: fs.String("config", "", "YAML configuration file (defaults apply when empty)"),
		EnvFile:    fs.String("env", ".env", "Environment file path"),
		LogLevel:   fs.String("log-level", "", "Override the configured log level"),
		LogFile:    fs.String("log-file", "", "Override the configured log file"),
		Version:    fs.Bool("version", false, "Show version information"),
	}
}

// LoadEnvFile loads environment variables from path. A missing file is not
// an error; the process environment is used as is.
func LoadEnvFile(path string) (bool, error) {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		return false, fmt.Errorf("could not load environment file %s: %w", path, err)
	}
	return true, nil
}

// Bootstrap loads the environment file and configuration, applies flag
// overrides and builds the logger.
func Bootstrap(flags *CommonFlags) (*config.Config, *logger.Logger, error) {
	loadedEnv, err := LoadEnvFile(*flags.EnvFile)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(*flags.ConfigFile)
	if err != nil {
		return nil, nil, err
	}
	if *flags.LogLevel != "" {
		cfg.Logger.Level = *flags.LogLevel
	}
	if *flags.LogFile != "" {
		cfg.Logger.OutputFile = *flags.LogFile
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, err
	}
	log.Info("%s %s (%s)", ProjectName, GetFullVersion(), cfg.Environment)
	if loadedEnv {
		log.Debug("environment loaded from %s", *flags.EnvFile)
	}
	return cfg, log, nil
}
