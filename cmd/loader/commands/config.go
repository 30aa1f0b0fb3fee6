package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "LOADER"

// getConfig holds the resolved settings of the get command.
type getConfig struct {
	Type            string
	Mime            string
	Offset          int64
	Length          int64
	Headers         []string
	WithCredentials bool
	BasePath        string
	CacheDir        string
	CompressCache   bool
	CacheMaxBytes   int64
	Integrity       string
	MaxConcurrent   int
	Out             string
	Metrics         bool
	LogLevel        string
}

// loadConfig merges flags, LOADER_* environment variables and the optional
// config file. Explicit flags win over the environment, which wins over the
// file.
func loadConfig(cmd *cobra.Command) (*getConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	configPath := v.GetString("config")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(configPath == "" && os.IsNotExist(err)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return &getConfig{
		Type:            v.GetString("type"),
		Mime:            v.GetString("mime"),
		Offset:          v.GetInt64("offset"),
		Length:          v.GetInt64("length"),
		Headers:         v.GetStringSlice("header"),
		WithCredentials: v.GetBool("with-credentials"),
		BasePath:        v.GetString("base-path"),
		CacheDir:        v.GetString("cache-dir"),
		CompressCache:   v.GetBool("compress-cache"),
		CacheMaxBytes:   v.GetInt64("cache-max-bytes"),
		Integrity:       v.GetString("integrity"),
		MaxConcurrent:   v.GetInt("max-concurrent"),
		Out:             v.GetString("out"),
		Metrics:         v.GetBool("metrics"),
		LogLevel:        v.GetString("log-level"),
	}, nil
}

func defaultConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "loader")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "loader")
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
