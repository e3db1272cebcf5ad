package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"supportchat/api/internal/chatclient"
)

const envPrefix = "CHATCTL"

var errNotSignedIn = errors.New("not signed in; run chatctl login first")

// cliConfig is what chatctl remembers between runs.
type cliConfig struct {
	Server       string        `mapstructure:"server"`
	Token        string        `mapstructure:"token"`
	RefreshToken string        `mapstructure:"refresh_token"`
	UserID       string        `mapstructure:"user_id"`
	Role         string        `mapstructure:"role"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Verbose      bool          `mapstructure:"verbose"`
}

var (
	settings = viper.New()
	cfgFile  string
)

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Command line client for the support chat API",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return loadConfig()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.chatctl.yaml)")
	flags.String("server", "http://localhost:8787", "API base URL")
	flags.String("token", "", "access token (overrides the saved session)")
	flags.Duration("timeout", 20*time.Second, "per-request timeout")
	flags.BoolP("verbose", "v", false, "log poll and send failures")

	for _, name := range []string{"server", "token", "timeout", "verbose"} {
		_ = settings.BindPFlag(name, flags.Lookup(name))
	}
}

func loadConfig() error {
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	for _, key := range []string{"refresh_token", "user_id", "role"} {
		_ = settings.BindEnv(key)
	}

	path, err := configPath()
	if err != nil {
		return err
	}
	settings.SetConfigFile(path)
	settings.SetConfigType("yaml")
	if err := settings.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return nil
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".chatctl.yaml"), nil
}

func currentConfig() (cliConfig, error) {
	var cfg cliConfig
	if err := settings.Unmarshal(&cfg); err != nil {
		return cliConfig{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// saveSession persists the signed-in identity next to the other settings.
func saveSession(session chatclient.Session) error {
	settings.Set("token", session.AccessToken)
	settings.Set("refresh_token", session.RefreshToken)
	settings.Set("user_id", session.UserID)
	settings.Set("role", session.Role)

	path, err := configPath()
	if err != nil {
		return err
	}
	if err := settings.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}

func logger(cfg cliConfig) zerolog.Logger {
	if !cfg.Verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()
}

func newClient(cfg cliConfig) *chatclient.Client {
	return chatclient.New(cfg.Server,
		chatclient.WithTimeout(cfg.Timeout),
		chatclient.WithToken(cfg.Token),
		chatclient.WithLogger(logger(cfg)),
	)
}

// signedIn returns a client for a saved session.
func signedIn() (cliConfig, *chatclient.Client, error) {
	cfg, err := currentConfig()
	if err != nil {
		return cliConfig{}, nil, err
	}
	if cfg.Token == "" || cfg.UserID == "" {
		return cliConfig{}, nil, errNotSignedIn
	}
	return cfg, newClient(cfg), nil
}

func isAdmin(cfg cliConfig) bool {
	return strings.EqualFold(cfg.Role, "ADMIN")
}
