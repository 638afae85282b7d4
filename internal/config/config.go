// Package config loads wcwallet settings from flags, environment and
// $HOME/.wcwallet/config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/yolodolo42/wcwallet/internal/chain"
	"github.com/yolodolo42/wcwallet/internal/session"
)

const (
	EnvPrefix = "WCWALLET"
	dirName   = ".wcwallet"
)

// Config is the resolved wcwallet configuration.
type Config struct {
	RelayURL           string                        `mapstructure:"relay_url"`
	Listen             string                        `mapstructure:"listen"`
	Chain              string                        `mapstructure:"chain"`
	Chains             []string                      `mapstructure:"chains"`
	Methods            []string                      `mapstructure:"methods"`
	NegotiationTimeout time.Duration                 `mapstructure:"negotiation_timeout"`
	SignTimeout        time.Duration                 `mapstructure:"sign_timeout"`
	LogLevel           string                        `mapstructure:"log_level"`
	LogDevelopment     bool                          `mapstructure:"log_development"`
	Metadata           session.Metadata              `mapstructure:"metadata"`
	Networks           map[string]*chain.ChainConfig `mapstructure:"networks"`
}

// SetDefaults registers every known key on v. Keys must be registered for
// environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("relay_url", "ws://127.0.0.1:8787")
	v.SetDefault("listen", "127.0.0.1:8787")
	v.SetDefault("chain", "alfajores")
	v.SetDefault("chains", []string{"celo:44787"})
	v.SetDefault("methods", []string{
		"eth_sendTransaction",
		"eth_signTransaction",
		"personal_sign",
		"eth_signTypedData",
	})
	v.SetDefault("negotiation_timeout", 5*time.Minute)
	v.SetDefault("sign_timeout", 2*time.Minute)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_development", false)
	v.SetDefault("metadata.name", "wcwallet")
	v.SetDefault("metadata.description", "Terminal wallet with remote signing")
	v.SetDefault("metadata.url", "https://github.com/yolodolo42/wcwallet")
	v.SetDefault("metadata.icons", []string{})
}

// Dir returns the wcwallet data directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return dirName
	}
	return filepath.Join(home, dirName)
}

// Load reads configuration into v and decodes it. An explicit file must
// exist; the default $HOME/.wcwallet/config.yaml is optional.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Session builds the negotiation config. OnURI is left for the caller.
func (c *Config) Session() session.Config {
	return session.Config{
		Chains:   c.Chains,
		Methods:  c.Methods,
		Metadata: c.Metadata,
		Timeout:  c.NegotiationTimeout,
	}
}

// Validate checks the settings that every command depends on.
func (c *Config) Validate() error {
	if c.RelayURL == "" {
		return fmt.Errorf("%w: relay_url is empty", session.ErrInvalidConfig)
	}
	if c.SignTimeout < 0 || c.NegotiationTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", session.ErrInvalidConfig)
	}
	return c.Session().Validate()
}
