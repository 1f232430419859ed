package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Env vars holding secrets. Secrets never live in the YAML file itself; the
// file may only point at alternate env var names.
const (
	EnvWalletPrivateKey = "AGENT_WALLET_PRIVATE_KEY"
	EnvWalletID         = "AGENT_WALLET_ID"
	EnvWalletData       = "AGENT_WALLET_DATA"
	EnvLLMAPIKey        = "AGENT_LLM_API_KEY"
	EnvRPCURL           = "AGENT_RPC_URL"
)

type GlobalFlags struct {
	ConfigPath string
	Network    string
	RPCURL     string
	Listen     string
	LogLevel   string
	Timeout    string
}

type Settings struct {
	Network          string
	RPCURL           string
	Listen           string
	LogLevel         string
	LogJSON          bool
	WalletPrivateKey string
	WalletID         string
	WalletData       string
	// LLMAPIKey is loaded for the chat client that runs the model outside
	// this process; nothing server-side consumes it.
	LLMAPIKey       string
	FaucetURL       string
	SponsorURL      string
	FaucetPerMinute int
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration
	QuoteTimeout    time.Duration
	StorePath       string
	StoreLockPath   string
}

type fileConfig struct {
	Network string `yaml:"network"`
	RPCURL  string `yaml:"rpc_url"`
	Listen  string `yaml:"listen"`
	Log     struct {
		Level string `yaml:"level"`
		JSON  *bool  `yaml:"json"`
	} `yaml:"log"`
	Wallet struct {
		PrivateKeyEnv string `yaml:"private_key_env"`
		IDEnv         string `yaml:"id_env"`
		DataEnv       string `yaml:"data_env"`
	} `yaml:"wallet"`
	Faucet struct {
		URL       string `yaml:"url"`
		PerMinute *int   `yaml:"per_minute"`
	} `yaml:"faucet"`
	SponsorURL string `yaml:"sponsor_url"`
	Confirm    struct {
		Timeout      string `yaml:"timeout"`
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"confirm"`
	Quotes struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"quotes"`
	Store struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"store"`
}

// BindFlags registers the global flags on a command's persistent flag set.
func BindFlags(fs *pflag.FlagSet, flags *GlobalFlags) {
	fs.StringVar(&flags.ConfigPath, "config", "", "path to config.yaml")
	fs.StringVar(&flags.Network, "network", "", "network id (base-sepolia or base-mainnet)")
	fs.StringVar(&flags.RPCURL, "rpc-url", "", "chain rpc endpoint")
	fs.StringVar(&flags.Listen, "listen", "", "http listen address")
	fs.StringVar(&flags.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&flags.Timeout, "timeout", "", "confirmation timeout, e.g. 2m")
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.ConfirmTimeout <= 0 {
		settings.ConfirmTimeout = 2 * time.Minute
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 2 * time.Second
	}
	if settings.QuoteTimeout <= 0 {
		settings.QuoteTimeout = 15 * time.Second
	}
	if settings.FaucetPerMinute <= 0 {
		settings.FaucetPerMinute = 1
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	storePath, lockPath, err := defaultStorePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Network:         "base-sepolia",
		Listen:          ":8080",
		LogLevel:        "info",
		ConfirmTimeout:  2 * time.Minute,
		PollInterval:    2 * time.Second,
		QuoteTimeout:    15 * time.Second,
		FaucetPerMinute: 1,
		StorePath:       storePath,
		StoreLockPath:   lockPath,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "defi-agent", "config.yaml"), nil
}

func defaultStorePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "defi-agent")
	return filepath.Join(dir, "outcomes.db"), filepath.Join(dir, "outcomes.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Network != "" {
		settings.Network = strings.ToLower(cfg.Network)
	}
	if cfg.RPCURL != "" {
		settings.RPCURL = cfg.RPCURL
	}
	if cfg.Listen != "" {
		settings.Listen = cfg.Listen
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = strings.ToLower(cfg.Log.Level)
	}
	if cfg.Log.JSON != nil {
		settings.LogJSON = *cfg.Log.JSON
	}
	if cfg.Wallet.PrivateKeyEnv != "" {
		settings.WalletPrivateKey = os.Getenv(cfg.Wallet.PrivateKeyEnv)
	}
	if cfg.Wallet.IDEnv != "" {
		settings.WalletID = os.Getenv(cfg.Wallet.IDEnv)
	}
	if cfg.Wallet.DataEnv != "" {
		settings.WalletData = os.Getenv(cfg.Wallet.DataEnv)
	}
	if cfg.Faucet.URL != "" {
		settings.FaucetURL = cfg.Faucet.URL
	}
	if cfg.Faucet.PerMinute != nil {
		settings.FaucetPerMinute = *cfg.Faucet.PerMinute
	}
	if cfg.SponsorURL != "" {
		settings.SponsorURL = cfg.SponsorURL
	}
	if cfg.Confirm.Timeout != "" {
		d, err := time.ParseDuration(cfg.Confirm.Timeout)
		if err != nil {
			return fmt.Errorf("config confirm.timeout: %w", err)
		}
		settings.ConfirmTimeout = d
	}
	if cfg.Confirm.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Confirm.PollInterval)
		if err != nil {
			return fmt.Errorf("config confirm.poll_interval: %w", err)
		}
		settings.PollInterval = d
	}
	if cfg.Quotes.Timeout != "" {
		d, err := time.ParseDuration(cfg.Quotes.Timeout)
		if err != nil {
			return fmt.Errorf("config quotes.timeout: %w", err)
		}
		settings.QuoteTimeout = d
	}
	if cfg.Store.Path != "" {
		settings.StorePath = cfg.Store.Path
	}
	if cfg.Store.LockPath != "" {
		settings.StoreLockPath = cfg.Store.LockPath
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("AGENT_NETWORK"); v != "" {
		settings.Network = strings.ToLower(v)
	}
	if v := os.Getenv(EnvRPCURL); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("AGENT_LISTEN"); v != "" {
		settings.Listen = v
	}
	if v := os.Getenv("AGENT_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("AGENT_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.LogJSON = b
		}
	}
	if v := os.Getenv(EnvWalletPrivateKey); v != "" {
		settings.WalletPrivateKey = v
	}
	if v := os.Getenv(EnvWalletID); v != "" {
		settings.WalletID = v
	}
	if v := os.Getenv(EnvWalletData); v != "" {
		settings.WalletData = v
	}
	if v := os.Getenv(EnvLLMAPIKey); v != "" {
		settings.LLMAPIKey = v
	}
	if v := os.Getenv("AGENT_FAUCET_URL"); v != "" {
		settings.FaucetURL = v
	}
	if v := os.Getenv("AGENT_SPONSOR_URL"); v != "" {
		settings.SponsorURL = v
	}
	if v := os.Getenv("AGENT_STORE_PATH"); v != "" {
		settings.StorePath = v
	}
	if v := os.Getenv("AGENT_STORE_LOCK_PATH"); v != "" {
		settings.StoreLockPath = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.Network != "" {
		settings.Network = strings.ToLower(flags.Network)
	}
	if flags.RPCURL != "" {
		settings.RPCURL = flags.RPCURL
	}
	if flags.Listen != "" {
		settings.Listen = flags.Listen
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.ConfirmTimeout = d
	}
	if strings.TrimSpace(settings.RPCURL) == "" {
		return fmt.Errorf("rpc url is required (set %s, rpc_url in config, or --rpc-url)", EnvRPCURL)
	}
	return nil
}
