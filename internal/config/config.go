package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// NetworkConfig describes one EVM network the analyzer can connect to.
// Endpoints are ordered: the first entry is the primary, the rest are fallbacks.
type NetworkConfig struct {
	ChainID          int64    `mapstructure:"chain_id"`
	Endpoints        []string `mapstructure:"endpoints"`
	BlockTimeSeconds int64    `mapstructure:"block_time_seconds"`
}

// ScanConfig bounds the event-retrieval engine.
type ScanConfig struct {
	ChunkSize    uint64 `mapstructure:"chunk_size"`
	MaxEvents    int    `mapstructure:"max_events"`
	BatchSize    int    `mapstructure:"batch_size"` // concurrent block resolutions per batch
	BlocksPerDay uint64 `mapstructure:"blocks_per_day"`
	LookbackDays int    `mapstructure:"lookback_days"`
}

type Config struct {
	Networks map[string]NetworkConfig `mapstructure:"networks"`
	Scan     ScanConfig               `mapstructure:"scan"`
	LogFile  string                   `mapstructure:"log_file"`
	Debug    bool                     `mapstructure:"debug"`
}

const (
	DefaultChunkSize        = 10_000
	DefaultMaxEvents        = 2_000
	DefaultBatchSize        = 20
	DefaultBlocksPerDay     = 6_500
	DefaultLookbackDays     = 30
	DefaultBlockTimeSeconds = 13
)

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		Networks: map[string]NetworkConfig{
			"ethereum": {
				ChainID:          1,
				Endpoints:        []string{"https://eth.llamarpc.com", "https://rpc.ankr.com/eth", "https://cloudflare-eth.com"},
				BlockTimeSeconds: DefaultBlockTimeSeconds,
			},
			"sepolia": {
				ChainID:          11155111,
				Endpoints:        []string{"https://rpc.sepolia.org", "https://rpc2.sepolia.org"},
				BlockTimeSeconds: DefaultBlockTimeSeconds,
			},
			"polygon": {
				ChainID:          137,
				Endpoints:        []string{"https://polygon-rpc.com", "https://rpc.ankr.com/polygon"},
				BlockTimeSeconds: 2,
			},
		},
		Scan: ScanConfig{
			ChunkSize:    DefaultChunkSize,
			MaxEvents:    DefaultMaxEvents,
			BatchSize:    DefaultBatchSize,
			BlocksPerDay: DefaultBlocksPerDay,
			LookbackDays: DefaultLookbackDays,
		},
		LogFile: "logs/tokenscope.log",
	}
}

// Load reads configuration from the given file, applies environment
// overrides and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetDefault("scan.chunk_size", DefaultChunkSize)
	v.SetDefault("scan.max_events", DefaultMaxEvents)
	v.SetDefault("scan.batch_size", DefaultBatchSize)
	v.SetDefault("scan.blocks_per_day", DefaultBlocksPerDay)
	v.SetDefault("scan.lookback_days", DefaultLookbackDays)
	v.SetDefault("log_file", cfg.LogFile)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := loadEnvironmentVariables(v, cfg); err != nil {
		return nil, err
	}

	return cfg, validateConfig(cfg)
}

// BlockTime returns the block-time assumption for a network in seconds,
// falling back to the default when the network omits it.
func (c *Config) BlockTime(network string) int64 {
	if net, ok := c.Networks[network]; ok && net.BlockTimeSeconds > 0 {
		return net.BlockTimeSeconds
	}
	return DefaultBlockTimeSeconds
}

func validateConfig(cfg *Config) error {
	if len(cfg.Networks) == 0 {
		return errors.New("no networks configured")
	}
	for name, net := range cfg.Networks {
		if len(net.Endpoints) == 0 {
			return fmt.Errorf("network %s has no endpoints", name)
		}
		for _, endpoint := range net.Endpoints {
			if err := validateEndpointURL(endpoint); err != nil {
				return fmt.Errorf("network %s: %w", name, err)
			}
		}
		if net.BlockTimeSeconds < 0 {
			return fmt.Errorf("network %s: invalid block_time_seconds", name)
		}
	}
	return validateScan(&cfg.Scan)
}

func validateScan(scan *ScanConfig) error {
	if scan.ChunkSize == 0 {
		return errors.New("invalid scan.chunk_size")
	}
	if scan.MaxEvents <= 0 {
		return errors.New("invalid scan.max_events")
	}
	if scan.BatchSize <= 0 {
		return errors.New("invalid scan.batch_size")
	}
	if scan.BlocksPerDay == 0 {
		return errors.New("invalid scan.blocks_per_day")
	}
	if scan.LookbackDays <= 0 {
		return errors.New("invalid scan.lookback_days")
	}
	return nil
}

func validateEndpointURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL %q", rawURL)
	}
	switch {
	case strings.HasPrefix(parsed.Scheme, "http"), strings.HasPrefix(parsed.Scheme, "ws"):
		return nil
	default:
		return fmt.Errorf("endpoint %q must use http(s) or ws(s)", rawURL)
	}
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("TOKENSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// TOKENSCOPE_RPC_LIST overrides the endpoint list of the network named by
	// TOKENSCOPE_NETWORK (default "ethereum").
	envRPCList := v.GetString("RPC_LIST")
	if envRPCList == "" {
		return nil
	}

	network := v.GetString("NETWORK")
	if network == "" {
		network = "ethereum"
	}

	var cleaned []string
	for _, rpc := range strings.Split(envRPCList, ",") {
		if clean := strings.TrimSpace(rpc); clean != "" {
			cleaned = append(cleaned, clean)
		}
	}
	if len(cleaned) == 0 {
		return nil
	}

	if cfg.Networks == nil {
		cfg.Networks = make(map[string]NetworkConfig)
	}
	net := cfg.Networks[network]
	net.Endpoints = cleaned
	cfg.Networks[network] = net
	return nil
}
