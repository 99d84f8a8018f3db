// Package config provides a reusable loader for the treasury node's
// configuration files and environment variables.
//
// Version: v0.1.0
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"blockhost-treasury/core/addr"
	"blockhost-treasury/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// DefaultConfigDir is used when BLOCKHOST_CONFIG_DIR is unset.
const DefaultConfigDir = "/etc/blockhost"

// FundManager mirrors blockhost.yaml's fund-manager section,
// with field names and defaults matching its on-disk keys.
type FundManager struct {
	FundCycleIntervalHours     int `mapstructure:"fund_cycle_interval_hours" json:"fund_cycle_interval_hours"`
	GasCheckIntervalMinutes    int `mapstructure:"gas_check_interval_minutes" json:"gas_check_interval_minutes"`
	MinWithdrawalSats          int `mapstructure:"min_withdrawal_sats" json:"min_withdrawal_sats"`
	GasLowThresholdSats        int `mapstructure:"gas_low_threshold_sats" json:"gas_low_threshold_sats"`
	GasSwapAmountSats          int `mapstructure:"gas_swap_amount_sats" json:"gas_swap_amount_sats"`
	ServerStablecoinBufferSats int `mapstructure:"server_stablecoin_buffer_sats" json:"server_stablecoin_buffer_sats"`
	HotWalletGasSats           int `mapstructure:"hot_wallet_gas_sats" json:"hot_wallet_gas_sats"`
}

// Logging mirrors the teacher's logging section, narrowed to what the
// treasury daemon actually consumes.
type Logging struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file" json:"file"`
}

// Config is the unified configuration for the treasury node, loaded
// from blockhost.yaml.
type Config struct {
	FundManager FundManager `mapstructure:"fund_manager" json:"fund_manager"`
	Logging     Logging     `mapstructure:"logging" json:"logging"`
}

func fundManagerDefaults() FundManager {
	return FundManager{
		FundCycleIntervalHours:     24,
		GasCheckIntervalMinutes:    30,
		MinWithdrawalSats:          50_000,
		GasLowThresholdSats:        10_000,
		GasSwapAmountSats:          50_000,
		ServerStablecoinBufferSats: 5_000_000,
		HotWalletGasSats:           100_000,
	}
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads blockhost.yaml out of dir (falling back to
// BLOCKHOST_CONFIG_DIR then DefaultConfigDir when dir is empty),
// applies the fund-manager defaults for anything the file omits, and
// overlays environment-variable overrides. Floating-point YAML values
// for integer fields are truncated, not rounded, matching viper's
// native int coercion.
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = utils.EnvOrDefault("BLOCKHOST_CONFIG_DIR", DefaultConfigDir)
	}

	AppConfig = Config{FundManager: fundManagerDefaults(), Logging: Logging{Level: "info"}}

	viper.SetConfigName("blockhost")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(dir)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if os.IsNotExist(unwrapConfigFileNotFound(err)) {
			return &AppConfig, nil
		}
		return nil, utils.Wrap(err, "load blockhost.yaml")
	}
	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal blockhost.yaml")
	}
	return &AppConfig, nil
}

// unwrapConfigFileNotFound reports whether err signals a missing
// config file, in which case Load proceeds on defaults alone.
func unwrapConfigFileNotFound(err error) error {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return os.ErrNotExist
	}
	return nil
}

// LoadFromEnv loads configuration using BLOCKHOST_CONFIG_DIR.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

// AMMConfig is the optional automated-market-maker configuration
// block inside web3-defaults.yaml.
type AMMConfig struct {
	Router  string `yaml:"router" json:"router"`
	Factory string `yaml:"factory" json:"factory"`
}

// Web3Defaults mirrors web3-defaults.yaml: chain RPC URL,
// chain id, subscription/native-swap contract addresses, and an
// optional AMM block.
type Web3Defaults struct {
	ChainRPCURL               string     `yaml:"chain_rpc_url" json:"chain_rpc_url"`
	ChainID                   int        `yaml:"chain_id" json:"chain_id"`
	SubscriptionContract      string     `yaml:"subscription_contract" json:"subscription_contract"`
	NativeSwapContract        string     `yaml:"native_swap_contract" json:"native_swap_contract"`
	AMM                       *AMMConfig `yaml:"amm,omitempty" json:"amm,omitempty"`
}

// LoadWeb3Defaults reads web3-defaults.yaml out of dir as a plain file
// (not through viper — it is an agent-owned document, not node config).
func LoadWeb3Defaults(dir string) (*Web3Defaults, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "web3-defaults.yaml"))
	if err != nil {
		return nil, utils.Wrap(err, "read web3-defaults.yaml")
	}
	var out Web3Defaults
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, utils.Wrap(err, "parse web3-defaults.yaml")
	}
	return &out, nil
}

// RevenueRecipient is one entry of revenue-share.json's recipients list.
type RevenueRecipient struct {
	Role string `json:"role"`
	Bps  uint64 `json:"bps"`
}

// RevenueShare mirrors revenue-share.json.
type RevenueShare struct {
	Enabled      bool               `json:"enabled"`
	TotalBps     uint64             `json:"total_bps"`
	TotalPercent float64            `json:"total_percent,omitempty"`
	Recipients   []RevenueRecipient `json:"recipients"`
}

// LoadRevenueShare reads revenue-share.json out of dir. A missing
// total_bps with a total_percent present is converted by multiplying
// by 100 and rounding.
func LoadRevenueShare(dir string) (*RevenueShare, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "revenue-share.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &RevenueShare{}, nil
		}
		return nil, utils.Wrap(err, "read revenue-share.json")
	}
	var out RevenueShare
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, utils.Wrap(err, "parse revenue-share.json")
	}
	if out.TotalBps == 0 && out.TotalPercent != 0 {
		out.TotalBps = uint64(out.TotalPercent*100 + 0.5)
	}
	return &out, nil
}

// ResolveContractAddress parses one of Web3Defaults' hex contract
// address fields, returning the zero address unset sentinel for an
// empty string.
func ResolveContractAddress(s string) (addr.Address, error) {
	if s == "" {
		return addr.Address{}, nil
	}
	return addr.FromHex(s)
}
