package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sealkms/seal/internal/master"
	"github.com/sealkms/seal/internal/types"
)

// Mode selects how master keys are provisioned.
type Mode string

const (
	ModeOpen         Mode = "Open"
	ModePermissioned Mode = "Permissioned"
)

// Config is the YAML server configuration.
type Config struct {
	ServerMode        Mode           `yaml:"server_mode"`
	KeyServerObjectID string         `yaml:"key_server_object_id,omitempty"` // Open mode
	ClientConfigs     []ClientConfig `yaml:"client_configs,omitempty"`
	SuiRPCURL         string         `yaml:"sui_rpc_url"`
	SupportedVersions VersionRange   `yaml:"supported_versions"`
	CacheTTLs         CacheTTLs      `yaml:"cache_ttls"`
	Deadlines         Deadlines      `yaml:"deadlines"`
	RateLimit         RateLimit      `yaml:"rate_limit"`
	HTTPPort          int            `yaml:"http_port"`
	MetricsPort       int            `yaml:"metrics_port"`
}

type ClientConfig struct {
	Name              string    `yaml:"name"`
	ClientMasterKey   MasterKey `yaml:"client_master_key"`
	KeyServerObjectID string    `yaml:"key_server_object_id"`
	PackageIDs        []string  `yaml:"package_ids"`
}

// MasterKey is the tagged key-variant block.
type MasterKey struct {
	Type                      master.Variant `yaml:"type"`
	EnvVar                    string         `yaml:"env_var,omitempty"`
	DerivationIndex           uint32         `yaml:"derivation_index,omitempty"`
	DeprecatedDerivationIndex uint32         `yaml:"deprecated_derivation_index,omitempty"`
}

type VersionRange struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

type CacheTTLs struct {
	PolicySeconds int `yaml:"policy_seconds"`
	UskSeconds    int `yaml:"usk_seconds"`
	UskMaxEntries int `yaml:"usk_max_entries"`
}

type Deadlines struct {
	DryRunMillis int `yaml:"dry_run_ms"`
}

type RateLimit struct {
	PerAddressRPS float64 `yaml:"per_address_rps"`
	Burst         int     `yaml:"burst"`
	MaxDryRuns    int64   `yaml:"max_concurrent_dry_runs"`
}

// LoadConfig reads and validates the YAML file at path.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.ServerMode {
	case ModeOpen:
		if c.KeyServerObjectID == "" {
			return fmt.Errorf("config: Open mode requires key_server_object_id")
		}
		if len(c.ClientConfigs) != 0 {
			return fmt.Errorf("config: Open mode takes no client_configs")
		}
	case ModePermissioned:
		if len(c.ClientConfigs) == 0 {
			return fmt.Errorf("config: Permissioned mode requires client_configs")
		}
	default:
		return fmt.Errorf("config: unknown server_mode %q", c.ServerMode)
	}
	if c.SuiRPCURL == "" {
		return fmt.Errorf("config: sui_rpc_url required")
	}
	if c.SupportedVersions.Min == "" || c.SupportedVersions.Max == "" {
		return fmt.Errorf("config: supported_versions min and max required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.CacheTTLs.PolicySeconds <= 0 || c.CacheTTLs.PolicySeconds > 10 {
		c.CacheTTLs.PolicySeconds = 5
	}
	if c.CacheTTLs.UskSeconds <= 0 {
		c.CacheTTLs.UskSeconds = 180
	}
	if c.CacheTTLs.UskMaxEntries <= 0 {
		c.CacheTTLs.UskMaxEntries = 4096
	}
	if c.Deadlines.DryRunMillis <= 0 {
		c.Deadlines.DryRunMillis = 5000
	}
	if c.RateLimit.PerAddressRPS <= 0 {
		c.RateLimit.PerAddressRPS = 5
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}
	if c.RateLimit.MaxDryRuns <= 0 {
		c.RateLimit.MaxDryRuns = 64
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = 2024
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 9184
	}
}

// DryRunTimeout returns the stage-5 deadline.
func (c *Config) DryRunTimeout() time.Duration {
	return time.Duration(c.Deadlines.DryRunMillis) * time.Millisecond
}

// MasterClientConfigs resolves YAML entries into master.ClientConfig values.
func (c *Config) MasterClientConfigs() ([]master.ClientConfig, error) {
	out := make([]master.ClientConfig, 0, len(c.ClientConfigs))
	for _, cc := range c.ClientConfigs {
		oid, err := types.ObjectIDFromHex(cc.KeyServerObjectID)
		if err != nil {
			return nil, fmt.Errorf("config: client %q: %w", cc.Name, err)
		}
		mc := master.ClientConfig{
			Name:                      cc.Name,
			Variant:                   cc.ClientMasterKey.Type,
			EnvVar:                    cc.ClientMasterKey.EnvVar,
			DerivationIndex:           cc.ClientMasterKey.DerivationIndex,
			DeprecatedDerivationIndex: cc.ClientMasterKey.DeprecatedDerivationIndex,
			KeyServerObjectID:         oid,
		}
		if mc.Variant == master.VariantImported && mc.EnvVar == "" {
			mc.EnvVar = cc.Name + "_BLS_KEY"
		}
		for _, p := range cc.PackageIDs {
			pid, err := types.ObjectIDFromHex(p)
			if err != nil {
				return nil, fmt.Errorf("config: client %q: %w", cc.Name, err)
			}
			mc.PackageIDs = append(mc.PackageIDs, pid)
		}
		out = append(out, mc)
	}
	return out, nil
}
