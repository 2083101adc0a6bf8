// Package config loads the ledger node configuration from the environment and
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"time"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const envPrefix = "SETTLEMENT"

// Keys, read as SETTLEMENT_<KEY>.
const (
	LogLevelKey              = "LOG_LEVEL"
	LogFormatKey             = "LOG_FORMAT"
	NetworkKey               = "NETWORK"
	CustodyKey               = "CUSTODY"
	AdminKey                 = "ADMIN"
	RebalanceThresholdBpsKey = "REBALANCE_THRESHOLD_BPS"
	RevertGracePeriodKey     = "REVERT_GRACE_PERIOD"
	StateFileKey             = "STATE_FILE"
	SnapshotIntervalKey      = "SNAPSHOT_INTERVAL"
	MetricsAddrKey           = "METRICS_ADDR"
	NATSURLKey               = "NATS_URL"
	NATSSubjectPrefixKey     = "NATS_SUBJECT_PREFIX"
	PriceHeartbeatKey        = "PRICE_HEARTBEAT"
	PriceLowerKey            = "PRICE_LOWER"
	PriceUpperKey            = "PRICE_UPPER"
	PriceCheckIntervalKey    = "PRICE_CHECK_INTERVAL"
	RelayOrchestratorKey     = "RELAY_ORCHESTRATOR"
	RelayMaxAmountKey        = "RELAY_MAX_AMOUNT"
	RelayDeadlineMarginKey   = "RELAY_DEADLINE_MARGIN"
)

// Config is the ledger node configuration.
type Config struct {
	LogLevel  string
	LogFormat string

	Network               NetworkConfig
	Custody               types.Account
	Admin                 types.Account
	RebalanceThresholdBps uint64
	RevertGracePeriod     time.Duration

	StateFile        string
	SnapshotInterval time.Duration
	MetricsAddr      string

	NATSURL           string
	NATSSubjectPrefix string

	PriceHeartbeat     time.Duration
	PriceLower         *big.Int
	PriceUpper         *big.Int
	PriceCheckInterval time.Duration

	// RelayOrchestrator enables the relay when non-zero.
	RelayOrchestrator   types.Account
	RelayMaxAmount      *uint256.Int
	RelayDeadlineMargin time.Duration
}

// LoadConfig loads .env when present, builds the network table and reads
// the SETTLEMENT_* settings.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	InitializeNetworks()
	return fromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault(LogLevelKey, "info")
	v.SetDefault(LogFormatKey, "text")
	v.SetDefault(NetworkKey, "Base")
	v.SetDefault(RebalanceThresholdBpsKey, 7_500)
	v.SetDefault(RevertGracePeriodKey, "0s")
	v.SetDefault(StateFileKey, "state/ledger.msgpack")
	v.SetDefault(SnapshotIntervalKey, "1m")
	v.SetDefault(MetricsAddrKey, ":9464")
	v.SetDefault(NATSSubjectPrefixKey, "settlement.events")
	v.SetDefault(PriceHeartbeatKey, "24h")
	v.SetDefault(PriceLowerKey, "98000000")
	v.SetDefault(PriceUpperKey, "102000000")
	v.SetDefault(PriceCheckIntervalKey, "30s")
	v.SetDefault(RelayDeadlineMarginKey, "5m")
	return v
}

func fromViper(v *viper.Viper) (*Config, error) {
	network, err := GetNetworkConfig(v.GetString(NetworkKey))
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		LogLevel:              v.GetString(LogLevelKey),
		LogFormat:             v.GetString(LogFormatKey),
		Network:               network,
		RebalanceThresholdBps: v.GetUint64(RebalanceThresholdBpsKey),
		RevertGracePeriod:     v.GetDuration(RevertGracePeriodKey),
		StateFile:             v.GetString(StateFileKey),
		SnapshotInterval:      v.GetDuration(SnapshotIntervalKey),
		MetricsAddr:           v.GetString(MetricsAddrKey),
		NATSURL:               v.GetString(NATSURLKey),
		NATSSubjectPrefix:     v.GetString(NATSSubjectPrefixKey),
		PriceHeartbeat:        v.GetDuration(PriceHeartbeatKey),
		PriceCheckInterval:    v.GetDuration(PriceCheckIntervalKey),
		RelayDeadlineMargin:   v.GetDuration(RelayDeadlineMarginKey),
	}
	if cfg.Custody, err = types.ParseAccount(v.GetString(CustodyKey)); err != nil {
		return nil, fmt.Errorf("invalid %s_%s: %w", envPrefix, CustodyKey, err)
	}
	if cfg.Admin, err = types.ParseAccount(v.GetString(AdminKey)); err != nil {
		return nil, fmt.Errorf("invalid %s_%s: %w", envPrefix, AdminKey, err)
	}
	var ok bool
	if cfg.PriceLower, ok = new(big.Int).SetString(v.GetString(PriceLowerKey), 10); !ok {
		return nil, fmt.Errorf("invalid %s_%s: %q", envPrefix, PriceLowerKey, v.GetString(PriceLowerKey))
	}
	if cfg.PriceUpper, ok = new(big.Int).SetString(v.GetString(PriceUpperKey), 10); !ok {
		return nil, fmt.Errorf("invalid %s_%s: %q", envPrefix, PriceUpperKey, v.GetString(PriceUpperKey))
	}
	if raw := v.GetString(RelayOrchestratorKey); raw != "" {
		if cfg.RelayOrchestrator, err = types.ParseAccount(raw); err != nil {
			return nil, fmt.Errorf("invalid %s_%s: %w", envPrefix, RelayOrchestratorKey, err)
		}
	}
	if raw := v.GetString(RelayMaxAmountKey); raw != "" {
		if cfg.RelayMaxAmount, err = uint256.FromDecimal(raw); err != nil {
			return nil, fmt.Errorf("invalid %s_%s: %w", envPrefix, RelayMaxAmountKey, err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("error while validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Custody.IsZero() || c.Admin.IsZero() {
		return fmt.Errorf("%w: custody and admin are required", types.ErrZeroAddress)
	}
	if c.Network.Stablecoin.IsZero() {
		return fmt.Errorf("%w: %s has no stablecoin", types.ErrInvalidToken, c.Network.Name)
	}
	if c.RebalanceThresholdBps > 10_000 {
		return fmt.Errorf("%w: %d bps", types.ErrInvalidThreshold, c.RebalanceThresholdBps)
	}
	if c.RevertGracePeriod < 0 {
		return fmt.Errorf("negative revert grace period %s", c.RevertGracePeriod)
	}
	if c.PriceLower.Sign() <= 0 || c.PriceLower.Cmp(c.PriceUpper) > 0 {
		return fmt.Errorf("invalid price bounds [%s, %s]", c.PriceLower, c.PriceUpper)
	}
	if c.RelayDeadlineMargin < 0 {
		return fmt.Errorf("negative relay deadline margin %s", c.RelayDeadlineMargin)
	}
	if c.SnapshotInterval <= 0 || c.PriceCheckInterval <= 0 {
		return errors.New("snapshot and price check intervals must be positive")
	}
	return nil
}

// RelayEnabled reports whether the node fills and settles orders itself.
func (c *Config) RelayEnabled() bool { return !c.RelayOrchestrator.IsZero() }

// PriceGuardEnabled reports whether the network has a price feed.
func (c *Config) PriceGuardEnabled() bool { return !c.Network.PriceFeed.IsZero() }
