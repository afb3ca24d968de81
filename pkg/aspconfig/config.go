// Package aspconfig loads the ASP's runtime configuration: which Elements
// network it targets, how PoolManager batches pool transactions, and where
// its chain source and signing key live.
package aspconfig

import (
	"fmt"
	"time"

	"github.com/louisinger/ark-liquid-poc/internal/chainparams"
	"github.com/louisinger/ark-liquid-poc/pkg/bip68"
	"github.com/spf13/viper"
)

// envPrefix is the prefix viper requires before every environment variable
// it binds, e.g. ASP_NETWORK, ASP_ELECTRUM_URL, ASP_ASP_PRIVATE_KEY.
const envPrefix = "ASP"

// Config is the ASP's resolved runtime configuration.
type Config struct {
	// Network is the Elements network this ASP runs against, e.g.
	// "liquidregtest", "liquidtestnet", "liquid".
	Network string

	// ElectrumURL is the websocket endpoint pkg/chainsource.Dial connects
	// to.
	ElectrumURL string

	// ASPPrivateKeyHex is the ASP's signing key, hex-encoded, 32 bytes.
	ASPPrivateKeyHex string

	// BatchInterval is how long PoolManager waits, once a request is
	// queued, before closing the batch into a pool transaction.
	BatchInterval time.Duration

	// ClaimTimeoutSeconds / RedeemTimeoutSeconds override the protocol's
	// default BIP-68 timeouts. Both must be multiples of 512 seconds, and
	// RedeemTimeoutSeconds must stay strictly below ClaimTimeoutSeconds
	// (spec §3).
	ClaimTimeoutSeconds  uint32
	RedeemTimeoutSeconds uint32

	// Dust is the value a connector output carries.
	Dust int64

	// MinerFee is the flat fee, in the native asset's smallest unit, a pool
	// transaction pays. Forfeit transactions do not use it: pkg/watcher pays
	// its own fixed fee.
	MinerFee int64
}

// Load builds a Config from, in ascending priority order: built-in defaults,
// an optional config file at path (skipped if path is empty), and
// ASP_-prefixed environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("network", "liquidregtest")
	v.SetDefault("electrum_url", "ws://127.0.0.1:50001")
	v.SetDefault("batch_interval_seconds", chainparams.DefaultBatchIntervalSeconds)
	v.SetDefault("claim_timeout_seconds", uint32(chainparams.ClaimTimeoutSeconds))
	v.SetDefault("redeem_timeout_seconds", uint32(chainparams.RedeemTimeoutSeconds))
	v.SetDefault("dust", int64(chainparams.Dust))
	v.SetDefault("miner_fee", int64(500))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("aspconfig: read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Network:              v.GetString("network"),
		ElectrumURL:          v.GetString("electrum_url"),
		ASPPrivateKeyHex:     v.GetString("asp_private_key"),
		BatchInterval:        time.Duration(v.GetInt64("batch_interval_seconds")) * time.Second,
		ClaimTimeoutSeconds:  v.GetUint32("claim_timeout_seconds"),
		RedeemTimeoutSeconds: v.GetUint32("redeem_timeout_seconds"),
		Dust:                 v.GetInt64("dust"),
		MinerFee:             v.GetInt64("miner_fee"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the core assumes hold for any
// Config it's handed.
func (c *Config) Validate() error {
	if c.ASPPrivateKeyHex == "" {
		return fmt.Errorf("aspconfig: %s_ASP_PRIVATE_KEY is required", envPrefix)
	}
	if c.RedeemTimeoutSeconds >= c.ClaimTimeoutSeconds {
		return fmt.Errorf("aspconfig: redeem_timeout_seconds must be strictly less than claim_timeout_seconds")
	}
	if c.BatchInterval <= 0 {
		return fmt.Errorf("aspconfig: batch_interval_seconds must be positive")
	}
	if _, ok := bip68.Encode(c.ClaimTimeoutSeconds); !ok {
		return fmt.Errorf("aspconfig: claim_timeout_seconds is not representable as a BIP-68 time-based sequence")
	}
	if _, ok := bip68.Encode(c.RedeemTimeoutSeconds); !ok {
		return fmt.Errorf("aspconfig: redeem_timeout_seconds is not representable as a BIP-68 time-based sequence")
	}
	return nil
}

// ClaimTimeoutSequence returns ClaimTimeoutSeconds as a BIP-68 sequence
// number, ready to hand to taptree.RedeemTree / script.CSV. Panics if c was
// not built through Load or Validate, since an unvalidated Config is a
// caller bug, not a runtime condition.
func (c *Config) ClaimTimeoutSequence() uint32 {
	return bip68.MustEncode(c.ClaimTimeoutSeconds)
}

// RedeemTimeoutSequence is ClaimTimeoutSequence's counterpart for
// RedeemTimeoutSeconds.
func (c *Config) RedeemTimeoutSequence() uint32 {
	return bip68.MustEncode(c.RedeemTimeoutSeconds)
}
