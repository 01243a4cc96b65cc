// Package config assembles the engine's tunable parameter set from
// flags, environment variables, and an optional YAML file, grounded on
// the teacher's cmd/simulator/main/main.go driver: build a pflag flag
// set, wrap it in viper, decode into a typed struct. BuildFlagSet,
// BuildViper, and BuildConfig mirror that package's three-call shape
// exactly.
package config

import (
	"fmt"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/croncatd/croncatd/internal/lifecycle"
	"github.com/croncatd/croncatd/internal/types"
)

// Flag/viper keys. Grouped the way cmd/simulator/config keys its own
// VersionKey/LogLevelKey constants.
const (
	VersionKey = "version"

	LogLevelKey  = "log.level"
	LogJSONKey   = "log.json"
	DataDirKey   = "data-dir"
	ListenAddrKey = "listen-addr"

	OwnerKey        = "owner"
	PauseAdminKey   = "pause-admin"
	TreasuryAddrKey = "treasury-addr"
	NativeDenomKey  = "native-denom"
	ChainLabelKey   = "chain-label"

	MinTasksPerAgentKey         = "min-tasks-per-agent"
	EvictionThresholdKey        = "eviction-threshold"
	MinActiveAgentCountKey      = "min-active-agent-count"
	NominationWindowDurationKey = "nomination-window-duration"

	GasBaseFeeKey   = "gas-base-fee"
	GasPerActionKey = "gas-per-action"
	GasPerQueryKey  = "gas-per-query"
	GasPriceKey     = "gas-price"

	AgentFeePercentKey    = "agent-fee-percent"
	TreasuryFeePercentKey = "treasury-fee-percent"

	BlockGranularityKey = "block-granularity"
	TimeGranularityKey  = "time-granularity"
	PerTaskGasCapKey    = "per-task-gas-cap"
	KeeperRewardKey     = "keeper-reward"

	PublicRegistrationKey = "public-registration"
	BalancerKey           = "balancer"
	AgentBondReserveKey   = "agent-bond-reserve"

	Version = "0.1.0"
)

// BuildFlagSet declares every flag BuildConfig later reads back out of
// viper, the same one-declaration-per-key shape as
// cmd/simulator/config.BuildFlagSet.
func BuildFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("croncatd", pflag.ContinueOnError)

	fs.Bool(VersionKey, false, "print version and exit")

	fs.String(LogLevelKey, "info", "log level: trace, debug, info, warn, error, crit")
	fs.Bool(LogJSONKey, false, "emit JSON-formatted logs instead of terminal-colored logs")
	fs.String(DataDirKey, "./data", "directory for the embedded Pebble store")
	fs.String(ListenAddrKey, "127.0.0.1:8547", "JSON-RPC/websocket listen address")

	fs.String(OwnerKey, "", "config-admin address (hex)")
	fs.String(PauseAdminKey, "", "pause-admin address (hex); must differ from owner")
	fs.String(TreasuryAddrKey, "", "treasury address (hex)")
	fs.String(NativeDenomKey, "ucroncat", "native denomination label")
	fs.String(ChainLabelKey, "croncat-1", "deployment-chain label baked into task_hash")

	fs.Uint64(MinTasksPerAgentKey, 10, "nomination-ladder ratio: ready tasks covered per active agent")
	fs.Uint64(EvictionThresholdKey, 100, "missed slots tolerated before tick() evicts an active agent")
	fs.Uint64(MinActiveAgentCountKey, 1, "floor tick() must never cut active count below")
	fs.Duration(NominationWindowDurationKey, 30*time.Second, "per-index admission period in the nomination ladder")

	fs.Uint64(GasBaseFeeKey, 0, "flat gas surcharge applied to every task")
	fs.Uint64(GasPerActionKey, 0, "gas surcharge per action (informational; contract-call actions declare their own limit)")
	fs.Uint64(GasPerQueryKey, 20_000, "gas surcharge per predicate query")
	fs.String(GasPriceKey, "1", "gas price, in native denom base units, as a decimal string")

	fs.Uint64(AgentFeePercentKey, 50, "agent fee in basis points out of 10000")
	fs.Uint64(TreasuryFeePercentKey, 50, "treasury fee in basis points out of 10000")

	fs.Uint64(BlockGranularityKey, 1, "block-slot truncation unit")
	fs.Uint64(TimeGranularityKey, uint64(time.Second), "time-slot truncation unit, in nanoseconds")
	fs.Uint64(PerTaskGasCapKey, 10_000_000, "total declared gas a single task may require")
	fs.String(KeeperRewardKey, "0", "empty-slot keeper reward, in native denom base units")

	fs.Bool(PublicRegistrationKey, false, "allow any address to register_agent without whitelisting")
	fs.String(BalancerKey, "earliest", "fair-share leftover bias: earliest or equalizer")
	fs.String(AgentBondReserveKey, "0", "minimum accrued balance withdraw_agent_rewards leaves untouched")

	return fs
}

// BuildViper parses args against fs and layers in CRONCATD_-prefixed
// environment variables, the same precedence
// cmd/simulator/config.BuildViper establishes (flags override env,
// env overrides defaults).
func BuildViper(fs *pflag.FlagSet, args []string) (*viper.Viper, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("croncatd")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	return v, nil
}

func parseUint256(v *viper.Viper, key string) (*types.Uint256, error) {
	s := cast.ToString(v.Get(key))
	if s == "" {
		return types.ZeroUint256(), nil
	}
	out := new(types.Uint256)
	if err := out.SetFromDecimal(s); err != nil {
		return nil, fmt.Errorf("config %q: invalid uint256 %q: %w", key, s, err)
	}
	return out, nil
}

func parseBalancer(v *viper.Viper) (types.BalancerMode, error) {
	switch cast.ToString(v.Get(BalancerKey)) {
	case "", "earliest":
		return types.BalancerEarliestFirst, nil
	case "equalizer":
		return types.BalancerEqualizer, nil
	default:
		return 0, fmt.Errorf("config %q: unknown balancer mode %q", BalancerKey, v.GetString(BalancerKey))
	}
}

// BuildConfig decodes the bound viper instance into types.Config,
// validating the admin-identity split along the way
// (spec.md §4.7, internal/lifecycle.ValidateAdmins).
func BuildConfig(v *viper.Viper) (types.Config, error) {
	gasPrice, err := parseUint256(v, GasPriceKey)
	if err != nil {
		return types.Config{}, err
	}
	keeperReward, err := parseUint256(v, KeeperRewardKey)
	if err != nil {
		return types.Config{}, err
	}
	bondReserve, err := parseUint256(v, AgentBondReserveKey)
	if err != nil {
		return types.Config{}, err
	}
	balancer, err := parseBalancer(v)
	if err != nil {
		return types.Config{}, err
	}

	cfg := types.Config{
		Owner:        common.HexToAddress(v.GetString(OwnerKey)),
		PauseAdmin:   common.HexToAddress(v.GetString(PauseAdminKey)),
		TreasuryAddr: common.HexToAddress(v.GetString(TreasuryAddrKey)),
		NativeDenom:  v.GetString(NativeDenomKey),
		ChainLabel:   v.GetString(ChainLabelKey),

		MinTasksPerAgent:         cast.ToUint64(v.Get(MinTasksPerAgentKey)),
		EvictionThreshold:        cast.ToUint64(v.Get(EvictionThresholdKey)),
		MinActiveAgentCount:      cast.ToUint64(v.Get(MinActiveAgentCountKey)),
		NominationWindowDuration: v.GetDuration(NominationWindowDurationKey),

		GasBaseFee:   cast.ToUint64(v.Get(GasBaseFeeKey)),
		GasPerAction: cast.ToUint64(v.Get(GasPerActionKey)),
		GasPerQuery:  cast.ToUint64(v.Get(GasPerQueryKey)),
		GasPrice:     gasPrice,

		AgentFeePercent:    cast.ToUint64(v.Get(AgentFeePercentKey)),
		TreasuryFeePercent: cast.ToUint64(v.Get(TreasuryFeePercentKey)),

		BlockGranularity: cast.ToUint64(v.Get(BlockGranularityKey)),
		TimeGranularity:  cast.ToUint64(v.Get(TimeGranularityKey)),
		PerTaskGasCap:    cast.ToUint64(v.Get(PerTaskGasCapKey)),
		KeeperReward:     keeperReward,

		PublicRegistration: v.GetBool(PublicRegistrationKey),
		Balancer:           balancer,
		AgentBondReserve:   bondReserve,
	}

	if err := lifecycle.ValidateAdmins(cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}
