package command

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/croncatd/croncatd/internal/config"
)

// cliFlags mirrors config.BuildFlagSet's keys as urfave/cli flags, so
// ServeCommand's --help output matches config's own flag documentation
// (internal/config keeps the canonical descriptions; this list only
// chooses the urfave/cli.Flag type each key decodes through).
func cliFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: config.VersionKey, Usage: "print version and exit"},

		&cli.StringFlag{Name: config.LogLevelKey, Value: "info", Usage: "log level: trace, debug, info, warn, error, crit"},
		&cli.BoolFlag{Name: config.LogJSONKey, Usage: "emit JSON-formatted logs instead of terminal-colored logs"},
		&cli.StringFlag{Name: config.DataDirKey, Value: "./data", Usage: "directory for the embedded Pebble store"},
		&cli.StringFlag{Name: config.ListenAddrKey, Value: "127.0.0.1:8547", Usage: "JSON-RPC/websocket listen address"},

		&cli.StringFlag{Name: config.OwnerKey, Usage: "config-admin address (hex)"},
		&cli.StringFlag{Name: config.PauseAdminKey, Usage: "pause-admin address (hex); must differ from owner"},
		&cli.StringFlag{Name: config.TreasuryAddrKey, Usage: "treasury address (hex)"},
		&cli.StringFlag{Name: config.NativeDenomKey, Value: "ucroncat", Usage: "native denomination label"},
		&cli.StringFlag{Name: config.ChainLabelKey, Value: "croncat-1", Usage: "deployment-chain label baked into task_hash"},

		&cli.Uint64Flag{Name: config.MinTasksPerAgentKey, Value: 10, Usage: "nomination-ladder ratio: ready tasks covered per active agent"},
		&cli.Uint64Flag{Name: config.EvictionThresholdKey, Value: 100, Usage: "missed slots tolerated before tick() evicts an active agent"},
		&cli.Uint64Flag{Name: config.MinActiveAgentCountKey, Value: 1, Usage: "floor tick() must never cut active count below"},
		&cli.DurationFlag{Name: config.NominationWindowDurationKey, Value: 30 * time.Second, Usage: "per-index admission period in the nomination ladder"},

		&cli.Uint64Flag{Name: config.GasBaseFeeKey, Usage: "flat gas surcharge applied to every task"},
		&cli.Uint64Flag{Name: config.GasPerActionKey, Usage: "gas surcharge per action (informational)"},
		&cli.Uint64Flag{Name: config.GasPerQueryKey, Value: 20_000, Usage: "gas surcharge per predicate query"},
		&cli.StringFlag{Name: config.GasPriceKey, Value: "1", Usage: "gas price, in native denom base units, as a decimal string"},

		&cli.Uint64Flag{Name: config.AgentFeePercentKey, Value: 50, Usage: "agent fee in basis points out of 10000"},
		&cli.Uint64Flag{Name: config.TreasuryFeePercentKey, Value: 50, Usage: "treasury fee in basis points out of 10000"},

		&cli.Uint64Flag{Name: config.BlockGranularityKey, Value: 1, Usage: "block-slot truncation unit"},
		&cli.Uint64Flag{Name: config.TimeGranularityKey, Value: uint64(time.Second), Usage: "time-slot truncation unit, in nanoseconds"},
		&cli.Uint64Flag{Name: config.PerTaskGasCapKey, Value: 10_000_000, Usage: "total declared gas a single task may require"},
		&cli.StringFlag{Name: config.KeeperRewardKey, Value: "0", Usage: "empty-slot keeper reward, in native denom base units"},

		&cli.BoolFlag{Name: config.PublicRegistrationKey, Usage: "allow any address to register_agent without whitelisting"},
		&cli.StringFlag{Name: config.BalancerKey, Value: "earliest", Usage: "fair-share leftover bias: earliest or equalizer"},
		&cli.StringFlag{Name: config.AgentBondReserveKey, Value: "0", Usage: "minimum accrued balance withdraw_agent_rewards leaves untouched"},
	}
}
