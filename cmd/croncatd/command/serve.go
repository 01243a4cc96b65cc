// Package command holds one file per croncatd subcommand, grounded on the
// teacher's cmd/evm-node/chaincmd/chaincmd.go shape: each command is a
// package-level *cli.Command{Action, Name, Usage, Flags, Description}
// value, collected by cmd/croncatd/main.go into the App.Commands list.
package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luxfi/geth/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/croncatd/croncatd/internal/agentpool"
	"github.com/croncatd/croncatd/internal/bus"
	"github.com/croncatd/croncatd/internal/clock"
	"github.com/croncatd/croncatd/internal/config"
	"github.com/croncatd/croncatd/internal/dispatcher"
	"github.com/croncatd/croncatd/internal/lifecycle"
	"github.com/croncatd/croncatd/internal/logging"
	"github.com/croncatd/croncatd/internal/metrics"
	"github.com/croncatd/croncatd/internal/registry"
	"github.com/croncatd/croncatd/internal/rpcserver"
	"github.com/croncatd/croncatd/internal/slotindex"
	"github.com/croncatd/croncatd/internal/store"
)

// registryCacheSize bounds the LRU the task registry keeps in front of
// Pebble (SPEC_FULL.md domain stack: golang-lru fronting the store).
const registryCacheSize = 1024

// tickInterval is how often the daemon's local sequencer advances the
// clock by one block and runs lifecycle.Tick. There is no real chain
// backing this standalone build, so the sequencer stands in for the
// "poller... watches a block/time source" role SPEC_FULL.md describes;
// a deployment with a real chain behind it replaces this with a block
// subscription that calls the same two steps on each new head.
const tickInterval = time.Second

// ServeCommand starts the daemon: opens the store, wires C1-C7, and
// serves the JSON-RPC/websocket surface until interrupted.
var ServeCommand = &cli.Command{
	Action:      serve,
	Name:        "serve",
	Usage:       "run the croncatd scheduling/dispatch daemon",
	Flags:       cliFlags(),
	Description: "Starts the JSON-RPC and websocket server over the engine's create_task/proxy_call/... entry points (spec.md §6), persisting state under --data-dir.",
}

func serve(ctx *cli.Context) error {
	v, err := viperFromContext(ctx)
	if err != nil {
		return err
	}
	if v.GetBool(config.VersionKey) {
		fmt.Println(config.Version)
		return nil
	}

	if err := logging.Configure(logging.Options{
		Level: v.GetString(config.LogLevelKey),
		JSON:  v.GetBool(config.LogJSONKey),
	}); err != nil {
		return err
	}

	cfg, err := config.BuildConfig(v)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	kv, err := store.OpenPebble(v.GetString(config.DataDirKey))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer kv.Close()

	idx := slotindex.New(kv)
	var b bus.Bus
	defer b.Close()

	reg, err := registry.New(kv, idx, &b, registryCacheSize)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	pool := agentpool.New(&b)
	life := lifecycle.New(kv, pool)
	disp := dispatcher.New(kv, idx, reg, pool, &b, unavailableResponder{}, loggingExecutor{})
	clk := clock.New()

	svc, err := rpcserver.New(kv, idx, reg, pool, life, disp, &b, clk, cfg)
	if err != nil {
		return fmt.Errorf("rpcserver: %w", err)
	}

	handlers, err := rpcserver.NewHandlers(svc)
	if err != nil {
		return fmt.Errorf("rpc handlers: %w", err)
	}
	mux := http.NewServeMux()
	for path, h := range handlers {
		mux.Handle(path, h)
	}
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.NewGatherer(metrics.Registry), promhttp.HandlerOpts{}))

	addr := v.GetString(config.ListenAddrKey)
	srv := &http.Server{Addr: addr, Handler: mux}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runSequencer(runCtx, clk, svc)

	errCh := make(chan error, 1)
	go func() {
		log.Info("croncatd: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-runCtx.Done():
		log.Info("croncatd: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// runSequencer advances the shared clock by one block every tickInterval
// and calls Service.Tick (spec.md §6 tick()), the daemon's stand-in for a
// real chain's new-head notifications (see tickInterval's doc comment).
// It calls through the same RPC method a client would, rather than
// reaching into lifecycle.Controller directly, so eviction always sees
// whatever config an in-flight update_config last committed.
func runSequencer(ctx context.Context, clk *clock.Clock, svc *rpcserver.Service) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			clk.Advance(1, tickInterval)
			var reply rpcserver.TickReply
			if err := svc.Tick(nil, &rpcserver.Empty{}, &reply); err != nil {
				log.Warn("croncatd: tick failed", "err", err)
				continue
			}
			if len(reply.KickedAgents) > 0 {
				log.Info("croncatd: evicted agents", "count", len(reply.KickedAgents))
			}
		}
	}
}

// viperFromContext copies the urfave/cli-parsed flag values into a fresh
// viper instance so config.BuildConfig's decode/validate path, shared
// with any future non-CLI caller, stays the single source of truth.
// Each key is read back through the cli.Context accessor matching the
// cli.Flag type cliFlags declared it as.
func viperFromContext(ctx *cli.Context) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("croncatd")
	v.AutomaticEnv()

	boolKeys := []string{
		config.VersionKey, config.LogJSONKey, config.PublicRegistrationKey,
	}
	stringKeys := []string{
		config.LogLevelKey, config.DataDirKey, config.ListenAddrKey,
		config.OwnerKey, config.PauseAdminKey, config.TreasuryAddrKey,
		config.NativeDenomKey, config.ChainLabelKey, config.GasPriceKey,
		config.KeeperRewardKey, config.BalancerKey, config.AgentBondReserveKey,
	}
	uint64Keys := []string{
		config.MinTasksPerAgentKey, config.EvictionThresholdKey, config.MinActiveAgentCountKey,
		config.GasBaseFeeKey, config.GasPerActionKey, config.GasPerQueryKey,
		config.AgentFeePercentKey, config.TreasuryFeePercentKey,
		config.BlockGranularityKey, config.TimeGranularityKey, config.PerTaskGasCapKey,
	}
	durationKeys := []string{config.NominationWindowDurationKey}

	for _, k := range boolKeys {
		v.Set(k, ctx.Bool(k))
	}
	for _, k := range stringKeys {
		v.Set(k, ctx.String(k))
	}
	for _, k := range uint64Keys {
		v.Set(k, ctx.Uint64(k))
	}
	for _, k := range durationKeys {
		v.Set(k, ctx.Duration(k))
	}
	return v, nil
}
