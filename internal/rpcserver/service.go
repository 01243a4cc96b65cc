// Package rpcserver implements the spec.md §6 entry-point surface: every
// bullet in its Mutating/Queries lists becomes one gorilla/rpc JSON-RPC
// 1.0 method on Service, the same "one HTTP handler, one receiver type"
// shape the teacher registers in plugin/evm/vm.go's CreateHandlers. A
// websocket push stream (events.go) fans internal/bus out to subscribers
// for spec.md §6 "Events".
//
// Mutating calls serialize behind mu: spec.md §5 describes a
// single-writer, deterministic execution model, and a coarse mutex around
// the whole state-mutating path is how a multi-threaded Go binary
// reproduces that guarantee without adding concurrency the original
// design never had.
package rpcserver

import (
	"encoding/json"
	"sync"

	"github.com/croncatd/croncatd/internal/agentpool"
	"github.com/croncatd/croncatd/internal/bus"
	"github.com/croncatd/croncatd/internal/clock"
	"github.com/croncatd/croncatd/internal/dispatcher"
	"github.com/croncatd/croncatd/internal/errs"
	"github.com/croncatd/croncatd/internal/lifecycle"
	"github.com/croncatd/croncatd/internal/registry"
	"github.com/croncatd/croncatd/internal/slotindex"
	"github.com/croncatd/croncatd/internal/store"
	"github.com/croncatd/croncatd/internal/types"
)

const configKey = "config"

// Empty is the Args type for JSON-RPC methods that take no parameters.
type Empty struct{}

// Service is the receiver gorilla/rpc dispatches every "Service.Method"
// JSON-RPC call onto. One Service instance wraps the whole engine: C2
// through C7 plus the shared clock.
type Service struct {
	kv    store.KV
	idx   *slotindex.Index
	reg   *registry.Registry
	pool  *agentpool.Pool
	life  *lifecycle.Controller
	disp  *dispatcher.Dispatcher
	bus   *bus.Bus
	clock *clock.Clock

	mu  sync.Mutex
	cfg types.Config
}

// New constructs a Service and persists the initial config if none is
// stored yet (first boot of a fresh data directory).
func New(kv store.KV, idx *slotindex.Index, reg *registry.Registry, pool *agentpool.Pool, life *lifecycle.Controller, disp *dispatcher.Dispatcher, b *bus.Bus, clk *clock.Clock, initial types.Config) (*Service, error) {
	s := &Service{kv: kv, idx: idx, reg: reg, pool: pool, life: life, disp: disp, bus: b, clock: clk}

	stored, ok, err := s.loadConfig()
	if err != nil {
		return nil, err
	}
	if ok {
		s.cfg = stored
		return s, nil
	}
	if err := lifecycle.ValidateAdmins(initial); err != nil {
		return nil, err
	}
	s.cfg = initial
	if err := s.saveConfig(initial); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) loadConfig() (types.Config, bool, error) {
	raw, ok, err := s.kv.Get([]byte(configKey))
	if err != nil || !ok {
		return types.Config{}, false, err
	}
	var cfg types.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return types.Config{}, false, err
	}
	return cfg, true, nil
}

func (s *Service) saveConfig(cfg types.Config) error {
	enc, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.kv.Set([]byte(configKey), enc)
}

// config returns a copy of the live config under lock.
func (s *Service) config() types.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// totalReadyTasks sums the block- and time-slot counts at the current
// height/time, the quantity C4's nomination math and C6's claim
// entitlement both need (spec.md §4.4, §4.5).
func (s *Service) totalReadyTasks() (uint64, error) {
	var total uint64
	h, t := s.clock.Height(), uint64(s.clock.TimeNanos())
	blockHashes, err := s.idx.Hashes(types.SlotBlock, h)
	if err != nil {
		return 0, err
	}
	total += uint64(len(blockHashes))
	timeHashes, err := s.idx.Hashes(types.SlotTime, t)
	if err != nil {
		return 0, err
	}
	total += uint64(len(timeHashes))
	return total, nil
}

func requireOwner(caller, owner types.Address) error {
	if caller != owner {
		return errs.ErrUnauthorized
	}
	return nil
}
