// Package lifecycle implements C7 (spec.md §4.7): the thin entry-point
// layer that wraps C4 (internal/agentpool) with the cross-cutting
// concerns spec.md assigns to the controller rather than the pool
// itself — pause/unpause, the one-way whitelist gate, and the
// config-admin/pause-admin identity split. Every mutating entry point
// consults pause state first, the same "pausable" gate the teacher
// applies to transaction submission in core/txpool/txpool.go (Pending
// returns early while the pool is reorg-locked).
package lifecycle

import (
	"encoding/json"
	"time"

	gethmetrics "github.com/luxfi/geth/metrics"

	"github.com/croncatd/croncatd/internal/agentpool"
	"github.com/croncatd/croncatd/internal/errs"
	"github.com/croncatd/croncatd/internal/metrics"
	"github.com/croncatd/croncatd/internal/store"
	"github.com/croncatd/croncatd/internal/types"
)

const pauseKey = "lifecycle/paused"

// Controller is C7. It holds no state of its own beyond the persisted
// pause flag; everything else is delegated to the wrapped pool.
type Controller struct {
	kv   store.KV
	pool *agentpool.Pool
}

// New constructs a Controller over an existing agent pool.
func New(kv store.KV, pool *agentpool.Pool) *Controller {
	return &Controller{kv: kv, pool: pool}
}

// Paused reports the persisted pause flag (spec.md §4.7: "a single
// boolean read by every mutating entry point").
func (c *Controller) Paused() (bool, error) {
	raw, ok, err := c.kv.Get([]byte(pauseKey))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	var paused bool
	if err := json.Unmarshal(raw, &paused); err != nil {
		return false, err
	}
	return paused, nil
}

func (c *Controller) setPaused(v bool) error {
	enc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.kv.Set([]byte(pauseKey), enc)
}

// Pause flips the pause flag on. caller must be cfg.PauseAdmin.
func (c *Controller) Pause(caller types.Address, cfg types.Config) error {
	if caller != cfg.PauseAdmin {
		return errs.ErrUnauthorized
	}
	return c.setPaused(true)
}

// Unpause flips the pause flag off. caller must be cfg.Owner (spec.md
// §6: "pause() / unpause() — pause-admin / owner respectively").
func (c *Controller) Unpause(caller types.Address, cfg types.Config) error {
	if caller != cfg.Owner {
		return errs.ErrUnauthorized
	}
	return c.setPaused(false)
}

// ValidateAdmins enforces spec.md §4.7's identity split: pause-admin and
// config-admin (cfg.Owner) must never be the same address. Called at
// config-admin-set time, not on every mutating call.
func ValidateAdmins(cfg types.Config) error {
	if cfg.PauseAdmin == cfg.Owner {
		return errs.ErrInvalidPauseAdmin
	}
	return nil
}

func (c *Controller) requireUnpaused() error {
	paused, err := c.Paused()
	if err != nil {
		return err
	}
	if paused {
		return errs.ErrContractPaused
	}
	return nil
}

func (c *Controller) refreshGauges() {
	gethmetrics.GetOrRegisterGauge(metrics.GaugeActiveAgents, metrics.Registry).Update(int64(c.pool.ActiveCount()))
	gethmetrics.GetOrRegisterGauge(metrics.GaugePendingAgents, metrics.Registry).Update(int64(c.pool.PendingCount()))
}

// RegisterAgent admits a new agent via C4, subject to pause state and the
// whitelist gate (spec.md §4.7). cfg.PublicRegistration selects whether
// the whitelist is consulted; Approve/whitelist management is exposed
// separately via ApproveAgent.
func (c *Controller) RegisterAgent(addr, payoutAddr types.Address, cfg types.Config, now time.Time) error {
	if err := c.requireUnpaused(); err != nil {
		return err
	}
	if err := c.pool.Register(addr, payoutAddr, cfg.PublicRegistration, now); err != nil {
		return err
	}
	c.refreshGauges()
	return nil
}

// ApproveAgent adds addr to the whitelist consulted when
// cfg.PublicRegistration is false. A no-op worth documenting rather than
// rejecting once public registration has flipped on, since the set is
// simply never consulted again at that point.
func (c *Controller) ApproveAgent(caller, addr types.Address, cfg types.Config) error {
	if caller != cfg.Owner {
		return errs.ErrUnauthorized
	}
	if err := c.requireUnpaused(); err != nil {
		return err
	}
	c.pool.Approve(addr)
	return nil
}

// EnablePublicRegistration flips cfg.PublicRegistration false->true. The
// caller is responsible for persisting the returned config; this
// function's only job is to enforce the one-way rule (spec.md §4.7
// "progressive decentralization is one-way").
func EnablePublicRegistration(cfg types.Config) (types.Config, error) {
	if cfg.PublicRegistration {
		return cfg, errs.ErrDecentralizationOn
	}
	cfg.PublicRegistration = true
	return cfg, nil
}

// UpdatePayoutAddress rewrites caller's payout address, leaving queue
// position and stats untouched (spec.md §4.7).
func (c *Controller) UpdatePayoutAddress(caller, newPayout types.Address) error {
	if err := c.requireUnpaused(); err != nil {
		return err
	}
	return c.pool.UpdatePayout(caller, newPayout)
}

// UnregisterAgent removes caller from whichever queue it occupies
// (spec.md §4.7, §4.4).
func (c *Controller) UnregisterAgent(caller types.Address, fromBehind bool) error {
	if err := c.requireUnpaused(); err != nil {
		return err
	}
	if err := c.pool.Unregister(caller, fromBehind); err != nil {
		return err
	}
	c.refreshGauges()
	return nil
}

// CheckIn promotes caller from pending to active, subject to the
// nomination ladder (spec.md §4.4, §4.7).
func (c *Controller) CheckIn(caller types.Address, now time.Time, cfg types.Config, totalReadyTasks uint64) error {
	if err := c.requireUnpaused(); err != nil {
		return err
	}
	if err := c.pool.CheckIn(caller, now, cfg, totalReadyTasks); err != nil {
		return err
	}
	c.refreshGauges()
	return nil
}

// Tick evicts active agents that have fallen too far behind (spec.md
// §4.4, §4.7). Callable by any caller, typically an agent polling once
// per N blocks.
func (c *Controller) Tick(currentSlot uint64, cfg types.Config) ([]types.Address, error) {
	if err := c.requireUnpaused(); err != nil {
		return nil, err
	}
	kicked := c.pool.Tick(currentSlot, cfg)
	c.refreshGauges()
	return kicked, nil
}

// NotifyTaskCreated forwards C3's on_task_created notification to the
// wrapped pool (spec.md §6). Not gated by pause: it only arms a window, it
// never mutates queue membership or balances.
func (c *Controller) NotifyTaskCreated(cfg types.Config, totalReadyTasks uint64, now time.Time) {
	c.pool.NotifyTaskCreated(cfg, totalReadyTasks, now)
}

// WithdrawAgentRewards moves caller's accrued balance down to
// cfg.AgentBondReserve (SPEC_FULL.md supplemented feature #1). Unlike the
// other entry points this is callable while paused: an agent's earned
// balance is its own, and withholding it during a pause would let the
// pause-admin freeze funds that aren't the protocol's to hold.
func (c *Controller) WithdrawAgentRewards(caller types.Address, cfg types.Config) (*types.Uint256, error) {
	reserve := cfg.AgentBondReserve
	if reserve == nil {
		reserve = types.ZeroUint256()
	}
	return c.pool.WithdrawRewards(caller, reserve)
}
