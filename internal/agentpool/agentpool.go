// Package agentpool implements C4 (spec.md §4.4): the two-queue
// (active, pending) agent promotion machine with time-windowed
// nomination, a minimum-agent floor, and missed-slot eviction. Active
// membership is an ordered slice (fair-share position is index) paired
// with a golang-set for O(1) "is this caller active" checks, the same
// ordered-slice-plus-set shape the teacher uses for block-cache
// membership tracking.
package agentpool

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/croncatd/croncatd/internal/bus"
	"github.com/croncatd/croncatd/internal/errs"
	"github.com/croncatd/croncatd/internal/types"
)

// Pool is C4. The zero value is not usable; construct with New.
type Pool struct {
	mu sync.Mutex

	active    []types.Address
	activeSet mapset.Set[types.Address]

	pending []types.Address // FIFO; index 0 is head (most senior)

	agents map[types.Address]*types.Agent
	stats  map[types.Address]*types.AgentStats

	approved mapset.Set[types.Address] // whitelist, spec.md §4.7

	nominationWindowStart *time.Time

	bus *bus.Bus
}

// New constructs an empty pool.
func New(b *bus.Bus) *Pool {
	return &Pool{
		activeSet: mapset.NewSet[types.Address](),
		agents:    make(map[types.Address]*types.Agent),
		stats:     make(map[types.Address]*types.AgentStats),
		approved:  mapset.NewSet[types.Address](),
		bus:       b,
	}
}

// Approve adds addr to the whitelist consulted when PublicRegistration is
// false (spec.md §4.7).
func (p *Pool) Approve(addr types.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.approved.Add(addr)
}

// ApprovedAgents lists the whitelist, paged (spec.md §6 approved_agents).
func (p *Pool) ApprovedAgents(from, limit int) []types.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	all := p.approved.ToSlice()
	if from >= len(all) {
		return nil
	}
	end := len(all)
	if limit > 0 && from+limit < end {
		end = from + limit
	}
	return all[from:end]
}

// Register admits a new agent. If the active queue is empty, the caller
// becomes Active immediately at position 0; otherwise it joins the tail
// of the pending FIFO (spec.md §4.4).
func (p *Pool) Register(addr, payoutAddr types.Address, publicRegistration bool, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.agents[addr]; exists {
		return errs.ErrUnauthorized
	}
	if !publicRegistration && !p.approved.Contains(addr) {
		return errs.ErrUnapprovedAgent
	}

	p.agents[addr] = &types.Agent{Owner: addr, PayoutAddr: payoutAddr, AccruedBalance: types.ZeroUint256(), RegisterTimestamp: now}
	p.stats[addr] = &types.AgentStats{}

	if len(p.active) == 0 {
		p.active = append(p.active, addr)
		p.activeSet.Add(addr)
		return nil
	}
	p.pending = append(p.pending, addr)
	return nil
}

// indexOf returns the position of addr in s, or -1 if not found.
func indexOf(s []types.Address, addr types.Address) int {
	for i, a := range s {
		if a == addr {
			return i
		}
	}
	return -1
}

// Unregister removes addr from whichever queue it occupies. fromBehind
// only affects which end of the pending slice is scanned first (spec.md
// §4.4: "the caller may specify from_behind to control scan direction ...
// so removal cost stays bounded for long queues"); since addresses are
// unique the result is identical either way.
func (p *Pool) Unregister(addr types.Address, fromBehind bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.agents[addr]; !ok {
		return errs.ErrAgentNotRegistered
	}

	if p.activeSet.Contains(addr) {
		i := indexOf(p.active, addr)
		p.active = append(p.active[:i], p.active[i+1:]...)
		p.activeSet.Remove(addr)
	} else {
		i := -1
		if fromBehind {
			for j := len(p.pending) - 1; j >= 0; j-- {
				if p.pending[j] == addr {
					i = j
					break
				}
			}
		} else {
			i = indexOf(p.pending, addr)
		}
		if i >= 0 {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
		}
	}

	delete(p.agents, addr)
	delete(p.stats, addr)
	return nil
}

// admissibleIndex computes the largest pending index allowed to check in
// right now, given the current active count and total ready task count
// (spec.md §4.4 "Nomination math"). Returns armed=false if the window isn't
// armed and doesn't need to be.
func (p *Pool) admissibleIndex(cfg types.Config, now time.Time, totalReadyTasks uint64) (admissible int64, armed bool) {
	nom := Nomination(uint64(len(p.active)), cfg.MinTasksPerAgent, totalReadyTasks)
	if p.nominationWindowStart == nil {
		if nom.NumToAdmit == 0 {
			return -1, false
		}
		p.nominationWindowStart = &now
	}
	elapsed := now.Sub(*p.nominationWindowStart)
	var byTime int64
	if cfg.NominationWindowDuration > 0 {
		byTime = int64(elapsed / cfg.NominationWindowDuration)
	}
	floorIdx := int64(nom.NumToAdmit) - 1
	admissible = byTime
	if floorIdx > admissible {
		admissible = floorIdx
	}
	return admissible, true
}

// NotifyTaskCreated is the C3->C4 "on_task_created" hook (spec.md §6):
// the registry calls this after every successful create_task so the pool
// can arm its nomination window immediately rather than waiting for the
// next check_in_agent/tick to discover tasks_needing_agents > 0.
func (p *Pool) NotifyTaskCreated(cfg types.Config, totalReadyTasks uint64, now time.Time) {
	p.mu.Lock()
	_, armed := p.admissibleIndex(cfg, now, totalReadyTasks)
	numToAdmit := Nomination(uint64(len(p.active)), cfg.MinTasksPerAgent, totalReadyTasks).NumToAdmit
	p.mu.Unlock()
	if armed && p.bus != nil {
		p.bus.AgentNominationOpenedFeed.Send(bus.AgentNominationOpened{NumToAdmit: numToAdmit})
	}
}

// CheckIn is the pending->active promotion entry point (spec.md §4.4).
// totalReadyTasks is the combined block+time ready-task count the caller
// (the dispatcher, via C2) observed.
func (p *Pool) CheckIn(addr types.Address, now time.Time, cfg types.Config, totalReadyTasks uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := indexOf(p.pending, addr)
	if idx < 0 {
		return errs.ErrAgentNotRegistered
	}

	if len(p.active) == 0 && idx == 0 {
		p.promote(0)
		p.nominationWindowStart = nil
		return nil
	}

	admissible, armed := p.admissibleIndex(cfg, now, totalReadyTasks)
	if !armed {
		return errs.ErrNotAcceptingNewAgents
	}
	if int64(idx) > admissible {
		return errs.ErrTryLaterForNomination
	}

	// Drop every pending agent that sat in front of addr and failed to
	// claim its earlier opportunity (spec.md §4.4).
	for i := idx - 1; i >= 0; i-- {
		dropped := p.pending[i]
		delete(p.agents, dropped)
		delete(p.stats, dropped)
	}
	remaining := append([]types.Address{}, p.pending[idx+1:]...)
	p.pending = remaining
	p.active = append(p.active, addr)
	p.activeSet.Add(addr)
	p.nominationWindowStart = nil
	return nil
}

// promote moves the pending entry at idx straight to the tail of active,
// used by the unconditional "active queue empty, pending-head checks in"
// fast path (spec.md §4.4 special case).
func (p *Pool) promote(idx int) {
	addr := p.pending[idx]
	p.pending = append(p.pending[:idx], p.pending[idx+1:]...)
	p.active = append(p.active, addr)
	p.activeSet.Add(addr)
}

// IsActive reports whether addr currently holds an active-queue seat, the
// check C6 step 1 performs before anything else.
func (p *Pool) IsActive(addr types.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeSet.Contains(addr)
}

// Status is the query-only projection of spec.md §4.4.
func (p *Pool) Status(addr types.Address, now time.Time, cfg types.Config, totalReadyTasks uint64) types.AgentStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.activeSet.Contains(addr) {
		return types.AgentActive
	}
	idx := indexOf(p.pending, addr)
	if idx < 0 {
		return types.AgentUnregistered
	}
	if len(p.active) == 0 && idx == 0 {
		return types.AgentNominated
	}
	admissible, armed := p.admissibleIndex(cfg, now, totalReadyTasks)
	if armed && int64(idx) <= admissible {
		return types.AgentNominated
	}
	return types.AgentPending
}

// ActivePosition returns addr's fair-share index, or -1 if not active.
func (p *Pool) ActivePosition(addr types.Address) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return indexOf(p.active, addr)
}

// ActiveCount, ActiveStats return the size and per-agent stats snapshot
// the dispatcher and fair-share computer need.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// PendingCount returns the size of the pending FIFO.
func (p *Pool) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Pool) ActiveStats() []types.AgentStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.AgentStats, len(p.active))
	for i, addr := range p.active {
		if s, ok := p.stats[addr]; ok {
			out[i] = *s
		}
	}
	return out
}

// Stats returns a copy of addr's stats.
func (p *Pool) Stats(addr types.Address) (types.AgentStats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.stats[addr]
	if !ok {
		return types.AgentStats{}, false
	}
	return *s, true
}

// UpdateStats overwrites addr's stats record (C6 calls this after every
// dispatch to update last_executed_slot and completion counters).
func (p *Pool) UpdateStats(addr types.Address, s types.AgentStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats[addr] = &s
}

// UpdatePayout rewrites addr's payout address in place, leaving queue
// position and stats untouched (spec.md §4.7 update_agent's payout half).
func (p *Pool) UpdatePayout(addr, newPayout types.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[addr]
	if !ok {
		return errs.ErrAgentNotRegistered
	}
	a.PayoutAddr = newPayout
	return nil
}

// Agent returns a copy of addr's registration record.
func (p *Pool) Agent(addr types.Address) (types.Agent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[addr]
	if !ok {
		return types.Agent{}, false
	}
	return *a, true
}

// CreditAgent adds amount to addr's accrued balance (C6 calls this at
// dispatch time to pay the agent fee share).
func (p *Pool) CreditAgent(addr types.Address, amount *types.Uint256) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[addr]
	if !ok {
		return errs.ErrAgentNotRegistered
	}
	a.AccruedBalance = new(types.Uint256).Add(a.AccruedBalance, amount)
	return nil
}

// WithdrawRewards moves addr's accrued balance down to reserve (spec.md
// §6 withdraw_agent_rewards; reserve is the supplemented bond-minimum
// feature, see DESIGN.md). Returns the amount withdrawn.
func (p *Pool) WithdrawRewards(addr types.Address, reserve *types.Uint256) (*types.Uint256, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[addr]
	if !ok {
		return nil, errs.ErrAgentNotRegistered
	}
	if a.AccruedBalance.Cmp(reserve) <= 0 {
		return types.ZeroUint256(), nil
	}
	withdrawn := new(types.Uint256).Sub(a.AccruedBalance, reserve)
	a.AccruedBalance = new(types.Uint256).Set(reserve)
	return withdrawn, nil
}

// AgentIDs pages through every registered agent (active + pending), for
// spec.md §6 get_agent_ids.
func (p *Pool) AgentIDs(from, limit int) []types.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	all := make([]types.Address, 0, len(p.active)+len(p.pending))
	all = append(all, p.active...)
	all = append(all, p.pending...)
	if from >= len(all) {
		return nil
	}
	end := len(all)
	if limit > 0 && from+limit < end {
		end = from + limit
	}
	return all[from:end]
}

// Tick evicts and unregisters active agents whose last_executed_slot is
// more than cfg.EvictionThreshold slots behind currentSlot, never cutting
// active count below cfg.MinActiveAgentCount (spec.md §4.4). Returns the
// kicked agents, most-behind first.
func (p *Pool) Tick(currentSlot uint64, cfg types.Config) []types.Address {
	p.mu.Lock()
	defer p.mu.Unlock()

	type candidate struct {
		addr    types.Address
		behind  uint64
	}
	var candidates []candidate
	for _, addr := range p.active {
		s := p.stats[addr]
		if s == nil {
			continue
		}
		if currentSlot <= s.LastExecutedSlot {
			continue
		}
		behind := currentSlot - s.LastExecutedSlot
		if behind > cfg.EvictionThreshold {
			candidates = append(candidates, candidate{addr, behind})
		}
	}
	// Evict the most-behind first; stop once the floor would be breached.
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].behind > candidates[i].behind {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}

	var kicked []types.Address
	for _, c := range candidates {
		if uint64(len(p.active)) <= cfg.MinActiveAgentCount {
			break
		}
		i := indexOf(p.active, c.addr)
		if i < 0 {
			continue
		}
		p.active = append(p.active[:i], p.active[i+1:]...)
		p.activeSet.Remove(c.addr)
		delete(p.agents, c.addr)
		delete(p.stats, c.addr)
		kicked = append(kicked, c.addr)
	}

	if len(kicked) > 0 && p.bus != nil {
		p.bus.AgentsKickedFeed.Send(bus.AgentsKicked{Agents: kicked})
	}
	return kicked
}
