// Package dispatcher implements C6 (spec.md §4.6): the end-to-end
// execution of one proxy_call — validate the caller, find the next ready
// slot, enforce the fair-share claim entitlement, run predicate queries
// and transforms, execute the action list under a gas budget, and settle
// escrow between the task owner, the agent, and the treasury.
package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/luxfi/geth/log"
	gethmetrics "github.com/luxfi/geth/metrics"
	"golang.org/x/time/rate"

	"github.com/croncatd/croncatd/internal/agentpool"
	"github.com/croncatd/croncatd/internal/bus"
	"github.com/croncatd/croncatd/internal/clock"
	"github.com/croncatd/croncatd/internal/errs"
	"github.com/croncatd/croncatd/internal/interval"
	"github.com/croncatd/croncatd/internal/metrics"
	"github.com/croncatd/croncatd/internal/query"
	"github.com/croncatd/croncatd/internal/querycache"
	"github.com/croncatd/croncatd/internal/registry"
	"github.com/croncatd/croncatd/internal/slotindex"
	"github.com/croncatd/croncatd/internal/store"
	"github.com/croncatd/croncatd/internal/types"
)

// keeperRewardInterval bounds how often a single agent may draw the
// empty-slot keeper reward, so a polling agent spamming empty proxy_calls
// cannot drain the treasury (SPEC_FULL.md domain-stack note on
// golang.org/x/time/rate; spec.md §9 Open Question #2 leaves the payout
// frequency unspecified).
const keeperRewardInterval = 10 * time.Second

// queryCacheSizeBytes bounds the query-response cache's memory footprint
// (spec.md domain-stack note on VictoriaMetrics/fastcache), sized the way
// the teacher sizes its small on-disk caches rather than the multi-GB
// trie caches.
const queryCacheSizeBytes = 4 * 1024 * 1024

// Executor runs one action message against the host chain. Production
// wiring submits the message to the chain's message router; tests supply
// a fake that just records calls.
type Executor interface {
	Execute(ctx context.Context, a types.Action) error
}

// Dispatcher is C6.
type Dispatcher struct {
	kv   store.KV
	idx  *slotindex.Index
	reg  *registry.Registry
	pool *agentpool.Pool
	bus  *bus.Bus
	resp query.Responder
	exec Executor
	qc   *querycache.Cache

	mu       sync.Mutex
	limiters map[types.Address]*rate.Limiter
}

// New constructs a Dispatcher.
func New(kv store.KV, idx *slotindex.Index, reg *registry.Registry, pool *agentpool.Pool, b *bus.Bus, resp query.Responder, exec Executor) *Dispatcher {
	return &Dispatcher{
		kv:       kv,
		idx:      idx,
		reg:      reg,
		pool:     pool,
		bus:      b,
		resp:     resp,
		exec:     exec,
		qc:       querycache.New(queryCacheSizeBytes),
		limiters: make(map[types.Address]*rate.Limiter),
	}
}

// Result summarizes one proxy_call outcome for the RPC layer / caller.
type Result struct {
	Empty        bool // true if no ready work was found (keeper reward path)
	RewardPaid   bool
	TaskHash     types.TaskHash
	SlotID       uint64
	SlotKind     types.SlotKind
	TaskRemoved  bool
	RemoveReason string
}

func (d *Dispatcher) limiterFor(addr types.Address) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[addr]
	if !ok {
		l = rate.NewLimiter(rate.Every(keeperRewardInterval), 1)
		d.limiters[addr] = l
	}
	return l
}

func (d *Dispatcher) treasuryKey() []byte { return []byte("treasury_balance") }

func (d *Dispatcher) readTreasury() (*types.Uint256, error) {
	raw, ok, err := d.kv.Get(d.treasuryKey())
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.ZeroUint256(), nil
	}
	v := types.ZeroUint256()
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (d *Dispatcher) writeTreasury(batch store.Batch, v *types.Uint256) error {
	enc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	batch.Set(d.treasuryKey(), enc)
	return nil
}

// payKeeperReward pays caller cfg.KeeperReward from treasury, rate
// limited per agent (spec.md §4.6 step 2).
func (d *Dispatcher) payKeeperReward(caller types.Address, cfg types.Config) (bool, error) {
	if !d.limiterFor(caller).Allow() {
		return false, nil
	}
	treasury, err := d.readTreasury()
	if err != nil {
		return false, err
	}
	if treasury.Cmp(cfg.KeeperReward) < 0 {
		return false, nil
	}
	batch := d.kv.NewBatch()
	treasury = new(types.Uint256).Sub(treasury, cfg.KeeperReward)
	if err := d.writeTreasury(batch, treasury); err != nil {
		return false, err
	}
	if err := batch.Commit(); err != nil {
		return false, err
	}
	if err := d.pool.CreditAgent(caller, cfg.KeeperReward); err != nil {
		return false, err
	}
	gethmetrics.GetOrRegisterCounter(metrics.CounterKeeperReward, metrics.Registry).Inc(1)
	return true, nil
}

// candidate is the task the dispatcher decided to attempt this call.
type candidate struct {
	hash    types.TaskHash
	kind    types.SlotKind
	slot    uint64
	total   uint64 // ready tasks of this kind contending for this slot
	evented bool
}

func (d *Dispatcher) findCandidate(clk *clock.Clock) (*candidate, error) {
	h, t := clk.Height(), uint64(clk.TimeNanos())

	slot, kind, ok, err := d.idx.Ready(h, t)
	if err != nil {
		return nil, err
	}
	if ok {
		hashes, err := d.idx.Hashes(kind, slot)
		if err != nil {
			return nil, err
		}
		if len(hashes) == 0 {
			return nil, nil
		}
		return &candidate{hash: hashes[0], kind: kind, slot: slot, total: uint64(len(hashes))}, nil
	}

	eventedEntries, err := d.idx.EventedReady(h, t)
	if err != nil {
		return nil, err
	}
	if len(eventedEntries) == 0 {
		return nil, nil
	}
	first := eventedEntries[0]
	eventedHashes, err := d.idx.EventedHashes(first.Kind, first.Bound)
	if err != nil {
		return nil, err
	}
	if len(eventedHashes) == 0 {
		return nil, nil
	}
	return &candidate{hash: eventedHashes[0], kind: first.Kind, slot: first.Bound, total: uint64(len(eventedHashes)), evented: true}, nil
}

// checkClaimEntitlement enforces spec.md §4.6 step 3: an agent may claim
// at most its fair share of a kind per slot, tracked via AgentStats'
// per-slot claim counter (SPEC_FULL.md supplemented feature #3).
func (d *Dispatcher) checkClaimEntitlement(caller types.Address, cand *candidate, cfg types.Config) (types.AgentStats, error) {
	stats, _ := d.pool.Stats(caller)
	if stats.ClaimSlot != cand.slot || stats.ClaimKind != cand.kind {
		stats.ClaimSlot = cand.slot
		stats.ClaimKind = cand.kind
		stats.ClaimCount = 0
		stats.ClaimTotal = cand.total
	}
	position := d.pool.ActivePosition(caller)
	if position < 0 {
		return stats, errs.ErrAgentNotActive
	}
	shares := agentpool.Shares(cfg.Balancer, d.pool.ActiveStats(), stats.ClaimTotal)
	entitled := shares[position]
	metrics.ClaimGauge(position).Update(int64(entitled))
	if stats.ClaimCount >= entitled {
		return stats, errs.ErrTryLater
	}
	return stats, nil
}

// ProxyCall runs one full dispatch attempt for caller (spec.md §4.6).
func (d *Dispatcher) ProxyCall(ctx context.Context, clk *clock.Clock, cfg types.Config, caller types.Address) (*Result, error) {
	// Step 1.
	if !d.pool.IsActive(caller) {
		return nil, errs.ErrAgentNotActive
	}

	// Step 2.
	cand, err := d.findCandidate(clk)
	if err != nil {
		return nil, err
	}
	if cand == nil {
		paid, err := d.payKeeperReward(caller, cfg)
		if err != nil {
			return nil, err
		}
		return &Result{Empty: true, RewardPaid: paid}, nil
	}

	// Step 3.
	stats, err := d.checkClaimEntitlement(caller, cand, cfg)
	if err != nil {
		return nil, err
	}

	// Step 4/5.
	task, err := d.reg.GetTask(cand.hash)
	if err != nil {
		return nil, err
	}
	balance, err := d.reg.GetBalance(cand.hash)
	if err != nil {
		return nil, err
	}

	// Step 6: predicate queries.
	responses := make([][]byte, len(task.Queries))
	for i, q := range task.Queries {
		resp, cached := d.qc.Get(task.Hash, i)
		if !cached {
			resp, err = d.resp.Query(ctx, q.Target, q.Request)
			if err != nil {
				// Predicate failure (query errored, not false): not-ready.
				// The caller still earns the keeper reward for this attempt.
				paid, rerr := d.payKeeperReward(caller, cfg)
				if rerr != nil {
					return nil, rerr
				}
				return &Result{Empty: true, RewardPaid: paid}, nil
			}
			d.qc.Set(task.Hash, i, resp)
		}
		responses[i] = resp

		ok, err := query.EvaluatePredicate(resp, q.CheckResult)
		if err != nil {
			return nil, err
		}
		if !ok {
			// check_result=true predicate resolved false: leave the task
			// in place (evented: stays indexed; plain: never has queries).
			paid, rerr := d.payKeeperReward(caller, cfg)
			if rerr != nil {
				return nil, rerr
			}
			return &Result{Empty: true, RewardPaid: paid}, nil
		}
	}

	// Step 7: transforms.
	actions := task.Actions
	for _, tr := range task.Transforms {
		actions, err = query.Apply(actions, responses, tr)
		if err != nil {
			return nil, err
		}
	}

	// Step 8: cost vs. escrow.
	cost := task.AmountForOneTask
	if !balance.Covers(cost) {
		return d.terminate(cand, task, balance, "insufficient_escrow")
	}

	// Step 9: execute actions.
	for i, a := range actions {
		if err := d.exec.Execute(ctx, a); err != nil {
			log.Error("dispatcher: action execution failed", "task_hash", task.Hash, "action_index", i, "err", err)
			if task.StopOnFail {
				return d.terminate(cand, task, balance, "action_failed")
			}
		}
	}

	// Step 10: settle escrow.
	batch := d.kv.NewBatch()
	balance.Native = new(types.Uint256).Sub(balance.Native, cost)
	if err := d.reg.PutBalance(batch, balance); err != nil {
		return nil, err
	}
	agentCut := new(types.Uint256).Mul(cost, types.NewUint256(cfg.AgentFeePercent))
	agentCut.Div(agentCut, types.NewUint256(10000))
	treasuryCut := new(types.Uint256).Mul(cost, types.NewUint256(cfg.TreasuryFeePercent))
	treasuryCut.Div(treasuryCut, types.NewUint256(10000))

	treasury, err := d.readTreasury()
	if err != nil {
		return nil, err
	}
	treasury = new(types.Uint256).Add(treasury, treasuryCut)
	if err := d.writeTreasury(batch, treasury); err != nil {
		return nil, err
	}

	// Step 11: reschedule or terminate. A non-recurring interval (Once)
	// always ends after its one firing; interval.Next has no
	// notion of "already fired" to tell us that, so IsRecurring gates it.
	// Evented tasks follow the exact same interval-driven transition as
	// plain tasks (spec.md §3's unified task lifecycle: every task, query
	// gated or not, terminates or reschedules per its own interval); only
	// the index family the reschedule writes to differs.
	ended := !task.IsRecurring()
	var nextSlot uint64
	var nextKind types.SlotKind
	if task.IsRecurring() {
		nextSlot, nextKind, ended, err = interval.Next(task.Interval, task.Bounds, clk.Height(), clk.TimeNanos(), cfg.BlockGranularity, cfg.TimeGranularity)
		if err != nil {
			return nil, err
		}
	}

	if err := batch.Commit(); err != nil {
		return nil, err
	}
	if err := d.pool.CreditAgent(caller, agentCut); err != nil {
		return nil, err
	}

	res := &Result{TaskHash: task.Hash, SlotID: cand.slot, SlotKind: cand.kind}

	if ended {
		if _, err := d.reg.RemoveTask(task.Hash, cand.kind, cand.slot, "ended"); err != nil {
			return nil, err
		}
		res.TaskRemoved = true
		res.RemoveReason = "ended"
	} else {
		insertBatch := d.kv.NewBatch()
		if task.IsEvented() {
			if err := d.idx.RemoveEvented(insertBatch, cand.kind, cand.slot, task.Hash); err != nil {
				return nil, err
			}
			if err := d.idx.InsertEvented(insertBatch, nextKind, nextSlot, task.Hash); err != nil {
				return nil, err
			}
		} else {
			if err := d.idx.Remove(insertBatch, cand.kind, cand.slot, task.Hash); err != nil {
				return nil, err
			}
			if err := d.idx.Insert(insertBatch, nextKind, nextSlot, task.Hash); err != nil {
				return nil, err
			}
		}
		if err := insertBatch.Commit(); err != nil {
			return nil, err
		}
	}
	// The task has left its old trigger bound either way (removed or
	// reinserted at a new one); any cached predicate response belonged to
	// that bound and must not be reused by a later attempt.
	d.qc.Invalidate(task.Hash, len(task.Queries))

	// Step 12: agent stats.
	stats.ClaimCount++
	stats.LastExecutedSlot = cand.slot
	if cand.kind == types.SlotBlock {
		stats.CompletedBlockTasks++
	} else {
		stats.CompletedTimeTasks++
	}
	d.pool.UpdateStats(caller, stats)

	gethmetrics.GetOrRegisterCounter(metrics.CounterDispatched, metrics.Registry).Inc(1)
	if d.bus != nil {
		d.bus.DispatchedFeed.Send(bus.Dispatched{TaskHash: task.Hash, Agent: caller, SlotID: cand.slot, SlotKind: cand.kind})
	}
	return res, nil
}

func (d *Dispatcher) terminate(cand *candidate, task *types.Task, balance *types.TaskBalance, reason string) (*Result, error) {
	if _, err := d.reg.RemoveTask(task.Hash, cand.kind, cand.slot, reason); err != nil {
		return nil, err
	}
	d.qc.Invalidate(task.Hash, len(task.Queries))
	gethmetrics.GetOrRegisterCounter(metrics.CounterTasksRemoved, metrics.Registry).Inc(1)
	return &Result{TaskHash: task.Hash, TaskRemoved: true, RemoveReason: reason}, nil
}

