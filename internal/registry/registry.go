// Package registry implements C3 (spec.md §4.3): the task registry and
// escrow. It is content-addressed, split into a plain-task partition and a
// queries-bearing ("evented") partition so iteration over plain,
// block/time-scheduled tasks stays cheap, and fronted by an LRU cache of
// hot task/balance records, grounded on the hashicorp/golang-lru usage
// already established in internal/interval.
package registry

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/croncatd/croncatd/internal/bus"
	"github.com/croncatd/croncatd/internal/canon"
	"github.com/croncatd/croncatd/internal/clock"
	"github.com/croncatd/croncatd/internal/errs"
	"github.com/croncatd/croncatd/internal/interval"
	"github.com/croncatd/croncatd/internal/slotindex"
	"github.com/croncatd/croncatd/internal/store"
	"github.com/croncatd/croncatd/internal/types"
)

const (
	prefixTask             = "tasks/"
	prefixTaskWithQueries  = "tasks_with_queries/"
	prefixTaskBalance      = "task_balances/"
	keyTasksTotal          = "tasks_total"
	keyTasksWithQueriesTot = "tasks_with_queries_total"
)

// Registry is C3.
type Registry struct {
	kv  store.KV
	idx *slotindex.Index
	bus *bus.Bus

	taskCache    *lru.Cache // task_hash -> *types.Task
	balanceCache *lru.Cache // task_hash -> *types.TaskBalance
}

// New constructs a Registry. cacheSize bounds the number of hot task and
// balance records kept off the Pebble read path.
func New(kv store.KV, idx *slotindex.Index, b *bus.Bus, cacheSize int) (*Registry, error) {
	tc, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	bc, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Registry{kv: kv, idx: idx, bus: b, taskCache: tc, balanceCache: bc}, nil
}

func taskKey(prefix string, h types.TaskHash) []byte {
	return append([]byte(prefix), h[:]...)
}

func balanceKey(h types.TaskHash) []byte {
	return taskKey(prefixTaskBalance, h)
}

func (r *Registry) partitionPrefix(t *types.Task) string {
	if t.IsEvented() {
		return prefixTaskWithQueries
	}
	return prefixTask
}

func (r *Registry) totalKey(t *types.Task) string {
	if t.IsEvented() {
		return keyTasksWithQueriesTot
	}
	return keyTasksTotal
}

func (r *Registry) readCounter(key string) (uint64, error) {
	raw, ok, err := r.kv.Get([]byte(key))
	if err != nil || !ok {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

func encodeCounter(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

// CreateParams bundles the owner-supplied fields of a create_task call
// (spec.md §4.3, §6).
type CreateParams struct {
	Owner      types.Address
	Interval   types.Interval
	Bounds     types.Bounds
	StopOnFail bool
	Actions    []types.Action
	Queries    []types.Query
	Transforms []types.Transform

	// AttachedNative/AttachedToken/AttachedTokenAddress/AttachedSecondary
	// are the funds the caller attached to the creation call, checked
	// against amount_for_one_task (spec.md §4.3 step 5).
	AttachedNative    *types.Uint256
	AttachedToken     *types.Uint256
	AttachedTokenAddr types.Address
	AttachedSecondary *types.Uint256
}

// CreateTask runs the seven-step creation flow of spec.md §4.3 and, on
// success, returns the stored Task and its initial escrow.
func (r *Registry) CreateTask(clk *clock.Clock, cfg types.Config, chainLabel string, p CreateParams) (*types.Task, *types.TaskBalance, error) {
	// Step 1: non-empty action list.
	if len(p.Actions) == 0 {
		return nil, nil, fmt.Errorf("%w: action list is empty", errs.ErrInvalidAction)
	}

	// Step 2: gas limits.
	var gasActions uint64
	for i, a := range p.Actions {
		if a.Kind == types.MessageContractCall {
			if a.GasLimit == nil {
				return nil, nil, fmt.Errorf("%w: action %d missing gas limit", errs.ErrNoGasLimit, i)
			}
			gasActions += *a.GasLimit
		}
	}
	gasQueries := cfg.GasPerQuery * uint64(len(p.Queries))
	totalGas := cfg.GasBaseFee + gasActions + gasQueries
	if totalGas > cfg.PerTaskGasCap {
		return nil, nil, fmt.Errorf("%w: total gas %d exceeds per-task cap %d", errs.ErrInvalidGas, totalGas, cfg.PerTaskGasCap)
	}

	// Step 3: bounds vs. interval time-domain, and start < end.
	if p.Bounds.Kind != p.Interval.TimeDomain() {
		return nil, nil, fmt.Errorf("%w: bounds kind does not match interval time domain", errs.ErrInvalidBoundary)
	}
	if p.Bounds.Start != nil && p.Bounds.End != nil && *p.Bounds.Start >= *p.Bounds.End {
		return nil, nil, fmt.Errorf("%w: start bound must be before end bound", errs.ErrInvalidBoundary)
	}
	if p.Interval.Kind == types.IntervalCron {
		if err := interval.ValidateCron(p.Interval.Schedule); err != nil {
			return nil, nil, err
		}
	}

	// Step 4: amount_for_one_task.
	gasTerm := new(types.Uint256).Mul(cfg.GasPrice, types.NewUint256(totalGas))
	feeNumer := new(types.Uint256).SetUint64(cfg.AgentFeePercent + cfg.TreasuryFeePercent)
	feeTerm := new(types.Uint256).Mul(gasTerm, feeNumer)
	feeTerm.Div(feeTerm, types.NewUint256(10000))
	amount := new(types.Uint256).Add(gasTerm, feeTerm)

	var nativeSends, tokenSends types.Uint256
	for _, a := range p.Actions {
		if a.Kind == types.MessageBankSend && a.NativeAmount != nil {
			nativeSends.Add(&nativeSends, a.NativeAmount)
		}
		if a.Token != nil && a.Token.Amount != nil {
			tokenSends.Add(&tokenSends, a.Token.Amount)
		}
	}
	amount.Add(amount, &nativeSends)
	amount.Add(amount, &tokenSends)

	// Step 5: attached funds cover one execution (two if recurring).
	required := amount
	isRecurring := (&types.Task{Interval: p.Interval}).IsRecurring()
	if isRecurring {
		required = new(types.Uint256).Mul(amount, types.NewUint256(2))
	}
	if p.AttachedNative == nil || p.AttachedNative.Cmp(required) < 0 {
		got := types.ZeroUint256()
		if p.AttachedNative != nil {
			got = p.AttachedNative
		}
		shortfall := new(types.Uint256).Sub(required, got)
		return nil, nil, &errs.ErrInsufficientFunds{Needed: shortfall.Dec()}
	}

	// Step 6: task hash, duplicate check.
	hash := canon.TaskHash(chainLabel, p.Owner, p.Interval, p.Bounds, p.Actions, p.Queries, p.Transforms)
	if _, ok, err := r.kv.Get(taskKey(prefixTask, hash)); err != nil {
		return nil, nil, err
	} else if ok {
		return nil, nil, errs.ErrTaskAlreadyExists
	}
	if _, ok, err := r.kv.Get(taskKey(prefixTaskWithQueries, hash)); err != nil {
		return nil, nil, err
	} else if ok {
		return nil, nil, errs.ErrTaskAlreadyExists
	}

	task := &types.Task{
		Hash:             hash,
		Owner:            p.Owner,
		Interval:         p.Interval,
		Bounds:           p.Bounds,
		StopOnFail:       p.StopOnFail,
		Actions:          p.Actions,
		Queries:          p.Queries,
		Transforms:       p.Transforms,
		AmountForOneTask: amount,
		ChainLabel:       chainLabel,
	}
	balance := &types.TaskBalance{
		TaskHash:     hash,
		Native:       p.AttachedNative,
		Token:        p.AttachedToken,
		TokenAddress: p.AttachedTokenAddr,
		Secondary:    p.AttachedSecondary,
	}

	// Step 7: store task, escrow, slot bucket; notify C4.
	batch := r.kv.NewBatch()

	encTask, err := json.Marshal(task)
	if err != nil {
		return nil, nil, err
	}
	batch.Set(taskKey(r.partitionPrefix(task), hash), encTask)

	encBalance, err := json.Marshal(balance)
	if err != nil {
		return nil, nil, err
	}
	batch.Set(balanceKey(hash), encBalance)

	total, err := r.readCounter(r.totalKey(task))
	if err != nil {
		return nil, nil, err
	}
	total++
	batch.Set([]byte(r.totalKey(task)), encodeCounter(total))

	if !task.IsEvented() {
		slot, kind, ended, err := interval.Next(task.Interval, task.Bounds, clk.Height(), clk.TimeNanos(), cfg.BlockGranularity, cfg.TimeGranularity)
		if err != nil {
			return nil, nil, err
		}
		if ended {
			return nil, nil, errs.ErrTaskEnded
		}
		if err := r.idx.Insert(batch, kind, slot, hash); err != nil {
			return nil, nil, err
		}
	} else {
		eventedKind := types.SlotBlock
		if task.Interval.TimeDomain() == types.BoundaryTime {
			eventedKind = types.SlotTime
		}
		// trigger_bound is the boundary's own start (spec.md §3); an
		// unbounded start (Bounds.Start == nil) means the task is
		// eligible immediately, so it is filed at bound 0 rather than
		// pinned to the clock reading at creation time.
		bound := uint64(0)
		if task.Bounds.Start != nil {
			bound = *task.Bounds.Start
		}
		if err := r.idx.InsertEvented(batch, eventedKind, bound, hash); err != nil {
			return nil, nil, err
		}
	}

	if err := batch.Commit(); err != nil {
		return nil, nil, err
	}

	r.taskCache.Add(hash, task)
	r.balanceCache.Add(hash, balance)

	if r.bus != nil {
		r.bus.TaskCreatedFeed.Send(bus.TaskCreated{TaskHash: hash, Owner: p.Owner, TotalTasks: total})
	}
	return task, balance, nil
}

// GetTask returns the stored task for hash, checking the cache first.
func (r *Registry) GetTask(hash types.TaskHash) (*types.Task, error) {
	if v, ok := r.taskCache.Get(hash); ok {
		return v.(*types.Task), nil
	}
	raw, ok, err := r.kv.Get(taskKey(prefixTask, hash))
	if err != nil {
		return nil, err
	}
	if !ok {
		raw, ok, err = r.kv.Get(taskKey(prefixTaskWithQueries, hash))
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, errs.ErrNoTaskFound
	}
	var t types.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	r.taskCache.Add(hash, &t)
	return &t, nil
}

// GetBalance returns the escrow record for hash.
func (r *Registry) GetBalance(hash types.TaskHash) (*types.TaskBalance, error) {
	if v, ok := r.balanceCache.Get(hash); ok {
		return v.(*types.TaskBalance), nil
	}
	raw, ok, err := r.kv.Get(balanceKey(hash))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrNoTaskFound
	}
	var b types.TaskBalance
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	r.balanceCache.Add(hash, &b)
	return &b, nil
}

// PutBalance persists an updated escrow record (used by C6 after
// debiting/crediting a dispatch).
func (r *Registry) PutBalance(batch store.Batch, b *types.TaskBalance) error {
	enc, err := json.Marshal(b)
	if err != nil {
		return err
	}
	batch.Set(balanceKey(b.TaskHash), enc)
	r.balanceCache.Add(b.TaskHash, b)
	return nil
}

// RemoveTask deletes a task, its escrow, and its slot-index entry as a
// single atomic batch (spec.md §9 "Cyclic refs" design note: registry,
// slot bucket, and escrow removal is one handler). slotKind/slotID name
// the bucket the task is currently filed under — the evented family when
// task.IsEvented(), block/time slots otherwise; callers must resolve the
// task's real current bucket (see internal/dispatcher's candidate
// tracking, or rpcserver's locateSlot) rather than guess one. Returns the
// residual escrow so the caller can refund it to the owner.
func (r *Registry) RemoveTask(hash types.TaskHash, slotKind types.SlotKind, slotID uint64, reason string) (*types.TaskBalance, error) {
	task, err := r.GetTask(hash)
	if err != nil {
		return nil, err
	}
	balance, err := r.GetBalance(hash)
	if err != nil {
		return nil, err
	}

	batch := r.kv.NewBatch()
	batch.Delete(taskKey(r.partitionPrefix(task), hash))
	batch.Delete(balanceKey(hash))

	if task.IsEvented() {
		if err := r.idx.RemoveEvented(batch, slotKind, slotID, hash); err != nil {
			return nil, err
		}
	} else if err := r.idx.Remove(batch, slotKind, slotID, hash); err != nil {
		return nil, err
	}

	total, err := r.readCounter(r.totalKey(task))
	if err != nil {
		return nil, err
	}
	if total > 0 {
		total--
	}
	batch.Set([]byte(r.totalKey(task)), encodeCounter(total))

	if err := batch.Commit(); err != nil {
		return nil, err
	}

	r.taskCache.Remove(hash)
	r.balanceCache.Remove(hash)

	if r.bus != nil {
		r.bus.TaskRemovedFeed.Send(bus.TaskRemoved{TaskHash: hash, Reason: reason})
	}
	return balance, nil
}

// RefillNative adds amount to hash's native escrow balance (spec.md §6
// refill_task_native).
func (r *Registry) RefillNative(hash types.TaskHash, amount *types.Uint256) (*types.TaskBalance, error) {
	balance, err := r.GetBalance(hash)
	if err != nil {
		return nil, err
	}
	balance.Native = new(types.Uint256).Add(balance.Native, amount)
	batch := r.kv.NewBatch()
	if err := r.PutBalance(batch, balance); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, err
	}
	return balance, nil
}

// RefillToken adds amount to hash's fungible-token escrow balance,
// pinning TokenAddress on the first refill (spec.md §6
// refill_task_token). A refill naming a different token address than the
// one already escrowed is rejected: a task moves at most one token kind
// (spec.md §4.6 "Disallowed actions").
func (r *Registry) RefillToken(hash types.TaskHash, tokenAddr types.Address, amount *types.Uint256) (*types.TaskBalance, error) {
	balance, err := r.GetBalance(hash)
	if err != nil {
		return nil, err
	}
	if balance.Token != nil && balance.Token.Sign() > 0 && balance.TokenAddress != tokenAddr {
		return nil, fmt.Errorf("%w: task escrows a different token", errs.ErrInvalidAction)
	}
	balance.TokenAddress = tokenAddr
	if balance.Token == nil {
		balance.Token = types.ZeroUint256()
	}
	balance.Token = new(types.Uint256).Add(balance.Token, amount)
	batch := r.kv.NewBatch()
	if err := r.PutBalance(batch, balance); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, err
	}
	return balance, nil
}

// TasksTotal returns the plain and evented task counts (spec.md §6
// tasks_total / tasks_with_queries_total).
func (r *Registry) TasksTotal() (plain, evented uint64, err error) {
	plain, err = r.readCounter(keyTasksTotal)
	if err != nil {
		return 0, 0, err
	}
	evented, err = r.readCounter(keyTasksWithQueriesTot)
	if err != nil {
		return 0, 0, err
	}
	return plain, evented, nil
}

// ListTasks pages through the plain-task partition in hash order (spec.md
// §6 tasks(from, limit)).
func (r *Registry) ListTasks(from int, limit int) ([]*types.Task, error) {
	return r.listPartition(prefixTask, from, limit)
}

// ListEventedTasks pages through the evented partition.
func (r *Registry) ListEventedTasks(from int, limit int) ([]*types.Task, error) {
	return r.listPartition(prefixTaskWithQueries, from, limit)
}

func (r *Registry) listPartition(prefix string, from, limit int) ([]*types.Task, error) {
	var out []*types.Task
	idx := 0
	err := r.kv.ScanPrefix([]byte(prefix), func(_, value []byte) (bool, error) {
		defer func() { idx++ }()
		if idx < from {
			return true, nil
		}
		if limit > 0 && len(out) >= limit {
			return false, nil
		}
		var t types.Task
		if err := json.Unmarshal(value, &t); err != nil {
			return false, err
		}
		out = append(out, &t)
		return true, nil
	})
	return out, err
}

// TasksByOwner filters ListTasks (plain) and ListEventedTasks for a given
// owner, paging over the combined result (spec.md §6 tasks_by_owner).
func (r *Registry) TasksByOwner(owner types.Address, from, limit int) ([]*types.Task, error) {
	var matched []*types.Task
	collect := func(prefix string) error {
		return r.kv.ScanPrefix([]byte(prefix), func(_, value []byte) (bool, error) {
			var t types.Task
			if err := json.Unmarshal(value, &t); err != nil {
				return false, err
			}
			if t.Owner == owner {
				matched = append(matched, &t)
			}
			return true, nil
		})
	}
	if err := collect(prefixTask); err != nil {
		return nil, err
	}
	if err := collect(prefixTaskWithQueries); err != nil {
		return nil, err
	}
	if from >= len(matched) {
		return nil, nil
	}
	end := len(matched)
	if limit > 0 && from+limit < end {
		end = from + limit
	}
	return matched[from:end], nil
}
