package rpcserver

import (
	"net/http"

	"github.com/croncatd/croncatd/internal/agentpool"
	"github.com/croncatd/croncatd/internal/errs"
	"github.com/croncatd/croncatd/internal/registry"
	"github.com/croncatd/croncatd/internal/types"
)

// CreateTaskArgs mirrors registry.CreateParams plus the caller-supplied
// attached funds (spec.md §6 create_task).
type CreateTaskArgs struct {
	Owner      types.Address
	Interval   types.Interval
	Bounds     types.Bounds
	StopOnFail bool
	Actions    []types.Action
	Queries    []types.Query
	Transforms []types.Transform

	AttachedNative    *types.Uint256
	AttachedToken     *types.Uint256
	AttachedTokenAddr types.Address
	AttachedSecondary *types.Uint256
}

// CreateTaskReply carries back the stored hash and the initial escrow.
type CreateTaskReply struct {
	TaskHash types.TaskHash
	Balance  types.TaskBalance
}

// CreateTask implements spec.md §6 create_task. On success it forwards
// on_task_created to C4 so the nomination window arms immediately.
func (s *Service) CreateTask(r *http.Request, args *CreateTaskArgs, reply *CreateTaskReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, bal, err := s.reg.CreateTask(s.clock, s.cfg, s.cfg.ChainLabel, registry.CreateParams{
		Owner:             args.Owner,
		Interval:          args.Interval,
		Bounds:            args.Bounds,
		StopOnFail:        args.StopOnFail,
		Actions:           args.Actions,
		Queries:           args.Queries,
		Transforms:        args.Transforms,
		AttachedNative:    args.AttachedNative,
		AttachedToken:     args.AttachedToken,
		AttachedTokenAddr: args.AttachedTokenAddr,
		AttachedSecondary: args.AttachedSecondary,
	})
	if err != nil {
		return err
	}

	plain, evented, err := s.reg.TasksTotal()
	if err != nil {
		return err
	}
	s.life.NotifyTaskCreated(s.cfg, plain+evented, s.clock.Time())

	reply.TaskHash = task.Hash
	reply.Balance = *bal
	return nil
}

// RemoveTaskArgs identifies the task and the caller attempting removal;
// spec.md §6 requires remove_task be owner-only.
type RemoveTaskArgs struct {
	Caller   types.Address
	TaskHash types.TaskHash
}

type RemoveTaskReply struct {
	RefundedBalance types.TaskBalance
}

// RemoveTask implements spec.md §6 remove_task: owner only, refunds
// residual escrow. The slot location is looked up from the stored task's
// own interval/bounds rather than passed by the caller, since an RPC
// client has no business knowing the internal slot-index bucketing.
func (s *Service) RemoveTask(r *http.Request, args *RemoveTaskArgs, reply *RemoveTaskReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.reg.GetTask(args.TaskHash)
	if err != nil {
		return err
	}
	if task.Owner != args.Caller {
		return errs.ErrUnauthorized
	}

	slotKind, slotID, err := s.locateSlot(task)
	if err != nil {
		return err
	}
	bal, err := s.reg.RemoveTask(args.TaskHash, slotKind, slotID, "owner_removed")
	if err != nil {
		return err
	}
	reply.RefundedBalance = *bal
	return nil
}

// locateSlot resolves the (kind, slot) bucket a task is currently filed
// under by scanning the family it lives in — evented_by_trigger for an
// evented task, block/time slots otherwise — since its current bucket can
// have moved since creation (internal/dispatcher reschedules both kinds
// to a new bound on every firing).
func (s *Service) locateSlot(task *types.Task) (types.SlotKind, uint64, error) {
	if task.IsEvented() {
		heights, times, err := s.idx.EventedSlotIDs()
		if err != nil {
			return 0, 0, err
		}
		for _, h := range heights {
			hashes, err := s.idx.EventedHashes(types.SlotBlock, h)
			if err != nil {
				return 0, 0, err
			}
			for _, hh := range hashes {
				if hh == task.Hash {
					return types.SlotBlock, h, nil
				}
			}
		}
		for _, t := range times {
			hashes, err := s.idx.EventedHashes(types.SlotTime, t)
			if err != nil {
				return 0, 0, err
			}
			for _, hh := range hashes {
				if hh == task.Hash {
					return types.SlotTime, t, nil
				}
			}
		}
		return 0, 0, errs.ErrNoTaskFound
	}
	blocks, times, err := s.idx.SlotIDs()
	if err != nil {
		return 0, 0, err
	}
	for _, h := range blocks {
		hashes, err := s.idx.Hashes(types.SlotBlock, h)
		if err != nil {
			return 0, 0, err
		}
		for _, hh := range hashes {
			if hh == task.Hash {
				return types.SlotBlock, h, nil
			}
		}
	}
	for _, t := range times {
		hashes, err := s.idx.Hashes(types.SlotTime, t)
		if err != nil {
			return 0, 0, err
		}
		for _, hh := range hashes {
			if hh == task.Hash {
				return types.SlotTime, t, nil
			}
		}
	}
	return 0, 0, errs.ErrNoTaskFound
}

// RefillTaskNativeArgs/Reply implement spec.md §6 refill_task_native.
type RefillTaskNativeArgs struct {
	TaskHash types.TaskHash
	Amount   *types.Uint256
}

type RefillTaskNativeReply struct {
	Balance types.TaskBalance
}

func (s *Service) RefillTaskNative(r *http.Request, args *RefillTaskNativeArgs, reply *RefillTaskNativeReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, err := s.reg.RefillNative(args.TaskHash, args.Amount)
	if err != nil {
		return err
	}
	reply.Balance = *bal
	return nil
}

// RefillTaskTokenArgs/Reply implement spec.md §6 refill_task_token.
type RefillTaskTokenArgs struct {
	TaskHash     types.TaskHash
	TokenAddress types.Address
	Amount       *types.Uint256
}

type RefillTaskTokenReply struct {
	Balance types.TaskBalance
}

func (s *Service) RefillTaskToken(r *http.Request, args *RefillTaskTokenArgs, reply *RefillTaskTokenReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, err := s.reg.RefillToken(args.TaskHash, args.TokenAddress, args.Amount)
	if err != nil {
		return err
	}
	reply.Balance = *bal
	return nil
}

// GetTaskArgs/Reply implement spec.md §6 get_task.
type GetTaskArgs struct {
	TaskHash types.TaskHash
}

type GetTaskReply struct {
	Task types.Task
}

func (s *Service) GetTask(r *http.Request, args *GetTaskArgs, reply *GetTaskReply) error {
	task, err := s.reg.GetTask(args.TaskHash)
	if err != nil {
		return err
	}
	reply.Task = *task
	return nil
}

// TaskBalanceArgs/Reply implement spec.md §6 task_balance.
type TaskBalanceArgs struct {
	TaskHash types.TaskHash
}

type TaskBalanceReply struct {
	Balance types.TaskBalance
}

func (s *Service) TaskBalance(r *http.Request, args *TaskBalanceArgs, reply *TaskBalanceReply) error {
	bal, err := s.reg.GetBalance(args.TaskHash)
	if err != nil {
		return err
	}
	reply.Balance = *bal
	return nil
}

// PageArgs is the shared (from, limit) pagination shape spec.md §6 uses
// across tasks/tasks_by_owner/get_agent_ids/approved_agents.
type PageArgs struct {
	From  int
	Limit int
}

// TasksReply/TasksByOwnerArgs implement spec.md §6 tasks(from, limit) and
// tasks_by_owner(owner, from, limit).
type TasksReply struct {
	Tasks []types.Task
}

func flattenTasks(in []*types.Task) []types.Task {
	out := make([]types.Task, len(in))
	for i, t := range in {
		out[i] = *t
	}
	return out
}

func (s *Service) Tasks(r *http.Request, args *PageArgs, reply *TasksReply) error {
	plain, err := s.reg.ListTasks(args.From, args.Limit)
	if err != nil {
		return err
	}
	evented, err := s.reg.ListEventedTasks(args.From, args.Limit)
	if err != nil {
		return err
	}
	reply.Tasks = append(flattenTasks(plain), flattenTasks(evented)...)
	return nil
}

type TasksByOwnerArgs struct {
	Owner types.Address
	From  int
	Limit int
}

func (s *Service) TasksByOwner(r *http.Request, args *TasksByOwnerArgs, reply *TasksReply) error {
	tasks, err := s.reg.TasksByOwner(args.Owner, args.From, args.Limit)
	if err != nil {
		return err
	}
	reply.Tasks = flattenTasks(tasks)
	return nil
}

// TasksTotalReply implements spec.md §6 tasks_total.
type TasksTotalReply struct {
	Plain   uint64
	Evented uint64
}

func (s *Service) TasksTotal(r *http.Request, args *Empty, reply *TasksTotalReply) error {
	plain, evented, err := s.reg.TasksTotal()
	if err != nil {
		return err
	}
	reply.Plain = plain
	reply.Evented = evented
	return nil
}

// SlotHashesArgs/Reply implement spec.md §6 slot_hashes(slot?). Offset is
// added to the current height (block) and current time-in-nanos (time);
// a caller wanting an absolute slot id passes Kind/Offset combined with
// Absolute=true.
type SlotHashesArgs struct {
	Kind     types.SlotKind
	Offset   uint64
	Absolute bool
}

type SlotHashesReply struct {
	Hashes []types.TaskHash
}

func (s *Service) SlotHashes(r *http.Request, args *SlotHashesArgs, reply *SlotHashesReply) error {
	slot := s.resolveSlot(args.Kind, args.Offset, args.Absolute)
	hashes, err := s.idx.Hashes(args.Kind, slot)
	if err != nil {
		return err
	}
	reply.Hashes = hashes
	return nil
}

func (s *Service) resolveSlot(kind types.SlotKind, offset uint64, absolute bool) uint64 {
	if absolute {
		return offset
	}
	if kind == types.SlotTime {
		return uint64(s.clock.TimeNanos()) + offset
	}
	return s.clock.Height() + offset
}

// SlotIDsReply implements spec.md §6 slot_ids().
type SlotIDsReply struct {
	BlockSlots []uint64
	TimeSlots  []uint64
}

func (s *Service) SlotIDs(r *http.Request, args *Empty, reply *SlotIDsReply) error {
	blocks, times, err := s.idx.SlotIDs()
	if err != nil {
		return err
	}
	reply.BlockSlots = blocks
	reply.TimeSlots = times
	return nil
}

// SlotTasksTotalArgs/Reply implement spec.md §6 slot_tasks_total(offset?),
// returning the raw ready-task counts of each kind at current+offset
// (spec.md §8 scenario S1: "slot_tasks_total at current+1 -> {block: 1,
// time: 0, evented: 0}").
type SlotTasksTotalArgs struct {
	Offset uint64
}

type SlotTasksTotalReply struct {
	Block   uint64
	Time    uint64
	Evented uint64
}

func (s *Service) SlotTasksTotal(r *http.Request, args *SlotTasksTotalArgs, reply *SlotTasksTotalReply) error {
	blockHashes, err := s.idx.Hashes(types.SlotBlock, s.clock.Height()+args.Offset)
	if err != nil {
		return err
	}
	timeHashes, err := s.idx.Hashes(types.SlotTime, uint64(s.clock.TimeNanos())+args.Offset)
	if err != nil {
		return err
	}
	eventedHashes, err := s.idx.EventedReady(s.clock.Height()+args.Offset, uint64(s.clock.TimeNanos())+args.Offset)
	if err != nil {
		return err
	}
	reply.Block = uint64(len(blockHashes))
	reply.Time = uint64(len(timeHashes))
	reply.Evented = uint64(len(eventedHashes))
	return nil
}

// GetAgentTasksArgs/Reply implement spec.md §6
// get_agent_tasks(addr, (block_slots?, time_slots?)): the agent's
// fair-share count of ready tasks of each requested kind at
// current+offset, per spec.md §8's "Fair-share conservation" law (summing
// this across every active agent reproduces SlotTasksTotal's count for
// that kind).
type GetAgentTasksArgs struct {
	Addr       types.Address
	BlockSlots *uint64
	TimeSlots  *uint64
}

type GetAgentTasksReply struct {
	Block uint64
	Time  uint64
}

func (s *Service) GetAgentTasks(r *http.Request, args *GetAgentTasksArgs, reply *GetAgentTasksReply) error {
	position := s.pool.ActivePosition(args.Addr)
	if position < 0 {
		return errs.ErrAgentNotActive
	}
	stats := s.pool.ActiveStats()
	balancer := s.config().Balancer

	if args.BlockSlots != nil {
		hashes, err := s.idx.Hashes(types.SlotBlock, s.clock.Height()+*args.BlockSlots)
		if err != nil {
			return err
		}
		reply.Block = agentpool.Shares(balancer, stats, uint64(len(hashes)))[position]
	}
	if args.TimeSlots != nil {
		hashes, err := s.idx.Hashes(types.SlotTime, uint64(s.clock.TimeNanos())+*args.TimeSlots)
		if err != nil {
			return err
		}
		reply.Time = agentpool.Shares(balancer, stats, uint64(len(hashes)))[position]
	}
	return nil
}
