package rpcserver

import (
	"net/http"

	"github.com/croncatd/croncatd/internal/types"
)

// RegisterAgentArgs/Reply implement spec.md §6
// register_agent(payout_addr?).
type RegisterAgentArgs struct {
	Caller     types.Address
	PayoutAddr *types.Address
}

type RegisterAgentReply struct{}

func (s *Service) RegisterAgent(r *http.Request, args *RegisterAgentArgs, reply *RegisterAgentReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payout := args.Caller
	if args.PayoutAddr != nil {
		payout = *args.PayoutAddr
	}
	return s.life.RegisterAgent(args.Caller, payout, s.cfg, s.clock.Time())
}

// ApproveAgentArgs/Reply expose the whitelist-management half of spec.md
// §4.7 (owner only). Not itself a spec.md §6 bullet, but register_agent's
// whitelist gate is unusable without some way to populate it.
type ApproveAgentArgs struct {
	Caller types.Address
	Addr   types.Address
}

type ApproveAgentReply struct{}

func (s *Service) ApproveAgent(r *http.Request, args *ApproveAgentArgs, reply *ApproveAgentReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.life.ApproveAgent(args.Caller, args.Addr, s.cfg)
}

// UpdateAgentArgs/Reply implement spec.md §6 update_agent(payout_addr).
type UpdateAgentArgs struct {
	Caller     types.Address
	PayoutAddr types.Address
}

type UpdateAgentReply struct{}

func (s *Service) UpdateAgent(r *http.Request, args *UpdateAgentArgs, reply *UpdateAgentReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.life.UpdatePayoutAddress(args.Caller, args.PayoutAddr)
}

// UnregisterAgentArgs/Reply implement spec.md §6
// unregister_agent(from_behind?).
type UnregisterAgentArgs struct {
	Caller     types.Address
	FromBehind bool
}

type UnregisterAgentReply struct{}

func (s *Service) UnregisterAgent(r *http.Request, args *UnregisterAgentArgs, reply *UnregisterAgentReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.life.UnregisterAgent(args.Caller, args.FromBehind)
}

// CheckInAgentArgs/Reply implement spec.md §6 check_in_agent().
type CheckInAgentArgs struct {
	Caller types.Address
}

type CheckInAgentReply struct{}

func (s *Service) CheckInAgent(r *http.Request, args *CheckInAgentArgs, reply *CheckInAgentReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	total, err := s.totalReadyTasks()
	if err != nil {
		return err
	}
	return s.life.CheckIn(args.Caller, s.clock.Time(), s.cfg, total)
}

// TickReply implements spec.md §6 tick().
type TickReply struct {
	KickedAgents []types.Address
}

func (s *Service) Tick(r *http.Request, args *Empty, reply *TickReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kicked, err := s.life.Tick(s.clock.Height(), s.cfg)
	if err != nil {
		return err
	}
	reply.KickedAgents = kicked
	return nil
}

// OnTaskCreatedArgs implements spec.md §6
// on_task_created(task_hash, total_tasks), the privileged C3->C4
// notification (SPEC_FULL.md supplemented feature #2).
type OnTaskCreatedArgs struct {
	TaskHash   types.TaskHash
	TotalTasks uint64
}

type OnTaskCreatedReply struct{}

func (s *Service) OnTaskCreated(r *http.Request, args *OnTaskCreatedArgs, reply *OnTaskCreatedReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.life.NotifyTaskCreated(s.cfg, args.TotalTasks, s.clock.Time())
	return nil
}

// WithdrawAgentRewardsArgs/Reply implement spec.md §6
// withdraw_agent_rewards().
type WithdrawAgentRewardsArgs struct {
	Caller types.Address
}

type WithdrawAgentRewardsReply struct {
	Withdrawn *types.Uint256
}

func (s *Service) WithdrawAgentRewards(r *http.Request, args *WithdrawAgentRewardsArgs, reply *WithdrawAgentRewardsReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	withdrawn, err := s.life.WithdrawAgentRewards(args.Caller, s.cfg)
	if err != nil {
		return err
	}
	reply.Withdrawn = withdrawn
	return nil
}

// GetAgentArgs/Reply implement spec.md §6 get_agent(addr, total_tasks).
type GetAgentArgs struct {
	Addr       types.Address
	TotalTasks uint64
}

type GetAgentReply struct {
	Agent  types.Agent
	Stats  types.AgentStats
	Status types.AgentStatus
}

func (s *Service) GetAgent(r *http.Request, args *GetAgentArgs, reply *GetAgentReply) error {
	agent, ok := s.pool.Agent(args.Addr)
	if !ok {
		reply.Status = types.AgentUnregistered
		return nil
	}
	stats, _ := s.pool.Stats(args.Addr)
	reply.Agent = agent
	reply.Stats = stats
	reply.Status = s.pool.Status(args.Addr, s.clock.Time(), s.config(), args.TotalTasks)
	return nil
}

// GetAgentIDsReply implements spec.md §6 get_agent_ids(from, limit).
type GetAgentIDsReply struct {
	Agents []types.Address
}

func (s *Service) GetAgentIDs(r *http.Request, args *PageArgs, reply *GetAgentIDsReply) error {
	reply.Agents = s.pool.AgentIDs(args.From, args.Limit)
	return nil
}

// ApprovedAgentsReply implements spec.md §6 approved_agents(from, limit).
type ApprovedAgentsReply struct {
	Agents []types.Address
}

func (s *Service) ApprovedAgents(r *http.Request, args *PageArgs, reply *ApprovedAgentsReply) error {
	reply.Agents = s.pool.ApprovedAgents(args.From, args.Limit)
	return nil
}
