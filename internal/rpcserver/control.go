package rpcserver

import (
	"net/http"
	"time"

	"github.com/croncatd/croncatd/internal/errs"
	"github.com/croncatd/croncatd/internal/lifecycle"
	"github.com/croncatd/croncatd/internal/types"
)

// ConfigPatch carries the owner-supplied delta for update_config (spec.md
// §6); every field is optional so a patch only touches what it names.
// PublicRegistration is one-way (spec.md §4.7, §8 "Progressive
// decentralization"): a patch setting it to false once it is already true
// is rejected by lifecycle.EnablePublicRegistration's caller-side check.
type ConfigPatch struct {
	Owner        *types.Address
	PauseAdmin   *types.Address
	TreasuryAddr *types.Address
	NativeDenom  *string
	ChainLabel   *string

	MinTasksPerAgent         *uint64
	EvictionThreshold        *uint64
	MinActiveAgentCount      *uint64
	NominationWindowDuration *int64 // nanoseconds, to keep the wire type a plain integer

	GasBaseFee   *uint64
	GasPerAction *uint64
	GasPerQuery  *uint64
	GasPrice     *types.Uint256

	AgentFeePercent    *uint64
	TreasuryFeePercent *uint64

	BlockGranularity *uint64
	TimeGranularity  *uint64
	PerTaskGasCap    *uint64
	KeeperReward     *types.Uint256

	PublicRegistration *bool
	Balancer           *types.BalancerMode
	AgentBondReserve   *types.Uint256
}

func applyConfigPatch(cfg types.Config, patch ConfigPatch) (types.Config, error) {
	if patch.Owner != nil {
		cfg.Owner = *patch.Owner
	}
	if patch.PauseAdmin != nil {
		cfg.PauseAdmin = *patch.PauseAdmin
	}
	if patch.TreasuryAddr != nil {
		cfg.TreasuryAddr = *patch.TreasuryAddr
	}
	if patch.NativeDenom != nil {
		cfg.NativeDenom = *patch.NativeDenom
	}
	if patch.ChainLabel != nil {
		cfg.ChainLabel = *patch.ChainLabel
	}
	if patch.MinTasksPerAgent != nil {
		cfg.MinTasksPerAgent = *patch.MinTasksPerAgent
	}
	if patch.EvictionThreshold != nil {
		cfg.EvictionThreshold = *patch.EvictionThreshold
	}
	if patch.MinActiveAgentCount != nil {
		cfg.MinActiveAgentCount = *patch.MinActiveAgentCount
	}
	if patch.NominationWindowDuration != nil {
		cfg.NominationWindowDuration = time.Duration(*patch.NominationWindowDuration)
	}
	if patch.GasBaseFee != nil {
		cfg.GasBaseFee = *patch.GasBaseFee
	}
	if patch.GasPerAction != nil {
		cfg.GasPerAction = *patch.GasPerAction
	}
	if patch.GasPerQuery != nil {
		cfg.GasPerQuery = *patch.GasPerQuery
	}
	if patch.GasPrice != nil {
		cfg.GasPrice = patch.GasPrice
	}
	if patch.AgentFeePercent != nil {
		cfg.AgentFeePercent = *patch.AgentFeePercent
	}
	if patch.TreasuryFeePercent != nil {
		cfg.TreasuryFeePercent = *patch.TreasuryFeePercent
	}
	if patch.BlockGranularity != nil {
		cfg.BlockGranularity = *patch.BlockGranularity
	}
	if patch.TimeGranularity != nil {
		cfg.TimeGranularity = *patch.TimeGranularity
	}
	if patch.PerTaskGasCap != nil {
		cfg.PerTaskGasCap = *patch.PerTaskGasCap
	}
	if patch.KeeperReward != nil {
		cfg.KeeperReward = patch.KeeperReward
	}
	if patch.Balancer != nil {
		cfg.Balancer = *patch.Balancer
	}
	if patch.AgentBondReserve != nil {
		cfg.AgentBondReserve = patch.AgentBondReserve
	}
	if patch.PublicRegistration != nil {
		if *patch.PublicRegistration {
			next, err := lifecycle.EnablePublicRegistration(cfg)
			if err != nil {
				return types.Config{}, err
			}
			cfg = next
		} else if cfg.PublicRegistration {
			return types.Config{}, errs.ErrDecentralizationOn
		}
	}
	if err := lifecycle.ValidateAdmins(cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

// UpdateConfigArgs/Reply implement spec.md §6 update_config(patch),
// owner only.
type UpdateConfigArgs struct {
	Caller types.Address
	Patch  ConfigPatch
}

type UpdateConfigReply struct {
	Config types.Config
}

func (s *Service) UpdateConfig(r *http.Request, args *UpdateConfigArgs, reply *UpdateConfigReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := requireOwner(args.Caller, s.cfg.Owner); err != nil {
		return err
	}
	next, err := applyConfigPatch(s.cfg, args.Patch)
	if err != nil {
		return err
	}
	if err := s.saveConfig(next); err != nil {
		return err
	}
	s.cfg = next
	reply.Config = next
	return nil
}

// PauseArgs/Reply implement spec.md §6 pause(), pause-admin only.
type PauseArgs struct {
	Caller types.Address
}

type PauseReply struct{}

func (s *Service) Pause(r *http.Request, args *PauseArgs, reply *PauseReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.life.Pause(args.Caller, s.cfg)
}

// UnpauseArgs/Reply implement spec.md §6 unpause(), owner only per
// spec.md §6's "pause-admin / owner respectively" split; the same gate
// enforced in lifecycle.Unpause is reused here rather than duplicated.
type UnpauseArgs struct {
	Caller types.Address
}

type UnpauseReply struct{}

func (s *Service) Unpause(r *http.Request, args *UnpauseArgs, reply *UnpauseReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.life.Unpause(args.Caller, s.cfg)
}

// ConfigReply implements spec.md §6 config().
type ConfigReply struct {
	Config types.Config
}

func (s *Service) Config(r *http.Request, args *Empty, reply *ConfigReply) error {
	reply.Config = s.config()
	return nil
}

// PausedReply implements spec.md §6 paused().
type PausedReply struct {
	Paused bool
}

func (s *Service) Paused(r *http.Request, args *Empty, reply *PausedReply) error {
	paused, err := s.life.Paused()
	if err != nil {
		return err
	}
	reply.Paused = paused
	return nil
}

// ProxyCallArgs/Reply implement spec.md §6 proxy_call(task_hash?).
// TaskHash is accepted on the wire but not read: the dispatcher always
// serves the next ready candidate it finds itself, and a named evented
// task is not selected ahead of that candidate.
type ProxyCallArgs struct {
	Caller   types.Address
	TaskHash *types.TaskHash
}

type ProxyCallReply struct {
	Empty        bool
	RewardPaid   bool
	TaskHash     types.TaskHash
	SlotID       uint64
	SlotKind     types.SlotKind
	TaskRemoved  bool
	RemoveReason string
}

func (s *Service) ProxyCall(r *http.Request, args *ProxyCallArgs, reply *ProxyCallReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.disp.ProxyCall(r.Context(), s.clock, s.cfg, args.Caller)
	if err != nil {
		return err
	}
	reply.Empty = res.Empty
	reply.RewardPaid = res.RewardPaid
	reply.TaskHash = res.TaskHash
	reply.SlotID = res.SlotID
	reply.SlotKind = res.SlotKind
	reply.TaskRemoved = res.TaskRemoved
	reply.RemoveReason = res.RemoveReason
	return nil
}
