package types

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// Address identifies an owner, agent, or contract target. Identity and
// signature verification are the host runtime's concern (spec.md §1); this
// engine only ever compares and stores addresses.
type Address = common.Address

// TaskHash is the content-addressed primary key of a Task (spec.md §3, §6).
type TaskHash = common.Hash

// Uint256 is the engine's money/gas representation, matching the teacher's
// convention of using 256-bit native-width integers for every
// balance/cost/amount field rather than int64 or big.Int, since the host
// chain's coin amounts are itself uint256-denominated.
type Uint256 = uint256.Int

// ZeroUint256 returns a fresh zero-valued Uint256.
func ZeroUint256() *Uint256 { return new(uint256.Int) }

// NewUint256 constructs a Uint256 from a uint64.
func NewUint256(v uint64) *Uint256 { return new(uint256.Int).SetUint64(v) }
