package command

import (
	"context"
	"encoding/json"

	"github.com/luxfi/geth/log"

	"github.com/croncatd/croncatd/internal/errs"
	"github.com/croncatd/croncatd/internal/types"
)

// unavailableResponder is the default query.Responder wired into the
// standalone daemon: spec.md §1 treats the generic-query host endpoint as
// an external collaborator the engine calls through, never reimplements,
// so a real deployment must supply its own Responder (an RPC client
// against whatever chain/module serves predicate queries) in place of
// this one, which always reports the target unavailable.
type unavailableResponder struct{}

func (unavailableResponder) Query(ctx context.Context, target types.Address, request json.RawMessage) (json.RawMessage, error) {
	return nil, errs.ErrQueryUnavailable
}

// loggingExecutor is the default dispatcher.Executor: it logs the action
// it would have run rather than submitting it anywhere, for the same
// reason unavailableResponder exists — action execution against a host
// chain is outside this engine's scope (spec.md §1) and is the one piece
// an operator must wire in for a production deployment.
type loggingExecutor struct{}

func (loggingExecutor) Execute(ctx context.Context, a types.Action) error {
	log.Info("croncatd: executing action", "kind", a.Kind, "target", a.Target)
	return nil
}
