// Package query implements the generic-query module spec.md §4.6 step 6
// calls into, plus the transform path resolver of §3/§4.6 step 7. Boolean
// gating (is this action a contract-call message; did a predicate resolve
// truthy) goes through hashicorp/go-bexpr's expression evaluator rather
// than hand-rolled comparisons, since that is exactly the boolean-
// expression-over-a-struct problem bexpr is built for; locating and
// overwriting a value at a dotted JSON path is not something bexpr does
// (it filters, it doesn't mutate), so that half is a small local walker.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-bexpr"

	"github.com/croncatd/croncatd/internal/errs"
	"github.com/croncatd/croncatd/internal/types"
)

// Responder is the generic-query client C6 calls through: given a target
// contract/module address and an opaque request payload, return the
// opaque response payload. Production wiring wraps whatever RPC client
// talks to the host chain; tests supply a map-backed fake.
type Responder interface {
	Query(ctx context.Context, target types.Address, request json.RawMessage) (json.RawMessage, error)
}

// predicateDatum is the struct bexpr evaluates the "is this predicate
// truthy" gate against (spec.md §4.6 step 6).
type predicateDatum struct {
	Result bool `bexpr:"result"`
}

var truthyEvaluator = mustEvaluator("result == true")

func mustEvaluator(expr string) *bexpr.Evaluator {
	ev, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		panic(err) // fixed expression, only fails on a programmer error
	}
	return ev
}

// decodeBool accepts either a bare JSON boolean response or an object
// with a top-level "result" boolean field, the two shapes a predicate
// query response is allowed to take.
func decodeBool(resp json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(resp, &b); err == nil {
		return b, nil
	}
	var wrapper struct {
		Result bool `json:"result"`
	}
	if err := json.Unmarshal(resp, &wrapper); err != nil {
		return false, fmt.Errorf("%w: predicate response is not a bool or {result: bool}", errs.ErrTaskInvalidQueryResult)
	}
	return wrapper.Result, nil
}

// EvaluatePredicate reports whether a query response satisfies
// check_result=true (spec.md §4.6 step 6). check_result=false predicates
// always pass without inspecting the response.
func EvaluatePredicate(resp json.RawMessage, checkResult bool) (bool, error) {
	if !checkResult {
		return true, nil
	}
	b, err := decodeBool(resp)
	if err != nil {
		return false, err
	}
	ok, err := truthyEvaluator.Evaluate(predicateDatum{Result: b})
	if err != nil {
		return false, fmt.Errorf("%w: %v", errs.ErrTaskInvalidQueryResult, err)
	}
	return ok, nil
}

// actionKindDatum is the struct bexpr evaluates "is this a contract-call
// message" against (spec.md §4.6 step 7: transforms may only target
// contract-call action payloads).
type actionKindDatum struct {
	Kind int `bexpr:"kind"`
}

var contractCallEvaluator = mustEvaluator(fmt.Sprintf("kind == %d", int(types.MessageContractCall)))

// IsContractCall reports whether a is a MessageContractCall action.
func IsContractCall(a types.Action) bool {
	ok, err := contractCallEvaluator.Evaluate(actionKindDatum{Kind: int(a.Kind)})
	if err != nil {
		return false
	}
	return ok
}

// splitPath tokenizes a dotted path, supporting a trailing "[n]" array
// index on any segment (spec.md §3 "query.asset.token_output",
// "action.bank.send.amount[0].amount" in the S5 scenario).
func splitPath(path string) []string {
	return strings.Split(path, ".")
}

func navigate(root interface{}, segments []string) (interface{}, map[string]interface{}, string, int, error) {
	cur := root
	for i, seg := range segments {
		key, idx, hasIdx := parseSegment(seg)
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, nil, "", 0, fmt.Errorf("%w: path segment %q is not an object", errs.ErrInvalidTransform, seg)
		}
		v, ok := m[key]
		if !ok {
			return nil, nil, "", 0, fmt.Errorf("%w: path segment %q not found", errs.ErrInvalidTransform, seg)
		}
		last := i == len(segments)-1
		if hasIdx {
			arr, ok := v.([]interface{})
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, nil, "", 0, fmt.Errorf("%w: path segment %q index out of range", errs.ErrInvalidTransform, seg)
			}
			if last {
				return arr[idx], m, key, idx, nil
			}
			cur = arr[idx]
			continue
		}
		if last {
			return v, m, key, -1, nil
		}
		cur = v
	}
	return nil, nil, "", 0, fmt.Errorf("%w: empty path", errs.ErrInvalidTransform)
}

func parseSegment(seg string) (key string, idx int, hasIdx bool) {
	open := strings.IndexByte(seg, '[')
	if open < 0 || !strings.HasSuffix(seg, "]") {
		return seg, 0, false
	}
	key = seg[:open]
	n, err := strconv.Atoi(seg[open+1 : len(seg)-1])
	if err != nil {
		return seg, 0, false
	}
	return key, n, true
}

// ResolvePath reads the value at a dotted path inside a decoded JSON
// document (spec.md §3/§4.6 step 7 "path_in_query_response").
func ResolvePath(doc json.RawMessage, path string) (interface{}, error) {
	var root interface{}
	if err := json.Unmarshal(doc, &root); err != nil {
		return nil, fmt.Errorf("%w: response is not valid JSON", errs.ErrInvalidTransform)
	}
	v, _, _, _, err := navigate(root, splitPath(path))
	return v, err
}

// ApplyTransform overwrites the value at path inside payload with value,
// returning the re-encoded payload (spec.md §4.6 step 7
// "path_in_action_payload").
func ApplyTransform(payload json.RawMessage, path string, value interface{}) (json.RawMessage, error) {
	var root interface{}
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("%w: action payload is not valid JSON", errs.ErrInvalidTransform)
	}
	_, container, key, idx, err := navigate(root, splitPath(path))
	if err != nil {
		return nil, err
	}
	if idx >= 0 {
		arr := container[key].([]interface{})
		arr[idx] = value
	} else {
		container[key] = value
	}
	return json.Marshal(root)
}

// Apply runs the full transform step for one Transform entry against the
// collected query responses, returning the task's rewritten action list.
// Fails with ErrInvalidTransform if either path doesn't resolve, the
// containing action isn't a contract-call message, or re-encoding fails.
func Apply(actions []types.Action, responses [][]byte, tr types.Transform) ([]types.Action, error) {
	if tr.ActionIndex < 0 || tr.ActionIndex >= len(actions) {
		return nil, fmt.Errorf("%w: action index %d out of range", errs.ErrInvalidTransform, tr.ActionIndex)
	}
	if tr.QueryIndex < 0 || tr.QueryIndex >= len(responses) {
		return nil, fmt.Errorf("%w: query index %d out of range", errs.ErrInvalidTransform, tr.QueryIndex)
	}
	action := actions[tr.ActionIndex]
	if !IsContractCall(action) {
		return nil, fmt.Errorf("%w: action %d is not a contract-call message", errs.ErrInvalidTransform, tr.ActionIndex)
	}

	value, err := ResolvePath(responses[tr.QueryIndex], tr.QueryPath)
	if err != nil {
		return nil, err
	}
	newPayload, err := ApplyTransform(action.Payload, tr.ActionPath, value)
	if err != nil {
		return nil, err
	}

	out := make([]types.Action, len(actions))
	copy(out, actions)
	out[tr.ActionIndex].Payload = newPayload
	return out, nil
}
