// Package canon computes the content-addressed task hash (spec.md §6):
// chain_label + ":" + hex(sha256(canon(owner, interval, bounds, actions,
// queries, transforms))), where canon is a fixed-field-order,
// length-prefixed encoding so semantically identical tasks collide. The
// encoding uses protobuf's wire-format primitives directly (no generated
// message types) the way the teacher's own rlp-adjacent encoders build a
// deterministic byte stream field-by-field rather than reflect over a
// struct.
package canon

import (
	"crypto/sha256"
	"encoding/hex"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/croncatd/croncatd/internal/types"
)

// field numbers for the canonical message, fixed forever: changing one
// would silently change every existing task_hash.
const (
	fieldOwner      = 1
	fieldInterval   = 2
	fieldBounds     = 3
	fieldActions    = 4
	fieldQueries    = 5
	fieldTransforms = 6
)

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func optionalVarint(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v + 1 // 0 reserved for "absent"
}

func encodeInterval(iv types.Interval) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(iv.Kind))
	b = appendVarintField(b, 2, iv.N)
	b = appendBytesField(b, 3, []byte(iv.Schedule))
	return b
}

func encodeBounds(bd types.Bounds) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(bd.Kind))
	b = appendVarintField(b, 2, optionalVarint(bd.Start))
	b = appendVarintField(b, 3, optionalVarint(bd.End))
	return b
}

func encodeAction(a types.Action) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(a.Kind))
	b = appendBytesField(b, 2, a.Target[:])
	b = appendBytesField(b, 3, a.Payload)
	b = appendVarintField(b, 4, optionalVarint(a.GasLimit))
	if a.Token != nil {
		var t []byte
		t = appendBytesField(t, 1, a.Token.TokenAddress[:])
		if a.Token.Amount != nil {
			t = appendBytesField(t, 2, a.Token.Amount.Bytes())
		}
		b = appendBytesField(b, 5, t)
	}
	return b
}

func encodeQuery(q types.Query) []byte {
	var b []byte
	b = appendBytesField(b, 1, q.Target[:])
	b = appendBytesField(b, 2, q.Request)
	if q.CheckResult {
		b = appendVarintField(b, 3, 1)
	}
	return b
}

func encodeTransform(tr types.Transform) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(tr.ActionIndex))
	b = appendVarintField(b, 2, uint64(tr.QueryIndex))
	b = appendBytesField(b, 3, []byte(tr.ActionPath))
	b = appendBytesField(b, 4, []byte(tr.QueryPath))
	return b
}

// canonicalize builds the fixed-field-order, length-prefixed byte stream
// the hash is taken over.
func canonicalize(owner types.Address, iv types.Interval, bd types.Bounds, actions []types.Action, queries []types.Query, transforms []types.Transform) []byte {
	var b []byte
	b = appendBytesField(b, fieldOwner, owner[:])
	b = appendBytesField(b, fieldInterval, encodeInterval(iv))
	b = appendBytesField(b, fieldBounds, encodeBounds(bd))
	for _, a := range actions {
		b = appendBytesField(b, fieldActions, encodeAction(a))
	}
	for _, q := range queries {
		b = appendBytesField(b, fieldQueries, encodeQuery(q))
	}
	for _, tr := range transforms {
		b = appendBytesField(b, fieldTransforms, encodeTransform(tr))
	}
	return b
}

// TaskHash computes sha256(canon(...)) as the raw 32-byte key; chainLabel is
// not mixed into the digest. TaskHashString renders the
// "<chain_label>:<hex>" form.
func TaskHash(chainLabel string, owner types.Address, iv types.Interval, bd types.Bounds, actions []types.Action, queries []types.Query, transforms []types.Transform) types.TaskHash {
	sum := sha256.Sum256(canonicalize(owner, iv, bd, actions, queries, transforms))
	return types.TaskHash(sum)
}

// TaskHashString renders the hash the way query handlers echo it back:
// "<chain_label>:<hex>".
func TaskHashString(chainLabel string, h types.TaskHash) string {
	return chainLabel + ":" + hex.EncodeToString(h[:])
}
