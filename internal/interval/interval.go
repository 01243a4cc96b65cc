// Package interval implements C1, the pure interval evaluator (spec.md
// §4.1): it converts a task's recurrence spec into the next eligible block
// slot or time slot, with no storage access of its own.
package interval

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/robfig/cron/v3"

	"github.com/croncatd/croncatd/internal/errs"
	"github.com/croncatd/croncatd/internal/types"
)

// scheduleCache memoizes parsed cron.Schedule values by their source
// string, since C1 is re-handed the raw schedule string on every call
// (spec.md's note that the parsed form is never persisted) and re-parsing a
// standard 5-field cron expression on every dispatch would otherwise be
// wasted work on a hot path.
var scheduleCache = mustCache(256)

func mustCache(size int) *lru.Cache {
	c, err := lru.New(size)
	if err != nil {
		panic(err) // only fails for size <= 0
	}
	return c
}

var cacheMu sync.Mutex

func parseCron(expr string) (cron.Schedule, error) {
	cacheMu.Lock()
	if v, ok := scheduleCache.Get(expr); ok {
		cacheMu.Unlock()
		return v.(cron.Schedule), nil
	}
	cacheMu.Unlock()

	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrInvalidInterval, expr, err)
	}

	cacheMu.Lock()
	scheduleCache.Add(expr, sched)
	cacheMu.Unlock()
	return sched, nil
}

// ValidateCron rejects an invalid cron expression at task-creation time
// (spec.md §4.1 "parse once at creation (reject invalid spec)").
func ValidateCron(expr string) error {
	_, err := parseCron(expr)
	return err
}

func truncateDown(x, granularity uint64) uint64 {
	if granularity == 0 {
		granularity = 1
	}
	return x - x%granularity
}

func truncateUp(x, granularity uint64) uint64 {
	if granularity == 0 {
		granularity = 1
	}
	if r := x % granularity; r != 0 {
		return x + (granularity - r)
	}
	return x
}

// Next computes the next eligible slot for a task given the current block
// height h and block time t (nanoseconds), per spec.md §4.1. blockGranularity
// and timeGranularity must both be >= 1. ended is true when the task's
// interval has no further eligible slot (the Hash §4.1 "ended" sentinel;
// callers represent this as slot id types.EndedSlot).
func Next(iv types.Interval, bounds types.Bounds, h uint64, tNanos int64, blockGranularity, timeGranularity uint64) (slot uint64, kind types.SlotKind, ended bool, err error) {
	switch iv.Kind {
	case types.IntervalOnce, types.IntervalImmediate:
		return nextBlockLike(h, bounds, blockGranularity)

	case types.IntervalEveryNBlocks:
		n := iv.N
		if n == 0 {
			n = 1
		}
		candidateBase := ((h / n) + 1) * n
		return nextBlockLikeFrom(candidateBase, h, bounds, blockGranularity)

	case types.IntervalCron:
		return nextCron(iv.Schedule, bounds, tNanos, timeGranularity)

	default:
		return 0, types.SlotBlock, false, fmt.Errorf("%w: unhandled interval kind %v", errs.ErrInvalidInterval, iv.Kind)
	}
}

func nextBlockLike(h uint64, bounds types.Bounds, granularity uint64) (uint64, types.SlotKind, bool, error) {
	return nextBlockLikeFrom(h+1, h, bounds, granularity)
}

func nextBlockLikeFrom(base, h uint64, bounds types.Bounds, granularity uint64) (uint64, types.SlotKind, bool, error) {
	if bounds.Kind != types.BoundaryHeight && (bounds.Start != nil || bounds.End != nil) {
		return 0, types.SlotBlock, false, fmt.Errorf("%w: block interval with non-height bounds", errs.ErrInvalidBoundary)
	}
	if bounds.End != nil && h > *bounds.End {
		return types.EndedSlot, types.SlotBlock, true, nil
	}

	candidate := truncateDown(base, granularity)
	if bounds.Start != nil && *bounds.Start > candidate {
		candidate = truncateUp(*bounds.Start, granularity)
	}
	if bounds.End != nil && candidate > *bounds.End {
		candidate = truncateDown(*bounds.End, granularity)
	}
	if candidate == types.EndedSlot {
		// Slot 0 collides with the "ended" sentinel; the engine never
		// schedules at height 0 in practice (genesis has no agents yet),
		// but guard explicitly rather than let it be misread as ended.
		candidate = 1
	}
	return candidate, types.SlotBlock, false, nil
}

func nextCron(schedule string, bounds types.Bounds, tNanos int64, granularity uint64) (uint64, types.SlotKind, bool, error) {
	if bounds.Kind != types.BoundaryTime && (bounds.Start != nil || bounds.End != nil) {
		return 0, types.SlotTime, false, fmt.Errorf("%w: cron interval with non-time bounds", errs.ErrInvalidBoundary)
	}
	if bounds.End != nil && uint64(tNanos) > *bounds.End {
		return types.EndedSlot, types.SlotTime, true, nil
	}

	sched, err := parseCron(schedule)
	if err != nil {
		return 0, types.SlotTime, false, err
	}

	base := tNanos
	if bounds.Start != nil && int64(*bounds.Start) > base {
		base = int64(*bounds.Start)
	}

	next := sched.Next(time.Unix(0, base)).UnixNano()
	candidate := truncateDown(uint64(next), granularity)

	if bounds.End != nil && candidate > *bounds.End {
		candidate = truncateDown(*bounds.End, granularity)
	}
	return candidate, types.SlotTime, false, nil
}
