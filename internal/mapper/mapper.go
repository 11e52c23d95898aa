// Package mapper aligns an execution trace's actions to framebuffer
// timestamps recovered from a replayed recording, selecting a before/after
// screenshot index for each action.
package mapper

import (
	"fmt"
	"sort"
)

// Default "after" delay thresholds. A plain action's after-frame is the
// first frame strictly later than start + MinAfterDelay; a wait action
// additionally waits out its own duration plus WaitAfterBuffer on top of
// that, since the wait's "start" is already the point its delay began.
const (
	DefaultMinAfterDelaySeconds   = 1
	DefaultWaitAfterBufferSeconds = 1
)

// Config carries the mapper's two tunable delays, in seconds.
type Config struct {
	MinAfterDelaySeconds   int
	WaitAfterBufferSeconds int
}

func DefaultConfig() Config {
	return Config{
		MinAfterDelaySeconds:   DefaultMinAfterDelaySeconds,
		WaitAfterBufferSeconds: DefaultWaitAfterBufferSeconds,
	}
}

// ExecutionAction is one entry of an execution.json trace.
type ExecutionAction struct {
	Action             string
	Params             map[string]any
	TaskMarkedComplete bool
}

// FrameRef names the on-disk screenshot saved for a record's before/after
// slot. Path is filled in by the caller once the frame has actually been
// rendered and written to disk; the mapper itself only resolves indices.
type FrameRef struct {
	Index int    `json:"-"`
	Path  string `json:"path"`
}

// Record is one entry of action_screenshots.json.
type Record struct {
	Index              int            `json:"index"`
	Action             string         `json:"action"`
	Params             map[string]any `json:"params"`
	TaskMarkedComplete bool           `json:"task_marked_complete"`
	Before             FrameRef       `json:"before"`
	After              *FrameRef      `json:"after,omitempty"`
	TimestampNs        int64          `json:"timestamp_ns"`
	Relative           string         `json:"relative"`
}

// RelativeTimestampFunc formats a nanosecond delta from the run's start the
// same way internal/actions does, so the mapper's output and the synthesizer's
// action trace read on a shared clock.
type RelativeTimestampFunc func(deltaNs int64) string

// Map aligns actions against frameTimestampsNs (ascending, one entry per
// framebuffer update observed during replay) and synthesizedTimestampsNs
// (ascending, one entry per synthesized action). startTimestampNs is the
// run's first observed step, used only to compute Relative.
//
// An ordinary action at index i is anchored on synthesizedTimestampsNs[i+1],
// the next synthesized action, so that slice needs at least one entry more
// than the actions it anchors. A "wait" action starts at the previous
// record's "after" frame and uses its own duration for its end time; a
// "finish" action is anchored on the last known timestamp and gets no
// "after" frame.
func Map(cfg Config, actions []ExecutionAction, synthesizedTimestampsNs []int64, frameTimestampsNs []int64, startTimestampNs int64, relative RelativeTimestampFunc) ([]Record, error) {
	minAfterDelayNs := int64(cfg.MinAfterDelaySeconds) * 1_000_000_000
	waitAfterBufferNs := int64(cfg.WaitAfterBufferSeconds) * 1_000_000_000

	records := make([]Record, 0, len(actions))
	var lastAfterTimestampNs int64
	haveLastAfter := false

	for i, a := range actions {
		if a.Action == "finish" {
			start, ok := lastKnownTimestamp(lastAfterTimestampNs, haveLastAfter, synthesizedTimestampsNs, i)
			if !ok {
				return nil, fmt.Errorf("mapper: finish action at index %d has no prior timestamp to anchor on", i)
			}
			beforeIdx, err := beforeFrameIndex(frameTimestampsNs, start)
			if err != nil {
				return nil, fmt.Errorf("mapper: action %d (%s): %w", i, a.Action, err)
			}
			records = append(records, Record{
				Index:              i + 1,
				Action:             a.Action,
				Params:             a.Params,
				TaskMarkedComplete: a.TaskMarkedComplete,
				Before:             FrameRef{Index: beforeIdx},
				TimestampNs:        start,
				Relative:           relative(start - startTimestampNs),
			})
			continue
		}

		var start, afterThresholdNs int64
		if a.Action == "wait" {
			duration, err := waitDurationSeconds(a.Params)
			if err != nil {
				return nil, fmt.Errorf("mapper: action %d (%s): %w", i, a.Action, err)
			}
			if !haveLastAfter {
				return nil, fmt.Errorf("mapper: wait action at index %d has no prior \"after\" timestamp", i)
			}
			start = lastAfterTimestampNs
			end := start + int64(duration*1e9)
			afterThresholdNs = end + minAfterDelayNs + waitAfterBufferNs
		} else {
			if i+1 >= len(synthesizedTimestampsNs) {
				return nil, fmt.Errorf("mapper: action %d (%s) has no next synthesized action to anchor on", i, a.Action)
			}
			start = synthesizedTimestampsNs[i+1]
			afterThresholdNs = start + minAfterDelayNs
		}

		beforeIdx, err := beforeFrameIndex(frameTimestampsNs, start)
		if err != nil {
			return nil, fmt.Errorf("mapper: action %d (%s): %w", i, a.Action, err)
		}
		afterIdx, err := afterFrameIndex(frameTimestampsNs, afterThresholdNs)
		if err != nil {
			return nil, fmt.Errorf("mapper: action %d (%s): %w", i, a.Action, err)
		}

		records = append(records, Record{
			Index:              i + 1,
			Action:             a.Action,
			Params:             a.Params,
			TaskMarkedComplete: a.TaskMarkedComplete,
			Before:             FrameRef{Index: beforeIdx},
			After:              &FrameRef{Index: afterIdx},
			TimestampNs:        start,
			Relative:           relative(start - startTimestampNs),
		})

		lastAfterTimestampNs = frameTimestampsNs[afterIdx]
		haveLastAfter = true
	}

	return records, nil
}

func lastKnownTimestamp(lastAfter int64, haveLastAfter bool, synthesizedTimestampsNs []int64, i int) (int64, bool) {
	if haveLastAfter {
		return lastAfter, true
	}
	if i > 0 && i-1 < len(synthesizedTimestampsNs) {
		return synthesizedTimestampsNs[i-1], true
	}
	if len(synthesizedTimestampsNs) > 0 {
		return synthesizedTimestampsNs[0], true
	}
	return 0, false
}

func waitDurationSeconds(params map[string]any) (float64, error) {
	raw, ok := params["duration"]
	if !ok {
		return 0, fmt.Errorf("wait action missing numeric \"duration\" param")
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("wait action \"duration\" param is not numeric: %T", raw)
	}
}

// beforeFrameIndex returns the latest frame index whose timestamp is <= at,
// found by binary search since frameTimestampsNs is ascending.
func beforeFrameIndex(frameTimestampsNs []int64, at int64) (int, error) {
	i := sort.Search(len(frameTimestampsNs), func(i int) bool {
		return frameTimestampsNs[i] > at
	})
	if i == 0 {
		return 0, fmt.Errorf("no frame at or before timestamp %d", at)
	}
	return i - 1, nil
}

// afterFrameIndex returns the first frame index whose timestamp is strictly
// greater than threshold.
func afterFrameIndex(frameTimestampsNs []int64, threshold int64) (int, error) {
	i := sort.Search(len(frameTimestampsNs), func(i int) bool {
		return frameTimestampsNs[i] > threshold
	})
	if i == len(frameTimestampsNs) {
		return 0, fmt.Errorf("no frame after timestamp %d", threshold)
	}
	return i, nil
}
