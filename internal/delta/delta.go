// Package delta computes and applies versioned, path-addressed state deltas.
// The coordinator diffs the pre- and post-action snapshots into a small set
// of operations; clients gate application on the previous version and fall
// back to a full sync on mismatch.
package delta

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Op kinds. Paths use dotted notation with numeric indices, e.g.
// "units.0.position".
const (
	OpSet    = "set"
	OpDelete = "delete"
	OpPush   = "push"
	OpSplice = "splice"
)

// Op is one change operation.
type Op struct {
	Op          string `json:"op"`
	Path        string `json:"path"`
	Value       any    `json:"value,omitempty"`
	Index       int    `json:"index,omitempty"`
	DeleteCount int    `json:"deleteCount,omitempty"`
	Items       []any  `json:"items,omitempty"`
}

// Delta is a versioned changeset: applying Changes to a state at
// PreviousVersion yields the state at Version.
type Delta struct {
	Version         int  `json:"version"`
	PreviousVersion int  `json:"previousVersion"`
	Changes         []Op `json:"changes"`
}

// Compute diffs two snapshots into ops. Both values are passed through JSON
// so paths address the canonical wire representation regardless of the Go
// types involved.
func Compute(oldState, newState any) ([]Op, error) {
	oldV, err := normalize(oldState)
	if err != nil {
		return nil, fmt.Errorf("normalizing old state: %w", err)
	}
	newV, err := normalize(newState)
	if err != nil {
		return nil, fmt.Errorf("normalizing new state: %w", err)
	}
	var ops []Op
	diffValue("", oldV, newV, &ops)
	return ops, nil
}

// normalize round-trips a value through JSON into map/slice/float64 form.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func diffValue(path string, oldV, newV any, ops *[]Op) {
	if reflect.DeepEqual(oldV, newV) {
		return
	}

	oldMap, oldIsMap := oldV.(map[string]any)
	newMap, newIsMap := newV.(map[string]any)
	if oldIsMap && newIsMap {
		diffMap(path, oldMap, newMap, ops)
		return
	}

	oldArr, oldIsArr := oldV.([]any)
	newArr, newIsArr := newV.([]any)
	if oldIsArr && newIsArr {
		diffArray(path, oldArr, newArr, ops)
		return
	}

	*ops = append(*ops, Op{Op: OpSet, Path: path, Value: newV})
}

func diffMap(path string, oldM, newM map[string]any, ops *[]Op) {
	keys := make([]string, 0, len(oldM)+len(newM))
	seen := make(map[string]bool, len(oldM)+len(newM))
	for k := range oldM {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range newM {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		oldV, inOld := oldM[k]
		newV, inNew := newM[k]
		sub := joinPath(path, k)
		switch {
		case !inNew:
			*ops = append(*ops, Op{Op: OpDelete, Path: sub})
		case !inOld:
			*ops = append(*ops, Op{Op: OpSet, Path: sub, Value: newV})
		default:
			diffValue(sub, oldV, newV, ops)
		}
	}
}

func diffArray(path string, oldA, newA []any, ops *[]Op) {
	switch {
	case len(oldA) == len(newA):
		for i := range newA {
			diffValue(joinPath(path, strconv.Itoa(i)), oldA[i], newA[i], ops)
		}

	case len(newA) > len(oldA):
		// Pure append is the common grow case (events, loot, history).
		for i := range oldA {
			if !reflect.DeepEqual(oldA[i], newA[i]) {
				*ops = append(*ops, Op{Op: OpSet, Path: path, Value: newA})
				return
			}
		}
		for _, item := range newA[len(oldA):] {
			*ops = append(*ops, Op{Op: OpPush, Path: path, Value: item})
		}

	default:
		// Shrink: a contiguous deletion (defeated unit leaving initiative,
		// collected loot) becomes a splice; anything messier is a full set.
		removed := len(oldA) - len(newA)
		start := 0
		for start < len(newA) && reflect.DeepEqual(oldA[start], newA[start]) {
			start++
		}
		tailMatches := true
		for i := start; i < len(newA); i++ {
			if !reflect.DeepEqual(oldA[i+removed], newA[i]) {
				tailMatches = false
				break
			}
		}
		if tailMatches {
			*ops = append(*ops, Op{Op: OpSplice, Path: path, Index: start, DeleteCount: removed})
			return
		}
		*ops = append(*ops, Op{Op: OpSet, Path: path, Value: newA})
	}
}

// Apply replays ops onto a normalized state and returns the new state. The
// input must be the map/slice form produced by Normalize (or a prior Apply).
func Apply(state any, ops []Op) (any, error) {
	cur := state
	for i, op := range ops {
		next, err := applyOp(cur, op)
		if err != nil {
			return nil, fmt.Errorf("applying op %d (%s %s): %w", i, op.Op, op.Path, err)
		}
		cur = next
	}
	return cur, nil
}

// Normalize exposes the JSON round-trip used by Compute so callers can
// prepare a snapshot for Apply.
func Normalize(v any) (any, error) {
	return normalize(v)
}

func applyOp(state any, op Op) (any, error) {
	segments := strings.Split(op.Path, ".")
	if op.Path == "" {
		segments = nil
	}
	return applyAt(state, segments, op)
}

func applyAt(node any, segments []string, op Op) (any, error) {
	if len(segments) == 0 {
		switch op.Op {
		case OpSet:
			return op.Value, nil
		case OpPush:
			arr, ok := node.([]any)
			if !ok && node != nil {
				return nil, fmt.Errorf("push target is %T, not array", node)
			}
			return append(arr, op.Value), nil
		case OpSplice:
			arr, ok := node.([]any)
			if !ok {
				return nil, fmt.Errorf("splice target is %T, not array", node)
			}
			if op.Index < 0 || op.Index+op.DeleteCount > len(arr) {
				return nil, fmt.Errorf("splice [%d,%d) out of range %d", op.Index, op.Index+op.DeleteCount, len(arr))
			}
			out := make([]any, 0, len(arr)-op.DeleteCount+len(op.Items))
			out = append(out, arr[:op.Index]...)
			out = append(out, op.Items...)
			out = append(out, arr[op.Index+op.DeleteCount:]...)
			return out, nil
		default:
			return nil, fmt.Errorf("unsupported op %q", op.Op)
		}
	}

	head, rest := segments[0], segments[1:]

	if m, ok := node.(map[string]any); ok {
		if op.Op == OpDelete && len(rest) == 0 {
			out := make(map[string]any, len(m))
			for k, v := range m {
				if k != head {
					out[k] = v
				}
			}
			return out, nil
		}
		child := m[head]
		newChild, err := applyAt(child, rest, op)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(m)+1)
		for k, v := range m {
			out[k] = v
		}
		out[head] = newChild
		return out, nil
	}

	if arr, ok := node.([]any); ok {
		idx, err := strconv.Atoi(head)
		if err != nil {
			return nil, fmt.Errorf("non-numeric index %q into array", head)
		}
		if idx < 0 || idx >= len(arr) {
			return nil, fmt.Errorf("index %d out of range %d", idx, len(arr))
		}
		newChild, err := applyAt(arr[idx], rest, op)
		if err != nil {
			return nil, err
		}
		out := append([]any(nil), arr...)
		out[idx] = newChild
		return out, nil
	}

	return nil, fmt.Errorf("cannot descend into %T at %q", node, head)
}
