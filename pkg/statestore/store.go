package statestore

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Hi-dle-hancom/frontend-sub003/pkg/logger"
)

const (
	historyLimit   = 100
	uiHistoryLimit = 50
)

// Listener receives a change notification after a successful mutation.
// state is a structural copy of the full tree at notification time.
type Listener func(path string, newValue, oldValue any, state map[string]any)

// Validator runs before a mutation and may veto it by returning false
type Validator func(path string, newValue, oldValue any) bool

// Change is one recorded state mutation, retained for diagnostics only
type Change struct {
	Path      string
	OldValue  any
	NewValue  any
	Timestamp time.Time
}

type listenerEntry struct {
	id      int
	pattern pattern
	fn      Listener
}

type validatorEntry struct {
	pattern pattern
	fn      Validator
}

// Store is the single shared mutable state tree, addressed by dot-notation
// paths. All access goes through GetState/SetState so validators and
// listeners remain the one enforcement point.
type Store struct {
	mu         sync.RWMutex
	tree       map[string]any
	listeners  []listenerEntry
	validators []validatorEntry
	history    []Change
	historyPos int
	nextID     int
	log        *logger.Logger
}

// New creates a store seeded with the four sub-trees and the built-in
// validators (streaming state machine, non-negative performance ceilings).
func New() *Store {
	s := &Store{
		tree: map[string]any{
			"streaming": map[string]any{
				"status":     StreamIdle,
				"sessionID":  "",
				"model":      "",
				"chunkCount": 0,
				"startedAt":  time.Time{},
			},
			"ui": map[string]any{
				"selectedModel":  "",
				"activeTab":      "generate",
				"isLoading":      false,
				"responseBuffer": "",
				"history":        []any{},
			},
			"api": map[string]any{
				"online":       true,
				"lastError":    "",
				"requestCount": 0,
				"failureCount": 0,
			},
			"performance": map[string]any{
				"maxChunks":     100,
				"maxBytes":      50 * 1024,
				"maxDurationMs": 30000,
			},
		},
		history: make([]Change, 0, historyLimit),
		log:     logger.WithComponent("statestore"),
	}

	s.AddValidator("streaming.status", s.validateStreamTransition)
	s.AddValidator("performance.*", validatePerformanceValue)

	return s
}

// GetState returns the value at path. The second return is false when the
// path does not resolve.
func (s *Store) GetState(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.tree, path)
}

// SetState validates and applies a single mutation, then notifies matching
// listeners synchronously. Returns false when a validator vetoed the change.
func (s *Store) SetState(path string, value any) bool {
	s.mu.Lock()

	oldValue, _ := lookup(s.tree, path)
	if !s.runValidators(path, value, oldValue) {
		s.mu.Unlock()
		return false
	}

	s.applyLocked(path, value, oldValue)
	snapshot := copyTree(s.tree)
	listeners := s.matchingListeners(path)
	s.mu.Unlock()

	s.notify(listeners, path, value, oldValue, snapshot)
	return true
}

// SetMultipleStates applies a batch atomically: every path is validated
// against the current tree before any mutation, then all mutations are
// applied and all notifications fire against the fully-updated tree.
func (s *Store) SetMultipleStates(values map[string]any) bool {
	if len(values) == 0 {
		return true
	}

	paths := sortedKeys(values)

	s.mu.Lock()

	oldValues := make(map[string]any, len(values))
	for _, path := range paths {
		old, _ := lookup(s.tree, path)
		oldValues[path] = old
		if !s.runValidators(path, values[path], old) {
			s.mu.Unlock()
			return false
		}
	}

	for _, path := range paths {
		s.applyLocked(path, values[path], oldValues[path])
	}

	snapshot := copyTree(s.tree)
	type pending struct {
		listeners []listenerEntry
		path      string
	}
	notifications := make([]pending, 0, len(paths))
	for _, path := range paths {
		notifications = append(notifications, pending{s.matchingListeners(path), path})
	}
	s.mu.Unlock()

	for _, n := range notifications {
		s.notify(n.listeners, n.path, values[n.path], oldValues[n.path], snapshot)
	}
	return true
}

// AddListener registers fn for every path matching pathPattern and returns
// an unsubscribe function.
func (s *Store) AddListener(pathPattern string, fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{
		id:      id,
		pattern: compilePattern(pathPattern),
		fn:      fn,
	})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, entry := range s.listeners {
			if entry.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// AddValidator registers a pre-mutation validator for matching paths
func (s *Store) AddValidator(pathPattern string, fn Validator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validators = append(s.validators, validatorEntry{
		pattern: compilePattern(pathPattern),
		fn:      fn,
	})
}

// AppendUIHistory appends an item to ui.history, evicting the oldest entry
// once the bound is reached.
func (s *Store) AppendUIHistory(item any) bool {
	current, _ := s.GetState("ui.history")
	items, _ := current.([]any)

	next := make([]any, 0, len(items)+1)
	next = append(next, items...)
	next = append(next, item)
	for len(next) > uiHistoryLimit {
		next = next[1:]
	}
	return s.SetState("ui.history", next)
}

// History returns a copy of the recorded change log, oldest first
func (s *Store) History() []Change {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Change, len(s.history))
	if len(s.history) < historyLimit {
		copy(out, s.history)
		return out
	}
	// Ring is full, unroll from the write position
	n := copy(out, s.history[s.historyPos:])
	copy(out[n:], s.history[:s.historyPos])
	return out
}

// Snapshot returns a structural copy of the full tree
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTree(s.tree)
}

// runValidators must be called with the write lock held
func (s *Store) runValidators(path string, newValue, oldValue any) bool {
	for _, entry := range s.validators {
		if !entry.pattern.matches(path) {
			continue
		}
		if !entry.fn(path, newValue, oldValue) {
			s.log.Warn("mutation vetoed", "path", path, "value", newValue)
			return false
		}
	}
	return true
}

// applyLocked writes the value and records history; write lock held
func (s *Store) applyLocked(path string, value, oldValue any) {
	insert(s.tree, path, value)

	change := Change{Path: path, OldValue: oldValue, NewValue: value, Timestamp: time.Now()}
	if len(s.history) < historyLimit {
		s.history = append(s.history, change)
	} else {
		s.history[s.historyPos] = change
		s.historyPos = (s.historyPos + 1) % historyLimit
	}
}

func (s *Store) matchingListeners(path string) []listenerEntry {
	matched := make([]listenerEntry, 0, len(s.listeners))
	for _, entry := range s.listeners {
		if entry.pattern.matches(path) {
			matched = append(matched, entry)
		}
	}
	return matched
}

// notify delivers synchronously; a panicking listener never aborts siblings
func (s *Store) notify(listeners []listenerEntry, path string, newValue, oldValue any, snapshot map[string]any) {
	for _, entry := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("listener panicked", "path", path, "pattern", entry.pattern.raw, "error", r)
				}
			}()
			entry.fn(path, newValue, oldValue, snapshot)
		}()
	}
}

// validateStreamTransition enforces the streaming state machine table
func (s *Store) validateStreamTransition(path string, newValue, oldValue any) bool {
	to, ok := newValue.(string)
	if !ok {
		return false
	}
	from, _ := oldValue.(string)
	if from == "" {
		from = StreamIdle
	}

	if !isValidStreamTransition(from, to) {
		s.log.Warn("illegal streaming transition", "from", from, "to", to)
		return false
	}
	return true
}

// validatePerformanceValue keeps the ceilings numeric and non-negative
func validatePerformanceValue(path string, newValue, oldValue any) bool {
	switch v := newValue.(type) {
	case int:
		return v >= 0
	case int64:
		return v >= 0
	case float64:
		return v >= 0
	default:
		return false
	}
}

// lookup resolves a dot-notation path against a nested map tree
func lookup(tree map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = tree
	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// insert writes a value at a dot-notation path, creating intermediate maps
func insert(tree map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	node := tree
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
}

// copyTree takes a structural copy of a nested map/slice tree
func copyTree(tree map[string]any) map[string]any {
	out := make(map[string]any, len(tree))
	for k, v := range tree {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyTree(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
