package cascade

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAction is the implicit action name used when a node is wired with
// Next or finishes its Post step without triggering anything.
const DefaultAction = "default"

// nextOrder assigns creation-order ids, used for diagnostics and as the
// identity key for cycle detection. Clones keep their original's id.
var nextOrder atomic.Int64

// Node is a unit of computation in a flow graph. Nodes run a
// prep -> exec -> post lifecycle, route execution by triggering named
// actions, and are deep-cloned by the flow engine before every execution so
// repeated visits and parallel branches never share per-node state.
//
// Nodes are created with NewNode, NewFlow, or NewParallelFlow; the interface
// cannot be implemented outside this package because the engine relies on
// cloning internals.
type Node interface {
	// Name returns the node's label, used as the type field of execution
	// trees and in diagnostics.
	Name() string

	// Order returns the node's creation-order id.
	Order() int

	// On registers next as a successor for the given action and returns
	// next, so wiring chains read left to right.
	On(action string, next Node) Node

	// Next registers next for the default action.
	Next(next Node) Node

	// NextNodes returns the successors registered for action. A request for
	// an unregistered non-default action on a wired node logs a warning,
	// since a silently ending flow is usually a typo.
	NextNodes(action string) []Node

	// Run executes this node's full lifecycle against memory (a *Memory or
	// a raw global Store) and returns the exec result. Run never executes
	// successors; use a Flow for graph traversal.
	Run(ctx context.Context, memory any) (any, error)

	// Propagate executes the lifecycle like Run but returns the triggered
	// branches instead of the exec result, for flow composition.
	Propagate(ctx context.Context, memory any) ([]Branch, error)

	// clone deep-copies the node and its successor graph. The seen map
	// preserves cycles by mapping originals to their clones.
	clone(seen map[Node]Node) Node
}

// runner is the lifecycle contract concrete node types implement; the
// shared run machinery in baseNode dispatches through it.
type runner interface {
	Node
	prepare(ctx context.Context, m *Memory) (any, error)
	execute(ctx context.Context, m *Memory, prepResult any) (any, error)
	finalize(ctx context.Context, m *Memory, prepResult, execResult any, t *Triggers) error
}

// Branch is one (action, memory) pair produced by a node execution: the
// action it triggered and the cloned memory the successors of that action
// should run with.
type Branch struct {
	Action string
	Memory *Memory

	// implicit marks the synthesized default branch of a node that never
	// called Trigger. Implicit branches are not re-propagated out of a
	// nested flow.
	implicit bool
}

// trigger is one recorded Trigger call.
type trigger struct {
	action      string
	forkingData Store
	implicit    bool
}

// Triggers records the actions a node fires during its Post step. A
// Triggers value is only open for the synchronous extent of Post; calls on
// an escaped handle fail with ErrTriggerOutsidePost.
type Triggers struct {
	mu     sync.Mutex
	open   bool
	queued []trigger
}

// Trigger records an action to fire, with optional forking data to merge
// into the local store of each successor's memory clone. It may be called
// multiple times to fan out.
func (t *Triggers) Trigger(action string, forkingData Store) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return fmt.Errorf("%w: action %q", ErrTriggerOutsidePost, action)
	}
	if forkingData == nil {
		forkingData = Store{}
	}
	t.queued = append(t.queued, trigger{action: action, forkingData: forkingData})
	return nil
}

// add appends a trigger bypassing the open check. The flow engine uses it
// to propagate terminal triggers of nested graphs, which happens during the
// exec phase rather than Post.
func (t *Triggers) add(tr trigger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queued = append(t.queued, tr)
}

func (t *Triggers) setOpen(open bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = open
}

// branches converts the recorded triggers into branches, cloning memory
// once per trigger. No recorded triggers means a single implicit default
// branch with no forking data.
func (t *Triggers) branches(m *Memory) []Branch {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queued) == 0 {
		return []Branch{{Action: DefaultAction, Memory: m.Clone(nil), implicit: true}}
	}
	out := make([]Branch, len(t.queued))
	for i, tr := range t.queued {
		out[i] = Branch{Action: tr.action, Memory: m.Clone(tr.forkingData), implicit: tr.implicit}
	}
	return out
}

// baseNode carries the graph wiring and run machinery shared by nodes and
// flows.
type baseNode struct {
	name       string
	order      int
	successors map[string][]Node

	// triggers is the collector for the run currently in progress. Node
	// instances executed by a flow are single-use clones, so one slot is
	// enough.
	triggers *Triggers

	// self is the concrete node, for lifecycle dispatch and cloning.
	self runner
}

func (b *baseNode) init(name string, self runner) {
	b.name = name
	b.order = int(nextOrder.Add(1) - 1)
	b.successors = make(map[string][]Node)
	b.self = self
}

// copyIdentityFrom sets up a clone: same name and order id, fresh wiring
// and trigger state.
func (b *baseNode) copyIdentityFrom(src *baseNode, self runner) {
	b.name = src.name
	b.order = src.order
	b.successors = make(map[string][]Node, len(src.successors))
	b.self = self
}

func (b *baseNode) Name() string { return b.name }

func (b *baseNode) Order() int { return b.order }

func (b *baseNode) On(action string, next Node) Node {
	b.successors[action] = append(b.successors[action], next)
	return next
}

func (b *baseNode) Next(next Node) Node {
	return b.On(DefaultAction, next)
}

func (b *baseNode) NextNodes(action string) []Node {
	nodes := b.successors[action]
	if len(nodes) == 0 && action != DefaultAction && len(b.successors) > 0 {
		getLogger().Warn(context.Background(), "flow ends: action has no successors",
			"node", fmt.Sprintf("%s#%d", b.name, b.order),
			"action", action,
			"registered", actionNames(b.successors))
	}
	return nodes
}

func (b *baseNode) Run(ctx context.Context, memory any) (any, error) {
	if len(b.successors) > 0 {
		getLogger().Warn(ctx, "node has successors, but Run executes a single node; use a Flow for graph traversal",
			"node", fmt.Sprintf("%s#%d", b.name, b.order))
	}
	m, err := asMemory(memory)
	if err != nil {
		return nil, err
	}
	execResult, _, err := b.runLifecycle(ctx, m, false)
	return execResult, err
}

func (b *baseNode) Propagate(ctx context.Context, memory any) ([]Branch, error) {
	m, err := asMemory(memory)
	if err != nil {
		return nil, err
	}
	_, branches, err := b.runLifecycle(ctx, m, true)
	return branches, err
}

// runLifecycle drives prep -> exec -> post, opening the trigger collector
// only around post.
func (b *baseNode) runLifecycle(ctx context.Context, m *Memory, propagate bool) (any, []Branch, error) {
	t := &Triggers{}
	b.triggers = t

	prepResult, err := b.self.prepare(ctx, m)
	if err != nil {
		return nil, nil, fmt.Errorf("node %s#%d: prep: %w", b.name, b.order, err)
	}

	execResult, err := b.self.execute(ctx, m, prepResult)
	if err != nil {
		return nil, nil, fmt.Errorf("node %s#%d: exec: %w", b.name, b.order, err)
	}

	t.setOpen(true)
	err = b.self.finalize(ctx, m, prepResult, execResult, t)
	t.setOpen(false)
	if err != nil {
		return nil, nil, fmt.Errorf("node %s#%d: post: %w", b.name, b.order, err)
	}

	if !propagate {
		return execResult, nil, nil
	}
	return execResult, t.branches(m), nil
}

func actionNames(successors map[string][]Node) []string {
	names := make([]string, 0, len(successors))
	for action := range successors {
		names = append(names, action)
	}
	return names
}

// asMemory accepts a ready memory view or a raw global store and wraps the
// latter.
func asMemory(v any) (*Memory, error) {
	switch mem := v.(type) {
	case *Memory:
		return mem, nil
	case Store:
		return NewMemory(mem), nil
	case map[string]any:
		return NewMemory(Store(mem)), nil
	case nil:
		return NewMemory(nil), nil
	default:
		return nil, fmt.Errorf("%w: got %T, want *Memory or Store", ErrInvalidMemory, v)
	}
}

// cloneSuccessors deep-clones a successor map, preserving cycles through
// the seen map.
func cloneSuccessors(src map[string][]Node, seen map[Node]Node) map[string][]Node {
	dst := make(map[string][]Node, len(src))
	for action, nodes := range src {
		cloned := make([]Node, len(nodes))
		for i, n := range nodes {
			cloned[i] = n.clone(seen)
		}
		dst[action] = cloned
	}
	return dst
}

// PrepFunc reads or derives a node's input from memory.
type PrepFunc func(ctx context.Context, m *Memory) (any, error)

// ExecFunc is the computation step. It deliberately has no memory access so
// the logic stays testable and retryable in isolation; the current retry
// attempt is available via RetryAttempt.
type ExecFunc func(ctx context.Context, prepResult any) (any, error)

// PostFunc writes results back to memory and triggers zero or more actions.
// Not triggering anything is equivalent to triggering the default action
// with no forking data.
type PostFunc func(ctx context.Context, m *Memory, prepResult, execResult any, t *Triggers) error

// FallbackFunc handles the final error of an exhausted retry loop. Its
// result becomes the exec result handed to Post; an error aborts the run.
// The error passed in is a *NodeError carrying the retry count.
type FallbackFunc func(ctx context.Context, prepResult any, execErr error) (any, error)

// Steps groups the lifecycle functions of a node. Every field is optional;
// missing steps default to no-ops returning nil.
type Steps struct {
	Prep     PrepFunc
	Exec     ExecFunc
	Post     PostFunc
	Fallback FallbackFunc
}

// Option configures a node created with NewNode.
type Option func(*node)

// WithRetry configures the exec retry loop. maxRetries is the total number
// of attempts (minimum 1, which means no retry); wait is the pause between
// attempts and respects context cancellation.
func WithRetry(maxRetries int, wait time.Duration) Option {
	return func(n *node) {
		if maxRetries >= 1 {
			n.maxRetries = maxRetries
		}
		n.wait = wait
	}
}

// node is the standard single-step node.
type node struct {
	baseNode
	steps      Steps
	maxRetries int
	wait       time.Duration
}

// NewNode creates a node with the given lifecycle steps. The name labels
// the node in execution trees and diagnostics.
func NewNode(name string, steps Steps, opts ...Option) Node {
	if name == "" {
		name = "node"
	}
	n := &node{steps: steps, maxRetries: 1}
	n.init(name, n)
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *node) prepare(ctx context.Context, m *Memory) (any, error) {
	if n.steps.Prep == nil {
		return nil, nil
	}
	return n.steps.Prep(ctx, m)
}

func (n *node) execStep(ctx context.Context, prepResult any) (any, error) {
	if n.steps.Exec == nil {
		return nil, nil
	}
	return n.steps.Exec(ctx, prepResult)
}

// execute runs the exec step with bounded retry. On exhaustion the fallback
// (if any) decides the effective exec result; its error, or the final
// *NodeError when no fallback is set, escapes the run.
func (n *node) execute(ctx context.Context, _ *Memory, prepResult any) (any, error) {
	for attempt := 0; attempt < n.maxRetries; attempt++ {
		if attempt > 0 && n.wait > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(n.wait):
			}
		}

		result, err := n.execStep(withRetryAttempt(ctx, attempt), prepResult)
		if err == nil {
			return result, nil
		}

		if attempt < n.maxRetries-1 {
			getLogger().Debug(ctx, "exec failed, retrying",
				"node", fmt.Sprintf("%s#%d", n.name, n.order),
				"attempt", attempt,
				"error", err)
			continue
		}

		nodeErr := &NodeError{Err: err, RetryCount: attempt}
		if n.steps.Fallback != nil {
			return n.steps.Fallback(ctx, prepResult, nodeErr)
		}
		return nil, nodeErr
	}
	return nil, fmt.Errorf("cascade: exec loop exited without result for %s#%d", n.name, n.order)
}

func (n *node) finalize(ctx context.Context, m *Memory, prepResult, execResult any, t *Triggers) error {
	if n.steps.Post == nil {
		return nil
	}
	return n.steps.Post(ctx, m, prepResult, execResult, t)
}

func (n *node) clone(seen map[Node]Node) Node {
	if seen == nil {
		seen = make(map[Node]Node)
	}
	if c, ok := seen[n]; ok {
		return c
	}
	c := &node{steps: n.steps, maxRetries: n.maxRetries, wait: n.wait}
	c.copyIdentityFrom(&n.baseNode, c)
	seen[n] = c
	c.successors = cloneSuccessors(n.successors, seen)
	return c
}

// retryAttemptKey carries the current 0-based retry attempt through exec.
type retryAttemptKey struct{}

func withRetryAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, retryAttemptKey{}, attempt)
}

// RetryAttempt returns the 0-based retry attempt of the exec step the
// context belongs to, or 0 outside a retrying exec.
func RetryAttempt(ctx context.Context) int {
	if attempt, ok := ctx.Value(retryAttemptKey{}).(int); ok {
		return attempt
	}
	return 0
}
