package cascade

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxVisits is the per-node visit limit within one flow run before
// cycle detection fails the run.
const DefaultMaxVisits = 15

// ExecutionTree records what a flow ran: the node's order id and name, and
// for every action processed during that step, the child trees produced by
// the successors it routed to. An action that was triggered but had no
// successors maps to an empty list; a node that triggered nothing records
// {"default": []}. Triggered is never nil for a node executed by a flow.
type ExecutionTree struct {
	Order     int                         `json:"order"`
	Type      string                      `json:"type"`
	Triggered map[string][]*ExecutionTree `json:"triggered"`
}

// AsMap converts the tree into plain maps and slices, convenient for JSON
// encoders and trace consumers that work on generic data.
func (t *ExecutionTree) AsMap() map[string]any {
	triggered := make(map[string]any, len(t.Triggered))
	for action, children := range t.Triggered {
		list := make([]any, len(children))
		for i, child := range children {
			list[i] = child.AsMap()
		}
		triggered[action] = list
	}
	return map[string]any{
		"order":     t.Order,
		"type":      t.Type,
		"triggered": triggered,
	}
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithMaxVisits sets the per-node visit limit for cycle detection.
func WithMaxVisits(n int) FlowOption {
	return func(f *Flow) {
		if n > 0 {
			f.maxVisits = n
		}
	}
}

// WithFlowLogger sets a logger for this flow's step tracing, overriding the
// package logger.
func WithFlowLogger(l Logger) FlowOption {
	return func(f *Flow) {
		f.logger = l
	}
}

// Flow executes a node graph from a start node: each step clones the node,
// runs its lifecycle, and recursively descends into the successors of every
// triggered action, cloning memory per branch. A Flow is itself a Node, so
// flows nest inside other flows. The sequential variant runs sibling
// branches one at a time; NewParallelFlow runs them concurrently.
type Flow struct {
	baseNode
	start     Node
	maxVisits int
	parallel  bool
	logger    Logger

	mu     sync.Mutex
	visits map[int]int
}

// NewFlow creates a sequential flow over the graph reachable from start.
func NewFlow(name string, start Node, opts ...FlowOption) *Flow {
	if name == "" {
		name = "flow"
	}
	f := &Flow{start: start, maxVisits: DefaultMaxVisits, visits: make(map[int]int)}
	f.init(name, f)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewParallelFlow creates a flow that launches sibling branches
// concurrently and waits for them all, failing fast on the first error.
// Result positions stay stable in trigger/registration order regardless of
// completion order. Concurrent writes to the same global key race;
// last-write-wins is the documented behavior, and branches needing
// isolation should use forking data instead.
func NewParallelFlow(name string, start Node, opts ...FlowOption) *Flow {
	if name == "" {
		name = "parallel-flow"
	}
	f := NewFlow(name, start, opts...)
	f.parallel = true
	return f
}

// RunTree executes the flow and returns its typed execution tree. It is
// shorthand for Run plus the type assertion.
func (f *Flow) RunTree(ctx context.Context, memory any) (*ExecutionTree, error) {
	result, err := f.Run(ctx, memory)
	if err != nil {
		return nil, err
	}
	return result.(*ExecutionTree), nil
}

func (f *Flow) flowLogger() Logger {
	if f.logger != nil {
		return f.logger
	}
	return getLogger()
}

func (f *Flow) prepare(context.Context, *Memory) (any, error) {
	return nil, nil
}

// execute runs the whole graph as this node's exec phase, resetting cycle
// detection state for the run.
func (f *Flow) execute(ctx context.Context, m *Memory, _ any) (any, error) {
	if f.start == nil {
		return nil, ErrNoStartNode
	}
	f.mu.Lock()
	f.visits = make(map[int]int)
	f.mu.Unlock()
	return f.runNode(ctx, f.start, m)
}

func (f *Flow) finalize(context.Context, *Memory, any, any, *Triggers) error {
	return nil
}

// visit bumps the visit count for a node identity and enforces maxVisits.
func (f *Flow) visit(n Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := f.visits[n.Order()] + 1
	if count > f.maxVisits {
		return fmt.Errorf("%w: maximum cycle count (%d) reached for %s#%d",
			ErrMaxVisitsExceeded, f.maxVisits, n.Name(), n.Order())
	}
	f.visits[n.Order()] = count
	return nil
}

// runNode executes one step: clone the node, run its lifecycle, then route
// every triggered branch to its successors. Explicitly triggered actions
// with no successors become terminal triggers of this flow itself, so a
// nested flow re-emits them to its parent; implicit default triggers are
// swallowed instead, because a node that did nothing must not masquerade as
// an explicit signal to the outside.
func (f *Flow) runNode(ctx context.Context, n Node, m *Memory) (*ExecutionTree, error) {
	if err := f.visit(n); err != nil {
		return nil, err
	}

	f.flowLogger().Debug(ctx, "executing node", "node", fmt.Sprintf("%s#%d", n.Name(), n.Order()))

	cloned := n.clone(nil)
	branches, err := cloned.Propagate(ctx, m.Clone(nil))
	if err != nil {
		return nil, err
	}

	triggered := make(map[string][]*ExecutionTree)
	type routed struct {
		action string
		trees  []*ExecutionTree
	}
	var tasks []func(context.Context) (routed, error)

	for _, branch := range branches {
		next := cloned.NextNodes(branch.Action)
		if len(next) == 0 {
			if !branch.implicit {
				f.triggers.add(trigger{action: branch.Action, forkingData: branch.Memory.localStore()})
			}
			if _, ok := triggered[branch.Action]; !ok {
				triggered[branch.Action] = []*ExecutionTree{}
			}
			continue
		}
		tasks = append(tasks, func(ctx context.Context) (routed, error) {
			trees, err := f.runNodes(ctx, next, branch.Memory)
			return routed{action: branch.Action, trees: trees}, err
		})
	}

	results, err := runTasks(ctx, tasks, f.parallel)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		triggered[r.action] = append(triggered[r.action], r.trees...)
	}

	return &ExecutionTree{Order: n.Order(), Type: n.Name(), Triggered: triggered}, nil
}

// runNodes executes the successors of one branch, all against the same
// branch memory.
func (f *Flow) runNodes(ctx context.Context, nodes []Node, m *Memory) ([]*ExecutionTree, error) {
	tasks := make([]func(context.Context) (*ExecutionTree, error), len(nodes))
	for i, n := range nodes {
		tasks[i] = func(ctx context.Context) (*ExecutionTree, error) {
			return f.runNode(ctx, n, m)
		}
	}
	return runTasks(ctx, tasks, f.parallel)
}

func (f *Flow) clone(seen map[Node]Node) Node {
	if seen == nil {
		seen = make(map[Node]Node)
	}
	if c, ok := seen[f]; ok {
		return c
	}
	// The start node is shared, not cloned: runNode clones it before every
	// execution anyway, and cloning it here would detach the clone from the
	// graph the caller wired.
	c := &Flow{
		start:     f.start,
		maxVisits: f.maxVisits,
		parallel:  f.parallel,
		logger:    f.logger,
		visits:    make(map[int]int),
	}
	c.copyIdentityFrom(&f.baseNode, c)
	seen[f] = c
	c.successors = cloneSuccessors(f.successors, seen)
	return c
}

// runTasks executes tasks sequentially or concurrently. Results keep task
// order either way; the parallel path joins through an errgroup, surfacing
// the first error once the batch settles.
func runTasks[T any](ctx context.Context, tasks []func(context.Context) (T, error), parallel bool) ([]T, error) {
	results := make([]T, len(tasks))

	if !parallel {
		for i, task := range tasks {
			r, err := task(ctx)
			if err != nil {
				return nil, err
			}
			results[i] = r
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		g.Go(func() error {
			r, err := task(gctx)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
