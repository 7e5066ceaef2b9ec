/*
Package cascade is a minimalist workflow-orchestration core for building
LLM-driven applications as nested directed graphs of nodes that communicate
through shared, scoped memory.

Nodes run a prep -> exec -> post lifecycle: prep reads input from memory,
exec computes without memory access, and post writes results back and
triggers named actions that select which successors run next. A Flow drives
a graph from its start node, cloning each node before execution, cloning
memory per branch, detecting runaway cycles, and producing an ExecutionTree
describing what ran and why. Flows are nodes themselves, so graphs nest.

Memory is two-tier: a global store shared by reference across the whole run
and a local store deep-copied per branch, so fan-out never clobbers another
branch's context while results still flow back through the global store.

A minimal flow:

	greet := cascade.NewNode("greet", cascade.Steps{
		Exec: func(ctx context.Context, prep any) (any, error) {
			return "hello", nil
		},
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, t *cascade.Triggers) error {
			return m.Set("greeting", exec)
		},
	})

	global := cascade.Store{}
	flow := cascade.NewFlow("hello", greet)
	tree, err := flow.RunTree(ctx, global)

NewParallelFlow runs sibling branches concurrently with an order-stable
result shape. WithRetry adds bounded retry with an optional fallback around
the exec step.

The engine calls no LLMs and persists nothing; applications supply both
inside their node steps. Declarative YAML flow definitions live in the yaml
subpackage, a library of ready-made node types in builtin, Lua-scripted
nodes in script, lifecycle wrappers in middleware, batch helpers in batch,
and the cascade CLI in cmd/cascade.
*/
package cascade
