// Package batch provides generic extract-transform-reduce processing over
// flow memory, plus a fan-out helper that spreads a list across branches.
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/agentstation/cascade"
)

// Processor runs extract -> transform (per item) -> reduce as one node.
type Processor[T, R any] struct {
	// Extract retrieves the items to process from memory.
	Extract func(ctx context.Context, m *cascade.Memory) ([]T, error)

	// Transform processes a single item.
	Transform func(ctx context.Context, item T) (R, error)

	// Reduce combines the per-item results into the exec result.
	Reduce func(ctx context.Context, results []R) (any, error)

	maxConcurrency int
}

// Option configures a batch processor.
type Option func(*config)

type config struct {
	maxConcurrency int
}

// WithConcurrency caps concurrent transforms. Zero or negative means
// sequential processing.
func WithConcurrency(n int) Option {
	return func(c *config) {
		c.maxConcurrency = n
	}
}

// NewProcessor creates a batch processor. Transforms run concurrently up to
// the configured limit (default 10); results keep input order.
func NewProcessor[T, R any](
	extract func(context.Context, *cascade.Memory) ([]T, error),
	transform func(context.Context, T) (R, error),
	reduce func(context.Context, []R) (any, error),
	opts ...Option,
) *Processor[T, R] {
	cfg := &config{maxConcurrency: 10}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Processor[T, R]{
		Extract:        extract,
		Transform:      transform,
		Reduce:         reduce,
		maxConcurrency: cfg.maxConcurrency,
	}
}

// Node wraps the processor as a node: extract runs in prep, the transforms
// and reduce run in exec.
func (p *Processor[T, R]) Node(name string, opts ...cascade.Option) cascade.Node {
	return cascade.NewNode(name, cascade.Steps{
		Prep: func(ctx context.Context, m *cascade.Memory) (any, error) {
			items, err := p.Extract(ctx, m)
			if err != nil {
				return nil, fmt.Errorf("extract: %w", err)
			}
			return items, nil
		},
		Exec: func(ctx context.Context, prep any) (any, error) {
			items, ok := prep.([]T)
			if !ok {
				return nil, fmt.Errorf("unexpected prep result %T", prep)
			}
			results, err := p.transformAll(ctx, items)
			if err != nil {
				return nil, err
			}
			out, err := p.Reduce(ctx, results)
			if err != nil {
				return nil, fmt.Errorf("reduce: %w", err)
			}
			return out, nil
		},
	}, opts...)
}

func (p *Processor[T, R]) transformAll(ctx context.Context, items []T) ([]R, error) {
	results := make([]R, len(items))

	if p.maxConcurrency <= 1 {
		for i, item := range items {
			r, err := p.Transform(ctx, item)
			if err != nil {
				return nil, fmt.Errorf("transform item %d: %w", i, err)
			}
			results[i] = r
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrency)
	for i, item := range items {
		g.Go(func() error {
			r, err := p.Transform(gctx, item)
			if err != nil {
				return fmt.Errorf("transform item %d: %w", i, err)
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

// Spread creates a node that reads a list from memory at itemsKey and
// triggers action once per item, with the item and its index as branch-local
// state under "item" and "index". Pair it with a ParallelFlow to process the
// branches concurrently.
func Spread(name, itemsKey, action string) cascade.Node {
	if action == "" {
		action = "item"
	}
	return cascade.NewNode(name, cascade.Steps{
		Prep: func(ctx context.Context, m *cascade.Memory) (any, error) {
			v, _ := m.Get(itemsKey)
			return v, nil
		},
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, t *cascade.Triggers) error {
			items, ok := prep.([]any)
			if !ok {
				return fmt.Errorf("key %q does not hold a list (got %T)", itemsKey, prep)
			}
			for i, item := range items {
				if err := t.Trigger(action, cascade.Store{"item": item, "index": i}); err != nil {
					return err
				}
			}
			return nil
		},
	})
}
