package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentstation/cascade"
)

// Timing records per-node execution metrics under node-scoped memory keys:
// last_duration, total_duration, execution_count, and avg_duration. The
// counters live in the middleware, so they accumulate across clones and
// runs of the same wrapped node.
func Timing() Middleware {
	var mu sync.Mutex
	var lastDuration time.Duration
	var totalDuration time.Duration
	var execCount int64

	return func(name string, steps cascade.Steps) cascade.Steps {
		exec, post := steps.Exec, steps.Post
		wrapped := steps

		wrapped.Exec = func(ctx context.Context, prepResult any) (any, error) {
			start := time.Now()
			var result any
			var err error
			if exec != nil {
				result, err = exec(ctx, prepResult)
			}
			mu.Lock()
			lastDuration = time.Since(start)
			totalDuration += lastDuration
			execCount++
			mu.Unlock()
			return result, err
		}

		wrapped.Post = func(ctx context.Context, m *cascade.Memory, prepResult, execResult any, t *cascade.Triggers) error {
			mu.Lock()
			last, total, count := lastDuration, totalDuration, execCount
			mu.Unlock()

			metrics := map[string]any{
				"last_duration":   last,
				"total_duration":  total,
				"execution_count": count,
			}
			if count > 0 {
				metrics["avg_duration"] = total / time.Duration(count)
			}
			for key, value := range metrics {
				if err := m.Set(fmt.Sprintf("node:%s:%s", name, key), value); err != nil {
					return err
				}
			}

			if post != nil {
				return post(ctx, m, prepResult, execResult, t)
			}
			return nil
		}

		return wrapped
	}
}
