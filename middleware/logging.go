package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/agentstation/cascade"
)

// Logging logs each lifecycle step: prep and post at debug level, exec at
// info with its duration, exec failures at error.
func Logging(logger cascade.Logger) Middleware {
	return func(name string, steps cascade.Steps) cascade.Steps {
		prep, exec, post := steps.Prep, steps.Exec, steps.Post
		wrapped := steps

		wrapped.Prep = func(ctx context.Context, m *cascade.Memory) (any, error) {
			logger.Debug(ctx, "prep starting", "node", name)
			var result any
			var err error
			if prep != nil {
				result, err = prep(ctx, m)
			}
			logger.Debug(ctx, "prep completed", "node", name, "error", err)
			return result, err
		}

		wrapped.Exec = func(ctx context.Context, prepResult any) (any, error) {
			logger.Info(ctx, "exec starting", "node", name)
			start := time.Now()
			var result any
			var err error
			if exec != nil {
				result, err = exec(ctx, prepResult)
			}
			if err != nil {
				logger.Error(ctx, "exec failed",
					"node", name,
					"duration", time.Since(start),
					"error", err)
			} else {
				logger.Info(ctx, "exec completed",
					"node", name,
					"duration", time.Since(start),
					"result_type", fmt.Sprintf("%T", result))
			}
			return result, err
		}

		wrapped.Post = func(ctx context.Context, m *cascade.Memory, prepResult, execResult any, t *cascade.Triggers) error {
			logger.Debug(ctx, "post starting", "node", name)
			var err error
			if post != nil {
				err = post(ctx, m, prepResult, execResult, t)
			}
			logger.Debug(ctx, "post completed", "node", name, "error", err)
			return err
		}

		return wrapped
	}
}
