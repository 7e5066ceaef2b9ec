// Package middleware wraps node lifecycle steps with cross-cutting behavior
// such as logging and timing. A middleware transforms a Steps value before
// the node is created, so wrapped nodes stay ordinary nodes.
package middleware

import (
	"github.com/agentstation/cascade"
)

// Middleware transforms a node's lifecycle steps. The name identifies the
// node in whatever the middleware records.
type Middleware func(name string, steps cascade.Steps) cascade.Steps

// Chain combines middlewares into one, applied in reverse order like
// function composition: the first middleware ends up outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(name string, steps cascade.Steps) cascade.Steps {
		for i := len(middlewares) - 1; i >= 0; i-- {
			steps = middlewares[i](name, steps)
		}
		return steps
	}
}

// Apply runs steps through the given middlewares in order.
func Apply(name string, steps cascade.Steps, middlewares ...Middleware) cascade.Steps {
	for _, mw := range middlewares {
		steps = mw(name, steps)
	}
	return steps
}

// NewNode creates a node whose steps are wrapped by the given middlewares.
func NewNode(name string, steps cascade.Steps, middlewares []Middleware, opts ...cascade.Option) cascade.Node {
	return cascade.NewNode(name, Apply(name, steps, middlewares...), opts...)
}
