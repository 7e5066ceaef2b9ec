// Package script runs sandboxed Lua as the exec step of a node. A script
// defines an exec(input) function; its return value becomes the node's exec
// result. Scripts see only the string, table, and math libraries plus a few
// registered helpers, so untrusted flow definitions cannot touch the host.
package script

import (
	"context"
	"fmt"

	"github.com/Shopify/go-lua"

	"github.com/agentstation/cascade"
)

// Execute runs a Lua script against input in a fresh sandboxed state. If the
// script defines exec, it is called with the input; otherwise the script's
// own return value (or the input, when there is none) is the result.
func Execute(ctx context.Context, source string, input any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := lua.NewState()
	sandbox(l)

	pushValue(l, input)
	l.SetGlobal("input")

	if err := lua.DoString(l, source); err != nil {
		return nil, fmt.Errorf("script error: %w", err)
	}

	l.Global("exec")
	if l.TypeOf(-1) == lua.TypeFunction {
		pushValue(l, input)
		if err := l.ProtectedCall(1, 1, 0); err != nil {
			return nil, fmt.Errorf("exec error: %w", err)
		}
		result := pullValue(l, -1)
		l.Pop(1)
		return result, nil
	}
	l.Pop(1)

	if l.Top() > 0 {
		result := pullValue(l, -1)
		l.Pop(1)
		return result, nil
	}
	return input, nil
}

// Validate checks that a script compiles and defines an exec function,
// without giving it any input.
func Validate(source string) error {
	l := lua.NewState()
	sandbox(l)

	if err := lua.DoString(l, source); err != nil {
		return fmt.Errorf("script failed to load: %w", err)
	}

	l.Global("exec")
	defer l.Pop(1)
	if l.TypeOf(-1) != lua.TypeFunction {
		return fmt.Errorf("script does not define an exec function")
	}
	return nil
}

// NewNode creates a node whose exec step runs the given Lua source. The prep
// result is passed to the script as input; each execution gets a fresh Lua
// state, so scripts cannot carry state between retries or branches.
func NewNode(name, source string, opts ...cascade.Option) (cascade.Node, error) {
	if err := Validate(source); err != nil {
		return nil, err
	}
	return cascade.NewNode(name, cascade.Steps{
		Exec: func(ctx context.Context, prep any) (any, error) {
			return Execute(ctx, source, prep)
		},
	}, opts...), nil
}
