package cascade

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrNoStartNode is returned when a flow has no start node defined.
	ErrNoStartNode = errors.New("cascade: no start node defined")

	// ErrReservedKey is returned when writing a reserved memory accessor name.
	ErrReservedKey = errors.New("cascade: reserved memory key")

	// ErrKeyNotFound is returned when deleting a key absent from memory.
	ErrKeyNotFound = errors.New("cascade: key not found")

	// ErrTriggerOutsidePost is returned when Trigger is called outside the
	// synchronous extent of a node's Post step.
	ErrTriggerOutsidePost = errors.New("cascade: trigger called outside post")

	// ErrMaxVisitsExceeded is returned when a single node is visited more
	// times than the flow's configured limit within one run.
	ErrMaxVisitsExceeded = errors.New("cascade: maximum cycle count exceeded")

	// ErrInvalidMemory is returned when Run receives something that is
	// neither a *Memory nor a raw global store.
	ErrInvalidMemory = errors.New("cascade: invalid memory value")
)

// NodeError wraps the final error from an exhausted exec retry loop.
// RetryCount is the zero-based index of the attempt that gave up, so a node
// with maxRetries=2 that never succeeds reports RetryCount=1.
type NodeError struct {
	Err        error
	RetryCount int
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%v (retry %d)", e.Err, e.RetryCount)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
