package cascade_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentstation/cascade"
)

// delayNode sleeps for d in exec and then records its completion time.
func delayNode(name string, d time.Duration, done *sync.Map) cascade.Node {
	return cascade.NewNode(name, cascade.Steps{
		Exec: func(ctx context.Context, prep any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d):
			}
			done.Store(name, time.Now())
			return name, nil
		},
	})
}

func fanOutRoot(actions ...string) cascade.Node {
	return cascade.NewNode("root", cascade.Steps{
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, tr *cascade.Triggers) error {
			for _, action := range actions {
				if err := tr.Trigger(action, nil); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

func TestSequentialVsParallelTiming(t *testing.T) {
	const slow = 50 * time.Millisecond
	const fast = 10 * time.Millisecond

	build := func(done *sync.Map) cascade.Node {
		root := fanOutRoot("slow", "fast")
		root.On("slow", delayNode("slowNode", slow, done))
		root.On("fast", delayNode("fastNode", fast, done))
		return root
	}

	var seqDone sync.Map
	seqStart := time.Now()
	if _, err := cascade.NewFlow("seq", build(&seqDone)).Run(context.Background(), cascade.Store{}); err != nil {
		t.Fatalf("sequential run failed: %v", err)
	}
	seqElapsed := time.Since(seqStart)

	var parDone sync.Map
	parStart := time.Now()
	if _, err := cascade.NewParallelFlow("par", build(&parDone)).Run(context.Background(), cascade.Store{}); err != nil {
		t.Fatalf("parallel run failed: %v", err)
	}
	parElapsed := time.Since(parStart)

	if seqElapsed < slow+fast {
		t.Errorf("sequential run took %v, want at least %v (sum of delays)", seqElapsed, slow+fast)
	}
	if parElapsed >= seqElapsed {
		t.Errorf("parallel run (%v) not faster than sequential (%v)", parElapsed, seqElapsed)
	}

	// In the parallel run the faster branch finishes first despite being
	// registered second.
	fastAt, _ := parDone.Load("fastNode")
	slowAt, _ := parDone.Load("slowNode")
	if fastAt == nil || slowAt == nil {
		t.Fatal("branches did not both complete")
	}
	if !fastAt.(time.Time).Before(slowAt.(time.Time)) {
		t.Error("fast branch did not complete before slow branch in parallel run")
	}
}

func TestParallelResultOrderIsStable(t *testing.T) {
	var done sync.Map
	root := fanOutRoot("slow", "fast")
	slowNode := delayNode("slowNode", 30*time.Millisecond, &done)
	fastNode := delayNode("fastNode", time.Millisecond, &done)
	root.On("slow", slowNode)
	root.On("fast", fastNode)

	flow := cascade.NewParallelFlow("stable", root)
	tree, err := flow.RunTree(context.Background(), cascade.Store{})
	if err != nil {
		t.Fatalf("RunTree failed: %v", err)
	}

	// Output shape follows trigger order, not completion order.
	if got := tree.Triggered["slow"]; len(got) != 1 || got[0].Type != "slowNode" {
		t.Errorf("triggered[slow] = %+v", got)
	}
	if got := tree.Triggered["fast"]; len(got) != 1 || got[0].Type != "fastNode" {
		t.Errorf("triggered[fast] = %+v", got)
	}
}

func TestParallelFailFast(t *testing.T) {
	sentinel := errors.New("branch failed")

	root := fanOutRoot("ok", "bad")
	okNode := cascade.NewNode("ok", cascade.Steps{
		Exec: func(ctx context.Context, prep any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
			return nil, nil
		},
	})
	badNode := cascade.NewNode("bad", cascade.Steps{
		Exec: func(ctx context.Context, prep any) (any, error) {
			return nil, sentinel
		},
	})
	root.On("ok", okNode)
	root.On("bad", badNode)

	flow := cascade.NewParallelFlow("failing", root)
	_, err := flow.Run(context.Background(), cascade.Store{})
	if !errors.Is(err, sentinel) {
		t.Errorf("error = %v, want the failing branch's error", err)
	}
}

func TestParallelGlobalWritesVisible(t *testing.T) {
	root := fanOutRoot("w", "w")
	worker := cascade.NewNode("writer", cascade.Steps{
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, tr *cascade.Triggers) error {
			return m.Set("done", true)
		},
	})
	root.On("w", worker)

	global := cascade.Store{}
	flow := cascade.NewParallelFlow("writers", root)
	if _, err := flow.Run(context.Background(), global); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if global["done"] != true {
		t.Error("global write from parallel branch not visible after run")
	}
}

func TestParallelFanOutIsolation(t *testing.T) {
	spreader := cascade.NewNode("spread", cascade.Steps{
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, tr *cascade.Triggers) error {
			for i, item := range []string{"x", "y", "z"} {
				if err := tr.Trigger("work", cascade.Store{"item": item, "index": i}); err != nil {
					return err
				}
			}
			return nil
		},
	})

	var mu sync.Mutex
	results := map[int]string{}
	worker := cascade.NewNode("worker", cascade.Steps{
		Prep: func(ctx context.Context, m *cascade.Memory) (any, error) {
			item, _ := m.Get("item")
			index, _ := m.Get("index")
			return []any{item, index}, nil
		},
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, tr *cascade.Triggers) error {
			pair := prep.([]any)
			mu.Lock()
			results[pair[1].(int)] = pair[0].(string)
			mu.Unlock()
			return nil
		},
	})
	spreader.On("work", worker)

	flow := cascade.NewParallelFlow("isolated", spreader)
	if _, err := flow.Run(context.Background(), cascade.Store{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := map[int]string{0: "x", 1: "y", 2: "z"}
	for i, item := range want {
		if results[i] != item {
			t.Errorf("results[%d] = %q, want %q (branch local state leaked)", i, results[i], item)
		}
	}
}
