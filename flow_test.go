package cascade_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/agentstation/cascade"
)

// recordingNode builds a node that appends its name to a shared log in post
// and triggers the given actions.
func recordingNode(name string, log *[]string, mu *sync.Mutex, actions ...string) cascade.Node {
	return cascade.NewNode(name, cascade.Steps{
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, tr *cascade.Triggers) error {
			mu.Lock()
			*log = append(*log, name)
			mu.Unlock()
			for _, action := range actions {
				if err := tr.Trigger(action, nil); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

func TestFlowLinear(t *testing.T) {
	var mu sync.Mutex
	var log []string

	a := recordingNode("a", &log, &mu)
	b := recordingNode("b", &log, &mu)
	c := recordingNode("c", &log, &mu)
	a.Next(b)
	b.Next(c)

	flow := cascade.NewFlow("linear", a)
	tree, err := flow.RunTree(context.Background(), cascade.Store{})
	if err != nil {
		t.Fatalf("RunTree failed: %v", err)
	}

	if strings.Join(log, ",") != "a,b,c" {
		t.Errorf("execution order = %v, want a,b,c", log)
	}

	// Tree shape: a -> default -> b -> default -> c -> {default: []}.
	if tree.Type != "a" || tree.Order != a.Order() {
		t.Errorf("root = %s#%d, want a#%d", tree.Type, tree.Order, a.Order())
	}
	bTrees := tree.Triggered[cascade.DefaultAction]
	if len(bTrees) != 1 || bTrees[0].Type != "b" {
		t.Fatalf("a.triggered[default] = %+v, want one subtree for b", bTrees)
	}
	cTrees := bTrees[0].Triggered[cascade.DefaultAction]
	if len(cTrees) != 1 || cTrees[0].Type != "c" {
		t.Fatalf("b.triggered[default] = %+v, want one subtree for c", cTrees)
	}
	leaf := cTrees[0].Triggered
	if len(leaf) != 1 || len(leaf[cascade.DefaultAction]) != 0 {
		t.Errorf("c.triggered = %v, want {default: []}", leaf)
	}
}

func TestFlowBranching(t *testing.T) {
	var mu sync.Mutex
	var log []string

	router := recordingNode("router", &log, &mu, "path_B")
	b := recordingNode("b", &log, &mu)
	c := recordingNode("c", &log, &mu)
	router.On("path_B", b)
	router.On("path_C", c)

	flow := cascade.NewFlow("branching", router)
	tree, err := flow.RunTree(context.Background(), cascade.Store{})
	if err != nil {
		t.Fatalf("RunTree failed: %v", err)
	}

	if strings.Join(log, ",") != "router,b" {
		t.Errorf("execution order = %v, want router,b", log)
	}
	if _, ok := tree.Triggered["path_B"]; !ok {
		t.Error("tree missing path_B entry")
	}
	if _, ok := tree.Triggered["path_C"]; ok {
		t.Error("tree has path_C entry though it was never triggered")
	}
}

func TestFlowFanOutLocalIsolation(t *testing.T) {
	spreader := cascade.NewNode("spread", cascade.Steps{
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, tr *cascade.Triggers) error {
			if err := tr.Trigger("process_one", cascade.Store{"item": "x", "index": 0}); err != nil {
				return err
			}
			return tr.Trigger("process_one", cascade.Store{"item": "y", "index": 1})
		},
	})

	var mu sync.Mutex
	var seen []string
	worker := cascade.NewNode("worker", cascade.Steps{
		Prep: func(ctx context.Context, m *cascade.Memory) (any, error) {
			item, _ := m.Get("item")
			index, _ := m.Get("index")
			mu.Lock()
			seen = append(seen, item.(string))
			mu.Unlock()
			return map[string]any{"item": item, "index": index}, nil
		},
		Exec: func(ctx context.Context, prep any) (any, error) {
			p := prep.(map[string]any)
			return "processed-" + p["item"].(string), nil
		},
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, tr *cascade.Triggers) error {
			p := prep.(map[string]any)
			return m.Set("result_"+strconv.Itoa(p["index"].(int)), exec)
		},
	})
	spreader.On("process_one", worker)

	global := cascade.Store{}
	flow := cascade.NewFlow("fanout", spreader)
	if _, err := flow.Run(context.Background(), global); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if strings.Join(seen, ",") != "x,y" {
		t.Errorf("worker saw items %v, want [x y] in trigger order", seen)
	}
	if global["result_0"] != "processed-x" {
		t.Errorf("result_0 = %v, want processed-x", global["result_0"])
	}
	if global["result_1"] != "processed-y" {
		t.Errorf("result_1 = %v, want processed-y", global["result_1"])
	}
}

func TestFlowCycleDetectionExactness(t *testing.T) {
	tests := []struct {
		name      string
		maxVisits int
	}{
		{"limit 5", 5},
		{"limit 3", 3},
		{"limit 2", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := 0
			looper := cascade.NewNode("looper", cascade.Steps{
				Exec: func(ctx context.Context, prep any) (any, error) {
					runs++
					return nil, nil
				},
				Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, tr *cascade.Triggers) error {
					return tr.Trigger(cascade.DefaultAction, nil)
				},
			})
			looper.Next(looper) // self-loop

			flow := cascade.NewFlow("cyclic", looper, cascade.WithMaxVisits(tt.maxVisits))
			_, err := flow.Run(context.Background(), cascade.Store{})

			if !errors.Is(err, cascade.ErrMaxVisitsExceeded) {
				t.Fatalf("error = %v, want ErrMaxVisitsExceeded", err)
			}
			if runs != tt.maxVisits {
				t.Errorf("node executed %d times, want exactly %d", runs, tt.maxVisits)
			}
			if !strings.Contains(err.Error(), "looper") {
				t.Errorf("error %q does not name the offending node", err)
			}
		})
	}
}

func TestFlowUnmatchedActionEndsBranch(t *testing.T) {
	var mu sync.Mutex
	var log []string

	a := recordingNode("a", &log, &mu, "nowhere")
	b := recordingNode("b", &log, &mu)
	a.On("elsewhere", b)

	flow := cascade.NewFlow("deadend", a)
	tree, err := flow.RunTree(context.Background(), cascade.Store{})
	if err != nil {
		t.Fatalf("unmatched action should not fail the run: %v", err)
	}
	if strings.Join(log, ",") != "a" {
		t.Errorf("execution order = %v, want only a", log)
	}
	if trees, ok := tree.Triggered["nowhere"]; !ok || len(trees) != 0 {
		t.Errorf("triggered[nowhere] = %v, want empty list", trees)
	}
}

func TestNestedFlowExplicitTriggerPropagates(t *testing.T) {
	var mu sync.Mutex
	var log []string

	inner := recordingNode("inner", &log, &mu, "X")
	innerFlow := cascade.NewFlow("innerFlow", inner)

	after := recordingNode("after", &log, &mu)
	innerFlow.On("X", after)

	outer := cascade.NewFlow("outerFlow", innerFlow)
	if _, err := outer.Run(context.Background(), cascade.Store{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if strings.Join(log, ",") != "inner,after" {
		t.Errorf("execution order = %v, want inner then after", log)
	}
}

func TestNestedFlowImplicitDefaultIsSwallowed(t *testing.T) {
	var mu sync.Mutex
	var log []string

	// The inner node never triggers; its implicit default must not leak out
	// of the sub-flow as an explicit signal.
	inner := recordingNode("inner", &log, &mu)
	innerFlow := cascade.NewFlow("innerFlow", inner)

	after := recordingNode("after", &log, &mu)
	innerFlow.On("X", after)

	outer := cascade.NewFlow("outerFlow", innerFlow)
	tree, err := outer.RunTree(context.Background(), cascade.Store{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if strings.Join(log, ",") != "inner" {
		t.Errorf("execution order = %v, want only inner", log)
	}
	// The outer flow falls through to its own implicit default.
	if trees, ok := tree.Triggered[cascade.DefaultAction]; !ok || len(trees) != 0 {
		t.Errorf("outer triggered = %v, want {default: []}", tree.Triggered)
	}
}

func TestNestedFlowForkingDataCrossesBoundary(t *testing.T) {
	inner := cascade.NewNode("emitter", cascade.Steps{
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, tr *cascade.Triggers) error {
			return tr.Trigger("X", cascade.Store{"payload": "from-inner"})
		},
	})
	innerFlow := cascade.NewFlow("innerFlow", inner)

	var got any
	receiver := cascade.NewNode("receiver", cascade.Steps{
		Prep: func(ctx context.Context, m *cascade.Memory) (any, error) {
			got, _ = m.Get("payload")
			return nil, nil
		},
	})
	innerFlow.On("X", receiver)

	outer := cascade.NewFlow("outerFlow", innerFlow)
	if _, err := outer.Run(context.Background(), cascade.Store{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != "from-inner" {
		t.Errorf("receiver saw payload %v, want from-inner", got)
	}
}

func TestFlowReuseAcrossRuns(t *testing.T) {
	runs := 0
	counter := cascade.NewNode("counter", cascade.Steps{
		Exec: func(ctx context.Context, prep any) (any, error) {
			runs++
			return nil, nil
		},
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, tr *cascade.Triggers) error {
			return tr.Trigger(cascade.DefaultAction, nil)
		},
	})
	counter.Next(counter)

	flow := cascade.NewFlow("loop", counter, cascade.WithMaxVisits(2))

	// Visit counts reset per run: both runs fail at the same point.
	for i := 0; i < 2; i++ {
		if _, err := flow.Run(context.Background(), cascade.Store{}); !errors.Is(err, cascade.ErrMaxVisitsExceeded) {
			t.Fatalf("run %d error = %v, want ErrMaxVisitsExceeded", i, err)
		}
	}
	if runs != 4 {
		t.Errorf("node executed %d times across two runs, want 4", runs)
	}
}

func TestFlowMultipleSuccessorsPerAction(t *testing.T) {
	var mu sync.Mutex
	var log []string

	a := recordingNode("a", &log, &mu)
	b := recordingNode("b", &log, &mu)
	c := recordingNode("c", &log, &mu)
	a.Next(b)
	a.Next(c)

	flow := cascade.NewFlow("multi", a)
	tree, err := flow.RunTree(context.Background(), cascade.Store{})
	if err != nil {
		t.Fatalf("RunTree failed: %v", err)
	}
	if strings.Join(log, ",") != "a,b,c" {
		t.Errorf("execution order = %v, want a,b,c (registration order)", log)
	}
	if got := tree.Triggered[cascade.DefaultAction]; len(got) != 2 {
		t.Errorf("triggered[default] has %d subtrees, want 2", len(got))
	}
}

func TestFlowRepeatedTriggerSubtreesAccumulate(t *testing.T) {
	spreader := cascade.NewNode("spread", cascade.Steps{
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, tr *cascade.Triggers) error {
			if err := tr.Trigger("work", cascade.Store{"i": 0}); err != nil {
				return err
			}
			return tr.Trigger("work", cascade.Store{"i": 1})
		},
	})
	worker := cascade.NewNode("worker", cascade.Steps{})
	spreader.On("work", worker)

	flow := cascade.NewFlow("accumulate", spreader)
	tree, err := flow.RunTree(context.Background(), cascade.Store{})
	if err != nil {
		t.Fatalf("RunTree failed: %v", err)
	}
	if got := tree.Triggered["work"]; len(got) != 2 {
		t.Errorf("triggered[work] has %d subtrees, want one per triggering event (2)", len(got))
	}
}

func TestFlowRunWithRawGlobalStore(t *testing.T) {
	n := cascade.NewNode("writer", cascade.Steps{
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, tr *cascade.Triggers) error {
			return m.Set("done", true)
		},
	})
	flow := cascade.NewFlow("wrap", n)

	global := map[string]any{}
	if _, err := flow.Run(context.Background(), global); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if global["done"] != true {
		t.Error("raw global store was not auto-wrapped and written through")
	}

	if _, err := flow.Run(context.Background(), 42); !errors.Is(err, cascade.ErrInvalidMemory) {
		t.Error("Run accepted a non-store memory value")
	}
}
