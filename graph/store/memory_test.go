package store

import (
	"context"
	"sync"
	"testing"

	"github.com/dshills/weavegraph-go/graph"
)

func TestMemoryCheckpointerContract(t *testing.T) {
	runCheckpointerContract(t, func(t *testing.T) graph.ConcurrencyCheckedCheckpointer {
		return NewMemoryCheckpointer()
	})
}

func TestMemoryCheckpointerConcurrentSaves(t *testing.T) {
	cp := NewMemoryCheckpointer()
	ctx := context.Background()

	// Different sessions saving concurrently must not interfere.
	var wg sync.WaitGroup
	ids := []string{"sess-1", "sess-2", "sess-3", "sess-4"}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for step := uint64(1); step <= 10; step++ {
				if err := cp.Save(ctx, testCheckpoint(id, step)); err != nil {
					t.Errorf("Save %s/%d: %v", id, step, err)
					return
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		got, err := cp.LoadLatest(ctx, id)
		if err != nil {
			t.Fatalf("LoadLatest %s: %v", id, err)
		}
		if got.Step != 10 {
			t.Errorf("%s latest step = %d, want 10", id, got.Step)
		}
		if cp.StepCount(id) != 10 {
			t.Errorf("%s step count = %d, want 10", id, cp.StepCount(id))
		}
	}
}

func TestMemoryCheckpointerRegisteredFactory(t *testing.T) {
	cp, err := graph.OpenCheckpointer(graph.InMemory, "")
	if err != nil {
		t.Fatalf("OpenCheckpointer(InMemory): %v", err)
	}
	if _, ok := cp.(*MemoryCheckpointer); !ok {
		t.Errorf("factory returned %T, want *MemoryCheckpointer", cp)
	}
}
