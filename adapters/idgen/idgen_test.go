package idgen_test

import (
	"sync"
	"testing"

	"github.com/artpar/metergate/adapters/idgen"
)

func TestUUID_Unique(t *testing.T) {
	g := idgen.UUID{}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := g.New()
		if id == "" {
			t.Fatal("empty id")
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestSequential(t *testing.T) {
	g := idgen.NewSequential("n")
	if got := g.New(); got != "n1" {
		t.Errorf("first id = %s, want n1", got)
	}
	if got := g.New(); got != "n2" {
		t.Errorf("second id = %s, want n2", got)
	}
}

func TestSequential_Concurrent(t *testing.T) {
	g := idgen.NewSequential("n")

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := g.New()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 1000 {
		t.Errorf("generated %d unique ids, want 1000", len(seen))
	}
}
