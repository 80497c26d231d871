package naming

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"domator-go/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.BoltStore {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type countingGenerator struct {
	calls atomic.Int32
}

func (g *countingGenerator) Generate(_ context.Context, category string) (string, error) {
	g.calls.Add(1)
	time.Sleep(10 * time.Millisecond)
	return category + "-name", nil
}

func TestAssignOnceUnderConcurrency(t *testing.T) {
	s := newTestStore(t)
	gen := &countingGenerator{}
	a := NewAssigner(s, gen, quietLogger())

	var (
		wg      sync.WaitGroup
		created atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, ok, err := a.AssignIfAbsent(context.Background(), 77, store.KindSwitch)
			if err != nil {
				t.Error(err)
				return
			}
			if name != "astronomy-name" {
				t.Errorf("name = %q", name)
			}
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := gen.calls.Load(); n != 1 {
		t.Errorf("generator calls = %d, want 1", n)
	}
	if n := created.Load(); n != 1 {
		t.Errorf("created reported %d times, want 1", n)
	}
	switches, _ := s.AllSwitches()
	if len(switches) != 1 {
		t.Fatalf("switches = %d, want 1", len(switches))
	}
	if switches[0].ButtonCount != DefaultButtons {
		t.Errorf("buttons = %d, want %d", switches[0].ButtonCount, DefaultButtons)
	}
}

func TestAssignReturnsExistingName(t *testing.T) {
	s := newTestStore(t)
	s.AddRelay(5, "kitchen", 16)
	gen := &countingGenerator{}
	a := NewAssigner(s, gen, quietLogger())

	name, created, err := a.AssignIfAbsent(context.Background(), 5, store.KindRelay)
	if err != nil {
		t.Fatal(err)
	}
	if name != "kitchen" || created {
		t.Errorf("got %q/%v, want kitchen/false", name, created)
	}
	if gen.calls.Load() != 0 {
		t.Error("generator called for a known device")
	}
	r, _ := s.Relay(5)
	if r.OutputCount != 16 {
		t.Errorf("output count overwritten to %d", r.OutputCount)
	}
}

func TestAssignCategories(t *testing.T) {
	s := newTestStore(t)
	var got []string
	gen := GeneratorFunc(func(_ context.Context, category string) (string, error) {
		got = append(got, category)
		return "n", nil
	})
	a := NewAssigner(s, gen, quietLogger())

	a.AssignIfAbsent(context.Background(), 1, store.KindRelay)
	a.AssignIfAbsent(context.Background(), 2, store.KindSwitch)
	name, created, _ := a.AssignIfAbsent(context.Background(), 3, store.KindRoot)

	if len(got) != 2 || got[0] != "animals" || got[1] != "astronomy" {
		t.Errorf("categories = %v", got)
	}
	if name != RootName || created {
		t.Errorf("root = %q/%v", name, created)
	}
	if r, err := s.Relay(1); err != nil || r.OutputCount != DefaultOutputs {
		t.Errorf("relay = %+v, %v", r, err)
	}
}

func TestAssignGeneratorFailureFallsBack(t *testing.T) {
	s := newTestStore(t)
	gen := GeneratorFunc(func(context.Context, string) (string, error) {
		return "", errors.New("service down")
	})
	a := NewAssigner(s, gen, quietLogger())

	name, created, err := a.AssignIfAbsent(context.Background(), 9, store.KindRelay)
	if err != nil {
		t.Fatal(err)
	}
	if name != "animals-9" || !created {
		t.Errorf("got %q/%v, want animals-9/true", name, created)
	}
}

func TestWordGenerator(t *testing.T) {
	a := NewWordGenerator(1)
	b := NewWordGenerator(1)
	for i := 0; i < 5; i++ {
		x, err := a.Generate(context.Background(), "astronomy")
		if err != nil {
			t.Fatal(err)
		}
		y, _ := b.Generate(context.Background(), "astronomy")
		if x != y {
			t.Errorf("same seed diverged: %q vs %q", x, y)
		}
	}
	if _, err := a.Generate(context.Background(), "plants"); err == nil {
		t.Error("expected error for unknown category")
	}
}
