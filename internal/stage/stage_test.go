package stage

import (
	"context"
	"testing"
)

type fakeHandler struct {
	md          Metadata
	independent bool
}

func (f *fakeHandler) Execute(ctx context.Context, sctx Context) (*Result, error) {
	return &Result{Status: StatusOK}, nil
}
func (f *fakeHandler) Describe() Metadata  { return f.md }
func (f *fakeHandler) IsIndependent() bool { return f.independent }

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	h := &fakeHandler{md: Metadata{Index: 3, Name: "capability-spec"}}
	r.Register(h)

	if got := r.Get(3); got != h {
		t.Error("Get(3) did not return the registered handler")
	}
	if r.Get(99) != nil {
		t.Error("Get(out of range) should return nil")
	}
	if r.Complete() {
		t.Error("registry with one handler should not be complete")
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeHandler{md: Metadata{Index: 0}})

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	r.Register(&fakeHandler{md: Metadata{Index: 0}})
}

func TestCheckAcyclicNoEdges(t *testing.T) {
	handlers := []Handler{
		&fakeHandler{md: Metadata{Index: 2, Outputs: []string{"a"}}},
		&fakeHandler{md: Metadata{Index: 3, Outputs: []string{"b"}}},
	}
	if err := CheckAcyclic(handlers); err != nil {
		t.Errorf("CheckAcyclic = %v, want nil", err)
	}
}

func TestCheckAcyclicDetectsCycle(t *testing.T) {
	handlers := []Handler{
		&fakeHandler{md: Metadata{Index: 2, Inputs: []string{"b-out"}, Outputs: []string{"a-out"}}},
		&fakeHandler{md: Metadata{Index: 3, Inputs: []string{"a-out"}, Outputs: []string{"b-out"}}},
	}
	err := CheckAcyclic(handlers)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if _, ok := err.(*CycleError); !ok {
		t.Errorf("got %T, want *CycleError", err)
	}
}

func TestVerifyIndependenceConflict(t *testing.T) {
	group := []Handler{
		&fakeHandler{md: Metadata{Index: 3, Outputs: []string{"spec.md"}}},
		&fakeHandler{md: Metadata{Index: 4, Inputs: []string{"spec.md"}}},
	}
	independent, conflicts := VerifyIndependence(group)
	if independent {
		t.Error("expected independence conflict")
	}
	if len(conflicts) != 1 || conflicts[0] != "spec.md" {
		t.Errorf("conflicts = %v, want [spec.md]", conflicts)
	}
}

func TestVerifyIndependenceClean(t *testing.T) {
	group := []Handler{
		&fakeHandler{md: Metadata{Index: 3, Outputs: []string{"spec.md"}}},
		&fakeHandler{md: Metadata{Index: 4, Outputs: []string{"tasks.md"}}},
	}
	independent, conflicts := VerifyIndependence(group)
	if !independent || len(conflicts) != 0 {
		t.Errorf("expected independence, got conflicts=%v", conflicts)
	}
}

func TestInParallelWindow(t *testing.T) {
	for idx := 0; idx < Count; idx++ {
		want := idx >= 2 && idx <= 6
		if got := InParallelWindow(idx); got != want {
			t.Errorf("InParallelWindow(%d) = %v, want %v", idx, got, want)
		}
	}
}
