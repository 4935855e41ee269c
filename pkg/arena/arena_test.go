// SPDX-License-Identifier: BSD-3-Clause

package arena_test

import (
	"errors"
	"testing"

	"github.com/nodemtc/nodemtc/pkg/arena"
	"github.com/nodemtc/nodemtc/pkg/mtctypes"
)

func TestAddAndGet(t *testing.T) {
	a := arena.New()

	n := &arena.Node{Hostname: "compute-1", Admin: mtctypes.AdminLocked, Oper: mtctypes.OperDisabled}
	if err := a.Add(n); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, ok := a.Get("compute-1")
	if !ok {
		t.Fatal("Get: node not found")
	}
	if got.UUID == [16]byte{} {
		t.Fatal("Get: node uuid was not assigned")
	}

	if _, ok := a.GetByUUID(got.UUID); !ok {
		t.Fatal("GetByUUID: node not found")
	}
}

func TestAddDuplicateHostname(t *testing.T) {
	a := arena.New()
	n1 := &arena.Node{Hostname: "compute-1"}
	n2 := &arena.Node{Hostname: "compute-1"}

	if err := a.Add(n1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := a.Add(n2); !errors.Is(err, arena.ErrDuplicateHostname) {
		t.Fatalf("Add duplicate: got %v, want ErrDuplicateHostname", err)
	}
}

func TestRemoveReindexes(t *testing.T) {
	a := arena.New()
	for _, h := range []string{"a", "b", "c"} {
		if err := a.Add(&arena.Node{Hostname: h}); err != nil {
			t.Fatalf("Add(%s): %v", h, err)
		}
	}

	if err := a.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if a.Len() != 2 {
		t.Fatalf("Len after remove: got %d, want 2", a.Len())
	}
	if _, ok := a.Get("a"); ok {
		t.Fatal("Get(a): still present after Remove")
	}
	for _, h := range []string{"b", "c"} {
		if _, ok := a.Get(h); !ok {
			t.Fatalf("Get(%s): missing after unrelated Remove", h)
		}
	}
}

func TestRemoveNotFound(t *testing.T) {
	a := arena.New()
	if err := a.Remove("nope"); !errors.Is(err, arena.ErrNodeNotFound) {
		t.Fatalf("Remove: got %v, want ErrNodeNotFound", err)
	}
}

func TestEachDoesNotRace(t *testing.T) {
	a := arena.New()
	for _, h := range []string{"a", "b", "c"} {
		_ = a.Add(&arena.Node{Hostname: h})
	}

	visited := 0
	a.Each(func(n *arena.Node) {
		n.Lock()
		n.Task = "visited"
		n.Unlock()
		visited++
	})
	if visited != 3 {
		t.Fatalf("Each visited %d nodes, want 3", visited)
	}
}
