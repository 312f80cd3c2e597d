package netid

import "testing"

type ent struct{ n int }

func TestRegisterResolveBijection(t *testing.T) {
	r := NewRegistry[*ent]()
	ents := make([]*ent, 50)
	ids := map[ID]bool{}
	for i := range ents {
		ents[i] = &ent{n: i}
		id := r.RegisterNewEntity(ents[i])
		if id == 0 || id.IsLocal() {
			t.Fatalf("bad server id %d", id)
		}
		if ids[id] {
			t.Fatalf("id %d minted twice", id)
		}
		ids[id] = true
	}
	for _, e := range ents {
		id, ok := r.Lookup(e)
		if !ok {
			t.Fatalf("lookup miss for %d", e.n)
		}
		got, ok := r.Resolve(id)
		if !ok || got != e {
			t.Fatalf("resolve(%d)=%v,%v want %v", id, got, ok, e)
		}
	}
	if r.Len() != len(ents) {
		t.Fatalf("len=%d", r.Len())
	}
}

func TestRemoveRetiresIdentifier(t *testing.T) {
	r := NewRegistry[int]()
	a := r.RegisterNewEntity(1)
	if _, ok := r.Remove(a); !ok {
		t.Fatalf("remove failed")
	}
	if _, ok := r.Resolve(a); ok {
		t.Fatalf("resolve after remove should miss")
	}
	if _, ok := r.Remove(a); ok {
		t.Fatalf("second remove should miss")
	}
	b := r.RegisterNewEntity(1)
	if b == a {
		t.Fatalf("identifier %d reused", a)
	}
}

func TestSetNetIDOverwritesPriorMapping(t *testing.T) {
	r := NewLocalRegistry[string]()
	local := r.RegisterNewEntity("missile")
	if !local.IsLocal() {
		t.Fatalf("expected local id, got %d", local)
	}
	r.SetNetID("missile", 17)
	if _, ok := r.Resolve(local); ok {
		t.Fatalf("predicted id should be unbound after SetNetID")
	}
	if e, ok := r.Resolve(17); !ok || e != "missile" {
		t.Fatalf("resolve(17)=%q,%v", e, ok)
	}
	// Rebinding the same pair is a no-op.
	r.SetNetID("missile", 17)
	if r.Len() != 1 {
		t.Fatalf("len=%d", r.Len())
	}
}

func TestSetNetIDDoubleBindPanics(t *testing.T) {
	r := NewRegistry[string]()
	r.SetNetID("a", 5)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic binding a live id to another entity")
		}
	}()
	r.SetNetID("b", 5)
}

func TestSetNetIDAdvancesCounter(t *testing.T) {
	r := NewRegistry[string]()
	r.SetNetID("a", 40)
	if id := r.RegisterNewEntity("b"); id != 41 {
		t.Fatalf("next id=%d want 41", id)
	}
}

func TestRestoreNeverLowers(t *testing.T) {
	r := NewRegistry[int]()
	r.Restore(100)
	if r.Next() != 100 {
		t.Fatalf("next=%d", r.Next())
	}
	r.Restore(10)
	if r.Next() != 100 {
		t.Fatalf("restore lowered counter to %d", r.Next())
	}
	r.Restore(LocalBase + 5)
	if r.Next() != 100 {
		t.Fatalf("restore crossed into the local range: %d", r.Next())
	}
}

func TestExhaustionPanics(t *testing.T) {
	r := NewRegistry[int]()
	r.Restore(LocalBase - 1)
	if id := r.RegisterNewEntity(1); id != LocalBase-1 {
		t.Fatalf("id=%d", id)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected exhaustion panic")
		}
	}()
	r.RegisterNewEntity(2)
}

func TestIDsSorted(t *testing.T) {
	r := NewRegistry[int]()
	r.SetNetID(1, 9)
	r.SetNetID(2, 3)
	r.SetNetID(3, 6)
	got := r.IDs()
	want := []ID{3, 6, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids=%v want %v", got, want)
		}
	}
}
