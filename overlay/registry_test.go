package overlay

import "testing"

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry()
	c1 := &Conn{}
	c2 := &Conn{}

	if got := r.Get("b1"); got != nil {
		t.Errorf("Get on empty registry = %v, want nil", got)
	}

	r.Add("b1", c1)
	if n := r.Len("b1"); n != 1 {
		t.Errorf("Len after one add = %d, want 1", n)
	}

	// Adding twice is a no-op.
	r.Add("b1", c1)
	if n := r.Len("b1"); n != 1 {
		t.Errorf("Len after duplicate add = %d, want 1", n)
	}

	r.Add("b1", c2)
	if n := r.Len("b1"); n != 2 {
		t.Errorf("Len after second conn = %d, want 2", n)
	}

	r.Remove("b1", c1)
	if n := r.Len("b1"); n != 1 {
		t.Errorf("Len after remove = %d, want 1", n)
	}

	// Removing the last connection prunes the key entirely.
	r.Remove("b1", c2)
	if got := r.Get("b1"); got != nil {
		t.Errorf("Get after last remove = %v, want nil (empty sets must not leak)", got)
	}

	// Removing from an absent key is a no-op.
	r.Remove("b1", c1)
	r.Remove("never-existed", c1)
}

func TestRegistry_Isolation(t *testing.T) {
	r := NewRegistry()
	c1 := &Conn{}
	c2 := &Conn{}
	r.Add("b1", c1)
	r.Add("b2", c2)

	if got := r.Get("b1"); len(got) != 1 || got[0] != c1 {
		t.Errorf("Get(b1) = %v, want [c1]", got)
	}
	if got := r.Get("b2"); len(got) != 1 || got[0] != c2 {
		t.Errorf("Get(b2) = %v, want [c2]", got)
	}

	r.Remove("b1", c2) // wrong broadcaster: no effect
	if n := r.Len("b1"); n != 1 {
		t.Errorf("Len(b1) after cross-broadcaster remove = %d, want 1", n)
	}

	if all := r.All(); len(all) != 2 {
		t.Errorf("All() returned %d conns, want 2", len(all))
	}
}

func TestRegistry_InvariantUnderSequences(t *testing.T) {
	r := NewRegistry()
	conns := make([]*Conn, 5)
	for i := range conns {
		conns[i] = &Conn{}
	}

	for _, c := range conns {
		r.Add("b", c)
	}
	for i, c := range conns {
		r.Remove("b", c)
		want := len(conns) - i - 1
		if want == 0 {
			if got := r.Get("b"); got != nil {
				t.Fatalf("Get after removing all = %v, want nil", got)
			}
		} else if n := r.Len("b"); n != want {
			t.Fatalf("Len after %d removals = %d, want %d", i+1, n, want)
		}
	}
}
