package registry

import (
	"fmt"
	"sync"
	"testing"
)

type fakeConn struct {
	name string
}

func (c *fakeConn) Send(event string, payload any) error { return nil }
func (c *fakeConn) Close() error                         { return nil }

func TestRegisterLookup(t *testing.T) {
	r := New()
	conn := &fakeConn{name: "a"}

	if prev := r.Register("u1", conn); prev != nil {
		t.Fatalf("expected no evicted conn, got %v", prev)
	}

	got, ok := r.Lookup("u1")
	if !ok || got != conn {
		t.Fatalf("lookup returned %v, %v", got, ok)
	}
}

func TestReRegisterEvictsOnlyThatUser(t *testing.T) {
	r := New()
	a1 := &fakeConn{name: "a1"}
	b := &fakeConn{name: "b"}
	a2 := &fakeConn{name: "a2"}

	r.Register("ua", a1)
	r.Register("ub", b)

	prev := r.Register("ua", a2)
	if prev != a1 {
		t.Fatalf("expected a1 evicted, got %v", prev)
	}

	if got, _ := r.Lookup("ua"); got != a2 {
		t.Fatal("ua should resolve to the new handle")
	}
	if got, _ := r.Lookup("ub"); got != b {
		t.Fatal("ub's handle must be unaffected")
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", r.Len())
	}
}

func TestRegisterSameConnTwice(t *testing.T) {
	r := New()
	conn := &fakeConn{}

	r.Register("u1", conn)
	if prev := r.Register("u1", conn); prev != nil {
		t.Fatalf("re-registering the same handle should not report an eviction, got %v", prev)
	}
}

func TestUnregisterRemovesEntry(t *testing.T) {
	r := New()
	conn := &fakeConn{}
	r.Register("u1", conn)

	r.Unregister(conn)

	if _, ok := r.Lookup("u1"); ok {
		t.Fatal("entry should be gone after unregister")
	}
}

func TestUnregisterUnknownHandleIsNoop(t *testing.T) {
	r := New()
	conn := &fakeConn{}
	r.Register("u1", conn)

	r.Unregister(&fakeConn{name: "never-registered"})

	if _, ok := r.Lookup("u1"); !ok {
		t.Fatal("unrelated entry must survive")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", r.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", i%10)
			conn := &fakeConn{name: userID}
			r.Register(userID, conn)
			r.Lookup(userID)
			r.Users()
			r.Unregister(conn)
		}(i)
	}
	wg.Wait()

	// All conns either replaced or unregistered; just verify no panic
	// and a consistent final state.
	if r.Len() > 10 {
		t.Fatalf("at most one entry per user expected, got %d", r.Len())
	}
}
