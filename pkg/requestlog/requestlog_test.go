package requestlog

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getmockd/mockcore/pkg/mock"
)

// ── Memory tests ─────────────────────────────────────────────────────────────

func TestMemory_LogAssignsIDAndTimestamp(t *testing.T) {
	m := NewMemory(10)
	e := &Entry{Method: "GET", Path: "/a"}
	m.Log(e)

	if e.ID == "" {
		t.Fatal("expected an ID to be assigned")
	}
	if e.Timestamp.IsZero() {
		t.Fatal("expected a timestamp to be assigned")
	}
	if got := m.Get(e.ID); got != e {
		t.Fatalf("Get(%q) = %v, want the logged entry", e.ID, got)
	}
	if got := m.Get("missing"); got != nil {
		t.Fatalf("Get(missing) = %v, want nil", got)
	}
}

func TestMemory_LogNil(t *testing.T) {
	m := NewMemory(10)
	m.Log(nil)
	if m.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", m.Count())
	}
}

func TestMemory_EvictsOldest(t *testing.T) {
	m := NewMemory(3)
	for i := range 5 {
		m.Log(&Entry{Path: fmt.Sprintf("/%d", i)})
	}

	if m.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", m.Count())
	}
	got := m.List(nil)
	want := []string{"/4", "/3", "/2"}
	for i, e := range got {
		if e.Path != want[i] {
			t.Errorf("List()[%d].Path = %q, want %q", i, e.Path, want[i])
		}
	}
}

func TestMemory_DefaultCapacity(t *testing.T) {
	m := NewMemory(0)
	if m.maxEntries != DefaultMaxEntries {
		t.Fatalf("maxEntries = %d, want %d", m.maxEntries, DefaultMaxEntries)
	}
}

func TestMemory_Clear(t *testing.T) {
	m := NewMemory(10)
	m.Log(&Entry{Path: "/a"})
	m.Log(&Entry{Path: "/b"})
	m.Clear()
	if m.Count() != 0 {
		t.Fatalf("Count() after Clear = %d, want 0", m.Count())
	}
}

// ── Filter tests ─────────────────────────────────────────────────────────────

func seeded() *Memory {
	m := NewMemory(100)
	m.Log(&Entry{Method: "GET", Path: "/api/users", Route: "users.list", Source: mock.SourceRule, Status: 200})
	m.Log(&Entry{Method: "GET", Path: "/api/users/7", Route: "users.get", Source: mock.SourceSynth, Status: 200})
	m.Log(&Entry{Method: "POST", Path: "/api/orders", Route: "orders.create", Source: mock.SourceFixture, Status: 201})
	m.Log(&Entry{Method: "GET", Path: "/nowhere", Route: "GET /nowhere", Status: 404, Error: "no_match"})
	return m
}

func TestMemory_ListFilter(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "none", filter: Filter{}, want: []string{"/nowhere", "/api/orders", "/api/users/7", "/api/users"}},
		{name: "method is case-insensitive", filter: Filter{Method: "post"}, want: []string{"/api/orders"}},
		{name: "path prefix", filter: Filter{Path: "/api/users"}, want: []string{"/api/users/7", "/api/users"}},
		{name: "path glob", filter: Filter{Path: "/api/*/7"}, want: []string{"/api/users/7"}},
		{name: "path doublestar", filter: Filter{Path: "/api/**"}, want: []string{"/api/orders", "/api/users/7", "/api/users"}},
		{name: "route", filter: Filter{Route: "users.get"}, want: []string{"/api/users/7"}},
		{name: "source", filter: Filter{Source: mock.SourceFixture}, want: []string{"/api/orders"}},
		{name: "status", filter: Filter{Status: 404}, want: []string{"/nowhere"}},
		{name: "has error", filter: Filter{HasError: &yes}, want: []string{"/nowhere"}},
		{name: "no error", filter: Filter{HasError: &no, Limit: 1}, want: []string{"/api/orders"}},
		{name: "offset and limit", filter: Filter{Offset: 1, Limit: 2}, want: []string{"/api/orders", "/api/users/7"}},
		{name: "offset past end", filter: Filter{Offset: 10}, want: []string{}},
	}
	m := seeded()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.List(&tt.filter)
			paths := make([]string, len(got))
			for i, e := range got {
				paths[i] = e.Path
			}
			if strings.Join(paths, ",") != strings.Join(tt.want, ",") {
				t.Errorf("List() = %v, want %v", paths, tt.want)
			}
		})
	}
}

// ── Subscription tests ───────────────────────────────────────────────────────

func TestMemory_Subscribe(t *testing.T) {
	m := NewMemory(10)
	sub, unsubscribe := m.Subscribe()

	m.Log(&Entry{Path: "/a"})
	select {
	case e := <-sub:
		if e.Path != "/a" {
			t.Fatalf("received %q, want /a", e.Path)
		}
	case <-time.After(time.Second):
		t.Fatal("no entry received")
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-sub; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	m.Log(&Entry{Path: "/b"})
}

func TestMemory_SlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewMemory(1000)
	_, unsubscribe := m.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for range 500 {
			m.Log(&Entry{Path: "/x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Log blocked on a subscriber that never reads")
	}
}

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory(50)
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				m.Log(&Entry{Path: fmt.Sprintf("/%d/%d", w, i)})
				_ = m.List(&Filter{Limit: 5})
			}
		}()
	}
	wg.Wait()
	if m.Count() != 50 {
		t.Fatalf("Count() = %d, want 50", m.Count())
	}
}

// ── Entry tests ──────────────────────────────────────────────────────────────

func TestTruncate(t *testing.T) {
	if got := Truncate([]byte("short")); got != "short" {
		t.Errorf("Truncate(short) = %q", got)
	}
	long := strings.Repeat("x", MaxBodySize+10)
	if got := Truncate([]byte(long)); len(got) != MaxBodySize {
		t.Errorf("len(Truncate(long)) = %d, want %d", len(got), MaxBodySize)
	}
}
