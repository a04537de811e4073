package id

import (
	"regexp"
	"sort"
	"sync"
	"testing"
)

func TestUUID_Format(t *testing.T) {
	re := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	for i := 0; i < 50; i++ {
		if got := UUID(); !re.MatchString(got) {
			t.Fatalf("UUID() = %q, not a v4 uuid", got)
		}
	}
}

func TestULID_Sortable(t *testing.T) {
	ids := make([]string, 500)
	for i := range ids {
		ids[i] = ULID()
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatal("ULIDs generated in sequence are not sorted")
	}
	seen := make(map[string]bool, len(ids))
	for _, v := range ids {
		if len(v) != 26 {
			t.Fatalf("ULID length = %d, want 26", len(v))
		}
		if seen[v] {
			t.Fatalf("duplicate ULID %s", v)
		}
		seen[v] = true
	}
}

func TestULID_Concurrent(t *testing.T) {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		seen = make(map[string]bool)
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				v := ULID()
				mu.Lock()
				if seen[v] {
					t.Errorf("duplicate ULID %s", v)
				}
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}
