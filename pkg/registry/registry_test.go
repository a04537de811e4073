package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		ops     []Operation
		wantErr string
	}{
		{"missing method", []Operation{{Path: "/a"}}, "method is required"},
		{"relative path", []Operation{{Method: "GET", Path: "a"}}, "must start with /"},
		{"partial segment param", []Operation{{Method: "GET", Path: "/files/{name}.json"}}, "whole segment"},
		{"duplicate param", []Operation{{Method: "GET", Path: "/{id}/{id}"}}, "duplicate parameter"},
		{"duplicate route", []Operation{{Method: "GET", Path: "/a"}, {Method: "get", Path: "/a"}}, `duplicate route "GET /a"`},
		{"bad status", []Operation{{Method: "GET", Path: "/a", Status: 700}}, "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.ops)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLookup(t *testing.T) {
	reg, err := Load([]Operation{
		{Method: "GET", Path: "/users/{id}", Tags: []string{"users"}},
		{Method: "GET", Path: "/users/me"},
		{Method: "GET", Path: "/users/{id}/orders/{orderId}"},
		{ID: "root", Method: "GET", Path: "/"},
		{Method: "POST", Path: "/users"},
	})
	require.NoError(t, err)

	tests := []struct {
		method, path string
		wantRoute    string
		wantParams   map[string]string
	}{
		{"GET", "/users/42", "GET /users/{id}", map[string]string{"id": "42"}},
		{"GET", "/users/me", "GET /users/me", map[string]string{}},
		{"get", "/users/7/orders/9", "GET /users/{id}/orders/{orderId}", map[string]string{"id": "7", "orderId": "9"}},
		{"GET", "/", "root", map[string]string{}},
		{"POST", "/users/", "POST /users", map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			op, params, ok := reg.Lookup(tt.method, tt.path)
			require.True(t, ok)
			assert.Equal(t, tt.wantRoute, op.RouteID())
			assert.Equal(t, tt.wantParams, params)
		})
	}

	_, _, ok := reg.Lookup("DELETE", "/users/1")
	assert.False(t, ok)
	_, _, ok = reg.Lookup("GET", "/users/1/orders")
	assert.False(t, ok)

	op, ok := reg.Operation("GET /users/{id}")
	require.True(t, ok)
	assert.True(t, op.HasTag("users"))
	assert.Equal(t, 5, reg.Len())
}

func TestLookup_LongestStaticPrefixWins(t *testing.T) {
	// declared least specific first
	reg, err := Load([]Operation{
		{Method: "GET", Path: "/{tenant}/items/{id}"},
		{Method: "GET", Path: "/api/{version}/{id}"},
		{Method: "GET", Path: "/api/items/{id}"},
	})
	require.NoError(t, err)

	op, params, ok := reg.Lookup("GET", "/api/items/3")
	require.True(t, ok)
	assert.Equal(t, "/api/items/{id}", op.Path)
	assert.Equal(t, "3", params["id"])

	op, _, ok = reg.Lookup("GET", "/api/v2/3")
	require.True(t, ok)
	assert.Equal(t, "/api/{version}/{id}", op.Path)

	op, _, ok = reg.Lookup("GET", "/acme/items/3")
	require.True(t, ok)
	assert.Equal(t, "/{tenant}/items/{id}", op.Path)
}

func TestLoad_CopiesInput(t *testing.T) {
	ops := []Operation{{Method: "GET", Path: "/a"}}
	reg, err := Load(ops)
	require.NoError(t, err)

	ops[0].Path = "/b"
	_, _, ok := reg.Lookup("GET", "/a")
	assert.True(t, ok)
}

func TestHolder_ReloadKeepsSnapshot(t *testing.T) {
	first, err := Load([]Operation{{Method: "GET", Path: "/v1/ping"}})
	require.NoError(t, err)
	h := NewHolder(first)

	// a lookup in progress keeps its snapshot
	snap := h.Load()

	require.NoError(t, h.Reload([]Operation{{Method: "GET", Path: "/v2/ping"}}))

	_, _, ok := snap.Lookup("GET", "/v1/ping")
	assert.True(t, ok, "old snapshot must be unaffected by reload")
	_, _, ok = snap.Lookup("GET", "/v2/ping")
	assert.False(t, ok)

	_, _, ok = h.Lookup("GET", "/v2/ping")
	assert.True(t, ok)

	// failed reload keeps serving the last good table
	err = h.Reload([]Operation{{Method: "GET", Path: "bad"}})
	require.Error(t, err)
	_, _, ok = h.Lookup("GET", "/v2/ping")
	assert.True(t, ok)
}

func TestHolder_ConcurrentReload(t *testing.T) {
	a, _ := Load([]Operation{{Method: "GET", Path: "/x"}, {Method: "GET", Path: "/a"}})
	b, _ := Load([]Operation{{Method: "GET", Path: "/x"}, {Method: "GET", Path: "/b"}})
	h := NewHolder(a)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				h.Swap(b)
			} else {
				h.Swap(a)
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		snap := h.Load()
		_, _, okA := snap.Lookup("GET", "/a")
		_, _, okB := snap.Lookup("GET", "/b")
		_, _, okX := snap.Lookup("GET", "/x")
		assert.True(t, okX)
		assert.True(t, okA != okB, "snapshot must be exactly one table")
	}
	close(stop)
	wg.Wait()
}

func TestNilHolderRegistry(t *testing.T) {
	h := NewHolder(nil)
	assert.Equal(t, 0, h.Load().Len())
	_, _, ok := h.Lookup("GET", "/")
	assert.False(t, ok)
}
