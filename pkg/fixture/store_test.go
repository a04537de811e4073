package fixture

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockcore/pkg/logging"
	"github.com/getmockd/mockcore/pkg/mock"
)

func newStore(t *testing.T, mode Mode) *Store {
	t.Helper()
	s, err := NewStore(Config{Dir: t.TempDir(), Mode: mode}, nil)
	require.NoError(t, err)
	return s
}

func response(status int, body string) *mock.Response {
	resp := mock.NewResponse(status, []byte(body))
	resp.Header.Set("Content-Type", "application/json")
	return resp
}

func TestFingerprint(t *testing.T) {
	base := func() *mock.Request {
		r := mock.NewRequest("GET", "/users/")
		r.Query["b"] = []string{"2", "1"}
		r.Query.Set("a", "x")
		r.Header.Set("X-Tenant", "acme")
		r.Header.Set("X-Trace", "random")
		return r
	}
	fp := Fingerprint(base(), []string{"x-tenant"})
	assert.Len(t, fp, 16)

	same := base()
	same.Path = "/users"
	same.Query["b"] = []string{"1", "2"}
	same.Header.Set("X-Trace", "different")
	assert.Equal(t, fp, Fingerprint(same, []string{"X-TENANT"}), "trailing slash, value order and unlisted headers do not matter")

	other := base()
	other.Header.Set("X-Tenant", "globex")
	assert.NotEqual(t, fp, Fingerprint(other, []string{"x-tenant"}))

	other = base()
	other.Method = "POST"
	assert.NotEqual(t, fp, Fingerprint(other, []string{"x-tenant"}))

	other = base()
	other.Query.Set("c", "")
	assert.NotEqual(t, fp, Fingerprint(other, []string{"x-tenant"}))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/", NormalizePath(""))
	assert.Equal(t, "/a/b", NormalizePath("/a//b/"))
	assert.Equal(t, "/a", NormalizePath("a"))
	assert.Equal(t, "/b", NormalizePath("/a/../b"))
}

func TestRouteSlug(t *testing.T) {
	a := routeSlug("GET /users/{id}")
	assert.True(t, strings.HasPrefix(a, "get-users-id-"), a)
	assert.NotEqual(t, a, routeSlug("GET /users/id"))
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	bodies := map[string][]byte{
		"json":   []byte(`{"id":1,"name":"ada"}`),
		"text":   []byte("plain text\nwith newline"),
		"binary": {0x00, 0xff, 0xfe, 0x10, 0x80},
		"empty":  nil,
	}
	for _, mode := range []Mode{ModeOverwrite, ModeCassette} {
		for name, body := range bodies {
			t.Run(string(mode)+"/"+name, func(t *testing.T) {
				s := newStore(t, mode)
				req := mock.NewRequest("GET", "/users/1")
				fp := s.Fingerprint(req)
				resp := mock.NewResponse(201, body)
				resp.Header.Add("Set-Cookie", "a=1")
				resp.Header.Add("Set-Cookie", "b=2")

				require.NoError(t, s.Put("GET /users/{id}", fp, req, resp))

				hit, ok := s.Get("GET /users/{id}", fp)
				require.True(t, ok)
				assert.True(t, bytes.Equal(body, hit.Response.Body), "body must round-trip byte for byte")
				assert.Equal(t, 201, hit.Response.Status)
				assert.Equal(t, []string{"a=1", "b=2"}, hit.Response.Header.Values("Set-Cookie"))
			})
		}
	}
}

func TestStore_OverwriteReplaces(t *testing.T) {
	s := newStore(t, ModeOverwrite)
	require.NoError(t, s.Put("r", "fp", nil, response(200, `{"v":1}`)))
	require.NoError(t, s.Put("r", "fp", nil, response(200, `{"v":2}`)))

	for i := 0; i < 3; i++ {
		hit, ok := s.Get("r", "fp")
		require.True(t, ok)
		assert.Equal(t, `{"v":2}`, string(hit.Response.Body))
		assert.Equal(t, KindFixture, hit.Kind)
		assert.Equal(t, mock.SourceFixture, hit.Response.Source)
	}

	_, ok := s.Get("r", "other")
	assert.False(t, ok)

	// no temp files left behind
	matches, err := filepath.Glob(filepath.Join(s.dir, "*", ".fixture-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestStore_CassetteReplaysInOrderThenMisses(t *testing.T) {
	s := newStore(t, ModeCassette)
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Put("list", "page", nil, response(200, fmt.Sprintf(`{"page":%d}`, i))))
	}
	require.NoError(t, s.Put("list", "other", nil, response(200, `{"other":true}`)))

	for i := 1; i <= 3; i++ {
		hit, ok := s.Get("list", "page")
		require.True(t, ok, "entry %d", i)
		assert.Equal(t, fmt.Sprintf(`{"page":%d}`, i), string(hit.Response.Body))
		assert.Equal(t, KindCassette, hit.Kind)
	}
	_, ok := s.Get("list", "page")
	assert.False(t, ok, "exhausted cassette falls through")

	hit, ok := s.Get("list", "other")
	require.True(t, ok, "cursors are per fingerprint")
	assert.Equal(t, int64(4), hit.Sequence)

	s.ResetCursors()
	hit, ok = s.Get("list", "page")
	require.True(t, ok)
	assert.Equal(t, `{"page":1}`, string(hit.Response.Body))
}

func TestStore_CassetteCursorsResetPerProcess(t *testing.T) {
	dir := t.TempDir()
	first, err := NewStore(Config{Dir: dir, Mode: ModeCassette}, nil)
	require.NoError(t, err)
	require.NoError(t, first.Put("r", "fp", nil, response(200, "one")))
	require.NoError(t, first.Put("r", "fp", nil, response(200, "two")))
	_, _ = first.Get("r", "fp")

	second, err := NewStore(Config{Dir: dir, Mode: ModeCassette}, nil)
	require.NoError(t, err)
	hit, ok := second.Get("r", "fp")
	require.True(t, ok)
	assert.Equal(t, "one", string(hit.Response.Body))

	// sequence numbering continues from what is on disk
	require.NoError(t, second.Put("r", "fp", nil, response(200, "three")))
	entries, err := second.Entries("r")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{entries[0].Sequence, entries[1].Sequence, entries[2].Sequence})
}

func TestStore_CorruptFixtureIsAMiss(t *testing.T) {
	var logs bytes.Buffer
	s, err := NewStore(Config{Dir: t.TempDir()}, logging.New(logging.Config{Output: &logs}))
	require.NoError(t, err)

	require.NoError(t, s.Put("r", "fp", nil, response(200, "ok")))
	require.NoError(t, os.WriteFile(s.fixturePath("r", "fp"), []byte("{not json"), 0o644))

	_, ok := s.Get("r", "fp")
	assert.False(t, ok)
	assert.Contains(t, logs.String(), "fixture unreadable")
	assert.Contains(t, logs.String(), "FixtureCorrupt")

	// a file for a different fingerprint is not served
	require.NoError(t, s.Put("r", "a", nil, response(200, "a")))
	data, err := os.ReadFile(s.fixturePath("r", "a"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.fixturePath("r", "b"), data, 0o644))
	_, ok = s.Get("r", "b")
	assert.False(t, ok)
}

func TestStore_TornCassetteLineIsSkipped(t *testing.T) {
	s := newStore(t, ModeCassette)
	require.NoError(t, s.Put("r", "fp", nil, response(200, "one")))

	f, err := os.OpenFile(s.cassettePath("r"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"fingerprint":"fp","respo`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	hit, ok := s.Get("r", "fp")
	require.True(t, ok)
	assert.Equal(t, "one", string(hit.Response.Body))
	_, ok = s.Get("r", "fp")
	assert.False(t, ok)
}

func TestStore_ConcurrentCassetteReadsAreSerialisedPerKey(t *testing.T) {
	s := newStore(t, ModeCassette)
	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, s.Put("r", "fp", nil, response(200, fmt.Sprint(i))))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]int{}
		miss int
	)
	for g := 0; g < 2*n; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hit, ok := s.Get("r", "fp")
			mu.Lock()
			defer mu.Unlock()
			if !ok {
				miss++
				return
			}
			seen[string(hit.Response.Body)]++
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n, "every entry served exactly once")
	for body, count := range seen {
		assert.Equal(t, 1, count, body)
	}
	assert.Equal(t, n, miss)
	assert.Zero(t, s.keys.size(), "locks released")
}

func TestStore_ConcurrentWritersDifferentKeys(t *testing.T) {
	s := newStore(t, ModeOverwrite)
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fp := fmt.Sprintf("fp%02d", i%10)
			assert.NoError(t, s.Put("r", fp, nil, response(200, fp)))
			hit, ok := s.Get("r", fp)
			if assert.True(t, ok) {
				assert.Equal(t, fp, string(hit.Response.Body))
			}
		}(i)
	}
	wg.Wait()

	entries, err := s.Entries("r")
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}

func TestNewStore_InvalidMode(t *testing.T) {
	_, err := NewStore(Config{Dir: t.TempDir(), Mode: "tape"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, mock.ErrConfigInvalid)
}

func TestStore_AppendAfterTornLine(t *testing.T) {
	s := newStore(t, ModeCassette)
	require.NoError(t, s.Put("r", "fp", nil, response(200, "one")))
	f, err := os.OpenFile(s.cassettePath("r"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"fingerprint":"fp"`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, s.Put("r", "fp", nil, response(200, "two")))

	var got []string
	for {
		hit, ok := s.Get("r", "fp")
		if !ok {
			break
		}
		got = append(got, string(hit.Response.Body))
	}
	assert.Equal(t, []string{"one", "two"}, got)
}
