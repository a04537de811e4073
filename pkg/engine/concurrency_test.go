package engine

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHandler_ConcurrentRequests(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newResolver(t)))
	t.Cleanup(srv.Close)

	const (
		numRequests = 1000
		numWorkers  = 50
	)
	var successCount, errorCount int64
	var wg sync.WaitGroup
	client := &http.Client{Timeout: 5 * time.Second}

	start := time.Now()
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < numRequests; i += numWorkers {
				resp, err := client.Get(fmt.Sprintf("%s/users/%d", srv.URL, i))
				if err != nil {
					atomic.AddInt64(&errorCount, 1)
					continue
				}
				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK && string(body) == fmt.Sprintf(`{"id":"%d"}`, i) {
					atomic.AddInt64(&successCount, 1)
				} else {
					atomic.AddInt64(&errorCount, 1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	assert.Equal(t, int64(numRequests), successCount)
	assert.Zero(t, errorCount)
	t.Logf("%d requests in %v (%.0f req/s)", numRequests, elapsed, float64(numRequests)/elapsed.Seconds())
}

func BenchmarkHandler_Rule(b *testing.B) {
	h := NewHandler(newResolver(b))
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", "/users/42", nil))
			if rec.Code != http.StatusOK {
				b.Errorf("status %d", rec.Code)
				return
			}
		}
	})
}

func BenchmarkHandler_JSONPathPredicate(b *testing.B) {
	h := NewHandler(newResolver(b))
	b.ReportAllocs()
	for b.Loop() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("POST", "/echo", strings.NewReader(`{"ping":true}`)))
		if rec.Code != http.StatusCreated {
			b.Fatalf("status %d", rec.Code)
		}
	}
}
