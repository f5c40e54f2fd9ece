package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func (c *hitCounter) inc(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hits == nil {
		c.hits = make(map[string]int)
	}
	c.hits[path]++
	return c.hits[path]
}

func (c *hitCounter) get(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[path]
}

func noJitter(d time.Duration) time.Duration { return 0 }

func newTestFetcher() *Fetcher {
	return New(nil, nil, WithJitter(noJitter))
}

func TestFetchFirstValid_DoesNotRefetchSatisfiedURL(t *testing.T) {
	var hits hitCounter
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.inc(r.URL.Path)
		switch r.URL.Path {
		case "/a":
			if n == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`{"d":"a"}`))
		case "/b":
			w.Write([]byte(`{"d":"b"}`))
		}
	}))
	defer srv.Close()

	batch, err := newTestFetcher().FetchFirstValid(context.Background(), []string{srv.URL + "/a", srv.URL + "/b"}, 2, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := hits.get("/b"); got != 1 {
		t.Errorf("b requested %d times, want 1", got)
	}
	if got := hits.get("/a"); got != 2 {
		t.Errorf("a requested %d times, want 2", got)
	}
	if !batch.Complete() {
		t.Fatalf("batch incomplete: %v", batch.Responses)
	}
	if r := batch.FirstValid(); r == nil || string(r.Body) != `{"d":"a"}` || r.Try != 2 {
		t.Fatalf("first valid = %+v", r)
	}
}

func TestFetchFirstValid_PartialFailureKeepsResponses(t *testing.T) {
	var hits hitCounter
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.inc(r.URL.Path)
		if r.URL.Path == "/a" {
			w.Write([]byte(`<html><title>503 Service Unavailable</title></html>`))
			return
		}
		w.Write([]byte(`payload`))
	}))
	defer srv.Close()

	batch, err := newTestFetcher().FetchFirstValid(context.Background(), []string{srv.URL + "/a", srv.URL + "/b"}, 3, time.Millisecond)
	var incomplete *IncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteError, got %v", err)
	}
	if len(incomplete.Missing) != 1 || incomplete.Tries != 3 {
		t.Errorf("incomplete = %+v", incomplete)
	}
	if hits.get("/a") != 3 || hits.get("/b") != 1 {
		t.Errorf("hits = %v", hits.hits)
	}
	r := batch.FirstValid()
	if r == nil || r.URL != srv.URL+"/b" {
		t.Fatalf("first valid = %+v", r)
	}
}

func TestFetchFirstValidOf_StopsAtFirstValid(t *testing.T) {
	var hits hitCounter
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.inc(r.URL.Path)
		if r.URL.Path == "/a" {
			w.Write([]byte(`{"error":"notAllowed"}`))
			return
		}
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	r, err := newTestFetcher().FetchFirstValidOf(context.Background(), []string{srv.URL + "/a", srv.URL + "/b"}, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.URL != srv.URL+"/b" {
		t.Errorf("url = %s", r.URL)
	}
	if hits.get("/a") != 1 || hits.get("/b") != 1 {
		t.Errorf("expected a single try, hits = %v", hits.hits)
	}
}

func TestFetchFirstValidOf_NoValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("   "))
	}))
	defer srv.Close()

	_, err := newTestFetcher().FetchFirstValidOf(context.Background(), []string{srv.URL + "/a", srv.URL + "/b"}, 2, time.Millisecond)
	if !errors.Is(err, ErrNoValidResponse) {
		t.Fatalf("expected ErrNoValidResponse, got %v", err)
	}
}

func TestFetchFirstValid_ContextCancelledDuringDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(nil, nil)
	start := time.Now()
	_, err := f.FetchFirstValid(ctx, []string{srv.URL}, 5, time.Hour)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("sleep ignored context")
	}
}

func TestValidate_Markers(t *testing.T) {
	f := newTestFetcher()
	tests := []struct {
		body  string
		valid bool
	}{
		{`{"d":{}}`, true},
		{``, false},
		{"\n\t", false},
		{`ACCESS DENIED`, false},
		{`<html><title>504 Gateway Time-out</title>`, false},
		{`{"e":"Not Allowed"}`, false},
	}
	for _, tt := range tests {
		err := f.validate([]byte(tt.body))
		if (err == nil) != tt.valid {
			t.Errorf("validate(%q) = %v, want valid=%v", tt.body, err, tt.valid)
		}
	}
}

func TestHalfJitterBounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := halfJitter(time.Second)
		if d < 500*time.Millisecond || d >= 1500*time.Millisecond {
			t.Fatalf("jitter out of range: %v", d)
		}
	}
}
