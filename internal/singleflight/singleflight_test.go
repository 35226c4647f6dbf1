package singleflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// S3 from spec.md §8: N concurrent callers on one key collapse into a
// single fn invocation, and every caller observes the same result.
func TestGroup_CoalescesConcurrentCalls(t *testing.T) {
	t.Parallel()

	var g Group[string, string]
	var calls int64

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)

	start := make(chan struct{})
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = g.Do(context.Background(), "x", func() (string, error) {
				atomic.AddInt64(&calls, 1)
				time.Sleep(50 * time.Millisecond)
				return "v", nil
			})
		}()
	}
	close(start)
	wg.Wait()

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("fn must run exactly once, ran %d times", got)
	}
	for i := range results {
		if errs[i] != nil || results[i] != "v" {
			t.Fatalf("caller %d got (%q, %v), want (\"v\", nil)", i, results[i], errs[i])
		}
	}
}

// Every follower observes the leader's error too.
func TestGroup_PropagatesLeaderError(t *testing.T) {
	t.Parallel()

	var g Group[string, string]
	wantErr := errors.New("boom")

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})

	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = g.Do(context.Background(), "k", func() (string, error) {
				time.Sleep(20 * time.Millisecond)
				return "", wantErr
			})
		}()
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, wantErr) {
			t.Fatalf("caller %d got err=%v, want %v", i, err, wantErr)
		}
	}
}

// A call that arrives after the previous window closed starts a fresh
// invocation — results are not cached across windows.
func TestGroup_FreshWindowPerCall(t *testing.T) {
	t.Parallel()

	var g Group[string, int]
	var calls int64

	fn := func() (int, error) {
		return int(atomic.AddInt64(&calls, 1)), nil
	}

	v1, _ := g.Do(context.Background(), "k", fn)
	v2, _ := g.Do(context.Background(), "k", fn)

	if v1 == v2 {
		t.Fatalf("sequential calls must each run fn; got v1=%d v2=%d", v1, v2)
	}
}

// A follower whose context is cancelled returns promptly without waiting
// for (or cancelling) the leader.
func TestGroup_FollowerContextCancellation(t *testing.T) {
	t.Parallel()

	var g Group[string, string]
	leaderStarted := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = g.Do(context.Background(), "k", func() (string, error) {
			close(leaderStarted)
			<-release
			return "v", nil
		})
	}()
	<-leaderStarted

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Do(ctx, "k", func() (string, error) {
		t.Fatal("follower must not run fn")
		return "", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	close(release)
}

// New's onJoin callback reports the live follower count each time a caller
// coalesces onto an in-flight window, and is never invoked for the leader.
func TestGroup_OnJoinReportsFollowerCount(t *testing.T) {
	t.Parallel()

	var joins []int
	var mu sync.Mutex
	g := New[string, string](func(waiters int) {
		mu.Lock()
		joins = append(joins, waiters)
		mu.Unlock()
	})

	leaderStarted := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = g.Do(context.Background(), "k", func() (string, error) {
			close(leaderStarted)
			<-release
			return "v", nil
		})
	}()
	<-leaderStarted

	const followers = 3
	wg.Add(followers)
	for i := 0; i < followers; i++ {
		go func() {
			defer wg.Done()
			_, _ = g.Do(context.Background(), "k", func() (string, error) {
				t.Fatal("follower must not run fn")
				return "", nil
			})
		}()
	}
	// Give followers a chance to register before releasing the leader;
	// the assertions below expect every follower to have joined by then.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(joins) != followers {
		t.Fatalf("got %d onJoin calls, want %d (one per follower)", len(joins), followers)
	}
	for _, w := range joins {
		if w < 1 || w > followers {
			t.Fatalf("reported waiter count %d out of range [1,%d]", w, followers)
		}
	}
}
