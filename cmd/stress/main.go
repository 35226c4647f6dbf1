// Command stress runs a synthetic workload against a routed cluster of
// cache nodes, serves Prometheus metrics, and optionally exposes pprof.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/distcache-io/distcache/cache"
	"github.com/distcache-io/distcache/logging"
	pmet "github.com/distcache-io/distcache/metrics/prom"
	"github.com/distcache-io/distcache/policy/lfu"
	"github.com/distcache-io/distcache/policy/lru"
	"github.com/distcache-io/distcache/router"
)

// mockStore is an in-process stand-in for the database collaborator that a
// real deployment would point Loader/Writer at.
type mockStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMockStore() *mockStore { return &mockStore{data: make(map[string]string)} }

func (s *mockStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *mockStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *mockStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func main() {
	var (
		nodeCount = flag.Int("nodes", 4, "number of cache nodes behind the router")
		capacity  = flag.Int("cap", 100_000, "per-node capacity (entries)")
		policy    = flag.String("policy", "lru", "eviction policy: lru | lfu")
		writeMode = flag.String("write-mode", "through", "write strategy: through | back")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "workload duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys  = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	log := logging.New(nil)

	if *pprofAddr != "" {
		go func() {
			log.Info("pprof: serving", logging.Str("addr", *pprofAddr))
			err := http.ListenAndServe(*pprofAddr, nil)
			log.Error("pprof server exited", logging.Err(err))
		}()
	}

	mtr := pmet.New(nil, "distcache", "stress", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Info("metrics: serving", logging.Str("addr", *metricsAddr))
		err := http.ListenAndServe(*metricsAddr, nil)
		log.Error("metrics server exited", logging.Err(err))
	}()

	store := newMockStore()
	nodes := make([]router.Node[string, string], *nodeCount)
	for i := range nodes {
		opt := cache.Options[string, string]{
			Capacity: *capacity,
			Loader:   cache.NewDatabaseLoader[string, string](store),
			Metrics:  mtr,
			Logger:   log,
		}
		switch *policy {
		case "lru":
			opt.Policy = lru.New[string]()
		case "lfu":
			opt.Policy = lfu.New[string]()
		default:
			log.Error("unknown policy, falling back to lru", logging.Str("policy", *policy))
			opt.Policy = lru.New[string]()
		}
		switch *writeMode {
		case "through":
			opt.Writer = cache.NewWriteThrough[string, string](store)
		case "back":
			opt.Writer = cache.NewSafeWriteBack[string, string](store,
				cache.WithLogger[string, string](log),
				cache.WithWriteBackMetrics[string, string](mtr))
		default:
			log.Error("unknown write mode, falling back to through", logging.Str("mode", *writeMode))
			opt.Writer = cache.NewWriteThrough[string, string](store)
		}
		nodes[i] = cache.New[string, string](opt)
	}

	r := router.New[string](nodes, router.WithLogger[string](log), router.WithMetrics[string](mtr))
	defer func() {
		if err := r.Close(); err != nil {
			log.Error("router close reported errors", logging.Err(err))
		}
	}()

	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}
	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV

	var reads, writes, hits, misses, total uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)
			keyByZipf := func() string {
				return "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					if _, ok, err := r.Get(ctx, keyByZipf()); err == nil && ok {
						atomic.AddUint64(&hits, 1)
					} else {
						atomic.AddUint64(&misses, 1)
					}
				} else {
					atomic.AddUint64(&writes, 1)
					k := keyByZipf()
					_ = r.Put(ctx, k, "v"+strconv.Itoa(localR.Int()))
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	writesN := atomic.LoadUint64(&writes)
	hitsN := atomic.LoadUint64(&hits)
	missesN := atomic.LoadUint64(&misses)

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}

	fmt.Printf("nodes=%d policy=%s write-mode=%s cap=%d workers=%d keys=%d dur=%v seed=%d\n",
		*nodeCount, *policy, *writeMode, *capacity, workersN, *keys, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN)
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", hitsN, missesN, hitRate)
	fmt.Printf("router.Len()=%d\n", r.Len())
}
