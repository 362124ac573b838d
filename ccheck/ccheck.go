// Command ccheck implements the consistency checker redis cluster client
// as described in http://redis.io/topics/cluster-tutorial. It is used
// to test the rcluster package with real cluster failover and resharding
// situations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"github.com/mna/rcluster"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	addrsFlag = flag.String("addrs", "localhost:7000", "Comma-separated seed `addresses`.")

	connTimeoutFlag  = flag.Duration("c", time.Second, "Connection `timeout`.")
	rateFlag         = flag.Float64("rate", 0, "Maximum INCR `calls` per second per worker, 0 for no limit.")
	workersFlag      = flag.Int("workers", 1, "Number of concurrent `workers`.")
	readTimeoutFlag  = flag.Duration("r", 100*time.Millisecond, "Read `timeout`.")
	writeTimeoutFlag = flag.Duration("w", 100*time.Millisecond, "Write `timeout`.")
	retryLimitFlag   = flag.Int("retry-limit", rcluster.DefaultRetryLimit, "Maximum `nodes` tried by a topology discovery.")
	verboseFlag      = flag.Bool("v", false, "Log the client's activity.")
)

const (
	workingSet = 1000
	keySpace   = 10000
)

type stats struct {
	mu sync.Mutex

	writes, reads             int
	failedWrites, failedReads int
	lostWrites, noAckWrites   int
}

func (s *stats) update(w, r, fw, fr, lw, naw int) {
	s.mu.Lock()
	s.writes += w
	s.reads += r
	s.failedWrites += fw
	s.failedReads += fr
	s.lostWrites += lw
	s.noAckWrites += naw
	s.mu.Unlock()
}

func (s *stats) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%d R (%d err) | %d W (%d err) | %d lost | %d noack",
		s.reads, s.failedReads, s.writes, s.failedWrites, s.lostWrites, s.noAckWrites)
}

func main() {
	flag.Parse()

	logger := zap.NewNop()
	if *verboseFlag {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	client, err := rcluster.New(strings.Split(*addrsFlag, ","), &rcluster.Options{
		ConnectTimeout: *connTimeoutFlag,
		ReadTimeout:    *readTimeoutFlag,
		WriteTimeout:   *writeTimeoutFlag,
		RetryLimit:     *retryLimitFlag,
		ClientName:     "ccheck-" + uuid.NewString(),
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	defer client.Close()

	if err := client.Refresh(); err != nil {
		logger.Fatal("failed to load the cluster topology", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var st stats
	errCh := make(chan error, 1)
	go printStats(&st)
	go printErr(errCh)

	if err := runChecks(ctx, client, &st, errCh, *workersFlag, *rateFlag); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("checks stopped", zap.Error(err))
	}
	fmt.Println(&st)
}

// checker generates the workload: each key is read if its value is known,
// then incremented, and the value read is compared to the last value
// written.
type checker struct {
	client *rcluster.Client
	rnd    *rand.Rand
	cache  map[string]int
}

// runChecks runs the workers until ctx is done. Each worker owns its
// cache, the client and the stats are shared.
func runChecks(ctx context.Context, client *rcluster.Client, st *stats, errCh chan<- error, workers int, perSec float64) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		seed := time.Now().UnixNano() + int64(i)
		g.Go(func() error {
			ck := newChecker(client, seed)
			limit := rate.Inf
			if perSec > 0 {
				limit = rate.Limit(perSec)
			}
			lim := rate.NewLimiter(limit, 1)
			for {
				if err := lim.Wait(ctx); err != nil {
					// Wait fails early when the next token comes after the deadline
					<-ctx.Done()
					return ctx.Err()
				}
				st.update(ck.step(errCh))
			}
		})
	}
	return g.Wait()
}

func newChecker(client *rcluster.Client, seed int64) *checker {
	return &checker{
		client: client,
		rnd:    rand.New(rand.NewSource(seed)),
		cache:  make(map[string]int, workingSet),
	}
}

// step runs a single read-then-write iteration and returns the stats
// deltas: writes, reads, failed writes, failed reads, lost writes and
// unacknowledged writes.
func (ck *checker) step(errCh chan<- error) (w, r, fw, fr, lw, naw int) {
	key := ck.genKey()

	// read only if we know what that key should be
	if exp, ok := ck.cache[key]; ok {
		v, err := redis.Int(ck.client.Do("GET", key))
		if err != nil && !errors.Is(err, redis.ErrNil) {
			report(errCh, fmt.Errorf("read from slot %d failed: %w", rcluster.Slot(key), err))
			fr = 1
		} else {
			r = 1
			if exp > v {
				lw = exp - v
			} else if exp < v {
				naw = v - exp
			}
		}
	}

	v, err := redis.Int(ck.client.Do("INCR", key))
	if err != nil {
		report(errCh, fmt.Errorf("write to slot %d failed: %w", rcluster.Slot(key), err))
		fw = 1
	} else {
		w = 1
		ck.cache[key] = v
	}
	return w, r, fw, fr, lw, naw
}

func report(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
	}
}

func printErr(errCh <-chan error) {
	for err := range errCh {
		fmt.Println(err)
		time.Sleep(time.Second)
	}
}

// each second, print stats
func printStats(st *stats) {
	for range time.Tick(time.Second) {
		fmt.Println(st)
	}
}

func (ck *checker) genKey() string {
	ks := workingSet
	if ck.rnd.Float64() > 0.5 {
		ks = keySpace
	}
	return "key_" + strconv.Itoa(ck.rnd.Intn(ks))
}
