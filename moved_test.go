package rcluster_test

import (
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/mna/rcluster"
	"github.com/mna/rcluster/redistest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// This tests the effect of a slot migration on a client shared by
// concurrent goroutines.
func TestMoved(t *testing.T) {
	var dialCount int
	var mu sync.Mutex

	fn, addrs := redistest.StartCluster(t, nil)
	defer fn()

	c, err := rcluster.New(addrs[:1], &rcluster.Options{
		ConnectTimeout: 2 * time.Second,
		Logger:         zaptest.NewLogger(t),
		Dial: func(addr string, opts ...redis.DialOption) (redis.Conn, error) {
			mu.Lock()
			dialCount++
			name := "rcluster-test-" + strconv.Itoa(dialCount)
			mu.Unlock()
			return redis.Dial("tcp", addr, append(opts, redis.DialClientName(name))...)
		},
	})
	require.NoError(t, err, "New")
	defer c.Close()
	require.NoError(t, c.Refresh(), "Refresh")

	t.Logf("Stats before first command: %#v", c.Stats())

	// move the slot of "a" from its owner to another node
	slot := rcluster.Slot("a")
	var owner string
	for _, r := range c.Stats().Slots {
		if slot >= r.Start && slot <= r.End {
			owner = r.Master
		}
	}
	require.NotEmpty(t, owner)
	target := addrs[0]
	if target == owner {
		target = addrs[1]
	}
	migrateSlot(t, addrs, slot, target)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 'A'; k <= 'z'; k++ {
				_, err := c.Do("GET", string(k))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	stats := c.Stats()
	t.Logf("Stats at the end: %#v", stats)
	assert.Equal(t, 1, stats.Redirects)
	assert.Equal(t, 1, stats.PinnedSlots)
	assert.Equal(t, 2, stats.Discoveries)

	// list the connections *as seen from the redis nodes*
	var redisConnsCount int
	for _, addr := range addrs {
		func() {
			conn, err := redis.Dial("tcp", addr, redis.DialClientName("rcluster-test-client-list"))
			require.NoError(t, err)
			defer conn.Close()

			res, err := redis.String(conn.Do("CLIENT", "LIST"))
			require.NoError(t, err)
			for _, f := range strings.Fields(res) {
				if strings.HasPrefix(f, "name=rcluster-test-") && f != "name=rcluster-test-client-list" {
					redisConnsCount++
				}
			}
		}()
	}

	t.Log("Final dial count: ", dialCount, ", Stats connections: ", stats.Connections, ", Redis-reported conns: ", redisConnsCount)
	require.Equal(t, len(addrs), stats.Connections, "one connection per node")
	require.Equal(t, stats.Connections, dialCount)
	require.Equal(t, stats.Connections, redisConnsCount)
}

// migrateSlot assigns the empty slot to the node at target on all nodes.
func migrateSlot(t *testing.T, addrs []string, slot int, target string) {
	conn, err := redis.Dial("tcp", target)
	require.NoError(t, err)
	id, err := redis.String(conn.Do("CLUSTER", "MYID"))
	conn.Close()
	require.NoError(t, err, "CLUSTER MYID")

	for _, addr := range addrs {
		conn, err := redis.Dial("tcp", addr)
		require.NoError(t, err)
		_, err = conn.Do("CLUSTER", "SETSLOT", slot, "NODE", id)
		conn.Close()
		require.NoError(t, err, "CLUSTER SETSLOT on %s", addr)
	}
}
