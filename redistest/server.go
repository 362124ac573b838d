// Package redistest provides test helpers to run redis servers: a scripted
// mock server, and real redis-server clusters when the binary is
// available.
package redistest

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/require"
)

// ClusterConfig is the configuration to use for servers started in
// redis-cluster mode. The value must contain a single reference to
// a string placeholder (%s), the port number.
var ClusterConfig = `
port %s
cluster-enabled yes
cluster-config-file nodes.%[1]s.conf
cluster-node-timeout 5000
appendonly no
`

// NumClusterNodes is the number of master nodes started in a test cluster.
const NumClusterNodes = 3

const hashSlots = 16384

// StartCluster starts a redis cluster of NumClusterNodes masters using the
// ClusterConfig variable as configuration, the slots being split evenly
// between the nodes. If w is not nil, stdout and stderr of each node are
// written to it. The test is skipped if redis-server is not in the PATH.
//
// It returns a function that should be called after the test
// (typically in a defer), and the addresses of the nodes, as
// "127.0.0.1:port".
func StartCluster(t testing.TB, w io.Writer) (func(), []string) {
	requireRedisServer(t)

	cmds := make([]*exec.Cmd, 0, NumClusterNodes)
	ports := make([]string, 0, NumClusterNodes)
	perNode := hashSlots / NumClusterNodes

	for i := 0; i < NumClusterNodes; i++ {
		port := getClusterFreePort(t)
		cmds = append(cmds, startServer(t, port, w, fmt.Sprintf(ClusterConfig, port)))
		ports = append(ports, port)

		count := perNode
		if i == NumClusterNodes-1 {
			count = hashSlots - i*perNode
		}
		addSlots(t, port, i*perNode, count)
		if i > 0 {
			meet(t, port, ports[i-1])
		}
	}
	require.True(t, waitForCluster(t, 10*time.Second, ports...), "wait for cluster")

	addrs := make([]string, len(ports))
	for i, p := range ports {
		addrs[i] = "127.0.0.1:" + p
	}
	return func() { stopServers(cmds, ports) }, addrs
}

// StartServer starts a standalone redis-server instance on a free port.
// It returns the cleanup function and the address of the server.
func StartServer(t testing.TB, w io.Writer) (func(), string) {
	requireRedisServer(t)

	port := getFreePort(t)
	cmd := startServer(t, port, w, "")
	return func() { _ = cmd.Process.Kill() }, "127.0.0.1:" + port
}

func requireRedisServer(t testing.TB) {
	if _, err := exec.LookPath("redis-server"); err != nil {
		t.Skip("redis-server not found in $PATH")
	}
}

func stopServers(cmds []*exec.Cmd, ports []string) {
	for _, c := range cmds {
		_ = c.Process.Kill()
	}
	for _, port := range ports {
		os.Remove(filepath.Join(os.TempDir(), fmt.Sprintf("nodes.%s.conf", port)))
	}
}

func dialPort(t testing.TB, port string) redis.Conn {
	conn, err := redis.Dial("tcp", "127.0.0.1:"+port)
	require.NoError(t, err, "Dial to node")
	return conn
}

func meet(t testing.TB, port, clusterPort string) {
	conn := dialPort(t, port)
	defer conn.Close()

	_, err := conn.Do("CLUSTER", "MEET", "127.0.0.1", clusterPort)
	require.NoError(t, err, "CLUSTER MEET")
}

func addSlots(t testing.TB, port string, start, count int) {
	conn := dialPort(t, port)
	defer conn.Close()

	args := redis.Args{"ADDSLOTS"}
	for i := start; i < start+count; i++ {
		args = args.Add(i)
	}
	_, err := conn.Do("CLUSTER", args...)
	require.NoError(t, err, "CLUSTER ADDSLOTS")
}

func waitForCluster(t testing.TB, timeout time.Duration, ports ...string) bool {
	deadline := time.Now().Add(timeout)

	for _, port := range ports {
		conn := dialPort(t, port)
		for time.Now().Before(deadline) {
			info, err := redis.Bytes(conn.Do("CLUSTER", "INFO"))
			require.NoError(t, err, "CLUSTER INFO")
			if bytes.Contains(info, []byte("cluster_state:ok")) {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
		conn.Close()

		if time.Now().After(deadline) {
			return false
		}
	}
	return true
}

func startServer(t testing.TB, port string, w io.Writer, conf string) *exec.Cmd {
	args := []string{"--port", port}
	if conf != "" {
		args = []string{"-"}
	}
	c := exec.Command("redis-server", args...)
	c.Dir = os.TempDir()
	if w != nil {
		c.Stderr = w
		c.Stdout = w
	}
	if conf != "" {
		c.Stdin = strings.NewReader(conf)
	}

	require.NoError(t, c.Start(), "start redis-server")
	require.True(t, waitForPort(port, 10*time.Second), "wait for redis-server")
	t.Logf("redis-server started on port %s", port)
	return c
}

func waitForPort(port string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", "127.0.0.1:"+port, time.Second)
		if err == nil {
			conn.Close()
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func getClusterFreePort(t testing.TB) string {
	const maxPort = 55535

	// the port number in a redis-cluster must be below 55535 because
	// the nodes communicate with others on port p+10000. Try to get
	// lucky and subtract 10000 from the random port received if it
	// is too high.
	port := getFreePort(t)
	if n, _ := strconv.Atoi(port); n >= maxPort {
		port = strconv.Itoa(n - 10000)
	}
	return port
}

func getFreePort(t testing.TB) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "listen on port 0")
	defer l.Close()
	_, p, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err, "parse host and port")
	return p
}
