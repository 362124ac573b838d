package rcluster

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/require"
)

// fakeCluster is an in-process cluster of fake nodes, used through
// Options.Dial.
type fakeCluster struct {
	mu     sync.Mutex
	nodes  map[string]*fakeNode
	ranges []SlotRange // topology returned by CLUSTER SLOTS
}

type fakeNode struct {
	addr string
	// handler replies to commands other than CLUSTER SLOTS. A nil handler
	// replies OK to everything.
	handler func(cmd string, args []string) (interface{}, error)

	dials    int
	dialErr  error
	slotsErr error // returned to CLUSTER SLOTS if set
	commands []string
}

func newFakeCluster(addrs ...string) *fakeCluster {
	fc := &fakeCluster{nodes: make(map[string]*fakeNode)}
	for _, addr := range addrs {
		fc.nodes[addr] = &fakeNode{addr: addr}
	}
	return fc
}

// evenSlots assigns the slots evenly to the nodes, in addrs order.
func (fc *fakeCluster) evenSlots(addrs ...string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	fc.ranges = fc.ranges[:0]
	per := HashSlots / len(addrs)
	for i, addr := range addrs {
		end := (i+1)*per - 1
		if i == len(addrs)-1 {
			end = HashSlots - 1
		}
		fc.ranges = append(fc.ranges, SlotRange{Start: i * per, End: end, Master: addr})
	}
}

func (fc *fakeCluster) setRanges(ranges ...SlotRange) {
	fc.mu.Lock()
	fc.ranges = ranges
	fc.mu.Unlock()
}

func (fc *fakeCluster) node(addr string) *fakeNode {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.nodes[addr]
}

// calls returns the number of times the node received cmd.
func (fc *fakeCluster) calls(addr, cmd string) int {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	var n int
	for _, c := range fc.nodes[addr].commands {
		if c == cmd {
			n++
		}
	}
	return n
}

func (fc *fakeCluster) dials(addr string) int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.nodes[addr].dials
}

func (fc *fakeCluster) dial(addr string, _ ...redis.DialOption) (redis.Conn, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	n := fc.nodes[addr]
	if n == nil {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	}
	n.dials++
	if n.dialErr != nil {
		return nil, n.dialErr
	}
	return &fakeConn{fc: fc, node: n}, nil
}

func (fc *fakeCluster) do(n *fakeNode, cmd string, args []string) (interface{}, error) {
	fc.mu.Lock()
	n.commands = append(n.commands, cmd)
	h := n.handler
	var slots []SlotRange
	isSlots := cmd == "CLUSTER" && len(args) > 0 && args[0] == "SLOTS"
	if isSlots {
		slots = append(slots, fc.ranges...)
	}
	slotsErr := n.slotsErr
	fc.mu.Unlock()

	if isSlots && slotsErr != nil {
		return nil, slotsErr
	}
	if slots != nil {
		return clusterSlotsReply(slots), nil
	}
	if h == nil {
		return "OK", nil
	}
	return h(cmd, args)
}

func clusterSlotsReply(ranges []SlotRange) []interface{} {
	reply := make([]interface{}, 0, len(ranges))
	for _, r := range ranges {
		host, port, _ := net.SplitHostPort(r.Master)
		nPort, _ := strconv.Atoi(port)
		reply = append(reply, []interface{}{
			int64(r.Start),
			int64(r.End),
			[]interface{}{[]byte(host), int64(nPort), []byte("id-" + port)},
			[]interface{}{[]byte(host), int64(nPort + 1000), []byte("replica-" + port)},
		})
	}
	return reply
}

// fakeConn is a redis.Conn on a fakeNode. A transport error returned by
// the node's handler breaks the connection, as with redigo.
type fakeConn struct {
	fc   *fakeCluster
	node *fakeNode
	err  error
}

func (c *fakeConn) Do(cmd string, args ...interface{}) (interface{}, error) {
	if c.err != nil {
		return nil, c.err
	}
	if cmd == "" {
		// sent by redis.Pool when a connection is returned to it
		return nil, nil
	}

	v, err := c.fc.do(c.node, cmd, argStrings(args))
	if isTransportErr(err) {
		c.err = err
	}
	return v, err
}

func (c *fakeConn) Close() error {
	if c.err == nil {
		c.err = errors.New("fake: use of closed connection")
	}
	return nil
}

func (c *fakeConn) Err() error { return c.err }
func (c *fakeConn) Send(string, ...interface{}) error { return errors.New("fake: Send not supported") }
func (c *fakeConn) Flush() error { return errors.New("fake: Flush not supported") }
func (c *fakeConn) Receive() (interface{}, error) { return nil, errors.New("fake: Receive not supported") }

// keyForSlot returns a key that hashes to slot.
func keyForSlot(t testing.TB, slot int) string {
	for i := 0; i < 1000000; i++ {
		k := fmt.Sprintf("key:%d", i)
		if Slot(k) == slot {
			return k
		}
	}
	t.Fatalf("no key found for slot %d", slot)
	return ""
}

func newFakeClient(t testing.TB, fc *fakeCluster, opts *Options, seeds ...string) *Client {
	if opts == nil {
		opts = &Options{}
	}
	opts.Dial = fc.dial
	c, err := New(seeds, opts)
	require.NoError(t, err, "New")
	t.Cleanup(func() { c.Close() })
	return c
}
