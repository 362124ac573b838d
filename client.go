package rcluster

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"
)

// Client executes commands on a redis cluster. It keeps track of the
// cluster's topology, routes each command to the master node that holds
// the slot of its keys and transparently follows MOVED and ASK
// redirections.
//
// A Client is safe for concurrent use, but calls are serialized: a single
// command, including its redirections and retry, is in flight at any time.
type Client struct {
	seeds []string
	opts  Options
	log   *zap.Logger

	mu          sync.Mutex
	closed      bool
	rnd         *rand.Rand
	conns       map[string]redis.Conn // node address to connection
	pinned      map[int]string        // slot to node address, set by MOVED
	hosts       []string              // known master nodes
	mapping     [HashSlots]string     // slot to master node address
	mapped      int                   // number of slots with an entry in mapping
	discovering bool
	discoveries int
	redirects   int
}

// New creates a client for the cluster that contains the seed nodes. The
// seeds are expected as "address:port" (e.g.: "10.0.0.1:6379"). No
// connection is made until the first command is executed or Refresh is
// called.
func New(seeds []string, opts *Options) (*Client, error) {
	if len(seeds) == 0 {
		return nil, ErrNoHosts
	}
	for _, s := range seeds {
		if _, _, err := net.SplitHostPort(s); err != nil {
			return nil, fmt.Errorf("rcluster: invalid seed address %q: %w", s, err)
		}
	}

	o := opts.withDefaults()
	return &Client{
		seeds:  append([]string(nil), seeds...),
		opts:   o,
		log:    o.Logger.With(zap.String("component", "rcluster")),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		conns:  make(map[string]redis.Conn),
		pinned: make(map[int]string),
	}, nil
}

// Do executes the command on the node that holds the slot of its keys.
// The command name is case-insensitive, and must be registered with a key
// strategy (see RegisterCommand), otherwise a *RoutingError is returned.
// Nested argument lists are flattened, so that those calls are
// equivalent:
//
//	c.Do("MSET", "a", 1, "b", 2)
//	c.Do("MSET", []interface{}{"a", 1}, redis.Args{"b", 2})
//
// Redirections are followed automatically. A transport failure triggers a
// refresh of the slot mapping and a single retry, a second failure is
// returned as a *ConnectivityError. Error replies from redis are returned
// unchanged, as redis.Error.
func (c *Client) Do(cmd string, args ...interface{}) (interface{}, error) {
	return c.DoContext(context.Background(), cmd, args...)
}

// DoContext is like Do, but the context bounds the whole call, including
// redirections and retry.
func (c *Client) DoContext(ctx context.Context, cmd string, args ...interface{}) (interface{}, error) {
	name := strings.ToUpper(cmd)
	flat := flattenArgs(args)
	key, err := commandKey(name, flat)
	if err != nil {
		c.opts.Metrics.command(err)
		return nil, err
	}
	return c.exec(ctx, &call{slot: Slot(key), cmd: name, args: flat})
}

// DoKey executes the command on the node that holds the slot of key,
// regardless of the command's arguments. It can be used for commands that
// have no registered key strategy.
func (c *Client) DoKey(key, cmd string, args ...interface{}) (interface{}, error) {
	return c.exec(context.Background(), &call{slot: Slot(key), cmd: strings.ToUpper(cmd), args: flattenArgs(args)})
}

// DoRandom executes the command on a random node. It is meant for commands
// that do not access keys, such as PING or EVAL with no key.
func (c *Client) DoRandom(cmd string, args ...interface{}) (interface{}, error) {
	return c.exec(context.Background(), &call{slot: -1, cmd: strings.ToUpper(cmd), args: flattenArgs(args)})
}

// Cmd returns a function that executes the command name via Do.
//
//	get := c.Cmd("GET")
//	v, err := get("key")
func (c *Client) Cmd(name string) func(args ...interface{}) (interface{}, error) {
	return func(args ...interface{}) (interface{}, error) {
		return c.Do(name, args...)
	}
}

// call is the state of a single logical call.
type call struct {
	slot int // -1 for a random node
	cmd  string
	args []interface{}

	ask     string // node to send to with ASKING, for the next attempt
	retried bool   // refreshed and retried after a transport failure
	hops    int    // redirections followed
}

func (c *Client) exec(ctx context.Context, cl *call) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	v, err := c.run(ctx, cl)
	c.opts.Metrics.command(err)
	return v, err
}

// run executes the call, following redirections and retrying once after a
// transport failure. It must be called with c.mu held.
func (c *Client) run(ctx context.Context, cl *call) (interface{}, error) {
	if c.mapped == 0 && cl.slot >= 0 {
		if err := c.discover(""); err != nil {
			return nil, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		v, err := c.send(ctx, cl)
		if err == nil {
			return v, nil
		}

		var ce *ConnectivityError
		if errors.As(err, &ce) {
			if cl.retried || ctx.Err() != nil {
				return nil, err
			}
			cl.retried = true
			cl.ask = ""
			if err := c.discover(""); err != nil {
				return nil, err
			}
			continue
		}

		re := ParseRedir(err)
		if re == nil {
			return nil, err
		}
		cl.hops++
		if cl.hops > c.opts.MaxRedirects {
			return nil, fmt.Errorf("%w: %w", ErrTooManyRedirects, re)
		}
		c.redirects++
		c.opts.Metrics.redirect(re.Type)
		c.log.Debug("redirected",
			zap.String("type", re.Type),
			zap.Int("slot", re.NewSlot),
			zap.String("addr", re.Addr),
			zap.String("cmd", cl.cmd))

		switch re.Type {
		case "MOVED":
			if err := c.discover(re.Addr); err != nil {
				return nil, err
			}
			c.pinned[re.NewSlot] = re.Addr
			cl.ask = ""
		case "ASK":
			cl.ask = re.Addr
		}
	}
}

// send makes a single attempt at executing the call on the node selected
// for it. A transport failure drops the connection to that node and is
// returned as a *ConnectivityError.
func (c *Client) send(ctx context.Context, cl *call) (interface{}, error) {
	addr, conn, err := c.connFor(cl)
	if err != nil {
		return nil, err
	}

	if cl.ask != "" {
		cl.ask = ""
		if _, err := doConn(ctx, conn, "ASKING"); err != nil {
			return nil, c.failed(addr, "ASKING", err)
		}
	}

	v, err := doConn(ctx, conn, cl.cmd, cl.args...)
	if err != nil {
		return nil, c.failed(addr, cl.cmd, err)
	}
	return v, nil
}

// connFor returns the connection to use for the next attempt of the call.
func (c *Client) connFor(cl *call) (string, redis.Conn, error) {
	if cl.ask != "" {
		conn, err := c.getOrCreate(cl.ask)
		return cl.ask, conn, err
	}
	if cl.slot < 0 {
		return c.randomConnection()
	}

	addr, ok := c.pinned[cl.slot]
	if !ok {
		addr = c.mapping[cl.slot]
	}
	if addr == "" {
		addr = c.guessNode(cl.slot)
	}
	if addr == "" {
		return "", nil, ErrNoHosts
	}
	conn, err := c.getOrCreate(addr)
	return addr, conn, err
}

// failed handles an error returned by the node at addr. If it is a
// transport failure, the connection is removed and the error is returned
// as a *ConnectivityError, otherwise it is returned unchanged.
func (c *Client) failed(addr, op string, err error) error {
	if !isTransportErr(err) {
		return err
	}
	c.log.Warn("node connection failed", zap.String("addr", addr), zap.String("op", op), zap.Error(err))
	c.opts.Metrics.connectionFailed()
	c.remove(addr)
	return &ConnectivityError{Addr: addr, Op: op, Err: err}
}

func doConn(ctx context.Context, conn redis.Conn, cmd string, args ...interface{}) (interface{}, error) {
	if ctx.Done() != nil {
		if cwc, ok := conn.(redis.ConnWithContext); ok {
			return cwc.DoContext(ctx, cmd, args...)
		}
	}
	return conn.Do(cmd, args...)
}

// FanOut executes the command on every master node of the cluster. Each
// node must reply with OK, the first node that fails aborts the call and
// its error is returned.
func (c *Client) FanOut(cmd string, args ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.mapped == 0 {
		if err := c.discover(""); err != nil {
			return err
		}
	}

	addrs := append([]string(nil), c.hosts...)
	if len(addrs) == 0 {
		addrs = append(addrs, c.seeds...)
	}

	cmd = strings.ToUpper(cmd)
	flat := flattenArgs(args)
	for _, addr := range addrs {
		conn, err := c.getOrCreate(addr)
		if err != nil {
			return fmt.Errorf("rcluster: %s on %s: %w", cmd, addr, err)
		}
		v, err := conn.Do(cmd, flat...)
		if err != nil {
			return fmt.Errorf("rcluster: %s on %s: %w", cmd, addr, c.failed(addr, cmd, err))
		}
		if s, ok := v.(string); !ok || s != "OK" {
			return fmt.Errorf("rcluster: %s on %s: unexpected reply %#v", cmd, addr, v)
		}
	}
	return nil
}

// FlushAll removes all keys from all master nodes.
func (c *Client) FlushAll() error {
	return c.FanOut("FLUSHALL")
}

// FlushDB removes all keys of the current database from all master nodes.
func (c *Client) FlushDB() error {
	return c.FanOut("FLUSHDB")
}

// Refresh updates the client's mapping of hash slots to master nodes by
// calling CLUSTER SLOTS on a known node. It is not required to call it,
// the mapping is loaded on first use and kept up-to-date automatically,
// but it can be called after New to detect configuration errors early.
func (c *Client) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	return c.discover("")
}

// Stats describes the state of a Client.
type Stats struct {
	Nodes       []string    // known master nodes
	Connections int         // open node connections
	MappedSlots int         // slots with a known master
	PinnedSlots int         // slots pinned by a MOVED redirection
	Discoveries int         // successful topology discoveries
	Redirects   int         // redirections followed
	Slots       []SlotRange // the slot mapping
}

// Stats returns the current state of the client.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Nodes:       append([]string(nil), c.hosts...),
		Connections: len(c.conns),
		MappedSlots: c.mapped,
		PinnedSlots: len(c.pinned),
		Discoveries: c.discoveries,
		Redirects:   c.redirects,
		Slots:       c.slotRanges(),
	}
}

// Close releases the resources used by the client. It closes all its node
// connections, or returns them to their pool if the client is
// persistent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.closed = true

	var err error
	for addr, conn := range c.conns {
		if e := conn.Close(); e != nil && err == nil {
			err = e
		}
		delete(c.conns, addr)
		c.opts.Metrics.connClosed()
	}
	for slot := range c.pinned {
		delete(c.pinned, slot)
	}
	return err
}
