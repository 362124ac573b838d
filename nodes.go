package rcluster

import (
	"errors"
	"fmt"
	"net"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"
)

// The methods in this file manage the connection pool of the client: at
// most one connection per node address. They must be called with c.mu
// held.

// getByID returns the pooled connection to addr, or nil. It never creates
// a connection.
func (c *Client) getByID(addr string) redis.Conn {
	return c.conns[addr]
}

func (c *Client) getOrCreate(addr string) (redis.Conn, error) {
	if conn := c.getByID(addr); conn != nil {
		return conn, nil
	}
	return c.create(addr)
}

// create connects to the node at addr and adds the connection to the pool.
// If no slot mapping is known yet, it is initialized by a discovery on the
// new connection.
func (c *Client) create(addr string) (redis.Conn, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("rcluster: invalid node address %q: %w", addr, err)
	}

	conn, err := c.dial(addr)
	if err != nil {
		c.opts.Metrics.connectionFailed()
		c.log.Warn("failed to connect to node", zap.String("addr", addr), zap.Error(err))
		return nil, &ConnectivityError{Addr: addr, Op: "dial", Err: err}
	}
	c.conns[addr] = conn
	c.opts.Metrics.connOpened()
	c.log.Debug("connected to node", zap.String("addr", addr))

	if c.mapped == 0 && !c.discovering {
		if err := c.discover(addr); err != nil {
			return nil, err
		}
		if conn = c.getByID(addr); conn == nil {
			// the discovery dropped it after a failure
			return nil, &ConnectivityError{Addr: addr, Op: "dial", Err: errConnDropped}
		}
	}
	return conn, nil
}

var errConnDropped = errors.New("connection dropped")

func (c *Client) dial(addr string) (redis.Conn, error) {
	if !c.opts.Persistent {
		return c.opts.Dial(addr, c.opts.dialOptions()...)
	}

	p, err := c.opts.persistentPool(addr)
	if err != nil {
		return nil, err
	}
	conn := p.Get()
	if err := conn.Err(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// guessNode returns the node that most likely holds slot when the slot
// mapping has no entry for it, by splitting the slots evenly between the
// known nodes (or the seeds if no node is known yet).
func (c *Client) guessNode(slot int) string {
	hosts := c.hosts
	if len(hosts) == 0 {
		hosts = c.seeds
	}
	if len(hosts) == 0 {
		return ""
	}

	band := HashSlots / len(hosts)
	if band == 0 {
		band = 1
	}
	ix := slot / band
	if ix >= len(hosts) {
		ix = len(hosts) - 1
	}
	return hosts[ix]
}

// randomConnection returns a random pooled connection. If the pool is
// empty, it connects to a random seed node.
func (c *Client) randomConnection() (string, redis.Conn, error) {
	if len(c.conns) > 0 {
		ix := c.rnd.Intn(len(c.conns))
		for addr, conn := range c.conns {
			if ix == 0 {
				return addr, conn, nil
			}
			ix--
		}
	}

	if len(c.seeds) == 0 {
		return "", nil, ErrNoHosts
	}

	var lastErr error
	for _, ix := range c.rnd.Perm(len(c.seeds)) {
		addr := c.seeds[ix]
		conn, err := c.create(addr)
		if err == nil {
			return addr, conn, nil
		}
		lastErr = err
	}
	return "", nil, lastErr
}

// remove closes the connection to addr and forgets about that node: it is
// removed from the pool, from the pinned slots and from the known nodes.
func (c *Client) remove(addr string) {
	if conn := c.conns[addr]; conn != nil {
		conn.Close()
		delete(c.conns, addr)
		c.opts.Metrics.connClosed()
	}
	for slot, a := range c.pinned {
		if a == addr {
			delete(c.pinned, slot)
		}
	}
	for i, h := range c.hosts {
		if h == addr {
			c.hosts = append(c.hosts[:i], c.hosts[i+1:]...)
			break
		}
	}
	c.log.Warn("removed node connection", zap.String("addr", addr))
}
