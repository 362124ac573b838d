package rcluster

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"
)

// SlotRange is a contiguous range of slots served by the same master node.
type SlotRange struct {
	Start, End int
	Master     string
}

// registerRange maps the slots first to last inclusively to the node at
// addr, and adds that node to the known nodes. It must be called with c.mu
// held.
func (c *Client) registerRange(first, last int, addr string) error {
	if first < 0 || last >= HashSlots || first > last {
		return &SlotRangeError{First: first, Last: last}
	}

	if !c.isHost(addr) {
		c.hosts = append(c.hosts, addr)
	}
	for ix := first; ix <= last; ix++ {
		if c.mapping[ix] == "" {
			c.mapped++
		}
		c.mapping[ix] = addr
	}
	return nil
}

func (c *Client) isHost(addr string) bool {
	for _, h := range c.hosts {
		if h == addr {
			return true
		}
	}
	return false
}

// discover updates the slot mapping with the topology returned by CLUSTER
// SLOTS. The command is sent to the node at seed if it is not empty, or to
// a random node otherwise. When a node fails, its connection is dropped and
// another random node is tried, up to RetryLimit nodes. It must be called
// with c.mu held.
func (c *Client) discover(seed string) error {
	c.discovering = true
	defer func() { c.discovering = false }()

	err := c.discoverLocked(seed)
	c.opts.Metrics.discovery(err)
	if err == nil {
		c.discoveries++
	}
	return err
}

func (c *Client) discoverLocked(seed string) error {
	var lastErr error

	addr := seed
	for attempt := 0; attempt < c.opts.RetryLimit; attempt++ {
		var (
			conn redis.Conn
			err  error
		)
		if addr != "" {
			conn, err = c.getOrCreate(addr)
		} else {
			addr, conn, err = c.randomConnection()
		}
		if err != nil {
			var ce *ConnectivityError
			if !errors.As(err, &ce) {
				return err
			}
			lastErr = err
			addr = ""
			continue
		}

		reply, err := conn.Do("CLUSTER", "SLOTS")
		if err != nil {
			if isTransportErr(err) {
				lastErr = c.failed(addr, "CLUSTER SLOTS", err)
				addr = ""
				continue
			}
			return fmt.Errorf("rcluster: CLUSTER SLOTS on %s: %w", addr, err)
		}

		ranges, err := parseClusterSlots(reply, addr)
		if err != nil {
			return fmt.Errorf("rcluster: CLUSTER SLOTS on %s: %w", addr, err)
		}
		if err := c.applySlots(ranges); err != nil {
			return err
		}
		c.log.Info("discovered cluster topology",
			zap.String("addr", addr),
			zap.Int("nodes", len(c.hosts)),
			zap.Int("slots", c.mapped))
		return nil
	}
	return &ConnectivityError{Op: "discover", Err: fmt.Errorf("%d attempts failed: %w", c.opts.RetryLimit, lastErr)}
}

// applySlots replaces the slot mapping and known nodes with ranges. Pinned
// slots that point to a node that is not part of the cluster anymore are
// dropped.
func (c *Client) applySlots(ranges []SlotRange) error {
	for _, r := range ranges {
		if r.Start < 0 || r.End >= HashSlots || r.Start > r.End {
			return &SlotRangeError{First: r.Start, Last: r.End}
		}
	}

	c.hosts = c.hosts[:0]
	c.mapping = [HashSlots]string{}
	c.mapped = 0
	for _, r := range ranges {
		if err := c.registerRange(r.Start, r.End, r.Master); err != nil {
			return err
		}
	}

	for slot, addr := range c.pinned {
		if !c.isHost(addr) {
			delete(c.pinned, slot)
		}
	}
	return nil
}

// parseClusterSlots parses the reply of CLUSTER SLOTS received from the
// node at addr. Only the master of each range is kept, replicas are
// ignored.
func parseClusterSlots(reply interface{}, addr string) ([]SlotRange, error) {
	vals, err := redis.Values(reply, nil)
	if err != nil {
		return nil, err
	}

	ranges := make([]SlotRange, 0, len(vals))
	for len(vals) > 0 {
		var slotRange []interface{}
		vals, err = redis.Scan(vals, &slotRange)
		if err != nil {
			return nil, err
		}

		var start, end int
		var master []interface{}
		if _, err = redis.Scan(slotRange, &start, &end, &master); err != nil {
			return nil, err
		}

		var host string
		var port int
		if _, err = redis.Scan(master, &host, &port); err != nil {
			return nil, err
		}
		if host == "" {
			// an empty host means the node that replied
			host, _, _ = net.SplitHostPort(addr)
		}

		ranges = append(ranges, SlotRange{
			Start:  start,
			End:    end,
			Master: net.JoinHostPort(host, strconv.Itoa(port)),
		})
	}
	return ranges, nil
}

// slotRanges returns the current slot mapping as contiguous ranges, in
// slot order. Unmapped slots are skipped. It must be called with c.mu
// held.
func (c *Client) slotRanges() []SlotRange {
	var ranges []SlotRange
	for ix := 0; ix < HashSlots; ix++ {
		addr := c.mapping[ix]
		if addr == "" {
			continue
		}
		if n := len(ranges); n > 0 && ranges[n-1].Master == addr && ranges[n-1].End == ix-1 {
			ranges[n-1].End = ix
			continue
		}
		ranges = append(ranges, SlotRange{Start: ix, End: ix, Master: addr})
	}
	return ranges
}
