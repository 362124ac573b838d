package rcluster

import (
	"errors"

	"github.com/gomodule/redigo/redis"
)

// Conn returns the client as a redis.Conn, so that it can be used with
// APIs that expect a connection, such as redis.Script. Only Do, Close and
// Err can be called on that connection, all other methods return an
// error. Do routes each command as Client.Do does, and Close does not
// close the client.
func (c *Client) Conn() redis.Conn {
	return &clientConn{c: c}
}

type clientConn struct {
	c      *Client
	closed bool
}

var errConnClosed = errors.New("rcluster: connection closed")

func (cc *clientConn) Do(cmd string, args ...interface{}) (interface{}, error) {
	if cc.closed {
		return nil, errConnClosed
	}
	if cmd == "" {
		// redigo uses an empty command to flush the pending ones
		return nil, nil
	}
	return cc.c.Do(cmd, args...)
}

func (cc *clientConn) Err() error {
	if cc.closed {
		return errConnClosed
	}
	cc.c.mu.Lock()
	defer cc.c.mu.Unlock()
	if cc.c.closed {
		return ErrClosed
	}
	return nil
}

func (cc *clientConn) Close() error {
	cc.closed = true
	return nil
}

func (cc *clientConn) Send(cmd string, args ...interface{}) error {
	return errors.New("rcluster: unsupported call to Send")
}

func (cc *clientConn) Receive() (interface{}, error) {
	return nil, errors.New("rcluster: unsupported call to Receive")
}

func (cc *clientConn) Flush() error {
	return errors.New("rcluster: unsupported call to Flush")
}
