package rcluster

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRedir(t *testing.T) {
	cases := []struct {
		in  error
		out *RedirError
	}{
		{nil, nil},
		{io.EOF, nil},
		{redis.Error("ERR wrong number of arguments"), nil},
		{redis.Error("MOVED"), nil},
		{redis.Error("MOVED 1234"), nil},
		{redis.Error("MOVED x 127.0.0.1:7000"), nil},
		{redis.Error("MOVED 16384 127.0.0.1:7000"), nil},
		{redis.Error("MOVEDX 1 127.0.0.1:7000"), nil},
		{redis.Error("MOVED 1234 127.0.0.1:7001"), &RedirError{Type: "MOVED", NewSlot: 1234, Addr: "127.0.0.1:7001", raw: "MOVED 1234 127.0.0.1:7001"}},
		{redis.Error("ASK 0 10.0.0.1:6379"), &RedirError{Type: "ASK", NewSlot: 0, Addr: "10.0.0.1:6379", raw: "ASK 0 10.0.0.1:6379"}},
		{fmt.Errorf("wrapped: %w", redis.Error("ASK 16383 h:1")), &RedirError{Type: "ASK", NewSlot: 16383, Addr: "h:1", raw: "ASK 16383 h:1"}},
	}
	for _, c := range cases {
		got := ParseRedir(c.in)
		assert.Equal(t, c.out, got, "%v", c.in)
	}

	re := ParseRedir(redis.Error("MOVED 1 a:1"))
	require.NotNil(t, re)
	assert.Equal(t, "MOVED 1 a:1", re.Error())
}

func TestErrorHelpers(t *testing.T) {
	try := redis.Error("TRYAGAIN Multiple keys request during rehashing of slot")
	cross := redis.Error("CROSSSLOT Keys in request don't hash to the same slot")
	down := redis.Error("CLUSTERDOWN The cluster is down")

	assert.True(t, IsTryAgain(try))
	assert.True(t, IsTryAgain(fmt.Errorf("x: %w", try)))
	assert.False(t, IsTryAgain(cross))
	assert.False(t, IsTryAgain(nil))
	assert.True(t, IsCrossSlot(cross))
	assert.False(t, IsCrossSlot(errors.New("CROSSSLOT not a redis error")))
	assert.True(t, IsClusterDown(down))
	assert.False(t, IsClusterDown(try))

	assert.False(t, isTransportErr(nil))
	assert.False(t, isTransportErr(down))
	assert.True(t, isTransportErr(io.EOF))
	assert.True(t, isTransportErr(&ConnectivityError{Op: "dial", Err: io.EOF}))
}

func TestErrorMessages(t *testing.T) {
	ce := &ConnectivityError{Addr: "127.0.0.1:7000", Op: "GET", Err: io.EOF}
	assert.Equal(t, "rcluster: GET 127.0.0.1:7000: EOF", ce.Error())
	assert.ErrorIs(t, ce, io.EOF)

	ce = &ConnectivityError{Op: "discover", Err: io.EOF}
	assert.Equal(t, "rcluster: discover: EOF", ce.Error())

	re := &RoutingError{Command: "MSET", Reason: ReasonCrossSlot}
	assert.Equal(t, "rcluster: cannot route MSET: keys do not belong to the same slot", re.Error())
	assert.Equal(t, "unknown reason", RoutingReason(99).String())

	se := &SlotRangeError{First: 10, Last: 16384}
	assert.Equal(t, "rcluster: slot range [10, 16384] out of range", se.Error())
	assert.ErrorIs(t, se, ErrSlotOutOfRange)
}
