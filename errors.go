package rcluster

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gomodule/redigo/redis"
)

var (
	// ErrClosed is returned by all calls made on a closed Client.
	ErrClosed = errors.New("rcluster: closed")

	// ErrNoHosts is returned when no connection can be obtained because
	// no node address is known, not even a seed.
	ErrNoHosts = errors.New("rcluster: no hosts configured")

	// ErrTooManyRedirects is returned when a single call followed more
	// MOVED and ASK redirections than allowed by Options.MaxRedirects.
	ErrTooManyRedirects = errors.New("rcluster: too many redirections")

	// ErrSlotOutOfRange is returned when a slot range is invalid.
	ErrSlotOutOfRange = errors.New("rcluster: slot out of range")
)

// RedirError is a cluster redirection error.
type RedirError struct {
	// Type indicates if the redirection is a MOVED or an ASK.
	Type string
	// NewSlot is the slot number of the redirection.
	NewSlot int
	// Addr is the node address to redirect to.
	Addr string

	raw string
}

// Error returns the error message of a RedirError. This is the
// message as received from redis.
func (e *RedirError) Error() string {
	return e.raw
}

// ParseRedir parses err into a RedirError. If err is
// not a MOVED or ASK error or if it is nil, it returns nil.
func ParseRedir(err error) *RedirError {
	var re redis.Error
	if !errors.As(err, &re) {
		return nil
	}

	typ, rest, ok := strings.Cut(string(re), " ")
	if !ok || (typ != "MOVED" && typ != "ASK") {
		return nil
	}
	slot, addr, ok := strings.Cut(rest, " ")
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(slot)
	if err != nil || n < 0 || n >= HashSlots {
		return nil
	}
	return &RedirError{
		Type:    typ,
		NewSlot: n,
		Addr:    strings.TrimSpace(addr),
		raw:     string(re),
	}
}

// ConnectivityError is a transport failure (dial, write or read) on the
// connection to a node.
type ConnectivityError struct {
	Addr string
	Op   string
	Err  error
}

func (e *ConnectivityError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("rcluster: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("rcluster: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// RoutingReason indicates why a command could not be routed.
type RoutingReason int

// List of routing failure reasons.
const (
	ReasonUnknownCommand RoutingReason = iota // no key strategy registered
	ReasonCrossSlot                           // keys hash to different slots
	ReasonNoKey                               // no key found in the arguments
)

func (r RoutingReason) String() string {
	switch r {
	case ReasonUnknownCommand:
		return "unknown command"
	case ReasonCrossSlot:
		return "keys do not belong to the same slot"
	case ReasonNoKey:
		return "no key in arguments"
	default:
		return "unknown reason"
	}
}

// RoutingError is returned when a command cannot be routed to a node.
// It is a usage error and is never retried.
type RoutingError struct {
	Command string
	Reason  RoutingReason
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("rcluster: cannot route %s: %s", e.Command, e.Reason)
}

// SlotRangeError is returned when registering an invalid slot range.
type SlotRangeError struct {
	First, Last int
}

func (e *SlotRangeError) Error() string {
	return fmt.Sprintf("rcluster: slot range [%d, %d] out of range", e.First, e.Last)
}

func (e *SlotRangeError) Unwrap() error { return ErrSlotOutOfRange }

// IsTryAgain returns true if the error is a redis cluster
// error of type TRYAGAIN, meaning that the command is valid,
// but the cluster is in an unstable state and it can't complete
// the request at the moment.
func IsTryAgain(err error) bool {
	return hasErrPrefix(err, "TRYAGAIN")
}

// IsCrossSlot returns true if the error is a redis cluster
// error of type CROSSSLOT, meaning that a command was sent
// with keys from different slots.
func IsCrossSlot(err error) bool {
	return hasErrPrefix(err, "CROSSSLOT")
}

// IsClusterDown returns true if the error is a redis cluster error of type
// CLUSTERDOWN.
func IsClusterDown(err error) bool {
	return hasErrPrefix(err, "CLUSTERDOWN")
}

func hasErrPrefix(err error, prefix string) bool {
	var re redis.Error
	if errors.As(err, &re) {
		return strings.HasPrefix(string(re), prefix)
	}
	return false
}

// isTransportErr returns true if err is not an error reply from redis,
// meaning that the connection to the node is unusable.
func isTransportErr(err error) bool {
	if err == nil {
		return false
	}
	var re redis.Error
	return !errors.As(err, &re)
}
