package redistest

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/redcon"
)

// Error is an error reply of the mock server.
type Error string

// Array is an array reply of the mock server.
type Array []interface{}

type closeConn struct{}

// CloseConn, returned by a handler, makes the mock server close the client
// connection instead of replying, which the client sees as a transport
// failure.
var CloseConn interface{} = closeConn{}

// Handler returns the reply to a command received by a MockServer. The
// command name is uppercased. Supported replies are nil, string (simple
// string), []byte (bulk string), int, int64, Error, Array and CloseConn.
type Handler func(cmd string, args ...string) interface{}

// MockServer is a mock redis server.
type MockServer struct {
	Addr string

	t    testing.TB
	srv  *redcon.Server
	done chan struct{}
	h    Handler

	mu    sync.Mutex
	calls map[string]int
}

// StartMockServer creates and starts a mock redis server. The handler is
// called for each command received by the server. The returned value is
// encoded in the redis protocol and sent to the client. The caller should close
// the server after use.
func StartMockServer(t testing.TB, handler Handler) *MockServer {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "net.Listen")

	s := &MockServer{
		Addr:  l.Addr().String(),
		t:     t,
		done:  make(chan struct{}),
		h:     handler,
		calls: make(map[string]int),
	}
	s.srv = redcon.NewServer(s.Addr, s.handle,
		func(redcon.Conn) bool { return true },
		func(redcon.Conn, error) {},
	)
	go func() {
		defer close(s.done)
		_ = s.srv.Serve(l)
	}()
	return s
}

// Calls returns the number of times the command was received.
func (s *MockServer) Calls(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[strings.ToUpper(cmd)]
}

// Close closes the mock redis server.
func (s *MockServer) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	require.NoError(s.t, s.srv.Close(), "Close server")
	<-s.done
}

func (s *MockServer) handle(conn redcon.Conn, cmd redcon.Command) {
	name := strings.ToUpper(string(cmd.Args[0]))
	args := make([]string, len(cmd.Args)-1)
	for i, a := range cmd.Args[1:] {
		args[i] = string(a)
	}

	s.mu.Lock()
	s.calls[name]++
	s.mu.Unlock()

	v := s.h(name, args...)
	if _, ok := v.(closeConn); ok {
		conn.Close()
		return
	}
	writeValue(conn, v)
}

func writeValue(conn redcon.Conn, v interface{}) {
	switch v := v.(type) {
	case nil:
		conn.WriteNull()
	case Error:
		conn.WriteError(string(v))
	case string:
		conn.WriteString(v)
	case []byte:
		conn.WriteBulk(v)
	case int:
		conn.WriteInt(v)
	case int64:
		conn.WriteInt64(v)
	case Array:
		conn.WriteArray(len(v))
		for _, vv := range v {
			writeValue(conn, vv)
		}
	default:
		conn.WriteError("ERR unsupported mock reply type")
	}
}

// SlotRange is a range of slots served by the node at Addr, used to build
// a CLUSTER SLOTS reply.
type SlotRange struct {
	Start, End int
	Addr       string
}

// ClusterSlots returns the reply of CLUSTER SLOTS for the ranges.
func ClusterSlots(ranges ...SlotRange) Array {
	reply := make(Array, 0, len(ranges))
	for _, r := range ranges {
		host, port, _ := net.SplitHostPort(r.Addr)
		nPort, _ := strconv.Atoi(port)
		reply = append(reply, Array{
			int64(r.Start),
			int64(r.End),
			Array{[]byte(host), int64(nPort), []byte("node-" + port)},
		})
	}
	return reply
}
