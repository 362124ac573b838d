package rcluster

import (
	"fmt"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"
)

// Default values of the Options.
const (
	DefaultConnectTimeout = time.Second
	DefaultReadTimeout    = time.Second
	DefaultRetryLimit     = 5
	DefaultMaxRedirects   = 16
)

// Options configures a Client. The zero value is valid, unset fields get
// their default value.
type Options struct {
	// ConnectTimeout is the timeout to establish a connection to a node.
	ConnectTimeout time.Duration
	// ReadTimeout is the timeout to read a reply from a node.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout to write a command to a node. It
	// defaults to ReadTimeout.
	WriteTimeout time.Duration

	// Persistent makes node connections outlive the Client: they are
	// obtained from a process-wide redis.Pool per node address and are
	// returned to it when the Client is closed, so that the next Client
	// created for the same nodes reuses them.
	//
	// Pools are shared by clients with the same password, client name and
	// timeouts. The Dial, DialOptions and CreatePool fields of the first
	// client that creates a pool apply to all clients that share it.
	Persistent bool

	// Password is sent with AUTH on each new connection, if set.
	Password string

	// ClientName is set with CLIENT SETNAME on each new connection, if set.
	ClientName string

	// RetryLimit is the maximum number of nodes tried by a discovery of
	// the cluster's topology before it fails.
	RetryLimit int

	// MaxRedirects is the maximum number of MOVED and ASK redirections
	// followed by a single call.
	MaxRedirects int

	// DialOptions is the list of additional options to set on each new
	// connection.
	DialOptions []redis.DialOption

	// Dial is the function to call to connect to a node at the specified
	// TCP address, using the provided options. It defaults to redis.Dial.
	Dial func(address string, options ...redis.DialOption) (redis.Conn, error)

	// CreatePool is the function to call to create the redis.Pool for
	// the specified TCP address when Persistent is set, using the
	// provided options.
	CreatePool func(address string, options ...redis.DialOption) (*redis.Pool, error)

	// Logger is the logger of the client. It defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics, if set, records the activity of the client.
	Metrics *Metrics
}

func (o *Options) withDefaults() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = opts.ReadTimeout
	}
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = DefaultRetryLimit
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dial == nil {
		opts.Dial = dialTCP
	}
	return opts
}

func (o *Options) dialOptions() []redis.DialOption {
	opts := []redis.DialOption{
		redis.DialConnectTimeout(o.ConnectTimeout),
		redis.DialReadTimeout(o.ReadTimeout),
		redis.DialWriteTimeout(o.WriteTimeout),
	}
	if o.Password != "" {
		opts = append(opts, redis.DialPassword(o.Password))
	}
	if o.ClientName != "" {
		opts = append(opts, redis.DialClientName(o.ClientName))
	}
	return append(opts, o.DialOptions...)
}

func dialTCP(addr string, opts ...redis.DialOption) (redis.Conn, error) {
	return redis.Dial("tcp", addr, opts...)
}

// persistent holds the process-wide pools of persistent connections,
// keyed by address and credentials.
var persistent = struct {
	sync.Mutex
	pools map[string]*redis.Pool
}{pools: make(map[string]*redis.Pool)}

func (o *Options) persistentPool(addr string) (*redis.Pool, error) {
	key := fmt.Sprintf("%s\x00%s\x00%s\x00%d\x00%d\x00%d",
		addr, o.Password, o.ClientName, o.ConnectTimeout, o.ReadTimeout, o.WriteTimeout)

	persistent.Lock()
	defer persistent.Unlock()

	if p := persistent.pools[key]; p != nil {
		return p, nil
	}

	create := o.CreatePool
	if create == nil {
		dial := o.Dial
		create = func(addr string, opts ...redis.DialOption) (*redis.Pool, error) {
			return newPersistentPool(addr, dial, opts...), nil
		}
	}
	p, err := create(addr, o.dialOptions()...)
	if err != nil {
		return nil, err
	}
	persistent.pools[key] = p
	return p, nil
}

func newPersistentPool(addr string, dial func(string, ...redis.DialOption) (redis.Conn, error), opts ...redis.DialOption) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 5 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return dial(addr, opts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// ClosePersistent closes all the persistent connections created by
// clients with the Persistent option set. It should be called once no
// such client is in use anymore, typically when the process exits.
func ClosePersistent() error {
	persistent.Lock()
	defer persistent.Unlock()

	var err error
	for k, p := range persistent.pools {
		if e := p.Close(); e != nil && err == nil {
			err = e
		}
		delete(persistent.pools, k)
	}
	return err
}
