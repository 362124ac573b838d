package rcluster

import (
	"strconv"
	"strings"
	"sync"
)

// KeyStrategy describes where the keys of a command are located in its
// arguments. The first key found is used to route the command, all other
// keys must belong to the same hash slot.
type KeyStrategy int

// List of key strategies.
const (
	// KeyFirst: the key is the first argument (GET key).
	KeyFirst KeyStrategy = iota + 1
	// KeyAll: all arguments are keys (MGET key [key ...]).
	KeyAll
	// KeyInterleaved: keys are at even positions (MSET key value [key value ...]).
	KeyInterleaved
	// KeyBitOp: the first argument is the operation, then destination and
	// source keys (BITOP op destkey key [key ...]).
	KeyBitOp
	// KeyZSetAggregate: destination, key count and source keys
	// (ZUNIONSTORE destination numkeys key [key ...] [options]).
	KeyZSetAggregate
	// KeyNumKeys: key count first, then the keys
	// (ZUNION numkeys key [key ...] [options]).
	KeyNumKeys
	// KeyScript: script or sha, key count and keys
	// (EVAL script numkeys key [key ...] arg [arg ...]).
	KeyScript
	// KeyGeoRadius: the key is the first argument, an optional STORE or
	// STOREDIST option names another key (GEORADIUS ... [STORE key]).
	KeyGeoRadius
	// KeySort: the key is the first argument, an optional STORE option
	// names another key (SORT key ... [STORE destination]).
	KeySort
	// KeyBlockingList: all arguments but the trailing timeout are keys
	// (BLPOP key [key ...] timeout).
	KeyBlockingList
	// KeyPair: the first two arguments are keys
	// (LMOVE source destination LEFT RIGHT).
	KeyPair
	// KeyBlockingNumKeys: timeout and key count first, then the keys
	// (BLMPOP timeout numkeys key [key ...] LEFT|RIGHT).
	KeyBlockingNumKeys
	// KeyStreams: the keys are the first half of the arguments that follow
	// the STREAMS option (XREAD [options] STREAMS key [key ...] id [id ...]).
	KeyStreams
)

type keyFunc func(cmd string, args []string) []string

var keyFuncs = map[KeyStrategy]keyFunc{
	KeyFirst:           firstKey,
	KeyAll:             allKeys,
	KeyInterleaved:     interleavedKeys,
	KeyBitOp:           bitOpKeys,
	KeyZSetAggregate:   zsetAggregateKeys,
	KeyNumKeys:         numKeysFirst,
	KeyScript:          scriptKeys,
	KeyGeoRadius:       geoRadiusKeys,
	KeySort:            sortKeys,
	KeyBlockingList:    blockingListKeys,
	KeyPair:            pairKeys,
	KeyBlockingNumKeys: blockingNumKeys,
	KeyStreams:         streamsKeys,
}

var commands = struct {
	sync.RWMutex
	m map[string]KeyStrategy
}{m: make(map[string]KeyStrategy)}

// RegisterCommand registers the key strategy for the command name, which
// is case-insensitive. It replaces any existing registration. It is
// typically called at initialization time, to support commands of redis
// modules. It panics if the strategy is invalid.
func RegisterCommand(name string, strategy KeyStrategy) {
	if _, ok := keyFuncs[strategy]; !ok {
		panic("rcluster: invalid key strategy for command " + name)
	}
	commands.Lock()
	commands.m[strings.ToUpper(name)] = strategy
	commands.Unlock()
}

// IsRegistered returns true if a key strategy is registered for the
// command name.
func IsRegistered(name string) bool {
	_, ok := lookupCommand(strings.ToUpper(name))
	return ok
}

func lookupCommand(name string) (KeyStrategy, bool) {
	commands.RLock()
	s, ok := commands.m[name]
	commands.RUnlock()
	return s, ok
}

// commandKey returns the routing key of the command, which must already
// be uppercased, for the flattened args. All keys of the command must
// belong to the same slot.
func commandKey(cmd string, args []interface{}) (string, error) {
	strategy, ok := lookupCommand(cmd)
	if !ok {
		return "", &RoutingError{Command: cmd, Reason: ReasonUnknownCommand}
	}

	keys := keyFuncs[strategy](cmd, argStrings(args))
	if len(keys) == 0 {
		return "", &RoutingError{Command: cmd, Reason: ReasonNoKey}
	}
	if !sameSlot(keys) {
		return "", &RoutingError{Command: cmd, Reason: ReasonCrossSlot}
	}
	return keys[0], nil
}

func sameSlot(keys []string) bool {
	slot := Slot(keys[0])
	for _, k := range keys[1:] {
		if Slot(k) != slot {
			return false
		}
	}
	return true
}

func firstKey(_ string, args []string) []string {
	if len(args) == 0 {
		return nil
	}
	return args[:1]
}

func allKeys(_ string, args []string) []string {
	return args
}

func interleavedKeys(_ string, args []string) []string {
	if len(args) == 0 || len(args)%2 != 0 {
		return nil
	}
	keys := make([]string, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		keys = append(keys, args[i])
	}
	return keys
}

func bitOpKeys(_ string, args []string) []string {
	if len(args) < 3 {
		return nil
	}
	return args[1:]
}

// numKeys returns the keys announced by the key count at args[ix].
func numKeys(args []string, ix int) []string {
	if len(args) <= ix {
		return nil
	}
	n, err := strconv.Atoi(args[ix])
	if err != nil || n <= 0 || len(args) < ix+1+n {
		return nil
	}
	return args[ix+1 : ix+1+n]
}

func zsetAggregateKeys(_ string, args []string) []string {
	srcs := numKeys(args, 1)
	if len(srcs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(srcs)+1)
	keys = append(keys, args[0])
	return append(keys, srcs...)
}

func numKeysFirst(_ string, args []string) []string {
	return numKeys(args, 0)
}

func scriptKeys(_ string, args []string) []string {
	return numKeys(args, 1)
}

func geoRadiusKeys(cmd string, args []string) []string {
	// options start after "key longitude latitude radius unit", or after
	// "key member radius unit" for the BYMEMBER variants.
	start := 5
	if strings.HasSuffix(cmd, "BYMEMBER") {
		start = 4
	}
	if len(args) < start {
		return nil
	}

	keys := []string{args[0]}
	for i := start; i < len(args)-1; i++ {
		if opt := strings.ToUpper(args[i]); opt == "STORE" || opt == "STOREDIST" {
			keys = append(keys, args[i+1])
			i++
		}
	}
	return keys
}

func sortKeys(_ string, args []string) []string {
	if len(args) == 0 {
		return nil
	}
	keys := []string{args[0]}
	for i := 1; i < len(args)-1; i++ {
		if strings.ToUpper(args[i]) == "STORE" {
			keys = append(keys, args[i+1])
			i++
		}
	}
	return keys
}

func blockingListKeys(_ string, args []string) []string {
	if len(args) < 2 {
		return nil
	}
	return args[:len(args)-1]
}

func pairKeys(_ string, args []string) []string {
	if len(args) < 2 {
		return nil
	}
	return args[:2]
}

func blockingNumKeys(_ string, args []string) []string {
	return numKeys(args, 1)
}

func streamsKeys(cmd string, args []string) []string {
	start := 0
	if cmd == "XREADGROUP" && len(args) >= 3 && strings.ToUpper(args[0]) == "GROUP" {
		// group and consumer names are not options
		start = 3
	}
	for i := start; i < len(args); i++ {
		if strings.ToUpper(args[i]) != "STREAMS" {
			continue
		}
		rest := args[i+1:]
		if len(rest) == 0 || len(rest)%2 != 0 {
			return nil
		}
		return rest[:len(rest)/2]
	}
	return nil
}

func init() {
	register := func(strategy KeyStrategy, names ...string) {
		for _, name := range names {
			commands.m[name] = strategy
		}
	}

	register(KeyFirst,
		// keys
		"DUMP", "EXPIRE", "EXPIREAT", "EXPIRETIME", "MOVE", "PERSIST", "PEXPIRE",
		"PEXPIREAT", "PEXPIRETIME", "PTTL", "RESTORE", "TTL", "TYPE",

		// strings
		"APPEND", "DECR", "DECRBY", "GET", "GETDEL", "GETEX", "GETRANGE",
		"GETSET", "INCR", "INCRBY", "INCRBYFLOAT", "PSETEX", "SET", "SETEX",
		"SETNX", "SETRANGE", "STRLEN", "SUBSTR",

		// bits
		"BITCOUNT", "BITFIELD", "BITFIELD_RO", "BITPOS", "GETBIT", "SETBIT",

		// lists
		"LINDEX", "LINSERT", "LLEN", "LPOP", "LPOS", "LPUSH", "LPUSHX",
		"LRANGE", "LREM", "LSET", "LTRIM", "RPOP", "RPUSH", "RPUSHX",

		// sets
		"SADD", "SCARD", "SISMEMBER", "SMEMBERS", "SMISMEMBER", "SPOP",
		"SRANDMEMBER", "SREM", "SSCAN",

		// sorted sets
		"ZADD", "ZCARD", "ZCOUNT", "ZINCRBY", "ZLEXCOUNT", "ZMSCORE",
		"ZPOPMAX", "ZPOPMIN", "ZRANDMEMBER", "ZRANGE", "ZRANGEBYLEX",
		"ZRANGEBYSCORE", "ZRANK", "ZREM", "ZREMRANGEBYLEX", "ZREMRANGEBYRANK",
		"ZREMRANGEBYSCORE", "ZREVRANGE", "ZREVRANGEBYLEX", "ZREVRANGEBYSCORE",
		"ZREVRANK", "ZSCAN", "ZSCORE",

		// hashes
		"HDEL", "HEXISTS", "HGET", "HGETALL", "HINCRBY", "HINCRBYFLOAT",
		"HKEYS", "HLEN", "HMGET", "HMSET", "HRANDFIELD", "HSCAN", "HSET",
		"HSETNX", "HSTRLEN", "HVALS",

		// geo
		"GEOADD", "GEODIST", "GEOHASH", "GEOPOS", "GEOSEARCH",
		"GEORADIUS_RO", "GEORADIUSBYMEMBER_RO",

		// streams
		"XACK", "XADD", "XAUTOCLAIM", "XCLAIM", "XDEL", "XLEN", "XPENDING",
		"XRANGE", "XREVRANGE", "XTRIM", "XSETID",

		// hyperloglog
		"PFADD",
	)

	register(KeyAll,
		"DEL", "EXISTS", "TOUCH", "UNLINK", "RENAME", "RENAMENX", "MGET",
		"RPOPLPUSH", "SDIFF", "SDIFFSTORE", "SINTER",
		"SINTERSTORE", "SUNION", "SUNIONSTORE", "PFCOUNT", "PFMERGE", "WATCH",
	)

	register(KeyInterleaved, "MSET", "MSETNX")
	register(KeyBitOp, "BITOP")
	register(KeyZSetAggregate, "ZUNIONSTORE", "ZINTERSTORE", "ZDIFFSTORE")
	register(KeyNumKeys, "ZUNION", "ZINTER", "ZDIFF", "ZINTERCARD", "SINTERCARD", "LMPOP", "ZMPOP")
	register(KeyScript, "EVAL", "EVALSHA", "EVAL_RO", "EVALSHA_RO", "FCALL", "FCALL_RO")
	register(KeyGeoRadius, "GEORADIUS", "GEORADIUSBYMEMBER")
	register(KeySort, "SORT", "SORT_RO")
	register(KeyBlockingList, "BLPOP", "BRPOP", "BRPOPLPUSH", "BZPOPMIN", "BZPOPMAX")
	register(KeyPair, "COPY", "LMOVE", "BLMOVE", "SMOVE", "ZRANGESTORE", "GEOSEARCHSTORE")
	register(KeyBlockingNumKeys, "BLMPOP", "BZMPOP")
	register(KeyStreams, "XREAD", "XREADGROUP")
}
