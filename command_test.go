package rcluster

import (
	"testing"

	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCommandKey(t *testing.T) {
	cases := []struct {
		cmd  string
		args []interface{}
		key  string
	}{
		{"GET", []interface{}{"k"}, "k"},
		{"SET", []interface{}{"k", "v", "EX", 10}, "k"},
		{"HSET", []interface{}{"h", "f", 1}, "h"},
		{"MGET", []interface{}{"{u}a", "{u}b", "{u}c"}, "{u}a"},
		{"DEL", []interface{}{"x"}, "x"},
		{"MSET", []interface{}{"{u}a", 1, "{u}b", 2}, "{u}a"},
		{"MSET", []interface{}{"{u}a", "{x}v", "{u}b", "{y}w"}, "{u}a"},
		{"BITOP", []interface{}{"AND", "{u}dst", "{u}a", "{u}b"}, "{u}dst"},
		{"ZUNIONSTORE", []interface{}{"{z}dst", 2, "{z}a", "{z}b", "WEIGHTS", 1, 2}, "{z}dst"},
		{"ZUNION", []interface{}{2, "{z}a", "{z}b", "WITHSCORES"}, "{z}a"},
		{"LMPOP", []interface{}{1, "l", "LEFT"}, "l"},
		{"EVAL", []interface{}{"return 1", 2, "{s}a", "{s}b", "arg"}, "{s}a"},
		{"EVALSHA", []interface{}{"abc", 1, "k", "x", "y"}, "k"},
		{"FCALL", []interface{}{"fn", 1, "k"}, "k"},
		{"GEORADIUS", []interface{}{"{g}src", 15, 37, 200, "km"}, "{g}src"},
		{"GEORADIUS", []interface{}{"{g}src", 15, 37, 200, "km", "STORE", "{g}dst"}, "{g}src"},
		{"GEORADIUSBYMEMBER", []interface{}{"{g}src", "m", 200, "km", "STOREDIST", "{g}dst"}, "{g}src"},
		{"SORT", []interface{}{"{l}src", "ALPHA", "STORE", "{l}dst"}, "{l}src"},
		{"SORT", []interface{}{"l", "BY", "nosort"}, "l"},
		{"BLPOP", []interface{}{"{q}a", "{q}b", 0}, "{q}a"},
		{"BLPOP", []interface{}{"q", 5}, "q"},
		{"LMOVE", []interface{}{"{l}a", "{l}b", "LEFT", "RIGHT"}, "{l}a"},
		{"BLMOVE", []interface{}{"{l}a", "{l}b", "LEFT", "RIGHT", 0}, "{l}a"},
		{"COPY", []interface{}{"{c}src", "{c}dst", "REPLACE"}, "{c}src"},
		{"SMOVE", []interface{}{"{s}a", "{s}b", "m"}, "{s}a"},
		{"ZRANGESTORE", []interface{}{"{z}dst", "{z}src", 0, -1}, "{z}dst"},
		{"GEOSEARCHSTORE", []interface{}{"{g}dst", "{g}src", "FROMMEMBER", "m", "BYRADIUS", 10, "km"}, "{g}dst"},
		{"BLMPOP", []interface{}{0, 2, "{q}a", "{q}b", "LEFT"}, "{q}a"},
		{"BZMPOP", []interface{}{1.5, 1, "z", "MIN", "COUNT", 2}, "z"},
		{"XREAD", []interface{}{"COUNT", 2, "STREAMS", "{x}a", "{x}b", "0", "0"}, "{x}a"},
		{"XREAD", []interface{}{"BLOCK", 0, "streams", "x", "$"}, "x"},
		{"XREADGROUP", []interface{}{"GROUP", "g", "STREAMS", "NOACK", "STREAMS", "x", ">"}, "x"},
	}

	for _, c := range cases {
		key, err := commandKey(c.cmd, flattenArgs(c.args))
		if assert.NoError(t, err, "%s %v", c.cmd, c.args) {
			assert.Equal(t, c.key, key, "%s %v", c.cmd, c.args)
		}
	}
}

func TestCommandKeyErrors(t *testing.T) {
	cases := []struct {
		cmd    string
		args   []interface{}
		reason RoutingReason
	}{
		{"NOSUCHCMD", []interface{}{"k"}, ReasonUnknownCommand},
		{"PING", nil, ReasonUnknownCommand},
		{"GET", nil, ReasonNoKey},
		{"MGET", nil, ReasonNoKey},
		{"MSET", []interface{}{"a", 1, "b"}, ReasonNoKey},
		{"BITOP", []interface{}{"AND", "dst"}, ReasonNoKey},
		{"EVAL", []interface{}{"return 1", 0}, ReasonNoKey},
		{"EVAL", []interface{}{"return 1", "x", "k"}, ReasonNoKey},
		{"EVAL", []interface{}{"return 1", 3, "k"}, ReasonNoKey},
		{"BLPOP", []interface{}{0}, ReasonNoKey},
		{"LMOVE", []interface{}{"a"}, ReasonNoKey},
		{"BLMPOP", []interface{}{0, 2, "a"}, ReasonNoKey},
		{"XREAD", []interface{}{"COUNT", 1, "STREAMS", "a", "b", "0"}, ReasonNoKey},
		{"XREAD", []interface{}{"COUNT", 1}, ReasonNoKey},
		{"MGET", []interface{}{"a", "b"}, ReasonCrossSlot},
		{"MSET", []interface{}{"a", 1, "b", 2}, ReasonCrossSlot},
		{"ZUNIONSTORE", []interface{}{"dst", 2, "a", "b"}, ReasonCrossSlot},
		{"GEORADIUS", []interface{}{"src", 15, 37, 200, "km", "store", "dst"}, ReasonCrossSlot},
		{"SORT", []interface{}{"a", "store", "b"}, ReasonCrossSlot},
		{"BRPOP", []interface{}{"a", "b", 0}, ReasonCrossSlot},
		{"LMOVE", []interface{}{"a", "b", "LEFT", "RIGHT"}, ReasonCrossSlot},
		{"BLMOVE", []interface{}{"a", "b", "LEFT", "RIGHT", 0}, ReasonCrossSlot},
		{"COPY", []interface{}{"a", "b"}, ReasonCrossSlot},
		{"SMOVE", []interface{}{"a", "b", "m"}, ReasonCrossSlot},
		{"ZRANGESTORE", []interface{}{"a", "b", 0, -1}, ReasonCrossSlot},
		{"GEOSEARCHSTORE", []interface{}{"a", "b", "FROMMEMBER", "m", "BYRADIUS", 10, "km"}, ReasonCrossSlot},
		{"BLMPOP", []interface{}{0, 2, "a", "b", "LEFT"}, ReasonCrossSlot},
		{"XREAD", []interface{}{"STREAMS", "a", "b", "0", "0"}, ReasonCrossSlot},
	}

	for _, c := range cases {
		_, err := commandKey(c.cmd, flattenArgs(c.args))
		var re *RoutingError
		if assert.ErrorAs(t, err, &re, "%s %v", c.cmd, c.args) {
			assert.Equal(t, c.reason, re.Reason, "%s %v", c.cmd, c.args)
			assert.Equal(t, c.cmd, re.Command)
		}
	}
}

func TestRegisterCommand(t *testing.T) {
	assert.False(t, IsRegistered("test.get"))
	RegisterCommand("test.get", KeyFirst)
	assert.True(t, IsRegistered("TEST.GET"))
	assert.True(t, IsRegistered("Test.Get"))

	key, err := commandKey("TEST.GET", []interface{}{"k", "path"})
	require.NoError(t, err)
	assert.Equal(t, "k", key)

	// replaces the existing strategy
	RegisterCommand("TEST.GET", KeyAll)
	_, err = commandKey("TEST.GET", []interface{}{"a", "b"})
	var re *RoutingError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ReasonCrossSlot, re.Reason)

	assert.Panics(t, func() { RegisterCommand("test.bad", KeyStrategy(0)) })
	assert.Panics(t, func() { RegisterCommand("test.bad", KeyStreams+1) })
	assert.False(t, IsRegistered("test.bad"))

	assert.True(t, IsRegistered("get"))
	assert.False(t, IsRegistered("object"))
}

func TestCommandKeyFlattened(t *testing.T) {
	key, err := commandKey("MSET", flattenArgs([]interface{}{[]interface{}{"{u}a", 1}, redis.Args{"{u}b", 2}}))
	require.NoError(t, err)
	assert.Equal(t, "{u}a", key)

	key, err = commandKey("MGET", flattenArgs([]interface{}{[]string{"{u}a", "{u}b"}}))
	require.NoError(t, err)
	assert.Equal(t, "{u}a", key)
}

func TestCommandKeySameTag(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tag := rapid.StringMatching(`[a-z0-9]{1,8}`).Draw(rt, "tag")
		n := rapid.IntRange(1, 10).Draw(rt, "n")

		args := make([]interface{}, 0, 2*n)
		for i := 0; i < n; i++ {
			k := "{" + tag + "}" + rapid.StringMatching(`[a-z0-9:]{0,8}`).Draw(rt, "suffix")
			args = append(args, k, i)
		}
		key, err := commandKey("MSET", args)
		if err != nil {
			rt.Fatalf("MSET with a common tag: %v", err)
		}
		if Slot(key) != Slot(tag) {
			rt.Fatalf("routed to slot %d, want %d", Slot(key), Slot(tag))
		}
	})
}
