// Package rcluster implements a redis cluster client on top of
// the redigo client package. It routes each command to the master
// node that holds the hash slot of its keys, keeps track of the
// cluster's topology and follows MOVED and ASK redirections.
// See http://redis.io/topics/cluster-spec for details.
//
// # Client
//
// A Client is created with New, from a list of seed nodes and Options.
// It connects lazily: the slot mapping is loaded with CLUSTER SLOTS on
// first use (or by an explicit call to Refresh), and a single connection
// is kept per master node. Do executes a command:
//
//	c, err := rcluster.New([]string{"10.0.0.1:7000", "10.0.0.2:7000"}, nil)
//	if err != nil {
//	  // handle error
//	}
//	defer c.Close()
//
//	v, err := redis.String(c.Do("GET", "some-key"))
//
// # Routing
//
// To select the node, Do extracts the keys of the command from its
// arguments, based on the key strategy registered for the command name
// (see KeyStrategy). All keys must belong to the same slot, hash tags
// ("{user1}.name", "{user1}.email") can be used to make sure that related
// keys do. A command that has no registered strategy, or with keys in
// different slots, fails with a *RoutingError, it is never sent to a
// guessed node. RegisterCommand adds strategies for custom commands,
// DoKey routes a command by an explicit key and DoRandom sends keyless
// commands to any node.
//
// # Redirections
//
// When a node replies with MOVED, the slot mapping is reloaded from
// the node that the slot moved to, the slot is pinned to that node and the
// command is executed again. When a node replies with ASK, the command is
// sent once to the indicated node, preceded by ASKING, and the mapping is
// left as is. The number of redirections followed by a single call is
// bounded by Options.MaxRedirects.
//
// When the connection to a node fails, it is dropped, the slot mapping
// is reloaded and the command is retried once. A second failure is
// returned as a *ConnectivityError.
//
// Error replies from redis other than redirections are returned as
// redigo's redis.Error, unchanged.
//
// # Fan-out
//
// FanOut executes a command that must reply OK on every master node, and
// FlushAll and FlushDB are built on top of it. The first failing node
// aborts the call.
package rcluster
