// Package clusterkv is a cluster-aware client for a sharded key-value
// store: it resolves which node owns each key, dispatches commands,
// follows MOVED/ASK redirection as the cluster topology changes, and
// fragments multi-key commands across the nodes that own them. See
// DESIGN.md for how the package is put together internally; this file is
// the public surface applications import.
package clusterkv

import (
	"context"
	"time"

	"clusterkv/internal/cluster"
)

// Options configures a Context. See internal/cluster.Options for field
// documentation; it is re-exported here so callers never need to import
// the internal package directly.
type Options = cluster.Options

// Context is a cluster-aware dispatch handle, the Go analogue of the
// reference design's redisClusterContext. Not safe for concurrent use by
// multiple goroutines — each worker should own its own Context.
type Context struct {
	core *cluster.Context
}

// Connect seeds a Context from opts.Addrs and performs initial topology
// discovery before returning.
func Connect(ctx context.Context, opts Options) (*Context, error) {
	c, err := cluster.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Context{core: c}, nil
}

// ConnectWithTimeout is Connect with an explicit per-connection timeout.
func ConnectWithTimeout(ctx context.Context, addrs []string, timeout time.Duration) (*Context, error) {
	return Connect(ctx, Options{Addrs: addrs, Timeout: timeout})
}

// ConnectNonBlock constructs a Context without performing the initial
// discovery round-trip; the first Command that finds no route for its slot
// triggers it.
func ConnectNonBlock(opts Options) (*Context, error) {
	c, err := cluster.ConnectNonBlock(opts)
	if err != nil {
		return nil, err
	}
	return &Context{core: c}, nil
}

// Command dispatches name/args synchronously, following MOVED/ASK
// redirection and fragmenting multi-key commands as needed, and returns
// the (possibly reassembled) reply.
func (c *Context) Command(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	return c.core.Command(ctx, name, args...)
}

// CommandReadPreferring is Command for read-only commands where a stale
// replica read is acceptable; see internal/cluster.Context.CommandReadPreferring.
func (c *Context) CommandReadPreferring(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	return c.core.CommandReadPreferring(ctx, name, args...)
}

// AppendCommand queues name/args for later GetReply, sending it immediately
// without waiting for a reply.
func (c *Context) AppendCommand(ctx context.Context, name string, args ...interface{}) error {
	return c.core.Append(ctx, name, args...)
}

// GetReply pops the oldest appended-but-unread command and returns its
// reply.
func (c *Context) GetReply() (interface{}, error) {
	return c.core.GetReply()
}

// Pending reports how many appended commands are still awaiting GetReply.
func (c *Context) Pending() int {
	return c.core.Pending()
}

// SetMaxRedirect overrides the retry ceiling (default 5) applied separately
// to MOVED/ASK redirects and to reconnects.
func (c *Context) SetMaxRedirect(n int) {
	c.core.SetMaxRedirect(n)
}

// Reset drops buffered pipeline state without discarding the routing
// table.
func (c *Context) Reset() {
	c.core.Reset()
}

// Refresh forces a topology discovery round-trip.
func (c *Context) Refresh(ctx context.Context) error {
	return c.core.Refresh(ctx)
}

// Err returns the last tagged error recorded by the context, or nil.
func (c *Context) Err() error {
	return c.core.Err()
}

// Free releases every cached connection. The Context must not be used
// afterward.
func (c *Context) Free() {
	c.core.Free()
}

// Err is the tagged error every failing operation returns. Re-exported so
// callers can errors.As into it without importing internal/cluster.
type Err = cluster.Err

// Kind tags the category of an Err.
type Kind = cluster.Kind

// Sentinel errors for errors.Is comparisons, one per error Kind.
var (
	ErrIO                   = cluster.ErrIO
	ErrProtocol             = cluster.ErrProtocol
	ErrOutOfMemory          = cluster.ErrOutOfMemory
	ErrBadAddress           = cluster.ErrBadAddress
	ErrBadNode              = cluster.ErrBadNode
	ErrTopologyStale        = cluster.ErrTopologyStale
	ErrInconsistentTopology = cluster.ErrInconsistentTopology
	ErrUnreachable          = cluster.ErrUnreachable
	ErrTooManyRedirects     = cluster.ErrTooManyRedirects
	ErrClusterDown          = cluster.ErrClusterDown
)
