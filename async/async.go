// Package async provides the callback-driven façade over the cluster
// dispatch engine. Routing and fragmentation are identical to the
// synchronous path; what differs is that dispatch never blocks the caller
// waiting for a reply — every command registers a callback and returns
// immediately, with replies delivered as they arrive.
//
// The reference design this package is modeled on drives its async mode
// through a user-supplied event loop adapter (libevent, libev, …) that the
// cluster façade itself never calls into directly. Go has no equivalent
// foreign-event-loop convention; this package instead runs a single
// dispatch goroutine that takes submitted commands from a buffered channel,
// runs each through the core's synchronous send/read path, and invokes the
// callback with the result. The "adapter" concept survives as that internal
// loop rather than as a pluggable interface, since there is no external
// loop to plug into.
package async

import (
	"context"
	"sync"

	"clusterkv/internal/cluster"
	"clusterkv/internal/logger"
	"clusterkv/internal/redisx"
)

// ReplyCallback receives the reply (or error) for one AsyncCommand call,
// along with the privdata passed at submission time.
type ReplyCallback func(reply interface{}, err error, privdata interface{})

// ConnectCallback is invoked once per node connection, after it completes
// (status == nil) or fails (status != nil).
type ConnectCallback func(addr string, status error)

// DisconnectCallback is invoked once per node connection when it is torn
// down, either by the user or by an I/O error.
type DisconnectCallback func(addr string, status error)

type job struct {
	verb     string
	raw      []byte
	cb       ReplyCallback
	privdata interface{}
}

// Context is the async façade over a *cluster.Context. One Context should
// be driven by a single goroutine's worth of submissions; callbacks run on
// the Context's own dispatch goroutine, never on the caller's goroutine.
type Context struct {
	sync *cluster.Context

	mu           sync.Mutex
	onConnect    ConnectCallback
	onDisconnect DisconnectCallback

	jobs   chan job
	done   chan struct{}
	closed bool
}

// Connect performs synchronous initial discovery (so routing is available
// immediately) and starts the async dispatch goroutine.
func Connect(ctx context.Context, opts cluster.Options) (*Context, error) {
	sc, err := cluster.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return newContext(sc), nil
}

// newContext wraps an already-constructed *cluster.Context: it wires
// onConnect/onDisconnect through to sc's per-node dial/teardown hooks and
// starts the dispatch goroutine. Split out of Connect so tests can drive it
// against a cluster.Context built with ConnectNonBlock, without a live
// cluster to dial.
func newContext(sc *cluster.Context) *Context {
	a := &Context{
		sync: sc,
		jobs: make(chan job, 256),
		done: make(chan struct{}),
	}
	sc.SetConnectHook(func(addr string, status error) {
		a.mu.Lock()
		cb := a.onConnect
		a.mu.Unlock()
		if cb != nil {
			cb(addr, status)
		}
	})
	sc.SetDisconnectHook(func(addr string, status error) {
		a.mu.Lock()
		cb := a.onDisconnect
		a.mu.Unlock()
		if cb != nil {
			cb(addr, status)
		}
	})
	go a.loop()
	return a
}

func (a *Context) loop() {
	bg := context.Background()
	for {
		select {
		case j, ok := <-a.jobs:
			if !ok {
				return
			}
			reply, err := a.sync.CommandRaw(bg, j.verb, j.raw)
			j.cb(reply, err, j.privdata)
		case <-a.done:
			return
		}
	}
}

// SetConnectCallback installs the callback fired after each node connect
// attempt.
func (a *Context) SetConnectCallback(cb ConnectCallback) {
	a.mu.Lock()
	a.onConnect = cb
	a.mu.Unlock()
}

// SetDisconnectCallback installs the callback fired when a node connection
// is torn down.
func (a *Context) SetDisconnectCallback(cb DisconnectCallback) {
	a.mu.Lock()
	a.onDisconnect = cb
	a.mu.Unlock()
}

// Command submits name/args for asynchronous dispatch. cb is invoked on the
// Context's dispatch goroutine once a reply (or terminal error) is
// available. Unlike the synchronous path, MOVED/ASK redirection is not
// retried automatically here — the reply (or the redirect error) is handed
// straight to cb, per the documented divergence from the sync retry
// loop.
func (a *Context) Command(cb ReplyCallback, privdata interface{}, name string, args ...interface{}) error {
	raw := redisx.FormatCommand(name, args...)
	verb, err := redisx.Verb(raw)
	if err != nil {
		return err
	}

	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return cluster.ErrIO
	}

	select {
	case a.jobs <- job{verb: verb, raw: raw, cb: cb, privdata: privdata}:
		return nil
	case <-a.done:
		return cluster.ErrIO
	}
}

// Disconnect stops accepting new submissions but lets already-queued jobs
// drain before the dispatch goroutine exits.
func (a *Context) Disconnect() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()
	close(a.jobs)
}

// Free stops the dispatch goroutine immediately and releases all
// connections. Equivalent to redisAsyncFree.
func (a *Context) Free() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.jobs)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
	default:
		close(a.done)
	}
	a.sync.Free()
	logger.Debug("clusterkv/async: context freed")
}
