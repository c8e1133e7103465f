package cluster

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"clusterkv/internal/logger"
	"clusterkv/internal/redisx"
)

// Options configures a Context at construction time.
type Options struct {
	Addrs             []string
	Timeout           time.Duration
	MaxRedirect       int // default 5; bounds MOVED/ASK redirects and reconnects, each counted separately
	SnapshotPath      string
	PingRateLimit     float64 // reachability pings/sec during reconnect search
	RefreshRateLimit  float64 // topology refreshes/sec
	PreferReplicaRead bool    // opt in to rendezvous-hashed read-replica selection
}

func (o *Options) withDefaults() *Options {
	out := *o
	if out.Timeout <= 0 {
		out.Timeout = 5 * time.Second
	}
	if out.MaxRedirect <= 0 {
		out.MaxRedirect = 5
	}
	if out.PingRateLimit <= 0 {
		out.PingRateLimit = 20
	}
	if out.RefreshRateLimit <= 0 {
		out.RefreshRateLimit = 2
	}
	return &out
}

// Context is the cluster-aware dispatch engine: the routing table, the node
// registry, and the retry/refresh machinery that keeps them current. It
// mirrors the redisClusterContext of the C library this design is modeled
// on — one instance per thread of control, never shared.
type Context struct {
	opts *Options

	reg   *Registry
	table atomic.Pointer[Table]

	fp    atomic.Uint64 // last topology fingerprint, for refresh no-op detection
	probe *prober
	snap  *SnapshotStore

	refreshMu sync.Mutex // serializes topology refresh

	// err/errstr mirror the last failed operation, cleared on success.
	mu     sync.Mutex
	lastErr error

	pipeline *pipelineQueue

	// hookMu guards connectHook/disconnectHook, the async façade's
	// per-node dial/teardown notification hooks; nil on the sync path.
	hookMu         sync.Mutex
	connectHook    func(addr string, err error)
	disconnectHook func(addr string, err error)
}

// SetConnectHook installs the callback fired once per node dial (success
// or failure, including redirection-driven dials against ASK targets and
// newly discovered nodes), applied immediately to every node already
// known and to every node added afterward. nil disables it; this is the
// seam the async façade's SetConnectCallback is built on.
func (c *Context) SetConnectHook(hook func(addr string, err error)) {
	c.hookMu.Lock()
	c.connectHook = hook
	disconnect := c.disconnectHook
	c.hookMu.Unlock()
	c.reg.SetHooks(hook, disconnect)
}

// SetDisconnectHook installs the callback fired at most once per node
// connection when it is torn down, carrying the error (if any) that
// caused it. nil disables it; this is the seam the async façade's
// SetDisconnectCallback is built on.
func (c *Context) SetDisconnectHook(hook func(addr string, err error)) {
	c.hookMu.Lock()
	c.disconnectHook = hook
	connect := c.connectHook
	c.hookMu.Unlock()
	c.reg.SetHooks(connect, hook)
}

// Connect seeds a Context from addrs and performs an initial topology
// discovery. Equivalent to the C API's redisClusterConnect.
func Connect(ctx context.Context, opts Options) (*Context, error) {
	return ConnectWithTimeout(ctx, opts)
}

// ConnectWithTimeout is Connect with an explicit per-connection timeout
// already folded into opts.Timeout; kept as a distinct entry point to match
// the hiredis-style API surface this design follows.
func ConnectWithTimeout(ctx context.Context, opts Options) (*Context, error) {
	o := opts.withDefaults()
	if len(o.Addrs) == 0 {
		return nil, newErr(KindBadAddress, nil, "no seed addresses supplied")
	}

	c := &Context{
		opts:  o,
		reg:   NewRegistry(),
		probe: newProber(o.PingRateLimit, o.RefreshRateLimit),
		snap:  NewSnapshotStore(o.SnapshotPath),
	}
	c.pipeline = newPipelineQueue(c)

	for _, addr := range o.Addrs {
		if _, err := c.reg.Add(addr); err != nil {
			return nil, err
		}
	}

	if snap, err := c.snap.Load(); err == nil && snap != nil {
		if reg, table, err := snap.Build(); err == nil {
			c.reg = reg
			c.table.Store(table)
			logger.Info("clusterkv: warm-started routing table from %s (%d ranges)", o.SnapshotPath, len(table.Ranges()))
		}
	}

	if err := c.Refresh(ctx); err != nil {
		if c.table.Load() != nil {
			// Warm-started table still usable; surface the refresh error
			// via err/errstr but don't fail Connect outright.
			c.setErr(err)
			return c, nil
		}
		return nil, err
	}
	return c, nil
}

// ConnectNonBlock constructs a Context without performing the initial
// discovery round-trip; the first Command that finds no route for its slot
// triggers it.
func ConnectNonBlock(opts Options) (*Context, error) {
	o := opts.withDefaults()
	if len(o.Addrs) == 0 {
		return nil, newErr(KindBadAddress, nil, "no seed addresses supplied")
	}
	c := &Context{
		opts:  o,
		reg:   NewRegistry(),
		probe: newProber(o.PingRateLimit, o.RefreshRateLimit),
		snap:  NewSnapshotStore(o.SnapshotPath),
	}
	c.pipeline = newPipelineQueue(c)
	for _, addr := range o.Addrs {
		if _, err := c.reg.Add(addr); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Free tears down every cached connection. Equivalent to redisClusterFree.
func (c *Context) Free() {
	c.reg.Close()
}

// SetMaxRedirect overrides the retry ceiling applied separately to MOVED/ASK
// redirects and to reconnects.
func (c *Context) SetMaxRedirect(n int) {
	if n < 1 {
		n = 1
	}
	c.opts.MaxRedirect = n
}

// Reset drops all buffered I/O state and clears the pipeline queue, without
// discarding the routing table — a soft reset, distinct from a full
// topology refresh.
func (c *Context) Reset() {
	c.pipeline.reset()
	c.clearErr()
}

// Err returns the last tagged error, or nil if the context is in a clean
// state.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Context) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Context) clearErr() {
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
}

// Refresh performs a full topology discovery against the seed addresses,
// falling back to the live registry's nodes as further candidates, and
// atomically swaps in the new table — unless its fingerprint matches the
// current one, in which case the swap (and its log line) is skipped.
func (c *Context) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	candidates := append([]string{}, c.opts.Addrs...)
	if c.reg != nil {
		for _, addr := range c.reg.Addrs() {
			candidates = append(candidates, addr)
		}
	}
	candidates = dedupe(candidates)

	reg, table, err := discover(ctx, candidates, c.opts.Timeout)
	if err != nil {
		c.setErr(err)
		return err
	}

	newFp := fingerprint(table.Ranges())
	if newFp == c.fp.Load() && c.table.Load() != nil {
		logger.Debug("clusterkv: topology refresh observed no change, skipping swap")
		c.clearErr()
		return nil
	}

	if c.reg != nil {
		c.reg.replaceFrom(reg.nodes)
	} else {
		c.reg = reg
	}
	c.table.Store(table)
	c.fp.Store(newFp)
	c.clearErr()

	if err := c.snap.Save(table); err != nil {
		logger.Warn("clusterkv: failed to persist topology snapshot: %v", err)
	}
	logger.Info("clusterkv: topology refreshed, %d slot ranges across %d nodes", len(table.Ranges()), len(reg.nodes))
	return nil
}

func dedupe(addrs []string) []string {
	seen := make(map[string]bool, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// Command is the main synchronous entry point: format → parse keys →
// fragment if multi-slot → dispatch each fragment with retry → reassemble
// → return.
func (c *Context) Command(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	raw := redisx.FormatCommand(name, args...)
	req, err := redisx.ParseRequest(raw)
	if err != nil {
		c.setErr(newErr(KindProtocol, err, "parse command: %v", err))
		return nil, c.Err()
	}

	plan, err := fragment(req)
	if err != nil {
		c.setErr(err)
		return nil, err
	}

	if plan.Fragments == nil {
		reply, err := c.dispatchOne(ctx, plan.Slot, raw, false)
		if err != nil {
			c.setErr(err)
			return nil, err
		}
		c.clearErr()
		return reply, nil
	}

	replies := make([]interface{}, len(plan.Fragments))
	for i, f := range plan.Fragments {
		reply, err := c.dispatchOne(ctx, f.Slot, f.Raw, false)
		if err != nil {
			c.setErr(err)
			return nil, err
		}
		replies[i] = reply
	}
	result, err := reassemble(req.Verb, plan.Fragments, replies, len(req.Keys))
	if err != nil {
		c.setErr(err)
		return nil, err
	}
	c.clearErr()
	return result, nil
}

// CommandRaw runs the same parse/fragment/reassemble pipeline as Command
// but dispatches each fragment with a single attempt and no MOVED/ASK
// retry — the variant package async uses, since "MOVED/ASK retry in async
// mode is not automatic". IO-level reconnect still happens once,
// since that is a connection-lifecycle concern distinct from a redirect.
func (c *Context) CommandRaw(ctx context.Context, verb string, raw []byte) (interface{}, error) {
	req, err := redisx.ParseRequest(raw)
	if err != nil {
		return nil, newErr(KindProtocol, err, "parse command: %v", err)
	}
	plan, err := fragment(req)
	if err != nil {
		return nil, err
	}

	if plan.Fragments == nil {
		return c.dispatchNoRedirect(ctx, plan.Slot, raw)
	}

	replies := make([]interface{}, len(plan.Fragments))
	for i, f := range plan.Fragments {
		reply, err := c.dispatchNoRedirect(ctx, f.Slot, f.Raw)
		if err != nil {
			return nil, err
		}
		replies[i] = reply
	}
	return reassemble(req.Verb, plan.Fragments, replies, len(req.Keys))
}

func (c *Context) dispatchNoRedirect(ctx context.Context, slot int, raw []byte) (interface{}, error) {
	node, err := c.routeOrAny(slot)
	if err != nil {
		return nil, err
	}
	conn, err := node.syncConn(ctx, c.opts.Timeout)
	if err != nil {
		return nil, newErr(KindIO, err, "connect to %s: %v", node.Addr, err)
	}
	if err := conn.Send(raw); err != nil {
		node.markErrored(err)
		return nil, newErr(KindIO, err, "send to %s: %v", node.Addr, err)
	}
	reply, err := conn.ReadReply()
	if err != nil {
		if replyErr, ok := err.(*redisx.ReplyError); ok {
			return nil, replyErr
		}
		node.markErrored(err)
		return nil, newErr(KindIO, err, "read reply from %s: %v", node.Addr, err)
	}
	return reply, nil
}

// dispatchOne runs the MOVED/ASK/reconnect retry loop for one already-sized
// (single-slot) command. slot may be -1 for keyless commands, which
// dispatch to an arbitrary known node (see routeOrAny).
func (c *Context) dispatchOne(ctx context.Context, slot int, raw []byte, readPreferring bool) (interface{}, error) {
	var redirectRetry, reconnectRetry int
	max := c.opts.MaxRedirect

	node, err := c.routeOrAny(slot)
	if e, ok := err.(*Err); ok && e.Kind == KindTopologyStale {
		// No route yet: one topology refresh, then surface if still stale.
		if rerr := c.Refresh(ctx); rerr == nil {
			node, err = c.routeOrAny(slot)
		}
	}
	if err != nil {
		return nil, err
	}
	if readPreferring && c.opts.PreferReplicaRead && slot >= 0 {
		if r := c.pickReplica(node, slot); r != nil {
			node = r
		}
	}

	for {
		conn, err := node.syncConn(ctx, c.opts.Timeout)
		if err != nil {
			reconnectRetry++
			if reconnectRetry > max {
				return nil, newErr(KindTooManyRedirects, err, "reconnect retry budget exhausted: %v", err)
			}
			if !c.probe.allowPing() {
				return nil, newErr(KindUnreachable, nil, "reachability probe throttled")
			}
			found, perr := firstReachable(ctx, c.reg, c.opts.Timeout)
			if perr != nil {
				return nil, perr
			}
			node = found
			continue
		}

		if err := conn.Send(raw); err != nil {
			node.markErrored(err)
			reconnectRetry++
			if reconnectRetry > max {
				return nil, newErr(KindTooManyRedirects, err, "reconnect retry budget exhausted: %v", err)
			}
			continue
		}
		reply, err := conn.ReadReply()
		if err != nil {
			replyErr, isReplyErr := err.(*redisx.ReplyError)
			if !isReplyErr {
				node.markErrored(err)
				reconnectRetry++
				if reconnectRetry > max {
					return nil, newErr(KindTooManyRedirects, err, "reconnect retry budget exhausted: %v", err)
				}
				continue
			}

			text := replyErr.Text
			switch {
			case strings.HasPrefix(text, "MOVED "):
				redirectRetry++
				if redirectRetry > max {
					return nil, newErr(KindTooManyRedirects, replyErr, "redirect retry budget exhausted at MOVED")
				}
				if c.probe.allowRefresh() {
					_ = c.Refresh(ctx)
				}
				newNode, err := c.routeOrAny(slot)
				if err != nil {
					return nil, err
				}
				node = newNode
				continue

			case strings.HasPrefix(text, "ASK "):
				redirectRetry++
				if redirectRetry > max {
					return nil, newErr(KindTooManyRedirects, replyErr, "redirect retry budget exhausted at ASK")
				}
				target, perr := askTarget(text)
				if perr != nil {
					return nil, perr
				}
				askNode, err := c.reg.Ensure(target)
				if err != nil {
					return nil, err
				}
				askConn, err := askNode.syncConn(ctx, c.opts.Timeout)
				if err != nil {
					return nil, newErr(KindIO, err, "connect to ASK target %s: %v", target, err)
				}
				if err := askConn.Send(redisx.FormatCommand("ASKING")); err != nil {
					return nil, newErr(KindIO, err, "send ASKING to %s: %v", target, err)
				}
				if _, err := askConn.ReadReply(); err != nil {
					return nil, newErr(KindIO, err, "read ASKING reply from %s: %v", target, err)
				}
				if err := askConn.Send(raw); err != nil {
					return nil, newErr(KindIO, err, "resend after ASKING to %s: %v", target, err)
				}
				return askConn.ReadReply()

			case strings.Contains(text, "CLUSTERDOWN"):
				return nil, newErr(KindClusterDown, replyErr, "%s", text)

			default:
				return nil, replyErr
			}
		}

		return reply, nil
	}
}

// routeOrAny resolves slot to a node, falling back to any known node for
// keyless commands (slot == -1).
func (c *Context) routeOrAny(slot int) (*Node, error) {
	table := c.table.Load()
	if slot >= 0 {
		if n := table.NodeForSlot(slot); n != nil {
			return n, nil
		}
		return nil, newErr(KindTopologyStale, nil, "no route for slot %d", slot)
	}
	addrs := c.reg.Addrs()
	if len(addrs) == 0 {
		return nil, newErr(KindTopologyStale, nil, "no known nodes")
	}
	n, _ := c.reg.Lookup(addrs[0])
	return n, nil
}

// pickReplica resolves the read-replica for master's slot via rendezvous
// hashing, registering the chosen address in the registry if it is not
// there yet. It returns nil (keep the master) when master has no known
// replicas or the chosen address cannot be parsed.
func (c *Context) pickReplica(master *Node, slot int) *Node {
	picker := newReplicaPicker(master.Addr, master.Replicas)
	if picker == nil {
		return nil
	}
	addr := picker.pick(slot)
	if addr == master.Addr {
		return nil
	}
	n, err := c.reg.Ensure(addr)
	if err != nil {
		return nil
	}
	return n
}

// CommandReadPreferring behaves like Command but, when PreferReplicaRead is
// enabled and the target slot has known replicas, routes the (single-slot)
// command to a replica chosen by rendezvous hashing instead of the master.
// Intended for read-only commands; callers are responsible for only using
// it where stale reads are acceptable.
func (c *Context) CommandReadPreferring(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	raw := redisx.FormatCommand(name, args...)
	req, err := redisx.ParseRequest(raw)
	if err != nil {
		c.setErr(newErr(KindProtocol, err, "parse command: %v", err))
		return nil, c.Err()
	}
	plan, err := fragment(req)
	if err != nil {
		c.setErr(err)
		return nil, err
	}
	if plan.Fragments != nil {
		// Multi-slot reads don't have a single natural replica; fall back
		// to the regular master-routed path.
		return c.Command(ctx, name, args...)
	}
	reply, err := c.dispatchOne(ctx, plan.Slot, raw, true)
	if err != nil {
		c.setErr(err)
		return nil, err
	}
	c.clearErr()
	return reply, nil
}

func askTarget(text string) (string, error) {
	fields := strings.Fields(text)
	if len(fields) < 3 {
		return "", newErr(KindProtocol, nil, "malformed ASK reply: %q", text)
	}
	return fields[2], nil
}
