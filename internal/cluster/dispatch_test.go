package cluster

import (
	"context"
	"io"
	"sync"
	"testing"

	"clusterkv/internal/redisx"
)

// fakeConn is a scripted stand-in for *redisx.Conn: ReadReply hands back the
// next entry in script (an error value is returned as the error, anything
// else as the reply). Once the script is exhausted, the last entry repeats
// if repeatLast is set, otherwise ReadReply returns io.EOF like a dropped
// socket would.
type fakeConn struct {
	mu         sync.Mutex
	addr       string
	script     []interface{}
	idx        int
	repeatLast bool
	sendErr    error
	sends      int
	closed     bool
}

func (f *fakeConn) Send(raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	return f.sendErr
}

func (f *fakeConn) ReadReply() (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.script) {
		if f.repeatLast && len(f.script) > 0 {
			return replyOrErr(f.script[len(f.script)-1])
		}
		return nil, io.EOF
	}
	entry := f.script[f.idx]
	f.idx++
	return replyOrErr(entry)
}

func replyOrErr(entry interface{}) (interface{}, error) {
	if err, ok := entry.(error); ok {
		return nil, err
	}
	return entry, nil
}

func (f *fakeConn) Closed() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.closed }
func (f *fakeConn) Close() error { f.mu.Lock(); defer f.mu.Unlock(); f.closed = true; return nil }
func (f *fakeConn) Addr() string { return f.addr }

// newTestContext builds a Context with a single-node registry and a routing
// table that sends every slot to that node, wired to conn without any real
// dial — so the dispatcher's own retry/redirect logic runs against scripted
// replies only.
func newTestContext(t *testing.T, addr string, conn redisConn, maxRedirect int) (*Context, *Node) {
	t.Helper()
	reg := NewRegistry()
	node, err := reg.Add(addr)
	if err != nil {
		t.Fatalf("reg.Add: %v", err)
	}
	node.sync_ = conn

	opts := (&Options{Addrs: []string{addr}, MaxRedirect: maxRedirect}).withDefaults()
	opts.MaxRedirect = maxRedirect
	c := &Context{
		opts:  opts,
		reg:   reg,
		probe: newProber(opts.PingRateLimit, opts.RefreshRateLimit),
		snap:  NewSnapshotStore(""),
	}
	c.pipeline = newPipelineQueue(c)

	table, err := NewTable([]SlotRange{{Start: 0, End: SlotCount - 1, Node: node}})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	c.table.Store(table)
	return c, node
}

func TestDispatchOneHappyPath(t *testing.T) {
	conn := &fakeConn{addr: "127.0.0.1:1", script: []interface{}{"bar"}}
	c, _ := newTestContext(t, "127.0.0.1:1", conn, 5)

	reply, err := c.dispatchOne(context.Background(), 500, redisx.FormatCommand("GET", "foo"), false)
	if err != nil {
		t.Fatalf("dispatchOne: %v", err)
	}
	if reply != "bar" {
		t.Errorf("reply = %v, want bar", reply)
	}
	if conn.sends != 1 {
		t.Errorf("sends = %d, want 1", conn.sends)
	}
}

// TestDispatchRetryCeiling is scenario S5: every node replies MOVED
// cyclically (here: a single node re-redirecting to itself), so the budget
// exhausts and TooManyRedirects surfaces.
func TestDispatchRetryCeiling(t *testing.T) {
	conn := &fakeConn{
		addr:       "127.0.0.1:1",
		script:     []interface{}{&redisx.ReplyError{Text: "MOVED 500 127.0.0.1:1"}},
		repeatLast: true,
	}
	c, _ := newTestContext(t, "127.0.0.1:1", conn, 2)

	_, err := c.dispatchOne(context.Background(), 500, redisx.FormatCommand("SET", "x", "1"), false)
	if err == nil {
		t.Fatal("expected TooManyRedirects once the redirect budget is exhausted")
	}
	if errKind(err) != KindTooManyRedirects {
		t.Errorf("error kind = %v, want TooManyRedirects", errKind(err))
	}
}

// TestDispatchASK is scenario S4: the primary node returns ASK, the
// dispatcher opens (or reuses) the target, sends ASKING, resends the
// original command, and returns the target's reply without touching the
// routing table.
func TestDispatchASK(t *testing.T) {
	primary := &fakeConn{
		addr:   "127.0.0.1:1",
		script: []interface{}{&redisx.ReplyError{Text: "ASK 500 127.0.0.1:2"}},
	}
	target := &fakeConn{
		addr:   "127.0.0.1:2",
		script: []interface{}{"OK", "bar"},
	}
	c, _ := newTestContext(t, "127.0.0.1:1", primary, 5)
	targetNode, err := c.reg.Add("127.0.0.1:2")
	if err != nil {
		t.Fatalf("reg.Add target: %v", err)
	}
	targetNode.sync_ = target

	tableBefore := c.table.Load()

	reply, err := c.dispatchOne(context.Background(), 500, redisx.FormatCommand("GET", "foo"), false)
	if err != nil {
		t.Fatalf("dispatchOne: %v", err)
	}
	if reply != "bar" {
		t.Errorf("reply = %v, want bar", reply)
	}
	if primary.sends != 1 {
		t.Errorf("primary.sends = %d, want 1 (no resend to the old owner)", primary.sends)
	}
	if target.sends != 2 {
		t.Errorf("target.sends = %d, want 2 (ASKING + resend)", target.sends)
	}
	if c.table.Load() != tableBefore {
		t.Error("ASK must not trigger a routing table refresh")
	}
}

func TestDispatchClusterDownSurfaces(t *testing.T) {
	conn := &fakeConn{
		addr:   "127.0.0.1:1",
		script: []interface{}{&redisx.ReplyError{Text: "CLUSTERDOWN The cluster is down"}},
	}
	c, _ := newTestContext(t, "127.0.0.1:1", conn, 5)

	_, err := c.dispatchOne(context.Background(), 500, redisx.FormatCommand("GET", "foo"), false)
	if err == nil {
		t.Fatal("expected an error for a CLUSTERDOWN reply")
	}
	if errKind(err) != KindClusterDown {
		t.Errorf("error kind = %v, want ClusterDown", errKind(err))
	}
}

func TestDispatchPlainErrorSurfacesAsIs(t *testing.T) {
	conn := &fakeConn{
		addr:   "127.0.0.1:1",
		script: []interface{}{&redisx.ReplyError{Text: "WRONGTYPE Operation against a key holding the wrong kind of value"}},
	}
	c, _ := newTestContext(t, "127.0.0.1:1", conn, 5)

	_, err := c.dispatchOne(context.Background(), 500, redisx.FormatCommand("GET", "foo"), false)
	if err == nil {
		t.Fatal("expected the WRONGTYPE reply to surface")
	}
	if _, ok := err.(*redisx.ReplyError); !ok {
		t.Errorf("err = %T, want *redisx.ReplyError", err)
	}
}
