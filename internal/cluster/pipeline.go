package cluster

import (
	"context"
	"sync"

	"clusterkv/internal/redisx"
)

// pendingCommand is one FIFO entry: either a single-slot send (one node, one
// reply to read) or a fragmented send (several nodes, several replies to
// read and reassemble), with the routing decision already made at append
// time.
type pendingCommand struct {
	verb      string
	keyCount  int
	single    *Node   // nil if fragmented
	fragments []Fragment
	nodes     []*Node // parallel to fragments, nodes already sent to
}

// pipelineQueue implements the "append then get-reply" mode: append routes
// and sends without reading; get_reply pops the head and reads.
type pipelineQueue struct {
	ctx   *Context
	mu    sync.Mutex
	queue []*pendingCommand
}

func newPipelineQueue(ctx *Context) *pipelineQueue {
	return &pipelineQueue{ctx: ctx}
}

// reset empties the queue and marks every node a queued command was sent to
// as errored, so replies still buffered on those connections are discarded
// by the reconnect on next use.
func (q *pipelineQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, cmd := range q.queue {
		if cmd.single != nil {
			cmd.single.markErrored(nil)
		}
		markAllErrored(cmd.nodes, nil)
	}
	q.queue = nil
}

// Append routes (and fragments, if needed) cmd, sends its bytes on every
// target node's sync connection without reading a reply, and enqueues it.
func (c *Context) Append(ctx context.Context, name string, args ...interface{}) error {
	raw := redisx.FormatCommand(name, args...)
	req, err := redisx.ParseRequest(raw)
	if err != nil {
		return newErr(KindProtocol, err, "parse command: %v", err)
	}
	plan, err := fragment(req)
	if err != nil {
		return err
	}

	q := c.pipeline
	q.mu.Lock()
	defer q.mu.Unlock()

	if plan.Fragments == nil {
		node, err := c.routeOrAny(plan.Slot)
		if err != nil {
			return err
		}
		conn, err := node.syncConn(ctx, c.opts.Timeout)
		if err != nil {
			return newErr(KindIO, err, "connect to %s: %v", node.Addr, err)
		}
		if err := conn.Send(raw); err != nil {
			node.markErrored(err)
			return newErr(KindIO, err, "send to %s: %v", node.Addr, err)
		}
		q.queue = append(q.queue, &pendingCommand{verb: req.Verb, keyCount: len(req.Keys), single: node})
		return nil
	}

	touched := make([]*Node, 0, len(plan.Fragments))
	for k, f := range plan.Fragments {
		node, err := c.routeOrAny(f.Slot)
		if err != nil {
			markAllErrored(touched, err)
			return err
		}
		conn, err := node.syncConn(ctx, c.opts.Timeout)
		if err != nil {
			markAllErrored(touched, err)
			return newErr(KindProtocol, err, "pipeline append failed on fragment %d/%d: %v", k+1, len(plan.Fragments), err)
		}
		if err := conn.Send(f.Raw); err != nil {
			node.markErrored(err)
			markAllErrored(touched, err)
			return newErr(KindProtocol, err, "pipeline append failed on fragment %d/%d: %v", k+1, len(plan.Fragments), err)
		}
		touched = append(touched, node)
	}

	q.queue = append(q.queue, &pendingCommand{
		verb:      req.Verb,
		keyCount:  len(req.Keys),
		fragments: plan.Fragments,
		nodes:     touched,
	})
	return nil
}

// markAllErrored marks every node touched by fragments appended so far as
// errored: each of those connections now has a write with no matching
// queued reader, so all of them — not just the last — must reconnect
// before next use.
func markAllErrored(nodes []*Node, cause error) {
	for _, n := range nodes {
		n.markErrored(cause)
	}
}

// GetReply pops the head of the pipeline and reads its reply (or replies,
// for a fragmented entry, reassembled in sub-command order).
func (c *Context) GetReply() (interface{}, error) {
	q := c.pipeline
	q.mu.Lock()
	if len(q.queue) == 0 {
		q.mu.Unlock()
		return nil, newErr(KindProtocol, nil, "pipeline queue is empty")
	}
	cmd := q.queue[0]
	q.queue = q.queue[1:]
	q.mu.Unlock()

	if cmd.single != nil {
		conn, err := cmd.single.syncConn(context.Background(), c.opts.Timeout)
		if err != nil {
			return nil, newErr(KindIO, err, "connection for queued reply lost: %v", err)
		}
		reply, err := conn.ReadReply()
		if err != nil {
			if replyErr, ok := err.(*redisx.ReplyError); ok {
				return nil, replyErr
			}
			cmd.single.markErrored(err)
			return nil, newErr(KindProtocol, err, "pipeline read failed: %v", err)
		}
		return reply, nil
	}

	replies := make([]interface{}, len(cmd.fragments))
	for i, node := range cmd.nodes {
		conn, err := node.syncConn(context.Background(), c.opts.Timeout)
		if err != nil {
			markAllErrored(cmd.nodes, err)
			return nil, newErr(KindIO, err, "connection for queued fragment reply lost: %v", err)
		}
		reply, err := conn.ReadReply()
		if err != nil {
			if replyErr, ok := err.(*redisx.ReplyError); ok {
				return nil, replyErr
			}
			markAllErrored(cmd.nodes, err)
			return nil, newErr(KindProtocol, err, "pipeline read failed on fragment %d: %v", i+1, err)
		}
		replies[i] = reply
	}
	return reassemble(cmd.verb, cmd.fragments, replies, cmd.keyCount)
}

// Pending reports how many commands are queued awaiting a reply.
func (c *Context) Pending() int {
	q := c.pipeline
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}
