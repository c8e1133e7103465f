package cluster

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"clusterkv/internal/redisx"
)

// prober throttles two kinds of network chatter that only happen when
// something is already going wrong: reachability pings during the
// dispatcher's reconnect search, and topology refresh attempts
// triggered by repeated MOVED replies. Without a limiter, a cluster stuck
// mid-failover can turn every dispatch into a CLUSTER NODES storm.
type prober struct {
	pingLimiter    *rate.Limiter
	refreshLimiter *rate.Limiter
}

func newProber(pingsPerSecond, refreshesPerSecond float64) *prober {
	return &prober{
		pingLimiter:    rate.NewLimiter(rate.Limit(pingsPerSecond), 1),
		refreshLimiter: rate.NewLimiter(rate.Limit(refreshesPerSecond), 1),
	}
}

// allowPing reports whether the dispatcher may send another reachability
// PING right now; when the budget is exhausted it returns false rather
// than blocking, so a hot retry loop degrades to "no reachable node found"
// instead of stalling on the limiter.
func (p *prober) allowPing() bool {
	if p == nil {
		return true
	}
	return p.pingLimiter.Allow()
}

func (p *prober) allowRefresh() bool {
	if p == nil {
		return true
	}
	return p.refreshLimiter.Allow()
}

// firstReachable pings every node in registry iteration order and returns the first that answers PONG.
func firstReachable(ctx context.Context, reg *Registry, timeout time.Duration) (*Node, error) {
	for _, n := range reg.Iter() {
		conn, err := n.syncConn(ctx, timeout)
		if err != nil {
			continue
		}
		if err := conn.Send(redisx.FormatCommand("PING")); err != nil {
			n.markErrored(err)
			continue
		}
		reply, err := conn.ReadReply()
		if err != nil {
			n.markErrored(err)
			continue
		}
		if s, err := redisx.ToString(reply); err == nil && s == "PONG" {
			return n, nil
		}
	}
	return nil, ErrUnreachable
}
