package cluster

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"clusterkv/internal/redisx"
)

// discover queries a candidate address with CLUSTER NODES, builds a fresh
// node registry and routing table from the reply, and returns them without
// touching the live registry/table — the caller performs the atomic swap.
// candidates is tried in order; discover returns the last error only
// after every candidate has failed.
func discover(ctx context.Context, candidates []string, timeout time.Duration) (*Registry, *Table, error) {
	if len(candidates) == 0 {
		return nil, nil, newErr(KindUnreachable, nil, "no candidate nodes to query")
	}

	var lastErr error
	for _, addr := range candidates {
		reg, table, err := discoverOne(ctx, addr, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		return reg, table, nil
	}
	return nil, nil, fmt.Errorf("redisx: all discovery candidates failed: %w", lastErr)
}

// discoverOne queries a single candidate and, if that candidate turns out
// to be "myself" in the parsed topology, adopts the transient discovery
// connection as that node's cached sync connection rather than closing it.
func discoverOne(ctx context.Context, addr string, timeout time.Duration) (*Registry, *Table, error) {
	conn, err := redisx.Dial(ctx, redisx.Config{Addr: addr, Timeout: timeout})
	if err != nil {
		return nil, nil, newErr(KindIO, err, "dial candidate %s: %v", addr, err)
	}

	if err := conn.Send(redisx.FormatCommand("CLUSTER", "NODES")); err != nil {
		conn.Close()
		return nil, nil, newErr(KindIO, err, "send CLUSTER NODES to %s: %v", addr, err)
	}
	reply, err := conn.ReadReply()
	if err != nil {
		conn.Close()
		return nil, nil, newErr(KindIO, err, "read CLUSTER NODES reply from %s: %v", addr, err)
	}
	text, err := redisx.ToString(reply)
	if err != nil {
		conn.Close()
		return nil, nil, newErr(KindProtocol, err, "CLUSTER NODES reply from %s not a string: %v", addr, err)
	}

	reg, ranges, myself, err := parseClusterNodes(text)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	table, err := NewTable(ranges)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	if myself != "" {
		if n, ok := reg.Lookup(myself); ok {
			n.adopt(conn)
			return reg, table, nil
		}
	}
	conn.Close()
	return reg, table, nil
}

// parseClusterNodes parses the line-oriented CLUSTER NODES reply into a
// fresh registry and slot-range set. Replica lines are skipped for routing
// purposes but grouped under their master's replica list. A line
// flagged "myself" is returned via myselfAddr so the caller can adopt the
// transient discovery connection instead of dialing a second one.
//
// Example line:
//
//	07c37dfe... 127.0.0.1:30004@31004 slave e7d1eecce... 0 1426238317239 4 connected
//	67ed2db8... 127.0.0.1:30002@31002 master - 0 1426238316232 2 connected 5461-10922
func parseClusterNodes(output string) (*Registry, []SlotRange, string, error) {
	reg := NewRegistry()
	var ranges []SlotRange
	var myselfAddr string
	replicaOf := make(map[string][]string) // master node id -> replica addrs
	masterID := make(map[string]string)    // node id -> addr, masters only

	type pendingReplica struct {
		addr     string
		masterID string
	}
	var pending []pendingReplica

	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			return nil, nil, "", newErr(KindProtocol, nil, "malformed CLUSTER NODES line: %q", line)
		}

		id := fields[0]
		addr := normalizeAddr(fields[1])
		flags := strings.Split(fields[2], ",")
		master := fields[3]

		isMyself := false
		isMaster := false
		for _, f := range flags {
			switch f {
			case "myself":
				isMyself = true
			case "master":
				isMaster = true
			}
		}
		if isMyself {
			myselfAddr = addr
		}

		if !isMaster {
			if master != "-" {
				pending = append(pending, pendingReplica{addr: addr, masterID: master})
			}
			continue
		}

		node, err := reg.Add(addr)
		if err != nil {
			return nil, nil, "", err
		}
		masterID[id] = addr
		_ = node

		for i := 8; i < len(fields); i++ {
			tok := fields[i]
			if strings.HasPrefix(tok, "[") {
				continue // importing/migrating slot marker, not a stable owner
			}
			start, end, err := parseSlotRange(tok)
			if err != nil {
				return nil, nil, "", newErr(KindProtocol, err, "bad slot token %q: %v", tok, err)
			}
			ranges = append(ranges, SlotRange{Start: start, End: end, Node: node})
		}
	}

	for _, p := range pending {
		if addr, ok := masterID[p.masterID]; ok {
			replicaOf[addr] = append(replicaOf[addr], p.addr)
		}
	}
	for addr, replicas := range replicaOf {
		if n, ok := reg.Lookup(addr); ok {
			n.Replicas = replicas
		}
	}

	return reg, ranges, myselfAddr, nil
}

// parseSlotRange parses "N" or "N-M" slot tokens.
func parseSlotRange(s string) (int, int, error) {
	parts := strings.SplitN(s, "-", 2)
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	if len(parts) == 1 {
		return start, start, nil
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	if start > end {
		return 0, 0, fmt.Errorf("start %d > end %d", start, end)
	}
	return start, end, nil
}

// parseClusterSlotsReply decodes a CLUSTER SLOTS reply: an array of
// [start, end, [master_ip, master_port, id?], replica…, replica…]. Provided
// as an alternative discovery path; nothing calls it at present, and
// discover() issues CLUSTER NODES only.
func parseClusterSlotsReply(reply interface{}) ([]SlotRange, map[string][]string, error) {
	top, ok := reply.([]interface{})
	if !ok {
		return nil, nil, newErr(KindProtocol, nil, "CLUSTER SLOTS reply is not an array")
	}

	var ranges []SlotRange
	replicasByAddr := make(map[string][]string)
	nodesByAddr := make(map[string]*Node)

	for _, entryRaw := range top {
		entry, ok := entryRaw.([]interface{})
		if !ok || len(entry) < 3 {
			return nil, nil, newErr(KindProtocol, nil, "CLUSTER SLOTS entry malformed")
		}
		start, err := redisx.ToInt64(entry[0])
		if err != nil {
			return nil, nil, newErr(KindProtocol, err, "CLUSTER SLOTS start: %v", err)
		}
		end, err := redisx.ToInt64(entry[1])
		if err != nil {
			return nil, nil, newErr(KindProtocol, err, "CLUSTER SLOTS end: %v", err)
		}
		if start > end {
			return nil, nil, newErr(KindProtocol, nil, "CLUSTER SLOTS start %d > end %d", start, end)
		}

		masterAddr, err := slotsHostPort(entry[2])
		if err != nil {
			return nil, nil, err
		}
		node, ok := nodesByAddr[masterAddr]
		if !ok {
			node, err = newNode(masterAddr, RoleMaster)
			if err != nil {
				return nil, nil, err
			}
			nodesByAddr[masterAddr] = node
		}
		ranges = append(ranges, SlotRange{Start: int(start), End: int(end), Node: node})

		for _, replicaRaw := range entry[3:] {
			replicaAddr, err := slotsHostPort(replicaRaw)
			if err != nil {
				continue
			}
			replicasByAddr[masterAddr] = append(replicasByAddr[masterAddr], replicaAddr)
		}
	}

	for addr, n := range nodesByAddr {
		n.Replicas = replicasByAddr[addr]
	}
	return ranges, replicasByAddr, nil
}

func slotsHostPort(raw interface{}) (string, error) {
	fields, ok := raw.([]interface{})
	if !ok || len(fields) < 2 {
		return "", newErr(KindProtocol, nil, "CLUSTER SLOTS node descriptor malformed")
	}
	host, err := redisx.ToString(fields[0])
	if err != nil {
		return "", newErr(KindProtocol, err, "CLUSTER SLOTS host: %v", err)
	}
	port, err := redisx.ToInt64(fields[1])
	if err != nil {
		return "", newErr(KindProtocol, err, "CLUSTER SLOTS port: %v", err)
	}
	return fmt.Sprintf("%s:%d", host, port), nil
}
