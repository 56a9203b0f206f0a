package node

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/signalsfoundry/mesh-simulator/model"
)

// ErrUnknownCommand is returned for node commands the runtime does not
// implement.
var ErrUnknownCommand = errors.New("unknown node command")

// Version is reported by the node "version" command.
const Version = "meshsim-node/1.0"

// Command executes a node-level CLI command such as "state" or
// "ipaddr mleid" and returns its output lines.
func (r *Runtime) Command(id model.NodeID, cmd string) ([]string, error) {
	n, ok := r.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	args := strings.Fields(cmd)
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrUnknownCommand)
	}

	switch args[0] {
	case "state":
		return []string{n.role.String()}, nil
	case "rloc16":
		return []string{fmt.Sprintf("%04x", n.rloc16)}, nil
	case "extaddr":
		return []string{fmt.Sprintf("%016x", n.ExtAddr)}, nil
	case "mode":
		return []string{n.Type.Mode()}, nil
	case "version":
		return []string{Version}, nil
	case "partitionid", "leaderpartitionid":
		return []string{strconv.FormatUint(uint64(n.partitionID), 10)}, nil
	case "ipaddr":
		return r.cmdIPAddr(n, args[1:])
	case "parent":
		parent := r.nodes[n.parent]
		if n.role != model.RoleChild || parent == nil {
			return nil, fmt.Errorf("node %d has no parent", id)
		}
		return []string{
			fmt.Sprintf("Ext Addr: %016x", parent.ExtAddr),
			fmt.Sprintf("Rloc: %04x", parent.rloc16),
		}, nil
	case "routerid":
		rid, ok := n.RouterID()
		if !ok {
			return nil, fmt.Errorf("node %d is not a router", id)
		}
		return []string{strconv.Itoa(rid)}, nil
	case "leaderid":
		lid, ok := r.Leader(n.partitionID)
		if !ok || !n.role.IsAttached() {
			return nil, fmt.Errorf("node %d has no leader", id)
		}
		rid, _ := r.nodes[lid].RouterID()
		return []string{strconv.Itoa(rid)}, nil
	case "leaderdata":
		return r.cmdLeaderData(n)
	case "singleton":
		return []string{strconv.FormatBool(r.singleton(n))}, nil
	case "neighbor":
		if len(args) < 2 || args[1] != "list" {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
		}
		return []string{r.neighborList(n)}, nil
	case "child":
		if len(args) < 2 || args[1] != "list" {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
		}
		ids := make([]string, 0, len(n.children))
		for _, c := range n.Children() {
			ids = append(ids, strconv.Itoa(r.nodes[c].childID))
		}
		return []string{strings.Join(ids, " ")}, nil
	case "thread":
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
		}
		switch args[1] {
		case "start":
			if n.role == model.RoleDisabled {
				r.start(n)
			}
			return nil, nil
		case "stop":
			r.stop(n)
			return nil, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
}

func (r *Runtime) cmdIPAddr(n *Node, args []string) ([]string, error) {
	if len(args) == 0 {
		addrs := n.Addresses()
		res := make([]string, len(addrs))
		for i, a := range addrs {
			res[i] = a.String()
		}
		return res, nil
	}
	t, err := ParseAddrType(args[0])
	if err != nil || t == AddrAny {
		return nil, fmt.Errorf("%w: ipaddr %s", ErrUnknownCommand, args[0])
	}
	a, ok := n.Addr(t)
	if !ok {
		return nil, nil
	}
	return []string{a.String()}, nil
}

func (r *Runtime) cmdLeaderData(n *Node) ([]string, error) {
	lid, ok := r.Leader(n.partitionID)
	if !ok || !n.role.IsAttached() {
		return nil, fmt.Errorf("node %d has no leader", n.ID)
	}
	rid, _ := r.nodes[lid].RouterID()
	return []string{
		fmt.Sprintf("Partition ID: %d", n.partitionID),
		"Weighting: 64",
		fmt.Sprintf("Leader Router ID: %d", rid),
	}, nil
}

func (r *Runtime) singleton(n *Node) bool {
	if n.role != model.RoleLeader {
		return false
	}
	p := r.partitions[n.partitionID]
	return p != nil && len(p.routers) == 1
}

func (r *Runtime) neighborList(n *Node) string {
	var parts []string
	for _, id := range r.topo.Neighbors(n.ID) {
		c := r.nodes[id]
		if c == nil || !c.role.IsAttached() {
			continue
		}
		parts = append(parts, fmt.Sprintf("0x%04x", c.rloc16))
	}
	return strings.Join(parts, " ")
}
