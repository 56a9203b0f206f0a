package cli

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/mesh-simulator/internal/node"
	"github.com/signalsfoundry/mesh-simulator/internal/sim"
	"github.com/signalsfoundry/mesh-simulator/model"
	"github.com/signalsfoundry/mesh-simulator/timectrl"
)

// goEverStep is the chunk of simulated time "go ever" advances at once.
const goEverStep = time.Hour

type runFunc func(cmd *cobra.Command, args []string) error

// leaf builds a command that takes raw positional arguments; the
// keyword grammar is parsed by the command itself.
func leaf(use, short string, fn runFunc, aliases ...string) *cobra.Command {
	return &cobra.Command{
		Use:                use,
		Short:              short,
		Aliases:            aliases,
		DisableFlagParsing: true,
		RunE:               fn,
	}
}

func (r *Runner) commands() []*cobra.Command {
	return []*cobra.Command{
		leaf("add <router|fed|med|sed> [x N] [y N] [id N] [rr N]", "Add a node", r.cmdAdd),
		leaf("del <id>...", "Delete nodes", r.cmdDel),
		leaf("move <id> <x> <y>", "Move a node", r.cmdMove),
		leaf("go <seconds>|ever [speed F]", "Advance simulated time", r.cmdGo),
		leaf("speed [F|max]", "Show or set the simulation speed", r.cmdSpeed),
		leaf("plr [ratio]", "Show or set the packet loss ratio", r.cmdPlr),
		leaf("ping <src> <dst|\"addr\"> [any|mleid|rloc|linklocal] [datasize N] [count N] [interval N] [hop N]", "Send echo requests", r.cmdPing),
		leaf("partitions", "List partitions", r.cmdPartitions, "pts"),
		leaf("components", "List radio connectivity components", r.cmdComponents),
		leaf("nodes", "List nodes", r.cmdNodes),
		leaf("node <id> \"<command>\"", "Run a node command", r.cmdNode),
		leaf("radio <id>... on|off|ft <interval> <duration>", "Control node radios", r.cmdRadio),
		leaf("pings", "Collect ping results", r.cmdPings),
		leaf("joins", "Collect join results", r.cmdJoins),
		leaf("counters", "Show simulation counters", r.cmdCounters),
		leaf("countdown <seconds> [\"text\"]", "Show a countdown", r.cmdCountDown),
		leaf("demo_legend \"title\" <x> <y>", "Show a demo legend", r.cmdDemoLegend),
		leaf("web", "Show the web status address", r.cmdWeb),
		leaf("visualization [broadcast|unicast|ack|routertable|childtable on|off]...", "Show or set visualization options", r.cmdVisualization),
		leaf("debug [echo \"text\"] [fail]", "Debugging helpers", r.cmdDebug),
		leaf("exit", "Stop the simulation", r.cmdExit),
	}
}

func outf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

func parseInt(s, what string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return v, nil
}

func parseFloat(s, what string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return v, nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// keywordInts parses "key value" pairs whose values are integers.
func keywordInts(args []string, allowed ...string) (map[string]int, error) {
	res := make(map[string]int)
	for i := 0; i < len(args); i += 2 {
		key := args[i]
		ok := false
		for _, a := range allowed {
			ok = ok || a == key
		}
		if !ok {
			return nil, fmt.Errorf("unexpected argument %q", key)
		}
		if i+1 >= len(args) {
			return nil, fmt.Errorf("missing value for %s", key)
		}
		v, err := parseInt(args[i+1], key)
		if err != nil {
			return nil, err
		}
		res[key] = v
	}
	return res, nil
}

func (r *Runner) cmdAdd(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: add <type> [x N] [y N] [id N] [rr N]")
	}
	typ, err := model.ParseNodeType(args[0])
	if err != nil {
		return fmt.Errorf("%w: %q", sim.ErrInvalidNodeType, args[0])
	}
	kv, err := keywordInts(args[1:], "x", "y", "id", "rr")
	if err != nil {
		return err
	}
	cfg := model.DefaultNodeConfig()
	cfg.Type = typ
	cfg.RadioRange = 0
	cfg.Position = model.Position{X: kv["x"], Y: kv["y"]}
	cfg.ID = kv["id"]
	if rr, ok := kv["rr"]; ok {
		if rr <= 0 {
			return fmt.Errorf("radio range must be positive, got %d", rr)
		}
		cfg.RadioRange = rr
	}
	info, err := r.sim.AddNode(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	outf(cmd, "%d\n", info.ID)
	return nil
}

func (r *Runner) cmdDel(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: del <id>...")
	}
	ids := make([]model.NodeID, 0, len(args))
	for _, a := range args {
		id, err := parseInt(a, "node id")
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	return r.sim.DeleteNode(cmd.Context(), ids...)
}

func (r *Runner) cmdMove(cmd *cobra.Command, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: move <id> <x> <y>")
	}
	var v [3]int
	for i, what := range []string{"node id", "x", "y"} {
		n, err := parseInt(args[i], what)
		if err != nil {
			return err
		}
		v[i] = n
	}
	return r.sim.MoveNodeTo(cmd.Context(), v[0], v[1], v[2])
}

func (r *Runner) cmdGo(cmd *cobra.Command, args []string) error {
	if len(args) != 1 && len(args) != 3 {
		return fmt.Errorf("usage: go <seconds>|ever [speed F]")
	}
	if len(args) == 3 {
		if args[1] != "speed" {
			return fmt.Errorf("unexpected argument %q", args[1])
		}
		speed, err := parseSpeed(args[2])
		if err != nil {
			return err
		}
		if _, err := r.sim.SetSpeed(cmd.Context(), speed); err != nil {
			return err
		}
	}
	ctx := cmd.Context()
	if args[0] == "ever" {
		for {
			if err := r.sim.Go(ctx, goEverStep); err != nil {
				return err
			}
		}
	}
	secs, err := parseFloat(args[0], "duration")
	if err != nil {
		return err
	}
	return r.sim.Go(ctx, seconds(secs))
}

func parseSpeed(s string) (float64, error) {
	if s == "max" {
		return timectrl.MaxSpeed, nil
	}
	return parseFloat(s, "speed")
}

func (r *Runner) cmdSpeed(cmd *cobra.Command, args []string) error {
	switch len(args) {
	case 0:
		outf(cmd, "%v\n", r.sim.Speed())
		return nil
	case 1:
		speed, err := parseSpeed(args[0])
		if err != nil {
			return err
		}
		_, err = r.sim.SetSpeed(cmd.Context(), speed)
		return err
	}
	return fmt.Errorf("usage: speed [F|max]")
}

func (r *Runner) cmdPlr(cmd *cobra.Command, args []string) error {
	switch len(args) {
	case 0:
		outf(cmd, "%v\n", r.sim.PacketLossRatio())
		return nil
	case 1:
		v, err := parseFloat(args[0], "ratio")
		if err != nil {
			return err
		}
		applied, err := r.sim.SetPacketLossRatio(cmd.Context(), v)
		if err != nil {
			return err
		}
		outf(cmd, "%v\n", applied)
		return nil
	}
	return fmt.Errorf("usage: plr [ratio]")
}

func (r *Runner) cmdPing(cmd *cobra.Command, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: ping <src> <dst|\"addr\"> [addrtype] [datasize N] [count N] [interval N] [hop N]")
	}
	src, err := parseInt(args[0], "src node")
	if err != nil {
		return err
	}
	req := sim.PingRequest{Src: src}
	if id, err := strconv.Atoi(args[1]); err == nil {
		req.Dst = id
	} else {
		addr, perr := netip.ParseAddr(args[1])
		if perr != nil {
			return fmt.Errorf("invalid destination %q", args[1])
		}
		req.DstAddr = addr
	}
	rest := args[2:]
	if len(rest) > 0 {
		if t, err := node.ParseAddrType(rest[0]); err == nil {
			if req.Dst == model.InvalidNodeID {
				return fmt.Errorf("address type needs a destination node id")
			}
			req.AddrType = t
			rest = rest[1:]
		}
	}
	kv, err := keywordInts(rest, "datasize", "count", "interval", "hop")
	if err != nil {
		return err
	}
	if v, ok := kv["datasize"]; ok {
		if v <= 0 {
			return fmt.Errorf("datasize must be positive")
		}
		req.DataSize = v
	}
	if v, ok := kv["count"]; ok {
		if v <= 0 {
			return fmt.Errorf("count must be positive")
		}
		req.Count = v
	}
	if v, ok := kv["interval"]; ok {
		if v <= 0 {
			return fmt.Errorf("interval must be positive")
		}
		req.Interval = time.Duration(v) * time.Second
	}
	if v, ok := kv["hop"]; ok {
		if v <= 0 {
			return fmt.Errorf("hop limit must be positive")
		}
		req.HopLimit = v
	}
	return r.sim.Ping(cmd.Context(), req)
}

func joinIDs(ids []model.NodeID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func (r *Runner) cmdPartitions(cmd *cobra.Command, args []string) error {
	parts, err := r.sim.Partitions(cmd.Context())
	if err != nil {
		return err
	}
	pids := make([]uint32, 0, len(parts))
	for pid := range parts {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	for _, pid := range pids {
		ids := append([]model.NodeID(nil), parts[pid]...)
		sort.Ints(ids)
		outf(cmd, "partition=%08x\tnodes=%s\n", pid, joinIDs(ids))
	}
	return nil
}

func (r *Runner) cmdComponents(cmd *cobra.Command, args []string) error {
	comps, err := r.sim.Components(cmd.Context())
	if err != nil {
		return err
	}
	for i, c := range comps {
		outf(cmd, "component=%d\tnodes=%s\n", i+1, joinIDs(c))
	}
	return nil
}

func (r *Runner) cmdNodes(cmd *cobra.Command, args []string) error {
	nodes, err := r.sim.Nodes(cmd.Context())
	if err != nil {
		return err
	}
	for _, n := range nodes {
		outf(cmd, "id=%d\textaddr=%016x\trloc16=%04x\tx=%d\ty=%d\tfailed=%v\n",
			n.ID, n.ExtAddr, n.Rloc16, n.Position.X, n.Position.Y, n.Failed)
	}
	return nil
}

func (r *Runner) cmdNode(cmd *cobra.Command, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: node <id> \"<command>\"")
	}
	id, err := parseInt(args[0], "node id")
	if err != nil {
		return err
	}
	lines, err := r.sim.NodeCommand(cmd.Context(), id, args[1])
	if err != nil {
		return err
	}
	for _, l := range lines {
		outf(cmd, "%s\n", l)
	}
	return nil
}

func (r *Runner) cmdRadio(cmd *cobra.Command, args []string) error {
	var ids []model.NodeID
	i := 0
	for ; i < len(args); i++ {
		id, err := strconv.Atoi(args[i])
		if err != nil {
			break
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 || i >= len(args) {
		return fmt.Errorf("usage: radio <id>... on|off|ft <interval> <duration>")
	}
	ctx := cmd.Context()
	apply := func(fn func(id model.NodeID) error) error {
		var errs []string
		for _, id := range ids {
			if err := fn(id); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}
	switch args[i] {
	case "on", "off":
		if i+1 != len(args) {
			return fmt.Errorf("unexpected argument %q", args[i+1])
		}
		failed := args[i] == "off"
		return apply(func(id model.NodeID) error { return r.sim.SetNodeFailed(ctx, id, failed) })
	case "ft":
		if i+3 != len(args) {
			return fmt.Errorf("usage: radio <id>... ft <interval> <duration>")
		}
		interval, err := parseFloat(args[i+1], "fail interval")
		if err != nil {
			return err
		}
		duration, err := parseFloat(args[i+2], "fail duration")
		if err != nil {
			return err
		}
		ft := model.NonFailTime
		if interval > 0 && duration > 0 {
			ft = model.FailTime{FailInterval: seconds(interval), FailDuration: seconds(duration)}
		}
		return apply(func(id model.NodeID) error { return r.sim.SetFailTime(ctx, id, ft) })
	}
	return fmt.Errorf("unexpected argument %q", args[i])
}

func sortedIDs[V any](m map[model.NodeID]V) []model.NodeID {
	ids := make([]model.NodeID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (r *Runner) cmdPings(cmd *cobra.Command, args []string) error {
	pings, err := r.sim.CollectPings(cmd.Context())
	if err != nil {
		return err
	}
	for _, id := range sortedIDs(pings) {
		for _, p := range pings[id] {
			outf(cmd, "node=%-4d dst=%-40s datasize=%-3d delay=%.3fms\n",
				id, p.Dst, p.DataSize, float64(p.Delay)/float64(time.Millisecond))
		}
	}
	return nil
}

func (r *Runner) cmdJoins(cmd *cobra.Command, args []string) error {
	joins, err := r.sim.CollectJoins(cmd.Context())
	if err != nil {
		return err
	}
	for _, id := range sortedIDs(joins) {
		j := joins[id]
		outf(cmd, "node=%-4d join=%.3fs session=%.3fs\n", id, j.JoinDuration.Seconds(), j.SessionDuration.Seconds())
	}
	return nil
}

func (r *Runner) cmdCounters(cmd *cobra.Command, args []string) error {
	for _, f := range r.sim.Counters().Fields() {
		outf(cmd, "%-40s %v\n", f.Name, f.Value)
	}
	return nil
}

func (r *Runner) cmdCountDown(cmd *cobra.Command, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: countdown <seconds> [\"text\"]")
	}
	secs, err := parseInt(args[0], "seconds")
	if err != nil {
		return err
	}
	text := ""
	if len(args) == 2 {
		text = args[1]
	}
	return r.sim.CountDown(cmd.Context(), time.Duration(secs)*time.Second, text)
}

func (r *Runner) cmdDemoLegend(cmd *cobra.Command, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: demo_legend \"title\" <x> <y>")
	}
	x, err := parseInt(args[1], "x")
	if err != nil {
		return err
	}
	y, err := parseInt(args[2], "y")
	if err != nil {
		return err
	}
	return r.sim.ShowDemoLegend(cmd.Context(), x, y, args[0])
}

func (r *Runner) cmdWeb(cmd *cobra.Command, args []string) error {
	if r.webURL == nil {
		return fmt.Errorf("web server is not enabled")
	}
	url, err := r.webURL()
	if err != nil {
		return err
	}
	outf(cmd, "%s\n", url)
	return nil
}

func onOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func (r *Runner) cmdVisualization(cmd *cobra.Command, args []string) error {
	opts := r.sim.VisualizationOptions()
	if len(args) == 0 {
		for _, kv := range []struct {
			name string
			on   bool
		}{
			{"broadcast", opts.BroadcastMessage},
			{"unicast", opts.UnicastMessage},
			{"ack", opts.AckMessage},
			{"routertable", opts.RouterTable},
			{"childtable", opts.ChildTable},
		} {
			state := "off"
			if kv.on {
				state = "on"
			}
			outf(cmd, "%s %s\n", kv.name, state)
		}
		return nil
	}
	if len(args)%2 != 0 {
		return fmt.Errorf("usage: visualization [name on|off]...")
	}
	for i := 0; i < len(args); i += 2 {
		on, err := onOff(args[i+1])
		if err != nil {
			return err
		}
		switch args[i] {
		case "broadcast":
			opts.BroadcastMessage = on
		case "unicast":
			opts.UnicastMessage = on
		case "ack":
			opts.AckMessage = on
		case "routertable":
			opts.RouterTable = on
		case "childtable":
			opts.ChildTable = on
		default:
			return fmt.Errorf("unknown visualization option %q", args[i])
		}
	}
	return r.sim.SetVisualizationOptions(cmd.Context(), opts)
}

func (r *Runner) cmdDebug(cmd *cobra.Command, args []string) error {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "echo":
			if i+1 >= len(args) {
				return fmt.Errorf("usage: debug echo \"text\"")
			}
			outf(cmd, "%s\n", args[i+1])
			i++
		case "fail":
			return fmt.Errorf("debug failed")
		default:
			return fmt.Errorf("unexpected argument %q", args[i])
		}
	}
	return nil
}

func (r *Runner) cmdExit(cmd *cobra.Command, args []string) error {
	if r.onExit != nil {
		r.onExit()
	}
	return ErrExit
}
