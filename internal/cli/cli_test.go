package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/mesh-simulator/internal/sim"
	"github.com/signalsfoundry/mesh-simulator/timectrl"
)

func newTestRunner(t *testing.T, opts ...Option) (*Runner, *sim.Engine) {
	t.Helper()
	cfg := sim.DefaultConfig()
	cfg.Speed = timectrl.MaxSpeed
	cfg.Seed = 7
	e, err := sim.New(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Stop)
	return NewRunner(e, opts...), e
}

// exec runs line and returns its output lines without the final status
// line, failing the test unless the status is Done.
func exec(t *testing.T, r *Runner, line string) []string {
	t.Helper()
	var buf bytes.Buffer
	err := r.Execute(context.Background(), line, &buf)
	require.NoError(t, err, "command %q output:\n%s", line, buf.String())
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Equal(t, "Done", lines[len(lines)-1])
	return lines[:len(lines)-1]
}

func execErr(t *testing.T, r *Runner, line string) string {
	t.Helper()
	var buf bytes.Buffer
	err := r.Execute(context.Background(), line, &buf)
	require.Error(t, err, "command %q should fail", line)
	out := strings.TrimRight(buf.String(), "\n")
	last := out[strings.LastIndex(out, "\n")+1:]
	require.True(t, strings.HasPrefix(last, "Error: "), "got %q", out)
	return strings.TrimPrefix(last, "Error: ")
}

func TestTokenize(t *testing.T) {
	cases := []struct {
		line string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"add router x 10", []string{"add", "router", "x", "10"}},
		{`node 1 "state"`, []string{"node", "1", "state"}},
		{`countdown 3 "left: %v s"`, []string{"countdown", "3", "left: %v s"}},
		{`debug echo "a \"b\" \\c"`, []string{"debug", "echo", `a "b" \c`}},
		{`x ""`, []string{"x", ""}},
	}
	for _, tc := range cases {
		got, err := Tokenize(tc.line)
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}
	_, err := Tokenize(`node 1 "state`)
	assert.Error(t, err)
}

func TestAddAndNodes(t *testing.T) {
	r, _ := newTestRunner(t)

	assert.Equal(t, []string{"1"}, exec(t, r, "add router"))
	assert.Equal(t, []string{"5"}, exec(t, r, "add fed x 100 y 50 id 5"))
	assert.Equal(t, []string{"2"}, exec(t, r, "add sed x 10 y 20 rr 80"))

	lines := exec(t, r, "nodes")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "id=1\t")
	assert.Contains(t, lines[1], "id=2\t")
	assert.Contains(t, lines[1], "x=10\ty=20\tfailed=false")
	assert.Contains(t, lines[2], "id=5\t")

	assert.Contains(t, execErr(t, r, "add gateway"), "gateway")
	assert.Contains(t, execErr(t, r, "add router id 5"), "5")
	assert.Contains(t, execErr(t, r, "add router x"), "missing value")
	assert.Contains(t, execErr(t, r, "add router z 3"), "unexpected argument")
	assert.Contains(t, execErr(t, r, "add router rr 0"), "radio range")
}

func TestDelContinuesPastUnknown(t *testing.T) {
	r, e := newTestRunner(t)
	exec(t, r, "add router")
	exec(t, r, "add router x 50")

	msg := execErr(t, r, "del 1 9 2")
	assert.Contains(t, msg, "9")
	nodes, err := e.Nodes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestGoPartitionsAndPing(t *testing.T) {
	r, _ := newTestRunner(t)
	exec(t, r, "add router")
	exec(t, r, "add router x 100")
	exec(t, r, "add med x 50 y 50")

	exec(t, r, "go 120")
	pts := exec(t, r, "pts")
	require.Len(t, pts, 1)
	assert.Regexp(t, `^partition=[0-9a-f]{8}\tnodes=1,2,3$`, pts[0])

	comps := exec(t, r, "components")
	assert.Equal(t, []string{"component=1\tnodes=1,2,3"}, comps)

	exec(t, r, "ping 1 3 datasize 20 count 2 interval 1")
	exec(t, r, "go 5")
	pings := exec(t, r, "pings")
	require.Len(t, pings, 2)
	for _, p := range pings {
		assert.Regexp(t, `^node=1 +dst=fd\S+ +datasize=20  delay=\d+\.\d{3}ms$`, p)
	}
	assert.Empty(t, exec(t, r, "pings"), "pings are drained")

	joins := exec(t, r, "joins")
	require.Len(t, joins, 3)
	assert.Regexp(t, `^node=1 +join=\d+\.\d{3}s session=\d+\.\d{3}s$`, joins[0])

	counters := exec(t, r, "counters")
	require.NotEmpty(t, counters)
	assert.True(t, strings.HasPrefix(counters[0], "EventsDispatched "))
}

func TestPingArguments(t *testing.T) {
	r, _ := newTestRunner(t)
	exec(t, r, "add router")
	exec(t, r, "add router x 50")
	exec(t, r, "go 60")

	exec(t, r, "ping 1 2 rloc")
	exec(t, r, "ping 1 2 linklocal hop 1")
	exec(t, r, `ping 1 "fdde:ad00:beef:0:0:ff:fe00:fc00"`)
	assert.Contains(t, execErr(t, r, "ping 1"), "usage")
	assert.Contains(t, execErr(t, r, "ping 1 zz"), "invalid destination")
	assert.Contains(t, execErr(t, r, "ping 1 2 count 0"), "count")
	assert.Contains(t, execErr(t, r, "ping 1 7"), "7")
}

func TestSpeedAndPlr(t *testing.T) {
	r, _ := newTestRunner(t)
	exec(t, r, "speed 4")
	assert.Equal(t, []string{"4"}, exec(t, r, "speed"))
	exec(t, r, "speed max")
	assert.Equal(t, []string{"1e+06"}, exec(t, r, "speed"))
	execErr(t, r, "speed fast")

	assert.Equal(t, []string{"0"}, exec(t, r, "plr"))
	assert.Equal(t, []string{"1"}, exec(t, r, "plr 3"))
	assert.Equal(t, []string{"0.25"}, exec(t, r, "plr 0.25"))
}

func TestGoWithSpeed(t *testing.T) {
	r, e := newTestRunner(t)
	exec(t, r, "go 2.5 speed max")
	assert.Equal(t, 2500*time.Millisecond, e.Elapsed())
	execErr(t, r, "go 1 pace 3")
	execErr(t, r, "go -1")
}

func TestGoEverStopsOnCancel(t *testing.T) {
	r, _ := newTestRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var buf bytes.Buffer
	err := r.Execute(ctx, "go ever", &buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestMoveAndRadio(t *testing.T) {
	r, e := newTestRunner(t)
	exec(t, r, "add router")
	exec(t, r, "add router x 50")
	exec(t, r, "move 2 -30 40")

	info, err := e.Node(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, -30, info.Position.X)
	assert.Equal(t, 40, info.Position.Y)

	exec(t, r, "radio 1 2 off")
	for _, l := range exec(t, r, "nodes") {
		assert.Contains(t, l, "failed=true")
	}
	exec(t, r, "radio 1 2 on")
	exec(t, r, "radio 1 ft 10 4")
	exec(t, r, "radio 1 ft 0 0")
	execErr(t, r, "radio 1 sideways")
	execErr(t, r, "radio on")
	assert.Contains(t, execErr(t, r, "radio 1 8 off"), "8")
	execErr(t, r, "move 1 2")
}

func TestNodeCommand(t *testing.T) {
	r, _ := newTestRunner(t)
	exec(t, r, "add router")
	exec(t, r, "go 30")
	assert.Equal(t, []string{"leader"}, exec(t, r, `node 1 "state"`))
	execErr(t, r, `node 1 "bogus"`)
	execErr(t, r, `node 4 "state"`)
}

func TestVisualization(t *testing.T) {
	r, e := newTestRunner(t)
	lines := exec(t, r, "visualization")
	assert.Equal(t, []string{"broadcast on", "unicast on", "ack off", "routertable on", "childtable on"}, lines)

	exec(t, r, "visualization broadcast off ack on")
	opts := e.VisualizationOptions()
	assert.False(t, opts.BroadcastMessage)
	assert.True(t, opts.AckMessage)
	execErr(t, r, "visualization broadcast maybe")
	execErr(t, r, "visualization colour on")
}

func TestMiscCommands(t *testing.T) {
	exited := false
	r, _ := newTestRunner(t,
		WithWebURL(func() (string, error) { return "http://127.0.0.1:8997", nil }),
		WithExitHook(func() { exited = true }),
	)
	exec(t, r, "countdown 10")
	exec(t, r, `countdown 10 "%v seconds left"`)
	exec(t, r, `demo_legend "Demo" 10 20`)
	assert.Equal(t, []string{"http://127.0.0.1:8997"}, exec(t, r, "web"))
	assert.Equal(t, []string{"hello world"}, exec(t, r, `debug echo "hello world"`))
	assert.Equal(t, "debug failed", execErr(t, r, "debug fail"))
	assert.Contains(t, execErr(t, r, "frobnicate"), "unknown command")
	assert.Contains(t, execErr(t, r, `node 1 "unterminated`), "quote")

	var buf bytes.Buffer
	err := r.Execute(context.Background(), "exit", &buf)
	assert.ErrorIs(t, err, ErrExit)
	assert.Equal(t, "Done\n", buf.String())
	assert.True(t, exited)
}

func TestWebDisabled(t *testing.T) {
	r, _ := newTestRunner(t)
	assert.Contains(t, execErr(t, r, "web"), "not enabled")
}

type panicSim struct{ Simulation }

func (panicSim) Speed() float64 { panic("boom") }

func TestPanicBecomesError(t *testing.T) {
	r := NewRunner(panicSim{})
	assert.Equal(t, "panic: boom", execErr(t, r, "speed"))
}

type countingMetrics struct {
	names []string
	errs  int
}

func (m *countingMetrics) ObserveCommand(name string, _ time.Duration, err error) {
	m.names = append(m.names, name)
	if err != nil {
		m.errs++
	}
}

func TestServe(t *testing.T) {
	m := &countingMetrics{}
	r, _ := newTestRunner(t, WithCommandMetrics(m))
	in := strings.NewReader("add router\n\nnodes\nbogus\nexit\nadd router\n")
	var out bytes.Buffer
	require.NoError(t, r.Serve(context.Background(), in, &out, "> "))

	got := out.String()
	assert.Equal(t, 1, strings.Count(got, "id=1\t"))
	assert.Equal(t, 4, strings.Count(got, "Done\n")+strings.Count(got, "Error: "))
	assert.NotContains(t, got, "\n2\n", "commands after exit are not run")
	assert.Equal(t, []string{"add", "nodes", "bogus", "exit"}, m.names)
	assert.Equal(t, 1, m.errs)
}
