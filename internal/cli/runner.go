// Package cli implements the line oriented control protocol: one command
// per line, answered by its output lines and a final "Done" or
// "Error: <message>" line.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/mesh-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-simulator/internal/sim"
	"github.com/signalsfoundry/mesh-simulator/internal/visualize"
	"github.com/signalsfoundry/mesh-simulator/model"
)

// ErrExit is returned by Execute after the exit command.
var ErrExit = errors.New("exit requested")

// Simulation is the engine surface the commands drive.
type Simulation interface {
	AddNode(ctx context.Context, cfg model.NodeConfig) (model.NodeInfo, error)
	DeleteNode(ctx context.Context, ids ...model.NodeID) error
	MoveNodeTo(ctx context.Context, id model.NodeID, x, y int) error
	Go(ctx context.Context, d time.Duration) error
	Speed() float64
	SetSpeed(ctx context.Context, speed float64) (float64, error)
	PacketLossRatio() float64
	SetPacketLossRatio(ctx context.Context, plr float64) (float64, error)
	Ping(ctx context.Context, req sim.PingRequest) error
	Partitions(ctx context.Context) (map[uint32][]model.NodeID, error)
	Components(ctx context.Context) ([][]model.NodeID, error)
	Nodes(ctx context.Context) ([]model.NodeInfo, error)
	NodeCommand(ctx context.Context, id model.NodeID, cmd string) ([]string, error)
	SetNodeFailed(ctx context.Context, id model.NodeID, failed bool) error
	SetFailTime(ctx context.Context, id model.NodeID, ft model.FailTime) error
	CollectPings(ctx context.Context) (map[model.NodeID][]model.PingResult, error)
	CollectJoins(ctx context.Context) (map[model.NodeID]model.JoinResult, error)
	Counters() sim.Counters
	CountDown(ctx context.Context, d time.Duration, text string) error
	ShowDemoLegend(ctx context.Context, x, y int, title string) error
	VisualizationOptions() visualize.Options
	SetVisualizationOptions(ctx context.Context, opts visualize.Options) error
}

// CommandMetrics observes executed commands.
type CommandMetrics interface {
	ObserveCommand(name string, d time.Duration, err error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger commands are logged to.
func WithLogger(l logging.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithWebURL sets the function the web command reports the status
// server address with.
func WithWebURL(fn func() (string, error)) Option {
	return func(r *Runner) { r.webURL = fn }
}

// WithExitHook sets a function called by the exit command.
func WithExitHook(fn func()) Option {
	return func(r *Runner) { r.onExit = fn }
}

// WithCommandMetrics attaches a command metrics recorder.
func WithCommandMetrics(m CommandMetrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// Runner executes command lines against a Simulation.
type Runner struct {
	sim     Simulation
	log     logging.Logger
	webURL  func() (string, error)
	onExit  func()
	metrics CommandMetrics
}

// NewRunner creates a runner for s.
func NewRunner(s Simulation, opts ...Option) *Runner {
	r := &Runner{sim: s, log: logging.Noop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs one command line, writing its output followed by "Done"
// or "Error: <message>" to out. Empty lines produce no output. The
// returned error is the command's failure, or ErrExit after exit.
func (r *Runner) Execute(ctx context.Context, line string, out io.Writer) (err error) {
	tokens, err := Tokenize(line)
	if err == nil && len(tokens) == 0 {
		return nil
	}
	ctx, reqID := logging.EnsureRequestID(ctx)
	name := ""
	if len(tokens) > 0 {
		name = tokens[0]
	}
	start := time.Now()

	if err == nil {
		err = r.run(ctx, tokens, out)
	}

	if r.metrics != nil {
		r.metrics.ObserveCommand(name, time.Since(start), err)
	}
	switch {
	case err == nil || errors.Is(err, ErrExit):
		fmt.Fprintln(out, "Done")
		r.log.Debug(ctx, "command done", logging.String("request_id", reqID), logging.String("command", line))
	default:
		fmt.Fprintf(out, "Error: %s\n", strings.ReplaceAll(err.Error(), "\n", "; "))
		r.log.Info(ctx, "command failed",
			logging.String("request_id", reqID), logging.String("command", line), logging.Err(err))
	}
	return err
}

// run dispatches tokens through the command tree, turning panics into
// errors.
func (r *Runner) run(ctx context.Context, tokens []string, out io.Writer) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	root := r.newRootCmd(out)
	root.SetArgs(tokens)
	return root.ExecuteContext(ctx)
}

// Serve reads commands from in until EOF, exit or ctx cancellation. A
// non-empty prompt is written before each command.
func (r *Runner) Serve(ctx context.Context, in io.Reader, out io.Writer, prompt string) error {
	sc := bufio.NewScanner(in)
	for {
		if prompt != "" {
			fmt.Fprint(out, prompt)
		}
		if !sc.Scan() {
			return sc.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := r.Execute(ctx, sc.Text(), out); errors.Is(err, ErrExit) {
			return nil
		}
	}
}

func (r *Runner) newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "meshsim",
		Short:         "Mesh network simulator control commands",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(out)
	root.SetErr(out)
	root.AddCommand(r.commands()...)
	return root
}
