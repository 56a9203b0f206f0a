package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/mesh-simulator/internal/config"
	"github.com/signalsfoundry/mesh-simulator/internal/controlapi"
	"github.com/signalsfoundry/mesh-simulator/timectrl"
)

func execute(t *testing.T, in string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetArgs(args)
	root.SetIn(strings.NewReader(in))
	root.SetOut(&out)
	root.SetErr(&out)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "meshsim version "+version)

	out, err = execute(t, "", "version", "--json")
	require.NoError(t, err)
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, version, v["version"])
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("simulation:\n  seed: 5\n  speed: 2\ncontrol:\n  grpc_addr: 127.0.0.1:7000\n"), 0o644))

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", path,
		"--speed", "max",
		"--grpc-addr", "off",
		"--radio-range", "250",
		"--no-cli",
	}))
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), cfg.Simulation.Seed, "file value kept")
	assert.Equal(t, timectrl.MaxSpeed, cfg.Simulation.Speed)
	assert.Empty(t, cfg.Control.GRPCAddr)
	assert.Equal(t, 250, cfg.Radio.DefaultRange)
	assert.False(t, cfg.Control.CLI)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--speed", "fast"}))
	_, err := loadConfig(cmd)
	assert.Error(t, err)

	cmd = newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--log-level", "loud"}))
	_, err = loadConfig(cmd)
	assert.Error(t, err)
}

func TestRunTextSessionWithRecordings(t *testing.T) {
	dir := t.TempDir()
	pcapPath := filepath.Join(dir, "current.pcap")
	dbPath := filepath.Join(dir, "replay.db")

	script := strings.Join([]string{
		"add router x 0 y 0",
		"add router x 80 y 0",
		"go 60",
		"partitions",
		"ping 1 2",
		"go 5",
		"pings",
		"bogus",
		"exit",
	}, "\n") + "\n"

	out, err := execute(t, script,
		"--speed", "max",
		"--grpc-addr", "off",
		"--web-addr", "off",
		"--pcap", pcapPath,
		"--replay-db", dbPath,
		"--log-level", "error",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "1\nDone")
	assert.Contains(t, out, "2\nDone")
	assert.Regexp(t, `partition=[0-9a-f]{8}\tnodes=1,2`, out)
	assert.Regexp(t, `node=1\s+dst=\S+\s+datasize=\d+\s+delay=`, out)
	assert.Contains(t, out, "Error: ")

	info, err := os.Stat(pcapPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(24), "pcap holds more than the file header")

	sessions, err := execute(t, "", "replay", dbPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(sessions), "\n")
	require.Len(t, lines, 1)

	events, err := execute(t, "", "replay", dbPath, "last", "--kind", "add")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(events, " add "))

	_, err = execute(t, "", "replay", dbPath, "no-such-session")
	assert.Error(t, err)
}

func TestRunServesGRPCAndWeb(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Simulation.Speed = timectrl.MaxSpeed
	cfg.Control.GRPCAddr = "127.0.0.1:0"
	cfg.Control.WebAddr = "127.0.0.1:0"
	cfg.Control.CLI = false
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := newApp(ctx, cfg, io.Discard)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.run(ctx, nil) }()
	select {
	case <-a.ready:
	case <-time.After(10 * time.Second):
		t.Fatal("simulator did not become ready")
	}

	client, conn, err := controlapi.Dial(a.grpcLis.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	callCtx, callCancel := context.WithTimeout(ctx, 10*time.Second)
	defer callCancel()
	n, err := client.AddNode(callCtx, &controlapi.AddNodeRequest{Type: "router"})
	require.NoError(t, err)
	assert.Equal(t, 1, n.ID)
	_, err = client.Go(callCtx, 10*time.Second)
	require.NoError(t, err)

	url, err := client.Web(callCtx)
	require.NoError(t, err)
	resp, err := http.Get(url + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "simulation_nodes 1")
	assert.Contains(t, string(body), "control_requests_total")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("simulator did not shut down")
	}
}
