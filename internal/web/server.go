// Package web serves the simulation status as JSON over HTTP alongside
// the Prometheus /metrics endpoint.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/mesh-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-simulator/internal/sim"
	"github.com/signalsfoundry/mesh-simulator/model"
)

// ErrNotStarted is returned by URL before Start succeeded.
var ErrNotStarted = errors.New("web server not started")

// Simulation is the engine surface the status pages read.
type Simulation interface {
	Nodes(ctx context.Context) ([]model.NodeInfo, error)
	Partitions(ctx context.Context) (map[uint32][]model.NodeID, error)
	Status(ctx context.Context) (sim.Status, error)
}

// Server serves /api/nodes, /api/partitions, /api/status and, when a
// metrics handler is given, /metrics.
type Server struct {
	sim     Simulation
	metrics http.Handler
	log     logging.Logger

	mu   sync.Mutex
	srv  *http.Server
	addr string
	done chan error
}

// NewServer creates a server; metrics may be nil.
func NewServer(s Simulation, metrics http.Handler, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{sim: s, metrics: metrics, log: log}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/nodes", s.handleNodes)
	mux.HandleFunc("GET /api/partitions", s.handlePartitions)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Start listens on addr and serves in the background. Calling Start on a
// running server is a no-op.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web listen %s: %w", addr, err)
	}
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.addr = lis.Addr().String()
	s.done = make(chan error, 1)
	go func(srv *http.Server, done chan<- error) {
		err := srv.Serve(lis)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}(s.srv, s.done)
	s.log.Info(context.Background(), "serving web status", logging.String("addr", s.addr))
	return nil
}

// URL returns the base URL of the running server.
func (s *Server) URL() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return "", ErrNotStarted
	}
	return "http://" + s.addr, nil
}

// Shutdown stops the server gracefully and returns the serve error, if any.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-done
}

type nodeJSON struct {
	ID          int    `json:"id"`
	Type        string `json:"type"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	RadioRange  int    `json:"radio_range"`
	ExtAddr     string `json:"ext_addr"`
	Rloc16      string `json:"rloc16"`
	Role        string `json:"role"`
	PartitionID string `json:"partition_id"`
	Failed      bool   `json:"failed"`
}

type partitionJSON struct {
	ID    string `json:"id"`
	Nodes []int  `json:"nodes"`
}

type statusJSON struct {
	Now             time.Time         `json:"now"`
	ElapsedSeconds  float64           `json:"elapsed_seconds"`
	Speed           float64           `json:"speed"`
	PacketLossRatio float64           `json:"packet_loss_ratio"`
	Nodes           int               `json:"nodes"`
	Partitions      int               `json:"partitions"`
	Components      int               `json:"components"`
	PendingEvents   int               `json:"pending_events"`
	Counters        map[string]uint64 `json:"counters"`
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	infos, err := s.sim.Nodes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]nodeJSON, 0, len(infos))
	for _, n := range infos {
		out = append(out, nodeJSON{
			ID:          n.ID,
			Type:        string(n.Type),
			X:           n.Position.X,
			Y:           n.Position.Y,
			RadioRange:  n.RadioRange,
			ExtAddr:     fmt.Sprintf("%016x", n.ExtAddr),
			Rloc16:      fmt.Sprintf("%04x", n.Rloc16),
			Role:        n.Role.String(),
			PartitionID: fmt.Sprintf("%08x", n.PartitionID),
			Failed:      n.Failed,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handlePartitions(w http.ResponseWriter, r *http.Request) {
	parts, err := s.sim.Partitions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pids := make([]uint32, 0, len(parts))
	for pid := range parts {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	out := make([]partitionJSON, 0, len(pids))
	for _, pid := range pids {
		out = append(out, partitionJSON{ID: fmt.Sprintf("%08x", pid), Nodes: parts[pid]})
	}
	writeJSON(w, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sim.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	counters := make(map[string]uint64)
	for _, f := range st.Counters.Fields() {
		counters[f.Name] = f.Value
	}
	writeJSON(w, statusJSON{
		Now:             st.Now,
		ElapsedSeconds:  st.Elapsed.Seconds(),
		Speed:           st.Speed,
		PacketLossRatio: st.PacketLossRatio,
		Nodes:           st.Nodes,
		Partitions:      st.Partitions,
		Components:      st.Components,
		PendingEvents:   st.PendingEvents,
		Counters:        counters,
	})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, sim.ErrStopped) {
		code = http.StatusServiceUnavailable
	}
	s.log.Warn(r.Context(), "web request failed", logging.String("path", r.URL.Path), logging.Err(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
