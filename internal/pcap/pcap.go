// Package pcap writes the simulated IPv6 traffic to a pcap trace.
package pcap

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// DefaultSnapLen is the number of bytes captured per packet.
const DefaultSnapLen = 1280

const defaultBuffer = 4096

type snapshot struct {
	ts     time.Time
	data   []byte
	length int
}

// Option configures a Trace.
type Option func(*Trace)

// WithBuffer sets how many packets may wait for the writer before
// Dump starts dropping them.
func WithBuffer(n int) Option {
	return func(tr *Trace) {
		if n > 0 {
			tr.snaps = make(chan snapshot, n)
		}
	}
}

// WithSnapLen sets the capture length.
func WithSnapLen(n uint16) Option {
	return func(tr *Trace) {
		if n > 0 {
			tr.snapLen = n
		}
	}
}

// Trace is an open pcap trace. Packets are written by a background
// goroutine; Close drains the buffer and closes the writer.
type Trace struct {
	cancel  context.CancelFunc
	dropped atomic.Uint64
	written atomic.Uint64
	errch   chan error
	snaps   chan snapshot
	once    sync.Once
	snapLen uint16
	wc      io.WriteCloser
}

// NewTrace starts a trace writing raw IPv6 packets to wc.
func NewTrace(wc io.WriteCloser, opts ...Option) *Trace {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &Trace{
		cancel:  cancel,
		errch:   make(chan error, 1),
		snaps:   make(chan snapshot, defaultBuffer),
		snapLen: DefaultSnapLen,
		wc:      wc,
	}
	for _, opt := range opts {
		opt(tr)
	}
	go tr.saveLoop(ctx)
	return tr
}

// Dump queues a raw IPv6 packet captured at simulated time ts. It never
// blocks; packets are dropped when the buffer is full.
func (tr *Trace) Dump(ts time.Time, packet []byte) {
	n := min(len(packet), int(tr.snapLen))
	data := make([]byte, n)
	copy(data, packet)
	select {
	case tr.snaps <- snapshot{ts: ts, data: data, length: len(packet)}:
	default:
		tr.dropped.Add(1)
	}
}

// Dropped returns the number of packets lost to buffer overflow.
func (tr *Trace) Dropped() uint64 { return tr.dropped.Load() }

// Written returns the number of packets written so far.
func (tr *Trace) Written() uint64 { return tr.written.Load() }

func (tr *Trace) saveLoop(ctx context.Context) {
	w := pcapgo.NewWriter(tr.wc)
	if err := w.WriteFileHeader(uint32(tr.snapLen), layers.LinkTypeRaw); err != nil {
		tr.errch <- err
		return
	}
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case snap := <-tr.snaps:
					if err := tr.save(w, snap); err != nil {
						tr.errch <- err
						return
					}
				default:
					tr.errch <- nil
					return
				}
			}
		case snap := <-tr.snaps:
			if err := tr.save(w, snap); err != nil {
				tr.errch <- err
				return
			}
		}
	}
}

func (tr *Trace) save(w *pcapgo.Writer, snap snapshot) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     snap.ts,
		CaptureLength: len(snap.data),
		Length:        snap.length,
	}
	if err := w.WritePacket(ci, snap.data); err != nil {
		return err
	}
	tr.written.Add(1)
	return nil
}

// Close stops the writer goroutine, waits for it and closes the file.
func (tr *Trace) Close() (err error) {
	tr.once.Do(func() {
		tr.cancel()
		err1 := <-tr.errch
		err2 := tr.wc.Close()
		err = errors.Join(err1, err2)
	})
	return
}
