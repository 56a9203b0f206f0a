package pcap

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Echo describes one ICMPv6 echo request or reply.
type Echo struct {
	Src, Dst   netip.Addr
	Reply      bool
	Identifier uint16
	Seq        uint16
	HopLimit   int
	DataSize   int
}

// EncodeEcho serializes e as a raw IPv6 packet with a zero-filled payload.
func EncodeEcho(e Echo) ([]byte, error) {
	if !e.Src.Is6() || !e.Dst.Is6() {
		return nil, fmt.Errorf("echo needs IPv6 addresses, got %s -> %s", e.Src, e.Dst)
	}
	hop := e.HopLimit
	if hop <= 0 || hop > 255 {
		hop = 64
	}
	ip := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   uint8(hop),
		SrcIP:      net.IP(e.Src.AsSlice()),
		DstIP:      net.IP(e.Dst.AsSlice()),
	}
	typ := uint8(layers.ICMPv6TypeEchoRequest)
	if e.Reply {
		typ = layers.ICMPv6TypeEchoReply
	}
	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(typ, 0)}
	if err := icmp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	echo := &layers.ICMPv6Echo{Identifier: e.Identifier, SeqNumber: e.Seq}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	payload := gopacket.Payload(make([]byte, max(e.DataSize, 0)))
	if err := gopacket.SerializeLayers(buf, opts, ip, icmp, echo, payload); err != nil {
		return nil, fmt.Errorf("serialize echo: %w", err)
	}
	return buf.Bytes(), nil
}

// FrameLen returns the on-air size of an echo carrying dataSize bytes:
// IPv6 header, ICMPv6 header, echo header and payload.
func FrameLen(dataSize int) int {
	return 40 + 4 + 4 + max(dataSize, 0)
}

// WriteEcho encodes e and queues it with timestamp ts.
func (tr *Trace) WriteEcho(ts time.Time, e Echo) error {
	pkt, err := EncodeEcho(e)
	if err != nil {
		return err
	}
	tr.Dump(ts, pkt)
	return nil
}
