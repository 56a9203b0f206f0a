package node

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
)

// MeshLocalPrefix is the mesh-local /64 every simulated node shares.
var MeshLocalPrefix = netip.MustParsePrefix("fdde:ad00:beef:0::/64")

var linkLocalPrefix = netip.MustParsePrefix("fe80::/64")

// AddrType selects which of a node's unicast addresses to use.
type AddrType int

const (
	// AddrAny picks the preferred address: ML-EID, then RLOC, then link-local.
	AddrAny AddrType = iota
	AddrMLEID
	AddrRLOC
	AddrLinkLocal
)

func (t AddrType) String() string {
	switch t {
	case AddrMLEID:
		return "mleid"
	case AddrRLOC:
		return "rloc"
	case AddrLinkLocal:
		return "linklocal"
	default:
		return "any"
	}
}

// ParseAddrType parses "any", "mleid", "rloc" or "linklocal".
func ParseAddrType(s string) (AddrType, error) {
	switch strings.ToLower(s) {
	case "", "any":
		return AddrAny, nil
	case "mleid":
		return AddrMLEID, nil
	case "rloc":
		return AddrRLOC, nil
	case "linklocal":
		return AddrLinkLocal, nil
	default:
		return AddrAny, fmt.Errorf("unknown address type %q", s)
	}
}

func withIID(prefix netip.Prefix, iid uint64) netip.Addr {
	b := prefix.Addr().As16()
	binary.BigEndian.PutUint64(b[8:], iid)
	return netip.AddrFrom16(b)
}

// MLEIDAddr returns the mesh-local EID for an interface identifier.
func MLEIDAddr(iid uint64) netip.Addr {
	return withIID(MeshLocalPrefix, iid)
}

// RlocAddr returns the routing locator address for rloc16.
func RlocAddr(rloc16 uint16) netip.Addr {
	return withIID(MeshLocalPrefix, 0x000000fffe000000|uint64(rloc16))
}

// LinkLocalAddr derives the link-local address from an extended address
// by flipping its universal/local bit.
func LinkLocalAddr(extAddr uint64) netip.Addr {
	return withIID(linkLocalPrefix, extAddr^(1<<57))
}

// IsRlocAddr reports whether addr is an RLOC and returns its RLOC16.
func IsRlocAddr(addr netip.Addr) (uint16, bool) {
	if !MeshLocalPrefix.Contains(addr) {
		return 0, false
	}
	b := addr.As16()
	iid := binary.BigEndian.Uint64(b[8:])
	if iid&0xffffffffffff0000 != 0x000000fffe000000 {
		return 0, false
	}
	return uint16(iid), true
}

// AddrTypeOf classifies addr by its prefix and interface identifier.
func AddrTypeOf(addr netip.Addr) AddrType {
	switch {
	case linkLocalPrefix.Contains(addr):
		return AddrLinkLocal
	case MeshLocalPrefix.Contains(addr):
		if _, ok := IsRlocAddr(addr); ok {
			return AddrRLOC
		}
		return AddrMLEID
	}
	return AddrAny
}
