package domain

import (
	"net/netip"
)

// PeerAddress is the mesh network address identifying a remote peer.
type PeerAddress string

func (a PeerAddress) String() string { return string(a) }

// SelfAddresses are the local node's mesh addresses, carried as the sender
// of every signaling message.
type SelfAddresses struct {
	IPv4 string `json:"ipv4,omitempty"`
	IPv6 string `json:"ipv6,omitempty"`
}

// Primary returns the address replies should go to: IPv4 when known.
func (s SelfAddresses) Primary() PeerAddress {
	if s.IPv4 != "" {
		return PeerAddress(s.IPv4)
	}
	return PeerAddress(s.IPv6)
}

func (s SelfAddresses) IsZero() bool {
	return s.IPv4 == "" && s.IPv6 == ""
}

// Has reports whether addr is one of the addresses.
func (s SelfAddresses) Has(addr PeerAddress) bool {
	return addr != "" && (string(addr) == s.IPv4 || string(addr) == s.IPv6)
}

// ParseSelfAddresses picks the first IPv4 and the first IPv6 address out of
// the list reported by the mesh daemon. Unparseable entries are skipped.
func ParseSelfAddresses(ips []string) SelfAddresses {
	var out SelfAddresses
	for _, raw := range ips {
		ip, err := netip.ParseAddr(raw)
		if err != nil {
			continue
		}
		switch {
		case ip.Is4() || ip.Is4In6():
			if out.IPv4 == "" {
				out.IPv4 = ip.Unmap().String()
			}
		case ip.Is6():
			if out.IPv6 == "" {
				out.IPv6 = ip.String()
			}
		}
	}
	return out
}

// Role is fixed for the lifetime of a peer session.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

func (r Role) Valid() bool {
	return r == RoleOfferer || r == RoleAnswerer
}

// RoleFor breaks the symmetry between two peers that both want a session:
// the numerically lower address offers. Unparseable addresses fall back to
// string order.
func RoleFor(self, remote PeerAddress) Role {
	a, errA := netip.ParseAddr(string(self))
	b, errB := netip.ParseAddr(string(remote))
	if errA == nil && errB == nil {
		if a.Unmap().Compare(b.Unmap()) < 0 {
			return RoleOfferer
		}
		return RoleAnswerer
	}
	if self < remote {
		return RoleOfferer
	}
	return RoleAnswerer
}
