// Package netip wraps net/netip types as flag.Value implementations so bind
// addresses and proxy allowlists can be set straight from the command line.
package netip

import (
	"fmt"
	"net/netip"
	"strings"
)

// Addr wraps a netip.Addr. An empty input is a no-op so defaults survive.
type Addr struct{ *netip.Addr }

func (a *Addr) Set(s string) error {
	if a == nil || a.Addr == nil {
		return fmt.Errorf("Addr is nil")
	}
	if s == "" {
		return nil
	}
	ip, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil || !ip.IsValid() {
		return fmt.Errorf("failed to parse address: %q", s)
	}
	*a.Addr = ip
	return nil
}

func (a *Addr) String() string {
	if a == nil || a.Addr == nil || !a.IsValid() {
		return ""
	}
	return a.Addr.String()
}

func (a *Addr) Reset() error {
	if a == nil || a.Addr == nil {
		return fmt.Errorf("Addr is nil")
	}
	*a.Addr = netip.Addr{}
	return nil
}

func (a *Addr) Type() string { return "addr" }

// AddrPort wraps a netip.AddrPort ("ip:port").
type AddrPort struct{ *netip.AddrPort }

func (a *AddrPort) Set(s string) error {
	if a == nil || a.AddrPort == nil {
		return fmt.Errorf("AddrPort is nil")
	}
	if s == "" {
		return nil
	}
	ap, err := netip.ParseAddrPort(strings.TrimSpace(s))
	if err != nil || !ap.IsValid() {
		return fmt.Errorf("failed to parse addr:port: %q: %v", s, err)
	}
	*a.AddrPort = ap
	return nil
}

func (a *AddrPort) String() string {
	if a == nil || a.AddrPort == nil || !a.IsValid() {
		return ""
	}
	return a.AddrPort.String()
}

func (a *AddrPort) Reset() error {
	if a == nil || a.AddrPort == nil {
		return fmt.Errorf("AddrPort is nil")
	}
	*a.AddrPort = netip.AddrPort{}
	return nil
}

func (a *AddrPort) Type() string { return "addr:port" }

// PrefixList wraps a slice of netip.Prefix parsed from a comma-separated list
// of CIDR blocks. Used for the API server's trusted proxy allowlist.
type PrefixList struct{ PrefixList *[]netip.Prefix }

// ToPrefixList wraps an existing slice.
func ToPrefixList(p *[]netip.Prefix) *PrefixList {
	return &PrefixList{PrefixList: p}
}

func (p *PrefixList) Set(s string) error {
	if p == nil || p.PrefixList == nil {
		return fmt.Errorf("PrefixList is nil")
	}
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]netip.Prefix, 0, len(parts))
	for _, part := range parts {
		pr, err := netip.ParsePrefix(strings.TrimSpace(part))
		if err != nil || !pr.IsValid() {
			return fmt.Errorf("failed to parse prefix: %q", part)
		}
		out = append(out, pr)
	}
	*p.PrefixList = out
	return nil
}

func (p *PrefixList) Slice() []string {
	if p == nil || p.PrefixList == nil {
		return nil
	}
	var out []string
	for _, pr := range *p.PrefixList {
		out = append(out, pr.String())
	}
	return out
}

func (p *PrefixList) String() string {
	return strings.Join(p.Slice(), ",")
}

func (p *PrefixList) Reset() error {
	if p == nil || p.PrefixList == nil {
		return fmt.Errorf("PrefixList is nil")
	}
	*p.PrefixList = nil
	return nil
}

func (p *PrefixList) Type() string { return "prefix list" }
