package netip

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestAddrSet(t *testing.T) {
	tests := map[string]struct {
		input       string
		want        netip.Addr
		expectError bool
	}{
		"empty is no-op":  {input: ""},
		"valid ipv4":      {input: "192.168.2.50", want: netip.MustParseAddr("192.168.2.50")},
		"valid ipv6":      {input: "2001:db8::1", want: netip.MustParseAddr("2001:db8::1")},
		"garbage":         {input: "not-an-ip", expectError: true},
		"octet overflow":  {input: "10.0.0.300", expectError: true},
		"addr with port":  {input: "10.0.0.1:69", expectError: true},
		"surrounding ws":  {input: "  10.1.2.3  ", want: netip.MustParseAddr("10.1.2.3")},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			a := &Addr{Addr: new(netip.Addr)}
			err := a.Set(tc.input)
			if tc.expectError && err == nil {
				t.Fatalf("expected error for input %q, got nil", tc.input)
			}
			if !tc.expectError && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.expectError && tc.input != "" && *a.Addr != tc.want {
				t.Errorf("got %v, want %v", a.Addr, tc.want)
			}
		})
	}
}

func TestAddrPortSet(t *testing.T) {
	tests := map[string]struct {
		input       string
		want        netip.AddrPort
		expectError bool
	}{
		"empty is no-op": {input: ""},
		"ipv4 with port": {input: "0.0.0.0:67", want: netip.MustParseAddrPort("0.0.0.0:67")},
		"ipv6 with port": {input: "[2001:db8::1]:69", want: netip.MustParseAddrPort("[2001:db8::1]:69")},
		"missing port":   {input: "10.0.0.1", expectError: true},
		"port overflow":  {input: "10.0.0.1:99999", expectError: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ap := &AddrPort{AddrPort: new(netip.AddrPort)}
			err := ap.Set(tc.input)
			if tc.expectError && err == nil {
				t.Fatalf("expected error for input %q, got nil", tc.input)
			}
			if !tc.expectError && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.expectError && tc.input != "" && *ap.AddrPort != tc.want {
				t.Errorf("got %v, want %v", ap.AddrPort, tc.want)
			}
		})
	}
}

func TestPrefixListSet(t *testing.T) {
	tests := map[string]struct {
		input       string
		want        []netip.Prefix
		expectError bool
	}{
		"empty is no-op": {input: ""},
		"single": {
			input: "192.168.0.0/24",
			want:  []netip.Prefix{netip.MustParsePrefix("192.168.0.0/24")},
		},
		"multiple": {
			input: "192.168.0.0/24,10.0.0.0/8",
			want: []netip.Prefix{
				netip.MustParsePrefix("192.168.0.0/24"),
				netip.MustParsePrefix("10.0.0.0/8"),
			},
		},
		"one bad entry": {input: "192.168.0.0/24,bogus/33", expectError: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var prefixes []netip.Prefix
			pl := ToPrefixList(&prefixes)
			err := pl.Set(tc.input)
			if tc.expectError && err == nil {
				t.Fatalf("expected error for input %q, got nil", tc.input)
			}
			if !tc.expectError && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.expectError {
				if diff := cmp.Diff(prefixes, tc.want, cmpopts.IgnoreUnexported(netip.Prefix{})); diff != "" {
					t.Errorf("unexpected difference (-got +want):\n%s", diff)
				}
			}
		})
	}
}
