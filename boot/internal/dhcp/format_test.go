package dhcp

import (
	"net"
	"testing"

	"github.com/pureboot/pureboot/pkg/constant"
)

func TestFormatMac(t *testing.T) {
	mac := net.HardwareAddr{0x00, 0x00, 0x5e, 0x00, 0x53, 0x01}

	tests := map[string]struct {
		format constant.MACFormat
		want   string
	}{
		"colon":        {format: constant.MacAddrFormatColon, want: "00:00:5e:00:53:01"},
		"dash":         {format: constant.MacAddrFormatDash, want: "00-00-5e-00-53-01"},
		"no delimiter": {format: constant.MacAddrFormatNoDelimiter, want: "00005e005301"},
		"unknown defaults to colon": {format: constant.MACFormat("bogus"), want: "00:00:5e:00:53:01"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := FormatMac(mac, tc.format); got != tc.want {
				t.Errorf("FormatMac() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFormatMacEmpty(t *testing.T) {
	if got := FormatMac(nil, constant.MacAddrFormatDash); got != "" {
		t.Errorf("FormatMac(nil) = %q, want empty", got)
	}
}
