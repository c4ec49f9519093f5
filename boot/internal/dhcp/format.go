package dhcp

import (
	"net"

	"github.com/pureboot/pureboot/pkg/constant"
)

const hexDigit = "0123456789abcdef"

// FormatMac renders a hardware address in the given format. Colon notation is
// the default.
func FormatMac(mac net.HardwareAddr, f constant.MACFormat) string {
	switch f {
	case constant.MacAddrFormatDash:
		return dashNotation(mac)
	case constant.MacAddrFormatNoDelimiter:
		return noDelimiter(mac)
	default:
		return mac.String()
	}
}

// dashNotation formats a net.HardwareAddr into its dash notation string.
//
// 00-00-5e-00-53-01
func dashNotation(a net.HardwareAddr) string {
	if len(a) == 0 {
		return ""
	}
	buf := make([]byte, 0, len(a)*3-1)
	for i, b := range a {
		if i > 0 {
			buf = append(buf, '-')
		}
		buf = append(buf, hexDigit[b>>4])
		buf = append(buf, hexDigit[b&0xF])
	}
	return string(buf)
}

// noDelimiter formats a net.HardwareAddr without any delimiters.
//
// 00005e005301
func noDelimiter(a net.HardwareAddr) string {
	if len(a) == 0 {
		return ""
	}
	buf := make([]byte, 0, len(a)*2)
	for _, b := range a {
		buf = append(buf, hexDigit[b>>4])
		buf = append(buf, hexDigit[b&0xF])
	}
	return string(buf)
}
