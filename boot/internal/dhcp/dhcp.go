// Package dhcp classifies incoming DHCPv4 packets: client firmware
// architecture from option 93, iPXE detection from options 77 and 175, and
// Raspberry Pi detection from the MAC OUI.
package dhcp

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/iana"
	"github.com/pureboot/pureboot/pkg/constant"
	"github.com/pureboot/pureboot/pkg/data"
)

const (
	PXEClient  ClientType = "PXEClient"
	HTTPClient ClientType = "HTTPClient"
)

// IPXE is the DHCP option 77 user class an iPXE ROM reports.
// https://www.rfc-editor.org/rfc/rfc3004.html
const IPXE UserClass = "iPXE"

// OptionIPXEEncapsulated is DHCP option 175. iPXE sends it with feature flags;
// its presence alone identifies an iPXE client even when option 77 is absent.
const OptionIPXEEncapsulated = dhcpv4.GenericOptionCode(175)

// UserClass is DHCP option 77.
type UserClass string

func (u UserClass) String() string { return string(u) }

// ClientType is from DHCP option 60. Normally only PXEClient or HTTPClient.
type ClientType string

func (c ClientType) String() string { return string(c) }

// ErrUnknownArch is used when the PXE client request carries no usable
// option 93.
var ErrUnknownArch = fmt.Errorf("could not determine client architecture from option 93")

// Info holds the classification of one DHCP request. Use NewInfo to populate
// it from a packet.
type Info struct {
	// Pkt is the packet that was received from the client.
	Pkt *dhcpv4.DHCPv4
	// Mac is the client hardware address.
	Mac net.HardwareAddr
	// Arch is the raw option 93 architecture code.
	Arch iana.Arch
	// BootMode is the coarse firmware family derived from Arch and the MAC OUI.
	BootMode data.BootMode
	// UserClass is option 77.
	UserClass UserClass
	// ClientType is option 60.
	ClientType ClientType
	// IsIPXE is true when the client already runs iPXE (option 77 or 175).
	IsIPXE bool
	// IsNetbootClient is nil when the packet is a valid netboot request.
	IsNetbootClient error
	// IPXEBinary is the stage-1 binary path for this client, relative to the
	// TFTP root. Empty for Raspberry Pi clients; their boot ROM never
	// chainloads iPXE.
	IPXEBinary string
}

// NewInfo classifies a packet.
func NewInfo(pkt *dhcpv4.DHCPv4) Info {
	i := Info{Pkt: pkt}
	if pkt == nil {
		return i
	}
	i.Mac = pkt.ClientHWAddr
	i.Arch = Arch(pkt)
	i.BootMode = bootMode(pkt)
	i.UserClass = userClassFrom(pkt)
	i.ClientType = clientTypeFrom(pkt)
	i.IsIPXE = i.UserClass == IPXE || pkt.Options.Has(OptionIPXEEncapsulated)
	i.IsNetbootClient = IsNetbootClient(pkt)
	if i.BootMode != data.BootModePi {
		i.IPXEBinary = ArchToBinary(i.BootMode).String()
	}

	return i
}

// IsRaspberryPi reports whether the MAC carries an OUI registered to
// Raspberry Pi Trading Ltd.
// https://udger.com/resources/mac-address-vendor-detail?name=raspberry_pi_foundation
func IsRaspberryPi(mac net.HardwareAddr) bool {
	prefixes := [][]byte{
		{0xb8, 0x27, 0xeb}, // B8:27:EB
		{0xdc, 0xa6, 0x32}, // DC:A6:32
		{0xe4, 0x5f, 0x01}, // E4:5F:01
		{0x28, 0xcd, 0xc1}, // 28:CD:C1
		{0xd8, 0x3a, 0xdd}, // D8:3A:DD
	}
	for _, prefix := range prefixes {
		if bytes.HasPrefix(mac, prefix) {
			return true
		}
	}

	return false
}

// Arch returns the architecture code from option 93. Some Raspberry Pi ROMs
// (the Pi 5) report an option 93 of 0, which would map to BIOS x86, so the
// MAC OUI wins over option 93 for Pi detection.
func Arch(d *dhcpv4.DHCPv4) iana.Arch {
	if IsRaspberryPi(d.ClientHWAddr) {
		// arm rpiboot (0x29):
		// https://www.iana.org/assignments/dhcpv6-parameters/dhcpv6-parameters.xhtml#processor-architecture
		return iana.Arch(41)
	}
	fwt := d.ClientArch()
	if len(fwt) == 0 {
		return iana.Arch(255)
	}
	for _, elem := range fwt {
		if !strings.Contains(elem.String(), "unknown") {
			return elem
		}
	}

	return iana.Arch(255)
}

// bootMode maps a packet to the coarse firmware family: the Pi OUI wins,
// option 93 codes 7 and 9 are UEFI x64, everything else is treated as BIOS.
func bootMode(d *dhcpv4.DHCPv4) data.BootMode {
	if IsRaspberryPi(d.ClientHWAddr) {
		return data.BootModePi
	}
	switch Arch(d) {
	case iana.EFI_X86_64, iana.EFI_BC:
		return data.BootModeUEFI
	default:
		return data.BootModeBIOS
	}
}

// ArchToBinary maps a firmware family to its stage-1 iPXE binary.
func ArchToBinary(mode data.BootMode) constant.IPXEBinary {
	if mode == data.BootModeUEFI {
		return constant.IPXEBinaryUEFI
	}

	return constant.IPXEBinaryBIOS
}

func userClassFrom(pkt *dhcpv4.DHCPv4) UserClass {
	var u UserClass
	if val := pkt.Options.Get(dhcpv4.OptionUserClassInformation); val != nil {
		u = UserClass(string(val))
	}

	return u
}

func clientTypeFrom(pkt *dhcpv4.DHCPv4) ClientType {
	var c ClientType
	if val := pkt.Options.Get(dhcpv4.OptionClassIdentifier); val != nil {
		if strings.HasPrefix(string(val), HTTPClient.String()) {
			c = HTTPClient
		} else {
			c = PXEClient
		}
	}

	return c
}

// IsNetbootClient returns nil if the client is a valid netboot client.
// Otherwise it returns an error describing every violated expectation.
//
// A valid netboot client will have the following in its DHCP request:
// 1. is a DHCP discovery/request message type.
// 2. option 93 is set.
// 3. option 60 is set with this format: "PXEClient:..." or "HTTPClient:...".
// 4. option 97 is empty or has the correct length.
//
// See: https://www.rfc-editor.org/rfc/rfc4578.html
func IsNetbootClient(pkt *dhcpv4.DHCPv4) error {
	var err error
	if pkt.MessageType() != dhcpv4.MessageTypeDiscover && pkt.MessageType() != dhcpv4.MessageTypeRequest {
		err = wrapNonNil(err, "message type must be either Discover or Request")
	}
	if !pkt.Options.Has(dhcpv4.OptionClassIdentifier) {
		err = wrapNonNil(err, "option 60 not set")
	}
	opt60 := pkt.GetOneOption(dhcpv4.OptionClassIdentifier)
	if !strings.HasPrefix(string(opt60), string(PXEClient)) && !strings.HasPrefix(string(opt60), string(HTTPClient)) {
		err = wrapNonNil(err, "option 60 not PXEClient or HTTPClient")
	}
	if !pkt.Options.Has(dhcpv4.OptionClientSystemArchitectureType) {
		err = wrapNonNil(err, "option 93 not set")
	}

	guid := pkt.GetOneOption(dhcpv4.OptionClientMachineIdentifier)
	switch len(guid) {
	case 0:
		// A missing GUID is invalid per the PXE spec, but ROMs in the wild
		// omit it and still expect to boot. We only mirror the GUID back to
		// the client, so accept those ROMs.
	case 17:
		if guid[0] != 0 {
			err = wrapNonNil(err, "option 97 does not start with 0")
		}
	default:
		err = wrapNonNil(err, "option 97 has invalid length (must be 0 or 17)")
	}

	return err
}

func wrapNonNil(err error, format string) error {
	if err == nil {
		return errors.New(format)
	}

	return fmt.Errorf("%w: %v", err, format)
}
