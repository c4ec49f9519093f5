// Package constant holds names shared between the boot plane and the cmd layer.
package constant

const (
	// MacAddrFormatColon is a MAC address format with colon delimiters between pairs of characters.
	MacAddrFormatColon MACFormat = "colon"
	// MacAddrFormatDash is a MAC address format with dash delimiters between pairs of characters.
	MacAddrFormatDash MACFormat = "dash"
	// MacAddrFormatNoDelimiter removes all delimiters from a MAC address. Useful in URLs and
	// TFTP paths where colons can cause issues.
	MacAddrFormatNoDelimiter MACFormat = "no-delimiter"

	// IPXEBinaryBIOS is the stage-1 iPXE binary for BIOS x86 clients, served from the TFTP
	// root at bios/undionly.kpxe.
	IPXEBinaryBIOS IPXEBinary = "bios/undionly.kpxe"
	// IPXEBinaryUEFI is the stage-1 iPXE binary for UEFI x64 clients, served from the TFTP
	// root at uefi/ipxe.efi.
	IPXEBinaryUEFI IPXEBinary = "uefi/ipxe.efi"
)

// Kernel command line keys that make up the control-plane contract between the
// controller and the deploy environment running on a node.
const (
	CmdlineKeySerial   = "pureboot.serial"
	CmdlineKeyState    = "pureboot.state"
	CmdlineKeyURL      = "pureboot.url"
	CmdlineKeyMode     = "pureboot.mode"
	CmdlineKeyImageURL = "pureboot.image_url"
	CmdlineKeyTarget   = "pureboot.target"
	CmdlineKeyNodeID   = "pureboot.node_id"
	CmdlineKeyMAC      = "pureboot.mac"
	CmdlineKeyCallback = "pureboot.callback"
)

// MACFormat is a format for a MAC address.
type MACFormat string

func (m MACFormat) String() string {
	return string(m)
}

// IPXEBinary is a type for stage-1 iPXE binary paths relative to the TFTP root.
type IPXEBinary string

func (i IPXEBinary) String() string {
	return string(i)
}
