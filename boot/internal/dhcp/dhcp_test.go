package dhcp

import (
	"net"
	"testing"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/iana"
	"github.com/pureboot/pureboot/pkg/data"
)

func discover(t *testing.T, mods ...dhcpv4.Modifier) *dhcpv4.DHCPv4 {
	t.Helper()
	base := []dhcpv4.Modifier{
		dhcpv4.WithMessageType(dhcpv4.MessageTypeDiscover),
		dhcpv4.WithHwAddr(net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}),
		dhcpv4.WithGeneric(dhcpv4.OptionClassIdentifier, []byte("PXEClient:Arch:00000:UNDI:002001")),
	}
	pkt, err := dhcpv4.New(append(base, mods...)...)
	if err != nil {
		t.Fatalf("building packet: %v", err)
	}
	return pkt
}

func withArch(arch iana.Arch) dhcpv4.Modifier {
	return dhcpv4.WithOption(dhcpv4.OptClientArch(arch))
}

func TestNewInfoClassification(t *testing.T) {
	tests := map[string]struct {
		mods       []dhcpv4.Modifier
		mac        net.HardwareAddr
		wantMode   data.BootMode
		wantIPXE   bool
		wantBinary string
	}{
		"arch 0 is bios": {
			mods:       []dhcpv4.Modifier{withArch(iana.INTEL_X86PC)},
			wantMode:   data.BootModeBIOS,
			wantBinary: "bios/undionly.kpxe",
		},
		"arch 7 is uefi": {
			mods:       []dhcpv4.Modifier{withArch(iana.EFI_BC)},
			wantMode:   data.BootModeUEFI,
			wantBinary: "uefi/ipxe.efi",
		},
		"arch 9 is uefi": {
			mods:       []dhcpv4.Modifier{withArch(iana.EFI_X86_64)},
			wantMode:   data.BootModeUEFI,
			wantBinary: "uefi/ipxe.efi",
		},
		"unknown arch falls back to bios": {
			mods:       []dhcpv4.Modifier{withArch(iana.Arch(28))},
			wantMode:   data.BootModeBIOS,
			wantBinary: "bios/undionly.kpxe",
		},
		"user class iPXE": {
			mods: []dhcpv4.Modifier{
				withArch(iana.INTEL_X86PC),
				dhcpv4.WithGeneric(dhcpv4.OptionUserClassInformation, []byte("iPXE")),
			},
			wantMode:   data.BootModeBIOS,
			wantIPXE:   true,
			wantBinary: "bios/undionly.kpxe",
		},
		"option 175 means iPXE": {
			mods: []dhcpv4.Modifier{
				withArch(iana.INTEL_X86PC),
				dhcpv4.WithGeneric(OptionIPXEEncapsulated, []byte{0x01}),
			},
			wantMode:   data.BootModeBIOS,
			wantIPXE:   true,
			wantBinary: "bios/undionly.kpxe",
		},
		"raspberry pi OUI wins over arch 0": {
			mods:     []dhcpv4.Modifier{withArch(iana.INTEL_X86PC)},
			mac:      net.HardwareAddr{0xd8, 0x3a, 0xdd, 0x36, 0x00, 0x01},
			wantMode: data.BootModePi,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			pkt := discover(t, tc.mods...)
			if tc.mac != nil {
				pkt.ClientHWAddr = tc.mac
			}
			info := NewInfo(pkt)
			if info.BootMode != tc.wantMode {
				t.Errorf("BootMode = %q, want %q", info.BootMode, tc.wantMode)
			}
			if info.IsIPXE != tc.wantIPXE {
				t.Errorf("IsIPXE = %v, want %v", info.IsIPXE, tc.wantIPXE)
			}
			if info.IPXEBinary != tc.wantBinary {
				t.Errorf("IPXEBinary = %q, want %q", info.IPXEBinary, tc.wantBinary)
			}
		})
	}
}

func TestIsNetbootClient(t *testing.T) {
	tests := map[string]struct {
		pkt     func(t *testing.T) *dhcpv4.DHCPv4
		wantErr bool
	}{
		"valid": {
			pkt: func(t *testing.T) *dhcpv4.DHCPv4 {
				return discover(t, withArch(iana.INTEL_X86PC))
			},
		},
		"missing option 93": {
			pkt:     func(t *testing.T) *dhcpv4.DHCPv4 { return discover(t) },
			wantErr: true,
		},
		"missing option 60": {
			pkt: func(t *testing.T) *dhcpv4.DHCPv4 {
				pkt := discover(t, withArch(iana.INTEL_X86PC))
				delete(pkt.Options, uint8(dhcpv4.OptionClassIdentifier.Code()))
				return pkt
			},
			wantErr: true,
		},
		"bad option 97 length": {
			pkt: func(t *testing.T) *dhcpv4.DHCPv4 {
				return discover(t,
					withArch(iana.INTEL_X86PC),
					dhcpv4.WithGeneric(dhcpv4.OptionClientMachineIdentifier, []byte{1, 2, 3}),
				)
			},
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := IsNetbootClient(tc.pkt(t))
			if tc.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestIsRaspberryPi(t *testing.T) {
	if !IsRaspberryPi(net.HardwareAddr{0xb8, 0x27, 0xeb, 0x01, 0x02, 0x03}) {
		t.Error("b8:27:eb prefix should be a Pi")
	}
	if IsRaspberryPi(net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}) {
		t.Error("00:11:22 prefix should not be a Pi")
	}
}
