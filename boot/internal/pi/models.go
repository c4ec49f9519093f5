// Package pi materialises the per-node TFTP trees a Raspberry Pi boot ROM
// expects: shared firmware and kernels linked in by symlink, plus generated
// config.txt and cmdline.txt. The boot ROM fetches <serial>/<file> over TFTP,
// so the tree layout is the entire boot contract for the Pi family.
package pi

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pureboot/pureboot/pkg/data"
)

// firmwareFiles lists the boot ROM firmware each model fetches before the
// kernel. Pi 3 era boards need the first-stage bootcode.bin; Pi 4 and 5 carry
// it in EEPROM and go straight to the start elf.
var firmwareFiles = map[data.PiModel][]string{
	data.PiModel3:   {"bootcode.bin", "start.elf", "fixup.dat"},
	data.PiModel3BP: {"bootcode.bin", "start.elf", "fixup.dat"},
	data.PiModelCM3: {"bootcode.bin", "start.elf", "fixup.dat"},
	data.PiModel4:   {"start4.elf", "fixup4.dat"},
	data.PiModel5:   {"start4.elf", "fixup4.dat"},
}

var dtbFiles = map[data.PiModel]string{
	data.PiModel3:   "bcm2710-rpi-3-b.dtb",
	data.PiModel3BP: "bcm2710-rpi-3-b-plus.dtb",
	data.PiModelCM3: "bcm2710-rpi-cm3.dtb",
	data.PiModel4:   "bcm2711-rpi-4-b.dtb",
	data.PiModel5:   "bcm2712-rpi-5-b.dtb",
}

// Models returns every supported Pi model.
func Models() []data.PiModel {
	return []data.PiModel{data.PiModel3, data.PiModel3BP, data.PiModelCM3, data.PiModel4, data.PiModel5}
}

// FirmwareFiles returns the firmware set a model requires.
func FirmwareFiles(m data.PiModel) ([]string, error) {
	files, ok := firmwareFiles[m]
	if !ok {
		return nil, fmt.Errorf("unknown pi model %q", m)
	}
	return files, nil
}

// DTB returns the device tree blob filename for a model.
func DTB(m data.PiModel) (string, error) {
	dtb, ok := dtbFiles[m]
	if !ok {
		return "", fmt.Errorf("unknown pi model %q", m)
	}
	return dtb, nil
}

var serialRE = regexp.MustCompile(`^[0-9a-f]{8}$`)

// NormalizeSerial lowercases a Pi serial number and rejects anything that is
// not exactly eight hex characters. This is the only gate between client
// supplied serials and paths under the nodes root.
func NormalizeSerial(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !serialRE.MatchString(s) {
		return "", fmt.Errorf("invalid pi serial %q", s)
	}
	return s, nil
}
