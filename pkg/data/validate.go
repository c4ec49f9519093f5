package data

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// serialRE is the only accepted shape for a Raspberry Pi serial number. It is
// also the sole defence against path traversal into the per-node TFTP trees,
// so it is enforced on every entry point that accepts a serial.
var serialRE = regexp.MustCompile(`^[0-9a-f]{8}$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func v() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("piserial", func(fl validator.FieldLevel) bool {
			return serialRE.MatchString(fl.Field().String())
		})
	})
	return validate
}

// NormalizeMAC canonicalises a MAC address to six lowercase colon-separated
// hex octets. Dash and bare-hex input forms are accepted.
func NormalizeMAC(s string) (string, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	in = strings.ReplaceAll(in, "-", ":")
	if !strings.Contains(in, ":") && len(in) == 12 {
		var b strings.Builder
		for i := 0; i < 12; i += 2 {
			if i > 0 {
				b.WriteByte(':')
			}
			b.WriteString(in[i : i+2])
		}
		in = b.String()
	}
	hw, err := net.ParseMAC(in)
	if err != nil {
		return "", fmt.Errorf("malformed MAC address %q: %w", s, err)
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("malformed MAC address %q: must be 48 bits", s)
	}
	return hw.String(), nil
}

// NormalizeSerial lowercases a Pi serial number and validates its shape.
func NormalizeSerial(s string) (string, error) {
	serial := strings.ToLower(strings.TrimSpace(s))
	if !serialRE.MatchString(serial) {
		return "", fmt.Errorf("malformed serial number %q: must match [0-9a-f]{8}", s)
	}
	return serial, nil
}

// ValidSerial reports whether s is an already-normalised Pi serial number.
func ValidSerial(s string) bool {
	return serialRE.MatchString(s)
}

// Validate checks a node's fields, including identity presence: every node
// carries a MAC address or a serial number, and Pi nodes always carry a serial.
func (n *Node) Validate() error {
	if n.MACAddress == "" && n.SerialNumber == "" {
		return fmt.Errorf("node %q has neither a MAC address nor a serial number", n.ID)
	}
	if n.BootMode == BootModePi && !ValidSerial(n.SerialNumber) {
		return fmt.Errorf("pi node %q has invalid serial number %q", n.ID, n.SerialNumber)
	}
	if err := v().Struct(n); err != nil {
		return fmt.Errorf("invalid node %q: %w", n.ID, err)
	}
	return nil
}

// Validate checks a workflow's URL-bearing fields.
func (w *Workflow) Validate() error {
	if err := v().Struct(w); err != nil {
		return fmt.Errorf("invalid workflow %q: %w", w.ID, err)
	}
	return nil
}
