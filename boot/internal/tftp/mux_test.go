package tftp

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func stringHandler(s string) HandlerFunc {
	return func(string) (io.ReadCloser, int64, error) {
		return io.NopCloser(strings.NewReader(s)), int64(len(s)), nil
	}
}

func TestServeMuxRouting(t *testing.T) {
	mux := NewServeMux()
	mux.Handle(`^[0-9a-f]{8}/`, stringHandler("pi"))
	mux.Handle(`\.ipxe$`, stringHandler("script"))
	mux.SetDefaultHandler(stringHandler("default"))

	tests := map[string]struct {
		filename string
		want     string
	}{
		"pi serial path":   {filename: "d83add36/start4.elf", want: "pi"},
		"script path":      {filename: "bios/boot.ipxe", want: "script"},
		"first match wins": {filename: "d83add36/boot.ipxe", want: "pi"},
		"fallthrough":      {filename: "bios/undionly.kpxe", want: "default"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rc, size, err := mux.OpenFile(tc.filename)
			if err != nil {
				t.Fatalf("OpenFile: %v", err)
			}
			defer rc.Close()
			got, _ := io.ReadAll(rc)
			if string(got) != tc.want {
				t.Errorf("routed to %q, want %q", got, tc.want)
			}
			if size != int64(len(tc.want)) {
				t.Errorf("size = %d, want %d", size, len(tc.want))
			}
		})
	}
}

func TestServeMuxNoHandler(t *testing.T) {
	mux := NewServeMux()
	if _, _, err := mux.OpenFile("anything"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestServeMuxBadPatternPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on malformed pattern")
		}
	}()
	NewServeMux().Handle(`([`, stringHandler(""))
}
