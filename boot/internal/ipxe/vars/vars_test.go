package vars

import (
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	ctx := Context{
		Node:     map[string]string{"mac": "00:11:22:33:44:55", "serial": "d83add36"},
		Workflow: map[string]string{"image_url": "http://srv/img.xz"},
		Server:   map[string]string{"url": "http://192.168.2.1"},
		Meta:     map[string]string{"rack": "r12"},
	}

	tests := map[string]struct {
		in   string
		want string
	}{
		"simple": {
			in:   "mac=${node.mac}",
			want: "mac=00:11:22:33:44:55",
		},
		"multiple namespaces": {
			in:   "${server.url}/img?mac=${node.mac}",
			want: "http://192.168.2.1/img?mac=00:11:22:33:44:55",
		},
		"open namespace": {
			in:   "rack=${meta.rack}",
			want: "rack=r12",
		},
		"unknown key keeps literal": {
			in:   "host=${node.hostname}",
			want: "host=${node.hostname}",
		},
		"unknown key with default": {
			in:   "host=${node.hostname|unset}",
			want: "host=unset",
		},
		"empty default": {
			in:   "host=${node.hostname|}",
			want: "host=",
		},
		"default not used when key present": {
			in:   "mac=${node.mac|ff:ff:ff:ff:ff:ff}",
			want: "mac=00:11:22:33:44:55",
		},
		"invalid namespace keeps literal": {
			in:   "x=${bogus.key}",
			want: "x=${bogus.key}",
		},
		"no placeholders": {
			in:   "console=tty1 quiet",
			want: "console=tty1 quiet",
		},
		"ipxe variable is not a placeholder": {
			// iPXE's own ${mac:hexhyp} has no namespace dot, so it survives.
			in:   "chain /boot?mac=${mac:hexhyp}",
			want: "chain /boot?mac=${mac:hexhyp}",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := Resolve(tc.in, ctx); got != tc.want {
				t.Errorf("Resolve(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		in      string
		wantErr string
	}{
		"valid closed keys":   {in: "${node.mac} ${workflow.image_url}"},
		"valid open key":      {in: "${meta.anything_at_all}"},
		"no placeholders":     {in: "plain text"},
		"unknown namespace":   {in: "${bogus.key}", wantErr: `unknown namespace "bogus"`},
		"unknown closed key":  {in: "${node.nonsense}", wantErr: `unknown key "nonsense"`},
		"mixed valid and not": {in: "${node.mac} ${wrong.ns}", wantErr: `unknown namespace "wrong"`},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := Validate(tc.in)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err.Error(), tc.wantErr)
			}
		})
	}
}
