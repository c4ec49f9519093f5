// Package script renders the iPXE scripts the boot plane hands to x86
// clients: the autoexec/boot chain scripts and the per-node scripts produced
// from dispatch decisions.
package script

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/pureboot/pureboot/boot/internal/metric"
	"github.com/pureboot/pureboot/pkg/data"
)

// autoexecTemplate is compiled into (or TFTP-loaded next to) the stage-1
// binary. It acquires an address and chains to the boot script, looping until
// the control plane is reachable.
var autoexecTemplate = template.Must(template.New("autoexec").Funcs(sprig.HermeticTxtFuncMap()).Parse(`#!ipxe

:retry
dhcp || goto retry
chain --replace {{ .ServerURL }}/api/v1/ipxe/boot.ipxe || goto retry
`))

// bootTemplate is served after the chain; it hands the client's MAC to the
// dispatch endpoint and retries on failure.
var bootTemplate = template.Must(template.New("boot").Funcs(sprig.HermeticTxtFuncMap()).Parse(`#!ipxe

:start
echo {{ .Banner }}
chain --replace {{ .ServerURL }}/api/v1/boot?mac=${mac:hexhyp} || goto failed
exit

:failed
echo Boot dispatch failed, retrying in {{ .RetrySeconds }} seconds...
sleep {{ .RetrySeconds }}
goto start
`))

// installTemplate boots a workflow's kernel and initramfs.
var installTemplate = template.Must(template.New("install").Funcs(sprig.HermeticTxtFuncMap()).Parse(`#!ipxe

echo Installing via {{ .ServerURL }}
kernel {{ .KernelURL }}{{ if .Cmdline }} {{ .Cmdline }}{{ end }}
initrd {{ .InitrdURL }}
boot
`))

// retryTemplate parks a client whose node is pending without a workflow yet.
var retryTemplate = template.Must(template.New("retry").Funcs(sprig.HermeticTxtFuncMap()).Parse(`#!ipxe

echo {{ .Message | default "Waiting for workflow assignment" }}
sleep {{ .RetrySeconds }}
chain --replace {{ .ServerURL }}/api/v1/boot?mac=${mac:hexhyp}
`))

const localBootScript = `#!ipxe

echo Booting from local disk
exit
`

// Data parameterises the static scripts.
type Data struct {
	// ServerURL is the control plane base URL, no trailing slash.
	ServerURL string
	// Banner is echoed by the boot script.
	Banner string
	// RetrySeconds is the delay before a failed or parked client re-chains.
	RetrySeconds int
}

func (d Data) withDefaults() Data {
	if d.Banner == "" {
		d.Banner = "pureboot"
	}
	if d.RetrySeconds <= 0 {
		d.RetrySeconds = 5
	}
	return d
}

// Autoexec renders the autoexec.ipxe script.
func Autoexec(d Data) (string, error) {
	return render(autoexecTemplate, d.withDefaults(), "autoexec")
}

// Boot renders the boot.ipxe script.
func Boot(d Data) (string, error) {
	return render(bootTemplate, d.withDefaults(), "boot")
}

// RenderAction renders a dispatch decision as an iPXE script. Every script is
// prefixed #!ipxe; action kinds that have no x86 rendering fall through to
// local boot.
func RenderAction(action data.BootAction, d Data) (string, error) {
	d = d.withDefaults()
	switch action.Kind {
	case data.ActionInstallIPXE:
		if action.InstallIPXE == nil {
			return "", fmt.Errorf("install action missing parameters")
		}
		return render(installTemplate, struct {
			Data
			KernelURL string
			InitrdURL string
			Cmdline   string
		}{Data: d, KernelURL: action.InstallIPXE.KernelURL, InitrdURL: action.InstallIPXE.InitrdURL, Cmdline: action.InstallIPXE.Cmdline}, "install")
	case data.ActionPendingRetry:
		if action.RetryAfter > 0 {
			d.RetrySeconds = action.RetryAfter
		}
		return render(retryTemplate, struct {
			Data
			Message string
		}{Data: d, Message: "Node is pending, no workflow assigned yet"}, "retry")
	default:
		metric.ScriptRenders.WithLabelValues("local_boot").Inc()
		return localBootScript, nil
	}
}

func render(t *template.Template, payload any, class string) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, payload); err != nil {
		return "", fmt.Errorf("rendering %s script: %w", t.Name(), err)
	}
	metric.ScriptRenders.WithLabelValues(class).Inc()
	return buf.String(), nil
}
