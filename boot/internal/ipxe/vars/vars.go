// Package vars resolves ${namespace.key} and ${namespace.key|default}
// placeholders in workflow-provided strings, typically kernel command lines.
// Closed namespaces carry a fixed key set filled by the dispatcher; meta and
// secret are open and accept any key.
package vars

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholderRE matches ${ns.key} and ${ns.key|default}. The default may be
// empty, which distinguishes "${a.b|}" (empty on miss) from "${a.b}" (literal
// kept on miss).
var placeholderRE = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\.([a-zA-Z0-9_.\-]+)(\|[^}]*)?\}`)

// closed namespaces and their admissible keys.
var closedNamespaces = map[string][]string{
	"node":      {"id", "mac", "serial", "hostname", "ip", "state", "arch"},
	"group":     {"id", "name"},
	"workflow":  {"id", "install_method", "kernel_path", "initrd_path", "boot_url", "image_url", "target_device", "nfs_server", "nfs_path", "post_script_url"},
	"server":    {"url", "ip", "host"},
	"template":  {"name"},
	"execution": {"id", "timestamp"},
}

// openNamespaces accept any key.
var openNamespaces = map[string]bool{"meta": true, "secret": true}

// Context holds the values placeholders resolve against. Each map is keyed by
// the bare key, without the namespace prefix. A nil map resolves nothing.
type Context struct {
	Node      map[string]string
	Group     map[string]string
	Workflow  map[string]string
	Server    map[string]string
	Template  map[string]string
	Execution map[string]string
	Meta      map[string]string
	Secret    map[string]string
}

func (c Context) namespace(ns string) map[string]string {
	switch ns {
	case "node":
		return c.Node
	case "group":
		return c.Group
	case "workflow":
		return c.Workflow
	case "server":
		return c.Server
	case "template":
		return c.Template
	case "execution":
		return c.Execution
	case "meta":
		return c.Meta
	case "secret":
		return c.Secret
	default:
		return nil
	}
}

// Resolve substitutes every resolvable placeholder in s. Unknown keys and
// unknown namespaces leave the literal placeholder in place unless the
// placeholder carries a |default.
func Resolve(s string, ctx Context) string {
	return placeholderRE.ReplaceAllStringFunc(s, func(match string) string {
		groups := placeholderRE.FindStringSubmatch(match)
		ns, key, def := groups[1], groups[2], groups[3]
		hasDefault := def != ""
		defValue := strings.TrimPrefix(def, "|")

		values := ctx.namespace(ns)
		_, closedOK := closedNamespaces[ns]
		if !closedOK && !openNamespaces[ns] {
			// Invalid namespace: Validate reports it, Resolve leaves it.
			return match
		}
		if v, ok := values[key]; ok {
			return v
		}
		if hasDefault {
			return defValue
		}
		return match
	})
}

// Validate reports every placeholder in s whose namespace is not recognised,
// or whose key is outside a closed namespace's key set. Resolvability of open
// namespace keys is a runtime concern, not a validation one.
func Validate(s string) error {
	var problems []string
	for _, groups := range placeholderRE.FindAllStringSubmatch(s, -1) {
		ns, key := groups[1], groups[2]
		if openNamespaces[ns] {
			continue
		}
		keys, ok := closedNamespaces[ns]
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown namespace %q in ${%s.%s}", ns, ns, key))
			continue
		}
		found := false
		for _, k := range keys {
			if k == key {
				found = true
				break
			}
		}
		if !found {
			problems = append(problems, fmt.Sprintf("unknown key %q in namespace %q", key, ns))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("invalid placeholders: %s", strings.Join(problems, "; "))
}
