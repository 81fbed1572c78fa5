package launcher

import (
	"fmt"
	"strings"
)

// Loopback rewriting: frontend bundles commonly hardcode a local backend
// address that stops resolving once the code runs on the target. This is a
// best-effort text substitution over known web file extensions, applied
// after unpacking and before launch. It silently no-ops when nothing
// matches. The transformation table below is the complete set of rewrites;
// reversing it (swap each pair) restores the original text.

var rewriteExtensions = []string{".html", ".js", ".jsx", ".ts", ".tsx", ".json"}

var loopbackHosts = []string{"localhost", "127.0.0.1"}

// loopbackPorts are the local dev-server ports frontends conventionally
// point at.
var loopbackPorts = []int{8000, 8080, 5000, 3001}

// RewriteTable returns ordered old→new pairs mapping each loopback backend
// address to the target's public address and actual backend port.
func RewriteTable(publicAddress string, backendPort int) [][2]string {
	target := fmt.Sprintf("%s:%d", publicAddress, backendPort)
	pairs := make([][2]string, 0, len(loopbackHosts)*len(loopbackPorts))
	for _, host := range loopbackHosts {
		for _, port := range loopbackPorts {
			pairs = append(pairs, [2]string{fmt.Sprintf("%s:%d", host, port), target})
		}
	}
	return pairs
}

// RewriteCommands builds the shell commands that apply the rewrite table to
// every matching file under dir. Each command tolerates missing files and
// missing directories.
func RewriteCommands(dir, publicAddress string, backendPort int) []string {
	var names []string
	for _, ext := range rewriteExtensions {
		names = append(names, fmt.Sprintf("-name '*%s'", ext))
	}
	match := strings.Join(names, " -o ")

	cmds := make([]string, 0, len(loopbackHosts)*len(loopbackPorts))
	for _, pair := range RewriteTable(publicAddress, backendPort) {
		cmds = append(cmds, fmt.Sprintf(
			"find %s -type f \\( %s \\) -exec sed -i 's|%s|%s|g' {} + 2>/dev/null || true",
			dir, match, pair[0], pair[1]))
	}
	return cmds
}
