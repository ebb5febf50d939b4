package util

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// isSSHSession reports whether the current process appears to run inside an
// SSH session, in which case the OAuth callback cannot reach this machine
// directly.
func isSSHSession() bool {
	return os.Getenv("SSH_CONNECTION") != "" || os.Getenv("SSH_CLIENT") != "" || os.Getenv("SSH_TTY") != ""
}

// localIPHint returns a best-effort non-loopback IPv4 address for display in
// the tunnel instructions, or an empty string when none is found.
func localIPHint() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

// PrintSSHTunnelInstructions prints a hint for forwarding the OAuth callback
// port when logging in on a remote machine. It is a no-op for local sessions.
func PrintSSHTunnelInstructions(port int) {
	if !isSSHSession() {
		return
	}
	host := localIPHint()
	if host == "" {
		host = "<remote-host>"
	}
	var b strings.Builder
	b.WriteString("\nDetected SSH session. The OAuth callback listens on this machine,\n")
	b.WriteString("so forward the port from your local machine first:\n\n")
	b.WriteString(fmt.Sprintf("    ssh -L %d:localhost:%d %s\n\n", port, port, host))
	b.WriteString("then open the authentication URL in your local browser.\n")
	fmt.Print(b.String())
}
