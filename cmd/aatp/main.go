// Command aatp runs the AATP transaction router and its operator tooling.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable so tests can replace the blocking server.
var startServer = runServer

// Run is the testable entrypoint.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(nil, stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "keygen":
		return runKeygenCmd(args[2:], stdout, stderr)
	case "sign":
		return runSignCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "aatp %s (protocol %s)\n", Version, contracts.ProtocolVersion)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1] != "" && args[1][0] == '-' {
			return startServer(args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "AATP router")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  aatp <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "COMMANDS:")
	_, _ = fmt.Fprintln(w, "  serve     Run the router (default)")
	_, _ = fmt.Fprintln(w, "  health    Check a running router over HTTP")
	_, _ = fmt.Fprintln(w, "  keygen    Generate an Ed25519 agent key pair")
	_, _ = fmt.Fprintln(w, "  sign      Sign a transaction request body")
	_, _ = fmt.Fprintln(w, "  version   Print version information")
}
