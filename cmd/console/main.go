// Command console is the Veyra desktop console: it keeps a session with the
// remote agent, routes commands, and prints the transcript to the terminal.
package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd/console
var Version = "dev"

const usage = `veyra-console - realtime console for a Veyra agent

Usage:
  veyra-console [options]

Options:
  --config <path>            Config file (default: ~/.veyra/console.toml)
  --agent-url <url>          Agent WebSocket endpoint (default: discovered or ws://127.0.0.1:8765/ws)
  --fallback-url <url>       Agent HTTP fallback base URL (default: http://127.0.0.1:8766)
  --section <name>           Section to open at startup (default: last used)
  --theme <name>             Display theme (default: last used)
  --prefs-store <path>       Preference database (default: ~/.veyra/console.db)
  --transcript-limit <n>     Retained transcript entries (default: 500)
  --max-attempts <n>         Connection attempts before going offline (default: 5)
  --request-timeout-ms <n>   Per-command response budget (default: 10000)
  --no-discovery             Skip mDNS agent discovery

Run 'veyra-console --help' for the full option list.
`

func main() {
	os.Exit(run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) >= 2 {
		switch args[1] {
		case "--version", "-v", "version":
			fmt.Fprintf(stdout, "veyra-console %s\n", Version)
			return 0
		case "help":
			fmt.Fprint(stdout, usage)
			return 0
		}
	}
	return runConsole(args[1:], stdin, stdout, stderr)
}
