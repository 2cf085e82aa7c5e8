package main

import (
	"fmt"
	"os"
	"strings"
)

const mcpURLFlag = "--mcp-url"

// extractGlobalFlags removes a leading --mcp-url from args.
func extractGlobalFlags(args []string) (mcpURL string, rest []string, err error) {
	for len(args) > 0 && strings.HasPrefix(args[0], mcpURLFlag) {
		if v, ok := strings.CutPrefix(args[0], mcpURLFlag+"="); ok {
			mcpURL = v
			args = args[1:]
		} else if args[0] == mcpURLFlag {
			if len(args) < 2 {
				return "", nil, fmt.Errorf("%s requires a value", mcpURLFlag)
			}
			mcpURL = args[1]
			args = args[2:]
		} else {
			break
		}
	}
	if mcpURL == "" {
		mcpURL = os.Getenv("PASETOOL_MCP_URL")
	}
	return mcpURL, args, nil
}

func printRootUsage() {
	_, _ = fmt.Fprint(os.Stderr, `Usage: pasetool [--mcp-url <url>] <command> [options]

Commands:
  mcp        Run the MCP server with the built-in intercepting proxy
  proxy      Query captured traffic
  paseto     Find, edit and substitute PASETO tokens
  replay     Send raw requests (tagged edits are substituted)
  version    Print the version

Global Options:
  --mcp-url <url>    MCP server URL (default: $PASETOOL_MCP_URL or http://127.0.0.1:9129/mcp)

Use "pasetool <command> --help" for specific command usage.
`)
}
