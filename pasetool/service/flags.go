package service

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/go-appsec/pasetool/pasetool/logger"
)

// MCPServerFlags holds flags for MCP server mode.
type MCPServerFlags struct {
	ConfigPath string
	MCPPort    int // 0 = use config
	ProxyPort  int // 0 = use config
	LogLevel   string
}

// ParseMCPServerFlags parses flags for MCP server mode (pasetool mcp).
func ParseMCPServerFlags(args []string) (MCPServerFlags, error) {
	fs := pflag.NewFlagSet("mcp", pflag.ContinueOnError)
	fs.SetInterspersed(true)
	var flags MCPServerFlags

	fs.StringVar(&flags.ConfigPath, "config", "", "config file path (default: ~/.pasetool/config.json)")
	fs.IntVar(&flags.MCPPort, "port", 0, "MCP server port (default: from config or 9129)")
	fs.IntVar(&flags.ProxyPort, "proxy-port", 0, "built-in proxy port (default: from config or 8181)")
	fs.StringVar(&flags.LogLevel, "log-level", "info", "log level: trace, debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return flags, err
	}

	if flags.MCPPort < 0 || flags.MCPPort > 65535 {
		return flags, fmt.Errorf("invalid --port %d", flags.MCPPort)
	} else if flags.ProxyPort < 0 || flags.ProxyPort > 65535 {
		return flags, fmt.Errorf("invalid --proxy-port %d", flags.ProxyPort)
	} else if lvl := logger.ParseLevel(flags.LogLevel); flags.LogLevel != "" && lvl.String() != strings.ToLower(flags.LogLevel) {
		return flags, fmt.Errorf("invalid --log-level %q", flags.LogLevel)
	}
	return flags, nil
}
