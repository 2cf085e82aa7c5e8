package replay

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/go-appsec/pasetool/pasetool/cliutil"
)

var replaySubcommands = []string{"send", "help"}

func Parse(args []string, mcpURL string) error {
	if len(args) < 1 {
		printUsage()
		return errors.New("subcommand required")
	}

	switch args[0] {
	case "send":
		return parseSend(args[1:], mcpURL)
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		return cliutil.UnknownSubcommandError("replay", args[0], replaySubcommands)
	}
}

func printUsage() {
	_, _ = fmt.Fprint(os.Stderr, `Usage: pasetool replay <command> [options]

Send HTTP requests outside the browser. Requests tagged by "paseto edit" are
substituted here exactly as they would be in the proxy.

---

replay send [options]

  Input sources (at least one required):
    --flow <flow_id>      resend a captured flow (also supplies the target)
    --file <path>         raw HTTP request file (- for stdin)

  Request modifications (combine multiple):
    --set-header "Name: Value"     add or replace header
    --remove-header "Name"         remove header
    --target "https://host:8443"   override destination

  Examples:
    pasetool replay send --flow f7k2x
    pasetool replay send --flow f7k2x --set-header "Authorization: Bearer v4.public.AAAA"
    pasetool paseto edit f7k2x --payload CCCC | ... | pasetool replay send --file - --flow f7k2x

  Output: Markdown with flow_id, status, headers, body preview
`)
}

func parseSend(args []string, mcpURL string) error {
	fs := pflag.NewFlagSet("replay send", pflag.ContinueOnError)
	fs.SetInterspersed(true)
	var timeout time.Duration
	var flow, file, target string
	var headers, removeHeaders []string

	fs.DurationVar(&timeout, "timeout", 2*time.Minute, "client-side timeout")
	fs.StringVar(&flow, "flow", "", "flow_id to resend, or to take the target from")
	fs.StringVar(&file, "file", "", "path to raw request file (- for stdin)")
	fs.StringVar(&target, "target", "", "override target URL (scheme://host:port)")
	fs.StringArrayVar(&headers, "set-header", nil, "add or replace header (repeatable)")
	fs.StringArrayVar(&removeHeaders, "remove-header", nil, "remove header by name (repeatable)")

	fs.Usage = func() {
		_, _ = fmt.Fprint(os.Stderr, "Usage: pasetool replay send [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if flow == "" && file == "" {
		fs.Usage()
		return errors.New("--flow or --file required")
	}
	if file == "" && (len(headers) > 0 || len(removeHeaders) > 0) {
		return errors.New("header modifications need the request text: use --file")
	}

	return send(mcpURL, timeout, sendOpts{
		flow:          flow,
		file:          file,
		target:        target,
		setHeaders:    headers,
		removeHeaders: removeHeaders,
	})
}
