package proxy

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/go-appsec/pasetool/pasetool/cliutil"
)

var proxySubcommands = []string{"list", "get", "help"}

func Parse(args []string, mcpURL string) error {
	if len(args) < 1 {
		printUsage()
		return errors.New("subcommand required")
	}

	switch args[0] {
	case "list":
		return parseList(args[1:], mcpURL)
	case "get":
		return parseGet(args[1:], mcpURL)
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		return cliutil.UnknownSubcommandError("proxy", args[0], proxySubcommands)
	}
}

func printUsage() {
	_, _ = fmt.Fprint(os.Stderr, `Usage: pasetool proxy <command> [options]

Query captured traffic.

---

proxy list [options]

  List flows from proxy history and sent requests.

  Options:
    --source <proxy|replay>   only flows of this source
    --host <glob>             filter by host (*, ?)
    --path <glob>             filter by path and query (*, ?)
    --method <list>           comma-separated methods
    --tokens                  only flows whose request carries a PASETO token
    --since <flow_id|last>    only flows after this one
    --limit, --offset         pagination

  Examples:
    pasetool proxy list --tokens
    pasetool proxy list --host "*.example.com" --since last

---

proxy get <flow_id>

  Show the full request and response of a flow.
`)
}

func parseList(args []string, mcpURL string) error {
	fs := pflag.NewFlagSet("proxy list", pflag.ContinueOnError)
	fs.SetInterspersed(true)
	var timeout time.Duration
	var source, host, path, method, since string
	var tokens bool
	var limit, offset int

	fs.DurationVar(&timeout, "timeout", 30*time.Second, "client-side timeout")
	fs.StringVar(&source, "source", "", "filter by source: proxy or replay")
	fs.StringVar(&host, "host", "", "filter by host pattern (glob: *, ?)")
	fs.StringVar(&path, "path", "", "filter by path pattern (glob: *, ?)")
	fs.StringVar(&method, "method", "", "filter by HTTP method (comma-separated)")
	fs.BoolVar(&tokens, "tokens", false, "only flows carrying a PASETO token")
	fs.StringVar(&since, "since", "", "only flows after flow_id, or 'last'")
	fs.IntVar(&limit, "limit", 0, "max flows to show")
	fs.IntVar(&offset, "offset", 0, "skip the first N matching flows")

	fs.Usage = func() {
		_, _ = fmt.Fprint(os.Stderr, "Usage: pasetool proxy list [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	return list(mcpURL, timeout, listOpts{
		source: source, host: host, path: path, method: method,
		tokens: tokens, since: since, limit: limit, offset: offset,
	})
}

func parseGet(args []string, mcpURL string) error {
	fs := pflag.NewFlagSet("proxy get", pflag.ContinueOnError)
	var timeout time.Duration
	fs.DurationVar(&timeout, "timeout", 30*time.Second, "client-side timeout")

	fs.Usage = func() {
		_, _ = fmt.Fprint(os.Stderr, "Usage: pasetool proxy get <flow_id> [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return errors.New("flow_id required")
	}

	return get(mcpURL, timeout, fs.Arg(0))
}
