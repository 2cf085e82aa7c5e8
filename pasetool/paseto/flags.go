package paseto

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/go-appsec/pasetool/pasetool/cliutil"
)

var pasetoSubcommands = []string{"find", "edit", "pending", "cancel", "decode", "mark", "help"}

func Parse(args []string, mcpURL string) error {
	if len(args) < 1 {
		printUsage()
		return errors.New("subcommand required")
	}

	switch args[0] {
	case "find":
		return parseFind(args[1:], mcpURL)
	case "edit":
		return parseEdit(args[1:], mcpURL)
	case "pending":
		return parsePending(args[1:], mcpURL)
	case "cancel":
		return parseCancel(args[1:], mcpURL)
	case "decode":
		return parseDecode(args[1:], mcpURL)
	case "mark":
		return parseMark(args[1:], mcpURL)
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		return cliutil.UnknownSubcommandError("paseto", args[0], pasetoSubcommands)
	}
}

func printUsage() {
	_, _ = fmt.Fprint(os.Stderr, `Usage: pasetool paseto <command> [options]

Find, edit and substitute PASETO tokens in captured requests.

---

paseto find <flow_id>

  Show the first token in a flow's request (headers first, then body).

---

paseto edit <flow_id> [options]

  Queue an edited token. The first occurrence of the original token is replaced
  in each header and in the body of the flow's request.

  Options:
    --token <token>       whole replacement token
    --version <v>         replace the version section
    --purpose <p>         replace the purpose section
    --payload <b64>       replace the payload section
    --footer <b64>        replace the footer section ("" removes it)
    --send                send the edited request now

  Without --send the tagged request is printed; send it through the proxy and
  the edit is substituted on the way out.

  Examples:
    pasetool paseto edit f7k2x --payload CCCC --send
    pasetool paseto edit f7k2x --token v4.public.eyJ...

---

paseto pending                 list queued edits
paseto cancel <key>            drop a queued edit
paseto decode <token>          split a token without verifying it
paseto mark <on|off>           highlight substituted requests (no argument shows the setting)
`)
}

func newFlagSet(name, usage string) (*pflag.FlagSet, *time.Duration) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetInterspersed(true)
	timeout := fs.Duration("timeout", 30*time.Second, "client-side timeout")
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: pasetool %s\n\nOptions:\n", usage)
		fs.PrintDefaults()
	}
	return fs, timeout
}

func parseFind(args []string, mcpURL string) error {
	fs, timeout := newFlagSet("paseto find", "paseto find <flow_id> [options]")
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() < 1 {
		fs.Usage()
		return errors.New("flow_id required")
	}
	return find(mcpURL, *timeout, fs.Arg(0))
}

func parseEdit(args []string, mcpURL string) error {
	fs, timeout := newFlagSet("paseto edit", "paseto edit <flow_id> [options]")
	var token, version, purpose, payload, footer string
	var send bool
	fs.StringVar(&token, "token", "", "whole replacement token")
	fs.StringVar(&version, "version", "", "replacement version section")
	fs.StringVar(&purpose, "purpose", "", "replacement purpose section")
	fs.StringVar(&payload, "payload", "", "replacement payload section")
	fs.StringVar(&footer, "footer", "", "replacement footer section")
	fs.BoolVar(&send, "send", false, "send the edited request now")

	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() < 1 {
		fs.Usage()
		return errors.New("flow_id required")
	}

	// only sections named on the command line are edited
	changed := func(name, v string) *string {
		if fs.Changed(name) {
			return &v
		}
		return nil
	}
	opts := editOpts{
		token:   token,
		version: changed("version", version),
		purpose: changed("purpose", purpose),
		payload: changed("payload", payload),
		footer:  changed("footer", footer),
		send:    send,
	}
	if opts.token == "" && opts.version == nil && opts.purpose == nil && opts.payload == nil && opts.footer == nil {
		return errors.New("nothing to edit: give --token or at least one of --version, --purpose, --payload, --footer")
	}
	return edit(mcpURL, *timeout, fs.Arg(0), opts)
}

func parsePending(args []string, mcpURL string) error {
	fs, timeout := newFlagSet("paseto pending", "paseto pending [options]")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return pending(mcpURL, *timeout)
}

func parseCancel(args []string, mcpURL string) error {
	fs, timeout := newFlagSet("paseto cancel", "paseto cancel <key> [options]")
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() < 1 {
		fs.Usage()
		return errors.New("key required")
	}
	return cancelEdit(mcpURL, *timeout, fs.Arg(0))
}

func parseDecode(args []string, mcpURL string) error {
	fs, timeout := newFlagSet("paseto decode", "paseto decode <token> [options]")
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() < 1 {
		fs.Usage()
		return errors.New("token required")
	}
	return decode(mcpURL, *timeout, fs.Arg(0))
}

func parseMark(args []string, mcpURL string) error {
	fs, timeout := newFlagSet("paseto mark", "paseto mark [on|off] [options]")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return mark(mcpURL, *timeout, nil)
	}

	var on bool
	switch fs.Arg(0) {
	case "on":
		on = true
	case "off":
	default:
		return fmt.Errorf("invalid mark state: %s (expected on or off)", fs.Arg(0))
	}
	return mark(mcpURL, *timeout, &on)
}
