package proxy

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/go-appsec/pasetool/pasetool/cliutil"
	"github.com/go-appsec/pasetool/pasetool/mcpclient"
	"github.com/go-appsec/pasetool/pasetool/protocol"
)

type listOpts struct {
	source, host, path, method, since string
	tokens                            bool
	limit, offset                     int
}

func list(mcpURL string, timeout time.Duration, opts listOpts) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := mcpclient.Connect(ctx, mcpURL)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	resp, err := client.ProxyPoll(ctx, mcpclient.ProxyPollOpts{
		Source:   opts.source,
		Host:     opts.host,
		Path:     opts.path,
		Method:   opts.method,
		HasToken: opts.tokens,
		Since:    opts.since,
		Limit:    opts.limit,
		Offset:   opts.offset,
	})
	if err != nil {
		return fmt.Errorf("proxy list failed: %w", err)
	}

	if len(resp.Flows) == 0 {
		cliutil.NoResults(os.Stdout, "No matching flows found.")
		return nil
	}
	printFlowTable(resp.Flows)
	if resp.Note != "" {
		cliutil.Hint(os.Stdout, resp.Note)
	}
	return nil
}

func printFlowTable(flows []protocol.FlowEntry) {
	t := cliutil.NewTable(os.Stdout)
	t.AppendHeader(table.Row{"Flow ID", "Method", "Host", "Path", "Status", "Size", "Source", "Token"})
	t.SetRowPainter(cliutil.StatusRowPainter(4)) // status is column index 4

	for _, f := range flows {
		var token string
		if f.HasToken {
			token = "yes"
		}
		if f.Highlight != "" {
			token += " (" + f.Highlight + ")"
		}
		t.AppendRow(table.Row{f.FlowID, f.Method, f.Host, f.Path, f.Status, f.ResponseLength, f.Source, token})
	}
	t.Render()
	cliutil.Summary(os.Stdout, len(flows), "flow", "flows")

	last := flows[len(flows)-1]
	cliutil.HintCommand(os.Stdout, "To list flows after this", "pasetool proxy list --since "+last.FlowID)
}
