package paseto

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

type editOpts struct {
	token                             string
	version, purpose, payload, footer *string
	send                              bool
}

// withClient connects, runs fn and closes the connection.
func withClient(mcpURL string, timeout time.Duration, fn func(context.Context, *mcpclient.Client) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := mcpclient.Connect(ctx, mcpURL)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	return fn(ctx, client)
}

func find(mcpURL string, timeout time.Duration, flowID string) error {
	return withClient(mcpURL, timeout, func(ctx context.Context, c *mcpclient.Client) error {
		resp, err := c.PasetoFind(ctx, flowID)
		if err != nil {
			return fmt.Errorf("paseto find failed: %w", err)
		}
		if !resp.Found {
			cliutil.NoResults(os.Stdout, resp.Message)
			return nil
		}
		fmt.Printf("Token: `%s`\n", resp.Token)
		fmt.Printf("Found in: %s\n\n", resp.Location)
		if resp.Parts != nil {
			printParts(*resp.Parts)
		}
		cliutil.HintCommand(os.Stdout, "To edit it", "pasetool paseto edit "+flowID+" --payload <b64>")
		return nil
	})
}

func edit(mcpURL string, timeout time.Duration, flowID string, opts editOpts) error {
	return withClient(mcpURL, timeout, func(ctx context.Context, c *mcpclient.Client) error {
		resp, err := c.PasetoEdit(ctx, flowID, mcpclient.PasetoEditOpts{
			Token:   opts.token,
			Version: opts.version,
			Purpose: opts.purpose,
			Payload: opts.payload,
			Footer:  opts.footer,
			Send:    opts.send,
		})
		if err != nil {
			return fmt.Errorf("paseto edit failed: %w", err)
		}

		fmt.Printf("## Edit %s\n\n", cliutil.ID(resp.Key))
		fmt.Printf("Original: `%s`\n", resp.Original)
		fmt.Printf("Edited:   `%s`\n\n", resp.Edited)
		if resp.Sent != nil {
			printSent(resp.Sent)
			return nil
		}
		fmt.Printf("Send this request through the proxy:\n\n```http\n%s\n```\n", resp.Request)
		return nil
	})
}

func pending(mcpURL string, timeout time.Duration) error {
	return withClient(mcpURL, timeout, func(ctx context.Context, c *mcpclient.Client) error {
		resp, err := c.PasetoPending(ctx)
		if err != nil {
			return fmt.Errorf("paseto pending failed: %w", err)
		}
		if len(resp.Pending) == 0 {
			cliutil.NoResults(os.Stdout, "No pending edits.")
			return nil
		}

		t := cliutil.NewTable(os.Stdout)
		t.AppendHeader(table.Row{"Key", "Method", "Path", "Edited", "Age"})
		for _, p := range resp.Pending {
			t.AppendRow(table.Row{p.Key, p.Method, p.Path, p.Edited, p.Age})
		}
		t.Render()
		cliutil.Summary(os.Stdout, len(resp.Pending), "pending edit", "pending edits")
		return nil
	})
}

func cancelEdit(mcpURL string, timeout time.Duration, key string) error {
	return withClient(mcpURL, timeout, func(ctx context.Context, c *mcpclient.Client) error {
		if _, err := c.PasetoCancel(ctx, key); err != nil {
			return fmt.Errorf("paseto cancel failed: %w", err)
		}
		fmt.Printf("Cancelled %s\n", cliutil.ID(key))
		return nil
	})
}

func decode(mcpURL string, timeout time.Duration, token string) error {
	return withClient(mcpURL, timeout, func(ctx context.Context, c *mcpclient.Client) error {
		resp, err := c.PasetoDecode(ctx, token)
		if err != nil {
			return fmt.Errorf("paseto decode failed: %w", err)
		}
		if !resp.Valid {
			fmt.Println(cliutil.Error("Not a well-formed PASETO token; showing best-effort split."))
		}
		printParts(resp.Parts)
		fmt.Printf("\nRecomposed: `%s`\n", resp.Recomposed)
		if resp.PayloadBytes > 0 {
			fmt.Printf("Payload bytes: %d\n", resp.PayloadBytes)
		}
		if resp.PublicClaims != "" {
			fmt.Printf("Claims: %s\n", resp.PublicClaims)
		}
		if resp.FooterText != "" {
			fmt.Printf("Footer text: %s\n", resp.FooterText)
		}
		return nil
	})
}

func mark(mcpURL string, timeout time.Duration, on *bool) error {
	return withClient(mcpURL, timeout, func(ctx context.Context, c *mcpclient.Client) error {
		var resp *protocol.SettingsResponse
		var err error
		if on == nil {
			resp, err = c.SettingsGet(ctx)
		} else {
			resp, err = c.SettingsSet(ctx, *on)
		}
		if err != nil {
			return fmt.Errorf("paseto mark failed: %w", err)
		}

		state := "off"
		if resp.MarkRequests {
			state = cliutil.Success("on")
		}
		fmt.Printf("Mark substituted requests: %s\n", state)
		fmt.Printf("Pending edits: %d\n", resp.PendingEdits)
		return nil
	})
}

func printParts(p protocol.TokenParts) {
	t := cliutil.NewTable(os.Stdout)
	t.AppendHeader(table.Row{"Section", "Value"})
	t.AppendRows([]table.Row{
		{"version", p.Version},
		{"purpose", p.Purpose},
		{"payload", p.Payload},
		{"footer", p.Footer},
	})
	t.Render()
}

func printSent(s *protocol.SendResponse) {
	fmt.Printf("### Sent as flow %s\n\n", cliutil.ID(s.FlowID))
	fmt.Printf("Status: %s (%s)\n", s.StatusLine, s.Duration)
	fmt.Printf("Substituted: %v\n", s.Substituted)
	fmt.Printf("Size: %d bytes\n\n", s.RespSize)
	if s.RespHeaders != "" {
		fmt.Printf("Headers:\n```\n%s```\n\n", s.RespHeaders)
	}
	if s.RespPreview != "" {
		fmt.Printf("Body Preview:\n```\n%s\n```\n", s.RespPreview)
	}
}
