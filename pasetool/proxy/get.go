package proxy

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-appsec/pasetool/pasetool/cliutil"
	"github.com/go-appsec/pasetool/pasetool/mcpclient"
)

func get(mcpURL string, timeout time.Duration, flowID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := mcpclient.Connect(ctx, mcpURL)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	resp, err := client.FlowGet(ctx, flowID)
	if err != nil {
		return fmt.Errorf("proxy get failed: %w", err)
	}

	fmt.Printf("## Flow %s\n\n", cliutil.ID(resp.FlowID))
	fmt.Printf("%s %s (%s)\n", resp.Method, resp.URL, resp.Source)
	if resp.Duration != "" {
		fmt.Printf("Duration: %s\n", resp.Duration)
	}
	if resp.Highlight != "" {
		fmt.Printf("Marked: %s %s\n", cliutil.Success(resp.Highlight), resp.Comment)
	}
	fmt.Printf("\n### Request\n\n```http\n%s\n```\n\n", resp.Request)

	if resp.NoResponse {
		fmt.Println(cliutil.Error("No response recorded."))
		return nil
	}
	fmt.Printf("### Response\n\n```http\n%s\n```\n", resp.Response)
	if resp.Truncated {
		cliutil.Hint(os.Stdout, fmt.Sprintf("Body truncated in history (%d bytes kept).", resp.RespSize))
	}
	return nil
}
