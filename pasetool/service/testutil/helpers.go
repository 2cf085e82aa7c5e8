package testutil

import (
	"context"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

// CallMCPTool calls a tool and fails the test on transport errors.
// Tool-level errors are returned in the result for the caller to inspect.
func CallMCPTool(t *testing.T, client *mcpclient.Client, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()

	result, err := client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	require.NoError(t, err)
	return result
}

// ExtractMCPText returns the first text content of result.
func ExtractMCPText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, result.Content, "result should have content")
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content found in result")
	return ""
}

// WaitForCount polls count until it reaches at least want.
func WaitForCount(t *testing.T, count func() int, want int) {
	t.Helper()

	require.Eventually(t, func() bool { return count() >= want }, 5*time.Second, 10*time.Millisecond,
		"expected count to reach %d", want)
}
