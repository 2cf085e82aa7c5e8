package service

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/go-appsec/pasetool/pasetool/protocol"
	"github.com/go-appsec/pasetool/pasetool/service/paseto"
	"github.com/go-appsec/pasetool/pasetool/service/store"
)

// noTokenMessage is shown when an edit is requested on a request without a token.
const noTokenMessage = "No PASETO token found in the selected request."

func (m *mcpServer) pasetoFindTool() mcp.Tool {
	return mcp.NewTool("paseto_find",
		mcp.WithDescription(`Locate the first PASETO token in a flow's request.

Headers are searched in order, then the body (decoded from its Content-Encoding).
Returns the token, the header name or "body" it was found in, and its parts. found=false is a normal result.`),
		mcp.WithString("flow_id", mcp.Required(), mcp.Description("Flow identifier from proxy_poll")),
	)
}

func (m *mcpServer) pasetoEditTool() mcp.Tool {
	return mcp.NewTool("paseto_edit",
		mcp.WithDescription(`Queue an edited PASETO token for a flow's request.

Give either token (whole replacement) or any of version/purpose/payload/footer (the rest are kept from the original).
The first occurrence of the original token is replaced in each header and in the body. The edit is applied to the next
request carrying the returned X-Paseto-Edit-Id header; the header itself is never forwarded.
send=true issues that request immediately and returns the resulting flow; otherwise the tagged request text is returned.`),
		mcp.WithString("flow_id", mcp.Required(), mcp.Description("Flow identifier from proxy_poll")),
		mcp.WithString("token", mcp.Description("Whole replacement token; takes precedence over part edits")),
		mcp.WithString("version", mcp.Description("Replacement version, e.g. v4")),
		mcp.WithString("purpose", mcp.Description("Replacement purpose: local or public")),
		mcp.WithString("payload", mcp.Description("Replacement base64url payload")),
		mcp.WithString("footer", mcp.Description("Replacement footer; empty removes it")),
		mcp.WithBoolean("send", mcp.Description("Send the tagged request now")),
	)
}

func (m *mcpServer) pasetoPendingTool() mcp.Tool {
	return mcp.NewTool("paseto_pending",
		mcp.WithDescription("List queued token edits waiting for their tagged request, oldest first."),
	)
}

func (m *mcpServer) pasetoCancelTool() mcp.Tool {
	return mcp.NewTool("paseto_cancel",
		mcp.WithDescription("Drop the oldest queued edit under key. A later request tagged with key is forwarded unchanged."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Edit key returned by paseto_edit")),
	)
}

func (m *mcpServer) pasetoDecodeTool() mcp.Tool {
	return mcp.NewTool("paseto_decode",
		mcp.WithDescription(`Split a token into version, purpose, payload and footer without verifying it.

Payload and footer are base64url-decoded where possible; public-purpose claims are shown when they read as text.`),
		mcp.WithString("token", mcp.Required(), mcp.Description("Token text")),
	)
}

func (m *mcpServer) settingsGetTool() mcp.Tool {
	return mcp.NewTool("settings_get",
		mcp.WithDescription("Read runtime settings: mark_requests (highlight substituted requests green) and the pending edit count."),
	)
}

func (m *mcpServer) settingsSetTool() mcp.Tool {
	return mcp.NewTool("settings_set",
		mcp.WithDescription("Change mark_requests. Saved to the config file and applied from the next request."),
		mcp.WithBoolean("mark_requests", mcp.Required(), mcp.Description("Highlight substituted requests")),
	)
}

func tokenParts(t paseto.Token) *protocol.TokenParts {
	return &protocol.TokenParts{Version: t.Version, Purpose: t.Purpose, Payload: t.Payload, Footer: t.Footer}
}

func (m *mcpServer) handlePasetoFind(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flowID := req.GetString("flow_id", "")
	entry, errResult := m.resolveFlow(flowID)
	if errResult != nil {
		return errResult, nil
	}

	match, ok := paseto.FindInRequest(entry.Request)
	if !ok {
		return jsonResult(&protocol.TokenFindResponse{FlowID: flowID, Message: noTokenMessage})
	}
	return jsonResult(&protocol.TokenFindResponse{
		FlowID:   flowID,
		Found:    true,
		Token:    match.Token,
		Location: match.Location,
		Parts:    tokenParts(paseto.Decompose(match.Token)),
	})
}

// fieldEdit reads the part arguments that were actually supplied.
func fieldEdit(req mcp.CallToolRequest) paseto.FieldEdit {
	args := req.GetArguments()
	get := func(name string) *string {
		if v, ok := args[name].(string); ok {
			return &v
		}
		return nil
	}
	return paseto.FieldEdit{
		Version: get("version"),
		Purpose: get("purpose"),
		Payload: get("payload"),
		Footer:  get("footer"),
	}
}

func (m *mcpServer) handlePasetoEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flowID := req.GetString("flow_id", "")
	entry, errResult := m.resolveFlow(flowID)
	if errResult != nil {
		return errResult, nil
	}

	match, ok := paseto.FindInRequest(entry.Request)
	if !ok {
		return errorResult(noTokenMessage), nil
	}
	edited := paseto.EditToken(match.Token, req.GetString("token", ""), fieldEdit(req))

	armed, err := m.service.engine.Arm(entry.Request, match.Token, edited)
	switch {
	case errors.Is(err, paseto.ErrNoChange):
		return errorResult("edited token is identical to the original; nothing was queued"), nil
	case errors.Is(err, paseto.ErrNoToken):
		return errorResult(noTokenMessage), nil
	case errors.Is(err, paseto.ErrUnsafeHeaderValue):
		return errorResult("edited token cannot be placed in a header: it contains control characters"), nil
	case errors.Is(err, store.ErrPendingFull):
		return errorResult("too many pending edits: send or cancel some with paseto_pending/paseto_cancel"), nil
	case err != nil:
		return errorResult("failed to queue edit: " + err.Error()), nil
	}

	resp := protocol.TokenEditResponse{Key: armed.Key, Original: match.Token, Edited: armed.Edited}
	if !req.GetBool("send", false) {
		var buf bytes.Buffer
		resp.Request = string(armed.Tagged.SerializeRaw(&buf, false))
		return jsonResult(&resp)
	}

	if entry.Target == nil {
		m.service.engine.Cancel(armed.Key)
		return errorResult("flow has no recorded target; send the tagged request through the proxy instead"), nil
	}
	sent, errResult := m.send(ctx, armed.Tagged, *entry.Target)
	if errResult != nil {
		// no-op when the send already claimed the edit
		m.service.engine.Cancel(armed.Key)
		return errResult, nil
	}
	resp.Sent = sent
	return jsonResult(&resp)
}

func (m *mcpServer) handlePasetoPending(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pending := m.service.engine.Pending()
	now := time.Now()
	out := make([]protocol.PendingEntry, 0, len(pending))
	for _, p := range pending {
		out = append(out, protocol.PendingEntry{
			Key:      p.Key,
			Original: p.Original,
			Edited:   p.Edited,
			Method:   p.Method,
			Path:     p.Path,
			Age:      now.Sub(p.Enqueued).Round(time.Second).String(),
		})
	}
	return jsonResult(&protocol.PendingResponse{Pending: out})
}

func (m *mcpServer) handlePasetoCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("key", "")
	if key == "" {
		return errorResult("key is required"), nil
	}
	cancelled := m.service.engine.Cancel(key)
	if !cancelled {
		return errorResult("no pending edit for key " + key), nil
	}
	m.log.Info().Str("key", key).Msg("edit cancelled")
	return jsonResult(&protocol.CancelResponse{Key: key, Cancelled: true})
}

func (m *mcpServer) handlePasetoDecode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token := req.GetString("token", "")
	if token == "" {
		return errorResult("token is required"), nil
	}
	p := paseto.Inspect(token)
	return jsonResult(&protocol.DecodeResponse{
		Token:        token,
		Valid:        paseto.Valid(token),
		Parts:        *tokenParts(p.Token),
		Recomposed:   p.Token.String(),
		PayloadBytes: p.PayloadBytes,
		PublicClaims: p.PublicClaims,
		FooterText:   p.FooterText,
	})
}

func (m *mcpServer) settingsResponse() (*mcp.CallToolResult, error) {
	mark, err := m.service.settings.MarkRequests()
	if err != nil {
		return errorResult("failed to read settings: " + err.Error()), nil
	}
	return jsonResult(&protocol.SettingsResponse{MarkRequests: mark, PendingEdits: m.service.registry.Len()})
}

func (m *mcpServer) handleSettingsGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return m.settingsResponse()
}

func (m *mcpServer) handleSettingsSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, ok := req.GetArguments()["mark_requests"].(bool); !ok {
		return errorResult("mark_requests must be true or false"), nil
	}
	mark := req.GetBool("mark_requests", false)
	if err := m.service.settings.SetMarkRequests(mark); err != nil {
		return errorResult("failed to save settings: " + err.Error()), nil
	}
	m.log.Info().Bool("mark_requests", mark).Msg("settings changed")
	return m.settingsResponse()
}
