package mcpclient

import (
	"context"

	"github.com/go-appsec/pasetool/pasetool/protocol"
)

// ProxyPoll calls proxy_poll and returns the matching flows.
func (c *Client) ProxyPoll(ctx context.Context, opts ProxyPollOpts) (*protocol.ProxyPollResponse, error) {
	args := make(map[string]interface{})
	if opts.Source != "" {
		args["source"] = opts.Source
	}
	if opts.Host != "" {
		args["host"] = opts.Host
	}
	if opts.Path != "" {
		args["path"] = opts.Path
	}
	if opts.Method != "" {
		args["method"] = opts.Method
	}
	if opts.HasToken {
		args["has_token"] = true
	}
	if opts.Since != "" {
		args["since"] = opts.Since
	}
	if opts.Limit > 0 {
		args["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		args["offset"] = opts.Offset
	}

	var resp protocol.ProxyPollResponse
	if err := c.CallToolJSON(ctx, "proxy_poll", args, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FlowGet calls flow_get and returns full request/response data.
func (c *Client) FlowGet(ctx context.Context, flowID string) (*protocol.FlowGetResponse, error) {
	var resp protocol.FlowGetResponse
	if err := c.CallToolJSON(ctx, "flow_get", map[string]interface{}{"flow_id": flowID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PasetoFind calls paseto_find.
func (c *Client) PasetoFind(ctx context.Context, flowID string) (*protocol.TokenFindResponse, error) {
	var resp protocol.TokenFindResponse
	if err := c.CallToolJSON(ctx, "paseto_find", map[string]interface{}{"flow_id": flowID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PasetoEdit calls paseto_edit.
func (c *Client) PasetoEdit(ctx context.Context, flowID string, opts PasetoEditOpts) (*protocol.TokenEditResponse, error) {
	args := map[string]interface{}{"flow_id": flowID}
	if opts.Token != "" {
		args["token"] = opts.Token
	}
	for name, v := range map[string]*string{
		"version": opts.Version,
		"purpose": opts.Purpose,
		"payload": opts.Payload,
		"footer":  opts.Footer,
	} {
		if v != nil {
			args[name] = *v
		}
	}
	if opts.Send {
		args["send"] = true
	}

	var resp protocol.TokenEditResponse
	if err := c.CallToolJSON(ctx, "paseto_edit", args, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PasetoPending calls paseto_pending.
func (c *Client) PasetoPending(ctx context.Context) (*protocol.PendingResponse, error) {
	var resp protocol.PendingResponse
	if err := c.CallToolJSON(ctx, "paseto_pending", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PasetoCancel calls paseto_cancel.
func (c *Client) PasetoCancel(ctx context.Context, key string) (*protocol.CancelResponse, error) {
	var resp protocol.CancelResponse
	if err := c.CallToolJSON(ctx, "paseto_cancel", map[string]interface{}{"key": key}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PasetoDecode calls paseto_decode.
func (c *Client) PasetoDecode(ctx context.Context, token string) (*protocol.DecodeResponse, error) {
	var resp protocol.DecodeResponse
	if err := c.CallToolJSON(ctx, "paseto_decode", map[string]interface{}{"token": token}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SettingsGet calls settings_get.
func (c *Client) SettingsGet(ctx context.Context) (*protocol.SettingsResponse, error) {
	var resp protocol.SettingsResponse
	if err := c.CallToolJSON(ctx, "settings_get", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SettingsSet calls settings_set.
func (c *Client) SettingsSet(ctx context.Context, markRequests bool) (*protocol.SettingsResponse, error) {
	var resp protocol.SettingsResponse
	args := map[string]interface{}{"mark_requests": markRequests}
	if err := c.CallToolJSON(ctx, "settings_set", args, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestSend calls request_send.
func (c *Client) RequestSend(ctx context.Context, opts RequestSendOpts) (*protocol.SendResponse, error) {
	args := make(map[string]interface{})
	if opts.Request != "" {
		args["request"] = opts.Request
	}
	if opts.FlowID != "" {
		args["flow_id"] = opts.FlowID
	}
	if opts.Host != "" {
		args["host"] = opts.Host
	}
	if opts.Port > 0 {
		args["port"] = opts.Port
	}
	if opts.HTTPS {
		args["https"] = true
	}
	if opts.Timeout != "" {
		args["timeout"] = opts.Timeout
	}

	var resp protocol.SendResponse
	if err := c.CallToolJSON(ctx, "request_send", args, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
