package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/visreg/internal/idgen"
)

var newRequestID = idgen.Prefixed("req_", idgen.UUIDv7())

// RegisterMCPTool exposes endpoint as an MCP tool. decode turns the raw
// arguments into the endpoint request. Decode and endpoint errors become
// tool errors; the response is returned as JSON text.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(json.RawMessage) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := decode(req.Params.Arguments)
		if err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}

		ctx = WithRequestID(WithTransport(ctx, "mcp"), newRequestID())
		resp, err := endpoint(ctx, args)
		if err != nil {
			return toolError(err), nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

// DecodeJSON returns a decoder into a fresh *T. Empty arguments decode to
// the zero value.
func DecodeJSON[T any]() func(json.RawMessage) (any, error) {
	return func(raw json.RawMessage) (any, error) {
		v := new(T)
		if len(raw) == 0 || string(raw) == "null" {
			return v, nil
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// InputSchema builds a JSON object schema.
func InputSchema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
