package kit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}
	base := func(context.Context, any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil || resp != "ok" {
		t.Fatalf("got %v, %v", resp, err)
	}
	want := "a_before b_before endpoint b_after a_after"
	if got := strings.Join(order, " "); got != want {
		t.Fatalf("order: got %q, want %q", got, want)
	}
}

func TestLogging_PassesThrough(t *testing.T) {
	errFail := errors.New("fail")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ep := Logging(logger, "x")(func(context.Context, any) (any, error) { return nil, errFail })
	if _, err := ep(context.Background(), nil); !errors.Is(err, errFail) {
		t.Fatalf("got %v", err)
	}
}

func TestRecover_LoggedAsFailure(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ep := Chain(Logging(logger, "boom"), Recover())(func(context.Context, any) (any, error) {
		panic("nil map")
	})
	resp, err := ep(context.Background(), nil)
	if resp != nil || err == nil || !strings.Contains(err.Error(), "panic: nil map") {
		t.Fatalf("got %v, %v", resp, err)
	}
	if !strings.Contains(buf.String(), "kit: call failed") || !strings.Contains(buf.String(), "endpoint=boom") {
		t.Errorf("log: %s", buf.String())
	}
}

func TestContext_Defaults(t *testing.T) {
	ctx := context.Background()
	if GetTransport(ctx) != "local" || GetRequestID(ctx) != "" {
		t.Fatal("unexpected defaults")
	}
	ctx = WithRequestID(WithTransport(ctx, "mcp"), "req_1")
	if GetTransport(ctx) != "mcp" || GetRequestID(ctx) != "req_1" {
		t.Fatal("values not carried")
	}
}

type echoReq struct {
	Name string `json:"name"`
}

func session(t *testing.T) *mcp.ClientSession {
	t.Helper()
	impl := &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	RegisterMCPTool(srv, &mcp.Tool{
		Name:        "echo",
		Description: "Echo the name with transport metadata.",
		InputSchema: InputSchema(map[string]any{"name": map[string]any{"type": "string"}}, "name"),
	}, func(ctx context.Context, req any) (any, error) {
		r := req.(*echoReq)
		if r.Name == "" {
			return nil, errors.New("name is required")
		}
		return map[string]any{
			"name":       r.Name,
			"transport":  GetTransport(ctx),
			"request_id": GetRequestID(ctx),
		}, nil
	}, DecodeJSON[echoReq]())

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(impl, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func TestRegisterMCPTool(t *testing.T) {
	cs := session(t)
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"name": "visreg"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := res.GetError(); err != nil {
		t.Fatalf("tool error: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &got); err != nil {
		t.Fatal(err)
	}
	if got["name"] != "visreg" || got["transport"] != "mcp" || !strings.HasPrefix(got["request_id"], "req_") {
		t.Errorf("got %v", got)
	}
}

func TestRegisterMCPTool_EndpointError(t *testing.T) {
	cs := session(t)
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"name": ""},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected tool error")
	}
}
