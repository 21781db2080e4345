package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/visreg/compare"
	"github.com/hazyhaar/visreg/kit"
	"github.com/hazyhaar/visreg/report"
)

// RegisterMCP registers the visreg tools on an MCP server.
func (r *Runner) RegisterMCP(srv *mcp.Server) {
	r.registerCompareTool(srv)
	r.registerResultsTool(srv)
	r.registerRunsTool(srv)
}

func (r *Runner) endpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(r.log, name), kit.Recover())(ep)
}

// --- visreg_compare ---

type compareReq struct {
	FailOnChanges bool `json:"fail_on_changes"`
}

type compareResp struct {
	Stats    compare.Statistics `json:"stats"`
	PassRate float64            `json:"passRate"`
	ExitCode int                `json:"exitCode"`
	RunID    string             `json:"runId,omitempty"`
	Report   string             `json:"report"`
}

func (r *Runner) registerCompareTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "visreg_compare",
		Description: "Compare the before and after screenshot sets, write diff images and the HTML/JSON report, and return run statistics.",
		InputSchema: kit.InputSchema(map[string]any{
			"fail_on_changes": map[string]any{"type": "boolean", "description": "Report exit code 2 when any pair changed"},
		}),
	}

	ep := func(ctx context.Context, req any) (any, error) {
		args := req.(*compareReq)
		out, err := r.Run(ctx, PhaseCompare)
		if err != nil {
			return nil, err
		}
		resp := compareResp{
			Stats:    out.Comparison.Stats,
			PassRate: out.Comparison.Stats.PassRate(),
			ExitCode: out.ExitCode(args.FailOnChanges),
			Report:   filepath.Join(r.cfg.Paths.Reports, report.HTMLFile),
		}
		if len(out.Phases) > 0 {
			resp.RunID = out.Phases[0].RunID
		}
		return resp, nil
	}

	kit.RegisterMCPTool(srv, tool, r.endpoint(tool.Name, ep), kit.DecodeJSON[compareReq]())
}

// --- visreg_results ---

type resultsReq struct {
	// Status filters results: all, passed, failed, error.
	Status string `json:"status"`
	// MinSeverity keeps results at or above a severity.
	MinSeverity string `json:"min_severity"`
}

func (r *Runner) registerResultsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "visreg_results",
		Description: "Read the latest comparison results, optionally filtered by status or minimum severity.",
		InputSchema: kit.InputSchema(map[string]any{
			"status":       map[string]any{"type": "string", "description": "all (default), passed, failed or error"},
			"min_severity": map[string]any{"type": "string", "description": "none, minimal, minor, major or critical"},
		}),
	}

	ep := func(_ context.Context, req any) (any, error) {
		args := req.(*resultsReq)
		doc, err := report.ReadJSON(filepath.Join(r.cfg.Paths.Reports, report.JSONFile))
		if err != nil {
			return nil, err
		}
		keep, err := resultFilter(args.Status, args.MinSeverity)
		if err != nil {
			return nil, err
		}
		filtered := []compare.Result{}
		for _, res := range doc.Results {
			if keep(res) {
				filtered = append(filtered, res)
			}
		}
		doc.Results = filtered
		return doc, nil
	}

	kit.RegisterMCPTool(srv, tool, r.endpoint(tool.Name, ep), kit.DecodeJSON[resultsReq]())
}

func resultFilter(status, minSeverity string) (func(compare.Result) bool, error) {
	floor := compare.SeverityNone
	if minSeverity != "" {
		s, err := compare.ParseSeverity(minSeverity)
		if err != nil {
			return nil, err
		}
		floor = s
	}
	var byStatus func(compare.Result) bool
	switch status {
	case "", "all":
		byStatus = func(compare.Result) bool { return true }
	case "passed":
		byStatus = func(r compare.Result) bool { return r.Success && r.Passed }
	case "failed":
		byStatus = func(r compare.Result) bool { return r.Success && !r.Passed }
	case "error":
		byStatus = func(r compare.Result) bool { return !r.Success }
	default:
		return nil, fmt.Errorf("unknown status %q", status)
	}
	return func(r compare.Result) bool {
		if !byStatus(r) {
			return false
		}
		return floor == compare.SeverityNone || (r.Success && r.Severity >= floor)
	}, nil
}

// --- visreg_runs ---

type runsReq struct {
	Limit int    `json:"limit"`
	RunID string `json:"run_id"`
}

func (r *Runner) registerRunsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "visreg_runs",
		Description: "List recorded phase runs, most recent first, or the per-pair results of one comparison run.",
		InputSchema: kit.InputSchema(map[string]any{
			"limit":  map[string]any{"type": "integer", "description": "Maximum runs to list (default 20)"},
			"run_id": map[string]any{"type": "string", "description": "Return the comparisons of this run instead"},
		}),
	}

	ep := func(ctx context.Context, req any) (any, error) {
		args := req.(*runsReq)
		if r.hist == nil {
			return nil, errors.New("run history is disabled")
		}
		if args.RunID != "" {
			results, err := r.hist.RunComparisons(ctx, args.RunID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"run_id": args.RunID, "comparisons": results}, nil
		}
		runs, err := r.hist.ListRuns(ctx, args.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"runs": runs}, nil
	}

	kit.RegisterMCPTool(srv, tool, r.endpoint(tool.Name, ep), kit.DecodeJSON[runsReq]())
}
