package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"

	"github.com/agentic-research/metromap/api"
	"github.com/agentic-research/metromap/internal/engine"
	"github.com/agentic-research/metromap/internal/render"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

// mapServer guards the engine: tool handlers and the per-scan folding
// goroutines serialize through mu, preserving the single-writer model.
type mapServer struct {
	mu  sync.Mutex
	eng *engine.Engine
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the scan-control surface over MCP stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		ms := &mapServer{eng: engine.New(engine.DefaultConfig(), log)}
		defer func() { _ = ms.eng.Scans.Close() }()

		s := server.NewMCPServer("metromap", "1.0.0")

		s.AddTool(mcp.NewTool("start_scan",
			mcp.WithDescription("Start scanning a directory tree into the live map"),
			mcp.WithString("root", mcp.Required(), mcp.Description("Directory to scan")),
			mcp.WithNumber("max_depth", mcp.Description("Depth limit, 0 = unbounded")),
			mcp.WithNumber("max_entries", mcp.Description("Entry limit, 0 = unbounded")),
			mcp.WithBoolean("follow_symlinks", mcp.Description("Walk into symlinked directories")),
		), ms.startScan)

		s.AddTool(mcp.NewTool("cancel_scan",
			mcp.WithDescription("Cooperatively cancel a running scan"),
			mcp.WithString("scan_id", mcp.Required()),
		), ms.cancelScan)

		s.AddTool(mcp.NewTool("scan_state",
			mcp.WithDescription("Snapshot a scan's progress"),
			mcp.WithString("scan_id", mcp.Required()),
		), ms.scanState)

		s.AddTool(mcp.NewTool("export_image",
			mcp.WithDescription("Render the current map to PNG and report its dimensions"),
			mcp.WithNumber("width", mcp.Description("Image width, default 1600")),
			mcp.WithNumber("height", mcp.Description("Image height, default 1200")),
			mcp.WithBoolean("transparent", mcp.Description("Transparent background")),
		), ms.exportImage)

		log.Info("serving scan-control surface on stdio")
		return server.ServeStdio(s)
	},
}

func (m *mapServer) startScan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, err := req.RequireString("root")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := api.ScanOptions{
		MaxDepth:        req.GetInt("max_depth", 0),
		MaxEntries:      req.GetInt("max_entries", 0),
		FollowSymlinks:  req.GetBool("follow_symlinks", false),
		IncludeMetadata: true,
	}
	id := m.eng.Scans.StartScan(root, opts)
	events, err := m.eng.Scans.Events(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// Fold partial batches as they stream in; one goroutine per scan,
	// serialized onto the engine.
	go func() {
		for ev := range events {
			if ev.Type != api.EventPartial {
				continue
			}
			m.mu.Lock()
			m.eng.Ingest(ev.Nodes)
			m.mu.Unlock()
		}
	}()
	return mcp.NewToolResultText(fmt.Sprintf(`{"scanId":%q}`, id)), nil
}

func (m *mapServer) cancelScan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("scan_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ok := m.eng.Scans.CancelScan(id)
	return mcp.NewToolResultText(fmt.Sprintf(`{"cancelled":%v}`, ok)), nil
}

func (m *mapServer) scanState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("scan_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	state, err := m.eng.Scans.State(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(oj.JSON(state)), nil
}

func (m *mapServer) exportImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	width := req.GetInt("width", 1600)
	height := req.GetInt("height", 1200)
	transparent := req.GetBool("transparent", false)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.eng.Redraw(true, render.Options{DisableCulling: true})
	_, info, err := m.eng.ExportImage(width, height, transparent)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(oj.JSON(info)), nil
}
