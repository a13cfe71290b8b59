package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/arturoeanton/sakenny/internal/domain"
	"github.com/arturoeanton/sakenny/internal/port"
	"github.com/arturoeanton/sakenny/internal/service"
)

const defaultK = 5

// Server exposes property search as Model Context Protocol tools so external
// AI agents can query the listing index.
type Server struct {
	svc       *service.PropertyService
	mcpServer *server.MCPServer
	http      *server.StreamableHTTPServer
	port      string
}

// NewServer creates a new MCP server.
func NewServer(svc *service.PropertyService, appName, port string) *Server {
	s := &Server{
		svc:  svc,
		port: port,
		mcpServer: server.NewMCPServer(appName, "1.0.0",
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	s.http = server.NewStreamableHTTPServer(s.mcpServer)
	return s
}

// Start serves MCP over streamable HTTP on the configured port. It blocks.
func (s *Server) Start() error {
	slog.Info("MCP server starting", "port", s.port)
	return s.http.Start(":" + s.port)
}

// Shutdown stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("search_properties",
		mcp.WithDescription("Search property listings by semantic similarity to a free-text query"),
		mcp.WithString("query", mcp.Required(), mcp.Description("What the user is looking for, e.g. 'studio in Maadi'")),
		mcp.WithNumber("k", mcp.Description("Maximum number of results (default 5)")),
		mcp.WithString("location", mcp.Description("Case-insensitive location substring")),
		mcp.WithNumber("min_price", mcp.Description("Minimum price in EGP, inclusive")),
		mcp.WithNumber("max_price", mcp.Description("Maximum price in EGP, inclusive")),
		mcp.WithNumber("bedrooms", mcp.Description("Exact number of bedrooms")),
		mcp.WithString("property_type", mcp.Description("Property type, e.g. apartment, villa, studio")),
	), s.searchProperties)

	s.mcpServer.AddTool(mcp.NewTool("similar_properties",
		mcp.WithDescription("Find listings similar to an existing property"),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Property ID")),
		mcp.WithNumber("k", mcp.Description("Maximum number of results (default 5)")),
	), s.similarProperties)

	s.mcpServer.AddTool(mcp.NewTool("get_property",
		mcp.WithDescription("Fetch a single property listing by ID"),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Property ID")),
	), s.getProperty)
}

func (s *Server) searchProperties(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := req.GetArguments()
	filter := domain.PropertyFilter{
		Location:     req.GetString("location", ""),
		PropertyType: req.GetString("property_type", ""),
	}
	if _, ok := args["min_price"]; ok {
		v := req.GetFloat("min_price", 0)
		filter.MinPrice = &v
	}
	if _, ok := args["max_price"]; ok {
		v := req.GetFloat("max_price", 0)
		filter.MaxPrice = &v
	}
	if _, ok := args["bedrooms"]; ok {
		v := req.GetInt("bedrooms", 0)
		filter.Bedrooms = &v
	}

	results, err := s.svc.SearchByText(ctx, domain.TextSearch{
		Query:   query,
		K:       req.GetInt("k", defaultK),
		Filters: filter,
	})
	if err != nil {
		return toolError("search_properties", err), nil
	}
	return jsonResult(results)
}

func (s *Server) similarProperties(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.SearchSimilar(ctx, int64(id), req.GetInt("k", defaultK))
	if err != nil {
		return toolError("similar_properties", err), nil
	}
	return jsonResult(results)
}

func (s *Server) getProperty(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.svc.Get(ctx, int64(id))
	if err != nil {
		return toolError("get_property", err), nil
	}
	return jsonResult(p)
}

// toolError reports a failed call to the agent as a tool result, keeping the
// protocol-level error channel for transport failures.
func toolError(tool string, err error) *mcp.CallToolResult {
	kind, reason := port.KindOf(err), port.ReasonOf(err)
	switch kind {
	case port.KindInternal:
		slog.Error("MCP tool failed", "tool", tool, "error", err)
		reason = "internal server error"
	case port.KindBackendUnavailable:
		slog.Warn("MCP tool failed", "tool", tool, "error", err)
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", kind, reason))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
