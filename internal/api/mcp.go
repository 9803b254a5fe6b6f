package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/grocer/internal/openai"
	"github.com/kalambet/grocer/internal/tools"
)

// NewMCPServer creates an MCP server exposing the retrieval tool set, so
// MCP clients can query the product index without going through the agent.
func NewMCPServer(reg *tools.Registry) *server.MCPServer {
	s := server.NewMCPServer(
		"grocer",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("grocer: semantic retrieval over a grocery product catalog."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool(tools.ToolSearchProducts,
			mcp.WithDescription("Search for products based on a query. Returns name, brand, price, description, and relevance score."),
			mcp.WithString("query", mcp.Description("Free-text search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		dispatchTool(reg, tools.ToolSearchProducts),
	)

	s.AddTool(
		mcp.NewTool(tools.ToolProductsByCategory,
			mcp.WithDescription("Get products in an exact category (e.g. 'Snacks', 'Dairy & Eggs'). Unknown categories return an empty list."),
			mcp.WithString("category", mcp.Description("Exact category name"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		dispatchTool(reg, tools.ToolProductsByCategory),
	)

	s.AddTool(
		mcp.NewTool(tools.ToolSuggestForRecipe,
			mcp.WithDescription("Suggest products suitable for a specific recipe type, e.g. 'pasta' or 'breakfast'."),
			mcp.WithString("recipe_type", mcp.Description("Kind of recipe to shop for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 8)")),
		),
		dispatchTool(reg, tools.ToolSuggestForRecipe),
	)

	s.AddTool(
		mcp.NewTool(tools.ToolProductsForAthletes,
			mcp.WithDescription("Find products suitable for athletes: high protein, healthy options."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		dispatchTool(reg, tools.ToolProductsForAthletes),
	)

	return s
}

// dispatchTool adapts an MCP call into the registry's dispatch path, so
// both the agent and MCP clients run the exact same tool code.
func dispatchTool(reg *tools.Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcpError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		res := reg.Dispatch(ctx, openai.ToolCall{
			ID:   uuid.New().String(),
			Type: "function",
			Function: openai.FunctionCall{
				Name:      name,
				Arguments: string(args),
			},
		})
		if res.IsError {
			return mcpError(res.Content), nil
		}
		return mcpText(res.Content), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
