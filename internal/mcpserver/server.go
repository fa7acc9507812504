package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all sentinel tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("sentinel", "1.0.0")
	client := NewSentinelClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolEvaluateAddress, h.HandleEvaluateAddress)
	s.AddTool(ToolEvaluateTransaction, h.HandleEvaluateTransaction)
	s.AddTool(ToolAnalyzeRelations, h.HandleAnalyzeRelations)
	s.AddTool(ToolRecentVerdicts, h.HandleRecentVerdicts)
	s.AddTool(ToolWatchAddresses, h.HandleWatchAddresses)
	s.AddTool(ToolListWatches, h.HandleListWatches)

	return s
}
