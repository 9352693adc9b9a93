package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Callwarden tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("callwarden", "1.0.0")
	client := NewCallwardenClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolClassifyTranscript, h.HandleClassifyTranscript)
	s.AddTool(ToolStartSession, h.HandleStartSession)
	s.AddTool(ToolIngestSegment, h.HandleIngestSegment)
	s.AddTool(ToolEndSessionReport, h.HandleEndSessionReport)
	s.AddTool(ToolGetSession, h.HandleGetSession)
	s.AddTool(ToolListSessions, h.HandleListSessions)
	s.AddTool(ToolRecentAlerts, h.HandleRecentAlerts)

	return s
}
