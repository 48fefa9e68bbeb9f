// Package mcp exposes the fact registries as MCP tools over stdio.
// Every tool is a read-only point query; lookup misses come back as
// empty JSON results with optional suggestions, never as protocol
// errors, because an unresolved name in a live edit buffer is normal.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/phxlens/phxlens/pkg/mcplog"
	"github.com/phxlens/phxlens/pkg/workspace"
)

const serverVersion = "0.1.0-dev"

// Server wraps an MCP stdio server around a workspace dispatcher.
type Server struct {
	mcpServer  *server.MCPServer
	dispatcher *workspace.Dispatcher
	logger     *mcplog.Logger // nil disables tool-call logging
}

// NewServer registers the query surface against the dispatcher's
// registries. The mcplog logger may be nil.
func NewServer(dispatcher *workspace.Dispatcher, logger *mcplog.Logger) *Server {
	s := &Server{dispatcher: dispatcher, logger: logger}

	opts := []server.ServerOption{
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	}
	if logger != nil {
		opts = append(opts, server.WithToolHandlerMiddleware(s.loggingMiddleware()))
	}

	s.mcpServer = server.NewMCPServer("phxlens", serverVersion, opts...)

	s.mcpServer.AddTools(
		server.ServerTool{Tool: listRoutesTool(), Handler: s.handleListRoutes},
		server.ServerTool{Tool: getRouteTool(), Handler: s.handleGetRoute},
		server.ServerTool{Tool: routeHelperTool(), Handler: s.handleRouteHelper},
		server.ServerTool{Tool: liveRoutesTool(), Handler: s.handleLiveRoutes},
		server.ServerTool{Tool: forwardRoutesTool(), Handler: s.handleForwardRoutes},
		server.ServerTool{Tool: resourceActionsTool(), Handler: s.handleResourceActions},
		server.ServerTool{Tool: resolveComponentTool(), Handler: s.handleResolveComponent},
		server.ServerTool{Tool: listComponentsTool(), Handler: s.handleListComponents},
		server.ServerTool{Tool: fileComponentsTool(), Handler: s.handleFileComponents},
		server.ServerTool{Tool: getSchemaTool(), Handler: s.handleGetSchema},
		server.ServerTool{Tool: schemaFieldsTool(), Handler: s.handleSchemaFields},
		server.ServerTool{Tool: resolveAliasTool(), Handler: s.handleResolveAlias},
		server.ServerTool{Tool: templateEventsTool(), Handler: s.handleTemplateEvents},
		server.ServerTool{Tool: eventExistsTool(), Handler: s.handleEventExists},
		server.ServerTool{Tool: unusedHandlersTool(), Handler: s.handleUnusedHandlers},
		server.ServerTool{Tool: getTemplateTool(), Handler: s.handleGetTemplate},
		server.ServerTool{Tool: templateUsageTool(), Handler: s.handleTemplateUsage},
		server.ServerTool{Tool: scanStatusTool(), Handler: s.handleScanStatus},
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout and blocks until
// the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
