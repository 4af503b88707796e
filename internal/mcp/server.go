// ABOUTME: MCP server setup for the healthsync core.
// ABOUTME: Exposes the service surface as tools and resources for one local user.
package mcp

import (
	"context"
	"errors"

	"github.com/harperreed/healthsync/internal/service"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP server with service access.
type Server struct {
	mcpServer *mcp.Server
	svc       *service.Service
	userID    string
}

// NewServer creates a new MCP server acting on behalf of userID.
func NewServer(svc *service.Service, userID string) (*Server, error) {
	if svc == nil {
		return nil, errors.New("service is required")
	}
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "healthsync",
			Version: "1.0.0",
		},
		nil,
	)

	s := &Server{
		mcpServer: mcpServer,
		svc:       svc,
		userID:    userID,
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Serve starts the MCP server using stdio transport.
func (s *Server) Serve(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
