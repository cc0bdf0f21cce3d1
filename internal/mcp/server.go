// Package mcp exposes the session manager to MCP-speaking agents over
// stdio. The tools mirror a subset of the HTTP surface: listing sessions,
// querying one session's state, and relaying an outbound message.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aki/wamux/internal/core/session"
)

// Service is the slice of the session manager the MCP tools need.
type Service interface {
	Init(ctx context.Context, key session.Key) (*session.InitResult, error)
	Status(key session.Key) session.StatusInfo
	Send(ctx context.Context, key session.Key, to, content string) (string, error)
	Disconnect(ctx context.Context, key session.Key)
	Sessions() []session.Snapshot
}

// Server wraps an MCP server around the session manager.
type Server struct {
	mcpServer *server.MCPServer
	svc       Service
}

// NewServer creates the MCP server and registers its tools.
func NewServer(svc Service, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"wamux",
			version,
			server.WithLogging(),
		),
		svc: svc,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("session_list",
		mcp.WithDescription("List all messaging sessions and their states"),
	), s.handleSessionList)

	s.mcpServer.AddTool(mcp.NewTool("session_init",
		mcp.WithDescription("Start or restart pairing for a messaging session"),
		mcp.WithString("key",
			mcp.Description("Session key"),
			mcp.Required(),
		),
	), s.handleSessionInit)

	s.mcpServer.AddTool(mcp.NewTool("session_status",
		mcp.WithDescription("Get the state of one messaging session"),
		mcp.WithString("key",
			mcp.Description("Session key"),
			mcp.Required(),
		),
	), s.handleSessionStatus)

	s.mcpServer.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a message through a connected session"),
		mcp.WithString("key",
			mcp.Description("Session key"),
			mcp.Required(),
		),
		mcp.WithString("to",
			mcp.Description("Recipient phone number or chat id"),
			mcp.Required(),
		),
		mcp.WithString("content",
			mcp.Description("Message body"),
			mcp.Required(),
		),
	), s.handleSendMessage)

	s.mcpServer.AddTool(mcp.NewTool("session_disconnect",
		mcp.WithDescription("Tear a messaging session down"),
		mcp.WithString("key",
			mcp.Description("Session key"),
			mcp.Required(),
		),
	), s.handleSessionDisconnect)
}

func (s *Server) handleSessionInit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	key, ok := args["key"].(string)
	if !ok || key == "" {
		return nil, fmt.Errorf("key is required")
	}

	res, err := s.svc.Init(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}
	if res.AlreadyConnected {
		return textResult(map[string]any{
			"alreadyConnected": true,
			"identity":         res.Identity,
		})
	}
	return textResult(map[string]any{"pairingArtifact": res.PairingArtifact})
}

func (s *Server) handleSessionDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	key, ok := args["key"].(string)
	if !ok || key == "" {
		return nil, fmt.Errorf("key is required")
	}

	s.svc.Disconnect(ctx, key)
	return textResult(map[string]any{"success": true})
}

func (s *Server) handleSessionList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type entry struct {
		Key      string `json:"key"`
		State    string `json:"state"`
		Identity string `json:"identity,omitempty"`
	}

	snaps := s.svc.Sessions()
	entries := make([]entry, 0, len(snaps))
	for _, snap := range snaps {
		entries = append(entries, entry{
			Key:      snap.Key,
			State:    snap.State.String(),
			Identity: snap.ConnectedIdentity,
		})
	}

	return textResult(entries)
}

func (s *Server) handleSessionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	key, ok := args["key"].(string)
	if !ok || key == "" {
		return nil, fmt.Errorf("key is required")
	}

	st := s.svc.Status(key)
	if !st.Known {
		return textResult(map[string]any{"connected": false})
	}
	return textResult(map[string]any{
		"connected": st.Connected,
		"state":     st.State,
		"identity":  st.Identity,
	})
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	key, _ := args["key"].(string)
	to, _ := args["to"].(string)
	content, _ := args["content"].(string)
	if key == "" || to == "" || content == "" {
		return nil, fmt.Errorf("key, to and content are required")
	}

	id, err := s.svc.Send(ctx, key, to, content)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return textResult(map[string]any{"success": true, "messageId": id})
}

// Start serves MCP over stdio until the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	return server.ServeStdio(s.mcpServer)
}

func textResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(data),
			},
		},
	}, nil
}
