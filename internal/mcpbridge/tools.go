package mcpbridge

import (
	"context"
	"fmt"

	acp "github.com/coder/acp-go-sdk"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

func registerTools(m *server.MCPServer, s *Server) {
	count := 0

	if s.caps.ReadTextFile {
		m.AddTool(
			mcp.NewTool("read_text_file",
				mcp.WithDescription(
					"Read a text file through the connected editor. Unsaved editor "+
						"changes are included, so prefer this over reading from disk."),
				mcp.WithString("path",
					mcp.Required(),
					mcp.Description("Absolute path of the file to read"),
				),
				mcp.WithNumber("line",
					mcp.Description("1-based line to start reading from (optional)"),
				),
				mcp.WithNumber("limit",
					mcp.Description("Maximum number of lines to read (optional)"),
				),
				mcp.WithString("session_id",
					mcp.Description("Session to read in; optional with a single session"),
				),
			),
			readTextFileHandler(s),
		)
		count++
	}

	if s.caps.WriteTextFile {
		m.AddTool(
			mcp.NewTool("write_text_file",
				mcp.WithDescription(
					"Write a text file through the connected editor so the change "+
						"shows up in open buffers immediately."),
				mcp.WithString("path",
					mcp.Required(),
					mcp.Description("Absolute path of the file to write"),
				),
				mcp.WithString("content",
					mcp.Required(),
					mcp.Description("Full new file content"),
				),
				mcp.WithString("session_id",
					mcp.Description("Session to write in; optional with a single session"),
				),
			),
			writeTextFileHandler(s),
		)
		count++
	}

	s.logger.Info("registered MCP tools", zap.Int("count", count))
}

func readTextFileHandler(s *Server) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		sess, err := s.session(req.GetString("session_id", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		readReq := acp.ReadTextFileRequest{
			SessionId: sess.ID,
			Path:      path,
		}
		if line := req.GetInt("line", 0); line > 0 {
			readReq.Line = acp.Ptr(line)
		}
		if limit := req.GetInt("limit", 0); limit > 0 {
			readReq.Limit = acp.Ptr(limit)
		}

		resp, err := s.client.ReadTextFile(ctx, readReq)
		if err != nil {
			s.logger.Error("client read failed", zap.String("path", path), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to read %s: %v", path, err)), nil
		}

		// Whole-file reads refresh the session's view of the file.
		if readReq.Line == nil && readReq.Limit == nil {
			sess.Files().Put(path, resp.Content)
		}
		return mcp.NewToolResultText(resp.Content), nil
	}
}

func writeTextFileHandler(s *Server) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		sess, err := s.session(req.GetString("session_id", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if _, err := s.client.WriteTextFile(ctx, acp.WriteTextFileRequest{
			SessionId: sess.ID,
			Path:      path,
			Content:   content,
		}); err != nil {
			s.logger.Error("client write failed", zap.String("path", path), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to write %s: %v", path, err)), nil
		}

		sess.Files().Put(path, content)
		return mcp.NewToolResultText(fmt.Sprintf("Wrote %d bytes to %s", len(content), path)), nil
	}
}
