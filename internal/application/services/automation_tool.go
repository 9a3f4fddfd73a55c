package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nexusflow/backend/internal/domain/ports"
)

// MCPToolInvoker calls tools on remote MCP servers. It connects over
// streamable HTTP and falls back to the SSE transport when that fails.
type MCPToolInvoker struct {
	clientName    string
	clientVersion string
}

// Ensure MCPToolInvoker implements ports.ToolInvoker at compile time
var _ ports.ToolInvoker = (*MCPToolInvoker)(nil)

// NewMCPToolInvoker creates a tool invoker that identifies itself with the given version
func NewMCPToolInvoker(version string) *MCPToolInvoker {
	return &MCPToolInvoker{clientName: "nexusflow", clientVersion: version}
}

// CallTool connects, invokes the tool and always closes the connection
func (m *MCPToolInvoker) CallTool(ctx context.Context, serverURL, toolName string, arguments map[string]interface{}) (*ports.ToolCallResult, error) {
	c, err := m.connect(ctx, serverURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = arguments

	res, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", toolName, err)
	}
	return toToolCallResult(res), nil
}

func (m *MCPToolInvoker) connect(ctx context.Context, serverURL string) (*client.Client, error) {
	c, err := client.NewStreamableHttpClient(serverURL)
	if err == nil {
		if err = m.initialize(ctx, c); err == nil {
			return c, nil
		}
		_ = c.Close()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	log.Printf("⚠️ Streamable HTTP connect to %s failed (%v), falling back to SSE", serverURL, err)

	sse, sseErr := client.NewSSEMCPClient(serverURL)
	if sseErr != nil {
		return nil, fmt.Errorf("connect to tool server %s: %w", serverURL, sseErr)
	}
	if sseErr = m.initialize(ctx, sse); sseErr != nil {
		_ = sse.Close()
		return nil, fmt.Errorf("connect to tool server %s: %w", serverURL, sseErr)
	}
	return sse, nil
}

func (m *MCPToolInvoker) initialize(ctx context.Context, c *client.Client) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: m.clientName, Version: m.clientVersion}
	_, err := c.Initialize(ctx, req)
	return err
}

func toToolCallResult(res *mcp.CallToolResult) *ports.ToolCallResult {
	var texts []string
	for _, content := range res.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			texts = append(texts, text.Text)
		}
	}
	return &ports.ToolCallResult{
		Structured: res.StructuredContent,
		Text:       strings.Join(texts, "\n"),
		IsError:    res.IsError,
	}
}
