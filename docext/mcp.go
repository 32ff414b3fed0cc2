package docext

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pearl-OS/PearlOS-sub006/idgen"
	"github.com/pearl-OS/PearlOS-sub006/kit"
)

// RegisterMCP registers document tools on an MCP server. Every tool call
// runs through the shared middleware chain: request-ID injection plus one
// log line per call.
func (p *Processor) RegisterMCP(srv *mcp.Server) {
	wrap := kit.Chain(
		kit.RequestID(idgen.Prefixed("req_", idgen.NanoID(12))),
		kit.Logging(p.logger),
	)
	p.registerExtractTool(srv, wrap)
	p.registerDetectTool(srv, wrap)
	p.registerFormatsTool(srv, wrap)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- extract ---

type extractReq struct {
	Path string `json:"path"`
}

func (p *Processor) registerExtractTool(srv *mcp.Server, wrap kit.Middleware) {
	tool := &mcp.Tool{
		Name:        "document_extract",
		Description: "Extract plain text from a document file (pdf, docx, csv, md, txt). Returns the full extraction result with metadata; failures are reported inside the result, never as tool errors.",
		InputSchema: inputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "File path to extract"},
		}, []string{"path"}),
	}

	endpoint := wrap(func(ctx context.Context, req any) (any, error) {
		r := req.(*extractReq)
		return p.ProcessFile(ctx, r.Path), nil
	})

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r extractReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- detect ---

type detectReq struct {
	Path string `json:"path"`
}

func (p *Processor) registerDetectTool(srv *mcp.Server, wrap kit.Middleware) {
	tool := &mcp.Tool{
		Name:        "document_detect",
		Description: "Detect the document type of a file from its extension.",
		InputSchema: inputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "File path to detect"},
		}, []string{"path"}),
	}

	endpoint := wrap(func(_ context.Context, req any) (any, error) {
		r := req.(*detectReq)
		docType, err := Detect(r.Path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"type": string(docType)}, nil
	})

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r detectReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- formats ---

func (p *Processor) registerFormatsTool(srv *mcp.Server, wrap kit.Middleware) {
	tool := &mcp.Tool{
		Name:        "document_formats",
		Description: "List all supported document formats.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := wrap(func(_ context.Context, _ any) (any, error) {
		return map[string]any{"formats": SupportedFormats()}, nil
	})

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
