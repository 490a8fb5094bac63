// Package mcp exposes the tutor as Model Context Protocol tools
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"github.com/m-mizutani/mathmentor/pkg/usecase/mentor"
	"github.com/m-mizutani/mathmentor/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Mentor is the use case behind the tools
type Mentor interface {
	Confirm(candidate, edited string, kind model.InputKind) (model.ConfirmedInput, error)
	Solve(ctx context.Context, in model.ConfirmedInput) (*model.SessionState, error)
	Commit(ctx context.Context, state *model.SessionState) (*model.MemoryEntry, error)
	Ingest(ctx context.Context, docs []model.Document) (string, error)
	Query(ctx context.Context, text string, k int) ([]model.Chunk, error)
	ListMemory(ctx context.Context) ([]model.MemoryEntry, error)
}

var _ Mentor = (*mentor.UseCase)(nil)

// Server serves the tutor tools
type Server struct {
	mentor Mentor
	server *mcp.Server
}

type solveParams struct {
	Problem string `json:"problem" jsonschema:"The math problem, already reviewed by the user"`
	Commit  bool   `json:"commit,omitempty" jsonschema:"Store the solution in memory when it is verified"`
}

type queryParams struct {
	Query string `json:"query" jsonschema:"Text to search the knowledge base for"`
	K     int    `json:"k,omitempty" jsonschema:"Number of chunks to return (default 5)"`
}

type ingestParams struct {
	Name    string `json:"name" jsonschema:"Document name, used as the source tag"`
	Content string `json:"content" jsonschema:"Document text"`
}

type listMemoryParams struct{}

// NewServer creates a server with all tools registered
func NewServer(m Mentor, version string) *Server {
	s := &Server{
		mentor: m,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "mathmentor",
			Version: version,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "solve",
		Description: "Solve a math problem: parse, route, solve by computation or retrieval, verify and explain",
	}, s.solve)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "query_knowledge",
		Description: "Search the math knowledge base for formulas and notes",
	}, s.queryKnowledge)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ingest_document",
		Description: "Add a document to the math knowledge base",
	}, s.ingestDocument)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_memory",
		Description: "List solutions previously accepted by users",
	}, s.listMemory)

	return s
}

// MCP returns the underlying server, e.g. to connect another transport
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Run serves over stdin/stdout until ctx is done or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "mcp server stopped")
	}
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// solve treats the tool call itself as the human confirmation of the text
func (s *Server) solve(ctx context.Context, req *mcp.CallToolRequest, params *solveParams) (*mcp.CallToolResult, any, error) {
	in, err := s.mentor.Confirm(params.Problem, "", model.InputText)
	if err != nil {
		return nil, nil, err
	}

	state, err := s.mentor.Solve(ctx, in)
	if err != nil {
		return nil, nil, err
	}

	text := mentor.Report(state)
	if params.Commit && state.Verified() {
		if _, err := s.mentor.Commit(ctx, state); err != nil {
			logging.From(ctx).Warn("failed to commit from mcp", "run_id", state.RunID, "error", err)
			text += "\n⚠️ Failed to store the solution in memory.\n"
		} else {
			text += "\n🧠 Stored in memory for future reference.\n"
		}
	}

	return textResult(text), nil, nil
}

func (s *Server) queryKnowledge(ctx context.Context, req *mcp.CallToolRequest, params *queryParams) (*mcp.CallToolResult, any, error) {
	chunks, err := s.mentor.Query(ctx, params.Query, params.K)
	if err != nil {
		return nil, nil, err
	}
	if len(chunks) == 0 {
		return textResult("No matching chunks."), nil, nil
	}

	blocks := make([]string, len(chunks))
	for i, c := range chunks {
		blocks[i] = fmt.Sprintf("[Source: %s]\n%s", c.SourceID, c.Content)
	}
	return textResult(strings.Join(blocks, "\n\n")), nil, nil
}

func (s *Server) ingestDocument(ctx context.Context, req *mcp.CallToolRequest, params *ingestParams) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(params.Content) == "" {
		return nil, nil, goerr.New("content is required")
	}

	msg, err := s.mentor.Ingest(ctx, []model.Document{{Name: params.Name, Content: params.Content}})
	if err != nil {
		return nil, nil, err
	}
	return textResult(msg), nil, nil
}

func (s *Server) listMemory(ctx context.Context, req *mcp.CallToolRequest, params *listMemoryParams) (*mcp.CallToolResult, any, error) {
	entries, err := s.mentor.ListMemory(ctx)
	if err != nil {
		return nil, nil, err
	}

	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal memory entries")
	}
	return textResult(string(raw)), nil, nil
}
