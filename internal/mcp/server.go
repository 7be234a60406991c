// Package mcp exposes the docsift engine over the Model Context Protocol.
// It bridges AI clients with the retrieval pipeline through two tools:
// find answers a query and returns a trace id, fetch pages through the
// stored trace.
package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docsift/docsift/internal/engine"
	"github.com/docsift/docsift/internal/errors"
	"github.com/docsift/docsift/pkg/version"
)

// DefaultFetchLimit applies when the fetch caller gives no limit.
const DefaultFetchLimit = 50

// Server is the MCP server for docsift.
type Server struct {
	mcp    *mcp.Server
	engine *engine.Engine
	logger *slog.Logger
}

// FindInput defines the input schema for the find tool.
type FindInput struct {
	Query         string   `json:"query" jsonschema:"the natural-language question to answer"`
	Corpus        string   `json:"corpus" jsonschema:"corpus id to search"`
	ExpandScope   bool     `json:"expand_scope,omitempty" jsonschema:"allow searching neighbor corpora when triggers fire"`
	RequiredTerms []string `json:"required_terms,omitempty" jsonschema:"terms every candidate must contain, at most 4"`
	TimeMS        int      `json:"time_ms,omitempty" jsonschema:"scan time budget in milliseconds, default 4000"`
	MaxCandidates int      `json:"max_candidates,omitempty" jsonschema:"maximum candidates to return, default 8"`
	UseCache      *bool    `json:"use_cache,omitempty" jsonschema:"serve from the result cache when possible, default true"`
}

// FindOutput defines the output schema for the find tool.
type FindOutput struct {
	Result *engine.FindResult `json:"result" jsonschema:"summary, next actions, and the trace id for fetch"`
}

// FetchInput defines the input schema for the fetch tool.
type FetchInput struct {
	TraceID string `json:"trace_id" jsonschema:"trace id returned by find"`
	Kind    string `json:"kind" jsonschema:"item kind: candidates, unscanned, conflicts, gaps, integrated_top, claims, evidences, edges"`
	Offset  int    `json:"offset,omitempty" jsonschema:"items to skip, default 0"`
	Limit   int    `json:"limit,omitempty" jsonschema:"page size, default 50, at most 200"`
}

// FetchOutput defines the output schema for the fetch tool.
type FetchOutput struct {
	Result *engine.FetchResult `json:"result" jsonschema:"one page of trace items"`
}

// StatusInput is empty; the status tool takes no parameters.
type StatusInput struct{}

// StatusOutput defines the output schema for the status tool.
type StatusOutput struct {
	Version string       `json:"version" jsonschema:"docsift version"`
	Corpora []string     `json:"corpora" jsonschema:"available corpus ids"`
	Stats   engine.Stats `json:"stats" jsonschema:"live index, cache, and trace counters"`
}

// NewServer creates the MCP server and registers its tools.
func NewServer(eng *engine.Engine) (*Server, error) {
	if eng == nil {
		return nil, errors.New(errors.CodeInvalidParameter, "engine is required")
	}
	s := &Server{
		engine: eng,
		logger: slog.Default(),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "docsift",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "find",
		Description: "Answer a natural-language question against a document corpus. Returns an evidence summary, suggested next actions, and a trace id; use fetch with the trace id to read candidates, claims, conflicts, and gaps.",
	}, s.findHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "fetch",
		Description: "Page through the details of a previous find: ranked candidates, unscanned files, claims, supporting evidence, conflicts, and unresolved gaps.",
	}, s.fetchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "status",
		Description: "List the available corpora and the docsift version.",
	}, s.statusHandler)

	s.logger.Info("mcp_tools_registered", slog.Int("count", 3))
}

func (s *Server) findHandler(ctx context.Context, _ *mcp.CallToolRequest, input FindInput) (
	*mcp.CallToolResult,
	FindOutput,
	error,
) {
	req := engine.FindRequest{
		Query:         input.Query,
		CorpusID:      input.Corpus,
		ExpandScope:   input.ExpandScope,
		RequiredTerms: input.RequiredTerms,
		UseCache:      input.UseCache,
	}
	// Nonzero values pass through as given so the engine's validation sees
	// out-of-range ones; only absent fields take defaults.
	if input.TimeMS != 0 || input.MaxCandidates != 0 {
		b := engine.DefaultBudget
		if input.TimeMS != 0 {
			b.TimeMS = input.TimeMS
		}
		if input.MaxCandidates != 0 {
			b.MaxCandidates = input.MaxCandidates
		}
		req.Budget = &b
	}

	res, err := s.engine.Find(ctx, req)
	if err != nil {
		return nil, FindOutput{}, errors.Coerce(err)
	}
	return nil, FindOutput{Result: res}, nil
}

func (s *Server) fetchHandler(_ context.Context, _ *mcp.CallToolRequest, input FetchInput) (
	*mcp.CallToolResult,
	FetchOutput,
	error,
) {
	limit := input.Limit
	if limit == 0 {
		limit = DefaultFetchLimit
	}
	res, err := s.engine.Fetch(input.TraceID, input.Kind, input.Offset, limit)
	if err != nil {
		return nil, FetchOutput{}, errors.Coerce(err)
	}
	return nil, FetchOutput{Result: res}, nil
}

func (s *Server) statusHandler(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	corpora, err := s.engine.Corpora()
	if err != nil {
		return nil, StatusOutput{}, errors.Coerce(err)
	}
	return nil, StatusOutput{
		Version: version.Version,
		Corpora: corpora,
		Stats:   s.engine.EngineStats(),
	}, nil
}

// Serve runs the server over stdio until the context is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_started", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("mcp_server_stopped", slog.Any("error", err))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}
