// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Mimir's knowledge graph tools for LLM integration via
// stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mimir/internal/models"
	"github.com/starford/mimir/internal/projects"
	"github.com/starford/mimir/internal/search"
	syncpkg "github.com/starford/mimir/internal/sync"
)

// StatusFunc looks up the watcher status for a project, if one is running.
type StatusFunc func(project string) (syncpkg.Status, bool)

// Server wraps the MCP server with Mimir tools.
type Server struct {
	mcp      *server.MCPServer
	registry *projects.Registry
	status   StatusFunc
}

// New creates a new MCP server with all Mimir tools registered. status
// may be nil when no watchers are running.
func New(registry *projects.Registry, status StatusFunc) *Server {
	s := &Server{registry: registry, status: status}

	s.mcp = server.NewMCPServer(
		"Mimir",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search",
		mcp.WithDescription("Full-text search across entities, observations, and relations."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("type", mcp.Description("Optional row type filter: entity, observation, or relation")),
	), s.search)

	s.mcp.AddTool(mcp.NewTool("read_entity",
		mcp.WithDescription("Read an entity with its observations and relations. "+
			"Address it by permalink or by file path."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("identifier", mcp.Required(), mcp.Description("Permalink (e.g. notes/coffee) or file path (e.g. notes/coffee.md)")),
	), s.readEntity)

	s.mcp.AddTool(mcp.NewTool("list_directory",
		mcp.WithDescription("List the vault folder structure at a path."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("path", mcp.Description("Directory path (empty for root)")),
		mcp.WithString("depth", mcp.Description("Levels to descend (default 1)")),
	), s.listDirectory)

	s.mcp.AddTool(mcp.NewTool("sync_project",
		mcp.WithDescription("Run a full sync pass for a project and return the report."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
	), s.syncProject)

	s.mcp.AddTool(mcp.NewTool("watch_status",
		mcp.WithDescription("Report the file watcher status for a project."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
	), s.watchStatus)

	s.mcp.AddTool(mcp.NewTool("get_document_contract",
		mcp.WithDescription("Returns the canonical Mimir document format contract. "+
			"Call this before writing markdown meant to be synced into the graph."),
	), s.getDocumentContract)

	// Resource: document format contract.
	s.mcp.AddResource(
		mcp.NewResource("mimir://document-format", "Document Format Contract",
			mcp.WithResourceDescription("Canonical markdown document format the sync engine parses."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readDocumentFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) project(req mcp.CallToolRequest) (*projects.Project, *mcp.CallToolResult) {
	name, err := req.RequireString("project")
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	p, err := s.registry.Get(name)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("unknown project: %s", name))
	}
	return p, nil
}

func (s *Server) search(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, errResult := s.project(req)
	if errResult != nil {
		return errResult, nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var types []string
	if t, err := req.RequireString("type"); err == nil && t != "" {
		types = []string{t}
	}
	matches, err := p.Index.Search(query, search.Filters{Types: types}, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	type hit struct {
		Type      string  `json:"type"`
		Title     string  `json:"title"`
		Permalink string  `json:"permalink"`
		FilePath  string  `json:"file_path"`
		Score     float64 `json:"score"`
		Snippet   string  `json:"snippet,omitempty"`
	}
	hits := make([]hit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, hit{
			Type: m.Type, Title: m.Title, Permalink: m.Permalink,
			FilePath: m.FilePath, Score: m.Score, Snippet: m.Snippet,
		})
	}
	out, _ := json.MarshalIndent(hits, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, errResult := s.project(req)
	if errResult != nil {
		return errResult, nil
	}
	identifier, err := req.RequireString("identifier")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	e, lookupErr := p.Store.EntityByPermalink(identifier)
	if lookupErr != nil {
		e, lookupErr = p.Store.EntityByPath(identifier)
	}
	if lookupErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", identifier)), nil
	}

	obs, err := p.Store.ObservationsForEntities([]int64{e.ID})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rels, err := p.Store.RelationsForEntity(e.ID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	detail := struct {
		Entity       models.Entity        `json:"entity"`
		Observations []models.Observation `json:"observations"`
		Relations    []models.Relation    `json:"relations"`
	}{e, obs[e.ID], rels}
	out, _ := json.MarshalIndent(detail, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listDirectory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, errResult := s.project(req)
	if errResult != nil {
		return errResult, nil
	}
	path := ""
	if v, err := req.RequireString("path"); err == nil {
		path = v
	}
	depth := 1
	if v, err := req.RequireString("depth"); err == nil && v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			depth = n
		}
	}

	nodes, err := p.Directory.Tree(path, depth, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(nodes, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) syncProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, errResult := s.project(req)
	if errResult != nil {
		return errResult, nil
	}
	report, err := p.Engine.Sync(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) watchStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, errResult := s.project(req)
	if errResult != nil {
		return errResult, nil
	}
	var st syncpkg.Status
	if s.status != nil {
		if got, running := s.status(p.Name); running {
			st = got
		}
	}
	out, _ := json.MarshalIndent(st, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getDocumentContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DocumentFormatContract), nil
}

func (s *Server) readDocumentFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "mimir://document-format",
			MIMEType: "text/markdown",
			Text:     DocumentFormatContract,
		},
	}, nil
}
