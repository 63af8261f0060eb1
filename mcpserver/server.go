// Package mcpserver exposes the pipeline to MCP clients over stdio.
//
// Tools cover the collaborator surface: process a file on demand, browse
// and search stored content, manage tasks, and trigger digests.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/notemill/classify"
	"github.com/hazyhaar/notemill/digest"
	"github.com/hazyhaar/notemill/ingest"
	"github.com/hazyhaar/notemill/store"
	"github.com/hazyhaar/notemill/tasks"
)

// Config wires the Server.
type Config struct {
	Store      *store.Store
	Ingester   *ingest.Ingester
	Tracker    *tasks.Tracker
	Aggregator *digest.Aggregator
	Version    string
	Logger     *slog.Logger
}

// Server wraps the MCP server with the pipeline's tools.
type Server struct {
	server *mcp.Server
	cfg    Config
}

// NewServer creates the MCP server and registers all tools.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil || cfg.Ingester == nil || cfg.Tracker == nil || cfg.Aggregator == nil {
		return nil, fmt.Errorf("mcpserver: Store, Ingester, Tracker, and Aggregator are required")
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "notemill",
		Version: cfg.Version,
	}, nil)

	s := &Server{server: srv, cfg: cfg}
	s.registerTools()
	return s, nil
}

// Run serves MCP over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "notes_process_path",
		Description: "Run one file through the extraction pipeline and store the result",
	}, s.handleProcessPath)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "notes_content_list",
		Description: "List recently processed content items",
	}, s.handleContentList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "notes_content_get",
		Description: "Get a content item with its text, tags, and tasks",
	}, s.handleContentGet)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "notes_content_search",
		Description: "Full-text search over titles and extracted text",
	}, s.handleContentSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "notes_task_list",
		Description: "List tasks extracted from notes",
	}, s.handleTaskList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "notes_task_complete",
		Description: "Mark a task completed or reopen it",
	}, s.handleTaskComplete)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "notes_digest_generate",
		Description: "Generate a digest (weekly, monthly, tasks, topics, trends) for the current period",
	}, s.handleDigestGenerate)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "notes_digest_list",
		Description: "List generated digests, newest first",
	}, s.handleDigestList)
}

type ProcessPathInput struct {
	Path string `json:"path" jsonschema:"Absolute path of the file to process"`
	Type string `json:"type,omitempty" jsonschema:"Optional content type override (document, image, pdf, web_clip, ai_chat, handwritten_note, screenshot)"`
}

type ProcessPathOutput struct {
	ContentID string `json:"contentId"`
	Created   bool   `json:"created"`
	Type      string `json:"type"`
	Tier      string `json:"tier"`
	Title     string `json:"title,omitempty"`
}

func (s *Server) handleProcessPath(ctx context.Context, req *mcp.CallToolRequest, input ProcessPathInput) (*mcp.CallToolResult, ProcessPathOutput, error) {
	if input.Type != "" && !validContentType(input.Type) {
		return nil, ProcessPathOutput{}, fmt.Errorf("unknown content type %q", input.Type)
	}
	content, created, err := s.cfg.Ingester.ProcessFile(ctx, input.Path, classify.ContentType(input.Type))
	if err != nil {
		return nil, ProcessPathOutput{}, err
	}
	return nil, ProcessPathOutput{
		ContentID: content.ID,
		Created:   created,
		Type:      content.ContentType,
		Tier:      content.ExtractionTier,
		Title:     content.Title,
	}, nil
}

func validContentType(t string) bool {
	for _, known := range classify.Types() {
		if string(known) == t {
			return true
		}
	}
	return false
}

type ContentListInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Max items to return (default 20)"`
}

type ContentEntry struct {
	ID         string `json:"id"`
	SourcePath string `json:"sourcePath"`
	Type       string `json:"type"`
	Title      string `json:"title,omitempty"`
	Tier       string `json:"tier"`
	Summary    string `json:"summary,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

type ContentListOutput struct {
	Items []ContentEntry `json:"items"`
}

func (s *Server) handleContentList(ctx context.Context, req *mcp.CallToolRequest, input ContentListInput) (*mcp.CallToolResult, ContentListOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	items, err := s.cfg.Store.RecentContent(ctx, limit)
	if err != nil {
		return nil, ContentListOutput{}, err
	}
	return nil, ContentListOutput{Items: contentEntries(items)}, nil
}

func contentEntries(items []*store.Content) []ContentEntry {
	out := make([]ContentEntry, 0, len(items))
	for _, c := range items {
		out = append(out, ContentEntry{
			ID:         c.ID,
			SourcePath: c.SourcePath,
			Type:       c.ContentType,
			Title:      c.Title,
			Tier:       c.ExtractionTier,
			Summary:    c.Summary,
			CreatedAt:  formatMs(c.CreatedAt),
		})
	}
	return out
}

type ContentGetInput struct {
	ID string `json:"id" jsonschema:"Content item ID"`
}

type ContentGetOutput struct {
	ID            string      `json:"id"`
	SourcePath    string      `json:"sourcePath"`
	Type          string      `json:"type"`
	Title         string      `json:"title,omitempty"`
	Tier          string      `json:"tier"`
	Summary       string      `json:"summary,omitempty"`
	ProcessedText string      `json:"processedText"`
	Tags          []string    `json:"tags,omitempty"`
	Tasks         []TaskEntry `json:"tasks,omitempty"`
	CreatedAt     string      `json:"createdAt"`
}

func (s *Server) handleContentGet(ctx context.Context, req *mcp.CallToolRequest, input ContentGetInput) (*mcp.CallToolResult, ContentGetOutput, error) {
	c, err := s.cfg.Store.GetContent(ctx, input.ID)
	if err != nil {
		return nil, ContentGetOutput{}, err
	}
	if c == nil {
		return nil, ContentGetOutput{}, fmt.Errorf("content %s not found", input.ID)
	}

	tags, err := s.cfg.Store.TagsForContent(ctx, c.ID)
	if err != nil {
		return nil, ContentGetOutput{}, err
	}
	tagNames := make([]string, 0, len(tags))
	for _, t := range tags {
		tagNames = append(tagNames, t.Tag)
	}

	tks, err := s.cfg.Store.TasksForContent(ctx, c.ID)
	if err != nil {
		return nil, ContentGetOutput{}, err
	}

	return nil, ContentGetOutput{
		ID:            c.ID,
		SourcePath:    c.SourcePath,
		Type:          c.ContentType,
		Title:         c.Title,
		Tier:          c.ExtractionTier,
		Summary:       c.Summary,
		ProcessedText: c.ProcessedText,
		Tags:          tagNames,
		Tasks:         taskEntries(tks),
		CreatedAt:     formatMs(c.CreatedAt),
	}, nil
}

type ContentSearchInput struct {
	Query string `json:"query" jsonschema:"FTS5 match expression"`
	Limit int    `json:"limit,omitempty" jsonschema:"Max items to return (default 10)"`
}

func (s *Server) handleContentSearch(ctx context.Context, req *mcp.CallToolRequest, input ContentSearchInput) (*mcp.CallToolResult, ContentListOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}
	items, err := s.cfg.Store.SearchContent(ctx, input.Query, limit)
	if err != nil {
		return nil, ContentListOutput{}, err
	}
	return nil, ContentListOutput{Items: contentEntries(items)}, nil
}

type TaskListInput struct {
	IncludeCompleted bool `json:"includeCompleted,omitempty" jsonschema:"Include completed tasks"`
	Limit            int  `json:"limit,omitempty" jsonschema:"Max tasks to return (default 50)"`
}

type TaskEntry struct {
	ID        string `json:"id"`
	ContentID string `json:"contentId"`
	Text      string `json:"text"`
	DueDate   string `json:"dueDate,omitempty"`
	Completed bool   `json:"completed"`
	Source    string `json:"source"`
}

type TaskListOutput struct {
	Tasks []TaskEntry `json:"tasks"`
}

func (s *Server) handleTaskList(ctx context.Context, req *mcp.CallToolRequest, input TaskListInput) (*mcp.CallToolResult, TaskListOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}
	tks, err := s.cfg.Store.ListTasks(ctx, input.IncludeCompleted, limit)
	if err != nil {
		return nil, TaskListOutput{}, err
	}
	return nil, TaskListOutput{Tasks: taskEntries(tks)}, nil
}

func taskEntries(tks []*store.Task) []TaskEntry {
	out := make([]TaskEntry, 0, len(tks))
	for _, t := range tks {
		out = append(out, TaskEntry{
			ID:        t.ID,
			ContentID: t.ContentID,
			Text:      t.Text,
			DueDate:   t.DueDate,
			Completed: t.Completed,
			Source:    t.Source,
		})
	}
	return out
}

type TaskCompleteInput struct {
	ID        string `json:"id" jsonschema:"Task ID"`
	Completed *bool  `json:"completed,omitempty" jsonschema:"Target state (default true)"`
}

type TaskCompleteOutput struct {
	Message string `json:"message"`
}

func (s *Server) handleTaskComplete(ctx context.Context, req *mcp.CallToolRequest, input TaskCompleteInput) (*mcp.CallToolResult, TaskCompleteOutput, error) {
	completed := true
	if input.Completed != nil {
		completed = *input.Completed
	}
	if err := s.cfg.Tracker.SetCompleted(ctx, input.ID, completed); err != nil {
		return nil, TaskCompleteOutput{}, err
	}
	state := "completed"
	if !completed {
		state = "reopened"
	}
	return nil, TaskCompleteOutput{Message: fmt.Sprintf("task %s %s", input.ID, state)}, nil
}

type DigestGenerateInput struct {
	Type string `json:"type,omitempty" jsonschema:"Digest type: one of weekly, monthly, tasks, topics, trends (default weekly)"`
}

type DigestEntry struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	PeriodStart  string `json:"periodStart"`
	PeriodEnd    string `json:"periodEnd"`
	FilePath     string `json:"filePath,omitempty"`
	ContentCount int    `json:"contentCount"`
	CreatedAt    string `json:"createdAt"`
}

type DigestGenerateOutput struct {
	Digest DigestEntry `json:"digest"`
	Body   string      `json:"body"`
}

func (s *Server) handleDigestGenerate(ctx context.Context, req *mcp.CallToolRequest, input DigestGenerateInput) (*mcp.CallToolResult, DigestGenerateOutput, error) {
	digestType := input.Type
	if digestType == "" {
		digestType = digest.TypeWeekly
	}
	d, err := s.cfg.Aggregator.Generate(ctx, digestType, time.Now())
	if err != nil {
		return nil, DigestGenerateOutput{}, err
	}
	return nil, DigestGenerateOutput{Digest: digestEntry(d), Body: d.Body}, nil
}

type DigestListInput struct {
	Type  string `json:"type,omitempty" jsonschema:"Filter by digest type"`
	Limit int    `json:"limit,omitempty" jsonschema:"Max digests to return (default 10)"`
}

type DigestListOutput struct {
	Digests []DigestEntry `json:"digests"`
}

func (s *Server) handleDigestList(ctx context.Context, req *mcp.CallToolRequest, input DigestListInput) (*mcp.CallToolResult, DigestListOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.cfg.Store.ListDigests(ctx, input.Type, limit)
	if err != nil {
		return nil, DigestListOutput{}, err
	}
	out := make([]DigestEntry, 0, len(rows))
	for _, d := range rows {
		out = append(out, digestEntry(d))
	}
	return nil, DigestListOutput{Digests: out}, nil
}

func digestEntry(d *store.Digest) DigestEntry {
	return DigestEntry{
		ID:           d.ID,
		Type:         d.DigestType,
		PeriodStart:  formatMs(d.PeriodStart),
		PeriodEnd:    formatMs(d.PeriodEnd),
		FilePath:     d.FilePath,
		ContentCount: d.ContentCount,
		CreatedAt:    formatMs(d.CreatedAt),
	}
}

func formatMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
