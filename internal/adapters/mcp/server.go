package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/core/ports"
)

const Version = "1.0.0"

// Server exposes trial search to MCP clients as tools.
type Server struct {
	searcher ports.TrialSearcher
	trials   ports.TrialReader
	server   *server.MCPServer
}

func NewServer(searcher ports.TrialSearcher, trials ports.TrialReader) *Server {
	s := &Server{
		searcher: searcher,
		trials:   trials,
		server:   server.NewMCPServer("trialmatch", Version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// ServeStdio blocks until ctx is done or the client hangs up.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.server).Listen(ctx, in, out)
}

func (s *Server) registerTools() {
	s.server.AddTool(mcp.NewTool("search_trials",
		mcp.WithDescription("Search recruiting clinical trials by condition and patient age, grouped by an AI taxonomy"),
		mcp.WithString("condition", mcp.Required(), mcp.Description("condition to search for, e.g. nash")),
		mcp.WithNumber("age", mcp.Required(), mcp.Description("patient age in years")),
		mcp.WithNumber("page", mcp.Description("1-based result page (default 1)")),
		mcp.WithArray("terms",
			mcp.Description("master taxonomy terms to filter by; a trial matching any term is kept"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), s.handleSearchTrials)

	s.server.AddTool(mcp.NewTool("get_trial",
		mcp.WithDescription("Fetch one clinical trial by NCT id"),
		mcp.WithString("nct_id", mcp.Required(), mcp.Description("registry id, e.g. NCT01234567")),
	), s.handleGetTrial)
}

type searchTrialsOutput struct {
	Step       string                  `json:"step"`
	Progress   *domain.SearchProgress  `json:"progress,omitempty"`
	Taxonomy   *domain.TaxonomySummary `json:"taxonomy,omitempty"`
	Page       int                     `json:"page"`
	TotalPages int                     `json:"total_pages"`
	Total      int                     `json:"total_filtered"`
	Trials     []trialOutput           `json:"trials"`
}

type trialOutput struct {
	NCTID           string   `json:"nct_id"`
	Title           string   `json:"title"`
	Status          string   `json:"status"`
	MinimumAge      int      `json:"minimum_age"`
	MaximumAge      int      `json:"maximum_age"`
	MasterDiagnoses []string `json:"master_diagnoses"`
}

func (s *Server) handleSearchTrials(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	condition, err := request.RequireString("condition")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	age, err := request.RequireInt("age")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page := request.GetInt("page", 1)
	terms := request.GetStringSlice("terms", nil)

	state, visible, err := s.searcher.Run(ctx, condition, age, terms, page)
	if err != nil {
		return mcp.NewToolResultError(domain.PublicMessage(err, domain.GenericSearchFailure)), nil
	}

	out := searchTrialsOutput{
		Step:       string(state.Step),
		Progress:   state.Progress,
		Page:       visible.Page,
		TotalPages: visible.TotalPages,
		Total:      visible.TotalFiltered,
		Trials:     make([]trialOutput, 0, len(visible.Items)),
	}
	if state.Taxonomy != nil {
		summary := state.Taxonomy.Summary
		out.Taxonomy = &summary
	}
	for _, trial := range visible.Items {
		out.Trials = append(out.Trials, trialOutput{
			NCTID:           trial.NCTID,
			Title:           trial.BriefTitle,
			Status:          trial.OverallStatus,
			MinimumAge:      trial.EligibilityMinimumAge,
			MaximumAge:      trial.EligibilityMaximumAge,
			MasterDiagnoses: trial.MasterDiagnoses,
		})
	}
	return jsonResult(out)
}

func (s *Server) handleGetTrial(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nctID, err := request.RequireString("nct_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	trial, err := s.trials.FetchTrial(ctx, nctID)
	if err != nil {
		if domain.IsKind(err, domain.ErrTrialNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("trial %s not found", nctID)), nil
		}
		return mcp.NewToolResultError(domain.PublicMessage(err, "failed to fetch trial")), nil
	}
	return jsonResult(trial)
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
