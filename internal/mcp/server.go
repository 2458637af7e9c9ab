package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
	"github.com/fyrsmithlabs/reviewgate/internal/review"
)

// RunOptions narrow one run_gates call.
type RunOptions struct {
	// Only restricts the run to these tools. Empty means every enabled tool.
	Only []string
	// Progressive overrides the configured policy when set.
	Progressive bool
	// SkipReview suppresses the review even when the gates allow it.
	SkipReview bool
}

// Engine is the gate machinery the tools drive.
type Engine interface {
	// Run executes the gates once.
	Run(ctx context.Context, opts RunOptions) (*orchestrator.AggregateOutcome, error)
	// Review returns the reviewer response for outcome, or why there was none.
	Review(ctx context.Context, outcome *orchestrator.AggregateOutcome) (resp, skipReason string)
	// Descriptors lists the enabled gates in run order.
	Descriptors() ([]*orchestrator.Descriptor, error)
	// ClearCache drops every cached result.
	ClearCache() error
}

// Server is an MCP server over one project's gates.
type Server struct {
	mcp         *mcp.Server
	engine      Engine
	scrubber    review.Scrubber
	projectPath string
	outputLines int
	metrics     *Metrics
	logger      *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "reviewgate")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// ProjectPath is reported back to clients.
	ProjectPath string

	// OutputLines caps the gate output returned per tool (default: 40)
	OutputLines int

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:        "reviewgate",
		Version:     "dev",
		OutputLines: 40,
		Logger:      zap.NewNop(),
	}
}

// NewServer creates a server and registers its tools. A nil scrubber
// returns gate output unscrubbed.
func NewServer(cfg *Config, engine Engine, scrubber review.Scrubber) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if scrubber == nil {
		scrubber = review.NopScrubber{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	outputLines := cfg.OutputLines
	if outputLines <= 0 {
		outputLines = DefaultConfig().OutputLines
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:         mcpServer,
		engine:      engine,
		scrubber:    scrubber,
		projectPath: cfg.ProjectPath,
		outputLines: outputLines,
		metrics:     NewMetrics(logger),
		logger:      logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport", zap.String("project", s.projectPath))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
