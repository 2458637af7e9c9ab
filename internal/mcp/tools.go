package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
	"github.com/fyrsmithlabs/reviewgate/internal/review"
)

type runGatesInput struct {
	Only        []string `json:"only,omitempty" jsonschema:"Run only these tools (default: every enabled tool)"`
	Progressive bool     `json:"progressive,omitempty" jsonschema:"Run every gate even after a failure"`
	SkipReview  bool     `json:"skip_review,omitempty" jsonschema:"Do not call the AI reviewer"`
}

type gateOutput struct {
	Tool       string `json:"tool" jsonschema:"Gate name"`
	Status     string `json:"status" jsonschema:"passed, failed, timed_out, skipped or error"`
	DurationMS int64  `json:"duration_ms" jsonschema:"Wall-clock duration in milliseconds"`
	ExitCode   *int   `json:"exit_code,omitempty" jsonschema:"Tool exit code, absent when the tool did not exit normally"`
	Output     string `json:"output,omitempty" jsonschema:"Tail of the tool output, secrets redacted"`
}

type suggestionOutput struct {
	Tool        string `json:"tool" jsonschema:"Gate the suggestion fixes"`
	Command     string `json:"command" jsonschema:"Command to run"`
	Description string `json:"description,omitempty" jsonschema:"What the command does"`
	Priority    string `json:"priority,omitempty" jsonschema:"high, medium or low"`
}

type runGatesOutput struct {
	RunID         string             `json:"run_id" jsonschema:"Unique run ID"`
	ProjectPath   string             `json:"project_path" jsonschema:"Project the gates ran over"`
	Policy        string             `json:"policy" jsonschema:"strict or progressive"`
	Overall       string             `json:"overall" jsonschema:"all_passed, partial or all_failed"`
	ReviewAllowed bool               `json:"review_allowed" jsonschema:"Whether the policy lets the review proceed"`
	CacheHits     []string           `json:"cache_hits,omitempty" jsonschema:"Gates served from cache"`
	DurationMS    int64              `json:"duration_ms" jsonschema:"Total run duration in milliseconds"`
	Gates         []gateOutput       `json:"gates" jsonschema:"Per-gate results in run order"`
	Suggestions   []suggestionOutput `json:"suggestions,omitempty" jsonschema:"Recovery commands for gates that did not pass"`
	Review        string             `json:"review,omitempty" jsonschema:"AI review response"`
	SkipReason    string             `json:"skip_reason,omitempty" jsonschema:"Why no review was produced"`
}

type listToolsInput struct{}

type toolOutput struct {
	Name        string `json:"name" jsonschema:"Gate name"`
	Command     string `json:"command" jsonschema:"Full command line"`
	Concurrency string `json:"concurrency" jsonschema:"parallel-safe or sequential-only"`
	TimeoutMS   int64  `json:"timeout_ms" jsonschema:"Timeout in milliseconds"`
	Predicate   string `json:"predicate" jsonschema:"Success rule"`
}

type listToolsOutput struct {
	Tools []toolOutput `json:"tools" jsonschema:"Enabled gates in run order"`
}

type clearCacheInput struct{}

type clearCacheOutput struct {
	Cleared bool `json:"cleared" jsonschema:"Whether the cache was cleared"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "run_gates",
		Description: "Run the project's quality gates (formatter, linter, security scanner, tests) and, when they allow it, the AI review",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args runGatesInput) (*mcp.CallToolResult, runGatesOutput, error) {
		out, err := s.runGates(ctx, args)
		if err != nil {
			return nil, runGatesOutput{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: summarize(out)}},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_tools",
		Description: "List the configured quality gates in run order",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args listToolsInput) (*mcp.CallToolResult, listToolsOutput, error) {
		out, err := s.listTools(ctx)
		if err != nil {
			return nil, listToolsOutput{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%d gates configured", len(out.Tools))}},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "clear_cache",
		Description: "Drop every cached gate result so the next run executes every tool",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args clearCacheInput) (*mcp.CallToolResult, clearCacheOutput, error) {
		out, err := s.clearCache(ctx)
		if err != nil {
			return nil, clearCacheOutput{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "Cache cleared"}},
		}, out, nil
	})
}

func (s *Server) runGates(ctx context.Context, args runGatesInput) (out runGatesOutput, err error) {
	c := s.metrics.begin(ctx, "run_gates")
	defer func() { c.end(err) }()

	outcome, err := s.engine.Run(ctx, RunOptions{
		Only:        args.Only,
		Progressive: args.Progressive,
		SkipReview:  args.SkipReview,
	})
	if err != nil {
		s.logger.Warn("run_gates failed", zap.Error(err))
		return runGatesOutput{}, fmt.Errorf("run gates: %w", err)
	}
	c.observeRun(outcome)

	out = runGatesOutput{
		RunID:         outcome.RunID,
		ProjectPath:   s.projectPath,
		Policy:        string(outcome.Policy),
		Overall:       string(outcome.Overall),
		ReviewAllowed: outcome.ReviewAllowed(),
		CacheHits:     outcome.CacheHits,
		DurationMS:    outcome.Duration.Milliseconds(),
		Gates:         make([]gateOutput, 0, len(outcome.Results)),
	}
	for _, r := range outcome.Results {
		g := gateOutput{
			Tool:       r.Tool,
			Status:     string(r.Status),
			DurationMS: r.Duration.Milliseconds(),
			ExitCode:   r.ExitCode,
		}
		if r.Status != orchestrator.StatusPassed && r.Status != orchestrator.StatusSkipped {
			g.Output = s.scrub(review.TailLines(r.Output(), s.outputLines))
		}
		out.Gates = append(out.Gates, g)
	}
	for _, sg := range outcome.Suggestions {
		out.Suggestions = append(out.Suggestions, suggestionOutput{
			Tool:        sg.Tool,
			Command:     sg.Command,
			Description: sg.Description,
			Priority:    sg.Priority,
		})
	}

	if args.SkipReview {
		out.SkipReason = "review skipped by request"
	} else {
		out.Review, out.SkipReason = s.engine.Review(ctx, outcome)
	}
	return out, nil
}

func (s *Server) listTools(ctx context.Context) (out listToolsOutput, err error) {
	c := s.metrics.begin(ctx, "list_tools")
	defer func() { c.end(err) }()

	descriptors, err := s.engine.Descriptors()
	if err != nil {
		return listToolsOutput{}, fmt.Errorf("invalid tool configuration: %w", err)
	}
	out.Tools = make([]toolOutput, 0, len(descriptors))
	for _, d := range descriptors {
		out.Tools = append(out.Tools, toolOutput{
			Name:        d.Name,
			Command:     d.CommandLine(),
			Concurrency: string(d.EffectiveConcurrency()),
			TimeoutMS:   d.EffectiveTimeout().Milliseconds(),
			Predicate:   d.Predicate.String(),
		})
	}
	return out, nil
}

func (s *Server) clearCache(ctx context.Context) (out clearCacheOutput, err error) {
	c := s.metrics.begin(ctx, "clear_cache")
	defer func() { c.end(err) }()

	if err := s.engine.ClearCache(); err != nil {
		return clearCacheOutput{}, fmt.Errorf("clear cache: %w", err)
	}
	return clearCacheOutput{Cleared: true}, nil
}

// scrub redacts secrets; on scrubber failure the output is withheld.
func (s *Server) scrub(text string) string {
	if text == "" {
		return ""
	}
	scrubbed, _, err := s.scrubber.Scrub(text)
	if err != nil {
		s.logger.Warn("scrubbing gate output failed", zap.Error(err))
		return "[output withheld: scrubbing failed]"
	}
	return scrubbed
}

func summarize(out runGatesOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s policy, %d gates, %d cached)", out.Overall, out.Policy, len(out.Gates), len(out.CacheHits))
	for _, g := range out.Gates {
		fmt.Fprintf(&b, "\n%s: %s", g.Tool, g.Status)
	}
	switch {
	case out.Review != "":
		b.WriteString("\n\nReview:\n" + out.Review)
	case out.SkipReason != "":
		b.WriteString("\n\nReview skipped: " + out.SkipReason)
	}
	return b.String()
}
