// Package mcp exposes the quality gates to AI agents as MCP tools over stdio.
//
// Tools:
//   - run_gates: run the configured gates and, when allowed, the review
//   - list_tools: list the configured gates in run order
//   - clear_cache: drop every cached gate result
//
// Gate output returned to the client is truncated and passed through the
// secret scrubber first.
package mcp
