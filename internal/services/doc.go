// Package services builds the ragd component graph from configuration.
//
// Build turns a validated config.Config into a Registry holding the
// pipeline and the backends it owns. Every entry point (CLI commands, the
// HTTP server, the MCP server, the interactive chat) starts from the same
// Registry, so they share one construction path.
package services
