// Package mcp exposes the RAG pipeline as Model Context Protocol tools.
//
// The server speaks MCP over stdio and registers three tools:
//
//	rag_query   answer a question from the indexed documents
//	rag_ingest  ingest a file or the documents directory
//	rag_stats   report index statistics
//
// Tool failures are returned as tool errors (IsError) so the client model
// can see them. Text returned to the client is passed through the secret
// redactor when one is configured.
package mcp
