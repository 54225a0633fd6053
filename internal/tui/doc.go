// Package tui implements the interactive chat.
//
// Run starts a Bubble Tea program when stdin and stdout are terminals and a
// line-oriented REPL otherwise. Both keep the conversation history of the
// session and pass it to every query, and both stream the answer as it is
// generated.
package tui
