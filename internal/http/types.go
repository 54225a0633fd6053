package http

import (
	"github.com/fyrsmithlabs/ragd/internal/generator"
	"github.com/fyrsmithlabs/ragd/internal/pipeline"
)

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	Question      string           `json:"question" validate:"required,max=8000"`
	History       []generator.Turn `json:"history,omitempty" validate:"omitempty,max=100,dive"`
	ReturnSources bool             `json:"return_sources"`
	MaxSources    int              `json:"max_sources,omitempty" validate:"omitempty,min=1,max=20"`
	// Stream replies with Server-Sent Events instead of JSON.
	Stream bool `json:"stream"`
}

func (r QueryRequest) toPipeline() pipeline.QueryRequest {
	return pipeline.QueryRequest{
		Question:      r.Question,
		History:       r.History,
		ReturnSources: r.ReturnSources,
		MaxSources:    r.MaxSources,
	}
}

// IngestRequest is the body of POST /api/v1/ingest.
type IngestRequest struct {
	FilePath string `json:"file_path,omitempty" validate:"omitempty,max=4096"`
	Reset    bool   `json:"reset"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status           string `json:"status"`
	DocumentsInStore int    `json:"documents_in_store"`
	Version          string `json:"version,omitempty"`
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	pipeline.Stats
	Settings any `json:"settings,omitempty"`
}

// ResetResponse is the body of POST /api/v1/reset.
type ResetResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

// ErrorBody describes an error.
type ErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// StreamDone is the data of the final "done" event of a streamed answer.
type StreamDone struct {
	ContextFound bool `json:"context_found"`
}
