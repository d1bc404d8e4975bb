package api

import (
	"context"
)

// Document is one ranked reference snippet returned by a Retriever.
type Document struct {
	Content  string
	Metadata map[string]string
}

// Retriever returns ranked reference snippets for a query. The engine treats
// it as a black box: a retrieval failure is a TaskError like any other.
//
// Implementations are constructed once and injected into graph construction,
// never resolved from process-wide globals.
type Retriever interface {
	Retrieve(ctx context.Context, query string, filter map[string]any) ([]Document, error)
}

// Verdict is a critic's structured evaluation of an artifact. An empty
// Errors slice means the artifact passed.
type Verdict struct {
	Valid    bool
	Errors   []string
	Severity string
}

// Critic evaluates an artifact against acceptance criteria. If the critic
// cannot produce a verdict at all it should return an error wrapping
// ErrCriticUnavailable; the refinement loop then accepts the current attempt
// rather than looping indefinitely.
type Critic interface {
	Review(ctx context.Context, artifact, criteria string) (Verdict, error)
}
