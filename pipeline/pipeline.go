// Package pipeline assembles the question-to-module generation graph.
//
// A classifier runs first and tags the question with metadata, including an
// adaptivity flag. HTML generation follows, then the graph fans out on that
// flag: adaptive questions get three concurrent branches (Python server,
// JavaScript server, solution guide), non-adaptive questions get the
// solution branch alone. Every branch contributes to the accumulated files
// map, and a final rollup node joins them and writes the module manifest.
//
// The server-code branches each wrap a bounded refinement loop: generated
// code is reviewed by the injected Critic and regenerated with the critique
// as added context until the verdict is clean or the attempt ceiling is hit.
//
// All external collaborators (Classifier, Generator, Retriever, Critic) are
// injected through Config, so the pipeline carries no global clients and
// tests can run concurrently against stubs.
package pipeline

import (
	"context"
	"encoding/gob"
	"errors"

	"github.com/weftlabs/weft"
)

// State fields of the generation graph.
const (
	fieldQuestion     = "question"
	fieldMetadata     = "metadata"
	fieldQuestionHTML = "question_html"
	fieldSolutionHTML = "solution_html"
	fieldServerJS     = "server_js"
	fieldServerPY     = "server_py"
	fieldFiles        = "files"
	fieldDocuments    = "retrieved_documents"
)

// File names the pipeline emits into the files map.
const (
	FileQuestionHTML = "question.html"
	FileSolutionHTML = "solution.html"
	FileServerJS     = "server.js"
	FileServerPY     = "server.py"
	FileInfoJSON     = "info.json"
)

// Node names, exported so callers can correlate observer events and run
// snapshots with pipeline stages.
const (
	NodeClassify     = "classify_question"
	NodeQuestionHTML = "generate_question_html"
	NodeSolutionHTML = "generate_solution_html"
	NodeServerJS     = "generate_server_js"
	NodeServerPY     = "generate_server_py"
	NodeInfoJSON     = "generate_info_json"
)

func init() {
	// Pipeline state must round-trip through the gob-based run stores.
	gob.Register(Question{})
	gob.Register(Metadata{})
}

// Question is the authored input the pipeline turns into module files.
type Question struct {
	Text          string
	SolutionGuide string
	FinalAnswer   string

	// HTML is filled in by the pipeline once the question body is rendered.
	HTML string
}

// promptText is the text downstream branches key their retrieval and
// generation on: the rendered HTML once it exists, the raw text before.
func (q Question) promptText() string {
	if q.HTML != "" {
		return q.HTML
	}
	return q.Text
}

// Metadata describes a classified question.
type Metadata struct {
	Title  string
	Types  []string
	Topics []string

	// Adaptive marks questions whose parameters are regenerated per
	// attempt; it decides how many branches the pipeline fans out to.
	Adaptive bool
}

// Classifier tags a question with metadata. It is the pipeline's first
// stage and the source of the fan-out decision.
type Classifier interface {
	Classify(ctx context.Context, q Question) (Metadata, error)
}

// Generator produces a single artifact from a prompt. The same Generator
// serves every branch; branches differ only in the prompts they build.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config carries the pipeline's injected collaborators.
type Config struct {
	Classifier Classifier
	Generator  Generator
	Retriever  weft.Retriever
	Critic     weft.Critic

	// MaxAttempts bounds the server-code refinement loops; zero means
	// weft.DefaultMaxAttempts.
	MaxAttempts int
}

// Result is the final output of a pipeline run.
type Result struct {
	Metadata  Metadata
	Files     map[string]string
	Documents []weft.Document
}

// Pipeline is the compiled generation graph plus the refinement sub-graphs
// its server-code branches invoke. It is safe for concurrent Run calls.
type Pipeline struct {
	cfg    Config
	graph  weft.Graph
	jsLoop weft.Graph
	pyLoop weft.Graph
}

// New compiles the pipeline's graphs against the given engine.
func New(eng weft.Engine, cfg Config) (*Pipeline, error) {
	if cfg.Classifier == nil {
		return nil, errors.New("pipeline: nil classifier")
	}
	if cfg.Generator == nil {
		return nil, errors.New("pipeline: nil generator")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("pipeline: nil retriever")
	}
	if cfg.Critic == nil {
		return nil, errors.New("pipeline: nil critic")
	}

	p := &Pipeline{cfg: cfg}

	var err error
	if p.jsLoop, err = eng.Compile(p.codeLoop("server-js-refine", criteriaServerJS).Definition()); err != nil {
		return nil, err
	}
	if p.pyLoop, err = eng.Compile(p.codeLoop("server-py-refine", criteriaServerPY).Definition()); err != nil {
		return nil, err
	}
	if p.graph, err = p.build().Compile(eng); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) codeLoop(name, criteria string) weft.RefineLoop {
	return weft.RefineLoop{
		Name:        name,
		Generate:    p.generateAttempt,
		Critic:      p.cfg.Critic,
		Criteria:    criteria,
		MaxAttempts: p.cfg.MaxAttempts,
	}
}

func (p *Pipeline) build() *weft.GraphBuilder {
	return weft.NewGraph("gestalt-module").
		Field(fieldQuestion, weft.Overwrite).
		Field(fieldMetadata, weft.Overwrite).
		Field(fieldQuestionHTML, weft.Overwrite).
		Field(fieldSolutionHTML, weft.Overwrite).
		Field(fieldServerJS, weft.Overwrite).
		Field(fieldServerPY, weft.Overwrite).
		Field(fieldFiles, weft.Accumulate).
		Field(fieldDocuments, weft.Accumulate).
		Node(NodeClassify, p.classify).
		Node(NodeQuestionHTML, p.questionHTML).
		Node(NodeSolutionHTML, p.solutionHTML).
		Node(NodeServerJS, p.serverJS).
		Node(NodeServerPY, p.serverPY).
		Node(NodeInfoJSON, p.infoRollup).
		StartAt(NodeClassify).
		Edge(NodeClassify, NodeQuestionHTML).
		Route(NodeQuestionHTML, routeBranches, map[string]string{
			NodeServerPY:     NodeServerPY,
			NodeServerJS:     NodeServerJS,
			NodeSolutionHTML: NodeSolutionHTML,
		}).
		Edge(NodeServerPY, NodeInfoJSON).
		Edge(NodeServerJS, NodeInfoJSON).
		Edge(NodeSolutionHTML, NodeInfoJSON).
		Edge(NodeInfoJSON, weft.End)
}

// Graph returns the compiled top-level graph, for callers that want
// streaming invocation or run inspection rather than Run's summary.
func (p *Pipeline) Graph() weft.Graph {
	return p.graph
}

// Run generates a complete module for the question and returns the
// produced files alongside the classification metadata.
func (p *Pipeline) Run(ctx context.Context, q Question) (Result, error) {
	final, err := p.graph.Invoke(ctx, weft.State{fieldQuestion: q})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Metadata:  weft.GetOr[Metadata](final, fieldMetadata, Metadata{}),
		Files:     weft.GetOr[map[string]string](final, fieldFiles, nil),
		Documents: weft.GetOr[[]weft.Document](final, fieldDocuments, nil),
	}, nil
}
