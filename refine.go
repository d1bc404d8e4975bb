package weft

import (
	"context"
	"fmt"

	"github.com/weftlabs/weft/pkg/api"
)

// Default field names used by RefineLoop when the caller leaves them empty.
const (
	refinePromptField   = "prompt"
	refineArtifactField = "artifact"
	refineFeedbackField = "critique_errors"
	refineVerdictField  = "verdict_errors"
	refineAttemptsField = "attempts"
	refineOutputField   = "final_artifact"
	refineNotesField    = "critic_notes"
)

// DefaultMaxAttempts is the retry ceiling a RefineLoop uses when none is
// given. Three attempts bound worst-case latency and cost while still
// allowing at least one correction pass.
const DefaultMaxAttempts = 3

// GenerateFunc produces the next artifact attempt. prompt is the task the
// loop was invoked with, feedback carries every critique message accumulated
// so far, and artifact is the previous attempt (empty on the first call).
type GenerateFunc func(ctx context.Context, prompt, artifact string, feedback []string) (string, error)

// RefineLoop describes a bounded generate/critique/accept cycle.
//
// The loop generates an artifact, has the Critic review it against
// Criteria, and either accepts (verdict clean, ceiling reached, or critic
// unavailable) or loops back to generation with the accumulated critique as
// additional context. Build the graph with Definition and compile it like
// any other:
//
//	loop := weft.RefineLoop{
//	    Name:     "fix-handler",
//	    Generate: gen.Attempt,
//	    Critic:   critic,
//	    Criteria: "implements the handler contract",
//	}
//	graph, err := engine.Compile(loop.Definition())
type RefineLoop struct {
	Name     string
	Generate GenerateFunc
	Critic   api.Critic
	Criteria string

	// MaxAttempts is the generation ceiling; zero means DefaultMaxAttempts.
	MaxAttempts int

	// Field names; zero values select the refine* defaults. Override them
	// when embedding the loop's fields in a larger schema.
	PromptField   string
	ArtifactField string
	FeedbackField string
	VerdictField  string
	AttemptsField string
	OutputField   string
	NotesField    string
}

func (l RefineLoop) withDefaults() RefineLoop {
	if l.MaxAttempts <= 0 {
		l.MaxAttempts = DefaultMaxAttempts
	}
	if l.PromptField == "" {
		l.PromptField = refinePromptField
	}
	if l.ArtifactField == "" {
		l.ArtifactField = refineArtifactField
	}
	if l.FeedbackField == "" {
		l.FeedbackField = refineFeedbackField
	}
	if l.VerdictField == "" {
		l.VerdictField = refineVerdictField
	}
	if l.AttemptsField == "" {
		l.AttemptsField = refineAttemptsField
	}
	if l.OutputField == "" {
		l.OutputField = refineOutputField
	}
	if l.NotesField == "" {
		l.NotesField = refineNotesField
	}
	return l
}

// Definition builds the loop's graph definition:
//
//	generate -> critique -(router)-> accept | generate
//
// The back-edge is guarded by the attempts counter, which is what lets the
// cycle through compilation.
func (l RefineLoop) Definition() GraphDefinition {
	l = l.withDefaults()
	if l.Name == "" {
		panic("weft: refine loop needs a name")
	}
	if l.Generate == nil {
		panic(fmt.Sprintf("weft: refine loop %q has nil generate function", l.Name))
	}
	if l.Critic == nil {
		panic(fmt.Sprintf("weft: refine loop %q has nil critic", l.Name))
	}

	return NewGraph(l.Name).
		Field(l.PromptField, Overwrite).
		Field(l.ArtifactField, Overwrite).
		Field(l.FeedbackField, Accumulate).
		Field(l.VerdictField, Overwrite).
		Field(l.AttemptsField, Overwrite).
		Field(l.OutputField, Overwrite).
		Field(l.NotesField, Accumulate).
		Node("generate", l.generateTask).
		Node("critique", l.critiqueTask).
		Node("accept", l.acceptTask).
		StartAt("generate").
		Edge("generate", "critique").
		RouteGuarded("critique", l.router, map[string]string{
			"accept":   "accept",
			"generate": "generate",
		}, l.AttemptsField, l.MaxAttempts).
		Edge("accept", End).
		Definition()
}

func (l RefineLoop) generateTask(ctx context.Context, s State) (State, error) {
	prompt := api.GetOr[string](s, l.PromptField, "")
	artifact := api.GetOr[string](s, l.ArtifactField, "")
	feedback := api.GetOr[[]string](s, l.FeedbackField, nil)
	attempts := api.GetOr[int](s, l.AttemptsField, 0)

	next, err := l.Generate(ctx, prompt, artifact, feedback)
	if err != nil {
		return nil, err
	}
	return State{
		l.ArtifactField: next,
		l.AttemptsField: attempts + 1,
	}, nil
}

func (l RefineLoop) critiqueTask(ctx context.Context, s State) (State, error) {
	artifact, err := api.Get[string](s, l.ArtifactField)
	if err != nil {
		return nil, err
	}

	verdict, err := l.Critic.Review(ctx, artifact, l.Criteria)
	if err != nil {
		// The critic cannot produce a verdict at all. Fail open: accept the
		// current attempt instead of looping blind, and leave a visible
		// trace of the acceptance-under-uncertainty in the state.
		return State{
			l.VerdictField: []string{},
			l.NotesField:   []string{fmt.Sprintf("accepted without review: %v", err)},
		}, nil
	}

	update := State{l.VerdictField: verdict.Errors}
	if len(verdict.Errors) > 0 {
		update[l.FeedbackField] = verdict.Errors
	}
	return update, nil
}

// router decides after each critique whether to accept or regenerate. It
// reads the latest verdict, not the accumulated feedback history, so a
// clean verdict accepts even when earlier attempts left critique behind.
func (l RefineLoop) router(s State) []string {
	verdict := api.GetOr[[]string](s, l.VerdictField, nil)
	attempts := api.GetOr[int](s, l.AttemptsField, 0)
	if len(verdict) == 0 || attempts >= l.MaxAttempts {
		return []string{"accept"}
	}
	return []string{"generate"}
}

func (l RefineLoop) acceptTask(ctx context.Context, s State) (State, error) {
	artifact, err := api.Get[string](s, l.ArtifactField)
	if err != nil {
		return nil, err
	}
	return State{l.OutputField: artifact}, nil
}
