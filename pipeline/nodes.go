package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/weftlabs/weft"
)

// Field names of the refinement sub-graphs. These are the RefineLoop
// defaults, spelled out because the branch nodes seed and read them.
const (
	loopPromptField = "prompt"
	loopOutputField = "final_artifact"
)

// Acceptance criteria handed to the Critic by the server-code loops.
const (
	criteriaServerJS = "a valid JavaScript server file whose generate() " +
		"produces values consistent with the question and its solution guide"
	criteriaServerPY = "a valid Python server file whose generate() " +
		"produces values consistent with the question and its solution guide"
)

func (p *Pipeline) classify(ctx context.Context, s weft.State) (weft.State, error) {
	q, err := weft.Get[Question](s, fieldQuestion)
	if err != nil {
		return nil, err
	}
	md, err := p.cfg.Classifier.Classify(ctx, q)
	if err != nil {
		return nil, err
	}
	return weft.State{fieldMetadata: md}, nil
}

func (p *Pipeline) questionHTML(ctx context.Context, s weft.State) (weft.State, error) {
	q, md, err := questionAndMetadata(s)
	if err != nil {
		return nil, err
	}

	docs, examples, err := p.retrieve(ctx, q.Text, md.Adaptive, "question", FileQuestionHTML)
	if err != nil {
		return nil, err
	}

	html, err := p.cfg.Generator.Generate(ctx, questionHTMLPrompt(q, examples))
	if err != nil {
		return nil, err
	}

	q.HTML = html
	return weft.State{
		fieldQuestion:     q,
		fieldQuestionHTML: html,
		fieldFiles:        map[string]string{FileQuestionHTML: html},
		fieldDocuments:    docs,
	}, nil
}

func (p *Pipeline) solutionHTML(ctx context.Context, s weft.State) (weft.State, error) {
	q, md, err := questionAndMetadata(s)
	if err != nil {
		return nil, err
	}

	docs, examples, err := p.retrieve(ctx, q.promptText(), md.Adaptive, FileQuestionHTML, FileSolutionHTML)
	if err != nil {
		return nil, err
	}

	html, err := p.cfg.Generator.Generate(ctx, solutionHTMLPrompt(q, md, examples))
	if err != nil {
		return nil, err
	}

	return weft.State{
		fieldSolutionHTML: html,
		fieldFiles:        map[string]string{FileSolutionHTML: html},
		fieldDocuments:    docs,
	}, nil
}

func (p *Pipeline) serverJS(ctx context.Context, s weft.State) (weft.State, error) {
	q, md, err := questionAndMetadata(s)
	if err != nil {
		return nil, err
	}

	docs, examples, err := p.retrieve(ctx, q.promptText(), md.Adaptive, FileQuestionHTML, FileServerJS)
	if err != nil {
		return nil, err
	}

	code, err := p.refineCode(ctx, p.jsLoop, serverCodePrompt("JavaScript", q, examples))
	if err != nil {
		return nil, err
	}

	return weft.State{
		fieldServerJS:  code,
		fieldFiles:     map[string]string{FileServerJS: code},
		fieldDocuments: docs,
	}, nil
}

func (p *Pipeline) serverPY(ctx context.Context, s weft.State) (weft.State, error) {
	q, md, err := questionAndMetadata(s)
	if err != nil {
		return nil, err
	}

	docs, examples, err := p.retrieve(ctx, q.promptText(), md.Adaptive, FileQuestionHTML, FileServerPY)
	if err != nil {
		return nil, err
	}

	code, err := p.refineCode(ctx, p.pyLoop, serverCodePrompt("Python", q, examples))
	if err != nil {
		return nil, err
	}

	return weft.State{
		fieldServerPY:  code,
		fieldFiles:     map[string]string{FileServerPY: code},
		fieldDocuments: docs,
	}, nil
}

// infoRollup is the join node. Every live branch has merged by the time it
// runs; it only reads finalized fields and emits the module manifest.
func (p *Pipeline) infoRollup(ctx context.Context, s weft.State) (weft.State, error) {
	md, err := weft.Get[Metadata](s, fieldMetadata)
	if err != nil {
		return nil, err
	}

	languages := []string{}
	if md.Adaptive {
		languages = []string{"javascript", "python"}
	}
	info := map[string]any{
		"title":          md.Title,
		"question_types": md.Types,
		"topics":         md.Topics,
		"languages":      languages,
		"isAdaptive":     md.Adaptive,
		"ai_generated":   true,
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}

	return weft.State{fieldFiles: map[string]string{FileInfoJSON: string(raw)}}, nil
}

// routeBranches reads the post-update state after question HTML generation
// and picks the branch set. Label order here is the deterministic merge
// order of the fan-out.
func routeBranches(s weft.State) []string {
	md := weft.GetOr[Metadata](s, fieldMetadata, Metadata{})
	if md.Adaptive {
		return []string{NodeServerPY, NodeServerJS, NodeSolutionHTML}
	}
	return []string{NodeSolutionHTML}
}

// refineCode runs one of the compiled refinement sub-graphs to completion
// and returns the accepted artifact.
func (p *Pipeline) refineCode(ctx context.Context, loop weft.Graph, prompt string) (string, error) {
	final, err := loop.Invoke(ctx, weft.State{loopPromptField: prompt})
	if err != nil {
		return "", err
	}
	return weft.Get[string](final, loopOutputField)
}

// generateAttempt adapts the shared Generator to the refinement loop's
// contract, folding the previous attempt and accumulated critique into the
// prompt.
func (p *Pipeline) generateAttempt(ctx context.Context, prompt, artifact string, feedback []string) (string, error) {
	var b strings.Builder
	b.WriteString(prompt)
	if artifact != "" {
		b.WriteString("\n\nPrevious attempt:\n")
		b.WriteString(artifact)
	}
	if len(feedback) > 0 {
		b.WriteString("\n\nFix the following issues:\n")
		for _, f := range feedback {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
	}
	return p.cfg.Generator.Generate(ctx, b.String())
}

func (p *Pipeline) retrieve(ctx context.Context, query string, adaptive bool, inputCol, outputCol string) ([]weft.Document, string, error) {
	docs, err := p.cfg.Retriever.Retrieve(ctx, query, map[string]any{
		"isAdaptive":    adaptive,
		"input_col":     inputCol,
		"output_col":    outputCol,
		"output_is_nan": false,
	})
	if err != nil {
		return nil, "", err
	}
	contents := make([]string, len(docs))
	for i, d := range docs {
		contents[i] = d.Content
	}
	return docs, strings.Join(contents, "\n"), nil
}

func questionAndMetadata(s weft.State) (Question, Metadata, error) {
	q, err := weft.Get[Question](s, fieldQuestion)
	if err != nil {
		return Question{}, Metadata{}, err
	}
	md, err := weft.Get[Metadata](s, fieldMetadata)
	if err != nil {
		return Question{}, Metadata{}, err
	}
	return q, md, nil
}

func questionHTMLPrompt(q Question, examples string) string {
	return fmt.Sprintf(
		"Render the following question as a standalone HTML fragment.\n\n"+
			"Question:\n%s\n\nReference examples:\n%s",
		q.Text, examples)
}

func solutionHTMLPrompt(q Question, md Metadata, examples string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a worked solution guide in HTML for the following question.\n\nQuestion:\n%s\n", q.promptText())
	if q.SolutionGuide != "" {
		fmt.Fprintf(&b, "\nFollow the logic of this solution guide:\n%s\n", q.SolutionGuide)
	}
	if q.FinalAnswer != "" {
		fmt.Fprintf(&b, "\nThe final answer must be:\n%s\n", q.FinalAnswer)
	}
	if md.Adaptive {
		b.WriteString("\nThe question is adaptive: keep the solution symbolic, never hard-code concrete values.\n")
	}
	fmt.Fprintf(&b, "\nReference examples:\n%s", examples)
	return b.String()
}

func serverCodePrompt(language string, q Question, examples string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the %s server file for the following question. "+
		"It must expose a generate() entry point that produces the question's "+
		"parameters and correct answers.\n\nQuestion:\n%s\n",
		language, q.promptText())
	if q.SolutionGuide != "" {
		fmt.Fprintf(&b, "\nSolution guide:\n%s\n", q.SolutionGuide)
	}
	fmt.Fprintf(&b, "\nReference examples:\n%s", examples)
	return b.String()
}
