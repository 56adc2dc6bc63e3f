// Package prompt renders the instruction sent to the agent on every loop
// iteration and the banner the in-host driver appends to user messages.
package prompt

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/schmitthub/ralph/internal/completion"
	"github.com/schmitthub/ralph/internal/state"
)

// iterationTemplate is the per-iteration instruction. The task text is placed
// verbatim; everything else tells the agent how to signal completion.
const iterationTemplate = `{{.Prompt}}

---

You are running inside a ralph loop: the same task is sent to you repeatedly
until you declare it finished. Your previous work is in the files and git
history of this directory, so start by checking what is already done.

Iteration: {{.Iteration}} of {{.Max}}

When, and only when, the task is completely and verifiably finished, output
exactly:

{{.Tag}}

Do not output that tag to leave the loop early, to report progress, or
because you are stuck. If work remains, make progress and stop; you will be
invoked again.`

var iterationTmpl = template.Must(template.New("iteration").Parse(iterationTemplate))

type templateData struct {
	Prompt    string
	Iteration int
	Max       string
	Tag       string
}

// Build renders the instruction for the iteration recorded in st.
func Build(st *state.LoopState) (string, error) {
	if st == nil {
		return "", errors.New("prompt: nil loop state")
	}
	if strings.TrimSpace(st.CompletionPromise) == "" {
		return "", errors.New("prompt: empty completion promise")
	}

	data := templateData{
		Prompt:    strings.TrimSpace(st.Prompt),
		Iteration: st.Iteration,
		Max:       MaxLabel(st.MaxIterations),
		Tag:       completion.Tag(st.CompletionPromise),
	}

	var b strings.Builder
	if err := iterationTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering iteration prompt: %w", err)
	}
	return b.String(), nil
}

// Banner returns the one-line reminder attached to outgoing user messages.
func Banner(st *state.LoopState) string {
	if st == nil {
		return ""
	}
	return fmt.Sprintf("[ralph loop: iteration %d of %s. Output %s only when the task is complete.]",
		st.Iteration, MaxLabel(st.MaxIterations), completion.Tag(st.CompletionPromise))
}

// MaxLabel renders an iteration cap, with 0 meaning unlimited.
func MaxLabel(max int) string {
	if max <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", max)
}
