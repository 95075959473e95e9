// Package prompt assembles the system prompt and user message sent to the
// LLM backend for one agent step. Both builders are pure functions.
package prompt

import (
	"fmt"
	"strings"

	"github.com/eqho10/eqho-aios/internal/agent"
	"github.com/eqho10/eqho-aios/internal/story"
)

// Prior is the output of an earlier step that the agent may see.
type Prior struct {
	Agent  agent.Role
	Output string
}

// BuildSystemPrompt renders an agent definition plus optional project
// context and tech stack. Sections without content are left out.
func BuildSystemPrompt(def *agent.Definition, projectContext, techStack string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", def.DisplayName)

	writeText(&b, "Identity", def.Identity)
	writeText(&b, "Description", def.Description)
	writeList(&b, "Capabilities", def.Capabilities)
	writeList(&b, "Commands", def.Commands)
	writeList(&b, "Scope", def.Scope)
	writeList(&b, "Rules", def.Rules)
	writeText(&b, "Output Format", def.OutputFormat)
	writeText(&b, "Project Context", projectContext)
	writeText(&b, "Tech Stack", techStack)

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeText(b *strings.Builder, heading, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n%s\n", heading, text)
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// BuildUserMessage renders the story, each of its sections, the visible
// prior outputs in the order given and an optional task.
func BuildUserMessage(st story.Story, prior []Prior, task string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Story: %s\n\n", st.Title)
	fmt.Fprintf(&b, "- ID: %s\n", st.ID)
	fmt.Fprintf(&b, "- Priority: %s\n", st.Priority)
	fmt.Fprintf(&b, "- Status: %s\n", st.Status)
	if len(st.Tags) > 0 {
		fmt.Fprintf(&b, "- Tags: %s\n", strings.Join(st.Tags, ", "))
	}

	fmt.Fprintf(&b, "\n## Story Content\n\n%s\n", strings.TrimSpace(st.Body()))

	for _, s := range st.Sections() {
		content := s.Content()
		if content == "" {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n\n%s\n", s.Name, content)
	}

	if len(prior) > 0 {
		b.WriteString("\n---\n\n## Previous Agent Outputs\n")
		for _, p := range prior {
			fmt.Fprintf(&b, "\n### @%s output\n\n%s\n", p.Agent, strings.TrimSpace(p.Output))
		}
	}

	if task = strings.TrimSpace(task); task != "" {
		fmt.Fprintf(&b, "\n---\n\n## Task\n\n%s\n", task)
	}
	return b.String()
}
