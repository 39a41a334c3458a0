package loop

import (
	"fmt"
	"strings"

	"github.com/aatumaykin/xavier/internal/tools"
)

// DefaultSystemPreamble is added in system mode, after the base prompt.
const DefaultSystemPreamble = `This turn was started by a scheduled task, not by the user. ` +
	`Nobody will read your reply directly. Carry out the instruction with the available tools ` +
	`and finish with a short summary of what you did.`

// defaultInstruction replaces an empty scheduled instruction.
const defaultInstruction = "summary"

func buildBasePrompt(registry *tools.Registry) string {
	var b strings.Builder
	b.WriteString("You are Xavier, a personal assistant. You can work with the user's files, ")
	b.WriteString("fetch web pages and schedule tasks that run later on your behalf.\n")

	list := registry.List()
	if len(list) > 0 {
		b.WriteString("\n## Tools\n\n")
		for _, t := range list {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name(), firstLine(t.Description()))
		}
	}

	if scoped := registry.UserScopedNames(); len(scoped) > 0 {
		fmt.Fprintf(&b, "\nThe `%s` argument of %s is filled in automatically with the current user. ",
			tools.UsernameArg, strings.Join(scoped, ", "))
		b.WriteString("Never supply it yourself and never try to act on behalf of another user.\n")
	}

	b.WriteString("\nWhen a tool result starts with \"error:\", read the reason and either fix the call or explain the problem.")
	return b.String()
}

func systemInstruction(text string) string {
	if strings.TrimSpace(text) == "" {
		text = defaultInstruction
	}
	return "Execute instruction: " + text
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
