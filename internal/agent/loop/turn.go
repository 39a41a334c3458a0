package loop

import (
	"github.com/aatumaykin/xavier/internal/llm"
)

// Source says who initiated a turn.
type Source string

const (
	SourceUser   Source = "user"
	SourceSystem Source = "system"
)

// Turn is the ephemeral context of one engine invocation. UserID is the only
// identity tools ever see.
type Turn struct {
	UserID string
	Source Source
	Input  string

	window   []llm.Message
	produced []llm.Message
}

func (t *Turn) push(msgs ...llm.Message) {
	t.window = append(t.window, msgs...)
	t.produced = append(t.produced, msgs...)
}

type state int

const (
	stateModelCall state = iota
	stateToolExec
	stateDone
)

func (s state) String() string {
	switch s {
	case stateModelCall:
		return "model_call"
	case stateToolExec:
		return "tool_exec"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}
