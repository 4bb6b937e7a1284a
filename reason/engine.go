// Package reason drives the reasoning engine behind the query loop.
//
// The engine is a black box that turns a conversation transcript into
// one reasoning step: thoughts, optionally code, and a final-answer
// signal. The loop owns the transcript; the engine is stateless across
// calls.
package reason

import (
	"context"
	"fmt"
	"strings"

	"github.com/kaolin-io/kaolin/types"
)

// Role identifies the author of a transcript turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the conversation transcript sent to the engine.
type Turn struct {
	Role    Role
	Content string
}

// Request is one reasoning call. Messages hold the full transcript in
// order, including observation feedback from earlier iterations.
type Request struct {
	// Model optionally overrides the engine's configured model.
	Model    string
	Messages []Turn
}

// Step is the engine's decision for one iteration.
type Step struct {
	// Thoughts is the reasoning text.
	Thoughts string
	// Code is the generated code; empty when the engine answered
	// without code.
	Code string
	// Final signals that the task is complete after this step.
	Final bool
}

// Engine produces reasoning steps. An error is unrecoverable for the
// current query; the loop stops rather than retrying.
type Engine interface {
	Step(ctx context.Context, req Request) (*Step, error)
}

// SystemTurn builds the opening system turn for a coding agent working
// against the given workspace inventory.
func SystemTurn(agentName string, files []types.WorkspaceFile) Turn {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a data analysis agent. ", agentName)
	b.WriteString("Answer the user's query by writing Python code that runs in a sandbox with the session's files in its working directory.\n")
	b.WriteString("Respond with a JSON object: {\"thoughts\": string, \"code\": string, \"final_answer\": boolean}. ")
	b.WriteString("Leave code empty and set final_answer to true when the task is complete.\n")

	if len(files) == 0 {
		b.WriteString("\nThe workspace is empty.")
	} else {
		b.WriteString("\nFiles in the workspace:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- %s (%d bytes)\n", f.Name, f.Size)
		}
	}
	return Turn{Role: RoleSystem, Content: b.String()}
}

// QueryTurn builds the user turn carrying the query text.
func QueryTurn(query string) Turn {
	return Turn{Role: RoleUser, Content: query}
}

// StepTurn records the engine's own step in the transcript so later
// calls see what was already tried.
func StepTurn(step *Step) Turn {
	var b strings.Builder
	fmt.Fprintf(&b, "Thoughts: %s\n", step.Thoughts)
	if step.Code != "" {
		fmt.Fprintf(&b, "Code:\n```python\n%s\n```\n", step.Code)
	}
	fmt.Fprintf(&b, "Final Answer: %v", step.Final)
	return Turn{Role: RoleAssistant, Content: b.String()}
}

// ObservationTurn feeds an execution result back as the next user
// turn. On failure the error text becomes correction input.
func ObservationTurn(success bool, observation string) Turn {
	if success {
		return Turn{Role: RoleUser, Content: fmt.Sprintf(
			"Observation: %s\n\nThe code executed successfully. If the task is complete, set final_answer to true. Otherwise, continue refining the solution.",
			observation)}
	}
	return Turn{Role: RoleUser, Content: fmt.Sprintf(
		"Observation: %s\n\nPlease fix the error and try again. Return JSON with thoughts, code, and final_answer.",
		observation)}
}

// NoCodeTurn nudges the engine after a step with neither code nor a
// final answer.
func NoCodeTurn() Turn {
	return Turn{Role: RoleUser, Content: "You didn't generate any code. If you need to generate code to complete the task, please do so. Otherwise, if the task is complete, set final_answer to true."}
}
