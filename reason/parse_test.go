package reason

import (
	"errors"
	"strings"
	"testing"
)

func TestParseStep(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Step
	}{
		{
			"bare object",
			`{"thoughts": "load the csv", "code": "import pandas as pd", "final_answer": false}`,
			Step{Thoughts: "load the csv", Code: "import pandas as pd"},
		},
		{
			"json fence",
			"```json\n{\"thoughts\": \"done\", \"code\": \"\", \"final_answer\": true}\n```",
			Step{Thoughts: "done", Final: true},
		},
		{
			"fence without info string",
			"```\n{\"thoughts\": \"x\", \"final_answer\": false}\n```",
			Step{Thoughts: "x"},
		},
		{
			"surrounding prose",
			"Here is my plan:\n{\"thoughts\": \"plot it\", \"code\": \"print(1)\", \"final_answer\": false}\nLet me know.",
			Step{Thoughts: "plot it", Code: "print(1)"},
		},
		{
			"braces inside strings",
			`{"thoughts": "use {dict} literals", "code": "d = {\"a\": 1}", "final_answer": true}`,
			Step{Thoughts: "use {dict} literals", Code: `d = {"a": 1}`, Final: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStep(tt.text)
			if err != nil {
				t.Fatalf("ParseStep: %v", err)
			}
			if *got != tt.want {
				t.Errorf("ParseStep = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestParseStep_NoObject(t *testing.T) {
	for _, text := range []string{"", "no json here", "{\"unterminated\": "} {
		if _, err := ParseStep(text); !errors.Is(err, ErrNoStep) {
			t.Errorf("ParseStep(%q) error = %v, want ErrNoStep", text, err)
		}
	}
}

func TestSystemTurn_Inventory(t *testing.T) {
	turn := SystemTurn("coder", nil)
	if turn.Role != RoleSystem {
		t.Errorf("role = %q", turn.Role)
	}
	if !strings.Contains(turn.Content, "The workspace is empty.") {
		t.Errorf("empty workspace not mentioned: %q", turn.Content)
	}
}

func TestObservationTurn_FailureFeedsError(t *testing.T) {
	turn := ObservationTurn(false, "NameError: name 'pd' is not defined")
	if turn.Role != RoleUser {
		t.Errorf("role = %q", turn.Role)
	}
	if !strings.Contains(turn.Content, "NameError") || !strings.Contains(turn.Content, "fix the error") {
		t.Errorf("failure observation = %q", turn.Content)
	}
}
