package openai

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/maitre-labs/raison/internal/reasoning"
)

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"explanation":"plain"}`, `{"explanation":"plain"}`},
		{"```json\n{\"explanation\":\"fenced\"}\n```", `{"explanation":"fenced"}`},
		{"```\n{\"explanation\":\"bare fence\"}\n```", `{"explanation":"bare fence"}`},
	}
	for _, tc := range cases {
		if got := stripCodeFence(tc.in); got != tc.want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBuildPromptNamesTargetTransition(t *testing.T) {
	in := reasoning.StepInput{
		Workspace: reasoning.Workspace{ID: "ws-1", CurrentState: reasoning.StateReceived},
		Target:    reasoning.StateFactsExtracted,
	}
	prompt, err := buildPrompt(in)
	if err != nil {
		t.Fatalf("buildPrompt: %v", err)
	}
	if !strings.Contains(prompt, "RECEIVED -> FACTS_EXTRACTED") {
		t.Fatalf("prompt missing target transition:\n%s", prompt)
	}
	if !strings.Contains(prompt, "ws-1") {
		t.Fatal("prompt missing workspace snapshot")
	}
}

func TestProposalParsesModelOutput(t *testing.T) {
	content := stripCodeFence("```json\n" + `{
  "facts": [{"text": "notice served on 2025-03-02", "confidence": 0.9}],
  "uncertainty": 0.7,
  "explanation": "one fact extracted"
}` + "\n```")
	var prop reasoning.Proposal
	if err := json.Unmarshal([]byte(content), &prop); err != nil {
		t.Fatalf("unmarshal proposal: %v", err)
	}
	if len(prop.Facts) != 1 || prop.Facts[0].Text != "notice served on 2025-03-02" {
		t.Fatalf("facts not parsed: %+v", prop.Facts)
	}
	if prop.Uncertainty != 0.7 {
		t.Fatalf("uncertainty %v", prop.Uncertainty)
	}
}
