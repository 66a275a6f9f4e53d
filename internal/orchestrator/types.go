package orchestrator

import (
	"encoding/json"

	"github.com/opencopilot/copilot/internal/llm"
)

// BotMessage is the outcome of one step: operations or flows to run, in
// priority order, and the reply for the user.
type BotMessage struct {
	IDs  []string `json:"ids"`
	Text string   `json:"bot_message"`
}

// Kind tags how a model reply was understood.
type Kind int

const (
	// Structured replies carried the expected JSON object.
	Structured Kind = iota
	// Unstructured replies are passed through as text with no ids.
	Unstructured
)

func (k Kind) String() string {
	if k == Structured {
		return "structured"
	}
	return "unstructured"
}

// Decision is a BotMessage tagged with how it was obtained.
type Decision struct {
	Kind    Kind
	Message BotMessage
	// Raw is the model text the decision was derived from.
	Raw string
}

// StepInput carries everything one step needs. Empty Context, APISummaries
// or Flows mean that evidence was not found.
type StepInput struct {
	SessionID    string
	App          string
	Text         string
	Context      string
	APISummaries []json.RawMessage
	Flows        []json.RawMessage
	History      []llm.Message
	BotID        string
}
