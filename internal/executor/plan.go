// Package executor runs the operations a conversation step selected
// against the bot's own API and turns the responses into an answer.
package executor

import (
	"encoding/json"

	"github.com/opencopilot/copilot/internal/swagger"
)

// Flow is a stored multi-step plan. Steps run in order.
type Flow struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	Steps       []FlowStep `json:"steps"`
}

type FlowStep struct {
	OperationID string `json:"open_api_operation_id"`
}

// Resolve expands ids into the endpoints to call, in order. A flow id
// expands to its steps; an operation id resolves against the summaries
// first, then the extra endpoints. Unknown ids are skipped.
func Resolve(ids []string, summaries, flows []json.RawMessage, extra []swagger.Endpoint) []swagger.Endpoint {
	ops := make(map[string]swagger.Endpoint)
	for _, e := range extra {
		if e.OperationID != "" {
			ops[e.OperationID] = e
		}
	}
	for _, raw := range summaries {
		var e swagger.Endpoint
		if err := json.Unmarshal(raw, &e); err != nil || e.OperationID == "" {
			continue
		}
		ops[e.OperationID] = e
	}
	byFlow := make(map[string]Flow)
	for _, raw := range flows {
		var f Flow
		if err := json.Unmarshal(raw, &f); err != nil || f.ID == "" {
			continue
		}
		byFlow[f.ID] = f
	}

	var out []swagger.Endpoint
	for _, id := range ids {
		if f, ok := byFlow[id]; ok {
			for _, step := range f.Steps {
				if e, ok := ops[step.OperationID]; ok {
					out = append(out, e)
				}
			}
			continue
		}
		if e, ok := ops[id]; ok {
			out = append(out, e)
		}
	}
	return out
}
