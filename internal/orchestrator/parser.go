package orchestrator

import (
	"fmt"

	"github.com/opencopilot/copilot/internal/extract"
)

// Parser turns model text into a BotMessage. It returns an error
// wrapping extract.ErrOutputShape when the text does not hold the
// expected object.
type Parser interface {
	Parse(text string) (BotMessage, error)
}

// DefaultParser reads the first JSON object carrying both "ids" (a list
// of strings) and "bot_message" (a string).
var DefaultParser Parser = defaultParser{}

type defaultParser struct{}

type botMessageJSON struct {
	IDs        *[]string `json:"ids"`
	BotMessage *string   `json:"bot_message"`
}

func (defaultParser) Parse(text string) (BotMessage, error) {
	var raw botMessageJSON
	if err := extract.Object(text, &raw); err != nil {
		return BotMessage{}, err
	}
	if raw.IDs == nil || raw.BotMessage == nil {
		return BotMessage{}, fmt.Errorf("%w: ids and bot_message are required", extract.ErrOutputShape)
	}
	return BotMessage{IDs: dedupe(*raw.IDs), Text: *raw.BotMessage}, nil
}

// dedupe keeps the first occurrence of each id.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
