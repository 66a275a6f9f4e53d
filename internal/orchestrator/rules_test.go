package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvidenceMessageNone(t *testing.T) {
	_, ok := evidenceMessage("", nil, nil)
	assert.False(t, ok)
	_, ok = evidenceMessage("", []json.RawMessage{}, []json.RawMessage{json.RawMessage(`{}`)})
	assert.False(t, ok)
}

func TestEvidenceMessageExactText(t *testing.T) {
	msg, ok := evidenceMessage("a <b> & c", nil, nil)
	assert.True(t, ok)
	assert.Equal(t, "I found some relevant context that might be helpful. Here is the context: ```\"a <b> & c\"```. ", msg)
}

func TestDumps(t *testing.T) {
	assert.Equal(t, `"line\nbreak"`, dumps("line\nbreak"))
	assert.Equal(t, `[{"a":1},{"b":2}]`, dumps([]json.RawMessage{json.RawMessage(`{"a": 1}`), json.RawMessage(`{"b":2}`)}))
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, dedupe([]string{"a", "b", "a", "c", "b"}))
	assert.Equal(t, []string{}, dedupe(nil))
}
