package synth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencopilot/copilot/internal/llm"
	"github.com/opencopilot/copilot/internal/orchestrator"
	"github.com/opencopilot/copilot/internal/prompts"
)

type fakeCompleter struct {
	mu      sync.Mutex
	reqs    []*llm.CompletionRequest
	reply   func(req *llm.CompletionRequest) (string, error)
	started chan struct{}
	release chan struct{}
}

func (f *fakeCompleter) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	text, err := f.reply(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: text}, nil
}

func reply(s string) func(*llm.CompletionRequest) (string, error) {
	return func(*llm.CompletionRequest) (string, error) { return s, nil }
}

func contents(msgs []llm.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func newSynth(c llm.Completer, reg *prompts.Registry) *Synthesizer {
	return New(c, reg, zerolog.Nop())
}

func TestBodyParsesEmbeddedJSON(t *testing.T) {
	c := &fakeCompleter{reply: reply("Sure! Here it is:\n```json\n{\"name\":\"Rex\",\"age\":3}\n```")}
	s := newSynth(c, prompts.NewRegistry())

	v, ok, err := s.Body(context.Background(), Input{Schema: `{"type":"object"}`, Text: "add Rex"})
	require.NoError(t, err)
	require.True(t, ok)
	m := v.(map[string]any)
	assert.Equal(t, "Rex", m["name"])
	assert.Equal(t, json.Number("3"), m["age"])

	msgs := c.reqs[0].Messages
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Contains(t, contents(msgs), `Swagger Schema: {"type":"object"}`)
	assert.Contains(t, contents(msgs), "User input: add Rex")
	assert.Len(t, msgs, 8)
}

func TestBodyAppExtraInstruction(t *testing.T) {
	reg := prompts.NewRegistry()
	reg.SetApp("shop", prompts.AppOverrides{APIGeneration: "Always use store id 7"})
	c := &fakeCompleter{reply: reply(`{}`)}
	s := newSynth(c, reg)

	_, _, err := s.Body(context.Background(), Input{App: "shop"})
	require.NoError(t, err)
	msgs := c.reqs[0].Messages
	assert.Equal(t, "Always use store id 7", msgs[len(msgs)-1].Content)

	_, _, err = s.Body(context.Background(), Input{App: "unknown"})
	require.NoError(t, err)
	assert.Len(t, c.reqs[1].Messages, 8, "unknown app adds nothing")
}

func TestNoJSONIsAbsentNotError(t *testing.T) {
	inputs := []string{
		"I could not figure that out",
		"{not json at all}",
		"",
		"[1, 2",
	}
	for _, text := range inputs {
		c := &fakeCompleter{reply: reply(text)}
		s := newSynth(c, nil)

		v, ok, err := s.Body(context.Background(), Input{})
		assert.NoError(t, err, text)
		assert.False(t, ok, text)
		assert.Nil(t, v, text)

		v, ok, err = s.Params(context.Background(), Input{})
		assert.NoError(t, err, text)
		assert.False(t, ok, text)
		assert.Nil(t, v, text)
	}
}

func TestParamsMessages(t *testing.T) {
	c := &fakeCompleter{reply: reply(`[{"petId": "1"}] trailing`)}
	s := newSynth(c, nil)

	v, ok, err := s.Params(context.Background(), Input{Schema: "[]", Text: "pet 1", PrevResponses: "{}", CurrentState: "s"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, v.([]any), 1)

	got := contents(c.reqs[0].Messages)
	assert.Equal(t, "Json Schema: [].", got[1])
	assert.Equal(t, "prev api responses: {}.", got[2])
	assert.Equal(t, "User's requirement: pet 1.", got[3])
	assert.Equal(t, "Current state: s.", got[4])
	assert.Equal(t, "Your output must be a valid json", got[len(got)-1])
}

func TestCompletionFailurePropagates(t *testing.T) {
	boom := errors.New("quota exceeded")
	c := &fakeCompleter{reply: func(*llm.CompletionRequest) (string, error) { return "", boom }}
	s := newSynth(c, nil)

	_, ok, err := s.Body(context.Background(), Input{})
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestBothRunsConcurrently(t *testing.T) {
	c := &fakeCompleter{
		reply: func(req *llm.CompletionRequest) (string, error) {
			if strings.Contains(req.Messages[0].Content, "body") {
				return `{"b":1}`, nil
			}
			return `{"p":1}`, nil
		},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newSynth(c, nil)

	done := make(chan Result)
	go func() { done <- s.Both(context.Background(), &Input{}, &Input{}) }()

	// Both calls must be in flight before either is released.
	for i := 0; i < 2; i++ {
		select {
		case <-c.started:
		case <-time.After(2 * time.Second):
			t.Fatal("calls were not issued concurrently")
		}
	}
	close(c.release)

	r := <-done
	require.NoError(t, r.Err())
	assert.True(t, r.HasBody)
	assert.True(t, r.HasParams)
	assert.Equal(t, map[string]any{"b": json.Number("1")}, r.Body)
	assert.Equal(t, map[string]any{"p": json.Number("1")}, r.Params)
}

func TestBothIndependentFailures(t *testing.T) {
	c := &fakeCompleter{reply: func(req *llm.CompletionRequest) (string, error) {
		if strings.Contains(req.Messages[0].Content, "body") {
			return "", errors.New("timeout")
		}
		return `{"q":"x"}`, nil
	}}
	s := newSynth(c, nil)

	r := s.Both(context.Background(), &Input{}, &Input{})
	assert.Error(t, r.BodyErr)
	assert.NoError(t, r.ParamsErr)
	assert.True(t, r.HasParams)
	assert.Error(t, r.Err())

	r = s.Both(context.Background(), nil, &Input{})
	assert.NoError(t, r.Err())
	assert.Len(t, c.reqs, 3)
}

func TestSummarize(t *testing.T) {
	c := &fakeCompleter{reply: reply("You have 2 pets.")}
	reg := prompts.NewRegistry()
	reg.SetBot("b2", prompts.BotOverrides{APISummarizer: "Summarize like a pirate"})
	s := newSynth(c, reg)

	out, err := s.Summarize(context.Background(), SummaryInput{UserInput: "my pets?", APIResponse: "[1,2]", RequestData: "{}", BotID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, "You have 2 pets.", out)
	got := contents(c.reqs[0].Messages)
	assert.Equal(t, defaultSummarizer, got[0])
	assert.Equal(t, "Here is the user input: my pets?.", got[2])
	assert.Equal(t, "Here is the response from the apis: [1,2]", got[3])

	_, err = s.Summarize(context.Background(), SummaryInput{BotID: "b2"})
	require.NoError(t, err)
	assert.Equal(t, "Summarize like a pirate", c.reqs[1].Messages[0].Content)
}

func TestOversizedReplyIsCapped(t *testing.T) {
	c := &fakeCompleter{reply: reply(`{"name":"Rex"}` + strings.Repeat("[", 200_000))}
	s := New(c, nil, zerolog.Nop(), WithGuard(&orchestrator.Guard{MaxResponseBytes: 1024}))

	v, ok, err := s.Body(context.Background(), Input{Text: "make a pet"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "Rex"}, v)

	c.reply = reply(strings.Repeat("a", 4096))
	summary, err := s.Summarize(context.Background(), SummaryInput{UserInput: "q"})
	require.NoError(t, err)
	assert.Len(t, summary, 1024)
}
