// Package synth asks the language model for request bodies, parameter
// objects and plain-language summaries of API responses.
package synth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opencopilot/copilot/internal/extract"
	"github.com/opencopilot/copilot/internal/llm"
	xlog "github.com/opencopilot/copilot/internal/log"
	"github.com/opencopilot/copilot/internal/orchestrator"
	"github.com/opencopilot/copilot/internal/prompts"
)

// Input is what the model is told about one request to build.
type Input struct {
	Schema        string
	Text          string
	PrevResponses string
	CurrentState  string
	App           string
}

type Synthesizer struct {
	llm     llm.Completer
	prompts *prompts.Registry
	guard   *orchestrator.Guard
	logger  zerolog.Logger
}

type Option func(*Synthesizer)

// WithGuard replaces the default time and size bound on completions.
func WithGuard(g *orchestrator.Guard) Option { return func(s *Synthesizer) { s.guard = g } }

func New(completer llm.Completer, reg *prompts.Registry, logger zerolog.Logger, opts ...Option) *Synthesizer {
	s := &Synthesizer{llm: completer, prompts: reg, guard: orchestrator.NewGuard(), logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewDefault uses the synth component logger.
func NewDefault(completer llm.Completer, reg *prompts.Registry, opts ...Option) *Synthesizer {
	return New(completer, reg, xlog.WithComponent("synth"), opts...)
}

func system(s string) llm.Message { return llm.Message{Role: llm.RoleSystem, Content: s} }
func human(s string) llm.Message  { return llm.Message{Role: llm.RoleUser, Content: s} }

func bodyMessages(in Input, extra string) []llm.Message {
	msgs := []llm.Message{
		system("You are an intelligent machine learning model that can produce REST API's body in json format"),
		human("You will be given swagger schema, user input, data from previous api calls, and current state information stored in the current_state variable. You should use the field descriptions provided in the schema to generate the payload."),
		human("Swagger Schema: " + in.Schema),
		human("User input: " + in.Text),
		human("prev api responses: " + in.PrevResponses),
		human("current_state: " + in.CurrentState),
		human("If the user is asking to generate values for some fields, likes product descriptions, jokes etc add them."),
		human("Given the provided information, generate the appropriate minified JSON payload to use as body for the API request. If a user doesn't provide a required parameter, use sensible defaults for required params, and leave optional params."),
	}
	if extra != "" {
		msgs = append(msgs, human(extra))
	}
	return msgs
}

func paramsMessages(in Input) []llm.Message {
	return []llm.Message{
		system("You are an intelligent machine learning model that can produce REST API's params / query params in json format, given the json schema, user input, data from previous api calls, and current application state."),
		human(fmt.Sprintf("Json Schema: %s.", in.Schema)),
		human(fmt.Sprintf("prev api responses: %s.", in.PrevResponses)),
		human(fmt.Sprintf("User's requirement: %s.", in.Text)),
		human(fmt.Sprintf("Current state: %s.", in.CurrentState)),
		human("If the user is asking to generate values for some fields, likes product descriptions, jokes etc add them."),
		human("Based on the information provided, construct a valid parameter object to be used with an HTTP client. In cases where user input doesnot contain information for a query, DO NOT add that specific query parameter to the output. If a user doesn't provide a required parameter, use sensible defaults for required params, and leave optional params."),
		human("Your output must be a valid json"),
	}
}

// Body returns the JSON value the model produced for a request body.
// ok is false when the reply held no JSON; err is set only when the
// completion itself failed.
func (s *Synthesizer) Body(ctx context.Context, in Input) (v any, ok bool, err error) {
	extra := s.prompts.ForApp(in.App).APIGeneration
	return s.generate(ctx, "body", bodyMessages(in, extra), in.App)
}

// Params is Body for path and query parameters.
func (s *Synthesizer) Params(ctx context.Context, in Input) (v any, ok bool, err error) {
	return s.generate(ctx, "params", paramsMessages(in), in.App)
}

func (s *Synthesizer) generate(ctx context.Context, kind string, msgs []llm.Message, app string) (any, bool, error) {
	resp, err := s.guard.Complete(ctx, s.llm, &llm.CompletionRequest{Messages: msgs, Temperature: llm.Temperature(0)})
	if err != nil {
		return nil, false, fmt.Errorf("synthesize %s: %w", kind, err)
	}

	v, ok := extract.Payload(resp.Content)
	s.logger.Debug().
		Str(xlog.FieldOperation, kind).
		Str(xlog.FieldApp, app).
		Bool("parsed", ok).
		Msg("model payload")
	return v, ok, nil
}

// Result holds the outcome of Both. Each half fails independently.
type Result struct {
	Body      any
	HasBody   bool
	BodyErr   error
	Params    any
	HasParams bool
	ParamsErr error
}

// Err joins the errors of both halves.
func (r Result) Err() error { return errors.Join(r.BodyErr, r.ParamsErr) }

// Both synthesizes body and params concurrently. A nil input skips
// that half.
func (s *Synthesizer) Both(ctx context.Context, body, params *Input) Result {
	var r Result
	var g errgroup.Group
	if body != nil {
		g.Go(func() error {
			r.Body, r.HasBody, r.BodyErr = s.Body(ctx, *body)
			return nil
		})
	}
	if params != nil {
		g.Go(func() error {
			r.Params, r.HasParams, r.ParamsErr = s.Params(ctx, *params)
			return nil
		})
	}
	_ = g.Wait()
	return r
}
